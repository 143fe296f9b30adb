package in

import "context"

// SweepRequest asks the orchestrator to validate and server-sign a PSBT
// that drains every UTXO of a source keyset to a single address in the
// destination account's active wallet. Used by inheritance claim
// completion; a same-account sweep after keyset rotation goes through
// SignTransaction with the superseded keyset's id instead.
type SweepRequest struct {
	SourceAccountID string
	// SourceKeysetID names the (non-active, possibly snapshotted) keyset
	// whose UTXOs are being drained. Signing uses the LegacySweep method
	// against this keyset's server share.
	SourceKeysetID       string
	DestinationAccountID string
	PSBTBase64           string
}

// SweepResult carries the finalized sweep back along with its txid.
type SweepResult struct {
	TxID                string
	FinalizedPSBTBase64 string
}

// SweepService is the inbound port for sweep signing: sanctioned-outputs
// and address-attribution rules run, the daily-spend rule is bypassed.
type SweepService interface {
	SignSweep(ctx context.Context, req SweepRequest) (SweepResult, error)
}
