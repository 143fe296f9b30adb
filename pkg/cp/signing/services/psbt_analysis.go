package services

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	common "github.com/duskvault/signing-core/pkg/common"
	policyentities "github.com/duskvault/signing-core/pkg/cp/policy/entities"
)

// decodePSBT parses a base64 PSBT without requiring it to already carry
// finalized signatures.
func decodePSBT(psbtBase64 string) (*psbt.Packet, error) {
	raw, err := base64.StdEncoding.DecodeString(psbtBase64)
	if err != nil {
		return nil, common.NewErrInvalidInput("malformed psbt base64: %v", err)
	}
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, common.NewErrInvalidInput("malformed psbt: %v", err)
	}
	return packet, nil
}

// fingerprintMatches reports whether any of a PSBT input/output's BIP-32
// derivations carries masterKeyFingerprint, implementing the "input's
// BIP-32 derivation references the active keyset's server fingerprint"
// check in the orchestrator's ValidatePsbt step. The psbt package stores the
// fingerprint as a little-endian uint32 of the original four bytes.
func fingerprintMatches(derivations []*psbt.Bip32Derivation, fingerprint [4]byte) bool {
	want := binary.LittleEndian.Uint32(fingerprint[:])
	for _, d := range derivations {
		if d.MasterKeyFingerprint == want {
			return true
		}
	}
	return false
}

// buildPSBTContext turns a parsed packet into the attribution view
// PolicyEngine consumes. Inputs are attributed against inputFingerprint
// (the active keyset's server fingerprint for a normal send, or the source
// keyset's for a sweep); outputs are always attributed against the active
// keyset's fingerprint, since funds always land in the active wallet.
func buildPSBTContext(accountID string, packet *psbt.Packet, inputFingerprint, activeFingerprint [4]byte, kind policyentities.EvaluationKind, isTestAccount bool, params *chaincfg.Params) (policyentities.PSBTContext, error) {
	ctx := policyentities.PSBTContext{
		AccountID:     accountID,
		TxID:          packet.UnsignedTx.TxHash().String(),
		Kind:          kind,
		IsTestAccount: isTestAccount,
	}

	for _, in := range packet.Inputs {
		ctx.Inputs = append(ctx.Inputs, policyentities.InputView{
			BelongsToSender: fingerprintMatches(in.Bip32Derivation, inputFingerprint),
		})
	}

	for i, out := range packet.UnsignedTx.TxOut {
		var derivations []*psbt.Bip32Derivation
		if i < len(packet.Outputs) {
			derivations = packet.Outputs[i].Bip32Derivation
		}
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
		address := ""
		if err == nil && len(addrs) > 0 {
			address = addrs[0].EncodeAddress()
		}
		ctx.Outputs = append(ctx.Outputs, policyentities.OutputView{
			Address:         address,
			Script:          out.PkScript,
			Sats:            out.Value,
			BelongsToSender: fingerprintMatches(derivations, activeFingerprint),
		})
	}

	return ctx, nil
}
