// Package entities holds the SigningOrchestrator's request/result types,
// and the pending hardware-verification record.
package entities

import (
	"time"

	common "github.com/duskvault/signing-core/pkg/common"
)

// SignRequest is the SignTransaction inbound operation. On first
// submission VerificationHandle and Grant are empty; when PolicyEngine
// denies the auto-sign path, the caller re-submits with the returned
// handle and a transaction-verification grant countersigned by the SM.
type SignRequest struct {
	AccountID  string
	KeysetID   string
	PSBTBase64 string

	VerificationHandle string
	Grant              []byte // wire-format grant bytes
}

// SignResult is either a finalized PSBT or a verification-required handle.
type SignResult struct {
	FinalizedPSBTBase64  string
	VerificationRequired bool
	VerificationHandle   string
	// DenialReasons carries the PolicyEngine reasons that forced the
	// hardware-attestation path, verbatim for the caller's audit trail.
	DenialReasons []string
}

// VerificationTTL bounds how long a minted handle stays redeemable.
const VerificationTTL = 10 * time.Minute

// PendingVerification is the record behind a RequireHwAttestation response:
// it pins the exact transaction the hardware must attest to, so the grant's
// challenge can be checked against it on re-submission.
type PendingVerification struct {
	common.BaseRecord `bson:",inline"`

	Handle    string    `bson:"handle"`
	AccountID string    `bson:"account_id"`
	KeysetID  string    `bson:"keyset_id"`
	TxID      string    `bson:"txid"`
	IssuedAt  time.Time `bson:"issued_at"`
}

// Expired reports whether the handle's redemption window has closed.
func (v *PendingVerification) Expired(now time.Time) bool {
	return now.After(v.IssuedAt.Add(VerificationTTL))
}
