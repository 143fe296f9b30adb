package in

import "context"

// CommsVerifier is the inbound port the recovery and inheritance state
// machines call to gate completion behind a one-time code delivered to a
// still-trusted touchpoint.
type CommsVerifier interface {
	// SendCode issues a fresh code for scope and hands it to the delivery
	// port. Returns common.ErrConflict when the per-scope resend interval
	// has not yet elapsed.
	SendCode(ctx context.Context, accountID, scope string) error
	// VerifyCode checks a caller-supplied code against the most recent one
	// issued for scope. Failures surface only as CodeMismatch or
	// CodeExpired; whether a pending code exists at all is never revealed.
	VerifyCode(ctx context.Context, accountID, scope, code string) error
}
