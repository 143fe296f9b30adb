package in

import (
	"context"
	"time"

	accountentities "github.com/duskvault/signing-core/pkg/cp/account/entities"
	entities "github.com/duskvault/signing-core/pkg/cp/recovery/entities"
)

// InitiateRequest starts a delay-and-notify recovery. The
// surviving factor proves possession by signing the account id.
type InitiateRequest struct {
	AccountID         string
	LostFactor        accountentities.Factor
	Destination       entities.DestinationKeys
	SurvivorSignature []byte
}

// InitiateResult returns the new attempt's id and when its delay window
// closes.
type InitiateResult struct {
	RecoveryID string
	DelayEndAt time.Time
}

// CancelRequest cancels a pending recovery: a signature from the
// purportedly-lost source factor over the account id proves it was not in
// fact lost.
type CancelRequest struct {
	AccountID             string
	SourceFactorSignature []byte
}

// CompleteRequest completes a pending recovery. Each signature is
// over the account id; the recovery-key signature is required exactly when
// a destination recovery key was supplied at initiation.
type CompleteRequest struct {
	AccountID                string
	SurvivorSignature        []byte
	DestinationAppSignature  []byte
	DestinationHwSignature   []byte
	DestinationRecoverySig   []byte
	CommsCode                string
}

// CompleteResult returns the freshly minted active auth-key id.
type CompleteResult struct {
	NewAuthKeyID string
}

// RecoveryService is the inbound port for the delay-and-notify protocol.
type RecoveryService interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	Cancel(ctx context.Context, req CancelRequest) error
	Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error)
	// ExpireStale sweeps Pending attempts whose delay window closed longer
	// than the configured TTL ago, marking them Canceled{Expired}.
	ExpireStale(ctx context.Context) error
}
