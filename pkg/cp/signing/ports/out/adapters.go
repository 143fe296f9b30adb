// Package out declares the signing orchestrator's outbound boundaries
// beyond the repositories other packages own.
package out

import (
	"context"

	entities "github.com/duskvault/signing-core/pkg/cp/signing/entities"
)

// Broadcaster hands finalized transaction bytes to the external broadcast
// capability; this core never talks to the Bitcoin network itself.
type Broadcaster interface {
	Broadcast(ctx context.Context, txID, finalizedPSBTBase64 string) error
}

// VerificationRepository persists the pending hardware-attestation handles
// minted when PolicyEngine denies a server-side auto-sign. Records are
// short-lived and single-use.
type VerificationRepository interface {
	Insert(ctx context.Context, v *entities.PendingVerification) error
	FindByHandle(ctx context.Context, handle string) (*entities.PendingVerification, error)
	Delete(ctx context.Context, handle string) error
}
