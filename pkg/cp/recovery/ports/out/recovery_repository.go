// Package out declares persistence for RecoveryAttempts.
package out

import (
	"context"
	"time"

	entities "github.com/duskvault/signing-core/pkg/cp/recovery/entities"
)

// RecoveryRepository persists RecoveryAttempts. Updates are conditional on
// BaseRecord.Version.
type RecoveryRepository interface {
	Insert(ctx context.Context, r *entities.RecoveryAttempt) error
	FindByID(ctx context.Context, id string) (*entities.RecoveryAttempt, error)
	// FindPendingByAccount enforces the at-most-one-Pending-per-account
	// invariant and is how cancel/complete locate their target.
	FindPendingByAccount(ctx context.Context, accountID string) (*entities.RecoveryAttempt, error)
	// FindPendingByDestinationKey enforces "an auth public key may appear in
	// at most one pending recovery".
	FindPendingByDestinationKey(ctx context.Context, pubKey []byte) (*entities.RecoveryAttempt, error)
	Update(ctx context.Context, r *entities.RecoveryAttempt, expectedVersion int) error
	// FindPendingOlderThan returns Pending attempts whose delay window
	// closed before cutoff, for the expiry sweeper.
	FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*entities.RecoveryAttempt, error)
}
