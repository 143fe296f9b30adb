// Package out declares the outbound port every other control-plane package
// uses to load and persist accounts.
package out

import (
	"context"

	"github.com/google/uuid"

	entities "github.com/duskvault/signing-core/pkg/cp/account/entities"
)

// AccountRepository persists Account aggregates. Updates are conditional on
// BaseRecord.Version, matching every other optimistic-concurrency record in
// this core.
type AccountRepository interface {
	Insert(ctx context.Context, a *entities.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*entities.Account, error)
	// Update performs a conditional write keyed on expectedVersion, returning
	// common.ErrConflict if the stored version has since moved.
	Update(ctx context.Context, a *entities.Account, expectedVersion int) error
	// FindByAuthPubKey is used to enforce "an auth public key may appear in
	// at most one active account".
	FindByAuthPubKey(ctx context.Context, pubKey []byte) (*entities.Account, error)
}
