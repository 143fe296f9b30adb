package out

import (
	"context"

	entities "github.com/duskvault/signing-core/pkg/cp/account/entities"
)

// WatchlistRepository persists watched-address registrations. Upsert is
// keyed on (account_id, address) so re-registration is a no-op.
type WatchlistRepository interface {
	Upsert(ctx context.Context, w *entities.WatchedAddress) error
	ListByAccount(ctx context.Context, accountID string) ([]*entities.WatchedAddress, error)
}
