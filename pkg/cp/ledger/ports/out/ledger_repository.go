package out

import (
	"context"
	"time"

	entities "github.com/duskvault/signing-core/pkg/cp/ledger/entities"
)

// LedgerRepository persists DailySpendingRecords: one record per
// (account, UTC day), updated conditionally on its version.
type LedgerRepository interface {
	FindByAccountAndDate(ctx context.Context, accountID string, date time.Time) (*entities.DailySpendingRecord, error)
	Insert(ctx context.Context, rec *entities.DailySpendingRecord) error
	// Update performs a conditional write keyed on expectedVersion, returning
	// common.ErrConflict if the stored version has since moved.
	Update(ctx context.Context, rec *entities.DailySpendingRecord, expectedVersion int) error
}
