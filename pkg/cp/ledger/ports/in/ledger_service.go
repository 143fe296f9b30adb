package in

import "context"

// Ledger is the inbound port for daily spending: recording a
// spending entry and reading today's cumulative outflow.
type Ledger interface {
	Record(ctx context.Context, accountID string, txID string, outflowSats int64) error
	SumOutflowToday(ctx context.Context, accountID string) (int64, error)
	HasEntryToday(ctx context.Context, accountID, txID string) (bool, error)
}
