// Package out declares the external collaborators PolicyEngine rules
// depend on: the sanctions list, the feature-flag service, and the
// fiat-rate oracle.
package out

import "context"

// SanctionsScreener decides whether an address appears on the sanctions
// list, or whether the account is flagged as a sanctions-test account.
type SanctionsScreener interface {
	IsSanctioned(ctx context.Context, address string) (bool, error)
	IsSanctionsTestAccount(ctx context.Context, accountID string) (bool, error)
}

// RateProvider supplies the most recent fiat exchange rate snapshot used by
// the daily-spend rule's cap conversion. An error return
// means the provider is unreachable.
type RateProvider interface {
	SatsPerFiatUnit(ctx context.Context, fiatUnit string) (float64, error)
}

// SpendingLedger is the narrow view of Ledger the daily-spend and
// existing-entry rules need: today's cumulative outflow and whether a txid
// has already been recorded.
type SpendingLedger interface {
	SumOutflowToday(ctx context.Context, accountID string) (int64, error)
	HasEntryToday(ctx context.Context, accountID, txID string) (bool, error)
}
