// Package entities holds the DailySpendingRecord aggregate used by the
// daily-spend PolicyEngine rule.
package entities

import "time"

// EntryWarningThreshold is the per-record entry count above which Ledger
// logs a warning: a design budget indicating a product-level anomaly, not
// a hard limit.
const EntryWarningThreshold = 2000

// SpendingEntry is one distinct transaction outflow recorded against an
// account's day.
type SpendingEntry struct {
	TxID        string
	Timestamp   time.Time
	OutflowSats int64
}

// DailySpendingRecord is the per-account, per-UTC-day aggregate of spending
// entries, serialized by optimistic concurrency on Version.
type DailySpendingRecord struct {
	AccountID string
	Date      string // YYYY-MM-DD, UTC
	Version   int
	ExpiresAt time.Time
	Entries   []SpendingEntry
}

// HasEntry reports whether txID is already present, backing the
// record-once idempotency of Record.
func (r *DailySpendingRecord) HasEntry(txID string) bool {
	for _, e := range r.Entries {
		if e.TxID == txID {
			return true
		}
	}
	return false
}

// SumOutflow totals every entry's outflow.
func (r *DailySpendingRecord) SumOutflow() int64 {
	var total int64
	for _, e := range r.Entries {
		total += e.OutflowSats
	}
	return total
}

// NewDailySpendingRecord constructs an empty record for accountID/date,
// expiring 30 days after the UTC midnight of date.
func NewDailySpendingRecord(accountID string, date time.Time) *DailySpendingRecord {
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return &DailySpendingRecord{
		AccountID: accountID,
		Date:      midnight.Format("2006-01-02"),
		Version:   1,
		ExpiresAt: midnight.AddDate(0, 0, 30),
	}
}
