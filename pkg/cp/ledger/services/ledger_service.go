// Package services implements the daily spending Ledger: per-record
// optimistic concurrency with a bounded retry budget on conflict.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	common "github.com/duskvault/signing-core/pkg/common"
	entities "github.com/duskvault/signing-core/pkg/cp/ledger/entities"
	in "github.com/duskvault/signing-core/pkg/cp/ledger/ports/in"
	out "github.com/duskvault/signing-core/pkg/cp/ledger/ports/out"
)

// maxConflictRetries bounds the optimistic-concurrency retry budget per
// the orchestrator's UpdateLedger step.
const maxConflictRetries = 3

// Ledger implements in.Ledger against a LedgerRepository.
type Ledger struct {
	repo out.LedgerRepository
	now  func() time.Time
}

// NewLedger constructs a Ledger using time.Now for "today".
func NewLedger(repo out.LedgerRepository) *Ledger {
	return &Ledger{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

var _ in.Ledger = (*Ledger)(nil)

// Record appends a SpendingEntry to today's record, creating it if absent,
// retrying on optimistic-concurrency conflict, and treating a repeated
// txid as a no-op.
func (l *Ledger) Record(ctx context.Context, accountID, txID string, outflowSats int64) error {
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		rec, err := l.loadOrCreate(ctx, accountID)
		if err != nil {
			return err
		}
		if rec.HasEntry(txID) {
			return nil
		}

		expectedVersion := rec.Version
		rec.Entries = append(rec.Entries, entities.SpendingEntry{TxID: txID, Timestamp: l.now(), OutflowSats: outflowSats})
		rec.Version++

		err = l.repo.Update(ctx, rec, expectedVersion)
		if err == nil {
			if len(rec.Entries) > entities.EntryWarningThreshold {
				slog.WarnContext(ctx, "daily spending record exceeds entry warning threshold", "account_id", accountID, "entries", len(rec.Entries))
			}
			return nil
		}
		if !common.IsConflict(err) {
			return fmt.Errorf("ledger: updating record: %w", err)
		}
		slog.WarnContext(ctx, "ledger optimistic concurrency conflict, retrying", "account_id", accountID, "attempt", attempt)
	}
	return common.NewErrConflict("ledger: exhausted %d retries recording txid %s for account %s", maxConflictRetries, txID, accountID)
}

func (l *Ledger) SumOutflowToday(ctx context.Context, accountID string) (int64, error) {
	rec, err := l.repo.FindByAccountAndDate(ctx, accountID, l.now())
	if err != nil {
		return 0, fmt.Errorf("ledger: loading today's record: %w", err)
	}
	if rec == nil {
		return 0, nil
	}
	return rec.SumOutflow(), nil
}

func (l *Ledger) HasEntryToday(ctx context.Context, accountID, txID string) (bool, error) {
	rec, err := l.repo.FindByAccountAndDate(ctx, accountID, l.now())
	if err != nil {
		return false, fmt.Errorf("ledger: loading today's record: %w", err)
	}
	if rec == nil {
		return false, nil
	}
	return rec.HasEntry(txID), nil
}

func (l *Ledger) loadOrCreate(ctx context.Context, accountID string) (*entities.DailySpendingRecord, error) {
	rec, err := l.repo.FindByAccountAndDate(ctx, accountID, l.now())
	if err != nil {
		return nil, fmt.Errorf("ledger: loading record: %w", err)
	}
	if rec != nil {
		return rec, nil
	}
	rec = entities.NewDailySpendingRecord(accountID, l.now())
	if err := l.repo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("ledger: inserting new record: %w", err)
	}
	return rec, nil
}
