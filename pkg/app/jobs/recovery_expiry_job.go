// Package jobs holds the background loops main starts alongside the
// inbound ports: notification dispatch and recovery expiry sweeping.
package jobs

import (
	"context"
	"log/slog"
	"time"

	recovery_in "github.com/duskvault/signing-core/pkg/cp/recovery/ports/in"
)

// RecoveryExpiryJob periodically sweeps Pending recovery attempts whose
// delay window closed long ago, canceling them as Expired.
type RecoveryExpiryJob struct {
	recovery recovery_in.RecoveryService
	ticker   *time.Ticker
	interval time.Duration
}

// NewRecoveryExpiryJob constructs the job with its sweep interval.
func NewRecoveryExpiryJob(recovery recovery_in.RecoveryService, interval time.Duration) *RecoveryExpiryJob {
	return &RecoveryExpiryJob{
		recovery: recovery,
		ticker:   time.NewTicker(interval),
		interval: interval,
	}
}

// Run drives the sweep loop until ctx is canceled.
func (j *RecoveryExpiryJob) Run(ctx context.Context) {
	slog.InfoContext(ctx, "recovery expiry job started", "interval", j.interval)
	defer j.ticker.Stop()

	j.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "recovery expiry job stopped")
			return
		case <-j.ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *RecoveryExpiryJob) sweep(ctx context.Context) {
	if err := j.recovery.ExpireStale(ctx); err != nil {
		slog.ErrorContext(ctx, "recovery expiry sweep failed", "error", err)
	}
}
