package jobs

import (
	"context"
	"log/slog"
	"time"

	notify_services "github.com/duskvault/signing-core/pkg/cp/notify/services"
)

// NotificationDispatchJob wraps the notify Dispatcher's poll loop in the
// same start/stop shape as the other background jobs.
type NotificationDispatchJob struct {
	dispatcher *notify_services.Dispatcher
	ticker     *time.Ticker
	interval   time.Duration
}

// NewNotificationDispatchJob constructs the job with its poll interval.
func NewNotificationDispatchJob(dispatcher *notify_services.Dispatcher, interval time.Duration) *NotificationDispatchJob {
	return &NotificationDispatchJob{
		dispatcher: dispatcher,
		ticker:     time.NewTicker(interval),
		interval:   interval,
	}
}

// Run drives the dispatch loop until ctx is canceled.
func (j *NotificationDispatchJob) Run(ctx context.Context) {
	slog.InfoContext(ctx, "notification dispatch job started", "interval", j.interval)
	defer j.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "notification dispatch job stopped")
			return
		case <-j.ticker.C:
			j.dispatcher.Tick(ctx)
		}
	}
}
