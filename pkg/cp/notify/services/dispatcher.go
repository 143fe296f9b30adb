package services

import (
	"context"
	"log/slog"
	"time"

	out "github.com/duskvault/signing-core/pkg/cp/notify/ports/out"
)

// sendTimeout bounds one delivery attempt; the retry is the next poll tick
// re-reading the undispatched event.
const sendTimeout = 5 * time.Second

// Dispatcher polls the event log for due, non-superseded events and hands
// them to the Sender port. It re-reads state on every tick, so an event
// superseded after scheduling is suppressed rather than sent.
type Dispatcher struct {
	events   out.EventRepository
	sender   out.Sender
	interval time.Duration
}

// NewDispatcher constructs a Dispatcher polling at interval.
func NewDispatcher(events out.EventRepository, sender out.Sender, interval time.Duration) *Dispatcher {
	return &Dispatcher{events: events, sender: sender, interval: interval}
}

// Run drives the poll loop until ctx is canceled. Intended to be launched
// as a background goroutine from main.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick drains every currently due event. Exported so jobs and tests can
// drive the loop deterministically.
func (d *Dispatcher) Tick(ctx context.Context) {
	due, err := d.events.DueForDispatch(ctx, time.Now().UTC())
	if err != nil {
		slog.ErrorContext(ctx, "notify: listing due events", "error", err)
		return
	}
	for _, e := range due {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := d.sender.Send(sendCtx, *e)
		cancel()
		if err != nil {
			// Left undispatched; the next tick retries.
			slog.WarnContext(ctx, "notify: delivery failed, will retry", "event_id", e.ID, "kind", e.Kind, "error", err)
			continue
		}
		if err := d.events.MarkDispatched(ctx, e.ID.String()); err != nil {
			slog.ErrorContext(ctx, "notify: marking event dispatched", "event_id", e.ID, "error", err)
		}
	}
}
