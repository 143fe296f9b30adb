package in

import (
	"context"
	"time"

	entities "github.com/duskvault/signing-core/pkg/cp/notify/entities"
)

// Scheduler is the inbound port the recovery and inheritance state machines
// call to emit and revoke notification events. It never dispatches
// synchronously; a separate background loop (services.Dispatcher) drains
// due events.
type Scheduler interface {
	Schedule(ctx context.Context, kind entities.Kind, accountID, key string, notBefore time.Time) error
	// Revoke supersedes every pending event grouped under key. Called on
	// cancellation or completion so a reminder already in flight is
	// flagged superseded and suppressed rather than deleted.
	Revoke(ctx context.Context, key string) error
}
