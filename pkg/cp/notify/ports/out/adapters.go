// Package out declares the notification event log's persistence and
// delivery boundaries.
package out

import (
	"context"
	"time"

	entities "github.com/duskvault/signing-core/pkg/cp/notify/entities"
)

// EventRepository persists the append-only notification event log.
type EventRepository interface {
	Insert(ctx context.Context, e *entities.Event) error
	// SupersedeByKey marks every non-dispatched, non-superseded event under
	// key as superseded, without deleting them: cancellation is a terminal
	// status written on the pending events before dispatch.
	SupersedeByKey(ctx context.Context, key string) error
	// DueForDispatch returns pending, non-superseded events whose
	// NotBefore has elapsed, for the scheduler to dispatch.
	DueForDispatch(ctx context.Context, asOf time.Time) ([]*entities.Event, error)
	MarkDispatched(ctx context.Context, id string) error
}

// Sender is the abstract delivery capability the scheduler calls once an
// event is due. Push/SMS/email delivery lives outside this core; this
// core only calls the port and trusts it to route by Kind and AccountID.
type Sender interface {
	Send(ctx context.Context, e entities.Event) error
}
