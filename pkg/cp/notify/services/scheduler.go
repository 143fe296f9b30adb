// Package services implements the notification event log's two halves: the
// Scheduler the state machines append through, and the Dispatcher that
// drains due events. The split removes the cyclic scheduler reference: state
// machines never hold a handle to the dispatch side.
package services

import (
	"context"
	"fmt"
	"time"

	entities "github.com/duskvault/signing-core/pkg/cp/notify/entities"
	in "github.com/duskvault/signing-core/pkg/cp/notify/ports/in"
	out "github.com/duskvault/signing-core/pkg/cp/notify/ports/out"
)

// Scheduler implements in.Scheduler against the append-only event log.
type Scheduler struct {
	events out.EventRepository
}

// NewScheduler constructs a Scheduler.
func NewScheduler(events out.EventRepository) *Scheduler {
	return &Scheduler{events: events}
}

var _ in.Scheduler = (*Scheduler)(nil)

func (s *Scheduler) Schedule(ctx context.Context, kind entities.Kind, accountID, key string, notBefore time.Time) error {
	e := entities.NewEvent(kind, accountID, key, notBefore)
	if err := s.events.Insert(ctx, &e); err != nil {
		return fmt.Errorf("notify: inserting event: %w", err)
	}
	return nil
}

func (s *Scheduler) Revoke(ctx context.Context, key string) error {
	if err := s.events.SupersedeByKey(ctx, key); err != nil {
		return fmt.Errorf("notify: superseding events for %s: %w", key, err)
	}
	return nil
}
