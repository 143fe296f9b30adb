package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entities "github.com/duskvault/signing-core/pkg/cp/notify/entities"
)

type mockEventRepository struct {
	mu     sync.Mutex
	events []*entities.Event
}

func (m *mockEventRepository) Insert(_ context.Context, e *entities.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *e
	m.events = append(m.events, &clone)
	return nil
}

func (m *mockEventRepository) SupersedeByKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.Key == key && !e.Dispatched {
			e.Superseded = true
		}
	}
	return nil
}

func (m *mockEventRepository) DueForDispatch(_ context.Context, asOf time.Time) ([]*entities.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*entities.Event
	for _, e := range m.events {
		if !e.Dispatched && !e.Superseded && !e.NotBefore.After(asOf) {
			due = append(due, e)
		}
	}
	return due, nil
}

func (m *mockEventRepository) MarkDispatched(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID.String() == id {
			e.Dispatched = true
		}
	}
	return nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []entities.Kind
	err  error
}

func (s *recordingSender) Send(_ context.Context, e entities.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, e.Kind)
	return nil
}

func TestDispatcherSendsDueEvents(t *testing.T) {
	repo := &mockEventRepository{}
	sender := &recordingSender{}
	scheduler := NewScheduler(repo)
	dispatcher := NewDispatcher(repo, sender, time.Minute)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, scheduler.Schedule(ctx, entities.KindRecoveryReminder, "acct-a", "recovery:r1", past))
	require.NoError(t, scheduler.Schedule(ctx, entities.KindRecoveryReminder, "acct-a", "recovery:r1", future))

	dispatcher.Tick(ctx)

	assert.Equal(t, []entities.Kind{entities.KindRecoveryReminder}, sender.sent, "only the due event fires")

	// A second tick must not re-send the dispatched event.
	dispatcher.Tick(ctx)
	assert.Len(t, sender.sent, 1)
}

func TestRevokedEventsAreSuppressed(t *testing.T) {
	// Cancellation writes a terminal status before dispatch; the worker
	// re-reads and suppresses.
	repo := &mockEventRepository{}
	sender := &recordingSender{}
	scheduler := NewScheduler(repo)
	dispatcher := NewDispatcher(repo, sender, time.Minute)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, scheduler.Schedule(ctx, entities.KindRecoveryReminder, "acct-a", "recovery:r1", past))
	require.NoError(t, scheduler.Revoke(ctx, "recovery:r1"))

	dispatcher.Tick(ctx)
	assert.Empty(t, sender.sent)
}

func TestFailedSendRetriesNextTick(t *testing.T) {
	repo := &mockEventRepository{}
	sender := &recordingSender{err: errors.New("push gateway down")}
	scheduler := NewScheduler(repo)
	dispatcher := NewDispatcher(repo, sender, time.Minute)
	ctx := context.Background()

	require.NoError(t, scheduler.Schedule(ctx, entities.KindInheritanceReminder, "acct-b", "inheritance:c1", time.Now().UTC().Add(-time.Second)))

	dispatcher.Tick(ctx)
	assert.Empty(t, sender.sent)

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	dispatcher.Tick(ctx)
	assert.Equal(t, []entities.Kind{entities.KindInheritanceReminder}, sender.sent)
}
