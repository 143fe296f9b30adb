// Package entities holds the append-only notification event log. State
// machines never hold a scheduler handle: they emit events instead of
// mutating a shared scheduler. Cancellation flags the still-pending events
// of a key as superseded and appends a terminal event.
package entities

import (
	"time"

	"github.com/google/uuid"
)

// Kind names the notification this event schedules. The recovery and
// inheritance state machines each emit a handful of kinds; delivery itself
// (push/SMS/email) lives outside this core and is left to the
// notify.Sender port.
type Kind string

const (
	KindRecoveryReminder     Kind = "recovery_reminder"
	KindRecoveryCanceled     Kind = "recovery_canceled"
	KindRecoveryCompleted    Kind = "recovery_completed"
	KindInheritanceReminder  Kind = "inheritance_reminder"
	KindInheritanceCanceled  Kind = "inheritance_canceled"
	KindInheritanceLocked    Kind = "inheritance_locked"
	KindInheritanceCompleted Kind = "inheritance_completed"
)

// Event is one scheduled (or already-superseded) notification. Events are
// never deleted; after insert only the Dispatched and Superseded flags
// change. A cancellation or completion sets Superseded on the still-pending
// events under the same Key and appends a new terminal event; the
// dispatcher skips superseded events.
type Event struct {
	ID         uuid.UUID `bson:"_id"`
	Kind       Kind      `bson:"kind"`
	AccountID  string    `bson:"account_id"` // recovery: the account; inheritance: benefactor or beneficiary account
	Key        string    `bson:"key"`        // groups related events, e.g. "recovery:<recovery_id>" or "inheritance:<claim_id>"
	NotBefore  time.Time `bson:"not_before"`
	CreatedAt  time.Time `bson:"created_at"`
	Dispatched bool      `bson:"dispatched"`
	Superseded bool      `bson:"superseded"`
}

// NewEvent constructs a pending event scheduled to fire at or after
// notBefore.
func NewEvent(kind Kind, accountID, key string, notBefore time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		AccountID: accountID,
		Key:       key,
		NotBefore: notBefore,
		CreatedAt: time.Now().UTC(),
	}
}
