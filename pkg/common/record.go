// Package common holds small value types shared by the control-plane and
// signing-module packages: record bookkeeping, networks, and the typed error
// kinds every component surfaces.
package common

import (
	"time"

	"github.com/google/uuid"
)

// BaseRecord is embedded by every persisted aggregate. It carries the
// bookkeeping fields every record carries (created_at, updated_at, and
// optional expiring_at, all RFC-3339 UTC) plus an optimistic-concurrency
// version counter.
type BaseRecord struct {
	ID        uuid.UUID  `json:"id" bson:"_id"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" bson:"updated_at"`
	Version   int        `json:"version" bson:"version"`
	ExpiresAt *time.Time `json:"expiring_at,omitempty" bson:"expiring_at,omitempty"`
}

// NewBaseRecord stamps a new record with a fresh ID and UTC timestamps.
func NewBaseRecord() BaseRecord {
	now := time.Now().UTC()
	return BaseRecord{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Touch bumps UpdatedAt and the optimistic-concurrency version. Callers pass
// the resulting struct to a repository's conditional-update, keyed on the
// pre-touch version.
func (r *BaseRecord) Touch() {
	r.UpdatedAt = time.Now().UTC()
	r.Version++
}

// Network identifies the Bitcoin network a keyset or address is bound to.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Signet  Network = "signet"
	Regtest Network = "regtest"
)

// Valid reports whether n is one of the four recognized networks.
func (n Network) Valid() bool {
	switch n {
	case Mainnet, Testnet, Signet, Regtest:
		return true
	}
	return false
}
