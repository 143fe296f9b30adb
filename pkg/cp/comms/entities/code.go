// Package entities holds the one-time comms-verification code records sent
// to an account's still-trusted touchpoints during recovery and inheritance
// delay windows.
package entities

import (
	"time"

	common "github.com/duskvault/signing-core/pkg/common"
)

// CodeTTL is how long a sent code stays valid after send.
const CodeTTL = 5 * time.Minute

// ResendInterval is the minimum gap between two sends for the same scope.
const ResendInterval = 10 * time.Second

// TestAccountCode is the fixed code test accounts always receive.
const TestAccountCode = "123456"

// Code is one issued comms-verification code, stored only as an argon2id
// hash. The plaintext exists exactly once, in the delivery payload.
type Code struct {
	common.BaseRecord `bson:",inline"`

	AccountID string `bson:"account_id"`
	// Scope ties the code to the operation it verifies, e.g.
	// "recovery:<recovery_id>". A code issued for one scope never verifies
	// another.
	Scope    string    `bson:"scope"`
	CodeHash string    `bson:"code_hash"`
	SentAt   time.Time `bson:"sent_at"`
}

// Expired reports whether the code's validity window has closed as of now.
func (c *Code) Expired(now time.Time) bool {
	return now.After(c.SentAt.Add(CodeTTL))
}

// ResendAllowed reports whether a new send for this scope is permitted as
// of now.
func (c *Code) ResendAllowed(now time.Time) bool {
	return !now.Before(c.SentAt.Add(ResendInterval))
}
