// Package entities holds the delay-and-notify RecoveryAttempt aggregate
//: one Pending attempt per account at most, terminal once
// canceled or completed, retained for audit.
package entities

import (
	"time"

	common "github.com/duskvault/signing-core/pkg/common"
	accountentities "github.com/duskvault/signing-core/pkg/cp/account/entities"
)

// Status is the recovery attempt's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCanceled  Status = "canceled"
	StatusCompleted Status = "completed"
)

// CanceledBy records which path terminated a Pending attempt.
type CanceledBy string

const (
	CanceledBySourceFactor CanceledBy = "source_factor"
	CanceledByExpired      CanceledBy = "expired"
)

// Delay windows: production accounts wait 7 days, test accounts 20 seconds.
const (
	ProductionDelay = 7 * 24 * time.Hour
	TestDelay       = 20 * time.Second
)

// DestinationKeys are the auth public keys the account rotates to on
// completion.
type DestinationKeys struct {
	AppPub      []byte `bson:"app_pub"`
	HardwarePub []byte `bson:"hardware_pub"`
	RecoveryPub []byte `bson:"recovery_pub,omitempty"`
}

// RecoveryAttempt is the delay-and-notify record. Terminal fields
// (CanceledAt, CompletedAt, CanceledBy) are nil/empty until the attempt
// leaves Pending.
type RecoveryAttempt struct {
	common.BaseRecord `bson:",inline"`

	AccountID       string                   `bson:"account_id"`
	Status          Status                   `bson:"status"`
	LostFactor      accountentities.Factor   `bson:"lost_factor"`
	SourceAuthKeyID string                   `bson:"source_auth_key_id"`
	Destination     DestinationKeys          `bson:"destination"`
	InitiatedAt     time.Time                `bson:"initiated_at"`
	DelayEndAt      time.Time                `bson:"delay_end_at"`
	// HardwareChallenge is a random 32-byte nonce the server mints at
	// initiation and keeps for audit; no signature over it is checked.
	HardwareChallenge []byte `bson:"hardware_challenge,omitempty"`
	// CommsScope names the comms-verification scope gating completion.
	CommsScope string `bson:"comms_scope"`

	CanceledAt  *time.Time `bson:"canceled_at,omitempty"`
	CanceledBy  CanceledBy `bson:"canceled_by,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
}

// NewRecoveryAttempt constructs a Pending attempt whose delay window is
// chosen by the account's test flag.
func NewRecoveryAttempt(accountID string, lost accountentities.Factor, sourceAuthKeyID string, dest DestinationKeys, challenge []byte, isTestAccount bool) *RecoveryAttempt {
	base := common.NewBaseRecord()
	delay := ProductionDelay
	if isTestAccount {
		delay = TestDelay
	}
	r := &RecoveryAttempt{
		BaseRecord:        base,
		AccountID:         accountID,
		Status:            StatusPending,
		LostFactor:        lost,
		SourceAuthKeyID:   sourceAuthKeyID,
		Destination:       dest,
		InitiatedAt:       base.CreatedAt,
		DelayEndAt:        base.CreatedAt.Add(delay),
		HardwareChallenge: challenge,
	}
	r.CommsScope = "recovery:" + r.ID.String()
	return r
}

// DelayElapsed reports whether completion is permitted as of now.
// Completion exactly at delay_end_at succeeds.
func (r *RecoveryAttempt) DelayElapsed(now time.Time) bool {
	return !now.Before(r.DelayEndAt)
}

// Terminal reports whether the attempt has left Pending.
func (r *RecoveryAttempt) Terminal() bool {
	return r.Status != StatusPending
}

// Cancel transitions Pending → Canceled, recording who terminated it.
func (r *RecoveryAttempt) Cancel(by CanceledBy, now time.Time) error {
	if r.Terminal() {
		return common.NewErrStateTransition("recovery %s is %s, not pending", r.ID, r.Status)
	}
	r.Status = StatusCanceled
	r.CanceledBy = by
	r.CanceledAt = &now
	r.Touch()
	return nil
}

// Complete transitions Pending → Completed. The caller has already
// verified the destination-key signatures and the comms code.
func (r *RecoveryAttempt) Complete(now time.Time) error {
	if r.Terminal() {
		return common.NewErrStateTransition("recovery %s is %s, not pending", r.ID, r.Status)
	}
	if !r.DelayElapsed(now) {
		return common.NewErrDelayNotElapsed(r.DelayEndAt.Sub(now).String())
	}
	r.Status = StatusCompleted
	r.CompletedAt = &now
	r.Touch()
	return nil
}
