package entities

import (
	"time"

	common "github.com/duskvault/signing-core/pkg/common"
	accountentities "github.com/duskvault/signing-core/pkg/cp/account/entities"
)

// ClaimStatus is the InheritanceClaim lifecycle state:
// Pending → {Canceled, Locked → {Canceled, Completed}}.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimCanceled  ClaimStatus = "canceled"
	ClaimLocked    ClaimStatus = "locked"
	ClaimCompleted ClaimStatus = "completed"
)

// ClaimParty records which side of the relationship canceled a claim.
type ClaimParty string

const (
	PartyBenefactor  ClaimParty = "benefactor"
	PartyBeneficiary ClaimParty = "beneficiary"
)

// CompletionKind distinguishes a sweep completion from an empty-balance
// marker.
type CompletionKind string

const (
	CompletionWithPsbt     CompletionKind = "with_psbt"
	CompletionEmptyBalance CompletionKind = "empty_balance"
)

// Delay windows: 180 days in production, 20 seconds for test accounts.
const (
	ProductionClaimDelay = 180 * 24 * time.Hour
	TestClaimDelay       = 20 * time.Second
)

// ClaimAuthKeys are the fresh beneficiary-held keys supplied at claim
// initiation, independent of the beneficiary's account auth keys so a
// claim survives the beneficiary's own later rotations.
type ClaimAuthKeys struct {
	AppPub      []byte `bson:"app_pub"`
	HardwarePub []byte `bson:"hardware_pub"`
}

// KeysetSnapshot is the immutable copy of the benefactor's active
// descriptor keyset captured at lock time, so later benefactor rotations
// cannot affect the claim.
type KeysetSnapshot struct {
	KeysetID          string                     `bson:"keyset_id"`
	Network           common.Network             `bson:"network"`
	Kind              accountentities.KeysetKind `bson:"kind"`
	AppDPub           string                     `bson:"app_dpub,omitempty"`
	HardwareDPub      string                     `bson:"hardware_dpub,omitempty"`
	ServerDPub        string                     `bson:"server_dpub,omitempty"`
	ServerFingerprint [4]byte                    `bson:"server_fingerprint"`
}

// Completion records how a claim finished.
type Completion struct {
	Kind CompletionKind `bson:"kind"`
	TxID string         `bson:"txid,omitempty"`
}

// InheritanceClaim is the beneficiary-claim aggregate.
type InheritanceClaim struct {
	common.BaseRecord `bson:",inline"`

	RelationshipID       string      `bson:"relationship_id"`
	BenefactorAccountID  string      `bson:"benefactor_account_id"`
	BeneficiaryAccountID string      `bson:"beneficiary_account_id"`
	Status               ClaimStatus `bson:"status"`

	BeneficiaryClaimKeys ClaimAuthKeys `bson:"beneficiary_claim_keys"`
	InitiatedAt          time.Time     `bson:"initiated_at"`
	DelayEndAt           time.Time     `bson:"delay_end_at"`
	// LockChallenge is the server-issued nonce the beneficiary's app factor
	// must sign to lock the claim once the delay elapses.
	LockChallenge []byte `bson:"lock_challenge"`
	// NotifyKey groups this claim's scheduled notification events.
	NotifyKey string `bson:"notify_key"`

	CanceledAt *time.Time `bson:"canceled_at,omitempty"`
	CanceledBy ClaimParty `bson:"canceled_by,omitempty"`

	LockedAt        *time.Time      `bson:"locked_at,omitempty"`
	KeysetSnapshot  *KeysetSnapshot `bson:"keyset_snapshot,omitempty"`
	SealedDEK       []byte          `bson:"sealed_dek,omitempty"`
	SealedMobileKey []byte          `bson:"sealed_mobile_key,omitempty"`

	CompletedAt *time.Time  `bson:"completed_at,omitempty"`
	Completion  *Completion `bson:"completion,omitempty"`
}

// NewInheritanceClaim constructs a Pending claim whose delay window is
// chosen by the benefactor account's test flag.
func NewInheritanceClaim(relationshipID, benefactorAccountID, beneficiaryAccountID string, keys ClaimAuthKeys, challenge []byte, isTestAccount bool) *InheritanceClaim {
	base := common.NewBaseRecord()
	delay := ProductionClaimDelay
	if isTestAccount {
		delay = TestClaimDelay
	}
	c := &InheritanceClaim{
		BaseRecord:           base,
		RelationshipID:       relationshipID,
		BenefactorAccountID:  benefactorAccountID,
		BeneficiaryAccountID: beneficiaryAccountID,
		Status:               ClaimPending,
		BeneficiaryClaimKeys: keys,
		InitiatedAt:          base.CreatedAt,
		DelayEndAt:           base.CreatedAt.Add(delay),
		LockChallenge:        challenge,
	}
	c.NotifyKey = "inheritance:" + c.ID.String()
	return c
}

// Terminal reports whether the claim has reached Canceled or Completed.
func (c *InheritanceClaim) Terminal() bool {
	return c.Status == ClaimCanceled || c.Status == ClaimCompleted
}

// DelayElapsed reports whether locking is permitted as of now.
func (c *InheritanceClaim) DelayElapsed(now time.Time) bool {
	return !now.Before(c.DelayEndAt)
}

// Cancel transitions Pending|Locked → Canceled; either party may cancel at
// any time prior to completion.
func (c *InheritanceClaim) Cancel(by ClaimParty, now time.Time) error {
	if c.Terminal() {
		return common.NewErrStateTransition("claim %s is %s, not cancelable", c.ID, c.Status)
	}
	c.Status = ClaimCanceled
	c.CanceledBy = by
	c.CanceledAt = &now
	c.Touch()
	return nil
}

// Lock transitions Pending → Locked, capturing the benefactor keyset
// snapshot and the sealed package material.
func (c *InheritanceClaim) Lock(snapshot KeysetSnapshot, sealedDEK, sealedMobileKey []byte, now time.Time) error {
	if c.Status != ClaimPending {
		return common.NewErrStateTransition("claim %s is %s, not pending", c.ID, c.Status)
	}
	if !c.DelayElapsed(now) {
		return common.NewErrDelayNotElapsed(c.DelayEndAt.Sub(now).String())
	}
	c.Status = ClaimLocked
	c.LockedAt = &now
	c.KeysetSnapshot = &snapshot
	c.SealedDEK = sealedDEK
	c.SealedMobileKey = sealedMobileKey
	c.Touch()
	return nil
}

// CompleteWithPsbt transitions Locked → Completed{WithPsbt}. Re-completing
// with a (possibly RBF-bumped) txid is permitted but never overwrites
// CompletedAt.
func (c *InheritanceClaim) CompleteWithPsbt(txID string, now time.Time) error {
	switch c.Status {
	case ClaimLocked:
		c.Status = ClaimCompleted
		c.CompletedAt = &now
		c.Completion = &Completion{Kind: CompletionWithPsbt, TxID: txID}
		c.Touch()
		return nil
	case ClaimCompleted:
		if c.Completion == nil || c.Completion.Kind != CompletionWithPsbt {
			return common.NewErrStateTransition("claim %s completed as empty balance, cannot re-complete with psbt", c.ID)
		}
		c.Completion.TxID = txID
		c.Touch()
		return nil
	default:
		return common.NewErrStateTransition("claim %s is %s, not locked", c.ID, c.Status)
	}
}

// CompleteEmptyBalance transitions Locked → Completed{EmptyBalance}. A
// prior WithPsbt completion is never overwritten.
func (c *InheritanceClaim) CompleteEmptyBalance(now time.Time) error {
	if c.Status == ClaimCompleted {
		if c.Completion != nil && c.Completion.Kind == CompletionWithPsbt {
			return common.NewErrStateTransition("claim %s already completed with a psbt", c.ID)
		}
		return nil
	}
	if c.Status != ClaimLocked {
		return common.NewErrStateTransition("claim %s is %s, not locked", c.ID, c.Status)
	}
	c.Status = ClaimCompleted
	c.CompletedAt = &now
	c.Completion = &Completion{Kind: CompletionEmptyBalance}
	c.Touch()
	return nil
}
