// Package entities holds the social-inheritance aggregates: the endorsed
// benefactor/beneficiary Relationship, the pre-uploaded inheritance
// package, and the InheritanceClaim state machine.
package entities

import (
	"time"

	common "github.com/duskvault/signing-core/pkg/common"
)

// RelationshipStatus tracks the invitation-accept-endorse protocol gating
// claims: only an endorsed relationship can carry one.
type RelationshipStatus string

const (
	RelationshipInvited  RelationshipStatus = "invited"
	RelationshipAccepted RelationshipStatus = "accepted"
	RelationshipEndorsed RelationshipStatus = "endorsed"
)

// InviteTTL bounds how long an unredeemed invite code stays valid.
const InviteTTL = 30 * 24 * time.Hour

// Relationship pairs a benefactor with a named beneficiary. The endorsement
// signatures are each party's hardware factor over the relationship id,
// binding both devices to the pairing.
type Relationship struct {
	common.BaseRecord `bson:",inline"`

	BenefactorAccountID  string             `bson:"benefactor_account_id"`
	BeneficiaryAccountID string             `bson:"beneficiary_account_id,omitempty"`
	Status               RelationshipStatus `bson:"status"`

	// InviteCodeHash is the argon2id hash of the invite code the
	// benefactor handed out of band to the intended beneficiary.
	InviteCodeHash string    `bson:"invite_code_hash"`
	InviteExpires  time.Time `bson:"invite_expires"`

	AcceptedAt *time.Time `bson:"accepted_at,omitempty"`

	BenefactorEndorsement  []byte     `bson:"benefactor_endorsement,omitempty"`
	BeneficiaryEndorsement []byte     `bson:"beneficiary_endorsement,omitempty"`
	EndorsedAt             *time.Time `bson:"endorsed_at,omitempty"`
}

// NewRelationship constructs an Invited relationship awaiting acceptance.
func NewRelationship(benefactorAccountID, inviteCodeHash string) *Relationship {
	base := common.NewBaseRecord()
	return &Relationship{
		BaseRecord:          base,
		BenefactorAccountID: benefactorAccountID,
		Status:              RelationshipInvited,
		InviteCodeHash:      inviteCodeHash,
		InviteExpires:       base.CreatedAt.Add(InviteTTL),
	}
}

// Accept transitions Invited → Accepted, binding the beneficiary account.
func (r *Relationship) Accept(beneficiaryAccountID string, now time.Time) error {
	if r.Status != RelationshipInvited {
		return common.NewErrStateTransition("relationship %s is %s, not invited", r.ID, r.Status)
	}
	if now.After(r.InviteExpires) {
		return common.NewErrStateTransition("invite for relationship %s has expired", r.ID)
	}
	r.BeneficiaryAccountID = beneficiaryAccountID
	r.Status = RelationshipAccepted
	r.AcceptedAt = &now
	r.Touch()
	return nil
}

// Endorse transitions Accepted → Endorsed once both hardware-factor
// signatures are present. Either party may endorse first; the transition
// completes when the second arrives.
func (r *Relationship) Endorse(benefactorSig, beneficiarySig []byte, now time.Time) error {
	if r.Status == RelationshipInvited {
		return common.NewErrStateTransition("relationship %s has not been accepted", r.ID)
	}
	if len(benefactorSig) > 0 {
		r.BenefactorEndorsement = benefactorSig
	}
	if len(beneficiarySig) > 0 {
		r.BeneficiaryEndorsement = beneficiarySig
	}
	if len(r.BenefactorEndorsement) > 0 && len(r.BeneficiaryEndorsement) > 0 && r.Status != RelationshipEndorsed {
		r.Status = RelationshipEndorsed
		r.EndorsedAt = &now
	}
	r.Touch()
	return nil
}

// Endorsed reports whether the relationship may carry claims.
func (r *Relationship) Endorsed() bool {
	return r.Status == RelationshipEndorsed
}

// Package is the pre-uploaded "inheritance package": the sealed decryption
// keys for the benefactor's wallet-encrypted backup, required before a
// claim can lock. The core never sees the sealed material's
// plaintext.
type Package struct {
	common.BaseRecord `bson:",inline"`

	RelationshipID  string `bson:"relationship_id"`
	SealedDEK       []byte `bson:"sealed_dek"`
	SealedMobileKey []byte `bson:"sealed_mobile_key"`
}
