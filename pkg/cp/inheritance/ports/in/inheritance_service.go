package in

import (
	"context"
	"time"

	entities "github.com/duskvault/signing-core/pkg/cp/inheritance/entities"
)

// CreateInviteRequest starts the invitation-accept-endorse protocol: the
// benefactor mints an invite code to hand to the intended beneficiary out
// of band.
type CreateInviteRequest struct {
	BenefactorAccountID string
}

// CreateInviteResult returns the relationship id and the one-time invite
// code; the code is never persisted in plaintext.
type CreateInviteResult struct {
	RelationshipID string
	InviteCode     string
}

// AcceptInviteRequest redeems an invite code, binding the beneficiary
// account and proving mutual authentication via a signature from the
// beneficiary's app factor over the relationship id.
type AcceptInviteRequest struct {
	RelationshipID       string
	BeneficiaryAccountID string
	InviteCode           string
	BeneficiarySignature []byte
}

// EndorseRequest carries a hardware-factor signature over the relationship
// id from one party; the relationship becomes Endorsed once both have
// signed.
type EndorseRequest struct {
	RelationshipID string
	AccountID      string
	HwSignature    []byte
}

// CreateClaimRequest starts a claim against an endorsed relationship.
type CreateClaimRequest struct {
	BeneficiaryAccountID string
	RelationshipID       string
	ClaimKeys            entities.ClaimAuthKeys
	// EndorsementProof is the beneficiary app factor's signature over the
	// relationship id, tying the claim to the endorsed pairing.
	EndorsementProof []byte
}

// CreateClaimResult returns the claim id and when its delay window closes.
type CreateClaimResult struct {
	ClaimID    string
	DelayEndAt time.Time
}

// CancelClaimRequest lets either party cancel prior to completion.
type CancelClaimRequest struct {
	ClaimID   string
	AccountID string
	Signature []byte // over the claim id, by the canceling party's active app key
}

// LockClaimRequest locks a claim once its delay window has elapsed.
type LockClaimRequest struct {
	ClaimID              string
	BeneficiaryAccountID string
	AppSignature         []byte // over the claim's server-issued lock challenge
}

// LockClaimResult returns the locked claim's snapshot and sealed package
// material.
type LockClaimResult struct {
	KeysetSnapshot  entities.KeysetSnapshot
	SealedDEK       []byte
	SealedMobileKey []byte
}

// CompleteClaimRequest finishes a locked claim: a sweep PSBT, or
// the empty-balance marker when the benefactor wallet holds nothing.
type CompleteClaimRequest struct {
	ClaimID      string
	SweepPSBT    string // base64; empty when EmptyBalance is set
	EmptyBalance bool
}

// UploadPackageRequest stores the sealed decryption keys for the
// benefactor's wallet backup against the relationship; locking a claim
// requires one to exist. Packaging itself happens client-side and
// is out of this core's scope.
type UploadPackageRequest struct {
	RelationshipID      string
	BenefactorAccountID string
	SealedDEK           []byte
	SealedMobileKey     []byte
}

// InheritanceService is the inbound port for the relationship protocol and
// the claim state machine.
type InheritanceService interface {
	CreateInvite(ctx context.Context, req CreateInviteRequest) (CreateInviteResult, error)
	AcceptInvite(ctx context.Context, req AcceptInviteRequest) error
	Endorse(ctx context.Context, req EndorseRequest) error
	UploadPackage(ctx context.Context, req UploadPackageRequest) error

	CreateClaim(ctx context.Context, req CreateClaimRequest) (CreateClaimResult, error)
	CancelClaim(ctx context.Context, req CancelClaimRequest) error
	LockClaim(ctx context.Context, req LockClaimRequest) (LockClaimResult, error)
	CompleteClaim(ctx context.Context, req CompleteClaimRequest) (*entities.InheritanceClaim, error)
}
