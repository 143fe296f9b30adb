// Package services implements the inheritance claim state machine: the
// invitation-accept-endorse relationship protocol and the Pending → Locked
// → Completed claim lifecycle, with both parties notified through the delay
// window.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	common "github.com/duskvault/signing-core/pkg/common"
	accountentities "github.com/duskvault/signing-core/pkg/cp/account/entities"
	accountout "github.com/duskvault/signing-core/pkg/cp/account/ports/out"
	entities "github.com/duskvault/signing-core/pkg/cp/inheritance/entities"
	in "github.com/duskvault/signing-core/pkg/cp/inheritance/ports/in"
	out "github.com/duskvault/signing-core/pkg/cp/inheritance/ports/out"
	notifyentities "github.com/duskvault/signing-core/pkg/cp/notify/entities"
	notifyin "github.com/duskvault/signing-core/pkg/cp/notify/ports/in"
	signingin "github.com/duskvault/signing-core/pkg/cp/signing/ports/in"
	signingout "github.com/duskvault/signing-core/pkg/cp/signing/ports/out"
	"github.com/duskvault/signing-core/pkg/infra/crypto"
)

// SignatureVerifier checks a factor signature over a payload.
type SignatureVerifier interface {
	Verify(pubKey, payload, signature []byte) bool
}

// reminderCount is how many reminders each party receives across the delay
// window.
const reminderCount = 6

// InheritanceService implements in.InheritanceService.
type InheritanceService struct {
	relationships out.RelationshipRepository
	claims        out.ClaimRepository
	accounts      accountout.AccountRepository
	inspector     out.WalletInspector
	scheduler     notifyin.Scheduler
	sweeper       signingin.SweepService
	broadcaster   signingout.Broadcaster
	verifier      SignatureVerifier
	hasher        *crypto.CommsCodeHasher
	now           func() time.Time
}

// NewInheritanceService constructs an InheritanceService bound to its
// collaborators.
func NewInheritanceService(
	relationships out.RelationshipRepository,
	claims out.ClaimRepository,
	accounts accountout.AccountRepository,
	inspector out.WalletInspector,
	scheduler notifyin.Scheduler,
	sweeper signingin.SweepService,
	broadcaster signingout.Broadcaster,
	verifier SignatureVerifier,
) *InheritanceService {
	return &InheritanceService{
		relationships: relationships,
		claims:        claims,
		accounts:      accounts,
		inspector:     inspector,
		scheduler:     scheduler,
		sweeper:       sweeper,
		broadcaster:   broadcaster,
		verifier:      verifier,
		hasher:        crypto.NewCommsCodeHasher(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

var _ in.InheritanceService = (*InheritanceService)(nil)

// CreateInvite mints a relationship in the Invited state and returns the
// one-time invite code for the benefactor to hand out of band.
func (s *InheritanceService) CreateInvite(ctx context.Context, req in.CreateInviteRequest) (in.CreateInviteResult, error) {
	if _, err := s.loadAccount(ctx, req.BenefactorAccountID); err != nil {
		return in.CreateInviteResult{}, err
	}

	codeBytes := make([]byte, 16)
	if _, err := rand.Read(codeBytes); err != nil {
		return in.CreateInviteResult{}, common.NewErrInternal("generating invite code", err)
	}
	code := hex.EncodeToString(codeBytes)
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return in.CreateInviteResult{}, common.NewErrInternal("hashing invite code", err)
	}

	rel := entities.NewRelationship(req.BenefactorAccountID, hash)
	if err := s.relationships.Insert(ctx, rel); err != nil {
		return in.CreateInviteResult{}, fmt.Errorf("inheritance: persisting relationship: %w", err)
	}

	slog.InfoContext(ctx, "inheritance invite created", "relationship_id", rel.ID, "benefactor", req.BenefactorAccountID)
	return in.CreateInviteResult{RelationshipID: rel.ID.String(), InviteCode: code}, nil
}

// AcceptInvite redeems the invite code and binds the beneficiary account,
// authenticated by the beneficiary's active app key over the relationship
// id.
func (s *InheritanceService) AcceptInvite(ctx context.Context, req in.AcceptInviteRequest) error {
	rel, err := s.loadRelationship(ctx, req.RelationshipID)
	if err != nil {
		return err
	}
	beneficiary, err := s.loadAccount(ctx, req.BeneficiaryAccountID)
	if err != nil {
		return err
	}
	if rel.BenefactorAccountID == req.BeneficiaryAccountID {
		return common.NewErrInvalidInput("benefactor cannot be their own beneficiary")
	}

	ok, err := s.hasher.Verify(rel.InviteCodeHash, req.InviteCode)
	if err != nil {
		return common.NewErrInternal("verifying invite code", err)
	}
	if !ok {
		return common.NewErrUnauthorized("invite code does not match")
	}
	authKeys, err := beneficiary.ActiveAuthKey()
	if err != nil {
		return err
	}
	if !s.verifier.Verify(authKeys.AppPub, []byte(req.RelationshipID), req.BeneficiarySignature) {
		return common.NewErrUnauthorized("beneficiary signature does not verify")
	}

	expectedVersion := rel.Version
	if err := rel.Accept(req.BeneficiaryAccountID, s.now()); err != nil {
		return err
	}
	if err := s.relationships.Update(ctx, rel, expectedVersion); err != nil {
		return fmt.Errorf("inheritance: persisting acceptance: %w", err)
	}
	slog.InfoContext(ctx, "inheritance invite accepted", "relationship_id", rel.ID, "beneficiary", req.BeneficiaryAccountID)
	return nil
}

// Endorse records one party's hardware-factor signature over the
// relationship id; the relationship becomes Endorsed once both parties
// have signed.
func (s *InheritanceService) Endorse(ctx context.Context, req in.EndorseRequest) error {
	rel, err := s.loadRelationship(ctx, req.RelationshipID)
	if err != nil {
		return err
	}
	account, err := s.loadAccount(ctx, req.AccountID)
	if err != nil {
		return err
	}
	authKeys, err := account.ActiveAuthKey()
	if err != nil {
		return err
	}
	if !s.verifier.Verify(authKeys.HardwarePub, []byte(req.RelationshipID), req.HwSignature) {
		return common.NewErrUnauthorized("hardware factor signature does not verify")
	}

	var benefactorSig, beneficiarySig []byte
	switch req.AccountID {
	case rel.BenefactorAccountID:
		benefactorSig = req.HwSignature
	case rel.BeneficiaryAccountID:
		beneficiarySig = req.HwSignature
	default:
		return common.NewErrUnauthorized("account is not a party to this relationship")
	}

	expectedVersion := rel.Version
	if err := rel.Endorse(benefactorSig, beneficiarySig, s.now()); err != nil {
		return err
	}
	if err := s.relationships.Update(ctx, rel, expectedVersion); err != nil {
		return fmt.Errorf("inheritance: persisting endorsement: %w", err)
	}
	if rel.Endorsed() {
		slog.InfoContext(ctx, "inheritance relationship endorsed", "relationship_id", rel.ID)
	}
	return nil
}

// UploadPackage stores (or replaces) the relationship's sealed package
// material. Only the benefactor may upload, and only for an endorsed
// relationship.
func (s *InheritanceService) UploadPackage(ctx context.Context, req in.UploadPackageRequest) error {
	rel, err := s.loadRelationship(ctx, req.RelationshipID)
	if err != nil {
		return err
	}
	if rel.BenefactorAccountID != req.BenefactorAccountID {
		return common.NewErrUnauthorized("account is not the relationship's benefactor")
	}
	if !rel.Endorsed() {
		return common.NewErrStateTransition("relationship %s is not endorsed", rel.ID)
	}
	if len(req.SealedDEK) == 0 || len(req.SealedMobileKey) == 0 {
		return common.NewErrInvalidInput("package material is incomplete")
	}
	pkg := &entities.Package{
		BaseRecord:      common.NewBaseRecord(),
		RelationshipID:  req.RelationshipID,
		SealedDEK:       req.SealedDEK,
		SealedMobileKey: req.SealedMobileKey,
	}
	if err := s.relationships.UpsertPackage(ctx, pkg); err != nil {
		return fmt.Errorf("inheritance: persisting package: %w", err)
	}
	slog.InfoContext(ctx, "inheritance package uploaded", "relationship_id", req.RelationshipID)
	return nil
}

// CreateClaim starts a Pending claim against an endorsed relationship.
func (s *InheritanceService) CreateClaim(ctx context.Context, req in.CreateClaimRequest) (in.CreateClaimResult, error) {
	rel, err := s.loadRelationship(ctx, req.RelationshipID)
	if err != nil {
		return in.CreateClaimResult{}, err
	}
	if !rel.Endorsed() {
		return in.CreateClaimResult{}, common.NewErrStateTransition("relationship %s is not endorsed", rel.ID)
	}
	if rel.BeneficiaryAccountID != req.BeneficiaryAccountID {
		return in.CreateClaimResult{}, common.NewErrUnauthorized("account is not the relationship's beneficiary")
	}
	beneficiary, err := s.loadAccount(ctx, req.BeneficiaryAccountID)
	if err != nil {
		return in.CreateClaimResult{}, err
	}
	benefactor, err := s.loadAccount(ctx, rel.BenefactorAccountID)
	if err != nil {
		return in.CreateClaimResult{}, err
	}

	authKeys, err := beneficiary.ActiveAuthKey()
	if err != nil {
		return in.CreateClaimResult{}, err
	}
	if !s.verifier.Verify(authKeys.AppPub, []byte(req.RelationshipID), req.EndorsementProof) {
		return in.CreateClaimResult{}, common.NewErrUnauthorized("endorsement proof does not verify")
	}
	if len(req.ClaimKeys.AppPub) == 0 || len(req.ClaimKeys.HardwarePub) == 0 {
		return in.CreateClaimResult{}, common.NewErrInvalidInput("claim auth keys are incomplete")
	}

	if existing, err := s.claims.FindNonTerminalByRelationship(ctx, req.RelationshipID); err != nil {
		return in.CreateClaimResult{}, fmt.Errorf("inheritance: checking existing claims: %w", err)
	} else if existing != nil {
		return in.CreateClaimResult{}, common.NewErrConflict("a non-terminal claim already exists for relationship %s", req.RelationshipID)
	}

	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return in.CreateClaimResult{}, common.NewErrInternal("generating lock challenge", err)
	}

	claim := entities.NewInheritanceClaim(req.RelationshipID, rel.BenefactorAccountID, req.BeneficiaryAccountID, req.ClaimKeys, challenge, benefactor.IsTestAccount)
	if err := s.claims.Insert(ctx, claim); err != nil {
		return in.CreateClaimResult{}, fmt.Errorf("inheritance: persisting claim: %w", err)
	}

	s.scheduleReminders(ctx, claim)

	slog.InfoContext(ctx, "inheritance claim created",
		"claim_id", claim.ID,
		"relationship_id", req.RelationshipID,
		"delay_end_at", claim.DelayEndAt,
	)
	return in.CreateClaimResult{ClaimID: claim.ID.String(), DelayEndAt: claim.DelayEndAt}, nil
}

// CancelClaim lets either party terminate a non-completed claim; who
// canceled is recorded and both parties get a terminal notification.
func (s *InheritanceService) CancelClaim(ctx context.Context, req in.CancelClaimRequest) error {
	claim, err := s.loadClaim(ctx, req.ClaimID)
	if err != nil {
		return err
	}
	var party entities.ClaimParty
	switch req.AccountID {
	case claim.BenefactorAccountID:
		party = entities.PartyBenefactor
	case claim.BeneficiaryAccountID:
		party = entities.PartyBeneficiary
	default:
		return common.NewErrUnauthorized("account is not a party to this claim")
	}
	account, err := s.loadAccount(ctx, req.AccountID)
	if err != nil {
		return err
	}
	authKeys, err := account.ActiveAuthKey()
	if err != nil {
		return err
	}
	if !s.verifier.Verify(authKeys.AppPub, []byte(req.ClaimID), req.Signature) {
		return common.NewErrUnauthorized("canceling party's signature does not verify")
	}

	expectedVersion := claim.Version
	if err := claim.Cancel(party, s.now()); err != nil {
		return err
	}
	if err := s.claims.Update(ctx, claim, expectedVersion); err != nil {
		return fmt.Errorf("inheritance: persisting cancellation: %w", err)
	}

	s.revokeAndNotifyTerminal(ctx, claim, notifyentities.KindInheritanceCanceled)
	slog.InfoContext(ctx, "inheritance claim canceled", "claim_id", claim.ID, "canceled_by", party)
	return nil
}

// LockClaim transitions Pending → Locked once the delay has elapsed, the
// beneficiary's claim app key signs the server-issued challenge, and a
// pre-uploaded inheritance package exists. Re-locking an already-Locked
// claim returns the existing record unchanged.
func (s *InheritanceService) LockClaim(ctx context.Context, req in.LockClaimRequest) (in.LockClaimResult, error) {
	claim, err := s.loadClaim(ctx, req.ClaimID)
	if err != nil {
		return in.LockClaimResult{}, err
	}
	if claim.BeneficiaryAccountID != req.BeneficiaryAccountID {
		return in.LockClaimResult{}, common.NewErrUnauthorized("account is not the claim's beneficiary")
	}
	if claim.Status == entities.ClaimLocked {
		return in.LockClaimResult{
			KeysetSnapshot:  *claim.KeysetSnapshot,
			SealedDEK:       claim.SealedDEK,
			SealedMobileKey: claim.SealedMobileKey,
		}, nil
	}
	if !s.verifier.Verify(claim.BeneficiaryClaimKeys.AppPub, claim.LockChallenge, req.AppSignature) {
		return in.LockClaimResult{}, common.NewErrUnauthorized("beneficiary app signature over lock challenge does not verify")
	}

	pkg, err := s.relationships.FindPackageByRelationship(ctx, claim.RelationshipID)
	if err != nil {
		return in.LockClaimResult{}, fmt.Errorf("inheritance: loading package: %w", err)
	}
	if pkg == nil {
		return in.LockClaimResult{}, common.NewErrStateTransition("no inheritance package uploaded for relationship %s", claim.RelationshipID)
	}

	benefactor, err := s.loadAccount(ctx, claim.BenefactorAccountID)
	if err != nil {
		return in.LockClaimResult{}, err
	}
	keyset, err := benefactor.ActiveKeyset()
	if err != nil {
		return in.LockClaimResult{}, err
	}
	snapshot := entities.KeysetSnapshot{
		KeysetID:          keyset.ID.String(),
		Network:           keyset.Network,
		Kind:              keyset.Kind,
		AppDPub:           keyset.AppDPub,
		HardwareDPub:      keyset.HardwareDPub,
		ServerDPub:        keyset.ServerDPub,
		ServerFingerprint: keyset.ServerFingerprint,
	}

	expectedVersion := claim.Version
	if err := claim.Lock(snapshot, pkg.SealedDEK, pkg.SealedMobileKey, s.now()); err != nil {
		return in.LockClaimResult{}, err
	}
	if err := s.claims.Update(ctx, claim, expectedVersion); err != nil {
		return in.LockClaimResult{}, fmt.Errorf("inheritance: persisting lock: %w", err)
	}

	s.notifyBothParties(ctx, claim, notifyentities.KindInheritanceLocked, s.now())
	slog.InfoContext(ctx, "inheritance claim locked", "claim_id", claim.ID, "snapshot_keyset", snapshot.KeysetID)
	return in.LockClaimResult{KeysetSnapshot: snapshot, SealedDEK: pkg.SealedDEK, SealedMobileKey: pkg.SealedMobileKey}, nil
}

// CompleteClaim finishes a Locked claim, either by server-signing and
// broadcasting a sweep PSBT or by recording the empty-balance marker. A
// WithPsbt retry re-signs and re-broadcasts (RBF) without touching
// CompletedAt.
func (s *InheritanceService) CompleteClaim(ctx context.Context, req in.CompleteClaimRequest) (*entities.InheritanceClaim, error) {
	claim, err := s.loadClaim(ctx, req.ClaimID)
	if err != nil {
		return nil, err
	}

	if req.EmptyBalance {
		return s.completeEmpty(ctx, claim)
	}
	if req.SweepPSBT == "" {
		return nil, common.NewErrInvalidInput("either a sweep psbt or the empty-balance marker is required")
	}
	if claim.KeysetSnapshot == nil {
		return nil, common.NewErrStateTransition("claim %s has no keyset snapshot; lock it first", claim.ID)
	}

	sweep, err := s.sweeper.SignSweep(ctx, signingin.SweepRequest{
		SourceAccountID:      claim.BenefactorAccountID,
		SourceKeysetID:       claim.KeysetSnapshot.KeysetID,
		DestinationAccountID: claim.BeneficiaryAccountID,
		PSBTBase64:           req.SweepPSBT,
	})
	if err != nil {
		return nil, err
	}
	if err := s.broadcaster.Broadcast(ctx, sweep.TxID, sweep.FinalizedPSBTBase64); err != nil {
		return nil, common.NewErrProviderUnavailable("broadcaster", err)
	}

	expectedVersion := claim.Version
	if err := claim.CompleteWithPsbt(sweep.TxID, s.now()); err != nil {
		return nil, err
	}
	if err := s.claims.Update(ctx, claim, expectedVersion); err != nil {
		return nil, fmt.Errorf("inheritance: persisting completion: %w", err)
	}

	s.revokeAndNotifyTerminal(ctx, claim, notifyentities.KindInheritanceCompleted)
	slog.InfoContext(ctx, "inheritance claim completed with sweep", "claim_id", claim.ID, "txid", sweep.TxID)
	return claim, nil
}

func (s *InheritanceService) completeEmpty(ctx context.Context, claim *entities.InheritanceClaim) (*entities.InheritanceClaim, error) {
	if claim.KeysetSnapshot != nil {
		hasBalance, err := s.inspector.HasSpendableBalance(ctx, *claim.KeysetSnapshot)
		if err != nil {
			return nil, common.NewErrProviderUnavailable("chain indexer", err)
		}
		if hasBalance {
			return nil, common.NewErrStateTransition("benefactor wallet still holds spendable balance")
		}
	}

	expectedVersion := claim.Version
	if err := claim.CompleteEmptyBalance(s.now()); err != nil {
		return nil, err
	}
	if err := s.claims.Update(ctx, claim, expectedVersion); err != nil {
		return nil, fmt.Errorf("inheritance: persisting empty-balance completion: %w", err)
	}

	s.revokeAndNotifyTerminal(ctx, claim, notifyentities.KindInheritanceCompleted)
	slog.InfoContext(ctx, "inheritance claim completed with empty balance", "claim_id", claim.ID)
	return claim, nil
}

// scheduleReminders spreads reminder events of equal cadence across the
// delay window, one stream per party.
func (s *InheritanceService) scheduleReminders(ctx context.Context, claim *entities.InheritanceClaim) {
	window := claim.DelayEndAt.Sub(claim.InitiatedAt)
	for i := 1; i <= reminderCount; i++ {
		at := claim.InitiatedAt.Add(window * time.Duration(i) / time.Duration(reminderCount+1))
		s.notifyBothParties(ctx, claim, notifyentities.KindInheritanceReminder, at)
	}
}

func (s *InheritanceService) notifyBothParties(ctx context.Context, claim *entities.InheritanceClaim, kind notifyentities.Kind, at time.Time) {
	for _, accountID := range []string{claim.BenefactorAccountID, claim.BeneficiaryAccountID} {
		if err := s.scheduler.Schedule(ctx, kind, accountID, claim.NotifyKey, at); err != nil {
			slog.ErrorContext(ctx, "scheduling inheritance notification", "claim_id", claim.ID, "kind", kind, "error", err)
		}
	}
}

func (s *InheritanceService) revokeAndNotifyTerminal(ctx context.Context, claim *entities.InheritanceClaim, kind notifyentities.Kind) {
	if err := s.scheduler.Revoke(ctx, claim.NotifyKey); err != nil {
		slog.ErrorContext(ctx, "revoking inheritance reminders", "claim_id", claim.ID, "error", err)
	}
	s.notifyBothParties(ctx, claim, kind, s.now())
}

func (s *InheritanceService) loadAccount(ctx context.Context, accountID string) (*accountentities.Account, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, common.NewErrInvalidInput("malformed account id: %v", err)
	}
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inheritance: loading account: %w", err)
	}
	if account == nil {
		return nil, common.NewErrNotFound("account", accountID)
	}
	return account, nil
}

func (s *InheritanceService) loadRelationship(ctx context.Context, id string) (*entities.Relationship, error) {
	rel, err := s.relationships.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inheritance: loading relationship: %w", err)
	}
	if rel == nil {
		return nil, common.NewErrNotFound("relationship", id)
	}
	return rel, nil
}

func (s *InheritanceService) loadClaim(ctx context.Context, id string) (*entities.InheritanceClaim, error) {
	claim, err := s.claims.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inheritance: loading claim: %w", err)
	}
	if claim == nil {
		return nil, common.NewErrNotFound("claim", id)
	}
	return claim, nil
}
