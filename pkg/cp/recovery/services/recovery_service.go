// Package services implements the delay-and-notify recovery state machine.
// Side effects are ordered so a late failure leaves only safe,
// retryable partial state, and completion is idempotent on retry.
package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	common "github.com/duskvault/signing-core/pkg/common"
	accountentities "github.com/duskvault/signing-core/pkg/cp/account/entities"
	accountout "github.com/duskvault/signing-core/pkg/cp/account/ports/out"
	commsin "github.com/duskvault/signing-core/pkg/cp/comms/ports/in"
	notifyentities "github.com/duskvault/signing-core/pkg/cp/notify/entities"
	notifyin "github.com/duskvault/signing-core/pkg/cp/notify/ports/in"
	entities "github.com/duskvault/signing-core/pkg/cp/recovery/entities"
	in "github.com/duskvault/signing-core/pkg/cp/recovery/ports/in"
	out "github.com/duskvault/signing-core/pkg/cp/recovery/ports/out"
)

// SignatureVerifier checks a factor signature over a payload. Backed by the
// secp256k1 ECDSA adapter in pkg/infra/crypto.
type SignatureVerifier interface {
	Verify(pubKey, payload, signature []byte) bool
}

// Config carries the tunables the state machine does not hard-code.
type Config struct {
	// ExpiryTTL is how long past delay_end_at a Pending attempt may sit
	// uncompleted before the sweeper cancels it as Expired. The source's
	// two code paths disagreed on whether this sweep exists at all; this
	// implementation always sweeps (see DESIGN.md).
	ExpiryTTL time.Duration
	// ReminderCount is how many reminder notifications are spread evenly
	// across the delay window.
	ReminderCount int
}

// DefaultConfig mirrors the notification cadence production uses: a
// reminder roughly every other day of the 7-day window, and a 30-day grace
// period before an abandoned attempt expires.
func DefaultConfig() Config {
	return Config{ExpiryTTL: 30 * 24 * time.Hour, ReminderCount: 3}
}

// RecoveryService implements in.RecoveryService.
type RecoveryService struct {
	recoveries out.RecoveryRepository
	accounts   accountout.AccountRepository
	identity   out.IdentityProvider
	scheduler  notifyin.Scheduler
	comms      commsin.CommsVerifier
	verifier   SignatureVerifier
	cfg        Config
	now        func() time.Time
}

// NewRecoveryService constructs a RecoveryService with DefaultConfig.
func NewRecoveryService(recoveries out.RecoveryRepository, accounts accountout.AccountRepository, identity out.IdentityProvider, scheduler notifyin.Scheduler, comms commsin.CommsVerifier, verifier SignatureVerifier) *RecoveryService {
	return &RecoveryService{
		recoveries: recoveries,
		accounts:   accounts,
		identity:   identity,
		scheduler:  scheduler,
		comms:      comms,
		verifier:   verifier,
		cfg:        DefaultConfig(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var _ in.RecoveryService = (*RecoveryService)(nil)

// Initiate starts a Pending attempt after proving possession of the
// surviving factor.
func (s *RecoveryService) Initiate(ctx context.Context, req in.InitiateRequest) (in.InitiateResult, error) {
	if req.LostFactor != accountentities.FactorApp && req.LostFactor != accountentities.FactorHardware {
		return in.InitiateResult{}, common.NewErrInvalidInput("unrecognized lost factor %q", req.LostFactor)
	}
	account, err := s.loadAccount(ctx, req.AccountID)
	if err != nil {
		return in.InitiateResult{}, err
	}
	authKeys, err := account.ActiveAuthKey()
	if err != nil {
		return in.InitiateResult{}, err
	}

	survivorPub, lostPub := authKeys.HardwarePub, authKeys.AppPub
	if req.LostFactor == accountentities.FactorHardware {
		survivorPub, lostPub = authKeys.AppPub, authKeys.HardwarePub
	}
	payload := []byte(req.AccountID)
	if s.verifier.Verify(lostPub, payload, req.SurvivorSignature) {
		return in.InitiateResult{}, common.NewErrInvalidInput("initiating signature was produced by the factor declared lost")
	}
	if !s.verifier.Verify(survivorPub, payload, req.SurvivorSignature) {
		return in.InitiateResult{}, common.NewErrUnauthorized("surviving factor signature does not verify")
	}

	if pending, err := s.recoveries.FindPendingByAccount(ctx, req.AccountID); err != nil {
		return in.InitiateResult{}, fmt.Errorf("recovery: checking pending attempts: %w", err)
	} else if pending != nil {
		return in.InitiateResult{}, common.NewErrConflict("a pending recovery already exists for account %s", req.AccountID)
	}

	for _, destKey := range [][]byte{req.Destination.AppPub, req.Destination.HardwarePub, req.Destination.RecoveryPub} {
		if len(destKey) == 0 {
			continue
		}
		if bound, _ := s.accounts.FindByAuthPubKey(ctx, destKey); bound != nil && bound.ID != account.ID {
			return in.InitiateResult{}, common.NewErrConflict("destination key already bound to another active account")
		}
		if pending, _ := s.recoveries.FindPendingByDestinationKey(ctx, destKey); pending != nil {
			return in.InitiateResult{}, common.NewErrConflict("destination key already bound to another pending recovery")
		}
	}

	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return in.InitiateResult{}, common.NewErrInternal("generating hardware challenge", err)
	}

	attempt := entities.NewRecoveryAttempt(req.AccountID, req.LostFactor, authKeys.ID.String(), req.Destination, challenge, account.IsTestAccount)
	if err := s.recoveries.Insert(ctx, attempt); err != nil {
		return in.InitiateResult{}, fmt.Errorf("recovery: persisting attempt: %w", err)
	}

	s.scheduleReminders(ctx, attempt)

	slog.InfoContext(ctx, "recovery initiated",
		"account_id", req.AccountID,
		"recovery_id", attempt.ID,
		"lost_factor", req.LostFactor,
		"delay_end_at", attempt.DelayEndAt,
	)
	return in.InitiateResult{RecoveryID: attempt.ID.String(), DelayEndAt: attempt.DelayEndAt}, nil
}

// Cancel terminates the account's Pending attempt when the purportedly-lost
// factor signs the account id, proving it was not lost.
func (s *RecoveryService) Cancel(ctx context.Context, req in.CancelRequest) error {
	account, err := s.loadAccount(ctx, req.AccountID)
	if err != nil {
		return err
	}
	attempt, err := s.recoveries.FindPendingByAccount(ctx, req.AccountID)
	if err != nil {
		return fmt.Errorf("recovery: loading pending attempt: %w", err)
	}
	if attempt == nil {
		return common.NewErrNotFound("pending recovery for account", req.AccountID)
	}

	sourceKeyID, err := uuid.Parse(attempt.SourceAuthKeyID)
	if err != nil {
		return common.NewErrInternal(fmt.Sprintf("malformed source auth key id on recovery %s", attempt.ID), err)
	}
	sourceKeys, ok := account.AuthKeys[sourceKeyID]
	if !ok {
		return common.NewErrInternal(fmt.Sprintf("source auth key %s missing from account %s", attempt.SourceAuthKeyID, req.AccountID), nil)
	}
	lostPub := sourceKeys.AppPub
	if attempt.LostFactor == accountentities.FactorHardware {
		lostPub = sourceKeys.HardwarePub
	}
	if !s.verifier.Verify(lostPub, []byte(req.AccountID), req.SourceFactorSignature) {
		return common.NewErrUnauthorized("source factor signature does not verify")
	}

	expectedVersion := attempt.Version
	if err := attempt.Cancel(entities.CanceledBySourceFactor, s.now()); err != nil {
		return err
	}
	if err := s.recoveries.Update(ctx, attempt, expectedVersion); err != nil {
		return fmt.Errorf("recovery: persisting cancellation: %w", err)
	}

	s.revokeAndNotifyTerminal(ctx, attempt, notifyentities.KindRecoveryCanceled)
	slog.InfoContext(ctx, "recovery canceled by source factor", "account_id", req.AccountID, "recovery_id", attempt.ID)
	return nil
}

// Complete rotates the account's auth keys after the delay window, gated on
// destination-key signatures and (for production accounts) a comms code.
func (s *RecoveryService) Complete(ctx context.Context, req in.CompleteRequest) (in.CompleteResult, error) {
	account, err := s.loadAccount(ctx, req.AccountID)
	if err != nil {
		return in.CompleteResult{}, err
	}
	attempt, err := s.recoveries.FindPendingByAccount(ctx, req.AccountID)
	if err != nil {
		return in.CompleteResult{}, fmt.Errorf("recovery: loading pending attempt: %w", err)
	}
	if attempt == nil {
		return in.CompleteResult{}, common.NewErrNotFound("pending recovery for account", req.AccountID)
	}
	if !attempt.DelayElapsed(s.now()) {
		return in.CompleteResult{}, common.NewErrDelayNotElapsed(attempt.DelayEndAt.Sub(s.now()).String())
	}

	// The survivor signs with the auth key generation the attempt was
	// initiated under, so a retry after the rotation below still verifies.
	sourceKeyID, err := uuid.Parse(attempt.SourceAuthKeyID)
	if err != nil {
		return in.CompleteResult{}, common.NewErrInternal(fmt.Sprintf("malformed source auth key id on recovery %s", attempt.ID), err)
	}
	authKeys, ok := account.AuthKeys[sourceKeyID]
	if !ok {
		return in.CompleteResult{}, common.NewErrInternal(fmt.Sprintf("source auth key %s missing from account %s", attempt.SourceAuthKeyID, req.AccountID), nil)
	}
	survivorPub := authKeys.HardwarePub
	if attempt.LostFactor == accountentities.FactorHardware {
		survivorPub = authKeys.AppPub
	}
	payload := []byte(req.AccountID)
	if !s.verifier.Verify(survivorPub, payload, req.SurvivorSignature) {
		return in.CompleteResult{}, common.NewErrUnauthorized("surviving factor signature does not verify")
	}
	if !s.verifier.Verify(attempt.Destination.AppPub, payload, req.DestinationAppSignature) {
		return in.CompleteResult{}, common.NewErrUnauthorized("destination app signature does not verify")
	}
	if !s.verifier.Verify(attempt.Destination.HardwarePub, payload, req.DestinationHwSignature) {
		return in.CompleteResult{}, common.NewErrUnauthorized("destination hardware signature does not verify")
	}
	if len(attempt.Destination.RecoveryPub) > 0 {
		if !s.verifier.Verify(attempt.Destination.RecoveryPub, payload, req.DestinationRecoverySig) {
			return in.CompleteResult{}, common.NewErrUnauthorized("destination recovery signature does not verify")
		}
	}

	if !account.IsTestAccount {
		if err := s.comms.VerifyCode(ctx, req.AccountID, attempt.CommsScope, req.CommsCode); err != nil {
			return in.CompleteResult{}, err
		}
	}

	newAuthKeyID, err := s.rotateAccountKeys(ctx, account, attempt)
	if err != nil {
		return in.CompleteResult{}, err
	}

	if len(attempt.Destination.RecoveryPub) > 0 {
		err = s.identity.EnsureRecoveryUser(ctx, req.AccountID, attempt.Destination.RecoveryPub)
	} else {
		err = s.identity.EnsureRecoveryUserAbsent(ctx, req.AccountID)
	}
	if err != nil {
		return in.CompleteResult{}, common.NewErrProviderUnavailable("identity provider", err)
	}

	expectedVersion := attempt.Version
	if err := attempt.Complete(s.now()); err != nil {
		return in.CompleteResult{}, err
	}
	if err := s.recoveries.Update(ctx, attempt, expectedVersion); err != nil {
		return in.CompleteResult{}, fmt.Errorf("recovery: persisting completion: %w", err)
	}

	s.revokeAndNotifyTerminal(ctx, attempt, notifyentities.KindRecoveryCompleted)

	slog.InfoContext(ctx, "recovery completed",
		"account_id", req.AccountID,
		"recovery_id", attempt.ID,
		"new_auth_key_id", newAuthKeyID,
	)
	return in.CompleteResult{NewAuthKeyID: newAuthKeyID}, nil
}

// ExpireStale cancels Pending attempts whose delay window closed more than
// ExpiryTTL ago.
func (s *RecoveryService) ExpireStale(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.ExpiryTTL)
	stale, err := s.recoveries.FindPendingOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("recovery: listing stale attempts: %w", err)
	}
	for _, attempt := range stale {
		expectedVersion := attempt.Version
		if err := attempt.Cancel(entities.CanceledByExpired, s.now()); err != nil {
			continue // raced with a concurrent cancel/complete
		}
		if err := s.recoveries.Update(ctx, attempt, expectedVersion); err != nil {
			if common.IsConflict(err) {
				continue
			}
			return fmt.Errorf("recovery: expiring attempt %s: %w", attempt.ID, err)
		}
		s.revokeAndNotifyTerminal(ctx, attempt, notifyentities.KindRecoveryCanceled)
		slog.InfoContext(ctx, "recovery expired", "recovery_id", attempt.ID, "account_id", attempt.AccountID)
	}
	return nil
}

// rotateAccountKeys installs the destination keys as the new active auth
// key generation, clears push touchpoints, and persists the account with a
// bounded optimistic-concurrency retry. Idempotent: if a prior attempt
// already installed these exact keys, the existing id is returned.
func (s *RecoveryService) rotateAccountKeys(ctx context.Context, account *accountentities.Account, attempt *entities.RecoveryAttempt) (string, error) {
	const maxRetries = 3
	for retry := 0; ; retry++ {
		if active, err := account.ActiveAuthKey(); err == nil &&
			bytes.Equal(active.AppPub, attempt.Destination.AppPub) &&
			bytes.Equal(active.HardwarePub, attempt.Destination.HardwarePub) {
			return active.ID.String(), nil
		}

		expectedVersion := account.Version
		account.RotateAuthKeys(accountentities.AuthKeySet{
			AppPub:      attempt.Destination.AppPub,
			HardwarePub: attempt.Destination.HardwarePub,
			RecoveryPub: attempt.Destination.RecoveryPub,
		})
		account.ClearPushTouchpoints()

		err := s.accounts.Update(ctx, account, expectedVersion)
		if err == nil {
			return account.ActiveAuthKeyID.String(), nil
		}
		if !common.IsConflict(err) || retry >= maxRetries {
			return "", fmt.Errorf("recovery: rotating account keys: %w", err)
		}
		reloaded, loadErr := s.accounts.FindByID(ctx, account.ID)
		if loadErr != nil || reloaded == nil {
			return "", fmt.Errorf("recovery: reloading account after conflict: %w", loadErr)
		}
		*account = *reloaded
	}
}

// scheduleReminders spreads ReminderCount reminder events evenly across the
// delay window. A failure to schedule is logged, not fatal: the attempt
// record is already durable and the dispatcher re-reads state before any
// send.
func (s *RecoveryService) scheduleReminders(ctx context.Context, attempt *entities.RecoveryAttempt) {
	window := attempt.DelayEndAt.Sub(attempt.InitiatedAt)
	for i := 1; i <= s.cfg.ReminderCount; i++ {
		at := attempt.InitiatedAt.Add(window * time.Duration(i) / time.Duration(s.cfg.ReminderCount+1))
		if err := s.scheduler.Schedule(ctx, notifyentities.KindRecoveryReminder, attempt.AccountID, attempt.CommsScope, at); err != nil {
			slog.ErrorContext(ctx, "scheduling recovery reminder", "recovery_id", attempt.ID, "error", err)
		}
	}
}

// revokeAndNotifyTerminal supersedes pending reminders and emits the
// terminal event for a canceled or completed attempt.
func (s *RecoveryService) revokeAndNotifyTerminal(ctx context.Context, attempt *entities.RecoveryAttempt, kind notifyentities.Kind) {
	if err := s.scheduler.Revoke(ctx, attempt.CommsScope); err != nil {
		slog.ErrorContext(ctx, "revoking recovery reminders", "recovery_id", attempt.ID, "error", err)
	}
	if err := s.scheduler.Schedule(ctx, kind, attempt.AccountID, attempt.CommsScope, s.now()); err != nil {
		slog.ErrorContext(ctx, "scheduling terminal recovery notification", "recovery_id", attempt.ID, "error", err)
	}
}

func (s *RecoveryService) loadAccount(ctx context.Context, accountID string) (*accountentities.Account, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, common.NewErrInvalidInput("malformed account id: %v", err)
	}
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("recovery: loading account: %w", err)
	}
	if account == nil {
		return nil, common.NewErrNotFound("account", accountID)
	}
	return account, nil
}
