// Package services implements the comms-verification gate: 6-digit
// one-time codes, argon2id-hashed at rest, rate-limited per scope, with the
// fixed test-account code.
package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	common "github.com/duskvault/signing-core/pkg/common"
	accountout "github.com/duskvault/signing-core/pkg/cp/account/ports/out"
	entities "github.com/duskvault/signing-core/pkg/cp/comms/entities"
	in "github.com/duskvault/signing-core/pkg/cp/comms/ports/in"
	out "github.com/duskvault/signing-core/pkg/cp/comms/ports/out"
	"github.com/duskvault/signing-core/pkg/infra/crypto"
)

// ErrCodeMismatch and ErrCodeExpired are the only two failures comms-code
// verification ever surfaces: neither reveals whether a pending code
// exists.
type ErrCodeMismatch struct{}

func (e *ErrCodeMismatch) Error() string { return "CodeMismatch" }

type ErrCodeExpired struct{}

func (e *ErrCodeExpired) Error() string { return "CodeExpired" }

// CommsService implements in.CommsVerifier.
type CommsService struct {
	codes     out.CodeRepository
	deliverer out.CodeDeliverer
	accounts  accountout.AccountRepository
	hasher    *crypto.CommsCodeHasher
	now       func() time.Time
}

// NewCommsService constructs a CommsService using time.Now.
func NewCommsService(codes out.CodeRepository, deliverer out.CodeDeliverer, accounts accountout.AccountRepository) *CommsService {
	return &CommsService{
		codes:     codes,
		deliverer: deliverer,
		accounts:  accounts,
		hasher:    crypto.NewCommsCodeHasher(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ in.CommsVerifier = (*CommsService)(nil)

// SendCode issues a fresh 6-digit code for scope, enforcing the per-scope
// resend interval, and hands the plaintext to the delivery port.
func (s *CommsService) SendCode(ctx context.Context, accountID, scope string) error {
	existing, err := s.codes.FindByScope(ctx, accountID, scope)
	if err != nil {
		return fmt.Errorf("comms: loading prior code: %w", err)
	}
	now := s.now()
	if existing != nil && !existing.ResendAllowed(now) {
		return common.NewErrConflict("comms: resend interval for scope %s not elapsed", scope)
	}

	plaintext, err := s.mintCode(ctx, accountID)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return common.NewErrInternal("hashing comms code", err)
	}

	code := &entities.Code{
		BaseRecord: common.NewBaseRecord(),
		AccountID:  accountID,
		Scope:      scope,
		CodeHash:   hash,
		SentAt:     now,
	}
	if err := s.codes.Upsert(ctx, code); err != nil {
		return fmt.Errorf("comms: persisting code: %w", err)
	}

	if err := s.deliverer.Deliver(ctx, accountID, scope, plaintext); err != nil {
		return common.NewErrProviderUnavailable("comms delivery", err)
	}
	slog.InfoContext(ctx, "comms code sent", "account_id", accountID, "scope", scope)
	return nil
}

// VerifyCode checks code against the latest issued code for scope using the
// constant-time argon2id comparison.
func (s *CommsService) VerifyCode(ctx context.Context, accountID, scope, code string) error {
	existing, err := s.codes.FindByScope(ctx, accountID, scope)
	if err != nil {
		return fmt.Errorf("comms: loading code: %w", err)
	}
	if existing == nil {
		// No pending code: indistinguishable from a wrong guess.
		return &ErrCodeMismatch{}
	}
	if existing.Expired(s.now()) {
		return &ErrCodeExpired{}
	}
	ok, err := s.hasher.Verify(existing.CodeHash, code)
	if err != nil {
		return common.NewErrInternal("verifying comms code", err)
	}
	if !ok {
		return &ErrCodeMismatch{}
	}
	return nil
}

// mintCode produces a zero-padded 6-digit code, or the fixed test-account
// code when the account is flagged as a test account.
func (s *CommsService) mintCode(ctx context.Context, accountID string) (string, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return "", common.NewErrInvalidInput("malformed account id: %v", err)
	}
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("comms: loading account: %w", err)
	}
	if account == nil {
		return "", common.NewErrNotFound("account", accountID)
	}
	if account.IsTestAccount {
		return entities.TestAccountCode, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", common.NewErrInternal("generating comms code", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
