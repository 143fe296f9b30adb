package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/duskvault/signing-core/pkg/common"
	account_entities "github.com/duskvault/signing-core/pkg/cp/account/entities"
	entities "github.com/duskvault/signing-core/pkg/cp/comms/entities"
)

type mockCodeRepository struct {
	mu    sync.Mutex
	codes map[string]*entities.Code
}

func newMockCodeRepository() *mockCodeRepository {
	return &mockCodeRepository{codes: make(map[string]*entities.Code)}
}

func (m *mockCodeRepository) Upsert(_ context.Context, c *entities.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[c.AccountID+"|"+c.Scope] = c
	return nil
}

func (m *mockCodeRepository) FindByScope(_ context.Context, accountID, scope string) (*entities.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[accountID+"|"+scope], nil
}

type captureDeliverer struct {
	lastCode string
}

func (d *captureDeliverer) Deliver(_ context.Context, _, _, plaintextCode string) error {
	d.lastCode = plaintextCode
	return nil
}

type mockAccountRepo struct {
	accounts map[uuid.UUID]*account_entities.Account
}

func (m *mockAccountRepo) Insert(_ context.Context, a *account_entities.Account) error {
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccountRepo) FindByID(_ context.Context, id uuid.UUID) (*account_entities.Account, error) {
	return m.accounts[id], nil
}

func (m *mockAccountRepo) Update(_ context.Context, a *account_entities.Account, _ int) error {
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccountRepo) FindByAuthPubKey(_ context.Context, _ []byte) (*account_entities.Account, error) {
	return nil, nil
}

func testAccount(t *testing.T, isTest bool) *account_entities.Account {
	t.Helper()
	account, err := account_entities.NewAccount(common.Signet,
		account_entities.AuthKeySet{AppPub: []byte{1}, HardwarePub: []byte{2}},
		account_entities.SpendingKeyset{
			Network: common.Signet,
			Kind:    account_entities.PrivateMultiSig,
			AppPub:  []byte{1}, HardwarePub: []byte{2}, ServerPub: []byte{3},
		},
		isTest, 100_000)
	require.NoError(t, err)
	return account
}

func newTestCommsService(t *testing.T, isTest bool) (*CommsService, *captureDeliverer, string) {
	t.Helper()
	account := testAccount(t, isTest)
	accounts := &mockAccountRepo{accounts: map[uuid.UUID]*account_entities.Account{account.ID: account}}
	deliverer := &captureDeliverer{}
	svc := NewCommsService(newMockCodeRepository(), deliverer, accounts)
	return svc, deliverer, account.ID.String()
}

func TestSendAndVerifyCode(t *testing.T) {
	svc, deliverer, accountID := newTestCommsService(t, false)
	ctx := context.Background()

	require.NoError(t, svc.SendCode(ctx, accountID, "recovery:r1"))
	require.Len(t, deliverer.lastCode, 6)

	require.NoError(t, svc.VerifyCode(ctx, accountID, "recovery:r1", deliverer.lastCode))
}

func TestTestAccountAlwaysGetsFixedCode(t *testing.T) {
	svc, deliverer, accountID := newTestCommsService(t, true)
	ctx := context.Background()

	require.NoError(t, svc.SendCode(ctx, accountID, "recovery:r1"))
	assert.Equal(t, entities.TestAccountCode, deliverer.lastCode)
}

func TestVerifyWrongCodeIsMismatch(t *testing.T) {
	svc, _, accountID := newTestCommsService(t, false)
	ctx := context.Background()

	require.NoError(t, svc.SendCode(ctx, accountID, "recovery:r1"))

	err := svc.VerifyCode(ctx, accountID, "recovery:r1", "000000")
	var mismatch *ErrCodeMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestVerifyWithoutPendingCodeIsMismatch(t *testing.T) {
	// Never reveals whether a code exists: absent and wrong look identical.
	svc, _, accountID := newTestCommsService(t, false)

	err := svc.VerifyCode(context.Background(), accountID, "recovery:r1", "123456")
	var mismatch *ErrCodeMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestVerifyExpiredCode(t *testing.T) {
	svc, deliverer, accountID := newTestCommsService(t, false)
	ctx := context.Background()

	require.NoError(t, svc.SendCode(ctx, accountID, "recovery:r1"))

	svc.now = func() time.Time { return time.Now().UTC().Add(entities.CodeTTL + time.Second) }
	err := svc.VerifyCode(ctx, accountID, "recovery:r1", deliverer.lastCode)
	var expired *ErrCodeExpired
	require.ErrorAs(t, err, &expired)
}

func TestResendRateLimited(t *testing.T) {
	svc, _, accountID := newTestCommsService(t, false)
	ctx := context.Background()

	require.NoError(t, svc.SendCode(ctx, accountID, "recovery:r1"))

	err := svc.SendCode(ctx, accountID, "recovery:r1")
	require.Error(t, err)
	assert.True(t, common.IsConflict(err))

	// A different scope is unaffected.
	require.NoError(t, svc.SendCode(ctx, accountID, "recovery:r2"))

	// After the resend interval the same scope may send again.
	svc.now = func() time.Time { return time.Now().UTC().Add(entities.ResendInterval + time.Second) }
	require.NoError(t, svc.SendCode(ctx, accountID, "recovery:r1"))
}
