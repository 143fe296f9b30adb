package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/duskvault/signing-core/pkg/common"
	entities "github.com/duskvault/signing-core/pkg/cp/account/entities"
	in "github.com/duskvault/signing-core/pkg/cp/account/ports/in"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
	smin "github.com/duskvault/signing-core/pkg/sm/ports/in"
)

type mockAccountRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*entities.Account
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{accounts: make(map[uuid.UUID]*entities.Account)}
}

func (m *mockAccountRepo) Insert(_ context.Context, a *entities.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccountRepo) FindByID(_ context.Context, id uuid.UUID) (*entities.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id], nil
}

func (m *mockAccountRepo) Update(_ context.Context, a *entities.Account, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccountRepo) FindByAuthPubKey(_ context.Context, pubKey []byte) (*entities.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		for _, keys := range a.AuthKeys {
			if keys.Revoked {
				continue
			}
			if string(keys.AppPub) == string(pubKey) || string(keys.HardwarePub) == string(pubKey) {
				return a, nil
			}
		}
	}
	return nil, nil
}

type mockWatchlist struct {
	mu      sync.Mutex
	entries []*entities.WatchedAddress
}

func (m *mockWatchlist) Upsert(_ context.Context, w *entities.WatchedAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, w)
	return nil
}

func (m *mockWatchlist) ListByAccount(_ context.Context, accountID string) ([]*entities.WatchedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entities.WatchedAddress
	for _, w := range m.entries {
		if w.AccountID == accountID {
			out = append(out, w)
		}
	}
	return out, nil
}

type fakeKeyStore struct{}

func (fakeKeyStore) CreateKeyset(_ context.Context, req smin.CreateKeysetRequest) (smin.CreateKeysetResult, error) {
	material := smentities.PublicMaterial{Kind: req.Kind, Fingerprint: [4]byte{1, 2, 3, 4}}
	switch req.Kind {
	case smentities.LegacyMultiSig:
		material.XPub = "tpubTestServerShare"
	default:
		material.PubKey = []byte{0x02, 0x99}
		material.IntegritySig = []byte("integrity-sig")
	}
	return smin.CreateKeysetResult{KeysetID: uuid.New().String(), PublicMaterial: material}, nil
}

func (fakeKeyStore) SignPSBT(_ context.Context, _ smin.SignPSBTRequest) (smin.SignPSBTResult, error) {
	return smin.SignPSBTResult{}, nil
}

func (fakeKeyStore) RotateIntegrityMaterial(_ context.Context) error { return nil }

func TestCreateAccountMintsKeysetAndPersists(t *testing.T) {
	repo := newMockAccountRepo()
	svc := NewAccountService(repo, &mockWatchlist{}, fakeKeyStore{})

	result, err := svc.CreateAccount(context.Background(), in.CreateAccountRequest{
		Network:      common.Signet,
		AppPub:       []byte{0x02, 0x01},
		HardwarePub:  []byte{0x02, 0x02},
		KeysetKind:   entities.PrivateMultiSig,
		DailyCapSats: 100_000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.AccountID)
	assert.Equal(t, []byte{0x02, 0x99}, result.ServerPubMaterial)
	assert.Equal(t, []byte("integrity-sig"), result.IntegritySig)

	stored, err := repo.FindByID(context.Background(), uuid.MustParse(result.AccountID))
	require.NoError(t, err)
	require.NotNil(t, stored)
	keyset, err := stored.ActiveKeyset()
	require.NoError(t, err)
	assert.Equal(t, [4]byte{1, 2, 3, 4}, keyset.ServerFingerprint)
}

func TestCreateAccountRejectsReboundAuthKey(t *testing.T) {
	repo := newMockAccountRepo()
	svc := NewAccountService(repo, &mockWatchlist{}, fakeKeyStore{})

	req := in.CreateAccountRequest{
		Network:     common.Signet,
		AppPub:      []byte{0x02, 0x01},
		HardwarePub: []byte{0x02, 0x02},
		KeysetKind:  entities.PrivateMultiSig,
	}
	_, err := svc.CreateAccount(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.CreateAccount(context.Background(), req)
	require.Error(t, err)
	assert.True(t, common.IsConflict(err))
}

func TestRegisterWatchAddressesValidatesNetwork(t *testing.T) {
	repo := newMockAccountRepo()
	watchlist := &mockWatchlist{}
	svc := NewAccountService(repo, watchlist, fakeKeyStore{})

	created, err := svc.CreateAccount(context.Background(), in.CreateAccountRequest{
		Network:     common.Testnet,
		AppPub:      []byte{0x02, 0x01},
		HardwarePub: []byte{0x02, 0x02},
		KeysetKind:  entities.PrivateMultiSig,
	})
	require.NoError(t, err)

	account, err := repo.FindByID(context.Background(), uuid.MustParse(created.AccountID))
	require.NoError(t, err)
	keysetID := account.ActiveKeysetID.String()

	// A valid testnet bech32 address registers.
	err = svc.RegisterWatchAddresses(context.Background(), in.RegisterWatchAddressesRequest{
		AccountID: created.AccountID,
		Entries: []in.WatchAddressEntry{{
			Address:  "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx",
			KeysetID: keysetID,
		}},
	})
	require.NoError(t, err)
	assert.Len(t, watchlist.entries, 1)

	// A mainnet address against a testnet keyset is rejected.
	err = svc.RegisterWatchAddresses(context.Background(), in.RegisterWatchAddressesRequest{
		AccountID: created.AccountID,
		Entries: []in.WatchAddressEntry{{
			Address:  "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
			KeysetID: keysetID,
		}},
	})
	require.Error(t, err)
}
