package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskvault/signing-core/pkg/infra/kms"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
)

type mockDEKRepository struct {
	mu   sync.Mutex
	deks map[string]*smentities.DEK
}

func newMockDEKRepository() *mockDEKRepository {
	return &mockDEKRepository{deks: make(map[string]*smentities.DEK)}
}

func (m *mockDEKRepository) CurrentAvailable(_ context.Context) (*smentities.DEK, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *smentities.DEK
	for _, d := range m.deks {
		if !d.IsAvailable {
			continue
		}
		if newest == nil || d.CreatedAt.After(newest.CreatedAt) {
			newest = d
		}
	}
	return newest, nil
}

func (m *mockDEKRepository) FindByID(_ context.Context, dekID string) (*smentities.DEK, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deks[dekID], nil
}

func (m *mockDEKRepository) Insert(_ context.Context, dek *smentities.DEK) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deks[dek.DEKID] = dek
	return nil
}

func (m *mockDEKRepository) MarkRetired(_ context.Context, dekID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deks[dekID]; ok {
		d.IsAvailable = false
		now := time.Now().UTC()
		d.RetiredAt = &now
	}
	return nil
}

func newLeaseManager(t *testing.T) (*DEKLeaseManager, *mockDEKRepository) {
	t.Helper()
	localKMS, err := kms.NewLocalKMS()
	require.NoError(t, err)
	repo := newMockDEKRepository()
	return NewDEKLeaseManager(repo, localKMS), repo
}

func TestAcquireMintsFirstDEK(t *testing.T) {
	mgr, repo := newLeaseManager(t)

	lease, err := mgr.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, lease.DEKID)
	assert.Len(t, repo.deks, 1)
}

func TestLeaseCeilingRotatesDEK(t *testing.T) {
	mgr, repo := newLeaseManager(t)
	ctx := context.Background()

	first, err := mgr.Acquire(ctx)
	require.NoError(t, err)
	for i := 0; i < smentities.DEKLeaseCeiling; i++ {
		lease, err := mgr.Acquire(ctx)
		require.NoError(t, err)
		require.Equal(t, first.DEKID, lease.DEKID, "sealing %d should stay on the first dek", i)
		require.NoError(t, mgr.RecordSealing(ctx, lease))
	}

	// The lease window is exhausted: the next acquisition rotates.
	next, err := mgr.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.DEKID, next.DEKID)
	assert.Len(t, repo.deks, 2)
}

func TestUsageCeilingRetiresDEK(t *testing.T) {
	// A DEK at usage_count = ceiling − 50: the next full lease exhausts it
	// and a fresh DEK is minted.
	mgr, repo := newLeaseManager(t)
	ctx := context.Background()

	first, err := mgr.Acquire(ctx)
	require.NoError(t, err)
	repo.mu.Lock()
	repo.deks[first.DEKID].UsageCount = smentities.DEKUsageCeiling - smentities.DEKLeaseCeiling
	mgr.active.UsageCount = smentities.DEKUsageCeiling - smentities.DEKLeaseCeiling
	repo.mu.Unlock()

	for i := 0; i < smentities.DEKLeaseCeiling; i++ {
		lease, err := mgr.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, mgr.RecordSealing(ctx, lease))
	}

	repo.mu.Lock()
	retired := repo.deks[first.DEKID]
	repo.mu.Unlock()
	assert.False(t, retired.IsAvailable)
	assert.Equal(t, int64(smentities.DEKUsageCeiling), retired.UsageCount)

	next, err := mgr.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.DEKID, next.DEKID)
}

func TestAcquireForRetiredDEKStillDecrypts(t *testing.T) {
	// Decryption under an exhausted DEK remains available indefinitely.
	mgr, repo := newLeaseManager(t)
	ctx := context.Background()

	first, err := mgr.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRetired(ctx, first.DEKID))
	mgr.mu.Lock()
	mgr.active.IsAvailable = false
	mgr.mu.Unlock()

	lease, err := mgr.AcquireFor(ctx, first.DEKID)
	require.NoError(t, err)
	assert.Equal(t, first.DEKID, lease.DEKID)
	assert.Equal(t, first.Plaintext, lease.Plaintext)
}
