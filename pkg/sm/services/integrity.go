package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
)

// IntegrityRepository persists the SM installation's integrity key records.
type IntegrityRepository interface {
	Insert(ctx context.Context, rec *smentities.IntegrityKeyRecord) error
	Current(ctx context.Context) (*smentities.IntegrityKeyRecord, error)
	MarkRetired(ctx context.Context, keyID string) error
}

// integrityAAD derives the AAD binding an integrity key's ciphertext to its
// record id.
func integrityAAD(keyID string) []byte {
	return []byte("integrity:" + keyID)
}

// IntegrityKeyManager owns the per-installation Ed25519 key that signs
// PrivateMultiSig public material and WSM grant payloads. The seed is
// sealed under a leased DEK exactly like a server key share; the plaintext
// is held only for the duration of a signing call.
type IntegrityKeyManager struct {
	mu     sync.Mutex
	repo   IntegrityRepository
	leases *DEKLeaseManager
	sealer sealer
}

type sealer interface {
	Seal(key, plaintext, aad []byte) ([]byte, error)
	Open(key, ciphertext, aad []byte) ([]byte, error)
}

// NewIntegrityKeyManager constructs an IntegrityKeyManager.
func NewIntegrityKeyManager(repo IntegrityRepository, leases *DEKLeaseManager, s sealer) *IntegrityKeyManager {
	return &IntegrityKeyManager{repo: repo, leases: leases, sealer: s}
}

// Sign signs payload with the current integrity key, provisioning one on
// first use.
func (m *IntegrityKeyManager) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	priv, err := m.currentPrivate(ctx)
	if err != nil {
		return nil, err
	}
	defer zero(priv)
	return ed25519.Sign(ed25519.PrivateKey(priv), payload), nil
}

// PublicKey returns the current integrity public key, provisioning a key on
// first use.
func (m *IntegrityKeyManager) PublicKey(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.currentOrProvision(ctx)
	if err != nil {
		return nil, err
	}
	return rec.PublicKey, nil
}

// Rotate retires the current integrity key and provisions a fresh one.
// Keysets signed under the prior
// key keep their recorded signatures; only new issuance moves.
func (m *IntegrityKeyManager) Rotate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.repo.Current(ctx)
	if err != nil {
		return fmt.Errorf("integrity: loading current key: %w", err)
	}
	if rec != nil {
		if err := m.repo.MarkRetired(ctx, rec.KeyID); err != nil {
			return fmt.Errorf("integrity: retiring key %s: %w", rec.KeyID, err)
		}
	}
	fresh, err := m.provision(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "integrity key rotated", "key_id", fresh.KeyID)
	return nil
}

func (m *IntegrityKeyManager) currentPrivate(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.currentOrProvision(ctx)
	if err != nil {
		return nil, err
	}
	lease, err := m.leases.AcquireFor(ctx, rec.DEKID)
	if err != nil {
		return nil, fmt.Errorf("integrity: acquiring dek lease: %w", err)
	}
	defer zero(lease.Plaintext)
	seed, err := m.sealer.Open(lease.Plaintext, rec.Wrapped, integrityAAD(rec.KeyID))
	if err != nil {
		return nil, fmt.Errorf("integrity: opening sealed seed: %w", err)
	}
	defer zero(seed)
	priv := ed25519.NewKeyFromSeed(seed)
	out := make([]byte, len(priv))
	copy(out, priv)
	return out, nil
}

func (m *IntegrityKeyManager) currentOrProvision(ctx context.Context) (*smentities.IntegrityKeyRecord, error) {
	rec, err := m.repo.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: loading current key: %w", err)
	}
	if rec != nil {
		return rec, nil
	}
	return m.provision(ctx)
}

// provision mints and seals a fresh integrity key. Caller must hold m.mu.
func (m *IntegrityKeyManager) provision(ctx context.Context) (*smentities.IntegrityKeyRecord, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("integrity: generating seed: %w", err)
	}
	defer zero(seed)
	priv := ed25519.NewKeyFromSeed(seed)

	lease, err := m.leases.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: acquiring dek lease: %w", err)
	}
	defer zero(lease.Plaintext)

	keyID := uuid.New().String()
	wrapped, err := m.sealer.Seal(lease.Plaintext, seed, integrityAAD(keyID))
	if err != nil {
		return nil, fmt.Errorf("integrity: sealing seed: %w", err)
	}
	if err := m.leases.RecordSealing(ctx, lease); err != nil {
		return nil, fmt.Errorf("integrity: recording sealing: %w", err)
	}

	rec := &smentities.IntegrityKeyRecord{
		KeyID:     keyID,
		DEKID:     lease.DEKID,
		Wrapped:   wrapped,
		PublicKey: priv.Public().(ed25519.PublicKey),
		CreatedAt: leaseNow(),
	}
	if err := m.repo.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("integrity: persisting key record: %w", err)
	}
	return rec, nil
}
