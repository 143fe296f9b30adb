// Package services implements the signing module's inbound ports: keyset
// creation, PSBT signing, DEK leasing, and grant countersigning.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	smcrypto "github.com/duskvault/signing-core/pkg/infra/crypto"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
	smout "github.com/duskvault/signing-core/pkg/sm/ports/out"
)

// DEKRepository persists DEK records. It is intentionally narrow: the DEK
// lease manager only ever needs to find the current available DEK, retire
// an exhausted one, and insert its replacement.
type DEKRepository interface {
	CurrentAvailable(ctx context.Context) (*smentities.DEK, error)
	// FindByID loads any DEK, retired or not: decryption under an exhausted
	// DEK remains available indefinitely.
	FindByID(ctx context.Context, dekID string) (*smentities.DEK, error)
	Insert(ctx context.Context, dek *smentities.DEK) error
	MarkRetired(ctx context.Context, dekID string) error
}

// DEKLeaseManager hands out leases bounded by DEKLeaseCeiling sealings and
// rotates to a freshly wrapped DEK once the active one is exhausted or
// retired.
type DEKLeaseManager struct {
	mu            sync.Mutex
	repo          DEKRepository
	kms           smout.KMSClient
	sealer        *smcrypto.AEADSealer
	active        *smentities.DEK
	leaseSealings int // sealings charged against the current lease window
}

// NewDEKLeaseManager constructs a lease manager bound to repo and kms.
func NewDEKLeaseManager(repo DEKRepository, kms smout.KMSClient) *DEKLeaseManager {
	return &DEKLeaseManager{repo: repo, kms: kms, sealer: smcrypto.NewAEADSealer()}
}

// Acquire returns an unwrapped lease for the current DEK, minting a fresh
// DEK first if none is active, exhausted, or unavailable.
func (m *DEKLeaseManager) Acquire(ctx context.Context) (*smentities.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil || m.active.Exhausted() || !m.active.IsAvailable || m.leaseSealings >= smentities.DEKLeaseCeiling {
		if err := m.rotate(ctx); err != nil {
			return nil, fmt.Errorf("dek_lease: rotating dek: %w", err)
		}
	}

	plaintext, err := m.kms.UnwrapDEK(ctx, m.active.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("dek_lease: unwrapping dek %s: %w", m.active.DEKID, err)
	}
	return &smentities.Lease{DEKID: m.active.DEKID, Plaintext: plaintext}, nil
}

// AcquireFor unwraps the specific DEK a record was sealed under, whether or
// not it is still the active one. Used on every unseal path: sealing always
// goes through Acquire, opening always through AcquireFor.
func (m *DEKLeaseManager) AcquireFor(ctx context.Context, dekID string) (*smentities.Lease, error) {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	var wrapped []byte
	if active != nil && active.DEKID == dekID {
		wrapped = active.WrappedDEK
	} else {
		dek, err := m.repo.FindByID(ctx, dekID)
		if err != nil {
			return nil, fmt.Errorf("dek_lease: loading dek %s: %w", dekID, err)
		}
		if dek == nil {
			return nil, fmt.Errorf("dek_lease: dek %s not found", dekID)
		}
		wrapped = dek.WrappedDEK
	}
	plaintext, err := m.kms.UnwrapDEK(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("dek_lease: unwrapping dek %s: %w", dekID, err)
	}
	return &smentities.Lease{DEKID: dekID, Plaintext: plaintext}, nil
}

func leaseNow() time.Time { return time.Now().UTC() }

// RecordSealing charges one sealing against the active DEK's in-memory
// usage_count and the current lease window. The counter is not written back
// to the repository; the only repository write is MarkRetired once the DEK
// reaches DEKUsageCeiling. Callers must invoke this once per sealing
// performed against a lease returned by Acquire.
func (m *DEKLeaseManager) RecordSealing(ctx context.Context, lease *smentities.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease.SealingsUsed++
	if m.active == nil || m.active.DEKID != lease.DEKID {
		return nil // lease outlived a rotation; its sealing still counted against the DEK it named
	}
	m.active.UsageCount++
	m.leaseSealings++
	if m.active.Exhausted() {
		m.active.IsAvailable = false
		if err := m.repo.MarkRetired(ctx, m.active.DEKID); err != nil {
			return fmt.Errorf("dek_lease: marking dek %s retired: %w", m.active.DEKID, err)
		}
	}
	return nil
}

// rotate mints a fresh DEK, wraps it under the KEK, and persists it as the
// new active record. Caller must hold m.mu.
func (m *DEKLeaseManager) rotate(ctx context.Context) error {
	plaintext, err := m.sealer.GenerateKey()
	if err != nil {
		return fmt.Errorf("generating dek: %w", err)
	}
	wrapped, err := m.kms.WrapDEK(ctx, plaintext)
	if err != nil {
		return fmt.Errorf("wrapping dek: %w", err)
	}
	dek := &smentities.DEK{
		DEKID:       uuid.New().String(),
		WrappedDEK:  wrapped,
		IsAvailable: true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.repo.Insert(ctx, dek); err != nil {
		return fmt.Errorf("persisting dek: %w", err)
	}
	m.active = dek
	m.leaseSealings = 0
	return nil
}
