// Package entities holds the control-plane Account aggregate: auth keys,
// spending keysets, touchpoints, and notification preferences.
package entities

import (
	"fmt"

	"github.com/google/uuid"

	common "github.com/duskvault/signing-core/pkg/common"
)

// Factor identifies which of the two non-server signing factors a key or
// signature belongs to.
type Factor string

const (
	FactorApp      Factor = "app"
	FactorHardware Factor = "hardware"
)

// AuthKeySet is one generation of the three registered authentication
// public keys. RecoveryPub is optional; when present it lets the account
// opt into a third, out-of-band recovery contact.
type AuthKeySet struct {
	ID          uuid.UUID
	AppPub      []byte
	HardwarePub []byte
	RecoveryPub []byte // optional
	Revoked     bool
}

// KeysetKind mirrors sm_entities.KeysetKind without importing the SM
// package; the control plane only ever needs the tag, never SM-internal
// types.
type KeysetKind string

const (
	LegacyMultiSig  KeysetKind = "LegacyMultiSig"
	PrivateMultiSig KeysetKind = "PrivateMultiSig"
	DistributedKey  KeysetKind = "DistributedKey"
)

// SpendingKeyset is one generation of the account's 2-of-3 wallet
// descriptor. Exactly one field set applies, selected by Kind.
type SpendingKeyset struct {
	ID      uuid.UUID
	Network common.Network
	Kind    KeysetKind

	// LegacyMultiSig
	AppDPub     string
	HardwareDPub string
	ServerDPub  string

	// PrivateMultiSig
	AppPub               []byte
	HardwarePub          []byte
	ServerPub            []byte
	ServerPubIntegritySig []byte

	// DistributedKey
	PublicKey   []byte
	DKGComplete bool

	// ServerFingerprint is the BIP-32 master-key fingerprint of this
	// keyset's server share, used by SigningOrchestrator to attribute PSBT
	// inputs/outputs to this keyset.
	ServerFingerprint [4]byte

	Superseded bool
}

// Validate enforces the invariant that a keyset's three public keys are
// pairwise distinct.
func (k SpendingKeyset) Validate() error {
	switch k.Kind {
	case LegacyMultiSig:
		if k.AppDPub == k.HardwareDPub || k.AppDPub == k.ServerDPub || k.HardwareDPub == k.ServerDPub {
			return common.NewErrInvalidInput("legacy multisig keyset has non-distinct extended public keys")
		}
	case PrivateMultiSig:
		if bytesEqual(k.AppPub, k.HardwarePub) || bytesEqual(k.AppPub, k.ServerPub) || bytesEqual(k.HardwarePub, k.ServerPub) {
			return common.NewErrInvalidInput("private multisig keyset has non-distinct public keys")
		}
	case DistributedKey:
		if len(k.PublicKey) == 0 {
			return common.NewErrInvalidInput("distributed key keyset missing public key")
		}
	default:
		return common.NewErrInvalidInput("unrecognized keyset kind %q", k.Kind)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TouchpointKind is a channel an account can be reached on.
type TouchpointKind string

const (
	TouchpointEmail TouchpointKind = "email"
	TouchpointPhone TouchpointKind = "phone"
	TouchpointPush  TouchpointKind = "push"
)

// Touchpoint is one entry in the account's ordered contact list.
type Touchpoint struct {
	ID         uuid.UUID
	Kind       TouchpointKind
	Address    string
	VerifiedAt *string // RFC-3339 UTC, nil until verified
}

// NotificationCategory groups the kinds of events an account can configure
// delivery channels for.
type NotificationCategory string

const (
	NotificationRecovery    NotificationCategory = "recovery"
	NotificationInheritance NotificationCategory = "inheritance"
	NotificationTransaction NotificationCategory = "transaction"
)

// Account is the control-plane aggregate root.
type Account struct {
	common.BaseRecord

	AuthKeys          map[uuid.UUID]*AuthKeySet
	ActiveAuthKeyID   uuid.UUID
	SpendingKeysets   map[uuid.UUID]*SpendingKeyset
	ActiveKeysetID    uuid.UUID
	Touchpoints       []Touchpoint
	NotificationPrefs map[NotificationCategory][]TouchpointKind
	IsTestAccount     bool
	DailyCapSats      int64
	FiatUnit          string
}

// NewAccount constructs a fresh Account with its first auth key set and
// spending keyset both active.
func NewAccount(network common.Network, firstAuthKeys AuthKeySet, firstKeyset SpendingKeyset, isTest bool, dailyCapSats int64) (*Account, error) {
	if err := firstKeyset.Validate(); err != nil {
		return nil, err
	}
	if firstKeyset.Network != network {
		return nil, common.NewErrInvalidInput("keyset network %q does not match account network %q", firstKeyset.Network, network)
	}

	firstAuthKeys.ID = uuid.New()
	firstKeyset.ID = uuid.New()

	a := &Account{
		BaseRecord:        common.NewBaseRecord(),
		AuthKeys:          map[uuid.UUID]*AuthKeySet{firstAuthKeys.ID: &firstAuthKeys},
		ActiveAuthKeyID:   firstAuthKeys.ID,
		SpendingKeysets:   map[uuid.UUID]*SpendingKeyset{firstKeyset.ID: &firstKeyset},
		ActiveKeysetID:    firstKeyset.ID,
		NotificationPrefs: map[NotificationCategory][]TouchpointKind{},
		IsTestAccount:     isTest,
		DailyCapSats:      dailyCapSats,
	}
	return a, nil
}

// ActiveAuthKey returns the currently active auth key set, or an error if
// the invariant that ActiveAuthKeyID always references an existing entry
// has somehow been violated.
func (a *Account) ActiveAuthKey() (*AuthKeySet, error) {
	k, ok := a.AuthKeys[a.ActiveAuthKeyID]
	if !ok {
		return nil, common.NewErrInternal(fmt.Sprintf("active auth key %s missing from account %s", a.ActiveAuthKeyID, a.ID), nil)
	}
	return k, nil
}

// ActiveKeyset returns the currently active spending keyset.
func (a *Account) ActiveKeyset() (*SpendingKeyset, error) {
	k, ok := a.SpendingKeysets[a.ActiveKeysetID]
	if !ok {
		return nil, common.NewErrInternal(fmt.Sprintf("active keyset %s missing from account %s", a.ActiveKeysetID, a.ID), nil)
	}
	return k, nil
}

// RotateAuthKeys installs a new active auth key generation, revoking the
// prior one. Used by recovery completion.
func (a *Account) RotateAuthKeys(next AuthKeySet) {
	if prior, ok := a.AuthKeys[a.ActiveAuthKeyID]; ok {
		prior.Revoked = true
	}
	next.ID = uuid.New()
	a.AuthKeys[next.ID] = &next
	a.ActiveAuthKeyID = next.ID
	a.Touch()
}

// ClearPushTouchpoints drops push touchpoints while retaining phone/email,
// which is what recovery completion requires.
func (a *Account) ClearPushTouchpoints() {
	kept := a.Touchpoints[:0]
	for _, tp := range a.Touchpoints {
		if tp.Kind != TouchpointPush {
			kept = append(kept, tp)
		}
	}
	a.Touchpoints = kept
}

// VerifiedTouchpoints returns the touchpoints eligible to receive
// comms-verification codes and notifications: those with a non-nil
// VerifiedAt.
func (a *Account) VerifiedTouchpoints() []Touchpoint {
	var out []Touchpoint
	for _, tp := range a.Touchpoints {
		if tp.VerifiedAt != nil {
			out = append(out, tp)
		}
	}
	return out
}
