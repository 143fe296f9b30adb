// Package sm_entities holds the types persisted inside the signing module's
// protection domain: server key shares, DEKs, and the keyset public material
// handed back to the control plane.
package sm_entities

import (
	common "github.com/duskvault/signing-core/pkg/common"
)

// KeysetKind selects which of the three multisig constructions a keyset uses.
type KeysetKind string

const (
	LegacyMultiSig  KeysetKind = "LegacyMultiSig"
	PrivateMultiSig KeysetKind = "PrivateMultiSig"
	DistributedKey  KeysetKind = "DistributedKey"
)

// ServerKeyRecord is the SM-resident, immutable-after-creation record of a
// server key share. AAD is always the keyset_id, binding the
// ciphertext to the keyset it was sealed for.
type ServerKeyRecord struct {
	KeysetID     string     `bson:"_id"`
	Network      common.Network
	Kind         KeysetKind
	DEKID        string
	Wrapped      []byte // ciphertext of the xprv/share, sealed under DEKID with AAD=KeysetID
	Nonce        []byte
	PublicMaterial PublicMaterial
	CreatedAt    string
}

// PublicMaterial is whatever the server can hand back to the caller without
// ever touching plaintext key material: an xpub for LegacyMultiSig, a raw
// pubkey (+ integrity signature) for PrivateMultiSig, or a DKG group key for
// DistributedKey.
type PublicMaterial struct {
	Kind           KeysetKind
	XPub           string // LegacyMultiSig
	PubKey         []byte // PrivateMultiSig / DistributedKey
	IntegritySig   []byte // PrivateMultiSig only
	Fingerprint    [4]byte
}
