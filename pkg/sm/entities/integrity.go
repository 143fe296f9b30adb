package sm_entities

import "time"

// IntegrityKeyRecord is the SM installation's integrity signing key, sealed
// at rest like any server key share. Its public half is distributed to
// devices so they can audit that PrivateMultiSig server shares were minted
// inside the SM, and to the control plane so it can verify WSM grant
// countersignatures.
type IntegrityKeyRecord struct {
	KeyID     string    `bson:"_id"`
	DEKID     string    `bson:"dek_id"`
	Wrapped   []byte    `bson:"wrapped"` // sealed Ed25519 seed, AAD = "integrity:"+KeyID
	PublicKey []byte    `bson:"public_key"`
	CreatedAt time.Time `bson:"created_at"`
	Retired   bool      `bson:"retired"`
}
