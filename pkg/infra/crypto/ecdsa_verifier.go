package crypto

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// ECDSAVerifier checks secp256k1 ECDSA signatures over the SHA-256 digest of
// a payload. It backs the recovery and inheritance services' checks of app,
// hardware, and auth key factor signatures, including the ones that gate
// auth-key rotation. Grant signatures are checked by Ed25519Verifier.
type ECDSAVerifier struct{}

// NewECDSAVerifier constructs an ECDSAVerifier.
func NewECDSAVerifier() *ECDSAVerifier { return &ECDSAVerifier{} }

// Verify reports whether signature is a valid DER-encoded ECDSA signature by
// the holder of pubKey over sha256(payload). A malformed pubKey or
// signature is treated as a verification failure, not an error: callers
// always get a definite yes/no.
func (ECDSAVerifier) Verify(pubKey, payload, signature []byte) bool {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(payload)
	return sig.Verify(digest[:], pk)
}
