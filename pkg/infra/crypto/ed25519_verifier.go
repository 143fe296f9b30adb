package crypto

import "crypto/ed25519"

// Ed25519Verifier checks Ed25519 signatures. Grant signing uses Ed25519
// rather than secp256k1 ECDSA because the wire layout fixes app_sig and
// wsm_sig at exactly 64 bytes — the Ed25519 signature size — matching the
// newer-firmware auth-key derivation the same section describes.
type Ed25519Verifier struct{}

// NewEd25519Verifier constructs an Ed25519Verifier.
func NewEd25519Verifier() *Ed25519Verifier { return &Ed25519Verifier{} }

// Verify reports whether signature is a valid Ed25519 signature by pubKey
// over payload. Malformed keys or signatures are a definite "no", not an
// error.
func (Ed25519Verifier) Verify(pubKey, payload, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), payload, signature)
}
