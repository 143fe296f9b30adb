package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEADSealer seals and opens key material at rest using ChaCha20-Poly1305.
// It is used both by the SM to seal server key shares under a DEK (AAD is
// always the keyset_id) and by pkg/infra/kms to wrap DEKs under the KEK.
type AEADSealer struct{}

// NewAEADSealer constructs an AEADSealer.
func NewAEADSealer() *AEADSealer { return &AEADSealer{} }

// Seal encrypts plaintext under key, binding aad into the authentication tag.
// The returned ciphertext is nonce-prefixed so Open needs no side channel.
func (AEADSealer) Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: constructing aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, sealed...), nil
}

// Open decrypts a ciphertext produced by Seal, verifying aad matches what
// was bound at seal time. A mismatched aad (e.g. the wrong keyset_id) fails
// closed with an authentication error.
func (AEADSealer) Open(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: constructing aead: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("crypto: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("crypto: authentication failed: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random ChaCha20-Poly1305 key, used both for
// new DEKs and (in tests) for stand-in KEKs.
func (AEADSealer) GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: generating key: %w", err)
	}
	return key, nil
}
