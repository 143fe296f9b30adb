// Package crypto provides the cryptographic adapters this core needs beyond
// what the signing module itself handles: comms-code hashing, signature
// verification, and AEAD sealing.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// CommsCodeParams are intentionally lighter than password-hashing defaults:
// a comms code is a random 6-digit value with a short validity window, not a
// user-chosen secret, so the memory/iteration cost trades differently.
type CommsCodeParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultCommsCodeParams returns the parameters used to hash comms codes
// before they are persisted alongside a RecoveryAttempt or InheritanceClaim.
func DefaultCommsCodeParams() CommsCodeParams {
	return CommsCodeParams{
		Memory:      19 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// CommsCodeHasher hashes and verifies the one-time comms codes sent to a
// customer's existing touchpoints during recovery and inheritance delay
// windows.
type CommsCodeHasher struct {
	params CommsCodeParams
}

// NewCommsCodeHasher builds a hasher using DefaultCommsCodeParams.
func NewCommsCodeHasher() *CommsCodeHasher {
	return &CommsCodeHasher{params: DefaultCommsCodeParams()}
}

// Hash hashes a plaintext comms code, returning a PHC-format string safe to
// persist.
func (h *CommsCodeHasher) Hash(code string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("commscode: generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(code), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return encodeCommsCodeHash(h.params, salt, hash), nil
}

// Verify reports whether code matches the previously hashed value, using a
// constant-time comparison to avoid leaking timing information about a
// 6-digit search space.
func (h *CommsCodeHasher) Verify(encodedHash, code string) (bool, error) {
	params, salt, storedHash, err := decodeCommsCodeHash(encodedHash)
	if err != nil {
		return false, fmt.Errorf("commscode: invalid hash format: %w", err)
	}
	computed := argon2.IDKey([]byte(code), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(storedHash, computed) == 1, nil
}

func encodeCommsCodeHash(params CommsCodeParams, salt, hash []byte) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory, params.Iterations, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

func decodeCommsCodeHash(encoded string) (CommsCodeParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return CommsCodeParams{}, nil, nil, fmt.Errorf("malformed hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return CommsCodeParams{}, nil, nil, fmt.Errorf("invalid version: %w", err)
	}
	if version != argon2.Version {
		return CommsCodeParams{}, nil, nil, fmt.Errorf("incompatible argon2 version: %d", version)
	}
	var params CommsCodeParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return CommsCodeParams{}, nil, nil, fmt.Errorf("invalid parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return CommsCodeParams{}, nil, nil, fmt.Errorf("invalid salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return CommsCodeParams{}, nil, nil, fmt.Errorf("invalid hash: %w", err)
	}
	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(hash))
	return params, salt, hash, nil
}
