// Package kms implements the pkg/sm/ports/out.KMSClient boundary. The local
// adapter here stands in for a cloud KMS/HSM in development and tests; a
// production deployment swaps it for an adapter calling out to the real
// service without the signing module needing to change.
package kms

import (
	"context"
	"fmt"

	"github.com/duskvault/signing-core/pkg/infra/crypto"
)

// LocalKMS holds a root KEK in process memory. It exists so the rest of the
// signing module can be built and tested against the KMSClient port without
// a real cloud KMS dependency; it is never the production key custody
// boundary itself.
type LocalKMS struct {
	sealer *crypto.AEADSealer
	kek    []byte
}

// NewLocalKMS generates a fresh in-memory KEK.
func NewLocalKMS() (*LocalKMS, error) {
	sealer := crypto.NewAEADSealer()
	kek, err := sealer.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("kms: generating kek: %w", err)
	}
	return &LocalKMS{sealer: sealer, kek: kek}, nil
}

// kekAAD binds every DEK wrap/unwrap to this boundary; it never varies
// because the KEK itself, not a per-record value, is what's being protected
// here.
var kekAAD = []byte("signing-core/dek-under-kek/v1")

func (k *LocalKMS) WrapDEK(_ context.Context, plaintextDEK []byte) ([]byte, error) {
	return k.sealer.Seal(k.kek, plaintextDEK, kekAAD)
}

func (k *LocalKMS) UnwrapDEK(_ context.Context, wrapped []byte) ([]byte, error) {
	return k.sealer.Open(k.kek, wrapped, kekAAD)
}
