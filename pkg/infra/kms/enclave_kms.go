package kms

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/asn1"
	"fmt"
	"time"
)

// kmsCallTimeout bounds every external-KMS round trip.
const kmsCallTimeout = 10 * time.Second

// EnclaveKMS implements the KMSClient port against a KMS that returns
// RSA-OAEP-SHA-256 CMS envelopes. The enclave's RSA key decrypts the
// RecipientInfo windows; the constant-time exactly-one acceptance rule
// lives in UnwrapExactlyOne.
type EnclaveKMS struct {
	priv *rsa.PrivateKey
}

// NewEnclaveKMS constructs an EnclaveKMS around the enclave's decryption
// key.
func NewEnclaveKMS(priv *rsa.PrivateKey) *EnclaveKMS {
	return &EnclaveKMS{priv: priv}
}

// WrapDEK wraps a fresh DEK into a single-recipient CMS envelope under the
// enclave's own public key.
func (k *EnclaveKMS) WrapDEK(ctx context.Context, plaintextDEK []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, kmsCallTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encrypted, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &k.priv.PublicKey, plaintextDEK, nil)
	if err != nil {
		return nil, fmt.Errorf("kms: oaep wrap: %w", err)
	}
	infos := []keyTransRecipientInfo{{
		Version:                2,
		RecipientID:            asn1.RawValue{Tag: asn1.TagOctetString, Bytes: []byte("wsm")},
		KeyEncryptionAlgorithm: asn1.RawValue{Tag: asn1.TagOID, Bytes: oidRSAESOAEP},
		EncryptedKey:           encrypted,
	}}
	der, err := asn1.Marshal(infos)
	if err != nil {
		return nil, fmt.Errorf("kms: encoding recipient infos: %w", err)
	}
	return der, nil
}

// UnwrapDEK decodes the CMS envelope and unwraps the single window that
// belongs to this enclave.
func (k *EnclaveKMS) UnwrapDEK(ctx context.Context, wrapped []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, kmsCallTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	windows, err := ParseRecipientInfos(wrapped)
	if err != nil {
		return nil, err
	}
	return UnwrapExactlyOne(k.priv, windows)
}

// oidRSAESOAEP is 1.2.840.113549.1.1.7, DER content octets.
var oidRSAESOAEP = []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x07}
