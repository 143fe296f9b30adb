// Package out declares the boundaries the signing module depends on but does
// not implement: the KMS capability that holds the root KEK.
package out

import "context"

// KMSClient is the abstract boundary to whatever holds the root
// key-encryption-key: a cloud KMS, an HSM, or (in tests) an in-process stand
// in. The SM never sees KEK plaintext; it only ever asks the KMS to wrap or
// unwrap a DEK.
type KMSClient interface {
	// WrapDEK encrypts a freshly generated DEK under the root KEK.
	WrapDEK(ctx context.Context, plaintextDEK []byte) (wrapped []byte, err error)
	// UnwrapDEK decrypts a previously wrapped DEK so it can be leased.
	UnwrapDEK(ctx context.Context, wrapped []byte) (plaintextDEK []byte, err error)
}
