package kms

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func TestEnclaveKMSWrapUnwrapRoundTrip(t *testing.T) {
	enclave := NewEnclaveKMS(testRSAKey(t))
	ctx := context.Background()

	wrapped, err := enclave.WrapDEK(ctx, []byte("dek-plaintext-32-bytes-exactly!!"))
	require.NoError(t, err)

	plaintext, err := enclave.UnwrapDEK(ctx, wrapped)
	require.NoError(t, err)
	assert.Equal(t, []byte("dek-plaintext-32-bytes-exactly!!"), plaintext)
}

func TestUnwrapRejectsZeroMatchingWindows(t *testing.T) {
	ours := testRSAKey(t)
	theirs := testRSAKey(t)

	window, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &theirs.PublicKey, []byte("dek"), nil)
	require.NoError(t, err)

	_, err = UnwrapExactlyOne(ours, [][]byte{window})
	require.Error(t, err)
}

func TestUnwrapRejectsMultipleMatchingWindows(t *testing.T) {
	// Exactly-one acceptance: two windows that both unwrap under our
	// key are an invalid envelope, not a free choice.
	ours := testRSAKey(t)

	first, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &ours.PublicKey, []byte("dek-a"), nil)
	require.NoError(t, err)
	second, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &ours.PublicKey, []byte("dek-b"), nil)
	require.NoError(t, err)

	_, err = UnwrapExactlyOne(ours, [][]byte{first, second})
	require.Error(t, err)
}

func TestUnwrapAcceptsSingleMatchAmongForeignWindows(t *testing.T) {
	ours := testRSAKey(t)
	theirs := testRSAKey(t)

	foreign, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &theirs.PublicKey, []byte("other"), nil)
	require.NoError(t, err)
	mine, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &ours.PublicKey, []byte("dek"), nil)
	require.NoError(t, err)

	plaintext, err := UnwrapExactlyOne(ours, [][]byte{foreign, mine})
	require.NoError(t, err)
	assert.Equal(t, []byte("dek"), plaintext)
}

func TestParseRecipientInfosRejectsTrailingBytes(t *testing.T) {
	enclave := NewEnclaveKMS(testRSAKey(t))
	wrapped, err := enclave.WrapDEK(context.Background(), []byte("dek"))
	require.NoError(t, err)

	_, err = ParseRecipientInfos(append(wrapped, 0x00))
	require.Error(t, err)
}
