package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADSealOpenRoundTrip(t *testing.T) {
	sealer := NewAEADSealer()
	key, err := sealer.GenerateKey()
	require.NoError(t, err)

	ciphertext, err := sealer.Seal(key, []byte("server-share"), []byte("keyset-1"))
	require.NoError(t, err)

	plaintext, err := sealer.Open(key, ciphertext, []byte("keyset-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("server-share"), plaintext)
}

func TestAEADOpenFailsOnAADMismatch(t *testing.T) {
	sealer := NewAEADSealer()
	key, err := sealer.GenerateKey()
	require.NoError(t, err)

	ciphertext, err := sealer.Seal(key, []byte("server-share"), []byte("keyset-1"))
	require.NoError(t, err)

	_, err = sealer.Open(key, ciphertext, []byte("keyset-2"))
	require.Error(t, err)
}

func TestAEADOpenFailsOnWrongKey(t *testing.T) {
	sealer := NewAEADSealer()
	key, err := sealer.GenerateKey()
	require.NoError(t, err)
	other, err := sealer.GenerateKey()
	require.NoError(t, err)

	ciphertext, err := sealer.Seal(key, []byte("server-share"), []byte("keyset-1"))
	require.NoError(t, err)

	_, err = sealer.Open(other, ciphertext, []byte("keyset-1"))
	require.Error(t, err)
}

func TestCommsCodeHashVerify(t *testing.T) {
	hasher := NewCommsCodeHasher()

	hash, err := hasher.Hash("042519")
	require.NoError(t, err)

	ok, err := hasher.Verify(hash, "042519")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify(hash, "042518")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommsCodeHashesAreSalted(t *testing.T) {
	hasher := NewCommsCodeHasher()
	first, err := hasher.Hash("123456")
	require.NoError(t, err)
	second, err := hasher.Hash("123456")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCommsCodeVerifyRejectsMalformedHash(t *testing.T) {
	hasher := NewCommsCodeHasher()
	_, err := hasher.Verify("not-a-phc-string", "123456")
	require.Error(t, err)
}
