package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
)

func sampleGrant() smentities.Grant {
	return smentities.Grant{
		Version:      smentities.GrantVersion1,
		Action:       smentities.GrantActionBiometricReset,
		DeviceID:     []byte("device-42"),
		Challenge:    []byte{0xde, 0xad, 0xbe, 0xef},
		AppSignature: bytes.Repeat([]byte{0x11}, 64),
		WSMSignature: bytes.Repeat([]byte{0x22}, 64),
	}
}

func TestGrantWireRoundTrip(t *testing.T) {
	g := sampleGrant()
	encoded, err := EncodeGrant(g)
	require.NoError(t, err)

	// version:u8 || action:u8 || device_id_len:u8 || device_id ||
	// challenge_len:u8 || challenge || app_sig:64 || wsm_sig:64
	assert.Equal(t, byte(1), encoded[0])
	assert.Equal(t, byte(smentities.GrantActionBiometricReset), encoded[1])
	assert.Equal(t, byte(len(g.DeviceID)), encoded[2])
	assert.Len(t, encoded, 2+1+len(g.DeviceID)+1+len(g.Challenge)+128)

	decoded, err := DecodeGrant(encoded)
	require.NoError(t, err)
	assert.Equal(t, g, decoded)
}

func TestDecodeGrantTruncated(t *testing.T) {
	encoded, err := EncodeGrant(sampleGrant())
	require.NoError(t, err)

	for _, cut := range []int{0, 1, 2, 5, len(encoded) - 1} {
		_, err := DecodeGrant(encoded[:cut])
		assert.Error(t, err, "truncation at %d must fail", cut)
	}
}

func TestEncodeGrantEnforcesCaps(t *testing.T) {
	g := sampleGrant()
	g.DeviceID = make([]byte, smentities.MaxDeviceIDLen+1)
	_, err := EncodeGrant(g)
	require.Error(t, err)

	g = sampleGrant()
	g.Challenge = make([]byte, smentities.MaxChallengeLen+1)
	_, err = EncodeGrant(g)
	require.Error(t, err)

	g = sampleGrant()
	g.WSMSignature = g.WSMSignature[:63]
	_, err = EncodeGrant(g)
	require.Error(t, err)
}

func TestRequestBodyLayout(t *testing.T) {
	body, err := EncodeGrantRequestBody(1, smentities.GrantActionKeysetRotate, []byte("dev"), []byte("chl"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, byte(smentities.GrantActionKeysetRotate), 'd', 'e', 'v', 'c', 'h', 'l'}, body)
}

func TestWSMSigningPayloadDomainSeparation(t *testing.T) {
	body := []byte{1, 2, 3}
	appSig := bytes.Repeat([]byte{0xaa}, 64)
	payload := EncodeGrantWSMSigningPayload(1, body, appSig)

	assert.True(t, bytes.HasPrefix(payload, []byte("BKGrant")))
	assert.Equal(t, byte(1), payload[len("BKGrant")])
	assert.True(t, bytes.HasSuffix(payload, appSig))
}
