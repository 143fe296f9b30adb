package wire

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/duskvault/signing-core/pkg/common"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
	in "github.com/duskvault/signing-core/pkg/sm/ports/in"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sent := Request{Op: OpSignPSBT, SignPSBT: &in.SignPSBTRequest{KeysetID: "k-1", PSBTBase64: "cHNidA==", Method: in.MethodLegacySweep}}
	require.NoError(t, WriteMessage(&buf, &sent))

	var got Request
	require.NoError(t, ReadMessage(&buf, &got))
	assert.Equal(t, sent.Op, got.Op)
	require.NotNil(t, got.SignPSBT)
	assert.Equal(t, *sent.SignPSBT, *got.SignPSBT)
}

func TestReadMessageRejectsOversizedPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})

	var got Request
	err := ReadMessage(&buf, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

type fakeKeyStore struct {
	lastSign in.SignPSBTRequest
	rotated  int
}

func (f *fakeKeyStore) CreateKeyset(_ context.Context, req in.CreateKeysetRequest) (in.CreateKeysetResult, error) {
	return in.CreateKeysetResult{KeysetID: "k-new", PublicMaterial: smentities.PublicMaterial{Kind: req.Kind, XPub: "xpub-test"}}, nil
}

func (f *fakeKeyStore) SignPSBT(_ context.Context, req in.SignPSBTRequest) (in.SignPSBTResult, error) {
	f.lastSign = req
	if req.KeysetID == "missing" {
		return in.SignPSBTResult{}, common.NewErrNotFound("keyset", req.KeysetID)
	}
	return in.SignPSBTResult{SignedPSBTBase64: "c2lnbmVk"}, nil
}

func (f *fakeKeyStore) RotateIntegrityMaterial(_ context.Context) error {
	f.rotated++
	return nil
}

type fakeGrantService struct{}

func (fakeGrantService) CreateGrant(_ context.Context, req in.CreateGrantRequest) (smentities.Grant, error) {
	return smentities.Grant{Version: req.Version, Action: req.Action, DeviceID: req.DeviceID}, nil
}

func startServer(t *testing.T, keystore in.KeyStoreService) *Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := NewServer(keystore, fakeGrantService{})
	go func() {
		// Serve exits with a read error when the test closes the pipe.
		_ = server.Serve(context.Background(), serverConn)
	}()
	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})
	return NewClient(clientConn)
}

func TestClientServerSignPSBT(t *testing.T) {
	keystore := &fakeKeyStore{}
	client := startServer(t, keystore)

	result, err := client.SignPSBT(context.Background(), in.SignPSBTRequest{KeysetID: "k-1", PSBTBase64: "cHNidA==", Method: in.MethodNormal})
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmVk", result.SignedPSBTBase64)
	assert.Equal(t, "k-1", keystore.lastSign.KeysetID)
	assert.Equal(t, in.MethodNormal, keystore.lastSign.Method)
}

func TestClientServerErrorPropagates(t *testing.T) {
	client := startServer(t, &fakeKeyStore{})

	_, err := client.SignPSBT(context.Background(), in.SignPSBTRequest{KeysetID: "missing", PSBTBase64: "cHNidA=="})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal error")
}

func TestClientServerCreateKeyset(t *testing.T) {
	client := startServer(t, &fakeKeyStore{})

	result, err := client.CreateKeyset(context.Background(), in.CreateKeysetRequest{Network: common.Signet, Kind: smentities.LegacyMultiSig})
	require.NoError(t, err)
	assert.Equal(t, "k-new", result.KeysetID)
	assert.Equal(t, "xpub-test", result.PublicMaterial.XPub)
}

func TestClientServerRotateIntegrity(t *testing.T) {
	keystore := &fakeKeyStore{}
	client := startServer(t, keystore)

	require.NoError(t, client.RotateIntegrityMaterial(context.Background()))
	assert.Equal(t, 1, keystore.rotated)
}
