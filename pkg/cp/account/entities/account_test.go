package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/duskvault/signing-core/pkg/common"
)

func validKeyset() SpendingKeyset {
	return SpendingKeyset{
		Network: common.Signet,
		Kind:    PrivateMultiSig,
		AppPub:  []byte{1}, HardwarePub: []byte{2}, ServerPub: []byte{3},
	}
}

func TestNewAccountActivatesFirstGenerations(t *testing.T) {
	a, err := NewAccount(common.Signet, AuthKeySet{AppPub: []byte{1}, HardwarePub: []byte{2}}, validKeyset(), false, 100_000)
	require.NoError(t, err)

	authKeys, err := a.ActiveAuthKey()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, authKeys.AppPub)

	keyset, err := a.ActiveKeyset()
	require.NoError(t, err)
	assert.Equal(t, PrivateMultiSig, keyset.Kind)
}

func TestNewAccountRejectsNetworkMismatch(t *testing.T) {
	ks := validKeyset()
	ks.Network = common.Mainnet
	_, err := NewAccount(common.Signet, AuthKeySet{AppPub: []byte{1}, HardwarePub: []byte{2}}, ks, false, 0)
	require.Error(t, err)
}

func TestKeysetValidateRejectsDuplicateKeys(t *testing.T) {
	ks := validKeyset()
	ks.HardwarePub = ks.AppPub
	assert.Error(t, ks.Validate())

	legacy := SpendingKeyset{Network: common.Signet, Kind: LegacyMultiSig, AppDPub: "xpub-a", HardwareDPub: "xpub-a", ServerDPub: "xpub-s"}
	assert.Error(t, legacy.Validate())

	legacy.HardwareDPub = "xpub-h"
	assert.NoError(t, legacy.Validate())
}

func TestRotateAuthKeysRevokesPrior(t *testing.T) {
	a, err := NewAccount(common.Signet, AuthKeySet{AppPub: []byte{1}, HardwarePub: []byte{2}}, validKeyset(), false, 0)
	require.NoError(t, err)
	priorID := a.ActiveAuthKeyID

	a.RotateAuthKeys(AuthKeySet{AppPub: []byte{10}, HardwarePub: []byte{20}})

	assert.NotEqual(t, priorID, a.ActiveAuthKeyID)
	assert.True(t, a.AuthKeys[priorID].Revoked)
	assert.Len(t, a.AuthKeys, 2, "revoked generations are retained")

	active, err := a.ActiveAuthKey()
	require.NoError(t, err)
	assert.Equal(t, []byte{10}, active.AppPub)
}

func TestClearPushTouchpointsKeepsPhoneAndEmail(t *testing.T) {
	a, err := NewAccount(common.Signet, AuthKeySet{AppPub: []byte{1}, HardwarePub: []byte{2}}, validKeyset(), false, 0)
	require.NoError(t, err)
	a.Touchpoints = []Touchpoint{
		{Kind: TouchpointPush, Address: "token-1"},
		{Kind: TouchpointEmail, Address: "a@example.com"},
		{Kind: TouchpointPush, Address: "token-2"},
		{Kind: TouchpointPhone, Address: "+15550100"},
	}

	a.ClearPushTouchpoints()

	require.Len(t, a.Touchpoints, 2)
	assert.Equal(t, TouchpointEmail, a.Touchpoints[0].Kind)
	assert.Equal(t, TouchpointPhone, a.Touchpoints[1].Kind)
}
