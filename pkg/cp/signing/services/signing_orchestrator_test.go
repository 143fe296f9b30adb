package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	common "github.com/duskvault/signing-core/pkg/common"
	account_entities "github.com/duskvault/signing-core/pkg/cp/account/entities"
	policy_entities "github.com/duskvault/signing-core/pkg/cp/policy/entities"
	policy_in "github.com/duskvault/signing-core/pkg/cp/policy/ports/in"
	signing_entities "github.com/duskvault/signing-core/pkg/cp/signing/entities"
	signing_in "github.com/duskvault/signing-core/pkg/cp/signing/ports/in"
	"github.com/duskvault/signing-core/pkg/infra/crypto"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
	sm_in "github.com/duskvault/signing-core/pkg/sm/ports/in"
	smwire "github.com/duskvault/signing-core/pkg/sm/wire"
)

// --- mocks ---

type mockAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account_entities.Account
}

func (m *mockAccounts) Insert(_ context.Context, a *account_entities.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccounts) FindByID(_ context.Context, id uuid.UUID) (*account_entities.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id], nil
}

func (m *mockAccounts) Update(_ context.Context, a *account_entities.Account, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccounts) FindByAuthPubKey(_ context.Context, _ []byte) (*account_entities.Account, error) {
	return nil, nil
}

type fakePolicy struct {
	verdict      policy_in.Verdict
	sweepVerdict policy_in.Verdict
	evaluated    int
	sweeps       int
}

func (f *fakePolicy) Evaluate(_ context.Context, _ policy_entities.PSBTContext, _ int64, _ string) (policy_in.Verdict, error) {
	f.evaluated++
	return f.verdict, nil
}

func (f *fakePolicy) EvaluateSweep(_ context.Context, _ policy_entities.PSBTContext) (policy_in.Verdict, error) {
	f.sweeps++
	return f.sweepVerdict, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	recorded map[string]int64
}

func (f *fakeLedger) Record(_ context.Context, _ string, txID string, outflowSats int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded[txID] = outflowSats
	return nil
}

func (f *fakeLedger) SumOutflowToday(_ context.Context, _ string) (int64, error) { return 0, nil }

func (f *fakeLedger) HasEntryToday(_ context.Context, _, _ string) (bool, error) { return false, nil }

type fakeSMKeyStore struct {
	lastRequest sm_in.SignPSBTRequest
	calls       int
}

func (f *fakeSMKeyStore) CreateKeyset(_ context.Context, _ sm_in.CreateKeysetRequest) (sm_in.CreateKeysetResult, error) {
	return sm_in.CreateKeysetResult{}, nil
}

func (f *fakeSMKeyStore) SignPSBT(_ context.Context, req sm_in.SignPSBTRequest) (sm_in.SignPSBTResult, error) {
	f.lastRequest = req
	f.calls++
	return sm_in.SignPSBTResult{SignedPSBTBase64: "c2lnbmVkLXBzYnQ="}, nil
}

func (f *fakeSMKeyStore) RotateIntegrityMaterial(_ context.Context) error { return nil }

type memVerifications struct {
	mu      sync.Mutex
	handles map[string]*signing_entities.PendingVerification
}

func (m *memVerifications) Insert(_ context.Context, v *signing_entities.PendingVerification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[v.Handle] = v
	return nil
}

func (m *memVerifications) FindByHandle(_ context.Context, handle string) (*signing_entities.PendingVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[handle], nil
}

func (m *memVerifications) Delete(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, handle)
	return nil
}

// --- fixture ---

type orchestratorFixture struct {
	orchestrator *SigningOrchestrator
	accounts     *mockAccounts
	policy       *fakePolicy
	ledger       *fakeLedger
	keystore     *fakeSMKeyStore

	account  *account_entities.Account
	wsmPriv  ed25519.PrivateKey
	activeFP [4]byte
	oldFP    [4]byte
	oldKeyset uuid.UUID
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		accounts: &mockAccounts{accounts: map[uuid.UUID]*account_entities.Account{}},
		policy: &fakePolicy{
			verdict:      policy_in.Verdict{Allowed: true},
			sweepVerdict: policy_in.Verdict{Allowed: true},
		},
		ledger:   &fakeLedger{recorded: map[string]int64{}},
		keystore: &fakeSMKeyStore{},
		activeFP: [4]byte{0xde, 0xad, 0xbe, 0xef},
		oldFP:    [4]byte{0x01, 0x02, 0x03, 0x04},
	}

	account, err := account_entities.NewAccount(common.Signet,
		account_entities.AuthKeySet{AppPub: []byte{1}, HardwarePub: []byte{2}},
		account_entities.SpendingKeyset{
			Network: common.Signet,
			Kind:    account_entities.PrivateMultiSig,
			AppPub:  []byte{1}, HardwarePub: []byte{2}, ServerPub: []byte{3},
			ServerFingerprint: f.activeFP,
		},
		false, 100_000)
	require.NoError(t, err)

	// A superseded keyset left from a prior rotation, for the sweep path.
	oldKeyset := &account_entities.SpendingKeyset{
		ID:      uuid.New(),
		Network: common.Signet,
		Kind:    account_entities.PrivateMultiSig,
		AppPub:  []byte{4}, HardwarePub: []byte{5}, ServerPub: []byte{6},
		ServerFingerprint: f.oldFP,
		Superseded:        true,
	}
	account.SpendingKeysets[oldKeyset.ID] = oldKeyset
	f.oldKeyset = oldKeyset.ID
	f.account = account
	require.NoError(t, f.accounts.Insert(context.Background(), account))

	wsmPub, wsmPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	f.wsmPriv = wsmPriv

	verifications := &memVerifications{handles: map[string]*signing_entities.PendingVerification{}}
	f.orchestrator = NewSigningOrchestrator(f.accounts, f.policy, f.ledger, f.keystore, verifications, crypto.NewEd25519Verifier(), wsmPub)
	return f
}

// derivationPubKey returns a parseable 33-byte compressed secp256k1 key (the
// generator point's x-coordinate under the given 0x02/0x03 prefix); the psbt
// decoder rejects derivations whose pubkey does not parse.
func derivationPubKey(prefix byte) []byte {
	return append([]byte{prefix},
		0x79, 0xbe, 0x66, 0x7e, 0xf9, 0xdc, 0xbb, 0xac, 0x55, 0xa0, 0x62, 0x95, 0xce, 0x87, 0x0b, 0x07,
		0x02, 0x9b, 0xfc, 0xdb, 0x2d, 0xce, 0x28, 0xd9, 0x59, 0xf2, 0x81, 0x5b, 0x16, 0xf8, 0x17, 0x98)
}

// buildPSBT assembles an unsigned one-input, two-output PSBT whose input
// derivation carries inputFP and whose second (change) output carries
// changeFP.
func buildPSBT(t *testing.T, inputFP, changeFP [4]byte, outflow int64) string {
	t.Helper()
	prevHash, err := chainhash.NewHashFromStr("b000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(outflow, []byte{0x00, 0x14, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd}))
	tx.AddTxOut(wire.NewTxOut(5_000, []byte{0x00, 0x14, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11, 0x22, 0x33, 0x44}))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               derivationPubKey(0x02),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(inputFP[:]),
		Bip32Path:            []uint32{0, 7},
	}}
	packet.Outputs[1].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               derivationPubKey(0x03),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(changeFP[:]),
		Bip32Path:            []uint32{1, 7},
	}}

	encoded, err := packet.B64Encode()
	require.NoError(t, err)
	return encoded
}

func txIDOf(t *testing.T, psbtBase64 string) string {
	t.Helper()
	packet, err := decodePSBT(psbtBase64)
	require.NoError(t, err)
	return packet.UnsignedTx.TxHash().String()
}

func (f *orchestratorFixture) mintGrant(t *testing.T, handle string) []byte {
	t.Helper()
	body, err := smwire.EncodeGrantRequestBody(smentities.GrantVersion1, smentities.GrantActionTransactionVerification, []byte("device-1"), []byte(handle))
	require.NoError(t, err)
	appSig := make([]byte, 64)
	payload := smwire.EncodeGrantWSMSigningPayload(smentities.GrantVersion1, body, appSig)
	grant := smentities.Grant{
		Version:      smentities.GrantVersion1,
		Action:       smentities.GrantActionTransactionVerification,
		DeviceID:     []byte("device-1"),
		Challenge:    []byte(handle),
		AppSignature: appSig,
		WSMSignature: ed25519.Sign(f.wsmPriv, payload),
	}
	encoded, err := smwire.EncodeGrant(grant)
	require.NoError(t, err)
	return encoded
}

// --- tests ---

func TestSignTransactionAutoSignPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	psbtB64 := buildPSBT(t, f.activeFP, f.activeFP, 20_000)

	result, err := f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:  f.account.ID.String(),
		KeysetID:   f.account.ActiveKeysetID.String(),
		PSBTBase64: psbtB64,
	})
	require.NoError(t, err)
	assert.False(t, result.VerificationRequired)
	assert.Equal(t, "c2lnbmVkLXBzYnQ=", result.FinalizedPSBTBase64)

	assert.Equal(t, sm_in.MethodNormal, f.keystore.lastRequest.Method)
	assert.Equal(t, int64(20_000), f.ledger.recorded[txIDOf(t, psbtB64)], "external outflow lands in the ledger")
}

func TestSignTransactionDenialMintsVerificationHandle(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.policy.verdict = policy_in.Verdict{Allowed: false, Reasons: []string{"daily-spend: transaction would exceed the account's daily cap"}}
	psbtB64 := buildPSBT(t, f.activeFP, f.activeFP, 20_000)

	result, err := f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:  f.account.ID.String(),
		KeysetID:   f.account.ActiveKeysetID.String(),
		PSBTBase64: psbtB64,
	})
	require.NoError(t, err)
	assert.True(t, result.VerificationRequired)
	assert.NotEmpty(t, result.VerificationHandle)
	assert.NotEmpty(t, result.DenialReasons)
	assert.Zero(t, f.keystore.calls, "no server signature before attestation")
	assert.Empty(t, f.ledger.recorded, "denial leaves the ledger untouched")
}

func TestSignTransactionGrantRedemption(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.policy.verdict = policy_in.Verdict{Allowed: false, Reasons: []string{"daily-spend: transaction would exceed the account's daily cap"}}
	psbtB64 := buildPSBT(t, f.activeFP, f.activeFP, 20_000)

	first, err := f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:  f.account.ID.String(),
		KeysetID:   f.account.ActiveKeysetID.String(),
		PSBTBase64: psbtB64,
	})
	require.NoError(t, err)
	require.True(t, first.VerificationRequired)

	second, err := f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:          f.account.ID.String(),
		KeysetID:           f.account.ActiveKeysetID.String(),
		PSBTBase64:         psbtB64,
		VerificationHandle: first.VerificationHandle,
		Grant:              f.mintGrant(t, first.VerificationHandle),
	})
	require.NoError(t, err)
	assert.False(t, second.VerificationRequired)
	assert.Equal(t, "c2lnbmVkLXBzYnQ=", second.FinalizedPSBTBase64)
	assert.Equal(t, int64(20_000), f.ledger.recorded[txIDOf(t, psbtB64)])

	// A handle is single-use.
	_, err = f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:          f.account.ID.String(),
		KeysetID:           f.account.ActiveKeysetID.String(),
		PSBTBase64:         psbtB64,
		VerificationHandle: first.VerificationHandle,
		Grant:              f.mintGrant(t, first.VerificationHandle),
	})
	require.Error(t, err)
}

func TestSignTransactionRejectsForgedGrant(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.policy.verdict = policy_in.Verdict{Allowed: false, Reasons: []string{"daily-spend: over cap"}}
	psbtB64 := buildPSBT(t, f.activeFP, f.activeFP, 20_000)

	first, err := f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:  f.account.ID.String(),
		KeysetID:   f.account.ActiveKeysetID.String(),
		PSBTBase64: psbtB64,
	})
	require.NoError(t, err)

	grant := f.mintGrant(t, first.VerificationHandle)
	grant[len(grant)-1] ^= 0xff // corrupt the wsm signature

	_, err = f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:          f.account.ID.String(),
		KeysetID:           f.account.ActiveKeysetID.String(),
		PSBTBase64:         psbtB64,
		VerificationHandle: first.VerificationHandle,
		Grant:              grant,
	})
	require.Error(t, err)
	assert.True(t, common.IsUnauthorized(err))
	assert.Zero(t, f.keystore.calls)
}

func TestSignTransactionSanctionsDenyIsHard(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.policy.verdict = policy_in.Verdict{Allowed: false, Reasons: []string{"sanctions: output address X is sanctioned"}}
	psbtB64 := buildPSBT(t, f.activeFP, f.activeFP, 20_000)

	_, err := f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:  f.account.ID.String(),
		KeysetID:   f.account.ActiveKeysetID.String(),
		PSBTBase64: psbtB64,
	})
	require.Error(t, err)
	assert.True(t, common.IsPolicyDenied(err))
	assert.Zero(t, f.keystore.calls)
}

func TestSignTransactionSweepPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	// Drain the old keyset to the active wallet: one output, attributed to
	// the active fingerprint. The change-slot trick puts the destination
	// derivation on the sole output.
	psbtB64 := buildSweepPSBT(t, f.oldFP, f.activeFP)

	result, err := f.orchestrator.SignTransaction(context.Background(), signing_entities.SignRequest{
		AccountID:  f.account.ID.String(),
		KeysetID:   f.oldKeyset.String(),
		PSBTBase64: psbtB64,
	})
	require.NoError(t, err)
	assert.False(t, result.VerificationRequired)
	assert.Equal(t, 1, f.policy.sweeps, "sweep runs the sweep rule set")
	assert.Zero(t, f.policy.evaluated)
	assert.Equal(t, sm_in.MethodLegacySweep, f.keystore.lastRequest.Method)
	assert.Equal(t, f.oldKeyset.String(), f.keystore.lastRequest.KeysetID, "signing uses the source keyset's share")
	assert.Empty(t, f.ledger.recorded, "sweeps bypass the daily-spend ledger")
}

func TestSignSweepCrossAccount(t *testing.T) {
	f := newOrchestratorFixture(t)

	// A second account to receive the sweep.
	destAccount, err := account_entities.NewAccount(common.Signet,
		account_entities.AuthKeySet{AppPub: []byte{7}, HardwarePub: []byte{8}},
		account_entities.SpendingKeyset{
			Network: common.Signet,
			Kind:    account_entities.PrivateMultiSig,
			AppPub:  []byte{7}, HardwarePub: []byte{8}, ServerPub: []byte{9},
			ServerFingerprint: [4]byte{0x77, 0x77, 0x77, 0x77},
		},
		false, 100_000)
	require.NoError(t, err)
	require.NoError(t, f.accounts.Insert(context.Background(), destAccount))

	psbtB64 := buildSweepPSBT(t, f.oldFP, [4]byte{0x77, 0x77, 0x77, 0x77})
	result, err := f.orchestrator.SignSweep(context.Background(), signing_in.SweepRequest{
		SourceAccountID:      f.account.ID.String(),
		SourceKeysetID:       f.oldKeyset.String(),
		DestinationAccountID: destAccount.ID.String(),
		PSBTBase64:           psbtB64,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.TxID)
	assert.Equal(t, sm_in.MethodLegacySweep, f.keystore.lastRequest.Method)
}

// buildSweepPSBT assembles a one-input, one-output drain: input attributed
// to sourceFP, output to destFP.
func buildSweepPSBT(t *testing.T, sourceFP, destFP [4]byte) string {
	t.Helper()
	prevHash, err := chainhash.NewHashFromStr("c000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(80_000, []byte{0x00, 0x14, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14}))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               derivationPubKey(0x02),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(sourceFP[:]),
		Bip32Path:            []uint32{0, 0},
	}}
	packet.Outputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               derivationPubKey(0x03),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(destFP[:]),
		Bip32Path:            []uint32{0, 1},
	}}

	encoded, err := packet.B64Encode()
	require.NoError(t, err)
	return encoded
}
