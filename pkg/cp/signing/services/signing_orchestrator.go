// Package services implements SigningOrchestrator: the PSBT
// lifecycle state machine that chooses between server-auto-sign and
// hardware-attested paths based on PolicyEngine output.
package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	accountout "github.com/duskvault/signing-core/pkg/cp/account/ports/out"
	ledgerin "github.com/duskvault/signing-core/pkg/cp/ledger/ports/in"
	policyentities "github.com/duskvault/signing-core/pkg/cp/policy/entities"
	policyin "github.com/duskvault/signing-core/pkg/cp/policy/ports/in"
	signingentities "github.com/duskvault/signing-core/pkg/cp/signing/entities"
	signingin "github.com/duskvault/signing-core/pkg/cp/signing/ports/in"
	signingout "github.com/duskvault/signing-core/pkg/cp/signing/ports/out"
	common "github.com/duskvault/signing-core/pkg/common"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
	smin "github.com/duskvault/signing-core/pkg/sm/ports/in"
	"github.com/duskvault/signing-core/pkg/sm/wire"
)

// signTimeout is the 30 s wall-clock budget signing requests get.
const signTimeout = 30 * time.Second

// GrantSignatureVerifier checks the SM's countersignature on a
// transaction-verification grant. Backed by the Ed25519 adapter in
// pkg/infra/crypto plus the installed WSM integrity public key.
type GrantSignatureVerifier interface {
	Verify(pubKey, payload, signature []byte) bool
}

// SigningOrchestrator drives the Received → ValidatePsbt → PolicyEngine →
// {RequireHwAttestation|AutoSignServer} → SignServer → UpdateLedger state
// machine, and the sweep path both rotation and inheritance completion use.
type SigningOrchestrator struct {
	accounts      accountout.AccountRepository
	policy        policyin.PolicyEngine
	ledger        ledgerin.Ledger
	keystore      smin.KeyStoreService
	verifications signingout.VerificationRepository
	grantVerifier GrantSignatureVerifier
	wsmPub        []byte
	now           func() time.Time
}

// NewSigningOrchestrator constructs a SigningOrchestrator bound to its
// collaborators. wsmPub is the SM installation's grant-signing public key.
func NewSigningOrchestrator(
	accounts accountout.AccountRepository,
	policy policyin.PolicyEngine,
	ledger ledgerin.Ledger,
	keystore smin.KeyStoreService,
	verifications signingout.VerificationRepository,
	grantVerifier GrantSignatureVerifier,
	wsmPub []byte,
) *SigningOrchestrator {
	return &SigningOrchestrator{
		accounts:      accounts,
		policy:        policy,
		ledger:        ledger,
		keystore:      keystore,
		verifications: verifications,
		grantVerifier: grantVerifier,
		wsmPub:        wsmPub,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ signingin.SigningService = (*SigningOrchestrator)(nil)
	_ signingin.SweepService   = (*SigningOrchestrator)(nil)
)

func netParamsFor(n common.Network) *chaincfg.Params {
	switch n {
	case common.Mainnet:
		return &chaincfg.MainNetParams
	case common.Signet:
		return &chaincfg.SigNetParams
	case common.Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.TestNet3Params
	}
}

// SignTransaction runs the full state machine for one inbound sign request.
func (o *SigningOrchestrator) SignTransaction(parent context.Context, req signingentities.SignRequest) (signingentities.SignResult, error) {
	ctx, cancel := context.WithTimeout(parent, signTimeout)
	defer cancel()

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return signingentities.SignResult{}, common.NewErrInvalidInput("malformed account id: %v", err)
	}
	account, err := o.accounts.FindByID(ctx, accountID)
	if err != nil {
		return signingentities.SignResult{}, fmt.Errorf("signing: loading account: %w", err)
	}
	if account == nil {
		return signingentities.SignResult{}, common.NewErrNotFound("account", req.AccountID)
	}

	keysetUUID, err := uuid.Parse(req.KeysetID)
	if err != nil {
		return signingentities.SignResult{}, common.NewErrInvalidInput("malformed keyset id: %v", err)
	}
	targetKeyset, ok := account.SpendingKeysets[keysetUUID]
	if !ok {
		return signingentities.SignResult{}, common.NewErrNotFound("keyset", req.KeysetID)
	}
	activeKeyset, err := account.ActiveKeyset()
	if err != nil {
		return signingentities.SignResult{}, err
	}

	isSweep := targetKeyset.ID != activeKeyset.ID
	kind := policyentities.EvaluationNormal
	inputFingerprint := activeKeyset.ServerFingerprint
	if isSweep {
		kind = policyentities.EvaluationSweep
		inputFingerprint = targetKeyset.ServerFingerprint
	}

	// --- ValidatePsbt ---
	packet, err := decodePSBT(req.PSBTBase64)
	if err != nil {
		return signingentities.SignResult{}, err
	}
	if len(packet.Inputs) == 0 {
		return signingentities.SignResult{}, common.NewErrInvalidInput("psbt has no inputs")
	}
	anyUnsigned := false
	for _, in := range packet.Inputs {
		if len(in.PartialSigs) == 0 {
			anyUnsigned = true
			break
		}
	}
	if !anyUnsigned {
		return signingentities.SignResult{}, common.NewErrInvalidInput("no unsigned input for the server to sign")
	}
	fingerprintSeen := false
	for _, in := range packet.Inputs {
		if fingerprintMatches(in.Bip32Derivation, inputFingerprint) {
			fingerprintSeen = true
			break
		}
	}
	if !fingerprintSeen {
		return signingentities.SignResult{}, common.NewErrInvalidInput("no input derivation references the keyset's server fingerprint")
	}

	params := netParamsFor(activeKeyset.Network)
	psbtCtx, err := buildPSBTContext(req.AccountID, packet, inputFingerprint, activeKeyset.ServerFingerprint, kind, account.IsTestAccount, params)
	if err != nil {
		return signingentities.SignResult{}, err
	}

	// --- HwSignedCheck (re-submission with a verification grant) ---
	hwAttested := false
	if req.VerificationHandle != "" {
		if err := o.redeemVerification(ctx, req, psbtCtx.TxID); err != nil {
			return signingentities.SignResult{}, err
		}
		hwAttested = true
	}

	// --- PolicyEngine ---
	if !hwAttested {
		var verdict policyin.Verdict
		if isSweep {
			verdict, err = o.policy.EvaluateSweep(ctx, psbtCtx)
		} else {
			verdict, err = o.policy.Evaluate(ctx, psbtCtx, account.DailyCapSats, account.FiatUnit)
		}
		if err != nil {
			return signingentities.SignResult{}, fmt.Errorf("signing: evaluating policy: %w", err)
		}
		if !verdict.Allowed {
			if hardDenial(verdict.Reasons) {
				return signingentities.SignResult{}, &common.ErrPolicyDenied{Reasons: verdict.Reasons}
			}
			// RequireHwAttestation: no server signature until the client
			// returns with a transaction-verification grant.
			return o.requireHwAttestation(ctx, req, psbtCtx.TxID, verdict.Reasons)
		}
	}

	// --- SignServer ---
	method := smin.MethodNormal
	if isSweep {
		method = smin.MethodLegacySweep
	}
	signResp, err := o.keystore.SignPSBT(ctx, smin.SignPSBTRequest{
		KeysetID:         targetKeyset.ID.String(),
		PSBTBase64:       req.PSBTBase64,
		Method:           method,
		ActiveDescriptor: activeKeyset.ID.String(),
	})
	if err != nil {
		return signingentities.SignResult{}, fmt.Errorf("signing: sm sign_psbt: %w", err)
	}

	// --- UpdateLedger ---
	if !isSweep {
		if err := o.ledger.Record(ctx, req.AccountID, psbtCtx.TxID, psbtCtx.Outflow()); err != nil {
			return signingentities.SignResult{}, fmt.Errorf("signing: updating ledger: %w", err)
		}
	}

	slog.InfoContext(ctx, "transaction signed",
		"account_id", req.AccountID,
		"txid", psbtCtx.TxID,
		"sweep", isSweep,
		"hw_attested", hwAttested,
	)
	return signingentities.SignResult{FinalizedPSBTBase64: signResp.SignedPSBTBase64}, nil
}

// SignSweep validates and signs a cross-account sweep: every input must
// belong to the source keyset and the single output to the destination
// account's active wallet. Used by inheritance claim completion.
func (o *SigningOrchestrator) SignSweep(parent context.Context, req signingin.SweepRequest) (signingin.SweepResult, error) {
	ctx, cancel := context.WithTimeout(parent, signTimeout)
	defer cancel()

	srcAccountID, err := uuid.Parse(req.SourceAccountID)
	if err != nil {
		return signingin.SweepResult{}, common.NewErrInvalidInput("malformed source account id: %v", err)
	}
	source, err := o.accounts.FindByID(ctx, srcAccountID)
	if err != nil {
		return signingin.SweepResult{}, fmt.Errorf("signing: loading source account: %w", err)
	}
	if source == nil {
		return signingin.SweepResult{}, common.NewErrNotFound("account", req.SourceAccountID)
	}
	keysetUUID, err := uuid.Parse(req.SourceKeysetID)
	if err != nil {
		return signingin.SweepResult{}, common.NewErrInvalidInput("malformed keyset id: %v", err)
	}
	sourceKeyset, ok := source.SpendingKeysets[keysetUUID]
	if !ok {
		return signingin.SweepResult{}, common.NewErrNotFound("keyset", req.SourceKeysetID)
	}

	destAccountID, err := uuid.Parse(req.DestinationAccountID)
	if err != nil {
		return signingin.SweepResult{}, common.NewErrInvalidInput("malformed destination account id: %v", err)
	}
	dest, err := o.accounts.FindByID(ctx, destAccountID)
	if err != nil {
		return signingin.SweepResult{}, fmt.Errorf("signing: loading destination account: %w", err)
	}
	if dest == nil {
		return signingin.SweepResult{}, common.NewErrNotFound("account", req.DestinationAccountID)
	}
	destKeyset, err := dest.ActiveKeyset()
	if err != nil {
		return signingin.SweepResult{}, err
	}
	if destKeyset.Network != sourceKeyset.Network {
		return signingin.SweepResult{}, common.NewErrInvalidInput("source and destination keysets are bound to different networks")
	}

	packet, err := decodePSBT(req.PSBTBase64)
	if err != nil {
		return signingin.SweepResult{}, err
	}
	if len(packet.Inputs) == 0 {
		return signingin.SweepResult{}, common.NewErrInvalidInput("psbt has no inputs")
	}

	params := netParamsFor(sourceKeyset.Network)
	// Inputs are attributed against the source keyset's fingerprint and
	// the drain output against the destination's; the sweep attribution
	// rule then requires every input and the single output to attribute.
	psbtCtx, err := buildPSBTContext(req.SourceAccountID, packet, sourceKeyset.ServerFingerprint, destKeyset.ServerFingerprint, policyentities.EvaluationSweep, source.IsTestAccount, params)
	if err != nil {
		return signingin.SweepResult{}, err
	}

	verdict, err := o.policy.EvaluateSweep(ctx, psbtCtx)
	if err != nil {
		return signingin.SweepResult{}, fmt.Errorf("signing: evaluating sweep policy: %w", err)
	}
	if !verdict.Allowed {
		return signingin.SweepResult{}, &common.ErrPolicyDenied{Reasons: verdict.Reasons}
	}

	signResp, err := o.keystore.SignPSBT(ctx, smin.SignPSBTRequest{
		KeysetID:         sourceKeyset.ID.String(),
		PSBTBase64:       req.PSBTBase64,
		Method:           smin.MethodLegacySweep,
		ActiveDescriptor: destKeyset.ID.String(),
	})
	if err != nil {
		return signingin.SweepResult{}, fmt.Errorf("signing: sm sign_psbt: %w", err)
	}

	slog.InfoContext(ctx, "sweep signed",
		"source_account_id", req.SourceAccountID,
		"destination_account_id", req.DestinationAccountID,
		"txid", psbtCtx.TxID,
	)
	return signingin.SweepResult{TxID: psbtCtx.TxID, FinalizedPSBTBase64: signResp.SignedPSBTBase64}, nil
}

// requireHwAttestation mints a verification handle pinned to the exact
// transaction and returns it instead of a signature.
func (o *SigningOrchestrator) requireHwAttestation(ctx context.Context, req signingentities.SignRequest, txID string, reasons []string) (signingentities.SignResult, error) {
	v := &signingentities.PendingVerification{
		BaseRecord: common.NewBaseRecord(),
		Handle:     uuid.New().String(),
		AccountID:  req.AccountID,
		KeysetID:   req.KeysetID,
		TxID:       txID,
		IssuedAt:   o.now(),
	}
	if err := o.verifications.Insert(ctx, v); err != nil {
		return signingentities.SignResult{}, fmt.Errorf("signing: persisting verification handle: %w", err)
	}
	slog.InfoContext(ctx, "hardware attestation required",
		"account_id", req.AccountID,
		"txid", txID,
		"handle", v.Handle,
		"reasons", reasons,
	)
	return signingentities.SignResult{
		VerificationRequired: true,
		VerificationHandle:   v.Handle,
		DenialReasons:        reasons,
	}, nil
}

// redeemVerification checks a re-submitted request's grant against the
// pending handle: the grant must be a valid transaction-verification grant
// whose challenge names this handle, countersigned by the SM, and the
// handle must pin the same account and transaction.
func (o *SigningOrchestrator) redeemVerification(ctx context.Context, req signingentities.SignRequest, txID string) error {
	v, err := o.verifications.FindByHandle(ctx, req.VerificationHandle)
	if err != nil {
		return fmt.Errorf("signing: loading verification handle: %w", err)
	}
	if v == nil {
		return common.NewErrNotFound("verification handle", req.VerificationHandle)
	}
	if v.Expired(o.now()) {
		return common.NewErrUnauthorized("verification handle has expired")
	}
	if v.AccountID != req.AccountID || v.TxID != txID {
		return common.NewErrUnauthorized("verification handle does not match this transaction")
	}

	grant, err := wire.DecodeGrant(req.Grant)
	if err != nil {
		return common.NewErrInvalidInput("malformed grant: %v", err)
	}
	if grant.Action != smentities.GrantActionTransactionVerification {
		return common.NewErrUnauthorized("grant action is not transaction verification")
	}
	if !bytes.Equal(grant.Challenge, []byte(v.Handle)) {
		return common.NewErrUnauthorized("grant challenge does not name this verification handle")
	}
	body, err := wire.EncodeGrantRequestBody(grant.Version, grant.Action, grant.DeviceID, grant.Challenge)
	if err != nil {
		return common.NewErrInvalidInput("%v", err)
	}
	payload := wire.EncodeGrantWSMSigningPayload(grant.Version, body, grant.AppSignature)
	if !o.grantVerifier.Verify(o.wsmPub, payload, grant.WSMSignature) {
		return common.NewErrUnauthorized("grant wsm signature does not verify")
	}

	if err := o.verifications.Delete(ctx, v.Handle); err != nil {
		return fmt.Errorf("signing: consuming verification handle: %w", err)
	}
	return nil
}

// hardDenial reports whether any rule failure must never fall back to the
// hardware-attestation path: a sanctions hit blocks signing outright.
func hardDenial(reasons []string) bool {
	for _, r := range reasons {
		if strings.HasPrefix(r, "sanctions:") {
			return true
		}
	}
	return false
}
