package services

import (
	"context"
	"crypto/ed25519"

	common "github.com/duskvault/signing-core/pkg/common"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
	in "github.com/duskvault/signing-core/pkg/sm/ports/in"
	"github.com/duskvault/signing-core/pkg/sm/wire"
)

// GrantVerifier checks that a signature over a grant payload was produced by
// the expected factor's registered public key. Implementations live with
// account key material in the control plane; the SM only needs a yes/no.
type GrantVerifier interface {
	Verify(pubKey, payload, signature []byte) bool
}

// PayloadSigner produces the SM's own countersignature. Backed by the
// IntegrityKeyManager so grant signing and keyset integrity tags share the
// per-installation key.
type PayloadSigner interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// GrantSigner implements in.GrantService: it recomputes the domain-separated
// request body itself (never trusting a caller-supplied digest), verifies
// the app and hardware signatures over it, and — only if both verify —
// countersigns the "BKGrant" payload with the SM's installation key.
type GrantSigner struct {
	signer      PayloadSigner
	hwVerifier  GrantVerifier
	appVerifier GrantVerifier
}

// NewGrantSigner constructs a GrantSigner bound to the SM's signer and the
// verifiers used to check the hardware and app factor signatures.
func NewGrantSigner(signer PayloadSigner, hwVerifier, appVerifier GrantVerifier) *GrantSigner {
	return &GrantSigner{signer: signer, hwVerifier: hwVerifier, appVerifier: appVerifier}
}

var _ in.GrantService = (*GrantSigner)(nil)

// CreateGrant verifies both factor signatures over the independently
// recomputed request body and, only if both check out, countersigns the
// domain-separated WSM payload.
func (s *GrantSigner) CreateGrant(ctx context.Context, req in.CreateGrantRequest) (smentities.Grant, error) {
	if req.Version != smentities.GrantVersion1 {
		return smentities.Grant{}, common.NewErrInvalidInput("unsupported grant version %d", req.Version)
	}
	if !req.Action.Valid() {
		return smentities.Grant{}, common.NewErrInvalidInput("unrecognized grant action %d", req.Action)
	}
	if len(req.AppSignature) != ed25519.SignatureSize {
		return smentities.Grant{}, common.NewErrInvalidInput("app signature must be %d bytes, got %d", ed25519.SignatureSize, len(req.AppSignature))
	}

	body, err := wire.EncodeGrantRequestBody(req.Version, req.Action, req.DeviceID, req.Challenge)
	if err != nil {
		return smentities.Grant{}, common.NewErrInvalidInput("%v", err)
	}

	if !s.hwVerifier.Verify(req.HardwarePubKey, body, req.HwSignature) {
		return smentities.Grant{}, common.NewErrUnauthorized("hardware factor signature does not verify")
	}
	if !s.appVerifier.Verify(req.AppPubKey, body, req.AppSignature) {
		return smentities.Grant{}, common.NewErrUnauthorized("app factor signature does not verify")
	}

	payload := wire.EncodeGrantWSMSigningPayload(req.Version, body, req.AppSignature)
	wsmSig, err := s.signer.Sign(ctx, payload)
	if err != nil {
		return smentities.Grant{}, common.NewErrInternal("countersigning grant", err)
	}

	return smentities.Grant{
		Version:      req.Version,
		Action:       req.Action,
		DeviceID:     req.DeviceID,
		Challenge:    req.Challenge,
		AppSignature: req.AppSignature,
		WSMSignature: wsmSig,
	}, nil
}
