// Package in declares the inbound ports the signing module exposes to the
// control plane.
package in

import (
	"context"

	common "github.com/duskvault/signing-core/pkg/common"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
)

// CreateKeysetRequest asks the SM to mint a new server key share for one of
// the three multisig constructions.
type CreateKeysetRequest struct {
	Network common.Network
	Kind    smentities.KeysetKind
}

// CreateKeysetResult returns the keyset id and whatever public material the
// control plane may redistribute to clients.
type CreateKeysetResult struct {
	KeysetID       string
	PublicMaterial smentities.PublicMaterial
}

// SigningMethod selects the SM's signing path: Normal derives along
// each input's BIP-32 path; LegacySweep signs with a source keyset's key
// even though the caller's active keyset is a different one.
type SigningMethod string

const (
	MethodNormal      SigningMethod = "Normal"
	MethodLegacySweep SigningMethod = "LegacySweep"
)

// SignPSBTRequest asks the SM to produce server signatures for every input
// of a PSBT the control plane has already validated and policy-cleared.
// For LegacySweep, KeysetID names the source (inactive) keyset and
// ActiveDescriptor records the destination keyset for the audit log.
type SignPSBTRequest struct {
	KeysetID         string
	PSBTBase64       string
	Method           SigningMethod
	ActiveDescriptor string
}

// SignPSBTResult carries the PSBT back with the server's signatures applied.
type SignPSBTResult struct {
	SignedPSBTBase64 string
}

// KeyStoreService is the inbound port the control plane's SigningOrchestrator
// calls to create keysets and produce server signatures.
type KeyStoreService interface {
	CreateKeyset(ctx context.Context, req CreateKeysetRequest) (CreateKeysetResult, error)
	SignPSBT(ctx context.Context, req SignPSBTRequest) (SignPSBTResult, error)
	// RotateIntegrityMaterial replaces the per-installation integrity key
	// that countersigns PrivateMultiSig public material. Administrative
	// only; exposed to operators through cmd/wsm-admin.
	RotateIntegrityMaterial(ctx context.Context) error
}
