package in

import (
	"context"

	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
)

// CreateGrantRequest asks the SM to countersign a challenge that the
// hardware and app factors have already signed independently, producing a
// Grant the control plane can attach to a privileged device-local operation.
// Both signatures are over the SM-recomputed request body, not a
// caller-supplied digest.
type CreateGrantRequest struct {
	Version        uint8
	Action         smentities.GrantAction
	DeviceID       []byte
	Challenge      []byte
	HwSignature    []byte
	AppSignature   []byte
	HardwarePubKey []byte
	AppPubKey      []byte
}

// GrantService is the inbound port the control plane calls once both
// non-server factors have signed a grant request.
type GrantService interface {
	CreateGrant(ctx context.Context, req CreateGrantRequest) (smentities.Grant, error)
}
