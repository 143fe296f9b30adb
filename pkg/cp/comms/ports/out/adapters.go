// Package out declares the comms-verification code store and the abstract
// delivery capability; SMS/email/push transport lives outside this core.
package out

import (
	"context"

	entities "github.com/duskvault/signing-core/pkg/cp/comms/entities"
)

// CodeRepository persists issued codes. Only the latest code per
// (account, scope) matters; an insert for an existing scope supersedes the
// prior code.
type CodeRepository interface {
	Upsert(ctx context.Context, c *entities.Code) error
	FindByScope(ctx context.Context, accountID, scope string) (*entities.Code, error)
}

// CodeDeliverer hands a plaintext code to whatever routes it to the
// account's verified touchpoints. The core never persists the plaintext.
type CodeDeliverer interface {
	Deliver(ctx context.Context, accountID, scope, plaintextCode string) error
}
