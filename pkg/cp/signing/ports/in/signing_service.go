package in

import (
	"context"

	entities "github.com/duskvault/signing-core/pkg/cp/signing/entities"
)

// SigningService is the inbound port backing the SignTransaction operation.
type SigningService interface {
	SignTransaction(ctx context.Context, req entities.SignRequest) (entities.SignResult, error)
}
