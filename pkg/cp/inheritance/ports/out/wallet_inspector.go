package out

import (
	"context"

	entities "github.com/duskvault/signing-core/pkg/cp/inheritance/entities"
)

// WalletInspector is the abstract chain-indexer boundary used to confirm an
// empty-balance completion: the benefactor wallet must actually hold no
// spendable balance before a claim may complete without a sweep.
type WalletInspector interface {
	HasSpendableBalance(ctx context.Context, snapshot entities.KeysetSnapshot) (bool, error)
}
