package in

import (
	"context"

	common "github.com/duskvault/signing-core/pkg/common"
	entities "github.com/duskvault/signing-core/pkg/cp/account/entities"
)

// CreateAccountRequest is the CreateAccount inbound operation.
type CreateAccountRequest struct {
	Network     common.Network
	AppPub      []byte
	HardwarePub []byte
	RecoveryPub []byte // optional
	KeysetKind  entities.KeysetKind
	IsTestAccount bool
	DailyCapSats  int64
}

// CreateAccountResult returns the new account id and whatever public
// material the SM produced for its spending keyset.
type CreateAccountResult struct {
	AccountID      string
	ServerPubMaterial []byte
	IntegritySig      []byte
}

// WatchAddressEntry pairs one address with the keyset it derives from.
type WatchAddressEntry struct {
	Address  string
	KeysetID string
}

// RegisterWatchAddressesRequest is the RegisterWatchAddress operation.
type RegisterWatchAddressesRequest struct {
	AccountID string
	Entries   []WatchAddressEntry
}

// AccountService is the inbound port backing the CreateAccount and
// RegisterWatchAddress operations. Keyset minting itself is delegated to
// the SM's KeyStoreService; this port only owns the control-plane side of
// account creation.
type AccountService interface {
	CreateAccount(ctx context.Context, req CreateAccountRequest) (CreateAccountResult, error)
	RegisterWatchAddresses(ctx context.Context, req RegisterWatchAddressesRequest) error
}
