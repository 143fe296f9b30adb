package entities

import (
	common "github.com/duskvault/signing-core/pkg/common"
)

// WatchedAddress is one address registered for chain-side monitoring
// against a keyset. Monitoring itself happens in
// the external chain indexer; the core only keeps the registration.
type WatchedAddress struct {
	common.BaseRecord `bson:",inline"`

	AccountID string `bson:"account_id"`
	KeysetID  string `bson:"keyset_id"`
	Address   string `bson:"address"`
}

// NewWatchedAddress constructs a registration record.
func NewWatchedAddress(accountID, keysetID, address string) *WatchedAddress {
	return &WatchedAddress{
		BaseRecord: common.NewBaseRecord(),
		AccountID:  accountID,
		KeysetID:   keysetID,
		Address:    address,
	}
}
