// Package services implements the control-plane account inbound ports.
package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	common "github.com/duskvault/signing-core/pkg/common"
	entities "github.com/duskvault/signing-core/pkg/cp/account/entities"
	in "github.com/duskvault/signing-core/pkg/cp/account/ports/in"
	out "github.com/duskvault/signing-core/pkg/cp/account/ports/out"
	smin "github.com/duskvault/signing-core/pkg/sm/ports/in"
	smentities "github.com/duskvault/signing-core/pkg/sm/entities"
)

// AccountService creates accounts by minting a server spending keyset
// through the SM's KeyStoreService and persisting the resulting aggregate.
type AccountService struct {
	accounts  out.AccountRepository
	watchlist out.WatchlistRepository
	keystore  smin.KeyStoreService
}

// NewAccountService constructs an AccountService bound to its repositories
// and the SM-resident key store.
func NewAccountService(accounts out.AccountRepository, watchlist out.WatchlistRepository, keystore smin.KeyStoreService) *AccountService {
	return &AccountService{accounts: accounts, watchlist: watchlist, keystore: keystore}
}

var _ in.AccountService = (*AccountService)(nil)

func (s *AccountService) CreateAccount(ctx context.Context, req in.CreateAccountRequest) (in.CreateAccountResult, error) {
	if !req.Network.Valid() {
		return in.CreateAccountResult{}, common.NewErrInvalidInput("unrecognized network %q", req.Network)
	}
	if existing, _ := s.accounts.FindByAuthPubKey(ctx, req.AppPub); existing != nil {
		return in.CreateAccountResult{}, common.NewErrConflict("app public key already bound to an active account")
	}
	if existing, _ := s.accounts.FindByAuthPubKey(ctx, req.HardwarePub); existing != nil {
		return in.CreateAccountResult{}, common.NewErrConflict("hardware public key already bound to an active account")
	}

	smKind, err := toSMKind(req.KeysetKind)
	if err != nil {
		return in.CreateAccountResult{}, err
	}

	keysetResult, err := s.keystore.CreateKeyset(ctx, smin.CreateKeysetRequest{Network: req.Network, Kind: smKind})
	if err != nil {
		return in.CreateAccountResult{}, fmt.Errorf("account: creating server keyset: %w", err)
	}

	spendingKeyset, err := toCPKeyset(req, keysetResult)
	if err != nil {
		return in.CreateAccountResult{}, err
	}

	authKeys := entities.AuthKeySet{AppPub: req.AppPub, HardwarePub: req.HardwarePub, RecoveryPub: req.RecoveryPub}

	account, err := entities.NewAccount(req.Network, authKeys, spendingKeyset, req.IsTestAccount, req.DailyCapSats)
	if err != nil {
		return in.CreateAccountResult{}, err
	}

	if err := s.accounts.Insert(ctx, account); err != nil {
		return in.CreateAccountResult{}, fmt.Errorf("account: persisting account: %w", err)
	}

	slog.InfoContext(ctx, "account created", "account_id", account.ID, "network", req.Network, "keyset_kind", req.KeysetKind)

	return in.CreateAccountResult{
		AccountID:         account.ID.String(),
		ServerPubMaterial: publicMaterialBytes(keysetResult.PublicMaterial),
		IntegritySig:      keysetResult.PublicMaterial.IntegritySig,
	}, nil
}

// RegisterWatchAddresses validates each address against its keyset's bound
// network and records the registration for the external chain indexer. A
// request whose addresses disagree with the bound network is rejected.
func (s *AccountService) RegisterWatchAddresses(ctx context.Context, req in.RegisterWatchAddressesRequest) error {
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return common.NewErrInvalidInput("malformed account id: %v", err)
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("account: loading account: %w", err)
	}
	if account == nil {
		return common.NewErrNotFound("account", req.AccountID)
	}
	if len(req.Entries) == 0 {
		return common.NewErrInvalidInput("no addresses to register")
	}

	for _, entry := range req.Entries {
		keysetID, err := uuid.Parse(entry.KeysetID)
		if err != nil {
			return common.NewErrInvalidInput("malformed keyset id: %v", err)
		}
		keyset, ok := account.SpendingKeysets[keysetID]
		if !ok {
			return common.NewErrNotFound("keyset", entry.KeysetID)
		}
		params := watchNetParams(keyset.Network)
		addr, err := btcutil.DecodeAddress(entry.Address, params)
		if err != nil {
			return common.NewErrInvalidInput("address %s is not valid for network %s: %v", entry.Address, keyset.Network, err)
		}
		if !addr.IsForNet(params) {
			return common.NewErrInvalidInput("address %s is not valid for network %s", entry.Address, keyset.Network)
		}
		if err := s.watchlist.Upsert(ctx, entities.NewWatchedAddress(req.AccountID, entry.KeysetID, entry.Address)); err != nil {
			return fmt.Errorf("account: persisting watch address: %w", err)
		}
	}

	slog.InfoContext(ctx, "watch addresses registered", "account_id", req.AccountID, "count", len(req.Entries))
	return nil
}

func watchNetParams(n common.Network) *chaincfg.Params {
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

func toSMKind(k entities.KeysetKind) (smentities.KeysetKind, error) {
	switch k {
	case entities.LegacyMultiSig:
		return smentities.LegacyMultiSig, nil
	case entities.PrivateMultiSig:
		return smentities.PrivateMultiSig, nil
	case entities.DistributedKey:
		return smentities.DistributedKey, nil
	default:
		return "", common.NewErrInvalidInput("unrecognized keyset kind %q", k)
	}
}

// toCPKeyset builds the account's first spending keyset from the SM's
// minted server share plus the caller-supplied app/hardware public keys.
// The account's auth keys double as its first keyset's app/hardware
// descriptor keys; a later re-key operation (out of this budget) would
// introduce independent per-keyset wallet keys.
func toCPKeyset(req in.CreateAccountRequest, r smin.CreateKeysetResult) (entities.SpendingKeyset, error) {
	ks := entities.SpendingKeyset{ID: uuid.Nil, Network: req.Network, Kind: req.KeysetKind, ServerFingerprint: r.PublicMaterial.Fingerprint}
	switch req.KeysetKind {
	case entities.LegacyMultiSig:
		ks.AppDPub = base64.StdEncoding.EncodeToString(req.AppPub)
		ks.HardwareDPub = base64.StdEncoding.EncodeToString(req.HardwarePub)
		ks.ServerDPub = r.PublicMaterial.XPub
	case entities.PrivateMultiSig:
		ks.AppPub = req.AppPub
		ks.HardwarePub = req.HardwarePub
		ks.ServerPub = r.PublicMaterial.PubKey
		ks.ServerPubIntegritySig = r.PublicMaterial.IntegritySig
	case entities.DistributedKey:
		ks.PublicKey = r.PublicMaterial.PubKey
	}
	return ks, nil
}

func publicMaterialBytes(m smentities.PublicMaterial) []byte {
	if len(m.PubKey) > 0 {
		return m.PubKey
	}
	return []byte(m.XPub)
}
