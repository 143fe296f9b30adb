// Package db implements the control-plane and signing-module repository
// ports on MongoDB. Every aggregate with a Version field is written with a
// conditional update on that version; a write that matches no document
// surfaces common.ErrConflict for the caller's retry loop.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	common "github.com/duskvault/signing-core/pkg/common"
	account_entities "github.com/duskvault/signing-core/pkg/cp/account/entities"
	account_out "github.com/duskvault/signing-core/pkg/cp/account/ports/out"
)

const accountsCollection = "accounts"

// accountDoc flattens the Account aggregate's uuid-keyed maps into arrays;
// BSON map keys must be strings, and an array with an indexed pub_keys
// field is what FindByAuthPubKey queries anyway.
type accountDoc struct {
	ID        uuid.UUID  `bson:"_id"`
	CreatedAt time.Time  `bson:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"`
	Version   int        `bson:"version"`
	ExpiresAt *time.Time `bson:"expiring_at,omitempty"`

	AuthKeys        []authKeyDoc `bson:"auth_keys"`
	ActiveAuthKeyID uuid.UUID    `bson:"active_auth_key_id"`
	Keysets         []keysetDoc  `bson:"spending_keysets"`
	ActiveKeysetID  uuid.UUID    `bson:"active_keyset_id"`

	Touchpoints       []account_entities.Touchpoint                                            `bson:"touchpoints"`
	NotificationPrefs map[string][]account_entities.TouchpointKind                             `bson:"notification_prefs"`
	IsTestAccount     bool                                                                     `bson:"is_test_account"`
	DailyCapSats      int64                                                                    `bson:"daily_cap_sats"`
	FiatUnit          string                                                                   `bson:"fiat_unit"`
}

type authKeyDoc struct {
	ID          uuid.UUID `bson:"id"`
	AppPub      []byte    `bson:"app_pub"`
	HardwarePub []byte    `bson:"hardware_pub"`
	RecoveryPub []byte    `bson:"recovery_pub,omitempty"`
	Revoked     bool      `bson:"revoked"`
}

type keysetDoc struct {
	ID                    uuid.UUID                      `bson:"id"`
	Network               common.Network                 `bson:"network"`
	Kind                  account_entities.KeysetKind    `bson:"kind"`
	AppDPub               string                         `bson:"app_dpub,omitempty"`
	HardwareDPub          string                         `bson:"hardware_dpub,omitempty"`
	ServerDPub            string                         `bson:"server_dpub,omitempty"`
	AppPub                []byte                         `bson:"app_pub,omitempty"`
	HardwarePub           []byte                         `bson:"hardware_pub,omitempty"`
	ServerPub             []byte                         `bson:"server_pub,omitempty"`
	ServerPubIntegritySig []byte                         `bson:"server_pub_integrity_sig,omitempty"`
	PublicKey             []byte                         `bson:"public_key,omitempty"`
	DKGComplete           bool                           `bson:"dkg_complete,omitempty"`
	ServerFingerprint     []byte                         `bson:"server_fingerprint"`
	Superseded            bool                           `bson:"superseded"`
}

// AccountRepository implements account_out.AccountRepository on MongoDB.
type AccountRepository struct {
	db *mongo.Database
}

// NewAccountRepository creates the repository and ensures its indexes.
func NewAccountRepository(mdb *mongo.Database) account_out.AccountRepository {
	repo := &AccountRepository{db: mdb}
	repo.ensureIndexes()
	return repo
}

func (r *AccountRepository) ensureIndexes() {
	ctx := context.Background()
	collection := r.db.Collection(accountsCollection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "auth_keys.app_pub", Value: 1}}},
		{Keys: bson.D{{Key: "auth_keys.hardware_pub", Value: 1}}},
		{Keys: bson.D{{Key: "auth_keys.recovery_pub", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Error("failed to create account indexes", "error", err)
	}
}

func (r *AccountRepository) Insert(ctx context.Context, a *account_entities.Account) error {
	_, err := r.db.Collection(accountsCollection).InsertOne(ctx, toAccountDoc(a))
	if mongo.IsDuplicateKeyError(err) {
		return common.NewErrConflict("account %s already exists", a.ID)
	}
	if err != nil {
		return fmt.Errorf("mongodb: inserting account: %w", err)
	}
	return nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*account_entities.Account, error) {
	var doc accountDoc
	err := r.db.Collection(accountsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading account: %w", err)
	}
	return fromAccountDoc(&doc), nil
}

func (r *AccountRepository) Update(ctx context.Context, a *account_entities.Account, expectedVersion int) error {
	res, err := r.db.Collection(accountsCollection).ReplaceOne(ctx,
		bson.M{"_id": a.ID, "version": expectedVersion},
		toAccountDoc(a),
	)
	if err != nil {
		return fmt.Errorf("mongodb: updating account: %w", err)
	}
	if res.MatchedCount == 0 {
		return common.NewErrConflict("account %s version %d has moved", a.ID, expectedVersion)
	}
	return nil
}

func (r *AccountRepository) FindByAuthPubKey(ctx context.Context, pubKey []byte) (*account_entities.Account, error) {
	filter := bson.M{
		"auth_keys": bson.M{"$elemMatch": bson.M{
			"revoked": false,
			"$or": []bson.M{
				{"app_pub": pubKey},
				{"hardware_pub": pubKey},
				{"recovery_pub": pubKey},
			},
		}},
	}
	var doc accountDoc
	err := r.db.Collection(accountsCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: finding account by auth key: %w", err)
	}
	return fromAccountDoc(&doc), nil
}

func toAccountDoc(a *account_entities.Account) *accountDoc {
	doc := &accountDoc{
		ID:              a.ID,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		Version:         a.Version,
		ExpiresAt:       a.ExpiresAt,
		ActiveAuthKeyID: a.ActiveAuthKeyID,
		ActiveKeysetID:  a.ActiveKeysetID,
		Touchpoints:     a.Touchpoints,
		IsTestAccount:   a.IsTestAccount,
		DailyCapSats:    a.DailyCapSats,
		FiatUnit:        a.FiatUnit,
	}
	doc.NotificationPrefs = make(map[string][]account_entities.TouchpointKind, len(a.NotificationPrefs))
	for category, channels := range a.NotificationPrefs {
		doc.NotificationPrefs[string(category)] = channels
	}
	for _, k := range a.AuthKeys {
		doc.AuthKeys = append(doc.AuthKeys, authKeyDoc{
			ID: k.ID, AppPub: k.AppPub, HardwarePub: k.HardwarePub, RecoveryPub: k.RecoveryPub, Revoked: k.Revoked,
		})
	}
	for _, k := range a.SpendingKeysets {
		doc.Keysets = append(doc.Keysets, keysetDoc{
			ID:                    k.ID,
			Network:               k.Network,
			Kind:                  k.Kind,
			AppDPub:               k.AppDPub,
			HardwareDPub:          k.HardwareDPub,
			ServerDPub:            k.ServerDPub,
			AppPub:                k.AppPub,
			HardwarePub:           k.HardwarePub,
			ServerPub:             k.ServerPub,
			ServerPubIntegritySig: k.ServerPubIntegritySig,
			PublicKey:             k.PublicKey,
			DKGComplete:           k.DKGComplete,
			ServerFingerprint:     k.ServerFingerprint[:],
			Superseded:            k.Superseded,
		})
	}
	return doc
}

func fromAccountDoc(doc *accountDoc) *account_entities.Account {
	a := &account_entities.Account{
		BaseRecord: common.BaseRecord{
			ID: doc.ID, CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt, Version: doc.Version, ExpiresAt: doc.ExpiresAt,
		},
		AuthKeys:          make(map[uuid.UUID]*account_entities.AuthKeySet, len(doc.AuthKeys)),
		ActiveAuthKeyID:   doc.ActiveAuthKeyID,
		SpendingKeysets:   make(map[uuid.UUID]*account_entities.SpendingKeyset, len(doc.Keysets)),
		ActiveKeysetID:    doc.ActiveKeysetID,
		Touchpoints:       doc.Touchpoints,
		NotificationPrefs: make(map[account_entities.NotificationCategory][]account_entities.TouchpointKind, len(doc.NotificationPrefs)),
		IsTestAccount:     doc.IsTestAccount,
		DailyCapSats:      doc.DailyCapSats,
		FiatUnit:          doc.FiatUnit,
	}
	for category, channels := range doc.NotificationPrefs {
		a.NotificationPrefs[account_entities.NotificationCategory(category)] = channels
	}
	for i := range doc.AuthKeys {
		k := doc.AuthKeys[i]
		a.AuthKeys[k.ID] = &account_entities.AuthKeySet{
			ID: k.ID, AppPub: k.AppPub, HardwarePub: k.HardwarePub, RecoveryPub: k.RecoveryPub, Revoked: k.Revoked,
		}
	}
	for i := range doc.Keysets {
		k := doc.Keysets[i]
		ks := &account_entities.SpendingKeyset{
			ID:                    k.ID,
			Network:               k.Network,
			Kind:                  k.Kind,
			AppDPub:               k.AppDPub,
			HardwareDPub:          k.HardwareDPub,
			ServerDPub:            k.ServerDPub,
			AppPub:                k.AppPub,
			HardwarePub:           k.HardwarePub,
			ServerPub:             k.ServerPub,
			ServerPubIntegritySig: k.ServerPubIntegritySig,
			PublicKey:             k.PublicKey,
			DKGComplete:           k.DKGComplete,
			Superseded:            k.Superseded,
		}
		copy(ks.ServerFingerprint[:], k.ServerFingerprint)
		a.SpendingKeysets[k.ID] = ks
	}
	return a
}

const watchlistCollection = "watched_addresses"

// WatchlistRepository implements account_out.WatchlistRepository.
type WatchlistRepository struct {
	db *mongo.Database
}

// NewWatchlistRepository creates the repository and ensures its unique
// (account_id, address) index.
func NewWatchlistRepository(mdb *mongo.Database) account_out.WatchlistRepository {
	repo := &WatchlistRepository{db: mdb}
	ctx := context.Background()
	_, err := mdb.Collection(watchlistCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "address", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		slog.Error("failed to create watchlist index", "error", err)
	}
	return repo
}

func (r *WatchlistRepository) Upsert(ctx context.Context, w *account_entities.WatchedAddress) error {
	_, err := r.db.Collection(watchlistCollection).UpdateOne(ctx,
		bson.M{"account_id": w.AccountID, "address": w.Address},
		bson.M{"$setOnInsert": w},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongodb: upserting watched address: %w", err)
	}
	return nil
}

func (r *WatchlistRepository) ListByAccount(ctx context.Context, accountID string) ([]*account_entities.WatchedAddress, error) {
	cursor, err := r.db.Collection(watchlistCollection).Find(ctx, bson.M{"account_id": accountID})
	if err != nil {
		return nil, fmt.Errorf("mongodb: listing watched addresses: %w", err)
	}
	defer cursor.Close(ctx)
	var out []*account_entities.WatchedAddress
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb: decoding watched addresses: %w", err)
	}
	return out, nil
}
