package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	common "github.com/duskvault/signing-core/pkg/common"
	sm_entities "github.com/duskvault/signing-core/pkg/sm/entities"
	sm_services "github.com/duskvault/signing-core/pkg/sm/services"
)

// The signing module's collections live in a separate database from the
// control plane's in any real deployment; the repository types only see a
// *mongo.Database handle either way.

const (
	serverKeysCollection   = "server_key_records"
	deksCollection         = "deks"
	integrityKeysCollection = "integrity_keys"
)

// KeysetRepository implements sm_services.KeysetRepository. ServerKeyRecords
// are immutable after creation: this repository has no update path.
type KeysetRepository struct {
	db *mongo.Database
}

// NewKeysetRepository creates the repository.
func NewKeysetRepository(mdb *mongo.Database) sm_services.KeysetRepository {
	return &KeysetRepository{db: mdb}
}

func (r *KeysetRepository) Insert(ctx context.Context, rec *sm_entities.ServerKeyRecord) error {
	rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.Collection(serverKeysCollection).InsertOne(ctx, rec)
	if mongo.IsDuplicateKeyError(err) {
		return common.NewErrConflict("keyset %s already exists", rec.KeysetID)
	}
	if err != nil {
		return fmt.Errorf("mongodb: inserting server key record: %w", err)
	}
	return nil
}

func (r *KeysetRepository) FindByID(ctx context.Context, keysetID string) (*sm_entities.ServerKeyRecord, error) {
	var rec sm_entities.ServerKeyRecord
	err := r.db.Collection(serverKeysCollection).FindOne(ctx, bson.M{"_id": keysetID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading server key record: %w", err)
	}
	return &rec, nil
}

// DEKRepository implements sm_services.DEKRepository.
type DEKRepository struct {
	db *mongo.Database
}

// NewDEKRepository creates the repository and ensures its indexes.
func NewDEKRepository(mdb *mongo.Database) sm_services.DEKRepository {
	repo := &DEKRepository{db: mdb}
	ctx := context.Background()
	_, err := mdb.Collection(deksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "isavailable", Value: 1}, {Key: "createdat", Value: -1}},
		Options: options.Index(),
	})
	if err != nil {
		slog.Error("failed to create dek index", "error", err)
	}
	return repo
}

func (r *DEKRepository) CurrentAvailable(ctx context.Context) (*sm_entities.DEK, error) {
	var dek sm_entities.DEK
	opts := options.FindOne().SetSort(bson.D{{Key: "createdat", Value: -1}})
	err := r.db.Collection(deksCollection).FindOne(ctx, bson.M{"isavailable": true}, opts).Decode(&dek)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading current dek: %w", err)
	}
	return &dek, nil
}

func (r *DEKRepository) FindByID(ctx context.Context, dekID string) (*sm_entities.DEK, error) {
	var dek sm_entities.DEK
	err := r.db.Collection(deksCollection).FindOne(ctx, bson.M{"_id": dekID}).Decode(&dek)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading dek: %w", err)
	}
	return &dek, nil
}

func (r *DEKRepository) Insert(ctx context.Context, dek *sm_entities.DEK) error {
	if _, err := r.db.Collection(deksCollection).InsertOne(ctx, dek); err != nil {
		return fmt.Errorf("mongodb: inserting dek: %w", err)
	}
	return nil
}

func (r *DEKRepository) MarkRetired(ctx context.Context, dekID string) error {
	now := time.Now().UTC()
	_, err := r.db.Collection(deksCollection).UpdateOne(ctx,
		bson.M{"_id": dekID},
		bson.M{"$set": bson.M{"isavailable": false, "retiredat": now}},
	)
	if err != nil {
		return fmt.Errorf("mongodb: retiring dek: %w", err)
	}
	return nil
}

// IntegrityRepository implements sm_services.IntegrityRepository.
type IntegrityRepository struct {
	db *mongo.Database
}

// NewIntegrityRepository creates the repository.
func NewIntegrityRepository(mdb *mongo.Database) sm_services.IntegrityRepository {
	return &IntegrityRepository{db: mdb}
}

func (r *IntegrityRepository) Insert(ctx context.Context, rec *sm_entities.IntegrityKeyRecord) error {
	if _, err := r.db.Collection(integrityKeysCollection).InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("mongodb: inserting integrity key: %w", err)
	}
	return nil
}

func (r *IntegrityRepository) Current(ctx context.Context) (*sm_entities.IntegrityKeyRecord, error) {
	var rec sm_entities.IntegrityKeyRecord
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := r.db.Collection(integrityKeysCollection).FindOne(ctx, bson.M{"retired": false}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading integrity key: %w", err)
	}
	return &rec, nil
}

func (r *IntegrityRepository) MarkRetired(ctx context.Context, keyID string) error {
	_, err := r.db.Collection(integrityKeysCollection).UpdateOne(ctx,
		bson.M{"_id": keyID},
		bson.M{"$set": bson.M{"retired": true}},
	)
	if err != nil {
		return fmt.Errorf("mongodb: retiring integrity key: %w", err)
	}
	return nil
}
