package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	signing_entities "github.com/duskvault/signing-core/pkg/cp/signing/entities"
	signing_out "github.com/duskvault/signing-core/pkg/cp/signing/ports/out"
)

const verificationsCollection = "pending_verifications"

// VerificationRepository implements signing_out.VerificationRepository.
// Handles self-expire via a TTL index a little after the redemption window
// closes.
type VerificationRepository struct {
	db *mongo.Database
}

// NewVerificationRepository creates the repository and ensures its indexes.
func NewVerificationRepository(mdb *mongo.Database) signing_out.VerificationRepository {
	repo := &VerificationRepository{db: mdb}
	ctx := context.Background()
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "handle", Value: 1}}, Options: options.Index().SetUnique(true)},
		{
			Keys:    bson.D{{Key: "issued_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32((signing_entities.VerificationTTL * 2).Seconds())),
		},
	}
	if _, err := mdb.Collection(verificationsCollection).Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Error("failed to create verification indexes", "error", err)
	}
	return repo
}

func (r *VerificationRepository) Insert(ctx context.Context, v *signing_entities.PendingVerification) error {
	if _, err := r.db.Collection(verificationsCollection).InsertOne(ctx, v); err != nil {
		return fmt.Errorf("mongodb: inserting verification: %w", err)
	}
	return nil
}

func (r *VerificationRepository) FindByHandle(ctx context.Context, handle string) (*signing_entities.PendingVerification, error) {
	var v signing_entities.PendingVerification
	err := r.db.Collection(verificationsCollection).FindOne(ctx, bson.M{"handle": handle}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading verification: %w", err)
	}
	return &v, nil
}

func (r *VerificationRepository) Delete(ctx context.Context, handle string) error {
	if _, err := r.db.Collection(verificationsCollection).DeleteOne(ctx, bson.M{"handle": handle}); err != nil {
		return fmt.Errorf("mongodb: deleting verification: %w", err)
	}
	return nil
}
