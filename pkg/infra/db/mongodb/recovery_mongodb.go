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
	recovery_entities "github.com/duskvault/signing-core/pkg/cp/recovery/entities"
	recovery_out "github.com/duskvault/signing-core/pkg/cp/recovery/ports/out"
)

const recoveriesCollection = "recovery_attempts"

// RecoveryRepository implements recovery_out.RecoveryRepository on MongoDB.
// The partial unique index over pending attempts enforces the at-most-one-
// pending-per-account invariant at the storage layer as well.
type RecoveryRepository struct {
	db *mongo.Database
}

// NewRecoveryRepository creates the repository and ensures its indexes.
func NewRecoveryRepository(mdb *mongo.Database) recovery_out.RecoveryRepository {
	repo := &RecoveryRepository{db: mdb}
	repo.ensureIndexes()
	return repo
}

func (r *RecoveryRepository) ensureIndexes() {
	ctx := context.Background()
	collection := r.db.Collection(recoveriesCollection)
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "account_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"status": string(recovery_entities.StatusPending)},
			),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "delay_end_at", Value: 1}}},
		{Keys: bson.D{{Key: "destination.app_pub", Value: 1}}},
		{Keys: bson.D{{Key: "destination.hardware_pub", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Error("failed to create recovery indexes", "error", err)
	}
}

func (r *RecoveryRepository) Insert(ctx context.Context, attempt *recovery_entities.RecoveryAttempt) error {
	_, err := r.db.Collection(recoveriesCollection).InsertOne(ctx, attempt)
	if mongo.IsDuplicateKeyError(err) {
		return common.NewErrConflict("a pending recovery already exists for account %s", attempt.AccountID)
	}
	if err != nil {
		return fmt.Errorf("mongodb: inserting recovery attempt: %w", err)
	}
	return nil
}

func (r *RecoveryRepository) FindByID(ctx context.Context, id string) (*recovery_entities.RecoveryAttempt, error) {
	recoveryID, err := uuid.Parse(id)
	if err != nil {
		return nil, common.NewErrInvalidInput("malformed recovery id: %v", err)
	}
	var attempt recovery_entities.RecoveryAttempt
	err = r.db.Collection(recoveriesCollection).FindOne(ctx, bson.M{"_id": recoveryID}).Decode(&attempt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading recovery attempt: %w", err)
	}
	return &attempt, nil
}

func (r *RecoveryRepository) FindPendingByAccount(ctx context.Context, accountID string) (*recovery_entities.RecoveryAttempt, error) {
	var attempt recovery_entities.RecoveryAttempt
	err := r.db.Collection(recoveriesCollection).FindOne(ctx, bson.M{
		"account_id": accountID,
		"status":     string(recovery_entities.StatusPending),
	}).Decode(&attempt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: finding pending recovery: %w", err)
	}
	return &attempt, nil
}

func (r *RecoveryRepository) FindPendingByDestinationKey(ctx context.Context, pubKey []byte) (*recovery_entities.RecoveryAttempt, error) {
	var attempt recovery_entities.RecoveryAttempt
	err := r.db.Collection(recoveriesCollection).FindOne(ctx, bson.M{
		"status": string(recovery_entities.StatusPending),
		"$or": []bson.M{
			{"destination.app_pub": pubKey},
			{"destination.hardware_pub": pubKey},
			{"destination.recovery_pub": pubKey},
		},
	}).Decode(&attempt)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: finding pending recovery by destination key: %w", err)
	}
	return &attempt, nil
}

func (r *RecoveryRepository) Update(ctx context.Context, attempt *recovery_entities.RecoveryAttempt, expectedVersion int) error {
	res, err := r.db.Collection(recoveriesCollection).ReplaceOne(ctx,
		bson.M{"_id": attempt.ID, "version": expectedVersion},
		attempt,
	)
	if err != nil {
		return fmt.Errorf("mongodb: updating recovery attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return common.NewErrConflict("recovery %s version %d has moved", attempt.ID, expectedVersion)
	}
	return nil
}

func (r *RecoveryRepository) FindPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*recovery_entities.RecoveryAttempt, error) {
	cursor, err := r.db.Collection(recoveriesCollection).Find(ctx, bson.M{
		"status":       string(recovery_entities.StatusPending),
		"delay_end_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("mongodb: listing stale recoveries: %w", err)
	}
	defer cursor.Close(ctx)
	var out []*recovery_entities.RecoveryAttempt
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb: decoding stale recoveries: %w", err)
	}
	return out, nil
}
