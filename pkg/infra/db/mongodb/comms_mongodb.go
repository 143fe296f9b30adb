package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	comms_entities "github.com/duskvault/signing-core/pkg/cp/comms/entities"
	comms_out "github.com/duskvault/signing-core/pkg/cp/comms/ports/out"
)

const commsCodesCollection = "comms_codes"

// CommsCodeRepository implements comms_out.CodeRepository. One code per
// (account, scope); an upsert replaces the prior code for the scope.
type CommsCodeRepository struct {
	db *mongo.Database
}

// NewCommsCodeRepository creates the repository and ensures its indexes.
func NewCommsCodeRepository(mdb *mongo.Database) comms_out.CodeRepository {
	repo := &CommsCodeRepository{db: mdb}
	ctx := context.Background()
	_, err := mdb.Collection(commsCodesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "scope", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		slog.Error("failed to create comms code index", "error", err)
	}
	return repo
}

func (r *CommsCodeRepository) Upsert(ctx context.Context, c *comms_entities.Code) error {
	_, err := r.db.Collection(commsCodesCollection).ReplaceOne(ctx,
		bson.M{"account_id": c.AccountID, "scope": c.Scope},
		c,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongodb: upserting comms code: %w", err)
	}
	return nil
}

func (r *CommsCodeRepository) FindByScope(ctx context.Context, accountID, scope string) (*comms_entities.Code, error) {
	var c comms_entities.Code
	err := r.db.Collection(commsCodesCollection).FindOne(ctx, bson.M{"account_id": accountID, "scope": scope}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading comms code: %w", err)
	}
	return &c, nil
}
