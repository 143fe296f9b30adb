package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	common "github.com/duskvault/signing-core/pkg/common"
	inheritance_entities "github.com/duskvault/signing-core/pkg/cp/inheritance/entities"
	inheritance_out "github.com/duskvault/signing-core/pkg/cp/inheritance/ports/out"
)

const (
	relationshipsCollection = "inheritance_relationships"
	packagesCollection      = "inheritance_packages"
	claimsCollection        = "inheritance_claims"
)

// RelationshipRepository implements inheritance_out.RelationshipRepository.
type RelationshipRepository struct {
	db *mongo.Database
}

// NewRelationshipRepository creates the repository and ensures its indexes.
func NewRelationshipRepository(mdb *mongo.Database) inheritance_out.RelationshipRepository {
	repo := &RelationshipRepository{db: mdb}
	repo.ensureIndexes()
	return repo
}

func (r *RelationshipRepository) ensureIndexes() {
	ctx := context.Background()
	if _, err := r.db.Collection(relationshipsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "benefactor_account_id", Value: 1}, {Key: "beneficiary_account_id", Value: 1}},
	}); err != nil {
		slog.Error("failed to create relationship index", "error", err)
	}
	if _, err := r.db.Collection(packagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "relationship_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		slog.Error("failed to create package index", "error", err)
	}
}

func (r *RelationshipRepository) Insert(ctx context.Context, rel *inheritance_entities.Relationship) error {
	if _, err := r.db.Collection(relationshipsCollection).InsertOne(ctx, rel); err != nil {
		return fmt.Errorf("mongodb: inserting relationship: %w", err)
	}
	return nil
}

func (r *RelationshipRepository) FindByID(ctx context.Context, id string) (*inheritance_entities.Relationship, error) {
	relID, err := uuid.Parse(id)
	if err != nil {
		return nil, common.NewErrInvalidInput("malformed relationship id: %v", err)
	}
	var rel inheritance_entities.Relationship
	err = r.db.Collection(relationshipsCollection).FindOne(ctx, bson.M{"_id": relID}).Decode(&rel)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading relationship: %w", err)
	}
	return &rel, nil
}

func (r *RelationshipRepository) Update(ctx context.Context, rel *inheritance_entities.Relationship, expectedVersion int) error {
	res, err := r.db.Collection(relationshipsCollection).ReplaceOne(ctx,
		bson.M{"_id": rel.ID, "version": expectedVersion},
		rel,
	)
	if err != nil {
		return fmt.Errorf("mongodb: updating relationship: %w", err)
	}
	if res.MatchedCount == 0 {
		return common.NewErrConflict("relationship %s version %d has moved", rel.ID, expectedVersion)
	}
	return nil
}

func (r *RelationshipRepository) UpsertPackage(ctx context.Context, p *inheritance_entities.Package) error {
	_, err := r.db.Collection(packagesCollection).ReplaceOne(ctx,
		bson.M{"relationship_id": p.RelationshipID},
		p,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongodb: upserting package: %w", err)
	}
	return nil
}

func (r *RelationshipRepository) FindPackageByRelationship(ctx context.Context, relationshipID string) (*inheritance_entities.Package, error) {
	var p inheritance_entities.Package
	err := r.db.Collection(packagesCollection).FindOne(ctx, bson.M{"relationship_id": relationshipID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading package: %w", err)
	}
	return &p, nil
}

// ClaimRepository implements inheritance_out.ClaimRepository.
type ClaimRepository struct {
	db *mongo.Database
}

// NewClaimRepository creates the repository and ensures the partial unique
// index enforcing at most one non-terminal claim per relationship.
func NewClaimRepository(mdb *mongo.Database) inheritance_out.ClaimRepository {
	repo := &ClaimRepository{db: mdb}
	ctx := context.Background()
	_, err := mdb.Collection(claimsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "relationship_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
			"status": bson.M{"$in": []string{
				string(inheritance_entities.ClaimPending),
				string(inheritance_entities.ClaimLocked),
			}},
		}),
	})
	if err != nil {
		slog.Error("failed to create claim index", "error", err)
	}
	return repo
}

func (r *ClaimRepository) Insert(ctx context.Context, c *inheritance_entities.InheritanceClaim) error {
	_, err := r.db.Collection(claimsCollection).InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return common.NewErrConflict("a non-terminal claim already exists for relationship %s", c.RelationshipID)
	}
	if err != nil {
		return fmt.Errorf("mongodb: inserting claim: %w", err)
	}
	return nil
}

func (r *ClaimRepository) FindByID(ctx context.Context, id string) (*inheritance_entities.InheritanceClaim, error) {
	claimID, err := uuid.Parse(id)
	if err != nil {
		return nil, common.NewErrInvalidInput("malformed claim id: %v", err)
	}
	var c inheritance_entities.InheritanceClaim
	err = r.db.Collection(claimsCollection).FindOne(ctx, bson.M{"_id": claimID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading claim: %w", err)
	}
	return &c, nil
}

func (r *ClaimRepository) FindNonTerminalByRelationship(ctx context.Context, relationshipID string) (*inheritance_entities.InheritanceClaim, error) {
	var c inheritance_entities.InheritanceClaim
	err := r.db.Collection(claimsCollection).FindOne(ctx, bson.M{
		"relationship_id": relationshipID,
		"status": bson.M{"$in": []string{
			string(inheritance_entities.ClaimPending),
			string(inheritance_entities.ClaimLocked),
		}},
	}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: finding non-terminal claim: %w", err)
	}
	return &c, nil
}

func (r *ClaimRepository) Update(ctx context.Context, c *inheritance_entities.InheritanceClaim, expectedVersion int) error {
	res, err := r.db.Collection(claimsCollection).ReplaceOne(ctx,
		bson.M{"_id": c.ID, "version": expectedVersion},
		c,
	)
	if err != nil {
		return fmt.Errorf("mongodb: updating claim: %w", err)
	}
	if res.MatchedCount == 0 {
		return common.NewErrConflict("claim %s version %d has moved", c.ID, expectedVersion)
	}
	return nil
}
