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
	ledger_entities "github.com/duskvault/signing-core/pkg/cp/ledger/entities"
	ledger_out "github.com/duskvault/signing-core/pkg/cp/ledger/ports/out"
)

const spendingRecordsCollection = "daily_spending_records"

// LedgerRepository implements ledger_out.LedgerRepository on MongoDB. The
// 30-day expiry rides on a TTL index over expires_at.
type LedgerRepository struct {
	db *mongo.Database
}

// NewLedgerRepository creates the repository and ensures its indexes.
func NewLedgerRepository(mdb *mongo.Database) ledger_out.LedgerRepository {
	repo := &LedgerRepository{db: mdb}
	repo.ensureIndexes()
	return repo
}

func (r *LedgerRepository) ensureIndexes() {
	ctx := context.Background()
	collection := r.db.Collection(spendingRecordsCollection)
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Error("failed to create spending record indexes", "error", err)
	}
}

type spendingRecordDoc struct {
	AccountID string                           `bson:"account_id"`
	Date      string                           `bson:"date"`
	Version   int                              `bson:"version"`
	ExpiresAt time.Time                        `bson:"expires_at"`
	Entries   []ledger_entities.SpendingEntry  `bson:"entries"`
}

func (r *LedgerRepository) FindByAccountAndDate(ctx context.Context, accountID string, date time.Time) (*ledger_entities.DailySpendingRecord, error) {
	day := date.UTC().Format("2006-01-02")
	var doc spendingRecordDoc
	err := r.db.Collection(spendingRecordsCollection).FindOne(ctx, bson.M{"account_id": accountID, "date": day}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading spending record: %w", err)
	}
	return &ledger_entities.DailySpendingRecord{
		AccountID: doc.AccountID,
		Date:      doc.Date,
		Version:   doc.Version,
		ExpiresAt: doc.ExpiresAt,
		Entries:   doc.Entries,
	}, nil
}

func (r *LedgerRepository) Insert(ctx context.Context, rec *ledger_entities.DailySpendingRecord) error {
	doc := spendingRecordDoc{
		AccountID: rec.AccountID,
		Date:      rec.Date,
		Version:   rec.Version,
		ExpiresAt: rec.ExpiresAt,
		Entries:   rec.Entries,
	}
	_, err := r.db.Collection(spendingRecordsCollection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		// Another writer created today's record first; the caller re-reads.
		return common.NewErrConflict("spending record for %s/%s already exists", rec.AccountID, rec.Date)
	}
	if err != nil {
		return fmt.Errorf("mongodb: inserting spending record: %w", err)
	}
	return nil
}

func (r *LedgerRepository) Update(ctx context.Context, rec *ledger_entities.DailySpendingRecord, expectedVersion int) error {
	res, err := r.db.Collection(spendingRecordsCollection).UpdateOne(ctx,
		bson.M{"account_id": rec.AccountID, "date": rec.Date, "version": expectedVersion},
		bson.M{"$set": bson.M{"version": rec.Version, "entries": rec.Entries}},
	)
	if err != nil {
		return fmt.Errorf("mongodb: updating spending record: %w", err)
	}
	if res.MatchedCount == 0 {
		return common.NewErrConflict("spending record %s/%s version %d has moved", rec.AccountID, rec.Date, expectedVersion)
	}
	return nil
}
