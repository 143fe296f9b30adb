package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	common "github.com/duskvault/signing-core/pkg/common"
	notify_entities "github.com/duskvault/signing-core/pkg/cp/notify/entities"
	notify_out "github.com/duskvault/signing-core/pkg/cp/notify/ports/out"
)

const notifyEventsCollection = "notify_events"

// EventRepository implements notify_out.EventRepository: an append-only log
// where revocation flips a superseded flag rather than deleting.
type EventRepository struct {
	db *mongo.Database
}

// NewEventRepository creates the repository and ensures its indexes.
func NewEventRepository(mdb *mongo.Database) notify_out.EventRepository {
	repo := &EventRepository{db: mdb}
	ctx := context.Background()
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}, {Key: "superseded", Value: 1}}},
		{Keys: bson.D{{Key: "dispatched", Value: 1}, {Key: "superseded", Value: 1}, {Key: "not_before", Value: 1}}},
	}
	if _, err := mdb.Collection(notifyEventsCollection).Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Error("failed to create notify event indexes", "error", err)
	}
	return repo
}

func (r *EventRepository) Insert(ctx context.Context, e *notify_entities.Event) error {
	if _, err := r.db.Collection(notifyEventsCollection).InsertOne(ctx, e); err != nil {
		return fmt.Errorf("mongodb: inserting notify event: %w", err)
	}
	return nil
}

func (r *EventRepository) SupersedeByKey(ctx context.Context, key string) error {
	_, err := r.db.Collection(notifyEventsCollection).UpdateMany(ctx,
		bson.M{"key": key, "dispatched": false, "superseded": false},
		bson.M{"$set": bson.M{"superseded": true}},
	)
	if err != nil {
		return fmt.Errorf("mongodb: superseding notify events: %w", err)
	}
	return nil
}

func (r *EventRepository) DueForDispatch(ctx context.Context, asOf time.Time) ([]*notify_entities.Event, error) {
	cursor, err := r.db.Collection(notifyEventsCollection).Find(ctx, bson.M{
		"dispatched": false,
		"superseded": false,
		"not_before": bson.M{"$lte": asOf},
	})
	if err != nil {
		return nil, fmt.Errorf("mongodb: listing due notify events: %w", err)
	}
	defer cursor.Close(ctx)
	var out []*notify_entities.Event
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb: decoding due notify events: %w", err)
	}
	return out, nil
}

func (r *EventRepository) MarkDispatched(ctx context.Context, id string) error {
	eventID, err := uuid.Parse(id)
	if err != nil {
		return common.NewErrInvalidInput("malformed event id: %v", err)
	}
	_, err = r.db.Collection(notifyEventsCollection).UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$set": bson.M{"dispatched": true}},
	)
	if err != nil {
		return fmt.Errorf("mongodb: marking notify event dispatched: %w", err)
	}
	return nil
}
