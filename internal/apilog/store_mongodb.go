package apilog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBSink implements Sink for MongoDB. Retention is handled by a
// TTL index on added_on rather than a cleanup goroutine.
type MongoDBSink struct {
	collection *mongo.Collection
}

// NewMongoDBSink creates a MongoDB sink writing to the collection
// derived from the logical target name. With autoProvision the indexes
// (including the TTL index when retention is configured) are created.
// Without provisioning a missing collection surfaces as
// ErrSinkUnavailable from Ping.
func NewMongoDBSink(database *mongo.Database, target string, autoProvision bool, retentionDays int) (*MongoDBSink, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	collection := database.Collection(TableForTarget(target))

	if autoProvision {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		indexes := []mongo.IndexModel{
			{Keys: bson.D{{Key: "added_on", Value: -1}}},
			{Keys: bson.D{{Key: "method", Value: 1}}},
			{Keys: bson.D{{Key: "status_code", Value: 1}}},
			{Keys: bson.D{{Key: "api", Value: 1}}},
		}

		if retentionDays > 0 {
			ttlSeconds := int32(retentionDays * 24 * 60 * 60)
			indexes = append(indexes, mongo.IndexModel{
				Keys:    bson.D{{Key: "added_on", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(ttlSeconds),
			})
		}

		if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
			// Indexes may already exist
			slog.Warn("failed to create some MongoDB indexes", "error", err)
		}
	}

	return &MongoDBSink{collection: collection}, nil
}

// WriteBatch writes records to MongoDB using an unordered InsertMany.
func (s *MongoDBSink) WriteBatch(ctx context.Context, batch []*Record) error {
	if len(batch) == 0 {
		return nil
	}

	docs := make([]interface{}, len(batch))
	for i, r := range batch {
		docs[i] = r
	}

	// Unordered insert continues past individual document failures
	opts := options.InsertMany().SetOrdered(false)
	_, err := s.collection.InsertMany(ctx, docs, opts)
	if err != nil {
		if bulkErr, ok := err.(mongo.BulkWriteException); ok {
			slog.Warn("partial log record insert failure",
				"total", len(batch),
				"errors", len(bulkErr.WriteErrors),
			)
			return nil
		}
		return fmt.Errorf("failed to insert log records: %w", err)
	}

	return nil
}

// Ping verifies the target collection exists.
func (s *MongoDBSink) Ping(ctx context.Context) error {
	names, err := s.collection.Database().ListCollectionNames(ctx,
		bson.D{{Key: "name", Value: s.collection.Name()}})
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: collection %s does not exist, provision the sink", ErrSinkUnavailable, s.collection.Name())
	}
	return nil
}

// Close is a no-op; the client is managed by the storage layer.
func (s *MongoDBSink) Close() error {
	return nil
}
