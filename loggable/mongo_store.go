package loggable

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/gorm"
)

// DefaultCollection holds log entries in MongoDB.
const DefaultCollection = "ext_log_entries"

// MongoStore keeps log entries in a MongoDB collection. Entries are written
// as soon as the change is made and are not rolled back with it.
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore returns a store writing to collection of db.
func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// Migrate creates the collection indexes.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "object_class", Value: 1}, {Key: "object_id", Value: 1}, {Key: "version", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "logged_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("loggable/mongo: migrate indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) NextVersion(ctx context.Context, _ *gorm.DB, class, id string) (int, error) {
	var last LogEntry
	err := s.coll.FindOne(ctx,
		bson.M{"object_class": class, "object_id": id},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}).SetProjection(bson.M{"version": 1}),
	).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loggable/mongo: read version of %s#%s: %w", class, id, err)
	}
	return last.Version + 1, nil
}

func (s *MongoStore) Save(ctx context.Context, _ *gorm.DB, entry *LogEntry) error {
	if _, err := s.coll.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("loggable/mongo: save entry of %s#%s: %w", entry.ObjectClass, entry.ObjectID, err)
	}
	return nil
}

func (s *MongoStore) Entries(ctx context.Context, class, id string) ([]LogEntry, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"object_class": class, "object_id": id},
		options.Find().SetSort(bson.D{{Key: "version", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("loggable/mongo: list entries of %s#%s: %w", class, id, err)
	}
	var entries []LogEntry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("loggable/mongo: decode entries: %w", err)
	}
	return entries, nil
}
