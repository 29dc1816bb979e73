package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB snapshot repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. inventory
	Collection string // e.g. snapshots
}

// MongoSnapshotRepo stores snapshots as documents keyed by inventory id.
type MongoSnapshotRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

type mongoSnapshotDoc struct {
	ID      string    `bson:"_id"`
	Data    []byte    `bson:"data"`
	Entries int       `bson:"entries"`
	SavedAt time.Time `bson:"saved_at"`
}

// NewMongoSnapshotRepo establishes connection and returns repository.
func NewMongoSnapshotRepo(ctx context.Context, cfg MongoConfig) (*MongoSnapshotRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "inventory"
	}
	if cfg.Collection == "" {
		cfg.Collection = "snapshots"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	repo := &MongoSnapshotRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return repo, nil
}

func (m *MongoSnapshotRepo) ensureIndexes(ctx context.Context) error {
	savedAtIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "saved_at", Value: -1}},
		Options: options.Index().SetName("saved_at_desc"),
	}
	_, err := m.collection.Indexes().CreateOne(ctx, savedAtIdx)
	return err
}

func (m *MongoSnapshotRepo) Save(ctx context.Context, rec *InventoryRecord) (err error) {
	if err := validateRecord(rec); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "mongodb", "save", rec.ID)
	defer func() { endSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	doc := mongoSnapshotDoc{ID: rec.ID, Data: data, Entries: len(rec.Grid.Entries), SavedAt: rec.SavedAt}
	_, err = m.collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", rec.ID, err)
	}
	return nil
}

func (m *MongoSnapshotRepo) Load(ctx context.Context, id string) (rec *InventoryRecord, err error) {
	ctx, span := startSpan(ctx, "mongodb", "load", id)
	defer func() { endSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc mongoSnapshotDoc
	err = m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return decodeRecord(id, doc.Data)
}

func (m *MongoSnapshotRepo) Delete(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "mongodb", "delete", id)
	defer func() { endSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return nil
}

func (m *MongoSnapshotRepo) List(ctx context.Context) (ids []string, err error) {
	ctx, span := startSpan(ctx, "mongodb", "list", "")
	defer func() { endSpan(span, err) }()
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer cur.Close(ctx)

	ids = []string{}
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

// Close terminates connection.
func (m *MongoSnapshotRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
