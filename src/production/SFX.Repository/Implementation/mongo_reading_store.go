package implementation

import (
	"context"
	"errors"
	"fmt"

	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// newestFirst orders by receipt time, then by insertion order for equal stamps.
var newestFirst = bson.D{{Key: "received_at", Value: -1}, {Key: "_id", Value: -1}}

type mongoReading struct {
	ID                primitive.ObjectID `bson:"_id"`
	sfxmodels.Reading `bson:",inline"`
}

type MongoReadingStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	clock  *receiptClock
}

// NewMongoReadingStore wraps the collection, creates the ordering index and
// seeds the receipt clock from the newest stored reading so stamps keep
// increasing across restarts.
func NewMongoReadingStore(ctx context.Context, client *mongo.Client, dbName, collName string, opts ...Option) (*MongoReadingStore, error) {
	o := buildOptions(opts)
	s := &MongoReadingStore{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
		clock:  newReceiptClock(o.now),
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		s.clock.seed(latest.ReceivedAt)
	}
	return s, nil
}

func (s *MongoReadingStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    newestFirst,
		Options: options.Index().SetName("received_at_desc"),
	})
	if err != nil {
		return unavailable("create index", err)
	}
	return nil
}

func (s *MongoReadingStore) Append(ctx context.Context, reading sfxmodels.Reading) (sfxmodels.Reading, error) {
	doc := mongoReading{
		ID:      primitive.NewObjectID(),
		Reading: cloneReading(reading),
	}
	doc.ReceivedAt = s.clock.stamp()

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return sfxmodels.Reading{}, unavailable("insert reading", err)
	}

	stored := doc.Reading
	stored.ID = doc.ID.Hex()
	return stored, nil
}

func (s *MongoReadingStore) Latest(ctx context.Context) (*sfxmodels.Reading, error) {
	var doc mongoReading
	err := s.coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(newestFirst)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find latest", err)
	}

	reading := doc.Reading
	reading.ID = doc.ID.Hex()
	reading.ReceivedAt = reading.ReceivedAt.UTC()
	return &reading, nil
}

func (s *MongoReadingStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *MongoReadingStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}
