package sink

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"twimer/internal/config"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoPingTimeout = 10 * time.Second

// MongoSink inserts one document per record.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongo connects to cfg.Target and pings the primary. A database named in
// the URL path overrides cfg.Database.
func NewMongo(ctx context.Context, cfg config.StorageConfig) (*MongoSink, error) {
	dbName := mongoDatabase(cfg)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Target))
	if err != nil {
		return nil, &config.Error{Field: "storage.target", Msg: "connect to mongodb", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &config.Error{Field: "storage.target", Msg: "mongodb is unreachable", Err: err}
	}

	return &MongoSink{
		client:     client,
		collection: client.Database(dbName).Collection(cfg.Collection),
	}, nil
}

func mongoDatabase(cfg config.StorageConfig) string {
	if u, err := url.Parse(cfg.Target); err == nil {
		if db := strings.Trim(u.Path, "/"); db != "" {
			return db
		}
	}
	if cfg.Database != "" {
		return cfg.Database
	}
	return "twimer"
}

func (s *MongoSink) Name() string { return "mongodb" }

func (s *MongoSink) Persist(ctx context.Context, id string, payload []byte) error {
	doc, err := toDocument(payload)
	if err != nil {
		return &Error{Sink: s.Name(), Kind: KindRemote, ID: id, Err: err}
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return &Error{Sink: s.Name(), Kind: KindRemote, ID: id, Err: err}
	}
	return nil
}

// toDocument converts the received JSON into BSON. Relaxed extended JSON
// keeps integers as int32/int64, so 64-bit ids survive.
func toDocument(payload []byte) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(payload, false, &doc); err != nil {
		return nil, fmt.Errorf("convert to bson: %w", err)
	}
	return doc, nil
}

func (s *MongoSink) Count(ctx context.Context) (int, error) {
	n, err := s.collection.EstimatedDocumentCount(ctx)
	return int(n), err
}

// Check pings the primary.
func (s *MongoSink) Check(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
