package session

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const defaultMaxAwaitTime = time.Second

// MongoDialer connects through the official driver.
type MongoDialer struct {
	ConnectTimeout time.Duration
	MaxAwaitTime   time.Duration
}

func (d MongoDialer) Dial(ctx context.Context, uri string) (Database, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cs.Database == "" {
		return nil, fmt.Errorf("connection string %q names no database", cs.Original)
	}

	opts := options.Client().
		ApplyURI(uri).
		SetRetryReads(true)
	if d.ConnectTimeout > 0 {
		opts.SetConnectTimeout(d.ConnectTimeout).SetServerSelectionTimeout(d.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	maxAwait := d.MaxAwaitTime
	if maxAwait <= 0 {
		maxAwait = defaultMaxAwaitTime
	}

	return &mongoDatabase{client: client, db: client.Database(cs.Database), maxAwait: maxAwait}, nil
}

type mongoDatabase struct {
	client   *mongo.Client
	db       *mongo.Database
	maxAwait time.Duration
}

func (m *mongoDatabase) Name() string {
	return m.db.Name()
}

func (m *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: m.db.Collection(name), maxAwait: m.maxAwait}
}

func (m *mongoDatabase) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoCollection struct {
	coll     *mongo.Collection
	maxAwait time.Duration
}

func (m *mongoCollection) Name() string {
	return m.coll.Name()
}

func (m *mongoCollection) Namespace() string {
	return m.coll.Database().Name() + "." + m.coll.Name()
}

func (m *mongoCollection) Find(ctx context.Context, filter any, projection []string) (Cursor, error) {
	opts := options.Find()
	if len(projection) > 0 {
		p := make(bson.D, 0, len(projection))
		for _, field := range projection {
			p = append(p, bson.E{Key: field, Value: 1})
		}
		opts.SetProjection(p)
	}
	return m.find(ctx, filter, opts)
}

func (m *mongoCollection) Tail(ctx context.Context, filter any) (Cursor, error) {
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetNoCursorTimeout(true).
		SetOplogReplay(true).
		SetMaxAwaitTime(m.maxAwait)
	return m.find(ctx, filter, opts)
}

func (m *mongoCollection) find(ctx context.Context, filter any, opts *options.FindOptions) (Cursor, error) {
	cur, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return cur, nil
}
