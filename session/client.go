package session

import "context"

// Cursor is a forward-only result stream. *mongo.Cursor satisfies it.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type Collection interface {
	Name() string
	Namespace() string
	// Find runs a filtered query. An empty projection returns whole documents.
	Find(ctx context.Context, filter any, projection []string) (Cursor, error)
	// Tail opens a tailable, await-data cursor that never times out on the
	// client side.
	Tail(ctx context.Context, filter any) (Cursor, error)
}

type Database interface {
	Name() string
	Collection(name string) Collection
	Close(ctx context.Context) error
}

// Dialer opens a database handle from a connection string whose path names
// the database.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Database, error)
}

type DialerFunc func(ctx context.Context, uri string) (Database, error)

func (f DialerFunc) Dial(ctx context.Context, uri string) (Database, error) {
	return f(ctx, uri)
}
