// Package sessiontest provides in-memory implementations of the session
// interfaces for tests.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/snapflowio/mongocdc/session"
)

var ErrCursorClosed = errors.New("cursor closed")

// TailCursor blocks in Next until an entry is pushed, the cursor fails or
// ends, or the context is done.
type TailCursor struct {
	entries chan bson.Raw
	failed  chan struct{}
	closed  chan struct{}

	current bson.Raw
	err     error
	pulls   atomic.Int64

	failOnce  sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
}

func NewTailCursor() *TailCursor {
	return &TailCursor{
		entries: make(chan bson.Raw, 1024),
		failed:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Push marshals doc and queues it for Next.
func (c *TailCursor) Push(doc any) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("sessiontest: marshal entry: %v", err))
	}
	c.entries <- raw
}

// Fail ends the cursor with err; a nil err simulates the server closing it.
func (c *TailCursor) Fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.failed)
	})
}

// Pulls counts calls to Next.
func (c *TailCursor) Pulls() int64 {
	return c.pulls.Load()
}

func (c *TailCursor) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *TailCursor) Next(ctx context.Context) bool {
	c.pulls.Add(1)
	select {
	case <-c.failed:
		return false
	case <-c.closed:
		c.setErr(ErrCursorClosed)
		return false
	default:
	}

	select {
	case raw := <-c.entries:
		c.mu.Lock()
		c.current = raw
		c.mu.Unlock()
		return true
	case <-c.failed:
		return false
	case <-c.closed:
		c.setErr(ErrCursorClosed)
		return false
	case <-ctx.Done():
		c.setErr(ctx.Err())
		return false
	}
}

func (c *TailCursor) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *TailCursor) Decode(val any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bson.Unmarshal(c.current, val)
}

func (c *TailCursor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *TailCursor) Close(context.Context) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// SliceCursor iterates a fixed result set.
type SliceCursor struct {
	docs []bson.M
	pos  int
}

func NewSliceCursor(docs []bson.M) *SliceCursor {
	return &SliceCursor{docs: docs, pos: -1}
}

func (c *SliceCursor) Next(context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *SliceCursor) Decode(val any) error {
	raw, err := bson.Marshal(c.docs[c.pos])
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, val)
}

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close(context.Context) error { return nil }

type FindCall struct {
	Filter     any
	Projection []string
}

// Collection is an in-memory collection. Find supports equality and $in
// filters on top-level fields.
type Collection struct {
	DB   string
	Coll string

	FindErr error
	TailErr error

	docs        []bson.M
	finds       []FindCall
	tails       []*TailCursor
	tailFilters []any
	mu          sync.Mutex
}

func NewCollection(db, name string, docs ...bson.M) *Collection {
	return &Collection{DB: db, Coll: name, docs: docs}
}

func (c *Collection) Name() string { return c.Coll }

func (c *Collection) Namespace() string { return c.DB + "." + c.Coll }

func (c *Collection) SetDocs(docs ...bson.M) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = docs
}

func (c *Collection) Finds() []FindCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FindCall(nil), c.finds...)
}

func (c *Collection) Tails() []*TailCursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*TailCursor(nil), c.tails...)
}

func (c *Collection) TailFilters() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.tailFilters...)
}

// LastTail returns the most recently opened tail cursor or nil.
func (c *Collection) LastTail() *TailCursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tails) == 0 {
		return nil
	}
	return c.tails[len(c.tails)-1]
}

func (c *Collection) Find(_ context.Context, filter any, projection []string) (session.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finds = append(c.finds, FindCall{Filter: filter, Projection: projection})
	if c.FindErr != nil {
		return nil, c.FindErr
	}

	cond := toMap(filter)
	var out []bson.M
	for _, doc := range c.docs {
		if matches(doc, cond) {
			out = append(out, project(doc, projection))
		}
	}
	return NewSliceCursor(out), nil
}

func (c *Collection) Tail(_ context.Context, filter any) (session.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tailFilters = append(c.tailFilters, filter)
	if c.TailErr != nil {
		return nil, c.TailErr
	}

	cur := NewTailCursor()
	c.tails = append(c.tails, cur)
	return cur, nil
}

func toMap(v any) bson.M {
	switch val := v.(type) {
	case bson.M:
		return val
	case map[string]any:
		return val
	case bson.D:
		m := make(bson.M, len(val))
		for _, e := range val {
			m[e.Key] = e.Value
		}
		return m
	default:
		return bson.M{}
	}
}

func matches(doc bson.M, cond bson.M) bool {
	for field, want := range cond {
		got, ok := doc[field]
		if !ok {
			return false
		}

		if op := toMap(want); len(op) > 0 {
			if in, ok := op["$in"]; ok {
				if !contains(in, got) {
					return false
				}
				continue
			}
		}

		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func contains(list any, v any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if reflect.DeepEqual(rv.Index(i).Interface(), v) {
			return true
		}
	}
	return false
}

func project(doc bson.M, fields []string) bson.M {
	out := make(bson.M, len(doc))
	if len(fields) == 0 {
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	out["_id"] = doc["_id"]
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Database holds named fake collections. It is shared by every client
// dialed for its name.
type Database struct {
	DBName string

	collections map[string]*Collection
	closed      atomic.Bool
	dialed      atomic.Int64
	open        atomic.Int64
	mu          sync.Mutex
}

func NewDatabase(name string, colls ...*Collection) *Database {
	d := &Database{DBName: name, collections: make(map[string]*Collection)}
	for _, c := range colls {
		d.collections[c.Coll] = c
	}
	return d
}

func (d *Database) Name() string { return d.DBName }

func (d *Database) Collection(name string) session.Collection {
	return d.Coll(name)
}

// Coll returns the named fake collection, creating it when missing.
func (d *Database) Coll(name string) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = NewCollection(d.DBName, name)
		d.collections[name] = c
	}
	return c
}

func (d *Database) Close(context.Context) error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether the database was closed directly or every client
// dialed for it has been closed.
func (d *Database) Closed() bool {
	if d.open.Load() > 0 {
		return false
	}
	return d.closed.Load() || d.dialed.Load() > 0
}

// Client is the connection returned by one dial. Once closed, its
// collections fail like a disconnected driver client.
type Client struct {
	db        *Database
	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *Client) Name() string { return c.db.DBName }

func (c *Client) Collection(name string) session.Collection {
	return &clientCollection{Collection: c.db.Coll(name), client: c}
}

func (c *Client) Close(context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.db.open.Add(-1)
	})
	return nil
}

func (c *Client) Closed() bool {
	return c.closed.Load()
}

type clientCollection struct {
	*Collection
	client *Client
}

func (c *clientCollection) Find(ctx context.Context, filter any, projection []string) (session.Cursor, error) {
	if c.client.Closed() {
		return nil, mongo.ErrClientDisconnected
	}
	return c.Collection.Find(ctx, filter, projection)
}

func (c *clientCollection) Tail(ctx context.Context, filter any) (session.Cursor, error) {
	if c.client.Closed() {
		return nil, mongo.ErrClientDisconnected
	}
	return c.Collection.Tail(ctx, filter)
}

// Dialer hands out a new client per dial, backed by the shared fake database
// named in the URI.
type Dialer struct {
	databases map[string]*Database
	failures  atomic.Int64
	dials     atomic.Int64
	uris      []string
	mu        sync.Mutex
}

func NewDialer(dbs ...*Database) *Dialer {
	d := &Dialer{databases: make(map[string]*Database)}
	for _, db := range dbs {
		d.databases[db.DBName] = db
	}
	return d
}

// FailNext makes the next n dials fail with a connection error.
func (d *Dialer) FailNext(n int) {
	d.failures.Store(int64(n))
}

func (d *Dialer) Dials() int64 {
	return d.dials.Load()
}

func (d *Dialer) URIs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.uris...)
}

func (d *Dialer) Dial(ctx context.Context, uri string) (session.Database, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.uris = append(d.uris, uri)
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failures.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	name := strings.TrimPrefix(u.Path, "/")

	d.mu.Lock()
	defer d.mu.Unlock()
	db, ok := d.databases[name]
	if !ok {
		db = NewDatabase(name)
		d.databases[name] = db
	}
	db.dialed.Add(1)
	db.open.Add(1)
	return &Client{db: db}, nil
}

// Database returns the fake database with the given name, creating it when
// missing.
func (d *Dialer) Database(name string) *Database {
	d.mu.Lock()
	defer d.mu.Unlock()
	db, ok := d.databases[name]
	if !ok {
		db = NewDatabase(name)
		d.databases[name] = db
	}
	return db
}
