package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/internal/oplog"
	"github.com/snapflowio/mongocdc/logger"
)

var log = logger.Named("session")

// Handles are the live target handles shared with the correlator and with
// transform handlers. They belong to one session and are marked closed when
// that session is torn down.
type Handles struct {
	Session    uint64
	Database   Database
	Collection Collection

	closed atomic.Bool
}

// Closed reports whether the owning session was invalidated.
func (h *Handles) Closed() bool {
	return h.closed.Load()
}

// Session is one connection epoch: both database connections plus the open
// oplog cursor.
type Session struct {
	ID         uint64
	LogDB      Database
	TargetDB   Database
	Collection Collection
	Cursor     Cursor
	Checkpoint oplog.Timestamp

	release   func()
	closeOnce sync.Once
	invalOnce sync.Once
}

// Invalidate withdraws the session's handles so no new batch reads through
// them. It does not close the connections.
func (s *Session) Invalidate() {
	s.invalOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

func (s *Session) Close(ctx context.Context) {
	s.Invalidate()
	s.closeOnce.Do(func() {
		if s.Cursor != nil {
			if err := s.Cursor.Close(ctx); err != nil {
				log.Debug("cursor close", "error", err)
			}
		}
		for _, db := range []Database{s.LogDB, s.TargetDB} {
			if db == nil {
				continue
			}
			if err := db.Close(ctx); err != nil {
				log.Debug("database close", "database", db.Name(), "error", err)
			}
		}
	})
}

// Manager opens sessions and publishes the live handles of the latest one.
type Manager struct {
	dialer  Dialer
	handles atomic.Pointer[Handles]
	seq     atomic.Uint64
}

func NewManager(dialer Dialer) *Manager {
	return &Manager{dialer: dialer}
}

// Handles returns the handles of the current session, nil before the first
// successful Open, after Clear, or once the session was invalidated.
func (m *Manager) Handles() *Handles {
	return m.handles.Load()
}

func (m *Manager) Clear() {
	m.handles.Store(nil)
}

// TailQuery selects the entries of one namespace strictly after cp.
func TailQuery(namespace string, cp oplog.Timestamp) bson.D {
	return bson.D{
		{Key: "ns", Value: namespace},
		{Key: "ts", Value: bson.D{{Key: "$gt", Value: cp.Primitive()}}},
	}
}

// Open connects to the oplog database and the target database concurrently
// and opens a tailing cursor positioned after cp.
func (m *Manager) Open(ctx context.Context, cfg *config.Config, cp oplog.Timestamp) (*Session, error) {
	var logDB, targetDB Database

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		db, err := m.dialer.Dial(gctx, cfg.URI(cfg.LogDatabase))
		if err != nil {
			return fmt.Errorf("connect %s: %w", cfg.LogDatabase, err)
		}
		logDB = db
		return nil
	})
	g.Go(func() error {
		db, err := m.dialer.Dial(gctx, cfg.URI(cfg.Database))
		if err != nil {
			return fmt.Errorf("connect %s: %w", cfg.Database, err)
		}
		targetDB = db
		return nil
	})

	s := &Session{ID: m.seq.Add(1), Checkpoint: cp}
	err := g.Wait()
	s.LogDB, s.TargetDB = logDB, targetDB
	if err != nil {
		s.Close(context.Background())
		return nil, err
	}

	s.Collection = targetDB.Collection(cfg.Collection)
	query := TailQuery(s.Collection.Namespace(), cp)
	log.Info("opening oplog cursor", "namespace", s.Collection.Namespace(), "checkpoint", cp.String())

	cursor, err := logDB.Collection(cfg.LogCollection).Tail(ctx, query)
	if err != nil {
		s.Close(context.Background())
		return nil, fmt.Errorf("open oplog cursor: %w", err)
	}
	s.Cursor = cursor

	h := &Handles{Session: s.ID, Database: targetDB, Collection: s.Collection}
	s.release = func() {
		h.closed.Store(true)
		m.handles.CompareAndSwap(h, nil)
	}
	m.handles.Store(h)
	return s, nil
}
