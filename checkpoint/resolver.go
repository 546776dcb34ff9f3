package checkpoint

import (
	"context"
	"time"

	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/internal/oplog"
	"github.com/snapflowio/mongocdc/logger"
)

var log = logger.Named("checkpoint")

// Resolver computes the oplog position to resume from.
type Resolver struct {
	store Store
	now   func() time.Time
}

func NewResolver(store Store) *Resolver {
	if store == nil {
		store = NewMemoryStore(nil)
	}
	return &Resolver{store: store, now: time.Now}
}

// Resolve never fails: a missing, unreadable or malformed checkpoint starts
// the stream at the current time. An explicit checkpoint map in cfg takes
// precedence over the store.
func (r *Resolver) Resolve(ctx context.Context, cfg *config.Config) oplog.Timestamp {
	var store Store = r.store
	if cfg.Checkpoint != nil {
		store = NewMemoryStore(cfg.Checkpoint)
	}

	ref := ParseRef(cfg.Source)
	for _, key := range ref.Keys() {
		value, found, err := store.Load(ctx, key)
		if err != nil {
			log.Warn("checkpoint lookup failed", "key", key, "error", err)
			continue
		}
		if !found || value == "" {
			continue
		}

		ts, err := oplog.Parse(value)
		if err != nil {
			log.Warn("ignoring malformed checkpoint", "key", key, "value", value, "error", err)
			continue
		}

		log.Info("resuming from checkpoint", "key", key, "checkpoint", ts.String())
		return ts
	}

	ts := oplog.FromTime(r.now())
	log.Info("no checkpoint found, starting from now", "source", cfg.Source, "checkpoint", ts.String())
	return ts
}

// Store returns the backing store so a writer can persist progress.
func (r *Resolver) Store() Store {
	return r.store
}
