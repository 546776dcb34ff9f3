package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "/checkpoint/"

// PebbleStore persists checkpoints in a local Pebble database.
type PebbleStore struct {
	db     *pebble.DB
	closed atomic.Bool
}

func OpenPebble(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Load(_ context.Context, key string) (string, bool, error) {
	if p.closed.Load() {
		return "", false, ErrStoreClosed
	}

	val, closer, err := p.db.Get([]byte(pebbleKeyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	defer closer.Close()

	return string(val), true, nil
}

func (p *PebbleStore) Save(_ context.Context, key, value string) error {
	if p.closed.Load() {
		return ErrStoreClosed
	}

	if err := p.db.Set([]byte(pebbleKeyPrefix+key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key, err)
	}
	return nil
}

func (p *PebbleStore) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}
