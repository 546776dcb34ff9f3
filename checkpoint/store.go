package checkpoint

import (
	"context"
	"errors"
	"sync"
)

var ErrStoreClosed = errors.New("checkpoint store is closed")

// Store maps source references to the last saved checkpoint string.
type Store interface {
	Load(ctx context.Context, key string) (value string, found bool, err error)
	Save(ctx context.Context, key, value string) error
	Close() error
}

// MemoryStore keeps checkpoints in process memory. It also serves the
// explicit checkpoint overrides carried in a configuration.
type MemoryStore struct {
	values map[string]string
	mu     sync.RWMutex
}

func NewMemoryStore(initial map[string]string) *MemoryStore {
	values := make(map[string]string, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &MemoryStore{values: values}
}

func (m *MemoryStore) Load(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
