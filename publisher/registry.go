package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/snapflowio/mongocdc/config"
)

var ErrUnknownSink = errors.New("unknown sink type")

// Sink delivers encoded envelopes to a downstream system.
type Sink interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// SinkFactory builds a sink from the [sink] section of the config file.
type SinkFactory func(cfg config.SinkConfig, instanceID string) (Sink, error)

var (
	factories   = map[string]SinkFactory{}
	factoriesMu sync.RWMutex
)

// RegisterSink makes a sink type available to NewSink. Sink packages call it
// from init.
func RegisterSink(name string, factory SinkFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(name)] = factory
}

func NewSink(cfg config.SinkConfig, instanceID string) (Sink, error) {
	factoriesMu.RLock()
	factory, ok := factories[strings.ToLower(cfg.Type)]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownSink, cfg.Type, strings.Join(Registered(), ", "))
	}
	return factory(cfg, instanceID)
}

// Registered lists the known sink types in order.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := lo.Keys(factories)
	sort.Strings(names)
	return names
}
