package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/snapflowio/mongocdc/config"
)

var ErrUnknownStore = errors.New("unknown checkpoint store type")

// Open builds the store described by the [checkpoint_store] section.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", config.StoreMemory:
		return NewMemoryStore(nil), nil
	case config.StorePebble:
		return OpenPebble(cfg.Path)
	case config.StorePostgres:
		return OpenPostgres(ctx, cfg.DSN, cfg.Table)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownStore, cfg.Type)
	}
}
