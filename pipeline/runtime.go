package pipeline

import (
	"sync/atomic"

	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/transform"
)

// Runtime is the configuration and the transform unit a batch runs with.
// Both are replaced together so a batch never pairs a unit with the
// configuration of another update.
type Runtime struct {
	Config *config.Config
	Unit   *transform.Unit
}

// Holder publishes the active Runtime.
type Holder struct {
	rt atomic.Pointer[Runtime]
}

func NewHolder(cfg *config.Config, unit *transform.Unit) *Holder {
	h := &Holder{}
	h.Store(cfg, unit)
	return h
}

func (h *Holder) Load() *Runtime {
	return h.rt.Load()
}

func (h *Holder) Store(cfg *config.Config, unit *transform.Unit) {
	h.rt.Store(&Runtime{Config: cfg, Unit: transform.Complete(unit)})
}
