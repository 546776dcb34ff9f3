// Package pipeline turns raw oplog entries into enveloped change events:
// filter, batch, correlate, then invoke the handler.
package pipeline

import (
	"context"
	"errors"

	"github.com/samber/lo"

	"github.com/snapflowio/mongocdc/logger"
	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/session"
	"github.com/snapflowio/mongocdc/telemetry"
	"github.com/snapflowio/mongocdc/transform"
)

var log = logger.Named("pipeline")

// Pipeline processes one batch at a time. The runtime is loaded once per
// batch, so an update takes effect between batches.
type Pipeline struct {
	holder  *Holder
	handles func() *session.Handles
	out     chan<- *message.Envelope

	batcher *Batcher
	invoker *Invoker
}

func New(
	in <-chan *message.Entry,
	out chan<- *message.Envelope,
	holder *Holder,
	handles func() *session.Handles,
) *Pipeline {
	unit := func() *transform.Unit { return holder.Load().Unit }
	return &Pipeline{
		holder:  holder,
		handles: handles,
		out:     out,
		batcher: NewBatcher(in, NewFilterStage(unit).Admit),
		invoker: NewInvoker(),
	}
}

// Run processes batches until stop is closed or ctx is done. stop only
// prevents the next batch from starting; ctx also aborts the current one.
// It returns nil on stop and the *BatchError of a failed batch otherwise.
func (p *Pipeline) Run(ctx context.Context, stop <-chan struct{}) error {
	for {
		cfg := p.holder.Load().Config
		batch, err := p.batcher.Next(ctx, stop, cfg.MaxSendCount, cfg.MaxSendDelay)
		if errors.Is(err, ErrStopped) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := p.Process(ctx, batch); err != nil {
			return err
		}
	}
}

// Process correlates one batch and emits its envelopes in event order.
//
// Entries read by a session other than the live one are discarded, as is a
// batch whose session is withdrawn while it runs. The next session resumes
// from the stored checkpoint, so they are read again.
func (p *Pipeline) Process(ctx context.Context, batch []*message.Entry) error {
	h := p.handles()
	batch = p.current(batch, h)
	if len(batch) == 0 {
		return nil
	}
	telemetry.BatchesTotal.Inc()
	telemetry.BatchSize.Observe(float64(len(batch)))

	rt := p.holder.Load()
	cfg, unit := rt.Config, rt.Unit
	first := batch[0].Checkpoint()

	if h == nil {
		return &BatchError{Stage: StageCorrelate, Size: len(batch), First: first, Err: ErrNoSession}
	}

	correlator := Correlator{IDField: cfg.IDColumn}
	events, err := correlator.Correlate(ctx, h.Collection, batch, unit.Projection)
	if err != nil {
		if h.Closed() {
			log.Debug("session withdrawn during correlation, discarding batch", "entries", len(batch), "from", first.String(), "error", err)
			return nil
		}
		return &BatchError{Stage: StageCorrelate, Size: len(batch), First: first, Err: err}
	}
	log.Debug("batch correlated", "entries", len(batch), "events", len(events), "from", first.String())

	hc := transform.Context{Database: h.Database, Collection: h.Collection}
	for i, ev := range events {
		if err := p.invoker.Invoke(ctx, unit, hc, cfg.Source, ev, p.emit(ctx)); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if h.Closed() {
				log.Debug("session withdrawn during handling, discarding rest of batch", "events", len(events)-i, "error", err)
				return nil
			}
			return &BatchError{Stage: StageHandle, Size: len(batch), First: first, Err: err}
		}
	}
	return nil
}

// current keeps the entries that belong to the live session. Entries with no
// session stamp are kept.
func (p *Pipeline) current(batch []*message.Entry, h *session.Handles) []*message.Entry {
	kept := lo.Filter(batch, func(e *message.Entry, _ int) bool {
		if e.Session == 0 {
			return true
		}
		return h != nil && !h.Closed() && e.Session == h.Session
	})
	if dropped := len(batch) - len(kept); dropped > 0 {
		telemetry.EntriesFilteredTotal.With("stale").Add(float64(dropped))
		log.Debug("discarding entries of a previous session", "entries", dropped)
	}
	return kept
}

func (p *Pipeline) emit(ctx context.Context) func(*message.Envelope) error {
	return func(env *message.Envelope) error {
		select {
		case p.out <- env:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
