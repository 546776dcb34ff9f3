package pipeline

import (
	"context"
	"time"

	"github.com/snapflowio/mongocdc/message"
)

// Batcher groups admitted entries. A batch is flushed when it reaches max
// entries or when delay has passed since its first entry. An idle window
// never flushes.
type Batcher struct {
	in    <-chan *message.Entry
	admit func(context.Context, *message.Entry) bool
}

func NewBatcher(in <-chan *message.Entry, admit func(context.Context, *message.Entry) bool) *Batcher {
	if admit == nil {
		admit = func(context.Context, *message.Entry) bool { return true }
	}
	return &Batcher{in: in, admit: admit}
}

// Next blocks until a batch is ready. It returns ErrStopped when stop or ctx
// fires first, discarding the partial batch, and ErrInputClosed once the
// input is drained.
func (b *Batcher) Next(ctx context.Context, stop <-chan struct{}, max int, delay time.Duration) ([]*message.Entry, error) {
	if max <= 0 {
		max = 1
	}

	var (
		batch   []*message.Entry
		timer   *time.Timer
		timeout <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ErrStopped
		case <-stop:
			return nil, ErrStopped
		case <-timeout:
			return batch, nil
		case e, ok := <-b.in:
			if !ok {
				if len(batch) > 0 {
					return batch, nil
				}
				return nil, ErrInputClosed
			}
			if !b.admit(ctx, e) {
				continue
			}

			batch = append(batch, e)
			if len(batch) >= max {
				return batch, nil
			}
			if timer == nil {
				timer = time.NewTimer(delay)
				timeout = timer.C
			}
		}
	}
}
