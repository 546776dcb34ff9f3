package pipeline

import (
	"context"
	"time"

	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/telemetry"
	"github.com/snapflowio/mongocdc/transform"
)

// Invoker runs the handler over resolved events and wraps every payload in
// an envelope.
type Invoker struct {
	now func() time.Time
}

func NewInvoker() *Invoker {
	return &Invoker{now: time.Now}
}

// Skeleton builds the envelope fields shared by every payload of one event.
func (i *Invoker) Skeleton(source string, ev *message.Event) message.Envelope {
	return message.Envelope{
		CorrelationID: message.CorrelationID{
			Source: source,
			Start:  ev.Timestamp.String(),
		},
		EventSourceTimestamp: ev.Timestamp.Millis(),
		Timestamp:            i.now().UnixMilli(),
		Checkpoint:           ev.Timestamp,
	}
}

// Invoke calls the handler once and emits one envelope per payload. A
// handler error is returned without emitting anything for ev.
func (i *Invoker) Invoke(ctx context.Context, unit *transform.Unit, hc transform.Context, source string, ev *message.Event, emit func(*message.Envelope) error) error {
	skeleton := i.Skeleton(source, ev)

	payloads, err := unit.Handler(ctx, hc, ev)
	if err != nil {
		telemetry.HandlerErrorsTotal.Inc()
		return err
	}

	for _, p := range payloads {
		env := skeleton
		env.Payload = p
		if err := emit(&env); err != nil {
			return err
		}
		telemetry.EnvelopesEmittedTotal.Inc()
	}
	return nil
}
