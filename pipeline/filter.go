package pipeline

import (
	"context"

	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/telemetry"
	"github.com/snapflowio/mongocdc/transform"
)

// FilterStage admits entries through the active transform's filter. A filter
// error drops only the entry it was raised for.
type FilterStage struct {
	unit func() *transform.Unit
}

func NewFilterStage(unit func() *transform.Unit) *FilterStage {
	return &FilterStage{unit: unit}
}

func (f *FilterStage) Admit(ctx context.Context, e *message.Entry) bool {
	ok, err := f.unit().Filter(ctx, e)
	switch {
	case err != nil:
		telemetry.EntriesFilteredTotal.With("error").Inc()
		log.Warn("filter failed, dropping entry", "ts", e.Checkpoint().String(), "op", e.Operation, "error", err)
		return false
	case ok:
		telemetry.EntriesFilteredTotal.With("passed").Inc()
		return true
	default:
		telemetry.EntriesFilteredTotal.With("rejected").Inc()
		return false
	}
}
