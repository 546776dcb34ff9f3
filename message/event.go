package message

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/snapflowio/mongocdc/internal/oplog"
)

// Change is one oplog operation recorded against a document within a batch.
type Change struct {
	Op        Op
	Update    bson.M
	Timestamp oplog.Timestamp
}

// History accumulates the operations seen for one document id in a batch.
// Op and Timestamp always reflect the latest entry.
type History struct {
	ID        any
	Op        Op
	Timestamp oplog.Timestamp
	Changes   []Change
}

func (h *History) Add(e *Entry) {
	h.Op = e.Operation
	h.Timestamp = e.Checkpoint()

	c := Change{Op: e.Operation, Timestamp: h.Timestamp}
	if e.Operation == OpUpdate {
		c.Update = e.Object
	}
	h.Changes = append(h.Changes, c)
}

// Event is a change resolved against the current state of the document. The
// snapshot is the latest state at read time, nil when the document is gone.
type Event struct {
	Op        string
	Document  bson.M
	ID        any
	Timestamp oplog.Timestamp
	Changes   []Change
}

func (ev *Event) Deleted() bool {
	return ev.Document == nil
}

// Plain is the shape handed to transform scripts.
func (ev *Event) Plain() map[string]any {
	changes := make([]any, 0, len(ev.Changes))
	for _, c := range ev.Changes {
		m := map[string]any{
			"op": string(c.Op),
			"ts": c.Timestamp.String(),
		}
		if c.Update != nil {
			m["o"] = Plain(c.Update)
		}
		changes = append(changes, m)
	}

	var obj any
	if ev.Document != nil {
		obj = Plain(ev.Document)
	}

	return map[string]any{
		"op":      ev.Op,
		"obj":     obj,
		"_id":     Plain(ev.ID),
		"ts":      ev.Timestamp.String(),
		"changes": changes,
	}
}

type CorrelationID struct {
	Source string `json:"source"`
	Start  string `json:"start"`
}

// Envelope wraps every payload emitted downstream.
type Envelope struct {
	CorrelationID        CorrelationID `json:"correlation_id"`
	EventSourceTimestamp int64         `json:"event_source_timestamp"`
	Timestamp            int64         `json:"timestamp"`
	Payload              any           `json:"payload"`

	Checkpoint oplog.Timestamp `json:"-"`
}
