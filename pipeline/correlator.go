package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/session"
	"github.com/snapflowio/mongocdc/telemetry"
)

// Correlator resolves a batch of entries against the current documents.
//
// Entries are grouped by document id in arrival order. One bulk read fetches
// the latest state of every id, so the snapshot is the state at read time
// even for superseded entries. Every id yields exactly one event; ids the
// read did not return carry a nil snapshot. Events are ordered by their
// latest timestamp.
type Correlator struct {
	IDField string
}

func (c *Correlator) Correlate(ctx context.Context, coll session.Collection, batch []*message.Entry, projection []string) ([]*message.Event, error) {
	idField := c.IDField
	if idField == "" {
		idField = "_id"
	}

	histories := make(map[string]*message.History)
	var order []*message.History
	for _, e := range batch {
		id, ok := e.DocumentID()
		if !ok {
			continue
		}
		key := message.Key(id)
		h, seen := histories[key]
		if !seen {
			h = &message.History{ID: id}
			histories[key] = h
			order = append(order, h)
		}
		h.Add(e)
	}
	if len(order) == 0 {
		return nil, nil
	}

	if len(projection) > 0 && !lo.Contains(projection, idField) {
		projection = append(slices.Clone(projection), idField)
	}

	ids := lo.Map(order, func(h *message.History, _ int) any { return h.ID })
	filter := bson.M{idField: bson.M{"$in": ids}}

	start := time.Now()
	docs, err := readAll(ctx, coll, filter, projection)
	telemetry.CorrelationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	snapshots := make(map[string]bson.M, len(docs))
	for _, doc := range docs {
		id, ok := doc[idField]
		if !ok {
			continue
		}
		snapshots[message.Key(id)] = doc
	}

	events := make([]*message.Event, 0, len(order))
	for _, h := range order {
		events = append(events, &message.Event{
			Op:        h.Op.Name(),
			Document:  snapshots[message.Key(h.ID)],
			ID:        h.ID,
			Timestamp: h.Timestamp,
			Changes:   h.Changes,
		})
	}
	slices.SortStableFunc(events, func(a, b *message.Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return events, nil
}

func readAll(ctx context.Context, coll session.Collection, filter any, projection []string) ([]bson.M, error) {
	cur, err := coll.Find(ctx, filter, projection)
	if err != nil {
		return nil, fmt.Errorf("bulk read: %w", err)
	}
	defer func() {
		if err := cur.Close(ctx); err != nil {
			log.Debug("close bulk read cursor", "error", err)
		}
	}()

	var docs []bson.M
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("bulk read: %w", err)
	}
	return docs, nil
}
