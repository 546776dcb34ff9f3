package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/snapflowio/mongocdc/internal/oplog"
)

func TestDecode(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.D{
		{Key: "ts", Value: primitive.Timestamp{T: 100, I: 2}},
		{Key: "op", Value: "u"},
		{Key: "ns", Value: "app.orders"},
		{Key: "o", Value: bson.D{{Key: "$set", Value: bson.D{{Key: "qty", Value: 3}}}}},
		{Key: "o2", Value: bson.D{{Key: "_id", Value: oid}}},
	})
	require.NoError(t, err)

	e, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, e.Operation)
	assert.Equal(t, "app.orders", e.Namespace)
	assert.Equal(t, oplog.Timestamp{T: 100, I: 2}, e.Checkpoint())

	id, ok := e.DocumentID()
	require.True(t, ok)
	assert.Equal(t, oid, id)
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(bson.Raw{0x01})
	assert.Error(t, err)
}

func TestDocumentID(t *testing.T) {
	t.Run("primary", func(t *testing.T) {
		e := &Entry{Object: bson.M{"_id": "a"}, Object2: bson.M{"_id": "b"}}
		id, ok := e.DocumentID()
		assert.True(t, ok)
		assert.Equal(t, "a", id)
	})

	t.Run("command entries have no id", func(t *testing.T) {
		e := &Entry{Operation: OpCommand, Object: bson.M{"create": "orders"}}
		_, ok := e.DocumentID()
		assert.False(t, ok)
	})
}

func TestOpName(t *testing.T) {
	assert.Equal(t, "insert", OpInsert.Name())
	assert.Equal(t, "update", OpUpdate.Name())
	assert.Equal(t, "delete", OpDelete.Name())
	assert.Equal(t, "command", OpCommand.Name())
	assert.Equal(t, "n", OpNoop.Name())
}

func TestHistory(t *testing.T) {
	h := &History{ID: "x"}
	h.Add(&Entry{Operation: OpInsert, Timestamp: primitive.Timestamp{T: 1}, Object: bson.M{"_id": "x", "a": 1}})
	h.Add(&Entry{Operation: OpUpdate, Timestamp: primitive.Timestamp{T: 2}, Object: bson.M{"$set": bson.M{"a": 2}}})

	assert.Equal(t, OpUpdate, h.Op)
	assert.Equal(t, oplog.Timestamp{T: 2}, h.Timestamp)
	require.Len(t, h.Changes, 2)
	assert.Nil(t, h.Changes[0].Update)
	assert.Equal(t, bson.M{"$set": bson.M{"a": 2}}, h.Changes[1].Update)
}

func TestPlain(t *testing.T) {
	oid := primitive.NewObjectID()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	got := Plain(bson.M{
		"_id":   oid,
		"when":  primitive.NewDateTimeFromTime(at),
		"tags":  bson.A{"a", bson.D{{Key: "k", Value: primitive.Null{}}}},
		"count": int32(4),
	})

	assert.Equal(t, map[string]any{
		"_id":   oid.Hex(),
		"when":  "2024-01-02T03:04:05Z",
		"tags":  []any{"a", map[string]any{"k": nil}},
		"count": int32(4),
	}, got)
}

func TestEventPlain(t *testing.T) {
	ev := &Event{
		Op:        "delete",
		ID:        "x",
		Timestamp: oplog.Timestamp{T: 5, I: 1},
		Changes:   []Change{{Op: OpDelete, Timestamp: oplog.Timestamp{T: 5, I: 1}}},
	}
	assert.True(t, ev.Deleted())

	p := ev.Plain()
	assert.Equal(t, "delete", p["op"])
	assert.Nil(t, p["obj"])
	assert.Equal(t, "x", p["_id"])
	assert.Equal(t, oplog.Timestamp{T: 5, I: 1}.String(), p["ts"])
	assert.Len(t, p["changes"], 1)
}

func TestKey(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, Key(oid), Key(oid))
	assert.NotEqual(t, Key("1"), Key(int32(1)))
	assert.Equal(t, Key(bson.M{"a": int32(1)}), Key(bson.M{"a": int32(1)}))
}
