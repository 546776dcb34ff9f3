package message

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/snapflowio/mongocdc/internal/oplog"
)

const (
	OpInsert  Op = "i"
	OpUpdate  Op = "u"
	OpDelete  Op = "d"
	OpCommand Op = "c"
	OpNoop    Op = "n"
)

// Op is the single-letter operation kind recorded in the oplog.
type Op string

var opNames = map[Op]string{
	OpInsert:  "insert",
	OpUpdate:  "update",
	OpDelete:  "delete",
	OpCommand: "command",
}

// Name returns the normalized operation name; unknown kinds pass through.
func (o Op) Name() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return string(o)
}

// Entry is one raw oplog document.
type Entry struct {
	Timestamp primitive.Timestamp `bson:"ts"`
	Operation Op                  `bson:"op"`
	Namespace string              `bson:"ns"`
	Object    bson.M              `bson:"o"`
	Object2   bson.M              `bson:"o2,omitempty"`

	// Session is the id of the session whose cursor read the entry, zero
	// when the origin is unknown.
	Session uint64 `bson:"-"`
}

func Decode(raw bson.Raw) (*Entry, error) {
	var e Entry
	if err := bson.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode oplog entry: %w", err)
	}
	return &e, nil
}

func (e *Entry) Checkpoint() oplog.Timestamp {
	return oplog.FromPrimitive(e.Timestamp)
}

// DocumentID returns the _id of the document the entry refers to, taken from
// the operation payload first and the update criteria second. Command entries
// carry neither.
func (e *Entry) DocumentID() (any, bool) {
	if id, ok := e.Object["_id"]; ok && id != nil {
		return id, true
	}
	if id, ok := e.Object2["_id"]; ok && id != nil {
		return id, true
	}
	return nil, false
}

// Plain is the shape handed to transform scripts.
func (e *Entry) Plain() map[string]any {
	m := map[string]any{
		"ts": e.Checkpoint().String(),
		"op": string(e.Operation),
		"ns": e.Namespace,
		"o":  Plain(e.Object),
	}
	if e.Object2 != nil {
		m["o2"] = Plain(e.Object2)
	}
	return m
}
