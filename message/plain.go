package message

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/snapflowio/mongocdc/internal/oplog"
)

// Plain converts BSON values into plain Go values that serialize cleanly to
// JSON and script runtimes: documents become maps, arrays become slices and
// driver scalar types become strings, numbers or times.
func Plain(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Plain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Plain(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, elem := range val {
			out[elem.Key] = Plain(elem.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Plain(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Plain(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Timestamp:
		return oplog.FromPrimitive(val).String()
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return val.Data
	case primitive.Regex:
		return val.String()
	case primitive.Null, primitive.Undefined:
		return nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// Key derives a comparable map key for a document identifier, which may be
// any BSON value including embedded documents.
func Key(id any) string {
	switch val := id.(type) {
	case primitive.ObjectID:
		return "oid:" + val.Hex()
	case string:
		return "s:" + val
	}

	raw, err := bson.Marshal(bson.D{{Key: "v", Value: id}})
	if err != nil {
		return "?"
	}
	return "b:" + string(raw)
}
