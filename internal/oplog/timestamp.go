package oplog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrInvalidTimestamp = errors.New("invalid oplog timestamp")

// Timestamp is a position in the oplog: seconds since epoch plus an ordinal
// within that second. Timestamps are totally ordered by (T, I).
type Timestamp struct {
	T uint32
	I uint32
}

func FromTime(t time.Time) Timestamp {
	return Timestamp{T: uint32(t.Unix())}
}

func FromPrimitive(ts primitive.Timestamp) Timestamp {
	return Timestamp{T: ts.T, I: ts.I}
}

func (ts Timestamp) Primitive() primitive.Timestamp {
	return primitive.Timestamp{T: ts.T, I: ts.I}
}

func (ts Timestamp) Uint64() uint64 {
	return uint64(ts.T)<<32 | uint64(ts.I)
}

func (ts Timestamp) IsZero() bool {
	return ts.T == 0 && ts.I == 0
}

func (ts Timestamp) Compare(other Timestamp) int {
	switch a, b := ts.Uint64(), other.Uint64(); {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (ts Timestamp) After(other Timestamp) bool {
	return ts.Compare(other) > 0
}

// Millis is the event-source time in milliseconds. The ordinal is added to the
// second boundary so events within one second stay distinguishable.
func (ts Timestamp) Millis() int64 {
	return int64(ts.T)*1000 + int64(ts.I)
}

func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.T), 0).UTC()
}

// String renders the timestamp as the decimal form of its 64-bit value, the
// same representation stored in checkpoint tables.
func (ts Timestamp) String() string {
	return strconv.FormatUint(ts.Uint64(), 10)
}

// Parse accepts the decimal 64-bit form produced by String and the "T:I" form.
func Parse(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}

	if t, i, ok := strings.Cut(s, ":"); ok {
		sec, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return Timestamp{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, s)
		}
		ord, err := strconv.ParseUint(i, 10, 32)
		if err != nil {
			return Timestamp{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, s)
		}
		return Timestamp{T: uint32(sec), I: uint32(ord)}, nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: %s", ErrInvalidTimestamp, s)
	}

	return Timestamp{T: uint32(v >> 32), I: uint32(v)}, nil
}
