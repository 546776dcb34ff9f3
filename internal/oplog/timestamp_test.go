package oplog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTimestampString(t *testing.T) {
	ts := Timestamp{T: 1487965675, I: 3}
	assert.Equal(t, "6390763911695564803", ts.String())

	parsed, err := Parse(ts.String())
	require.NoError(t, err)
	assert.Equal(t, ts, parsed)
}

func TestParse(t *testing.T) {
	t.Run("colon form", func(t *testing.T) {
		ts, err := Parse("1487965675:7")
		require.NoError(t, err)
		assert.Equal(t, Timestamp{T: 1487965675, I: 7}, ts)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, s := range []string{"", "  ", "abc", "1:x", "x:1", "-1"} {
			_, err := Parse(s)
			assert.ErrorIs(t, err, ErrInvalidTimestamp, s)
		}
	})
}

func TestCompare(t *testing.T) {
	a := Timestamp{T: 10, I: 5}
	b := Timestamp{T: 11, I: 0}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, b.After(a))
	assert.True(t, Timestamp{T: 10, I: 6}.After(a))
}

func TestMillis(t *testing.T) {
	assert.Equal(t, int64(1487965675003), Timestamp{T: 1487965675, I: 3}.Millis())
}

func TestConversions(t *testing.T) {
	now := time.Unix(1700000000, 999)
	ts := FromTime(now)
	assert.Equal(t, Timestamp{T: 1700000000}, ts)
	assert.Equal(t, primitive.Timestamp{T: 1700000000}, ts.Primitive())
	assert.Equal(t, ts, FromPrimitive(ts.Primitive()))
	assert.False(t, ts.IsZero())
	assert.True(t, Timestamp{}.IsZero())
}
