package sink

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	require.NoError(t, s.Publish(context.Background(), "t", "k", []byte(`{"a":1}`)))
	require.NoError(t, s.Publish(context.Background(), "t", "k", []byte(`{"a":2}`)))
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", buf.String())
	assert.NoError(t, s.Close())
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "cdc_app_orders", StreamName("cdc.app.orders"))
	assert.Equal(t, "queue_orders", StreamName("queue:orders"))
	assert.Equal(t, "cdc__", StreamName("cdc.>"))
}

func TestNatsHeader(t *testing.T) {
	h := NatsHeader("orders", "2Hk9")
	assert.Equal(t, "orders", h.Get(HeaderKey))
	assert.Equal(t, "2Hk9", h.Get(HeaderInstanceID))

	h = NatsHeader("orders", "")
	assert.Empty(t, h.Values(HeaderInstanceID))
}

func TestNewKafkaSink(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	assert.Error(t, err)

	s, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultKafkaBatchSize, s.writer.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), s.writer.BatchBytes)
	assert.NoError(t, s.Close())
}

func TestMockSink(t *testing.T) {
	m := &MockSink{PublishErr: assert.AnError}
	m.FailNext(1)
	assert.ErrorIs(t, m.Publish(context.Background(), "t", "k", nil), assert.AnError)
	assert.NoError(t, m.Publish(context.Background(), "t", "k", []byte("v")))
	assert.Equal(t, 2, m.Attempts())
	assert.Equal(t, []MockMessage{{Topic: "t", Key: "k", Value: []byte("v")}}, m.Messages())

	m.Reset()
	assert.Empty(t, m.Messages())
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}
