package sink

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/publisher"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20
)

func init() {
	publisher.RegisterSink("kafka", func(cfg config.SinkConfig, _ string) (publisher.Sink, error) {
		return NewKafkaSink(KafkaConfig{
			Brokers:          cfg.Brokers,
			BatchSize:        cfg.BatchSize,
			RequiredAcks:     kafka.RequireAll,
			AutoCreateTopics: true,
		})
	})
}

// KafkaSink writes envelopes synchronously, keyed by source so that one
// source always lands on one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

type KafkaConfig struct {
	Brokers          []string
	BatchSize        int
	BatchBytes       int64
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
}

func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker address")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultKafkaBatchSize
	}
	if cfg.BatchBytes <= 0 {
		cfg.BatchBytes = DefaultKafkaBatchBytes
	}

	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		RequiredAcks:           cfg.RequiredAcks,
		AllowAutoTopicCreation: cfg.AutoCreateTopics,
	}}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
