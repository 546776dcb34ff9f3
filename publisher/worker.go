package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/snapflowio/mongocdc/checkpoint"
	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/internal/oplog"
	"github.com/snapflowio/mongocdc/logger"
	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/telemetry"
)

const (
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultMaxRetries      = 100
	DefaultFlushInterval   = time.Second
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Name  string           // sink name, used as a metric label
	Sink  Sink             // destination
	Store checkpoint.Store // nil disables checkpoint write-back
	// Topic defaults to the envelope source when empty.
	Topic string

	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      uint
	FlushInterval   time.Duration
}

// WorkerConfigFrom maps the [sink] section onto a WorkerConfig.
func WorkerConfigFrom(cfg config.SinkConfig, snk Sink, store checkpoint.Store) WorkerConfig {
	return WorkerConfig{
		Name:            cfg.Type,
		Sink:            snk,
		Store:           store,
		Topic:           cfg.Topic,
		RetryInitial:    time.Duration(cfg.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(cfg.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: cfg.RetryMultiplier,
		MaxRetries:      cfg.MaxRetries,
		FlushInterval:   time.Duration(cfg.FlushIntervalMS) * time.Millisecond,
	}
}

// Worker publishes envelopes in arrival order and writes the checkpoint of
// the last published one back to the store.
type Worker struct {
	config  WorkerConfig
	log     *logger.Logger
	pending map[string]oplog.Timestamp
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if cfg.Name == "" {
		cfg.Name = "sink"
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = DefaultRetryInitial
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.RetryMultiplier <= 1 {
		cfg.RetryMultiplier = DefaultRetryMultiplier
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	return &Worker{
		config:  cfg,
		log:     logger.Named("publisher").With("sink", cfg.Name),
		pending: make(map[string]oplog.Timestamp),
	}, nil
}

// Run consumes events until the channel is closed or ctx is done. Pending
// checkpoints are flushed on the way out. A publish that exhausts its
// retries stops the worker with an error, leaving the checkpoint at the
// last delivered envelope.
func (w *Worker) Run(ctx context.Context, events <-chan *message.Envelope) error {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	w.log.Info("publisher started", "topic", w.config.Topic)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.flush(flushCtx)
		w.log.Info("publisher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.flush(ctx)
		case env, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.process(ctx, env); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, env *message.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		telemetry.PublishedTotal.With(w.config.Name, "encode_error").Inc()
		return fmt.Errorf("encode envelope %s: %w", env.CorrelationID.Start, err)
	}

	topic := w.config.Topic
	if topic == "" {
		topic = env.CorrelationID.Source
	}
	key := env.CorrelationID.Source

	if err := w.publishWithRetry(ctx, topic, key, data); err != nil {
		telemetry.PublishedTotal.With(w.config.Name, "error").Inc()
		return err
	}
	telemetry.PublishedTotal.With(w.config.Name, "ok").Inc()

	if w.config.Store != nil && env.CorrelationID.Source != "" {
		w.pending[checkpoint.ParseRef(env.CorrelationID.Source).String()] = env.Checkpoint
	}
	return nil
}

func (w *Worker) publishWithRetry(ctx context.Context, topic, key string, data []byte) error {
	err := retry.Do(
		func() error {
			return w.config.Sink.Publish(ctx, topic, key, data)
		},
		retry.Context(ctx),
		retry.Attempts(w.config.MaxRetries),
		retry.DelayType(w.backoff),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.log.Warn("failed to publish event, retrying", "topic", topic, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (w *Worker) backoff(n uint, _ error, _ *retry.Config) time.Duration {
	d := float64(w.config.RetryInitial) * math.Pow(w.config.RetryMultiplier, float64(n))
	if d > float64(w.config.RetryMax) {
		return w.config.RetryMax
	}
	return time.Duration(d)
}

func (w *Worker) flush(ctx context.Context) {
	for key, ts := range w.pending {
		if err := w.config.Store.Save(ctx, key, ts.String()); err != nil {
			telemetry.CheckpointSavesTotal.With("error").Inc()
			w.log.Warn("failed to save checkpoint, events may be redelivered", "key", key, "checkpoint", ts.String(), "error", err)
			continue
		}
		telemetry.CheckpointSavesTotal.With("ok").Inc()
		w.log.Debug("checkpoint saved", "key", key, "checkpoint", ts.String())
		delete(w.pending, key)
	}
}
