package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/publisher"
)

const (
	HeaderKey        = "key"
	HeaderInstanceID = "instance-id"

	natsPublishTimeout = 5 * time.Second
)

func init() {
	publisher.RegisterSink("nats", func(cfg config.SinkConfig, instanceID string) (publisher.Sink, error) {
		if cfg.NatsURL == "" {
			return nil, errors.New("nats sink requires nats_url")
		}
		return NewNatsSink(cfg.NatsURL, instanceID)
	})
}

// NatsSink publishes to JetStream. Each subject gets a stream of its own,
// created on first use.
type NatsSink struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	instanceID string
	streams    map[string]struct{}
}

func NewNatsSink(url, instanceID string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("mongocdc-"+instanceID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, instanceID: instanceID, streams: map[string]struct{}{}}, nil
}

func (n *NatsSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, natsPublishTimeout)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  NatsHeader(key, n.instanceID),
	}
	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, subject string) error {
	if _, ok := n.streams[subject]; ok {
		return nil
	}
	name := StreamName(subject)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	n.streams[subject] = struct{}{}
	return nil
}

func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

func NatsHeader(key, instanceID string) nats.Header {
	h := nats.Header{}
	h.Set(HeaderKey, key)
	if instanceID != "" {
		h.Set(HeaderInstanceID, instanceID)
	}
	return h
}

// StreamName maps a subject to a valid JetStream stream name.
func StreamName(subject string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", ":", "_").Replace(subject)
}
