package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/publisher"
)

func init() {
	publisher.RegisterSink("stdout", func(config.SinkConfig, string) (publisher.Sink, error) {
		return NewWriterSink(os.Stdout), nil
	})
}

// WriterSink prints one JSON envelope per line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Publish(_ context.Context, _, _ string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s\n", value)
	return err
}

func (s *WriterSink) Close() error {
	return nil
}
