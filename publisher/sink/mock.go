package sink

import (
	"context"
	"sync"
)

// MockSink records published messages for tests. FailNext makes the next
// n publishes fail with PublishErr.
type MockSink struct {
	PublishErr error

	mu       sync.Mutex
	messages []MockMessage
	failNext int
	attempts int
	closed   bool
}

type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

func (m *MockSink) Publish(_ context.Context, topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if m.failNext > 0 {
		m.failNext--
		return m.PublishErr
	}
	if m.failNext < 0 {
		return m.PublishErr
	}
	m.messages = append(m.messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

// FailNext fails the next n publishes. A negative n fails all of them.
func (m *MockSink) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *MockSink) Messages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.messages...)
}

func (m *MockSink) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.attempts = 0
}
