package pipeline

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/snapflowio/mongocdc/internal/oplog"
)

var (
	// ErrStopped is returned when the pipeline was asked to stop between
	// batches.
	ErrStopped = errors.New("pipeline stopped")

	ErrInputClosed = errors.New("pipeline input closed")

	// ErrNoSession means a batch arrived while no target collection was
	// connected.
	ErrNoSession = errors.New("no active session")
)

type Stage string

const (
	StageCorrelate Stage = "correlate"
	StageHandle    Stage = "handle"
)

// BatchError aborts a batch. Nothing after the failing event was emitted.
type BatchError struct {
	Stage Stage
	Size  int
	First oplog.Timestamp
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch of %d from %s: %v", e.Stage, e.Size, e.First, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err indicates a dead connection that a
// reconnect can recover from.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoSession) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	var be *BatchError
	if errors.As(err, &be) && be.Stage != StageCorrelate {
		return false
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
