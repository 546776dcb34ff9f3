package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/snapflowio/mongocdc/logger"
	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/session"
	"github.com/snapflowio/mongocdc/telemetry"
)

// FaultKind is the terminal condition that ended a cursor.
type FaultKind int

const (
	// FaultError means the cursor reported an error.
	FaultError FaultKind = iota
	// FaultClose means the server closed the cursor without an error.
	FaultClose
	// FaultExit means the reader stopped abnormally.
	FaultExit
	// FaultConnect means the session could not be opened.
	FaultConnect
)

var faultNames = [...]string{"error", "close", "exit", "connect"}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) {
		return faultNames[k]
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

var ErrCursorClosed = errors.New("oplog cursor closed")

type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("oplog %s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Reader pushes the entries of one tailing cursor into a channel. A send
// that cannot complete suspends the reader before it pulls the next entry,
// so at most one decoded entry is held while the consumer is saturated.
// Every entry is stamped with the id of the session that owns the cursor.
type Reader struct {
	cursor  session.Cursor
	out     chan<- *message.Entry
	session uint64
	log     *logger.Logger
}

func NewReader(cursor session.Cursor, out chan<- *message.Entry, sessionID uint64) *Reader {
	return &Reader{
		cursor:  cursor,
		out:     out,
		session: sessionID,
		log:     logger.Named("reader"),
	}
}

// Run pulls until ctx is done or the cursor terminates. It returns nil when
// ctx ended the read and a *Fault otherwise.
func (r *Reader) Run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &Fault{Kind: FaultExit, Err: fmt.Errorf("reader panic: %v", p)}
		}
	}()

	for r.cursor.Next(ctx) {
		var entry message.Entry
		if derr := r.cursor.Decode(&entry); derr != nil {
			r.log.Warn("skipping undecodable oplog entry", "error", derr)
			continue
		}
		entry.Session = r.session
		telemetry.EntriesReadTotal.Inc()
		r.log.Debug("oplog entry", "op", entry.Operation, "ts", entry.Checkpoint().String())

		select {
		case r.out <- &entry:
		case <-ctx.Done():
			return nil
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if cerr := r.cursor.Err(); cerr != nil {
		return &Fault{Kind: FaultError, Err: cerr}
	}
	return &Fault{Kind: FaultClose, Err: ErrCursorClosed}
}
