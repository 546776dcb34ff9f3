package mongocdc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snapflowio/mongocdc/checkpoint"
	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/internal/oplog"
	"github.com/snapflowio/mongocdc/logger"
	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/pipeline"
	"github.com/snapflowio/mongocdc/replication"
	"github.com/snapflowio/mongocdc/session"
	"github.com/snapflowio/mongocdc/transform"
)

const closeTimeout = 30 * time.Second

var (
	ErrAlreadyStarted = errors.New("connector already started")
	ErrClosed         = errors.New("connector closed")
)

var log = logger.Named("connector")

type Connector interface {
	// Start tails the oplog until ctx is done, Close is called or a batch
	// fails fatally. Events is closed when it returns.
	Start(ctx context.Context) error
	// WaitUntilReady returns once the first oplog cursor is open.
	WaitUntilReady(ctx context.Context) error
	Events() <-chan *message.Envelope
	// Err is the fatal error that ended the stream, if any.
	Err() error
	// Update merges cfg into the active configuration, recompiling the
	// transform and reopening the cursor as needed.
	Update(cfg *config.Config) error
	Close()
	GetConfig() *config.Config
	State() Status
}

// Status is a point-in-time view of the tailing state.
type Status struct {
	State      string `json:"state"`
	Attempts   int    `json:"attempts"`
	Checkpoint string `json:"checkpoint,omitempty"`
	LastFault  string `json:"last_fault,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Option func(*connector)

// WithDialer replaces the MongoDB driver, mainly for tests.
func WithDialer(d session.Dialer) Option {
	return func(c *connector) {
		c.dialer = d
	}
}

// WithStore sets the checkpoint store read on every connect.
func WithStore(s checkpoint.Store) Option {
	return func(c *connector) {
		c.store = s
	}
}

func WithCompiler(comp transform.Compiler) Option {
	return func(c *connector) {
		c.compiler = comp
	}
}

type connector struct {
	// Configuration and dependencies
	runtime  *pipeline.Holder
	dialer   session.Dialer
	store    checkpoint.Store
	compiler transform.Compiler
	resolver *checkpoint.Resolver
	manager  *session.Manager

	// Stages
	ctrl     *replication.Controller
	pipeline *pipeline.Pipeline

	// Channels
	entries chan *message.Entry
	events  chan *message.Envelope
	readyCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	// State
	checkpoint atomic.Pointer[oplog.Timestamp]
	err        error
	started    bool
	closed     bool
	cancelRun  context.CancelFunc

	// Synchronization (always last)
	readyOnce  sync.Once
	closeOnce  sync.Once
	eventsOnce sync.Once
	updateMu   sync.Mutex
	mu         sync.Mutex
}

func NewConnector(cfg config.Config, opts ...Option) (Connector, error) {
	cfg.SetDefault()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	cfg.Print()

	logger.SetLevel(cfg.Logger.LogLevel)

	c := &connector{
		dialer:   session.MongoDialer{},
		compiler: transform.JavaScript{},
		readyCh:  make(chan struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	unit, err := c.compiler.Compile(cfg.Script())
	if err != nil {
		return nil, fmt.Errorf("compile transform: %w", err)
	}

	c.runtime = pipeline.NewHolder(&cfg, unit)
	c.resolver = checkpoint.NewResolver(c.store)
	c.manager = session.NewManager(c.dialer)

	c.entries = make(chan *message.Entry, cfg.MaxSendCount)
	c.events = make(chan *message.Envelope, cfg.MaxSendCount)

	c.ctrl = replication.NewController(c.connect, c.entries, cfg.ReconnectDelay)
	c.ctrl.OnTailing = c.onTailing
	c.pipeline = pipeline.New(c.entries, c.events, c.runtime, c.manager.Handles)

	return c, nil
}

func (c *connector) connect(ctx context.Context) (*session.Session, error) {
	cfg := c.runtime.Load().Config
	cp := c.resolver.Resolve(ctx, cfg)
	return c.manager.Open(ctx, cfg, cp)
}

func (c *connector) onTailing(s *session.Session) {
	cp := s.Checkpoint
	c.checkpoint.Store(&cp)
	c.readyOnce.Do(func() {
		close(c.readyCh)
	})
}

func (c *connector) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	c.mu.Unlock()

	defer cancel()
	defer close(c.doneCh)

	cfg := c.runtime.Load().Config
	log.Info("connector starting", "namespace", cfg.Namespace(), "source", cfg.Source, "instance", cfg.InstanceID)

	if err := c.ctrl.Start(); err != nil {
		c.shutdown()
		return err
	}

	c.run(runCtx)
	c.shutdown()

	log.Info("connector stopped")
	return c.Err()
}

func (c *connector) run(ctx context.Context) {
	for {
		err := c.pipeline.Run(ctx, c.stopCh)
		if err == nil || ctx.Err() != nil {
			return
		}

		if pipeline.IsTransient(err) {
			log.Warn("batch failed on a dead connection, reconnecting", "error", err)
			if rerr := c.ctrl.Restart(c.drain); rerr != nil {
				return
			}
			continue
		}

		log.Error("batch failed", "error", err)
		c.setErr(err)
		return
	}
}

// drain discards entries read by a cursor that is gone. The next cursor
// resumes from the stored checkpoint, which precedes them.
func (c *connector) drain() {
	n := 0
	for {
		select {
		case <-c.entries:
			n++
		default:
			if n > 0 {
				log.Debug("discarded queued entries", "count", n)
			}
			return
		}
	}
}

func (c *connector) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	c.ctrl.Destroy(ctx)
	c.manager.Clear()
	c.eventsOnce.Do(func() {
		close(c.events)
	})
}

func (c *connector) WaitUntilReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-c.doneCh:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *connector) Events() <-chan *message.Envelope {
	return c.events
}

func (c *connector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *connector) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *connector) Update(update *config.Config) error {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	current := c.runtime.Load()
	merged, restart, recompile := current.Config.Merge(update)
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	unit := current.Unit
	if recompile {
		var err error
		if unit, err = c.compiler.Compile(merged.Script()); err != nil {
			return fmt.Errorf("recompile transform: %w", err)
		}
		log.Info("transform recompiled")
	}
	c.ctrl.SetDelay(merged.ReconnectDelay)

	if !restart {
		c.runtime.Store(merged, unit)
		return nil
	}

	// the new target takes effect once the old reader has stopped
	log.Info("restarting for new target", "namespace", merged.Namespace())
	swapped := false
	err := c.ctrl.Restart(func() {
		c.runtime.Store(merged, unit)
		swapped = true
		c.drain()
	})
	if !swapped {
		c.runtime.Store(merged, unit)
	}
	return err
}

// Close stops new batches and waits up to 30s for the current one before
// aborting it. It is safe to call more than once.
func (c *connector) Close() {
	c.closeOnce.Do(func() {
		log.Debug("closing connector")

		c.mu.Lock()
		c.closed = true
		started, cancel := c.started, c.cancelRun
		c.mu.Unlock()

		close(c.stopCh)

		if !started {
			c.shutdown()
			close(c.doneCh)
			return
		}

		select {
		case <-c.doneCh:
		case <-time.After(closeTimeout):
			log.Warn("in-flight batch did not drain, aborting", "timeout", closeTimeout)
			cancel()
			<-c.doneCh
		}
		log.Info("connector closed successfully")
	})
}

func (c *connector) GetConfig() *config.Config {
	return c.runtime.Load().Config
}

func (c *connector) State() Status {
	st := Status{
		State:    c.ctrl.State().String(),
		Attempts: c.ctrl.Attempts(),
	}
	if cp := c.checkpoint.Load(); cp != nil {
		st.Checkpoint = cp.String()
	}
	if err := c.ctrl.LastFault(); err != nil {
		st.LastFault = err.Error()
	}
	if err := c.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}
