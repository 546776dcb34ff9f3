package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snapflowio/mongocdc/logger"
	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/session"
	"github.com/snapflowio/mongocdc/telemetry"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateTailing
	StateFaulted
	StateReconnectScheduled
	StateDestroyed
)

var stateNames = [...]string{"idle", "connecting", "tailing", "faulted", "reconnect_scheduled", "destroyed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrDestroyed = errors.New("controller destroyed")

// ConnectFunc opens a fresh session, resolving the checkpoint it starts from.
type ConnectFunc func(ctx context.Context) (*session.Session, error)

// Controller owns the tailing lifecycle. Every connect attempt runs under an
// epoch; results and faults from an older epoch are discarded, and a timer
// only fires if it is still the scheduled one.
type Controller struct {
	connect ConnectFunc
	out     chan<- *message.Entry
	log     *logger.Logger

	// OnTailing is called after each successful cursor open.
	OnTailing func(*session.Session)

	mu       sync.Mutex
	state    State
	delay    time.Duration
	epoch    uint64
	timer    *time.Timer
	timerGen uint64
	attempts int
	cancel   context.CancelFunc
	exited   chan struct{}
	sess     *session.Session
	lastErr  error
	wg       sync.WaitGroup
}

func NewController(connect ConnectFunc, out chan<- *message.Entry, delay time.Duration) *Controller {
	return &Controller{
		connect: connect,
		out:     out,
		delay:   delay,
		log:     logger.Named("controller"),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of reconnects scheduled since the last successful
// cursor open.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastFault returns the error of the most recent fault, if any.
func (c *Controller) LastFault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) SetDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.delay = d
	c.mu.Unlock()
}

// Start begins the first connect attempt. It is a no-op unless the
// controller is idle.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDestroyed:
		return ErrDestroyed
	case StateIdle:
		c.connectLocked()
	}
	return nil
}

// Restart tears down the current session and connects again immediately,
// replacing any pending reconnect. prepare, when set, runs after the old
// reader has stopped and before the new connect starts.
func (c *Controller) Restart(prepare func()) error {
	c.mu.Lock()
	switch c.state {
	case StateDestroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case StateIdle:
		c.mu.Unlock()
		return nil
	}
	c.log.Info("restarting oplog tail")
	sess := c.teardownLocked()
	c.setStateLocked(StateConnecting)
	epoch, exited := c.epoch, c.exited
	c.mu.Unlock()

	if sess != nil {
		sess.Close(context.Background())
	}
	if exited != nil {
		<-exited
	}
	if prepare != nil {
		prepare()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed {
		return ErrDestroyed
	}
	if c.epoch != epoch {
		// a concurrent restart or fault took over
		return nil
	}
	c.connectLocked()
	return nil
}

// Destroy closes the cursor and both connections and clears pending timers.
// Later calls return immediately. It waits for the reader to stop or for ctx
// to end.
func (c *Controller) Destroy(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	sess := c.teardownLocked()
	c.setStateLocked(StateDestroyed)
	c.mu.Unlock()

	if sess != nil {
		sess.Close(ctx)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("timed out waiting for oplog reader to stop")
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("state change", "from", c.state, "to", s)
	c.state = s
	telemetry.ConnectorState.Set(float64(s))
}

// teardownLocked invalidates the current epoch, withdraws the session's
// handles and cancels its reader. The caller closes the returned session
// outside the lock.
func (c *Controller) teardownLocked() *session.Session {
	c.epoch++
	c.stopTimerLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	sess := c.sess
	c.sess = nil
	if sess != nil {
		sess.Invalidate()
	}
	return sess
}

func (c *Controller) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) connectLocked() {
	c.stopTimerLocked()
	c.epoch++
	epoch := c.epoch

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	c.cancel, c.exited = cancel, exited
	c.setStateLocked(StateConnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(exited)
		c.run(ctx, epoch)
	}()
}

func (c *Controller) run(ctx context.Context, epoch uint64) {
	sess, err := c.connect(ctx)

	c.mu.Lock()
	if c.epoch != epoch || c.state == StateDestroyed {
		c.mu.Unlock()
		if sess != nil {
			sess.Close(context.Background())
		}
		return
	}
	if err != nil {
		c.faultLocked(epoch, &Fault{Kind: FaultConnect, Err: err})
		c.mu.Unlock()
		return
	}
	c.sess = sess
	c.attempts = 0
	c.setStateLocked(StateTailing)
	onTailing := c.OnTailing
	c.mu.Unlock()

	c.log.Info("tailing oplog", "checkpoint", sess.Checkpoint.String())
	if onTailing != nil {
		onTailing(sess)
	}

	err = NewReader(sess.Cursor, c.out, sess.ID).Run(ctx)
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state == StateDestroyed {
		return
	}
	c.faultLocked(epoch, err)
}

// faultLocked moves through Faulted to ReconnectScheduled.
func (c *Controller) faultLocked(epoch uint64, err error) {
	kind := FaultExit
	var f *Fault
	if errors.As(err, &f) {
		kind = f.Kind
	}
	telemetry.FaultsTotal.With(kind.String()).Inc()

	c.lastErr = err
	c.setStateLocked(StateFaulted)
	c.log.Warn("oplog tail faulted", "kind", kind, "error", err, "epoch", epoch)
	if sess := c.teardownLocked(); sess != nil {
		go sess.Close(context.Background())
	}

	c.attempts++
	telemetry.ReconnectsTotal.Inc()
	c.setStateLocked(StateReconnectScheduled)

	gen := c.timerGen
	c.log.Info("reconnect scheduled", "delay", c.delay, "attempt", c.attempts)
	c.timer = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.timerGen || c.state != StateReconnectScheduled {
			return
		}
		c.timer = nil
		c.connectLocked()
	})
}
