package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/snapflowio/mongocdc/config"
	"github.com/snapflowio/mongocdc/internal/oplog"
	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/session"
	"github.com/snapflowio/mongocdc/session/sessiontest"
)

func entry(t uint32, op string, id any) bson.D {
	return bson.D{
		{Key: "ts", Value: primitive.Timestamp{T: t, I: 1}},
		{Key: "op", Value: op},
		{Key: "ns", Value: "app.orders"},
		{Key: "o", Value: bson.D{{Key: "_id", Value: id}}},
	}
}

func runReader(ctx context.Context, cur session.Cursor, out chan<- *message.Entry) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- NewReader(cur, out, 7).Run(ctx)
	}()
	return done
}

func TestReaderDelivers(t *testing.T) {
	cur := sessiontest.NewTailCursor()
	out := make(chan *message.Entry, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runReader(ctx, cur, out)
	cur.Push(entry(1, "i", "a"))
	cur.Push(entry(2, "u", "a"))

	first := <-out
	second := <-out
	assert.Equal(t, oplog.Timestamp{T: 1, I: 1}, first.Checkpoint())
	assert.Equal(t, message.OpUpdate, second.Operation)
	assert.Equal(t, uint64(7), first.Session)
	assert.Equal(t, uint64(7), second.Session)

	cancel()
	assert.NoError(t, <-done)
}

func TestReaderBackpressure(t *testing.T) {
	cur := sessiontest.NewTailCursor()
	for i := 0; i < 10; i++ {
		cur.Push(entry(uint32(i+1), "i", i))
	}

	out := make(chan *message.Entry)
	ctx, cancel := context.WithCancel(context.Background())
	done := runReader(ctx, cur, out)

	require.Eventually(t, func() bool { return cur.Pulls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), cur.Pulls(), "reader must not pull while the send is blocked")

	got := <-out
	assert.Equal(t, uint32(1), got.Timestamp.T)
	require.Eventually(t, func() bool { return cur.Pulls() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestReaderFaults(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		cur := sessiontest.NewTailCursor()
		done := runReader(context.Background(), cur, make(chan *message.Entry, 1))
		boom := errors.New("boom")
		cur.Fail(boom)

		err := <-done
		var f *Fault
		require.ErrorAs(t, err, &f)
		assert.Equal(t, FaultError, f.Kind)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("close", func(t *testing.T) {
		cur := sessiontest.NewTailCursor()
		done := runReader(context.Background(), cur, make(chan *message.Entry, 1))
		cur.Fail(nil)

		err := <-done
		var f *Fault
		require.ErrorAs(t, err, &f)
		assert.Equal(t, FaultClose, f.Kind)
		assert.ErrorIs(t, err, ErrCursorClosed)
	})
}

func TestReaderSkipsUndecodable(t *testing.T) {
	cur := sessiontest.NewTailCursor()
	out := make(chan *message.Entry, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runReader(ctx, cur, out)
	cur.Push(bson.D{{Key: "ts", Value: primitive.Timestamp{T: 1}}, {Key: "op", Value: int32(7)}})
	cur.Push(entry(2, "d", "b"))

	got := <-out
	assert.Equal(t, message.OpDelete, got.Operation)
	cancel()
	assert.NoError(t, <-done)
}

func TestFaultKindString(t *testing.T) {
	assert.Equal(t, "error", FaultError.String())
	assert.Equal(t, "close", FaultClose.String())
	assert.Equal(t, "exit", FaultExit.String())
	assert.Equal(t, "connect", FaultConnect.String())
}

type harness struct {
	dialer  *sessiontest.Dialer
	manager *session.Manager
	out     chan *message.Entry
	ctrl    *Controller
}

func newHarness(delay time.Duration) *harness {
	dialer := sessiontest.NewDialer()
	manager := session.NewManager(dialer)
	cfg := config.NewConfig(config.WithDatabase("app"), config.WithCollection("orders"))
	out := make(chan *message.Entry, 16)

	connect := func(ctx context.Context) (*session.Session, error) {
		return manager.Open(ctx, cfg, oplog.Timestamp{T: 1})
	}
	return &harness{dialer: dialer, manager: manager, out: out, ctrl: NewController(connect, out, delay)}
}

func (h *harness) oplog() *sessiontest.Collection {
	return h.dialer.Database("local").Coll("oplog.rs")
}

func (h *harness) waitTailing(t *testing.T, cursors int) *sessiontest.TailCursor {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ctrl.State() == StateTailing && len(h.oplog().Tails()) == cursors
	}, 2*time.Second, 5*time.Millisecond)
	return h.oplog().LastTail()
}

func TestControllerReconnectsAfterFault(t *testing.T) {
	h := newHarness(20 * time.Millisecond)
	defer h.ctrl.Destroy(context.Background())

	require.NoError(t, h.ctrl.Start())
	cur := h.waitTailing(t, 1)

	cur.Push(entry(5, "i", "a"))
	assert.Equal(t, uint32(5), (<-h.out).Timestamp.T)

	cur.Fail(errors.New("network reset"))
	next := h.waitTailing(t, 2)
	assert.NotSame(t, cur, next)
	require.Eventually(t, cur.IsClosed, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.ctrl.Attempts())
	assert.Error(t, h.ctrl.LastFault())

	next.Push(entry(6, "i", "b"))
	assert.Equal(t, uint32(6), (<-h.out).Timestamp.T)
}

func TestControllerFaultWithdrawsHandles(t *testing.T) {
	h := newHarness(time.Hour)
	defer h.ctrl.Destroy(context.Background())

	require.NoError(t, h.ctrl.Start())
	cur := h.waitTailing(t, 1)
	handles := h.manager.Handles()
	require.NotNil(t, handles)

	cur.Push(entry(5, "i", "a"))
	got := <-h.out
	assert.Equal(t, handles.Session, got.Session)

	cur.Fail(errors.New("network reset"))
	require.Eventually(t, func() bool {
		return h.ctrl.State() == StateReconnectScheduled
	}, time.Second, 5*time.Millisecond)

	assert.True(t, handles.Closed())
	assert.Nil(t, h.manager.Handles())

	require.NoError(t, h.ctrl.Restart(nil))
	next := h.waitTailing(t, 2)
	fresh := h.manager.Handles()
	require.NotNil(t, fresh)
	assert.NotEqual(t, handles.Session, fresh.Session)

	next.Push(entry(6, "i", "b"))
	assert.Equal(t, fresh.Session, (<-h.out).Session)
}

func TestControllerRetriesConnectErrors(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	defer h.ctrl.Destroy(context.Background())

	h.dialer.FailNext(3)
	require.NoError(t, h.ctrl.Start())
	h.waitTailing(t, 1)

	var f *Fault
	require.ErrorAs(t, h.ctrl.LastFault(), &f)
	assert.Equal(t, FaultConnect, f.Kind)
}

func TestControllerRestartCancelsPendingReconnect(t *testing.T) {
	h := newHarness(time.Hour)
	defer h.ctrl.Destroy(context.Background())

	h.dialer.FailNext(1)
	require.NoError(t, h.ctrl.Start())
	require.Eventually(t, func() bool {
		return h.ctrl.State() == StateReconnectScheduled
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.ctrl.Attempts())

	require.NoError(t, h.ctrl.Restart(nil))
	h.waitTailing(t, 1)
}

func TestControllerRestartReopensCursor(t *testing.T) {
	h := newHarness(time.Hour)
	defer h.ctrl.Destroy(context.Background())

	require.NoError(t, h.ctrl.Start())
	first := h.waitTailing(t, 1)

	first.Push(entry(2, "i", "stale"))
	<-h.out

	var drained bool
	require.NoError(t, h.ctrl.Restart(func() {
		drained = true
		assert.Equal(t, StateConnecting, h.ctrl.State())
	}))
	assert.True(t, drained)

	second := h.waitTailing(t, 2)
	assert.NotSame(t, first, second)
	require.Eventually(t, first.IsClosed, time.Second, 5*time.Millisecond)
}

func TestControllerDestroy(t *testing.T) {
	h := newHarness(20 * time.Millisecond)

	var ready int
	h.ctrl.OnTailing = func(*session.Session) { ready++ }

	require.NoError(t, h.ctrl.Start())
	cur := h.waitTailing(t, 1)

	h.ctrl.Destroy(context.Background())
	h.ctrl.Destroy(context.Background())

	assert.Equal(t, StateDestroyed, h.ctrl.State())
	assert.Equal(t, 1, ready)
	require.Eventually(t, cur.IsClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, h.dialer.Database("app").Closed, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.ctrl.Start(), ErrDestroyed)
	assert.ErrorIs(t, h.ctrl.Restart(nil), ErrDestroyed)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, h.oplog().Tails(), 1, "no reconnect after destroy")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnect_scheduled", StateReconnectScheduled.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
}
