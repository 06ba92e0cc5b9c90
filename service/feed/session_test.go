package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	core "PPNotify/module/feed"
	"PPNotify/module/feed/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn feeds scripted units to the session and records what it writes.
type fakeConn struct {
	units   chan Unit
	written chan model.Notification
	closed  chan struct{}
	once    sync.Once

	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		units:   make(chan Unit, 16),
		written: make(chan model.Notification, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadUnit() (Unit, error) {
	select {
	case u := <-c.units:
		return u, nil
	case <-c.closed:
		return Unit{}, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteNotification(n model.Notification) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written <- n
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) next(t *testing.T) model.Notification {
	t.Helper()
	select {
	case n := <-c.written:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification written")
		return model.Notification{}
	}
}

type deliveredCounter struct {
	mu sync.Mutex
	n  int
}

func (d *deliveredCounter) Delivered(string, model.Notification) {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
}

func startSession(t *testing.T, srv *core.Server, user string, port int, conn Conn, rec DeliveryRecorder) (*ConnectionSession, chan error) {
	t.Helper()
	ep := model.Endpoint{Addr: "127.0.0.1", Port: port}
	q, err := srv.StartSession(user, ep)
	require.NoError(t, err)
	sess := NewConnectionSession(user+"-sess", user, ep, conn, q, srv, rec)
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	return sess, done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestSession_FollowPublishDeliver(t *testing.T) {
	srv := core.NewServer(core.Conf{})
	defer srv.Close()

	aConn, bConn := newFakeConn(), newFakeConn()
	rec := &deliveredCounter{}
	_, aDone := startSession(t, srv, "A", 1, aConn, nil)
	_, bDone := startSession(t, srv, "B", 2, bConn, rec)

	bConn.units <- Unit{Kind: UnitFollow, Payload: "A"}
	require.Eventually(t, func() bool { return len(srv.Followers()["A"]) == 1 }, time.Second, 5*time.Millisecond)

	aConn.units <- Unit{Kind: UnitPublish, Payload: "hello", Timestamp: 100}
	n := bConn.next(t)
	assert.Equal(t, "hello", n.Body)
	assert.Equal(t, "A", n.Author)
	assert.Equal(t, int64(100), n.Timestamp)
	assert.Equal(t, uint32(0), n.ID)

	aConn.units <- Unit{Kind: UnitEndOfStream}
	bConn.units <- Unit{Kind: UnitEndOfStream}
	assert.NoError(t, waitDone(t, aDone))
	assert.NoError(t, waitDone(t, bDone))

	assert.False(t, srv.IsActive("A"))
	assert.False(t, srv.IsActive("B"))
	rec.mu.Lock()
	assert.Equal(t, 1, rec.n)
	rec.mu.Unlock()
}

func TestSession_ReplaysBacklogFirst(t *testing.T) {
	srv := core.NewServer(core.Conf{})
	defer srv.Close()

	srv.Follow("B", "A")
	for i := 0; i < 3; i++ {
		_, err := srv.Publish(context.Background(), "A", "old", int64(i))
		require.NoError(t, err)
	}

	bConn := newFakeConn()
	_, done := startSession(t, srv, "B", 2, bConn, nil)
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint32(i), bConn.next(t).ID)
	}
	_, err := srv.Publish(context.Background(), "A", "new", 9)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), bConn.next(t).ID)

	bConn.units <- Unit{Kind: UnitEndOfStream}
	assert.NoError(t, waitDone(t, done))
}

func TestSession_IgnoresBadUnits(t *testing.T) {
	srv := core.NewServer(core.Conf{})
	defer srv.Close()

	conn := newFakeConn()
	_, done := startSession(t, srv, "A", 1, conn, nil)
	conn.units <- Unit{Kind: UnitUnknown, Err: ErrUnknownCommand.Wrap()}
	conn.units <- Unit{Kind: UnitMalformed, Err: ErrMalformedUnit.Wrap()}
	conn.units <- Unit{Kind: UnitPublish, Payload: "still alive"}
	require.Eventually(t, func() bool { return len(srv.Notifications()) == 1 }, time.Second, 5*time.Millisecond)

	conn.units <- Unit{Kind: UnitEndOfStream}
	assert.NoError(t, waitDone(t, done))
}

func TestSession_WriteFailureTearsDown(t *testing.T) {
	srv := core.NewServer(core.Conf{})
	defer srv.Close()

	srv.Follow("B", "A")
	_, err := srv.Publish(context.Background(), "A", "x", 1)
	require.NoError(t, err)

	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	_, done := startSession(t, srv, "B", 2, conn, nil)

	err = waitDone(t, done)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransportFailure))
	assert.False(t, srv.IsActive("B"))
}

func TestSession_TeardownIsIdempotent(t *testing.T) {
	srv := core.NewServer(core.Conf{})
	defer srv.Close()

	conn := newFakeConn()
	sess, done := startSession(t, srv, "A", 1, conn, nil)
	sess.Teardown()
	sess.Teardown()
	assert.NoError(t, waitDone(t, done))
	assert.False(t, srv.IsActive("A"))

	// the freed permit can be used again
	_, err := srv.StartSession("A", model.Endpoint{Addr: "127.0.0.1", Port: 1})
	assert.NoError(t, err)
}

func TestSession_ReconnectReceivesMissedNotificationOnce(t *testing.T) {
	srv := core.NewServer(core.Conf{})
	defer srv.Close()

	aConn := newFakeConn()
	_, aDone := startSession(t, srv, "A", 1, aConn, nil)

	bConn := newFakeConn()
	_, bDone := startSession(t, srv, "B", 2, bConn, nil)
	bConn.units <- Unit{Kind: UnitFollow, Payload: "A"}
	require.Eventually(t, func() bool { return len(srv.Followers()["A"]) == 1 }, time.Second, 5*time.Millisecond)
	bConn.units <- Unit{Kind: UnitEndOfStream}
	require.NoError(t, waitDone(t, bDone))
	require.False(t, srv.IsActive("B"))

	aConn.units <- Unit{Kind: UnitPublish, Payload: "hello", Timestamp: 100}
	require.Eventually(t, func() bool { return len(srv.Unread()["B"]) == 1 }, time.Second, 5*time.Millisecond)

	bConn = newFakeConn()
	_, bDone = startSession(t, srv, "B", 2, bConn, nil)
	n := bConn.next(t)
	assert.Equal(t, model.Notification{ID: 0, Author: "A", Timestamp: 100, Body: "hello", Length: 5, Pending: 1}, n)
	select {
	case extra := <-bConn.written:
		t.Fatalf("unexpected second notification %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, srv.Unread()["B"])

	aConn.units <- Unit{Kind: UnitEndOfStream}
	bConn.units <- Unit{Kind: UnitEndOfStream}
	assert.NoError(t, waitDone(t, aDone))
	assert.NoError(t, waitDone(t, bDone))
}
