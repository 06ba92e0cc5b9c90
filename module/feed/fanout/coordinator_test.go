package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PPNotify/module/feed/follow"
	"PPNotify/module/feed/model"
	"PPNotify/module/feed/notify"
	"PPNotify/module/feed/session"
	"PPNotify/module/feed/unread"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	graph    *follow.Graph
	registry *session.Registry
	store    *notify.Store
	unread   *unread.Tracker
	c        *Coordinator
}

func newFixture(conf Conf) *fixture {
	f := &fixture{
		graph:  follow.NewGraph(),
		store:  notify.NewStore(),
		unread: unread.NewTracker(),
	}
	f.registry = session.NewRegistry(session.Conf{AdmissionLimit: 2, Resolver: f.store})
	f.c = NewCoordinator(f.graph, f.registry, f.store, f.unread, conf)
	return f
}

var epB1 = model.Endpoint{Addr: "10.0.0.2", Port: 5001}

func drain(t *testing.T, f *fixture, ep model.Endpoint) []model.Notification {
	t.Helper()
	q, ok := f.registry.Queue(ep)
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ns, err := q.DrainBlocking(ctx)
	require.NoError(t, err)
	return ns
}

func TestPublish_OfflineFollowerGetsBacklog(t *testing.T) {
	f := newFixture(Conf{})
	f.graph.Follow("b", "a")

	n, err := f.c.Publish(context.Background(), "a", "hello", 100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n.ID)
	assert.Equal(t, 5, n.Length)
	assert.Equal(t, 1, n.Pending)
	assert.Equal(t, []uint32{0}, f.unread.Pending("b"))

	_, err = f.registry.StartSession("b", epB1)
	require.NoError(t, err)
	moved, err := f.c.ReplayBacklog("b", epB1)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Empty(t, f.unread.Pending("b"))

	got := drain(t, f, epB1)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Body)
	assert.Equal(t, int64(100), got[0].Timestamp)
}

func TestPublish_LiveFollowerSkipsBacklog(t *testing.T) {
	f := newFixture(Conf{})
	f.graph.Follow("b", "a")
	_, err := f.registry.StartSession("b", epB1)
	require.NoError(t, err)

	_, err = f.c.Publish(context.Background(), "a", "x", 1)
	require.NoError(t, err)
	assert.Empty(t, f.unread.Pending("b"))
	assert.Len(t, drain(t, f, epB1), 1)
}

func TestPublish_EveryEndpointGetsACopy(t *testing.T) {
	f := newFixture(Conf{})
	f.graph.Follow("b", "a")
	ep2 := model.Endpoint{Addr: "10.0.0.2", Port: 5002}
	for _, ep := range []model.Endpoint{epB1, ep2} {
		_, err := f.registry.StartSession("b", ep)
		require.NoError(t, err)
	}

	_, err := f.c.Publish(context.Background(), "a", "x", 1)
	require.NoError(t, err)
	assert.Len(t, drain(t, f, epB1), 1)
	assert.Len(t, drain(t, f, ep2), 1)
}

func TestPublish_NoFollowers(t *testing.T) {
	f := newFixture(Conf{})
	n, err := f.c.Publish(context.Background(), "lonely", "x", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, n.Pending)
	assert.Equal(t, 1, f.store.Len())
}

type vetoCommitter struct{ veto bool }

func (v *vetoCommitter) CommitPublish(context.Context, model.Notification) error {
	if v.veto {
		return errors.New("nack")
	}
	return nil
}

func TestPublish_CommitRejectedKeepsID(t *testing.T) {
	cm := &vetoCommitter{veto: true}
	f := newFixture(Conf{Committer: cm})
	f.graph.Follow("b", "a")

	_, err := f.c.Publish(context.Background(), "a", "x", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCommitRejected))
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.unread.Pending("b"))

	cm.veto = false
	n, err := f.c.Publish(context.Background(), "a", "y", 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n.ID)
}

func TestReplayBacklog_UnknownEndpoint(t *testing.T) {
	f := newFixture(Conf{})
	_, err := f.c.ReplayBacklog("b", epB1)
	assert.True(t, errors.Is(err, ErrEndpointNotFound))
}

func TestReplayBacklog_ForeignEndpoint(t *testing.T) {
	f := newFixture(Conf{})
	f.graph.Follow("b", "a")
	_, err := f.c.Publish(context.Background(), "a", "for b", 1)
	require.NoError(t, err)

	epA := model.Endpoint{Addr: "10.0.0.1", Port: 4000}
	_, err = f.registry.StartSession("a", epA)
	require.NoError(t, err)

	moved, err := f.c.ReplayBacklog("b", epA)
	assert.True(t, errors.Is(err, ErrEndpointNotFound))
	assert.Zero(t, moved)
	assert.Equal(t, []uint32{0}, f.unread.Pending("b"))
	q, _ := f.registry.Queue(epA)
	assert.Equal(t, 0, q.Len())
}

func TestReplayBacklog_Empty(t *testing.T) {
	f := newFixture(Conf{})
	_, err := f.registry.StartSession("b", epB1)
	require.NoError(t, err)
	moved, err := f.c.ReplayBacklog("b", epB1)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

type countingRecorder struct {
	mu        sync.Mutex
	published int
	live      int
	replayed  int
}

func (r *countingRecorder) Published(_ model.Notification, live int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published++
	r.live += live
}

func (r *countingRecorder) Replayed(_ string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replayed += count
}

func TestCoordinator_Recorder(t *testing.T) {
	rec := &countingRecorder{}
	f := newFixture(Conf{Recorder: rec})
	f.graph.Follow("b", "a")
	f.graph.Follow("c", "a")
	_, err := f.registry.StartSession("b", epB1)
	require.NoError(t, err)

	_, err = f.c.Publish(context.Background(), "a", "x", 1)
	require.NoError(t, err)

	epC := model.Endpoint{Addr: "10.0.0.3", Port: 1}
	_, err = f.registry.StartSession("c", epC)
	require.NoError(t, err)
	_, err = f.c.ReplayBacklog("c", epC)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.published)
	assert.Equal(t, 1, rec.live)
	assert.Equal(t, 1, rec.replayed)
}

// Concurrent publishers and a follower connecting mid-stream: the follower
// sees every notification exactly once, in id order.
func TestCoordinator_NoLossAcrossConnect(t *testing.T) {
	f := newFixture(Conf{})
	f.graph.Follow("b", "a")

	const total = 200
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/4; i++ {
				_, err := f.c.Publish(context.Background(), "a", "m", int64(i))
				assert.NoError(t, err)
			}
		}()
	}

	_, err := f.registry.StartSession("b", epB1)
	require.NoError(t, err)
	_, err = f.c.ReplayBacklog("b", epB1)
	require.NoError(t, err)
	wg.Wait()

	var seen []uint32
	for len(seen) < total {
		for _, n := range drain(t, f, epB1) {
			seen = append(seen, n.ID)
		}
	}
	require.Len(t, seen, total)
	for i, id := range seen {
		assert.Equal(t, uint32(i), id)
	}
	assert.Empty(t, f.unread.Pending("b"))
}
