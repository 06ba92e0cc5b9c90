package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"PPNotify/module/feed/model"
	"PPNotify/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopResolver struct{}

func (nopResolver) Get(uint32) (model.Notification, bool) { return model.Notification{}, false }

type countingObserver struct {
	started, rejected, closed atomic.Int32
}

func (o *countingObserver) SessionStarted(string, model.Endpoint)  { o.started.Add(1) }
func (o *countingObserver) SessionRejected(string, model.Endpoint) { o.rejected.Add(1) }
func (o *countingObserver) SessionClosed(string, model.Endpoint)   { o.closed.Add(1) }

func ep(port int) model.Endpoint { return model.Endpoint{Addr: "127.0.0.1", Port: port} }

func TestRegistry_DefaultLimit(t *testing.T) {
	r := NewRegistry(Conf{Resolver: nopResolver{}})
	assert.Equal(t, DefaultAdmissionLimit, r.AdmissionLimit())
}

func TestRegistry_AdmissionLimit(t *testing.T) {
	obs := &countingObserver{}
	r := NewRegistry(Conf{AdmissionLimit: 2, Resolver: nopResolver{}, Observers: []Observer{obs}})

	_, err := r.StartSession("a", ep(1))
	require.NoError(t, err)
	_, err = r.StartSession("a", ep(2))
	require.NoError(t, err)

	_, err = r.StartSession("a", ep(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAdmissionRejected))
	assert.Equal(t, errs.AdmissionRejectedError, errs.Code(err))
	assert.ElementsMatch(t, []model.Endpoint{ep(1), ep(2)}, r.Endpoints("a"))

	// another user has its own pool
	_, err = r.StartSession("b", ep(3))
	require.NoError(t, err)

	assert.True(t, r.CloseSession("a", ep(1)))
	_, err = r.StartSession("a", ep(4))
	require.NoError(t, err)

	assert.EqualValues(t, 4, obs.started.Load())
	assert.EqualValues(t, 1, obs.rejected.Load())
	assert.EqualValues(t, 1, obs.closed.Load())
}

func TestRegistry_ConcurrentAdmission(t *testing.T) {
	r := NewRegistry(Conf{AdmissionLimit: 2, Resolver: nopResolver{}})

	var (
		wg       sync.WaitGroup
		ok, fail atomic.Int32
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			if _, err := r.StartSession("a", ep(port)); err != nil {
				fail.Add(1)
				return
			}
			ok.Add(1)
		}(100 + i)
	}
	wg.Wait()

	assert.EqualValues(t, 2, ok.Load())
	assert.EqualValues(t, 1, fail.Load())
	assert.Len(t, r.Endpoints("a"), 2)
}

func TestRegistry_DuplicateEndpoint(t *testing.T) {
	r := NewRegistry(Conf{AdmissionLimit: 2, Resolver: nopResolver{}})
	_, err := r.StartSession("a", ep(1))
	require.NoError(t, err)

	_, err = r.StartSession("b", ep(1))
	assert.True(t, errors.Is(err, ErrEndpointInUse))

	// the failed attempt did not take one of b's permits
	_, err = r.StartSession("b", ep(2))
	require.NoError(t, err)
	_, err = r.StartSession("b", ep(3))
	require.NoError(t, err)
}

func TestRegistry_CloseSession(t *testing.T) {
	r := NewRegistry(Conf{Resolver: nopResolver{}})
	q, err := r.StartSession("a", ep(1))
	require.NoError(t, err)
	require.True(t, r.IsActive("a"))

	got, ok := r.Queue(ep(1))
	require.True(t, ok)
	assert.Same(t, q, got)
	assert.Len(t, r.QueuesOf("a"), 1)

	assert.False(t, r.CloseSession("a", ep(2)), "unknown endpoint")
	assert.False(t, r.CloseSession("nobody", ep(1)), "unknown user")
	assert.True(t, r.CloseSession("a", ep(1)))
	assert.False(t, r.CloseSession("a", ep(1)), "already closed")

	assert.True(t, q.Closed())
	assert.False(t, r.IsActive("a"))
	_, ok = r.Queue(ep(1))
	assert.False(t, ok)
	assert.Empty(t, r.QueuesOf("a"))

	snap := r.Snapshot()
	assert.Contains(t, snap, "a")
	assert.Empty(t, snap["a"])
}

func TestRegistry_QueueFor(t *testing.T) {
	r := NewRegistry(Conf{Resolver: nopResolver{}})
	qa, err := r.StartSession("a", ep(1))
	require.NoError(t, err)
	_, err = r.StartSession("b", ep(2))
	require.NoError(t, err)

	q, ok := r.QueueFor("a", ep(1))
	require.True(t, ok)
	assert.Same(t, qa, q)

	_, ok = r.QueueFor("b", ep(1))
	assert.False(t, ok)
	_, ok = r.QueueFor("nobody", ep(1))
	assert.False(t, ok)

	r.CloseSession("a", ep(1))
	_, ok = r.QueueFor("a", ep(1))
	assert.False(t, ok)
}
