// Package delivery implements the per-endpoint queue of notifications waiting
// to be written to a connected client.
//
// A Queue is an ordered set of notification ids. The consumer always takes
// ids smallest-first, so an endpoint observes notifications in publish order
// no matter in which order producers inserted them. Queues are unbounded.
package delivery

import (
	"context"
	"sync"

	"PPNotify/logger"
	"PPNotify/module/feed/model"
	"PPNotify/tools/errs"

	"github.com/google/btree"
	"go.uber.org/zap"
)

var ErrQueueClosed = errs.NewCodeError(errs.QueueClosedError, "delivery queue closed")

// Resolver maps an id to its stored notification.
type Resolver interface {
	Get(id uint32) (model.Notification, bool)
}

const btreeDegree = 8

type Queue struct {
	mu       sync.Mutex
	ids      *btree.BTreeG[uint32]
	closed   bool
	ready    chan struct{} // cap 1; a pending wake-up for the consumer
	done     chan struct{} // closed by Close
	resolver Resolver

	unresolved int // ids drained that the resolver could not find
}

func NewQueue(r Resolver) *Queue {
	return &Queue{
		ids:      btree.NewOrderedG[uint32](btreeDegree),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		resolver: r,
	}
}

// Push inserts id and wakes the consumer. It reports false when the queue is
// already closed; the id is then not queued.
func (q *Queue) Push(id uint32) bool {
	return q.PushAll([]uint32{id})
}

// PushAll inserts every id atomically with respect to the consumer.
func (q *Queue) PushAll(ids []uint32) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	for _, id := range ids {
		q.ids.ReplaceOrInsert(id)
	}
	q.mu.Unlock()

	if len(ids) > 0 {
		q.signal()
	}
	return true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// DrainBlocking waits until at least one id is queued, then removes ids in
// ascending order until the queue is empty and returns the resolved batch.
// It returns ErrQueueClosed once the queue is closed and ctx.Err() when ctx
// ends first.
func (q *Queue) DrainBlocking(ctx context.Context) ([]model.Notification, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed.Wrap()
		}
		if q.ids.Len() > 0 {
			out := make([]model.Notification, 0, q.ids.Len())
			for {
				id, ok := q.ids.DeleteMin()
				if !ok {
					break
				}
				n, found := q.resolver.Get(id)
				if !found {
					q.unresolved++
					logger.Warn("queued notification id not in store", zap.Uint32("id", id))
					continue
				}
				out = append(out, n)
			}
			q.mu.Unlock()
			return out, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close discards pending ids and releases a parked consumer. Safe to call
// more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.ids.Clear(false)
	close(q.done)
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Unresolved counts ids that were drained but missing from the store.
func (q *Queue) Unresolved() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unresolved
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ids.Len()
}
