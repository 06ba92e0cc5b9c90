// Package fanout routes every published notification to its author's
// followers: straight into the queues of connected endpoints, or into the
// follower's unread backlog when no endpoint is connected.
package fanout

import (
	"context"
	"sync"

	"PPNotify/logger"
	"PPNotify/module/feed/follow"
	"PPNotify/module/feed/model"
	"PPNotify/module/feed/notify"
	"PPNotify/module/feed/session"
	"PPNotify/module/feed/unread"
	"PPNotify/tools/errs"

	"go.uber.org/zap"
)

var (
	ErrCommitRejected   = errs.NewCodeError(errs.CommitRejectedError, "publish rejected by commit capability")
	ErrEndpointNotFound = errs.NewCodeError(errs.EndpointNotFoundError, "endpoint not registered")
)

// Committer is asked to accept a notification before it becomes visible. A
// non-nil error vetoes the publish.
type Committer interface {
	CommitPublish(ctx context.Context, n model.Notification) error
}

// Recorder is told about routing outcomes. Calls happen under the fanout
// lock and must return quickly.
type Recorder interface {
	Published(n model.Notification, live int)
	Replayed(user string, count int)
}

type Conf struct {
	Committer Committer
	Pump      *Pump
	Recorder  Recorder
}

type Coordinator struct {
	// mu serializes id assignment, backlog routing and replay.
	mu sync.Mutex

	graph    *follow.Graph
	registry *session.Registry
	store    *notify.Store
	unread   *unread.Tracker
	conf     Conf
}

func NewCoordinator(g *follow.Graph, r *session.Registry, s *notify.Store, u *unread.Tracker, conf Conf) *Coordinator {
	return &Coordinator{graph: g, registry: r, store: s, unread: u, conf: conf}
}

// Publish stores a new notification from author and routes it to every
// current follower. Followers added after the snapshot taken here do not
// receive it.
func (c *Coordinator) Publish(ctx context.Context, author, body string, ts int64) (model.Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	followers := c.graph.FollowersOf(author)
	n := model.NewNotification(c.store.NextID(), author, body, ts, len(followers))

	if c.conf.Committer != nil {
		if err := c.conf.Committer.CommitPublish(ctx, n); err != nil {
			return model.Notification{}, ErrCommitRejected.WrapMsg(err.Error(), "author", author)
		}
	}

	c.unread.Append(followers, n.ID)
	if err := c.store.Append(n); err != nil {
		// unreachable while every append goes through this lock
		return model.Notification{}, err
	}

	live := 0
	for _, f := range followers {
		landed := false
		for _, q := range c.registry.QueuesOf(f) {
			if q.Push(n.ID) {
				landed = true
			}
		}
		if landed {
			c.unread.Remove(f, n.ID)
			live++
		}
	}

	if c.conf.Recorder != nil {
		c.conf.Recorder.Published(n, live)
	}
	if c.conf.Pump != nil {
		c.conf.Pump.Offer(n)
	}
	logger.Debug("notification published",
		zap.Uint32("id", n.ID), zap.String("author", author),
		zap.Int("followers", len(followers)), zap.Int("live", live))
	return n, nil
}

// ReplayBacklog moves user's whole unread backlog into the queue of ep and
// returns how many ids were moved. ep must be one of user's live endpoints.
func (c *Coordinator) ReplayBacklog(user string, ep model.Endpoint) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.registry.QueueFor(user, ep)
	if !ok {
		return 0, ErrEndpointNotFound.WrapMsg("", "user", user, "endpoint", ep)
	}
	ids := c.unread.Take(user)
	if len(ids) == 0 {
		return 0, nil
	}
	if !q.PushAll(ids) {
		c.unread.Restore(user, ids)
		return 0, ErrEndpointNotFound.WrapMsg("queue closed during replay", "user", user, "endpoint", ep)
	}
	if c.conf.Recorder != nil {
		c.conf.Recorder.Replayed(user, len(ids))
	}
	return len(ids), nil
}
