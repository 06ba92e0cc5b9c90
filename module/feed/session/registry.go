package session

import (
	"slices"
	"sync"

	"PPNotify/module/feed/delivery"
	"PPNotify/module/feed/model"
	"PPNotify/tools/errs"

	"golang.org/x/sync/semaphore"
)

const DefaultAdmissionLimit = 2

var (
	ErrAdmissionRejected = errs.NewCodeError(errs.AdmissionRejectedError, "admission rejected: no sessions available")
	ErrEndpointInUse     = errs.NewCodeError(errs.EndpointInUseError, "endpoint already registered")
)

// Observer is told about session lifecycle events after the registry lock
// has been released. Implementations must not block for long.
type Observer interface {
	SessionStarted(user string, ep model.Endpoint)
	SessionRejected(user string, ep model.Endpoint)
	SessionClosed(user string, ep model.Endpoint)
}

type Conf struct {
	AdmissionLimit int               // live endpoints per user (<=0 => DefaultAdmissionLimit)
	Resolver       delivery.Resolver // used by every queue the registry allocates
	Observers      []Observer
}

func (c *Conf) norm() {
	if c.AdmissionLimit <= 0 {
		c.AdmissionLimit = DefaultAdmissionLimit
	}
}

type userSessions struct {
	permits   *semaphore.Weighted
	endpoints []model.Endpoint
}

// Registry tracks every user's live endpoints and enforces the admission
// limit. One mutex covers user creation, the permit pools, the endpoint lists
// and the queue map.
type Registry struct {
	mu     sync.Mutex
	users  map[string]*userSessions
	queues map[model.Endpoint]*delivery.Queue
	conf   Conf
}

func NewRegistry(conf Conf) *Registry {
	conf.norm()
	return &Registry{
		users:  make(map[string]*userSessions),
		queues: make(map[model.Endpoint]*delivery.Queue),
		conf:   conf,
	}
}

func (r *Registry) AdmissionLimit() int { return r.conf.AdmissionLimit }

func (r *Registry) userLocked(user string) *userSessions {
	us, ok := r.users[user]
	if !ok {
		us = &userSessions{permits: semaphore.NewWeighted(int64(r.conf.AdmissionLimit))}
		r.users[user] = us
	}
	return us
}

// StartSession admits ep for user without waiting. On success the endpoint is
// live and owns a fresh, empty delivery queue.
func (r *Registry) StartSession(user string, ep model.Endpoint) (*delivery.Queue, error) {
	r.mu.Lock()
	us := r.userLocked(user)
	if _, busy := r.queues[ep]; busy {
		r.mu.Unlock()
		return nil, ErrEndpointInUse.WrapMsg("", "user", user, "endpoint", ep)
	}
	if !us.permits.TryAcquire(1) {
		r.mu.Unlock()
		r.notify(func(o Observer) { o.SessionRejected(user, ep) })
		return nil, ErrAdmissionRejected.WrapMsg("", "user", user, "limit", r.conf.AdmissionLimit)
	}
	us.endpoints = append(us.endpoints, ep)
	q := delivery.NewQueue(r.conf.Resolver)
	r.queues[ep] = q
	r.mu.Unlock()

	r.notify(func(o Observer) { o.SessionStarted(user, ep) })
	return q, nil
}

// CloseSession unregisters ep, discards its queue and frees one permit. It
// reports false, changing nothing, when ep is not a live endpoint of user.
func (r *Registry) CloseSession(user string, ep model.Endpoint) bool {
	r.mu.Lock()
	us, ok := r.users[user]
	if !ok {
		r.mu.Unlock()
		return false
	}
	i := slices.Index(us.endpoints, ep)
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	us.endpoints = slices.Delete(us.endpoints, i, i+1)
	if q, ok := r.queues[ep]; ok {
		q.Close()
		delete(r.queues, ep)
	}
	us.permits.Release(1)
	r.mu.Unlock()

	r.notify(func(o Observer) { o.SessionClosed(user, ep) })
	return true
}

func (r *Registry) IsActive(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	us, ok := r.users[user]
	return ok && len(us.endpoints) > 0
}

func (r *Registry) Endpoints(user string) []model.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if us, ok := r.users[user]; ok {
		return slices.Clone(us.endpoints)
	}
	return nil
}

// QueueFor returns the queue of ep only when ep is a live endpoint of user.
func (r *Registry) QueueFor(user string, ep model.Endpoint) (*delivery.Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	us, ok := r.users[user]
	if !ok || !slices.Contains(us.endpoints, ep) {
		return nil, false
	}
	q, ok := r.queues[ep]
	return q, ok
}

func (r *Registry) Queue(ep model.Endpoint) (*delivery.Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[ep]
	return q, ok
}

// QueuesOf returns the queues of every live endpoint of user.
func (r *Registry) QueuesOf(user string) []*delivery.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	us, ok := r.users[user]
	if !ok || len(us.endpoints) == 0 {
		return nil
	}
	out := make([]*delivery.Queue, 0, len(us.endpoints))
	for _, ep := range us.endpoints {
		if q, ok := r.queues[ep]; ok {
			out = append(out, q)
		}
	}
	return out
}

// Snapshot lists every known user with its live endpoints.
func (r *Registry) Snapshot() map[string][]model.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]model.Endpoint, len(r.users))
	for u, us := range r.users {
		out[u] = slices.Clone(us.endpoints)
	}
	return out
}

func (r *Registry) notify(fn func(Observer)) {
	for _, o := range r.conf.Observers {
		fn(o)
	}
}
