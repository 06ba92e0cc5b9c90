// Package feed wires the notification engine together: session admission,
// the follower graph, the notification store and follower fanout.
package feed

import (
	"context"

	"PPNotify/module/feed/delivery"
	"PPNotify/module/feed/fanout"
	"PPNotify/module/feed/follow"
	"PPNotify/module/feed/model"
	"PPNotify/module/feed/notify"
	"PPNotify/module/feed/session"
	"PPNotify/module/feed/unread"
)

type Conf struct {
	AdmissionLimit int
	MirrorBuffer   int
	Committer      fanout.Committer
	Sinks          []fanout.Sink
	Observers      []session.Observer
	Recorder       fanout.Recorder
}

// Server owns one instance of every registry. Several servers in one process
// share nothing.
type Server struct {
	graph    *follow.Graph
	registry *session.Registry
	store    *notify.Store
	unread   *unread.Tracker
	fanout   *fanout.Coordinator
	pump     *fanout.Pump
}

func NewServer(conf Conf) *Server {
	s := &Server{
		graph:  follow.NewGraph(),
		store:  notify.NewStore(),
		unread: unread.NewTracker(),
	}
	s.registry = session.NewRegistry(session.Conf{
		AdmissionLimit: conf.AdmissionLimit,
		Resolver:       s.store,
		Observers:      conf.Observers,
	})
	if len(conf.Sinks) > 0 {
		s.pump = fanout.NewPump(conf.MirrorBuffer, conf.Sinks...)
	}
	s.fanout = fanout.NewCoordinator(s.graph, s.registry, s.store, s.unread, fanout.Conf{
		Committer: conf.Committer,
		Pump:      s.pump,
		Recorder:  conf.Recorder,
	})
	return s
}

// StartSession admits a new endpoint for user, creating the user on first
// sight. The returned queue is owned by the caller's delivery loop.
func (s *Server) StartSession(user string, ep model.Endpoint) (*delivery.Queue, error) {
	s.graph.Ensure(user)
	s.unread.Ensure(user)
	return s.registry.StartSession(user, ep)
}

func (s *Server) CloseSession(user string, ep model.Endpoint) bool {
	return s.registry.CloseSession(user, ep)
}

func (s *Server) IsActive(user string) bool { return s.registry.IsActive(user) }

func (s *Server) AdmissionLimit() int { return s.registry.AdmissionLimit() }

func (s *Server) Follow(user, target string) bool {
	s.unread.Ensure(user)
	s.unread.Ensure(target)
	return s.graph.Follow(user, target)
}

func (s *Server) Publish(ctx context.Context, author, body string, ts int64) (model.Notification, error) {
	return s.fanout.Publish(ctx, author, body, ts)
}

func (s *Server) ReplayBacklog(user string, ep model.Endpoint) (int, error) {
	return s.fanout.ReplayBacklog(user, ep)
}

// Close flushes the mirror sinks. Sessions are torn down by their owners.
func (s *Server) Close() {
	if s.pump != nil {
		s.pump.Close()
	}
}

// Snapshot is a point-in-time dump of the server state for diagnostics. The
// sections are read one after another, not atomically.
type Snapshot struct {
	Sessions      map[string][]model.Endpoint `json:"sessions"`
	Followers     map[string][]string         `json:"followers"`
	Unread        map[string][]uint32         `json:"unread"`
	Notifications []model.Notification        `json:"notifications"`
}

func (s *Server) Snapshot() Snapshot {
	return Snapshot{
		Sessions:      s.registry.Snapshot(),
		Followers:     s.graph.Snapshot(),
		Unread:        s.unread.Snapshot(),
		Notifications: s.store.All(),
	}
}

func (s *Server) Sessions() map[string][]model.Endpoint { return s.registry.Snapshot() }
func (s *Server) Followers() map[string][]string        { return s.graph.Snapshot() }
func (s *Server) Unread() map[string][]uint32           { return s.unread.Snapshot() }
func (s *Server) Notifications() []model.Notification   { return s.store.All() }
