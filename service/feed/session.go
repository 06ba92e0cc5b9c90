package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"PPNotify/logger"
	"PPNotify/module/feed/delivery"
	"PPNotify/module/feed/model"
	"PPNotify/tools/safe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Conn is the per-connection transport seen by a session. ReadUnit blocks
// until a command arrives; a clean close from the peer is reported as an
// EndOfStream unit, anything else as an error. Close must unblock ReadUnit.
type Conn interface {
	ReadUnit() (Unit, error)
	WriteNotification(n model.Notification) error
	Close() error
}

// Engine is the part of the notification server a session drives.
type Engine interface {
	Follow(user, target string) bool
	Publish(ctx context.Context, author, body string, ts int64) (model.Notification, error)
	ReplayBacklog(user string, ep model.Endpoint) (int, error)
	CloseSession(user string, ep model.Endpoint) bool
}

// DeliveryRecorder is told about every notification written to a client.
type DeliveryRecorder interface {
	Delivered(user string, n model.Notification)
}

// ConnectionSession serves one admitted endpoint: a command loop reading
// from the client and a delivery loop writing queued notifications to it.
type ConnectionSession struct {
	ID       string
	User     string
	Endpoint model.Endpoint

	conn     Conn
	queue    *delivery.Queue
	engine   Engine
	recorder DeliveryRecorder
	log      *zap.Logger

	once     sync.Once
	tornDown atomic.Bool
}

func NewConnectionSession(id, user string, ep model.Endpoint, conn Conn, q *delivery.Queue, engine Engine, rec DeliveryRecorder) *ConnectionSession {
	return &ConnectionSession{
		ID:       id,
		User:     user,
		Endpoint: ep,
		conn:     conn,
		queue:    q,
		engine:   engine,
		recorder: rec,
		log:      logger.With(zap.String("session", id), zap.String("user", user), zap.Stringer("endpoint", ep)),
	}
}

// Run blocks until both loops have ended. Either loop ending, or ctx being
// cancelled, tears the session down. The returned error is the first
// transport failure, or nil for an orderly close.
func (s *ConnectionSession) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.Teardown()
		return safe.Run(func() error { return s.commandLoop(gctx) })
	})
	g.Go(func() error {
		defer s.Teardown()
		return safe.Run(func() error { return s.deliveryLoop(gctx) })
	})
	err := g.Wait()
	if err != nil {
		s.log.Info("session ended", zap.Error(err))
	} else {
		s.log.Debug("session ended")
	}
	return err
}

// Teardown closes the session exactly once: it frees the admission permit,
// discards the queue and closes the transport.
func (s *ConnectionSession) Teardown() {
	s.once.Do(func() {
		s.tornDown.Store(true)
		s.engine.CloseSession(s.User, s.Endpoint)
		if err := s.conn.Close(); err != nil {
			s.log.Debug("close transport", zap.Error(err))
		}
	})
}

func (s *ConnectionSession) commandLoop(ctx context.Context) error {
	for {
		u, err := s.conn.ReadUnit()
		if err != nil {
			if s.tornDown.Load() {
				return nil
			}
			return ErrTransportFailure.WrapMsg(err.Error(), "op", "read")
		}
		switch u.Kind {
		case UnitEndOfStream:
			return nil
		case UnitFollow:
			if s.engine.Follow(s.User, u.Payload) {
				s.log.Debug("follow", zap.String("target", u.Payload))
			}
		case UnitPublish:
			n, err := s.engine.Publish(ctx, s.User, u.Payload, u.Timestamp)
			if err != nil {
				s.log.Warn("publish failed", zap.Error(err))
				continue
			}
			s.log.Debug("published", zap.Uint32("id", n.ID))
		default:
			s.log.Info("ignoring unit", zap.Stringer("kind", u.Kind), zap.Error(u.Err))
		}
	}
}

func (s *ConnectionSession) deliveryLoop(ctx context.Context) error {
	moved, err := s.engine.ReplayBacklog(s.User, s.Endpoint)
	if err != nil {
		if s.tornDown.Load() {
			return nil
		}
		return err
	}
	if moved > 0 {
		s.log.Debug("backlog replayed", zap.Int("count", moved))
	}

	for {
		batch, err := s.queue.DrainBlocking(ctx)
		if err != nil {
			if errors.Is(err, delivery.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, n := range batch {
			if err := s.conn.WriteNotification(n); err != nil {
				if s.tornDown.Load() {
					return nil
				}
				return ErrTransportFailure.WrapMsg(err.Error(), "op", "write", "id", n.ID)
			}
			if s.recorder != nil {
				s.recorder.Delivered(s.User, n)
			}
		}
	}
}
