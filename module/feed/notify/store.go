// Package notify holds every notification published during the life of the
// process. Records are append-only and never change once stored.
package notify

import (
	"sync"

	"PPNotify/module/feed/model"
	"PPNotify/tools/errs"
)

var (
	ErrOutOfOrder = errs.NewCodeError(errs.IDOutOfOrderError, "notification id out of order")
	ErrConflict   = errs.NewCodeError(errs.ReplicaConflictError, "notification id already holds another record")
)

type Store struct {
	mu    sync.RWMutex
	items []model.Notification // index == id
}

func NewStore() *Store {
	return &Store{items: make([]model.Notification, 0, 64)}
}

// NextID is the id the next Append must carry. Only the fanout coordinator
// appends, under its own lock, so peeking and appending cannot interleave.
func (s *Store) NextID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.items))
}

func (s *Store) Append(n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID != uint32(len(s.items)) {
		return ErrOutOfOrder.WrapMsg("", "want", len(s.items), "got", n.ID)
	}
	s.items = append(s.items, n)
	return nil
}

// Replicate applies n on a replica copy of the log. The primary only asks for
// id len-1 again when it never saw the ack for it, so the unacknowledged tail
// is replaced. An older id must match the stored record.
func (s *Store) Replicate(n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := len(s.items)
	switch {
	case int64(n.ID) == int64(size):
		s.items = append(s.items, n)
	case int64(n.ID) == int64(size)-1:
		s.items[n.ID] = n
	case int64(n.ID) < int64(size)-1:
		if s.items[n.ID] != n {
			return ErrConflict.WrapMsg("", "id", n.ID)
		}
	default:
		return ErrOutOfOrder.WrapMsg("", "want", size, "got", n.ID)
	}
	return nil
}

func (s *Store) Get(id uint32) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int64(id) >= int64(len(s.items)) {
		return model.Notification{}, false
	}
	return s.items[id], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// All returns a copy of every stored notification in id order.
func (s *Store) All() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, len(s.items))
	copy(out, s.items)
	return out
}
