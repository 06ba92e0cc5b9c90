// Package unread keeps, per user, the ids of notifications that have not yet
// been routed to any of the user's endpoints.
package unread

import (
	"slices"
	"sync"
)

type Tracker struct {
	mu      sync.Mutex
	backlog map[string][]uint32
}

func NewTracker() *Tracker {
	return &Tracker{backlog: make(map[string][]uint32)}
}

// Ensure creates an empty backlog for user if there is none.
func (t *Tracker) Ensure(user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.backlog[user]; !ok {
		t.backlog[user] = nil
	}
}

// Append adds id to the backlog of every user in users.
func (t *Tracker) Append(users []string, id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range users {
		t.backlog[u] = append(t.backlog[u], id)
	}
}

// Remove deletes one (user, id) entry and reports whether it existed.
func (t *Tracker) Remove(user string, id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.backlog[user]
	i := slices.Index(list, id)
	if i < 0 {
		return false
	}
	t.backlog[user] = slices.Delete(list, i, i+1)
	return true
}

// Take empties the user's backlog and returns what it held, oldest first.
func (t *Tracker) Take(user string) []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.backlog[user]
	if _, ok := t.backlog[user]; ok {
		t.backlog[user] = nil
	}
	return list
}

// Restore puts ids back in front of whatever accumulated since they were
// taken.
func (t *Tracker) Restore(user string, ids []uint32) {
	if len(ids) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backlog[user] = append(slices.Clone(ids), t.backlog[user]...)
}

func (t *Tracker) Pending(user string) []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.backlog[user])
}

func (t *Tracker) Snapshot() map[string][]uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]uint32, len(t.backlog))
	for u, list := range t.backlog {
		out[u] = slices.Clone(list)
	}
	return out
}
