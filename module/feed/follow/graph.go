// Package follow records who follows whom.
package follow

import (
	"slices"
	"sync"
)

type followers struct {
	order []string
	set   map[string]struct{}
}

// Graph maps a user to the users following it. Edges are directional and
// adding one twice is a no-op.
type Graph struct {
	mu    sync.RWMutex
	edges map[string]*followers
}

func NewGraph() *Graph {
	return &Graph{edges: make(map[string]*followers)}
}

func (g *Graph) entryLocked(user string) *followers {
	f, ok := g.edges[user]
	if !ok {
		f = &followers{set: make(map[string]struct{})}
		g.edges[user] = f
	}
	return f
}

// Ensure creates an empty follower record for user.
func (g *Graph) Ensure(user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entryLocked(user)
}

// Follow makes user a follower of target and reports whether the edge is new.
func (g *Graph) Follow(user, target string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entryLocked(user)
	f := g.entryLocked(target)
	if _, ok := f.set[user]; ok {
		return false
	}
	f.set[user] = struct{}{}
	f.order = append(f.order, user)
	return true
}

// FollowersOf returns a copy of target's followers in the order they followed.
func (g *Graph) FollowersOf(target string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.edges[target]
	if !ok {
		return nil
	}
	return slices.Clone(f.order)
}

func (g *Graph) IsFollowing(user, target string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.edges[target]
	if !ok {
		return false
	}
	_, ok = f.set[user]
	return ok
}

func (g *Graph) Snapshot() map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string][]string, len(g.edges))
	for u, f := range g.edges {
		out[u] = slices.Clone(f.order)
	}
	return out
}
