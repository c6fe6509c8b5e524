package gamehost

import (
	"sort"
	"sync"
	"time"

	"transcendence/pong/internal/match"
)

// matchFactory builds a match for a freshly allocated id.
type matchFactory func(id int64, players []match.PlayerInfo) (*match.Match, error)

// Registry owns the live matches of the host.
type Registry struct {
	mu      sync.RWMutex
	matches map[int64]*match.Match
	ids     *match.IDGenerator
	build   matchFactory
}

// NewRegistry constructs an empty registry.
func NewRegistry(now func() time.Time, build matchFactory) *Registry {
	return &Registry{
		matches: make(map[int64]*match.Match),
		ids:     match.NewIDGenerator(now),
		build:   build,
	}
}

// Create allocates an id that no live match uses and registers the new match.
func (r *Registry) Create(players []match.PlayerInfo) (*match.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first, second int64
	if len(players) > 0 {
		first = players[0].ID
	}
	if len(players) > 1 {
		second = players[1].ID
	}
	id := r.ids.Next(first, second, func(candidate int64) bool {
		_, taken := r.matches[candidate]
		return taken
	})
	m, err := r.build(id, players)
	if err != nil {
		return nil, err
	}
	r.matches[id] = m
	return m, nil
}

// Get returns the live match with id.
func (r *Registry) Get(id int64) (*match.Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	return m, ok
}

// Remove unregisters id and returns the match that was removed.
func (r *Registry) Remove(id int64) (*match.Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if ok {
		delete(r.matches, id)
	}
	return m, ok
}

// Len returns the number of live matches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// IDs returns the live match ids in ascending order.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.matches))
	for id := range r.matches {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
