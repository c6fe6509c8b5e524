package matchmaking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"transcendence/pong/internal/logging"
)

// GroupFunc receives parties removed from a queue because together they fill a match.
type GroupFunc func(mode GameType, parties []*Party)

type queuedParty struct {
	party *Party
	seq   uint64
}

type modeQueue struct {
	mu      sync.Mutex
	size    int
	entries []queuedParty
}

// Matcher scans one queue per game type and forms groups of parties with close ranks.
type Matcher struct {
	interval time.Duration
	window   int
	onGroup  GroupFunc
	log      *logging.Logger

	queues map[GameType]*modeQueue

	mu     sync.Mutex
	seq    uint64
	groups uint64
}

// NewMatcher builds a matcher with a group size per game type. Scans run every interval and
// accept parties within window rank points of the lowest queued party.
func NewMatcher(sizes map[GameType]int, window int, interval time.Duration, onGroup GroupFunc, logger *logging.Logger) *Matcher {
	if logger == nil {
		logger = logging.L()
	}
	m := &Matcher{
		interval: interval,
		window:   window,
		onGroup:  onGroup,
		log:      logger,
		queues:   make(map[GameType]*modeQueue, len(sizes)),
	}
	for mode, size := range sizes {
		m.queues[mode] = &modeQueue{size: size}
	}
	return m
}

// Enqueue appends p to the queue of its game type.
func (m *Matcher) Enqueue(p *Party) error {
	q, ok := m.queues[p.GameType()]
	if !ok {
		return ErrInvalidGameType
	}
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	if lo.ContainsBy(q.entries, func(e queuedParty) bool { return e.party == p }) {
		return ErrAlreadyQueued
	}
	q.entries = append(q.entries, queuedParty{party: p, seq: seq})
	return nil
}

// Dequeue removes p. It reports false when p was not queued, for instance because a scan
// already selected it.
func (m *Matcher) Dequeue(p *Party) bool {
	q, ok := m.queues[p.GameType()]
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	before := len(q.entries)
	q.entries = lo.Filter(q.entries, func(e queuedParty, _ int) bool { return e.party != p })
	return len(q.entries) != before
}

// Depth returns how many parties wait in the queue of mode.
func (m *Matcher) Depth(mode GameType) int {
	q, ok := m.queues[mode]
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Groups returns how many groups were formed since start.
func (m *Matcher) Groups() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups
}

// Run scans every queue on its own goroutine until ctx is cancelled.
func (m *Matcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for mode := range m.queues {
		wg.Add(1)
		go func(mode GameType) {
			defer wg.Done()
			ticker := time.NewTicker(m.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.Scan(mode)
				}
			}
		}(mode)
	}
	wg.Wait()
}

// Scan forms as many groups as the queue of mode allows and returns how many it formed.
func (m *Matcher) Scan(mode GameType) int {
	q, ok := m.queues[mode]
	if !ok {
		return 0
	}
	formed := 0
	for {
		q.mu.Lock()
		group := q.selectLocked(m.window)
		q.mu.Unlock()
		if group == nil {
			return formed
		}
		formed++
		m.mu.Lock()
		m.groups++
		m.mu.Unlock()
		m.log.Info("group formed", logging.String("game_type", string(mode)), logging.Int("parties", len(group)))
		if m.onGroup != nil {
			m.onGroup(mode, group)
		}
	}
}

// selectLocked picks one full group and removes it from the queue.
func (q *modeQueue) selectLocked(window int) []*Party {
	if len(q.entries) == 0 {
		return nil
	}
	//1.- Rank each party once so the sort and the window see the same numbers.
	candidates := lo.Map(q.entries, func(e queuedParty, _ int) rankedParty {
		return rankedParty{queuedParty: e, rank: e.party.AvgRank(), size: e.party.Size()}
	})
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].rank != candidates[j].rank {
			return candidates[i].rank < candidates[j].rank
		}
		return candidates[i].seq < candidates[j].seq
	})

	//2.- Anchor on each party in rank order until one completes a group inside the window.
	var picked []*Party
	for i := range candidates {
		if picked = q.fillFrom(candidates[i:], window); picked != nil {
			break
		}
	}
	if picked == nil {
		return nil
	}

	q.entries = lo.Filter(q.entries, func(e queuedParty, _ int) bool { return !lo.Contains(picked, e.party) })
	return picked
}

type rankedParty struct {
	queuedParty
	rank int
	size int
}

// fillFrom greedily collects parties whose rank stays within window of the first one, never
// overshooting the group size. It returns nil unless the exact size is reached.
func (q *modeQueue) fillFrom(candidates []rankedParty, window int) []*Party {
	base := candidates[0].rank
	var picked []*Party
	count := 0
	for _, c := range candidates {
		if c.rank-base > window {
			break
		}
		if c.size == 0 || count+c.size > q.size {
			continue
		}
		picked = append(picked, c.party)
		count += c.size
		if count == q.size {
			return picked
		}
	}
	return nil
}
