package networking

import (
	"context"
	"sync"

	grpcstream "transcendence/pong/internal/grpc"
)

const defaultSubscriberBuffer = 16

// SnapshotPublisher fans the encoded snapshots of each match out to its observers.
type SnapshotPublisher struct {
	mu          sync.Mutex
	metrics     *SnapshotMetrics
	buffer      int
	nextID      uint64
	sequences   map[int64]uint64
	subscribers map[int64]map[uint64]chan grpcstream.SnapshotEvent
}

// NewSnapshotPublisher constructs a publisher reporting into metrics, which may be nil.
func NewSnapshotPublisher(metrics *SnapshotMetrics) *SnapshotPublisher {
	return &SnapshotPublisher{
		metrics:     metrics,
		buffer:      defaultSubscriberBuffer,
		sequences:   make(map[int64]uint64),
		subscribers: make(map[int64]map[uint64]chan grpcstream.SnapshotEvent),
	}
}

// Publish hands one encoded snapshot to every subscriber of the match without blocking.
func (p *SnapshotPublisher) Publish(matchID int64, payload []byte) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.sequences[matchID]++
	event := grpcstream.SnapshotEvent{MatchID: matchID, Sequence: p.sequences[matchID], Payload: payload}
	dropped := 0
	for _, ch := range p.subscribers[matchID] {
		//1.- Slow consumers miss frames instead of stalling the broadcast loop.
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	p.mu.Unlock()
	p.metrics.Observe(matchID, len(payload), dropped)
}

// Subscribe registers an observer of matchID. The channel closes when the match is closed or
// the returned cancel func runs.
func (p *SnapshotPublisher) Subscribe(ctx context.Context, matchID int64) (<-chan grpcstream.SnapshotEvent, func()) {
	ch := make(chan grpcstream.SnapshotEvent, p.buffer)

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	subs := p.subscribers[matchID]
	if subs == nil {
		subs = make(map[uint64]chan grpcstream.SnapshotEvent)
		p.subscribers[matchID] = subs
	}
	subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		//1.- Ensure unsubscribe and close only happens once.
		once.Do(func() {
			p.mu.Lock()
			if sub, ok := p.subscribers[matchID][id]; ok {
				delete(p.subscribers[matchID], id)
				close(sub)
			}
			p.mu.Unlock()
		})
	}
	if ctx != nil {
		//2.- Propagate context cancellation to the subscription lifecycle.
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

// Subscribers reports how many observers currently follow matchID.
func (p *SnapshotPublisher) Subscribers(matchID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers[matchID])
}

// CloseMatch ends every subscription of matchID and drops its metrics.
func (p *SnapshotPublisher) CloseMatch(matchID int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	for id, ch := range p.subscribers[matchID] {
		delete(p.subscribers[matchID], id)
		close(ch)
	}
	delete(p.subscribers, matchID)
	delete(p.sequences, matchID)
	p.mu.Unlock()
	p.metrics.ForgetMatch(matchID)
}
