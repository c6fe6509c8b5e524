package networking

import (
	"sync"
)

// SnapshotTotals aggregates snapshot traffic across every match the host has run.
type SnapshotTotals struct {
	Frames  uint64
	Bytes   uint64
	Dropped uint64
}

// SnapshotMetrics tracks size and drop counters for match snapshot publications.
type SnapshotMetrics struct {
	mu     sync.RWMutex
	bytes  map[int64]int64
	drops  map[int64]int64
	totals SnapshotTotals
}

// NewSnapshotMetrics constructs an empty metrics tracker.
func NewSnapshotMetrics() *SnapshotMetrics {
	return &SnapshotMetrics{
		bytes: make(map[int64]int64),
		drops: make(map[int64]int64),
	}
}

// Observe records the encoded payload size of one broadcast and how many subscribers missed it.
func (m *SnapshotMetrics) Observe(matchID int64, payloadBytes int, dropped int) {
	if m == nil {
		return
	}
	//1.- Promote the payload size to int64 for consistent accumulation.
	size := int64(payloadBytes)
	if size < 0 {
		size = 0
	}
	//2.- Update the gauges and counters while holding the mutex.
	m.mu.Lock()
	m.bytes[matchID] = size
	m.totals.Frames++
	m.totals.Bytes += uint64(size)
	if dropped > 0 {
		m.drops[matchID] += int64(dropped)
		m.totals.Dropped += uint64(dropped)
	}
	m.mu.Unlock()
}

// ForgetMatch removes the tracked gauges for a finished match.
func (m *SnapshotMetrics) ForgetMatch(matchID int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.bytes, matchID)
	delete(m.drops, matchID)
	m.mu.Unlock()
}

// BytesPerMatch returns a copy of the latest encoded payload size per match.
func (m *SnapshotMetrics) BytesPerMatch() map[int64]int64 {
	if m == nil {
		return nil
	}
	//1.- Copy the gauge map to shield callers from concurrent mutation.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bytes) == 0 {
		return nil
	}
	out := make(map[int64]int64, len(m.bytes))
	for matchID, size := range m.bytes {
		out[matchID] = size
	}
	return out
}

// DropCounts returns the number of frames subscribers of each live match failed to receive.
func (m *SnapshotMetrics) DropCounts() map[int64]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.drops) == 0 {
		return nil
	}
	out := make(map[int64]int64, len(m.drops))
	for matchID, count := range m.drops {
		out[matchID] = count
	}
	return out
}

// Totals returns the lifetime counters.
func (m *SnapshotMetrics) Totals() SnapshotTotals {
	if m == nil {
		return SnapshotTotals{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totals
}
