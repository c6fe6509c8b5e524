package match

import (
	"sync"
	"time"
)

const (
	idTimeBits   = 12
	idPlayerBits = 5
	idSeqBits    = 10

	idTimeMask   = 1<<idTimeBits - 1
	idPlayerMask = 1<<idPlayerBits - 1
	idSeqMask    = 1<<idSeqBits - 1
)

// IDGenerator derives match identifiers from the two player identities. Layout, high to low:
// 12 bits of milliseconds, 5 bits of each player id, 10 bits of sequence.
type IDGenerator struct {
	mu  sync.Mutex
	seq uint64
	now func() time.Time
}

// NewIDGenerator builds a generator reading the supplied clock, or the wall clock when nil.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns an identifier for the pair. inUse is consulted so a live match is never shadowed;
// the sequence advances until a free id is found.
func (g *IDGenerator) Next(first, second int64, inUse func(int64) bool) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := uint64(g.now().UnixMilli()) & idTimeMask
	base := ms<<(2*idPlayerBits+idSeqBits) |
		(uint64(first)&idPlayerMask)<<(idPlayerBits+idSeqBits) |
		(uint64(second)&idPlayerMask)<<idSeqBits
	for attempt := 0; attempt <= idSeqMask; attempt++ {
		id := int64(base | g.seq&idSeqMask)
		g.seq++
		if inUse == nil || !inUse(id) {
			return id
		}
	}
	//1.- Every sequence slot is taken for this millisecond and pair; fall outside the layout.
	id := int64(base|idSeqMask) + int64(g.seq)<<(idTimeBits+2*idPlayerBits+idSeqBits)
	for inUse != nil && inUse(id) {
		g.seq++
		id = int64(base|idSeqMask) + int64(g.seq)<<(idTimeBits+2*idPlayerBits+idSeqBits)
	}
	return id
}
