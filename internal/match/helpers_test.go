package match

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"golang.org/x/exp/rand"

	"transcendence/pong/internal/config"
	"transcendence/pong/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var msg map[string]any
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	var kinds []string
	for _, msg := range c.messages(t) {
		kind, _ := msg["type"].(string)
		kinds = append(kinds, kind)
	}
	return kinds
}

// withManualTicks keeps the loops parked so tests drive Step and Broadcast themselves.
func withManualTicks() Option {
	return func(m *Match) { m.manualTicks = true }
}

var testPlayers = []PlayerInfo{{ID: 7, Name: "alice"}, {ID: 9, Name: "bob"}}

func newTestMatch(t *testing.T, clock *fakeClock, opts ...Option) *Match {
	t.Helper()
	base := []Option{
		WithClock(clock.Now),
		WithRand(rand.New(rand.NewSource(1))),
		WithLogger(logging.NewTestLogger()),
		withManualTicks(),
	}
	m, err := New(4242, testPlayers, config.DefaultGameStats(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Destroy)
	return m
}

// startedMatch connects and readies both players.
func startedMatch(t *testing.T, clock *fakeClock, opts ...Option) (*Match, *fakeConn, *fakeConn) {
	t.Helper()
	m := newTestMatch(t, clock, opts...)
	left, right := &fakeConn{}, &fakeConn{}
	if _, err := m.ConnectPlayer(left, 7, ""); err != nil {
		t.Fatalf("connect left: %v", err)
	}
	if _, err := m.ConnectPlayer(right, 9, ""); err != nil {
		t.Fatalf("connect right: %v", err)
	}
	m.Ready(1)
	m.Ready(2)
	if m.Status() != StatusStarted {
		t.Fatalf("expected started match, got %s", m.Status())
	}
	return m, left, right
}

func boolPtr(v bool) *bool { return &v }
