package input

import (
	"sync"
	"testing"
	"time"

	"transcendence/pong/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// 1.- Now returns the configured timestamp for deterministic gate decisions.
func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// 2.- Advance moves the internal clock forward to simulate elapsed time.
func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGateAcceptsReorderedFrames(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := NewGate(DefaultConfig, logging.NewTestLogger(), WithClock(clock))

	//1.- Seed the client with sequence 5.
	if decision := gate.Evaluate(Frame{ClientID: "conn-1", Sequence: 5}); !decision.Accepted || decision.Reordered {
		t.Fatalf("first frame unexpectedly flagged: %+v", decision)
	}

	//2.- A late sequence still passes but is counted.
	late := gate.Evaluate(Frame{ClientID: "conn-1", Sequence: 3})
	if !late.Accepted || !late.Reordered {
		t.Fatalf("expected reordered acceptance, got %+v", late)
	}
	if metrics := gate.Metrics()["conn-1"]; metrics.Reordered != 1 || metrics.RateLimited != 0 {
		t.Fatalf("unexpected counters %+v", metrics)
	}
}

func TestGateRateLimitsFloods(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := NewGate(Config{Window: time.Second, MaxPerWindow: 3}, logging.NewTestLogger(), WithClock(clock))

	for seq := int64(1); seq <= 3; seq++ {
		if decision := gate.Evaluate(Frame{ClientID: "conn", Sequence: seq}); !decision.Accepted {
			t.Fatalf("frame %d rejected: %+v", seq, decision)
		}
		clock.Advance(10 * time.Millisecond)
	}

	burst := gate.Evaluate(Frame{ClientID: "conn", Sequence: 4})
	if burst.Accepted || burst.Reason != DropReasonRateLimited {
		t.Fatalf("expected rate limit drop, got %+v", burst)
	}

	//1.- Once the first acceptance leaves the window a slot frees up.
	clock.Advance(time.Second - 20*time.Millisecond)
	if decision := gate.Evaluate(Frame{ClientID: "conn", Sequence: 5}); !decision.Accepted {
		t.Fatalf("expected window to slide, got %+v", decision)
	}
	if totals := gate.Totals(); totals.RateLimited != 1 {
		t.Fatalf("rate limited total = %d, want 1", totals.RateLimited)
	}
}

func TestGateForgetClearsClientState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	shared := NewMetrics()
	gate := NewGate(Config{Window: time.Second, MaxPerWindow: 1}, logging.NewTestLogger(), WithClock(clock), WithMetrics(shared))

	gate.Evaluate(Frame{ClientID: "conn", Sequence: 1})
	gate.Evaluate(Frame{ClientID: "conn", Sequence: 2})

	gate.Forget("conn")
	if metrics := gate.Metrics()["conn"]; metrics.RateLimited != 0 {
		t.Fatalf("expected metrics reset after forget, got %+v", metrics)
	}
	if shared.Totals().RateLimited != 1 {
		t.Fatal("totals must survive forget")
	}
	if decision := gate.Evaluate(Frame{ClientID: "conn", Sequence: 1}); !decision.Accepted || decision.Reordered {
		t.Fatalf("expected new session acceptance, got %+v", decision)
	}
}
