package httpapi

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiterSharedBudget(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("expected first two calls to be allowed")
	}
	if limiter.Allow() {
		t.Fatal("expected third call to be denied")
	}

	now = now.Add(30 * time.Second)
	if limiter.Allow() {
		t.Fatal("expected call within window to still be denied")
	}

	now = now.Add(31 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expected limiter to permit call after window passes")
	}
}

func TestSlidingWindowLimiterKeysAreIndependent(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Second, 1, func() time.Time { return now })

	if !limiter.AllowKey("1") || !limiter.AllowKey("2") {
		t.Fatal("expected one event per key to pass")
	}
	if limiter.AllowKey("1") {
		t.Fatal("expected key 1 to be spent")
	}
	if limiter.Keys() != 2 {
		t.Fatalf("expected two tracked keys, got %d", limiter.Keys())
	}

	now = now.Add(2 * time.Second)
	if !limiter.AllowKey("3") {
		t.Fatal("expected a fresh key to pass")
	}
	if limiter.Keys() != 1 {
		t.Fatalf("expected elapsed keys to be pruned, got %d", limiter.Keys())
	}
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	limiter := NewSlidingWindowLimiter(0, 0, nil)
	if !limiter.Allow() || !limiter.AllowKey("x") {
		t.Fatal("limiter with zero configuration should allow")
	}
	var missing *SlidingWindowLimiter
	if !missing.AllowKey("x") {
		t.Fatal("nil limiter should allow")
	}
}
