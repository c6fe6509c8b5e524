package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/replay"
)

type stubReadiness struct {
	clients int
	pending int
	uptime  time.Duration
	err     error
}

func (s *stubReadiness) SnapshotClientCounts() (int, int) { return s.clients, s.pending }
func (s *stubReadiness) StartupError() error              { return s.err }
func (s *stubReadiness) Uptime() time.Duration            { return s.uptime }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

func (s *stubLimiter) AllowKey(string) bool { return s.Allow() }

type stubSweeper struct {
	stats replay.StorageStats
	err   error
	calls int
}

func (s *stubSweeper) Sweep(ctx context.Context) (replay.StorageStats, error) {
	s.calls++
	return s.stats, s.err
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	readiness := &stubReadiness{clients: 3, pending: 1, uptime: 45 * time.Second, err: errors.New("boom")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	handlers.ReadinessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status         string  `json:"status"`
		Message        string  `json:"message"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "boom" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Clients != 3 || payload.PendingClients != 1 {
		t.Fatalf("unexpected client counts: %+v", payload)
	}
	if payload.UptimeSeconds != readiness.uptime.Seconds() {
		t.Fatalf("unexpected uptime: got %f want %f", payload.UptimeSeconds, readiness.uptime.Seconds())
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	readiness := &stubReadiness{clients: 2, pending: 1, uptime: 90 * time.Second}
	handlers := NewHandlerSet(Options{
		Logger:    logging.NewTestLogger(),
		Namespace: "pong_host",
		Readiness: readiness,
		Metrics: func() []Metric {
			return []Metric{
				{Name: "matches", Help: "Live matches.", Type: "gauge", Value: 4},
				{Name: "tick_seconds", Help: "Step.", Type: "gauge", Labels: map[string]string{"stat": "max", "a": "b"}, Value: 0.0125},
				{Name: "tick_seconds", Help: "Step.", Type: "gauge", Labels: map[string]string{"stat": "avg"}, Value: 0.004},
			}
		},
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handlers.MetricsHandler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"pong_host_uptime_seconds 90",
		"pong_host_connections 2",
		"pong_host_pending_connections 1",
		"pong_host_matches 4",
		`pong_host_tick_seconds{a="b",stat="max"} 0.0125`,
		`pong_host_tick_seconds{stat="avg"} 0.004`,
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
	if strings.Count(body, "# TYPE pong_host_tick_seconds") != 1 {
		t.Fatalf("expected one TYPE line per metric name:\n%s", body)
	}
}

func TestSweepHandlerAuthAndRateLimits(t *testing.T) {
	sweeper := &stubSweeper{stats: replay.StorageStats{Matches: 3, Sealed: 2, Bytes: 1024}}
	limiter := &stubLimiter{remaining: 1}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Sweeper:     sweeper,
		AdminToken:  "topsecret",
		RateLimiter: limiter,
	})

	makeRequest := func(method, token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/replay/sweep", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.SweepHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest(http.MethodGet, "topsecret"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
	if resp := makeRequest(http.MethodPost, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}

	resp := makeRequest(http.MethodPost, "topsecret")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for authorised request, got %d", resp.Code)
	}
	var payload struct {
		Status  string `json:"status"`
		Matches int    `json:"matches"`
		Bytes   int64  `json:"bytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "swept" || payload.Matches != 3 || payload.Bytes != 1024 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected sweeper invoked once, got %d", sweeper.calls)
	}

	if resp := makeRequest(http.MethodPost, "topsecret"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}

func TestSweepHandlerWithoutAdminToken(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Sweeper: &stubSweeper{}})
	rr := httptest.NewRecorder()
	handlers.SweepHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/replay/sweep", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin token, got %d", rr.Code)
	}
}

func TestSweepHandlerReportsFailures(t *testing.T) {
	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Sweeper:    &stubSweeper{err: errors.New("disk gone")},
		AdminToken: "topsecret",
	})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/replay/sweep", nil)
	req.Header.Set("X-Admin-Token", "topsecret")
	handlers.SweepHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
