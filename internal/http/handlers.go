package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/replay"
)

// ReadinessProvider exposes process state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// Metric is one Prometheus sample. Samples sharing a name share HELP and TYPE lines.
type Metric struct {
	Name   string
	Help   string
	Type   string
	Labels map[string]string
	Value  float64
}

// MetricsFunc collects the samples rendered on /metrics.
type MetricsFunc func() []Metric

// Sweeper runs one replay retention pass and reports what is left on disk.
type Sweeper interface {
	Sweep(ctx context.Context) (replay.StorageStats, error)
}

// SweeperFunc adapts a function into a Sweeper.
type SweeperFunc func(ctx context.Context) (replay.StorageStats, error)

// Sweep implements Sweeper.
func (f SweeperFunc) Sweep(ctx context.Context) (replay.StorageStats, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Namespace   string
	Readiness   ReadinessProvider
	Metrics     MetricsFunc
	Sweeper     Sweeper
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the operational handlers shared by the host and the matchmaker.
type HandlerSet struct {
	logger      *logging.Logger
	namespace   string
	readiness   ReadinessProvider
	metrics     MetricsFunc
	sweeper     Sweeper
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	namespace := strings.TrimSpace(opts.Namespace)
	if namespace == "" {
		namespace = "pong"
	}
	return &HandlerSet{
		logger:      logger,
		namespace:   namespace,
		readiness:   opts.Readiness,
		metrics:     opts.Metrics,
		sweeper:     opts.Sweeper,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/replay/sweep", h.SweepHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including connection counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			resp.Clients = clients
			resp.PendingClients = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		samples := []Metric{}
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			samples = append(samples,
				Metric{Name: "uptime_seconds", Help: "Process uptime in seconds.", Type: "gauge", Value: float64(int64(h.readiness.Uptime().Seconds()))},
				Metric{Name: "connections", Help: "Open WebSocket connections.", Type: "gauge", Value: float64(clients)},
				Metric{Name: "pending_connections", Help: "WebSocket handshakes awaiting upgrade.", Type: "gauge", Value: float64(pending)},
			)
		}
		if h.metrics != nil {
			samples = append(samples, h.metrics()...)
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		announced := make(map[string]bool, len(samples))
		for _, sample := range samples {
			name := h.namespace + "_" + sample.Name
			if !announced[name] {
				announced[name] = true
				fmt.Fprintf(w, "# HELP %s %s\n", name, sample.Help)
				fmt.Fprintf(w, "# TYPE %s %s\n", name, sample.Type)
			}
			fmt.Fprintf(w, "%s%s %s\n", name, renderLabels(sample.Labels), strconv.FormatFloat(sample.Value, 'f', -1, 64))
		}
	}
}

func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", key, labels[key]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// SweepHandler authorises and triggers a replay retention pass.
func (h *HandlerSet) SweepHandler() http.HandlerFunc {
	type response struct {
		Status  string `json:"status"`
		Matches int    `json:"matches"`
		Sealed  int    `json:"sealed"`
		Bytes   int64  `json:"bytes"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "replay_sweep"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("replay sweep denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("replay sweep denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("replay sweep denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.sweeper == nil {
			reqLogger.Warn("replay sweep denied: no replay storage configured")
			http.Error(w, "replay storage is unavailable", http.StatusServiceUnavailable)
			return
		}
		stats, err := h.sweeper.Sweep(r.Context())
		if err != nil {
			reqLogger.Error("replay sweep failed", logging.Error(err))
			http.Error(w, "failed to sweep replays", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("replay sweep completed", logging.Int("matches", stats.Matches))
		writeJSON(w, http.StatusOK, response{Status: "swept", Matches: stats.Matches, Sealed: stats.Sealed, Bytes: stats.Bytes})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
