package input

import (
	"sync"
	"time"

	"transcendence/pong/internal/logging"
)

// Clock exposes the current time for rate limiting decisions.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock for functional adapters.
func (c ClockFunc) Now() time.Time { return c() }

// systemClock relies on time.Now for production code paths.
type systemClock struct{}

// Now implements Clock by delegating to time.Now.
func (systemClock) Now() time.Time { return time.Now() }

// DefaultMaxInputsPerWindow allows two paddle updates per 60 Hz tick on average.
const DefaultMaxInputsPerWindow = 120

// Config controls the throughput gate applied to paddle inputs.
type Config struct {
	Window       time.Duration
	MaxPerWindow int
}

// DefaultConfig is the production flood gate.
var DefaultConfig = Config{Window: time.Second, MaxPerWindow: DefaultMaxInputsPerWindow}

// DropReason enumerates why a frame was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonRateLimited DropReason = "rate_limit"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether a frame passed the gate. Reordered frames are still accepted
// because the match keeps the highest acknowledged sequence on its own.
type Decision struct {
	Accepted  bool
	Reason    DropReason
	Reordered bool
}

// Frame captures the metadata required to gate one INPUT message.
type Frame struct {
	ClientID string
	Sequence int64
}

type clientState struct {
	lastSequence int64
	accepted     []time.Time
}

// DropCounters aggregates per-client gate outcomes.
type DropCounters struct {
	RateLimited uint64 `json:"rate_limited"`
	Reordered   uint64 `json:"reordered"`
}

// Metrics stores per-client drop counters for diagnostics.
type Metrics struct {
	mu     sync.RWMutex
	drops  map[string]DropCounters
	totals DropCounters
}

// NewMetrics provisions an empty metrics container that several gates may share.
func NewMetrics() *Metrics {
	return &Metrics{drops: make(map[string]DropCounters)}
}

func (m *Metrics) observe(clientID string, rateLimited, reordered bool) {
	if m == nil || clientID == "" || (!rateLimited && !reordered) {
		return
	}
	m.mu.Lock()
	current := m.drops[clientID]
	if rateLimited {
		current.RateLimited++
		m.totals.RateLimited++
	}
	if reordered {
		current.Reordered++
		m.totals.Reordered++
	}
	m.drops[clientID] = current
	m.mu.Unlock()
}

func (m *Metrics) snapshot() map[string]DropCounters {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(m.drops))
	for clientID, counters := range m.drops {
		clone[clientID] = counters
	}
	return clone
}

// Totals returns the counters accumulated over every client, including forgotten ones.
func (m *Metrics) Totals() DropCounters {
	if m == nil {
		return DropCounters{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totals
}

func (m *Metrics) forget(clientID string) {
	if m == nil || clientID == "" {
		return
	}
	m.mu.Lock()
	delete(m.drops, clientID)
	m.mu.Unlock()
}

// Gate bounds how many paddle inputs one connection may push per window.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	logger  *logging.Logger
	metrics *Metrics
	clients map[string]*clientState
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for window calculations.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithMetrics injects a pre-built metrics container, enabling shared aggregation across gates.
func WithMetrics(metrics *Metrics) Option {
	return func(g *Gate) {
		if metrics != nil {
			g.metrics = metrics
		}
	}
}

// NewGate constructs a gate with the supplied configuration and logger.
func NewGate(cfg Config, logger *logging.Logger, opts ...Option) *Gate {
	//1.- Fall back to the production window when the caller leaves it unset.
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	if cfg.MaxPerWindow < 0 {
		cfg.MaxPerWindow = 0
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		metrics: NewMetrics(),
		clients: make(map[string]*clientState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies the flood window to the frame and flags sequence regressions.
func (g *Gate) Evaluate(frame Frame) Decision {
	decision := Decision{Accepted: true}
	if g == nil || frame.ClientID == "" {
		return decision
	}
	now := g.clock.Now()

	g.mu.Lock()
	state := g.clients[frame.ClientID]
	if state == nil {
		state = &clientState{}
		g.clients[frame.ClientID] = state
	}

	//1.- Slide the window forward by discarding acceptances older than it.
	cutoff := now.Add(-g.cfg.Window)
	kept := state.accepted[:0]
	for _, at := range state.accepted {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	state.accepted = kept

	if g.cfg.MaxPerWindow > 0 && len(state.accepted) >= g.cfg.MaxPerWindow {
		decision = Decision{Accepted: false, Reason: DropReasonRateLimited}
	} else {
		//2.- Late packets still steer; only the counter notices them.
		decision.Reordered = frame.Sequence > 0 && frame.Sequence <= state.lastSequence
		if frame.Sequence > state.lastSequence {
			state.lastSequence = frame.Sequence
		}
		state.accepted = append(state.accepted, now)
	}
	g.mu.Unlock()

	g.metrics.observe(frame.ClientID, !decision.Accepted, decision.Reordered)
	if !decision.Accepted && g.logger != nil {
		g.logger.Debug("input dropped", logging.String("client_id", frame.ClientID), logging.String("reason", decision.Reason.String()))
	}
	return decision
}

// Forget clears cached window state and metrics for a disconnected client.
func (g *Gate) Forget(clientID string) {
	if g == nil || clientID == "" {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	g.mu.Unlock()
	g.metrics.forget(clientID)
}

// Metrics returns a snapshot of the latest drop counters.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	return g.metrics.snapshot()
}

// Totals returns the aggregate counters across every client the gate has seen.
func (g *Gate) Totals() DropCounters {
	if g == nil {
		return DropCounters{}
	}
	return g.metrics.Totals()
}
