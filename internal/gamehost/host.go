package gamehost

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"transcendence/pong/internal/config"
	grpcstream "transcendence/pong/internal/grpc"
	"transcendence/pong/internal/input"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/match"
	"transcendence/pong/internal/networking"
	"transcendence/pong/internal/replay"
	"transcendence/pong/internal/simulation"
)

// Authenticator resolves the player identity carried by an upgrade request. Anonymous requests
// return an empty subject and no error.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Option customises a Host.
type Option func(*Host)

// WithLogger overrides the host logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.log = logger
		}
	}
}

// WithClock injects the time source shared by matches and the lobby link.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		if now != nil {
			h.now = now
		}
	}
}

// WithAuthenticator enables player token checks on upgrade.
func WithAuthenticator(auth Authenticator) Option {
	return func(h *Host) {
		h.auth = auth
	}
}

// WithRecorder records every match into replay bundles.
func WithRecorder(recorder *replay.Recorder) Option {
	return func(h *Host) {
		h.recorder = recorder
	}
}

// WithInputGate replaces the per-connection input flood gate.
func WithInputGate(gate *input.Gate) Option {
	return func(h *Host) {
		if gate != nil {
			h.gate = gate
		}
	}
}

// WithValidator replaces the protocol violation tracker.
func WithValidator(validator *input.Validator) Option {
	return func(h *Host) {
		if validator != nil {
			h.validator = validator
		}
	}
}

// WithLocation sets the zone used to render match start times.
func WithLocation(loc *time.Location) Option {
	return func(h *Host) {
		if loc != nil {
			h.location = loc
		}
	}
}

// Host runs the matches of one simulation server and speaks to players and the lobby.
type Host struct {
	cfg      config.Config
	stats    config.GameStats
	log      *logging.Logger
	now      func() time.Time
	location *time.Location
	auth     Authenticator

	registry  *Registry
	lobby     *LobbyLink
	limiter   *IPLimiter
	gate      *input.Gate
	validator *input.Validator
	snapshots *networking.SnapshotMetrics
	publisher *networking.SnapshotPublisher
	recorder  *replay.Recorder
	monitor   *simulation.TickMonitor
	upgrader  websocket.Upgrader

	mu         sync.Mutex
	sessions   map[*session]struct{}
	pending    int
	startupErr error
	started    time.Time
	async      sync.WaitGroup
}

// Stats summarises the host for ops endpoints.
type Stats struct {
	Matches     int
	Sessions    int
	Players     int
	Pending     int
	RejectedIPs uint64
	Lobby       LobbyStats
	Inputs      input.DropCounters
	Snapshots   networking.SnapshotTotals
	Tick        simulation.TickMetricsSnapshot
	Replay      replay.Stats
}

// New constructs a host from cfg and the game constants in stats.
func New(cfg config.Config, stats config.GameStats, opts ...Option) *Host {
	h := &Host{
		cfg:      cfg,
		stats:    stats,
		log:      logging.L(),
		now:      time.Now,
		location: time.UTC,
		limiter:  NewIPLimiter(cfg.MaxConnectionsPerIP),
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.gate == nil {
		h.gate = input.NewGate(input.DefaultConfig, h.log)
	}
	if h.validator == nil {
		h.validator = input.NewValidator(input.DefaultConstraints, h.log)
	}
	h.started = h.now()
	h.snapshots = networking.NewSnapshotMetrics()
	h.publisher = networking.NewSnapshotPublisher(h.snapshots)
	h.monitor = simulation.NewTickMonitor(time.Second / time.Duration(max(cfg.SimulationFPS, 1)))
	h.lobby = NewLobbyLink(cfg.LobbyID, cfg.LobbyPass, cfg.LobbyQueueMax, h.now, h.log.With(logging.String("component", "lobby")))
	h.registry = NewRegistry(h.now, h.buildMatch)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     networking.OriginChecker(cfg.AllowedOrigins),
	}
	return h
}

func (h *Host) buildMatch(id int64, players []match.PlayerInfo) (*match.Match, error) {
	return match.New(id, players, h.stats,
		match.WithClock(h.now),
		match.WithLogger(h.log),
		match.WithRates(h.cfg.SimulationFPS, h.cfg.NetworkTickFPS),
		match.WithDisconnectTimeout(h.cfg.DisconnectTimeout),
		match.WithLocation(h.location),
		match.WithTickMonitor(h.monitor),
		match.WithHooks(match.Hooks{
			OnEnd:       h.onMatchEnd,
			OnTimeout:   h.onMatchTimeout,
			OnDuplicate: h.onDuplicate,
			OnSnapshot:  h.onSnapshot,
			OnEmpty:     h.onMatchEmpty,
		}),
	)
}

// Run drives the lobby retry loop until ctx is cancelled.
func (h *Host) Run(ctx context.Context) {
	h.lobby.Run(ctx, h.cfg.LobbyRetryInterval)
}

// CreateMatch registers a match for players and returns its id.
func (h *Host) CreateMatch(players []match.PlayerInfo) (int64, error) {
	m, err := h.registry.Create(players)
	if err != nil {
		return 0, err
	}
	refs := make([]replay.PlayerRef, 0, len(players))
	for i, p := range players {
		refs = append(refs, replay.PlayerRef{Slot: i + 1, ID: p.ID, Name: p.Name})
	}
	if err := h.recorder.Start(m.ID(), refs); err != nil {
		h.log.Warn("replay recording unavailable", logging.Int64("match_id", m.ID()), logging.Error(err))
	}
	h.log.Info("match created", logging.Int64("match_id", m.ID()), logging.Int64("player_one", players[0].ID), logging.Int64("player_two", players[1].ID))
	return m.ID(), nil
}

// RemoveMatch destroys id. When notify is set the lobby receives MATCH_REMOVED.
func (h *Host) RemoveMatch(id int64, reason string, notify bool) bool {
	m, ok := h.registry.Remove(id)
	if !ok {
		return false
	}
	m.Destroy()
	h.publisher.CloseMatch(id)
	if h.recorder.Recording(id) {
		if _, err := h.recorder.Abort(id, reason); err != nil {
			h.log.Warn("replay abort failed", logging.Int64("match_id", id), logging.Error(err))
		}
	}
	h.log.Info("match removed", logging.Int64("match_id", id), logging.String("reason", reason))
	if notify {
		h.lobby.Send(TypeMatchRemoved, map[string]any{"matchId": id})
	}
	return true
}

// Match returns the live match with id.
func (h *Host) Match(id int64) (*match.Match, bool) {
	return h.registry.Get(id)
}

// SubscribeSnapshots streams the broadcasts of a live match.
func (h *Host) SubscribeSnapshots(ctx context.Context, matchID int64) (<-chan grpcstream.SnapshotEvent, func(), error) {
	if _, ok := h.registry.Get(matchID); !ok {
		return nil, nil, grpcstream.ErrUnknownMatch
	}
	ch, cancel := h.publisher.Subscribe(ctx, matchID)
	return ch, cancel, nil
}

func (h *Host) onMatchEnd(result match.Result) {
	h.lobby.Send(TypeEndGame, map[string]any{
		"matchId": result.MatchID,
		"players": result.Players,
		"time":    result.Time,
	})
	if _, err := h.recorder.Finish(result); err != nil && !errors.Is(err, replay.ErrNoSession) {
		h.log.Warn("replay finish failed", logging.Int64("match_id", result.MatchID), logging.Error(err))
	}
}

func (h *Host) onMatchTimeout(id int64) {
	h.lobby.Send(TypeTimeoutRemove, map[string]any{"matchId": id})
	h.goAsync(func() { h.RemoveMatch(id, "timeout", false) })
}

func (h *Host) onDuplicate(matchID, playerID int64) {
	h.log.Warn("duplicate player connection", logging.Int64("match_id", matchID), logging.Int64("player_id", playerID))
	h.lobby.Send(TypeError, map[string]any{"error": CodeDuplicate, "matchId": matchID, "playerId": playerID})
}

func (h *Host) onSnapshot(snapshot match.Snapshot, payload []byte) {
	h.publisher.Publish(snapshot.MatchID, payload)
	if err := h.recorder.RecordSnapshot(snapshot); err != nil && !errors.Is(err, replay.ErrNoSession) {
		h.log.Debug("replay frame dropped", logging.Int64("match_id", snapshot.MatchID), logging.Error(err))
	}
}

func (h *Host) onMatchEmpty(id int64) {
	h.goAsync(func() { h.RemoveMatch(id, "empty", false) })
}

func (h *Host) goAsync(job func()) {
	h.async.Add(1)
	go func() {
		defer h.async.Done()
		job()
	}()
}

// SetStartupError records a failure that keeps the host from being ready.
func (h *Host) SetStartupError(err error) {
	h.mu.Lock()
	h.startupErr = err
	h.mu.Unlock()
}

// StartupError reports the recorded startup failure.
func (h *Host) StartupError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startupErr
}

// Uptime returns how long the host has been running.
func (h *Host) Uptime() time.Duration {
	return h.now().Sub(h.started)
}

// SnapshotClientCounts returns open sockets and handshakes in flight.
func (h *Host) SnapshotClientCounts() (clients, pending int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions), h.pending
}

// Stats collects the counters exposed on /metrics.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	stats := Stats{Sessions: len(h.sessions), Pending: h.pending}
	for sess := range h.sessions {
		if m, _ := sess.binding(); m != nil {
			stats.Players++
		}
	}
	h.mu.Unlock()

	stats.Matches = h.registry.Len()
	stats.RejectedIPs = h.limiter.Rejected()
	stats.Lobby = h.lobby.Stats()
	stats.Inputs = h.gate.Totals()
	stats.Snapshots = h.snapshots.Totals()
	stats.Tick = h.monitor.Snapshot()
	stats.Replay = h.recorder.Snapshot()
	return stats
}

// MatchIDs returns the live match ids.
func (h *Host) MatchIDs() []int64 {
	return h.registry.IDs()
}

// Shutdown removes every match, closes every socket and waits for background work.
func (h *Host) Shutdown(ctx context.Context) error {
	for _, id := range h.registry.IDs() {
		h.RemoveMatch(id, "shutdown", false)
	}
	h.recorder.CloseAll()

	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()
	for _, sess := range sessions {
		_ = sess.transport.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.async.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func playerSubjectMatches(subject string, playerID int64) bool {
	return subject == strconv.FormatInt(playerID, 10)
}
