package match

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/rand"

	"transcendence/pong/internal/config"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/simulation"
)

// MaxPlayers is the number of slots in a pong match.
const MaxPlayers = 2

// Status is the lifecycle phase of a match.
type Status int

const (
	StatusWaitingConnections Status = iota
	StatusAllConnected
	StatusStarted
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusAllConnected:
		return "ALL_CONNECTED"
	case StatusStarted:
		return "STARTED"
	case StatusEnded:
		return "ENDED"
	default:
		return "WAITING_CONNECTIONS"
	}
}

// Hooks are invoked outside the match lock. OnSnapshot and OnEnd may run on a loop goroutine and
// must not call Destroy synchronously.
type Hooks struct {
	OnEnd       func(Result)
	OnTimeout   func(matchID int64)
	OnDuplicate func(matchID, playerID int64)
	OnSnapshot  func(snapshot Snapshot, payload []byte)
	OnEmpty     func(matchID int64)
}

// Option configures optional Match behaviour at construction time.
type Option func(*Match)

// WithClock injects a deterministic time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Match) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithRand replaces the per-match random source used for serves and power-ups.
func WithRand(rng *rand.Rand) Option {
	return func(m *Match) {
		if rng != nil {
			m.rng = rng
		}
	}
}

// WithLogger attaches a logger; the match id is added as a field.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Match) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHooks registers the collaborators notified about match events.
func WithHooks(hooks Hooks) Option {
	return func(m *Match) { m.hooks = hooks }
}

// WithRates sets the simulation and broadcast frequencies, clamped to their allowed ranges.
func WithRates(simulationFPS, networkFPS int) Option {
	return func(m *Match) {
		m.simulationFPS = config.ClampInt(simulationFPS, config.MinSimulationFPS, config.MaxSimulationFPS)
		m.networkFPS = config.ClampInt(networkFPS, config.MinNetworkTickFPS, config.MaxNetworkTickFPS)
	}
}

// WithDisconnectTimeout sets the unit of the inactivity window.
func WithDisconnectTimeout(timeout time.Duration) Option {
	return func(m *Match) {
		if timeout > 0 {
			m.disconnectTimeout = timeout
		}
	}
}

// WithLocation selects the zone the start time is reported in.
func WithLocation(loc *time.Location) Option {
	return func(m *Match) {
		if loc != nil {
			m.location = loc
		}
	}
}

// WithTickMonitor records simulation step timings.
func WithTickMonitor(monitor *simulation.TickMonitor) Option {
	return func(m *Match) { m.monitor = monitor }
}

// Match is the authoritative simulation of one game between two players.
type Match struct {
	mu sync.Mutex

	id      int64
	stats   config.GameStats
	players []*Player

	ball          *Ball
	lastScorer    Side
	lastTouchSlot int

	powerUp       *PowerUp
	nextPowerUpAt time.Time
	powerUpSeq    int
	effectSeq     int
	effects       []Effect

	ready        map[int]bool
	allConnected bool
	started      bool
	ended        bool
	destroyed    bool
	emptyNotice  bool
	startedAt    time.Time
	endedAt      time.Time

	inactivity    *time.Timer
	inactivityGen int

	simLoop      *simulation.Loop
	netLoop      *simulation.Loop
	loopsRunning bool
	loopCancel   context.CancelFunc
	manualTicks  bool

	simulationFPS     int
	networkFPS        int
	disconnectTimeout time.Duration
	location          *time.Location
	monitor           *simulation.TickMonitor

	now    func() time.Time
	rng    *rand.Rand
	logger *logging.Logger
	hooks  Hooks

	pending []func()
}

// New builds a match for exactly two distinct players and arms the inactivity timer.
func New(id int64, players []PlayerInfo, stats config.GameStats, opts ...Option) (*Match, error) {
	if len(players) != MaxPlayers || players[0].ID == players[1].ID {
		return nil, ErrPlayerMissing
	}
	if err := stats.Validate(); err != nil {
		return nil, err
	}
	m := &Match{
		id:                id,
		stats:             stats,
		ready:             make(map[int]bool, MaxPlayers),
		simulationFPS:     config.DefaultSimulationFPS,
		networkFPS:        config.DefaultNetworkTickFPS,
		disconnectTimeout: config.DefaultDisconnectTimeout,
		location:          time.UTC,
		now:               time.Now,
		logger:            logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(uint64(m.now().UnixNano()) ^ uint64(id)))
	}
	m.logger = m.logger.With(logging.Int64("match_id", id))

	//1.- Slot numbers start at one; odd slots defend the left edge.
	for i, info := range players {
		player := newPlayer(info, i+1, stats, m.now)
		player.onDuplicate = m.reportDuplicate
		m.players = append(m.players, player)
	}

	//2.- Separate loops keep physics cadence independent from network cadence.
	m.simLoop = simulation.NewLoop(float64(m.simulationFPS), func(step time.Duration, _ time.Time) {
		m.Step(step)
	}, simulation.WithMonitor(m.monitor))
	m.netLoop = simulation.NewLoop(float64(m.networkFPS), func(time.Duration, time.Time) {
		m.Broadcast()
	})

	m.mu.Lock()
	m.armInactivityLocked(2)
	m.mu.Unlock()
	return m, nil
}

// ID returns the match identifier.
func (m *Match) ID() int64 { return m.id }

// Status reports the current lifecycle phase.
func (m *Match) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Match) statusLocked() Status {
	switch {
	case m.ended:
		return StatusEnded
	case m.started:
		return StatusStarted
	case m.allConnected:
		return StatusAllConnected
	default:
		return StatusWaitingConnections
	}
}

// Players lists the participants in slot order.
func (m *Match) Players() []PlayerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlayerInfo, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, PlayerInfo{ID: p.id, Name: p.name})
	}
	return out
}

// ConnectedCount returns how many slots hold a live connection.
func (m *Match) ConnectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedLocked()
}

func (m *Match) connectedLocked() int {
	count := 0
	for _, p := range m.players {
		if p.connected {
			count++
		}
	}
	return count
}

// withLock runs fn under the match lock and then flushes work queued with deferLocked.
func (m *Match) withLock(fn func()) {
	m.mu.Lock()
	fn()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, job := range pending {
		job()
	}
}

func (m *Match) deferLocked(job func()) {
	m.pending = append(m.pending, job)
}

func (m *Match) sendLocked(p *Player, payload []byte) {
	conn := p.conn
	if !p.connected || conn == nil {
		return
	}
	m.deferLocked(func() {
		if err := conn.Send(payload); err != nil {
			m.logger.Debug("send to player failed", logging.Int("slot", p.slot), logging.Error(err))
		}
	})
}

func (m *Match) player(slot int) *Player {
	if slot < 1 || slot > len(m.players) {
		return nil
	}
	return m.players[slot-1]
}

func (m *Match) playerOnSide(side Side) *Player {
	for _, p := range m.players {
		if p.Side() == side {
			return p
		}
	}
	return nil
}

func opponentSlot(slot int) int {
	if slot == 1 {
		return 2
	}
	return 1
}

func (m *Match) reportDuplicate(playerID int64) {
	if m.hooks.OnDuplicate == nil {
		return
	}
	hook := m.hooks.OnDuplicate
	m.deferLocked(func() { hook(m.id, playerID) })
}

// ConnectPlayer binds conn to the slot owned by playerID and returns the slot number.
func (m *Match) ConnectPlayer(conn Conn, playerID int64, name string) (int, error) {
	var (
		slot int
		err  error
	)
	m.withLock(func() {
		if m.destroyed {
			err = ErrMatchClosed
			return
		}
		//1.- Try every slot; only the slot owning this identity can accept it.
		for _, p := range m.players {
			err = p.Connect(conn, playerID, name)
			if err == nil {
				slot = p.slot
				break
			}
			if errors.Is(err, ErrDuplicateConnection) {
				return
			}
		}
		if slot == 0 {
			err = ErrPlayerNotFound
			return
		}
		delete(m.ready, slot)
		if payload, merr := json.Marshal(map[string]any{"type": TypeConnected, "id": slot, "matchId": m.id}); merr == nil {
			m.sendLocked(m.player(slot), payload)
		}
		m.logger.Info("player connected", logging.Int("slot", slot), logging.Int64("player_id", playerID))

		//2.- Full attendance restarts the inactivity window until READY starts play, and wakes the loops.
		if m.connectedLocked() == len(m.players) {
			m.allConnected = true
			m.stopInactivityLocked()
			if !m.started {
				m.armInactivityLocked(2)
			}
			m.tryStartLocked()
			m.startLoopsLocked()
		}
	})
	return slot, err
}

// DisconnectPlayer releases slot when conn still owns it. A nil conn releases unconditionally.
func (m *Match) DisconnectPlayer(slot int, conn Conn) {
	m.withLock(func() {
		p := m.player(slot)
		if p == nil || m.destroyed {
			return
		}
		if conn != nil && !p.owns(conn) {
			return
		}
		if !p.connected {
			return
		}
		p.Destroy()
		m.allConnected = false
		delete(m.ready, slot)
		m.logger.Info("player disconnected", logging.Int("slot", slot))

		if !m.ended {
			m.armInactivityLocked(2)
			return
		}
		if m.connectedLocked() == 0 {
			m.notifyEmptyLocked()
		}
	})
}

func (m *Match) notifyEmptyLocked() {
	if m.emptyNotice || m.hooks.OnEmpty == nil {
		return
	}
	m.emptyNotice = true
	hook := m.hooks.OnEmpty
	m.deferLocked(func() { hook(m.id) })
}

// Ready marks slot as loaded. The game starts once every slot is connected and ready.
func (m *Match) Ready(slot int) {
	m.withLock(func() {
		p := m.player(slot)
		if p == nil || !p.connected || m.ready[slot] {
			return
		}
		m.ready[slot] = true
		m.logger.Debug("player ready", logging.Int("slot", slot), logging.Int("ready", len(m.ready)))
		m.tryStartLocked()
	})
}

// Input applies a key update for slot. See Player.UpdateDirection for the nil semantics.
func (m *Match) Input(slot int, up, down *bool, seq int64) bool {
	var applied bool
	m.withLock(func() {
		if p := m.player(slot); p != nil && !m.destroyed {
			applied = p.UpdateDirection(up, down, seq)
		}
	})
	return applied
}

// Pong answers a client ping on slot.
func (m *Match) Pong(slot int) {
	m.withLock(func() {
		if p := m.player(slot); p != nil {
			if payload, err := json.Marshal(map[string]any{"type": TypePong, "timestamp": m.now().UnixMilli()}); err == nil {
				m.sendLocked(p, payload)
			}
		}
	})
}

func (m *Match) allReadyLocked() bool {
	for _, p := range m.players {
		if !p.connected || !m.ready[p.slot] {
			return false
		}
	}
	return true
}

func (m *Match) tryStartLocked() {
	if !m.allConnected || m.started || m.ended || !m.allReadyLocked() {
		return
	}
	now := m.now()
	m.stopInactivityLocked()
	m.started = true
	m.startedAt = now
	m.nextPowerUpAt = now.Add(nextPowerUpDelay(m.rng))
	m.newBallLocked()
	m.logger.Info("match started")
}

func (m *Match) startLoopsLocked() {
	if m.loopsRunning || m.destroyed || m.manualTicks {
		return
	}
	m.loopsRunning = true
	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel
	m.simLoop.Start(ctx)
	m.netLoop.Start(ctx)
}

func (m *Match) armInactivityLocked(units int) {
	if m.inactivity != nil || m.destroyed {
		return
	}
	m.inactivityGen++
	gen := m.inactivityGen
	m.inactivity = time.AfterFunc(time.Duration(units)*m.disconnectTimeout, func() {
		m.inactivityExpired(gen)
	})
}

func (m *Match) stopInactivityLocked() {
	if m.inactivity == nil {
		return
	}
	m.inactivity.Stop()
	m.inactivity = nil
	m.inactivityGen++
}

func (m *Match) inactivityExpired(gen int) {
	fire := false
	m.withLock(func() {
		if m.destroyed || gen != m.inactivityGen {
			return
		}
		m.inactivity = nil
		fire = true
		m.logger.Info("match removed due to inactivity")
	})
	if fire && m.hooks.OnTimeout != nil {
		m.hooks.OnTimeout(m.id)
	}
}

// Step advances physics by step. It is a no-op unless the match is running with every slot ready.
func (m *Match) Step(step time.Duration) {
	m.withLock(func() {
		if m.destroyed || !m.allConnected || !m.started || m.ended || !m.allReadyLocked() {
			return
		}
		dt := step.Seconds()
		for _, p := range m.players {
			p.Update(dt)
		}
		if m.ball != nil {
			m.ball.Update(dt, m.onScoreLocked, m.paddleHitLocked)
		}
		m.updatePowerUpsLocked(m.now())
	})
}

func (m *Match) newBallLocked() {
	if m.ended {
		return
	}
	//1.- Serve toward the side that conceded the last point, or randomly for the opening serve.
	m.ball = NewBall(m.stats, m.lastScorer.Opposite(), m.rng, m.now)
	m.ball.Start()
	m.lastTouchSlot = 0
}

// paddleHitLocked reports a collision with the paddle the ball is travelling toward.
func (m *Match) paddleHitLocked() bool {
	if m.ball == nil {
		return false
	}
	box := m.ball.HitBox()
	dirX := m.ball.Direction().X
	for _, p := range m.players {
		if !box.Overlaps(p.paddle.HitBox()) {
			continue
		}
		if (dirX > 0 && p.Side() == SideRight) || (dirX < 0 && p.Side() == SideLeft) {
			m.lastTouchSlot = p.slot
			return true
		}
	}
	return false
}

func (m *Match) onScoreLocked(side Side) {
	if m.ended {
		return
	}
	m.lastScorer = side
	if m.ball != nil {
		m.ball.Stop()
	}
	m.ball = nil
	m.powerUp = nil

	scorer := m.playerOnSide(side)
	if scorer == nil {
		return
	}
	scorer.AddPoint(m.stats.MaxScore)
	m.logger.Debug("point scored", logging.Int("slot", scorer.slot), logging.Int("score", scorer.score))
	if scorer.score >= m.stats.MaxScore {
		m.endGameLocked(scorer.slot)
		return
	}
	m.newBallLocked()
}

func (m *Match) updatePowerUpsLocked(now time.Time) {
	if !m.started || m.ended || !m.allConnected {
		return
	}
	live := m.effects[:0]
	for _, effect := range m.effects {
		if effect.ExpiresAt.After(now) {
			live = append(live, effect)
		}
	}
	m.effects = live

	if m.powerUp == nil && m.ball != nil && !now.Before(m.nextPowerUpAt) {
		m.spawnPowerUpLocked(now)
	}
	m.collectPowerUpLocked(now)
}

func (m *Match) spawnPowerUpLocked(now time.Time) {
	m.powerUpSeq++
	kind := PowerUpKinds[m.rng.Intn(len(PowerUpKinds))]
	m.powerUp = &PowerUp{
		ID:        m.powerUpSeq,
		Type:      kind,
		Position:  spawnPoint(m.rng, m.stats.Map.Width, m.stats.Map.Height),
		Radius:    powerUpRadius,
		SpawnedAt: now,
	}
	m.nextPowerUpAt = now.Add(nextPowerUpDelay(m.rng))
	m.logger.Debug("power-up spawned", logging.String("type", string(kind)),
		logging.Float64("x", m.powerUp.Position.X), logging.Float64("y", m.powerUp.Position.Y))
}

// collectorSlotLocked credits the last paddle to touch the ball, falling back to the side the
// ball is leaving.
func (m *Match) collectorSlotLocked() int {
	if m.player(m.lastTouchSlot) != nil {
		return m.lastTouchSlot
	}
	if m.ball != nil && m.ball.Direction().X >= 0 {
		return 1
	}
	return 2
}

func (m *Match) collectPowerUpLocked(now time.Time) {
	if m.powerUp == nil || m.ball == nil || !m.powerUp.touches(m.ball) {
		return
	}
	collector := m.collectorSlotLocked()
	kind := m.powerUp.Type
	m.powerUp = nil
	m.applyPowerUpLocked(kind, collector, now)
	m.nextPowerUpAt = now.Add(nextPowerUpDelay(m.rng))
	m.logger.Debug("power-up collected", logging.String("type", string(kind)), logging.Int("slot", collector))
}

func (m *Match) applyPowerUpLocked(kind PowerUpType, collector int, now time.Time) {
	spec, ok := effectSpecs[kind]
	if !ok {
		return
	}
	target := collector
	if spec.opponent {
		target = opponentSlot(collector)
	}
	player := m.player(target)
	if player == nil {
		return
	}
	switch kind {
	case GiantPaddle:
		player.paddle.ApplyHeightMultiplier(spec.multiplier, spec.duration)
	case QuickFeet, FrozenRival:
		player.paddle.ApplySpeedMultiplier(spec.multiplier, spec.duration)
	case HyperBall:
		if m.ball != nil {
			m.ball.ApplySpeedMultiplier(spec.multiplier, spec.duration)
		}
	}
	m.effectSeq++
	m.effects = append(m.effects, Effect{
		ID:         m.effectSeq,
		Type:       kind,
		TargetSlot: target,
		Color:      spec.color,
		StartedAt:  now,
		ExpiresAt:  now.Add(spec.duration),
	})
}

// EndGame finishes the match with winnerSlot as the winner. Only the first call has any effect.
func (m *Match) EndGame(winnerSlot int) {
	m.withLock(func() { m.endGameLocked(winnerSlot) })
}

func (m *Match) endGameLocked(winnerSlot int) {
	if m.ended || m.destroyed {
		return
	}
	m.ended = true
	m.endedAt = m.now()
	if m.ball != nil {
		m.ball.Stop()
	}
	m.ball = nil
	m.powerUp = nil

	result := m.resultLocked(winnerSlot)
	m.logger.Info("match ended", logging.Int("winner_slot", winnerSlot), logging.String("duration", result.Time.Duration))
	if payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Result
	}{Type: TypeEndGame, Result: result}); err == nil {
		for _, p := range m.players {
			m.sendLocked(p, payload)
		}
	}
	if hook := m.hooks.OnEnd; hook != nil {
		m.deferLocked(func() { hook(result) })
	}
	if m.connectedLocked() == 0 {
		m.notifyEmptyLocked()
	}
}

func (m *Match) resultLocked(winnerSlot int) Result {
	players := make(map[int]ResultPlayer, len(m.players))
	for _, p := range m.players {
		players[p.slot] = ResultPlayer{ID: p.id, Name: p.name, Score: p.score, Winner: p.slot == winnerSlot}
	}
	return Result{
		MatchID: m.id,
		Players: players,
		Time: ResultTime{
			Duration:  FormatDuration(m.elapsedLocked()),
			StartedAt: FormatStartedAt(m.startedAt, m.location),
		},
	}
}

func (m *Match) elapsedLocked() time.Duration {
	switch {
	case !m.started:
		return 0
	case m.ended:
		return m.endedAt.Sub(m.startedAt)
	default:
		return m.now().Sub(m.startedAt)
	}
}

// Snapshot returns the current full state.
func (m *Match) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.now())
}

func (m *Match) snapshotLocked(now time.Time) Snapshot {
	players := make(map[int]PlayerSnapshot, len(m.players))
	for _, p := range m.players {
		players[p.slot] = p.snapshot()
	}
	snapshot := Snapshot{
		Type:      TypeSnapshot,
		MatchID:   m.id,
		Timestamp: now.UnixMilli(),
		Players:   players,
		Game: GameSnapshot{
			Started: m.started,
			Ended:   m.ended,
			Time:    FormatDuration(m.elapsedLocked()),
		},
		Effects: make([]EffectSnapshot, 0, len(m.effects)),
	}
	if m.ball != nil {
		pos := m.ball.Position()
		snapshot.Ball = BallSnapshot{Exists: true, Position: &pos}
	}
	if m.powerUp != nil {
		snapshot.PowerUp = &PowerUpSnapshot{
			ID:       m.powerUp.ID,
			Type:     m.powerUp.Type,
			Color:    m.powerUp.Type.Color(),
			Position: m.powerUp.Position,
			Radius:   m.powerUp.Radius,
		}
	}
	for _, effect := range m.effects {
		snapshot.Effects = append(snapshot.Effects, EffectSnapshot{
			ID:          effect.ID,
			Type:        effect.Type,
			TargetSlot:  effect.TargetSlot,
			Color:       effect.Color,
			RemainingMs: effect.Remaining(now).Milliseconds(),
		})
	}
	return snapshot
}

func (p *Player) snapshot() PlayerSnapshot {
	return PlayerSnapshot{
		ID:           p.id,
		Name:         p.name,
		Score:        p.score,
		Position:     p.paddle.Position(),
		Size:         p.paddle.Size(),
		Connected:    p.connected,
		LastInputSeq: p.lastInputSeq,
	}
}

// Broadcast serialises one snapshot and sends it to both players. Nothing is sent unless every
// slot is connected.
func (m *Match) Broadcast() {
	m.withLock(func() {
		if m.destroyed || !m.allConnected {
			return
		}
		snapshot := m.snapshotLocked(m.now())
		payload, err := json.Marshal(snapshot)
		if err != nil {
			m.logger.Error("encode snapshot", logging.Error(err))
			return
		}
		for _, p := range m.players {
			m.sendLocked(p, payload)
		}
		if hook := m.hooks.OnSnapshot; hook != nil {
			m.deferLocked(func() { hook(snapshot, payload) })
		}
	})
}

// Destroy stops both loops, cancels every timer and closes the player connections. It is safe to
// call more than once but must not be called from a hook running on a loop goroutine.
func (m *Match) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.stopInactivityLocked()
	if m.ball != nil {
		m.ball.Stop()
	}
	m.ball = nil
	m.powerUp = nil
	m.effects = nil
	m.ready = map[int]bool{}
	for _, p := range m.players {
		p.Destroy()
	}
	cancel := m.loopCancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.simLoop.Stop()
	m.netLoop.Stop()
	m.logger.Debug("match destroyed")
}
