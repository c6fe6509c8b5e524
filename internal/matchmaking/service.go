package matchmaking

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"transcendence/pong/internal/config"
	"transcendence/pong/internal/input"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/networking"
)

// Authenticator resolves the user id a request was issued for. An empty subject means the
// request carried no credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Option customises a Service.
type Option func(*Service)

// WithLogger injects the structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInviteStore replaces the in-memory invite store.
func WithInviteStore(store InviteStore) Option {
	return func(s *Service) {
		if store != nil {
			s.invites = store
		}
	}
}

// WithRankSource sets where ranks are read from on CONNECT.
func WithRankSource(source RankSource) Option {
	return func(s *Service) {
		if source != nil {
			s.ranks = source
		}
	}
}

// WithResultSink sets where finished matches are recorded.
func WithResultSink(sink ResultSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithAuthenticator requires socket upgrades to carry a token for the connecting user.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Service) {
		s.auth = auth
	}
}

// Stats summarises the matchmaker for ops endpoints.
type Stats struct {
	Clients   int
	Connected int
	Parties   int
	Lobbies   int
	Matches   int
	Queued    map[GameType]int
	Groups    uint64
}

// Service ties clients, parties, the matcher and lobbies together.
type Service struct {
	cfg     config.MatchmakerConfig
	creator MatchCreator
	sink    ResultSink
	ranks   RankSource
	invites InviteStore
	auth    Authenticator
	log     *logging.Logger
	now     func() time.Time
	matcher *Matcher

	upgrader  websocket.Upgrader
	validator *input.Validator

	ctx    context.Context
	cancel context.CancelFunc
	async  sync.WaitGroup

	mu           sync.Mutex
	clients      map[int64]*Client
	parties      map[string]*Party
	partyInvites map[string][]string
	lobbies      map[string]*Lobby
}

// NewService builds the matchmaker. creator reaches the simulation host.
func NewService(cfg config.MatchmakerConfig, creator MatchCreator, opts ...Option) *Service {
	s := &Service{
		cfg:          cfg,
		creator:      creator,
		sink:         NopSink{},
		ranks:        StaticRanks{},
		log:          logging.L(),
		now:          time.Now,
		clients:      make(map[int64]*Client),
		parties:      make(map[string]*Party),
		partyInvites: make(map[string][]string),
		lobbies:      make(map[string]*Lobby),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.invites == nil {
		s.invites = NewMemoryInviteStore(s.now)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.matcher = NewMatcher(map[GameType]int{
		GameRanked:     cfg.PartyMaxRanked,
		GameTournament: cfg.PartyMaxTournament,
	}, cfg.RankWindow, cfg.ScanInterval, s.onGroup, s.log)
	s.validator = input.NewValidator(input.DefaultConstraints, s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     networking.OriginChecker(cfg.AllowedOrigins),
	}
	return s
}

// Matcher exposes the queue scanner.
func (s *Service) Matcher() *Matcher { return s.matcher }

// Run scans the queues until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.matcher.Run(ctx)
}

func (s *Service) partyMax(mode GameType) int {
	if mode == GameTournament {
		return s.cfg.PartyMaxTournament
	}
	return s.cfg.PartyMaxRanked
}

// Connect registers a socket for req. A client kept alive by a running match is re-attached.
func (s *Service) Connect(ctx context.Context, conn Conn, req ConnectRequest) (*Client, error) {
	if req.ID <= 0 || req.Email == "" {
		return nil, ErrInvalidFormat
	}
	if existing, ok := s.Client(req.ID); ok {
		return s.reattach(existing, conn, req.Name)
	}

	rank, err := s.ranks.Rank(ctx, req.Email)
	if err != nil && !errors.Is(err, ErrRankNotFound) {
		s.log.Warn("rank lookup failed", logging.Int64("client_id", req.ID), logging.Error(err))
	}

	s.mu.Lock()
	if existing, ok := s.clients[req.ID]; ok {
		s.mu.Unlock()
		return s.reattach(existing, conn, req.Name)
	}
	c := NewClient(req.ID, req.Name, req.Email, rank)
	s.clients[req.ID] = c
	s.mu.Unlock()

	c.Attach(conn, "")
	c.Send(TypeConnected, map[string]any{"id": c.ID(), "name": c.Name(), "rank": rank, "state": c.State()})
	s.log.Info("client connected", logging.Int64("client_id", c.ID()))
	return c, nil
}

func (s *Service) reattach(c *Client, conn Conn, name string) (*Client, error) {
	if c.Connected() {
		return nil, ErrAlreadyConnected
	}
	c.Attach(conn, name)
	c.Send(TypeConnected, map[string]any{"id": c.ID(), "name": c.Name(), "rank": c.Rank(), "state": c.State()})
	s.log.Info("client reattached", logging.Int64("client_id", c.ID()), logging.String("state", string(c.State())))
	return c, nil
}

// Client returns the registered client with id.
func (s *Service) Client(id int64) (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	return c, ok
}

// Disconnect detaches conn from c. Idle clients are dropped, queued ones are dequeued first
// and clients in a match are kept until it ends.
func (s *Service) Disconnect(c *Client, conn Conn) {
	if !c.Detach(conn) {
		return
	}
	switch c.State() {
	case StateInGame:
		s.log.Info("client left during a match", logging.Int64("client_id", c.ID()))
		return
	case StateInQueue:
		if p := c.Party(); p != nil {
			_ = s.dequeueParty(p)
		}
		if c.State() == StateInGame {
			return
		}
		_ = c.Transition(StateIdle)
	}
	if p := c.Party(); p != nil {
		_ = s.leave(c, p)
	}
	s.removeClient(c)
	s.log.Info("client disconnected", logging.Int64("client_id", c.ID()))
}

func (s *Service) removeClient(c *Client) {
	s.mu.Lock()
	if s.clients[c.ID()] == c {
		delete(s.clients, c.ID())
	}
	s.mu.Unlock()
}

// releaseClient returns a client to IDLE after its match and drops it when nobody is attached.
func (s *Service) releaseClient(c *Client) {
	if err := c.Transition(StateIdle); err != nil {
		s.log.Warn("release from match failed", logging.Int64("client_id", c.ID()), logging.Error(err))
	}
	if !c.Connected() {
		s.removeClient(c)
	}
}

// Enqueue queues the caller's party, creating a solo party when needed, and blocks until a
// group forms, the party is dequeued or ctx ends.
func (s *Service) Enqueue(ctx context.Context, c *Client, mode GameType) (Outcome, error) {
	if _, err := ParseGameType(string(mode)); err != nil {
		return Outcome{}, err
	}
	if !Allowed(c.State(), ActionEnqueue) {
		return Outcome{}, ErrInvalidTransition
	}
	party, err := s.partyFor(c, mode)
	if err != nil {
		return Outcome{}, err
	}
	if party.Leader() != c {
		return Outcome{}, ErrNotLeader
	}
	if party.GameType() != mode {
		return Outcome{}, ErrInvalidGameType
	}
	for _, m := range party.Members() {
		if !CanTransition(m.State(), StateInQueue) {
			return Outcome{}, ErrInvalidTransition
		}
	}

	members, ok := party.markQueued(c)
	if !ok {
		return Outcome{}, ErrAlreadyQueued
	}
	s.expireInvites(party)

	var wait <-chan Outcome
	for _, m := range members {
		ch := m.arm()
		if m == c {
			wait = ch
		}
		_ = m.Transition(StateInQueue)
	}
	if err := s.matcher.Enqueue(party); err != nil {
		s.settle(party, Outcome{Kind: OutcomeFailed, Err: err})
		return Outcome{}, err
	}
	s.log.Info("party queued", logging.String("party", party.Token()), logging.String("game_type", string(mode)), logging.Int("size", len(members)))

	select {
	case outcome := <-wait:
		return outcome, outcome.Err
	case <-ctx.Done():
		//1.- A scan may have taken the party already; either way the wait is resolved.
		if err := s.dequeueParty(party); err != nil {
			s.log.Debug("cancelled enqueue lost the race to a scan", logging.String("party", party.Token()))
		}
		outcome := <-wait
		return outcome, outcome.Err
	}
}

// partyFor returns the caller's party or a fresh solo party of mode.
func (s *Service) partyFor(c *Client, mode GameType) (*Party, error) {
	if p := c.Party(); p != nil {
		return p, nil
	}
	p, err := NewParty(uuid.NewString(), mode, s.partyMax(mode), s.now())
	if err != nil {
		return nil, err
	}
	if err := p.AddClient(c, true); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.parties[p.Token()] = p
	s.mu.Unlock()
	return p, nil
}

// Dequeue takes the caller's party out of the queue. Only the leader may do so.
func (s *Service) Dequeue(c *Client) error {
	if !Allowed(c.State(), ActionDequeue) {
		return ErrInvalidTransition
	}
	p := c.Party()
	if p == nil {
		return ErrInvalidTransition
	}
	if p.Leader() != c {
		return ErrNotLeader
	}
	return s.dequeueParty(p)
}

func (s *Service) dequeueParty(p *Party) error {
	if !s.matcher.Dequeue(p) {
		return ErrInvalidTransition
	}
	s.settle(p, Outcome{Kind: OutcomeDequeued})
	s.log.Info("party dequeued", logging.String("party", p.Token()))
	return nil
}

// settle disbands a party that left the queue without a match and returns its members to IDLE.
func (s *Service) settle(p *Party, outcome Outcome) {
	members := p.disband()
	s.forgetParty(p)
	for _, m := range members {
		m.resolve(outcome)
		_ = m.Transition(StateIdle)
	}
}

// onGroup turns a formed group into a lobby and starts it.
func (s *Service) onGroup(mode GameType, parties []*Party) {
	clients := lo.FlatMap(parties, func(p *Party, _ int) []*Client {
		members := p.disband()
		s.forgetParty(p)
		return members
	})
	lobby := newLobby(newLobbyID(), mode, clients, lobbyDeps{
		creator: s.creator,
		sink:    s.sink,
		log:     s.log,
		now:     s.now,
		release: s.releaseClient,
	})
	s.mu.Lock()
	s.lobbies[lobby.ID()] = lobby
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.Transition(StateInGame)
		c.resolve(Outcome{Kind: OutcomeMatchFound, LobbyID: lobby.ID()})
	}
	s.log.Info("lobby formed", logging.String("lobby_id", lobby.ID()), logging.String("game_type", string(mode)), logging.Int("players", len(clients)))

	s.async.Add(1)
	go func() {
		defer s.async.Done()
		lobby.Start(s.ctx)
		select {
		case <-lobby.Done():
		case <-s.ctx.Done():
		}
		lobby.WaitRecords()
		s.mu.Lock()
		delete(s.lobbies, lobby.ID())
		s.mu.Unlock()
	}()
}

// Exit takes the client out of its party, dequeuing it first when queued. A client in a
// match leaves its lobby and goes back to IDLE.
func (s *Service) Exit(c *Client) error {
	if !Allowed(c.State(), ActionExit) {
		return ErrInvalidTransition
	}
	if c.State() == StateInGame {
		return s.leaveLobby(c)
	}
	p := c.Party()
	if p == nil {
		return ErrClientNotInParty
	}
	if p.State() == PartyInQueue {
		return s.dequeueParty(p)
	}
	return s.leave(c, p)
}

func (s *Service) leaveLobby(c *Client) error {
	s.mu.Lock()
	lobbies := lo.Values(s.lobbies)
	s.mu.Unlock()
	for _, l := range lobbies {
		if l.Leave(c) {
			s.log.Info("client left its lobby", logging.Int64("client_id", c.ID()), logging.String("lobby_id", l.ID()))
			break
		}
	}
	return c.Transition(StateIdle)
}

func (s *Service) leave(c *Client, p *Party) error {
	if p.State() == PartyInQueue {
		return ErrPartyInQueue
	}
	if err := p.RemoveClient(c); err != nil {
		return err
	}
	if p.Size() == 0 {
		s.forgetParty(p)
	}
	return nil
}

func (s *Service) forgetParty(p *Party) {
	s.mu.Lock()
	delete(s.parties, p.Token())
	s.mu.Unlock()
	s.expireInvites(p)
}

// expireInvites drops every invite pointing at p.
func (s *Service) expireInvites(p *Party) {
	s.mu.Lock()
	tokens := s.partyInvites[p.Token()]
	delete(s.partyInvites, p.Token())
	s.mu.Unlock()
	for _, token := range tokens {
		if err := s.invites.Delete(context.Background(), token); err != nil {
			s.log.Warn("invite not expired", logging.String("token", token), logging.Error(err))
		}
	}
}

// CreateInvite issues an invite to the party of clientID, creating the party when needed.
func (s *Service) CreateInvite(ctx context.Context, clientID int64, mode GameType) (Invite, string, error) {
	c, ok := s.Client(clientID)
	if !ok {
		return Invite{}, "", ErrClientNotFound
	}
	if !Allowed(c.State(), ActionInvite) {
		return Invite{}, "", ErrInvalidTransition
	}
	p := c.Party()
	if p == nil {
		if _, err := ParseGameType(string(mode)); err != nil {
			return Invite{}, "", err
		}
		created, err := s.partyFor(c, mode)
		if err != nil {
			return Invite{}, "", err
		}
		created.markCreatedByInvite()
		p = created
	}
	if p.Leader() != c {
		return Invite{}, "", ErrNotLeader
	}

	invite := Invite{
		Token:      uuid.NewString(),
		OwnerID:    c.ID(),
		PartyToken: p.Token(),
		GameType:   p.GameType(),
		CreatedAt:  s.now(),
	}
	if err := s.invites.Save(ctx, invite, s.cfg.InviteTTL); err != nil {
		return Invite{}, "", err
	}
	s.mu.Lock()
	s.partyInvites[p.Token()] = append(s.partyInvites[p.Token()], invite.Token)
	s.mu.Unlock()
	return invite, InviteLink(s.cfg.PublicHost, invite.Token), nil
}

// JoinParty moves clientID into the party behind token.
func (s *Service) JoinParty(ctx context.Context, token string, clientID int64) (PartyView, error) {
	c, ok := s.Client(clientID)
	if !ok {
		return PartyView{}, ErrClientNotFound
	}
	if c.State() != StateIdle {
		return PartyView{}, ErrInvalidTransition
	}
	invite, err := s.invites.Load(ctx, token)
	if err != nil {
		return PartyView{}, err
	}
	if invite.Expired(s.now(), s.cfg.InviteTTL) {
		_ = s.invites.Delete(ctx, token)
		return PartyView{}, ErrInviteExpired
	}
	s.mu.Lock()
	p := s.parties[invite.PartyToken]
	s.mu.Unlock()
	if p == nil || p.State() != PartyIdle {
		return PartyView{}, ErrInviteExpired
	}
	current := c.Party()
	if current == p {
		return PartyView{}, ErrClientAlreadyInParty
	}
	if current != nil {
		if err := s.leave(c, current); err != nil {
			return PartyView{}, err
		}
	}
	if err := p.AddClient(c, false); err != nil {
		return PartyView{}, err
	}
	s.log.Info("client joined party", logging.Int64("client_id", c.ID()), logging.String("party", p.Token()))
	return p.View(), nil
}

// LeaveParty removes clientID from its party.
func (s *Service) LeaveParty(clientID int64) error {
	c, ok := s.Client(clientID)
	if !ok {
		return ErrClientNotFound
	}
	return s.Exit(c)
}

// PartyOf returns the party of clientID.
func (s *Service) PartyOf(clientID int64) (PartyView, error) {
	c, ok := s.Client(clientID)
	if !ok {
		return PartyView{}, ErrClientNotFound
	}
	p := c.Party()
	if p == nil {
		return PartyView{}, ErrClientNotInParty
	}
	return p.View(), nil
}

// Rank returns the tier of the user with email.
func (s *Service) Rank(ctx context.Context, email string) (Tier, error) {
	if email == "" {
		return Tier{}, ErrInvalidFormat
	}
	points, err := s.ranks.Rank(ctx, email)
	if err != nil {
		return Tier{}, err
	}
	return TierFor(points), nil
}

// Stats snapshots the matchmaker.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	stats := Stats{
		Clients: len(s.clients),
		Parties: len(s.parties),
		Lobbies: len(s.lobbies),
		Queued:  make(map[GameType]int, len(GameTypes)),
	}
	clients := lo.Values(s.clients)
	lobbies := lo.Values(s.lobbies)
	s.mu.Unlock()

	stats.Connected = lo.CountBy(clients, func(c *Client) bool { return c.Connected() })
	stats.Matches = lo.SumBy(lobbies, func(l *Lobby) int { return len(l.Matches()) })
	for _, mode := range GameTypes {
		stats.Queued[mode] = s.matcher.Depth(mode)
	}
	stats.Groups = s.matcher.Groups()
	return stats
}

// Shutdown stops lobbies from waiting on the host and closes every socket.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	clients := lo.Values(s.clients)
	s.mu.Unlock()
	for _, c := range clients {
		c.closeConn()
	}

	done := make(chan struct{})
	go func() {
		s.async.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
