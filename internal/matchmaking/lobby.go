package matchmaking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/samber/lo"

	"transcendence/pong/internal/bridge"
	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/match"
)

const sinkTimeout = 10 * time.Second

// MatchCreator asks the simulation host for a match. handle receives its end.
type MatchCreator interface {
	NewMatch(ctx context.Context, players map[int]bridge.Player, maxPlayers int, game string, handle bridge.Handle) (int64, error)
}

// MatchRecord is what a finished or abandoned match leaves behind.
type MatchRecord struct {
	LobbyID  string       `json:"lobbyId"`
	GameType GameType     `json:"game_type"`
	MatchID  int64        `json:"matchId"`
	Result   match.Result `json:"result"`
	TimedOut bool         `json:"timedOut"`
	EndedAt  time.Time    `json:"endedAt"`
}

// ResultSink persists match records.
type ResultSink interface {
	Record(ctx context.Context, rec MatchRecord) error
}

// NopSink discards records.
type NopSink struct{}

func (NopSink) Record(context.Context, MatchRecord) error { return nil }

func newLobbyID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

type lobbyDeps struct {
	creator MatchCreator
	sink    ResultSink
	log     *logging.Logger
	now     func() time.Time
	release func(*Client)
}

// Lobby owns the clients of one formed group from match creation until every match ends.
type Lobby struct {
	id      string
	mode    GameType
	clients []*Client
	deps    lobbyDeps

	startOnce sync.Once
	records   sync.WaitGroup

	mu    sync.Mutex
	games map[int64][]*Client
	left  map[int64]bool
	open  int
	done  chan struct{}
}

func newLobby(id string, mode GameType, clients []*Client, deps lobbyDeps) *Lobby {
	return &Lobby{
		id:      id,
		mode:    mode,
		clients: clients,
		deps:    deps,
		games:   make(map[int64][]*Client),
		left:    make(map[int64]bool),
		done:    make(chan struct{}),
	}
}

func (l *Lobby) ID() string         { return l.id }
func (l *Lobby) GameType() GameType { return l.mode }
func (l *Lobby) Clients() []*Client { return append([]*Client(nil), l.clients...) }
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Matches returns the ids of matches still running.
func (l *Lobby) Matches() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo.Keys(l.games)
}

// Start requests the matches of the lobby. Only the first call does anything.
func (l *Lobby) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		pairs := lo.Chunk(l.clients, 2)
		l.mu.Lock()
		l.open = len(pairs)
		l.mu.Unlock()
		if len(pairs) == 0 {
			close(l.done)
			return
		}
		for _, pair := range pairs {
			l.requestMatch(ctx, pair)
		}
	})
}

func (l *Lobby) requestMatch(ctx context.Context, pair []*Client) {
	if len(pair) != 2 {
		l.deps.log.Warn("lobby left a player without an opponent", logging.String("lobby_id", l.id))
		l.release(pair)
		return
	}
	players := map[int]bridge.Player{
		1: {ID: pair[0].ID(), Name: pair[0].Name()},
		2: {ID: pair[1].ID(), Name: pair[1].Name()},
	}
	id, err := l.deps.creator.NewMatch(ctx, players, 2, GamePong, l)
	if err != nil {
		l.deps.log.Error("match creation failed", logging.String("lobby_id", l.id), logging.Error(err))
		for _, c := range pair {
			c.sendRaw(errorFrame(ErrMatchUnavailable))
		}
		l.release(pair)
		return
	}

	l.mu.Lock()
	l.games[id] = pair
	l.mu.Unlock()
	l.deps.log.Info("match found", logging.String("lobby_id", l.id), logging.Int64("match_id", id))
	payload := encode(TypeMatchFound, map[string]any{"matchId": id, "game": GamePong})
	for _, c := range l.present(pair) {
		c.sendRaw(payload)
	}
}

// EndGame reports the result to both players and records it.
func (l *Lobby) EndGame(result match.Result) {
	pair, ok := l.take(result.MatchID)
	if !ok {
		l.deps.log.Warn("result for an unknown match", logging.String("lobby_id", l.id), logging.Int64("match_id", result.MatchID))
		return
	}
	for _, c := range l.present(pair) {
		outcome, score := "LOSS", 0
		for _, p := range result.Players {
			if p.ID == c.ID() {
				score = p.Score
				if p.Winner {
					outcome = "WIN"
				}
			}
		}
		c.Send(TypeMatchResult, map[string]any{
			"matchId": result.MatchID,
			"result":  outcome,
			"score":   score,
			"stats":   result,
		})
	}
	l.record(MatchRecord{LobbyID: l.id, GameType: l.mode, MatchID: result.MatchID, Result: result, EndedAt: l.deps.now()})
	l.release(pair)
}

// Timeout tells both players the host dropped the match.
func (l *Lobby) Timeout(matchID int64) {
	pair, ok := l.take(matchID)
	if !ok {
		return
	}
	payload := encode(TypeMatchTimeout, map[string]any{"matchId": matchID})
	for _, c := range l.present(pair) {
		c.sendRaw(payload)
	}
	l.record(MatchRecord{LobbyID: l.id, GameType: l.mode, MatchID: matchID, TimedOut: true, EndedAt: l.deps.now()})
	l.release(pair)
}

func (l *Lobby) take(matchID int64) ([]*Client, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pair, ok := l.games[matchID]
	delete(l.games, matchID)
	return pair, ok
}

func (l *Lobby) record(rec MatchRecord) {
	l.records.Add(1)
	go func() {
		defer l.records.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := l.deps.sink.Record(ctx, rec); err != nil {
			l.deps.log.Error("match record not stored", logging.Int64("match_id", rec.MatchID), logging.Error(err))
		}
	}()
}

// WaitRecords blocks until every pending record reached the sink.
func (l *Lobby) WaitRecords() {
	l.records.Wait()
}

// Leave detaches c from the lobby. Its match keeps running on the host, but the lobby no
// longer reports to c or releases it. It reports false when c is not a member.
func (l *Lobby) Leave(c *Client) bool {
	if !lo.Contains(l.clients, c) {
		return false
	}
	l.mu.Lock()
	l.left[c.ID()] = true
	l.mu.Unlock()
	return true
}

func (l *Lobby) present(pair []*Client) []*Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo.Filter(pair, func(c *Client, _ int) bool { return !l.left[c.ID()] })
}

func (l *Lobby) release(pair []*Client) {
	for _, c := range l.present(pair) {
		if l.deps.release != nil {
			l.deps.release(c)
		}
	}
	l.mu.Lock()
	l.open--
	finished := l.open == 0
	l.mu.Unlock()
	if finished {
		close(l.done)
	}
}
