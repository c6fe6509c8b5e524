package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"transcendence/pong/internal/logging"
	"transcendence/pong/internal/match"
)

// Message types exchanged with the host's lobby link.
const (
	TypeConnectLobby   = "CONNECT_LOBBY"
	TypeLobbyConnected = "LOBBY_CONNECTED"
	TypeNewMatch       = "NEW_MATCH"
	TypeMatchCreated   = "MATCH_CREATED"
	TypeRemoveMatch    = "REMOVE_MATCH"
	TypeMatchRemoved   = "MATCH_REMOVED"
	TypeEndGame        = "END_GAME"
	TypeTimeoutRemove  = "TIMEOUT_REMOVE"
	TypeError          = "ERROR"
)

const writeTimeout = 10 * time.Second

var (
	// ErrClosed is returned once Close has disabled the link.
	ErrClosed = errors.New("bridge closed")
	// ErrLinkLost fails requests that were on the wire when the connection dropped.
	ErrLinkLost = errors.New("bridge connection lost before the host answered")
)

// RemoteError carries an ERROR code answered by the host for a request.
type RemoteError struct {
	Code string
}

func (e *RemoteError) Error() string { return "host rejected request: " + e.Code }

// Player is one roster entry of a NEW_MATCH request.
type Player struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Handle receives the outcome of a match created through the bridge.
type Handle interface {
	EndGame(result match.Result)
	Timeout(matchID int64)
}

// Stats reports the link state for ops endpoints.
type Stats struct {
	Connected  bool
	Queued     int
	Pending    int
	Tracked    int
	Reconnects uint64
}

type request struct {
	id      string
	payload []byte
	handle  Handle
	done    chan createResult
}

type createResult struct {
	matchID int64
	err     error
}

// Option customises a Client.
type Option func(*Client)

// WithLogger injects the structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithReconnectDelay overrides the fixed backoff between connection attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.delay = delay
		}
	}
}

// WithDialer swaps the websocket dialer, for TLS settings or tests.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// Client is the matchmaker's persistent link to the simulation host. It authenticates as the
// lobby, creates matches on request and routes their end back to the requesting handle.
type Client struct {
	url   string
	id    string
	pass  string
	delay time.Duration

	dialer *websocket.Dialer
	log    *logging.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	ready        bool
	canReconnect bool
	queued       []*request
	pending      []*request
	handles      map[int64]Handle
	reconnects   uint64

	writeMu sync.Mutex
	wake    chan struct{}
}

// New builds a client for the host at url authenticating with id and pass.
func New(url, id, pass string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		id:           id,
		pass:         pass,
		delay:        5 * time.Second,
		dialer:       websocket.DefaultDialer,
		log:          logging.L(),
		canReconnect: true,
		handles:      make(map[int64]Handle),
		wake:         make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run keeps the link up until ctx is cancelled or Close is called.
func (c *Client) Run(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		if !c.reconnectAllowed() || ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			c.mu.Lock()
			c.reconnects++
			c.mu.Unlock()
		}
		if err := c.session(ctx); err != nil {
			c.log.Warn("bridge link down", logging.String("url", c.url), logging.Error(err))
		}
		if !c.reconnectAllowed() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			return
		case <-time.After(c.delay):
		}
	}
}

func (c *Client) reconnectAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canReconnect
}

// session dials once and pumps messages until the connection fails.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial host: %w", err)
	}

	c.mu.Lock()
	if !c.canReconnect {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer c.dropConnection(conn)

	hello, _ := json.Marshal(map[string]any{"type": TypeConnectLobby, "id": c.id, "pass": c.pass})
	if err := c.write(conn, hello); err != nil {
		return fmt.Errorf("send credentials: %w", err)
	}
	c.log.Info("bridge connected", logging.String("url", c.url))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(conn, raw)
	}
}

// dropConnection clears the live socket and fails requests the host never answered.
func (c *Client) dropConnection(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.ready = false
	}
	lost := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, req := range lost {
		req.done <- createResult{err: ErrLinkLost}
	}
}

func (c *Client) write(conn *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

type inbound struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	MatchID   int64           `json:"matchId"`
	Error     string          `json:"error"`
	IP        string          `json:"ip"`
	PlayerID  int64           `json:"playerId"`
	Players   json.RawMessage `json:"players"`
}

func (c *Client) dispatch(conn *websocket.Conn, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("bridge received malformed frame", logging.Error(err))
		return
	}
	switch msg.Type {
	case TypeLobbyConnected:
		c.flush(conn)
	case TypeMatchCreated:
		req := c.takePending(msg.RequestID)
		if req == nil {
			c.log.Warn("MATCH_CREATED without a pending request", logging.Int64("match_id", msg.MatchID))
			return
		}
		c.mu.Lock()
		c.handles[msg.MatchID] = req.handle
		c.mu.Unlock()
		req.done <- createResult{matchID: msg.MatchID}
	case TypeEndGame:
		var result match.Result
		if err := json.Unmarshal(raw, &result); err != nil {
			c.log.Warn("END_GAME could not be decoded", logging.Error(err))
			return
		}
		c.finish(conn, msg.MatchID, func(h Handle) { h.EndGame(result) })
	case TypeTimeoutRemove:
		c.finish(conn, msg.MatchID, func(h Handle) { h.Timeout(msg.MatchID) })
	case TypeMatchRemoved:
		c.log.Debug("host removed match", logging.Int64("match_id", msg.MatchID))
	case TypeError:
		c.handleError(msg)
	default:
		c.log.Debug("bridge ignored frame", logging.String("type", msg.Type))
	}
}

func (c *Client) handleError(msg inbound) {
	switch msg.Error {
	case "DUPLICATE":
		c.log.Warn("host reported a duplicate player connection", logging.Int64("match_id", msg.MatchID), logging.Int64("player_id", msg.PlayerID))
		return
	case "DDOS_DETECTED":
		c.log.Warn("host throttled an address", logging.String("ip", msg.IP))
		return
	case "NOT_FOUND":
		if msg.RequestID == "" {
			c.log.Debug("host does not know the match", logging.Int64("match_id", msg.MatchID))
			return
		}
	}
	//1.- Remaining errors answer a NEW_MATCH; without an id they belong to the oldest one.
	req := c.takePending(msg.RequestID)
	if req == nil {
		c.log.Warn("host error without a pending request", logging.String("error", msg.Error))
		return
	}
	req.done <- createResult{err: &RemoteError{Code: msg.Error}}
}

// finish routes an ended match to its handle, asks the host to drop it and untracks it.
func (c *Client) finish(conn *websocket.Conn, matchID int64, notify func(Handle)) {
	c.mu.Lock()
	handle, ok := c.handles[matchID]
	delete(c.handles, matchID)
	c.mu.Unlock()
	if !ok {
		c.log.Warn("end of an untracked match", logging.Int64("match_id", matchID))
		return
	}
	notify(handle)
	payload, _ := json.Marshal(map[string]any{"type": TypeRemoveMatch, "matchId": matchID})
	if err := c.write(conn, payload); err != nil {
		c.log.Warn("REMOVE_MATCH not delivered", logging.Int64("match_id", matchID), logging.Error(err))
	}
}

// takePending removes the request with id, or the oldest one when id is empty.
func (c *Client) takePending(id string) *request {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, req := range c.pending {
		if id == "" || req.id == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return req
		}
	}
	return nil
}

// flush marks the link ready and sends every queued request in order. A request becomes
// pending just before its write; one that fails to go out returns to the front of the queue
// together with everything behind it.
func (c *Client) flush(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.ready = true
	c.mu.Unlock()

	sent := 0
	for {
		c.mu.Lock()
		if c.conn != conn || len(c.queued) == 0 {
			c.mu.Unlock()
			break
		}
		req := c.queued[0]
		c.queued = c.queued[1:]
		c.pending = append(c.pending, req)
		c.mu.Unlock()

		if err := c.write(conn, req.payload); err != nil {
			c.log.Warn("queued NEW_MATCH not delivered", logging.String("request_id", req.id), logging.Error(err))
			c.requeue(req)
			return
		}
		sent++
	}
	if sent > 0 {
		c.log.Info("bridge flushed queued requests", logging.Int("count", sent))
	}
}

// requeue moves req from pending back to the front of the queue and marks the link not ready,
// so it is sent again after the next login. A request already failed by a drop stays failed.
func (c *Client) requeue(req *request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	for i, candidate := range c.pending {
		if candidate == req {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			c.queued = append([]*request{req}, c.queued...)
			return
		}
	}
}

// NewMatch asks the host for a match and blocks until its id arrives. handle receives the
// match's END_GAME or TIMEOUT_REMOVE.
func (c *Client) NewMatch(ctx context.Context, players map[int]Player, maxPlayers int, game string, handle Handle) (int64, error) {
	req := &request{id: uuid.NewString(), handle: handle, done: make(chan createResult, 1)}
	payload, err := json.Marshal(map[string]any{
		"type":       TypeNewMatch,
		"requestId":  req.id,
		"players":    players,
		"maxPlayers": maxPlayers,
		"game":       game,
	})
	if err != nil {
		return 0, err
	}
	req.payload = payload

	c.mu.Lock()
	if !c.canReconnect {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	conn := c.conn
	if conn != nil && c.ready {
		c.pending = append(c.pending, req)
	} else {
		//1.- The link is down or still authenticating; the next LOBBY_CONNECTED flushes it.
		c.queued = append(c.queued, req)
		conn = nil
	}
	c.mu.Unlock()

	if conn != nil {
		if err := c.write(conn, payload); err != nil {
			c.log.Warn("NEW_MATCH not delivered", logging.String("request_id", req.id), logging.Error(err))
			c.requeue(req)
		}
	}

	select {
	case res := <-req.done:
		return res.matchID, res.err
	case <-ctx.Done():
		c.forget(req)
		return 0, ctx.Err()
	}
}

func (c *Client) forget(req *request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, list := range []*[]*request{&c.queued, &c.pending} {
		for i, candidate := range *list {
			if candidate == req {
				*list = append((*list)[:i], (*list)[i+1:]...)
				break
			}
		}
	}
}

// Close disables reconnection, closes the socket and fails queued requests.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.canReconnect {
		c.mu.Unlock()
		return
	}
	c.canReconnect = false
	conn := c.conn
	queued := c.queued
	c.queued = nil
	close(c.wake)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, req := range queued {
		req.done <- createResult{err: ErrClosed}
	}
}

// Stats returns the current link counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connected:  c.conn != nil && c.ready,
		Queued:     len(c.queued),
		Pending:    len(c.pending),
		Tracked:    len(c.handles),
		Reconnects: c.reconnects,
	}
}
