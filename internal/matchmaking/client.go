package matchmaking

import "sync"

// maxBuffered bounds the messages kept for a client whose socket is gone.
const maxBuffered = 32

// Conn is the outbound half of a client socket.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// OutcomeKind tells how a queue wait ended.
type OutcomeKind int

const (
	OutcomeMatchFound OutcomeKind = iota + 1
	OutcomeDequeued
	OutcomeFailed
)

// Outcome resolves the wait started by Enqueue.
type Outcome struct {
	Kind    OutcomeKind
	LobbyID string
	Err     error
}

// Client is one user connected to the matchmaker.
type Client struct {
	id    int64
	email string

	mu     sync.Mutex
	name   string
	rank   int
	state  State
	party  *Party
	conn   Conn
	buffer [][]byte
	wait   chan Outcome
}

// NewClient builds an idle, detached client.
func NewClient(id int64, name, email string, rank int) *Client {
	return &Client{id: id, name: name, email: email, rank: rank, state: StateIdle}
}

func (c *Client) ID() int64     { return c.id }
func (c *Client) Email() string { return c.email }

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) Rank() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rank
}

// SetRank replaces the rank used for matching.
func (c *Client) SetRank(rank int) {
	c.mu.Lock()
	c.rank = rank
	c.mu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Party returns the party the client belongs to, if any.
func (c *Client) Party() *Party {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.party
}

func (c *Client) setParty(p *Party) {
	c.mu.Lock()
	c.party = p
	c.mu.Unlock()
}

// Connected reports whether a socket is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Attach binds conn and replays what was buffered while detached.
func (c *Client) Attach(conn Conn, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if name != "" {
		c.name = name
	}
	for _, payload := range c.buffer {
		if err := conn.Send(payload); err != nil {
			break
		}
	}
	c.buffer = nil
}

// Detach unbinds conn. It reports false when conn was already replaced.
func (c *Client) Detach(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn != conn {
		return false
	}
	c.conn = nil
	return true
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Send delivers a message, keeping the newest ones while no socket is attached.
func (c *Client) Send(msgType string, fields map[string]any) {
	c.sendRaw(encode(msgType, fields))
}

func (c *Client) sendRaw(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		if err := c.conn.Send(payload); err == nil {
			return
		}
	}
	if len(c.buffer) == maxBuffered {
		c.buffer = c.buffer[1:]
	}
	c.buffer = append(c.buffer, payload)
}

// Transition moves the client to to, announcing the change with STATE_CHANGE. Illegal moves
// return ErrInvalidTransition and change nothing.
func (c *Client) Transition(to State) error {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.state = to
	c.mu.Unlock()
	if from != to {
		c.Send(TypeStateChange, map[string]any{"state": to})
	}
	return nil
}

// arm opens a fresh one-shot wait and returns its channel.
func (c *Client) arm() <-chan Outcome {
	ch := make(chan Outcome, 1)
	c.mu.Lock()
	c.wait = ch
	c.mu.Unlock()
	return ch
}

// resolve completes the pending wait. Only the first call after arm delivers.
func (c *Client) resolve(outcome Outcome) bool {
	c.mu.Lock()
	ch := c.wait
	c.wait = nil
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- outcome
	return true
}
