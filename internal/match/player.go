package match

import (
	"time"

	"transcendence/pong/internal/config"
)

// Conn is the outbound half of a player socket.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// PlayerInfo identifies a participant handed over by the matchmaker.
type PlayerInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Player binds one paddle to at most one live connection.
type Player struct {
	id           int64
	name         string
	slot         int
	score        int
	connected    bool
	lastInputSeq int64
	conn         Conn
	paddle       *Paddle

	onDuplicate func(playerID int64)
}

func newPlayer(info PlayerInfo, slot int, stats config.GameStats, now func() time.Time) *Player {
	side := SideLeft
	if slot%2 == 0 {
		side = SideRight
	}
	return &Player{
		id:     info.ID,
		name:   info.Name,
		slot:   slot,
		paddle: NewPaddle(side, stats, now),
	}
}

// ID is the identity the matchmaker assigned to this slot.
func (p *Player) ID() int64 { return p.id }

func (p *Player) Name() string { return p.name }

func (p *Player) Slot() int { return p.slot }

func (p *Player) Score() int { return p.score }

func (p *Player) Connected() bool { return p.connected }

// LastInputSeq is the highest input sequence applied so far.
func (p *Player) LastInputSeq() int64 { return p.lastInputSeq }

func (p *Player) Side() Side { return p.paddle.Side() }

func (p *Player) Paddle() *Paddle { return p.paddle }

func (p *Player) owns(conn Conn) bool { return p.conn != nil && p.conn == conn }

// Connect attaches conn when id matches the expected identity. A non-empty name replaces the
// stored display name.
func (p *Player) Connect(conn Conn, id int64, name string) error {
	if id != p.id {
		return ErrPlayerNotFound
	}
	if p.connected {
		if p.onDuplicate != nil {
			p.onDuplicate(p.id)
		}
		return ErrDuplicateConnection
	}
	if name != "" {
		p.name = name
	}
	p.conn = conn
	p.connected = true
	return nil
}

// Send writes payload to the live connection.
func (p *Player) Send(payload []byte) error {
	if !p.connected || p.conn == nil {
		return ErrNotConnected
	}
	return p.conn.Send(payload)
}

// UpdateDirection applies new key state. Nil fields mean the input carried no usable boolean
// and the whole update is ignored. The acknowledged sequence never moves backwards.
func (p *Player) UpdateDirection(up, down *bool, seq int64) bool {
	if !p.connected || up == nil || down == nil {
		return false
	}
	p.paddle.UpdateDirection(Direction{Up: *up, Down: *down})
	if seq > p.lastInputSeq {
		p.lastInputSeq = seq
	}
	return true
}

// Update advances the paddle.
func (p *Player) Update(dt float64) { p.paddle.Update(dt) }

// AddPoint increments the score without exceeding maxScore.
func (p *Player) AddPoint(maxScore int) {
	if p.score < maxScore {
		p.score++
	}
}

// Destroy drops the connection and paddle effects. Score and identity are kept for reconnects.
func (p *Player) Destroy() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.connected = false
	p.paddle.Stop()
}
