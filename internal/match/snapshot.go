package match

import (
	"fmt"
	"time"
)

// Wire message types emitted by a match.
const (
	TypeConnected = "CONNECTED"
	TypeSnapshot  = "PING"
	TypePong      = "PONG"
	TypeEndGame   = "END_GAME"
	TypeError     = "ERROR"
)

// PlayerSnapshot is one slot in a broadcast.
type PlayerSnapshot struct {
	ID           int64   `json:"id" msgpack:"id"`
	Name         string  `json:"name" msgpack:"name"`
	Score        int     `json:"score" msgpack:"score"`
	Position     Vector2 `json:"position" msgpack:"position"`
	Size         Size    `json:"size" msgpack:"size"`
	Connected    bool    `json:"connected" msgpack:"connected"`
	LastInputSeq int64   `json:"lastInputSeq" msgpack:"lastInputSeq"`
}

// BallSnapshot carries the ball position when one exists.
type BallSnapshot struct {
	Exists   bool     `json:"exists" msgpack:"exists"`
	Position *Vector2 `json:"position,omitempty" msgpack:"position,omitempty"`
}

// GameSnapshot is the match clock and phase.
type GameSnapshot struct {
	Started bool   `json:"started" msgpack:"started"`
	Ended   bool   `json:"ended" msgpack:"ended"`
	Time    string `json:"time" msgpack:"time"`
}

// PowerUpSnapshot is the pickup currently on the field.
type PowerUpSnapshot struct {
	ID       int         `json:"id" msgpack:"id"`
	Type     PowerUpType `json:"type" msgpack:"type"`
	Color    string      `json:"color" msgpack:"color"`
	Position Vector2     `json:"position" msgpack:"position"`
	Radius   float64     `json:"radius" msgpack:"radius"`
}

// EffectSnapshot is an active effect with its time to live.
type EffectSnapshot struct {
	ID          int         `json:"id" msgpack:"id"`
	Type        PowerUpType `json:"type" msgpack:"type"`
	TargetSlot  int         `json:"targetSlot" msgpack:"targetSlot"`
	Color       string      `json:"color" msgpack:"color"`
	RemainingMs int64       `json:"remainingMs" msgpack:"remainingMs"`
}

// Snapshot is the periodic full-state broadcast.
type Snapshot struct {
	Type      string                 `json:"type" msgpack:"type"`
	MatchID   int64                  `json:"matchId" msgpack:"matchId"`
	Timestamp int64                  `json:"timestamp" msgpack:"timestamp"`
	Players   map[int]PlayerSnapshot `json:"players" msgpack:"players"`
	Ball      BallSnapshot           `json:"ball" msgpack:"ball"`
	Game      GameSnapshot           `json:"game" msgpack:"game"`
	PowerUp   *PowerUpSnapshot       `json:"powerUp" msgpack:"powerUp"`
	Effects   []EffectSnapshot       `json:"effects" msgpack:"effects"`
}

// ResultPlayer is one slot of the end-of-match report.
type ResultPlayer struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Winner bool   `json:"winner"`
}

// ResultTime carries the formatted duration and start of the match.
type ResultTime struct {
	Duration  string `json:"duration"`
	StartedAt string `json:"startedAt"`
}

// Result is emitted once when a match ends.
type Result struct {
	MatchID int64                `json:"matchId"`
	Players map[int]ResultPlayer `json:"players"`
	Time    ResultTime           `json:"time"`
}

// Winner returns the winning slot, or zero when nobody won.
func (r Result) Winner() int {
	for slot, p := range r.Players {
		if p.Winner {
			return slot
		}
	}
	return 0
}

// FormatDuration renders elapsed play time as mm:ss. Minutes keep counting past 59.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// FormatStartedAt renders a start instant as dd/mm/yyyy | hh:mm:ss in loc.
func FormatStartedAt(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("02/01/2006 | 15:04:05")
}
