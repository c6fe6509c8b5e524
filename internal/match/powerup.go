package match

import (
	"math"
	"time"

	"golang.org/x/exp/rand"
)

// PowerUpType names a pickup and the effect it grants.
type PowerUpType string

const (
	GiantPaddle PowerUpType = "GIANT_PADDLE"
	QuickFeet   PowerUpType = "QUICK_FEET"
	FrozenRival PowerUpType = "FROZEN_RIVAL"
	HyperBall   PowerUpType = "HYPER_BALL"
)

const (
	powerUpRadius   = 16.0
	powerUpMinDelay = 3500 * time.Millisecond
	powerUpMaxDelay = 7000 * time.Millisecond
)

// PowerUpKinds lists every pickup in spawn order.
var PowerUpKinds = []PowerUpType{GiantPaddle, QuickFeet, FrozenRival, HyperBall}

// effectSpec is the magnitude, duration and colour of one pickup.
type effectSpec struct {
	multiplier float64
	duration   time.Duration
	color      string
	opponent   bool
}

var effectSpecs = map[PowerUpType]effectSpec{
	GiantPaddle: {multiplier: 1.5, duration: 8 * time.Second, color: "#7c3aed"},
	QuickFeet:   {multiplier: 1.35, duration: 7 * time.Second, color: "#06b6d4"},
	FrozenRival: {multiplier: 0.68, duration: 6 * time.Second, color: "#ef4444", opponent: true},
	HyperBall:   {multiplier: 1.28, duration: 6 * time.Second, color: "#f59e0b"},
}

// Color returns the display colour clients draw the pickup with.
func (t PowerUpType) Color() string {
	if spec, ok := effectSpecs[t]; ok {
		return spec.color
	}
	return "#ffffff"
}

// PowerUp is a pickup waiting on the field.
type PowerUp struct {
	ID        int
	Type      PowerUpType
	Position  Vector2
	Radius    float64
	SpawnedAt time.Time
}

// Effect is an applied pickup with a deadline.
type Effect struct {
	ID         int
	Type       PowerUpType
	TargetSlot int
	Color      string
	StartedAt  time.Time
	ExpiresAt  time.Time
}

// Remaining returns the time left before the effect lapses, never negative.
func (e Effect) Remaining(now time.Time) time.Duration {
	if left := e.ExpiresAt.Sub(now); left > 0 {
		return left
	}
	return 0
}

// nextPowerUpDelay picks the wait before the next spawn in [3.5s, 7s).
func nextPowerUpDelay(rng *rand.Rand) time.Duration {
	span := int64(powerUpMaxDelay - powerUpMinDelay)
	return powerUpMinDelay + time.Duration(rng.Int63n(span))
}

// spawnPoint picks integral coordinates away from the paddles and the walls.
func spawnPoint(rng *rand.Rand, width, height float64) Vector2 {
	marginX := math.Min(150, width*0.2)
	marginY := math.Min(120, height*0.2)
	return Vector2{
		X: math.Floor(marginX + rng.Float64()*math.Max(1, width-marginX*2)),
		Y: math.Floor(marginY + rng.Float64()*math.Max(1, height-marginY*2)),
	}
}

// touches resolves ball pickup by comparing the centre distance with the summed radii.
func (p *PowerUp) touches(ball *Ball) bool {
	pos := ball.Position()
	dx := pos.X - p.Position.X
	dy := pos.Y - p.Position.Y
	reach := ball.Radius() + p.Radius
	return dx*dx+dy*dy <= reach*reach
}
