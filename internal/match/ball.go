package match

import (
	"time"

	"golang.org/x/exp/rand"

	"transcendence/pong/internal/config"
)

const (
	// BallStartSpeed is the serve speed in map units per second.
	BallStartSpeed = 300.0
	// BallSpeedIncrement is added on every horizontal bounce.
	BallSpeedIncrement = 30.0
	// BallMaxSpeed caps the move speed reached through bounces.
	BallMaxSpeed = 600.0
	// BounceDebounce is the minimum gap between two bounces on the same axis.
	BounceDebounce = 100 * time.Millisecond
	// ServeDelay is how long a freshly started ball waits before moving.
	ServeDelay = time.Second
	// MaxStepSeconds bounds the integration step so a stalled tick cannot tunnel the ball.
	MaxStepSeconds = 0.05
)

// Ball is the single moving entity of a match. It is not safe for concurrent use; the owning
// Match serialises access.
type Ball struct {
	stats     config.GameStats
	direction Vector2
	position  Vector2
	size      Size

	moveSpeed      float64
	speedIncrement float64
	maxSpeed       float64

	lastBounce [2]time.Time

	armed   bool
	serveAt time.Time

	multiplier      float64
	multiplierUntil time.Time

	now func() time.Time
}

// NewBall places a ball at the centre of the map. The horizontal direction points toward serve;
// SideNone picks one at random. The vertical direction is always random.
func NewBall(stats config.GameStats, serve Side, rng *rand.Rand, now func() time.Time) *Ball {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(uint64(now().UnixNano())))
	}
	dir := Vector2{X: randomSign(rng), Y: randomSign(rng)}
	switch serve {
	case SideLeft:
		dir.X = -1
	case SideRight:
		dir.X = 1
	}
	return &Ball{
		stats:          stats,
		direction:      dir,
		position:       Vector2{X: stats.Map.Width / 2, Y: stats.Map.Height / 2},
		size:           Size{Width: stats.Ball.Width, Height: stats.Ball.Height},
		moveSpeed:      BallStartSpeed,
		speedIncrement: BallSpeedIncrement,
		maxSpeed:       BallMaxSpeed,
		multiplier:     1,
		now:            now,
	}
}

func randomSign(rng *rand.Rand) float64 {
	if rng.Intn(2) == 0 {
		return -1
	}
	return 1
}

// Position returns the centre of the ball.
func (b *Ball) Position() Vector2 { return b.position }

// Direction returns the unit direction components.
func (b *Ball) Direction() Vector2 { return b.direction }

// Radius is half the ball width.
func (b *Ball) Radius() float64 { return b.size.Width / 2 }

// HitBox returns the rectangle used for paddle collisions.
func (b *Ball) HitBox() HitBox { return boxAround(b.position, b.size) }

// MoveSpeed is the current base speed before multipliers.
func (b *Ball) MoveSpeed() float64 { return b.moveSpeed }

// Start arms the serve delay. Calling it again restarts the delay.
func (b *Ball) Start() {
	b.armed = true
	b.serveAt = b.now().Add(ServeDelay)
}

// Moving reports whether the serve delay has elapsed.
func (b *Ball) Moving() bool {
	return b.armed && !b.now().Before(b.serveAt)
}

// Stop disarms the ball and drops any speed multiplier.
func (b *Ball) Stop() {
	b.armed = false
	b.serveAt = time.Time{}
	b.multiplier = 1
	b.multiplierUntil = time.Time{}
}

// ApplySpeedMultiplier scales the ball speed until duration elapses. A zero duration keeps the
// multiplier until Stop. Non-positive multipliers are ignored.
func (b *Ball) ApplySpeedMultiplier(multiplier float64, duration time.Duration) {
	if multiplier <= 0 {
		return
	}
	b.multiplier = multiplier
	b.multiplierUntil = time.Time{}
	if duration > 0 {
		b.multiplierUntil = b.now().Add(duration)
	}
}

// SpeedMultiplier returns the multiplier in effect, reverting expired ones.
func (b *Ball) SpeedMultiplier() float64 {
	if !b.multiplierUntil.IsZero() && !b.now().Before(b.multiplierUntil) {
		b.multiplier = 1
		b.multiplierUntil = time.Time{}
	}
	return b.multiplier
}

// Update advances the ball by dt seconds. onCollision runs every moving step and a true result
// bounces the ball horizontally. onScore receives the side credited with the point when the ball
// crosses a horizontal edge.
func (b *Ball) Update(dt float64, onScore func(Side), onCollision func() bool) {
	if !b.Moving() {
		return
	}
	//1.- Clamp the step so a long stall cannot carry the ball through a paddle.
	if dt > MaxStepSeconds {
		dt = MaxStepSeconds
	}
	if dt <= 0 {
		return
	}
	distance := b.moveSpeed * b.SpeedMultiplier() * dt
	b.position.X += b.direction.X * distance
	b.position.Y += b.direction.Y * distance

	//2.- Crossing the left edge credits the right side and vice versa.
	margin := b.stats.Margin
	scorer := SideNone
	switch {
	case b.position.X <= margin:
		scorer = SideRight
	case b.position.X >= b.stats.Map.Width-margin:
		scorer = SideLeft
	}

	//3.- Reflect off the top and bottom margins, snapping back inside.
	hitTop := b.position.Y <= margin
	hitBottom := b.position.Y >= b.stats.Map.Height-margin
	if hitTop || hitBottom {
		if hitTop {
			b.position.Y = margin
		} else {
			b.position.Y = b.stats.Map.Height - margin
		}
		b.Bounce(AxisY)
	}

	if onCollision != nil && onCollision() {
		b.Bounce(AxisX)
	}
	if scorer != SideNone && onScore != nil {
		onScore(scorer)
	}
}

// Bounce reflects the direction on axis. A second bounce on the same axis inside
// BounceDebounce is ignored. Horizontal bounces raise the speed up to the cap.
func (b *Ball) Bounce(axis Axis) bool {
	if axis != AxisX && axis != AxisY {
		return false
	}
	now := b.now()
	last := b.lastBounce[axis]
	if !last.IsZero() && now.Sub(last) < BounceDebounce {
		return false
	}
	b.lastBounce[axis] = now
	if axis == AxisY {
		b.direction.Y = -b.direction.Y
		return true
	}
	b.direction.X = -b.direction.X
	b.moveSpeed += b.speedIncrement
	if b.moveSpeed > b.maxSpeed {
		b.moveSpeed = b.maxSpeed
	}
	return true
}
