package match

import (
	"time"

	"transcendence/pong/internal/config"
)

const (
	// PaddleBaseSpeed is the distance covered per reference frame.
	PaddleBaseSpeed = 10.0
	// PaddleReferenceFPS converts PaddleBaseSpeed into units per second.
	PaddleReferenceFPS = 60.0
	// PaddleSpawnMargin is the horizontal distance between a paddle and its edge of the map.
	PaddleSpawnMargin = 50.0
)

// Direction is the pressed state of the two movement keys.
type Direction struct {
	Up   bool `json:"up"`
	Down bool `json:"down"`
}

// modifier is a multiplier that reverts to 1 once until passes. A zero until never expires.
type modifier struct {
	value float64
	until time.Time
}

func (m *modifier) current(now time.Time) float64 {
	if m.value == 0 {
		return 1
	}
	if !m.until.IsZero() && !now.Before(m.until) {
		*m = modifier{}
		return 1
	}
	return m.value
}

func (m *modifier) set(value float64, duration time.Duration, now time.Time) {
	m.value = value
	m.until = time.Time{}
	if duration > 0 {
		m.until = now.Add(duration)
	}
}

// Paddle is a vertical actuator bounded by the map margins.
type Paddle struct {
	side      Side
	position  Vector2
	baseSize  Size
	baseSpeed float64
	margin    float64
	mapHeight float64
	direction Direction

	speed  modifier
	height modifier

	now func() time.Time
}

// NewPaddle spawns a paddle vertically centred near the edge it defends.
func NewPaddle(side Side, stats config.GameStats, now func() time.Time) *Paddle {
	if now == nil {
		now = time.Now
	}
	x := PaddleSpawnMargin
	if side == SideRight {
		x = stats.Map.Width - PaddleSpawnMargin
	}
	return &Paddle{
		side:      side,
		position:  Vector2{X: x, Y: stats.Map.Height / 2},
		baseSize:  Size{Width: stats.Paddle.Width, Height: stats.Paddle.Height},
		baseSpeed: PaddleBaseSpeed,
		margin:    stats.Margin,
		mapHeight: stats.Map.Height,
		now:       now,
	}
}

// Side is the half of the field the paddle defends.
func (p *Paddle) Side() Side { return p.side }

// Position returns the paddle centre.
func (p *Paddle) Position() Vector2 { return p.position }

// Direction returns the current key state.
func (p *Paddle) Direction() Direction { return p.direction }

// Size returns the paddle extent with the height modifier applied.
func (p *Paddle) Size() Size {
	return Size{Width: p.baseSize.Width, Height: p.baseSize.Height * p.height.current(p.now())}
}

// HitBox returns the rectangle used for ball collisions and bounds checks.
func (p *Paddle) HitBox() HitBox { return boxAround(p.position, p.Size()) }

// UpdateDirection replaces the key state.
func (p *Paddle) UpdateDirection(dir Direction) {
	if p.direction == dir {
		return
	}
	p.direction = dir
}

// Update moves the paddle for dt seconds. A move that would leave the margins is rejected as a
// whole and Update reports false.
func (p *Paddle) Update(dt float64) bool {
	if dt <= 0 {
		return false
	}
	dir := boolToFloat(p.direction.Down) - boolToFloat(p.direction.Up)
	if dir == 0 {
		return false
	}
	velocity := dir * p.baseSpeed * p.speed.current(p.now()) * PaddleReferenceFPS
	next := p.position.Y + velocity*dt
	if !p.fits(next, p.Size().Height) {
		return false
	}
	p.position.Y = next
	return true
}

func (p *Paddle) fits(centerY, height float64) bool {
	top := centerY - height/2
	bottom := centerY + height/2
	return top >= p.margin && bottom <= p.mapHeight-p.margin
}

// ApplySpeedMultiplier scales movement speed for duration. Reapplying restarts the expiry.
func (p *Paddle) ApplySpeedMultiplier(multiplier float64, duration time.Duration) {
	if multiplier <= 0 {
		return
	}
	p.speed.set(multiplier, duration, p.now())
}

// ApplyHeightMultiplier scales the paddle height for duration. Reapplying restarts the expiry.
func (p *Paddle) ApplyHeightMultiplier(multiplier float64, duration time.Duration) {
	if multiplier <= 0 {
		return
	}
	p.height.set(multiplier, duration, p.now())
	//1.- Pull the centre back inside the margins when the taller paddle would overhang them.
	height := p.Size().Height
	if minY := p.margin + height/2; p.position.Y < minY {
		p.position.Y = minY
	}
	if maxY := p.mapHeight - p.margin - height/2; p.position.Y > maxY {
		p.position.Y = maxY
	}
}

// Stop clears both modifiers and releases the keys.
func (p *Paddle) Stop() {
	p.speed = modifier{}
	p.height = modifier{}
	p.direction = Direction{}
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
