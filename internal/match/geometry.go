package match

// Vector2 is a position or velocity on the playing field.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the extent of a paddle or ball.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// HitBox is an axis aligned rectangle. Top is the smaller y.
type HitBox struct {
	Top    float64
	Bottom float64
	Left   float64
	Right  float64
}

func boxAround(center Vector2, size Size) HitBox {
	halfW, halfH := size.Width/2, size.Height/2
	return HitBox{
		Top:    center.Y - halfH,
		Bottom: center.Y + halfH,
		Left:   center.X - halfW,
		Right:  center.X + halfW,
	}
}

// Overlaps reports whether both boxes share at least one point.
func (b HitBox) Overlaps(other HitBox) bool {
	return b.Right >= other.Left && b.Left <= other.Right &&
		b.Bottom >= other.Top && b.Top <= other.Bottom
}

// Side names a half of the field. A player defends its own side.
type Side int

const (
	SideNone Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "none"
	}
}

// Opposite returns the other half of the field.
func (s Side) Opposite() Side {
	switch s {
	case SideLeft:
		return SideRight
	case SideRight:
		return SideLeft
	default:
		return SideNone
	}
}

// Axis selects the component a bounce reflects.
type Axis int

const (
	AxisX Axis = iota
	AxisY
)
