package scene

import "github.com/go-gl/mathgl/mgl32"

type LightKind uint8

const (
	LightDirectional LightKind = iota
	LightPoint
	LightSpot
)

// Light is an authored scene light. Angles are in radians and only meaningful
// for spot lights; Range only for point and spot.
type Light struct {
	Kind      LightKind
	Enabled   bool
	Color     mgl32.Vec3
	Intensity float32
	Direction mgl32.Vec3
	Position  mgl32.Vec3
	Range     float32
	InnerCone float32
	OuterCone float32

	// GroupMask selects which instance light masks this light affects.
	GroupMask uint32

	CastsShadows bool
}

// NormalizedDirection returns the unit light direction, falling back to
// straight down when the authored direction is degenerate.
func (l *Light) NormalizedDirection() mgl32.Vec3 {
	const epsilon = 1e-6
	if l.Direction.LenSqr() < epsilon {
		return mgl32.Vec3{0, -1, 0}
	}
	return l.Direction.Normalize()
}

// DefaultSun is the directional light used when a scene has no enabled
// directional light of its own.
func DefaultSun() Light {
	return Light{
		Kind:         LightDirectional,
		Enabled:      true,
		Color:        mgl32.Vec3{1, 1, 1},
		Intensity:    1,
		Direction:    mgl32.Vec3{0.3, -0.8, 0.5},
		GroupMask:    0xFFFFFFFF,
		CastsShadows: true,
	}
}
