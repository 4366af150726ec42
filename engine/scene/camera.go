package scene

import "github.com/go-gl/mathgl/mgl32"

// Camera is a simple look-at perspective camera.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	// Vertical field of view in radians.
	FovY   float32
	Aspect float32
	Near   float32
	Far    float32
}

func NewCamera() Camera {
	return Camera{
		Position: mgl32.Vec3{0, 2, -6},
		Target:   mgl32.Vec3{0, 0, 0},
		Up:       mgl32.Vec3{0, 1, 0},
		FovY:     mgl32.DegToRad(60),
		Aspect:   16.0 / 9.0,
		Near:     0.1,
		Far:      1000,
	}
}

func (c *Camera) View() mgl32.Mat4 {
	return LookAtLH(c.Position, c.Target, c.Up)
}

func (c *Camera) Projection() mgl32.Mat4 {
	return PerspectiveLH(c.FovY, c.Aspect, c.Near, c.Far)
}

func (c *Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection().Mul4(c.View())
}

// Frustum returns the camera's world-space culling frustum.
func (c *Camera) Frustum() Frustum {
	return FrustumFromViewProjection(c.ViewProjection())
}
