package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plane in Hessian normal form: Normal·p + D = 0. The normal points toward
// the inside half-space.
type Plane struct {
	Normal mgl32.Vec3
	D      float32
}

// DistanceTo returns the signed distance from p to the plane; positive is
// inside.
func (pl *Plane) DistanceTo(p mgl32.Vec3) float32 {
	return pl.Normal.Dot(p) + pl.D
}

func (pl *Plane) normalize() {
	l := pl.Normal.Len()
	if l > 0 {
		inv := 1.0 / l
		pl.Normal = pl.Normal.Mul(inv)
		pl.D *= inv
	}
}

// Sphere is a world-space bounding sphere.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// AABB is a world-space axis-aligned bounding box.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Frustum is six inward-facing planes, extracted from a view-projection
// matrix for a clip volume with depth in [0, 1].
type Frustum struct {
	Planes [6]Plane
}

const (
	planeLeft = iota
	planeRight
	planeBottom
	planeTop
	planeNear
	planeFar
)

func matRow(m mgl32.Mat4, i int) mgl32.Vec4 {
	return mgl32.Vec4{m[0+i], m[4+i], m[8+i], m[12+i]}
}

func planeFromVec4(v mgl32.Vec4) Plane {
	p := Plane{Normal: mgl32.Vec3{v.X(), v.Y(), v.Z()}, D: v.W()}
	p.normalize()
	return p
}

// FrustumFromViewProjection extracts the six frustum planes from a combined
// view-projection matrix. The near plane is the matrix's z row directly
// because clip-space depth runs from 0 at the near plane to 1 at the far
// plane.
func FrustumFromViewProjection(viewProj mgl32.Mat4) Frustum {
	r0 := matRow(viewProj, 0)
	r1 := matRow(viewProj, 1)
	r2 := matRow(viewProj, 2)
	r3 := matRow(viewProj, 3)

	var f Frustum
	f.Planes[planeLeft] = planeFromVec4(r3.Add(r0))
	f.Planes[planeRight] = planeFromVec4(r3.Sub(r0))
	f.Planes[planeBottom] = planeFromVec4(r3.Add(r1))
	f.Planes[planeTop] = planeFromVec4(r3.Sub(r1))
	f.Planes[planeNear] = planeFromVec4(r2)
	f.Planes[planeFar] = planeFromVec4(r3.Sub(r2))
	return f
}

// IntersectsSphere reports whether the sphere touches the frustum. Spheres
// straddling a plane are kept.
func (f *Frustum) IntersectsSphere(s Sphere) bool {
	for i := range f.Planes {
		if f.Planes[i].DistanceTo(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}

// IntersectsAABB reports whether the box touches the frustum, using the
// projected-extent test per plane.
func (f *Frustum) IntersectsAABB(b AABB) bool {
	center := b.Min.Add(b.Max).Mul(0.5)
	extent := b.Max.Sub(b.Min).Mul(0.5)
	for i := range f.Planes {
		pl := &f.Planes[i]
		r := extent.X()*abs32(pl.Normal.X()) +
			extent.Y()*abs32(pl.Normal.Y()) +
			extent.Z()*abs32(pl.Normal.Z())
		if pl.DistanceTo(center) < -r {
			return false
		}
	}
	return true
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// LookAtLH builds a left-handed view matrix looking from eye toward target.
func LookAtLH(eye, target, up mgl32.Vec3) mgl32.Mat4 {
	z := target.Sub(eye).Normalize()
	x := up.Cross(z).Normalize()
	y := z.Cross(x)

	return mgl32.Mat4{
		x.X(), y.X(), z.X(), 0,
		x.Y(), y.Y(), z.Y(), 0,
		x.Z(), y.Z(), z.Z(), 0,
		-x.Dot(eye), -y.Dot(eye), -z.Dot(eye), 1,
	}
}

// PerspectiveLH builds a left-handed perspective projection mapping view
// depth [near, far] to clip depth [0, 1]. fovY is in radians.
func PerspectiveLH(fovY, aspect, near, far float32) mgl32.Mat4 {
	yScale := float32(1.0 / math.Tan(float64(fovY)*0.5))
	xScale := yScale / aspect
	a := far / (far - near)
	b := -near * far / (far - near)

	return mgl32.Mat4{
		xScale, 0, 0, 0,
		0, yScale, 0, 0,
		0, 0, a, 1,
		0, 0, b, 0,
	}
}

// OrthoLH builds a left-handed off-center orthographic projection mapping
// view depth [near, far] to clip depth [0, 1].
func OrthoLH(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	return mgl32.Mat4{
		2 / (right - left), 0, 0, 0,
		0, 2 / (top - bottom), 0, 0,
		0, 0, 1 / (far - near), 0,
		-(right + left) / (right - left), -(top + bottom) / (top - bottom), -near / (far - near), 1,
	}
}
