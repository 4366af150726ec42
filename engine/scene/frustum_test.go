package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCamera() Camera {
	c := NewCamera()
	c.Position = mgl32.Vec3{0, 0, 0}
	c.Target = mgl32.Vec3{0, 0, 1}
	c.Aspect = 1.0
	c.Near = 0.1
	c.Far = 100
	return c
}

func TestFrustumKeepsSphereInFront(t *testing.T) {
	c := testCamera()
	f := c.Frustum()

	assert.True(t, f.IntersectsSphere(Sphere{Center: mgl32.Vec3{0, 0, 10}, Radius: 1}))
}

func TestFrustumRejectsSphereBehindCamera(t *testing.T) {
	c := testCamera()
	f := c.Frustum()

	assert.False(t, f.IntersectsSphere(Sphere{Center: mgl32.Vec3{0, 0, -10}, Radius: 1}))
}

func TestFrustumKeepsSphereStraddlingNearPlane(t *testing.T) {
	c := testCamera()
	f := c.Frustum()

	// Center just behind the near plane but radius reaches across it.
	assert.True(t, f.IntersectsSphere(Sphere{Center: mgl32.Vec3{0, 0, 0.05}, Radius: 0.2}))
}

func TestFrustumRejectsSphereBeyondFarPlane(t *testing.T) {
	c := testCamera()
	f := c.Frustum()

	assert.False(t, f.IntersectsSphere(Sphere{Center: mgl32.Vec3{0, 0, 200}, Radius: 1}))
}

func TestFrustumRejectsSphereOffToTheSide(t *testing.T) {
	c := testCamera()
	f := c.Frustum()

	assert.False(t, f.IntersectsSphere(Sphere{Center: mgl32.Vec3{100, 0, 10}, Radius: 1}))
}

func TestFrustumAABB(t *testing.T) {
	c := testCamera()
	f := c.Frustum()

	inside := AABB{Min: mgl32.Vec3{-1, -1, 9}, Max: mgl32.Vec3{1, 1, 11}}
	assert.True(t, f.IntersectsAABB(inside))

	behind := AABB{Min: mgl32.Vec3{-1, -1, -11}, Max: mgl32.Vec3{1, 1, -9}}
	assert.False(t, f.IntersectsAABB(behind))

	straddling := AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
	assert.True(t, f.IntersectsAABB(straddling))
}

func TestLookAtLHMapsEyeToOrigin(t *testing.T) {
	eye := mgl32.Vec3{3, 4, 5}
	view := LookAtLH(eye, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})

	p := view.Mul4x1(eye.Vec4(1))
	assert.InDelta(t, 0, p.X(), 1e-5)
	assert.InDelta(t, 0, p.Y(), 1e-5)
	assert.InDelta(t, 0, p.Z(), 1e-5)
}

func TestLookAtLHTargetIsForward(t *testing.T) {
	eye := mgl32.Vec3{0, 0, -5}
	target := mgl32.Vec3{0, 0, 0}
	view := LookAtLH(eye, target, mgl32.Vec3{0, 1, 0})

	p := view.Mul4x1(target.Vec4(1))
	assert.InDelta(t, 0, p.X(), 1e-5)
	assert.InDelta(t, 0, p.Y(), 1e-5)
	assert.InDelta(t, 5, p.Z(), 1e-5)
}

func TestPerspectiveLHDepthRange(t *testing.T) {
	near, far := float32(0.1), float32(100.0)
	proj := PerspectiveLH(mgl32.DegToRad(60), 1.0, near, far)

	atNear := proj.Mul4x1(mgl32.Vec4{0, 0, near, 1})
	require.NotZero(t, atNear.W())
	assert.InDelta(t, 0, atNear.Z()/atNear.W(), 1e-5)

	atFar := proj.Mul4x1(mgl32.Vec4{0, 0, far, 1})
	require.NotZero(t, atFar.W())
	assert.InDelta(t, 1, atFar.Z()/atFar.W(), 1e-5)
}

func TestOrthoLHDepthRange(t *testing.T) {
	proj := OrthoLH(-10, 10, -10, 10, 2, 50)

	atNear := proj.Mul4x1(mgl32.Vec4{0, 0, 2, 1})
	assert.InDelta(t, 0, atNear.Z(), 1e-5)

	atFar := proj.Mul4x1(mgl32.Vec4{0, 0, 50, 1})
	assert.InDelta(t, 1, atFar.Z(), 1e-5)
}

func TestTransformWorldOrder(t *testing.T) {
	tr := NewTransform()
	tr.Position = mgl32.Vec3{10, 0, 0}
	tr.Scale = mgl32.Vec3{2, 2, 2}

	// Scale applies before translation.
	p := tr.World().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assert.InDelta(t, 12, p.X(), 1e-5)
}

func TestTransformMaxScale(t *testing.T) {
	tr := NewTransform()
	tr.Scale = mgl32.Vec3{1, 3, 2}
	assert.Equal(t, float32(3), tr.MaxScale())
}

func TestLightDirectionFallback(t *testing.T) {
	l := Light{Kind: LightDirectional, Enabled: true}
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, l.NormalizedDirection())

	l.Direction = mgl32.Vec3{0, 0, 2}
	assert.InDelta(t, 1, float64(l.NormalizedDirection().Z()), 1e-6)
}
