package scene

import "github.com/go-gl/mathgl/mgl32"

// Transform places an entity in the world: position, rotation quaternion and
// non-uniform scale.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// World composes scale, rotation and translation into the world matrix.
func (t *Transform) World() mgl32.Mat4 {
	s := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	r := t.Rotation.Mat4()
	tr := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	return tr.Mul4(r).Mul4(s)
}

// NormalMatrix is the inverse-transpose of the world matrix, used to
// transform normals under non-uniform scale.
func (t *Transform) NormalMatrix() mgl32.Mat4 {
	return t.World().Inv().Transpose()
}

// MaxScale returns the largest axis scale, used to scale bounding-sphere
// radii conservatively.
func (t *Transform) MaxScale() float32 {
	sx, sy, sz := t.Scale.X(), t.Scale.Y(), t.Scale.Z()
	m := sx
	if sy > m {
		m = sy
	}
	if sz > m {
		m = sz
	}
	return m
}
