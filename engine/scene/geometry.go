package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

// GenerateCube builds an axis-aligned cube mesh centered on the origin with
// flat-shaded faces.
func GenerateCube(name string, size float32) *metadata.Mesh {
	h := size * 0.5

	type face struct {
		normal  mgl32.Vec3
		corners [4]mgl32.Vec3
	}
	faces := []face{
		{mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{{-h, -h, -h}, {-h, h, -h}, {h, h, -h}, {h, -h, -h}}},
		{mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{{h, -h, h}, {h, h, h}, {-h, h, h}, {-h, -h, h}}},
		{mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{{-h, -h, h}, {-h, h, h}, {-h, h, -h}, {-h, -h, -h}}},
		{mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{{h, -h, -h}, {h, h, -h}, {h, h, h}, {h, -h, h}}},
		{mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{{-h, -h, h}, {-h, -h, -h}, {h, -h, -h}, {h, -h, h}}},
		{mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{{-h, h, -h}, {-h, h, h}, {h, h, h}, {h, h, -h}}},
	}

	mesh := &metadata.Mesh{
		Name:         name,
		Vertices:     make([]metadata.VertexPN, 0, 24),
		Indices:      make([]uint16, 0, 36),
		BoundsRadius: mgl32.Vec3{h, h, h}.Len(),
	}
	for _, f := range faces {
		base := uint16(len(mesh.Vertices))
		for _, c := range f.corners {
			mesh.Vertices = append(mesh.Vertices, metadata.VertexPN{Position: c, Normal: f.normal})
		}
		mesh.Indices = append(mesh.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return mesh
}

// GeneratePlane builds a flat quad in the XZ plane facing up, centered on the
// origin.
func GeneratePlane(name string, extent float32) *metadata.Mesh {
	h := extent * 0.5
	up := mgl32.Vec3{0, 1, 0}
	return &metadata.Mesh{
		Name: name,
		Vertices: []metadata.VertexPN{
			{Position: mgl32.Vec3{-h, 0, -h}, Normal: up},
			{Position: mgl32.Vec3{-h, 0, h}, Normal: up},
			{Position: mgl32.Vec3{h, 0, h}, Normal: up},
			{Position: mgl32.Vec3{h, 0, -h}, Normal: up},
		},
		Indices:      []uint16{0, 1, 2, 0, 2, 3},
		BoundsRadius: mgl32.Vec3{h, 0, h}.Len(),
	}
}
