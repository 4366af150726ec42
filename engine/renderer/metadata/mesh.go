package metadata

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// VertexPN is the interleaved vertex layout every mesh uses: position and
// normal, 24 bytes.
type VertexPN struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
}

const VertexPNStride = 24

// Mesh is CPU-side mesh data plus optional GPU residency. The scene owns the
// CPU data; the renderer's mesh cache owns Gpu and fills it in lazily on
// first use.
type Mesh struct {
	Name     string
	Vertices []VertexPN
	Indices  []uint16

	// Object-space bounds for culling.
	BoundsCenter mgl32.Vec3
	BoundsRadius float32

	Gpu *MeshGpu
}

// MeshGpu is the GPU-resident half of a mesh: immutable vertex/index buffers
// created once and a stable ID used as the batch sort key.
type MeshGpu struct {
	ID           uint32
	VertexBuffer BufferHandle
	IndexBuffer  BufferHandle
	VertexCount  uint32
	IndexCount   uint32
}

// Indexed reports whether draws against this mesh use the index buffer.
func (g *MeshGpu) Indexed() bool {
	return g.IndexBuffer.Valid() && g.IndexCount > 0
}

// PackVertices serializes the vertex array into the byte layout the vertex
// input stage expects (little-endian float32 position, normal).
func PackVertices(vertices []VertexPN) []byte {
	out := make([]byte, 0, len(vertices)*VertexPNStride)
	for i := range vertices {
		v := &vertices[i]
		out = appendFloat32(out, v.Position.X(), v.Position.Y(), v.Position.Z())
		out = appendFloat32(out, v.Normal.X(), v.Normal.Y(), v.Normal.Z())
	}
	return out
}

// PackIndices serializes the index array as little-endian uint16.
func PackIndices(indices []uint16) []byte {
	out := make([]byte, 0, len(indices)*2)
	for _, idx := range indices {
		out = binary.LittleEndian.AppendUint16(out, idx)
	}
	return out
}

func appendFloat32(dst []byte, values ...float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}
