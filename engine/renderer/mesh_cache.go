package renderer

import (
	"fmt"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

// MeshCache owns GPU residency for meshes. Registration assigns each mesh a
// stable ID used as the batch sort key; vertex and index buffers are created
// lazily the first time a pass draws the mesh and are immutable afterwards.
type MeshCache struct {
	backend Backend

	nextID     uint32
	registered []*metadata.Mesh
}

func NewMeshCache(backend Backend) *MeshCache {
	return &MeshCache{backend: backend}
}

// Register assigns the mesh its GPU record and ID if it has none. Safe to
// call repeatedly; only the first call has an effect. Must be called from the
// frame thread before the mesh reaches the prep worker.
func (c *MeshCache) Register(mesh *metadata.Mesh) {
	if mesh.Gpu != nil {
		return
	}
	c.nextID++
	mesh.Gpu = &metadata.MeshGpu{ID: c.nextID}
	c.registered = append(c.registered, mesh)
}

// EnsureUploaded creates the mesh's vertex and index buffers on first use.
func (c *MeshCache) EnsureUploaded(mesh *metadata.Mesh) error {
	c.Register(mesh)
	gpu := mesh.Gpu
	if gpu.VertexBuffer.Valid() {
		return nil
	}
	if len(mesh.Vertices) == 0 {
		return fmt.Errorf("mesh %q has no vertices", mesh.Name)
	}

	vb, err := c.backend.CreateVertexBuffer(metadata.PackVertices(mesh.Vertices))
	if err != nil {
		return fmt.Errorf("mesh %q vertex buffer: %w", mesh.Name, err)
	}
	gpu.VertexBuffer = vb
	gpu.VertexCount = uint32(len(mesh.Vertices))

	if len(mesh.Indices) > 0 {
		ib, err := c.backend.CreateIndexBuffer(metadata.PackIndices(mesh.Indices))
		if err != nil {
			c.backend.DestroyBuffer(vb)
			gpu.VertexBuffer = 0
			gpu.VertexCount = 0
			return fmt.Errorf("mesh %q index buffer: %w", mesh.Name, err)
		}
		gpu.IndexBuffer = ib
		gpu.IndexCount = uint32(len(mesh.Indices))
	}
	return nil
}

// Invalidate drops every mesh's GPU buffers after device loss. IDs are kept
// so batch sort keys stay stable; buffers are recreated on next use.
func (c *MeshCache) Invalidate() {
	for _, mesh := range c.registered {
		gpu := mesh.Gpu
		gpu.VertexBuffer = 0
		gpu.IndexBuffer = 0
		gpu.VertexCount = 0
		gpu.IndexCount = 0
	}
}

// Release destroys all mesh buffers during shutdown.
func (c *MeshCache) Release() {
	for _, mesh := range c.registered {
		gpu := mesh.Gpu
		if gpu.VertexBuffer.Valid() {
			c.backend.DestroyBuffer(gpu.VertexBuffer)
		}
		if gpu.IndexBuffer.Valid() {
			c.backend.DestroyBuffer(gpu.IndexBuffer)
		}
	}
	c.Invalidate()
}
