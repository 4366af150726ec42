package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crown3d/crown/engine/renderer/metadata"
	"github.com/crown3d/crown/engine/scene"
)

func TestRegisterAssignsStableIDs(t *testing.T) {
	cache := NewMeshCache(newFakeBackend())

	a := scene.GenerateCube("a", 1)
	b := scene.GenerateCube("b", 1)
	cache.Register(a)
	cache.Register(b)
	cache.Register(a)

	require.NotNil(t, a.Gpu)
	require.NotNil(t, b.Gpu)
	assert.Equal(t, uint32(1), a.Gpu.ID)
	assert.Equal(t, uint32(2), b.Gpu.ID)
}

func TestEnsureUploadedCreatesBuffersOnce(t *testing.T) {
	backend := newFakeBackend()
	cache := NewMeshCache(backend)

	mesh := scene.GenerateCube("cube", 1)
	require.NoError(t, cache.EnsureUploaded(mesh))
	require.NoError(t, cache.EnsureUploaded(mesh))

	assert.True(t, mesh.Gpu.VertexBuffer.Valid())
	assert.True(t, mesh.Gpu.IndexBuffer.Valid())
	assert.Equal(t, uint32(len(mesh.Vertices)), mesh.Gpu.VertexCount)
	assert.Equal(t, uint32(len(mesh.Indices)), mesh.Gpu.IndexCount)
	assert.True(t, mesh.Gpu.Indexed())
	// One vertex and one index buffer, not two of each.
	assert.Len(t, backend.bufferSizes, 2)
}

func TestEnsureUploadedRejectsEmptyMesh(t *testing.T) {
	cache := NewMeshCache(newFakeBackend())
	assert.Error(t, cache.EnsureUploaded(&metadata.Mesh{Name: "empty"}))
}

func TestInvalidateKeepsIDs(t *testing.T) {
	backend := newFakeBackend()
	cache := NewMeshCache(backend)

	mesh := scene.GenerateCube("cube", 1)
	require.NoError(t, cache.EnsureUploaded(mesh))
	id := mesh.Gpu.ID

	cache.Invalidate()
	assert.Equal(t, id, mesh.Gpu.ID)
	assert.False(t, mesh.Gpu.VertexBuffer.Valid())

	require.NoError(t, cache.EnsureUploaded(mesh))
	assert.Equal(t, id, mesh.Gpu.ID)
	assert.True(t, mesh.Gpu.VertexBuffer.Valid())
}
