package renderer

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crown3d/crown/engine/renderer/metadata"
	"github.com/crown3d/crown/engine/scene"
)

// testMesh returns a minimal mesh already carrying a GPU record so batch sort
// keys are deterministic.
func testMesh(name string, id uint32) *metadata.Mesh {
	return &metadata.Mesh{
		Name: name,
		Vertices: []metadata.VertexPN{
			{Position: mgl32.Vec3{0, 0, 0}, Normal: mgl32.Vec3{0, 1, 0}},
		},
		Indices:      []uint16{0},
		BoundsRadius: 1,
		Gpu:          &metadata.MeshGpu{ID: id},
	}
}

// testSnapshot returns a snapshot whose camera sits at -10 on Z looking at
// the origin, so items near the origin are inside the frustum.
func testSnapshot() *SceneSnapshot {
	cam := scene.NewCamera()
	cam.Position = mgl32.Vec3{0, 0, -10}
	cam.Target = mgl32.Vec3{0, 0, 0}

	snap := &SceneSnapshot{}
	snap.View = cam.View()
	snap.Projection = cam.Projection()
	snap.ViewProjection = snap.Projection.Mul4(snap.View)
	snap.CameraPosition = cam.Position
	return snap
}

func addItem(snap *SceneSnapshot, mesh *metadata.Mesh, mat *metadata.MaterialValue, pos mgl32.Vec3) {
	snap.Items = append(snap.Items, SnapshotItem{
		World:        mgl32.Translate3D(pos.X(), pos.Y(), pos.Z()),
		Normal:       mgl32.Ident4(),
		BoundsCenter: pos,
		BoundsRadius: mesh.BoundsRadius,
		Mesh:         mesh,
		Material:     mat,
		Flags:        metadata.InstanceFlagCastsShadows | metadata.InstanceFlagReceivesShadows,
	})
}

func TestBuildEmptySnapshotProducesEmptyFrame(t *testing.T) {
	var frame metadata.PreparedFrame
	NewFrameBuilder().Build(testSnapshot(), &frame)
	assert.True(t, frame.Empty())
}

func TestBuildBatchesPartitionInstances(t *testing.T) {
	snap := testSnapshot()
	meshA := testMesh("a", 1)
	meshB := testMesh("b", 2)
	red := &metadata.MaterialValue{Albedo: mgl32.Vec4{1, 0, 0, 1}, Shader: "pbr"}
	blue := &metadata.MaterialValue{Albedo: mgl32.Vec4{0, 0, 1, 1}, Shader: "pbr"}

	addItem(snap, meshA, red, mgl32.Vec3{0, 0, 0})
	addItem(snap, meshB, blue, mgl32.Vec3{1, 0, 0})
	addItem(snap, meshA, red, mgl32.Vec3{-1, 0, 0})
	addItem(snap, meshB, red, mgl32.Vec3{0, 1, 0})
	addItem(snap, meshA, blue, mgl32.Vec3{0, -1, 0})

	var frame metadata.PreparedFrame
	NewFrameBuilder().Build(snap, &frame)

	require.Len(t, frame.Instances, 5)
	require.NotEmpty(t, frame.Batches)

	next := uint32(0)
	for _, b := range frame.Batches {
		assert.Equal(t, next, b.FirstInstance)
		assert.NotZero(t, b.InstanceCount)
		require.GreaterOrEqual(t, b.MaterialSlot, int32(0))
		require.Less(t, int(b.MaterialSlot), len(frame.Materials))
		next += b.InstanceCount
	}
	assert.Equal(t, uint32(len(frame.Instances)), next)
}

func TestBuildSortsByMeshThenMaterial(t *testing.T) {
	snap := testSnapshot()
	meshA := testMesh("a", 1)
	meshB := testMesh("b", 2)
	red := &metadata.MaterialValue{Albedo: mgl32.Vec4{1, 0, 0, 1}, Shader: "pbr"}
	blue := &metadata.MaterialValue{Albedo: mgl32.Vec4{0, 0, 1, 1}, Shader: "pbr"}

	// Interleave meshes and materials to force the sort to do work.
	addItem(snap, meshB, blue, mgl32.Vec3{0, 0, 0})
	addItem(snap, meshA, blue, mgl32.Vec3{1, 0, 0})
	addItem(snap, meshB, red, mgl32.Vec3{-1, 0, 0})
	addItem(snap, meshA, red, mgl32.Vec3{0, 1, 0})

	var frame metadata.PreparedFrame
	NewFrameBuilder().Build(snap, &frame)

	lastMesh := uint32(0)
	lastSlot := int32(-1)
	for _, b := range frame.Batches {
		id := b.Mesh.Gpu.ID
		require.GreaterOrEqual(t, id, lastMesh)
		if id != lastMesh {
			lastMesh = id
			lastSlot = -1
		}
		assert.Greater(t, b.MaterialSlot, lastSlot)
		lastSlot = b.MaterialSlot
	}
}

func TestBuildCullsItemsOutsideFrustum(t *testing.T) {
	snap := testSnapshot()
	mesh := testMesh("a", 1)
	addItem(snap, mesh, nil, mgl32.Vec3{0, 0, 0})
	// Well behind the camera.
	addItem(snap, mesh, nil, mgl32.Vec3{0, 0, -50})

	var frame metadata.PreparedFrame
	NewFrameBuilder().Build(snap, &frame)

	assert.Len(t, frame.Instances, 1)
	require.Len(t, frame.Batches, 1)
	assert.Equal(t, uint32(1), frame.Batches[0].InstanceCount)
}

func TestBuildGroupsSharedMeshByMaterial(t *testing.T) {
	snap := testSnapshot()
	mesh := testMesh("shared", 1)
	red := &metadata.MaterialValue{Albedo: mgl32.Vec4{1, 0, 0, 1}, Shader: "pbr"}
	blue := &metadata.MaterialValue{Albedo: mgl32.Vec4{0, 0, 1, 1}, Shader: "pbr"}

	addItem(snap, mesh, red, mgl32.Vec3{0, 0, 0})
	addItem(snap, mesh, blue, mgl32.Vec3{1, 0, 0})
	addItem(snap, mesh, red, mgl32.Vec3{-1, 0, 0})

	var frame metadata.PreparedFrame
	NewFrameBuilder().Build(snap, &frame)

	assert.Len(t, frame.Instances, 3)
	require.Len(t, frame.Batches, 2)
	assert.Equal(t, uint32(2), frame.Batches[0].InstanceCount)
	assert.Equal(t, uint32(1), frame.Batches[1].InstanceCount)
	assert.NotEqual(t, frame.Batches[0].MaterialSlot, frame.Batches[1].MaterialSlot)
}

func TestBuildCollapsesValueIdenticalMaterials(t *testing.T) {
	snap := testSnapshot()
	mesh := testMesh("a", 1)
	m1 := &metadata.MaterialValue{Albedo: mgl32.Vec4{1, 1, 1, 1}, Roughness: 0.3, Shader: "pbr"}
	m2 := &metadata.MaterialValue{Albedo: mgl32.Vec4{1, 1, 1, 1}, Roughness: 0.3, Shader: "pbr"}

	addItem(snap, mesh, m1, mgl32.Vec3{0, 0, 0})
	addItem(snap, mesh, m2, mgl32.Vec3{1, 0, 0})

	var frame metadata.PreparedFrame
	NewFrameBuilder().Build(snap, &frame)

	assert.Len(t, frame.Materials, 1)
	require.Len(t, frame.Batches, 1)
	assert.Equal(t, uint32(2), frame.Batches[0].InstanceCount)
	assert.Equal(t, m1.ContentHash(), frame.MaterialHashes[0])
}

func TestBuildNilMaterialUsesDefault(t *testing.T) {
	snap := testSnapshot()
	addItem(snap, testMesh("a", 1), nil, mgl32.Vec3{0, 0, 0})

	var frame metadata.PreparedFrame
	NewFrameBuilder().Build(snap, &frame)

	require.Len(t, frame.Materials, 1)
	def := metadata.DefaultMaterialValue()
	assert.Equal(t, def.ContentHash(), frame.MaterialHashes[0])
}

func TestBuildReusesFrameStorage(t *testing.T) {
	snap := testSnapshot()
	mesh := testMesh("a", 1)
	for i := 0; i < 4; i++ {
		addItem(snap, mesh, nil, mgl32.Vec3{float32(i), 0, 0})
	}

	builder := NewFrameBuilder()
	var frame metadata.PreparedFrame
	builder.Build(snap, &frame)
	require.Len(t, frame.Instances, 4)

	// A smaller second snapshot must fully replace the first frame's content.
	snap2 := testSnapshot()
	addItem(snap2, mesh, nil, mgl32.Vec3{0, 0, 0})
	builder.Build(snap2, &frame)

	assert.Len(t, frame.Instances, 1)
	assert.Len(t, frame.Batches, 1)
	assert.Len(t, frame.Materials, 1)
}
