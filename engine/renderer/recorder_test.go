package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

func geometryBindings(buffer metadata.BufferHandle) metadata.PassBindings {
	return metadata.PassBindings{
		Kind:           metadata.PassGeometry,
		CascadeIndex:   -1,
		InstanceBuffer: buffer,
	}
}

// drawBatches builds n batches cycling through the given meshes and material
// slots, with FirstInstance laid out contiguously.
func drawBatches(n int, meshes []*metadata.Mesh, slots []int32) []metadata.DrawBatch {
	out := make([]metadata.DrawBatch, n)
	first := uint32(0)
	for i := range out {
		out[i] = metadata.DrawBatch{
			Mesh:          meshes[i%len(meshes)],
			MaterialSlot:  slots[i%len(slots)],
			FirstInstance: first,
			InstanceCount: uint32(i%3 + 1),
		}
		first += out[i].InstanceCount
	}
	return out
}

func TestRecordPassPreservesDrawOrder(t *testing.T) {
	backend := newFakeBackend()
	pool := NewRecordingPool(1)
	defer pool.Stop()

	meshes := []*metadata.Mesh{testMesh("a", 1), testMesh("b", 2)}
	materials := []*metadata.MaterialGpuState{
		{ProgramID: 1},
		{ProgramID: 2},
	}
	batches := drawBatches(6, meshes, []int32{0, 1})

	require.NoError(t, pool.RecordPass(backend, geometryBindings(1), batches, materials))

	require.Len(t, backend.draws, 6)
	for i, d := range backend.draws {
		assert.Equal(t, batches[i].FirstInstance, d.first)
		assert.Equal(t, batches[i].InstanceCount, d.count)
		assert.Equal(t, meshes[i%2].Gpu.ID, d.meshID)
	}
	assert.Equal(t, 1, backend.passCount(metadata.PassGeometry))
}

func TestParallelRecordingMatchesSequential(t *testing.T) {
	meshes := []*metadata.Mesh{testMesh("a", 1), testMesh("b", 2), testMesh("c", 3)}
	materials := []*metadata.MaterialGpuState{
		{ProgramID: 1},
		{ProgramID: 2},
		{ProgramID: 3},
	}
	batches := drawBatches(11, meshes, []int32{0, 1, 2})

	sequential := newFakeBackend()
	seqPool := NewRecordingPool(1)
	require.NoError(t, seqPool.RecordPass(sequential, geometryBindings(1), batches, materials))
	seqPool.Stop()

	parallel := newFakeBackend()
	parPool := NewRecordingPool(4)
	require.NoError(t, parPool.RecordPass(parallel, geometryBindings(1), batches, materials))
	parPool.Stop()

	assert.Equal(t, sequential.draws, parallel.draws)
}

func TestRecordSkipsRedundantMaterialBinds(t *testing.T) {
	backend := newFakeBackend()
	pool := NewRecordingPool(1)
	defer pool.Stop()

	mesh := testMesh("a", 1)
	materials := []*metadata.MaterialGpuState{
		{ProgramID: 1},
		{ProgramID: 1},
	}
	batches := []metadata.DrawBatch{
		{Mesh: mesh, MaterialSlot: 0, FirstInstance: 0, InstanceCount: 1},
		{Mesh: mesh, MaterialSlot: 0, FirstInstance: 1, InstanceCount: 1},
		// Same program but a different slot still rebinds: the parameter
		// block differs even when the pipeline does not.
		{Mesh: mesh, MaterialSlot: 1, FirstInstance: 2, InstanceCount: 1},
		{Mesh: mesh, MaterialSlot: 1, FirstInstance: 3, InstanceCount: 1},
	}

	require.NoError(t, pool.RecordPass(backend, geometryBindings(1), batches, materials))

	require.Len(t, backend.lastRecorders, 1)
	rec := backend.lastRecorders[0]
	assert.Equal(t, 2, rec.materialBinds)
	assert.Equal(t, 1, rec.meshBinds)
	assert.Len(t, backend.draws, 4)
}

func TestDepthOnlyPassNeverBindsMaterials(t *testing.T) {
	backend := newFakeBackend()
	pool := NewRecordingPool(2)
	defer pool.Stop()

	mesh := testMesh("caster", 1)
	batches := []metadata.DrawBatch{
		{Mesh: mesh, MaterialSlot: -1, FirstInstance: 0, InstanceCount: 2},
		{Mesh: mesh, MaterialSlot: -1, FirstInstance: 2, InstanceCount: 1},
	}
	bindings := metadata.PassBindings{
		Kind:           metadata.PassShadow,
		CascadeIndex:   0,
		Program:        metadata.ProgramHandle(7),
		InstanceBuffer: 1,
	}

	require.NoError(t, pool.RecordPass(backend, bindings, batches, nil))

	for _, rec := range backend.lastRecorders {
		assert.Zero(t, rec.materialBinds)
	}
	assert.Len(t, backend.draws, 3)
}

func TestRecordPassEmptyStillBracketsPass(t *testing.T) {
	backend := newFakeBackend()
	pool := NewRecordingPool(4)
	defer pool.Stop()

	require.NoError(t, pool.RecordPass(backend, geometryBindings(1), nil, nil))
	assert.Empty(t, backend.draws)
	assert.Equal(t, 1, backend.passCount(metadata.PassGeometry))
}

func TestRecordingPoolClampsWorkerCount(t *testing.T) {
	p := NewRecordingPool(64)
	assert.Equal(t, MaxRecordingContexts, p.workers)
	p.Stop()

	p = NewRecordingPool(0)
	assert.Equal(t, 1, p.workers)
	p.Stop()
}
