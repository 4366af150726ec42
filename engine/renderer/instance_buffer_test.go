package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

func frameWithInstances(n int) *metadata.PreparedFrame {
	f := &metadata.PreparedFrame{}
	f.Instances = make([]metadata.InstanceRecord, n)
	if n > 0 {
		f.Batches = append(f.Batches, metadata.DrawBatch{InstanceCount: uint32(n)})
	}
	return f
}

func TestUploadAllocatesBaselineCapacity(t *testing.T) {
	backend := newFakeBackend()
	m := NewInstanceBufferManager(backend)

	var shadow ShadowFrame
	handle, err := m.Upload(frameWithInstances(3), &shadow)
	require.NoError(t, err)
	assert.True(t, handle.Valid())
	assert.Equal(t, uint32(instanceBufferBaseline), m.Capacity())

	require.Len(t, backend.writes, 1)
	assert.Equal(t, 3*metadata.InstanceRecordStride, backend.writes[0])
}

func TestUploadGrowsByDoublingAndNeverShrinks(t *testing.T) {
	backend := newFakeBackend()
	m := NewInstanceBufferManager(backend)

	var shadow ShadowFrame
	_, err := m.Upload(frameWithInstances(1500), &shadow)
	require.NoError(t, err)
	assert.Equal(t, uint32(2048), m.Capacity())

	_, err = m.Upload(frameWithInstances(5000), &shadow)
	require.NoError(t, err)
	assert.Equal(t, uint32(8192), m.Capacity())
	// The outgrown buffers were destroyed.
	assert.Len(t, backend.bufferSizes, 1)

	handle, err := m.Upload(frameWithInstances(2), &shadow)
	require.NoError(t, err)
	assert.Equal(t, uint32(8192), m.Capacity())
	assert.Equal(t, m.Handle(), handle)
}

func TestUploadEmptyFrameWritesNothing(t *testing.T) {
	backend := newFakeBackend()
	m := NewInstanceBufferManager(backend)

	var shadow ShadowFrame
	handle, err := m.Upload(frameWithInstances(0), &shadow)
	require.NoError(t, err)
	assert.False(t, handle.Valid())
	assert.Empty(t, backend.writes)
}

func TestUploadRebasesCascadeBatches(t *testing.T) {
	backend := newFakeBackend()
	m := NewInstanceBufferManager(backend)

	frame := frameWithInstances(2)
	shadow := ShadowFrame{
		Cascades: []metadata.CascadeDescriptor{
			{
				Instances: make([]metadata.InstanceRecord, 3),
				Batches: []metadata.DrawBatch{
					{MaterialSlot: -1, FirstInstance: 0, InstanceCount: 2},
					{MaterialSlot: -1, FirstInstance: 2, InstanceCount: 1},
				},
			},
			{
				Instances: make([]metadata.InstanceRecord, 1),
				Batches: []metadata.DrawBatch{
					{MaterialSlot: -1, FirstInstance: 0, InstanceCount: 1},
				},
			},
		},
	}

	_, err := m.Upload(frame, &shadow)
	require.NoError(t, err)

	// Geometry instances occupy [0,2); cascade 0 shifts by 2, cascade 1 by 5.
	assert.Equal(t, uint32(2), shadow.Cascades[0].Batches[0].FirstInstance)
	assert.Equal(t, uint32(4), shadow.Cascades[0].Batches[1].FirstInstance)
	assert.Equal(t, uint32(5), shadow.Cascades[1].Batches[0].FirstInstance)

	// One combined write covering all six instances.
	require.Len(t, backend.writes, 1)
	assert.Equal(t, 6*metadata.InstanceRecordStride, backend.writes[0])
}

func TestInvalidateForcesRecreation(t *testing.T) {
	backend := newFakeBackend()
	m := NewInstanceBufferManager(backend)

	var shadow ShadowFrame
	first, err := m.Upload(frameWithInstances(1), &shadow)
	require.NoError(t, err)

	m.Invalidate()
	assert.False(t, m.Handle().Valid())

	second, err := m.Upload(frameWithInstances(1), &shadow)
	require.NoError(t, err)
	assert.True(t, second.Valid())
	assert.NotEqual(t, first, second)
}
