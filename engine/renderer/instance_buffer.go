package renderer

import (
	"github.com/crown3d/crown/engine/core"
	"github.com/crown3d/crown/engine/renderer/metadata"
)

// Baseline instance buffer capacity, in instances.
const instanceBufferBaseline = 1024

// InstanceBufferManager owns the per-instance GPU buffer. The buffer starts
// at the baseline capacity, doubles whenever a frame needs more, and never
// shrinks. All instance data for a frame, geometry and shadow casters alike,
// goes into the buffer with a single write.
type InstanceBufferManager struct {
	backend Backend

	handle   metadata.BufferHandle
	capacity uint32

	packed []byte
}

func NewInstanceBufferManager(backend Backend) *InstanceBufferManager {
	return &InstanceBufferManager{backend: backend}
}

// Handle returns the current buffer, which may change between frames as the
// buffer grows.
func (m *InstanceBufferManager) Handle() metadata.BufferHandle {
	return m.handle
}

// Capacity returns the current capacity in instances.
func (m *InstanceBufferManager) Capacity() uint32 {
	return m.capacity
}

// Upload writes the frame's geometry instances followed by each cascade's
// caster instances as one buffer write, and rebases the cascade batch ranges
// onto the combined array. Call once per frame; the rebase is destructive.
func (m *InstanceBufferManager) Upload(frame *metadata.PreparedFrame, shadow *ShadowFrame) (metadata.BufferHandle, error) {
	total := uint32(len(frame.Instances))
	for i := range shadow.Cascades {
		total += uint32(len(shadow.Cascades[i].Instances))
	}
	if total == 0 {
		return m.handle, nil
	}

	if err := m.ensureCapacity(total); err != nil {
		return 0, err
	}

	m.packed = metadata.PackInstances(frame.Instances, m.packed)
	base := uint32(len(frame.Instances))
	for ci := range shadow.Cascades {
		c := &shadow.Cascades[ci]
		for i := range c.Instances {
			m.packed = c.Instances[i].AppendPacked(m.packed)
		}
		for bi := range c.Batches {
			c.Batches[bi].FirstInstance += base
		}
		base += uint32(len(c.Instances))
	}

	if err := m.backend.WriteInstanceBuffer(m.handle, m.packed); err != nil {
		return 0, err
	}
	return m.handle, nil
}

func (m *InstanceBufferManager) ensureCapacity(instances uint32) error {
	if m.handle.Valid() && instances <= m.capacity {
		return nil
	}

	newCap := m.capacity
	if newCap < instanceBufferBaseline {
		newCap = instanceBufferBaseline
	}
	for newCap < instances {
		newCap *= 2
	}

	handle, err := m.backend.CreateInstanceBuffer(uint64(newCap) * metadata.InstanceRecordStride)
	if err != nil {
		return err
	}
	if m.handle.Valid() {
		m.backend.DestroyBuffer(m.handle)
		core.LogDebug("Instance buffer grown to %d instances.", newCap)
	}
	m.handle = handle
	m.capacity = newCap
	return nil
}

// Invalidate drops the GPU buffer after device loss. The next Upload
// recreates it.
func (m *InstanceBufferManager) Invalidate() {
	m.handle = 0
	m.capacity = 0
}

// Release destroys the buffer during shutdown.
func (m *InstanceBufferManager) Release() {
	if m.handle.Valid() {
		m.backend.DestroyBuffer(m.handle)
	}
	m.Invalidate()
}
