package renderer

import (
	"sort"

	"github.com/crown3d/crown/engine/renderer/metadata"
	"github.com/crown3d/crown/engine/scene"
)

// FrameBuilder turns a scene snapshot into a PreparedFrame: cull, deduplicate
// materials, sort by mesh then material, and cut contiguous draw batches.
// It keeps scratch storage so steady-state frames allocate nothing.
type FrameBuilder struct {
	order      []int
	slots      []int32
	slotByHash map[uint64]int32

	defaultMaterial metadata.MaterialValue
}

func NewFrameBuilder() *FrameBuilder {
	return &FrameBuilder{
		slotByHash:      make(map[uint64]int32),
		defaultMaterial: metadata.DefaultMaterialValue(),
	}
}

// Build fills out from the snapshot. An empty snapshot produces an empty
// frame. Batches are cut so every batch spans one (mesh, material) pair and
// together they partition the instance array.
func (b *FrameBuilder) Build(snap *SceneSnapshot, out *metadata.PreparedFrame) {
	out.Reset()
	b.order = b.order[:0]
	b.slots = b.slots[:0]
	for k := range b.slotByHash {
		delete(b.slotByHash, k)
	}
	if len(snap.Items) == 0 {
		return
	}

	frustum := scene.FrustumFromViewProjection(snap.ViewProjection)

	if cap(b.slots) < len(snap.Items) {
		b.slots = make([]int32, len(snap.Items))
	}
	b.slots = b.slots[:len(snap.Items)]

	for i := range snap.Items {
		item := &snap.Items[i]
		if !frustum.IntersectsSphere(scene.Sphere{Center: item.BoundsCenter, Radius: item.BoundsRadius}) {
			continue
		}
		b.slots[i] = b.materialSlot(item.Material, out)
		b.order = append(b.order, i)
	}
	if len(b.order) == 0 {
		return
	}

	// Sort by mesh first so instances of one mesh stay contiguous across
	// material changes, then by material to minimize rebinds within a mesh.
	sort.SliceStable(b.order, func(x, y int) bool {
		ix, iy := &snap.Items[b.order[x]], &snap.Items[b.order[y]]
		mx, my := meshSortID(ix.Mesh), meshSortID(iy.Mesh)
		if mx != my {
			return mx < my
		}
		return b.slots[b.order[x]] < b.slots[b.order[y]]
	})

	var current *metadata.DrawBatch
	for _, idx := range b.order {
		item := &snap.Items[idx]
		slot := b.slots[idx]

		mat := &out.Materials[slot]
		out.Instances = append(out.Instances, metadata.InstanceRecord{
			World:             item.World,
			Normal:            item.Normal,
			Albedo:            [4]float32{mat.Albedo.X(), mat.Albedo.Y(), mat.Albedo.Z(), mat.Albedo.W()},
			RoughnessMetallic: [2]float32{mat.Roughness, mat.Metallic},
			LightMask:         item.LightMask,
			Flags:             item.Flags,
		})

		if current == nil || current.Mesh != item.Mesh || current.MaterialSlot != slot {
			out.Batches = append(out.Batches, metadata.DrawBatch{
				Mesh:          item.Mesh,
				MaterialSlot:  slot,
				FirstInstance: uint32(len(out.Instances) - 1),
				InstanceCount: 1,
			})
			current = &out.Batches[len(out.Batches)-1]
		} else {
			current.InstanceCount++
		}
	}
}

// materialSlot returns the frame-local slot for the material, appending it on
// first sight. Value-identical materials collapse to one slot via their
// content hash.
func (b *FrameBuilder) materialSlot(m *metadata.MaterialValue, out *metadata.PreparedFrame) int32 {
	if m == nil {
		m = &b.defaultMaterial
	}
	h := m.ContentHash()
	if slot, ok := b.slotByHash[h]; ok {
		return slot
	}
	slot := int32(len(out.Materials))
	out.Materials = append(out.Materials, *m)
	out.MaterialHashes = append(out.MaterialHashes, h)
	b.slotByHash[h] = slot
	return slot
}

// meshSortID is the stable batch sort key for a mesh. Meshes are registered
// with the mesh cache before preparation, so a GPU record with a nonzero ID
// is normally present; unregistered meshes sort first.
func meshSortID(m *metadata.Mesh) uint32 {
	if m.Gpu == nil {
		return 0
	}
	return m.Gpu.ID
}
