package metadata

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Per-instance flag bits, mirrored by the shaders.
const (
	InstanceFlagReceivesShadows uint32 = 1 << 0
	InstanceFlagCastsShadows    uint32 = 1 << 1
)

// InstanceRecord is the GPU-visible per-instance record: world matrix,
// normal (inverse-transpose) matrix, packed material scalars and masks.
// Written in bulk once per frame.
type InstanceRecord struct {
	World             mgl32.Mat4
	Normal            mgl32.Mat4
	Albedo            [4]float32
	RoughnessMetallic [2]float32
	LightMask         uint32
	Flags             uint32
}

// InstanceRecordStride is the packed byte size of one InstanceRecord.
const InstanceRecordStride = 16*4 + 16*4 + 4*4 + 2*4 + 4 + 4

// AppendPacked serializes the record little-endian into dst, matching the
// per-instance vertex input layout.
func (r *InstanceRecord) AppendPacked(dst []byte) []byte {
	for i := 0; i < 16; i++ {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(r.World[i]))
	}
	for i := 0; i < 16; i++ {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(r.Normal[i]))
	}
	for _, v := range r.Albedo {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	for _, v := range r.RoughnessMetallic {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	dst = binary.LittleEndian.AppendUint32(dst, r.LightMask)
	dst = binary.LittleEndian.AppendUint32(dst, r.Flags)
	return dst
}

// PackInstances serializes a full instance array, reusing scratch when it
// has the capacity.
func PackInstances(records []InstanceRecord, scratch []byte) []byte {
	out := scratch[:0]
	for i := range records {
		out = records[i].AppendPacked(out)
	}
	return out
}

// DrawBatch is a contiguous range of instances sharing one (mesh, material)
// pair, submitted as a single draw call. MaterialSlot indexes the owning
// frame's Materials array; it is -1 for depth-only batches (shadow passes
// batch by mesh alone).
type DrawBatch struct {
	Mesh          *Mesh
	MaterialSlot  int32
	FirstInstance uint32
	InstanceCount uint32
}

// PreparedFrame owns everything the submission stage needs for one frame:
// the instance array, the batch list partitioning it, and the distinct
// materials referenced this frame with their content hashes. Batches
// partition Instances with no gaps or overlaps; every MaterialSlot >= 0 is a
// valid index into Materials.
type PreparedFrame struct {
	Instances      []InstanceRecord
	Batches        []DrawBatch
	Materials      []MaterialValue
	MaterialHashes []uint64
}

// Reset clears the frame for reuse without releasing capacity.
func (f *PreparedFrame) Reset() {
	f.Instances = f.Instances[:0]
	f.Batches = f.Batches[:0]
	f.Materials = f.Materials[:0]
	f.MaterialHashes = f.MaterialHashes[:0]
}

// Empty reports whether the frame contains nothing to draw.
func (f *PreparedFrame) Empty() bool {
	return len(f.Instances) == 0 || len(f.Batches) == 0
}

// CascadeDescriptor is one slice of the directional shadow map: its
// light-space view-projection, the far split depth in normalized device
// depth, and the caster instances/batches rendered into it.
type CascadeDescriptor struct {
	ViewProj  mgl32.Mat4
	SplitNdc  float32
	Instances []InstanceRecord
	Batches   []DrawBatch
}

// MaxGpuLights is the size of the light constant array.
const MaxGpuLights = 16

type LightType uint32

const (
	LightTypeDirectional LightType = iota
	LightTypePoint
	LightTypeSpot
)

// GpuLight is the per-light record uploaded to the light constant buffer.
type GpuLight struct {
	Type      LightType
	GroupMask uint32
	Color     [3]float32
	Intensity float32
	Direction [3]float32
	Range     float32
	Position  [3]float32
	InnerCos  float32
	OuterCos  float32
}

// PassKind names the fixed, hand-sequenced passes of a frame.
type PassKind uint8

const (
	PassShadow PassKind = iota
	PassDepthPrepass
	PassGeometry
	PassSSAO
	PassTonemap
)

func (p PassKind) String() string {
	switch p {
	case PassShadow:
		return "shadow"
	case PassDepthPrepass:
		return "depth-prepass"
	case PassGeometry:
		return "geometry"
	case PassSSAO:
		return "ssao"
	case PassTonemap:
		return "tonemap"
	}
	return "unknown"
}

// PassBindings is the full pipeline state a recording context must rebind
// before recording draws; contexts never inherit state from the submission
// stream.
type PassBindings struct {
	Kind PassKind
	// Cascade slice for shadow passes, -1 otherwise.
	CascadeIndex int32
	// View-projection the pass renders with; for shadow passes this is the
	// cascade's light-space matrix.
	ViewProj mgl32.Mat4
	// Program forced for the whole pass (depth-only passes); 0 lets the
	// per-batch material select it.
	Program ProgramHandle
	// Instance buffer every draw in the pass sources per-instance data
	// from.
	InstanceBuffer BufferHandle
}

// Texture is a CPU-side description of a texture plus its GPU residency.
type Texture struct {
	Name     string
	Path     string
	Width    uint32
	Height   uint32
	Channels uint32
	Pixels   []byte
	Handle   TextureHandle
}
