package renderer

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

// FrameConstants is the per-frame constant block uploaded once before the
// geometry passes.
type FrameConstants struct {
	View           mgl32.Mat4
	Projection     mgl32.Mat4
	ViewProjection mgl32.Mat4
	// Light-space matrices of the shadow cascades; identity in unused
	// slots.
	CascadeViewProj [3]mgl32.Mat4
	CameraPosition  mgl32.Vec3
	Exposure        float32
	Time            float32
	// Far split depth of each shadow cascade in normalized device depth.
	CascadeSplitsNdc [4]float32
	LightCount       uint32
	ShadowBias       float32
	// 0 disables shadow sampling for the frame.
	ShadowStrength float32
	// PCF kernel radius in shadow texels; 0 = hard single-tap shadows.
	ShadowSoftness float32
}

// CommandBuffer is an opaque recorded command stream owned by the backend.
// Recorded buffers are valid until the end of the frame they were recorded
// in.
type CommandBuffer interface{}

// CommandRecorder records draws for one pass. Recorders carry no state from
// previous passes or other recorders; Begin rebinds everything.
type CommandRecorder interface {
	// Begin opens the recorder for the pass and binds the full pass state.
	Begin(bindings metadata.PassBindings) error
	// BindMaterial binds a material's program, parameters and textures.
	// Ignored when the pass forces a program.
	BindMaterial(state *metadata.MaterialGpuState)
	// BindMesh binds the mesh's vertex and index buffers.
	BindMesh(gpu *metadata.MeshGpu)
	// DrawInstanced issues one instanced draw against the bound mesh.
	DrawInstanced(firstInstance, instanceCount uint32)
	// End closes the recorder and returns the recorded buffer.
	End() (CommandBuffer, error)
}

// Backend is the device abstraction the render system drives. Exactly one
// goroutine calls the frame/pass methods; resource creation may come from the
// prep worker and must be safe to call concurrently with recording.
type Backend interface {
	Initialize(appName string, width, height uint32) error
	Shutdown()
	Resized(width, height uint32)

	// BeginFrame returns false (with nil error) when the frame cannot start,
	// for example while the swapchain is rebuilding; the caller skips the
	// frame.
	BeginFrame(deltaTime float64) (bool, error)
	EndFrame() error

	CreateVertexBuffer(data []byte) (metadata.BufferHandle, error)
	CreateIndexBuffer(data []byte) (metadata.BufferHandle, error)
	// CreateInstanceBuffer allocates a CPU-writable per-instance buffer of
	// the given byte size.
	CreateInstanceBuffer(size uint64) (metadata.BufferHandle, error)
	WriteInstanceBuffer(handle metadata.BufferHandle, data []byte) error
	DestroyBuffer(handle metadata.BufferHandle)

	CreateTexture(t *metadata.Texture) (metadata.TextureHandle, error)
	DestroyTexture(handle metadata.TextureHandle)

	CompileProgram(key metadata.ProgramKey) (metadata.ProgramHandle, error)

	// SetFrameConstants and SetLights upload the per-frame constant data.
	SetFrameConstants(fc FrameConstants) error
	SetLights(lights []metadata.GpuLight) error

	// BeginPass/EndPass bracket one pass; recorded command buffers execute
	// inside the bracket in the order given.
	BeginPass(bindings metadata.PassBindings) error
	EndPass() error

	// Recorders returns up to count recorders usable concurrently within the
	// current pass. The backend may return fewer.
	Recorders(count int) ([]CommandRecorder, error)
	// Execute replays recorded buffers into the current pass in slice order.
	Execute(buffers []CommandBuffer) error

	// ShadowTargets (re)allocates the cascade shadow map array. Returns false
	// when shadow resources are unavailable.
	ShadowTargets(size uint32, cascades uint32) bool
}
