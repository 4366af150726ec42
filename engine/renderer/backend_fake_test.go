package renderer

import (
	"fmt"
	"sync"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

// fakeBackend records every call the render pipeline makes so tests can
// assert on pass structure and draw order without a GPU.
type fakeBackend struct {
	mu         sync.Mutex
	nextHandle uint64

	bufferSizes map[metadata.BufferHandle]uint64
	writes      []int

	texturesCreated int
	programs        map[string]metadata.ProgramHandle

	passes []metadata.PassBindings
	draws  []fakeDraw

	// Recorders handed out by the most recent Recorders call.
	lastRecorders []*fakeRecorder

	shadowTargetsOK bool
	failPrograms    bool

	beginFrames int
	endFrames   int

	lastConstants FrameConstants
	lastLights    []metadata.GpuLight
}

type fakeDraw struct {
	programID uint32
	meshID    uint32
	first     uint32
	count     uint32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		bufferSizes:     make(map[metadata.BufferHandle]uint64),
		programs:        make(map[string]metadata.ProgramHandle),
		shadowTargetsOK: true,
	}
}

func (f *fakeBackend) handle() uint64 {
	f.nextHandle++
	return f.nextHandle
}

func (f *fakeBackend) Initialize(appName string, width, height uint32) error { return nil }
func (f *fakeBackend) Shutdown()                                             {}
func (f *fakeBackend) Resized(width, height uint32)                          {}

func (f *fakeBackend) BeginFrame(deltaTime float64) (bool, error) {
	f.beginFrames++
	return true, nil
}

func (f *fakeBackend) EndFrame() error {
	f.endFrames++
	return nil
}

func (f *fakeBackend) CreateVertexBuffer(data []byte) (metadata.BufferHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := metadata.BufferHandle(f.handle())
	f.bufferSizes[h] = uint64(len(data))
	return h, nil
}

func (f *fakeBackend) CreateIndexBuffer(data []byte) (metadata.BufferHandle, error) {
	return f.CreateVertexBuffer(data)
}

func (f *fakeBackend) CreateInstanceBuffer(size uint64) (metadata.BufferHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := metadata.BufferHandle(f.handle())
	f.bufferSizes[h] = size
	return h, nil
}

func (f *fakeBackend) WriteInstanceBuffer(handle metadata.BufferHandle, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size, ok := f.bufferSizes[handle]; !ok {
		return fmt.Errorf("unknown buffer %d", handle)
	} else if uint64(len(data)) > size {
		return fmt.Errorf("write of %d bytes into buffer of %d", len(data), size)
	}
	f.writes = append(f.writes, len(data))
	return nil
}

func (f *fakeBackend) DestroyBuffer(handle metadata.BufferHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bufferSizes, handle)
}

func (f *fakeBackend) CreateTexture(t *metadata.Texture) (metadata.TextureHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texturesCreated++
	return metadata.TextureHandle(f.handle()), nil
}

func (f *fakeBackend) DestroyTexture(handle metadata.TextureHandle) {}

func (f *fakeBackend) CompileProgram(key metadata.ProgramKey) (metadata.ProgramHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPrograms {
		return 0, fmt.Errorf("program compilation unavailable")
	}
	canonical := key.Canonical()
	if h, ok := f.programs[canonical]; ok {
		return h, nil
	}
	h := metadata.ProgramHandle(f.handle())
	f.programs[canonical] = h
	return h, nil
}

func (f *fakeBackend) SetFrameConstants(fc FrameConstants) error {
	f.lastConstants = fc
	return nil
}

func (f *fakeBackend) SetLights(lights []metadata.GpuLight) error {
	f.lastLights = append(f.lastLights[:0], lights...)
	return nil
}

func (f *fakeBackend) BeginPass(bindings metadata.PassBindings) error {
	f.passes = append(f.passes, bindings)
	return nil
}

func (f *fakeBackend) EndPass() error { return nil }

func (f *fakeBackend) Recorders(count int) ([]CommandRecorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRecorders = f.lastRecorders[:0]
	out := make([]CommandRecorder, count)
	for i := range out {
		rec := &fakeRecorder{}
		f.lastRecorders = append(f.lastRecorders, rec)
		out[i] = rec
	}
	return out, nil
}

func (f *fakeBackend) Execute(buffers []CommandBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range buffers {
		chunk, ok := b.([]fakeDraw)
		if !ok {
			return fmt.Errorf("foreign command buffer")
		}
		f.draws = append(f.draws, chunk...)
	}
	return nil
}

func (f *fakeBackend) ShadowTargets(size uint32, cascades uint32) bool {
	return f.shadowTargetsOK
}

func (f *fakeBackend) passCount(kind metadata.PassKind) int {
	n := 0
	for _, p := range f.passes {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

// fakeRecorder captures draws into a private chunk so parallel recording
// needs no locking, mirroring how real recorders own their command buffers.
type fakeRecorder struct {
	bindings metadata.PassBindings

	program uint32
	mesh    *metadata.MeshGpu

	materialBinds int
	meshBinds     int
	chunk         []fakeDraw
}

func (r *fakeRecorder) Begin(bindings metadata.PassBindings) error {
	r.bindings = bindings
	r.program = 0
	r.mesh = nil
	r.chunk = nil
	return nil
}

func (r *fakeRecorder) BindMaterial(state *metadata.MaterialGpuState) {
	r.materialBinds++
	r.program = state.ProgramID
}

func (r *fakeRecorder) BindMesh(gpu *metadata.MeshGpu) {
	r.meshBinds++
	r.mesh = gpu
}

func (r *fakeRecorder) DrawInstanced(firstInstance, instanceCount uint32) {
	var meshID uint32
	if r.mesh != nil {
		meshID = r.mesh.ID
	}
	r.chunk = append(r.chunk, fakeDraw{
		programID: r.program,
		meshID:    meshID,
		first:     firstInstance,
		count:     instanceCount,
	})
}

func (r *fakeRecorder) End() (CommandBuffer, error) {
	return r.chunk, nil
}
