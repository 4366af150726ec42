package vulkan

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"

	"github.com/crown3d/crown/engine/renderer"
	"github.com/crown3d/crown/engine/renderer/metadata"
)

// Push constant block layout shared by every pipeline: the pass
// view-projection followed by the bound material's parameters.
const (
	pushConstantSize     = 128
	pushMaterialOffset   = 64
	pushMaterialDataSize = 48
)

// recorderSlot is one reusable recording context: its own command pool (pools
// must not be shared across goroutines) and one secondary command buffer.
type recorderSlot struct {
	backend *VulkanBackend
	pool    vk.CommandPool
	cb      vk.CommandBuffer

	bindings    metadata.PassBindings
	pass        *Renderpass
	currentMesh *metadata.MeshGpu

	scratch [pushConstantSize]byte
}

func newRecorderSlot(backend *VulkanBackend) (*recorderSlot, error) {
	context := &backend.context

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	slot := &recorderSlot{backend: backend}
	if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &slot.pool); res != vk.Success {
		return nil, fmt.Errorf("recorder command pool: %d", res)
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        slot.pool,
		Level:              vk.CommandBufferLevelSecondary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
		vk.DestroyCommandPool(context.Device.LogicalDevice, slot.pool, context.Allocator)
		return nil, fmt.Errorf("recorder command buffer: %d", res)
	}
	slot.cb = buffers[0]
	return slot, nil
}

func (s *recorderSlot) destroy(context *Context) {
	vk.DestroyCommandPool(context.Device.LogicalDevice, s.pool, context.Allocator)
	s.pool = vk.NullCommandPool
	s.cb = nil
}

// Begin opens the secondary buffer inside the current pass and binds the full
// pass state: viewport, global descriptors, instance stream, pass constants
// and the forced program if the pass has one.
func (s *recorderSlot) Begin(bindings metadata.PassBindings) error {
	backend := s.backend
	context := &backend.context

	s.bindings = bindings
	s.pass = backend.currentPass

	if res := vk.ResetCommandPool(context.Device.LogicalDevice, s.pool, 0); res != vk.Success {
		return fmt.Errorf("reset recorder pool: %d", res)
	}

	inheritance := vk.CommandBufferInheritanceInfo{
		SType:       vk.StructureTypeCommandBufferInheritanceInfo,
		RenderPass:  s.pass.Handle,
		Subpass:     0,
		Framebuffer: backend.currentFramebuffer,
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit |
			vk.CommandBufferUsageRenderPassContinueBit),
		PInheritanceInfo: []vk.CommandBufferInheritanceInfo{inheritance},
	}
	if res := vk.BeginCommandBuffer(s.cb, &beginInfo); res != vk.Success {
		return fmt.Errorf("begin recorder: %d", res)
	}

	extent := backend.currentExtent
	viewport := vk.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := vk.Rect2D{Extent: extent}
	vk.CmdSetViewport(s.cb, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(s.cb, 0, 1, []vk.Rect2D{scissor})

	vk.CmdBindDescriptorSets(s.cb, vk.PipelineBindPointGraphics, backend.pipelineLayout,
		0, 1, []vk.DescriptorSet{backend.globalSets[context.CurrentFrame]}, 0, nil)

	if instance, ok := backend.buffer(bindings.InstanceBuffer); ok {
		vk.CmdBindVertexBuffers(s.cb, 1, 1, []vk.Buffer{instance.Handle}, []vk.DeviceSize{0})
	}

	s.pushViewProj(bindings.ViewProj)

	if bindings.Program.Valid() {
		program, ok := backend.program(bindings.Program)
		if !ok {
			return fmt.Errorf("unknown program handle %d", bindings.Program)
		}
		pipe, err := program.pipeline(context, backend.pipelineLayout, s.pass, false)
		if err != nil {
			return err
		}
		vk.CmdBindPipeline(s.cb, vk.PipelineBindPointGraphics, pipe)
	}
	return nil
}

// BindMaterial binds the material's pipeline, descriptor set and parameter
// block. Ignored when the pass forces a program.
func (s *recorderSlot) BindMaterial(state *metadata.MaterialGpuState) {
	if s.bindings.Program.Valid() {
		return
	}
	backend := s.backend

	program, ok := backend.program(state.Program)
	if !ok {
		return
	}
	pipe, err := program.pipeline(&backend.context, backend.pipelineLayout, s.pass, state.Blended)
	if err != nil {
		return
	}
	vk.CmdBindPipeline(s.cb, vk.PipelineBindPointGraphics, pipe)

	if set, err := backend.materialSet(state); err == nil {
		vk.CmdBindDescriptorSets(s.cb, vk.PipelineBindPointGraphics, backend.pipelineLayout,
			1, 1, []vk.DescriptorSet{set}, 0, nil)
	}

	s.pushMaterial(&state.Params)
}

// BindMesh binds the mesh's vertex stream (binding 0) and index buffer.
func (s *recorderSlot) BindMesh(gpu *metadata.MeshGpu) {
	backend := s.backend
	if vb, ok := backend.buffer(gpu.VertexBuffer); ok {
		vk.CmdBindVertexBuffers(s.cb, 0, 1, []vk.Buffer{vb.Handle}, []vk.DeviceSize{0})
	}
	if gpu.Indexed() {
		if ib, ok := backend.buffer(gpu.IndexBuffer); ok {
			vk.CmdBindIndexBuffer(s.cb, ib.Handle, 0, vk.IndexTypeUint16)
		}
	}
	s.currentMesh = gpu
}

// DrawInstanced issues one instanced draw against the bound mesh.
func (s *recorderSlot) DrawInstanced(firstInstance, instanceCount uint32) {
	gpu := s.currentMesh
	if gpu == nil {
		return
	}
	if gpu.Indexed() {
		vk.CmdDrawIndexed(s.cb, gpu.IndexCount, instanceCount, 0, 0, firstInstance)
	} else {
		vk.CmdDraw(s.cb, gpu.VertexCount, instanceCount, 0, firstInstance)
	}
}

// End closes the secondary buffer and returns it for replay.
func (s *recorderSlot) End() (renderer.CommandBuffer, error) {
	if res := vk.EndCommandBuffer(s.cb); res != vk.Success {
		return nil, fmt.Errorf("end recorder: %d", res)
	}
	return s.cb, nil
}

func (s *recorderSlot) pushViewProj(m mgl32.Mat4) {
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(s.scratch[i*4:], math.Float32bits(m[i]))
	}
	vk.CmdPushConstants(s.cb, s.backend.pipelineLayout,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit),
		0, pushMaterialOffset, unsafe.Pointer(&s.scratch[0]))
}

func (s *recorderSlot) pushMaterial(params *metadata.MaterialParams) {
	buf := s.scratch[pushMaterialOffset:]
	i := 0
	put := func(v float32) {
		binary.LittleEndian.PutUint32(buf[i:], math.Float32bits(v))
		i += 4
	}
	for _, v := range params.Albedo {
		put(v)
	}
	for _, v := range params.Emissive {
		put(v)
	}
	put(params.Roughness)
	put(params.Metallic)
	_ = i

	vk.CmdPushConstants(s.cb, s.backend.pipelineLayout,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit),
		pushMaterialOffset, pushMaterialDataSize, unsafe.Pointer(&buf[0]))
}

var _ renderer.CommandRecorder = (*recorderSlot)(nil)
