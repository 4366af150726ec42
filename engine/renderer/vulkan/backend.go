package vulkan

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/crown3d/crown/engine/core"
	"github.com/crown3d/crown/engine/renderer"
	"github.com/crown3d/crown/engine/renderer/metadata"
)

// SurfaceProvider abstracts the windowing layer the backend renders into.
type SurfaceProvider interface {
	CreateSurface(instance vk.Instance) (vk.Surface, error)
	FramebufferSize() (uint32, uint32)
	RequiredExtensions() []string
}

const (
	frameConstantsSize = 512
	lightBufferSize    = 16 + metadata.MaxGpuLights*64
)

// VulkanBackend implements the renderer backend on Vulkan. Passes replay
// secondary command buffers recorded by the recorder slots into one primary
// command buffer per swapchain image.
type VulkanBackend struct {
	context Context
	surface SurfaceProvider
	name    string
	id      string

	mu         sync.RWMutex
	nextHandle uint64
	buffers    map[metadata.BufferHandle]*Buffer
	textures   map[metadata.TextureHandle]*Image
	programs   map[metadata.ProgramHandle]*Program

	mainClearPass *Renderpass
	mainLoadPass  *Renderpass
	shadowPass    *Renderpass

	globalSetLayout   vk.DescriptorSetLayout
	materialSetLayout vk.DescriptorSetLayout
	descriptorPool    vk.DescriptorPool
	pipelineLayout    vk.PipelineLayout
	globalSets        []vk.DescriptorSet
	frameUBOs         []*Buffer
	lightUBOs         []*Buffer

	matSetMu     sync.Mutex
	materialSets map[uint64]vk.DescriptorSet

	shadowMap          *Image
	shadowLayerViews   []vk.ImageView
	shadowFramebuffers []vk.Framebuffer
	shadowSize         uint32
	shadowLayers       uint32

	recorders []*recorderSlot

	currentPass        *Renderpass
	currentFramebuffer vk.Framebuffer
	currentExtent      vk.Extent2D
	mainPassCleared    bool

	scratch []byte
}

var _ renderer.Backend = (*VulkanBackend)(nil)

func New(surface SurfaceProvider) *VulkanBackend {
	return &VulkanBackend{
		surface:      surface,
		id:           uuid.NewString(),
		buffers:      make(map[metadata.BufferHandle]*Buffer),
		textures:     make(map[metadata.TextureHandle]*Image),
		programs:     make(map[metadata.ProgramHandle]*Program),
		materialSets: make(map[uint64]vk.DescriptorSet),
	}
}

func (b *VulkanBackend) Initialize(appName string, width, height uint32) error {
	b.name = appName
	b.context.FramebufferWidth = width
	b.context.FramebufferHeight = height
	b.context.Device = &Device{GraphicsQueueIndex: -1, PresentQueueIndex: -1}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   appName + "\x00",
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "Crown\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 2, 0),
	}
	extensions := safeStrings(append([]string{"VK_KHR_surface"}, b.surface.RequiredExtensions()...))
	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}
	if res := vk.CreateInstance(&createInfo, b.context.Allocator, &b.context.Instance); res != vk.Success {
		return fmt.Errorf("vkCreateInstance failed: %d", res)
	}
	if err := vk.InitInstance(b.context.Instance); err != nil {
		return fmt.Errorf("instance function loading failed: %w", err)
	}

	surface, err := b.surface.CreateSurface(b.context.Instance)
	if err != nil {
		return fmt.Errorf("surface creation failed: %w", err)
	}
	b.context.Surface = surface

	if err := deviceCreate(&b.context); err != nil {
		return err
	}

	sc, err := swapchainCreate(&b.context, width, height)
	if err != nil {
		return err
	}
	b.context.Swapchain = sc

	if b.mainClearPass, err = renderpassCreateMain(&b.context, true); err != nil {
		return err
	}
	if b.mainLoadPass, err = renderpassCreateMain(&b.context, false); err != nil {
		return err
	}
	if b.shadowPass, err = renderpassCreateShadow(&b.context); err != nil {
		return err
	}
	b.context.MainRenderpass = b.mainClearPass
	b.context.ShadowRenderpass = b.shadowPass

	if err := b.createSwapchainFramebuffers(); err != nil {
		return err
	}
	if err := b.createCommandBuffers(); err != nil {
		return err
	}
	if err := b.createSyncObjects(); err != nil {
		return err
	}
	if err := b.createDescriptorResources(); err != nil {
		return err
	}

	core.LogInfo("Vulkan backend initialized (%s).", b.id)
	return nil
}

func (b *VulkanBackend) createSwapchainFramebuffers() error {
	sc := b.context.Swapchain
	sc.Framebuffers = make([]vk.Framebuffer, sc.ImageCount)
	for i := uint32(0); i < sc.ImageCount; i++ {
		fb, err := framebufferCreate(&b.context, b.mainClearPass, sc.Extent.Width, sc.Extent.Height,
			[]vk.ImageView{sc.Views[i], sc.DepthAttachment.View})
		if err != nil {
			return err
		}
		sc.Framebuffers[i] = fb
	}
	return nil
}

func (b *VulkanBackend) createCommandBuffers() error {
	if len(b.context.GraphicsCommandBuffers) > 0 {
		vk.FreeCommandBuffers(b.context.Device.LogicalDevice, b.context.Device.GraphicsCommandPool,
			uint32(len(b.context.GraphicsCommandBuffers)), b.context.GraphicsCommandBuffers)
	}
	count := b.context.Swapchain.ImageCount
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.context.Device.GraphicsCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	}
	b.context.GraphicsCommandBuffers = make([]vk.CommandBuffer, count)
	if res := vk.AllocateCommandBuffers(b.context.Device.LogicalDevice, &allocateInfo, b.context.GraphicsCommandBuffers); res != vk.Success {
		return fmt.Errorf("failed to allocate primary command buffers: %d", res)
	}
	return nil
}

func (b *VulkanBackend) createSyncObjects() error {
	frames := int(b.context.Swapchain.MaxFramesInFlight)
	b.context.ImageAvailableSemaphores = make([]vk.Semaphore, frames)
	b.context.QueueCompleteSemaphores = make([]vk.Semaphore, frames)
	b.context.InFlightFences = make([]vk.Fence, frames)

	semaphoreInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	device := b.context.Device.LogicalDevice
	for i := 0; i < frames; i++ {
		if res := vk.CreateSemaphore(device, &semaphoreInfo, b.context.Allocator, &b.context.ImageAvailableSemaphores[i]); res != vk.Success {
			return fmt.Errorf("semaphore creation failed: %d", res)
		}
		if res := vk.CreateSemaphore(device, &semaphoreInfo, b.context.Allocator, &b.context.QueueCompleteSemaphores[i]); res != vk.Success {
			return fmt.Errorf("semaphore creation failed: %d", res)
		}
		if res := vk.CreateFence(device, &fenceInfo, b.context.Allocator, &b.context.InFlightFences[i]); res != vk.Success {
			return fmt.Errorf("fence creation failed: %d", res)
		}
	}
	return nil
}

func (b *VulkanBackend) createDescriptorResources() error {
	device := b.context.Device.LogicalDevice

	globalBindings := []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1,
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)},
		{Binding: 1, DescriptorType: vk.DescriptorTypeUniformBuffer, DescriptorCount: 1,
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
		{Binding: 2, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1,
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageFragmentBit)},
	}
	globalInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(globalBindings)),
		PBindings:    globalBindings,
	}
	if res := vk.CreateDescriptorSetLayout(device, &globalInfo, b.context.Allocator, &b.globalSetLayout); res != vk.Success {
		return fmt.Errorf("global descriptor layout failed: %d", res)
	}

	materialBindings := make([]vk.DescriptorSetLayoutBinding, 4)
	for i := range materialBindings {
		materialBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		}
	}
	materialInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(materialBindings)),
		PBindings:    materialBindings,
	}
	if res := vk.CreateDescriptorSetLayout(device, &materialInfo, b.context.Allocator, &b.materialSetLayout); res != vk.Success {
		return fmt.Errorf("material descriptor layout failed: %d", res)
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 64},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 4096},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1024,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(device, &poolInfo, b.context.Allocator, &b.descriptorPool); res != vk.Success {
		return fmt.Errorf("descriptor pool failed: %d", res)
	}

	pushRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		Offset:     0,
		Size:       pushConstantSize,
	}
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         2,
		PSetLayouts:            []vk.DescriptorSetLayout{b.globalSetLayout, b.materialSetLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushRange},
	}
	if res := vk.CreatePipelineLayout(device, &layoutInfo, b.context.Allocator, &b.pipelineLayout); res != vk.Success {
		return fmt.Errorf("pipeline layout failed: %d", res)
	}

	frames := int(b.context.Swapchain.MaxFramesInFlight)
	b.frameUBOs = make([]*Buffer, frames)
	b.lightUBOs = make([]*Buffer, frames)
	b.globalSets = make([]vk.DescriptorSet, frames)
	for i := 0; i < frames; i++ {
		ubo, err := bufferCreate(&b.context, frameConstantsSize,
			vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			return err
		}
		b.frameUBOs[i] = ubo

		lights, err := bufferCreate(&b.context, lightBufferSize,
			vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			return err
		}
		b.lightUBOs[i] = lights

		allocateInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     b.descriptorPool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{b.globalSetLayout},
		}
		sets := make([]vk.DescriptorSet, 1)
		if res := vk.AllocateDescriptorSets(device, &allocateInfo, &sets[0]); res != vk.Success {
			return fmt.Errorf("global descriptor set failed: %d", res)
		}
		b.globalSets[i] = sets[0]

		writes := []vk.WriteDescriptorSet{
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sets[0],
				DstBinding:      0,
				DescriptorCount: 1,
				DescriptorType:  vk.DescriptorTypeUniformBuffer,
				PBufferInfo:     []vk.DescriptorBufferInfo{{Buffer: ubo.Handle, Range: frameConstantsSize}},
			},
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sets[0],
				DstBinding:      1,
				DescriptorCount: 1,
				DescriptorType:  vk.DescriptorTypeUniformBuffer,
				PBufferInfo:     []vk.DescriptorBufferInfo{{Buffer: lights.Handle, Range: lightBufferSize}},
			},
		}
		vk.UpdateDescriptorSets(device, uint32(len(writes)), writes, 0, nil)
	}
	return nil
}

func (b *VulkanBackend) Shutdown() {
	device := b.context.Device.LogicalDevice
	vk.DeviceWaitIdle(device)

	for _, slot := range b.recorders {
		slot.destroy(&b.context)
	}
	b.recorders = nil

	b.destroyShadowTargets()

	for _, buf := range b.buffers {
		buf.destroy(&b.context)
	}
	b.buffers = make(map[metadata.BufferHandle]*Buffer)
	for _, img := range b.textures {
		img.destroy(&b.context)
	}
	b.textures = make(map[metadata.TextureHandle]*Image)
	for _, prog := range b.programs {
		prog.destroy(&b.context)
	}
	b.programs = make(map[metadata.ProgramHandle]*Program)

	for _, ubo := range b.frameUBOs {
		ubo.destroy(&b.context)
	}
	for _, ubo := range b.lightUBOs {
		ubo.destroy(&b.context)
	}

	vk.DestroyPipelineLayout(device, b.pipelineLayout, b.context.Allocator)
	vk.DestroyDescriptorPool(device, b.descriptorPool, b.context.Allocator)
	vk.DestroyDescriptorSetLayout(device, b.globalSetLayout, b.context.Allocator)
	vk.DestroyDescriptorSetLayout(device, b.materialSetLayout, b.context.Allocator)

	for i := range b.context.ImageAvailableSemaphores {
		vk.DestroySemaphore(device, b.context.ImageAvailableSemaphores[i], b.context.Allocator)
		vk.DestroySemaphore(device, b.context.QueueCompleteSemaphores[i], b.context.Allocator)
		vk.DestroyFence(device, b.context.InFlightFences[i], b.context.Allocator)
	}

	b.mainClearPass.destroy(&b.context)
	b.mainLoadPass.destroy(&b.context)
	b.shadowPass.destroy(&b.context)

	b.context.Swapchain.destroy(&b.context)
	deviceDestroy(&b.context)

	vk.DestroySurface(b.context.Instance, b.context.Surface, b.context.Allocator)
	vk.DestroyInstance(b.context.Instance, b.context.Allocator)
	core.LogInfo("Vulkan backend shut down.")
}

func (b *VulkanBackend) Resized(width, height uint32) {
	b.context.FramebufferWidth = width
	b.context.FramebufferHeight = height
	b.context.FramebufferSizeGeneration++
}

func (b *VulkanBackend) BeginFrame(deltaTime float64) (bool, error) {
	ctx := &b.context
	device := ctx.Device.LogicalDevice

	if ctx.FramebufferSizeGeneration != ctx.FramebufferSizeLastGeneration {
		if err := b.recreateSwapchain(); err != nil {
			return false, err
		}
		return false, nil
	}

	fence := ctx.InFlightFences[ctx.CurrentFrame]
	if res := vk.WaitForFences(device, 1, []vk.Fence{fence}, vk.True, math.MaxUint64); res != vk.Success {
		return false, fmt.Errorf("vkWaitForFences failed: %d", res)
	}

	imageIndex, ok, err := ctx.Swapchain.acquireNextImage(ctx, math.MaxUint64,
		ctx.ImageAvailableSemaphores[ctx.CurrentFrame], vk.NullFence)
	if err != nil {
		return false, err
	}
	if !ok {
		ctx.FramebufferSizeGeneration++
		return false, nil
	}
	ctx.ImageIndex = imageIndex

	cb := ctx.GraphicsCommandBuffers[imageIndex]
	if res := vk.ResetCommandBuffer(cb, 0); res != vk.Success {
		return false, fmt.Errorf("vkResetCommandBuffer failed: %d", res)
	}
	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if res := vk.BeginCommandBuffer(cb, &beginInfo); res != vk.Success {
		return false, fmt.Errorf("vkBeginCommandBuffer failed: %d", res)
	}

	b.mainPassCleared = false
	return true, nil
}

func (b *VulkanBackend) EndFrame() error {
	ctx := &b.context
	device := ctx.Device.LogicalDevice
	cb := ctx.GraphicsCommandBuffers[ctx.ImageIndex]

	// The main passes leave the color image in attachment layout; move it to
	// present layout before submitting.
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		DstAccessMask:       0,
		OldLayout:           vk.ImageLayoutColorAttachmentOptimal,
		NewLayout:           vk.ImageLayoutPresentSrc,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               ctx.Swapchain.Images[ctx.ImageIndex],
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})

	if res := vk.EndCommandBuffer(cb); res != vk.Success {
		return fmt.Errorf("vkEndCommandBuffer failed: %d", res)
	}

	fence := ctx.InFlightFences[ctx.CurrentFrame]
	if res := vk.ResetFences(device, 1, []vk.Fence{fence}); res != vk.Success {
		return fmt.Errorf("vkResetFences failed: %d", res)
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{ctx.ImageAvailableSemaphores[ctx.CurrentFrame]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{ctx.QueueCompleteSemaphores[ctx.CurrentFrame]},
	}
	if res := vk.QueueSubmit(ctx.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
		return fmt.Errorf("vkQueueSubmit failed: %d", res)
	}

	ok, err := ctx.Swapchain.present(ctx, ctx.QueueCompleteSemaphores[ctx.CurrentFrame], ctx.ImageIndex)
	if err != nil {
		return err
	}
	if !ok {
		ctx.FramebufferSizeGeneration++
	}
	return nil
}

func (b *VulkanBackend) recreateSwapchain() error {
	ctx := &b.context
	if ctx.FramebufferWidth == 0 || ctx.FramebufferHeight == 0 {
		return nil
	}
	vk.DeviceWaitIdle(ctx.Device.LogicalDevice)

	if err := querySwapchainSupport(ctx.Device.PhysicalDevice, ctx.Surface, &ctx.Device.SwapchainSupport); err != nil {
		return err
	}

	ctx.Swapchain.destroy(ctx)
	sc, err := swapchainCreate(ctx, ctx.FramebufferWidth, ctx.FramebufferHeight)
	if err != nil {
		return err
	}
	ctx.Swapchain = sc
	if err := b.createSwapchainFramebuffers(); err != nil {
		return err
	}
	if err := b.createCommandBuffers(); err != nil {
		return err
	}
	ctx.FramebufferSizeLastGeneration = ctx.FramebufferSizeGeneration
	core.LogInfo("Swapchain recreated (%dx%d).", ctx.FramebufferWidth, ctx.FramebufferHeight)
	return nil
}

// safeStrings null-terminates strings for the C side.
func safeStrings(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		if len(s) == 0 || s[len(s)-1] != '\x00' {
			s += "\x00"
		}
		out[i] = s
	}
	return out
}

func (b *VulkanBackend) newHandle() uint64 {
	b.nextHandle++
	return b.nextHandle
}

func (b *VulkanBackend) CreateVertexBuffer(data []byte) (metadata.BufferHandle, error) {
	buf, err := bufferCreateDeviceLocal(&b.context, data, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	handle := metadata.BufferHandle(b.newHandle())
	b.buffers[handle] = buf
	b.mu.Unlock()
	return handle, nil
}

func (b *VulkanBackend) CreateIndexBuffer(data []byte) (metadata.BufferHandle, error) {
	buf, err := bufferCreateDeviceLocal(&b.context, data, vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	handle := metadata.BufferHandle(b.newHandle())
	b.buffers[handle] = buf
	b.mu.Unlock()
	return handle, nil
}

func (b *VulkanBackend) CreateInstanceBuffer(size uint64) (metadata.BufferHandle, error) {
	buf, err := bufferCreate(&b.context, vk.DeviceSize(size),
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	handle := metadata.BufferHandle(b.newHandle())
	b.buffers[handle] = buf
	b.mu.Unlock()
	return handle, nil
}

func (b *VulkanBackend) WriteInstanceBuffer(handle metadata.BufferHandle, data []byte) error {
	buf, ok := b.buffer(handle)
	if !ok {
		return fmt.Errorf("unknown buffer handle %d", handle)
	}
	return buf.write(data)
}

func (b *VulkanBackend) DestroyBuffer(handle metadata.BufferHandle) {
	b.mu.Lock()
	buf, ok := b.buffers[handle]
	delete(b.buffers, handle)
	b.mu.Unlock()
	if ok {
		vk.DeviceWaitIdle(b.context.Device.LogicalDevice)
		buf.destroy(&b.context)
	}
}

func (b *VulkanBackend) CreateTexture(t *metadata.Texture) (metadata.TextureHandle, error) {
	img, err := imageCreate(&b.context, t.Width, t.Height, 1,
		vk.FormatR8g8b8a8Unorm,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit|vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return 0, err
	}
	if err := img.uploadPixels(&b.context, t.Pixels); err != nil {
		img.destroy(&b.context)
		return 0, err
	}
	if err := img.createSampler(&b.context); err != nil {
		img.destroy(&b.context)
		return 0, err
	}

	b.mu.Lock()
	handle := metadata.TextureHandle(b.newHandle())
	b.textures[handle] = img
	b.mu.Unlock()
	return handle, nil
}

func (b *VulkanBackend) DestroyTexture(handle metadata.TextureHandle) {
	b.mu.Lock()
	img, ok := b.textures[handle]
	delete(b.textures, handle)
	b.mu.Unlock()
	if ok {
		vk.DeviceWaitIdle(b.context.Device.LogicalDevice)
		img.destroy(&b.context)
	}
}

func (b *VulkanBackend) CompileProgram(key metadata.ProgramKey) (metadata.ProgramHandle, error) {
	prog, err := programCreate(&b.context, key)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	handle := metadata.ProgramHandle(b.newHandle())
	b.programs[handle] = prog
	b.mu.Unlock()
	return handle, nil
}

func (b *VulkanBackend) buffer(handle metadata.BufferHandle) (*Buffer, bool) {
	b.mu.RLock()
	buf, ok := b.buffers[handle]
	b.mu.RUnlock()
	return buf, ok
}

func (b *VulkanBackend) texture(handle metadata.TextureHandle) (*Image, bool) {
	b.mu.RLock()
	img, ok := b.textures[handle]
	b.mu.RUnlock()
	return img, ok
}

func (b *VulkanBackend) program(handle metadata.ProgramHandle) (*Program, bool) {
	b.mu.RLock()
	prog, ok := b.programs[handle]
	b.mu.RUnlock()
	return prog, ok
}

func (b *VulkanBackend) SetFrameConstants(fc renderer.FrameConstants) error {
	if cap(b.scratch) < frameConstantsSize {
		b.scratch = make([]byte, frameConstantsSize)
	}
	buf := b.scratch[:frameConstantsSize]
	i := 0
	putF := func(v float32) {
		binary.LittleEndian.PutUint32(buf[i:], math.Float32bits(v))
		i += 4
	}
	for _, m := range [3][16]float32{fc.View, fc.Projection, fc.ViewProjection} {
		for _, v := range m {
			putF(v)
		}
	}
	for _, m := range fc.CascadeViewProj {
		for _, v := range m {
			putF(v)
		}
	}
	putF(fc.CameraPosition.X())
	putF(fc.CameraPosition.Y())
	putF(fc.CameraPosition.Z())
	putF(fc.Exposure)
	for _, v := range fc.CascadeSplitsNdc {
		putF(v)
	}
	putF(fc.Time)
	binary.LittleEndian.PutUint32(buf[i:], fc.LightCount)
	i += 4
	putF(fc.ShadowBias)
	putF(fc.ShadowStrength)
	putF(fc.ShadowSoftness)

	return b.frameUBOs[b.context.CurrentFrame].write(buf)
}

func (b *VulkanBackend) SetLights(lights []metadata.GpuLight) error {
	if cap(b.scratch) < lightBufferSize {
		b.scratch = make([]byte, lightBufferSize)
	}
	buf := b.scratch[:lightBufferSize]
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf, uint32(len(lights)))

	for li := range lights {
		if li >= metadata.MaxGpuLights {
			break
		}
		l := &lights[li]
		base := 16 + li*64
		i := base
		putF := func(v float32) {
			binary.LittleEndian.PutUint32(buf[i:], math.Float32bits(v))
			i += 4
		}
		binary.LittleEndian.PutUint32(buf[i:], uint32(l.Type))
		i += 4
		binary.LittleEndian.PutUint32(buf[i:], l.GroupMask)
		i += 4
		putF(l.Intensity)
		putF(l.Range)
		for _, v := range l.Color {
			putF(v)
		}
		putF(l.InnerCos)
		for _, v := range l.Direction {
			putF(v)
		}
		putF(l.OuterCos)
		for _, v := range l.Position {
			putF(v)
		}
	}
	return b.lightUBOs[b.context.CurrentFrame].write(buf)
}

func (b *VulkanBackend) BeginPass(bindings metadata.PassBindings) error {
	ctx := &b.context
	cb := ctx.GraphicsCommandBuffers[ctx.ImageIndex]

	var rp *Renderpass
	var framebuffer vk.Framebuffer
	var extent vk.Extent2D

	if bindings.Kind == metadata.PassShadow {
		if int(bindings.CascadeIndex) >= len(b.shadowFramebuffers) {
			return fmt.Errorf("no shadow framebuffer for cascade %d", bindings.CascadeIndex)
		}
		rp = b.shadowPass
		framebuffer = b.shadowFramebuffers[bindings.CascadeIndex]
		extent = vk.Extent2D{Width: b.shadowSize, Height: b.shadowSize}
	} else {
		rp = b.mainLoadPass
		if !b.mainPassCleared {
			rp = b.mainClearPass
			b.mainPassCleared = true
		}
		framebuffer = ctx.Swapchain.Framebuffers[ctx.ImageIndex]
		extent = ctx.Swapchain.Extent
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.Handle,
		Framebuffer:     framebuffer,
		RenderArea:      vk.Rect2D{Extent: extent},
		ClearValueCount: uint32(len(rp.ClearValues)),
		PClearValues:    rp.ClearValues,
	}
	vk.CmdBeginRenderPass(cb, &beginInfo, vk.SubpassContentsSecondaryCommandBuffers)

	b.currentPass = rp
	b.currentFramebuffer = framebuffer
	b.currentExtent = extent
	return nil
}

func (b *VulkanBackend) EndPass() error {
	cb := b.context.GraphicsCommandBuffers[b.context.ImageIndex]
	vk.CmdEndRenderPass(cb)
	b.currentPass = nil
	return nil
}

func (b *VulkanBackend) Recorders(count int) ([]renderer.CommandRecorder, error) {
	if count < 1 {
		count = 1
	}
	if count > renderer.MaxRecordingContexts {
		count = renderer.MaxRecordingContexts
	}
	for len(b.recorders) < count {
		slot, err := newRecorderSlot(b)
		if err != nil {
			return nil, err
		}
		b.recorders = append(b.recorders, slot)
	}
	out := make([]renderer.CommandRecorder, count)
	for i := 0; i < count; i++ {
		out[i] = b.recorders[i]
	}
	return out, nil
}

func (b *VulkanBackend) Execute(buffers []renderer.CommandBuffer) error {
	if len(buffers) == 0 {
		return nil
	}
	cbs := make([]vk.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		cb, ok := buffer.(vk.CommandBuffer)
		if !ok {
			return fmt.Errorf("foreign command buffer passed to Execute")
		}
		cbs = append(cbs, cb)
	}
	primary := b.context.GraphicsCommandBuffers[b.context.ImageIndex]
	vk.CmdExecuteCommands(primary, uint32(len(cbs)), cbs)
	return nil
}

// ShadowTargets (re)allocates the cascade depth array and its per-layer
// framebuffers. Reuses the current targets when size and layer count match.
func (b *VulkanBackend) ShadowTargets(size uint32, cascades uint32) bool {
	if b.shadowMap != nil && b.shadowSize == size && b.shadowLayers == cascades {
		return true
	}
	vk.DeviceWaitIdle(b.context.Device.LogicalDevice)
	b.destroyShadowTargets()

	img, err := imageCreate(&b.context, size, size, cascades,
		vk.FormatD32Sfloat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit|vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		core.LogError("Shadow map allocation failed: %s", err)
		return false
	}
	if err := img.createSampler(&b.context); err != nil {
		img.destroy(&b.context)
		core.LogError("Shadow sampler creation failed: %s", err)
		return false
	}

	device := b.context.Device.LogicalDevice
	b.shadowLayerViews = make([]vk.ImageView, cascades)
	b.shadowFramebuffers = make([]vk.Framebuffer, cascades)
	for layer := uint32(0); layer < cascades; layer++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img.Handle,
			ViewType: vk.ImageViewType2d,
			Format:   vk.FormatD32Sfloat,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectDepthBit),
				LevelCount:     1,
				BaseArrayLayer: layer,
				LayerCount:     1,
			},
		}
		if res := vk.CreateImageView(device, &viewInfo, b.context.Allocator, &b.shadowLayerViews[layer]); res != vk.Success {
			core.LogError("Shadow layer view failed: %d", res)
			b.destroyShadowTargets()
			img.destroy(&b.context)
			return false
		}
		fb, err := framebufferCreate(&b.context, b.shadowPass, size, size, []vk.ImageView{b.shadowLayerViews[layer]})
		if err != nil {
			core.LogError("Shadow framebuffer failed: %s", err)
			b.destroyShadowTargets()
			img.destroy(&b.context)
			return false
		}
		b.shadowFramebuffers[layer] = fb
	}

	b.shadowMap = img
	b.shadowSize = size
	b.shadowLayers = cascades

	// Bind the cascade array into every global set.
	imageInfo := vk.DescriptorImageInfo{
		Sampler:     img.Sampler,
		ImageView:   img.View,
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
	for _, set := range b.globalSets {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      2,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo:      []vk.DescriptorImageInfo{imageInfo},
		}
		vk.UpdateDescriptorSets(device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
	}
	core.LogInfo("Shadow targets allocated (%dx%d, %d cascades).", size, size, cascades)
	return true
}

func (b *VulkanBackend) destroyShadowTargets() {
	device := b.context.Device.LogicalDevice
	for _, fb := range b.shadowFramebuffers {
		vk.DestroyFramebuffer(device, fb, b.context.Allocator)
	}
	b.shadowFramebuffers = nil
	for _, view := range b.shadowLayerViews {
		vk.DestroyImageView(device, view, b.context.Allocator)
	}
	b.shadowLayerViews = nil
	if b.shadowMap != nil {
		b.shadowMap.destroy(&b.context)
		b.shadowMap = nil
	}
	b.shadowSize = 0
	b.shadowLayers = 0
}

// materialSet returns the descriptor set binding the material's four
// textures, allocating it on first use. Safe to call from recorder
// goroutines.
func (b *VulkanBackend) materialSet(state *metadata.MaterialGpuState) (vk.DescriptorSet, error) {
	b.matSetMu.Lock()
	defer b.matSetMu.Unlock()

	if set, ok := b.materialSets[state.Hash]; ok {
		return set, nil
	}

	device := b.context.Device.LogicalDevice
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     b.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{b.materialSetLayout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(device, &allocateInfo, &sets[0]); res != vk.Success {
		return vk.NullDescriptorSet, fmt.Errorf("material descriptor set failed: %d", res)
	}

	handles := [4]metadata.TextureHandle{
		state.AlbedoMap, state.NormalMap, state.MetallicRoughnessMap, state.EmissiveMap,
	}
	writes := make([]vk.WriteDescriptorSet, 0, len(handles))
	for binding, handle := range handles {
		img, ok := b.texture(handle)
		if !ok {
			continue
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          sets[0],
			DstBinding:      uint32(binding),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo: []vk.DescriptorImageInfo{{
				Sampler:     img.Sampler,
				ImageView:   img.View,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}},
		})
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(device, uint32(len(writes)), writes, 0, nil)
	}

	b.materialSets[state.Hash] = sets[0]
	return sets[0], nil
}
