package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/crown3d/crown/engine/core"
)

// Context holds everything the backend needs to talk to one Vulkan device.
type Context struct {
	FramebufferWidth  uint32
	FramebufferHeight uint32
	// Bumped on resize; compared against the generation the swapchain was
	// last built for.
	FramebufferSizeGeneration     uint64
	FramebufferSizeLastGeneration uint64

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	Device *Device

	Swapchain *Swapchain

	MainRenderpass   *Renderpass
	ShadowRenderpass *Renderpass

	// One primary command buffer per swapchain image.
	GraphicsCommandBuffers []vk.CommandBuffer

	ImageAvailableSemaphores []vk.Semaphore
	QueueCompleteSemaphores  []vk.Semaphore
	InFlightFences           []vk.Fence

	ImageIndex   uint32
	CurrentFrame uint32

	RecreatingSwapchain bool
}

// FindMemoryIndex returns a memory type index satisfying the filter and
// property flags, or -1.
func (c *Context) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(c.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
