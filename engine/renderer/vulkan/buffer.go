package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Buffer is a Vulkan buffer plus its backing memory. Host-visible buffers
// stay persistently mapped.
type Buffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   vk.DeviceSize

	hostVisible bool
	mapped      unsafe.Pointer
}

func bufferCreate(context *Context, size vk.DeviceSize, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags) (*Buffer, error) {
	b := &Buffer{Size: size}

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &b.Handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateBuffer failed: %d", res)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, b.Handle, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(memoryFlags))
	if memoryIndex < 0 {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		return nil, fmt.Errorf("no suitable memory type for buffer")
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &b.Memory); res != vk.Success {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		return nil, fmt.Errorf("vkAllocateMemory failed: %d", res)
	}
	if res := vk.BindBufferMemory(context.Device.LogicalDevice, b.Handle, b.Memory, 0); res != vk.Success {
		b.destroy(context)
		return nil, fmt.Errorf("vkBindBufferMemory failed: %d", res)
	}

	b.hostVisible = memoryFlags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0
	if b.hostVisible {
		if res := vk.MapMemory(context.Device.LogicalDevice, b.Memory, 0, size, 0, &b.mapped); res != vk.Success {
			b.destroy(context)
			return nil, fmt.Errorf("vkMapMemory failed: %d", res)
		}
	}
	return b, nil
}

// write copies data into a host-visible buffer.
func (b *Buffer) write(data []byte) error {
	if !b.hostVisible || b.mapped == nil {
		return fmt.Errorf("buffer is not host visible")
	}
	if vk.DeviceSize(len(data)) > b.Size {
		return fmt.Errorf("write of %d bytes exceeds buffer size %d", len(data), b.Size)
	}
	vk.Memcopy(b.mapped, data)
	return nil
}

func (b *Buffer) destroy(context *Context) {
	if b.mapped != nil {
		vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
		b.mapped = nil
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
}

// bufferCreateDeviceLocal creates an immutable device-local buffer and fills
// it through a staging buffer.
func bufferCreateDeviceLocal(context *Context, data []byte, usage vk.BufferUsageFlags) (*Buffer, error) {
	size := vk.DeviceSize(len(data))

	staging, err := bufferCreate(context, size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	defer staging.destroy(context)

	if err := staging.write(data); err != nil {
		return nil, err
	}

	b, err := bufferCreate(context, size,
		usage|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}

	if err := bufferCopy(context, staging.Handle, b.Handle, size); err != nil {
		b.destroy(context)
		return nil, err
	}
	return b, nil
}

func bufferCopy(context *Context, src, dst vk.Buffer, size vk.DeviceSize) error {
	cb, err := beginSingleUseCommands(context)
	if err != nil {
		return err
	}
	region := vk.BufferCopy{Size: size}
	vk.CmdCopyBuffer(cb, src, dst, 1, []vk.BufferCopy{region})
	return endSingleUseCommands(context, cb)
}

func beginSingleUseCommands(context *Context) (vk.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        context.Device.GraphicsCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
		return nil, fmt.Errorf("failed to allocate command buffer: %d", res)
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(buffers[0], &beginInfo); res != vk.Success {
		return nil, fmt.Errorf("failed to begin command buffer: %d", res)
	}
	return buffers[0], nil
}

func endSingleUseCommands(context *Context, cb vk.CommandBuffer) error {
	if res := vk.EndCommandBuffer(cb); res != vk.Success {
		return fmt.Errorf("failed to end command buffer: %d", res)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb},
	}
	if res := vk.QueueSubmit(context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
		return fmt.Errorf("vkQueueSubmit failed: %d", res)
	}
	if res := vk.QueueWaitIdle(context.Device.GraphicsQueue); res != vk.Success {
		return fmt.Errorf("vkQueueWaitIdle failed: %d", res)
	}

	vk.FreeCommandBuffers(context.Device.LogicalDevice, context.Device.GraphicsCommandPool, 1, []vk.CommandBuffer{cb})
	return nil
}
