package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// Image is a Vulkan image with its memory, view and optional sampler.
type Image struct {
	Handle  vk.Image
	Memory  vk.DeviceMemory
	View    vk.ImageView
	Sampler vk.Sampler
	Width   uint32
	Height  uint32
	Layers  uint32
	Format  vk.Format
}

func imageCreate(context *Context, width, height, layers uint32, format vk.Format, tiling vk.ImageTiling, usage vk.ImageUsageFlags, memoryFlags vk.MemoryPropertyFlags, aspect vk.ImageAspectFlags) (*Image, error) {
	img := &Image{Width: width, Height: height, Layers: layers, Format: format}

	createInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format,
		Extent:        vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        tiling,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if res := vk.CreateImage(context.Device.LogicalDevice, &createInfo, context.Allocator, &img.Handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateImage failed: %d", res)
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, img.Handle, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(memoryFlags))
	if memoryIndex < 0 {
		img.destroy(context)
		return nil, fmt.Errorf("no suitable memory type for image")
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &img.Memory); res != vk.Success {
		img.destroy(context)
		return nil, fmt.Errorf("vkAllocateMemory failed: %d", res)
	}
	if res := vk.BindImageMemory(context.Device.LogicalDevice, img.Handle, img.Memory, 0); res != vk.Success {
		img.destroy(context)
		return nil, fmt.Errorf("vkBindImageMemory failed: %d", res)
	}

	viewType := vk.ImageViewType2d
	if layers > 1 {
		viewType = vk.ImageViewType2dArray
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: layers,
		},
	}
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &img.View); res != vk.Success {
		img.destroy(context)
		return nil, fmt.Errorf("vkCreateImageView failed: %d", res)
	}
	return img, nil
}

func (img *Image) createSampler(context *Context) error {
	samplerInfo := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.FilterLinear,
		MinFilter:        vk.FilterLinear,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: vk.True,
		MaxAnisotropy:    16,
	}
	if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerInfo, context.Allocator, &img.Sampler); res != vk.Success {
		return fmt.Errorf("vkCreateSampler failed: %d", res)
	}
	return nil
}

// uploadPixels fills the image from tightly packed RGBA8 pixel data and
// leaves it in shader-read layout.
func (img *Image) uploadPixels(context *Context, pixels []byte) error {
	staging, err := bufferCreate(context, vk.DeviceSize(len(pixels)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	defer staging.destroy(context)

	if err := staging.write(pixels); err != nil {
		return err
	}

	cb, err := beginSingleUseCommands(context)
	if err != nil {
		return err
	}

	img.transitionLayout(cb, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)

	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: img.Layers,
		},
		ImageExtent: vk.Extent3D{Width: img.Width, Height: img.Height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(cb, staging.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})

	img.transitionLayout(cb, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)

	return endSingleUseCommands(context, cb)
}

func (img *Image) transitionLayout(cb vk.CommandBuffer, oldLayout, newLayout vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: img.Layers,
		},
	}

	var srcStage, dstStage vk.PipelineStageFlags
	switch {
	case oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutTransferDstOptimal:
		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case oldLayout == vk.ImageLayoutTransferDstOptimal && newLayout == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}

	vk.CmdPipelineBarrier(cb, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (img *Image) destroy(context *Context) {
	if img.Sampler != vk.NullSampler {
		vk.DestroySampler(context.Device.LogicalDevice, img.Sampler, context.Allocator)
		img.Sampler = vk.NullSampler
	}
	if img.View != vk.NullImageView {
		vk.DestroyImageView(context.Device.LogicalDevice, img.View, context.Allocator)
		img.View = vk.NullImageView
	}
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, img.Memory, context.Allocator)
		img.Memory = vk.NullDeviceMemory
	}
	if img.Handle != vk.NullImage {
		vk.DestroyImage(context.Device.LogicalDevice, img.Handle, context.Allocator)
		img.Handle = vk.NullImage
	}
}
