package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/crown3d/crown/engine/core"
)

type Swapchain struct {
	ImageFormat       vk.SurfaceFormat
	MaxFramesInFlight uint8
	Handle            vk.Swapchain
	ImageCount        uint32
	Images            []vk.Image
	Views             []vk.ImageView
	Extent            vk.Extent2D

	DepthAttachment *Image

	Framebuffers []vk.Framebuffer
}

type SwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func swapchainCreate(context *Context, width, height uint32) (*Swapchain, error) {
	sc := &Swapchain{MaxFramesInFlight: 2}

	extent := vk.Extent2D{Width: width, Height: height}
	support := &context.Device.SwapchainSupport

	sc.ImageFormat = support.Formats[0]
	for _, format := range support.Formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			sc.ImageFormat = format
			break
		}
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	if support.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		extent = support.Capabilities.CurrentExtent
	}
	extent.Width = clamp(extent.Width, support.Capabilities.MinImageExtent.Width, support.Capabilities.MaxImageExtent.Width)
	extent.Height = clamp(extent.Height, support.Capabilities.MinImageExtent.Height, support.Capabilities.MaxImageExtent.Height)
	sc.Extent = extent

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.ImageFormat.Format,
		ImageColorSpace:  sc.ImageFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}

	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &createInfo, context.Allocator, &sc.Handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateSwapchainKHR failed: %d", res)
	}

	context.CurrentFrame = 0

	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, sc.Handle, &sc.ImageCount, nil); res != vk.Success {
		return nil, fmt.Errorf("failed to get swapchain images: %d", res)
	}
	sc.Images = make([]vk.Image, sc.ImageCount)
	sc.Views = make([]vk.ImageView, sc.ImageCount)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, sc.Handle, &sc.ImageCount, sc.Images); res != vk.Success {
		return nil, fmt.Errorf("failed to get swapchain images: %d", res)
	}

	for i := uint32(0); i < sc.ImageCount; i++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    sc.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   sc.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &sc.Views[i]); res != vk.Success {
			return nil, fmt.Errorf("failed to create swapchain image view: %d", res)
		}
	}

	if !deviceDetectDepthFormat(context.Device) {
		return nil, fmt.Errorf("failed to find a supported depth format")
	}

	depth, err := imageCreate(context, extent.Width, extent.Height, 1,
		context.Device.DepthFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return nil, err
	}
	sc.DepthAttachment = depth

	core.LogInfo("Swapchain created successfully (%dx%d, %d images).", extent.Width, extent.Height, sc.ImageCount)
	return sc, nil
}

func (sc *Swapchain) destroy(context *Context) {
	vk.DeviceWaitIdle(context.Device.LogicalDevice)
	sc.DepthAttachment.destroy(context)

	for _, fb := range sc.Framebuffers {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, fb, context.Allocator)
	}
	sc.Framebuffers = nil

	// Views only; the images belong to the swapchain.
	for i := uint32(0); i < sc.ImageCount; i++ {
		vk.DestroyImageView(context.Device.LogicalDevice, sc.Views[i], context.Allocator)
	}
	vk.DestroySwapchain(context.Device.LogicalDevice, sc.Handle, context.Allocator)
}

// acquireNextImage returns the next swapchain image index. ok=false means the
// swapchain went out of date and the frame must be skipped.
func (sc *Swapchain) acquireNextImage(context *Context, timeoutNs uint64, imageAvailable vk.Semaphore, fence vk.Fence) (uint32, bool, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(context.Device.LogicalDevice, sc.Handle, timeoutNs, imageAvailable, fence, &imageIndex)
	switch result {
	case vk.ErrorOutOfDate:
		return 0, false, nil
	case vk.Success, vk.Suboptimal:
		return imageIndex, true, nil
	default:
		return 0, false, fmt.Errorf("vkAcquireNextImageKHR failed: %d", result)
	}
}

// present hands the image back for presentation. ok=false means the swapchain
// needs recreating.
func (sc *Swapchain) present(context *Context, renderComplete vk.Semaphore, imageIndex uint32) (bool, error) {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderComplete},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.Handle},
		PImageIndices:      []uint32{imageIndex},
	}

	result := vk.QueuePresent(context.Device.PresentQueue, &presentInfo)
	context.CurrentFrame = (context.CurrentFrame + 1) % uint32(sc.MaxFramesInFlight)

	switch result {
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return false, nil
	case vk.Success:
		return true, nil
	default:
		return false, fmt.Errorf("vkQueuePresentKHR failed: %d", result)
	}
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
