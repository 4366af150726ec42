package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/crown3d/crown/engine/core"
)

// Device bundles the selected physical device, the logical device and the
// queues and pools created on it.
type Device struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   SwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

type queueFamilyInfo struct {
	graphicsIndex int32
	presentIndex  int32
}

func deviceCreate(context *Context) error {
	if err := selectPhysicalDevice(context); err != nil {
		return err
	}
	device := context.Device

	core.LogInfo("Creating logical device...")
	sharedQueue := device.GraphicsQueueIndex == device.PresentQueueIndex
	indices := []uint32{uint32(device.GraphicsQueueIndex)}
	if !sharedQueue {
		indices = append(indices, uint32(device.PresentQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: indices[i],
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{}
	deviceFeatures.SamplerAnisotropy = vk.True

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   1,
		PpEnabledExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}

	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device.LogicalDevice); res != vk.Success {
		return fmt.Errorf("vkCreateDevice failed: %d", res)
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(device.LogicalDevice, uint32(device.GraphicsQueueIndex), 0, &device.GraphicsQueue)
	vk.GetDeviceQueue(device.LogicalDevice, uint32(device.PresentQueueIndex), 0, &device.PresentQueue)

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &device.GraphicsCommandPool); res != vk.Success {
		return fmt.Errorf("vkCreateCommandPool failed: %d", res)
	}
	core.LogInfo("Graphics command pool created.")
	return nil
}

func deviceDestroy(context *Context) {
	device := context.Device
	device.GraphicsQueue = nil
	device.PresentQueue = nil

	vk.DestroyCommandPool(device.LogicalDevice, device.GraphicsCommandPool, context.Allocator)

	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}
	device.PhysicalDevice = nil
	device.SwapchainSupport = SwapchainSupportInfo{}
	device.GraphicsQueueIndex = -1
	device.PresentQueueIndex = -1
}

func selectPhysicalDevice(context *Context) error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &count, nil); res != vk.Success {
		return fmt.Errorf("vkEnumeratePhysicalDevices failed: %d", res)
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &count, devices); res != vk.Success {
		return fmt.Errorf("vkEnumeratePhysicalDevices failed: %d", res)
	}

	for _, candidate := range devices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(candidate, &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(candidate, &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(candidate, &memory)
		memory.Deref()

		queues, ok := queryQueueFamilies(candidate, context.Surface)
		if !ok {
			continue
		}
		if features.SamplerAnisotropy == vk.False {
			core.LogInfo("Device does not support samplerAnisotropy, skipping.")
			continue
		}
		if !hasExtension(candidate, vk.KhrSwapchainExtensionName) {
			continue
		}

		support := SwapchainSupportInfo{}
		if err := querySwapchainSupport(candidate, context.Surface, &support); err != nil {
			continue
		}
		if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
			core.LogInfo("Required swapchain support not present, skipping device.")
			continue
		}

		core.LogInfo("Selected device: '%s'.", vk.ToString(properties.DeviceName[:]))
		context.Device.PhysicalDevice = candidate
		context.Device.GraphicsQueueIndex = queues.graphicsIndex
		context.Device.PresentQueueIndex = queues.presentIndex
		context.Device.Properties = properties
		context.Device.Features = features
		context.Device.Memory = memory
		context.Device.SwapchainSupport = support
		return nil
	}
	return fmt.Errorf("no physical device meets the requirements")
}

func queryQueueFamilies(device vk.PhysicalDevice, surface vk.Surface) (queueFamilyInfo, bool) {
	info := queueFamilyInfo{graphicsIndex: -1, presentIndex: -1}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, families)

	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		if info.graphicsIndex < 0 && vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit > 0 {
			info.graphicsIndex = int32(i)
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, i, surface, &supportsPresent); res != vk.Success {
			return info, false
		}
		if info.presentIndex < 0 && supportsPresent == vk.True {
			info.presentIndex = int32(i)
		}
	}
	return info, info.graphicsIndex >= 0 && info.presentIndex >= 0
}

func hasExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if vk.ToString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func querySwapchainSupport(device vk.PhysicalDevice, surface vk.Surface, out *SwapchainSupportInfo) error {
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(device, surface, &out.Capabilities); res != vk.Success {
		return fmt.Errorf("failed to get surface capabilities: %d", res)
	}
	out.Capabilities.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, nil); res != vk.Success {
		return fmt.Errorf("failed to get surface formats: %d", res)
	}
	if formatCount > 0 {
		out.Formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, out.Formats); res != vk.Success {
			return fmt.Errorf("failed to get surface formats: %d", res)
		}
		for i := range out.Formats {
			out.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &modeCount, nil); res != vk.Success {
		return fmt.Errorf("failed to get present modes: %d", res)
	}
	if modeCount > 0 {
		out.PresentModes = make([]vk.PresentMode, modeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &modeCount, out.PresentModes); res != vk.Success {
			return fmt.Errorf("failed to get present modes: %d", res)
		}
	}
	return nil
}

func deviceDetectDepthFormat(device *Device) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if vk.FormatFeatureFlagBits(properties.LinearTilingFeatures)&flags == flags ||
			vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	return false
}
