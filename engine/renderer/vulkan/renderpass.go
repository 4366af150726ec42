package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// Renderpass wraps one vk.RenderPass plus its clear values.
type Renderpass struct {
	Handle      vk.RenderPass
	ClearColor  [4]float32
	ClearDepth  float32
	DepthOnly   bool
	ClearValues []vk.ClearValue
}

// renderpassCreateMain builds the swapchain render pass: one color attachment
// presented at the end of the frame and one depth attachment. The first main
// pass of a frame clears; later ones load what previous passes wrote.
func renderpassCreateMain(context *Context, clear bool) (*Renderpass, error) {
	rp := &Renderpass{
		ClearColor: [4]float32{0.05, 0.05, 0.08, 1.0},
		ClearDepth: 1.0,
	}

	loadOp := vk.AttachmentLoadOpClear
	initialLayout := vk.ImageLayoutUndefined
	if !clear {
		loadOp = vk.AttachmentLoadOpLoad
		initialLayout = vk.ImageLayoutColorAttachmentOptimal
	}

	colorAttachment := vk.AttachmentDescription{
		Format:         context.Swapchain.ImageFormat.Format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         loadOp,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  initialLayout,
		FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
	}
	if clear {
		colorAttachment.InitialLayout = vk.ImageLayoutUndefined
	}

	depthLoadOp := vk.AttachmentLoadOpClear
	depthInitial := vk.ImageLayoutUndefined
	if !clear {
		depthLoadOp = vk.AttachmentLoadOpLoad
		depthInitial = vk.ImageLayoutDepthStencilAttachmentOptimal
	}
	depthAttachment := vk.AttachmentDescription{
		Format:         context.Device.DepthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         depthLoadOp,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  depthInitial,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	colorRef := vk.AttachmentReference{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}
	depthRef := vk.AttachmentReference{Attachment: 1, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vk.AttachmentReference{colorRef},
		PDepthStencilAttachment: &depthRef,
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 2,
		PAttachments:    []vk.AttachmentDescription{colorAttachment, depthAttachment},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &createInfo, context.Allocator, &rp.Handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateRenderPass (main) failed: %d", res)
	}

	rp.ClearValues = make([]vk.ClearValue, 2)
	rp.ClearValues[0].SetColor(rp.ClearColor[:])
	rp.ClearValues[1].SetDepthStencil(rp.ClearDepth, 0)
	return rp, nil
}

// renderpassCreateShadow builds the depth-only pass rendered into one cascade
// layer, finishing in shader-read layout for the geometry pass.
func renderpassCreateShadow(context *Context) (*Renderpass, error) {
	rp := &Renderpass{ClearDepth: 1.0, DepthOnly: true}

	depthAttachment := vk.AttachmentDescription{
		Format:         vk.FormatD32Sfloat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutShaderReadOnlyOptimal,
	}
	depthRef := vk.AttachmentReference{Attachment: 0, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		PDepthStencilAttachment: &depthRef,
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.AttachmentDescription{depthAttachment},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &createInfo, context.Allocator, &rp.Handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateRenderPass (shadow) failed: %d", res)
	}

	rp.ClearValues = make([]vk.ClearValue, 1)
	rp.ClearValues[0].SetDepthStencil(rp.ClearDepth, 0)
	return rp, nil
}

func (rp *Renderpass) destroy(context *Context) {
	if rp.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(context.Device.LogicalDevice, rp.Handle, context.Allocator)
		rp.Handle = vk.NullRenderPass
	}
}

// framebufferCreate builds one framebuffer for the pass from the given
// attachment views.
func framebufferCreate(context *Context, rp *Renderpass, width, height uint32, attachments []vk.ImageView) (vk.Framebuffer, error) {
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &fb); res != vk.Success {
		return vk.NullFramebuffer, fmt.Errorf("vkCreateFramebuffer failed: %d", res)
	}
	return fb, nil
}
