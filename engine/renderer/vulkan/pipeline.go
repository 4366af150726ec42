package vulkan

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/crown3d/crown/engine/renderer/metadata"
)

// Program is a compiled shader program: its modules plus one graphics
// pipeline per (render pass, blend) combination, built lazily. Recording
// workers share programs, so the pipeline cache is locked.
type Program struct {
	Key        metadata.ProgramKey
	VertModule vk.ShaderModule
	FragModule vk.ShaderModule

	mu        sync.Mutex
	pipelines map[pipelineKey]vk.Pipeline
}

type pipelineKey struct {
	pass    vk.RenderPass
	blended bool
}

// programCreate loads the program's precompiled SPIR-V modules. Variant
// defines select a file suffix, e.g. "shaders/pbr" with SHADING_UNLIT loads
// shaders/pbr.shading_unlit.vert.spv. Depth-only programs may omit the
// fragment stage.
func programCreate(context *Context, key metadata.ProgramKey) (*Program, error) {
	base := key.Source
	if len(key.Defines) > 0 {
		parts := make([]string, len(key.Defines))
		for i, d := range key.Defines {
			parts[i] = strings.ToLower(d)
		}
		base = base + "." + strings.Join(parts, ".")
	}

	p := &Program{Key: key, pipelines: make(map[pipelineKey]vk.Pipeline)}

	vert, err := shaderModuleLoad(context, base+".vert.spv")
	if err != nil {
		return nil, err
	}
	p.VertModule = vert

	fragPath := base + ".frag.spv"
	if _, err := os.Stat(fragPath); err == nil {
		frag, err := shaderModuleLoad(context, fragPath)
		if err != nil {
			p.destroy(context)
			return nil, err
		}
		p.FragModule = frag
	}
	return p, nil
}

// sliceUint32 repacks SPIR-V bytes into the 32-bit words vulkan expects.
func sliceUint32(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

func shaderModuleLoad(context *Context, path string) (vk.ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return vk.NullShaderModule, fmt.Errorf("read shader %s: %w", path, err)
	}
	if len(code)%4 != 0 {
		return vk.NullShaderModule, fmt.Errorf("shader %s is not valid SPIR-V", path)
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    sliceUint32(code),
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module); res != vk.Success {
		return vk.NullShaderModule, fmt.Errorf("vkCreateShaderModule %s failed: %d", path, res)
	}
	return module, nil
}

// pipeline returns the graphics pipeline for the pass, building it on first
// use. Safe to call from concurrent recording workers.
func (p *Program) pipeline(context *Context, layout vk.PipelineLayout, rp *Renderpass, blended bool) (vk.Pipeline, error) {
	key := pipelineKey{pass: rp.Handle, blended: blended}

	p.mu.Lock()
	defer p.mu.Unlock()
	if pipe, ok := p.pipelines[key]; ok {
		return pipe, nil
	}

	stages := []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: p.VertModule,
		PName:  p.Key.Entry + "\x00",
	}}
	if p.FragModule != vk.NullShaderModule {
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: p.FragModule,
			PName:  p.Key.Entry + "\x00",
		})
	}

	// Binding 0 is the per-vertex stream, binding 1 the per-instance stream.
	bindings := []vk.VertexInputBindingDescription{
		{Binding: 0, Stride: metadata.VertexPNStride, InputRate: vk.VertexInputRateVertex},
		{Binding: 1, Stride: metadata.InstanceRecordStride, InputRate: vk.VertexInputRateInstance},
	}
	attributes := []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 12},
	}
	// World matrix, normal matrix, albedo, roughness/metallic and masks as
	// consecutive vec4 attributes.
	offset := uint32(0)
	for loc := uint32(2); loc < 11; loc++ {
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: loc, Binding: 1, Format: vk.FormatR32g32b32a32Sfloat, Offset: offset,
		})
		offset += 16
	}
	attributes = append(attributes, vk.VertexInputAttributeDescription{
		Location: 11, Binding: 1, Format: vk.FormatR32g32b32a32Uint, Offset: offset,
	})

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	// Viewport and scissor are dynamic so pipelines survive resizes.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: 2,
		PDynamicStates:    []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		CullMode:    vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:   vk.FrontFaceClockwise,
	}
	if rp.DepthOnly {
		// Front-face culling reduces peter-panning on shadow casters.
		rasterizer.CullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vk.True,
		DepthWriteEnable: vk.True,
		DepthCompareOp:   vk.CompareOpLessOrEqual,
	}
	if blended {
		depthStencil.DepthWriteEnable = vk.False
	}

	blendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	if blended {
		blendAttachment.BlendEnable = vk.True
		blendAttachment.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blendAttachment.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blendAttachment.ColorBlendOp = vk.BlendOpAdd
		blendAttachment.SrcAlphaBlendFactor = vk.BlendFactorOne
		blendAttachment.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blendAttachment.AlphaBlendOp = vk.BlendOpAdd
	}

	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType: vk.StructureTypePipelineColorBlendStateCreateInfo,
	}
	if !rp.DepthOnly {
		colorBlend.AttachmentCount = 1
		colorBlend.PAttachments = []vk.PipelineColorBlendAttachmentState{blendAttachment}
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              layout,
		RenderPass:          rp.Handle,
		Subpass:             0,
	}

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{createInfo}, context.Allocator, pipelines); res != vk.Success {
		return vk.NullPipeline, fmt.Errorf("vkCreateGraphicsPipelines failed: %d", res)
	}

	p.pipelines[key] = pipelines[0]
	return pipelines[0], nil
}

func (p *Program) destroy(context *Context) {
	p.mu.Lock()
	for _, pipe := range p.pipelines {
		vk.DestroyPipeline(context.Device.LogicalDevice, pipe, context.Allocator)
	}
	p.pipelines = make(map[pipelineKey]vk.Pipeline)
	p.mu.Unlock()

	if p.VertModule != vk.NullShaderModule {
		vk.DestroyShaderModule(context.Device.LogicalDevice, p.VertModule, context.Allocator)
		p.VertModule = vk.NullShaderModule
	}
	if p.FragModule != vk.NullShaderModule {
		vk.DestroyShaderModule(context.Device.LogicalDevice, p.FragModule, context.Allocator)
		p.FragModule = vk.NullShaderModule
	}
}
