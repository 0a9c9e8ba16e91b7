package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// Pipeline is a graphics or compute pipeline. The layout belongs to the root signature it was
// created with.
type Pipeline struct {
	gpu    *GPU
	typ    metadata.PipelineType
	handle vk.Pipeline
	layout vk.PipelineLayout
}

func (p *Pipeline) Type() metadata.PipelineType { return p.typ }
func (p *Pipeline) Native() interface{}         { return p.handle }

func (p *Pipeline) bindPoint() vk.PipelineBindPoint {
	if p.typ == metadata.PipelineTypeCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

func (p *Pipeline) Destroy() {
	if p.handle != vk.NullPipeline {
		vk.DestroyPipeline(p.gpu.device, p.handle, p.gpu.allocator)
		p.handle = vk.NullPipeline
	}
}

func (g *GPU) CreatePipeline(desc *metadata.PipelineDesc, layout renderer.DescriptorLayout) (renderer.Pipeline, error) {
	l, ok := layout.(*DescriptorLayout)
	if !ok {
		return nil, errors.Wrapf(errNotVulkan, "descriptor layout %T", layout)
	}
	var (
		p   *Pipeline
		err error
	)
	if desc.Type == metadata.PipelineTypeCompute {
		p, err = g.newComputePipeline(desc, l)
	} else {
		p, err = g.newGraphicsPipeline(desc, l)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline %q", desc.Name)
	}
	core.LogDebug("Pipeline %q created", desc.Name)
	return p, nil
}

func (g *GPU) newComputePipeline(desc *metadata.PipelineDesc, l *DescriptorLayout) (*Pipeline, error) {
	stage, err := g.newShaderStage(desc.ComputeShader, vk.ShaderStageComputeBit, desc.EntryPoint)
	if err != nil {
		return nil, err
	}
	defer g.destroyShaderStages([]*shaderStage{stage})

	info := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stage.info,
		Layout:             l.pipeline,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(g.device, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{info}, g.allocator, pipelines); res != vk.Success {
		return nil, resultError(res, "vkCreateComputePipelines failed")
	}
	return &Pipeline{gpu: g, typ: metadata.PipelineTypeCompute, handle: pipelines[0], layout: l.pipeline}, nil
}

func (g *GPU) newGraphicsPipeline(desc *metadata.PipelineDesc, l *DescriptorLayout) (*Pipeline, error) {
	var stages []*shaderStage
	defer func() { g.destroyShaderStages(stages) }()

	vs, err := g.newShaderStage(desc.VertexShader, vk.ShaderStageVertexBit, desc.EntryPoint)
	if err != nil {
		return nil, errors.Wrap(err, "vertex shader")
	}
	stages = append(stages, vs)
	if len(desc.PixelShader) > 0 {
		ps, err := g.newShaderStage(desc.PixelShader, vk.ShaderStageFragmentBit, desc.EntryPoint)
		if err != nil {
			return nil, errors.Wrap(err, "pixel shader")
		}
		stages = append(stages, ps)
	}
	stageInfos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		stageInfos[i] = s.info
	}

	pass, err := g.pipelineRenderPass(desc)
	if err != nil {
		return nil, err
	}

	// Viewport and scissor are dynamic; the counts still have to be declared.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if desc.CullBackFaces {
		rasterizer.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		DepthCompareOp:    vk.CompareOpLessOrEqual,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(desc.ColorFormats))
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
			DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
				vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
		}
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   vkFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	if desc.VertexStride > 0 {
		vertexInput.VertexBindingDescriptionCount = 1
		vertexInput.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}}
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               topology(desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stageInfos)),
		PStages:             stageInfos,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              l.pipeline,
		RenderPass:          pass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(g.device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{info}, g.allocator, pipelines); res != vk.Success {
		return nil, resultError(res, "vkCreateGraphicsPipelines failed")
	}
	return &Pipeline{gpu: g, typ: metadata.PipelineTypeGraphics, handle: pipelines[0], layout: l.pipeline}, nil
}
