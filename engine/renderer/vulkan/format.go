package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

var formats = map[metadata.ResourceFormat]vk.Format{
	metadata.FormatR8Unorm:        vk.FormatR8Unorm,
	metadata.FormatR8Uint:         vk.FormatR8Uint,
	metadata.FormatR16Float:       vk.FormatR16Sfloat,
	metadata.FormatR16Unorm:       vk.FormatR16Unorm,
	metadata.FormatR16Uint:        vk.FormatR16Uint,
	metadata.FormatRG8Unorm:       vk.FormatR8g8Unorm,
	metadata.FormatR32Float:       vk.FormatR32Sfloat,
	metadata.FormatR32Uint:        vk.FormatR32Uint,
	metadata.FormatRG16Float:      vk.FormatR16g16Sfloat,
	metadata.FormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	metadata.FormatRGBA8Snorm:     vk.FormatR8g8b8a8Snorm,
	metadata.FormatRGBA8Srgb:      vk.FormatR8g8b8a8Srgb,
	metadata.FormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	metadata.FormatBGRA8Srgb:      vk.FormatB8g8r8a8Srgb,
	metadata.FormatRGB10A2Unorm:   vk.FormatA2b10g10r10UnormPack32,
	metadata.FormatRG11B10Float:   vk.FormatB10g11r11UfloatPack32,
	metadata.FormatRG32Float:      vk.FormatR32g32Sfloat,
	metadata.FormatRGBA16Float:    vk.FormatR16g16b16a16Sfloat,
	metadata.FormatRGBA16Unorm:    vk.FormatR16g16b16a16Unorm,
	metadata.FormatRGB32Float:     vk.FormatR32g32b32Sfloat,
	metadata.FormatRGBA32Float:    vk.FormatR32g32b32a32Sfloat,
	metadata.FormatRGBA32Uint:     vk.FormatR32g32b32a32Uint,
	metadata.FormatD16Unorm:       vk.FormatD16Unorm,
	metadata.FormatD32Float:       vk.FormatD32Sfloat,
	metadata.FormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
	metadata.FormatD32FloatS8Uint: vk.FormatD32SfloatS8Uint,
	metadata.FormatBC1Unorm:       vk.FormatBc1RgbaUnormBlock,
	metadata.FormatBC1Srgb:        vk.FormatBc1RgbaSrgbBlock,
	metadata.FormatBC3Unorm:       vk.FormatBc3UnormBlock,
	metadata.FormatBC3Srgb:        vk.FormatBc3SrgbBlock,
	metadata.FormatBC4Unorm:       vk.FormatBc4UnormBlock,
	metadata.FormatBC5Unorm:       vk.FormatBc5UnormBlock,
	metadata.FormatBC7Unorm:       vk.FormatBc7UnormBlock,
	metadata.FormatBC7Srgb:        vk.FormatBc7SrgbBlock,
}

func vkFormat(f metadata.ResourceFormat) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

func resourceFormat(f vk.Format) metadata.ResourceFormat {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return metadata.FormatUnknown
}

func aspectMask(f metadata.ResourceFormat) vk.ImageAspectFlags {
	switch {
	case f.HasStencil():
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	case f.IsDepth():
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	default:
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
}

// stateLayout picks the image layout a resource state lives in. Read-only shader states win over
// copy reads so sampled images stay in SHADER_READ_ONLY_OPTIMAL, the layout descriptors use.
func stateLayout(s metadata.ResourceState, f metadata.ResourceFormat) vk.ImageLayout {
	switch {
	case s == metadata.ResourceStateUndefined:
		return vk.ImageLayoutUndefined
	case s == metadata.ResourceStateCommon:
		return vk.ImageLayoutGeneral
	case s&metadata.ResourceStatePresent != 0:
		return vk.ImageLayoutPresentSrc
	case s&metadata.ResourceStateRenderTarget != 0:
		return vk.ImageLayoutColorAttachmentOptimal
	case s&metadata.ResourceStateDepthWrite != 0:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case s&metadata.ResourceStateDepthRead != 0:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case s&(metadata.ResourceStateUnorderedAccess|metadata.ResourceStateShadingRateSource) != 0:
		return vk.ImageLayoutGeneral
	case s&(metadata.ResourceStateCopyDest|metadata.ResourceStateResolveDest) != 0:
		return vk.ImageLayoutTransferDstOptimal
	case s&metadata.ResourceStateShaderResource != 0:
		if f.IsDepth() {
			return vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		return vk.ImageLayoutShaderReadOnlyOptimal
	case s&(metadata.ResourceStateCopySource|metadata.ResourceStateResolveSource) != 0:
		return vk.ImageLayoutTransferSrcOptimal
	default:
		return vk.ImageLayoutGeneral
	}
}

type stateAccess struct {
	state  metadata.ResourceState
	access vk.AccessFlagBits
	stage  vk.PipelineStageFlagBits
}

var stateAccesses = []stateAccess{
	{metadata.ResourceStateVertexBuffer, vk.AccessVertexAttributeReadBit, vk.PipelineStageVertexInputBit},
	{metadata.ResourceStateIndexBuffer, vk.AccessIndexReadBit, vk.PipelineStageVertexInputBit},
	{metadata.ResourceStateConstantBuffer, vk.AccessUniformReadBit, vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit},
	{metadata.ResourceStateRenderTarget, vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit, vk.PipelineStageColorAttachmentOutputBit},
	{metadata.ResourceStateUnorderedAccess, vk.AccessShaderReadBit | vk.AccessShaderWriteBit, vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit},
	{metadata.ResourceStateDepthWrite, vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit, vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit},
	{metadata.ResourceStateDepthRead, vk.AccessDepthStencilAttachmentReadBit, vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit},
	{metadata.ResourceStateNonPixelShader, vk.AccessShaderReadBit, vk.PipelineStageVertexShaderBit | vk.PipelineStageComputeShaderBit},
	{metadata.ResourceStatePixelShader, vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit},
	{metadata.ResourceStateIndirectArgument, vk.AccessIndirectCommandReadBit, vk.PipelineStageDrawIndirectBit},
	{metadata.ResourceStateCopyDest, vk.AccessTransferWriteBit, vk.PipelineStageTransferBit},
	{metadata.ResourceStateCopySource, vk.AccessTransferReadBit, vk.PipelineStageTransferBit},
	{metadata.ResourceStateResolveDest, vk.AccessTransferWriteBit, vk.PipelineStageTransferBit},
	{metadata.ResourceStateResolveSource, vk.AccessTransferReadBit, vk.PipelineStageTransferBit},
	{metadata.ResourceStateShadingRateSource, vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit},
	{metadata.ResourceStatePresent, 0, vk.PipelineStageBottomOfPipeBit},
}

// stateMasks returns the access and stage masks covering every bit of s.
func stateMasks(s metadata.ResourceState) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch s {
	case metadata.ResourceStateUndefined:
		return 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	case metadata.ResourceStateCommon:
		return vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit), vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	var access vk.AccessFlags
	var stage vk.PipelineStageFlags
	for _, a := range stateAccesses {
		if s&a.state != 0 {
			access |= vk.AccessFlags(a.access)
			stage |= vk.PipelineStageFlags(a.stage)
		}
	}
	if stage == 0 {
		stage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	return access, stage
}

const graphicsOnlyStages = vk.PipelineStageFlags(vk.PipelineStageVertexInputBit | vk.PipelineStageVertexShaderBit |
	vk.PipelineStageFragmentShaderBit | vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit |
	vk.PipelineStageColorAttachmentOutputBit)

// queueStages drops the stages a queue cannot execute, widening to ALL_COMMANDS so the barrier
// still orders against everything the queue did.
func queueStages(queue metadata.QueueType, stages vk.PipelineStageFlags) vk.PipelineStageFlags {
	if queue == metadata.QueueGraphics || stages&graphicsOnlyStages == 0 {
		return stages
	}
	stages &^= graphicsOnlyStages
	if queue == metadata.QueueCopy {
		stages &^= vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit | vk.PipelineStageDrawIndirectBit)
	}
	return stages | vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
}

func shaderStages(s metadata.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlags
	if s&metadata.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	}
	if s&metadata.ShaderStageHull != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageTessellationControlBit)
	}
	if s&metadata.ShaderStageDomain != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageTessellationEvaluationBit)
	}
	if s&metadata.ShaderStageGeometry != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageGeometryBit)
	}
	if s&metadata.ShaderStagePixel != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	}
	if s&metadata.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return flags
}

// descriptorType maps a binding onto its descriptor type. Constant buffers are dynamic so a
// parameter set can move them through the dynamic buffer pool without rewriting descriptors.
func descriptorType(t metadata.BindingType) vk.DescriptorType {
	switch t {
	case metadata.BindingTypeTextureSRV:
		return vk.DescriptorTypeSampledImage
	case metadata.BindingTypeTextureUAV:
		return vk.DescriptorTypeStorageImage
	case metadata.BindingTypeBufferSRV, metadata.BindingTypeBufferUAV, metadata.BindingTypeAccelStructRT:
		return vk.DescriptorTypeStorageBuffer
	case metadata.BindingTypeCBV:
		return vk.DescriptorTypeUniformBufferDynamic
	case metadata.BindingTypeSampler:
		return vk.DescriptorTypeSampler
	default:
		return vk.DescriptorTypeMaxEnum
	}
}

func samplerFilters(f metadata.Filter) (minMag vk.Filter, mip vk.SamplerMipmapMode) {
	switch f {
	case metadata.FilterMinMagMipPoint:
		return vk.FilterNearest, vk.SamplerMipmapModeNearest
	case metadata.FilterMinMagLinearMipPoint:
		return vk.FilterLinear, vk.SamplerMipmapModeNearest
	default:
		return vk.FilterLinear, vk.SamplerMipmapModeLinear
	}
}

func addressMode(m metadata.AddressMode) vk.SamplerAddressMode {
	switch m {
	case metadata.AddressModeMirror:
		return vk.SamplerAddressModeMirroredRepeat
	case metadata.AddressModeClamp:
		return vk.SamplerAddressModeClampToEdge
	case metadata.AddressModeBorder:
		return vk.SamplerAddressModeClampToBorder
	default:
		return vk.SamplerAddressModeRepeat
	}
}

func compareOp(c metadata.ComparisonFunc) vk.CompareOp {
	switch c {
	case metadata.ComparisonLess:
		return vk.CompareOpLess
	case metadata.ComparisonEqual:
		return vk.CompareOpEqual
	case metadata.ComparisonLessEqual:
		return vk.CompareOpLessOrEqual
	case metadata.ComparisonGreater:
		return vk.CompareOpGreater
	case metadata.ComparisonNotEqual:
		return vk.CompareOpNotEqual
	case metadata.ComparisonGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	case metadata.ComparisonAlways:
		return vk.CompareOpAlways
	default:
		return vk.CompareOpNever
	}
}

func topology(t metadata.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case metadata.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case metadata.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case metadata.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}
