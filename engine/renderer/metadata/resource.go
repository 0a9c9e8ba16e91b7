package metadata

import (
	"math"
	"strings"
)

// ResourceState is the GPU-visible state a resource (or one of its subresources) is in. States
// are bit flags so read-only states can be combined.
type ResourceState uint32

const (
	ResourceStateCommon               ResourceState = 0x0
	ResourceStateVertexBuffer         ResourceState = 0x1
	ResourceStateConstantBuffer       ResourceState = 0x2
	ResourceStateIndexBuffer          ResourceState = 0x4
	ResourceStateRenderTarget         ResourceState = 0x8
	ResourceStateUnorderedAccess      ResourceState = 0x10
	ResourceStateDepthWrite           ResourceState = 0x20
	ResourceStateDepthRead            ResourceState = 0x40
	ResourceStateNonPixelShader       ResourceState = 0x80
	ResourceStatePixelShader          ResourceState = 0x100
	ResourceStateIndirectArgument     ResourceState = 0x200
	ResourceStateCopyDest             ResourceState = 0x400
	ResourceStateCopySource           ResourceState = 0x800
	ResourceStateResolveDest          ResourceState = 0x1000
	ResourceStateResolveSource        ResourceState = 0x2000
	ResourceStateRTAccelerationStruct ResourceState = 0x4000
	ResourceStateShadingRateSource    ResourceState = 0x8000
	ResourceStatePresent              ResourceState = 0x10000

	ResourceStateShaderResource = ResourceStateNonPixelShader | ResourceStatePixelShader
	ResourceStateGenericRead    = ResourceStateVertexBuffer | ResourceStateConstantBuffer | ResourceStateIndexBuffer |
		ResourceStateShaderResource | ResourceStateIndirectArgument | ResourceStateCopySource

	// ResourceStateUndefined marks contents that were never written, e.g. a freshly allocated image.
	ResourceStateUndefined ResourceState = math.MaxUint32
)

const writableStates = ResourceStateRenderTarget | ResourceStateUnorderedAccess | ResourceStateDepthWrite |
	ResourceStateCopyDest | ResourceStateResolveDest | ResourceStateRTAccelerationStruct

// IsReadOnly reports whether the state only allows reads. Undefined, Common and Present are not
// considered read-only shader states.
func (s ResourceState) IsReadOnly() bool {
	if s == ResourceStateUndefined || s == ResourceStateCommon || s == ResourceStatePresent {
		return false
	}
	return s&writableStates == 0
}

// IsShaderRead reports whether the state is a read-only state sampled by shaders.
func (s ResourceState) IsShaderRead() bool {
	return s.IsReadOnly() && s&ResourceStateShaderResource != 0
}

var stateNames = []struct {
	state ResourceState
	name  string
}{
	{ResourceStateVertexBuffer, "VertexBuffer"},
	{ResourceStateConstantBuffer, "ConstantBuffer"},
	{ResourceStateIndexBuffer, "IndexBuffer"},
	{ResourceStateRenderTarget, "RenderTarget"},
	{ResourceStateUnorderedAccess, "UnorderedAccess"},
	{ResourceStateDepthWrite, "DepthWrite"},
	{ResourceStateDepthRead, "DepthRead"},
	{ResourceStateNonPixelShader, "NonPixelShaderResource"},
	{ResourceStatePixelShader, "PixelShaderResource"},
	{ResourceStateIndirectArgument, "IndirectArgument"},
	{ResourceStateCopyDest, "CopyDest"},
	{ResourceStateCopySource, "CopySource"},
	{ResourceStateResolveDest, "ResolveDest"},
	{ResourceStateResolveSource, "ResolveSource"},
	{ResourceStateRTAccelerationStruct, "RTAccelerationStruct"},
	{ResourceStateShadingRateSource, "ShadingRateSource"},
	{ResourceStatePresent, "Present"},
}

func (s ResourceState) String() string {
	switch s {
	case ResourceStateUndefined:
		return "Undefined"
	case ResourceStateCommon:
		return "Common"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.state != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

type ResourceKind int

const (
	ResourceKindTexture ResourceKind = iota
	ResourceKindBuffer
)

func (k ResourceKind) String() string {
	if k == ResourceKindBuffer {
		return "Buffer"
	}
	return "Texture"
}

// ResourceFlags describe how a resource may be used beyond plain shader reads.
type ResourceFlags uint32

const (
	ResourceFlagsNone                    ResourceFlags = 0x0
	ResourceFlagsAllowRenderTarget       ResourceFlags = 0x1
	ResourceFlagsAllowDepthStencil       ResourceFlags = 0x2
	ResourceFlagsAllowUnorderedAccess    ResourceFlags = 0x4
	ResourceFlagsDenyShaderResource      ResourceFlags = 0x8
	ResourceFlagsAllowSimultaneousAccess ResourceFlags = 0x10
	ResourceFlagsAllowShadingRate        ResourceFlags = 0x20
	ResourceFlagsAllowIndirect           ResourceFlags = 0x40
	ResourceFlagsAllowConstantBuffer     ResourceFlags = 0x80
	ResourceFlagsAllowVertexBuffer       ResourceFlags = 0x100
	ResourceFlagsAllowIndexBuffer        ResourceFlags = 0x200
)

// AllSubresources addresses every mip and slice of a resource at once.
const AllSubresources uint32 = math.MaxUint32

// SubresourceIndex flattens a mip/slice pair.
func SubresourceIndex(mip, slice, mipLevels uint32) uint32 {
	return mip + slice*mipLevels
}

// SubresourceRange addresses a contiguous block of mips and slices.
type SubresourceRange struct {
	BaseMip    uint32
	MipCount   uint32
	BaseSlice  uint32
	SliceCount uint32
}
