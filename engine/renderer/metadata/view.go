package metadata

type ViewType int

const (
	ViewTypeRTV ViewType = iota
	ViewTypeDSV
	ViewTypeTextureSRV
	ViewTypeTextureUAV
	ViewTypeBufferSRV
	ViewTypeBufferUAV
	ViewTypeCBV
	ViewTypeSampler
	ViewTypeAccelStructSRV
)

func (t ViewType) String() string {
	switch t {
	case ViewTypeRTV:
		return "RTV"
	case ViewTypeDSV:
		return "DSV"
	case ViewTypeTextureSRV:
		return "TextureSRV"
	case ViewTypeTextureUAV:
		return "TextureUAV"
	case ViewTypeBufferSRV:
		return "BufferSRV"
	case ViewTypeBufferUAV:
		return "BufferUAV"
	case ViewTypeCBV:
		return "CBV"
	case ViewTypeSampler:
		return "Sampler"
	case ViewTypeAccelStructSRV:
		return "AccelStructSRV"
	default:
		return "Unknown"
	}
}

func (t ViewType) IsTextureView() bool {
	return t == ViewTypeRTV || t == ViewTypeDSV || t == ViewTypeTextureSRV || t == ViewTypeTextureUAV
}

func (t ViewType) IsBufferView() bool {
	return t == ViewTypeBufferSRV || t == ViewTypeBufferUAV || t == ViewTypeCBV || t == ViewTypeAccelStructSRV
}

type ViewDimension int

const (
	ViewDimensionUnknown ViewDimension = iota
	ViewDimensionBuffer
	ViewDimensionTexture1D
	ViewDimensionTexture1DArray
	ViewDimensionTexture2D
	ViewDimensionTexture2DArray
	ViewDimensionTexture3D
	ViewDimensionTextureCube
)

// ViewHeapType names the fixed-capacity heaps views are allocated from.
type ViewHeapType int

const (
	ViewHeapCPUResource ViewHeapType = iota
	ViewHeapGPUResource
	ViewHeapGPUSampler
	ViewHeapCPURender
	ViewHeapCPUDepth

	ViewHeapTypeCount
)

func (h ViewHeapType) String() string {
	switch h {
	case ViewHeapCPUResource:
		return "CPUResource"
	case ViewHeapGPUResource:
		return "GPUResource"
	case ViewHeapGPUSampler:
		return "GPUSampler"
	case ViewHeapCPURender:
		return "CPURender"
	case ViewHeapCPUDepth:
		return "CPUDepth"
	default:
		return "Unknown"
	}
}

// Accepts reports whether views of type t may live in this heap.
func (h ViewHeapType) Accepts(t ViewType) bool {
	switch h {
	case ViewHeapCPURender:
		return t == ViewTypeRTV
	case ViewHeapCPUDepth:
		return t == ViewTypeDSV
	case ViewHeapGPUSampler:
		return t == ViewTypeSampler
	default:
		return t != ViewTypeRTV && t != ViewTypeDSV && t != ViewTypeSampler
	}
}

// TextureViewDesc selects the subresources a texture view covers.
type TextureViewDesc struct {
	Dimension  ViewDimension
	Format     ResourceFormat
	BaseMip    uint32
	MipCount   uint32
	FirstSlice uint32
	ArraySize  uint32
}

type BufferViewDesc struct {
	FirstElement uint64
	NumElements  uint64
	Stride       uint32
	Format       ResourceFormat
}

// Offset returns the byte offset of the view inside its buffer.
func (d *BufferViewDesc) Offset() uint64 {
	return d.FirstElement * uint64(d.Stride)
}

// Range returns the byte size of the view.
func (d *BufferViewDesc) Range() uint64 {
	return d.NumElements * uint64(d.Stride)
}

type Filter int

const (
	FilterMinMagMipPoint Filter = iota
	FilterMinMagLinearMipPoint
	FilterMinMagMipLinear
	FilterAnisotropic
)

type AddressMode int

const (
	AddressModeWrap AddressMode = iota
	AddressModeMirror
	AddressModeClamp
	AddressModeBorder
)

type ComparisonFunc int

const (
	ComparisonNever ComparisonFunc = iota
	ComparisonLess
	ComparisonEqual
	ComparisonLessEqual
	ComparisonGreater
	ComparisonNotEqual
	ComparisonGreaterEqual
	ComparisonAlways
)

type SamplerDesc struct {
	Filter        Filter
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	Comparison    ComparisonFunc
	UseComparison bool
	MinLOD        float32
	MaxLOD        float32
	MipLODBias    float32
	MaxAnisotropy uint32
}

func DefaultSamplerDesc() SamplerDesc {
	return SamplerDesc{
		Filter:        FilterMinMagMipLinear,
		AddressU:      AddressModeClamp,
		AddressV:      AddressModeClamp,
		AddressW:      AddressModeClamp,
		MaxLOD:        1000,
		MaxAnisotropy: 1,
	}
}
