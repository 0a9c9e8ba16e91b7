package metadata

import "strings"

type ShaderStage uint32

const (
	ShaderStageVertex   ShaderStage = 0x1
	ShaderStageHull     ShaderStage = 0x2
	ShaderStageDomain   ShaderStage = 0x4
	ShaderStageGeometry ShaderStage = 0x8
	ShaderStagePixel    ShaderStage = 0x10
	ShaderStageCompute  ShaderStage = 0x20

	ShaderStageAllGraphics = ShaderStageVertex | ShaderStageHull | ShaderStageDomain | ShaderStageGeometry | ShaderStagePixel
	ShaderStageAll         = ShaderStageAllGraphics | ShaderStageCompute
)

var shaderStageNames = []struct {
	stage ShaderStage
	name  string
}{
	{ShaderStageVertex, "Vertex"},
	{ShaderStageHull, "Hull"},
	{ShaderStageDomain, "Domain"},
	{ShaderStageGeometry, "Geometry"},
	{ShaderStagePixel, "Pixel"},
	{ShaderStageCompute, "Compute"},
}

// Stages splits a mask into its individual stages, lowest bit first.
func (s ShaderStage) Stages() []ShaderStage {
	var out []ShaderStage
	for _, n := range shaderStageNames {
		if s&n.stage != 0 {
			out = append(out, n.stage)
		}
	}
	return out
}

func (s ShaderStage) String() string {
	var parts []string
	for _, n := range shaderStageNames {
		if s&n.stage != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// BindingType is the kind of a root signature binding. The declaration order is the order in
// which descriptor ranges are laid out.
type BindingType int

const (
	BindingTypeTextureSRV BindingType = iota
	BindingTypeTextureUAV
	BindingTypeBufferSRV
	BindingTypeAccelStructRT
	BindingTypeBufferUAV
	BindingTypeCBV
	BindingTypeSampler
	BindingTypeRootConstant

	BindingTypeCount
)

func (t BindingType) String() string {
	switch t {
	case BindingTypeTextureSRV:
		return "TextureSRV"
	case BindingTypeTextureUAV:
		return "TextureUAV"
	case BindingTypeBufferSRV:
		return "BufferSRV"
	case BindingTypeAccelStructRT:
		return "AccelStructRT"
	case BindingTypeBufferUAV:
		return "BufferUAV"
	case BindingTypeCBV:
		return "CBV"
	case BindingTypeSampler:
		return "Sampler"
	case BindingTypeRootConstant:
		return "RootConstant"
	default:
		return "Unknown"
	}
}

// BindingDesc declares a range of shader registers of one type.
type BindingDesc struct {
	Type               BindingType
	BaseShaderRegister uint32
	// Assigned when the root signature is built.
	BindingIndex uint32
	Count        uint32
	Stages       ShaderStage
	// Root constants only: number of 32-bit values.
	NumConstants uint32
}

// Contains reports whether a shader register falls in the binding's range.
func (b *BindingDesc) Contains(register uint32) bool {
	return register >= b.BaseShaderRegister && register < b.BaseShaderRegister+b.Count
}

type PipelineType int

const (
	PipelineTypeGraphics PipelineType = iota
	PipelineTypeCompute
)

type PrimitiveTopology int

const (
	TopologyTriangleList PrimitiveTopology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

type VertexAttribute struct {
	Location uint32
	Format   ResourceFormat
	Offset   uint32
}

// PipelineDesc holds compiled shader code (SPIR-V for the Vulkan backend) plus the fixed
// function state a pipeline is built with.
type PipelineDesc struct {
	Name          string
	Type          PipelineType
	ComputeShader []byte
	VertexShader  []byte
	PixelShader   []byte
	EntryPoint    string

	Topology         PrimitiveTopology
	VertexStride     uint32
	VertexAttributes []VertexAttribute
	ColorFormats     []ResourceFormat
	DepthFormat      ResourceFormat
	DepthTest        bool
	DepthWrite       bool
	CullBackFaces    bool
}
