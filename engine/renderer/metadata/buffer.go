package metadata

type BufferType int

const (
	BufferTypeVertex BufferType = iota
	BufferTypeIndex
	BufferTypeConstant
	BufferTypeAccelerationStructure
	BufferTypeData
)

func (t BufferType) String() string {
	switch t {
	case BufferTypeVertex:
		return "Vertex"
	case BufferTypeIndex:
		return "Index"
	case BufferTypeConstant:
		return "Constant"
	case BufferTypeAccelerationStructure:
		return "AccelerationStructure"
	default:
		return "Data"
	}
}

type BufferDesc struct {
	Name      string
	Type      BufferType
	Flags     ResourceFlags
	Size      uint64
	Alignment uint64
	Stride    uint32
	// Index format for index buffers (R16_UINT or R32_UINT).
	Format ResourceFormat
}

func VertexBufferDesc(name string, size uint64, stride uint32) BufferDesc {
	return BufferDesc{Name: name, Type: BufferTypeVertex, Size: size, Stride: stride, Flags: ResourceFlagsAllowVertexBuffer}
}

func IndexBufferDesc(name string, size uint64, format ResourceFormat) BufferDesc {
	stride := uint32(2)
	if format == FormatR32Uint {
		stride = 4
	}
	return BufferDesc{Name: name, Type: BufferTypeIndex, Size: size, Stride: stride, Format: format, Flags: ResourceFlagsAllowIndexBuffer}
}

func ConstantBufferDesc(name string, size uint64) BufferDesc {
	return BufferDesc{Name: name, Type: BufferTypeConstant, Size: size, Alignment: 256, Flags: ResourceFlagsAllowConstantBuffer}
}

func DataBufferDesc(name string, size uint64, stride uint32, flags ResourceFlags) BufferDesc {
	return BufferDesc{Name: name, Type: BufferTypeData, Size: size, Stride: stride, Flags: flags}
}
