package metadata

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type ResourceFormat int

const (
	FormatUnknown ResourceFormat = iota

	// 8-bit
	FormatR8Unorm
	FormatR8Uint

	// 16-bit
	FormatR16Float
	FormatR16Unorm
	FormatR16Uint
	FormatRG8Unorm

	// 32-bit
	FormatR32Float
	FormatR32Uint
	FormatRG16Float
	FormatRGBA8Unorm
	FormatRGBA8Snorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatRGB10A2Unorm
	FormatRG11B10Float

	// 64-bit
	FormatRG32Float
	FormatRGBA16Float
	FormatRGBA16Unorm

	// 96/128-bit
	FormatRGB32Float
	FormatRGBA32Float
	FormatRGBA32Uint

	// Depth
	FormatD16Unorm
	FormatD32Float
	FormatD24UnormS8Uint
	FormatD32FloatS8Uint

	// Block compressed
	FormatBC1Unorm
	FormatBC1Srgb
	FormatBC3Unorm
	FormatBC3Srgb
	FormatBC4Unorm
	FormatBC5Unorm
	FormatBC7Unorm
	FormatBC7Srgb

	formatCount
)

type formatInfo struct {
	name string
	// bytes per texel, or per 4x4 block when compressed
	size       uint32
	compressed bool
	depth      bool
	stencil    bool
	srgb       bool
}

var formatInfos = [formatCount]formatInfo{
	FormatUnknown:        {name: "UNKNOWN"},
	FormatR8Unorm:        {name: "R8_UNORM", size: 1},
	FormatR8Uint:         {name: "R8_UINT", size: 1},
	FormatR16Float:       {name: "R16_FLOAT", size: 2},
	FormatR16Unorm:       {name: "R16_UNORM", size: 2},
	FormatR16Uint:        {name: "R16_UINT", size: 2},
	FormatRG8Unorm:       {name: "RG8_UNORM", size: 2},
	FormatR32Float:       {name: "R32_FLOAT", size: 4},
	FormatR32Uint:        {name: "R32_UINT", size: 4},
	FormatRG16Float:      {name: "RG16_FLOAT", size: 4},
	FormatRGBA8Unorm:     {name: "RGBA8_UNORM", size: 4},
	FormatRGBA8Snorm:     {name: "RGBA8_SNORM", size: 4},
	FormatRGBA8Srgb:      {name: "RGBA8_SRGB", size: 4, srgb: true},
	FormatBGRA8Unorm:     {name: "BGRA8_UNORM", size: 4},
	FormatBGRA8Srgb:      {name: "BGRA8_SRGB", size: 4, srgb: true},
	FormatRGB10A2Unorm:   {name: "RGB10A2_UNORM", size: 4},
	FormatRG11B10Float:   {name: "RG11B10_FLOAT", size: 4},
	FormatRG32Float:      {name: "RG32_FLOAT", size: 8},
	FormatRGBA16Float:    {name: "RGBA16_FLOAT", size: 8},
	FormatRGBA16Unorm:    {name: "RGBA16_UNORM", size: 8},
	FormatRGB32Float:     {name: "RGB32_FLOAT", size: 12},
	FormatRGBA32Float:    {name: "RGBA32_FLOAT", size: 16},
	FormatRGBA32Uint:     {name: "RGBA32_UINT", size: 16},
	FormatD16Unorm:       {name: "D16_UNORM", size: 2, depth: true},
	FormatD32Float:       {name: "D32_FLOAT", size: 4, depth: true},
	FormatD24UnormS8Uint: {name: "D24_UNORM_S8_UINT", size: 4, depth: true, stencil: true},
	FormatD32FloatS8Uint: {name: "D32_FLOAT_S8_UINT", size: 8, depth: true, stencil: true},
	FormatBC1Unorm:       {name: "BC1_UNORM", size: 8, compressed: true},
	FormatBC1Srgb:        {name: "BC1_SRGB", size: 8, compressed: true, srgb: true},
	FormatBC3Unorm:       {name: "BC3_UNORM", size: 16, compressed: true},
	FormatBC3Srgb:        {name: "BC3_SRGB", size: 16, compressed: true, srgb: true},
	FormatBC4Unorm:       {name: "BC4_UNORM", size: 8, compressed: true},
	FormatBC5Unorm:       {name: "BC5_UNORM", size: 16, compressed: true},
	FormatBC7Unorm:       {name: "BC7_UNORM", size: 16, compressed: true},
	FormatBC7Srgb:        {name: "BC7_SRGB", size: 16, compressed: true, srgb: true},
}

func (f ResourceFormat) info() formatInfo {
	if f < 0 || f >= formatCount {
		return formatInfos[FormatUnknown]
	}
	return formatInfos[f]
}

func (f ResourceFormat) String() string { return f.info().name }

// BlockSize is the number of bytes of one texel, or of one 4x4 block for compressed formats.
func (f ResourceFormat) BlockSize() uint32 { return f.info().size }

// BlockDim is the edge length in texels covered by one block.
func (f ResourceFormat) BlockDim() uint32 {
	if f.info().compressed {
		return 4
	}
	return 1
}

func (f ResourceFormat) IsBlockCompressed() bool { return f.info().compressed }
func (f ResourceFormat) IsDepth() bool           { return f.info().depth }
func (f ResourceFormat) HasStencil() bool        { return f.info().stencil }
func (f ResourceFormat) IsSRGB() bool            { return f.info().srgb }

// ParseResourceFormat maps a config name such as "RGBA8_UNORM" onto its format.
func ParseResourceFormat(name string) (ResourceFormat, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for f := FormatUnknown + 1; f < formatCount; f++ {
		if formatInfos[f].name == name {
			return f, nil
		}
	}
	return FormatUnknown, errors.Newf("unknown resource format %q", name)
}
