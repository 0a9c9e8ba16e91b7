package metadata

import "github.com/spaghettifunk/cauldron/engine/math"

type TextureDimension int

const (
	TextureDimension1D TextureDimension = iota
	TextureDimension2D
	TextureDimension3D
	TextureDimensionCube
)

func (d TextureDimension) String() string {
	switch d {
	case TextureDimension1D:
		return "1D"
	case TextureDimension3D:
		return "3D"
	case TextureDimensionCube:
		return "Cube"
	default:
		return "2D"
	}
}

// TextureDesc describes a texture. For 3D textures DepthOrArraySize is the depth, otherwise it
// is the number of array slices (6 per cube).
type TextureDesc struct {
	Name             string
	Format           ResourceFormat
	Flags            ResourceFlags
	Dimension        TextureDimension
	Width            uint32
	Height           uint32
	DepthOrArraySize uint32
	// Zero requests a full mip chain, corrected once the texture is created.
	MipLevels uint32
}

func Tex1DDesc(name string, format ResourceFormat, width, arraySize, mipLevels uint32, flags ResourceFlags) TextureDesc {
	return TextureDesc{
		Name:             name,
		Format:           format,
		Flags:            flags,
		Dimension:        TextureDimension1D,
		Width:            width,
		Height:           1,
		DepthOrArraySize: arraySize,
		MipLevels:        mipLevels,
	}
}

func Tex2DDesc(name string, format ResourceFormat, width, height, arraySize, mipLevels uint32, flags ResourceFlags) TextureDesc {
	return TextureDesc{
		Name:             name,
		Format:           format,
		Flags:            flags,
		Dimension:        TextureDimension2D,
		Width:            width,
		Height:           height,
		DepthOrArraySize: arraySize,
		MipLevels:        mipLevels,
	}
}

func Tex3DDesc(name string, format ResourceFormat, width, height, depth, mipLevels uint32, flags ResourceFlags) TextureDesc {
	return TextureDesc{
		Name:             name,
		Format:           format,
		Flags:            flags,
		Dimension:        TextureDimension3D,
		Width:            width,
		Height:           height,
		DepthOrArraySize: depth,
		MipLevels:        mipLevels,
	}
}

// TexCubeDesc describes depth cubes, each made of six faces.
func TexCubeDesc(name string, format ResourceFormat, width, height, depth, mipLevels uint32, flags ResourceFlags) TextureDesc {
	return TextureDesc{
		Name:             name,
		Format:           format,
		Flags:            flags,
		Dimension:        TextureDimensionCube,
		Width:            width,
		Height:           height,
		DepthOrArraySize: 6 * depth,
		MipLevels:        mipLevels,
	}
}

// ArraySize is the number of slices, always 1 for volume textures.
func (d *TextureDesc) ArraySize() uint32 {
	if d.Dimension == TextureDimension3D || d.DepthOrArraySize == 0 {
		return 1
	}
	return d.DepthOrArraySize
}

// Depth is the volume depth, always 1 for non-volume textures.
func (d *TextureDesc) Depth() uint32 {
	if d.Dimension != TextureDimension3D || d.DepthOrArraySize == 0 {
		return 1
	}
	return d.DepthOrArraySize
}

func (d *TextureDesc) FullMipChain() uint32 {
	return math.MipCount(d.Width, d.Height, d.Depth())
}

func (d *TextureDesc) SubresourceCount() uint32 {
	return d.MipLevels * d.ArraySize()
}

// MipExtent returns the size in texels of the given mip.
func (d *TextureDesc) MipExtent(mip uint32) math.Extent3D {
	return math.Extent3D{
		Width:  math.MipExtent(d.Width, mip),
		Height: math.MipExtent(d.Height, mip),
		Depth:  math.MipExtent(d.Depth(), mip),
	}
}

// MipFootprint returns the tightly packed layout of one slice of a mip: bytes per row of
// blocks, number of block rows and depth.
func (d *TextureDesc) MipFootprint(mip uint32) (rowBytes, rows, depth uint32) {
	e := d.MipExtent(mip)
	dim := d.Format.BlockDim()
	blocksWide := (e.Width + dim - 1) / dim
	blocksHigh := (e.Height + dim - 1) / dim
	return blocksWide * d.Format.BlockSize(), blocksHigh, e.Depth
}

// MipSize is the packed byte size of one slice of a mip.
func (d *TextureDesc) MipSize(mip uint32) uint64 {
	rowBytes, rows, depth := d.MipFootprint(mip)
	return uint64(rowBytes) * uint64(rows) * uint64(depth)
}

// TextureDataBlock holds CPU-side texel data to upload. Data is indexed by subresource
// (mip + slice*MipLevels), each entry tightly packed as reported by MipFootprint.
type TextureDataBlock struct {
	Data [][]byte
}

// Subresource returns the data for one mip/slice, nil if missing.
func (b *TextureDataBlock) Subresource(desc *TextureDesc, mip, slice uint32) []byte {
	i := SubresourceIndex(mip, slice, desc.MipLevels)
	if int(i) >= len(b.Data) {
		return nil
	}
	return b.Data[i]
}
