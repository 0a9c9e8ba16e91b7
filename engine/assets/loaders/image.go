package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type ImageParams struct {
	// FlipY stores the rows bottom-up.
	FlipY bool
	// GenerateMips builds the full mip chain with a bilinear filter.
	GenerateMips bool
	// SRGB tags the texels as sRGB encoded.
	SRGB bool
}

// Image is a decoded RGBA8 texture ready for upload.
type Image struct {
	Desc  metadata.TextureDesc
	Block *metadata.TextureDataBlock
}

type ImageLoader struct{}

func (il *ImageLoader) Load(path string, params interface{}) (interface{}, error) {
	p, _ := params.(*ImageParams)
	if p == nil {
		p = &ImageParams{}
	}
	return LoadImage(path, p)
}

// LoadImage decodes png, jpeg, bmp, tiff or webp files into tightly packed RGBA8 subresources.
func LoadImage(path string, params *ImageParams) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %s", path)
	}
	defer file.Close()

	src, format, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %s", path)
	}
	return NewImage(path, format, src, params), nil
}

// NewImage converts src to RGBA8 and optionally builds its mip chain.
func NewImage(name, format string, src image.Image, params *ImageParams) *Image {
	base := toRGBA(src, params.FlipY)
	width, height := uint32(base.Rect.Dx()), uint32(base.Rect.Dy())

	mips := uint32(1)
	if params.GenerateMips {
		mips = math.MipCount(width, height, 1)
	}
	texFormat := metadata.FormatRGBA8Unorm
	if params.SRGB {
		texFormat = metadata.FormatRGBA8Srgb
	}

	block := &metadata.TextureDataBlock{Data: make([][]byte, mips)}
	block.Data[0] = base.Pix
	prev := base
	for mip := uint32(1); mip < mips; mip++ {
		next := image.NewRGBA(image.Rect(0, 0, int(math.MipExtent(width, mip)), int(math.MipExtent(height, mip))))
		draw.BiLinear.Scale(next, next.Rect, prev, prev.Rect, draw.Src, nil)
		block.Data[mip] = next.Pix
		prev = next
	}

	return &Image{
		Desc:  metadata.Tex2DDesc(name, texFormat, width, height, 1, mips, metadata.ResourceFlagsNone),
		Block: block,
	}
}

// toRGBA returns a tightly packed copy of src with its origin at zero.
func toRGBA(src image.Image, flipY bool) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	if flipY {
		stride := dst.Stride
		row := make([]byte, stride)
		for top, bottom := 0, dst.Rect.Dy()-1; top < bottom; top, bottom = top+1, bottom-1 {
			t := dst.Pix[top*stride : (top+1)*stride]
			u := dst.Pix[bottom*stride : (bottom+1)*stride]
			copy(row, t)
			copy(t, u)
			copy(u, row)
		}
	}
	return dst
}
