package loaders

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

func TestNewImageFlipY(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 2))
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Set(0, 1, color.NRGBA{B: 255, A: 255})

	img := NewImage("flip", "png", src, &ImageParams{FlipY: true})
	px := img.Block.Data[0]
	if px[0] != 0 || px[2] != 255 || px[4] != 255 || px[6] != 0 {
		t.Errorf("flipped rows\nhave %v\nwant blue row first", px)
	}
	if img.Desc.MipLevels != 1 {
		t.Errorf("MipLevels\nhave %d\nwant 1", img.Desc.MipLevels)
	}
}

func TestNewImageOffsetBounds(t *testing.T) {
	// Sub images keep their parent's origin; the copy must start at zero.
	parent := image.NewRGBA(image.Rect(0, 0, 4, 4))
	parent.Set(2, 2, color.RGBA{G: 255, A: 255})
	sub := parent.SubImage(image.Rect(2, 2, 4, 4))

	img := NewImage("sub", "png", sub, &ImageParams{SRGB: true})
	if img.Desc.Width != 2 || img.Desc.Height != 2 {
		t.Fatalf("extent\nhave %dx%d\nwant 2x2", img.Desc.Width, img.Desc.Height)
	}
	if px := img.Block.Data[0]; px[1] != 255 || px[3] != 255 {
		t.Errorf("texel 0,0\nhave %v\nwant green", px[0:4])
	}
	if !img.Desc.Format.IsSRGB() {
		t.Errorf("format\nhave %s\nwant an sRGB format", img.Desc.Format)
	}
}

func TestBytesToBytecode(t *testing.T) {
	if _, err := bytesToBytecode([]byte{1, 2, 3}); err == nil {
		t.Error("odd length\nhave nil error\nwant error")
	}
	if _, err := bytesToBytecode([]byte{0, 0, 0, 0}); err == nil {
		t.Error("bad magic\nhave nil error\nwant error")
	}
	code, err := bytesToBytecode([]byte{0x03, 0x02, 0x23, 0x07, 0xaa, 0, 0, 0})
	if err != nil || len(code) != 2 || code[1] != 0xaa {
		t.Errorf("decode\nhave %#x, %v\nwant [0x7230203 0xaa]", code, err)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadImage(filepath.Join(dir, "missing.png"), &ImageParams{}); err == nil {
		t.Error("LoadImage\nhave nil error\nwant error")
	}
	if _, err := LoadSPIRV(filepath.Join(dir, "missing.spv")); err == nil {
		t.Error("LoadSPIRV\nhave nil error\nwant error")
	}
	if _, err := LoadBitmapFont(filepath.Join(dir, "missing.fnt")); err == nil {
		t.Error("LoadBitmapFont\nhave nil error\nwant error")
	}
}

func TestBitmapFontGlyphLookup(t *testing.T) {
	f := &BitmapFont{Glyphs: []FontGlyph{{Codepoint: 32}, {Codepoint: 65, Width: 7}, {Codepoint: 97}}}
	if g, ok := f.Glyph(65); !ok || g.Width != 7 {
		t.Errorf("Glyph(A)\nhave %+v, %t\nwant width 7", g, ok)
	}
	if _, ok := f.Glyph(66); ok {
		t.Error("Glyph(B) found in a font without it")
	}
}
