package loaders

import (
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/fzipp/bmfont"
)

type FontGlyph struct {
	Codepoint int32
	X         uint16
	Y         uint16
	Width     uint16
	Height    uint16
	XOffset   int16
	YOffset   int16
	XAdvance  int16
	PageID    uint8
}

type FontKerning struct {
	Codepoint0 int32
	Codepoint1 int32
	Amount     int16
}

// BitmapFont is an AngelCode font descriptor plus its decoded atlas pages, indexed by page id.
type BitmapFont struct {
	Face       string
	Size       uint32
	LineHeight int32
	Baseline   int32
	AtlasSizeX int32
	AtlasSizeY int32
	Glyphs     []FontGlyph
	Kernings   []FontKerning
	Pages      []*Image
}

type BitmapFontLoader struct{}

func (fl *BitmapFontLoader) Load(path string, params interface{}) (interface{}, error) {
	return LoadBitmapFont(path)
}

// LoadBitmapFont reads a .fnt descriptor. Page images are resolved next to it and uploaded
// without mips, since glyph quads sample the atlas at texel scale.
func LoadBitmapFont(path string) (*BitmapFont, error) {
	font, err := bmfont.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load bitmap font %s", path)
	}
	desc := font.Descriptor

	out := &BitmapFont{
		Face:       desc.Info.Face,
		Size:       uint32(desc.Info.Size),
		LineHeight: int32(desc.Common.LineHeight),
		Baseline:   int32(desc.Common.Base),
		AtlasSizeX: int32(desc.Common.ScaleW),
		AtlasSizeY: int32(desc.Common.ScaleH),
		Glyphs:     make([]FontGlyph, 0, len(desc.Chars)),
		Kernings:   make([]FontKerning, 0, len(desc.Kerning)),
		Pages:      make([]*Image, len(desc.Pages)),
	}

	dir := filepath.Dir(path)
	for _, p := range desc.Pages {
		if int(p.ID) < 0 || int(p.ID) >= len(out.Pages) {
			return nil, errors.Newf("font %s: page id %d out of range", path, p.ID)
		}
		page, err := LoadImage(filepath.Join(dir, p.File), &ImageParams{})
		if err != nil {
			return nil, err
		}
		out.Pages[p.ID] = page
	}

	for _, g := range desc.Chars {
		out.Glyphs = append(out.Glyphs, FontGlyph{
			Codepoint: g.ID,
			X:         uint16(g.X),
			Y:         uint16(g.Y),
			Width:     uint16(g.Width),
			Height:    uint16(g.Height),
			XOffset:   int16(g.XOffset),
			YOffset:   int16(g.YOffset),
			XAdvance:  int16(g.XAdvance),
			PageID:    uint8(g.Page),
		})
	}
	// Map iteration order is random; lookups binary search on codepoint.
	sort.Slice(out.Glyphs, func(i, j int) bool { return out.Glyphs[i].Codepoint < out.Glyphs[j].Codepoint })

	for pair, k := range desc.Kerning {
		out.Kernings = append(out.Kernings, FontKerning{
			Codepoint0: pair.First,
			Codepoint1: pair.Second,
			Amount:     int16(k.Amount),
		})
	}
	sort.Slice(out.Kernings, func(i, j int) bool {
		a, b := out.Kernings[i], out.Kernings[j]
		if a.Codepoint0 != b.Codepoint0 {
			return a.Codepoint0 < b.Codepoint0
		}
		return a.Codepoint1 < b.Codepoint1
	})
	return out, nil
}

// Glyph returns the glyph for codepoint.
func (f *BitmapFont) Glyph(codepoint int32) (FontGlyph, bool) {
	i := sort.Search(len(f.Glyphs), func(i int) bool { return f.Glyphs[i].Codepoint >= codepoint })
	if i < len(f.Glyphs) && f.Glyphs[i].Codepoint == codepoint {
		return f.Glyphs[i], true
	}
	return FontGlyph{}, false
}
