package math

import "testing"

func TestAlignUp(t *testing.T) {
	cases := []struct{ v, align, want uint64 }{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{100, 1, 100},
		{7, 0, 7},
	}
	for _, c := range cases {
		if got := AlignUp(c.v, c.align); got != c.want {
			t.Errorf("AlignUp(%d, %d)\nhave %d\nwant %d", c.v, c.align, got, c.want)
		}
	}
}

func TestMipCount(t *testing.T) {
	cases := []struct{ w, h, d, want uint32 }{
		{1, 1, 1, 1},
		{256, 256, 1, 9},
		{1920, 1080, 1, 11},
		{4, 64, 2, 7},
		{0, 0, 0, 1},
	}
	for _, c := range cases {
		if got := MipCount(c.w, c.h, c.d); got != c.want {
			t.Errorf("MipCount(%d, %d, %d)\nhave %d\nwant %d", c.w, c.h, c.d, got, c.want)
		}
	}
	if got := MipExtent(5, 3); got != 1 {
		t.Errorf("MipExtent(5, 3)\nhave %d\nwant 1", got)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(5, 0, 3) != 3 || Clamp(-1.5, 0.0, 1.0) != 0 || Clamp(2, 1, 4) != 2 {
		t.Error("Clamp returned a value outside its range")
	}
}
