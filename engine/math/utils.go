package math

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Max returns the larger of a and b.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// AlignUp rounds v up to the next multiple of align. align must be a power of two.
func AlignUp[T constraints.Unsigned](v, align T) T {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}

// MipCount returns the length of a full mip chain for the given extent.
func MipCount(width, height, depth uint32) uint32 {
	m := Max(width, Max(height, depth))
	if m == 0 {
		return 1
	}
	return uint32(bits.Len32(m))
}

// MipExtent returns the size of a dimension at the given mip, never less than one.
func MipExtent(size, mip uint32) uint32 {
	return Max(size>>mip, 1)
}
