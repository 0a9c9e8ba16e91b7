package math

type Vec2 struct {
	X, Y float32
}

type Vec4 struct {
	X, Y, Z, W float32
}

// Extent3D is a size in texels.
type Extent3D struct {
	Width, Height, Depth uint32
}

// Offset3D is a texel position inside a subresource.
type Offset3D struct {
	X, Y, Z int32
}

// Rect is an integer rectangle, used for scissors.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// Viewport maps normalized device coordinates onto a render target.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// FullViewport covers the whole width x height target with depth range [0,1].
func FullViewport(width, height uint32) Viewport {
	return Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1}
}

// Color is a linear RGBA clear value.
type Color Vec4
