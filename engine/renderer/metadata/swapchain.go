package metadata

// DisplayMode selects how the swapchain output is encoded.
type DisplayMode int

const (
	DisplayModeLDR DisplayMode = iota
	DisplayModeHDR10_2084
	DisplayModeHDR10_SCRGB
	DisplayModeFSHDR_2084
	DisplayModeFSHDR_SCRGB
)

func (m DisplayMode) IsHDR() bool { return m != DisplayModeLDR }

type ColorSpace int

const (
	ColorSpaceSRGBNonLinear ColorSpace = iota
	ColorSpaceHDR10ST2084
	ColorSpaceExtendedSRGBLinear
)

// ColorSpaceFor returns the presentation color space used by a display mode.
func ColorSpaceFor(m DisplayMode) ColorSpace {
	switch m {
	case DisplayModeHDR10_2084, DisplayModeFSHDR_2084:
		return ColorSpaceHDR10ST2084
	case DisplayModeHDR10_SCRGB, DisplayModeFSHDR_SCRGB:
		return ColorSpaceExtendedSRGBLinear
	default:
		return ColorSpaceSRGBNonLinear
	}
}

// HDRMetadata mirrors the mastering display metadata sent to HDR displays. Chromaticities are
// CIE 1931 xy coordinates.
type HDRMetadata struct {
	RedPrimary                [2]float32
	GreenPrimary              [2]float32
	BluePrimary               [2]float32
	WhitePoint                [2]float32
	MinLuminance              float32
	MaxLuminance              float32
	MaxContentLightLevel      float32
	MaxFrameAverageLightLevel float32
}

// SwapChainCreationParams are kept by the swapchain so the presentation path can be restored
// exactly after an external system replaced it.
type SwapChainCreationParams struct {
	Width           uint32
	Height          uint32
	BackBufferCount uint32
	Format          ResourceFormat
	VSync           bool
	DisplayMode     DisplayMode
	HDRMetadata     HDRMetadata
}
