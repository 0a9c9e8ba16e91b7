package vulkan

import (
	stdmath "math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type swapchainSupportInfo struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func querySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (*swapchainSupportInfo, error) {
	info := &swapchainSupportInfo{}
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &info.capabilities); res != vk.Success {
		return nil, resultError(res, "failed to get surface capabilities")
	}
	info.capabilities.Deref()
	info.capabilities.CurrentExtent.Deref()
	info.capabilities.MinImageExtent.Deref()
	info.capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return nil, resultError(res, "failed to get surface formats")
	}
	if formatCount > 0 {
		info.formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, info.formats); res != vk.Success {
			return nil, resultError(res, "failed to get surface formats")
		}
		for i := range info.formats {
			info.formats[i].Deref()
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil); res != vk.Success {
		return nil, resultError(res, "failed to get surface present modes")
	}
	if modeCount > 0 {
		info.presentModes = make([]vk.PresentMode, modeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, info.presentModes); res != vk.Success {
			return nil, resultError(res, "failed to get surface present modes")
		}
	}
	return info, nil
}

// chooseSurfaceFormat prefers the requested format in sRGB non-linear space, then any BGRA8
// format, then whatever the surface lists first.
func chooseSurfaceFormat(formats []vk.SurfaceFormat, want metadata.ResourceFormat) vk.SurfaceFormat {
	wantVk := vkFormat(want)
	for _, f := range formats {
		if f.Format == wantVk && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return formats[0]
}

// choosePresentMode uses FIFO for vsync. Without vsync mailbox is preferred over immediate.
func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	mode := vk.PresentModeFifo
	for _, m := range modes {
		switch m {
		case vk.PresentModeMailbox:
			return m
		case vk.PresentModeImmediate:
			mode = m
		}
	}
	return mode
}

type SwapChain struct {
	gpu    *GPU
	handle vk.Swapchain
	format metadata.ResourceFormat
	width  uint32
	height uint32
	images []renderer.Image
}

func (g *GPU) CreateSwapChain(params *metadata.SwapChainCreationParams, old renderer.SwapChainImpl) (renderer.SwapChainImpl, error) {
	if g.surface == vk.NullSurface {
		return nil, errors.Wrap(core.ErrNotSupported, "device was opened without a surface")
	}
	support, err := querySwapchainSupport(g.physical, g.surface)
	if err != nil {
		return nil, err
	}
	if len(support.formats) == 0 || len(support.presentModes) == 0 {
		return nil, errors.New("surface reports no formats or present modes")
	}
	if params.DisplayMode.IsHDR() {
		core.LogWarn("display mode %d needs HDR output, presenting in sRGB", params.DisplayMode)
	}

	surfaceFormat := chooseSurfaceFormat(support.formats, params.Format)
	presentMode := choosePresentMode(support.presentModes, params.VSync)

	caps := support.capabilities
	extent := vk.Extent2D{Width: params.Width, Height: params.Height}
	if caps.CurrentExtent.Width != stdmath.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = math.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)

	imageCount := math.Max(params.BackBufferCount, caps.MinImageCount)
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          g.surface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}
	if prev, ok := old.(*SwapChain); ok && prev != nil {
		info.OldSwapchain = prev.handle
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(g.device, &info, g.allocator, &handle); res != vk.Success {
		return nil, resultError(res, "failed to create swapchain")
	}

	var count uint32
	if res := vk.GetSwapchainImages(g.device, handle, &count, nil); res != vk.Success {
		vk.DestroySwapchain(g.device, handle, g.allocator)
		return nil, resultError(res, "failed to get swapchain images")
	}
	handles := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(g.device, handle, &count, handles); res != vk.Success {
		vk.DestroySwapchain(g.device, handle, g.allocator)
		return nil, resultError(res, "failed to get swapchain images")
	}

	sc := &SwapChain{
		gpu:    g,
		handle: handle,
		format: resourceFormat(surfaceFormat.Format),
		width:  extent.Width,
		height: extent.Height,
		images: make([]renderer.Image, count),
	}
	for i, img := range handles {
		desc := metadata.Tex2DDesc("back buffer", sc.format, extent.Width, extent.Height, 1, 1, metadata.ResourceFlagsAllowRenderTarget)
		sc.images[i] = &Image{gpu: g, handle: img, desc: desc}
	}
	core.LogInfo("Swapchain created: %d images %dx%d", count, extent.Width, extent.Height)
	return sc, nil
}

func (s *SwapChain) Images() []renderer.Image        { return s.images }
func (s *SwapChain) Format() metadata.ResourceFormat { return s.format }
func (s *SwapChain) Extent() (width, height uint32)  { return s.width, s.height }
func (s *SwapChain) Native() interface{}             { return s.handle }

func (s *SwapChain) AcquireNextImage(signal renderer.Semaphore) (uint32, error) {
	sem, _ := semaphoreHandle(signal)
	var index uint32
	res := vk.AcquireNextImage(s.gpu.device, s.handle, vk.MaxUint64, sem, vk.NullFence, &index)
	switch res {
	case vk.Success, vk.Suboptimal:
		return index, nil
	default:
		return 0, resultError(res, "failed to acquire swapchain image")
	}
}

func (s *SwapChain) Present(queue metadata.QueueType, imageIndex uint32, wait renderer.Semaphore) error {
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{s.handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if wait != nil {
		sem, _ := semaphoreHandle(wait)
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{sem}
	}
	q := s.gpu.queues[queue]
	return s.gpu.locks.SafeQueueCall(q.family, func() error {
		res := vk.QueuePresent(q.handle, &info)
		if res == vk.Suboptimal {
			return core.ErrSwapchainOutOfDate
		}
		return resultError(res, "failed to present image %d", imageIndex)
	})
}

// SetHDRMetadata is unsupported: swapchains always present in sRGB non-linear space.
func (s *SwapChain) SetHDRMetadata(colorSpace metadata.ColorSpace, meta *metadata.HDRMetadata) error {
	return errors.Wrapf(core.ErrNotSupported, "hdr metadata for color space %d", colorSpace)
}

func (s *SwapChain) Destroy() {
	if s.handle == vk.NullSwapchain {
		return
	}
	vk.DestroySwapchain(s.gpu.device, s.handle, s.gpu.allocator)
	s.handle = vk.NullSwapchain
	s.images = nil
}
