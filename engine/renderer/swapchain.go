package renderer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// Acquire retries after recreating an out of date swapchain before giving up.
const maxAcquireAttempts = 3

type SwapChainState int

const (
	SwapChainUninitialized SwapChainState = iota
	SwapChainCreated
	SwapChainDestroyed
)

func (s SwapChainState) String() string {
	switch s {
	case SwapChainUninitialized:
		return "Uninitialized"
	case SwapChainCreated:
		return "Created"
	case SwapChainDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// SwapChainRenderTarget exposes the back buffers as one render target whose Resource follows
// the current back buffer. The images belong to the swapchain.
type SwapChainRenderTarget struct {
	name      string
	resources []*GPUResource
	current   uint32
}

func (rt *SwapChainRenderTarget) Name() string { return rt.name }

func (rt *SwapChainRenderTarget) Resource() *GPUResource {
	return rt.resources[rt.current]
}

func (rt *SwapChainRenderTarget) BackBuffer(index uint32) *GPUResource {
	core.Assert(index < uint32(len(rt.resources)), "back buffer %d out of range (%d)", index, len(rt.resources))
	return rt.resources[index]
}

func (rt *SwapChainRenderTarget) BackBufferCount() uint32        { return uint32(len(rt.resources)) }
func (rt *SwapChainRenderTarget) CurrentBackBufferIndex() uint32 { return rt.current }

func (rt *SwapChainRenderTarget) SetCurrentBackBufferIndex(index uint32) {
	core.Assert(index < uint32(len(rt.resources)), "back buffer %d out of range (%d)", index, len(rt.resources))
	rt.current = index
}

func (rt *SwapChainRenderTarget) Desc() metadata.TextureDesc {
	return rt.resources[0].textureDesc
}

// SwapChain paces frames against the presentable images. WaitForSwapChain blocks until the
// back buffer it acquires is no longer used by the GPU, which bounds the frames in flight to
// the back buffer count.
type SwapChain struct {
	device *Device
	state  SwapChainState
	params metadata.SwapChainCreationParams
	impl   SwapChainImpl
	// The impl belongs to whoever replaced the application swapchain.
	external bool

	renderTarget *SwapChainRenderTarget
	rtvs         *ResourceView

	imageAvailable   []Semaphore
	semaphoreIndex   int
	currentSemaphore Semaphore
	imageIndex       uint32
	fenceValues      []uint64

	vsyncDesired bool
	needsResize  bool
}

// CreateSwapChain creates the device's swapchain. A device presents through one swapchain.
func (d *Device) CreateSwapChain(params *metadata.SwapChainCreationParams) (*SwapChain, error) {
	core.Assert(d.swapChain == nil, "device already has a swapchain")
	sc := &SwapChain{
		device:       d,
		params:       *params,
		vsyncDesired: params.VSync,
		renderTarget: &SwapChainRenderTarget{name: "swapchain"},
	}
	impl, err := d.gpu.CreateSwapChain(&sc.params, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create swapchain")
	}
	if err := sc.attach(impl); err != nil {
		impl.Destroy()
		return nil, err
	}
	sc.state = SwapChainCreated
	d.swapChain = sc
	return sc, nil
}

func (sc *SwapChain) State() SwapChainState                            { return sc.state }
func (sc *SwapChain) CreationParams() metadata.SwapChainCreationParams { return sc.params }
func (sc *SwapChain) Impl() SwapChainImpl                              { return sc.impl }
func (sc *SwapChain) BackBufferRT() *SwapChainRenderTarget             { return sc.renderTarget }

// RenderTargetViews holds one RTV per back buffer, indexed by back buffer index.
func (sc *SwapChain) RenderTargetViews() *ResourceView { return sc.rtvs }

func (sc *SwapChain) CurrentBackBufferIndex() uint32 { return sc.renderTarget.current }

// ImageAcquiredSemaphore is signaled when the image of the last WaitForSwapChain is ready.
func (sc *SwapChain) ImageAcquiredSemaphore() Semaphore { return sc.currentSemaphore }

// IsVSyncEnabled returns the setting the swapchain currently runs with.
func (sc *SwapChain) IsVSyncEnabled() bool { return sc.params.VSync }

// SetVSync requests a vsync change. It applies on the next WaitForSwapChain.
func (sc *SwapChain) SetVSync(enabled bool) {
	sc.vsyncDesired = enabled
}

// attach builds back buffers, views and semaphores around impl.
func (sc *SwapChain) attach(impl SwapChainImpl) error {
	d := sc.device
	images := impl.Images()
	core.Assert(len(images) > 0, "swapchain without images")
	n := uint32(len(images))

	resources := make([]*GPUResource, n)
	for i, img := range images {
		desc := img.Desc()
		if desc.Name == "" {
			desc.Name = "back buffer"
		}
		resources[i] = newTextureResource(&desc, img, metadata.ResourceStatePresent, false, true)
	}

	var (
		rtvs       *ResourceView
		semaphores []Semaphore
	)
	fail := func(err error) error {
		for _, s := range semaphores {
			s.Destroy()
		}
		d.viewAllocator.Release(rtvs)
		return err
	}

	rtvs, err := d.viewAllocator.AllocateCPURenderViews(n)
	if err != nil {
		return err
	}
	for i, res := range resources {
		if err := rtvs.BindTextureResource(uint32(i), res, metadata.ViewTypeRTV, metadata.ViewDimensionTexture2D, 0, -1, -1); err != nil {
			return fail(err)
		}
	}
	for i := uint32(0); i < n; i++ {
		s, err := d.gpu.CreateSemaphore()
		if err != nil {
			return fail(errors.Wrap(err, "failed to create image available semaphore"))
		}
		semaphores = append(semaphores, s)
	}
	if err := d.queues[metadata.QueueGraphics].resetFrameSemaphores(int(n)); err != nil {
		return fail(err)
	}
	for _, res := range resources {
		d.queueInitialTransition(res, metadata.ResourceStatePresent)
	}

	sc.impl = impl
	sc.renderTarget.resources = resources
	sc.renderTarget.current = 0
	sc.rtvs = rtvs
	sc.imageAvailable = semaphores
	sc.semaphoreIndex = 0
	sc.currentSemaphore = nil
	sc.fenceValues = make([]uint64, n)
	sc.needsResize = false

	w, h := impl.Extent()
	core.LogInfo("swapchain ready: %d x %s %dx%d vsync=%t", n, impl.Format(), w, h, sc.params.VSync)
	sc.applyHDRMetadata()
	return nil
}

// detach releases what attach built. Queues must be idle.
func (sc *SwapChain) detach() {
	d := sc.device
	for _, res := range sc.renderTarget.resources {
		d.takePendingInit(res)
	}
	d.viewAllocator.Release(sc.rtvs)
	sc.rtvs = nil
	for _, s := range sc.imageAvailable {
		s.Destroy()
	}
	sc.imageAvailable = nil
	sc.currentSemaphore = nil
	sc.renderTarget.resources = nil
	sc.renderTarget.current = 0
}

// recreate rebuilds the swapchain from the current params, retiring the old one. On failure
// the swapchain has no images and every WaitForSwapChain retries until one succeeds.
func (sc *SwapChain) recreate() error {
	if err := sc.device.FlushAllQueues(); err != nil {
		return err
	}
	sc.detach()
	sc.needsResize = true
	old := sc.impl
	if sc.external {
		// Its owner keeps it sized; only the views need rebuilding.
		return sc.attach(old)
	}
	impl, err := sc.device.gpu.CreateSwapChain(&sc.params, old)
	if old != nil {
		old.Destroy()
	}
	sc.impl = nil
	if err != nil {
		return errors.Wrap(err, "failed to recreate swapchain")
	}
	if err := sc.attach(impl); err != nil {
		impl.Destroy()
		return err
	}
	return nil
}

// OnResize recreates the swapchain for a new display size.
func (sc *SwapChain) OnResize(width, height uint32) error {
	core.Assert(sc.state == SwapChainCreated, "resize of a swapchain in state %s", sc.state)
	sc.params.Width, sc.params.Height = width, height
	return sc.recreate()
}

// WaitForSwapChain acquires the next back buffer and waits until the GPU finished the frame
// that last rendered into it. An out of date swapchain is recreated at the last known size.
func (sc *SwapChain) WaitForSwapChain(ctx context.Context) error {
	core.Assert(sc.state == SwapChainCreated, "WaitForSwapChain on a swapchain in state %s", sc.state)

	if sc.vsyncDesired != sc.params.VSync || sc.needsResize {
		core.LogInfo("recreating swapchain (vsync %t -> %t, out of date %t)", sc.params.VSync, sc.vsyncDesired, sc.needsResize)
		sc.params.VSync = sc.vsyncDesired
		if err := sc.recreate(); err != nil {
			return err
		}
	}

	var index uint32
	for attempt := 1; ; attempt++ {
		sem := sc.imageAvailable[sc.semaphoreIndex]
		idx, err := sc.impl.AcquireNextImage(sem)
		if err == nil {
			index = idx
			sc.currentSemaphore = sem
			sc.semaphoreIndex = (sc.semaphoreIndex + 1) % len(sc.imageAvailable)
			break
		}
		if errors.Is(err, core.ErrDeviceLost) {
			sc.device.notifyDeviceRemoved(err)
		}
		if !errors.Is(err, core.ErrSwapchainOutOfDate) || attempt == maxAcquireAttempts {
			return errors.Wrap(err, "failed to acquire swapchain image")
		}
		core.LogWarn("swapchain out of date on acquire, recreating at %dx%d", sc.params.Width, sc.params.Height)
		if err := sc.recreate(); err != nil {
			return err
		}
	}

	core.Assert(index < uint32(len(sc.fenceValues)), "acquired image %d of %d", index, len(sc.fenceValues))
	if err := sc.device.queues[metadata.QueueGraphics].Wait(ctx, sc.fenceValues[index]); err != nil {
		return err
	}
	sc.imageIndex = index
	sc.renderTarget.SetCurrentBackBufferIndex(index)
	return nil
}

// Present queues the current back buffer for display. An out of date swapchain is recreated on
// the next WaitForSwapChain.
func (sc *SwapChain) Present() error {
	core.Assert(sc.state == SwapChainCreated, "Present on a swapchain in state %s", sc.state)
	if sc.impl == nil {
		return errors.New("present without swapchain images")
	}
	gq := sc.device.queues[metadata.QueueGraphics]
	err := gq.Present(sc.impl, sc.imageIndex, sc.renderTarget.current)
	sc.fenceValues[sc.renderTarget.current] = gq.LatestSignaledValue()
	if errors.Is(err, core.ErrSwapchainOutOfDate) {
		sc.needsResize = true
		return nil
	}
	return err
}

// SetHDRMetadataAndColorspace updates the display mode and sends the mastering metadata to the
// display. Displays without HDR support are skipped silently.
func (sc *SwapChain) SetHDRMetadataAndColorspace(mode metadata.DisplayMode, meta *metadata.HDRMetadata) {
	sc.params.DisplayMode = mode
	if meta != nil {
		sc.params.HDRMetadata = *meta
	}
	sc.applyHDRMetadata()
}

func (sc *SwapChain) applyHDRMetadata() {
	if !sc.params.DisplayMode.IsHDR() || !sc.device.caps.HDRSupported {
		return
	}
	err := sc.impl.SetHDRMetadata(metadata.ColorSpaceFor(sc.params.DisplayMode), &sc.params.HDRMetadata)
	if err != nil && !errors.Is(err, core.ErrNotSupported) {
		core.LogWarn("failed to set HDR metadata: %s", err)
	}
}

func (sc *SwapChain) Destroy() {
	if sc.state != SwapChainCreated {
		return
	}
	if err := sc.device.FlushAllQueues(); err != nil {
		core.LogWarn("flush before swapchain destroy: %s", err)
	}
	sc.detach()
	if sc.impl != nil && !sc.external {
		sc.impl.Destroy()
	}
	sc.impl = nil
	sc.state = SwapChainDestroyed
	if sc.device.swapChain == sc {
		sc.device.swapChain = nil
	}
}
