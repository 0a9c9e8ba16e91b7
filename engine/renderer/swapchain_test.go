package renderer_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/headless"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

func swapChainParams() *metadata.SwapChainCreationParams {
	return &metadata.SwapChainCreationParams{
		Width:           64,
		Height:          48,
		BackBufferCount: 2,
		Format:          metadata.FormatRGBA8Unorm,
		VSync:           true,
	}
}

func newSwapChain(t *testing.T, d *renderer.Device) *renderer.SwapChain {
	t.Helper()
	sc, err := d.CreateSwapChain(swapChainParams())
	if err != nil {
		t.Fatalf("CreateSwapChain: %v", err)
	}
	t.Cleanup(sc.Destroy)
	return sc
}

func impl(sc *renderer.SwapChain) *headless.SwapChain {
	return sc.Impl().(*headless.SwapChain)
}

// renderFrame records a graphics list that takes the current back buffer through RenderTarget
// and back, submits it as the only submission of the frame and presents.
func renderFrame(t *testing.T, d *renderer.Device, sc *renderer.SwapChain) uint64 {
	t.Helper()
	cl := newCommandList(t, d, metadata.QueueGraphics)
	rt := sc.BackBufferRT().Resource()
	cl.ResourceBarrier(renderer.TransitionBarrier(rt, metadata.ResourceStatePresent, metadata.ResourceStateRenderTarget, metadata.AllSubresources))
	cl.BeginRaster([]renderer.RasterTarget{{View: sc.RenderTargetViews(), Index: sc.CurrentBackBufferIndex(), Clear: true}}, nil)
	cl.EndRaster()
	cl.ResourceBarrier(renderer.TransitionBarrier(rt, metadata.ResourceStateRenderTarget, metadata.ResourceStatePresent, metadata.AllSubresources))
	if err := cl.Close(); err != nil {
		t.Fatal(err)
	}
	ticket, err := d.ExecuteCommandLists([]*renderer.CommandList{cl}, metadata.QueueGraphics, true, true)
	if err != nil {
		t.Fatalf("ExecuteCommandLists: %v", err)
	}
	if err := sc.Present(); err != nil {
		t.Fatalf("Present: %v", err)
	}
	d.EndFrame()
	return ticket
}

func TestSwapChainFrameLoop(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{})
	sc := newSwapChain(t, d)
	if n := sc.BackBufferRT().BackBufferCount(); n != 2 {
		t.Fatalf("BackBufferCount\nhave %d\nwant 2", n)
	}
	if w, h := sc.BackBufferRT().Desc().Width, sc.BackBufferRT().Desc().Height; w != 64 || h != 48 {
		t.Errorf("back buffer extent\nhave %dx%d\nwant 64x48", w, h)
	}

	for frame := 0; frame < 5; frame++ {
		if err := sc.WaitForSwapChain(testContext(t)); err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		if have, want := sc.CurrentBackBufferIndex(), uint32(frame%2); have != want {
			t.Errorf("frame %d back buffer\nhave %d\nwant %d", frame, have, want)
		}
		acquired := sc.ImageAcquiredSemaphore()
		renderFrame(t, d, sc)

		subs := gpu.SubmissionsTo(metadata.QueueGraphics)
		last := subs[len(subs)-1]
		if !last.WaitsOn(acquired) {
			t.Errorf("frame %d submission does not wait for the acquired image", frame)
		}
		if !last.SignalsSemaphore(d.Queue(metadata.QueueGraphics).FrameSemaphore(sc.CurrentBackBufferIndex())) {
			t.Errorf("frame %d submission does not signal the frame semaphore", frame)
		}
	}

	presents := impl(sc).Presents()
	if len(presents) != 5 {
		t.Fatalf("presents\nhave %d\nwant 5", len(presents))
	}
	for i, p := range presents {
		if p.Image != uint32(i%2) || p.Queue != metadata.QueueGraphics {
			t.Errorf("present %d\nhave image %d on %s\nwant image %d on graphics", i, p.Image, p.Queue, i%2)
		}
		if p.Wait != d.Queue(metadata.QueueGraphics).FrameSemaphore(p.Image) {
			t.Errorf("present %d waits on the wrong semaphore", i)
		}
	}
	// The initial Undefined to Present transitions went ahead of the first frame.
	if n := d.PendingInitialTransitions(); n != 0 {
		t.Errorf("PendingInitialTransitions\nhave %d\nwant 0", n)
	}
}

func TestSwapChainPacesFramesInFlight(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{ManualCompletion: true})
	sc := newSwapChain(t, d)

	for frame := 0; frame < 2; frame++ {
		if err := sc.WaitForSwapChain(testContext(t)); err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		renderFrame(t, d, sc)
	}

	// Back buffer 0 is still in use by the first frame.
	done := make(chan error, 1)
	ctx := testContext(t)
	go func() { done <- sc.WaitForSwapChain(ctx) }()
	select {
	case err := <-done:
		t.Fatalf("WaitForSwapChain returned %v while the back buffer was in flight", err)
	case <-time.After(20 * time.Millisecond):
	}

	gpu.CompleteUpTo(metadata.QueueGraphics, 1)
	if err := <-done; err != nil {
		t.Fatalf("WaitForSwapChain after completion: %v", err)
	}
	if i := sc.CurrentBackBufferIndex(); i != 0 {
		t.Errorf("back buffer\nhave %d\nwant 0", i)
	}
	if n := gpu.PendingCount(metadata.QueueGraphics); n != 1 {
		t.Errorf("pending graphics work\nhave %d\nwant the second frame only", n)
	}
}

func TestSwapChainWaitHonorsContext(t *testing.T) {
	d, _ := newDevice(t, headless.Options{ManualCompletion: true})
	sc := newSwapChain(t, d)
	for frame := 0; frame < 2; frame++ {
		if err := sc.WaitForSwapChain(testContext(t)); err != nil {
			t.Fatal(err)
		}
		renderFrame(t, d, sc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := sc.WaitForSwapChain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("wait on a busy back buffer\nhave %v\nwant %v", err, context.DeadlineExceeded)
	}
}

func TestSwapChainRecreatesWhenOutOfDate(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{})
	sc := newSwapChain(t, d)

	first := impl(sc)
	first.FailAcquires(1)
	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatalf("acquire after an out of date surface: %v", err)
	}
	second := impl(sc)
	if second == first {
		t.Fatal("swapchain was not recreated after an out of date acquire")
	}
	if !first.IsRetired() || !first.IsDestroyed() {
		t.Errorf("old swapchain\nhave retired %t destroyed %t\nwant both", first.IsRetired(), first.IsDestroyed())
	}
	renderFrame(t, d, sc)

	// Present swallows out of date and recreates on the next wait.
	second.FailNextPresent(errors.Wrap(core.ErrSwapchainOutOfDate, "surface resized"))
	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatal(err)
	}
	if err := sc.Present(); err != nil {
		t.Fatalf("out of date Present\nhave %v\nwant nil", err)
	}
	if impl(sc) != second {
		t.Fatal("Present recreated the swapchain")
	}
	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatal(err)
	}
	if impl(sc) == second {
		t.Error("swapchain was not recreated after an out of date present")
	}
	if d.IsDeviceRemoved() {
		t.Error("out of date surfaces reported the device as removed")
	}
	if n := len(gpu.SwapChains()); n != 3 {
		t.Errorf("swapchains created\nhave %d\nwant 3", n)
	}
}

func TestSwapChainPresentFailureRemovesDevice(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	sc := newSwapChain(t, d)
	var removed []error
	d.SetDeviceRemovedCallback(func(err error) { removed = append(removed, err) })

	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatal(err)
	}
	cause := errors.New("surface lost")
	impl(sc).FailNextPresent(cause)
	if err := sc.Present(); !errors.Is(err, cause) {
		t.Errorf("Present\nhave %v\nwant %v", err, cause)
	}
	if !d.IsDeviceRemoved() || len(removed) != 1 {
		t.Errorf("device removed\nhave %t with %d callbacks\nwant true with 1", d.IsDeviceRemoved(), len(removed))
	}
}

func TestSwapChainVSyncAndResize(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	sc := newSwapChain(t, d)
	first := impl(sc)

	sc.SetVSync(false)
	if !sc.IsVSyncEnabled() {
		t.Error("vsync changed before the next WaitForSwapChain")
	}
	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatal(err)
	}
	if sc.IsVSyncEnabled() || impl(sc).Params().VSync {
		t.Error("vsync still enabled after WaitForSwapChain")
	}
	if impl(sc) == first {
		t.Error("vsync change did not recreate the swapchain")
	}

	if err := sc.OnResize(32, 16); err != nil {
		t.Fatal(err)
	}
	if w, h := impl(sc).Extent(); w != 32 || h != 16 {
		t.Errorf("extent after resize\nhave %dx%d\nwant 32x16", w, h)
	}
	if w := sc.BackBufferRT().Desc().Width; w != 32 {
		t.Errorf("back buffer width\nhave %d\nwant 32", w)
	}
	if n := sc.RenderTargetViews().Count(); n != 2 {
		t.Errorf("render target views\nhave %d\nwant 2", n)
	}
	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatal(err)
	}
	renderFrame(t, d, sc)
}

func TestSwapChainRecoversFromFailedRecreate(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{})
	sc := newSwapChain(t, d)
	first := impl(sc)

	boom := errors.New("surface unavailable")
	gpu.FailNextSwapChain(boom)
	if err := sc.OnResize(32, 16); !errors.Is(err, boom) {
		t.Fatalf("OnResize\nhave %v\nwant %v", err, boom)
	}
	if !first.IsDestroyed() {
		t.Error("old swapchain kept alive after a failed recreate")
	}
	if n := d.PendingInitialTransitions(); n != 0 {
		t.Errorf("pending initial transitions of dropped back buffers\nhave %d\nwant 0", n)
	}
	if err := sc.Present(); err == nil {
		t.Error("Present without swapchain images succeeded")
	}

	gpu.FailNextSwapChain(boom)
	if err := sc.WaitForSwapChain(testContext(t)); !errors.Is(err, boom) {
		t.Fatalf("WaitForSwapChain while recreate fails\nhave %v\nwant %v", err, boom)
	}

	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatalf("WaitForSwapChain after the surface returned: %v", err)
	}
	if w, h := impl(sc).Extent(); w != 32 || h != 16 {
		t.Errorf("extent after recovery\nhave %dx%d\nwant 32x16", w, h)
	}
	if n := len(gpu.SwapChains()); n != 2 {
		t.Errorf("swapchains created\nhave %d\nwant 2", n)
	}
	renderFrame(t, d, sc)
}

func TestSwapChainHDRMetadata(t *testing.T) {
	meta := metadata.HDRMetadata{MaxLuminance: 1000, MinLuminance: 0.001, MaxContentLightLevel: 1000}

	d, _ := newDevice(t, headless.Options{HDRSupported: true})
	sc := newSwapChain(t, d)
	sc.SetHDRMetadataAndColorspace(metadata.DisplayModeHDR10_2084, &meta)
	space, sent := impl(sc).HDRMetadata()
	if sent == nil || *sent != meta || space != metadata.ColorSpaceHDR10ST2084 {
		t.Errorf("HDR metadata\nhave %v %+v\nwant %v %+v", space, sent, metadata.ColorSpaceHDR10ST2084, meta)
	}
	// A recreated swapchain gets the metadata again.
	if err := sc.OnResize(16, 16); err != nil {
		t.Fatal(err)
	}
	if _, sent := impl(sc).HDRMetadata(); sent == nil || *sent != meta {
		t.Errorf("HDR metadata after resize\nhave %+v\nwant %+v", sent, meta)
	}

	ldr, _ := newDevice(t, headless.Options{})
	sdr := newSwapChain(t, ldr)
	sdr.SetHDRMetadataAndColorspace(metadata.DisplayModeHDR10_2084, &meta)
	if _, sent := impl(sdr).HDRMetadata(); sent != nil {
		t.Error("HDR metadata sent to a display without HDR support")
	}
}

func TestFrameInterpolationSwapChainHandover(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{})
	sc := newSwapChain(t, d)
	app := impl(sc)

	replacement, err := gpu.CreateSwapChain(swapChainParams(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer replacement.Destroy()

	if err := renderer.ReplaceSwapchainForFrameinterpolation(sc, replacement); err != nil {
		t.Fatal(err)
	}
	if !app.IsDestroyed() {
		t.Error("application swapchain survived the replacement")
	}
	if renderer.NativeSwapChain(sc) != replacement.Native() {
		t.Error("NativeSwapChain does not return the replacement")
	}
	expectAssert(t, "replacing twice", func() {
		_ = renderer.ReplaceSwapchainForFrameinterpolation(sc, replacement)
	})

	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatal(err)
	}
	renderFrame(t, d, sc)
	if n := len(replacement.(*headless.SwapChain).Presents()); n != 1 {
		t.Errorf("presents through the replacement\nhave %d\nwant 1", n)
	}
	// Resizing keeps the caller's swapchain.
	if err := sc.OnResize(128, 128); err != nil {
		t.Fatal(err)
	}
	if sc.Impl() != replacement {
		t.Error("resize dropped the replacement swapchain")
	}

	if err := renderer.RestoreApplicationSwapChain(sc); err != nil {
		t.Fatal(err)
	}
	r := replacement.(*headless.SwapChain)
	if !r.IsRetired() || r.IsDestroyed() {
		t.Errorf("replacement after restore\nhave retired %t destroyed %t\nwant retired only", r.IsRetired(), r.IsDestroyed())
	}
	restored := impl(sc)
	if restored == r {
		t.Fatal("RestoreApplicationSwapChain kept the replacement")
	}
	if p := restored.Params(); p.Width != 128 || p.BackBufferCount != 2 {
		t.Errorf("restored params\nhave %+v\nwant 128 wide with 2 back buffers", p)
	}
	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatal(err)
	}
	renderFrame(t, d, sc)
}

func TestFailedRestoreKeepsReplacement(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{})
	sc := newSwapChain(t, d)
	replacement, err := gpu.CreateSwapChain(swapChainParams(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer replacement.Destroy()
	if err := renderer.ReplaceSwapchainForFrameinterpolation(sc, replacement); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("surface unavailable")
	gpu.FailNextSwapChain(boom)
	if err := renderer.RestoreApplicationSwapChain(sc); !errors.Is(err, boom) {
		t.Fatalf("RestoreApplicationSwapChain\nhave %v\nwant %v", err, boom)
	}
	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatalf("WaitForSwapChain after a failed restore: %v", err)
	}
	if sc.Impl() != replacement {
		t.Error("failed restore dropped the replacement swapchain")
	}
	renderFrame(t, d, sc)

	if err := renderer.RestoreApplicationSwapChain(sc); err != nil {
		t.Fatal(err)
	}
	if sc.Impl() == replacement {
		t.Error("second restore kept the replacement")
	}
}

func TestSwapChainDestroy(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	sc, err := d.CreateSwapChain(swapChainParams())
	if err != nil {
		t.Fatal(err)
	}
	expectAssert(t, "second swapchain on one device", func() {
		_, _ = d.CreateSwapChain(swapChainParams())
	})
	native := impl(sc)
	sc.Destroy()
	if sc.State() != renderer.SwapChainDestroyed || d.SwapChain() != nil {
		t.Errorf("after Destroy\nhave state %s attached %t\nwant Destroyed and detached", sc.State(), d.SwapChain() != nil)
	}
	if !native.IsDestroyed() {
		t.Error("native swapchain survived Destroy")
	}
	if n := d.ViewAllocator().Used(metadata.ViewHeapCPURender); n != 0 {
		t.Errorf("render views after Destroy\nhave %d\nwant 0", n)
	}
	sc.Destroy()
	expectAssert(t, "WaitForSwapChain after Destroy", func() {
		_ = sc.WaitForSwapChain(testContext(t))
	})
}
