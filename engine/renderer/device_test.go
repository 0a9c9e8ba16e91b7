package renderer_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/headless"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

func TestOpenBackend(t *testing.T) {
	found := false
	for _, name := range renderer.Backends() {
		found = found || name == headless.BackendName
	}
	if !found {
		t.Fatalf("Backends\nhave %v\nwant %s registered", renderer.Backends(), headless.BackendName)
	}

	cfg := core.DefaultConfig()
	gpu, err := renderer.OpenBackend(headless.BackendName, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	d, err := renderer.NewDevice(cfg, gpu)
	if err != nil {
		t.Fatal(err)
	}
	d.Destroy()

	if _, err := renderer.OpenBackend("metal", cfg, nil); !errors.Is(err, core.ErrBackendNotFound) {
		t.Errorf("unknown backend\nhave %v\nwant %v", err, core.ErrBackendNotFound)
	}
}

func TestNewDeviceValidatesConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.DynamicBufferAlignment = 100
	gpu := headless.New(headless.Options{})
	if _, err := renderer.NewDevice(cfg, gpu); err == nil {
		t.Error("NewDevice accepted a dynamic buffer alignment that is not a power of two")
	}
}

func TestDeviceQueueFamilies(t *testing.T) {
	d, _ := newDevice(t, headless.Options{DistinctCopyFamily: true})
	if d.QueueFamily(metadata.QueueGraphics) != d.QueueFamily(metadata.QueueCompute) {
		t.Error("compute got its own family without asking for one")
	}
	if d.QueueFamily(metadata.QueueCopy) == d.QueueFamily(metadata.QueueGraphics) {
		t.Error("copy shares the graphics family")
	}
	if d.Queue(metadata.QueueCopy).Family() != d.QueueFamily(metadata.QueueCopy) {
		t.Error("queue and device disagree on the copy family")
	}
}

func TestDeferredDestruction(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{ManualCompletion: true})
	desc := metadata.Tex2DDesc("transient", metadata.FormatRGBA8Unorm, 16, 16, 1, 1, metadata.ResourceFlagsNone)
	tex, err := d.CreateTexture(&desc, metadata.ResourceStateShaderResource, nil)
	if err != nil {
		t.Fatal(err)
	}
	image := imageOf(tex.Resource())

	// The initial transition is in flight when the texture goes away.
	submit(t, d, newCommandList(t, d, metadata.QueueGraphics))
	tex.Destroy()
	d.ProcessDeferredReleases()
	if image.IsDestroyed() || d.DeferredReleaseCount() != 1 {
		t.Fatalf("texture destroyed while the GPU used it\nhave destroyed %t with %d deferred\nwant alive with 1", image.IsDestroyed(), d.DeferredReleaseCount())
	}

	gpu.CompleteQueue(metadata.QueueGraphics)
	d.ProcessDeferredReleases()
	if !image.IsDestroyed() || d.DeferredReleaseCount() != 0 {
		t.Errorf("after completion\nhave destroyed %t with %d deferred\nwant destroyed with 0", image.IsDestroyed(), d.DeferredReleaseCount())
	}
}

func TestDeviceDestroyReleasesEverything(t *testing.T) {
	gpu := headless.New(headless.Options{DistinctCopyFamily: true})
	cfg := core.DefaultConfig()
	cfg.UploadHeapSize = 1 << 20
	d, err := renderer.NewDevice(cfg, gpu)
	if err != nil {
		t.Fatal(err)
	}

	tex := newTexture(t, d, "albedo", metadata.ResourceStateShaderResource)
	if err := tex.CopyData(testContext(t), textureData(tex.Desc())); err != nil {
		t.Fatal(err)
	}
	views, err := d.ViewAllocator().AllocateGPUSamplerViews(1)
	if err != nil {
		t.Fatal(err)
	}
	sampler := metadata.DefaultSamplerDesc()
	if err := views.BindSampler(0, &sampler); err != nil {
		t.Fatal(err)
	}
	if _, err := d.DynamicBufferPool().AllocConstantBuffer(make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	sc, err := d.CreateSwapChain(swapChainParams())
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.WaitForSwapChain(testContext(t)); err != nil {
		t.Fatal(err)
	}
	renderFrame(t, d, sc)

	sc.Destroy()
	d.ViewAllocator().Release(views)
	tex.Destroy()
	d.Destroy()
	if n := gpu.LiveObjects(); n != 0 {
		t.Errorf("LiveObjects after Destroy\nhave %d\nwant 0", n)
	}
	d.Destroy()
}
