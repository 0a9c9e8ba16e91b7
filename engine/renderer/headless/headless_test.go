package headless

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

func TestTimelineWaitWakesOnSignal(t *testing.T) {
	g := New(Options{})
	sem, _ := g.CreateTimelineSemaphore(0)
	tl := sem.(*Timeline)

	done := make(chan error, 1)
	go func() { done <- tl.Wait(context.Background(), 2) }()

	tl.signal(1)
	select {
	case err := <-done:
		t.Fatalf("Wait returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	tl.signal(2)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake after signal")
	}
}

func TestTimelineWaitHonorsContext(t *testing.T) {
	g := New(Options{})
	sem, _ := g.CreateTimelineSemaphore(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := sem.Wait(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait\nhave %v\nwant %v", err, context.DeadlineExceeded)
	}
}

func TestTimelineNeverMovesBackwards(t *testing.T) {
	g := New(Options{})
	sem, _ := g.CreateTimelineSemaphore(5)
	tl := sem.(*Timeline)
	tl.signal(3)
	if v, _ := tl.Value(); v != 5 {
		t.Errorf("Value\nhave %d\nwant 5", v)
	}
}

func submitSignal(t *testing.T, g *GPU, queue metadata.QueueType, sem renderer.TimelineSemaphore, value uint64) {
	t.Helper()
	err := g.Submit(queue, &renderer.SubmitBatch{Signals: []renderer.SemaphoreOp{{Semaphore: sem, Value: value}}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestManualCompletionInOrder(t *testing.T) {
	g := New(Options{ManualCompletion: true})
	sem, _ := g.CreateTimelineSemaphore(0)
	for v := uint64(1); v <= 3; v++ {
		submitSignal(t, g, metadata.QueueGraphics, sem, v)
	}
	if v, _ := sem.Value(); v != 0 {
		t.Fatalf("Value before completion\nhave %d\nwant 0", v)
	}

	g.CompleteUpTo(metadata.QueueGraphics, 2)
	if v, _ := sem.Value(); v != 2 {
		t.Errorf("Value after CompleteUpTo(2)\nhave %d\nwant 2", v)
	}
	if n := g.PendingCount(metadata.QueueGraphics); n != 1 {
		t.Errorf("PendingCount\nhave %d\nwant 1", n)
	}

	if err := g.WaitQueueIdle(metadata.QueueGraphics); err != nil {
		t.Fatal(err)
	}
	if v, _ := sem.Value(); v != 3 {
		t.Errorf("Value after WaitQueueIdle\nhave %d\nwant 3", v)
	}
}

func TestSubmitExecutesCopies(t *testing.T) {
	g := New(Options{})
	srcDesc := metadata.DataBufferDesc("src", 16, 4, metadata.ResourceFlagsNone)
	src, _ := g.CreateBuffer(&srcDesc, renderer.MemoryCPUToGPU)
	dstDesc := metadata.DataBufferDesc("dst", 16, 4, metadata.ResourceFlagsNone)
	dst, _ := g.CreateBuffer(&dstDesc, renderer.MemoryGPUOnly)
	copy(src.Mapped(), []byte{1, 2, 3, 4, 5, 6, 7, 8})

	if dst.Mapped() != nil {
		t.Error("GPU only buffer is mapped")
	}

	pool, _ := g.CreateCommandPool(metadata.QueueCopy)
	cb, _ := pool.CommandBuffer()
	_ = cb.Begin()
	cb.CopyBuffer(src, 2, dst, 8, 4)
	_ = cb.End()
	if err := g.Submit(metadata.QueueCopy, &renderer.SubmitBatch{CommandBuffers: []renderer.CommandBuffer{cb}}); err != nil {
		t.Fatal(err)
	}

	have := dst.(*Buffer).Contents()[8:12]
	want := []byte{3, 4, 5, 6}
	for i := range want {
		if have[i] != want[i] {
			t.Fatalf("copied bytes\nhave %v\nwant %v", have, want)
		}
	}
	subs := g.SubmissionsTo(metadata.QueueCopy)
	if len(subs) != 1 || len(subs[0].Commands) != 1 || subs[0].Commands[0][0].Op != OpCopyBuffer {
		t.Errorf("submission log\nhave %+v\nwant one CopyBuffer", subs)
	}
}

func TestSubmitRejectsRecordingBuffer(t *testing.T) {
	g := New(Options{})
	pool, _ := g.CreateCommandPool(metadata.QueueGraphics)
	cb, _ := pool.CommandBuffer()
	_ = cb.Begin()
	if err := g.Submit(metadata.QueueGraphics, &renderer.SubmitBatch{CommandBuffers: []renderer.CommandBuffer{cb}}); err == nil {
		t.Error("Submit of a recording command buffer\nhave nil error\nwant error")
	}
}

func TestDescriptorHeapValidatesWrites(t *testing.T) {
	g := New(Options{})
	layout, err := g.CreateDescriptorLayout(&renderer.DescriptorLayoutDesc{
		Bindings: []renderer.LayoutBinding{{Binding: 0, Type: metadata.BindingTypeTextureSRV, Count: 2, Stages: metadata.ShaderStagePixel}},
	})
	if err != nil {
		t.Fatal(err)
	}
	heap, _ := g.CreateDescriptorHeap(layout, 3)
	desc := metadata.Tex2DDesc("tex", metadata.FormatRGBA8Unorm, 4, 4, 1, 1, metadata.ResourceFlagsNone)
	img, _ := g.CreateImage(&desc)
	view, _ := g.CreateTextureView(img, metadata.ViewTypeTextureSRV, &metadata.TextureViewDesc{Dimension: metadata.ViewDimensionTexture2D, MipCount: 1, ArraySize: 1})

	cases := []struct {
		name  string
		copy  int
		write renderer.DescriptorWrite
		ok    bool
	}{
		{"valid", 1, renderer.DescriptorWrite{Binding: 0, ArrayElement: 1, Type: metadata.BindingTypeTextureSRV, View: view}, true},
		{"undeclared binding", 0, renderer.DescriptorWrite{Binding: 3, Type: metadata.BindingTypeTextureSRV, View: view}, false},
		{"wrong type", 0, renderer.DescriptorWrite{Binding: 0, Type: metadata.BindingTypeBufferSRV, View: view}, false},
		{"element out of range", 0, renderer.DescriptorWrite{Binding: 0, ArrayElement: 2, Type: metadata.BindingTypeTextureSRV, View: view}, false},
		{"copy out of range", 3, renderer.DescriptorWrite{Binding: 0, Type: metadata.BindingTypeTextureSRV, View: view}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := heap.Write(c.copy, []renderer.DescriptorWrite{c.write})
			if (err == nil) != c.ok {
				t.Errorf("Write\nhave %v\nwant ok=%t", err, c.ok)
			}
		})
	}

	h := heap.(*DescriptorHeap)
	if w, ok := h.Written(1, 0, 1); !ok || w.View != view {
		t.Errorf("Written(1, 0, 1)\nhave %+v, %t\nwant the view", w, ok)
	}
	if _, ok := h.Written(0, 0, 1); ok {
		t.Error("copy 0 sees a write made to copy 1")
	}
}

func TestSwapChainFailureInjection(t *testing.T) {
	g := New(Options{})
	impl, err := g.CreateSwapChain(&metadata.SwapChainCreationParams{Width: 64, Height: 64, BackBufferCount: 2, Format: metadata.FormatRGBA8Unorm}, nil)
	if err != nil {
		t.Fatal(err)
	}
	sc := impl.(*SwapChain)

	for want := uint32(0); want < 4; want++ {
		idx, err := sc.AcquireNextImage(nil)
		if err != nil || idx != want%2 {
			t.Fatalf("AcquireNextImage\nhave %d, %v\nwant %d, nil", idx, err, want%2)
		}
	}

	sc.FailAcquires(1)
	if _, err := sc.AcquireNextImage(nil); !errors.Is(err, core.ErrSwapchainOutOfDate) {
		t.Errorf("AcquireNextImage\nhave %v\nwant %v", err, core.ErrSwapchainOutOfDate)
	}
	if _, err := sc.AcquireNextImage(nil); err != nil {
		t.Errorf("AcquireNextImage after injected failure: %v", err)
	}

	if err := sc.SetHDRMetadata(metadata.ColorSpaceHDR10ST2084, &metadata.HDRMetadata{}); !errors.Is(err, core.ErrNotSupported) {
		t.Errorf("SetHDRMetadata without HDR\nhave %v\nwant %v", err, core.ErrNotSupported)
	}

	next, _ := g.CreateSwapChain(&metadata.SwapChainCreationParams{Width: 32, Height: 32, BackBufferCount: 2}, sc)
	if !sc.IsRetired() {
		t.Error("old swapchain not retired")
	}
	if _, err := sc.AcquireNextImage(nil); !errors.Is(err, core.ErrSwapchainOutOfDate) {
		t.Errorf("acquire on retired swapchain\nhave %v\nwant %v", err, core.ErrSwapchainOutOfDate)
	}
	sc.Destroy()
	next.Destroy()
	if n := g.LiveObjects(); n != 0 {
		t.Errorf("LiveObjects\nhave %d\nwant 0", n)
	}
}
