package renderer_test

import (
	"testing"

	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/headless"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

func TestTransitionBarrierTracksState(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{})
	tex := newTexture(t, d, "target", metadata.ResourceStateShaderResource)
	res := tex.Resource()

	cl := newCommandList(t, d, metadata.QueueGraphics)
	cl.ResourceBarrier(renderer.TransitionBarrier(res, metadata.ResourceStateShaderResource, metadata.ResourceStateRenderTarget, metadata.AllSubresources))
	if s := res.CurrentState(metadata.AllSubresources); s != metadata.ResourceStateRenderTarget {
		t.Fatalf("state after barrier\nhave %s\nwant %s", s, metadata.ResourceStateRenderTarget)
	}
	submit(t, d, cl)

	subs := gpu.SubmissionsTo(metadata.QueueGraphics)
	if len(subs) != 1 {
		t.Fatalf("graphics submissions\nhave %d\nwant 1", len(subs))
	}
	barriers := subs[0].Barriers()
	if len(barriers) != 2 {
		t.Fatalf("barriers\nhave %d\nwant initial transition plus ours", len(barriers))
	}
	// The fresh image is initialized ahead of the first list.
	if b := barriers[0]; b.Src != metadata.ResourceStateUndefined || b.Dst != metadata.ResourceStateShaderResource {
		t.Errorf("initial transition\nhave %s -> %s\nwant Undefined -> %s", b.Src, b.Dst, metadata.ResourceStateShaderResource)
	}
	if b := barriers[1]; b.Src != metadata.ResourceStateShaderResource || b.Dst != metadata.ResourceStateRenderTarget || b.Ownership != renderer.OwnershipNone {
		t.Errorf("transition\nhave %+v\nwant %s -> %s", b, metadata.ResourceStateShaderResource, metadata.ResourceStateRenderTarget)
	}
	if n := d.PendingInitialTransitions(); n != 0 {
		t.Errorf("PendingInitialTransitions\nhave %d\nwant 0", n)
	}
}

func TestTransitionBarrierStateMismatchAsserts(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	res := newTexture(t, d, "target", metadata.ResourceStateShaderResource).Resource()
	cl := newCommandList(t, d, metadata.QueueGraphics)

	expectAssert(t, "barrier from a state the resource is not in", func() {
		cl.ResourceBarrier(renderer.TransitionBarrier(res, metadata.ResourceStateRenderTarget, metadata.ResourceStateShaderResource, metadata.AllSubresources))
	})
	if s := res.CurrentState(metadata.AllSubresources); s != metadata.ResourceStateShaderResource {
		t.Errorf("state after rejected barrier\nhave %s\nwant %s", s, metadata.ResourceStateShaderResource)
	}
}

func TestUAVBarrierRequiresUnorderedAccess(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	res := newTexture(t, d, "storage", metadata.ResourceStateShaderResource).Resource()
	cl := newCommandList(t, d, metadata.QueueCompute)

	expectAssert(t, "UAV barrier on a shader resource", func() {
		cl.ResourceBarrier(renderer.UAVBarrier(res))
	})

	cl.ResourceBarrier(renderer.TransitionBarrier(res, metadata.ResourceStateShaderResource, metadata.ResourceStateUnorderedAccess, metadata.AllSubresources))
	cl.ResourceBarrier(renderer.UAVBarrier(res))
	cmds := recorded(cl)
	last := cmds[len(cmds)-1]
	if last.Op != headless.OpBarriers || len(last.Barriers) != 1 || !last.Barriers[0].UAV {
		t.Errorf("last command\nhave %s %+v\nwant one UAV barrier", last.Op, last.Barriers)
	}
}

func TestPerSubresourceTransition(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	desc := metadata.Tex2DDesc("mips", metadata.FormatRGBA8Unorm, 16, 16, 1, 3, metadata.ResourceFlagsNone)
	tex, err := d.CreateTexture(&desc, metadata.ResourceStateShaderResource, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tex.Destroy()
	res := tex.Resource()

	cl := newCommandList(t, d, metadata.QueueGraphics)
	cl.ResourceBarrier(renderer.TransitionBarrier(res, metadata.ResourceStateShaderResource, metadata.ResourceStateCopyDest, 1))

	if s := res.CurrentState(1); s != metadata.ResourceStateCopyDest {
		t.Errorf("mip 1\nhave %s\nwant %s", s, metadata.ResourceStateCopyDest)
	}
	if s := res.CurrentState(2); s != metadata.ResourceStateShaderResource {
		t.Errorf("mip 2\nhave %s\nwant %s", s, metadata.ResourceStateShaderResource)
	}
	rng := recorded(cl)[0].Barriers[0].Range
	if rng.BaseMip != 1 || rng.MipCount != 1 || rng.SliceCount != 1 {
		t.Errorf("barrier range\nhave %+v\nwant mip 1 only", rng)
	}
	expectAssert(t, "whole-resource state of diverged subresources", func() {
		res.CurrentState(metadata.AllSubresources)
	})
	expectAssert(t, "whole-resource barrier over diverged subresources", func() {
		cl.ResourceBarrier(renderer.TransitionBarrier(res, metadata.ResourceStateShaderResource, metadata.ResourceStateRenderTarget, metadata.AllSubresources))
	})
}

func TestOwnershipTransferWithinOneFamily(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	res := newTexture(t, d, "upload", metadata.ResourceStateCopyDest).Resource()

	copyList := newCommandList(t, d, metadata.QueueCopy)
	copyList.ResourceBarrier(renderer.ReleaseBarrier(res, metadata.ResourceStateCopyDest, metadata.ResourceStateShaderResource, metadata.QueueCopy, metadata.QueueGraphics))
	if res.HasPendingOwnershipTransfer() {
		t.Error("release within one family left a pending transfer")
	}
	if s := res.CurrentState(metadata.AllSubresources); s != metadata.ResourceStateShaderResource {
		t.Errorf("state after release\nhave %s\nwant %s", s, metadata.ResourceStateShaderResource)
	}

	graphicsList := newCommandList(t, d, metadata.QueueGraphics)
	graphicsList.ResourceBarrier(renderer.AcquireBarrier(res, metadata.ResourceStateCopyDest, metadata.ResourceStateShaderResource, metadata.QueueCopy, metadata.QueueGraphics))
	if n := len(recorded(graphicsList)); n != 0 {
		t.Errorf("acquire within one family recorded %d commands, want 0", n)
	}
}

func TestOwnershipTransferAcrossFamilies(t *testing.T) {
	d, _ := newDevice(t, headless.Options{DistinctCopyFamily: true})
	res := newTexture(t, d, "upload", metadata.ResourceStateCopyDest).Resource()

	copyList := newCommandList(t, d, metadata.QueueCopy)
	expectAssert(t, "release recorded on the wrong queue", func() {
		g := newCommandList(t, d, metadata.QueueGraphics)
		g.ResourceBarrier(renderer.ReleaseBarrier(res, metadata.ResourceStateCopyDest, metadata.ResourceStateShaderResource, metadata.QueueCopy, metadata.QueueGraphics))
	})

	copyList.ResourceBarrier(renderer.ReleaseBarrier(res, metadata.ResourceStateCopyDest, metadata.ResourceStateShaderResource, metadata.QueueCopy, metadata.QueueGraphics))
	if !res.HasPendingOwnershipTransfer() {
		t.Fatal("release across families did not record a pending transfer")
	}
	release := recorded(copyList)[0].Barriers[0]
	if release.Ownership != renderer.OwnershipRelease || release.SrcQueueFamily != 2 || release.DstQueueFamily != 0 {
		t.Errorf("release record\nhave %+v\nwant release from family 2 to 0", release)
	}

	graphicsList := newCommandList(t, d, metadata.QueueGraphics)
	expectAssert(t, "transition while a transfer is in flight", func() {
		graphicsList.ResourceBarrier(renderer.TransitionBarrier(res, metadata.ResourceStateCopyDest, metadata.ResourceStateRenderTarget, metadata.AllSubresources))
	})
	expectAssert(t, "acquire that does not match the release", func() {
		graphicsList.ResourceBarrier(renderer.AcquireBarrier(res, metadata.ResourceStateCopyDest, metadata.ResourceStateRenderTarget, metadata.QueueCopy, metadata.QueueGraphics))
	})

	graphicsList.ResourceBarrier(renderer.AcquireBarrier(res, metadata.ResourceStateCopyDest, metadata.ResourceStateShaderResource, metadata.QueueCopy, metadata.QueueGraphics))
	if res.HasPendingOwnershipTransfer() {
		t.Error("acquire did not complete the transfer")
	}
	if s := res.CurrentState(metadata.AllSubresources); s != metadata.ResourceStateShaderResource {
		t.Errorf("state after acquire\nhave %s\nwant %s", s, metadata.ResourceStateShaderResource)
	}
	acquire := recorded(graphicsList)[0].Barriers[0]
	if acquire.Ownership != renderer.OwnershipAcquire || acquire.SrcQueueFamily != 2 || acquire.DstQueueFamily != 0 {
		t.Errorf("acquire record\nhave %+v\nwant acquire from family 2 to 0", acquire)
	}
}

func TestInitialTransitionStartsFromCreationState(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{})
	res := newTexture(t, d, "target", metadata.ResourceStateShaderResource).Resource()

	// Recorded twice before the first submission: the flush still starts from the creation state.
	cl := newCommandList(t, d, metadata.QueueGraphics)
	cl.ResourceBarrier(renderer.TransitionBarrier(res, metadata.ResourceStateShaderResource, metadata.ResourceStateRenderTarget, metadata.AllSubresources))
	cl.ResourceBarrier(renderer.TransitionBarrier(res, metadata.ResourceStateRenderTarget, metadata.ResourceStateCopySource, metadata.AllSubresources))
	submit(t, d, cl)

	barriers := gpu.SubmissionsTo(metadata.QueueGraphics)[0].Barriers()
	if len(barriers) != 3 {
		t.Fatalf("barriers\nhave %d\nwant 3", len(barriers))
	}
	// Every barrier starts where the previous one left the image.
	prev := metadata.ResourceStateUndefined
	for i, b := range barriers {
		if b.Src != prev {
			t.Errorf("barrier %d source\nhave %s\nwant %s", i, b.Src, prev)
		}
		prev = b.Dst
	}
	if prev != metadata.ResourceStateCopySource {
		t.Errorf("final backend state\nhave %s\nwant %s", prev, metadata.ResourceStateCopySource)
	}
}

func TestInitialTransitionRunsBeforeComputeWork(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{DistinctComputeFamily: true})
	res := newTexture(t, d, "storage", metadata.ResourceStateUnorderedAccess).Resource()

	cl := newCommandList(t, d, metadata.QueueCompute)
	cl.ResourceBarrier(renderer.UAVBarrier(res))
	submit(t, d, cl)

	if n := d.PendingInitialTransitions(); n != 0 {
		t.Errorf("PendingInitialTransitions after a compute submit\nhave %d\nwant 0", n)
	}
	graphicsSubs := gpu.SubmissionsTo(metadata.QueueGraphics)
	if len(graphicsSubs) != 1 {
		t.Fatalf("graphics submissions\nhave %d\nwant 1 carrying the initial transition", len(graphicsSubs))
	}
	init := graphicsSubs[0].Barriers()
	if len(init) != 1 || init[0].Src != metadata.ResourceStateUndefined || init[0].Dst != metadata.ResourceStateUnorderedAccess {
		t.Errorf("initial transition\nhave %+v\nwant Undefined -> %s", init, metadata.ResourceStateUnorderedAccess)
	}

	computeSubs := gpu.SubmissionsTo(metadata.QueueCompute)
	if len(computeSubs) != 1 {
		t.Fatalf("compute submissions\nhave %d\nwant 1", len(computeSubs))
	}
	graphics := d.Queue(metadata.QueueGraphics)
	if !computeSubs[0].WaitsOn(graphics.Timeline()) {
		t.Fatal("compute submission does not wait on the graphics timeline")
	}
	for _, w := range computeSubs[0].Waits {
		if w.Semaphore == renderer.Semaphore(graphics.Timeline()) && w.Value != graphics.LatestSignaledValue() {
			t.Errorf("graphics wait value\nhave %d\nwant %d", w.Value, graphics.LatestSignaledValue())
		}
	}
	if b := computeSubs[0].Barriers(); len(b) != 1 || !b[0].UAV {
		t.Errorf("compute barriers\nhave %+v\nwant the UAV barrier only", b)
	}
}
