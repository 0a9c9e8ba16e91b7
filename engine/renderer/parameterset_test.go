package renderer_test

import (
	"bytes"
	"testing"

	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/headless"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// Binding indices of materialSignature: textures, constants, samplers.
const (
	textureBinding  = 0
	constantBinding = 1
	samplerBinding  = 2
)

func materialSignature(t *testing.T, d *renderer.Device) *renderer.RootSignature {
	t.Helper()
	desc := &renderer.RootSignatureDesc{}
	desc.AddTextureSRVSet(0, metadata.ShaderStagePixel, 1)
	desc.AddConstantBufferSet(0, metadata.ShaderStageVertex, 1)
	desc.AddSamplerSet(0, metadata.ShaderStagePixel, 1)
	desc.AddRootConstant(0, metadata.ShaderStageVertex, 2)
	return newRootSignature(t, d, desc)
}

func heapOf(t *testing.T, cmd headless.Command) *headless.DescriptorHeap {
	t.Helper()
	if cmd.Op != headless.OpBindDescriptorHeap {
		t.Fatalf("command\nhave %s\nwant %s", cmd.Op, headless.OpBindDescriptorHeap)
	}
	return cmd.Heap
}

func TestParameterSetRotatesCopies(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	rs := materialSignature(t, d)
	pipeline := newGraphicsPipeline(t, d, rs)
	albedo := newTexture(t, d, "albedo", metadata.ResourceStateShaderResource)
	normal := newTexture(t, d, "normal", metadata.ResourceStateShaderResource)

	ps, err := d.CreateParameterSet(rs, true)
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Destroy()
	if ps.CopyCount() != 3 {
		t.Fatalf("CopyCount\nhave %d\nwant 3", ps.CopyCount())
	}

	pool := d.DynamicBufferPool()
	sampler := metadata.DefaultSamplerDesc()
	if err := ps.SetTextureSRV(albedo, metadata.ViewDimensionTexture2D, 0, -1, -1, -1); err != nil {
		t.Fatal(err)
	}
	if err := ps.SetRootConstantBufferResource(pool.Resource(), 256, 0); err != nil {
		t.Fatal(err)
	}
	if err := ps.SetSampler(&sampler, 0); err != nil {
		t.Fatal(err)
	}
	for c := 0; c < ps.CopyCount(); c++ {
		if e := ps.ResourceViews(c).Entry(0); e.Texture != albedo {
			t.Errorf("copy %d before the first Bind\nhave %v\nwant albedo", c, e.Texture)
		}
	}

	info, err := pool.AllocConstantBuffer(make([]byte, 64))
	if err != nil {
		t.Fatal(err)
	}
	ps.UpdateRootConstantBuffer(info, 0)
	ps.UpdateRootConstants(0, []uint32{1, 0x01020304})

	cl := newCommandList(t, d, metadata.QueueGraphics)
	if err := ps.Bind(cl, pipeline); err != nil {
		t.Fatal(err)
	}
	cmds := recorded(cl)
	if len(cmds) != 2 {
		t.Fatalf("commands after Bind\nhave %d\nwant heap bind and push constants", len(cmds))
	}
	heap := heapOf(t, cmds[0])
	if cmds[0].HeapCopy != 0 || len(cmds[0].DynamicOffsets) != 1 || uint64(cmds[0].DynamicOffsets[0]) != info.Offset {
		t.Errorf("heap bind\nhave copy %d offsets %v\nwant copy 0 offsets [%d]", cmds[0].HeapCopy, cmds[0].DynamicOffsets, info.Offset)
	}
	push := cmds[1]
	wantBytes := []byte{1, 0, 0, 0, 4, 3, 2, 1}
	if push.Op != headless.OpPushConstants || push.Stages != metadata.ShaderStageVertex || push.DstOffset != 0 || !bytes.Equal(push.Data, wantBytes) {
		t.Errorf("push constants\nhave %s %s at %d %v\nwant vertex at 0 %v", push.Op, push.Stages, push.DstOffset, push.Data, wantBytes)
	}
	if w, ok := heap.Written(0, samplerBinding, 0); !ok || w.Sampler == nil {
		t.Error("sampler descriptor not written")
	}
	if w, ok := heap.Written(0, constantBinding, 0); !ok || w.Range != 256 {
		t.Errorf("constant buffer descriptor\nhave %+v, %t\nwant range 256", w, ok)
	}
	if ps.State() != renderer.ParameterSetBound {
		t.Fatalf("State after Bind\nhave %s\nwant %s", ps.State(), renderer.ParameterSetBound)
	}

	// The first write after Bind moves to the next copy and leaves the bound one alone.
	if err := ps.SetTextureSRV(normal, metadata.ViewDimensionTexture2D, 0, -1, -1, -1); err != nil {
		t.Fatal(err)
	}
	if ps.CurrentIndex() != 1 || ps.State() != renderer.ParameterSetUpdating {
		t.Fatalf("after a write to a bound set\nhave copy %d %s\nwant copy 1 %s", ps.CurrentIndex(), ps.State(), renderer.ParameterSetUpdating)
	}
	if e := ps.ResourceViews(0).Entry(0); e.Texture != albedo {
		t.Error("write to a bound set modified the bound copy")
	}
	if e := ps.ResourceViews(1).Entry(0); e.Texture != normal {
		t.Error("write to a bound set missed the next copy")
	}
	for c := 0; c < 2; c++ {
		w, ok := heap.Written(c, textureBinding, 0)
		if !ok || w.View != ps.ResourceViews(c).Entry(0).View {
			t.Errorf("copy %d texture descriptor does not match its view", c)
		}
	}
	// The next copy inherits the bindings it did not overwrite.
	if w, ok := heap.Written(1, samplerBinding, 0); !ok || w.Sampler == nil {
		t.Error("copy 1 lost the sampler")
	}

	// A second write in the same update stays on the same copy.
	if err := ps.SetSampler(&sampler, 0); err != nil {
		t.Fatal(err)
	}
	if ps.CurrentIndex() != 1 {
		t.Errorf("CurrentIndex after a second write\nhave %d\nwant 1", ps.CurrentIndex())
	}
	if err := ps.Bind(cl, pipeline); err != nil {
		t.Fatal(err)
	}
	cmds = recorded(cl)
	if c := cmds[len(cmds)-2]; c.Op != headless.OpBindDescriptorHeap || c.HeapCopy != 1 {
		t.Errorf("second bind\nhave %s copy %d\nwant heap bind of copy 1", c.Op, c.HeapCopy)
	}
	submit(t, d, cl)
}

func TestParameterSetConstantBufferContract(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	rs := materialSignature(t, d)
	ps, err := d.CreateParameterSet(rs, true)
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Destroy()

	pool := d.DynamicBufferPool()
	if err := ps.SetRootConstantBufferResource(pool.Resource(), 64, 0); err != nil {
		t.Fatal(err)
	}
	desc := metadata.ConstantBufferDesc("other", 256)
	other, err := d.CreateBuffer(&desc, metadata.ResourceStateConstantBuffer, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Destroy()

	expectAssert(t, "offset into another buffer", func() {
		ps.UpdateRootConstantBuffer(renderer.BufferAddressInfo{Resource: other.Resource(), Size: 16}, 0)
	})
	expectAssert(t, "allocation larger than the binding", func() {
		ps.UpdateRootConstantBuffer(renderer.BufferAddressInfo{Resource: pool.Resource(), Size: 128}, 0)
	})
	expectAssert(t, "register without a constant buffer", func() {
		ps.UpdateRootConstantBuffer(renderer.BufferAddressInfo{Resource: pool.Resource(), Size: 16}, 3)
	})
	expectAssert(t, "too many root constants", func() {
		ps.UpdateRootConstants(0, []uint32{1, 2, 3})
	})

	// A pipeline built against another signature cannot take this set.
	otherDesc := &renderer.RootSignatureDesc{}
	otherDesc.AddTextureSRVSet(0, metadata.ShaderStagePixel, 1)
	foreign := newGraphicsPipeline(t, d, newRootSignature(t, d, otherDesc))
	cl := newCommandList(t, d, metadata.QueueGraphics)
	expectAssert(t, "bind with a foreign pipeline", func() {
		_ = ps.Bind(cl, foreign)
	})
}

func TestParameterSetFollowsResize(t *testing.T) {
	d, _ := newDevice(t, headless.Options{})
	desc := &renderer.RootSignatureDesc{}
	desc.AddTextureSRVSet(0, metadata.ShaderStagePixel, 1)
	rs := newRootSignature(t, d, desc)

	texDesc := metadata.Tex2DDesc("scene color", metadata.FormatRGBA8Unorm, 64, 64, 1, 1, metadata.ResourceFlagsAllowRenderTarget)
	tex, err := d.CreateTexture(&texDesc, metadata.ResourceStateShaderResource, func(desc *metadata.TextureDesc, _, _, renderWidth, renderHeight uint32) {
		desc.Width, desc.Height = renderWidth, renderHeight
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tex.Destroy()

	ps, err := d.CreateParameterSet(rs, true)
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Destroy()
	if err := ps.SetTextureSRV(tex, metadata.ViewDimensionTexture2D, 0, -1, -1, -1); err != nil {
		t.Fatal(err)
	}
	before := make([]renderer.View, ps.CopyCount())
	for c := range before {
		before[c] = ps.ResourceViews(c).Entry(0).View
	}
	generation := tex.Resource().Generation()

	if err := d.OnRenderingResolutionResize(128, 128, 32, 32); err != nil {
		t.Fatal(err)
	}
	if tex.Desc().Width != 32 || tex.Resource().Generation() != generation+1 {
		t.Fatalf("texture after resize\nhave width %d generation %d\nwant width 32 generation %d", tex.Desc().Width, tex.Resource().Generation(), generation+1)
	}

	cl := newCommandList(t, d, metadata.QueueGraphics)
	if err := ps.Bind(cl, newGraphicsPipeline(t, d, rs)); err != nil {
		t.Fatal(err)
	}
	heap := heapOf(t, recorded(cl)[0])
	for c := range before {
		e := ps.ResourceViews(c).Entry(0)
		if e.IsStale() || e.View == before[c] {
			t.Errorf("copy %d view not rebuilt after resize", c)
		}
		if w, ok := heap.Written(c, 0, 0); !ok || w.View != e.View {
			t.Errorf("copy %d descriptor does not point at the rebuilt view", c)
		}
		if e.TextureView.MipCount != 1 || e.Resource != tex.Resource() {
			t.Errorf("copy %d view\nhave %+v\nwant the resized texture", c, e.TextureView)
		}
	}
	submit(t, d, cl)
}

func TestImmediateParameterSetReleasesAfterCompletion(t *testing.T) {
	d, gpu := newDevice(t, headless.Options{ManualCompletion: true})
	desc := &renderer.RootSignatureDesc{}
	desc.AddTextureSRVSet(0, metadata.ShaderStageCompute, 1)
	desc.AddSamplerSet(0, metadata.ShaderStageCompute, 1)
	rs := newRootSignature(t, d, desc)
	pipeline := newComputePipeline(t, d, rs)
	tex := newTexture(t, d, "input", metadata.ResourceStateShaderResource)

	ps, err := d.CreateParameterSet(rs, false)
	if err != nil {
		t.Fatal(err)
	}
	defer ps.Destroy()
	if ps.IsBuffered() || ps.CopyCount() != 1 {
		t.Fatalf("immediate set\nhave buffered %t copies %d\nwant false 1", ps.IsBuffered(), ps.CopyCount())
	}

	views := d.ViewAllocator()
	resourceViews, samplerViews := views.Used(metadata.ViewHeapGPUResource), views.Used(metadata.ViewHeapGPUSampler)
	sampler := metadata.DefaultSamplerDesc()
	if err := ps.SetTextureSRV(tex, metadata.ViewDimensionTexture2D, 0, -1, -1, -1); err != nil {
		t.Fatal(err)
	}
	if err := ps.SetSampler(&sampler, 0); err != nil {
		t.Fatal(err)
	}
	if n := views.Used(metadata.ViewHeapGPUResource); n != resourceViews {
		t.Errorf("immediate set allocated views before Bind: %d", n-resourceViews)
	}

	cl := newCommandList(t, d, metadata.QueueCompute)
	if err := ps.Bind(cl, pipeline); err != nil {
		t.Fatal(err)
	}
	heap := heapOf(t, recorded(cl)[0])
	if heap.Copies() != 1 {
		t.Errorf("transient heap copies\nhave %d\nwant 1", heap.Copies())
	}
	if w, ok := heap.Written(0, 0, 0); !ok || w.View == nil {
		t.Error("transient heap misses the texture")
	}
	if n := views.Used(metadata.ViewHeapGPUResource); n != resourceViews+1 {
		t.Errorf("resource views while recording\nhave %d\nwant %d", n, resourceViews+1)
	}

	submit(t, d, cl)
	d.ProcessDeferredReleases()
	if heap.IsDestroyed() {
		t.Fatal("transient heap destroyed while its submission is in flight")
	}

	gpu.CompleteAll()
	d.ProcessDeferredReleases()
	if !heap.IsDestroyed() {
		t.Error("transient heap survived its submission")
	}
	if n := views.Used(metadata.ViewHeapGPUResource); n != resourceViews {
		t.Errorf("resource views after completion\nhave %d\nwant %d", n, resourceViews)
	}
	if n := views.Used(metadata.ViewHeapGPUSampler); n != samplerViews {
		t.Errorf("sampler views after completion\nhave %d\nwant %d", n, samplerViews)
	}
}
