package renderer_test

import (
	"context"
	"testing"
	"time"

	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/headless"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

func newDevice(t *testing.T, opts headless.Options, configure ...func(*core.Config)) (*renderer.Device, *headless.GPU) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.UploadHeapSize = 1 << 20
	cfg.DynamicBufferPoolSize = 64 << 10
	for _, fn := range configure {
		fn(cfg)
	}
	gpu := headless.New(opts)
	d, err := renderer.NewDevice(cfg, gpu)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	t.Cleanup(d.Destroy)
	return d, gpu
}

// expectAssert runs fn and fails the test unless it trips a contract assertion.
func expectAssert(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Errorf("%s\nhave no assertion\nwant assertion failure", what)
			return
		}
		if !core.IsAssertionFailure(r) {
			t.Errorf("%s\nhave panic %v\nwant assertion failure", what, r)
		}
	}()
	fn()
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTexture(t *testing.T, d *renderer.Device, name string, state metadata.ResourceState) *renderer.Texture {
	t.Helper()
	desc := metadata.Tex2DDesc(name, metadata.FormatRGBA8Unorm, 64, 64, 1, 1,
		metadata.ResourceFlagsAllowRenderTarget|metadata.ResourceFlagsAllowUnorderedAccess)
	tex, err := d.CreateTexture(&desc, state, nil)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	t.Cleanup(tex.Destroy)
	return tex
}

func newCommandList(t *testing.T, d *renderer.Device, queue metadata.QueueType) *renderer.CommandList {
	t.Helper()
	cl, err := d.CreateCommandList("", queue)
	if err != nil {
		t.Fatalf("CreateCommandList: %v", err)
	}
	return cl
}

// submit closes cl and submits it on its queue.
func submit(t *testing.T, d *renderer.Device, cl *renderer.CommandList) uint64 {
	t.Helper()
	if err := cl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ticket, err := d.ExecuteCommandLists([]*renderer.CommandList{cl}, cl.Queue(), false, false)
	if err != nil {
		t.Fatalf("ExecuteCommandLists: %v", err)
	}
	return ticket
}

// recorded returns what cl recorded so far.
func recorded(cl *renderer.CommandList) []headless.Command {
	return cl.CommandBuffer().(*headless.CommandBuffer).Commands()
}

func newGraphicsPipeline(t *testing.T, d *renderer.Device, rs *renderer.RootSignature) *renderer.PipelineObject {
	t.Helper()
	p, err := d.CreatePipelineObject(&metadata.PipelineDesc{
		Name:         "test graphics",
		Type:         metadata.PipelineTypeGraphics,
		VertexShader: []byte{0x03, 0x02, 0x23, 0x07},
		PixelShader:  []byte{0x03, 0x02, 0x23, 0x07},
		ColorFormats: []metadata.ResourceFormat{metadata.FormatRGBA8Unorm},
	}, rs)
	if err != nil {
		t.Fatalf("CreatePipelineObject: %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
}

func newComputePipeline(t *testing.T, d *renderer.Device, rs *renderer.RootSignature) *renderer.PipelineObject {
	t.Helper()
	p, err := d.CreatePipelineObject(&metadata.PipelineDesc{
		Name:          "test compute",
		Type:          metadata.PipelineTypeCompute,
		ComputeShader: []byte{0x03, 0x02, 0x23, 0x07},
	}, rs)
	if err != nil {
		t.Fatalf("CreatePipelineObject: %v", err)
	}
	t.Cleanup(p.Destroy)
	return p
}

func newRootSignature(t *testing.T, d *renderer.Device, desc *renderer.RootSignatureDesc) *renderer.RootSignature {
	t.Helper()
	rs, err := d.CreateRootSignature(t.Name(), desc)
	if err != nil {
		t.Fatalf("CreateRootSignature: %v", err)
	}
	t.Cleanup(rs.Destroy)
	return rs
}
