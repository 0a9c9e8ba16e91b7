package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

func TestFormatRoundTrip(t *testing.T) {
	for f, want := range formats {
		if have := vkFormat(f); have != want {
			t.Errorf("vkFormat(%v): have %d, want %d", f, have, want)
		}
		if have := resourceFormat(want); have != f {
			t.Errorf("resourceFormat(%d): have %v, want %v", want, have, f)
		}
	}
	if have := vkFormat(metadata.FormatUnknown); have != vk.FormatUndefined {
		t.Errorf("unknown format: have %d", have)
	}
}

func TestStateLayout(t *testing.T) {
	tests := []struct {
		state  metadata.ResourceState
		format metadata.ResourceFormat
		want   vk.ImageLayout
	}{
		{metadata.ResourceStateUndefined, metadata.FormatRGBA8Unorm, vk.ImageLayoutUndefined},
		{metadata.ResourceStateCommon, metadata.FormatRGBA8Unorm, vk.ImageLayoutGeneral},
		{metadata.ResourceStatePresent, metadata.FormatBGRA8Unorm, vk.ImageLayoutPresentSrc},
		{metadata.ResourceStateRenderTarget, metadata.FormatRGBA8Unorm, vk.ImageLayoutColorAttachmentOptimal},
		{metadata.ResourceStateDepthWrite, metadata.FormatD32Float, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{metadata.ResourceStateUnorderedAccess, metadata.FormatRGBA16Float, vk.ImageLayoutGeneral},
		{metadata.ResourceStateCopyDest, metadata.FormatRGBA8Unorm, vk.ImageLayoutTransferDstOptimal},
		{metadata.ResourceStateCopySource, metadata.FormatRGBA8Unorm, vk.ImageLayoutTransferSrcOptimal},
		{metadata.ResourceStateShaderResource, metadata.FormatRGBA8Unorm, vk.ImageLayoutShaderReadOnlyOptimal},
		{metadata.ResourceStateShaderResource, metadata.FormatD32Float, vk.ImageLayoutDepthStencilReadOnlyOptimal},
		{metadata.ResourceStateShaderResource | metadata.ResourceStateCopySource, metadata.FormatRGBA8Unorm, vk.ImageLayoutShaderReadOnlyOptimal},
	}
	for _, tt := range tests {
		if have := stateLayout(tt.state, tt.format); have != tt.want {
			t.Errorf("stateLayout(%v, %v): have %d, want %d", tt.state, tt.format, have, tt.want)
		}
	}
}

func TestStateMasks(t *testing.T) {
	access, stage := stateMasks(metadata.ResourceStateUndefined)
	if access != 0 || stage != vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit) {
		t.Errorf("undefined: have %d/%d", access, stage)
	}

	access, stage = stateMasks(metadata.ResourceStateCopyDest | metadata.ResourceStatePixelShader)
	wantAccess := vk.AccessFlags(vk.AccessTransferWriteBit | vk.AccessShaderReadBit)
	wantStage := vk.PipelineStageFlags(vk.PipelineStageTransferBit | vk.PipelineStageFragmentShaderBit)
	if access != wantAccess {
		t.Errorf("access: have %d, want %d", access, wantAccess)
	}
	if stage != wantStage {
		t.Errorf("stage: have %d, want %d", stage, wantStage)
	}
}

func TestQueueStages(t *testing.T) {
	frag := vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageTransferBit)
	if have := queueStages(metadata.QueueGraphics, frag); have != frag {
		t.Errorf("graphics keeps stages: have %d", have)
	}
	have := queueStages(metadata.QueueCompute, frag)
	if have&graphicsOnlyStages != 0 {
		t.Errorf("compute queue kept graphics stages: %d", have)
	}
	if have&vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit) == 0 {
		t.Errorf("compute queue must widen to all commands: %d", have)
	}
	transfer := vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	if have := queueStages(metadata.QueueCopy, transfer); have != transfer {
		t.Errorf("copy queue transfer only: have %d", have)
	}
}

func TestChoosePresentMode(t *testing.T) {
	tests := []struct {
		modes []vk.PresentMode
		vsync bool
		want  vk.PresentMode
	}{
		{[]vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeFifo}, true, vk.PresentModeFifo},
		{[]vk.PresentMode{vk.PresentModeImmediate, vk.PresentModeMailbox}, false, vk.PresentModeMailbox},
		{[]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeImmediate}, false, vk.PresentModeImmediate},
		{[]vk.PresentMode{vk.PresentModeFifo}, false, vk.PresentModeFifo},
	}
	for i, tt := range tests {
		if have := choosePresentMode(tt.modes, tt.vsync); have != tt.want {
			t.Errorf("case %d: have %d, want %d", i, have, tt.want)
		}
	}
}

func TestChooseSurfaceFormat(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR16g16b16a16Sfloat, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	if have := chooseSurfaceFormat(formats, metadata.FormatRGBA8Unorm); have.Format != vk.FormatR8g8b8a8Unorm {
		t.Errorf("requested format: have %d", have.Format)
	}
	if have := chooseSurfaceFormat(formats, metadata.FormatRGB10A2Unorm); have.Format != vk.FormatB8g8r8a8Unorm {
		t.Errorf("bgra fallback: have %d", have.Format)
	}
	if have := chooseSurfaceFormat(formats[:1], metadata.FormatRGB10A2Unorm); have.Format != vk.FormatR16g16b16a16Sfloat {
		t.Errorf("first fallback: have %d", have.Format)
	}
}

func TestDescriptorType(t *testing.T) {
	tests := []struct {
		in   metadata.BindingType
		want vk.DescriptorType
	}{
		{metadata.BindingTypeCBV, vk.DescriptorTypeUniformBufferDynamic},
		{metadata.BindingTypeTextureSRV, vk.DescriptorTypeSampledImage},
		{metadata.BindingTypeTextureUAV, vk.DescriptorTypeStorageImage},
		{metadata.BindingTypeBufferSRV, vk.DescriptorTypeStorageBuffer},
		{metadata.BindingTypeBufferUAV, vk.DescriptorTypeStorageBuffer},
		{metadata.BindingTypeSampler, vk.DescriptorTypeSampler},
	}
	for _, tt := range tests {
		if have := descriptorType(tt.in); have != tt.want {
			t.Errorf("descriptorType(%v): have %d, want %d", tt.in, have, tt.want)
		}
	}
}

func TestAPIVersion(t *testing.T) {
	major, minor, patch := apiVersion(uint32(vk.MakeVersion(1, 2, 189)))
	if major != 1 || minor != 2 || patch != 189 {
		t.Errorf("have %d.%d.%d", major, minor, patch)
	}
}

func TestQueueLockPoolSharesFamilyLock(t *testing.T) {
	p := newQueueLockPool()
	if p.lock(0) != p.lock(0) {
		t.Error("same family must share a lock")
	}
	if p.lock(0) == p.lock(1) {
		t.Error("distinct families must not share a lock")
	}
	called := false
	if err := p.SafeQueueCall(2, func() error { called = true; return nil }); err != nil || !called {
		t.Errorf("SafeQueueCall: called %v, err %v", called, err)
	}
}

func TestTimelineProcsNeedLoader(t *testing.T) {
	if err := (&GPU{}).loadTimelineProcs(); err == nil {
		t.Error("loadTimelineProcs without a loader: have nil error, want error")
	}
	if have := semaphoreBits(vk.NullSemaphore); have != 0 {
		t.Errorf("semaphoreBits(NullSemaphore): have %d, want 0", have)
	}
}
