package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// Accessors for external SDKs that interoperate with native handles without owning them.

func NativeCommandList(cl *CommandList) interface{} {
	core.Assert(cl.state == CommandListRecording, "native handle of command list %s in state %s", cl.name, cl.state)
	return cl.cmd.Native()
}

func NativePipeline(p *PipelineObject) interface{} {
	return p.pipeline.Native()
}

// NativeResource returns the native image or buffer backing res.
func NativeResource(res *GPUResource) interface{} {
	if res.image != nil {
		return res.image.Native()
	}
	if res.buffer != nil {
		return res.buffer.Native()
	}
	return nil
}

// ResourceDescriptionInfo describes a resource to an external SDK.
type ResourceDescriptionInfo struct {
	Kind    metadata.ResourceKind
	Texture metadata.TextureDesc
	Buffer  metadata.BufferDesc
	State   metadata.ResourceState
}

func ResourceDescription(res *GPUResource) ResourceDescriptionInfo {
	return ResourceDescriptionInfo{
		Kind:    res.kind,
		Texture: res.textureDesc,
		Buffer:  res.bufferDesc,
		State:   res.states[0],
	}
}

func NativeSwapChain(sc *SwapChain) interface{} {
	return sc.impl.Native()
}

// ReplaceSwapchainForFrameinterpolation swaps the presentation path for impl, owned by the
// caller. The application swapchain is destroyed; its creation parameters are kept.
func ReplaceSwapchainForFrameinterpolation(sc *SwapChain, impl SwapChainImpl) error {
	core.Assert(sc.state == SwapChainCreated, "replacing a swapchain in state %s", sc.state)
	core.Assert(!sc.external, "swapchain already replaced")
	if err := sc.device.FlushAllQueues(); err != nil {
		return err
	}
	sc.detach()
	if sc.impl != nil {
		sc.impl.Destroy()
	}
	sc.impl = impl
	sc.external = true
	if err := sc.attach(impl); err != nil {
		sc.needsResize = true
		return errors.Wrap(err, "failed to attach frame interpolation swapchain")
	}
	core.LogInfo("swapchain replaced for frame interpolation")
	return nil
}

// RestoreApplicationSwapChain recreates the application swapchain from its original creation
// parameters. The replacement is retired but stays owned by the caller.
func RestoreApplicationSwapChain(sc *SwapChain) error {
	core.Assert(sc.state == SwapChainCreated, "restoring a swapchain in state %s", sc.state)
	core.Assert(sc.external, "swapchain was not replaced")
	if err := sc.device.FlushAllQueues(); err != nil {
		return err
	}
	sc.detach()
	replaced := sc.impl
	impl, err := sc.device.gpu.CreateSwapChain(&sc.params, replaced)
	if err != nil {
		// Still external: the next WaitForSwapChain re-attaches the replacement.
		sc.needsResize = true
		return errors.Wrap(err, "failed to restore application swapchain")
	}
	sc.impl = nil
	sc.external = false
	if err := sc.attach(impl); err != nil {
		impl.Destroy()
		sc.needsResize = true
		return err
	}
	core.LogInfo("application swapchain restored")
	return nil
}
