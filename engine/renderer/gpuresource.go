package renderer

import (
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// ownershipTransfer is set by a release barrier and consumed by the matching acquire.
type ownershipTransfer struct {
	from, to metadata.QueueType
	src, dst metadata.ResourceState
}

// GPUResource is one physical allocation and the tracked state of each of its subresources.
// State is only mutated by the thread issuing barriers against it; it carries no lock.
type GPUResource struct {
	name        string
	kind        metadata.ResourceKind
	textureDesc metadata.TextureDesc
	bufferDesc  metadata.BufferDesc
	states      []metadata.ResourceState
	resizable   bool
	owned       bool
	generation  uint64
	pending     *ownershipTransfer

	image  Image
	buffer GPUBuffer
}

func newTextureResource(desc *metadata.TextureDesc, img Image, state metadata.ResourceState, owned, resizable bool) *GPUResource {
	r := &GPUResource{
		name:        desc.Name,
		kind:        metadata.ResourceKindTexture,
		textureDesc: *desc,
		resizable:   resizable,
		owned:       owned,
		image:       img,
	}
	r.resetState(state)
	return r
}

func newBufferResource(desc *metadata.BufferDesc, buf GPUBuffer, state metadata.ResourceState, resizable bool) *GPUResource {
	r := &GPUResource{
		name:       desc.Name,
		kind:       metadata.ResourceKindBuffer,
		bufferDesc: *desc,
		resizable:  resizable,
		owned:      true,
		buffer:     buf,
	}
	r.resetState(state)
	return r
}

func (r *GPUResource) resetState(state metadata.ResourceState) {
	r.states = make([]metadata.ResourceState, r.SubresourceCount())
	for i := range r.states {
		r.states[i] = state
	}
	r.pending = nil
}

func (r *GPUResource) Name() string                      { return r.name }
func (r *GPUResource) Kind() metadata.ResourceKind       { return r.kind }
func (r *GPUResource) IsTexture() bool                   { return r.kind == metadata.ResourceKindTexture }
func (r *GPUResource) IsBuffer() bool                    { return r.kind == metadata.ResourceKindBuffer }
func (r *GPUResource) TextureDesc() metadata.TextureDesc { return r.textureDesc }
func (r *GPUResource) BufferDesc() metadata.BufferDesc   { return r.bufferDesc }
func (r *GPUResource) IsResizable() bool                 { return r.resizable }

// IsOwned is false for swapchain images, whose lifetime belongs to the swapchain.
func (r *GPUResource) IsOwned() bool { return r.owned }

// Generation increases every time the backing allocation is replaced.
func (r *GPUResource) Generation() uint64 { return r.generation }

func (r *GPUResource) Image() Image      { return r.image }
func (r *GPUResource) Buffer() GPUBuffer { return r.buffer }

func (r *GPUResource) SubresourceCount() uint32 {
	if r.kind == metadata.ResourceKindBuffer {
		return 1
	}
	n := r.textureDesc.SubresourceCount()
	if n == 0 {
		return 1
	}
	return n
}

// CurrentState returns the tracked state of one subresource. Asking for AllSubresources
// asserts every subresource agrees.
func (r *GPUResource) CurrentState(subresource uint32) metadata.ResourceState {
	if subresource == metadata.AllSubresources {
		s := r.states[0]
		for i, other := range r.states {
			core.Assert(other == s, "resource %s: subresource %d is %s while subresource 0 is %s", r.name, i, other, s)
		}
		return s
	}
	core.Assert(subresource < uint32(len(r.states)), "resource %s: subresource %d out of range (%d)", r.name, subresource, len(r.states))
	return r.states[subresource]
}

func (r *GPUResource) setState(subresource uint32, state metadata.ResourceState) {
	if subresource == metadata.AllSubresources {
		for i := range r.states {
			r.states[i] = state
		}
		return
	}
	r.states[subresource] = state
}

// HasPendingOwnershipTransfer reports a release barrier still waiting for its acquire.
func (r *GPUResource) HasPendingOwnershipTransfer() bool {
	return r.pending != nil
}

// subresourceRange converts a subresource index into a range for the backend.
func (r *GPUResource) subresourceRange(subresource uint32) metadata.SubresourceRange {
	if r.kind == metadata.ResourceKindBuffer {
		return metadata.SubresourceRange{MipCount: 1, SliceCount: 1}
	}
	mips := r.textureDesc.MipLevels
	if subresource == metadata.AllSubresources {
		return metadata.SubresourceRange{MipCount: mips, SliceCount: r.textureDesc.ArraySize()}
	}
	return metadata.SubresourceRange{
		BaseMip:    subresource % mips,
		MipCount:   1,
		BaseSlice:  subresource / mips,
		SliceCount: 1,
	}
}

func (r *GPUResource) replace(img Image, buf GPUBuffer, state metadata.ResourceState) {
	r.image = img
	r.buffer = buf
	r.generation++
	r.resetState(state)
}

func (r *GPUResource) destroy() {
	if !r.owned {
		return
	}
	if r.image != nil {
		r.image.Destroy()
		r.image = nil
	}
	if r.buffer != nil {
		r.buffer.Destroy()
		r.buffer = nil
	}
}
