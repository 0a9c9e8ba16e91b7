package renderer

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// Placement alignment of each subresource inside the staging buffer.
const uploadAlignment = 512

// UploadHeap is the host visible staging buffer CopyData goes through. One upload owns it
// between Begin and End; uploads larger than the heap get a transient buffer of their own.
type UploadHeap struct {
	device   *Device
	mutex    sync.Mutex
	resource *GPUResource
	size     uint64
}

func newUploadHeap(d *Device, size uint64) (*UploadHeap, error) {
	res, err := d.createHostBuffer("upload heap", size)
	if err != nil {
		return nil, err
	}
	return &UploadHeap{device: d, resource: res, size: size}, nil
}

func (h *UploadHeap) Size() uint64 { return h.size }

// StagingBlock is the reserved part of the heap, or a dedicated transient buffer.
type StagingBlock struct {
	heap      *UploadHeap
	Resource  *GPUResource
	size      uint64
	offset    uint64
	transient bool
	ended     bool
}

// Begin locks the heap for an upload of up to size bytes.
func (h *UploadHeap) Begin(size uint64) (*StagingBlock, error) {
	h.mutex.Lock()
	if size <= h.size {
		return &StagingBlock{heap: h, Resource: h.resource, size: h.size}, nil
	}

	core.LogDebug("upload of %d bytes exceeds the %d byte upload heap, using a transient buffer", size, h.size)
	res, err := h.device.createHostBuffer(core.NewIdentifier("staging"), size)
	if err != nil {
		h.mutex.Unlock()
		return nil, err
	}
	return &StagingBlock{heap: h, Resource: res, size: size, transient: true}, nil
}

// Reserve carves size bytes out of the block and returns their offset and writable mapping.
func (b *StagingBlock) Reserve(size uint64) (uint64, []byte) {
	offset := math.AlignUp(b.offset, uploadAlignment)
	core.Assert(offset+size <= b.size, "staging block overflow: %d+%d > %d", offset, size, b.size)
	b.offset = offset + size
	return offset, b.Resource.buffer.Mapped()[offset : offset+size]
}

// End unlocks the heap. The caller guarantees the GPU finished reading the block.
func (b *StagingBlock) End() {
	if b.ended {
		return
	}
	b.ended = true
	if b.transient {
		b.Resource.destroy()
	}
	b.heap.mutex.Unlock()
}

func (h *UploadHeap) destroy() {
	h.resource.destroy()
}

// uploadTexture copies every subresource of block into res, mip by mip and slice by slice.
func (d *Device) uploadTexture(ctx context.Context, res *GPUResource, block *metadata.TextureDataBlock) error {
	desc := res.textureDesc
	slices := desc.ArraySize()

	var total uint64
	for slice := uint32(0); slice < slices; slice++ {
		for mip := uint32(0); mip < desc.MipLevels; mip++ {
			total = math.AlignUp(total, uploadAlignment) + desc.MipSize(mip)
		}
	}

	staging, err := d.uploadHeap.Begin(total)
	if err != nil {
		return err
	}
	defer staging.End()

	copies := make([]BufferImageCopy, 0, slices*desc.MipLevels)
	for slice := uint32(0); slice < slices; slice++ {
		for mip := uint32(0); mip < desc.MipLevels; mip++ {
			size := desc.MipSize(mip)
			data := block.Subresource(&desc, mip, slice)
			core.Assert(uint64(len(data)) >= size, "texture %s mip %d slice %d: %d bytes of data, %d needed", res.name, mip, slice, len(data), size)
			offset, dst := staging.Reserve(size)
			copy(dst, data[:size])
			copies = append(copies, BufferImageCopy{BufferOffset: offset, Mip: mip, Slice: slice, Extent: desc.MipExtent(mip)})
		}
	}

	cl, err := d.CreateCommandList("upload "+res.name, metadata.QueueCopy)
	if err != nil {
		return err
	}
	ct := d.beginCopy(cl, res, metadata.ResourceStateShaderResource)
	cl.CopyBufferToTexture(res, staging.Resource, copies)
	return d.finishCopy(ctx, cl, ct)
}

func (d *Device) uploadBuffer(ctx context.Context, res *GPUResource, data []byte, readState metadata.ResourceState) error {
	if len(data) == 0 {
		return nil
	}
	size := uint64(len(data))
	staging, err := d.uploadHeap.Begin(size)
	if err != nil {
		return err
	}
	defer staging.End()
	offset, dst := staging.Reserve(size)
	copy(dst, data)

	cl, err := d.CreateCommandList("upload "+res.name, metadata.QueueCopy)
	if err != nil {
		return err
	}
	ct := d.beginCopy(cl, res, readState)
	cl.CopyBufferRegion(res, 0, staging.Resource, offset, size)
	return d.finishCopy(ctx, cl, ct)
}

// copyTransition is how an upload moves res: into CopyDest on the copy list and out to final.
type copyTransition struct {
	res    *GPUResource
	before []metadata.ResourceState
	final  metadata.ResourceState
	// fresh is set when the contents were undefined; init is the state res was created in.
	fresh bool
	init  metadata.ResourceState
}

// beginCopy moves res into CopyDest on a copy list.
func (d *Device) beginCopy(cl *CommandList, res *GPUResource, readState metadata.ResourceState) *copyTransition {
	settle := func(s metadata.ResourceState) metadata.ResourceState {
		if s == metadata.ResourceStateCopyDest || s == metadata.ResourceStateUndefined {
			return readState
		}
		return s
	}
	ct := &copyTransition{res: res, before: append([]metadata.ResourceState(nil), res.states...)}

	if init, ok := d.takePendingInit(res); ok {
		// The image was never transitioned: its real contents are undefined.
		ct.fresh, ct.init = true, init
		ct.final = settle(init)
		if ct.moved() {
			// Lists recorded before the upload start from the creation state.
			ct.final = init
		}
		cl.cmd.Barriers([]BarrierRecord{d.record(res, metadata.AllSubresources, metadata.ResourceStateUndefined,
			metadata.ResourceStateCopyDest, QueueFamilyIgnored, QueueFamilyIgnored, OwnershipNone, false)})
		res.setState(metadata.AllSubresources, metadata.ResourceStateCopyDest)
		return ct
	}

	current := res.CurrentState(metadata.AllSubresources)
	if current != metadata.ResourceStateCopyDest {
		cl.ResourceBarrier(TransitionBarrier(res, current, metadata.ResourceStateCopyDest, metadata.AllSubresources))
	}
	ct.final = settle(current)
	return ct
}

// moved reports whether barriers were recorded on a fresh resource before the upload.
func (ct *copyTransition) moved() bool {
	for _, s := range ct.before {
		if s != ct.init {
			return true
		}
	}
	return false
}

// done runs once the GPU finished the copy. A fresh resource whose tracked state moved goes
// back to where the earlier recorded lists leave it.
func (ct *copyTransition) done() {
	if ct.fresh && ct.moved() {
		copy(ct.res.states, ct.before)
	}
}

// abort runs when nothing was submitted: tracking goes back to before the copy.
func (ct *copyTransition) abort(d *Device) {
	copy(ct.res.states, ct.before)
	ct.res.pending = nil
	if ct.fresh {
		d.queueInitialTransition(ct.res, ct.init)
	}
}

// finishCopy hands res over to the graphics queue in its final state and waits for it. With
// distinct queue families the copy list releases ownership and a graphics list acquires it,
// linked by a pooled semaphore.
func (d *Device) finishCopy(ctx context.Context, cl *CommandList, ct *copyTransition) error {
	res, final := ct.res, ct.final
	if d.QueueFamily(metadata.QueueCopy) == d.QueueFamily(metadata.QueueGraphics) {
		cl.ResourceBarrier(TransitionBarrier(res, metadata.ResourceStateCopyDest, final, metadata.AllSubresources))
		if err := cl.Close(); err != nil {
			d.retireCommandList(cl, 0)
			ct.abort(d)
			return err
		}
		ticket, err := d.submit([]*CommandList{cl}, metadata.QueueCopy, SubmitOptions{})
		if err != nil {
			ct.abort(d)
			return err
		}
		if err := d.queues[metadata.QueueCopy].Wait(ctx, ticket); err != nil {
			return err
		}
		ct.done()
		return nil
	}

	cl.ResourceBarrier(ReleaseBarrier(res, metadata.ResourceStateCopyDest, final, metadata.QueueCopy, metadata.QueueGraphics))
	if err := cl.Close(); err != nil {
		d.retireCommandList(cl, 0)
		ct.abort(d)
		return err
	}
	gl, err := d.CreateCommandList("acquire "+res.name, metadata.QueueGraphics)
	if err != nil {
		d.retireCommandList(cl, 0)
		ct.abort(d)
		return err
	}
	gl.ResourceBarrier(AcquireBarrier(res, metadata.ResourceStateCopyDest, final, metadata.QueueCopy, metadata.QueueGraphics))
	if err := gl.Close(); err != nil {
		d.retireCommandList(cl, 0)
		d.retireCommandList(gl, 0)
		ct.abort(d)
		return err
	}

	ds, err := d.ExecuteCommandListsDependent([]*CommandList{cl}, metadata.QueueCopy, []*CommandList{gl}, metadata.QueueGraphics)
	if err != nil {
		ct.abort(d)
		return errors.Wrapf(err, "failed to upload %s", res.name)
	}
	defer ds.Release()
	if err := d.queues[metadata.QueueGraphics].Wait(ctx, ds.SecondTicket); err != nil {
		return err
	}
	ct.done()
	return nil
}
