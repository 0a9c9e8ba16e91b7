package renderer

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type ParameterSetState int

const (
	ParameterSetUnbound ParameterSetState = iota
	ParameterSetUpdating
	ParameterSetBound
)

func (s ParameterSetState) String() string {
	switch s {
	case ParameterSetUnbound:
		return "Unbound"
	case ParameterSetUpdating:
		return "Updating"
	case ParameterSetBound:
		return "Bound"
	default:
		return "Unknown"
	}
}

// bindingRecord remembers what was bound to one table slot so the view can be rebuilt. It
// references textures and buffers without owning them.
type bindingRecord struct {
	binding int
	offset  uint32

	texture  *Texture
	buffer   *Buffer
	resource *GPUResource

	viewType                   metadata.ViewType
	dim                        metadata.ViewDimension
	mip, arraySize, firstSlice int32
	firstElement, numElements  uint64
	stride                     uint32
	sampler                    metadata.SamplerDesc
	size                       uint64
}

func (r *bindingRecord) gpuResource() *GPUResource {
	switch {
	case r.texture != nil:
		return r.texture.Resource()
	case r.buffer != nil:
		return r.buffer.Resource()
	default:
		return r.resource
	}
}

type parameterCopy struct {
	records  map[uint32]*bindingRecord
	views    *ResourceView
	samplers *ResourceView
}

// ParameterSet binds resources to the slots of a root signature. A buffered set owns
// parameter_set_buffering copies of its descriptors and rotates to the next copy on the first
// write after a Bind, so CPU writes never touch a copy a frame in flight may read. An immediate
// set builds fresh descriptors on every Bind and frees them once that submission completed.
type ParameterSet struct {
	device   *Device
	rootSig  *RootSignature
	buffered bool
	state    ParameterSetState

	copies []*parameterCopy
	heap   DescriptorHeap
	index  int

	dynamicOffsets []uint32
	rootConstants  map[int][]uint32
	listening      bool
}

func (d *Device) CreateParameterSet(rootSig *RootSignature, buffered bool) (*ParameterSet, error) {
	ps := &ParameterSet{
		device:        d,
		rootSig:       rootSig,
		buffered:      buffered,
		rootConstants: make(map[int][]uint32),
	}
	_, cbvs := rootSig.TypeRange(metadata.BindingTypeCBV)
	ps.dynamicOffsets = make([]uint32, cbvs)

	n := 1
	if buffered {
		n = int(d.cfg.ParameterSetBuffering)
	}
	for i := 0; i < n; i++ {
		pc := &parameterCopy{records: make(map[uint32]*bindingRecord)}
		ps.copies = append(ps.copies, pc)
		if !buffered {
			continue
		}
		var err error
		if pc.views, pc.samplers, err = ps.allocateViews(); err != nil {
			ps.Destroy()
			return nil, err
		}
	}
	if buffered {
		heap, err := d.gpu.CreateDescriptorHeap(rootSig.layout, n)
		if err != nil {
			ps.Destroy()
			return nil, errors.Wrapf(err, "failed to create descriptor heap for %s", rootSig.name)
		}
		ps.heap = heap
	}
	return ps, nil
}

func (ps *ParameterSet) allocateViews() (views, samplers *ResourceView, err error) {
	alloc := ps.device.viewAllocator
	if n := ps.rootSig.resourceSlots(); n > 0 {
		if views, err = alloc.AllocateGPUResourceViews(n); err != nil {
			return nil, nil, err
		}
	}
	if _, n := ps.rootSig.TypeRange(metadata.BindingTypeSampler); n > 0 {
		if samplers, err = alloc.AllocateGPUSamplerViews(n); err != nil {
			alloc.Release(views)
			return nil, nil, err
		}
	}
	return views, samplers, nil
}

func (ps *ParameterSet) RootSignature() *RootSignature { return ps.rootSig }
func (ps *ParameterSet) IsBuffered() bool              { return ps.buffered }
func (ps *ParameterSet) State() ParameterSetState      { return ps.state }

// CurrentIndex is the copy the next Bind uses.
func (ps *ParameterSet) CurrentIndex() int { return ps.index }
func (ps *ParameterSet) CopyCount() int    { return len(ps.copies) }

// ResourceViews returns the resource view array of one buffered copy.
func (ps *ParameterSet) ResourceViews(copy int) *ResourceView { return ps.copies[copy].views }
func (ps *ParameterSet) SamplerViews(copy int) *ResourceView  { return ps.copies[copy].samplers }

func (ps *ParameterSet) SetTextureSRV(tex *Texture, dim metadata.ViewDimension, register uint32, mip, arraySize, firstSlice int32) error {
	return ps.set(metadata.BindingTypeTextureSRV, register, &bindingRecord{
		texture: tex, viewType: metadata.ViewTypeTextureSRV, dim: dim, mip: mip, arraySize: arraySize, firstSlice: firstSlice,
	})
}

func (ps *ParameterSet) SetTextureUAV(tex *Texture, dim metadata.ViewDimension, register uint32, mip, arraySize, firstSlice int32) error {
	return ps.set(metadata.BindingTypeTextureUAV, register, &bindingRecord{
		texture: tex, viewType: metadata.ViewTypeTextureUAV, dim: dim, mip: mip, arraySize: arraySize, firstSlice: firstSlice,
	})
}

// SetBufferSRV binds numElements elements from firstElement; 0 elements covers the rest.
func (ps *ParameterSet) SetBufferSRV(buf *Buffer, register uint32, firstElement, numElements uint64) error {
	return ps.set(metadata.BindingTypeBufferSRV, register, &bindingRecord{
		buffer: buf, viewType: metadata.ViewTypeBufferSRV, firstElement: firstElement, numElements: numElements, stride: buf.desc.Stride,
	})
}

func (ps *ParameterSet) SetBufferUAV(buf *Buffer, register uint32, firstElement, numElements uint64) error {
	return ps.set(metadata.BindingTypeBufferUAV, register, &bindingRecord{
		buffer: buf, viewType: metadata.ViewTypeBufferUAV, firstElement: firstElement, numElements: numElements, stride: buf.desc.Stride,
	})
}

func (ps *ParameterSet) SetAccelerationStructure(buf *Buffer, register uint32) error {
	return ps.set(metadata.BindingTypeAccelStructRT, register, &bindingRecord{
		buffer: buf, viewType: metadata.ViewTypeAccelStructSRV, stride: 1,
	})
}

func (ps *ParameterSet) SetSampler(desc *metadata.SamplerDesc, register uint32) error {
	return ps.set(metadata.BindingTypeSampler, register, &bindingRecord{sampler: *desc, viewType: metadata.ViewTypeSampler})
}

// SetRootConstantBufferResource binds size bytes of res as the constant buffer at register.
// The offset is supplied per frame with UpdateRootConstantBuffer.
func (ps *ParameterSet) SetRootConstantBufferResource(res *GPUResource, size uint64, register uint32) error {
	core.Assert(res.IsBuffer(), "constant buffer %s is not a buffer", res.name)
	return ps.set(metadata.BindingTypeCBV, register, &bindingRecord{resource: res, viewType: metadata.ViewTypeCBV, size: size})
}

// UpdateRootConstantBuffer points the constant buffer at register to a new offset of the
// resource it was bound with, typically a fresh DynamicBufferPool allocation.
func (ps *ParameterSet) UpdateRootConstantBuffer(info BufferAddressInfo, register uint32) {
	offset, ok := ps.rootSig.DescriptorOffset(metadata.BindingTypeCBV, register)
	core.Assert(ok, "root signature %s has no constant buffer at register %d", ps.rootSig.name, register)
	rec := ps.copies[ps.index].records[offset]
	core.Assert(rec != nil && rec.resource == info.Resource, "constant buffer at register %d is not bound to %s", register, info.Resource.name)
	core.Assert(info.Size <= rec.size, "constant buffer update of %d bytes for a %d byte binding", info.Size, rec.size)
	base, _ := ps.rootSig.TypeRange(metadata.BindingTypeCBV)
	ps.dynamicOffsets[offset-base] = uint32(info.Offset)
}

// UpdateRootConstants stores the values pushed for the root constant binding at register on
// every Bind.
func (ps *ParameterSet) UpdateRootConstants(register uint32, data []uint32) {
	i := ps.rootSig.mustFindBinding(metadata.BindingTypeRootConstant, register)
	core.Assert(uint32(len(data)) <= ps.rootSig.bindings[i].NumConstants, "%d root constants for a binding of %d", len(data), ps.rootSig.bindings[i].NumConstants)
	ps.rootConstants[i] = append([]uint32(nil), data...)
}

func (ps *ParameterSet) set(t metadata.BindingType, register uint32, rec *bindingRecord) error {
	i := ps.rootSig.mustFindBinding(t, register)
	rec.binding = i
	rec.offset = ps.rootSig.offsets[i] + register - ps.rootSig.bindings[i].BaseShaderRegister
	ps.watch(rec)

	if !ps.buffered {
		ps.copies[0].records[rec.offset] = rec
		return nil
	}
	switch ps.state {
	case ParameterSetUnbound:
		// No frame owns any copy yet.
		for c := range ps.copies {
			if err := ps.write(c, rec); err != nil {
				return err
			}
		}
		return nil
	case ParameterSetBound:
		if err := ps.advance(); err != nil {
			return err
		}
		ps.state = ParameterSetUpdating
	}
	return ps.write(ps.index, rec)
}

// advance moves to the next copy and brings it up to date with the previous one.
func (ps *ParameterSet) advance() error {
	prev := ps.copies[ps.index]
	ps.index = (ps.index + 1) % len(ps.copies)
	next := ps.copies[ps.index]
	for offset, rec := range prev.records {
		if next.records[offset] == rec && !ps.stale(next, rec) {
			continue
		}
		if err := ps.write(ps.index, rec); err != nil {
			return err
		}
	}
	return nil
}

func (ps *ParameterSet) stale(pc *parameterCopy, rec *bindingRecord) bool {
	if rec.texture == nil && rec.buffer == nil {
		return false
	}
	return pc.views.Entry(rec.offset).IsStale()
}

func (ps *ParameterSet) watch(rec *bindingRecord) {
	res := rec.gpuResource()
	if ps.listening || res == nil || !res.resizable {
		return
	}
	ps.device.RegisterResizeListener(ps)
	ps.listening = true
}

func (ps *ParameterSet) write(c int, rec *bindingRecord) error {
	pc := ps.copies[c]
	if err := ps.writeDescriptor(pc.views, pc.samplers, ps.heap, c, rec); err != nil {
		return err
	}
	pc.records[rec.offset] = rec
	return nil
}

// writeDescriptor builds the view of rec and writes it into copy c of heap.
func (ps *ParameterSet) writeDescriptor(views, samplers *ResourceView, heap DescriptorHeap, c int, rec *bindingRecord) error {
	b := &ps.rootSig.bindings[rec.binding]
	w := DescriptorWrite{
		Binding:      b.BindingIndex,
		ArrayElement: rec.offset - ps.rootSig.offsets[rec.binding],
		Type:         b.Type,
	}

	switch b.Type {
	case metadata.BindingTypeTextureSRV, metadata.BindingTypeTextureUAV:
		if err := views.BindTexture(rec.offset, rec.texture, rec.viewType, rec.dim, rec.mip, rec.arraySize, rec.firstSlice); err != nil {
			return err
		}
		w.View = views.Entry(rec.offset).View
	case metadata.BindingTypeBufferSRV, metadata.BindingTypeBufferUAV, metadata.BindingTypeAccelStructRT:
		if err := views.BindBuffer(rec.offset, rec.buffer, rec.viewType, rec.firstElement, rec.numElements, rec.stride); err != nil {
			return err
		}
		e := views.Entry(rec.offset)
		w.View, w.Offset, w.Range = e.View, e.BufferView.Offset(), e.BufferView.Range()
		w.Buffer = e.Resource.buffer
	case metadata.BindingTypeSampler:
		base, _ := ps.rootSig.TypeRange(metadata.BindingTypeSampler)
		idx := rec.offset - base
		if err := samplers.BindSampler(idx, &rec.sampler); err != nil {
			return err
		}
		w.Sampler = samplers.Entry(idx).Sampler
	case metadata.BindingTypeCBV:
		w.Buffer = rec.resource.buffer
		w.Range = rec.size
	}
	return heap.Write(c, []DescriptorWrite{w})
}

// Bind binds the current copy to cl for pipeline and pushes the root constants.
func (ps *ParameterSet) Bind(cl *CommandList, pipeline *PipelineObject) error {
	cl.assertRecording("ParameterSet.Bind")
	core.Assert(pipeline.rootSig == ps.rootSig, "parameter set for %s bound with pipeline %s of another root signature", ps.rootSig.name, pipeline.name)

	heap, c := ps.heap, ps.index
	if !ps.buffered {
		var err error
		if heap, err = ps.buildTransient(cl); err != nil {
			return err
		}
		c = 0
	}
	cl.cmd.BindDescriptorHeap(pipeline.pipeline, heap, c, append([]uint32(nil), ps.dynamicOffsets...))

	bindings := make([]int, 0, len(ps.rootConstants))
	for i := range ps.rootConstants {
		bindings = append(bindings, i)
	}
	sort.Ints(bindings)
	for _, i := range bindings {
		rng := ps.rootSig.pushByBinding[i]
		cl.cmd.PushConstants(pipeline.pipeline, rng.Stages, rng.Offset, encodeConstants(ps.rootConstants[i]))
	}
	ps.state = ParameterSetBound
	return nil
}

// buildTransient creates the descriptors of an immediate set for one submission of cl.
func (ps *ParameterSet) buildTransient(cl *CommandList) (DescriptorHeap, error) {
	views, samplers, err := ps.allocateViews()
	if err != nil {
		return nil, err
	}
	alloc := ps.device.viewAllocator
	heap, err := ps.device.gpu.CreateDescriptorHeap(ps.rootSig.layout, 1)
	if err != nil {
		alloc.Release(views)
		alloc.Release(samplers)
		return nil, errors.Wrapf(err, "failed to create transient descriptors for %s", ps.rootSig.name)
	}
	release := func() {
		heap.Destroy()
		alloc.Release(views)
		alloc.Release(samplers)
	}
	for _, rec := range ps.copies[0].records {
		if err := ps.writeDescriptor(views, samplers, heap, 0, rec); err != nil {
			release()
			return nil, err
		}
	}
	cl.addTransient(release)
	return heap, nil
}

// OnResourceResized rebuilds every binding of a resizable resource in all copies, since each
// in-flight frame saw the old allocation.
func (ps *ParameterSet) OnResourceResized() {
	if !ps.buffered {
		return
	}
	for c, pc := range ps.copies {
		for _, rec := range pc.records {
			res := rec.gpuResource()
			if res == nil {
				core.LogWarn("parameter set of %s references a destroyed resource at slot %d", ps.rootSig.name, rec.offset)
				continue
			}
			if !res.resizable {
				continue
			}
			if err := ps.write(c, rec); err != nil {
				core.LogError("failed to rebuild slot %d of %s: %s", rec.offset, ps.rootSig.name, err)
			}
		}
	}
}

// Destroy releases the descriptors once the GPU finished with them.
func (ps *ParameterSet) Destroy() {
	if ps.listening {
		ps.device.UnregisterResizeListener(ps)
		ps.listening = false
	}
	alloc := ps.device.viewAllocator
	copies, heap := ps.copies, ps.heap
	ps.copies, ps.heap = nil, nil
	ps.device.deferDestroy(func() {
		for _, pc := range copies {
			alloc.Release(pc.views)
			alloc.Release(pc.samplers)
		}
		if heap != nil {
			heap.Destroy()
		}
	})
}
