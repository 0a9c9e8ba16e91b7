package renderer

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type slotRange struct {
	start, count uint32
}

// viewHeap is a fixed-capacity arena of view slots with a first-fit free list.
type viewHeap struct {
	kind     metadata.ViewHeapType
	capacity uint32
	used     uint32
	free     []slotRange
	mutex    sync.Mutex
}

func newViewHeap(kind metadata.ViewHeapType, capacity uint32) *viewHeap {
	h := &viewHeap{kind: kind, capacity: capacity}
	if capacity > 0 {
		h.free = []slotRange{{0, capacity}}
	}
	return h
}

func (h *viewHeap) allocate(count uint32) (uint32, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for i, r := range h.free {
		if r.count < count {
			continue
		}
		start := r.start
		if r.count == count {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = slotRange{r.start + count, r.count - count}
		}
		h.used += count
		return start, nil
	}
	return 0, errors.Wrapf(core.ErrOutOfDescriptors, "%s heap: %d views requested, %d of %d in use", h.kind, count, h.used, h.capacity)
}

func (h *viewHeap) release(start, count uint32) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	i := 0
	for i < len(h.free) && h.free[i].start < start {
		i++
	}
	h.free = append(h.free, slotRange{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = slotRange{start, count}
	h.used -= count

	// Merge with the neighbours.
	if i+1 < len(h.free) && h.free[i].start+h.free[i].count == h.free[i+1].start {
		h.free[i].count += h.free[i+1].count
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].start+h.free[i-1].count == h.free[i].start {
		h.free[i-1].count += h.free[i].count
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}

// ResourceViewAllocator hands out view arrays from the five heaps.
type ResourceViewAllocator struct {
	gpu   GPU
	heaps [metadata.ViewHeapTypeCount]*viewHeap
	// Shared samplers, owned by the device. Nil creates one sampler per slot.
	samplers func(desc *metadata.SamplerDesc) (Sampler, error)
}

func newResourceViewAllocator(gpu GPU, cfg *core.ViewHeapConfig) *ResourceViewAllocator {
	a := &ResourceViewAllocator{gpu: gpu}
	a.heaps[metadata.ViewHeapCPUResource] = newViewHeap(metadata.ViewHeapCPUResource, cfg.CPUResourceViews)
	a.heaps[metadata.ViewHeapGPUResource] = newViewHeap(metadata.ViewHeapGPUResource, cfg.GPUResourceViews)
	a.heaps[metadata.ViewHeapGPUSampler] = newViewHeap(metadata.ViewHeapGPUSampler, cfg.GPUSamplerViews)
	a.heaps[metadata.ViewHeapCPURender] = newViewHeap(metadata.ViewHeapCPURender, cfg.CPURenderViews)
	a.heaps[metadata.ViewHeapCPUDepth] = newViewHeap(metadata.ViewHeapCPUDepth, cfg.CPUDepthViews)
	return a
}

func (a *ResourceViewAllocator) allocate(kind metadata.ViewHeapType, count uint32) (*ResourceView, error) {
	core.Assert(count > 0, "allocating an empty %s view array", kind)
	start, err := a.heaps[kind].allocate(count)
	if err != nil {
		return nil, err
	}
	return &ResourceView{
		allocator: a,
		heap:      kind,
		base:      start,
		entries:   make([]ViewEntry, count),
	}, nil
}

func (a *ResourceViewAllocator) AllocateCPUResourceViews(count uint32) (*ResourceView, error) {
	return a.allocate(metadata.ViewHeapCPUResource, count)
}

func (a *ResourceViewAllocator) AllocateGPUResourceViews(count uint32) (*ResourceView, error) {
	return a.allocate(metadata.ViewHeapGPUResource, count)
}

func (a *ResourceViewAllocator) AllocateGPUSamplerViews(count uint32) (*ResourceView, error) {
	return a.allocate(metadata.ViewHeapGPUSampler, count)
}

func (a *ResourceViewAllocator) AllocateCPURenderViews(count uint32) (*ResourceView, error) {
	return a.allocate(metadata.ViewHeapCPURender, count)
}

func (a *ResourceViewAllocator) AllocateCPUDepthViews(count uint32) (*ResourceView, error) {
	return a.allocate(metadata.ViewHeapCPUDepth, count)
}

// Used returns the number of slots in use in a heap.
func (a *ResourceViewAllocator) Used(kind metadata.ViewHeapType) uint32 {
	h := a.heaps[kind]
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.used
}

// Release destroys every backend view of the array and returns its slots.
func (a *ResourceViewAllocator) Release(v *ResourceView) {
	if v == nil || v.released {
		return
	}
	for i := range v.entries {
		v.entries[i].clear()
	}
	a.heaps[v.heap].release(v.base, uint32(len(v.entries)))
	v.released = true
}

// ViewEntry is one view record. It keeps the arguments it was bound with so it can be rebuilt
// when the underlying resource is recreated.
type ViewEntry struct {
	Type        metadata.ViewType
	Texture     *Texture
	Buffer      *Buffer
	Resource    *GPUResource
	TextureView metadata.TextureViewDesc
	BufferView  metadata.BufferViewDesc
	SamplerDesc metadata.SamplerDesc

	View    View
	Sampler Sampler
	shared  bool
	// Resource generation the view was built against.
	Generation uint64

	// Raw binding arguments; -1 selects the whole range.
	mip, arraySize, firstSlice int32
}

func (e *ViewEntry) IsBound() bool {
	return e.View != nil || e.Sampler != nil
}

// IsStale reports whether the resource was recreated after the view was built.
func (e *ViewEntry) IsStale() bool {
	return e.Resource != nil && e.Resource.generation != e.Generation
}

func (e *ViewEntry) clear() {
	if e.View != nil {
		e.View.Destroy()
	}
	if e.Sampler != nil && !e.shared {
		e.Sampler.Destroy()
	}
	*e = ViewEntry{}
}

// ResourceView is a contiguous array of view slots allocated from one heap.
type ResourceView struct {
	allocator *ResourceViewAllocator
	heap      metadata.ViewHeapType
	base      uint32
	entries   []ViewEntry
	released  bool
}

func (v *ResourceView) Count() uint32                   { return uint32(len(v.entries)) }
func (v *ResourceView) HeapType() metadata.ViewHeapType { return v.heap }
func (v *ResourceView) BaseIndex() uint32               { return v.base }

func (v *ResourceView) Entry(index uint32) *ViewEntry {
	core.Assert(index < uint32(len(v.entries)), "view index %d out of range (%d)", index, len(v.entries))
	return &v.entries[index]
}

func (v *ResourceView) checkBind(index uint32, viewType metadata.ViewType) *ViewEntry {
	core.Assert(!v.released, "binding into a released view array")
	core.Assert(index < uint32(len(v.entries)), "view index %d out of range (%d)", index, len(v.entries))
	core.Assert(v.heap.Accepts(viewType), "%s views cannot live in the %s heap", viewType, v.heap)
	e := &v.entries[index]
	e.clear()
	return e
}

// BindTexture creates a view of tex at index. mip, arraySize and firstSlice select a sub-range;
// -1 selects all mips, all slices and the first slice respectively.
func (v *ResourceView) BindTexture(index uint32, tex *Texture, viewType metadata.ViewType, dim metadata.ViewDimension, mip, arraySize, firstSlice int32) error {
	core.Assert(viewType.IsTextureView(), "%s is not a texture view", viewType)
	e := v.checkBind(index, viewType)
	e.Type = viewType
	e.Texture = tex
	e.mip, e.arraySize, e.firstSlice = mip, arraySize, firstSlice
	e.TextureView.Dimension = dim
	return v.build(e, tex.Resource())
}

// BindTextureResource views a bare GPUResource, e.g. a swapchain image.
func (v *ResourceView) BindTextureResource(index uint32, res *GPUResource, viewType metadata.ViewType, dim metadata.ViewDimension, mip, arraySize, firstSlice int32) error {
	core.Assert(viewType.IsTextureView(), "%s is not a texture view", viewType)
	e := v.checkBind(index, viewType)
	e.Type = viewType
	e.mip, e.arraySize, e.firstSlice = mip, arraySize, firstSlice
	e.TextureView.Dimension = dim
	return v.build(e, res)
}

// BindBuffer creates a view of numElements elements of stride bytes starting at firstElement.
// numElements 0 covers the rest of the buffer.
func (v *ResourceView) BindBuffer(index uint32, buf *Buffer, viewType metadata.ViewType, firstElement, numElements uint64, stride uint32) error {
	core.Assert(viewType.IsBufferView(), "%s is not a buffer view", viewType)
	e := v.checkBind(index, viewType)
	e.Type = viewType
	e.Buffer = buf
	e.BufferView = metadata.BufferViewDesc{FirstElement: firstElement, NumElements: numElements, Stride: stride}
	return v.build(e, buf.Resource())
}

func (v *ResourceView) BindSampler(index uint32, desc *metadata.SamplerDesc) error {
	e := v.checkBind(index, metadata.ViewTypeSampler)
	e.Type = metadata.ViewTypeSampler
	e.SamplerDesc = *desc
	if v.allocator.samplers != nil {
		s, err := v.allocator.samplers(desc)
		if err != nil {
			return err
		}
		e.Sampler, e.shared = s, true
		return nil
	}
	s, err := v.allocator.gpu.CreateSampler(desc)
	if err != nil {
		return errors.Wrap(err, "failed to create sampler")
	}
	e.Sampler = s
	return nil
}

// rebuild recreates the view at index against the current backing of its resource.
func (v *ResourceView) rebuild(index uint32) error {
	e := &v.entries[index]
	if e.View == nil {
		return nil
	}
	res := e.Resource
	if e.Texture != nil {
		res = e.Texture.Resource()
	} else if e.Buffer != nil {
		res = e.Buffer.Resource()
	}
	e.View.Destroy()
	e.View = nil
	return v.build(e, res)
}

func (v *ResourceView) build(e *ViewEntry, res *GPUResource) error {
	core.Assert(res != nil, "binding a nil resource")
	e.Resource = res
	e.Generation = res.generation

	gpu := v.allocator.gpu
	if e.Type.IsTextureView() {
		core.Assert(res.IsTexture(), "texture view of buffer %s", res.name)
		e.TextureView = textureViewDesc(res, e.Type, e.TextureView.Dimension, e.mip, e.arraySize, e.firstSlice)
		view, err := gpu.CreateTextureView(res.image, e.Type, &e.TextureView)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s of %s", e.Type, res.name)
		}
		e.View = view
		return nil
	}

	core.Assert(res.IsBuffer(), "buffer view of texture %s", res.name)
	desc := res.bufferDesc
	if e.BufferView.Stride == 0 {
		e.BufferView.Stride = 1
	}
	if e.BufferView.NumElements == 0 {
		e.BufferView.NumElements = (desc.Size - e.BufferView.Offset()) / uint64(e.BufferView.Stride)
	}
	core.Assert(e.BufferView.Offset()+e.BufferView.Range() <= desc.Size, "%s of %s exceeds the buffer (%d+%d > %d)",
		e.Type, res.name, e.BufferView.Offset(), e.BufferView.Range(), desc.Size)
	view, err := gpu.CreateBufferView(res.buffer, e.Type, &e.BufferView)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s of %s", e.Type, res.name)
	}
	e.View = view
	return nil
}

func textureViewDesc(res *GPUResource, viewType metadata.ViewType, dim metadata.ViewDimension, mip, arraySize, firstSlice int32) metadata.TextureViewDesc {
	desc := res.textureDesc
	vd := metadata.TextureViewDesc{
		Dimension: dim,
		Format:    desc.Format,
		MipCount:  desc.MipLevels,
		ArraySize: desc.ArraySize(),
	}
	if vd.Dimension == metadata.ViewDimensionUnknown {
		vd.Dimension = defaultViewDimension(&desc)
	}
	if firstSlice > 0 {
		vd.FirstSlice = uint32(firstSlice)
	}
	if arraySize > 0 {
		vd.ArraySize = uint32(arraySize)
	} else {
		vd.ArraySize -= vd.FirstSlice
	}
	if mip >= 0 {
		vd.BaseMip = uint32(mip)
		vd.MipCount = 1
	}
	// Render and storage views address a single mip.
	if viewType != metadata.ViewTypeTextureSRV && mip < 0 {
		vd.MipCount = 1
	}
	core.Assert(vd.BaseMip+vd.MipCount <= desc.MipLevels, "view of %s: mips %d+%d exceed %d", res.name, vd.BaseMip, vd.MipCount, desc.MipLevels)
	core.Assert(vd.FirstSlice+vd.ArraySize <= desc.ArraySize(), "view of %s: slices %d+%d exceed %d", res.name, vd.FirstSlice, vd.ArraySize, desc.ArraySize())
	return vd
}

func defaultViewDimension(desc *metadata.TextureDesc) metadata.ViewDimension {
	switch desc.Dimension {
	case metadata.TextureDimension1D:
		if desc.ArraySize() > 1 {
			return metadata.ViewDimensionTexture1DArray
		}
		return metadata.ViewDimensionTexture1D
	case metadata.TextureDimension3D:
		return metadata.ViewDimensionTexture3D
	case metadata.TextureDimensionCube:
		return metadata.ViewDimensionTextureCube
	default:
		if desc.ArraySize() > 1 {
			return metadata.ViewDimensionTexture2DArray
		}
		return metadata.ViewDimensionTexture2D
	}
}
