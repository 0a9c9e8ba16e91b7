package headless

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// object tracks the lifetime of everything the GPU hands out.
type object struct {
	gpu  *GPU
	dead atomic.Bool
}

func newObject(g *GPU) object {
	if g != nil {
		g.created()
	}
	return object{gpu: g}
}

func (o *object) release() {
	if o.dead.CompareAndSwap(false, true) && o.gpu != nil {
		o.gpu.destroyed()
	}
}

func (o *object) IsDestroyed() bool { return o.dead.Load() }

// Image keeps the bytes copied into each subresource.
type Image struct {
	object
	desc metadata.TextureDesc

	mutex        sync.Mutex
	subresources map[uint32][]byte
}

func (g *GPU) CreateImage(desc *metadata.TextureDesc) (renderer.Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, errors.Newf("image %q has an empty extent", desc.Name)
	}
	return newImage(g, desc), nil
}

func newImage(g *GPU, desc *metadata.TextureDesc) *Image {
	return &Image{object: newObject(g), desc: *desc, subresources: make(map[uint32][]byte)}
}

func (i *Image) Desc() metadata.TextureDesc { return i.desc }
func (i *Image) Native() interface{}        { return i }
func (i *Image) Destroy()                   { i.release() }

// Contents returns the last bytes copied into a subresource.
func (i *Image) Contents(mip, slice uint32) []byte {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.subresources[metadata.SubresourceIndex(mip, slice, i.desc.MipLevels)]
}

func (i *Image) store(mip, slice uint32, data []byte) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.subresources[metadata.SubresourceIndex(mip, slice, i.desc.MipLevels)] = append([]byte(nil), data...)
}

// Buffer is backed by a byte slice whether or not it is host visible.
type Buffer struct {
	object
	desc   metadata.BufferDesc
	memory renderer.MemoryUsage
	data   []byte
}

func (g *GPU) CreateBuffer(desc *metadata.BufferDesc, memory renderer.MemoryUsage) (renderer.GPUBuffer, error) {
	if desc.Size == 0 {
		return nil, errors.Newf("buffer %q has size 0", desc.Name)
	}
	return &Buffer{object: newObject(g), desc: *desc, memory: memory, data: make([]byte, desc.Size)}, nil
}

func (b *Buffer) Size() uint64                 { return uint64(len(b.data)) }
func (b *Buffer) Desc() metadata.BufferDesc    { return b.desc }
func (b *Buffer) Memory() renderer.MemoryUsage { return b.memory }
func (b *Buffer) Native() interface{}          { return b }
func (b *Buffer) Destroy()                     { b.release() }

func (b *Buffer) Mapped() []byte {
	if b.memory != renderer.MemoryCPUToGPU {
		return nil
	}
	return b.data
}

// Contents exposes the memory of any buffer, mapped or not.
func (b *Buffer) Contents() []byte { return b.data }

type View struct {
	object
	viewType    metadata.ViewType
	image       *Image
	buffer      *Buffer
	textureDesc metadata.TextureViewDesc
	bufferDesc  metadata.BufferViewDesc
}

func (g *GPU) CreateTextureView(img renderer.Image, viewType metadata.ViewType, desc *metadata.TextureViewDesc) (renderer.View, error) {
	image, ok := img.(*Image)
	if !ok {
		return nil, errors.Newf("image %T does not belong to the headless backend", img)
	}
	if !viewType.IsTextureView() {
		return nil, errors.Newf("%s is not a texture view", viewType)
	}
	if desc.BaseMip+desc.MipCount > image.desc.MipLevels {
		return nil, errors.Newf("view of mips [%d, %d) on %q with %d mips", desc.BaseMip, desc.BaseMip+desc.MipCount, image.desc.Name, image.desc.MipLevels)
	}
	return &View{object: newObject(g), viewType: viewType, image: image, textureDesc: *desc}, nil
}

func (g *GPU) CreateBufferView(buf renderer.GPUBuffer, viewType metadata.ViewType, desc *metadata.BufferViewDesc) (renderer.View, error) {
	buffer, ok := buf.(*Buffer)
	if !ok {
		return nil, errors.Newf("buffer %T does not belong to the headless backend", buf)
	}
	if !viewType.IsBufferView() {
		return nil, errors.Newf("%s is not a buffer view", viewType)
	}
	if desc.Offset()+desc.Range() > buffer.Size() {
		return nil, errors.Newf("view [%d, %d) exceeds buffer %q of %d bytes", desc.Offset(), desc.Offset()+desc.Range(), buffer.desc.Name, buffer.Size())
	}
	return &View{object: newObject(g), viewType: viewType, buffer: buffer, bufferDesc: *desc}, nil
}

func (v *View) Type() metadata.ViewType               { return v.viewType }
func (v *View) Image() *Image                         { return v.image }
func (v *View) Buffer() *Buffer                       { return v.buffer }
func (v *View) TextureDesc() metadata.TextureViewDesc { return v.textureDesc }
func (v *View) BufferDesc() metadata.BufferViewDesc   { return v.bufferDesc }
func (v *View) Native() interface{}                   { return v }
func (v *View) Destroy()                              { v.release() }

type Sampler struct {
	object
	desc metadata.SamplerDesc
}

func (g *GPU) CreateSampler(desc *metadata.SamplerDesc) (renderer.Sampler, error) {
	return &Sampler{object: newObject(g), desc: *desc}, nil
}

func (s *Sampler) Desc() metadata.SamplerDesc { return s.desc }
func (s *Sampler) Native() interface{}        { return s }
func (s *Sampler) Destroy()                   { s.release() }

// Semaphore is a binary semaphore. Headless submissions only record them.
type Semaphore struct {
	object
}

func (g *GPU) CreateSemaphore() (renderer.Semaphore, error) {
	return &Semaphore{object: newObject(g)}, nil
}

func (s *Semaphore) Native() interface{} { return s }
func (s *Semaphore) Destroy()            { s.release() }

// Timeline is a timeline semaphore whose value moves when submitted work completes.
type Timeline struct {
	object

	mutex   sync.Mutex
	value   uint64
	changed chan struct{}
}

func (g *GPU) CreateTimelineSemaphore(initial uint64) (renderer.TimelineSemaphore, error) {
	return &Timeline{object: newObject(g), value: initial, changed: make(chan struct{})}, nil
}

func (t *Timeline) Value() (uint64, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.value, nil
}

func (t *Timeline) Wait(ctx context.Context, value uint64) error {
	for {
		t.mutex.Lock()
		if t.value >= value {
			t.mutex.Unlock()
			return nil
		}
		changed := t.changed
		t.mutex.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for timeline value %d", value)
		}
	}
}

// signal moves the value forward and wakes waiters. Lower values are ignored.
func (t *Timeline) signal(value uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if value <= t.value {
		if value < t.value {
			core.LogWarn("timeline signaled backwards: %d after %d", value, t.value)
		}
		return
	}
	t.value = value
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *Timeline) Native() interface{} { return t }
func (t *Timeline) Destroy()            { t.release() }
