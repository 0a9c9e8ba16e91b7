package renderer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type BufferResizeFunction func(desc *metadata.BufferDesc, displayWidth, displayHeight, renderWidth, renderHeight uint32)

// BufferAddressInfo addresses a range of a buffer, e.g. a dynamic pool allocation.
type BufferAddressInfo struct {
	Resource *GPUResource
	Offset   uint64
	Size     uint64
	Stride   uint32
	Format   metadata.ResourceFormat
}

type Buffer struct {
	device   *Device
	desc     metadata.BufferDesc
	resource *GPUResource
	resizeFn BufferResizeFunction
	initial  metadata.ResourceState
}

func (d *Device) CreateBuffer(desc *metadata.BufferDesc, initialState metadata.ResourceState, resizeFn BufferResizeFunction) (*Buffer, error) {
	core.Assert(desc.Size > 0, "buffer %s has no size", desc.Name)
	b := &Buffer{device: d, desc: *desc, resizeFn: resizeFn, initial: initialState}
	if b.desc.Name == "" {
		b.desc.Name = core.NewIdentifier("buffer")
	}
	b.align()

	buf, err := d.gpu.CreateBuffer(&b.desc, MemoryGPUOnly)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer %s", b.desc.Name)
	}
	b.resource = newBufferResource(&b.desc, buf, initialState, resizeFn != nil)
	if resizeFn != nil {
		d.resize.addResizable(b)
	}
	return b, nil
}

func (b *Buffer) align() {
	if b.desc.Alignment > 0 {
		b.desc.Size = math.AlignUp(b.desc.Size, b.desc.Alignment)
	}
}

// createHostBuffer allocates a persistently mapped buffer owned by the device.
func (d *Device) createHostBuffer(name string, size uint64) (*GPUResource, error) {
	desc := metadata.DataBufferDesc(name, size, 1, 0)
	buf, err := d.gpu.CreateBuffer(&desc, MemoryCPUToGPU)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create host buffer %s", name)
	}
	core.Assert(buf.Mapped() != nil, "host buffer %s is not mapped", name)
	return newBufferResource(&desc, buf, metadata.ResourceStateGenericRead, false), nil
}

func (b *Buffer) Name() string              { return b.desc.Name }
func (b *Buffer) Desc() metadata.BufferDesc { return b.desc }
func (b *Buffer) Resource() *GPUResource    { return b.resource }
func (b *Buffer) IsResizable() bool         { return b.resizeFn != nil }

// AddressInfo addresses the whole buffer.
func (b *Buffer) AddressInfo() BufferAddressInfo {
	return BufferAddressInfo{Resource: b.resource, Size: b.desc.Size, Stride: b.desc.Stride, Format: b.desc.Format}
}

// readState is the state a buffer settles in after an upload when it had no other state.
func (b *Buffer) readState() metadata.ResourceState {
	switch b.desc.Type {
	case metadata.BufferTypeVertex:
		return metadata.ResourceStateVertexBuffer
	case metadata.BufferTypeIndex:
		return metadata.ResourceStateIndexBuffer
	case metadata.BufferTypeConstant:
		return metadata.ResourceStateConstantBuffer
	default:
		return metadata.ResourceStateShaderResource
	}
}

// CopyData uploads data at offset 0 and blocks until the buffer is usable on the graphics
// queue.
func (b *Buffer) CopyData(ctx context.Context, data []byte) error {
	b.device.assertNotRenderThread(ctx, "Buffer.CopyData")
	core.Assert(uint64(len(data)) <= b.desc.Size, "%d bytes do not fit buffer %s of %d", len(data), b.desc.Name, b.desc.Size)
	return b.device.uploadBuffer(ctx, b.resource, data, b.readState())
}

func (b *Buffer) Recreate() error {
	if err := b.recreate(); err != nil {
		return err
	}
	b.device.resize.notify()
	return nil
}

func (b *Buffer) recreate() error {
	b.align()
	buf, err := b.device.gpu.CreateBuffer(&b.desc, MemoryGPUOnly)
	if err != nil {
		return errors.Wrapf(err, "failed to recreate buffer %s", b.desc.Name)
	}
	old := b.resource.buffer
	b.resource.bufferDesc = b.desc
	b.resource.replace(nil, buf, b.initial)
	if old != nil {
		b.device.deferDestroy(old.Destroy)
	}
	return nil
}

func (b *Buffer) OnRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight uint32) error {
	if err := b.onRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight); err != nil {
		return err
	}
	b.device.resize.notify()
	return nil
}

func (b *Buffer) onRenderingResolutionResize(displayWidth, displayHeight, renderWidth, renderHeight uint32) error {
	core.Assert(b.resizeFn != nil, "buffer %s is not resizable", b.desc.Name)
	b.resizeFn(&b.desc, displayWidth, displayHeight, renderWidth, renderHeight)
	return b.recreate()
}

func (b *Buffer) Destroy() {
	if b.resource == nil {
		return
	}
	b.device.resize.removeResizable(b)
	b.device.deferDestroy(b.resource.destroy)
	b.resource = nil
}
