package renderer

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/containers"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type frameAllocation struct {
	ticket uint64
	size   uint64
}

// DynamicBufferPool is a fixed ring of host visible memory for per-frame constants, vertices
// and indices. Space is reclaimed in FIFO order at EndFrame once the graphics queue passed the
// ticket recorded for a frame. A full ring fails the allocation; it never grows.
type DynamicBufferPool struct {
	device    *Device
	resource  *GPUResource
	alignment uint64

	mutex      sync.Mutex
	total      uint64
	head       uint64
	tail       uint64
	used       uint64
	frameAlloc uint64
	frames     *containers.RingQueue[frameAllocation]
}

func newDynamicBufferPool(d *Device, size, alignment uint64) (*DynamicBufferPool, error) {
	core.Assert(math.IsPowerOfTwo(alignment), "dynamic buffer alignment %d is not a power of two", alignment)
	size = math.AlignUp(size, alignment)
	res, err := d.createHostBuffer("dynamic buffer pool", size)
	if err != nil {
		return nil, err
	}
	return &DynamicBufferPool{
		device:    d,
		resource:  res,
		alignment: alignment,
		total:     size,
		frames:    containers.NewRingQueue[frameAllocation](int(d.cfg.BackBufferCount) + 1),
	}, nil
}

func (p *DynamicBufferPool) Resource() *GPUResource { return p.resource }
func (p *DynamicBufferPool) Alignment() uint64      { return p.alignment }
func (p *DynamicBufferPool) Capacity() uint64       { return p.total }

func (p *DynamicBufferPool) Head() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.head
}

func (p *DynamicBufferPool) Tail() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.tail
}

func (p *DynamicBufferPool) Used() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.used
}

// alloc reserves size bytes and returns their offset.
func (p *DynamicBufferPool) alloc(size uint64) (uint64, error) {
	size = math.AlignUp(size, p.alignment)
	core.Assert(size > 0, "empty dynamic buffer allocation")

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.used == 0 {
		p.head, p.tail = 0, 0
	}
	if p.used+size > p.total {
		return 0, p.exhausted(size)
	}

	full := p.head == p.tail && p.used > 0
	switch {
	case p.head >= p.tail && !full:
		// Free space is [head, total) plus [0, tail).
		if p.head+size <= p.total {
			break
		}
		if size <= p.tail {
			// The end of the ring is wasted until the frame that wrapped is reclaimed.
			waste := p.total - p.head
			p.used += waste
			p.frameAlloc += waste
			p.head = 0
			break
		}
		return 0, p.exhausted(size)
	default:
		// Head is behind tail: only [head, tail) is free.
		if p.head+size > p.tail {
			return 0, p.exhausted(size)
		}
	}

	offset := p.head
	p.head = (p.head + size) % p.total
	p.used += size
	p.frameAlloc += size
	return offset, nil
}

func (p *DynamicBufferPool) exhausted(size uint64) error {
	return errors.Wrapf(core.ErrDynamicBufferPoolExhausted, "%d bytes requested, %d of %d in use (head %d, tail %d)", size, p.used, p.total, p.head, p.tail)
}

// AllocConstantBuffer copies data into the ring and returns its address.
func (p *DynamicBufferPool) AllocConstantBuffer(data []byte) (BufferAddressInfo, error) {
	size := uint64(len(data))
	offset, err := p.alloc(size)
	if err != nil {
		return BufferAddressInfo{}, err
	}
	copy(p.resource.buffer.Mapped()[offset:offset+size], data)
	return BufferAddressInfo{Resource: p.resource, Offset: offset, Size: size}, nil
}

// AllocVertexBuffer reserves count vertices of stride bytes and returns the memory to fill.
func (p *DynamicBufferPool) AllocVertexBuffer(count, stride uint32) (BufferAddressInfo, []byte, error) {
	size := uint64(count) * uint64(stride)
	offset, err := p.alloc(size)
	if err != nil {
		return BufferAddressInfo{}, nil, err
	}
	return BufferAddressInfo{Resource: p.resource, Offset: offset, Size: size, Stride: stride},
		p.resource.buffer.Mapped()[offset : offset+size], nil
}

// AllocIndexBuffer reserves count indices of R16_UINT or R32_UINT format.
func (p *DynamicBufferPool) AllocIndexBuffer(count uint32, format metadata.ResourceFormat) (BufferAddressInfo, []byte, error) {
	core.Assert(format == metadata.FormatR16Uint || format == metadata.FormatR32Uint, "index format %s", format)
	stride := format.BlockSize()
	size := uint64(count) * uint64(stride)
	offset, err := p.alloc(size)
	if err != nil {
		return BufferAddressInfo{}, nil, err
	}
	return BufferAddressInfo{Resource: p.resource, Offset: offset, Size: size, Stride: stride, Format: format},
		p.resource.buffer.Mapped()[offset : offset+size], nil
}

// EndFrame records this frame's allocations against the latest graphics ticket and reclaims
// frames whose tickets completed, oldest first.
func (p *DynamicBufferPool) EndFrame() {
	graphics := p.device.queues[metadata.QueueGraphics]
	latest := graphics.LatestSignaledValue()
	completed := graphics.QueryLastCompletedValue()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.frames.Enqueue(frameAllocation{ticket: latest, size: p.frameAlloc})
	p.frameAlloc = 0

	for !p.frames.IsEmpty() {
		front, _ := p.frames.Peek()
		if front.ticket > completed {
			break
		}
		p.frames.Dequeue()
		p.tail = (p.tail + front.size) % p.total
		p.used -= front.size
	}
}

func (p *DynamicBufferPool) destroy() {
	p.resource.destroy()
}
