package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type Buffer struct {
	gpu    *GPU
	handle vk.Buffer
	memory vk.DeviceMemory
	desc   metadata.BufferDesc
	mapped []byte
}

func bufferUsage(desc *metadata.BufferDesc) vk.BufferUsageFlags {
	usage := vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
	switch desc.Type {
	case metadata.BufferTypeVertex:
		usage |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	case metadata.BufferTypeIndex:
		usage |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	case metadata.BufferTypeConstant:
		usage |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	default:
		usage |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if desc.Flags&metadata.ResourceFlagsAllowVertexBuffer != 0 {
		usage |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if desc.Flags&metadata.ResourceFlagsAllowIndexBuffer != 0 {
		usage |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if desc.Flags&metadata.ResourceFlagsAllowConstantBuffer != 0 {
		usage |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if desc.Flags&metadata.ResourceFlagsAllowIndirect != 0 {
		usage |= vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit)
	}
	if desc.Flags&metadata.ResourceFlagsAllowUnorderedAccess != 0 {
		usage |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	return usage
}

func (g *GPU) CreateBuffer(desc *metadata.BufferDesc, memory renderer.MemoryUsage) (renderer.GPUBuffer, error) {
	if desc.Size == 0 {
		return nil, errors.Newf("buffer %q has no size", desc.Name)
	}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsage(desc),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(g.device, &info, g.allocator, &handle); res != vk.Success {
		return nil, resultError(res, "failed to create buffer %q", desc.Name)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(g.device, handle, &reqs)
	reqs.Deref()

	mem, err := g.allocate(reqs, memory)
	if err != nil {
		vk.DestroyBuffer(g.device, handle, g.allocator)
		return nil, errors.Wrapf(err, "buffer %q", desc.Name)
	}
	if res := vk.BindBufferMemory(g.device, handle, mem, 0); res != vk.Success {
		vk.FreeMemory(g.device, mem, g.allocator)
		vk.DestroyBuffer(g.device, handle, g.allocator)
		return nil, resultError(res, "failed to bind memory of buffer %q", desc.Name)
	}

	b := &Buffer{gpu: g, handle: handle, memory: mem, desc: *desc}
	if memory == renderer.MemoryCPUToGPU {
		var ptr unsafe.Pointer
		if res := vk.MapMemory(g.device, mem, 0, vk.DeviceSize(desc.Size), 0, &ptr); res != vk.Success {
			b.Destroy()
			return nil, resultError(res, "failed to map buffer %q", desc.Name)
		}
		b.mapped = unsafe.Slice((*byte)(ptr), desc.Size)
	}
	return b, nil
}

func (b *Buffer) Size() uint64        { return b.desc.Size }
func (b *Buffer) Mapped() []byte      { return b.mapped }
func (b *Buffer) Native() interface{} { return b.handle }

func (b *Buffer) Destroy() {
	if b.handle == vk.NullBuffer {
		return
	}
	if b.mapped != nil {
		vk.UnmapMemory(b.gpu.device, b.memory)
		b.mapped = nil
	}
	vk.DestroyBuffer(b.gpu.device, b.handle, b.gpu.allocator)
	vk.FreeMemory(b.gpu.device, b.memory, b.gpu.allocator)
	b.handle = vk.NullBuffer
	b.memory = vk.NullDeviceMemory
}
