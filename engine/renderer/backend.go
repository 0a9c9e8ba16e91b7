package renderer

import (
	"context"
	"unsafe"

	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// QueueFamilyIgnored marks a barrier that does not transfer queue ownership.
const QueueFamilyIgnored = ^uint32(0)

// SurfaceProvider is implemented by the platform layer for backends that present to a window.
// Headless backends accept nil.
type SurfaceProvider interface {
	FramebufferSize() (width, height uint32)
	RequiredInstanceExtensions() []string
	InstanceProcAddr() unsafe.Pointer
	// CreateSurface returns the native surface handle for the given native instance.
	CreateSurface(instance interface{}) (uintptr, error)
}

// DeviceCaps are reported by a backend once the device is open.
type DeviceCaps struct {
	DeviceName    string
	VendorID      uint32
	QueueFamilies [metadata.QueueTypeCount]uint32
	// Minimum alignment of dynamic constant buffer offsets.
	MinConstantBufferAlignment uint64
	MaxPushConstantsSize       uint32
	HDRSupported               bool
}

// GPU is an open device of one backend. Every object it creates is owned by the caller and
// must be destroyed before the GPU.
type GPU interface {
	Caps() DeviceCaps

	CreateImage(desc *metadata.TextureDesc) (Image, error)
	CreateBuffer(desc *metadata.BufferDesc, memory MemoryUsage) (GPUBuffer, error)
	CreateTextureView(img Image, viewType metadata.ViewType, desc *metadata.TextureViewDesc) (View, error)
	CreateBufferView(buf GPUBuffer, viewType metadata.ViewType, desc *metadata.BufferViewDesc) (View, error)
	CreateSampler(desc *metadata.SamplerDesc) (Sampler, error)

	CreateSemaphore() (Semaphore, error)
	CreateTimelineSemaphore(initial uint64) (TimelineSemaphore, error)
	CreateCommandPool(queue metadata.QueueType) (CommandPool, error)

	CreateDescriptorLayout(desc *DescriptorLayoutDesc) (DescriptorLayout, error)
	CreateDescriptorHeap(layout DescriptorLayout, copies int) (DescriptorHeap, error)
	CreatePipeline(desc *metadata.PipelineDesc, layout DescriptorLayout) (Pipeline, error)

	// CreateSwapChain builds a presentable image set. old, when not nil, is retired by the new one.
	CreateSwapChain(params *metadata.SwapChainCreationParams, old SwapChainImpl) (SwapChainImpl, error)

	Submit(queue metadata.QueueType, batch *SubmitBatch) error
	WaitQueueIdle(queue metadata.QueueType) error
	WaitIdle() error

	Destroy()
}

type MemoryUsage int

const (
	// MemoryGPUOnly is device local and not mappable.
	MemoryGPUOnly MemoryUsage = iota
	// MemoryCPUToGPU is host visible, coherent and persistently mapped.
	MemoryCPUToGPU
)

type Image interface {
	Desc() metadata.TextureDesc
	Native() interface{}
	Destroy()
}

// GPUBuffer is the backend allocation behind a Buffer or a device owned host buffer.
type GPUBuffer interface {
	Size() uint64
	// Mapped returns the persistent mapping of host visible buffers, nil otherwise.
	Mapped() []byte
	Native() interface{}
	Destroy()
}

type View interface {
	Native() interface{}
	Destroy()
}

type Sampler interface {
	Native() interface{}
	Destroy()
}

type Semaphore interface {
	Native() interface{}
	Destroy()
}

// TimelineSemaphore carries a monotonically increasing 64-bit value signaled by the GPU.
type TimelineSemaphore interface {
	Semaphore
	Value() (uint64, error)
	// Wait blocks until the semaphore reaches value or ctx is done.
	Wait(ctx context.Context, value uint64) error
}

// CommandPool owns the memory of one command buffer. Reset recycles it without freeing.
type CommandPool interface {
	CommandBuffer() (CommandBuffer, error)
	Reset() error
	Destroy()
}

// BarrierRecord is a validated state transition handed to the backend for translation into
// native synchronization.
type BarrierRecord struct {
	Image  Image
	Buffer GPUBuffer
	Range  metadata.SubresourceRange
	Src    metadata.ResourceState
	Dst    metadata.ResourceState
	// Both are QueueFamilyIgnored unless the barrier releases or acquires ownership.
	SrcQueueFamily uint32
	DstQueueFamily uint32
	Ownership      OwnershipOp
	UAV            bool
}

type OwnershipOp int

const (
	OwnershipNone OwnershipOp = iota
	OwnershipRelease
	OwnershipAcquire
)

// BufferImageCopy describes one tightly packed subresource region in a buffer.
type BufferImageCopy struct {
	BufferOffset uint64
	Mip          uint32
	Slice        uint32
	Offset       math.Offset3D
	Extent       math.Extent3D
}

type ImageCopy struct {
	SrcMip   uint32
	SrcSlice uint32
	DstMip   uint32
	DstSlice uint32
	Extent   math.Extent3D
}

// RasterAttachment is a render target bound by BeginRaster.
type RasterAttachment struct {
	View       View
	Image      Image
	Clear      bool
	ClearColor math.Color
	ClearDepth float32
}

type CommandBuffer interface {
	Begin() error
	End() error

	Barriers(barriers []BarrierRecord)
	CopyBuffer(src GPUBuffer, srcOffset uint64, dst GPUBuffer, dstOffset uint64, size uint64)
	CopyBufferToImage(src GPUBuffer, dst Image, regions []BufferImageCopy)
	CopyImage(src Image, dst Image, region ImageCopy)

	BeginRaster(colors []RasterAttachment, depth *RasterAttachment, width, height uint32)
	EndRaster()
	SetViewport(vp math.Viewport)
	SetScissor(r math.Rect)

	BindPipeline(p Pipeline)
	BindDescriptorHeap(p Pipeline, heap DescriptorHeap, copy int, dynamicOffsets []uint32)
	PushConstants(p Pipeline, stages metadata.ShaderStage, offset uint32, data []byte)
	BindVertexBuffers(first uint32, buffers []GPUBuffer, offsets []uint64)
	BindIndexBuffer(buf GPUBuffer, offset uint64, format metadata.ResourceFormat)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	Dispatch(x, y, z uint32)

	Native() interface{}
}

// SemaphoreOp is a wait or signal in a submission. Value is only used for timeline semaphores.
type SemaphoreOp struct {
	Semaphore Semaphore
	Value     uint64
}

type SubmitBatch struct {
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreOp
	Signals        []SemaphoreOp
}

// LayoutBinding is one descriptor binding after the root signature assigned its index.
type LayoutBinding struct {
	Binding uint32
	Type    metadata.BindingType
	Count   uint32
	Stages  metadata.ShaderStage
}

type PushConstantRange struct {
	Stages metadata.ShaderStage
	Offset uint32
	Size   uint32
}

type DescriptorLayoutDesc struct {
	Bindings      []LayoutBinding
	PushConstants []PushConstantRange
}

type DescriptorLayout interface {
	Native() interface{}
	Destroy()
}

// DescriptorWrite updates one array element of a binding. Exactly one of View, Sampler or
// Buffer is set.
type DescriptorWrite struct {
	Binding      uint32
	ArrayElement uint32
	Type         metadata.BindingType
	View         View
	Sampler      Sampler
	Buffer       GPUBuffer
	Offset       uint64
	Range        uint64
}

// DescriptorHeap holds Copies() independent descriptor sets built from one layout.
type DescriptorHeap interface {
	Copies() int
	Write(copy int, writes []DescriptorWrite) error
	Native(copy int) interface{}
	Destroy()
}

type Pipeline interface {
	Type() metadata.PipelineType
	Native() interface{}
	Destroy()
}

// SwapChainImpl is the backend half of a swapchain.
type SwapChainImpl interface {
	Images() []Image
	Format() metadata.ResourceFormat
	Extent() (width, height uint32)
	// AcquireNextImage returns core.ErrSwapchainOutOfDate when the surface changed.
	AcquireNextImage(signal Semaphore) (uint32, error)
	Present(queue metadata.QueueType, imageIndex uint32, wait Semaphore) error
	// SetHDRMetadata returns core.ErrNotSupported when the display cannot take it.
	SetHDRMetadata(colorSpace metadata.ColorSpace, meta *metadata.HDRMetadata) error
	Native() interface{}
	Destroy()
}
