package headless

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type Op int

const (
	OpBarriers Op = iota
	OpCopyBuffer
	OpCopyBufferToImage
	OpCopyImage
	OpBeginRaster
	OpEndRaster
	OpSetViewport
	OpSetScissor
	OpBindPipeline
	OpBindDescriptorHeap
	OpPushConstants
	OpBindVertexBuffers
	OpBindIndexBuffer
	OpDraw
	OpDrawIndexed
	OpDispatch
)

var opNames = [...]string{
	"Barriers", "CopyBuffer", "CopyBufferToImage", "CopyImage", "BeginRaster", "EndRaster",
	"SetViewport", "SetScissor", "BindPipeline", "BindDescriptorHeap", "PushConstants",
	"BindVertexBuffers", "BindIndexBuffer", "Draw", "DrawIndexed", "Dispatch",
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return "Unknown"
	}
	return opNames[o]
}

// Command is one recorded call. Only the fields of its Op are set.
type Command struct {
	Op       Op
	Barriers []renderer.BarrierRecord

	SrcBuffer *Buffer
	DstBuffer *Buffer
	SrcImage  *Image
	DstImage  *Image
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
	Regions   []renderer.BufferImageCopy
	ImageCopy renderer.ImageCopy

	Colors   []renderer.RasterAttachment
	Depth    *renderer.RasterAttachment
	Width    uint32
	Height   uint32
	Viewport math.Viewport
	Scissor  math.Rect

	Pipeline       *Pipeline
	Heap           *DescriptorHeap
	HeapCopy       int
	DynamicOffsets []uint32
	Stages         metadata.ShaderStage
	Data           []byte

	Buffers      []renderer.GPUBuffer
	Offsets      []uint64
	Format       metadata.ResourceFormat
	Counts       [4]uint32
	VertexOffset int32
}

type CommandPool struct {
	object
	queue  metadata.QueueType
	buffer *CommandBuffer
	resets int
}

func (g *GPU) CreateCommandPool(queue metadata.QueueType) (renderer.CommandPool, error) {
	if queue < 0 || queue >= metadata.QueueTypeCount {
		return nil, errors.Newf("invalid queue %d", queue)
	}
	pool := &CommandPool{object: newObject(g), queue: queue}
	pool.buffer = &CommandBuffer{pool: pool}
	return pool, nil
}

func (p *CommandPool) CommandBuffer() (renderer.CommandBuffer, error) { return p.buffer, nil }

// Resets counts how often the pool was recycled.
func (p *CommandPool) Resets() int { return p.resets }

func (p *CommandPool) Reset() error {
	if p.buffer.recording {
		return errors.New("resetting a command pool while recording")
	}
	p.buffer.commands = nil
	p.resets++
	return nil
}

func (p *CommandPool) Destroy() { p.release() }

type CommandBuffer struct {
	pool      *CommandPool
	recording bool
	commands  []Command
}

func (c *CommandBuffer) Queue() metadata.QueueType { return c.pool.queue }
func (c *CommandBuffer) Commands() []Command       { return c.commands }
func (c *CommandBuffer) Native() interface{}       { return c }

func (c *CommandBuffer) Begin() error {
	if c.recording {
		return errors.New("command buffer already recording")
	}
	c.commands = nil
	c.recording = true
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.recording {
		return errors.New("command buffer is not recording")
	}
	c.recording = false
	return nil
}

func (c *CommandBuffer) record(cmd Command) {
	core.Assert(c.recording, "%s recorded outside Begin/End", cmd.Op)
	c.commands = append(c.commands, cmd)
}

func (c *CommandBuffer) Barriers(barriers []renderer.BarrierRecord) {
	c.record(Command{Op: OpBarriers, Barriers: append([]renderer.BarrierRecord(nil), barriers...)})
}

func (c *CommandBuffer) CopyBuffer(src renderer.GPUBuffer, srcOffset uint64, dst renderer.GPUBuffer, dstOffset uint64, size uint64) {
	c.record(Command{Op: OpCopyBuffer, SrcBuffer: asBuffer(src), SrcOffset: srcOffset, DstBuffer: asBuffer(dst), DstOffset: dstOffset, Size: size})
}

func (c *CommandBuffer) CopyBufferToImage(src renderer.GPUBuffer, dst renderer.Image, regions []renderer.BufferImageCopy) {
	c.record(Command{Op: OpCopyBufferToImage, SrcBuffer: asBuffer(src), DstImage: asImage(dst), Regions: append([]renderer.BufferImageCopy(nil), regions...)})
}

func (c *CommandBuffer) CopyImage(src renderer.Image, dst renderer.Image, region renderer.ImageCopy) {
	c.record(Command{Op: OpCopyImage, SrcImage: asImage(src), DstImage: asImage(dst), ImageCopy: region})
}

func (c *CommandBuffer) BeginRaster(colors []renderer.RasterAttachment, depth *renderer.RasterAttachment, width, height uint32) {
	c.record(Command{Op: OpBeginRaster, Colors: append([]renderer.RasterAttachment(nil), colors...), Depth: depth, Width: width, Height: height})
}

func (c *CommandBuffer) EndRaster()                   { c.record(Command{Op: OpEndRaster}) }
func (c *CommandBuffer) SetViewport(vp math.Viewport) { c.record(Command{Op: OpSetViewport, Viewport: vp}) }
func (c *CommandBuffer) SetScissor(r math.Rect)       { c.record(Command{Op: OpSetScissor, Scissor: r}) }

func (c *CommandBuffer) BindPipeline(p renderer.Pipeline) {
	c.record(Command{Op: OpBindPipeline, Pipeline: asPipeline(p)})
}

func (c *CommandBuffer) BindDescriptorHeap(p renderer.Pipeline, heap renderer.DescriptorHeap, copy int, dynamicOffsets []uint32) {
	h, ok := heap.(*DescriptorHeap)
	core.Assert(ok, "descriptor heap %T does not belong to the headless backend", heap)
	core.Assert(copy >= 0 && copy < h.copies, "descriptor heap copy %d of %d", copy, h.copies)
	c.record(Command{Op: OpBindDescriptorHeap, Pipeline: asPipeline(p), Heap: h, HeapCopy: copy, DynamicOffsets: append([]uint32(nil), dynamicOffsets...)})
}

func (c *CommandBuffer) PushConstants(p renderer.Pipeline, stages metadata.ShaderStage, offset uint32, data []byte) {
	c.record(Command{Op: OpPushConstants, Pipeline: asPipeline(p), Stages: stages, DstOffset: uint64(offset), Data: append([]byte(nil), data...)})
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, buffers []renderer.GPUBuffer, offsets []uint64) {
	c.record(Command{Op: OpBindVertexBuffers, Counts: [4]uint32{first}, Buffers: append([]renderer.GPUBuffer(nil), buffers...), Offsets: append([]uint64(nil), offsets...)})
}

func (c *CommandBuffer) BindIndexBuffer(buf renderer.GPUBuffer, offset uint64, format metadata.ResourceFormat) {
	c.record(Command{Op: OpBindIndexBuffer, DstBuffer: asBuffer(buf), DstOffset: offset, Format: format})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record(Command{Op: OpDraw, Counts: [4]uint32{vertexCount, instanceCount, firstVertex, firstInstance}})
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record(Command{Op: OpDrawIndexed, Counts: [4]uint32{indexCount, instanceCount, firstIndex, firstInstance}, VertexOffset: vertexOffset})
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.record(Command{Op: OpDispatch, Counts: [4]uint32{x, y, z}})
}

func asBuffer(b renderer.GPUBuffer) *Buffer {
	buf, ok := b.(*Buffer)
	core.Assert(ok, "buffer %T does not belong to the headless backend", b)
	return buf
}

func asImage(i renderer.Image) *Image {
	img, ok := i.(*Image)
	core.Assert(ok, "image %T does not belong to the headless backend", i)
	return img
}

func asPipeline(p renderer.Pipeline) *Pipeline {
	pipe, ok := p.(*Pipeline)
	core.Assert(ok, "pipeline %T does not belong to the headless backend", p)
	return pipe
}

// execute applies the copies of a submitted command buffer.
func execute(cmds []Command) {
	for _, cmd := range cmds {
		switch cmd.Op {
		case OpCopyBuffer:
			copy(cmd.DstBuffer.data[cmd.DstOffset:cmd.DstOffset+cmd.Size], cmd.SrcBuffer.data[cmd.SrcOffset:cmd.SrcOffset+cmd.Size])
		case OpCopyBufferToImage:
			for _, r := range cmd.Regions {
				size := regionSize(cmd.DstImage.desc.Format, r.Extent)
				cmd.DstImage.store(r.Mip, r.Slice, cmd.SrcBuffer.data[r.BufferOffset:r.BufferOffset+size])
			}
		case OpCopyImage:
			r := cmd.ImageCopy
			cmd.DstImage.store(r.DstMip, r.DstSlice, cmd.SrcImage.Contents(r.SrcMip, r.SrcSlice))
		}
	}
}

func regionSize(format metadata.ResourceFormat, e math.Extent3D) uint64 {
	dim := format.BlockDim()
	blocksWide := uint64((e.Width + dim - 1) / dim)
	blocksHigh := uint64((e.Height + dim - 1) / dim)
	return blocksWide * uint64(format.BlockSize()) * blocksHigh * uint64(e.Depth)
}
