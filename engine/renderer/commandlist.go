package renderer

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type CommandListState int

const (
	CommandListRecording CommandListState = iota
	CommandListClosed
	CommandListSubmitted
	CommandListRetired
)

func (s CommandListState) String() string {
	switch s {
	case CommandListRecording:
		return "Recording"
	case CommandListClosed:
		return "Closed"
	case CommandListSubmitted:
		return "Submitted"
	case CommandListRetired:
		return "Retired"
	default:
		return "Unknown"
	}
}

// pooledCommandPool is a command pool and its single command buffer. ticket is the queue value
// of the last submission that used it.
type pooledCommandPool struct {
	pool   CommandPool
	cmd    CommandBuffer
	ticket uint64
}

// commandPoolList is the per-queue free list. Pools are reset on reuse and never shrunk.
type commandPoolList struct {
	mutex   sync.Mutex
	free    []*pooledCommandPool
	created int
}

func (l *commandPoolList) destroy() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, p := range l.free {
		p.pool.Destroy()
	}
	l.free = nil
}

func (d *Device) acquireCommandPool(queue metadata.QueueType) (*pooledCommandPool, error) {
	completed := d.queues[queue].QueryLastCompletedValue()
	list := &d.pools[queue]

	list.mutex.Lock()
	for i, p := range list.free {
		if p.ticket > completed {
			continue
		}
		list.free = append(list.free[:i], list.free[i+1:]...)
		list.mutex.Unlock()
		if err := p.pool.Reset(); err != nil {
			return nil, errors.Wrapf(err, "failed to reset %s command pool", queue)
		}
		return p, nil
	}
	list.created++
	created := list.created
	list.mutex.Unlock()

	pool, err := d.gpu.CreateCommandPool(queue)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s command pool", queue)
	}
	cmd, err := pool.CommandBuffer()
	if err != nil {
		pool.Destroy()
		return nil, errors.Wrapf(err, "failed to allocate %s command buffer", queue)
	}
	core.LogDebug("%s queue: command pool count grew to %d", queue, created)
	return &pooledCommandPool{pool: pool, cmd: cmd}, nil
}

// releaseCommandPool returns a pool to the free list once its work is submitted as ticket.
func (d *Device) releaseCommandPool(queue metadata.QueueType, p *pooledCommandPool, ticket uint64) {
	p.ticket = ticket
	list := &d.pools[queue]
	list.mutex.Lock()
	defer list.mutex.Unlock()
	list.free = append(list.free, p)
}

// CommandPoolCount returns how many pools were ever created for a queue.
func (d *Device) CommandPoolCount(queue metadata.QueueType) int {
	list := &d.pools[queue]
	list.mutex.Lock()
	defer list.mutex.Unlock()
	return list.created
}

// RasterTarget is one attachment of BeginRaster: the view at Index of View.
type RasterTarget struct {
	View       *ResourceView
	Index      uint32
	Clear      bool
	ClearColor math.Color
	ClearDepth float32
}

// CommandList records GPU work for exactly one queue. It is single-threaded: one goroutine
// records it, then it is closed and submitted once.
type CommandList struct {
	device *Device
	name   string
	queue  metadata.QueueType
	state  CommandListState

	pool *pooledCommandPool
	cmd  CommandBuffer

	pipeline *PipelineObject
	inRaster bool

	// Released once the submission that used them completed.
	transients []func()
}

// CreateCommandList returns a list in the Recording state.
func (d *Device) CreateCommandList(name string, queue metadata.QueueType) (*CommandList, error) {
	core.Assert(queue >= 0 && queue < metadata.QueueTypeCount, "invalid queue %d", queue)
	if name == "" {
		name = core.NewIdentifier("cmdlist")
	}
	p, err := d.acquireCommandPool(queue)
	if err != nil {
		return nil, err
	}
	if err := p.cmd.Begin(); err != nil {
		d.releaseCommandPool(queue, p, 0)
		return nil, errors.Wrapf(err, "failed to begin command list %s", name)
	}
	return &CommandList{
		device: d,
		name:   name,
		queue:  queue,
		pool:   p,
		cmd:    p.cmd,
	}, nil
}

func (cl *CommandList) Name() string                 { return cl.name }
func (cl *CommandList) Queue() metadata.QueueType    { return cl.queue }
func (cl *CommandList) State() CommandListState      { return cl.state }
func (cl *CommandList) CommandBuffer() CommandBuffer { return cl.cmd }

func (cl *CommandList) assertRecording(op string) {
	core.Assert(cl.state == CommandListRecording, "%s on command list %s in state %s", op, cl.name, cl.state)
}

// Close ends recording. A closed list can only be submitted.
func (cl *CommandList) Close() error {
	cl.assertRecording("Close")
	core.Assert(!cl.inRaster, "command list %s closed inside a raster pass", cl.name)
	if err := cl.cmd.End(); err != nil {
		return errors.Wrapf(err, "failed to close command list %s", cl.name)
	}
	cl.state = CommandListClosed
	return nil
}

// addTransient releases fn once the list's submission completed.
func (cl *CommandList) addTransient(fn func()) {
	cl.transients = append(cl.transients, fn)
}

func (d *Device) retireCommandList(cl *CommandList, ticket uint64) {
	cl.state = CommandListSubmitted
	d.releaseCommandPool(cl.queue, cl.pool, ticket)
	for _, fn := range cl.transients {
		if ticket == 0 {
			fn()
			continue
		}
		d.deferRelease(cl.queue, ticket, fn)
	}
	cl.transients = nil
	cl.pool, cl.cmd = nil, nil
	cl.state = CommandListRetired
}

// ResourceBarrier validates each barrier against the tracked resource state, updates it, and
// records the transitions.
func (cl *CommandList) ResourceBarrier(barriers ...Barrier) {
	cl.assertRecording("ResourceBarrier")
	core.Assert(!cl.inRaster, "barriers inside a raster pass on %s", cl.name)
	var records []BarrierRecord
	for _, b := range barriers {
		records = append(records, cl.device.translateBarrier(cl.queue, b)...)
	}
	if len(records) > 0 {
		cl.cmd.Barriers(records)
	}
}

func assertCopySource(res *GPUResource, subresource uint32) {
	s := res.CurrentState(subresource)
	core.Assert(s&metadata.ResourceStateCopySource != 0 && s != metadata.ResourceStateUndefined, "copy from %s in state %s", res.name, s)
}

func assertCopyDest(res *GPUResource, subresource uint32) {
	s := res.CurrentState(subresource)
	core.Assert(s == metadata.ResourceStateCopyDest, "copy into %s in state %s", res.name, s)
}

func (cl *CommandList) CopyBufferRegion(dst *GPUResource, dstOffset uint64, src *GPUResource, srcOffset, size uint64) {
	cl.assertRecording("CopyBufferRegion")
	core.Assert(dst.IsBuffer() && src.IsBuffer(), "CopyBufferRegion between %s and %s needs buffers", src.name, dst.name)
	core.Assert(srcOffset+size <= src.bufferDesc.Size, "copy reads past %s (%d+%d > %d)", src.name, srcOffset, size, src.bufferDesc.Size)
	core.Assert(dstOffset+size <= dst.bufferDesc.Size, "copy writes past %s (%d+%d > %d)", dst.name, dstOffset, size, dst.bufferDesc.Size)
	assertCopySource(src, metadata.AllSubresources)
	assertCopyDest(dst, metadata.AllSubresources)
	cl.cmd.CopyBuffer(src.buffer, srcOffset, dst.buffer, dstOffset, size)
}

// CopyBufferToTexture copies tightly packed subresources from a buffer.
func (cl *CommandList) CopyBufferToTexture(dst *GPUResource, src *GPUResource, regions []BufferImageCopy) {
	cl.assertRecording("CopyBufferToTexture")
	core.Assert(dst.IsTexture() && src.IsBuffer(), "CopyBufferToTexture from %s into %s", src.name, dst.name)
	assertCopySource(src, metadata.AllSubresources)
	for _, r := range regions {
		assertCopyDest(dst, metadata.SubresourceIndex(r.Mip, r.Slice, dst.textureDesc.MipLevels))
	}
	cl.cmd.CopyBufferToImage(src.buffer, dst.image, regions)
}

// CopyTextureRegion copies a whole source subresource into a destination subresource.
func (cl *CommandList) CopyTextureRegion(dst *GPUResource, dstMip, dstSlice uint32, src *GPUResource, srcMip, srcSlice uint32) {
	cl.assertRecording("CopyTextureRegion")
	core.Assert(dst.IsTexture() && src.IsTexture(), "CopyTextureRegion from %s into %s", src.name, dst.name)
	assertCopySource(src, metadata.SubresourceIndex(srcMip, srcSlice, src.textureDesc.MipLevels))
	assertCopyDest(dst, metadata.SubresourceIndex(dstMip, dstSlice, dst.textureDesc.MipLevels))
	extent := src.textureDesc.MipExtent(srcMip)
	dstExtent := dst.textureDesc.MipExtent(dstMip)
	core.Assert(extent.Width <= dstExtent.Width && extent.Height <= dstExtent.Height && extent.Depth <= dstExtent.Depth,
		"copy of %s mip %d does not fit %s mip %d", src.name, srcMip, dst.name, dstMip)
	cl.cmd.CopyImage(src.image, dst.image, ImageCopy{SrcMip: srcMip, SrcSlice: srcSlice, DstMip: dstMip, DstSlice: dstSlice, Extent: extent})
}

func (cl *CommandList) rasterAttachment(t *RasterTarget, viewType metadata.ViewType, allowed ...metadata.ResourceState) (RasterAttachment, uint32, uint32) {
	e := t.View.Entry(t.Index)
	core.Assert(e.Type == viewType && e.View != nil, "raster target %d of %s heap is not a bound %s", t.Index, t.View.HeapType(), viewType)
	core.Assert(!e.IsStale(), "raster target %s was recreated after its view was built", e.Resource.name)

	res := e.Resource
	sub := metadata.SubresourceIndex(e.TextureView.BaseMip, e.TextureView.FirstSlice, res.textureDesc.MipLevels)
	state := res.CurrentState(sub)
	ok := false
	for _, s := range allowed {
		ok = ok || s == state
	}
	core.Assert(ok, "raster target %s is in state %s", res.name, state)

	extent := res.textureDesc.MipExtent(e.TextureView.BaseMip)
	return RasterAttachment{
		View:       e.View,
		Image:      res.image,
		Clear:      t.Clear,
		ClearColor: t.ClearColor,
		ClearDepth: t.ClearDepth,
	}, extent.Width, extent.Height
}

// BeginRaster starts rendering into color targets and an optional depth target. Targets must
// already be in RenderTarget (or DepthWrite/DepthRead) state.
func (cl *CommandList) BeginRaster(colors []RasterTarget, depth *RasterTarget) {
	cl.assertRecording("BeginRaster")
	core.Assert(cl.queue == metadata.QueueGraphics, "BeginRaster on a %s command list", cl.queue)
	core.Assert(!cl.inRaster, "nested BeginRaster on %s", cl.name)
	core.Assert(len(colors) > 0 || depth != nil, "BeginRaster without targets on %s", cl.name)

	var width, height uint32
	attachments := make([]RasterAttachment, len(colors))
	for i := range colors {
		attachments[i], width, height = cl.rasterAttachment(&colors[i], metadata.ViewTypeRTV, metadata.ResourceStateRenderTarget)
	}
	var depthAttachment *RasterAttachment
	if depth != nil {
		a, w, h := cl.rasterAttachment(depth, metadata.ViewTypeDSV, metadata.ResourceStateDepthWrite, metadata.ResourceStateDepthRead)
		depthAttachment = &a
		if len(colors) == 0 {
			width, height = w, h
		}
	}
	cl.cmd.BeginRaster(attachments, depthAttachment, width, height)
	cl.inRaster = true
}

func (cl *CommandList) EndRaster() {
	cl.assertRecording("EndRaster")
	core.Assert(cl.inRaster, "EndRaster without BeginRaster on %s", cl.name)
	cl.cmd.EndRaster()
	cl.inRaster = false
}

func (cl *CommandList) SetViewport(vp math.Viewport) {
	cl.assertRecording("SetViewport")
	cl.cmd.SetViewport(vp)
}

func (cl *CommandList) SetScissor(r math.Rect) {
	cl.assertRecording("SetScissor")
	cl.cmd.SetScissor(r)
}

func (cl *CommandList) SetPipelineState(p *PipelineObject) {
	cl.assertRecording("SetPipelineState")
	if p.Type() == metadata.PipelineTypeGraphics {
		core.Assert(cl.queue == metadata.QueueGraphics, "graphics pipeline %s on a %s command list", p.name, cl.queue)
	} else {
		core.Assert(cl.queue != metadata.QueueCopy, "compute pipeline %s on a copy command list", p.name)
	}
	cl.cmd.BindPipeline(p.pipeline)
	cl.pipeline = p
}

// SetRootConstants pushes 32-bit values into the root constant binding at register.
func (cl *CommandList) SetRootConstants(register uint32, data []uint32) {
	cl.assertRecording("SetRootConstants")
	core.Assert(cl.pipeline != nil, "SetRootConstants without a pipeline on %s", cl.name)
	rng, numConstants := cl.pipeline.rootSig.pushRange(register)
	core.Assert(uint32(len(data)) <= numConstants, "%d root constants for a binding of %d", len(data), numConstants)
	cl.cmd.PushConstants(cl.pipeline.pipeline, rng.Stages, rng.Offset, encodeConstants(data))
}

func encodeConstants(data []uint32) []byte {
	out := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

func (cl *CommandList) SetVertexBuffers(first uint32, infos ...BufferAddressInfo) {
	cl.assertRecording("SetVertexBuffers")
	buffers := make([]GPUBuffer, len(infos))
	offsets := make([]uint64, len(infos))
	for i, info := range infos {
		core.Assert(info.Resource != nil && info.Resource.IsBuffer(), "vertex buffer %d is not a buffer", i)
		buffers[i] = info.Resource.buffer
		offsets[i] = info.Offset
	}
	cl.cmd.BindVertexBuffers(first, buffers, offsets)
}

func (cl *CommandList) SetIndexBuffer(info BufferAddressInfo) {
	cl.assertRecording("SetIndexBuffer")
	core.Assert(info.Resource != nil && info.Resource.IsBuffer(), "index buffer is not a buffer")
	core.Assert(info.Format == metadata.FormatR16Uint || info.Format == metadata.FormatR32Uint, "index format %s", info.Format)
	cl.cmd.BindIndexBuffer(info.Resource.buffer, info.Offset, info.Format)
}

func (cl *CommandList) assertDraw(op string) {
	cl.assertRecording(op)
	core.Assert(cl.inRaster, "%s outside a raster pass on %s", op, cl.name)
	core.Assert(cl.pipeline != nil && cl.pipeline.Type() == metadata.PipelineTypeGraphics, "%s without a graphics pipeline on %s", op, cl.name)
}

func (cl *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cl.assertDraw("Draw")
	cl.cmd.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (cl *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cl.assertDraw("DrawIndexed")
	cl.cmd.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (cl *CommandList) Dispatch(x, y, z uint32) {
	cl.assertRecording("Dispatch")
	core.Assert(!cl.inRaster, "Dispatch inside a raster pass on %s", cl.name)
	core.Assert(cl.pipeline != nil && cl.pipeline.Type() == metadata.PipelineTypeCompute, "Dispatch without a compute pipeline on %s", cl.name)
	cl.cmd.Dispatch(x, y, z)
}
