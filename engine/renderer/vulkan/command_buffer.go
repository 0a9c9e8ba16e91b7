package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/math"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type commandBufferState int

const (
	commandBufferReady commandBufferState = iota
	commandBufferRecording
	commandBufferInRenderPass
	commandBufferRecordingEnded
)

// CommandBuffer records into the single primary buffer of a CommandPool. Recording calls do not
// return errors; the first failure is kept and reported by End.
type CommandBuffer struct {
	pool   *CommandPool
	handle vk.CommandBuffer
	state  commandBufferState
	err    error
}

func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
		core.LogError("command buffer: %v", err)
	}
}

func (c *CommandBuffer) Begin() error {
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(c.handle, &info); res != vk.Success {
		return resultError(res, "failed to begin command buffer")
	}
	c.state = commandBufferRecording
	c.err = nil
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state == commandBufferInRenderPass {
		c.fail(errors.New("command buffer ended inside a render pass"))
		c.EndRaster()
	}
	if res := vk.EndCommandBuffer(c.handle); res != vk.Success {
		return resultError(res, "failed to end command buffer")
	}
	c.state = commandBufferRecordingEnded
	return c.err
}

func (c *CommandBuffer) Native() interface{} { return c.handle }

func queueFamily(f uint32) uint32 {
	if f == renderer.QueueFamilyIgnored {
		return vk.QueueFamilyIgnored
	}
	return f
}

// barrierBatch accumulates barriers that execute with one vkCmdPipelineBarrier.
type barrierBatch struct {
	srcStages vk.PipelineStageFlags
	dstStages vk.PipelineStageFlags
	memory    []vk.MemoryBarrier
	buffers   []vk.BufferMemoryBarrier
	images    []vk.ImageMemoryBarrier
}

func (b *barrierBatch) empty() bool {
	return len(b.memory) == 0 && len(b.buffers) == 0 && len(b.images) == 0
}

func (b *barrierBatch) record(cb vk.CommandBuffer) {
	if b.empty() {
		return
	}
	vk.CmdPipelineBarrier(cb, b.srcStages, b.dstStages, 0,
		uint32(len(b.memory)), b.memory,
		uint32(len(b.buffers)), b.buffers,
		uint32(len(b.images)), b.images)
}

// Barriers translates state transitions into pipeline barriers. Images coming from undefined or
// present contents that go straight to a shader read pass through TRANSFER_DST first, which
// some drivers need to initialize compressed metadata.
func (c *CommandBuffer) Barriers(barriers []renderer.BarrierRecord) {
	var pre, main barrierBatch
	queue := c.pool.queue

	for i := range barriers {
		br := &barriers[i]
		srcAccess, srcStages := stateMasks(br.Src)
		dstAccess, dstStages := stateMasks(br.Dst)
		switch br.Ownership {
		case renderer.OwnershipRelease:
			dstAccess, dstStages = 0, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
		case renderer.OwnershipAcquire:
			srcAccess, srcStages = 0, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		}
		srcStages = queueStages(queue, srcStages)
		dstStages = queueStages(queue, dstStages)

		if br.UAV {
			main.srcStages |= srcStages
			main.dstStages |= dstStages
			main.memory = append(main.memory, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			})
			continue
		}

		if br.Buffer != nil {
			buf, ok := br.Buffer.(*Buffer)
			if !ok {
				c.fail(errors.Wrapf(errNotVulkan, "barrier buffer %T", br.Buffer))
				continue
			}
			main.srcStages |= srcStages
			main.dstStages |= dstStages
			main.buffers = append(main.buffers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       srcAccess,
				DstAccessMask:       dstAccess,
				SrcQueueFamilyIndex: queueFamily(br.SrcQueueFamily),
				DstQueueFamilyIndex: queueFamily(br.DstQueueFamily),
				Buffer:              buf.handle,
				Offset:              0,
				Size:                vk.DeviceSize(vk.WholeSize),
			})
			continue
		}

		img, ok := br.Image.(*Image)
		if !ok {
			c.fail(errors.Wrapf(errNotVulkan, "barrier image %T", br.Image))
			continue
		}
		format := img.desc.Format
		rng := vk.ImageSubresourceRange{
			AspectMask:     aspectMask(format),
			BaseMipLevel:   br.Range.BaseMip,
			LevelCount:     br.Range.MipCount,
			BaseArrayLayer: br.Range.BaseSlice,
			LayerCount:     br.Range.SliceCount,
		}
		oldLayout := stateLayout(br.Src, format)
		newLayout := stateLayout(br.Dst, format)

		if (br.Src == metadata.ResourceStateUndefined || br.Src == metadata.ResourceStatePresent) &&
			br.Dst.IsShaderRead() && br.Ownership == renderer.OwnershipNone {
			pre.srcStages |= srcStages
			pre.dstStages |= vk.PipelineStageFlags(vk.PipelineStageTransferBit)
			pre.images = append(pre.images, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       srcAccess,
				DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
				OldLayout:           oldLayout,
				NewLayout:           vk.ImageLayoutTransferDstOptimal,
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               img.handle,
				SubresourceRange:    rng,
			})
			oldLayout = vk.ImageLayoutTransferDstOptimal
			srcAccess = vk.AccessFlags(vk.AccessTransferWriteBit)
			srcStages = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		}

		main.srcStages |= srcStages
		main.dstStages |= dstStages
		main.images = append(main.images, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: queueFamily(br.SrcQueueFamily),
			DstQueueFamilyIndex: queueFamily(br.DstQueueFamily),
			Image:               img.handle,
			SubresourceRange:    rng,
		})
	}

	pre.record(c.handle)
	main.record(c.handle)
}

func (c *CommandBuffer) CopyBuffer(src renderer.GPUBuffer, srcOffset uint64, dst renderer.GPUBuffer, dstOffset uint64, size uint64) {
	s, ok1 := src.(*Buffer)
	d, ok2 := dst.(*Buffer)
	if !ok1 || !ok2 {
		c.fail(errors.Wrap(errNotVulkan, "copy buffer"))
		return
	}
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(c.handle, s.handle, d.handle, 1, []vk.BufferCopy{region})
}

func subresourceLayers(img *Image, mip, slice uint32) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     aspectMask(img.desc.Format),
		MipLevel:       mip,
		BaseArrayLayer: slice,
		LayerCount:     1,
	}
}

func extent(e math.Extent3D) vk.Extent3D {
	return vk.Extent3D{Width: e.Width, Height: e.Height, Depth: e.Depth}
}

// CopyBufferToImage expects the destination in the copy-dest state. Rows are tightly packed.
func (c *CommandBuffer) CopyBufferToImage(src renderer.GPUBuffer, dst renderer.Image, regions []renderer.BufferImageCopy) {
	s, ok1 := src.(*Buffer)
	d, ok2 := dst.(*Image)
	if !ok1 || !ok2 {
		c.fail(errors.Wrap(errNotVulkan, "copy buffer to image"))
		return
	}
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset:     vk.DeviceSize(r.BufferOffset),
			ImageSubresource: subresourceLayers(d, r.Mip, r.Slice),
			ImageOffset:      vk.Offset3D{X: r.Offset.X, Y: r.Offset.Y, Z: r.Offset.Z},
			ImageExtent:      extent(r.Extent),
		}
	}
	vk.CmdCopyBufferToImage(c.handle, s.handle, d.handle, vk.ImageLayoutTransferDstOptimal, uint32(len(copies)), copies)
}

func (c *CommandBuffer) CopyImage(src renderer.Image, dst renderer.Image, region renderer.ImageCopy) {
	s, ok1 := src.(*Image)
	d, ok2 := dst.(*Image)
	if !ok1 || !ok2 {
		c.fail(errors.Wrap(errNotVulkan, "copy image"))
		return
	}
	cp := vk.ImageCopy{
		SrcSubresource: subresourceLayers(s, region.SrcMip, region.SrcSlice),
		DstSubresource: subresourceLayers(d, region.DstMip, region.DstSlice),
		Extent:         extent(region.Extent),
	}
	vk.CmdCopyImage(c.handle, s.handle, vk.ImageLayoutTransferSrcOptimal, d.handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageCopy{cp})
}

func (c *CommandBuffer) BeginRaster(colors []renderer.RasterAttachment, depth *renderer.RasterAttachment, width, height uint32) {
	gpu := c.pool.gpu
	pass, err := gpu.renderPass(rasterKey(colors, depth))
	if err != nil {
		c.fail(err)
		return
	}
	fb, err := gpu.newFramebuffer(pass, colors, depth, width, height)
	if err != nil {
		c.fail(err)
		return
	}
	c.pool.trackFramebuffer(fb)

	clearValues := make([]vk.ClearValue, 0, len(colors)+1)
	for _, a := range colors {
		var cv vk.ClearValue
		cv.SetColor([]float32{a.ClearColor.X, a.ClearColor.Y, a.ClearColor.Z, a.ClearColor.W})
		clearValues = append(clearValues, cv)
	}
	if depth != nil {
		var cv vk.ClearValue
		cv.SetDepthStencil(depth.ClearDepth, 0)
		clearValues = append(clearValues, cv)
	}

	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: width, Height: height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.handle, &info, vk.SubpassContentsInline)
	c.state = commandBufferInRenderPass
}

func (c *CommandBuffer) EndRaster() {
	if c.state != commandBufferInRenderPass {
		return
	}
	vk.CmdEndRenderPass(c.handle)
	c.state = commandBufferRecording
}

func (c *CommandBuffer) SetViewport(vp math.Viewport) {
	vk.CmdSetViewport(c.handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (c *CommandBuffer) SetScissor(r math.Rect) {
	vk.CmdSetScissor(c.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}})
}

func (c *CommandBuffer) BindPipeline(p renderer.Pipeline) {
	pipeline, ok := p.(*Pipeline)
	if !ok {
		c.fail(errors.Wrapf(errNotVulkan, "pipeline %T", p))
		return
	}
	vk.CmdBindPipeline(c.handle, pipeline.bindPoint(), pipeline.handle)
}

func (c *CommandBuffer) BindDescriptorHeap(p renderer.Pipeline, heap renderer.DescriptorHeap, copy int, dynamicOffsets []uint32) {
	pipeline, ok1 := p.(*Pipeline)
	h, ok2 := heap.(*DescriptorHeap)
	if !ok1 || !ok2 {
		c.fail(errors.Wrap(errNotVulkan, "bind descriptor heap"))
		return
	}
	if copy < 0 || copy >= len(h.sets) {
		c.fail(errors.Newf("descriptor copy %d out of %d", copy, len(h.sets)))
		return
	}
	vk.CmdBindDescriptorSets(c.handle, pipeline.bindPoint(), pipeline.layout, 0, 1,
		[]vk.DescriptorSet{h.sets[copy]}, uint32(len(dynamicOffsets)), dynamicOffsets)
}

func (c *CommandBuffer) PushConstants(p renderer.Pipeline, stages metadata.ShaderStage, offset uint32, data []byte) {
	pipeline, ok := p.(*Pipeline)
	if !ok {
		c.fail(errors.Wrapf(errNotVulkan, "pipeline %T", p))
		return
	}
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(c.handle, pipeline.layout, shaderStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, buffers []renderer.GPUBuffer, offsets []uint64) {
	handles := make([]vk.Buffer, len(buffers))
	sizes := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		buf, ok := b.(*Buffer)
		if !ok {
			c.fail(errors.Wrapf(errNotVulkan, "vertex buffer %T", b))
			return
		}
		handles[i] = buf.handle
		if i < len(offsets) {
			sizes[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(c.handle, first, uint32(len(handles)), handles, sizes)
}

func (c *CommandBuffer) BindIndexBuffer(b renderer.GPUBuffer, offset uint64, format metadata.ResourceFormat) {
	buf, ok := b.(*Buffer)
	if !ok {
		c.fail(errors.Wrapf(errNotVulkan, "index buffer %T", b))
		return
	}
	indexType := vk.IndexTypeUint16
	if format == metadata.FormatR32Uint {
		indexType = vk.IndexTypeUint32
	}
	vk.CmdBindIndexBuffer(c.handle, buf.handle, vk.DeviceSize(offset), indexType)
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(c.handle, x, y, z)
}
