package vulkan

import (
	"fmt"
	"strings"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// renderPassKey identifies a single subpass render pass. Layout transitions happen through
// explicit barriers, so attachments start and end in their attachment layouts and only the
// formats and load ops tell passes apart.
type renderPassKey struct {
	colors     []metadata.ResourceFormat
	clears     []bool
	depth      metadata.ResourceFormat
	clearDepth bool
}

func (k *renderPassKey) String() string {
	var sb strings.Builder
	for i, f := range k.colors {
		fmt.Fprintf(&sb, "%d:%t,", f, k.clears[i])
	}
	fmt.Fprintf(&sb, "d%d:%t", k.depth, k.clearDepth)
	return sb.String()
}

// renderPassCache owns every render pass made by the device.
type renderPassCache struct {
	mu     sync.Mutex
	passes map[string]vk.RenderPass
}

func newRenderPassCache() *renderPassCache {
	return &renderPassCache{passes: make(map[string]vk.RenderPass)}
}

func loadOp(clear bool) vk.AttachmentLoadOp {
	if clear {
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpLoad
}

func (g *GPU) renderPass(key *renderPassKey) (vk.RenderPass, error) {
	c := g.passes
	c.mu.Lock()
	defer c.mu.Unlock()

	name := key.String()
	if pass, ok := c.passes[name]; ok {
		return pass, nil
	}

	attachments := make([]vk.AttachmentDescription, 0, len(key.colors)+1)
	colorRefs := make([]vk.AttachmentReference, 0, len(key.colors))
	for i, f := range key.colors {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         vkFormat(f),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp(key.clears[i]),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if key.depth != metadata.FormatUnknown {
		stencilLoad := vk.AttachmentLoadOpDontCare
		stencilStore := vk.AttachmentStoreOpDontCare
		if key.depth.HasStencil() {
			stencilLoad = loadOp(key.clearDepth)
			stencilStore = vk.AttachmentStoreOpStore
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         vkFormat(key.depth),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp(key.clearDepth),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  stencilLoad,
			StencilStoreOp: stencilStore,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(key.colors)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}
	var pass vk.RenderPass
	if res := vk.CreateRenderPass(g.device, &info, g.allocator, &pass); res != vk.Success {
		return vk.NullRenderPass, resultError(res, "failed to create render pass %s", name)
	}
	c.passes[name] = pass
	return pass, nil
}

func (g *GPU) destroyRenderPasses() {
	c := g.passes
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, pass := range c.passes {
		vk.DestroyRenderPass(g.device, pass, g.allocator)
		delete(c.passes, name)
	}
}

func rasterKey(colors []renderer.RasterAttachment, depth *renderer.RasterAttachment) *renderPassKey {
	key := &renderPassKey{
		colors: make([]metadata.ResourceFormat, len(colors)),
		clears: make([]bool, len(colors)),
	}
	for i := range colors {
		key.colors[i] = attachmentFormat(&colors[i])
		key.clears[i] = colors[i].Clear
	}
	if depth != nil {
		key.depth = attachmentFormat(depth)
		key.clearDepth = depth.Clear
	}
	return key
}

func attachmentFormat(a *renderer.RasterAttachment) metadata.ResourceFormat {
	if a.Image != nil {
		return a.Image.Desc().Format
	}
	if v, ok := a.View.(*View); ok && v.image != nil {
		return v.image.desc.Format
	}
	return metadata.FormatUnknown
}

// pipelineRenderPass returns a pass compatible with the attachments of a graphics pipeline.
func (g *GPU) pipelineRenderPass(desc *metadata.PipelineDesc) (vk.RenderPass, error) {
	return g.renderPass(&renderPassKey{
		colors: desc.ColorFormats,
		clears: make([]bool, len(desc.ColorFormats)),
		depth:  desc.DepthFormat,
	})
}

// newFramebuffer builds a framebuffer for one BeginRaster. The pool that recorded it destroys it
// once the command buffer is recycled.
func (g *GPU) newFramebuffer(pass vk.RenderPass, colors []renderer.RasterAttachment, depth *renderer.RasterAttachment, width, height uint32) (vk.Framebuffer, error) {
	views := make([]vk.ImageView, 0, len(colors)+1)
	for i := range colors {
		views = append(views, colors[i].View.(*View).imageView)
	}
	if depth != nil {
		views = append(views, depth.View.(*View).imageView)
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if res := vk.CreateFramebuffer(g.device, &info, g.allocator, &fb); res != vk.Success {
		return vk.NullFramebuffer, resultError(res, "failed to create framebuffer")
	}
	return fb, nil
}
