package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// DescriptorLayout pairs the single descriptor set layout of a root signature with the pipeline
// layout built from it.
type DescriptorLayout struct {
	gpu       *GPU
	setLayout vk.DescriptorSetLayout
	pipeline  vk.PipelineLayout
	bindings  []renderer.LayoutBinding
}

func (g *GPU) CreateDescriptorLayout(desc *renderer.DescriptorLayoutDesc) (renderer.DescriptorLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if b.Type == metadata.BindingTypeRootConstant {
			continue
		}
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  descriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      shaderStages(b.Stages),
		})
	}
	setInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var setLayout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(g.device, &setInfo, g.allocator, &setLayout); res != vk.Success {
		return nil, resultError(res, "failed to create descriptor set layout")
	}

	var total uint32
	ranges := make([]vk.PushConstantRange, len(desc.PushConstants))
	for i, pc := range desc.PushConstants {
		ranges[i] = vk.PushConstantRange{
			StageFlags: shaderStages(pc.Stages),
			Offset:     pc.Offset,
			Size:       pc.Size,
		}
		if end := pc.Offset + pc.Size; end > total {
			total = end
		}
	}
	if total > g.caps.MaxPushConstantsSize {
		vk.DestroyDescriptorSetLayout(g.device, setLayout, g.allocator)
		return nil, errors.Newf("push constants need %d bytes, device allows %d", total, g.caps.MaxPushConstantsSize)
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(g.device, &layoutInfo, g.allocator, &pipelineLayout); res != vk.Success {
		vk.DestroyDescriptorSetLayout(g.device, setLayout, g.allocator)
		return nil, resultError(res, "failed to create pipeline layout")
	}
	return &DescriptorLayout{
		gpu:       g,
		setLayout: setLayout,
		pipeline:  pipelineLayout,
		bindings:  append([]renderer.LayoutBinding(nil), desc.Bindings...),
	}, nil
}

func (l *DescriptorLayout) Native() interface{} { return l.pipeline }

func (l *DescriptorLayout) Destroy() {
	if l.pipeline != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(l.gpu.device, l.pipeline, l.gpu.allocator)
		l.pipeline = vk.NullPipelineLayout
	}
	if l.setLayout != nil {
		vk.DestroyDescriptorSetLayout(l.gpu.device, l.setLayout, l.gpu.allocator)
		l.setLayout = nil
	}
}

// DescriptorHeap is a descriptor pool sized for exactly copies sets of one layout.
type DescriptorHeap struct {
	gpu    *GPU
	layout *DescriptorLayout
	pool   vk.DescriptorPool
	sets   []vk.DescriptorSet
}

func (g *GPU) CreateDescriptorHeap(layout renderer.DescriptorLayout, copies int) (renderer.DescriptorHeap, error) {
	l, ok := layout.(*DescriptorLayout)
	if !ok {
		return nil, errors.Wrapf(errNotVulkan, "descriptor layout %T", layout)
	}
	core.Assert(copies > 0, "descriptor heap needs at least one copy")

	counts := make(map[vk.DescriptorType]uint32)
	for _, b := range l.bindings {
		if b.Type == metadata.BindingTypeRootConstant {
			continue
		}
		counts[descriptorType(b.Type)] += b.Count * uint32(copies)
	}
	sizes := make([]vk.DescriptorPoolSize, 0, len(counts))
	for t, n := range counts {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n})
	}
	// A layout made only of push constants still needs a set to bind.
	if len(sizes) == 0 {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: vk.DescriptorTypeSampler, DescriptorCount: 1})
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       uint32(copies),
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(g.device, &poolInfo, g.allocator, &pool); res != vk.Success {
		return nil, resultError(res, "failed to create descriptor pool")
	}

	layouts := make([]vk.DescriptorSetLayout, copies)
	for i := range layouts {
		layouts[i] = l.setLayout
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: uint32(copies),
		PSetLayouts:        layouts,
	}
	sets := make([]vk.DescriptorSet, copies)
	if res := vk.AllocateDescriptorSets(g.device, &allocInfo, &sets[0]); res != vk.Success {
		vk.DestroyDescriptorPool(g.device, pool, g.allocator)
		if res == vk.ErrorOutOfPoolMemory || res == vk.ErrorFragmentedPool {
			return nil, errors.Wrapf(core.ErrOutOfDescriptors, "allocating %d descriptor sets", copies)
		}
		return nil, resultError(res, "failed to allocate descriptor sets")
	}
	return &DescriptorHeap{gpu: g, layout: l, pool: pool, sets: sets}, nil
}

func (h *DescriptorHeap) Copies() int { return len(h.sets) }

func (h *DescriptorHeap) Native(copy int) interface{} { return h.sets[copy] }

func (h *DescriptorHeap) Write(copy int, writes []renderer.DescriptorWrite) error {
	if copy < 0 || copy >= len(h.sets) {
		return errors.Newf("descriptor copy %d out of %d", copy, len(h.sets))
	}
	out := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		ws := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          h.sets[copy],
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(w.Type),
		}
		switch w.Type {
		case metadata.BindingTypeSampler:
			s, ok := w.Sampler.(*Sampler)
			if !ok {
				return errors.Wrapf(errNotVulkan, "sampler %T", w.Sampler)
			}
			ws.PImageInfo = []vk.DescriptorImageInfo{{Sampler: s.handle}}
		case metadata.BindingTypeTextureSRV, metadata.BindingTypeTextureUAV:
			v, ok := w.View.(*View)
			if !ok || v.imageView == vk.NullImageView {
				return errors.Newf("binding %d needs a texture view", w.Binding)
			}
			ws.PImageInfo = []vk.DescriptorImageInfo{{ImageView: v.imageView, ImageLayout: v.layout}}
		case metadata.BindingTypeCBV:
			buf, ok := w.Buffer.(*Buffer)
			if !ok {
				return errors.Wrapf(errNotVulkan, "constant buffer %T", w.Buffer)
			}
			ws.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  vk.DeviceSize(w.Range),
			}}
		default:
			v, ok := w.View.(*View)
			if !ok || v.buffer == nil {
				return errors.Newf("binding %d needs a buffer view", w.Binding)
			}
			ws.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: v.buffer.handle,
				Offset: vk.DeviceSize(v.offset),
				Range:  vk.DeviceSize(v.size),
			}}
		}
		out = append(out, ws)
	}
	if len(out) > 0 {
		vk.UpdateDescriptorSets(h.gpu.device, uint32(len(out)), out, 0, nil)
	}
	return nil
}

func (h *DescriptorHeap) Destroy() {
	if h.pool != nil {
		vk.DestroyDescriptorPool(h.gpu.device, h.pool, h.gpu.allocator)
		h.pool = nil
		h.sets = nil
	}
}
