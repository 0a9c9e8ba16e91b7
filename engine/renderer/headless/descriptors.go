package headless

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type DescriptorLayout struct {
	object
	desc     renderer.DescriptorLayoutDesc
	bindings map[uint32]renderer.LayoutBinding
}

func (g *GPU) CreateDescriptorLayout(desc *renderer.DescriptorLayoutDesc) (renderer.DescriptorLayout, error) {
	bindings := make(map[uint32]renderer.LayoutBinding, len(desc.Bindings))
	for _, b := range desc.Bindings {
		if _, ok := bindings[b.Binding]; ok {
			return nil, errors.Newf("binding %d declared twice", b.Binding)
		}
		bindings[b.Binding] = b
	}
	var pushSize uint32
	for _, r := range desc.PushConstants {
		if end := r.Offset + r.Size; end > pushSize {
			pushSize = end
		}
	}
	if pushSize > g.caps.MaxPushConstantsSize {
		return nil, errors.Newf("push constants need %d bytes, device allows %d", pushSize, g.caps.MaxPushConstantsSize)
	}
	return &DescriptorLayout{object: newObject(g), desc: *desc, bindings: bindings}, nil
}

func (l *DescriptorLayout) Desc() renderer.DescriptorLayoutDesc { return l.desc }
func (l *DescriptorLayout) Native() interface{}                 { return l }
func (l *DescriptorLayout) Destroy()                            { l.release() }

type slot struct {
	binding uint32
	element uint32
}

// DescriptorHeap remembers the latest write to every slot of every copy.
type DescriptorHeap struct {
	object
	layout *DescriptorLayout
	copies int

	mutex  sync.Mutex
	writes []map[slot]renderer.DescriptorWrite
	count  int
}

func (g *GPU) CreateDescriptorHeap(layout renderer.DescriptorLayout, copies int) (renderer.DescriptorHeap, error) {
	l, ok := layout.(*DescriptorLayout)
	if !ok {
		return nil, errors.Newf("layout %T does not belong to the headless backend", layout)
	}
	if copies <= 0 {
		return nil, errors.Newf("descriptor heap with %d copies", copies)
	}
	writes := make([]map[slot]renderer.DescriptorWrite, copies)
	for i := range writes {
		writes[i] = make(map[slot]renderer.DescriptorWrite)
	}
	return &DescriptorHeap{object: newObject(g), layout: l, copies: copies, writes: writes}, nil
}

func (h *DescriptorHeap) Copies() int { return h.copies }

func (h *DescriptorHeap) Write(copy int, writes []renderer.DescriptorWrite) error {
	if copy < 0 || copy >= h.copies {
		return errors.Newf("descriptor heap copy %d of %d", copy, h.copies)
	}
	for _, w := range writes {
		b, ok := h.layout.bindings[w.Binding]
		if !ok {
			return errors.Newf("write to undeclared binding %d", w.Binding)
		}
		if b.Type != w.Type {
			return errors.Newf("binding %d is %s, written as %s", w.Binding, b.Type, w.Type)
		}
		if w.ArrayElement >= b.Count {
			return errors.Newf("element %d of binding %d with %d elements", w.ArrayElement, w.Binding, b.Count)
		}
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, w := range writes {
		h.writes[copy][slot{w.Binding, w.ArrayElement}] = w
		h.count++
	}
	return nil
}

// Written returns the descriptor last written to an element of a binding in one copy.
func (h *DescriptorHeap) Written(copy int, binding, element uint32) (renderer.DescriptorWrite, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	w, ok := h.writes[copy][slot{binding, element}]
	return w, ok
}

// WriteCount is the number of descriptor writes over the heap's lifetime.
func (h *DescriptorHeap) WriteCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.count
}

func (h *DescriptorHeap) Native(copy int) interface{} { return h.writes[copy] }
func (h *DescriptorHeap) Destroy()                    { h.release() }

type Pipeline struct {
	object
	desc   metadata.PipelineDesc
	layout *DescriptorLayout
}

func (g *GPU) CreatePipeline(desc *metadata.PipelineDesc, layout renderer.DescriptorLayout) (renderer.Pipeline, error) {
	l, ok := layout.(*DescriptorLayout)
	if !ok {
		return nil, errors.Newf("layout %T does not belong to the headless backend", layout)
	}
	switch desc.Type {
	case metadata.PipelineTypeCompute:
		if len(desc.ComputeShader) == 0 {
			return nil, errors.Newf("compute pipeline %q without shader", desc.Name)
		}
	default:
		if len(desc.VertexShader) == 0 {
			return nil, errors.Newf("graphics pipeline %q without vertex shader", desc.Name)
		}
	}
	return &Pipeline{object: newObject(g), desc: *desc, layout: l}, nil
}

func (p *Pipeline) Type() metadata.PipelineType { return p.desc.Type }
func (p *Pipeline) Desc() metadata.PipelineDesc { return p.desc }
func (p *Pipeline) Native() interface{}         { return p }
func (p *Pipeline) Destroy()                    { p.release() }
