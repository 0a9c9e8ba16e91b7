package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// PipelineObject is a compiled pipeline bound to the root signature it was built against.
type PipelineObject struct {
	name     string
	desc     metadata.PipelineDesc
	rootSig  *RootSignature
	pipeline Pipeline
}

func (d *Device) CreatePipelineObject(desc *metadata.PipelineDesc, rootSig *RootSignature) (*PipelineObject, error) {
	core.Assert(rootSig != nil, "pipeline %s without a root signature", desc.Name)
	switch desc.Type {
	case metadata.PipelineTypeCompute:
		core.Assert(len(desc.ComputeShader) > 0, "compute pipeline %s without a compute shader", desc.Name)
	default:
		core.Assert(len(desc.VertexShader) > 0, "graphics pipeline %s without a vertex shader", desc.Name)
	}
	name := desc.Name
	if name == "" {
		name = core.NewIdentifier("pipeline")
	}

	p, err := d.gpu.CreatePipeline(desc, rootSig.layout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create pipeline %s", name)
	}
	return &PipelineObject{name: name, desc: *desc, rootSig: rootSig, pipeline: p}, nil
}

func (p *PipelineObject) Name() string                  { return p.name }
func (p *PipelineObject) Type() metadata.PipelineType   { return p.desc.Type }
func (p *PipelineObject) Desc() metadata.PipelineDesc   { return p.desc }
func (p *PipelineObject) RootSignature() *RootSignature { return p.rootSig }

func (p *PipelineObject) Destroy() {
	if p.pipeline != nil {
		p.pipeline.Destroy()
		p.pipeline = nil
	}
}
