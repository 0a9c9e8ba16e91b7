package renderer

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

// RootSignatureDesc collects the bindings a pipeline expects. Order of the Add calls does not
// matter; ranges are laid out by type when the signature is built.
type RootSignatureDesc struct {
	Bindings []metadata.BindingDesc
}

func (d *RootSignatureDesc) add(t metadata.BindingType, register uint32, stages metadata.ShaderStage, count uint32) {
	core.Assert(count > 0, "%s binding at register %d with count 0", t, register)
	d.Bindings = append(d.Bindings, metadata.BindingDesc{Type: t, BaseShaderRegister: register, Count: count, Stages: stages})
}

func (d *RootSignatureDesc) AddTextureSRVSet(register uint32, stages metadata.ShaderStage, count uint32) {
	d.add(metadata.BindingTypeTextureSRV, register, stages, count)
}

func (d *RootSignatureDesc) AddTextureUAVSet(register uint32, stages metadata.ShaderStage, count uint32) {
	d.add(metadata.BindingTypeTextureUAV, register, stages, count)
}

func (d *RootSignatureDesc) AddBufferSRVSet(register uint32, stages metadata.ShaderStage, count uint32) {
	d.add(metadata.BindingTypeBufferSRV, register, stages, count)
}

func (d *RootSignatureDesc) AddBufferUAVSet(register uint32, stages metadata.ShaderStage, count uint32) {
	d.add(metadata.BindingTypeBufferUAV, register, stages, count)
}

func (d *RootSignatureDesc) AddRTAccelerationStructureSet(register uint32, stages metadata.ShaderStage, count uint32) {
	d.add(metadata.BindingTypeAccelStructRT, register, stages, count)
}

// AddConstantBufferSet declares dynamic constant buffers, addressed by an offset at bind time.
func (d *RootSignatureDesc) AddConstantBufferSet(register uint32, stages metadata.ShaderStage, count uint32) {
	d.add(metadata.BindingTypeCBV, register, stages, count)
}

func (d *RootSignatureDesc) AddSamplerSet(register uint32, stages metadata.ShaderStage, count uint32) {
	d.add(metadata.BindingTypeSampler, register, stages, count)
}

// AddRootConstant declares numConstants 32-bit values pushed directly with the command list.
// Each shader stage carries at most one such range.
func (d *RootSignatureDesc) AddRootConstant(register uint32, stages metadata.ShaderStage, numConstants uint32) {
	core.Assert(numConstants > 0, "root constant at register %d with no constants", register)
	d.Bindings = append(d.Bindings, metadata.BindingDesc{
		Type:               metadata.BindingTypeRootConstant,
		BaseShaderRegister: register,
		Count:              1,
		Stages:             stages,
		NumConstants:       numConstants,
	})
}

// RootSignature is the built layout of a pipeline's bindings. Descriptor bindings form one
// flattened table: each type occupies a contiguous range in BindingType order, so an offset
// follows from the type and the register alone.
type RootSignature struct {
	device   *Device
	name     string
	bindings []metadata.BindingDesc
	// Table offset of each binding; unused for root constants.
	offsets    []uint32
	typeBase   [metadata.BindingTypeCount]uint32
	typeCount  [metadata.BindingTypeCount]uint32
	pushRanges []PushConstantRange
	// Push range of each root constant binding, by binding index.
	pushByBinding map[int]PushConstantRange
	layout        DescriptorLayout
}

// CreateRootSignature validates desc and builds the backend layout. Overlapping registers of
// one type and two root constant ranges on the same stage are contract violations.
func (d *Device) CreateRootSignature(name string, desc *RootSignatureDesc) (*RootSignature, error) {
	bindings := append([]metadata.BindingDesc(nil), desc.Bindings...)
	for i := range bindings {
		for j := i + 1; j < len(bindings); j++ {
			a, b := &bindings[i], &bindings[j]
			if a.Type != b.Type {
				continue
			}
			overlap := a.BaseShaderRegister < b.BaseShaderRegister+b.Count && b.BaseShaderRegister < a.BaseShaderRegister+a.Count
			core.Assert(!overlap, "root signature %s: %s registers %d+%d and %d+%d overlap", name, a.Type, a.BaseShaderRegister, a.Count, b.BaseShaderRegister, b.Count)
		}
	}
	sort.SliceStable(bindings, func(i, j int) bool { return bindings[i].Type < bindings[j].Type })

	rs := &RootSignature{
		device:        d,
		name:          name,
		bindings:      bindings,
		offsets:       make([]uint32, len(bindings)),
		pushByBinding: make(map[int]PushConstantRange),
	}

	layoutDesc := DescriptorLayoutDesc{}
	var next, table, pushOffset uint32
	var pushStages metadata.ShaderStage
	for i := range bindings {
		b := &bindings[i]
		if b.Type == metadata.BindingTypeRootConstant {
			core.Assert(b.Stages&pushStages == 0, "root signature %s: a second root constant range for stages %s", name, b.Stages&pushStages)
			pushStages |= b.Stages
			rng := PushConstantRange{Stages: b.Stages, Offset: pushOffset, Size: 4 * b.NumConstants}
			pushOffset += rng.Size
			rs.pushRanges = append(rs.pushRanges, rng)
			rs.pushByBinding[i] = rng
			continue
		}

		b.BindingIndex = next
		next++
		if rs.typeCount[b.Type] == 0 {
			rs.typeBase[b.Type] = table
		}
		rs.offsets[i] = table
		table += b.Count
		rs.typeCount[b.Type] += b.Count
		layoutDesc.Bindings = append(layoutDesc.Bindings, LayoutBinding{Binding: b.BindingIndex, Type: b.Type, Count: b.Count, Stages: b.Stages})
	}
	if limit := d.caps.MaxPushConstantsSize; limit > 0 {
		core.Assert(pushOffset <= limit, "root signature %s: %d bytes of root constants exceed %d", name, pushOffset, limit)
	}
	layoutDesc.PushConstants = rs.pushRanges

	layout, err := d.gpu.CreateDescriptorLayout(&layoutDesc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create root signature %s", name)
	}
	rs.layout = layout
	return rs, nil
}

func (rs *RootSignature) Name() string                     { return rs.name }
func (rs *RootSignature) Bindings() []metadata.BindingDesc { return rs.bindings }
func (rs *RootSignature) PushConstantRanges() []PushConstantRange {
	return rs.pushRanges
}
func (rs *RootSignature) Layout() DescriptorLayout { return rs.layout }

// findBinding returns the index of the binding of type t covering register.
func (rs *RootSignature) findBinding(t metadata.BindingType, register uint32) (int, bool) {
	for i := range rs.bindings {
		if rs.bindings[i].Type == t && rs.bindings[i].Contains(register) {
			return i, true
		}
	}
	return -1, false
}

func (rs *RootSignature) mustFindBinding(t metadata.BindingType, register uint32) int {
	i, ok := rs.findBinding(t, register)
	core.Assert(ok, "root signature %s has no %s binding at register %d", rs.name, t, register)
	return i
}

// DescriptorOffset is the position of a register in the flattened descriptor table.
func (rs *RootSignature) DescriptorOffset(t metadata.BindingType, register uint32) (uint32, bool) {
	i, ok := rs.findBinding(t, register)
	if !ok || t == metadata.BindingTypeRootConstant {
		return 0, false
	}
	return rs.offsets[i] + register - rs.bindings[i].BaseShaderRegister, true
}

// TypeRange returns where the descriptors of one type start in the table and how many there are.
func (rs *RootSignature) TypeRange(t metadata.BindingType) (base, count uint32) {
	return rs.typeBase[t], rs.typeCount[t]
}

// resourceSlots counts view slots of the resource types. They come first in the table, so
// they occupy [0, resourceSlots).
func (rs *RootSignature) resourceSlots() uint32 {
	var n uint32
	for t := metadata.BindingTypeTextureSRV; t < metadata.BindingTypeCBV; t++ {
		n += rs.typeCount[t]
	}
	return n
}

// pushRange returns the push constant range of the root constant binding at register.
func (rs *RootSignature) pushRange(register uint32) (PushConstantRange, uint32) {
	i := rs.mustFindBinding(metadata.BindingTypeRootConstant, register)
	return rs.pushByBinding[i], rs.bindings[i].NumConstants
}

func (rs *RootSignature) Destroy() {
	if rs.layout != nil {
		rs.layout.Destroy()
		rs.layout = nil
	}
}
