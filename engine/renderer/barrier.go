package renderer

import (
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type BarrierType int

const (
	BarrierTransition BarrierType = iota
	BarrierUAV
	BarrierRelease
	BarrierAcquire
)

// Barrier requests a state transition on a resource. Build it with one of the constructors and
// record it with CommandList.ResourceBarrier, which validates it against the tracked state.
type Barrier struct {
	Type        BarrierType
	Resource    *GPUResource
	Subresource uint32
	Src         metadata.ResourceState
	Dst         metadata.ResourceState
	SrcQueue    metadata.QueueType
	DstQueue    metadata.QueueType
}

func TransitionBarrier(res *GPUResource, src, dst metadata.ResourceState, subresource uint32) Barrier {
	return Barrier{Type: BarrierTransition, Resource: res, Subresource: subresource, Src: src, Dst: dst}
}

// UAVBarrier orders reads and writes of a resource in unordered access.
func UAVBarrier(res *GPUResource) Barrier {
	return Barrier{Type: BarrierUAV, Resource: res, Subresource: metadata.AllSubresources}
}

// ReleaseBarrier gives up ownership of a resource on from, recorded on a from command list.
// It must be paired with an AcquireBarrier recorded on a to command list that is submitted
// after the release is known to have executed.
func ReleaseBarrier(res *GPUResource, src, dst metadata.ResourceState, from, to metadata.QueueType) Barrier {
	return Barrier{Type: BarrierRelease, Resource: res, Subresource: metadata.AllSubresources, Src: src, Dst: dst, SrcQueue: from, DstQueue: to}
}

func AcquireBarrier(res *GPUResource, src, dst metadata.ResourceState, from, to metadata.QueueType) Barrier {
	return Barrier{Type: BarrierAcquire, Resource: res, Subresource: metadata.AllSubresources, Src: src, Dst: dst, SrcQueue: from, DstQueue: to}
}

// translateBarrier validates b against the tracked state of its resource, updates the state and
// returns the backend records to emit. A mismatch is a programmer error.
func (d *Device) translateBarrier(queue metadata.QueueType, b Barrier) []BarrierRecord {
	res := b.Resource
	core.Assert(res != nil, "barrier without a resource")

	switch b.Type {
	case BarrierUAV:
		for i, s := range res.states {
			core.Assert(s == metadata.ResourceStateUnorderedAccess || s == metadata.ResourceStateRTAccelerationStruct,
				"UAV barrier on %s: subresource %d is %s", res.name, i, s)
		}
		return []BarrierRecord{d.record(res, metadata.AllSubresources, res.states[0], res.states[0], QueueFamilyIgnored, QueueFamilyIgnored, OwnershipNone, true)}

	case BarrierRelease:
		core.Assert(queue == b.SrcQueue, "release barrier for %s from %s recorded on a %s command list", res.name, b.SrcQueue, queue)
		d.assertState(res, b.Subresource, b.Src)
		from, to := d.QueueFamily(b.SrcQueue), d.QueueFamily(b.DstQueue)
		if from == to {
			res.setState(b.Subresource, b.Dst)
			return []BarrierRecord{d.record(res, b.Subresource, b.Src, b.Dst, QueueFamilyIgnored, QueueFamilyIgnored, OwnershipNone, false)}
		}
		core.Assert(res.pending == nil, "resource %s already has an ownership transfer in flight", res.name)
		res.pending = &ownershipTransfer{from: b.SrcQueue, to: b.DstQueue, src: b.Src, dst: b.Dst}
		return []BarrierRecord{d.record(res, b.Subresource, b.Src, b.Dst, from, to, OwnershipRelease, false)}

	case BarrierAcquire:
		core.Assert(queue == b.DstQueue, "acquire barrier for %s to %s recorded on a %s command list", res.name, b.DstQueue, queue)
		from, to := d.QueueFamily(b.SrcQueue), d.QueueFamily(b.DstQueue)
		if from == to {
			// The release already performed the transition.
			d.assertState(res, b.Subresource, b.Dst)
			return nil
		}
		p := res.pending
		core.Assert(p != nil, "acquire barrier for %s without a matching release", res.name)
		core.Assert(p.from == b.SrcQueue && p.to == b.DstQueue && p.src == b.Src && p.dst == b.Dst,
			"acquire barrier for %s does not match its release (%s->%s %s->%s)", res.name, p.from, p.to, p.src, p.dst)
		d.assertState(res, b.Subresource, b.Src)
		res.pending = nil
		res.setState(b.Subresource, b.Dst)
		return []BarrierRecord{d.record(res, b.Subresource, b.Src, b.Dst, from, to, OwnershipAcquire, false)}

	default:
		core.Assert(res.pending == nil, "transition on %s while an ownership transfer is in flight", res.name)
		d.assertState(res, b.Subresource, b.Src)
		res.setState(b.Subresource, b.Dst)
		return []BarrierRecord{d.record(res, b.Subresource, b.Src, b.Dst, QueueFamilyIgnored, QueueFamilyIgnored, OwnershipNone, false)}
	}
}

func (d *Device) assertState(res *GPUResource, subresource uint32, expected metadata.ResourceState) {
	if subresource == metadata.AllSubresources {
		for i, s := range res.states {
			core.Assert(s == expected, "barrier on %s: subresource %d is %s, barrier expects %s", res.name, i, s, expected)
		}
		return
	}
	current := res.CurrentState(subresource)
	core.Assert(current == expected, "barrier on %s: subresource %d is %s, barrier expects %s", res.name, subresource, current, expected)
}

func (d *Device) record(res *GPUResource, subresource uint32, src, dst metadata.ResourceState, srcFamily, dstFamily uint32, op OwnershipOp, uav bool) BarrierRecord {
	return BarrierRecord{
		Image:          res.image,
		Buffer:         res.buffer,
		Range:          res.subresourceRange(subresource),
		Src:            src,
		Dst:            dst,
		SrcQueueFamily: srcFamily,
		DstQueueFamily: dstFamily,
		Ownership:      op,
		UAV:            uav,
	}
}
