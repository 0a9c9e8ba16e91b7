package vulkan

import (
	"context"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/renderer"
)

// Timeline waits poll in slices of this many nanoseconds so a cancelled context is noticed.
const timelineWaitSlice = uint64(2_000_000)

type Semaphore struct {
	gpu      *GPU
	handle   vk.Semaphore
	timeline bool
}

func (g *GPU) newSemaphore(pNext unsafe.Pointer) (vk.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: pNext,
	}
	var handle vk.Semaphore
	if res := vk.CreateSemaphore(g.device, &info, g.allocator, &handle); res != vk.Success {
		return vk.NullSemaphore, resultError(res, "failed to create semaphore")
	}
	return handle, nil
}

func (g *GPU) CreateSemaphore() (renderer.Semaphore, error) {
	handle, err := g.newSemaphore(nil)
	if err != nil {
		return nil, err
	}
	return &Semaphore{gpu: g, handle: handle}, nil
}

func (g *GPU) CreateTimelineSemaphore(initial uint64) (renderer.TimelineSemaphore, error) {
	typeInfo := vk.SemaphoreTypeCreateInfo{
		SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
		SemaphoreType: vk.SemaphoreTypeTimeline,
		InitialValue:  initial,
	}
	ref, _ := typeInfo.PassRef()
	defer typeInfo.Free()
	handle, err := g.newSemaphore(unsafe.Pointer(ref))
	if err != nil {
		return nil, err
	}
	return &TimelineSemaphore{Semaphore{gpu: g, handle: handle, timeline: true}}, nil
}

func (s *Semaphore) Native() interface{} { return s.handle }

func (s *Semaphore) Destroy() {
	if s.handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.gpu.device, s.handle, s.gpu.allocator)
		s.handle = vk.NullSemaphore
	}
}

type TimelineSemaphore struct {
	Semaphore
}

func (s *TimelineSemaphore) Value() (uint64, error) {
	value, res := s.gpu.timeline.counter(s.gpu.device, s.handle)
	if res != vk.Success {
		return 0, resultError(res, "failed to read timeline value")
	}
	return value, nil
}

func (s *TimelineSemaphore) Wait(ctx context.Context, value uint64) error {
	for {
		switch res := s.gpu.timeline.waitFor(s.gpu.device, s.handle, value, timelineWaitSlice); res {
		case vk.Success:
			return nil
		case vk.Timeout:
		default:
			return resultError(res, "failed waiting for timeline value %d", value)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func semaphoreHandle(s renderer.Semaphore) (vk.Semaphore, bool) {
	switch sem := s.(type) {
	case *Semaphore:
		return sem.handle, sem.timeline
	case *TimelineSemaphore:
		return sem.handle, true
	default:
		return vk.NullSemaphore, false
	}
}
