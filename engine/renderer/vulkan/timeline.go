package vulkan

/*
#include <stdint.h>
#include <stdlib.h>

typedef void (*tlVoidFn)(void);
typedef tlVoidFn (*tlGetProcAddr)(void* handle, const char* name);

typedef struct {
	int32_t         sType;
	const void*     pNext;
	uint32_t        flags;
	uint32_t        semaphoreCount;
	const uint64_t* pSemaphores;
	const uint64_t* pValues;
} tlSemaphoreWaitInfo;

typedef int32_t (*tlGetSemaphoreCounterValue)(void* device, uint64_t semaphore, uint64_t* value);
typedef int32_t (*tlWaitSemaphores)(void* device, const tlSemaphoreWaitInfo* info, uint64_t timeout);

static void* tlResolve(void* getProcAddr, void* handle, const char* name) {
	return (void*)((tlGetProcAddr)getProcAddr)(handle, name);
}

static int32_t tlCounterValue(void* fn, void* device, uint64_t semaphore, uint64_t* value) {
	return ((tlGetSemaphoreCounterValue)fn)(device, semaphore, value);
}

static int32_t tlWait(void* fn, void* device, int32_t sType, uint64_t semaphore, uint64_t value, uint64_t timeout) {
	tlSemaphoreWaitInfo info = {0};
	info.sType = sType;
	info.semaphoreCount = 1;
	info.pSemaphores = &semaphore;
	info.pValues = &value;
	return ((tlWaitSemaphores)fn)(device, &info, timeout);
}
*/
import "C"

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
)

// timelineProcs are the Vulkan 1.2 timeline commands, which the bindings do not wrap. They are
// resolved from the device once it exists.
type timelineProcs struct {
	counterValue unsafe.Pointer
	wait         unsafe.Pointer
}

func (g *GPU) loadTimelineProcs() error {
	if g.procAddr == nil {
		return errors.New("GetInstanceProcAddress is nil")
	}
	gdpa := resolveProc(g.procAddr, unsafe.Pointer(g.instance), "vkGetDeviceProcAddr")
	if gdpa == nil {
		return errors.New("failed to resolve vkGetDeviceProcAddr")
	}
	device := unsafe.Pointer(g.device)
	g.timeline.counterValue = resolveProc(gdpa, device, "vkGetSemaphoreCounterValue", "vkGetSemaphoreCounterValueKHR")
	g.timeline.wait = resolveProc(gdpa, device, "vkWaitSemaphores", "vkWaitSemaphoresKHR")
	if g.timeline.counterValue == nil || g.timeline.wait == nil {
		return errors.New("device does not expose the timeline semaphore commands")
	}
	return nil
}

// resolveProc returns the first of names the loader knows, or nil.
func resolveProc(getProcAddr, handle unsafe.Pointer, names ...string) unsafe.Pointer {
	for _, name := range names {
		cname := C.CString(name)
		fn := C.tlResolve(getProcAddr, handle, cname)
		C.free(unsafe.Pointer(cname))
		if fn != nil {
			return fn
		}
	}
	return nil
}

func (t *timelineProcs) counter(device vk.Device, sem vk.Semaphore) (uint64, vk.Result) {
	var value C.uint64_t
	res := C.tlCounterValue(t.counterValue, unsafe.Pointer(device), C.uint64_t(semaphoreBits(sem)), &value)
	return uint64(value), vk.Result(res)
}

func (t *timelineProcs) waitFor(device vk.Device, sem vk.Semaphore, value, timeout uint64) vk.Result {
	res := C.tlWait(t.wait, unsafe.Pointer(device), C.int32_t(vk.StructureTypeSemaphoreWaitInfo),
		C.uint64_t(semaphoreBits(sem)), C.uint64_t(value), C.uint64_t(timeout))
	return vk.Result(res)
}

// semaphoreBits is the 64-bit handle value of a non-dispatchable semaphore.
func semaphoreBits(sem vk.Semaphore) uint64 {
	return uint64(uintptr(unsafe.Pointer(sem)))
}
