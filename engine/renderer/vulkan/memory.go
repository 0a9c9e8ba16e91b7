package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
)

func memoryProperties(usage renderer.MemoryUsage) vk.MemoryPropertyFlags {
	if usage == renderer.MemoryCPUToGPU {
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
}

// findMemoryIndex returns the first memory type allowed by typeFilter that has every flag in
// properties.
func (g *GPU) findMemoryIndex(typeFilter uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < g.memory.MemoryTypeCount; i++ {
		memoryType := g.memory.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&properties == properties {
			return i, nil
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return 0, errors.Newf("no memory type matches filter %#x with properties %#x", typeFilter, properties)
}

func (g *GPU) allocate(reqs vk.MemoryRequirements, usage renderer.MemoryUsage) (vk.DeviceMemory, error) {
	index, err := g.findMemoryIndex(reqs.MemoryTypeBits, memoryProperties(usage))
	if err != nil && usage == renderer.MemoryGPUOnly {
		// Integrated parts may expose no pure device local type for some resources.
		index, err = g.findMemoryIndex(reqs.MemoryTypeBits, 0)
	}
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(g.device, &info, g.allocator, &mem); res != vk.Success {
		return vk.NullDeviceMemory, resultError(res, "failed to allocate %d bytes", reqs.Size)
	}
	return mem, nil
}
