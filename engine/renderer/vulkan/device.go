package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
	"github.com/spaghettifunk/cauldron/engine/renderer/metadata"
)

type deviceQueue struct {
	family uint32
	handle vk.Queue
}

// GPU is an open vulkan device. It owns the instance, the surface and the logical device.
type GPU struct {
	instance  vk.Instance
	debug     vk.DebugReportCallback
	surface   vk.Surface
	physical  vk.PhysicalDevice
	device    vk.Device
	allocator *vk.AllocationCallbacks

	properties vk.PhysicalDeviceProperties
	memory     vk.PhysicalDeviceMemoryProperties
	anisotropy bool

	caps   renderer.DeviceCaps
	queues [metadata.QueueTypeCount]deviceQueue
	locks  *queueLockPool
	passes *renderPassCache

	procAddr unsafe.Pointer
	timeline timelineProcs
}

type queueFamilyInfo struct {
	graphics uint32
	compute  uint32
	transfer uint32
}

var deviceExtensions = []string{vk.KhrSwapchainExtensionName}

func deviceExtensionNames(physical vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(physical, "", &count, nil); res != vk.Success {
		return nil, resultError(res, "failed to enumerate device extensions")
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if res := vk.EnumerateDeviceExtensionProperties(physical, "", &count, props); res != vk.Success {
			return nil, resultError(res, "failed to enumerate device extensions")
		}
	}
	names := make([]string, 0, count)
	for i := range props {
		props[i].Deref()
		names = append(names, vk.ToString(props[i].ExtensionName[:]))
	}
	return names, nil
}

func contains(list []string, name string) bool {
	for _, s := range list {
		if s == name {
			return true
		}
	}
	return false
}

// findQueueFamilies picks the first graphics family that can present, an async compute family
// without graphics, and the transfer family sharing the fewest other capabilities. Compute and
// copy fall back to the graphics family.
func findQueueFamilies(physical vk.PhysicalDevice, surface vk.Surface) (queueFamilyInfo, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(physical, &count, families)

	const none = ^uint32(0)
	info := queueFamilyInfo{graphics: none, compute: none, transfer: none}
	minTransferScore := 255
	for i := range families {
		families[i].Deref()
		flags := families[i].QueueFlags
		graphics := flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		compute := flags&vk.QueueFlags(vk.QueueComputeBit) != 0
		transfer := flags&vk.QueueFlags(vk.QueueTransferBit) != 0

		score := 0
		if graphics {
			score++
			if info.graphics == none {
				supportsPresent := vk.Bool32(vk.True)
				if surface != vk.NullSurface {
					vk.GetPhysicalDeviceSurfaceSupport(physical, uint32(i), surface, &supportsPresent)
				}
				if supportsPresent == vk.True {
					info.graphics = uint32(i)
				}
			}
		}
		if compute {
			score++
			if !graphics && info.compute == none {
				info.compute = uint32(i)
			}
		}
		// Lowest score is the most likely to be a dedicated transfer family.
		if transfer && !graphics && score < minTransferScore {
			minTransferScore = score
			info.transfer = uint32(i)
		}
	}
	if info.graphics == none {
		return info, false
	}
	if info.compute == none {
		info.compute = info.graphics
	}
	if info.transfer == none {
		info.transfer = info.graphics
	}
	return info, true
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "Integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "Discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "Virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "CPU"
	default:
		return "Unknown"
	}
}

// selectPhysicalDevice takes the first discrete GPU meeting the requirements, or the first
// suitable device of any type when there is none.
func (g *GPU) selectPhysicalDevice() (queueFamilyInfo, error) {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(g.instance, &count, nil); res != vk.Success {
		return queueFamilyInfo{}, resultError(res, "failed to enumerate physical devices")
	}
	if count == 0 {
		return queueFamilyInfo{}, errors.New("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(g.instance, &count, devices); res != vk.Success {
		return queueFamilyInfo{}, resultError(res, "failed to enumerate physical devices")
	}

	var (
		chosen   vk.PhysicalDevice
		families queueFamilyInfo
		props    vk.PhysicalDeviceProperties
	)
	for _, physical := range devices {
		var p vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physical, &p)
		p.Deref()
		name := vk.ToString(p.DeviceName[:])

		if major, minor, _ := apiVersion(p.ApiVersion); major == 1 && minor < 2 {
			core.LogInfo("Device '%s' lacks Vulkan 1.2, skipping.", name)
			continue
		}
		exts, err := deviceExtensionNames(physical)
		if err != nil {
			return queueFamilyInfo{}, err
		}
		missing := false
		for _, e := range deviceExtensions {
			if !contains(exts, e) {
				core.LogInfo("Required extension not found: '%s', skipping device '%s'.", e, name)
				missing = true
			}
		}
		if missing {
			continue
		}
		qf, ok := findQueueFamilies(physical, g.surface)
		if !ok {
			core.LogInfo("Device '%s' has no graphics queue that can present, skipping.", name)
			continue
		}
		if g.surface != vk.NullSurface {
			support, err := querySwapchainSupport(physical, g.surface)
			if err != nil || len(support.formats) == 0 || len(support.presentModes) == 0 {
				core.LogInfo("Required swapchain support not present, skipping device '%s'.", name)
				continue
			}
		}
		if chosen == nil || (props.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu && p.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu) {
			chosen, families, props = physical, qf, p
		}
	}
	if chosen == nil {
		return queueFamilyInfo{}, errors.New("no physical devices were found which meet the requirements")
	}

	g.physical = chosen
	g.properties = props
	vk.GetPhysicalDeviceMemoryProperties(chosen, &g.memory)
	g.memory.Deref()

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(chosen, &features)
	features.Deref()
	g.anisotropy = features.SamplerAnisotropy == vk.True

	major, minor, patch := apiVersion(props.ApiVersion)
	core.LogInfo("Selected device: '%s' (%s).", vk.ToString(props.DeviceName[:]), deviceTypeName(props.DeviceType))
	core.LogInfo("Vulkan API version: %d.%d.%d", major, minor, patch)
	for j := uint32(0); j < g.memory.MemoryHeapCount; j++ {
		heap := g.memory.MemoryHeaps[j]
		heap.Deref()
		sizeGib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", sizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", sizeGib)
		}
	}
	return families, nil
}

func (g *GPU) createLogicalDevice(families queueFamilyInfo) error {
	// One queue per distinct family; queue types sharing a family share the queue.
	unique := []uint32{families.graphics}
	for _, f := range []uint32{families.compute, families.transfer} {
		seen := false
		for _, u := range unique {
			seen = seen || u == f
		}
		if !seen {
			unique = append(unique, f)
		}
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(unique))
	for i, f := range unique {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions := append([]string(nil), deviceExtensions...)
	if available, err := deviceExtensionNames(g.physical); err == nil && contains(available, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	features := vk.PhysicalDeviceFeatures{}
	if g.anisotropy {
		features.SamplerAnisotropy = vk.True
	}
	timeline := vk.PhysicalDeviceTimelineSemaphoreFeatures{
		SType:             vk.StructureTypePhysicalDeviceTimelineSemaphoreFeatures,
		TimelineSemaphore: vk.True,
	}
	timelineRef, _ := timeline.PassRef()
	defer timeline.Free()

	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(timelineRef),
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}
	res := vk.CreateDevice(g.physical, &info, g.allocator, &g.device)
	if res != vk.Success {
		return resultError(res, "failed to create logical device")
	}
	core.LogInfo("Logical device created.")

	handles := make(map[uint32]vk.Queue, len(unique))
	for _, f := range unique {
		var q vk.Queue
		vk.GetDeviceQueue(g.device, f, 0, &q)
		handles[f] = q
	}
	for t, f := range map[metadata.QueueType]uint32{
		metadata.QueueGraphics: families.graphics,
		metadata.QueueCompute:  families.compute,
		metadata.QueueCopy:     families.transfer,
	} {
		g.queues[t] = deviceQueue{family: f, handle: handles[f]}
		g.caps.QueueFamilies[t] = f
	}
	core.LogDebug("Queue families: graphics %d, compute %d, copy %d", families.graphics, families.compute, families.transfer)
	return nil
}

func (g *GPU) fillCaps() {
	limits := g.properties.Limits
	limits.Deref()
	g.caps.DeviceName = vk.ToString(g.properties.DeviceName[:])
	g.caps.VendorID = g.properties.VendorID
	g.caps.MinConstantBufferAlignment = uint64(limits.MinUniformBufferOffsetAlignment)
	g.caps.MaxPushConstantsSize = limits.MaxPushConstantsSize
	g.caps.HDRSupported = false
}

func (g *GPU) Caps() renderer.DeviceCaps { return g.caps }

func (g *GPU) Submit(queue metadata.QueueType, batch *renderer.SubmitBatch) error {
	cmds := make([]vk.CommandBuffer, len(batch.CommandBuffers))
	for i, c := range batch.CommandBuffers {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return errors.Wrapf(errNotVulkan, "command buffer %T", c)
		}
		cmds[i] = cb.handle
	}

	var (
		waits       []vk.Semaphore
		waitStages  []vk.PipelineStageFlags
		waitValues  []uint64
		signals     []vk.Semaphore
		signalValue []uint64
		anyTimeline bool
	)
	for _, w := range batch.Waits {
		sem, timeline := semaphoreHandle(w.Semaphore)
		anyTimeline = anyTimeline || timeline
		waits = append(waits, sem)
		waitStages = append(waitStages, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))
		waitValues = append(waitValues, w.Value)
	}
	for _, s := range batch.Signals {
		sem, timeline := semaphoreHandle(s.Semaphore)
		anyTimeline = anyTimeline || timeline
		signals = append(signals, sem)
		signalValue = append(signalValue, s.Value)
	}

	info := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}
	// Binary semaphores ignore their entry in the value arrays.
	timelineInfo := vk.TimelineSemaphoreSubmitInfo{
		SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
		WaitSemaphoreValueCount:   uint32(len(waitValues)),
		PWaitSemaphoreValues:      waitValues,
		SignalSemaphoreValueCount: uint32(len(signalValue)),
		PSignalSemaphoreValues:    signalValue,
	}
	if anyTimeline {
		ref, _ := timelineInfo.PassRef()
		info.PNext = unsafe.Pointer(ref)
		defer timelineInfo.Free()
	}

	q := g.queues[queue]
	err := g.locks.SafeQueueCall(q.family, func() error {
		res := vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{info}, vk.NullFence)
		return resultError(res, "failed to submit to %s queue", queue)
	})
	return err
}

func (g *GPU) WaitQueueIdle(queue metadata.QueueType) error {
	q := g.queues[queue]
	return g.locks.SafeQueueCall(q.family, func() error {
		return resultError(vk.QueueWaitIdle(q.handle), "failed waiting for %s queue", queue)
	})
}

func (g *GPU) WaitIdle() error {
	return resultError(vk.DeviceWaitIdle(g.device), "failed waiting for device idle")
}

// Destroy releases the device. Every object created from it must already be destroyed.
func (g *GPU) Destroy() {
	if g.device != nil {
		vk.DeviceWaitIdle(g.device)
		g.destroyRenderPasses()
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(g.device, g.allocator)
		g.device = nil
	}
	if g.surface != vk.NullSurface {
		vk.DestroySurface(g.instance, g.surface, g.allocator)
		g.surface = vk.NullSurface
	}
	if g.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(g.instance, g.debug, g.allocator)
		g.debug = vk.NullDebugReportCallback
	}
	if g.instance != nil {
		vk.DestroyInstance(g.instance, g.allocator)
		g.instance = nil
	}
}
