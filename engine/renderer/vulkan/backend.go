// Package vulkan is the renderer backend on top of Vulkan 1.2. It needs a platform surface to
// load the loader entry points and to present.
package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/cauldron/engine/core"
	"github.com/spaghettifunk/cauldron/engine/renderer"
)

const BackendName = "vulkan"

const validationLayer = "VK_LAYER_KHRONOS_validation"

type Backend struct{}

func (b *Backend) Name() string { return BackendName }

func init() {
	renderer.RegisterBackend(&Backend{})
}

func (b *Backend) Open(cfg *core.Config, surface renderer.SurfaceProvider) (renderer.GPU, error) {
	if surface == nil {
		return nil, errors.Wrap(core.ErrNotSupported, "vulkan backend needs a window surface")
	}
	procAddr := surface.InstanceProcAddr()
	if procAddr == nil {
		return nil, errors.New("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize vk")
	}

	g := &GPU{
		locks:    newQueueLockPool(),
		passes:   newRenderPassCache(),
		procAddr: procAddr,
	}
	if err := g.createInstance(cfg, surface.RequiredInstanceExtensions()); err != nil {
		return nil, err
	}
	if cfg.Validation.Enabled {
		if err := g.createDebugCallback(); err != nil {
			g.Destroy()
			return nil, err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	handle, err := surface.CreateSurface(g.instance)
	if err != nil {
		g.Destroy()
		return nil, errors.Wrap(err, "failed to create platform surface")
	}
	if handle == 0 {
		g.Destroy()
		return nil, errors.New("platform returned a null surface")
	}
	g.surface = vk.SurfaceFromPointer(handle)

	families, err := g.selectPhysicalDevice()
	if err != nil {
		g.Destroy()
		return nil, err
	}
	if err := g.createLogicalDevice(families); err != nil {
		g.Destroy()
		return nil, err
	}
	if err := g.loadTimelineProcs(); err != nil {
		g.Destroy()
		return nil, err
	}
	g.fillCaps()
	return g, nil
}

func availableLayers() ([]string, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return nil, resultError(res, "failed to enumerate instance layers")
	}
	layers := make([]vk.LayerProperties, count)
	if count > 0 {
		if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
			return nil, resultError(res, "failed to enumerate instance layers")
		}
	}
	names := make([]string, 0, count)
	for i := range layers {
		layers[i].Deref()
		names = append(names, vk.ToString(layers[i].LayerName[:]))
	}
	return names, nil
}

func (g *GPU) createInstance(cfg *core.Config, surfaceExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(cfg.AppName),
		PEngineName:        VulkanSafeString("Cauldron"),
	}
	info := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string(nil), surfaceExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		info.Flags |= 1
	}

	var layers []string
	if cfg.Validation.Enabled {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		core.LogInfo("Validation layers enabled. Enumerating...")
		available, err := availableLayers()
		if err != nil {
			return err
		}
		if !contains(available, validationLayer) {
			return errors.Newf("required validation layer is missing: %s", validationLayer)
		}
		layers = append(layers, validationLayer)
		if cfg.Validation.GPUAssisted {
			core.LogWarn("GPU assisted validation is configured through the layer settings file, not the instance")
		}
	}
	for _, e := range extensions {
		core.LogDebug("Instance extension: %s", e)
	}

	info.EnabledExtensionCount = uint32(len(extensions))
	info.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	info.EnabledLayerCount = uint32(len(layers))
	info.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&info, g.allocator, &g.instance); res != vk.Success {
		return resultError(res, "failed in creating the Vulkan Instance")
	}
	if err := vk.InitInstance(g.instance); err != nil {
		vk.DestroyInstance(g.instance, g.allocator)
		g.instance = nil
		return errors.Wrap(err, "failed to load instance functions")
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func (g *GPU) createDebugCallback() error {
	core.LogDebug("Creating Vulkan debugger...")
	info := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if res := vk.CreateDebugReportCallback(g.instance, &info, g.allocator, &dbg); res != vk.Success {
		return resultError(res, "vk.CreateDebugReportCallback failed")
	}
	g.debug = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
