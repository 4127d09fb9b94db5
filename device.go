// Package vkframegraph is the root of the Vulkan frame-graph backend: it
// wires together the Reflection Oracle through Encoder Manager components
// (internal/spirv .. internal/encodermgr) behind the §6.2 Backend→Planner
// surface, and owns the Vulkan instance/device lifecycle (§6.4) the
// component packages assume already exists.
//
// Grounded on cogentcore-core/egpu/platform.go's NewPlatform: instance
// extension/layer discovery, debug-report callback registration, physical
// device + queue family selection, logical device creation. The teacher
// itself (Carmen-Shannon/oxy-go) never opens a Vulkan device — this file's
// shape is the domain-stack analog of engine/engine_builder.go's
// builder-option construction applied to device bring-up instead of the
// render-loop engine.
package vkframegraph

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vklog"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// Surface is the external collaborator windowing/surface creation is
// expected to provide (§1 "Windowing/surface creation ... platform glue"
// stays out of scope): a realized vk.Surface this backend presents to, plus
// the platform-specific instance extension it required to build one.
type Surface interface {
	// VulkanSurface returns the realized surface, created against instance.
	VulkanSurface(instance vk.Instance) (vk.Surface, error)

	// PlatformExtension names the windowing-system surface extension this
	// surface needs enabled at instance creation (e.g.
	// "VK_KHR_win32_surface", "VK_KHR_xcb_surface").
	PlatformExtension() string
}

// device bundles the Vulkan instance/device objects and queue handles every
// component package is constructed against.
type device struct {
	instance vk.Instance
	gpu      vk.PhysicalDevice
	handle   vk.Device

	gpuProps vk.PhysicalDeviceProperties
	memProps vk.PhysicalDeviceMemoryProperties

	graphicsQueue       vk.Queue
	graphicsFamily      uint32
	computeQueue        vk.Queue
	computeFamily       uint32
	hasDedicatedCompute bool

	debugCallback vk.DebugReportCallback
	surface       vk.Surface
}

// deviceConfig configures instance/device bring-up.
type deviceConfig struct {
	appName          string
	surface          Surface
	debug            bool
	validationLayers []string
}

const validationLayerName = "VK_LAYER_KHRONOS_validation"

// newDevice creates the Vulkan instance and logical device per §6.4:
// instance creation enables the surface extension, the platform surface
// extension, and (in debug) the debug-report extension plus validation
// layer if available; device creation enables the swapchain and
// maintenance1 extensions and the independentBlend/depthClamp/
// depthBiasClamp features maintenance1-based viewport flipping and the
// render pipeline's rasterization state require.
func newDevice(cfg deviceConfig) (*device, error) {
	instanceExts := []string{"VK_KHR_surface"}
	if cfg.surface != nil {
		instanceExts = append(instanceExts, cfg.surface.PlatformExtension())
	}
	if cfg.debug {
		instanceExts = append(instanceExts, "VK_EXT_debug_report")
	}
	instanceExts = vkutil.SafeStrings(instanceExts)

	availableExts, err := instanceExtensions()
	if err != nil {
		return nil, vkerr.NewInitError("enumerate instance extensions", err)
	}
	enabledExts, missing := vkutil.Intersect(availableExts, instanceExts)
	if missing > 0 {
		vklog.Warnf("device: %d required instance extensions unavailable", missing)
	}

	var layers []string
	if cfg.debug {
		available, err := validationLayerNames()
		if err != nil {
			return nil, vkerr.NewInitError("enumerate validation layers", err)
		}
		enabled, _ := vkutil.Intersect(available, vkutil.SafeStrings([]string{validationLayerName}))
		layers = enabled
	}

	appName := cfg.appName
	if appName == "" {
		appName = "vkframegraph"
	}

	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:            vk.StructureTypeApplicationInfo,
			ApiVersion:       vk.MakeVersion(1, 0, 0),
			PApplicationName: vkutil.SafeString(appName),
			PEngineName:      vkutil.SafeString("vkframegraph"),
		},
		EnabledExtensionCount:   uint32(len(enabledExts)),
		PpEnabledExtensionNames: enabledExts,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &instance)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewInitError("create instance", vkutil.NewError(ret))
	}
	vk.InitInstance(instance)

	d := &device{instance: instance}

	if cfg.debug {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugCallback,
		}, nil, &d.debugCallback)
		if vkutil.IsError(ret) {
			vk.DestroyInstance(instance, nil)
			return nil, vkerr.NewInitError("create debug report callback", vkutil.NewError(ret))
		}
	}

	if cfg.surface != nil {
		surf, err := cfg.surface.VulkanSurface(instance)
		if err != nil {
			d.destroy()
			return nil, vkerr.NewInitError("create surface", err)
		}
		d.surface = surf
	}

	if err := d.selectPhysicalDevice(); err != nil {
		d.destroy()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.destroy()
		return nil, err
	}

	return d, nil
}

// selectPhysicalDevice picks the first enumerated GPU (§1 Non-goals name
// neither multi-GPU selection nor sparse residency as in scope) and finds
// its graphics and, if distinct, dedicated compute queue families.
func (d *device) selectPhysicalDevice() error {
	var count uint32
	ret := vk.EnumeratePhysicalDevices(d.instance, &count, nil)
	if vkutil.IsError(ret) || count == 0 {
		return vkerr.NewInitError("enumerate physical devices", fmt.Errorf("no suitable Vulkan physical device found"))
	}
	gpus := make([]vk.PhysicalDevice, count)
	ret = vk.EnumeratePhysicalDevices(d.instance, &count, gpus)
	if vkutil.IsError(ret) {
		return vkerr.NewInitError("enumerate physical devices", vkutil.NewError(ret))
	}
	d.gpu = gpus[0]

	vk.GetPhysicalDeviceProperties(d.gpu, &d.gpuProps)
	d.gpuProps.Deref()
	vk.GetPhysicalDeviceMemoryProperties(d.gpu, &d.memProps)
	d.memProps.Deref()

	var qCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.gpu, &qCount, nil)
	queueProps := make([]vk.QueueFamilyProperties, qCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.gpu, &qCount, queueProps)

	graphicsFound := false
	for i := uint32(0); i < qCount; i++ {
		queueProps[i].Deref()
		flags := queueProps[i].QueueFlags
		if !graphicsFound && flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			d.graphicsFamily = i
			graphicsFound = true
		}
	}
	if !graphicsFound {
		return vkerr.NewInitError("select queue family", fmt.Errorf("no graphics-capable queue family on physical device"))
	}

	for i := uint32(0); i < qCount; i++ {
		if i == d.graphicsFamily {
			continue
		}
		flags := queueProps[i].QueueFlags
		if flags&vk.QueueFlags(vk.QueueComputeBit) != 0 && flags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			d.computeFamily = i
			d.hasDedicatedCompute = true
			break
		}
	}

	return nil
}

// requiredDeviceExtensions is the §6.4 "Device creation enables the
// swapchain extension and the maintenance1 extension" requirement.
var requiredDeviceExtensions = []string{"VK_KHR_swapchain", "VK_KHR_maintenance1"}

func (d *device) createLogicalDevice() error {
	available, err := deviceExtensions(d.gpu)
	if err != nil {
		return vkerr.NewInitError("enumerate device extensions", err)
	}
	enabled, missing := vkutil.Intersect(available, vkutil.SafeStrings(requiredDeviceExtensions))
	if missing > 0 {
		return vkerr.NewInitError("select device extensions", fmt.Errorf("%d required device extensions unavailable (maintenance1 is mandatory per §6.4)", missing))
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.graphicsFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	if d.hasDedicatedCompute {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: d.computeFamily,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	// Features enabled per §6.4: independentBlend (per-attachment blend
	// state), depthClamp and depthBiasClamp (the render encoder's
	// rasterization state always enables a depth bias with dynamic values
	// and depth-clamp iff the depth-clip mode is "clamp", per §4.8).
	features := vk.PhysicalDeviceFeatures{
		IndependentBlend: vk.True,
		DepthClamp:       vk.True,
		DepthBiasClamp:   vk.True,
	}

	var logical vk.Device
	ret := vk.CreateDevice(d.gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
	}, nil, &logical)
	if vkutil.IsError(ret) {
		return vkerr.NewInitError("create device", vkutil.NewError(ret))
	}
	d.handle = logical

	var q vk.Queue
	vk.GetDeviceQueue(d.handle, d.graphicsFamily, 0, &q)
	d.graphicsQueue = q

	if d.hasDedicatedCompute {
		var cq vk.Queue
		vk.GetDeviceQueue(d.handle, d.computeFamily, 0, &cq)
		d.computeQueue = cq
	}

	return nil
}

func (d *device) destroy() {
	if d.handle != nil {
		vk.DeviceWaitIdle(d.handle)
		vk.DestroyDevice(d.handle, nil)
		d.handle = nil
	}
	if d.surface != nil {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = nil
	}
	if d.debugCallback != nil {
		vk.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = nil
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}

func instanceExtensions() ([]string, error) {
	var count uint32
	ret := vk.EnumerateInstanceExtensionProperties("", &count, nil)
	if vkutil.IsError(ret) {
		return nil, vkutil.NewError(ret)
	}
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateInstanceExtensionProperties("", &count, list)
	if vkutil.IsError(ret) {
		return nil, vkutil.NewError(ret)
	}
	names := make([]string, len(list))
	for i := range list {
		list[i].Deref()
		names[i] = vk.ToString(list[i].ExtensionName[:])
	}
	return names, nil
}

func deviceExtensions(gpu vk.PhysicalDevice) ([]string, error) {
	var count uint32
	ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil)
	if vkutil.IsError(ret) {
		return nil, vkutil.NewError(ret)
	}
	list := make([]vk.ExtensionProperties, count)
	ret = vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list)
	if vkutil.IsError(ret) {
		return nil, vkutil.NewError(ret)
	}
	names := make([]string, len(list))
	for i := range list {
		list[i].Deref()
		names[i] = vk.ToString(list[i].ExtensionName[:])
	}
	return names, nil
}

func validationLayerNames() ([]string, error) {
	var count uint32
	ret := vk.EnumerateInstanceLayerProperties(&count, nil)
	if vkutil.IsError(ret) {
		return nil, vkutil.NewError(ret)
	}
	list := make([]vk.LayerProperties, count)
	ret = vk.EnumerateInstanceLayerProperties(&count, list)
	if vkutil.IsError(ret) {
		return nil, vkutil.NewError(ret)
	}
	names := make([]string, len(list))
	for i := range list {
		list[i].Deref()
		names[i] = vk.ToString(list[i].LayerName[:])
	}
	return names, nil
}

// debugCallback logs Vulkan validation messages through vklog, never
// treating them as fatal (§7 "Validation warnings ... logged, never
// fatal").
func debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, layerPrefix string,
	message string, userData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		vklog.Errorf("[%s] %s", layerPrefix, message)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		vklog.Warnf("[%s] %s", layerPrefix, message)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		vklog.Warnf("[%s] (performance) %s", layerPrefix, message)
	default:
		vklog.Infof("[%s] %s", layerPrefix, message)
	}
	return vk.Bool32(vk.False)
}
