// Package vkframegraph: this file implements the §6.2 Backend→Planner
// contract. Backend is the single entry point the planner holds: it wires
// the instance/device bring-up in device.go to every component package
// (internal/alloc, internal/registry, internal/shaderlib, internal/rescmd,
// internal/encodermgr) and exposes their combined surface as one object.
//
// Grounded on engine/engine.go's Engine/engine struct-interface pairing and
// its handleRender's defer/recover boundary, and on
// engine/engine_builder.go's functional-option construction, applied here to
// Vulkan device bring-up instead of the render loop.
package vkframegraph

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/alloc"
	"github.com/oxygraph/vkframegraph/internal/encodermgr"
	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/pipeline"
	"github.com/oxygraph/vkframegraph/internal/registry"
	"github.com/oxygraph/vkframegraph/internal/rescmd"
	"github.com/oxygraph/vkframegraph/internal/shaderlib"
	"github.com/oxygraph/vkframegraph/internal/spirv"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vklog"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// defaultArgumentBufferPoolSize bounds the transient descriptor pool
// backend.go allocates for the registry (§9 "descriptor-pool exhaustion ...
// allocate another pool of the configured size on demand" - the registry's
// own pool is sized generously up front instead, since its sets are all
// argument buffers and draw-call counts per frame are bounded in practice).
const defaultArgumentBufferPoolSize = 4096

// defaultMaxInflightFrames is how many frames' worth of transient
// allocations the pool allocator keeps distinct before reclaiming, per §5 "Frame N's cycle_frames happens-before any
// subsequent allocate_* call".
const defaultMaxInflightFrames = 3

// Backend is the Backend→Planner contract (§6.2): the object a planner
// constructs once per Vulkan device and drives one frame at a time through
// BeginFrameResourceAccess / ExecuteFrameGraph / the registry's materialize
// and dispose calls.
type Backend interface {
	// BeginFrameResourceAccess resets per-frame bookkeeping before the
	// planner starts recording a new frame's passes.
	BeginFrameResourceAccess()

	// RegisterWindowTexture registers handle as backed by a swapchain image
	// the backend does not own (§4.4).
	RegisterWindowTexture(handle gfx.ResourceHandle, image vk.Image, view vk.ImageView, desc gfx.TextureDescriptor, layout vk.ImageLayout)

	// MaterializePersistentTexture allocates handle's backing texture if it
	// does not already exist, asserting compatibility otherwise (§4.4).
	MaterializePersistentTexture(handle gfx.ResourceHandle, desc gfx.TextureDescriptor, initialLayout vk.ImageLayout) error

	// MaterializePersistentBuffer allocates handle's backing buffer if it
	// does not already exist, asserting sufficient size otherwise (§4.4).
	MaterializePersistentBuffer(handle gfx.ResourceHandle, desc gfx.BufferDescriptor) error

	// BufferContents returns a writable pointer over byteRange of handle's
	// buffer, staging it if the buffer has no backing yet (§4.4).
	BufferContents(handle gfx.ResourceHandle, byteRange spirv.ByteRange) (unsafe.Pointer, error)

	// BufferDidModifyRange flushes a previously returned BufferContents
	// pointer (§4.4).
	BufferDidModifyRange(handle gfx.ResourceHandle, byteRange spirv.ByteRange) error

	// ReplaceTextureRegion is accepted by the contract but intentionally
	// unimplemented (§9 Open Questions).
	ReplaceTextureRegion(handle gfx.ResourceHandle, mipLevel, slice uint32, region vk.Rect2D, data []byte, bytesPerRow, bytesPerImage uint32) error

	// DisposeTexture returns handle's backing to the allocator.
	DisposeTexture(handle gfx.ResourceHandle) error
	// DisposeBuffer returns handle's backing to the allocator.
	DisposeBuffer(handle gfx.ResourceHandle) error
	// DisposeArgumentBuffer destroys handle's descriptor-set allocation
	// record.
	DisposeArgumentBuffer(handle gfx.ArgumentBufferHandle) error
	// DisposeArgumentBufferArray disposes every handle in handles.
	DisposeArgumentBufferArray(handles []gfx.ArgumentBufferHandle) error

	// BackingResource returns the realized Vulkan object for handle.
	BackingResource(handle gfx.ResourceHandle) (any, bool)

	// IsDepth24Stencil8Supported reports whether the selected physical
	// device supports the D24_UNORM_S8_UINT depth-stencil format with
	// optimal-tiling attachment usage.
	IsDepth24Stencil8Supported() bool
	// ThreadExecutionWidth returns a vendor-keyed warp/wavefront width: 64 on
	// AMD devices, 32 on every other vendor. The device's subgroup size is
	// not queried.
	ThreadExecutionWidth() uint32
	// RenderDevice returns the selected physical device's name.
	RenderDevice() string
	// MaxInflightFrames returns how many frames-in-flight the pool
	// allocator is configured to track.
	MaxInflightFrames() int

	// ExecuteFrameGraph drives the Encoder Manager over one frame's passes,
	// resource-usage table, and command stream, invoking completion once
	// every touched queue's submission has signalled (§6.2, §4.11).
	ExecuteFrameGraph(passes []gfx.Pass, usage gfx.ResourceUsageTable, commands []gfx.Command, completion func()) (err error)

	// RenderPipelineReflection returns the merged reflection for a graphics
	// pipeline descriptor. renderTarget is accepted per the §6.2 surface but
	// does not affect reflection (only the render pass/pixel formats it
	// feeds into pipeline creation do).
	RenderPipelineReflection(desc *gfx.RenderPipelineDescriptor, renderTarget *gfx.RenderTargetRequest) (*pipeline.PipelineReflection, error)
	// ComputePipelineReflection returns the merged reflection for a compute
	// pipeline descriptor.
	ComputePipelineReflection(desc *gfx.ComputePipelineDescriptor) (*pipeline.PipelineReflection, error)

	// BindingPath resolves a shader argument name to its packed binding
	// path against refl (§6.2).
	BindingPath(refl *pipeline.PipelineReflection, argumentName string, arrayIndex int, argumentBufferPath *gfx.BindingPath) (gfx.BindingPath, bool)
	// BindingPathForArgumentBuffer resolves argumentName inside an argument
	// buffer's own reflection, returning the path to substitute a concrete
	// set id into via SubstituteArgumentBufferPath.
	BindingPathForArgumentBuffer(refl *pipeline.PipelineReflection, argumentBuffer gfx.ArgumentBufferHandle, argumentName string) (gfx.BindingPath, bool)
	// SubstituteArgumentBufferPath substitutes newArgumentBufferPath's set
	// id into pathInOriginal, preserving binding and array index (§6.2).
	SubstituteArgumentBufferPath(pathInOriginal gfx.BindingPath, newArgumentBufferPath gfx.BindingPath) gfx.BindingPath
	// ArgumentReflection looks up the argument reflection at path.
	ArgumentReflection(refl *pipeline.PipelineReflection, at gfx.BindingPath) (pipeline.ArgumentReflection, bool)
	// BindingIsActive reports whether path names a binding present in refl.
	BindingIsActive(refl *pipeline.PipelineReflection, at gfx.BindingPath) bool

	// Registry exposes the Resource Registry directly for argument-buffer
	// materialization calls the planner drives outside a frame boundary
	// (MaterializeArgumentBuffer, ArgumentBufferSet).
	Registry() *registry.Registry

	// Close tears down every Vulkan object this backend owns, in reverse
	// construction order.
	Close()
}

type backend struct {
	dev *device

	allocr *alloc.Allocator
	temp   *alloc.Temporary

	descPool vk.DescriptorPool
	reg      *registry.Registry

	lib shaderlib.Library

	events      *rescmd.EventPool
	semaphores  *rescmd.SemaphorePool
	encoderMgr  *encodermgr.Manager

	maxInflight int
	depth24Stencil8 bool
}

var _ Backend = (*backend)(nil)

// BackendBuilderOption is a functional option configuring Backend
// construction, matching engine/engine_builder.go's EngineBuilderOption
// idiom.
type BackendBuilderOption func(*backendConfig)

type backendConfig struct {
	appName          string
	surface          Surface
	debug            bool
	shaderDir        string
	maxInflight      int
	argBufferPoolSize int
}

// WithAppName sets the application name recorded in the Vulkan instance's
// ApplicationInfo.
func WithAppName(name string) BackendBuilderOption {
	return func(c *backendConfig) { c.appName = name }
}

// WithSurface supplies the platform windowing surface the instance/device
// are created to present to. Omit for a headless/offscreen backend.
func WithSurface(s Surface) BackendBuilderOption {
	return func(c *backendConfig) { c.surface = s }
}

// WithDebug enables the debug-report callback and validation layer (§6.4)
// if available.
func WithDebug(enabled bool) BackendBuilderOption {
	return func(c *backendConfig) { c.debug = enabled }
}

// WithShaderDirectory sets the directory the Shader Library scans for
// compiled .spv modules (§6.5). Required; NewBackend fails without one.
func WithShaderDirectory(dir string) BackendBuilderOption {
	return func(c *backendConfig) { c.shaderDir = dir }
}

// WithMaxInflightFrames overrides how many frames-in-flight the pool
// allocator tracks (default 3).
func WithMaxInflightFrames(n int) BackendBuilderOption {
	return func(c *backendConfig) {
		if n > 0 {
			c.maxInflight = n
		}
	}
}

// WithArgumentBufferPoolSize overrides the registry's transient descriptor
// pool size (default 4096 sets).
func WithArgumentBufferPoolSize(n int) BackendBuilderOption {
	return func(c *backendConfig) {
		if n > 0 {
			c.argBufferPoolSize = n
		}
	}
}

// NewBackend constructs a Backend: it brings up the Vulkan instance/device
// (§6.4), then every component package in dependency order (allocators,
// registry, shader library, resource-command pools, encoder manager). There
// is no package-level "current backend" singleton (§9 "Hidden global
// backend ... Model as an explicitly-passed handle").
func NewBackend(opts ...BackendBuilderOption) (_ Backend, err error) {
	defer vkutil.Recover(&err)

	cfg := &backendConfig{maxInflight: defaultMaxInflightFrames, argBufferPoolSize: defaultArgumentBufferPoolSize}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.shaderDir == "" {
		return nil, vkerr.NewInitError("new backend", fmt.Errorf("shader directory is required (WithShaderDirectory)"))
	}

	dev, err := newDevice(deviceConfig{appName: cfg.appName, surface: cfg.surface, debug: cfg.debug})
	if err != nil {
		return nil, err
	}

	b := &backend{dev: dev, maxInflight: cfg.maxInflight}

	b.allocr = alloc.New(dev.handle, dev.gpu, dev.memProps, cfg.maxInflight)
	b.temp = alloc.NewTemporary(dev.handle, dev.memProps)

	descPool, err := newArgumentBufferPool(dev.handle, cfg.argBufferPoolSize)
	if err != nil {
		dev.destroy()
		return nil, err
	}
	b.descPool = descPool
	b.reg = registry.New(dev.handle, b.allocr, b.temp, descPool)

	lib, err := shaderlib.New(dev.handle, cfg.shaderDir)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.lib = lib

	b.events = rescmd.NewEventPool(dev.handle)
	b.semaphores = rescmd.NewSemaphorePool(dev.handle)

	graphics := encodermgr.QueueConfig{Queue: dev.graphicsQueue, Family: dev.graphicsFamily}
	var compute *encodermgr.QueueConfig
	if dev.hasDedicatedCompute {
		compute = &encodermgr.QueueConfig{Queue: dev.computeQueue, Family: dev.computeFamily}
	}
	mgr, err := encodermgr.New(dev.handle, b.reg, b.lib, b.events, b.semaphores, graphics, compute)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.encoderMgr = mgr

	b.depth24Stencil8 = queryDepth24Stencil8Support(dev.gpu)

	vklog.Infof("backend: ready on %q", vk.ToString(dev.gpuProps.DeviceName[:]))
	return b, nil
}

// newArgumentBufferPool sizes one descriptor pool generously across the
// descriptor types the shader library's reflections can produce, reset
// (not destroyed) at every registry.Cycle (§9 descriptor-pool policy).
func newArgumentBufferPool(device vk.Device, maxSets int) (vk.DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: uint32(maxSets)},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: uint32(maxSets)},
		{Type: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: uint32(maxSets)},
		{Type: vk.DescriptorTypeStorageBufferDynamic, DescriptorCount: uint32(maxSets)},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: uint32(maxSets)},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: uint32(maxSets)},
		{Type: vk.DescriptorTypeSampler, DescriptorCount: uint32(maxSets)},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: uint32(maxSets)},
		{Type: vk.DescriptorTypeInputAttachment, DescriptorCount: uint32(maxSets)},
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       uint32(maxSets),
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewInitError("create argument buffer descriptor pool", vkutil.NewError(ret))
	}
	return pool, nil
}

// queryDepth24Stencil8Support checks whether the D24_UNORM_S8_UINT format
// supports optimal-tiling depth-stencil-attachment usage on gpu, the check
// RenderPipelineDescriptor.DepthStencil construction needs before selecting
// that format over D32_SFLOAT_S8_UINT.
func queryDepth24Stencil8Support(gpu vk.PhysicalDevice) bool {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(gpu, vk.FormatD24UnormS8Uint, &props)
	props.Deref()
	return props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit) != 0
}

func (b *backend) BeginFrameResourceAccess() {
	vklog.Debugf("backend: begin frame resource access")
}

func (b *backend) RegisterWindowTexture(handle gfx.ResourceHandle, image vk.Image, view vk.ImageView, desc gfx.TextureDescriptor, layout vk.ImageLayout) {
	b.reg.RegisterWindowTexture(handle, image, view, desc, layout)
}

func (b *backend) MaterializePersistentTexture(handle gfx.ResourceHandle, desc gfx.TextureDescriptor, initialLayout vk.ImageLayout) error {
	desc.Persistence = gfx.PersistencePersistent
	return b.reg.AllocateTextureIfNeeded(handle, desc, initialLayout)
}

func (b *backend) MaterializePersistentBuffer(handle gfx.ResourceHandle, desc gfx.BufferDescriptor) error {
	desc.Persistence = gfx.PersistencePersistent
	return b.reg.AllocateBufferIfNeeded(handle, desc)
}

func (b *backend) BufferContents(handle gfx.ResourceHandle, byteRange spirv.ByteRange) (unsafe.Pointer, error) {
	return b.reg.BufferContents(handle, byteRange)
}

func (b *backend) BufferDidModifyRange(handle gfx.ResourceHandle, byteRange spirv.ByteRange) error {
	return b.reg.BufferDidModifyRange(handle, byteRange)
}

func (b *backend) ReplaceTextureRegion(handle gfx.ResourceHandle, mipLevel, slice uint32, region vk.Rect2D, data []byte, bytesPerRow, bytesPerImage uint32) error {
	return b.reg.ReplaceTextureRegion(handle, mipLevel, slice, region, data, bytesPerRow, bytesPerImage)
}

func (b *backend) DisposeTexture(handle gfx.ResourceHandle) error { return b.reg.DisposeTexture(handle) }
func (b *backend) DisposeBuffer(handle gfx.ResourceHandle) error  { return b.reg.DisposeBuffer(handle) }
func (b *backend) DisposeArgumentBuffer(handle gfx.ArgumentBufferHandle) error {
	return b.reg.DisposeArgumentBuffer(handle)
}
func (b *backend) DisposeArgumentBufferArray(handles []gfx.ArgumentBufferHandle) error {
	return b.reg.DisposeArgumentBufferArray(handles)
}

func (b *backend) BackingResource(handle gfx.ResourceHandle) (any, bool) {
	return b.reg.BackingResource(handle)
}

func (b *backend) IsDepth24Stencil8Supported() bool { return b.depth24Stencil8 }

// amdVendorID is the PCI vendor id Vulkan reports for AMD GPUs, whose
// wavefront width (64) differs from the 32-wide warp/subgroup every other
// common vendor (NVIDIA, Intel, Apple's MoltenVK, mobile Arm/Qualcomm) uses.
// Querying the true value requires VK_KHR_get_physical_device_properties2,
// a 1.1-era extension outside the §6.4 "API version 1.0" target, so this is
// the same vendor-keyed heuristic 4ydx-demos/vulkandraw and
// christerso-vulkan-go fall back to absent that extension.
const amdVendorID uint32 = 0x1002

func (b *backend) ThreadExecutionWidth() uint32 {
	if b.dev.gpuProps.VendorID == amdVendorID {
		return 64
	}
	return 32
}

func (b *backend) RenderDevice() string {
	return vk.ToString(b.dev.gpuProps.DeviceName[:])
}

func (b *backend) MaxInflightFrames() int { return b.maxInflight }

// ExecuteFrameGraph delegates to the Encoder Manager (C11), recovering any
// panic raised below the encoder level at this outward boundary (§7
// "encoders assert-and-abort (panic) ... recovered only at the outward
// Backend boundary").
func (b *backend) ExecuteFrameGraph(passes []gfx.Pass, usage gfx.ResourceUsageTable, commands []gfx.Command, completion func()) (err error) {
	defer vkutil.Recover(&err)
	if err := b.encoderMgr.ExecuteFrameGraph(passes, usage, commands, completion); err != nil {
		return err
	}
	return nil
}

func (b *backend) RenderPipelineReflection(desc *gfx.RenderPipelineDescriptor, renderTarget *gfx.RenderTargetRequest) (*pipeline.PipelineReflection, error) {
	key := pipeline.PipelineKey{VertexFunction: desc.VertexFunction, FragmentFunction: desc.FragmentFunction}
	return b.lib.ReflectionFor(key)
}

func (b *backend) ComputePipelineReflection(desc *gfx.ComputePipelineDescriptor) (*pipeline.PipelineReflection, error) {
	key := pipeline.PipelineKey{ComputeFunction: desc.Function}
	return b.lib.ReflectionFor(key)
}

func (b *backend) BindingPath(refl *pipeline.PipelineReflection, argumentName string, arrayIndex int, argumentBufferPath *gfx.BindingPath) (gfx.BindingPath, bool) {
	if refl == nil {
		return gfx.BindingPath(0), false
	}
	return refl.BindingPath(argumentName, arrayIndex, argumentBufferPath)
}

// BindingPathForArgumentBuffer resolves argumentName against the argument
// buffer's own declared entries (§6.2 "binding path(argument buffer,
// argument name)"), not the shader pipeline's reflection — refl plays no
// part here, since an argument buffer's layout is declared by its own
// gfx.ArgumentBufferDescriptor, independent of which pipeline later binds
// it.
func (b *backend) BindingPathForArgumentBuffer(refl *pipeline.PipelineReflection, argumentBuffer gfx.ArgumentBufferHandle, argumentName string) (gfx.BindingPath, bool) {
	desc, ok := b.reg.ArgumentBufferDescriptor(argumentBuffer)
	if !ok {
		return gfx.BindingPath(0), false
	}
	for _, e := range desc.Entries {
		if e.Name == argumentName {
			return gfx.PackBindingPath(e.Set, e.Binding, 0), true
		}
	}
	return gfx.BindingPath(0), false
}

func (b *backend) SubstituteArgumentBufferPath(pathInOriginal gfx.BindingPath, newArgumentBufferPath gfx.BindingPath) gfx.BindingPath {
	return pathInOriginal.SubstituteSet(newArgumentBufferPath.Set())
}

func (b *backend) ArgumentReflection(refl *pipeline.PipelineReflection, at gfx.BindingPath) (pipeline.ArgumentReflection, bool) {
	if refl == nil {
		return pipeline.ArgumentReflection{}, false
	}
	return refl.ArgumentReflectionAt(at)
}

func (b *backend) BindingIsActive(refl *pipeline.PipelineReflection, at gfx.BindingPath) bool {
	if refl == nil {
		return false
	}
	return refl.BindingIsActive(at)
}

func (b *backend) Registry() *registry.Registry { return b.reg }

// Close tears down the Vulkan objects this backend owns: the encoder
// manager and its command pools/fences, the event and semaphore pools, the
// shader library's modules, the temporary allocator's blocks, the
// argument-buffer descriptor pool, and finally the instance/device itself
// (device.go's destroy).
func (b *backend) Close() {
	if b.encoderMgr != nil {
		b.encoderMgr.Close()
	}
	if b.events != nil {
		b.events.Close()
	}
	if b.semaphores != nil {
		b.semaphores.Close()
	}
	if b.lib != nil {
		b.lib.Close()
	}
	if b.temp != nil {
		b.temp.Close()
	}
	if b.descPool != nil {
		vk.DestroyDescriptorPool(b.dev.handle, b.descPool, nil)
	}
	b.dev.destroy()
}
