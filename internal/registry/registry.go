// Package registry implements the Resource Registry component (C4): the
// mapping from abstract gfx.ResourceHandle/ArgumentBufferHandle identities to
// realized Vulkan objects, their view cache, host-visible staging, and
// frame-cycle disposal.
//
// Grounded on engine/renderer/bind_group_provider/bind_group_provider.go's
// bindGroupProvider (lazily-populated buffers/textureViews/samplers maps
// keyed by binding index, released via Release()) retargeted at Vulkan
// descriptor sets, and on cogentcore-core/egpu/memory.go's staged
// CPU-to-GPU copy idiom for BufferContents/BufferDidModifyRange.
package registry

import (
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/alloc"
	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vklog"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

type bufferEntry struct {
	desc    gfx.BufferDescriptor
	backing alloc.BackingBuffer
	mapped  unsafe.Pointer // non-nil for host-visible backings, mapped for their lifetime

	// stagingBuf/stagingOffset/stagingPtr are set when BufferContents was
	// called before a backing existed: a per-frame staging region, copied to
	// the buffer at first command-stream use (§4.4).
	stagingBuf    vk.Buffer
	stagingOffset uint64
	stagingPtr    unsafe.Pointer
	hasStaging    bool

	// waitSemaphore is the at-most-one pending-wait token described in §3
	// invariant 3: set by StoreResource, taken (and cleared) exclusively by
	// the next submission that uses this backing.
	waitSemaphore vk.Semaphore
	waitStage     vk.PipelineStageFlagBits
}

type viewKey struct {
	aspect     vk.ImageAspectFlags
	baseMip    uint32
	mipCount   uint32
	baseLayer  uint32
	layerCount uint32
	format     vk.Format
}

type textureEntry struct {
	desc         gfx.TextureDescriptor
	backing      alloc.BackingTexture
	windowBacked bool
	currentLayout vk.ImageLayout
	views        map[viewKey]vk.ImageView

	waitSemaphore vk.Semaphore
	waitStage     vk.PipelineStageFlagBits
}

type argBufferEntry struct {
	desc       gfx.ArgumentBufferDescriptor
	set        vk.DescriptorSet
	layout     vk.DescriptorSetLayout
	persistent bool
}

// Registry is the implementation of the Resource Registry (C4): the
// abstract-handle-to-backing-object map plus argument-buffer materialization
// and host staging (§4.4).
type Registry struct {
	device   vk.Device
	allocr   *alloc.Allocator
	temp     *alloc.Temporary
	descPool vk.DescriptorPool

	// mu guards reads of BackingResource after frame submission, when the
	// queue may be touched from the completion-callback thread — grounded on
	// renderer.renderer's mu *sync.Mutex guarding its pipeline cache.
	mu sync.Mutex

	buffers    map[gfx.ResourceHandle]*bufferEntry
	textures   map[gfx.ResourceHandle]*textureEntry
	argBuffers map[gfx.ArgumentBufferHandle]*argBufferEntry

	// perFrameArgBuffers lists the non-persistent argument buffers allocated
	// this frame, dropped wholesale on Cycle (§4.4 "Frame cycle").
	perFrameArgBuffers []gfx.ArgumentBufferHandle
}

// New constructs a Registry. descPool is a descriptor pool sized generously
// for argument-buffer sets; the caller (backend.go) owns its lifetime.
func New(device vk.Device, allocr *alloc.Allocator, temp *alloc.Temporary, descPool vk.DescriptorPool) *Registry {
	return &Registry{
		device:     device,
		allocr:     allocr,
		temp:       temp,
		descPool:   descPool,
		buffers:    make(map[gfx.ResourceHandle]*bufferEntry),
		textures:   make(map[gfx.ResourceHandle]*textureEntry),
		argBuffers: make(map[gfx.ArgumentBufferHandle]*argBufferEntry),
	}
}

// RegisterWindowTexture registers handle as backed by a swapchain image that
// the registry does not own: disposal is a no-op and allocation is never
// attempted for it (§4.4 "Window-texture disposal is a no-op").
func (r *Registry) RegisterWindowTexture(handle gfx.ResourceHandle, image vk.Image, view vk.ImageView, desc gfx.TextureDescriptor, layout vk.ImageLayout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.textures[handle] = &textureEntry{
		desc:          desc,
		backing:       alloc.BackingTexture{Image: image, Desc: desc, Layout: layout},
		windowBacked:  true,
		currentLayout: layout,
		views:         map[viewKey]vk.ImageView{{}: view},
	}
}

// AllocateTexture materializes handle against desc by drawing from the pool
// allocator (§4.4). A desc marked as a window handle is rejected with an
// error: swapchain images enter the registry only via RegisterWindowTexture.
func (r *Registry) AllocateTexture(handle gfx.ResourceHandle, desc gfx.TextureDescriptor, initialLayout vk.ImageLayout) error {
	if desc.Flags&gfx.FlagWindowHandle != 0 {
		return vkerr.NewResourceError("allocate texture", errWindowTextureNotRegistered)
	}

	backing, err := r.allocr.CollectTexture(desc)
	if err != nil {
		return vkerr.NewResourceError("allocate texture", err)
	}
	backing.Layout = initialLayout

	r.mu.Lock()
	r.textures[handle] = &textureEntry{desc: desc, backing: backing, currentLayout: initialLayout, views: make(map[viewKey]vk.ImageView)}
	r.mu.Unlock()
	return nil
}

// AllocateBuffer materializes handle against desc from the pool allocator
// (§4.4).
func (r *Registry) AllocateBuffer(handle gfx.ResourceHandle, desc gfx.BufferDescriptor) error {
	backing, err := r.allocr.CollectBuffer(desc)
	if err != nil {
		return vkerr.NewResourceError("allocate buffer", err)
	}

	entry := &bufferEntry{desc: desc, backing: backing}
	if err := r.mapIfHostVisible(entry); err != nil {
		return err
	}

	r.mu.Lock()
	r.buffers[handle] = entry
	r.mu.Unlock()
	return nil
}

func (r *Registry) mapIfHostVisible(e *bufferEntry) error {
	if e.desc.StorageMode == gfx.StorageDeviceLocal {
		return nil
	}
	var ptr unsafe.Pointer
	ret := vk.MapMemory(r.device, e.backing.Memory, 0, vk.DeviceSize(e.desc.Length), 0, &ptr)
	if vkutil.IsError(ret) {
		return vkerr.NewResourceError("map buffer memory", vkutil.NewError(ret))
	}
	e.mapped = ptr
	return nil
}

// AllocateTextureIfNeeded returns the existing backing for handle if present,
// asserting compatibility, otherwise allocates one (§4.4).
func (r *Registry) AllocateTextureIfNeeded(handle gfx.ResourceHandle, desc gfx.TextureDescriptor, initialLayout vk.ImageLayout) error {
	r.mu.Lock()
	existing, ok := r.textures[handle]
	r.mu.Unlock()
	if ok {
		if existing.desc.Extent != desc.Extent || existing.desc.Format != desc.Format {
			return vkerr.NewResourceError("allocate texture if needed", errIncompatibleBacking)
		}
		return nil
	}
	return r.AllocateTexture(handle, desc, initialLayout)
}

// AllocateBufferIfNeeded returns the existing backing for handle if present,
// asserting sufficient size, otherwise allocates one (§4.4).
func (r *Registry) AllocateBufferIfNeeded(handle gfx.ResourceHandle, desc gfx.BufferDescriptor) error {
	r.mu.Lock()
	existing, ok := r.buffers[handle]
	r.mu.Unlock()
	if ok {
		if existing.backing.Desc.Length < desc.Length {
			return vkerr.NewResourceError("allocate buffer if needed", errIncompatibleBacking)
		}
		return nil
	}
	return r.AllocateBuffer(handle, desc)
}

// BackingResource returns the realized Vulkan object for handle: its
// vk.Buffer or vk.Image, or (nil, false) if unknown. Guarded by mu since
// it may be read from the frame-completion background thread.
func (r *Registry) BackingResource(handle gfx.ResourceHandle) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buffers[handle]; ok {
		return b.backing.Buffer, true
	}
	if t, ok := r.textures[handle]; ok {
		return t.backing.Image, true
	}
	return nil, false
}

// TextureFormat returns the declared format of a texture handle, for
// callers (the render/compute encoders) that need to build an image view
// without already knowing the texture's format.
func (r *Registry) TextureFormat(handle gfx.ResourceHandle) (vk.Format, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.textures[handle]
	if !ok {
		return vk.FormatUndefined, false
	}
	return t.desc.Format, true
}

// IsTexture reports whether handle refers to a texture rather than a
// buffer, the seam rescmd.Plan uses to decide which resources need layout
// barriers derived from the usage table.
func (r *Registry) IsTexture(handle gfx.ResourceHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.textures[handle]
	return ok
}

// CurrentLayout returns the tracked current image layout for a texture
// handle.
func (r *Registry) CurrentLayout(handle gfx.ResourceHandle) (vk.ImageLayout, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.textures[handle]
	if !ok {
		return vk.ImageLayoutUndefined, false
	}
	return t.currentLayout, true
}

// SetCurrentLayout records a texture's layout after a transition (consumed
// by the resource command emitter after issuing a pipeline barrier).
func (r *Registry) SetCurrentLayout(handle gfx.ResourceHandle, layout vk.ImageLayout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.textures[handle]; ok {
		t.currentLayout = layout
	}
}

// SetTextureWaitSemaphore attaches sem as handle's pending-wait token (§3
// invariant 3). A backing must not carry more than one at a time; the
// caller (StoreResource) is the sole producer of this call.
func (r *Registry) SetTextureWaitSemaphore(handle gfx.ResourceHandle, sem vk.Semaphore, stage vk.PipelineStageFlagBits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.textures[handle]; ok {
		t.waitSemaphore = sem
		t.waitStage = stage
	}
}

// TakeTextureWaitSemaphore returns and clears handle's pending-wait token, if
// any. The submission that consumes it must add it to the command buffer's
// wait list (§3 invariant 3: "clear the field" after consumption).
func (r *Registry) TakeTextureWaitSemaphore(handle gfx.ResourceHandle) (vk.Semaphore, vk.PipelineStageFlagBits, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.textures[handle]
	if !ok || t.waitSemaphore == nil {
		return nil, 0, false
	}
	sem, stage := t.waitSemaphore, t.waitStage
	t.waitSemaphore = nil
	return sem, stage, true
}

// SetBufferWaitSemaphore attaches sem as handle's pending-wait token (§3
// invariant 3).
func (r *Registry) SetBufferWaitSemaphore(handle gfx.ResourceHandle, sem vk.Semaphore, stage vk.PipelineStageFlagBits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buffers[handle]; ok {
		b.waitSemaphore = sem
		b.waitStage = stage
	}
}

// TakeBufferWaitSemaphore returns and clears handle's pending-wait token, if
// any.
func (r *Registry) TakeBufferWaitSemaphore(handle gfx.ResourceHandle) (vk.Semaphore, vk.PipelineStageFlagBits, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[handle]
	if !ok || b.waitSemaphore == nil {
		return nil, 0, false
	}
	sem, stage := b.waitSemaphore, b.waitStage
	b.waitSemaphore = nil
	return sem, stage, true
}

// IsWindowBacked reports whether handle is a swapchain-backed texture
// registered via RegisterWindowTexture (§4.6 "present-source for a
// swapchain color attachment at frame end").
func (r *Registry) IsWindowBacked(handle gfx.ResourceHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.textures[handle]
	return ok && t.windowBacked
}

// ImageView returns a cached vk.ImageView for the given subresource range,
// building one on first request (§4.7 "view cache keyed by the attachment's
// slice/mip/format").
func (r *Registry) ImageView(handle gfx.ResourceHandle, aspect vk.ImageAspectFlags, baseMip, mipCount, baseLayer, layerCount uint32, format vk.Format) (vk.ImageView, error) {
	r.mu.Lock()
	t, ok := r.textures[handle]
	r.mu.Unlock()
	if !ok {
		return nil, vkerr.NewResourceError("image view", errUnknownHandle)
	}

	key := viewKey{aspect: aspect, baseMip: baseMip, mipCount: mipCount, baseLayer: baseLayer, layerCount: layerCount, format: format}

	r.mu.Lock()
	if v, ok := t.views[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	viewType := vk.ImageViewType2d
	if t.desc.ArrayLength > 1 {
		viewType = vk.ImageViewType2dArray
	}

	var view vk.ImageView
	ret := vk.CreateImageView(r.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    t.backing.Image,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   baseMip,
			LevelCount:     mipCount,
			BaseArrayLayer: baseLayer,
			LayerCount:     layerCount,
		},
	}, nil, &view)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create image view", vkutil.NewError(ret))
	}

	r.mu.Lock()
	t.views[key] = view
	r.mu.Unlock()
	return view, nil
}

// DisposeTexture returns handle's backing object to its allocator. A
// window-backed texture's disposal is a no-op since the swapchain owns it
// (§4.4).
func (r *Registry) DisposeTexture(handle gfx.ResourceHandle) error {
	r.mu.Lock()
	t, ok := r.textures[handle]
	if ok {
		delete(r.textures, handle)
	}
	r.mu.Unlock()
	if !ok {
		return vkerr.NewResourceError("dispose texture", errUnknownHandle)
	}
	if t.waitSemaphore != nil {
		return vkerr.NewResourceError("dispose texture", errWaitSemaphoreOutstanding)
	}
	if t.windowBacked {
		return nil
	}
	for _, v := range t.views {
		vk.DestroyImageView(r.device, v, nil)
	}
	r.allocr.DepositTexture(t.backing)
	return nil
}

// DisposeBuffer returns handle's backing object to its allocator.
func (r *Registry) DisposeBuffer(handle gfx.ResourceHandle) error {
	r.mu.Lock()
	b, ok := r.buffers[handle]
	if ok {
		delete(r.buffers, handle)
	}
	r.mu.Unlock()
	if !ok {
		return vkerr.NewResourceError("dispose buffer", errUnknownHandle)
	}
	if b.waitSemaphore != nil {
		return vkerr.NewResourceError("dispose buffer", errWaitSemaphoreOutstanding)
	}
	if b.mapped != nil {
		vk.UnmapMemory(r.device, b.backing.Memory)
	}
	r.allocr.DepositBuffer(b.backing)
	return nil
}

// DisposeArgumentBuffer destroys handle's descriptor set allocation record.
func (r *Registry) DisposeArgumentBuffer(handle gfx.ArgumentBufferHandle) error {
	r.mu.Lock()
	_, ok := r.argBuffers[handle]
	if ok {
		delete(r.argBuffers, handle)
	}
	r.mu.Unlock()
	if !ok {
		return vkerr.NewResourceError("dispose argument buffer", errUnknownHandle)
	}
	// Sets allocated from descPool are freed in bulk on Cycle via
	// vk.ResetDescriptorPool; individually freeing here would require the
	// pool to have been created with VK_DESCRIPTOR_POOL_CREATE_FREE_BIT_BIT,
	// which the transient per-frame pool (§9) intentionally omits.
	return nil
}

// DisposeArgumentBufferArray disposes every handle in handles.
func (r *Registry) DisposeArgumentBufferArray(handles []gfx.ArgumentBufferHandle) error {
	for _, h := range handles {
		if err := r.DisposeArgumentBuffer(h); err != nil {
			return err
		}
	}
	return nil
}

// Cycle resets the CPU staging arena, drops non-persistent argument buffers,
// cycles the pool allocator and temporary allocator, and clears swapchain
// texture registrations (§4.4 "Frame cycle").
func (r *Registry) Cycle() {
	r.mu.Lock()
	for _, h := range r.perFrameArgBuffers {
		delete(r.argBuffers, h)
	}
	r.perFrameArgBuffers = r.perFrameArgBuffers[:0]

	for h, t := range r.textures {
		if t.windowBacked {
			delete(r.textures, h)
		}
	}
	r.mu.Unlock()

	r.allocr.Cycle()
	r.temp.Cycle()
	vklog.Debugf("registry: frame cycle complete")
}
