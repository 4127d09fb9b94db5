package alloc

import (
	"sync"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// BackingBuffer is a realized buffer and the memory it is bound to.
type BackingBuffer struct {
	Buffer vk.Buffer
	Memory vk.DeviceMemory
	Desc   gfx.BufferDescriptor
}

// BackingTexture is a realized image and the memory it is bound to.
type BackingTexture struct {
	Image  vk.Image
	Memory vk.DeviceMemory
	Desc   gfx.TextureDescriptor
	Layout vk.ImageLayout
}

type depositedBuffer struct {
	b   BackingBuffer
	age int
}

type depositedTexture struct {
	t   BackingTexture
	age int
}

// poolKey groups deposited objects by the properties that decide
// compatibility at a coarse level before the finer per-descriptor scan in
// Collect{Buffer,Texture} (§4.5).
type poolKey struct {
	storage gfx.StorageMode
	sharing gfx.SharingMode
}

// Allocator is the pool-per-storage-mode sub-allocator described in §4.5:
// Collect reuses a compatible deposited object or creates a new one;
// Deposit returns an object to its pool; Cycle ages and evicts.
type Allocator struct {
	device         vk.Device
	physicalDevice vk.PhysicalDevice
	memProps       vk.PhysicalDeviceMemoryProperties

	// maxAge is keyed by whether the pool is host-visible (true) or
	// device-local (false); §4.5 defaults these to the inflight-frame count
	// and 1 respectively.
	maxAgeHostVisible int
	maxAgeDeviceLocal int

	mu       sync.Mutex
	buffers  map[poolKey][]*depositedBuffer
	textures map[poolKey][]*depositedTexture
}

// New constructs an Allocator bound to device/physicalDevice. maxInflight is
// the number of frames the host-visible pools keep an object alive before
// eviction (§4.5).
func New(device vk.Device, physicalDevice vk.PhysicalDevice, memProps vk.PhysicalDeviceMemoryProperties, maxInflight int) *Allocator {
	return &Allocator{
		device:            device,
		physicalDevice:    physicalDevice,
		memProps:          memProps,
		maxAgeHostVisible: maxInflight,
		maxAgeDeviceLocal: 1,
		buffers:           make(map[poolKey][]*depositedBuffer),
		textures:          make(map[poolKey][]*depositedTexture),
	}
}

func compatibleBuffer(have, want gfx.BufferDescriptor) bool {
	if have.Flags != want.Flags {
		return false
	}
	if have.Sharing != want.Sharing {
		return false
	}
	if have.Usage&want.Usage != want.Usage {
		return false
	}
	return have.Length >= want.Length
}

// CollectBuffer returns a deposited buffer whose descriptor is a compatible
// superset of desc, evicting it from the pool, or creates a new one (§4.5).
func (a *Allocator) CollectBuffer(desc gfx.BufferDescriptor) (BackingBuffer, error) {
	key := poolKey{storage: desc.StorageMode, sharing: desc.Sharing}

	a.mu.Lock()
	list := a.buffers[key]
	for i, d := range list {
		if compatibleBuffer(d.b.Desc, desc) {
			a.buffers[key] = append(list[:i], list[i+1:]...)
			a.mu.Unlock()
			return d.b, nil
		}
	}
	a.mu.Unlock()

	return a.createBuffer(desc)
}

// DepositBuffer returns b to its pool with its age reset (§4.5).
func (a *Allocator) DepositBuffer(b BackingBuffer) {
	key := poolKey{storage: b.Desc.StorageMode, sharing: b.Desc.Sharing}
	a.mu.Lock()
	a.buffers[key] = append(a.buffers[key], &depositedBuffer{b: b})
	a.mu.Unlock()
}

func compatibleTexture(have, want gfx.TextureDescriptor) bool {
	if have.Flags != want.Flags || have.Format != want.Format || have.Tiling != want.Tiling {
		return false
	}
	if have.Sharing != want.Sharing {
		return false
	}
	if have.Usage&want.Usage != want.Usage {
		return false
	}
	if have.SampleCount != want.SampleCount {
		return false
	}
	if have.MipCount != want.MipCount || have.ArrayLength != want.ArrayLength {
		return false
	}
	return have.Extent == want.Extent
}

// CollectTexture returns a deposited texture compatible with desc, evicting
// it from the pool, or creates a new one (§4.5).
func (a *Allocator) CollectTexture(desc gfx.TextureDescriptor) (BackingTexture, error) {
	key := poolKey{storage: desc.StorageMode, sharing: desc.Sharing}

	a.mu.Lock()
	list := a.textures[key]
	for i, d := range list {
		if compatibleTexture(d.t.Desc, desc) {
			a.textures[key] = append(list[:i], list[i+1:]...)
			a.mu.Unlock()
			return d.t, nil
		}
	}
	a.mu.Unlock()

	return a.createTexture(desc)
}

// DepositTexture returns t to its pool with its age reset (§4.5).
func (a *Allocator) DepositTexture(t BackingTexture) {
	key := poolKey{storage: t.Desc.StorageMode, sharing: t.Desc.Sharing}
	a.mu.Lock()
	a.textures[key] = append(a.textures[key], &depositedTexture{t: t})
	a.mu.Unlock()
}

// Cycle ages every deposited object by one frame and destroys any that
// exceed their pool's configured age (§4.5).
func (a *Allocator) Cycle() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, list := range a.buffers {
		maxAge := a.maxAgeDeviceLocal
		if isHostVisible(key.storage) {
			maxAge = a.maxAgeHostVisible
		}
		kept := list[:0]
		for _, d := range list {
			d.age++
			if d.age > maxAge {
				vk.DestroyBuffer(a.device, d.b.Buffer, nil)
				vk.FreeMemory(a.device, d.b.Memory, nil)
				continue
			}
			kept = append(kept, d)
		}
		a.buffers[key] = kept
	}

	for key, list := range a.textures {
		maxAge := a.maxAgeDeviceLocal
		if isHostVisible(key.storage) {
			maxAge = a.maxAgeHostVisible
		}
		kept := list[:0]
		for _, d := range list {
			d.age++
			if d.age > maxAge {
				vk.DestroyImage(a.device, d.t.Image, nil)
				vk.FreeMemory(a.device, d.t.Memory, nil)
				continue
			}
			kept = append(kept, d)
		}
		a.textures[key] = kept
	}
}

func (a *Allocator) createBuffer(desc gfx.BufferDescriptor) (BackingBuffer, error) {
	var buf vk.Buffer
	ret := vk.CreateBuffer(a.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Length),
		Usage:       bufferUsageFlags(desc.Usage),
		SharingMode: desc.Sharing.Vulkan(),
	}, nil, &buf)
	if vkutil.IsError(ret) {
		return BackingBuffer{}, vkerr.NewResourceError("create buffer", vkutil.NewError(ret))
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(a.device, buf, &reqs)
	reqs.Deref()

	memType, ok := MemoryTypeIndex(a.memProps, reqs.MemoryTypeBits, vulkanMemoryProperties(desc.StorageMode))
	if !ok {
		vk.DestroyBuffer(a.device, buf, nil)
		return BackingBuffer{}, vkerr.NewResourceError("create buffer", vkutil.NewError(vk.ErrorOutOfDeviceMemory))
	}

	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(a.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem)
	if vkutil.IsError(ret) {
		vk.DestroyBuffer(a.device, buf, nil)
		return BackingBuffer{}, vkerr.NewResourceError("allocate buffer memory", vkutil.NewError(ret))
	}

	if ret := vk.BindBufferMemory(a.device, buf, mem, 0); vkutil.IsError(ret) {
		vk.DestroyBuffer(a.device, buf, nil)
		vk.FreeMemory(a.device, mem, nil)
		return BackingBuffer{}, vkerr.NewResourceError("bind buffer memory", vkutil.NewError(ret))
	}

	return BackingBuffer{Buffer: buf, Memory: mem, Desc: desc}, nil
}

func (a *Allocator) createTexture(desc gfx.TextureDescriptor) (BackingTexture, error) {
	imageType := vk.ImageType2d
	if desc.Extent.Depth > 1 {
		imageType = vk.ImageType3d
	}

	var img vk.Image
	ret := vk.CreateImage(a.device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType,
		Format:    desc.Format,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  desc.Extent.Depth,
		},
		MipLevels:     desc.MipCount,
		ArrayLayers:   desc.ArrayLength,
		Samples:       desc.SampleCount,
		Tiling:        desc.Tiling,
		Usage:         imageUsageFlags(desc.Usage),
		SharingMode:   desc.Sharing.Vulkan(),
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if vkutil.IsError(ret) {
		return BackingTexture{}, vkerr.NewResourceError("create image", vkutil.NewError(ret))
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(a.device, img, &reqs)
	reqs.Deref()

	memType, ok := MemoryTypeIndex(a.memProps, reqs.MemoryTypeBits, vulkanMemoryProperties(desc.StorageMode))
	if !ok {
		vk.DestroyImage(a.device, img, nil)
		return BackingTexture{}, vkerr.NewResourceError("create image", vkutil.NewError(vk.ErrorOutOfDeviceMemory))
	}

	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(a.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem)
	if vkutil.IsError(ret) {
		vk.DestroyImage(a.device, img, nil)
		return BackingTexture{}, vkerr.NewResourceError("allocate image memory", vkutil.NewError(ret))
	}

	if ret := vk.BindImageMemory(a.device, img, mem, 0); vkutil.IsError(ret) {
		vk.DestroyImage(a.device, img, nil)
		vk.FreeMemory(a.device, mem, nil)
		return BackingTexture{}, vkerr.NewResourceError("bind image memory", vkutil.NewError(ret))
	}

	return BackingTexture{Image: img, Memory: mem, Desc: desc, Layout: vk.ImageLayoutUndefined}, nil
}
