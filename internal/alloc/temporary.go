package alloc

import (
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// defaultBlockSize is the size of each host-visible block the Temporary
// allocator carves staging regions from, mirroring egpu/memory.go's single
// host staging buffer but split into growable blocks instead of one
// fixed-size allocation.
const defaultBlockSize = 4 << 20

// block is one host-visible buffer the Temporary allocator carves regions
// from sub-linearly.
type block struct {
	buffer vk.Buffer
	memory vk.DeviceMemory
	mapped unsafe.Pointer
	size   uint64
	offset uint64
}

// Temporary is a sub-linear staging allocator for short-lived upload blocks
// (§4.5): Alloc carves a region from the current block's offset, growing to
// a new block on overflow; Cycle resets every block's offset to zero at
// frame boundary.
type Temporary struct {
	device   vk.Device
	memProps vk.PhysicalDeviceMemoryProperties

	mu     sync.Mutex
	blocks []*block
}

// NewTemporary constructs an empty Temporary allocator.
func NewTemporary(device vk.Device, memProps vk.PhysicalDeviceMemoryProperties) *Temporary {
	return &Temporary{device: device, memProps: memProps}
}

// Alloc carves size bytes aligned to align from a host-visible staging
// block, returning the backing buffer, the offset within it, and a pointer
// to the mapped region (already mapped for the block's lifetime).
func (t *Temporary) Alloc(size, align uint64) (vk.Buffer, uint64, unsafe.Pointer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range t.blocks {
		aligned := alignUp(b.offset, align)
		if aligned+size <= b.size {
			b.offset = aligned + size
			ptr := unsafe.Add(b.mapped, aligned)
			return b.buffer, aligned, ptr, nil
		}
	}

	blockSize := uint64(defaultBlockSize)
	if size > blockSize {
		blockSize = size
	}
	b, err := t.newBlock(blockSize)
	if err != nil {
		return nil, 0, nil, err
	}
	t.blocks = append(t.blocks, b)
	b.offset = size
	return b.buffer, 0, b.mapped, nil
}

// Cycle resets every block's carve-out offset to zero (§4.5: "on frame
// cycle, block offsets reset").
func (t *Temporary) Cycle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.blocks {
		b.offset = 0
	}
}

// Close destroys every staging block.
func (t *Temporary) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.blocks {
		vk.UnmapMemory(t.device, b.memory)
		vk.DestroyBuffer(t.device, b.buffer, nil)
		vk.FreeMemory(t.device, b.memory, nil)
	}
	t.blocks = nil
}

func (t *Temporary) newBlock(size uint64) (*block, error) {
	var buf vk.Buffer
	ret := vk.CreateBuffer(t.device, &vk.BufferCreateInfo{
		SType: vk.StructureTypeBufferCreateInfo,
		Size:  vk.DeviceSize(size),
		Usage: vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
	}, nil, &buf)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create staging buffer", vkutil.NewError(ret))
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(t.device, buf, &reqs)
	reqs.Deref()

	memType, ok := MemoryTypeIndex(t.memProps, reqs.MemoryTypeBits,
		vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if !ok {
		vk.DestroyBuffer(t.device, buf, nil)
		return nil, vkerr.NewResourceError("create staging buffer", vkutil.NewError(vk.ErrorOutOfDeviceMemory))
	}

	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(t.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem)
	if vkutil.IsError(ret) {
		vk.DestroyBuffer(t.device, buf, nil)
		return nil, vkerr.NewResourceError("allocate staging memory", vkutil.NewError(ret))
	}

	if ret := vk.BindBufferMemory(t.device, buf, mem, 0); vkutil.IsError(ret) {
		vk.DestroyBuffer(t.device, buf, nil)
		vk.FreeMemory(t.device, mem, nil)
		return nil, vkerr.NewResourceError("bind staging memory", vkutil.NewError(ret))
	}

	var mapped unsafe.Pointer
	ret = vk.MapMemory(t.device, mem, 0, vk.DeviceSize(size), 0, &mapped)
	if vkutil.IsError(ret) {
		vk.DestroyBuffer(t.device, buf, nil)
		vk.FreeMemory(t.device, mem, nil)
		return nil, vkerr.NewResourceError("map staging memory", vkutil.NewError(ret))
	}

	return &block{buffer: buf, memory: mem, mapped: mapped, size: size}, nil
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
