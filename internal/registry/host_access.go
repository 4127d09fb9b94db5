package registry

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/spirv"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
)

// BufferContents returns a writable pointer into handle's buffer over
// byteRange. If handle already has a backing object this maps directly into
// it; otherwise a per-frame CPU staging region is carved from the temporary
// allocator, to be copied onto the buffer at first use (§4.4).
func (r *Registry) BufferContents(handle gfx.ResourceHandle, byteRange spirv.ByteRange) (unsafe.Pointer, error) {
	r.mu.Lock()
	b, ok := r.buffers[handle]
	r.mu.Unlock()
	if ok && b.mapped != nil {
		return unsafe.Add(b.mapped, byteRange.Offset), nil
	}

	stagingBuf, offset, ptr, err := r.temp.Alloc(uint64(byteRange.Span), 16)
	if err != nil {
		return nil, vkerr.NewResourceError("buffer contents", err)
	}

	r.mu.Lock()
	if !ok {
		b = &bufferEntry{}
		r.buffers[handle] = b
	}
	b.stagingBuf = stagingBuf
	b.stagingOffset = offset
	b.stagingPtr = ptr
	b.hasStaging = true
	r.mu.Unlock()

	return ptr, nil
}

// BufferDidModifyRange flushes byteRange of a previously returned
// BufferContents pointer when the buffer is mapped host-visible uncached
// memory; the mapping stays in place. Staged contents need nothing here:
// BufferContents already recorded the staging region that PendingStagedCopy
// later hands to the emitter (§4.4).
func (r *Registry) BufferDidModifyRange(handle gfx.ResourceHandle, byteRange spirv.ByteRange) error {
	r.mu.Lock()
	b, ok := r.buffers[handle]
	r.mu.Unlock()
	if !ok {
		return vkerr.NewResourceError("buffer did modify range", errUnknownHandle)
	}

	if b.mapped != nil && b.desc.StorageMode == gfx.StorageHostVisibleUncached {
		ret := vk.FlushMappedMemoryRanges(r.device, 1, []vk.MappedMemoryRange{{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: b.backing.Memory,
			Offset: vk.DeviceSize(byteRange.Offset),
			Size:   vk.DeviceSize(byteRange.Span),
		}})
		_ = ret
	}
	return nil
}

// StagedCopy describes a deferred CPU-staged write that must be applied to a
// buffer's backing once it materializes, consumed by the resource command
// emitter's MaterializeBuffer handling.
type StagedCopy struct {
	SrcBuffer vk.Buffer
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// PendingStagedCopy returns handle's staged write, if any, clearing it.
func (r *Registry) PendingStagedCopy(handle gfx.ResourceHandle, span uint64) (StagedCopy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[handle]
	if !ok || !b.hasStaging {
		return StagedCopy{}, false
	}
	b.hasStaging = false
	return StagedCopy{SrcBuffer: b.stagingBuf, SrcOffset: b.stagingOffset, Size: span}, true
}

// ReplaceTextureRegion is accepted as an interface the core supports but is
// not required to implement in the initial version (§9 Open Questions:
// "texture upload ... the contract is specified, the implementation may
// return a not-implemented error").
func (r *Registry) ReplaceTextureRegion(handle gfx.ResourceHandle, mipLevel, slice uint32, region vk.Rect2D, data []byte, bytesPerRow, bytesPerImage uint32) error {
	return vkerr.NewResourceError("replace texture region", ErrNotImplemented)
}
