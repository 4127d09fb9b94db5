// Package alloc implements the Resource Allocator component (C5): a
// pool-per-storage-mode sub-allocator sitting on top of raw device-memory
// allocation, plus a separate sub-linear temporary allocator for per-frame
// upload staging.
//
// Grounded on cogentcore-core/egpu/memory.go's Memory type: FindRequiredMemoryType,
// AllocMem/MakeBuffer, and the staging-buffer carve-out CopyBuffsToStaging
// does for BufferMgr allocations — the same shape, generalized from one
// fixed host/device pair to many pools keyed by storage mode and usage.
package alloc

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
)

// MemoryTypeIndex finds a memory type index satisfying typeBits (the bitmask
// from vk.MemoryRequirements.MemoryTypeBits) and required property flags.
// Grounded directly on egpu/memory.go's FindRequiredMemoryType.
func MemoryTypeIndex(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, required vk.MemoryPropertyFlagBits) (uint32, bool) {
	props.Deref()
	for i := uint32(0); i < vk.MaxMemoryTypes; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		flags := props.MemoryTypes[i].PropertyFlags
		if flags&vk.MemoryPropertyFlags(required) == vk.MemoryPropertyFlags(required) {
			return i, true
		}
	}
	return 0, false
}

// vulkanMemoryProperties maps an abstract gfx.StorageMode to the Vulkan
// memory property flags a backing allocation must satisfy.
func vulkanMemoryProperties(mode gfx.StorageMode) vk.MemoryPropertyFlagBits {
	switch mode {
	case gfx.StorageHostVisibleCached:
		return vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit)
	case gfx.StorageHostVisibleUncached:
		return vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	default:
		return vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit)
	}
}

func isHostVisible(mode gfx.StorageMode) bool {
	return mode == gfx.StorageHostVisibleCached || mode == gfx.StorageHostVisibleUncached
}

func bufferUsageFlags(hint gfx.UsageHint) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if hint&gfx.UsageShaderRead != 0 {
		flags |= vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit
	}
	if hint&gfx.UsageShaderWrite != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if hint&gfx.UsageVertexBuffer != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if hint&gfx.UsageIndexBuffer != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if hint&gfx.UsageIndirectBuffer != 0 {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	if hint&gfx.UsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if hint&gfx.UsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func imageUsageFlags(hint gfx.UsageHint) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if hint&gfx.UsageShaderRead != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if hint&gfx.UsageShaderWrite != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if hint&gfx.UsageRenderTarget != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if hint&gfx.UsageDepthStencil != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if hint&gfx.UsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if hint&gfx.UsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}
