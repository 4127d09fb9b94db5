package gfx

import vk "github.com/vulkan-go/vulkan"

// StorageMode is the abstract memory-domain hint a buffer or texture
// carries (§3 Data Model, GLOSSARY "Storage mode").
type StorageMode int

const (
	StorageHostVisibleCached StorageMode = iota
	StorageHostVisibleUncached
	StorageDeviceLocal
)

// Persistence classifies a resource's lifetime relative to frame cycling
// (§3 invariants 4-7).
type Persistence int

const (
	// PersistencePerFrame resources return to the allocator every frame
	// cycle and are never reused within the frame after deposit.
	PersistencePerFrame Persistence = iota
	// PersistencePersistent resources survive frame cycles; disposal is
	// explicit.
	PersistencePersistent
	// PersistenceWindow resources are swapchain-backed and never freed
	// through the allocator (§3 invariant 7).
	PersistenceWindow
)

// UsageHint is a bitset of how a resource will be used, independent of the
// concrete vk.*UsageFlags translation (which depends on whether it ends up
// a buffer or an image).
type UsageHint uint32

const (
	UsageShaderRead UsageHint = 1 << iota
	UsageShaderWrite
	UsageRenderTarget
	UsageDepthStencil
	UsageVertexBuffer
	UsageIndexBuffer
	UsageIndirectBuffer
	UsageTransferSrc
	UsageTransferDst
)

// SharingMode mirrors vk.SharingMode at the abstract-resource level.
type SharingMode int

const (
	SharingExclusive SharingMode = iota
	SharingConcurrent
)

func (s SharingMode) Vulkan() vk.SharingMode {
	if s == SharingConcurrent {
		return vk.SharingModeConcurrent
	}
	return vk.SharingModeExclusive
}

// AllocationFlags carries the bits of a descriptor the allocator needs to
// decide compatibility and pool placement (§4.4, §4.5).
type AllocationFlags uint32

const (
	// FlagWindowHandle marks a texture as swapchain-backed: the registry's
	// AllocateTexture rejects it, since such a texture is registered through
	// RegisterWindowTexture instead of drawn from the pool allocator (§4.4).
	FlagWindowHandle AllocationFlags = 1 << iota
	// FlagUpload marks a resource drawn from the upload (host-visible)
	// pool rather than the private (device-local) pool.
	FlagUpload
)

// Extent3D is a width/height/depth triple.
type Extent3D struct {
	Width, Height, Depth uint32
}

// BufferDescriptor is the abstract description of a buffer resource (§3).
type BufferDescriptor struct {
	Flags       AllocationFlags
	Length      uint64
	StorageMode StorageMode
	Usage       UsageHint
	Sharing     SharingMode
	Persistence Persistence
}

// TextureDescriptor is the abstract description of a texture resource (§3).
type TextureDescriptor struct {
	Flags       AllocationFlags
	Format      vk.Format
	Extent      Extent3D
	MipCount    uint32
	ArrayLength uint32
	SampleCount vk.SampleCountFlagBits
	Tiling      vk.ImageTiling
	StorageMode StorageMode
	Usage       UsageHint
	Sharing     SharingMode
	Persistence Persistence
}

// SamplerDescriptor describes a sampler (§3).
type SamplerDescriptor struct {
	MinFilter, MagFilter   vk.Filter
	MipFilter              vk.SamplerMipmapMode
	AddressModeU           vk.SamplerAddressMode
	AddressModeV           vk.SamplerAddressMode
	AddressModeW           vk.SamplerAddressMode
	CompareOp              vk.CompareOp
	CompareEnable          bool
	MaxAnisotropy          float32
	AnisotropyEnable       bool
}

// ArgumentBufferLayoutEntry is one declared resource binding inside an
// argument buffer (§3 "named, set-scoped bundle of resource bindings").
type ArgumentBufferLayoutEntry struct {
	Name         string
	Set, Binding uint16
	DescType     vk.DescriptorType
	Buffer       *ResourceHandle
	Texture      *ResourceHandle
	Sampler      *SamplerDescriptor
	Offset       uint64
	Range        uint64
}

// ArgumentBufferDescriptor describes a named, set-scoped bundle of resource
// bindings (§3).
type ArgumentBufferDescriptor struct {
	Name        string
	Set         uint16
	Persistent  bool
	Entries     []ArgumentBufferLayoutEntry
}
