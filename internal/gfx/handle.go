// Package gfx holds the abstract data model shared by every component
// package: resource handles, descriptors, binding paths, and the flat
// command stream the planner hands the backend (§3, §6.1).
package gfx

import "github.com/google/uuid"

// ResourceHandle identifies an abstract buffer or texture across the
// lifetime of the frame graph. Minted with github.com/google/uuid rather
// than an incrementing counter, matching the corpus's idiom for stable
// external identities (DESIGN.md DOMAIN STACK).
type ResourceHandle uuid.UUID

// NewResourceHandle mints a fresh handle.
func NewResourceHandle() ResourceHandle {
	return ResourceHandle(uuid.New())
}

func (h ResourceHandle) String() string { return uuid.UUID(h).String() }

// ArgumentBufferHandle identifies an abstract argument buffer.
type ArgumentBufferHandle uuid.UUID

func NewArgumentBufferHandle() ArgumentBufferHandle {
	return ArgumentBufferHandle(uuid.New())
}

func (h ArgumentBufferHandle) String() string { return uuid.UUID(h).String() }

// PushConstantSet is the reserved set id denoting push constants (§4.1,
// §6.3). It is also the sentinel high word of a push-constant BindingPath.
const PushConstantSet uint16 = 0xFFFF

// ArgumentBufferBinding is the reserved binding value that denotes "the
// argument buffer's descriptor set itself, no specific binding" (§6.3).
const ArgumentBufferBinding uint16 = 0xFFFF

// BindingPath is the 64-bit packed (set, binding, array_index) identifier
// described in §6.3: set in bits [63:48], binding in bits [47:32], array
// index in bits [31:0].
type BindingPath uint64

// PackBindingPath builds a BindingPath from its components (§8 property 3:
// binding_path_pack(set, binding, array_index) == (set<<48)|(binding<<32)|array_index).
func PackBindingPath(set, binding uint16, arrayIndex uint32) BindingPath {
	return BindingPath(uint64(set)<<48 | uint64(binding)<<32 | uint64(arrayIndex))
}

// Unpack inverts PackBindingPath.
func (p BindingPath) Unpack() (set, binding uint16, arrayIndex uint32) {
	set = uint16(p >> 48)
	binding = uint16(p >> 32)
	arrayIndex = uint32(p)
	return
}

// Set returns the packed set id.
func (p BindingPath) Set() uint16 { return uint16(p >> 48) }

// Binding returns the packed binding index.
func (p BindingPath) Binding() uint16 { return uint16(p >> 32) }

// ArrayIndex returns the packed array index.
func (p BindingPath) ArrayIndex() uint32 { return uint32(p) }

// IsPushConstant reports whether this path addresses the push-constant
// range rather than a descriptor-set binding.
func (p BindingPath) IsPushConstant() bool { return p.Set() == PushConstantSet }

// IsArgumentBuffer reports whether this path addresses an argument buffer's
// descriptor set as a whole (binding == 0xFFFF), per §6.3.
func (p BindingPath) IsArgumentBuffer() bool { return p.Binding() == ArgumentBufferBinding }

// WithArgumentBuffer returns the path denoting "the argument buffer
// descriptor set at this set id" — binding forced to the 0xFFFF sentinel.
func WithArgumentBuffer(set uint16) BindingPath {
	return PackBindingPath(set, ArgumentBufferBinding, 0)
}

// SubstituteSet returns a copy of p with its set id replaced, preserving
// binding and array index. Grounds Backend.SubstituteArgumentBufferPath
// (§6.2): "substitutes the set id" when retargeting a path found in one
// argument buffer's reflection onto the set id of another.
func (p BindingPath) SubstituteSet(newSet uint16) BindingPath {
	_, binding, arrayIndex := p.Unpack()
	return PackBindingPath(newSet, binding, arrayIndex)
}
