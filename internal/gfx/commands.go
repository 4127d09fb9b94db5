package gfx

import vk "github.com/vulkan-go/vulkan"

// PassKind classifies a pass record (§6.1).
type PassKind int

const (
	PassDraw PassKind = iota
	PassCompute
	PassBlit
	PassExternalCommand
)

// Pass is one planner-supplied pass record (§6.1 item 1).
type Pass struct {
	PassIndex  int
	Kind       PassKind
	Descriptor any // *RenderTargetRequest, *ComputePassDescriptor, etc.
	First      int // [First, Last) slice into the command stream
	Last       int
}

// CommandKind enumerates the flat command stream's discriminants (§6.1
// item 3). A flat, tagged struct (rather than an interface-per-kind type
// switch) is used for the command stream itself, matching how the corpus's
// own wire-shaped structs (e.g. vulkan-go-asche's create-info literals) are
// plain data, not polymorphic interfaces — the interface boundary belongs
// at the encoder, not the command representation.
type CommandKind int

const (
	CmdClearRenderTargets CommandKind = iota
	CmdPushDebugGroup
	CmdPopDebugGroup
	CmdInsertDebugSignpost
	CmdSetLabel
	CmdSetVertexBuffer
	CmdSetVertexBufferOffset
	CmdSetArgumentBuffer
	CmdSetBytes
	CmdSetBufferOffset
	CmdSetBuffer
	CmdSetTexture
	CmdSetSamplerState
	CmdDrawPrimitives
	CmdDrawIndexedPrimitives
	CmdDispatchThreads
	CmdDispatchThreadgroups
	CmdDispatchThreadgroupsIndirect
	CmdSetViewport
	CmdSetScissor
	CmdSetFrontFacing
	CmdSetCullMode
	CmdSetDepthBias
	CmdSetDepthClipMode
	CmdSetDepthStencilDescriptor
	CmdSetStencilReference
	CmdSetRenderPipelineDescriptor
	CmdSetComputePipelineDescriptor
)

// StencilReference carries either a single reference or distinct
// front/back references (§6.1 "set stencil reference(single or front/back)").
type StencilReference struct {
	Single     bool
	Reference  uint32
	Front      uint32
	Back       uint32
}

// Command is one entry in the flat planner command stream (§6.1 item 3).
// Fields are grouped by which Kind populates them; unused fields for a
// given Kind are left zero.
type Command struct {
	Kind CommandKind

	// set vertex buffer / set buffer / set texture / set sampler state /
	// set argument buffer / set bytes / set buffer offset
	BindingPath BindingPath
	Index       int // vertex buffer slot for CmdSetVertexBuffer{,Offset}
	Buffer      *ResourceHandle
	Offset      uint64
	Range       uint64
	Texture     *ResourceHandle
	ArgBuffer   *ArgumentBufferHandle
	Sampler     *SamplerDescriptor
	Bytes       []byte
	Label       string

	// draw primitives / draw indexed primitives
	Topology      vk.PrimitiveTopology
	VertexStart   uint32
	VertexCount   uint32
	InstanceCount uint32
	BaseInstance  uint32
	IndexBuffer   *ResourceHandle
	IndexOffset   uint64
	IndexType     vk.IndexType
	IndexCount    uint32
	BaseVertex    int32

	// dispatch threads / threadgroups / threadgroups indirect
	Threads               [3]uint32
	ThreadsPerThreadgroup [3]uint32
	ThreadgroupCount      [3]uint32
	IndirectBuffer        *ResourceHandle
	IndirectOffset        uint64

	// dynamic state
	Viewport   vk.Viewport
	Scissor    vk.Rect2D
	FrontFace  vk.FrontFace
	CullMode   vk.CullModeFlagBits
	DepthBias  float32
	DepthBiasClamp      float32
	DepthBiasSlopeScale float32
	DepthClipClamp      bool // true => depth-clip mode is "clamp"
	DepthStencil        *DepthStencilDescriptor
	StencilRef          StencilReference

	// pipeline descriptors
	RenderPipeline  *RenderPipelineDescriptor
	ComputePipeline *ComputePipelineDescriptor

	// clear render targets
	ClearColor   [4]float32
	ClearDepth   float32
	ClearStencil uint32
}

// DepthStencilDescriptor is the abstract depth/stencil test configuration
// (§4.8 render encoder pipeline state; §6.1 "set depth stencil descriptor").
type DepthStencilDescriptor struct {
	DepthTestEnabled  bool
	DepthWriteEnabled bool
	DepthCompareOp    vk.CompareOp
	StencilTestEnabled bool
	Front, Back       vk.StencilOpState
}

// VertexAttribute is one vertex-input attribute (§4.8 "vertex input state
// from the vertex descriptor").
type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   vk.Format
	Offset   uint32
}

// VertexBinding is one vertex-input binding stride/rate.
type VertexBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate vk.VertexInputRate
}

// VertexDescriptor groups the vertex-input state a render pipeline is built
// with; cached the way §4.8 specifies ("vertex input state ... cached").
type VertexDescriptor struct {
	Bindings   []VertexBinding
	Attributes []VertexAttribute
}

// ColorAttachmentBlend is one per-attachment blend descriptor (§4.8 "Color
// blend from per-attachment descriptors").
type ColorAttachmentBlend struct {
	BlendEnabled bool
	SrcColor     vk.BlendFactor
	DstColor     vk.BlendFactor
	ColorOp      vk.BlendOp
	SrcAlpha     vk.BlendFactor
	DstAlpha     vk.BlendFactor
	AlphaOp      vk.BlendOp
	WriteMask    vk.ColorComponentFlagBits
}

// DepthClipMode selects whether fragments outside the depth range are
// clamped or clipped (§4.8 rasterization: "depth-clamp iff depth-clip mode
// is clamp").
type DepthClipMode int

const (
	DepthClipModeClip DepthClipMode = iota
	DepthClipModeClamp
)

// RenderPipelineDescriptor is the abstract description of a graphics
// pipeline's shader/fixed-function configuration (§4.8).
type RenderPipelineDescriptor struct {
	VertexFunction   string
	FragmentFunction string
	Vertex           VertexDescriptor
	Topology         vk.PrimitiveTopology
	CullMode         vk.CullModeFlagBits
	FrontFace        vk.FrontFace
	DepthClipMode    DepthClipMode
	RasterizationDisabled bool
	SampleShadingEnabled  bool
	AlphaToCoverageEnabled bool
	AlphaToOneEnabled      bool
	DepthStencil           *DepthStencilDescriptor
	ColorAttachments       []ColorAttachmentBlend
}

// ComputePipelineDescriptor is the abstract description of a compute
// pipeline (§4.8 compute encoder).
type ComputePipelineDescriptor struct {
	Function string
}

// UsageType classifies a resource access in the usage table (§6.1 item 2).
type UsageType int

const (
	UsageTypeRead UsageType = iota
	UsageTypeWrite
	UsageTypeReadWrite
)

// ResourceAccess is one entry in a resource's ordered access list (§6.1
// item 2): pass/command index, usage type, stages, and whether the access
// produces or consumes the resource's contents.
type ResourceAccess struct {
	PassIndex    int
	CommandIndex int
	Usage        UsageType
	Stages       vk.PipelineStageFlagBits
	Producing    bool
}

// ResourceUsageRecord is the per-resource ordered access list plus the
// last-reader/last-writer pair used to schedule barriers (§6.1 item 2).
type ResourceUsageRecord struct {
	Handle     ResourceHandle
	Accesses   []ResourceAccess
	LastReader *ResourceAccess
	LastWriter *ResourceAccess
}

// ResourceUsageTable maps an abstract resource to its ordered usage record.
type ResourceUsageTable map[ResourceHandle]*ResourceUsageRecord

// ColorAttachmentRequest is one color slot of a draw pass's render target
// (§4.6 "same attachment textures at each slot").
type ColorAttachmentRequest struct {
	Texture ResourceHandle
	Format  vk.Format
	Clear   bool
	Resolve *ResourceHandle
	// InputAttachment marks that this subpass reads the attachment back
	// (§4.6 "if a subpass reads an attachment (input attachment)").
	InputAttachment bool
}

// DepthAttachmentRequest is the optional depth/stencil slot of a draw pass's
// render target (§4.6).
type DepthAttachmentRequest struct {
	Texture      ResourceHandle
	Format       vk.Format
	Clear        bool
	StencilClear bool
}

// RenderTargetRequest is the draw pass descriptor carried by Pass.Descriptor
// when Kind is PassDraw (§4.6 "compatible" grouping key).
type RenderTargetRequest struct {
	ColorAttachments []ColorAttachmentRequest
	Depth            *DepthAttachmentRequest
	Extent           Extent3D
	SampleCount      vk.SampleCountFlagBits
}

// Compatible reports whether two render target requests share the same
// attachment textures, formats, sample count, and resolution, the grouping
// predicate of §4.6.
func (r RenderTargetRequest) Compatible(o RenderTargetRequest) bool {
	if r.Extent != o.Extent || r.SampleCount != o.SampleCount {
		return false
	}
	if len(r.ColorAttachments) != len(o.ColorAttachments) {
		return false
	}
	for i, a := range r.ColorAttachments {
		b := o.ColorAttachments[i]
		if a.Texture != b.Texture || a.Format != b.Format {
			return false
		}
	}
	if (r.Depth == nil) != (o.Depth == nil) {
		return false
	}
	if r.Depth != nil && (r.Depth.Texture != o.Depth.Texture || r.Depth.Format != o.Depth.Format) {
		return false
	}
	return true
}
