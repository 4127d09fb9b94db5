package rtdescriptor

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
)

// AttachmentRef pairs an attachment index with the image layout it is bound
// at during a particular subpass (§4.6 "subpass attachment references").
type AttachmentRef struct {
	Index  uint32
	Layout vk.ImageLayout
}

// AttachmentPlan is the derived per-attachment state for one render-target
// group (§4.6): load/store actions, initial/final layouts.
type AttachmentPlan struct {
	Texture        gfx.ResourceHandle
	Format         vk.Format
	Samples        vk.SampleCountFlagBits
	IsDepthStencil bool
	LoadOp         vk.AttachmentLoadOp
	StoreOp        vk.AttachmentStoreOp
	StencilLoadOp  vk.AttachmentLoadOp
	StencilStoreOp vk.AttachmentStoreOp
	InitialLayout  vk.ImageLayout
	FinalLayout    vk.ImageLayout
}

// SubpassPlan is one subpass's attachment references (§4.6/§4.7).
type SubpassPlan struct {
	ColorRefs       []AttachmentRef
	DepthStencilRef *AttachmentRef
	InputRefs       []AttachmentRef
	PreserveIndices []uint32
}

// Descriptor is the complete derived render-target group (C6's output,
// C7's input): attachments, subpasses, and the dependencies between them.
type Descriptor struct {
	PassIndices  []int
	Attachments  []AttachmentPlan
	Subpasses    []SubpassPlan
	Dependencies []vk.SubpassDependency
	Extent       gfx.Extent3D
	Samples      vk.SampleCountFlagBits
}

// LayoutSource is the subset of the Resource Registry (C4) this package
// reads from: the tracked current layout of a texture, and whether it is
// swapchain-backed (so the conservative final-layout fallback can pick
// present-source, per §4.6). Expressed as an interface, matching the
// teacher's struct/interface pairing, so descriptor construction is
// testable without a live registry.
type LayoutSource interface {
	CurrentLayout(handle gfx.ResourceHandle) (vk.ImageLayout, bool)
	IsWindowBacked(handle gfx.ResourceHandle) bool
}

type attachmentRecord struct {
	texture        gfx.ResourceHandle
	isDepthStencil bool
	format         vk.Format
	usedInSubpass  []bool // index by subpass position within the group
	inputInSubpass []bool
}

// Build derives the full render-target descriptor for group: per-attachment
// load/store/layout plans, per-subpass attachment references, and
// subpass/external dependencies (§4.6).
//
// usage is the resource-usage table (§6.1 item 2) used to decide whether any
// later consumer in the frame needs the attachment's contents (Store) and
// what layout the next consumer requires (Final layout).
func Build(group PassGroup, usage gfx.ResourceUsageTable, src LayoutSource) *Descriptor {
	n := len(group.Requests)
	d := &Descriptor{
		PassIndices: group.PassIndices,
		Subpasses:   make([]SubpassPlan, n),
		Extent:      group.Requests[0].Extent,
		Samples:     group.Requests[0].SampleCount,
	}

	records := collectAttachmentRecords(group)
	lastPassIndex := group.PassIndices[len(group.PassIndices)-1]

	for _, r := range records {
		d.Attachments = append(d.Attachments, buildAttachmentPlan(r, group, usage, src, lastPassIndex))
	}

	for s := 0; s < n; s++ {
		d.Subpasses[s] = buildSubpassPlan(s, records)
	}

	d.Dependencies = buildDependencies(records, d.Attachments)

	return d
}

// collectAttachmentRecords walks the group's requests in order, recording
// every distinct attachment texture the first time it is seen and which
// subpasses use/read it.
func collectAttachmentRecords(group PassGroup) []*attachmentRecord {
	n := len(group.Requests)
	var records []*attachmentRecord
	byHandle := make(map[gfx.ResourceHandle]*attachmentRecord)

	ensure := func(handle gfx.ResourceHandle, isDepthStencil bool, format vk.Format) *attachmentRecord {
		if r, ok := byHandle[handle]; ok {
			return r
		}
		r := &attachmentRecord{
			texture:        handle,
			isDepthStencil: isDepthStencil,
			format:         format,
			usedInSubpass:  make([]bool, n),
			inputInSubpass: make([]bool, n),
		}
		byHandle[handle] = r
		records = append(records, r)
		return r
	}

	for s, req := range group.Requests {
		for _, ca := range req.ColorAttachments {
			r := ensure(ca.Texture, false, ca.Format)
			r.usedInSubpass[s] = true
			if ca.InputAttachment {
				r.inputInSubpass[s] = true
			}
		}
		if req.Depth != nil {
			r := ensure(req.Depth.Texture, true, req.Depth.Format)
			r.usedInSubpass[s] = true
		}
	}

	return records
}

func (r *attachmentRecord) firstSubpass() int {
	for s, used := range r.usedInSubpass {
		if used {
			return s
		}
	}
	return 0
}

func (r *attachmentRecord) lastSubpass() int {
	last := 0
	for s, used := range r.usedInSubpass {
		if used {
			last = s
		}
	}
	return last
}

func (r *attachmentRecord) declaresClearAt(s int, requests []gfx.RenderTargetRequest) bool {
	req := requests[s]
	if r.isDepthStencil {
		return req.Depth != nil && req.Depth.Texture == r.texture && req.Depth.Clear
	}
	for _, ca := range req.ColorAttachments {
		if ca.Texture == r.texture {
			return ca.Clear
		}
	}
	return false
}

func (r *attachmentRecord) declaresStencilClearAt(s int, requests []gfx.RenderTargetRequest) bool {
	if !r.isDepthStencil {
		return false
	}
	req := requests[s]
	return req.Depth != nil && req.Depth.Texture == r.texture && req.Depth.StencilClear
}

func buildAttachmentPlan(r *attachmentRecord, group PassGroup, usage gfx.ResourceUsageTable, src LayoutSource, lastPassIndexInGroup int) AttachmentPlan {
	plan := AttachmentPlan{
		Texture:        r.texture,
		Format:         r.format,
		Samples:        group.Requests[0].SampleCount,
		IsDepthStencil: r.isDepthStencil,
	}

	currentLayout, hasLayout := src.CurrentLayout(r.texture)
	if !hasLayout {
		currentLayout = vk.ImageLayoutUndefined
	}

	first := r.firstSubpass()
	declaresClear := r.declaresClearAt(first, group.Requests)

	// Load action (§4.6): Clear only if the first using subpass declares a
	// clear and the attachment isn't currently present-source; otherwise
	// Load if the attachment already carries contents from before group
	// entry, else DontCare.
	switch {
	case declaresClear && currentLayout != vk.ImageLayoutPresentSrcKhr:
		plan.LoadOp = vk.AttachmentLoadOpClear
	case hasLayout && currentLayout != vk.ImageLayoutUndefined:
		plan.LoadOp = vk.AttachmentLoadOpLoad
	default:
		plan.LoadOp = vk.AttachmentLoadOpDontCare
	}

	if r.isDepthStencil {
		switch {
		case r.declaresStencilClearAt(first, group.Requests) && currentLayout != vk.ImageLayoutPresentSrcKhr:
			plan.StencilLoadOp = vk.AttachmentLoadOpClear
		case hasLayout && currentLayout != vk.ImageLayoutUndefined:
			plan.StencilLoadOp = vk.AttachmentLoadOpLoad
		default:
			plan.StencilLoadOp = vk.AttachmentLoadOpDontCare
		}
	} else {
		plan.StencilLoadOp = plan.LoadOp
	}

	// Store action (§4.6): Store iff some consumer after the group needs the
	// contents, which a swapchain present always counts as.
	plan.StoreOp = vk.AttachmentStoreOpDontCare
	if hasLaterConsumer(usage, r.texture, lastPassIndexInGroup) || src.IsWindowBacked(r.texture) {
		plan.StoreOp = vk.AttachmentStoreOpStore
	}
	plan.StencilStoreOp = plan.StoreOp

	// Initial layout: current layout at group entry, forced to Undefined
	// when the load is DontCare (Vulkan requires the contents be treated as
	// discarded in that case).
	if plan.LoadOp == vk.AttachmentLoadOpDontCare {
		plan.InitialLayout = vk.ImageLayoutUndefined
	} else {
		plan.InitialLayout = currentLayout
	}

	// Final layout: the layout the next consumer needs, if known, else the
	// conservative defaults of §4.6.
	if layout, ok := nextConsumerLayout(usage, r.texture, lastPassIndexInGroup, r.isDepthStencil); ok {
		plan.FinalLayout = layout
	} else {
		switch {
		case r.isDepthStencil:
			plan.FinalLayout = vk.ImageLayoutGeneral
		case src.IsWindowBacked(r.texture):
			plan.FinalLayout = vk.ImageLayoutPresentSrcKhr
		default:
			plan.FinalLayout = vk.ImageLayoutColorAttachmentOptimal
		}
	}

	return plan
}

// hasLaterConsumer reports whether handle's usage record carries an access
// past afterPassIndex.
func hasLaterConsumer(usage gfx.ResourceUsageTable, handle gfx.ResourceHandle, afterPassIndex int) bool {
	rec, ok := usage[handle]
	if !ok {
		return false
	}
	for _, a := range rec.Accesses {
		if a.PassIndex > afterPassIndex {
			return true
		}
	}
	return false
}

// nextConsumerLayout finds handle's first recorded access after
// afterPassIndex and derives the image layout it requires it to be in
// (§4.6 "Final layout ... the layout required by the next consumer").
func nextConsumerLayout(usage gfx.ResourceUsageTable, handle gfx.ResourceHandle, afterPassIndex int, isDepthStencil bool) (vk.ImageLayout, bool) {
	rec, ok := usage[handle]
	if !ok {
		return 0, false
	}

	var next *gfx.ResourceAccess
	for i := range rec.Accesses {
		a := &rec.Accesses[i]
		if a.PassIndex <= afterPassIndex {
			continue
		}
		if next == nil || a.PassIndex < next.PassIndex || (a.PassIndex == next.PassIndex && a.CommandIndex < next.CommandIndex) {
			next = a
		}
	}
	if next == nil {
		return 0, false
	}

	const transferBits = vk.PipelineStageFlagBits(vk.PipelineStageTransferBit)
	const attachmentBits = vk.PipelineStageFlagBits(vk.PipelineStageColorAttachmentOutputBit) |
		vk.PipelineStageFlagBits(vk.PipelineStageEarlyFragmentTestsBit) |
		vk.PipelineStageFlagBits(vk.PipelineStageLateFragmentTestsBit)

	switch {
	case next.Stages&transferBits != 0 && next.Usage == gfx.UsageTypeWrite:
		return vk.ImageLayoutTransferDstOptimal, true
	case next.Stages&transferBits != 0:
		return vk.ImageLayoutTransferSrcOptimal, true
	case isDepthStencil && next.Stages&attachmentBits != 0:
		return vk.ImageLayoutDepthStencilAttachmentOptimal, true
	case isDepthStencil:
		// Sampled/read as an ordinary shader resource rather than bound as
		// an attachment again: §4.6's conservative "general" default.
		return vk.ImageLayoutGeneral, true
	case next.Stages&attachmentBits != 0:
		return vk.ImageLayoutColorAttachmentOptimal, true
	case next.Usage == gfx.UsageTypeRead:
		return vk.ImageLayoutShaderReadOnlyOptimal, true
	default:
		return vk.ImageLayoutGeneral, true
	}
}

// buildSubpassPlan assembles one subpass's attachment references (§4.6
// subpass inputs, §4.7 subpass descriptions): input attachments use
// `general`, write attachments use the per-type attachment-optimal layout,
// and attachments used by a later subpass but not this one are preserved.
func buildSubpassPlan(subpass int, records []*attachmentRecord) SubpassPlan {
	var plan SubpassPlan

	for idx, r := range records {
		switch {
		case r.inputInSubpass[subpass]:
			plan.InputRefs = append(plan.InputRefs, AttachmentRef{Index: uint32(idx), Layout: vk.ImageLayoutGeneral})
		case r.usedInSubpass[subpass] && r.isDepthStencil:
			ref := AttachmentRef{Index: uint32(idx), Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
			plan.DepthStencilRef = &ref
		case r.usedInSubpass[subpass]:
			plan.ColorRefs = append(plan.ColorRefs, AttachmentRef{Index: uint32(idx), Layout: vk.ImageLayoutColorAttachmentOptimal})
		case r.neededLater(subpass):
			plan.PreserveIndices = append(plan.PreserveIndices, uint32(idx))
		}
	}

	return plan
}

func (r *attachmentRecord) neededLater(subpass int) bool {
	for s := subpass + 1; s < len(r.usedInSubpass); s++ {
		if r.usedInSubpass[s] {
			return true
		}
	}
	return false
}

// buildDependencies emits a subpass dependency for every pair where a later
// subpass reads what an earlier subpass wrote, plus an EXTERNAL source
// dependency for each attachment's first use and an EXTERNAL destination
// dependency for its last (§4.6).
func buildDependencies(records []*attachmentRecord, attachments []AttachmentPlan) []vk.SubpassDependency {
	var deps []vk.SubpassDependency

	for idx, r := range records {
		plan := attachments[idx]
		var stage vk.PipelineStageFlags
		var access vk.AccessFlags
		if r.isDepthStencil {
			stage = vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit) | vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit)
			access = vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
		} else {
			stage = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
			access = vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		}

		first := r.firstSubpass()
		deps = append(deps, vk.SubpassDependency{
			SrcSubpass:      vk.SubpassExternal,
			DstSubpass:      uint32(first),
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			DstStageMask:    stage,
			SrcAccessMask:   vk.AccessFlags(vk.AccessMemoryReadBit),
			DstAccessMask:   access,
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		})

		for writer := 0; writer < len(r.usedInSubpass); writer++ {
			if !r.usedInSubpass[writer] || r.inputInSubpass[writer] {
				continue
			}
			for reader := writer + 1; reader < len(r.usedInSubpass); reader++ {
				if !r.inputInSubpass[reader] {
					continue
				}
				deps = append(deps, vk.SubpassDependency{
					SrcSubpass:      uint32(writer),
					DstSubpass:      uint32(reader),
					SrcStageMask:    stage,
					DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
					SrcAccessMask:   access,
					DstAccessMask:   vk.AccessFlags(vk.AccessInputAttachmentReadBit),
					DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
				})
			}
		}

		last := r.lastSubpass()
		dstStage := vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
		dstAccess := vk.AccessFlags(vk.AccessMemoryReadBit)
		if plan.FinalLayout == vk.ImageLayoutShaderReadOnlyOptimal || plan.FinalLayout == vk.ImageLayoutGeneral {
			dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
			dstAccess = vk.AccessFlags(vk.AccessShaderReadBit)
		}
		deps = append(deps, vk.SubpassDependency{
			SrcSubpass:      uint32(last),
			DstSubpass:      vk.SubpassExternal,
			SrcStageMask:    stage,
			DstStageMask:    dstStage,
			SrcAccessMask:   access,
			DstAccessMask:   dstAccess,
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		})
	}

	return deps
}
