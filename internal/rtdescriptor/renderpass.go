package rtdescriptor

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// ViewSource is the registry surface this package needs to materialize a
// framebuffer: a cached, aspect/mip/layer-scoped image view per attachment
// texture (§4.7 "framebuffer ... referencing the registry's image-view
// cache").
type ViewSource interface {
	ImageView(handle gfx.ResourceHandle, aspect vk.ImageAspectFlags, baseMip, mipCount, baseLayer, layerCount uint32, format vk.Format) (vk.ImageView, error)
}

// RenderPass is a realized vk.RenderPass paired with the vk.Framebuffer
// built against its attachment set, plus enough of the Descriptor to know
// how to rebuild or dispose of it (§4.7).
type RenderPass struct {
	device      vk.Device
	Handle      vk.RenderPass
	Framebuffer vk.Framebuffer
	Descriptor  *Descriptor
}

// BuildRenderPass translates a Descriptor (C6's output) into a
// vk.RenderPass: one vk.AttachmentDescription per AttachmentPlan, one
// vk.SubpassDescription per SubpassPlan, and the derived subpass
// dependencies (§4.7). This is the structural shape of
// other_examples' vulkan-go-asche CoreRenderPass.CreateRenderPass, widened
// from a single fixed color+depth subpass to an arbitrary multi-subpass
// group.
func BuildRenderPass(device vk.Device, desc *Descriptor) (*RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		attachments[i] = vk.AttachmentDescription{
			Format:         a.Format,
			Samples:        a.Samples,
			LoadOp:         a.LoadOp,
			StoreOp:        a.StoreOp,
			StencilLoadOp:  a.StencilLoadOp,
			StencilStoreOp: a.StencilStoreOp,
			InitialLayout:  a.InitialLayout,
			FinalLayout:    a.FinalLayout,
		}
	}

	// Reference slices must outlive the CreateRenderPass call below; keep
	// them rooted in a slice-of-slices rather than reusing one backing
	// array per subpass.
	colorRefs := make([][]vk.AttachmentReference, len(desc.Subpasses))
	inputRefs := make([][]vk.AttachmentReference, len(desc.Subpasses))
	preserves := make([][]uint32, len(desc.Subpasses))
	depthRefs := make([]vk.AttachmentReference, len(desc.Subpasses))

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, sp := range desc.Subpasses {
		for _, r := range sp.ColorRefs {
			colorRefs[i] = append(colorRefs[i], vk.AttachmentReference{Attachment: r.Index, Layout: r.Layout})
		}
		for _, r := range sp.InputRefs {
			inputRefs[i] = append(inputRefs[i], vk.AttachmentReference{Attachment: r.Index, Layout: r.Layout})
		}
		preserves[i] = append(preserves[i], sp.PreserveIndices...)

		sub := vk.SubpassDescription{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			ColorAttachmentCount:    uint32(len(colorRefs[i])),
			InputAttachmentCount:    uint32(len(inputRefs[i])),
			PreserveAttachmentCount: uint32(len(preserves[i])),
		}
		if len(colorRefs[i]) > 0 {
			sub.PColorAttachments = colorRefs[i]
		}
		if len(inputRefs[i]) > 0 {
			sub.PInputAttachments = inputRefs[i]
		}
		if len(preserves[i]) > 0 {
			sub.PPreserveAttachments = preserves[i]
		}
		if sp.DepthStencilRef != nil {
			depthRefs[i] = vk.AttachmentReference{Attachment: sp.DepthStencilRef.Index, Layout: sp.DepthStencilRef.Layout}
			sub.PDepthStencilAttachment = &depthRefs[i]
		}
		subpasses[i] = sub
	}

	createInfo := &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		SubpassCount:    uint32(len(subpasses)),
		DependencyCount: uint32(len(desc.Dependencies)),
	}
	if len(attachments) > 0 {
		createInfo.PAttachments = attachments
	}
	if len(subpasses) > 0 {
		createInfo.PSubpasses = subpasses
	}
	if len(desc.Dependencies) > 0 {
		createInfo.PDependencies = desc.Dependencies
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(device, createInfo, nil, &handle); res != vk.Success {
		return nil, vkerr.NewResourceError("create render pass", vkutil.NewError(res))
	}

	return &RenderPass{device: device, Handle: handle, Descriptor: desc}, nil
}

// AttachFramebuffer builds the vk.Framebuffer for rp against views, one
// image view per AttachmentPlan in order (§4.7).
func (rp *RenderPass) AttachFramebuffer(views ViewSource) error {
	attachmentViews := make([]vk.ImageView, len(rp.Descriptor.Attachments))
	for i, a := range rp.Descriptor.Attachments {
		aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
		if a.IsDepthStencil {
			aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit) | vk.ImageAspectFlags(vk.ImageAspectStencilBit)
		}
		view, err := views.ImageView(a.Texture, aspect, 0, 1, 0, 1, a.Format)
		if err != nil {
			return fmt.Errorf("rtdescriptor: attachment %d image view: %w", i, err)
		}
		attachmentViews[i] = view
	}

	fbCreateInfo := &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: uint32(len(attachmentViews)),
		Width:           rp.Descriptor.Extent.Width,
		Height:          rp.Descriptor.Extent.Height,
		Layers:          1,
	}
	if len(attachmentViews) > 0 {
		fbCreateInfo.PAttachments = attachmentViews
	}

	var fb vk.Framebuffer
	if res := vk.CreateFramebuffer(rp.device, fbCreateInfo, nil, &fb); res != vk.Success {
		return vkerr.NewResourceError("create framebuffer", vkutil.NewError(res))
	}
	rp.Framebuffer = fb
	return nil
}

// Destroy releases the framebuffer and render pass, in that order.
func (rp *RenderPass) Destroy() {
	if rp.Framebuffer != vk.Framebuffer(vk.NullHandle) {
		vk.DestroyFramebuffer(rp.device, rp.Framebuffer, nil)
		rp.Framebuffer = vk.Framebuffer(vk.NullHandle)
	}
	if rp.Handle != vk.RenderPass(vk.NullHandle) {
		vk.DestroyRenderPass(rp.device, rp.Handle, nil)
		rp.Handle = vk.RenderPass(vk.NullHandle)
	}
}
