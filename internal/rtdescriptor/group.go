// Package rtdescriptor implements the Render-Target Descriptor (C6) and
// Render Pass Builder (C7) components: grouping consecutive compatible draw
// passes into one multi-subpass render-target descriptor, deriving
// load/store actions and layouts for each attachment, and translating the
// result into a vk.RenderPass/vk.Framebuffer pair.
//
// Grounded on wgpu_renderer_backend.go's ConfigureSurface, which caches a
// renderPassDescriptor for a compatible attachment set and rebuilds it only
// when the surface changes — the compute-once-reuse shape this package
// extends to multi-subpass grouping, since WebGPU has no subpass concept to
// imitate directly (SPEC_FULL.md §4.6). The render-pass/framebuffer struct
// assembly itself (§4.7) is grounded on other_examples' vulkan-go-asche
// CoreRenderPass.CreateRenderPass.
package rtdescriptor

import "github.com/oxygraph/vkframegraph/internal/gfx"

// PassGroup is a maximal run of consecutive draw passes sharing a
// compatible render-target attachment set (§4.6 "Groups a maximal run of
// consecutive draw passes ..."). Each request becomes one subpass, in
// order.
type PassGroup struct {
	PassIndices []int
	Requests    []gfx.RenderTargetRequest
}

// GroupDrawPasses scans an ordered pass list and splits it into maximal
// runs of consecutive gfx.PassDraw entries whose gfx.RenderTargetRequest
// descriptors are pairwise Compatible. A non-draw pass, or a draw pass
// whose request is incompatible with the group in progress, starts a new
// group (or, if not a draw pass, no group at all).
func GroupDrawPasses(passes []gfx.Pass) []PassGroup {
	var groups []PassGroup
	chainOpen := false // true while the previous pass extended the current group

	for _, p := range passes {
		if p.Kind != gfx.PassDraw {
			chainOpen = false
			continue
		}
		req, ok := p.Descriptor.(*gfx.RenderTargetRequest)
		if !ok || req == nil {
			chainOpen = false
			continue
		}

		if chainOpen {
			last := &groups[len(groups)-1]
			if lastReq := last.Requests[len(last.Requests)-1]; lastReq.Compatible(*req) {
				last.PassIndices = append(last.PassIndices, p.PassIndex)
				last.Requests = append(last.Requests, *req)
				continue
			}
		}

		groups = append(groups, PassGroup{
			PassIndices: []int{p.PassIndex},
			Requests:    []gfx.RenderTargetRequest{*req},
		})
		chainOpen = true
	}

	return groups
}
