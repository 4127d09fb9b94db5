package encodermgr

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/rtdescriptor"
)

func TestRoleForRoutesComputeOnlyWhenConfigured(t *testing.T) {
	m := &Manager{roles: map[QueueRole]*roleState{RoleGraphics: {}}}

	if got := m.roleFor(gfx.PassCompute); got != RoleGraphics {
		t.Fatalf("expected compute pass to fall back to graphics queue, got %v", got)
	}
	if got := m.roleFor(gfx.PassDraw); got != RoleGraphics {
		t.Fatalf("expected draw pass on graphics queue, got %v", got)
	}

	m.roles[RoleCompute] = &roleState{}
	if got := m.roleFor(gfx.PassCompute); got != RoleCompute {
		t.Fatalf("expected compute pass to route to dedicated compute queue, got %v", got)
	}
	if got := m.roleFor(gfx.PassBlit); got != RoleGraphics {
		t.Fatalf("blit passes always use the graphics queue, got %v", got)
	}
}

func TestBuildGroupIndexMapsEveryPassToItsGroup(t *testing.T) {
	req := &gfx.RenderTargetRequest{
		ColorAttachments: []gfx.ColorAttachmentRequest{{Texture: gfx.NewResourceHandle()}},
		Extent:           gfx.Extent3D{Width: 64, Height: 64, Depth: 1},
		SampleCount:      vk.SampleCount1Bit,
	}
	passes := []gfx.Pass{
		{PassIndex: 0, Kind: gfx.PassDraw, Descriptor: req},
		{PassIndex: 1, Kind: gfx.PassDraw, Descriptor: req},
		{PassIndex: 2, Kind: gfx.PassCompute},
		{PassIndex: 3, Kind: gfx.PassDraw, Descriptor: req},
	}
	groups := rtdescriptor.GroupDrawPasses(passes)

	descs, of := buildGroupIndex(groups, gfx.ResourceUsageTable{}, nopLayoutSource{})

	if len(descs) != len(groups) {
		t.Fatalf("expected %d descriptors, got %d", len(groups), len(descs))
	}
	for _, g := range groups {
		for _, pi := range g.PassIndices {
			if _, ok := of[pi]; !ok {
				t.Fatalf("pass %d missing from group index", pi)
			}
		}
	}
	if _, ok := of[2]; ok {
		t.Fatalf("compute pass 2 should not belong to any draw render-target group")
	}
}

type nopLayoutSource struct{}

func (nopLayoutSource) CurrentLayout(gfx.ResourceHandle) (vk.ImageLayout, bool) { return 0, false }
func (nopLayoutSource) IsWindowBacked(gfx.ResourceHandle) bool                  { return false }
