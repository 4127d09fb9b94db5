package rtdescriptor

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
)

func drawPass(index int, req *gfx.RenderTargetRequest) gfx.Pass {
	return gfx.Pass{PassIndex: index, Kind: gfx.PassDraw, Descriptor: req}
}

func colorOnlyRequest(color gfx.ResourceHandle) *gfx.RenderTargetRequest {
	return &gfx.RenderTargetRequest{
		ColorAttachments: []gfx.ColorAttachmentRequest{{Texture: color, Format: vk.FormatR8g8b8a8Unorm, Clear: true}},
		Extent:           gfx.Extent3D{Width: 640, Height: 480, Depth: 1},
		SampleCount:      vk.SampleCountFlagBits(vk.SampleCount1Bit),
	}
}

func TestGroupDrawPassesMergesCompatibleConsecutivePasses(t *testing.T) {
	color := gfx.NewResourceHandle()
	passes := []gfx.Pass{
		drawPass(0, colorOnlyRequest(color)),
		drawPass(1, colorOnlyRequest(color)),
		drawPass(2, colorOnlyRequest(color)),
	}

	groups := GroupDrawPasses(passes)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if got := groups[0].PassIndices; len(got) != 3 {
		t.Fatalf("expected 3 merged passes, got %v", got)
	}
}

func TestGroupDrawPassesSplitsOnIncompatibleRequest(t *testing.T) {
	a := gfx.NewResourceHandle()
	b := gfx.NewResourceHandle()
	passes := []gfx.Pass{
		drawPass(0, colorOnlyRequest(a)),
		drawPass(1, colorOnlyRequest(b)),
	}

	groups := GroupDrawPasses(passes)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
}

func TestGroupDrawPassesSplitsAcrossInterveningComputePass(t *testing.T) {
	color := gfx.NewResourceHandle()
	passes := []gfx.Pass{
		drawPass(0, colorOnlyRequest(color)),
		{PassIndex: 1, Kind: gfx.PassCompute},
		drawPass(2, colorOnlyRequest(color)),
	}

	groups := GroupDrawPasses(passes)
	if len(groups) != 2 {
		t.Fatalf("expected a compute pass to split two otherwise-compatible draw passes, got %d groups", len(groups))
	}
	if groups[0].PassIndices[0] != 0 || groups[1].PassIndices[0] != 2 {
		t.Fatalf("unexpected pass indices: %v, %v", groups[0].PassIndices, groups[1].PassIndices)
	}
}
