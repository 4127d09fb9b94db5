package rtdescriptor

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
)

type fakeLayoutSource struct {
	layouts      map[gfx.ResourceHandle]vk.ImageLayout
	windowBacked map[gfx.ResourceHandle]bool
}

func newFakeLayoutSource() *fakeLayoutSource {
	return &fakeLayoutSource{
		layouts:      make(map[gfx.ResourceHandle]vk.ImageLayout),
		windowBacked: make(map[gfx.ResourceHandle]bool),
	}
}

func (f *fakeLayoutSource) CurrentLayout(handle gfx.ResourceHandle) (vk.ImageLayout, bool) {
	l, ok := f.layouts[handle]
	return l, ok
}

func (f *fakeLayoutSource) IsWindowBacked(handle gfx.ResourceHandle) bool {
	return f.windowBacked[handle]
}

func TestBuildSinglePassClearsAndPresentsSwapchainTarget(t *testing.T) {
	color := gfx.NewResourceHandle()
	req := colorOnlyRequest(color)
	group := PassGroup{PassIndices: []int{0}, Requests: []gfx.RenderTargetRequest{*req}}

	src := newFakeLayoutSource()
	src.windowBacked[color] = true

	desc := Build(group, gfx.ResourceUsageTable{}, src)

	if len(desc.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(desc.Attachments))
	}
	a := desc.Attachments[0]
	if a.LoadOp != vk.AttachmentLoadOpClear {
		t.Errorf("expected Clear load op, got %v", a.LoadOp)
	}
	if a.StoreOp != vk.AttachmentStoreOpStore {
		t.Errorf("expected Store store op for a window-backed attachment, got %v", a.StoreOp)
	}
	if a.InitialLayout != vk.ImageLayoutUndefined {
		t.Errorf("expected Undefined initial layout for a cleared attachment, got %v", a.InitialLayout)
	}
	if a.FinalLayout != vk.ImageLayoutPresentSrcKhr {
		t.Errorf("expected PresentSrcKhr final layout for a window-backed attachment with no further consumer, got %v", a.FinalLayout)
	}

	if len(desc.Subpasses) != 1 {
		t.Fatalf("expected 1 subpass, got %d", len(desc.Subpasses))
	}
	if len(desc.Subpasses[0].ColorRefs) != 1 || desc.Subpasses[0].ColorRefs[0].Layout != vk.ImageLayoutColorAttachmentOptimal {
		t.Errorf("unexpected color refs: %+v", desc.Subpasses[0].ColorRefs)
	}
}

func TestBuildLoadsAttachmentAlreadyCarryingContents(t *testing.T) {
	color := gfx.NewResourceHandle()
	req := &gfx.RenderTargetRequest{
		ColorAttachments: []gfx.ColorAttachmentRequest{{Texture: color, Format: vk.FormatR8g8b8a8Unorm, Clear: false}},
		Extent:           gfx.Extent3D{Width: 320, Height: 240, Depth: 1},
		SampleCount:      vk.SampleCountFlagBits(vk.SampleCount1Bit),
	}
	group := PassGroup{PassIndices: []int{3}, Requests: []gfx.RenderTargetRequest{*req}}

	src := newFakeLayoutSource()
	src.layouts[color] = vk.ImageLayoutShaderReadOnlyOptimal

	usage := gfx.ResourceUsageTable{
		color: {
			Accesses: []gfx.ResourceAccess{
				{PassIndex: 5, CommandIndex: 0, Usage: gfx.UsageTypeRead, Stages: vk.PipelineStageFlagBits(vk.PipelineStageFragmentShaderBit)},
			},
		},
	}

	desc := Build(group, usage, src)
	a := desc.Attachments[0]

	if a.LoadOp != vk.AttachmentLoadOpLoad {
		t.Errorf("expected Load op for an attachment with known prior contents, got %v", a.LoadOp)
	}
	if a.InitialLayout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("expected initial layout to carry the tracked layout, got %v", a.InitialLayout)
	}
	if a.StoreOp != vk.AttachmentStoreOpStore {
		t.Errorf("expected Store since a later pass reads this attachment, got %v", a.StoreOp)
	}
	if a.FinalLayout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("expected final layout to match the next consumer's shader-read-only requirement, got %v", a.FinalLayout)
	}
}

func TestBuildMultiSubpassInputAttachmentUsesGeneralLayoutAndDependency(t *testing.T) {
	gbuffer := gfx.NewResourceHandle()
	lit := gfx.NewResourceHandle()

	pass0 := gfx.RenderTargetRequest{
		ColorAttachments: []gfx.ColorAttachmentRequest{
			{Texture: gbuffer, Format: vk.FormatR8g8b8a8Unorm, Clear: true},
		},
		Extent:      gfx.Extent3D{Width: 640, Height: 480, Depth: 1},
		SampleCount: vk.SampleCountFlagBits(vk.SampleCount1Bit),
	}
	pass1 := gfx.RenderTargetRequest{
		ColorAttachments: []gfx.ColorAttachmentRequest{
			{Texture: gbuffer, Format: vk.FormatR8g8b8a8Unorm, InputAttachment: true},
			{Texture: lit, Format: vk.FormatR8g8b8a8Unorm, Clear: true},
		},
		Extent:      gfx.Extent3D{Width: 640, Height: 480, Depth: 1},
		SampleCount: vk.SampleCountFlagBits(vk.SampleCount1Bit),
	}

	group := PassGroup{PassIndices: []int{0, 1}, Requests: []gfx.RenderTargetRequest{pass0, pass1}}
	desc := Build(group, gfx.ResourceUsageTable{}, newFakeLayoutSource())

	if len(desc.Attachments) != 2 {
		t.Fatalf("expected 2 distinct attachments, got %d", len(desc.Attachments))
	}

	sub1 := desc.Subpasses[1]
	if len(sub1.InputRefs) != 1 || sub1.InputRefs[0].Layout != vk.ImageLayoutGeneral {
		t.Fatalf("expected subpass 1 to read gbuffer as an input attachment in General layout, got %+v", sub1.InputRefs)
	}

	foundInterSubpassDependency := false
	for _, dep := range desc.Dependencies {
		if dep.SrcSubpass == 0 && dep.DstSubpass == 1 {
			foundInterSubpassDependency = true
		}
	}
	if !foundInterSubpassDependency {
		t.Errorf("expected a subpass 0 -> 1 dependency for the gbuffer write-then-read, got %+v", desc.Dependencies)
	}
}
