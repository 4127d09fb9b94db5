package rescmd

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
)

func TestPlanSkipsReadAfterReadAndBuffers(t *testing.T) {
	texture := gfx.ResourceHandle{}
	buffer := gfx.ResourceHandle{}
	// Distinguish the two zero-value handles the way a real frame would:
	// different UUIDs. gfx.ResourceHandle wraps uuid.UUID, so assign byte 0.
	texture[0] = 1
	buffer[0] = 2

	usage := gfx.ResourceUsageTable{
		texture: {
			Handle: texture,
			Accesses: []gfx.ResourceAccess{
				{CommandIndex: 0, Usage: gfx.UsageTypeRead, Stages: vk.PipelineStageFragmentShaderBit},
				{CommandIndex: 1, Usage: gfx.UsageTypeRead, Stages: vk.PipelineStageFragmentShaderBit},
				{CommandIndex: 2, Usage: gfx.UsageTypeWrite, Stages: vk.PipelineStageComputeShaderBit},
			},
		},
		buffer: {
			Handle: buffer,
			Accesses: []gfx.ResourceAccess{
				{CommandIndex: 0, Usage: gfx.UsageTypeRead},
				{CommandIndex: 1, Usage: gfx.UsageTypeWrite},
			},
		},
	}

	isTexture := func(h gfx.ResourceHandle) bool { return h == texture }

	before := Plan(usage, isTexture)

	if _, ok := before[1]; ok {
		t.Fatalf("read-after-read at index 1 should not emit a barrier: %+v", before[1])
	}
	cmds, ok := before[2]
	if !ok || len(cmds) != 1 {
		t.Fatalf("expected exactly one barrier at index 2, got %+v", before[2])
	}
	if cmds[0].Kind != KindPipelineBarrier || cmds[0].Image.Texture != texture {
		t.Fatalf("unexpected barrier command: %+v", cmds[0])
	}
	if cmds[0].Image.NewLayout != vk.ImageLayoutGeneral {
		t.Fatalf("write access should transition to General layout, got %v", cmds[0].Image.NewLayout)
	}
}
