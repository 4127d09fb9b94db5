package rescmd

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
)

// Plan derives the before-command stack ExecuteCommands needs from a
// frame's resource-usage table (§6.1 item 2 of the Planner → Backend
// contract). The usage table records ordered accesses per resource but
// carries no pre-built barrier list, so Encoder Manager calls Plan once per
// frame before handing passes to the encoders.
//
// Only textures are considered: a buffer access never needs a layout
// transition, and execution order within one queue already serializes
// buffer read/write hazards the way the flat command stream orders them.
// isTexture lets the caller answer that question against the registry
// without Plan importing it directly, the same LayoutSource-style seam
// internal/rtdescriptor uses to stay testable without a live registry.
//
// Materialize/dispose commands are deliberately not derived here: those
// carry a BufferDesc/TextureDesc the bare ResourceUsageRecord does not, and
// are issued directly by backend.go's MaterializePersistent{Texture,Buffer}
// / Dispose* calls (§6.2) ahead of the frame those resources are used in.
func Plan(usage gfx.ResourceUsageTable, isTexture func(gfx.ResourceHandle) bool) map[int][]Command {
	before := make(map[int][]Command)

	for handle, rec := range usage {
		if !isTexture(handle) {
			continue
		}
		for i := 1; i < len(rec.Accesses); i++ {
			prev, cur := rec.Accesses[i-1], rec.Accesses[i]
			if prev.Usage == gfx.UsageTypeRead && cur.Usage == gfx.UsageTypeRead {
				continue
			}
			cmd := Command{
				CommandIndex: cur.CommandIndex,
				Kind:         KindPipelineBarrier,
				SrcStageMask: prev.Stages,
				DstStageMask: cur.Stages,
				Image: &ImageBarrier{
					Texture:    handle,
					OldLayout:  layoutForUsage(prev.Usage),
					NewLayout:  layoutForUsage(cur.Usage),
					SrcAccess:  accessForUsage(prev.Usage),
					DstAccess:  accessForUsage(cur.Usage),
					AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
					MipCount:   1,
					LayerCount: 1,
				},
			}
			before[cur.CommandIndex] = append(before[cur.CommandIndex], cmd)
		}
	}

	return before
}

// layoutForUsage maps a usage-table access kind to the image layout a
// barrier should transition to, a coarse but safe choice since the usage
// table does not distinguish sampled-image from storage-image reads.
func layoutForUsage(u gfx.UsageType) vk.ImageLayout {
	switch u {
	case gfx.UsageTypeRead:
		return vk.ImageLayoutShaderReadOnlyOptimal
	default:
		return vk.ImageLayoutGeneral
	}
}

func accessForUsage(u gfx.UsageType) vk.AccessFlagBits {
	switch u {
	case gfx.UsageTypeRead:
		return vk.AccessShaderReadBit
	case gfx.UsageTypeWrite:
		return vk.AccessShaderWriteBit
	default:
		return vk.AccessShaderReadBit | vk.AccessShaderWriteBit
	}
}
