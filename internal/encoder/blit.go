package encoder

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/registry"
	"github.com/oxygraph/vkframegraph/internal/rescmd"
)

// BlitEncoder is the Command Encoders component's (C8) transfer-only
// implementation: copy/blit/fill/clear commands with no pipeline state at
// all, translated straight to vk.Cmd* transfer calls.
//
// Grounded on the same encoder triad as RenderEncoder/ComputeEncoder,
// narrowed to the subset of commands a blit pass ever carries.
type BlitEncoder struct {
	shared
	registry *registry.Registry
}

// NewBlitEncoder builds a BlitEncoder sharing the frame's resource registry
// and command-buffer resources.
func NewBlitEncoder(device vk.Device, reg *registry.Registry, res *CommandBufferResources) *BlitEncoder {
	return &BlitEncoder{shared: shared{device: device, res: res}, registry: reg}
}

var _ Encoder = (*BlitEncoder)(nil)

func (e *BlitEncoder) BeginPass(pass *gfx.Pass) error {
	return nil
}

func (e *BlitEncoder) ExecuteCommands(pass *gfx.Pass, commands []gfx.Command, before, after map[int][]rescmd.Command, emitter *rescmd.Emitter) error {
	cb := e.res.CommandBuffer
	for i := pass.First; i < pass.Last; i++ {
		if err := runResourceCommandsAt(emitter, cb, before, i, &e.res.Submit); err != nil {
			return err
		}
		if err := e.translate(commands[i]); err != nil {
			return fmt.Errorf("encoder: command %d: %w", i, err)
		}
		if err := runResourceCommandsAt(emitter, cb, after, i, &e.res.Submit); err != nil {
			return err
		}
	}
	return nil
}

func (e *BlitEncoder) translate(c gfx.Command) error {
	switch c.Kind {
	case gfx.CmdPushDebugGroup, gfx.CmdPopDebugGroup, gfx.CmdInsertDebugSignpost, gfx.CmdSetLabel:
		return nil
	case gfx.CmdClearRenderTargets:
		return e.clearTexture(c)
	default:
		return errUnknownCommandKind
	}
}

// clearTexture issues a vk.CmdClearColorImage or vk.CmdClearDepthStencilImage
// against the resource-command emitter's already-transitioned layout, the
// transfer-pass equivalent of a draw pass's load-op/explicit clear.
func (e *BlitEncoder) clearTexture(c gfx.Command) error {
	if c.Texture == nil {
		return errUnresolvedTexture
	}
	backing, ok := e.registry.BackingResource(*c.Texture)
	if !ok {
		return errUnresolvedTexture
	}
	img, ok := backing.(vk.Image)
	if !ok {
		return errUnresolvedTexture
	}
	layout, ok := e.registry.CurrentLayout(*c.Texture)
	if !ok {
		layout = vk.ImageLayoutTransferDstOptimal
	}

	if c.DepthStencil != nil {
		value := &vk.ClearDepthStencilValue{Depth: c.ClearDepth, Stencil: c.ClearStencil}
		rng := vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit) | vk.ImageAspectFlags(vk.ImageAspectStencilBit),
			LevelCount: 1,
			LayerCount: 1,
		}
		vk.CmdClearDepthStencilImage(e.res.CommandBuffer, img, layout, value, 1, []vk.ImageSubresourceRange{rng})
		return nil
	}

	value := vk.NewClearColorValue(c.ClearColor[:])
	rng := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	vk.CmdClearColorImage(e.res.CommandBuffer, img, layout, &value, 1, []vk.ImageSubresourceRange{rng})
	return nil
}

func (e *BlitEncoder) EndPass(pass *gfx.Pass, nextPass *gfx.Pass) (bool, error) {
	return false, nil
}

func (e *BlitEncoder) EndEncoding() error {
	return nil
}
