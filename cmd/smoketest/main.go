// Command smoketest drives the §8 scenario 1 end-to-end case — a single
// draw pass clearing and storing an 800x600 B8G8R8A8-SRGB color attachment —
// through a real Backend, without opening an OS window. It supplies a nil
// Surface (headless) and an offscreen color texture in place of a swapchain
// image, exercising the exact frame-graph path a windowed planner would
// drive.
//
// Grounded on examples/scene.go's builder-option engine/renderer/camera
// construction sequence and banner-then-Run shape, retargeted from the
// teacher's WGPU scene demo onto this module's Backend/ExecuteFrameGraph
// surface.
package main

import (
	"fmt"
	"log"
	"sync"

	vk "github.com/vulkan-go/vulkan"

	vkframegraph "github.com/oxygraph/vkframegraph"
	"github.com/oxygraph/vkframegraph/internal/gfx"
)

func main() {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║  vkframegraph smoketest — single-pass triangle        ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")

	backend, err := vkframegraph.NewBackend(
		vkframegraph.WithAppName("vkframegraph-smoketest"),
		vkframegraph.WithShaderDirectory("cmd/smoketest/shaders"),
		vkframegraph.WithDebug(true),
	)
	if err != nil {
		log.Fatalf("new backend: %v", err)
	}
	defer backend.Close()

	colorTarget := gfx.NewResourceHandle()
	colorDesc := gfx.TextureDescriptor{
		Format:      vk.FormatB8g8r8a8Srgb,
		Extent:      gfx.Extent3D{Width: 800, Height: 600, Depth: 1},
		MipCount:    1,
		ArrayLength: 1,
		SampleCount: vk.SampleCount1Bit,
		Tiling:      vk.ImageTilingOptimal,
		StorageMode: gfx.StorageDeviceLocal,
		Usage:       gfx.UsageRenderTarget,
	}
	if err := backend.MaterializePersistentTexture(colorTarget, colorDesc, vk.ImageLayoutUndefined); err != nil {
		log.Fatalf("materialize color target: %v", err)
	}

	renderTarget := &gfx.RenderTargetRequest{
		ColorAttachments: []gfx.ColorAttachmentRequest{{
			Texture: colorTarget,
			Format:  colorDesc.Format,
			Clear:   true,
		}},
		Extent:      colorDesc.Extent,
		SampleCount: vk.SampleCount1Bit,
	}

	commands := []gfx.Command{
		{
			Kind:       gfx.CmdSetRenderPipelineDescriptor,
			RenderPipeline: &gfx.RenderPipelineDescriptor{
				VertexFunction:   "vs",
				FragmentFunction: "fs",
				Topology:         vk.PrimitiveTopologyTriangleList,
				FrontFace:        vk.FrontFaceCounterClockwise,
				CullMode:         vk.CullModeNone,
				ColorAttachments: []gfx.ColorAttachmentBlend{{WriteMask: vk.ColorComponentFlagBits(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)}},
			},
		},
		{
			Kind:        gfx.CmdDrawPrimitives,
			Topology:    vk.PrimitiveTopologyTriangleList,
			VertexStart: 0,
			VertexCount: 3,
			InstanceCount: 1,
			BaseInstance: 0,
		},
	}

	passes := []gfx.Pass{{
		PassIndex:  0,
		Kind:       gfx.PassDraw,
		Descriptor: renderTarget,
		First:      0,
		Last:       len(commands),
	}}

	usage := gfx.ResourceUsageTable{
		colorTarget: &gfx.ResourceUsageRecord{
			Handle: colorTarget,
			Accesses: []gfx.ResourceAccess{{
				PassIndex:    0,
				CommandIndex: 0,
				Usage:        gfx.UsageTypeWrite,
				Stages:       vk.PipelineStageColorAttachmentOutputBit,
				Producing:    true,
			}},
		},
	}

	backend.BeginFrameResourceAccess()

	var wg sync.WaitGroup
	wg.Add(1)
	err = backend.ExecuteFrameGraph(passes, usage, commands, wg.Done)
	if err != nil {
		log.Fatalf("execute frame graph: %v", err)
	}
	wg.Wait()

	backing, ok := backend.BackingResource(colorTarget)
	if !ok {
		log.Fatal("expected color target to have a realized backing after the frame")
	}

	log.Printf("smoketest complete on %s: color target backing = %v", backend.RenderDevice(), backing)
}
