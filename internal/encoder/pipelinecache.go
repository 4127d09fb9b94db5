package encoder

import (
	"fmt"
	"sync"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// graphicsKey identifies a distinct graphics pipeline by every axis §4.8
// names: "(descriptor, depth-stencil, primitive, cull, depth-clip, winding,
// pipeline-layout, render-pass, subpass, render-target-descriptor)".
type graphicsKey string

func graphicsKeyOf(desc *gfx.RenderPipelineDescriptor, layout vk.PipelineLayout, renderPass vk.RenderPass, subpass uint32, vertexDesc *gfx.VertexDescriptor) graphicsKey {
	s := fmt.Sprintf("v=%s|f=%s|topo=%d|cull=%d|front=%d|clip=%d|raster=%t|sshade=%t|a2c=%t|a2o=%t|layout=%p|rp=%p|sub=%d|",
		desc.VertexFunction, desc.FragmentFunction, desc.Topology, desc.CullMode, desc.FrontFace, desc.DepthClipMode,
		desc.RasterizationDisabled, desc.SampleShadingEnabled, desc.AlphaToCoverageEnabled, desc.AlphaToOneEnabled,
		layout, renderPass, subpass)
	if desc.DepthStencil != nil {
		ds := desc.DepthStencil
		s += fmt.Sprintf("ds=%t,%t,%d,%t|", ds.DepthTestEnabled, ds.DepthWriteEnabled, ds.DepthCompareOp, ds.StencilTestEnabled)
	}
	for i, b := range desc.ColorAttachments {
		s += fmt.Sprintf("blend%d=%t,%d,%d,%d,%d,%d,%d,%d|", i, b.BlendEnabled, b.SrcColor, b.DstColor, b.ColorOp, b.SrcAlpha, b.DstAlpha, b.AlphaOp, b.WriteMask)
	}
	for _, a := range vertexDesc.Attributes {
		s += fmt.Sprintf("attr=%d,%d,%d,%d|", a.Location, a.Binding, a.Format, a.Offset)
	}
	for _, b := range vertexDesc.Bindings {
		s += fmt.Sprintf("vb=%d,%d,%d|", b.Binding, b.Stride, b.InputRate)
	}
	return graphicsKey(s)
}

// computeKey identifies a distinct compute pipeline by "(descriptor,
// pipeline-layout, threadsPerThreadgroup)" (§4.8 compute encoder).
type computeKey string

func computeKeyOf(desc *gfx.ComputePipelineDescriptor, layout vk.PipelineLayout, tpt [3]uint32) computeKey {
	return computeKey(fmt.Sprintf("fn=%s|layout=%p|tpt=%d,%d,%d", desc.Function, layout, tpt[0], tpt[1], tpt[2]))
}

// pipelineCache builds and caches vk.Pipeline handles for both graphics and
// compute pipelines against a single shared vk.PipelineCache object (§5
// "Pipeline cache is a single vk.PipelineCache object used for all pipeline
// creations").
type pipelineCache struct {
	device vk.Device
	vkPipelineCache vk.PipelineCache

	mu       sync.Mutex
	graphics map[graphicsKey]vk.Pipeline
	compute  map[computeKey]vk.Pipeline
}

func newPipelineCache(device vk.Device) (*pipelineCache, error) {
	var cache vk.PipelineCache
	ret := vk.CreatePipelineCache(device, &vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}, nil, &cache)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create pipeline cache", vkutil.NewError(ret))
	}
	return &pipelineCache{
		device:          device,
		vkPipelineCache: cache,
		graphics:        make(map[graphicsKey]vk.Pipeline),
		compute:         make(map[computeKey]vk.Pipeline),
	}, nil
}

func (c *pipelineCache) graphicsPipeline(key graphicsKey, build func() (vk.Pipeline, error)) (vk.Pipeline, error) {
	c.mu.Lock()
	if p, ok := c.graphics[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.graphics[key] = p
	c.mu.Unlock()
	return p, nil
}

func (c *pipelineCache) computePipeline(key computeKey, build func() (vk.Pipeline, error)) (vk.Pipeline, error) {
	c.mu.Lock()
	if p, ok := c.compute[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.compute[key] = p
	c.mu.Unlock()
	return p, nil
}

func (c *pipelineCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.graphics {
		vk.DestroyPipeline(c.device, p, nil)
	}
	for _, p := range c.compute {
		vk.DestroyPipeline(c.device, p, nil)
	}
	vk.DestroyPipelineCache(c.device, c.vkPipelineCache, nil)
}
