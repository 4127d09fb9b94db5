package encoder

import (
	"fmt"
	"sync"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
)

// vertexInputState is the realized Vulkan form of a gfx.VertexDescriptor:
// the binding/attribute description slices a
// vk.PipelineVertexInputStateCreateInfo points at (§4.8 "Vertex input state
// from the vertex descriptor ... cached").
type vertexInputState struct {
	bindings   []vk.VertexInputBindingDescription
	attributes []vk.VertexInputAttributeDescription
}

type vertexInputCache struct {
	mu    sync.Mutex
	byKey map[string]*vertexInputState
}

func newVertexInputCache() *vertexInputCache {
	return &vertexInputCache{byKey: make(map[string]*vertexInputState)}
}

func vertexDescriptorKey(vd *gfx.VertexDescriptor) string {
	s := ""
	for _, b := range vd.Bindings {
		s += fmt.Sprintf("b%d:%d:%d|", b.Binding, b.Stride, b.InputRate)
	}
	for _, a := range vd.Attributes {
		s += fmt.Sprintf("a%d:%d:%d:%d|", a.Location, a.Binding, a.Format, a.Offset)
	}
	return s
}

// Get returns the cached vertexInputState for vd, building it on first use.
func (c *vertexInputCache) Get(vd *gfx.VertexDescriptor) *vertexInputState {
	key := vertexDescriptorKey(vd)

	c.mu.Lock()
	if v, ok := c.byKey[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	state := &vertexInputState{
		bindings:   make([]vk.VertexInputBindingDescription, len(vd.Bindings)),
		attributes: make([]vk.VertexInputAttributeDescription, len(vd.Attributes)),
	}
	for i, b := range vd.Bindings {
		state.bindings[i] = vk.VertexInputBindingDescription{Binding: b.Binding, Stride: b.Stride, InputRate: b.InputRate}
	}
	for i, a := range vd.Attributes {
		state.attributes[i] = vk.VertexInputAttributeDescription{Location: a.Location, Binding: a.Binding, Format: a.Format, Offset: a.Offset}
	}

	c.mu.Lock()
	c.byKey[key] = state
	c.mu.Unlock()
	return state
}
