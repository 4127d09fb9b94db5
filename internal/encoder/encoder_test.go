package encoder

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/rescmd"
)

func TestCeilDivRoundsUp(t *testing.T) {
	cases := []struct{ total, size, want uint32 }{
		{64, 8, 8},
		{65, 8, 9},
		{1, 8, 1},
		{0, 8, 0},
		{16, 0, 1},
	}
	for _, c := range cases {
		if got := ceilDiv(c.total, c.size); got != c.want {
			t.Errorf("ceilDiv(%d, %d) = %d, want %d", c.total, c.size, got, c.want)
		}
	}
}

func TestFlipViewportNegatesHeight(t *testing.T) {
	v := flipViewport(vk.Viewport{X: 0, Y: 0, Width: 800, Height: 600, MinDepth: 0, MaxDepth: 1})
	if v.Height != -600 {
		t.Errorf("flipped height = %v, want -600", v.Height)
	}
	if v.Y != 600 {
		t.Errorf("flipped Y = %v, want 600", v.Y)
	}
	if v.Width != 800 || v.MinDepth != 0 || v.MaxDepth != 1 {
		t.Errorf("flipViewport altered unrelated fields: %+v", v)
	}
}

func TestVertexDescriptorKeyStableAndDistinct(t *testing.T) {
	vd1 := &gfx.VertexDescriptor{
		Bindings:   []gfx.VertexBinding{{Binding: 0, Stride: 12, InputRate: vk.VertexInputRateVertex}},
		Attributes: []gfx.VertexAttribute{{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0}},
	}
	vd2 := &gfx.VertexDescriptor{
		Bindings:   []gfx.VertexBinding{{Binding: 0, Stride: 12, InputRate: vk.VertexInputRateVertex}},
		Attributes: []gfx.VertexAttribute{{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0}},
	}
	if vertexDescriptorKey(vd1) != vertexDescriptorKey(vd2) {
		t.Fatalf("identical descriptors produced different keys")
	}

	vd3 := &gfx.VertexDescriptor{
		Bindings:   []gfx.VertexBinding{{Binding: 0, Stride: 24, InputRate: vk.VertexInputRateVertex}},
		Attributes: vd1.Attributes,
	}
	if vertexDescriptorKey(vd1) == vertexDescriptorKey(vd3) {
		t.Fatalf("descriptors differing in stride produced the same key")
	}
}

func TestVertexInputCacheReusesBuiltState(t *testing.T) {
	c := newVertexInputCache()
	vd := &gfx.VertexDescriptor{
		Bindings:   []gfx.VertexBinding{{Binding: 0, Stride: 12, InputRate: vk.VertexInputRateVertex}},
		Attributes: []gfx.VertexAttribute{{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0}},
	}
	a := c.Get(vd)
	b := c.Get(vd)
	if a != b {
		t.Fatalf("Get returned distinct instances for the same descriptor")
	}
	if len(a.bindings) != 1 || len(a.attributes) != 1 {
		t.Fatalf("unexpected vertex input state shape: %+v", a)
	}
}

func TestGraphicsKeyOfDistinguishesTopology(t *testing.T) {
	desc := &gfx.RenderPipelineDescriptor{VertexFunction: "vs", FragmentFunction: "fs", Topology: vk.PrimitiveTopologyTriangleList}
	desc2 := &gfx.RenderPipelineDescriptor{VertexFunction: "vs", FragmentFunction: "fs", Topology: vk.PrimitiveTopologyLineList}
	vd := &gfx.VertexDescriptor{}

	k1 := graphicsKeyOf(desc, nil, nil, 0, vd)
	k2 := graphicsKeyOf(desc2, nil, nil, 0, vd)
	if k1 == k2 {
		t.Fatalf("graphicsKeyOf ignored topology difference")
	}

	k1again := graphicsKeyOf(desc, nil, nil, 0, vd)
	if k1 != k1again {
		t.Fatalf("graphicsKeyOf is not deterministic for identical inputs")
	}
}

func TestComputeKeyOfDistinguishesThreadsPerThreadgroup(t *testing.T) {
	desc := &gfx.ComputePipelineDescriptor{Function: "cs"}
	k1 := computeKeyOf(desc, nil, [3]uint32{8, 8, 1})
	k2 := computeKeyOf(desc, nil, [3]uint32{4, 4, 1})
	if k1 == k2 {
		t.Fatalf("computeKeyOf ignored threadsPerThreadgroup difference")
	}
}

func TestGroupResourceCommandsByIndexPreservesOrderWithinIndex(t *testing.T) {
	stack := []rescmd.Command{
		{CommandIndex: 2, Kind: rescmd.KindSignalEvent},
		{CommandIndex: 0, Kind: rescmd.KindMaterializeBuffer},
		{CommandIndex: 2, Kind: rescmd.KindWaitEvent},
	}
	byIndex := GroupResourceCommandsByIndex(stack)

	if len(byIndex[0]) != 1 || byIndex[0][0].Kind != rescmd.KindMaterializeBuffer {
		t.Fatalf("index 0 grouping wrong: %+v", byIndex[0])
	}
	if len(byIndex[2]) != 2 {
		t.Fatalf("index 2 grouping wrong: %+v", byIndex[2])
	}
	if byIndex[2][0].Kind != rescmd.KindSignalEvent || byIndex[2][1].Kind != rescmd.KindWaitEvent {
		t.Fatalf("index 2 grouping did not preserve stack order: %+v", byIndex[2])
	}
	if _, ok := byIndex[1]; ok {
		t.Fatalf("unexpected entry for index 1")
	}
}
