package gfx

import "testing"

func TestBindingPathPackRoundTrip(t *testing.T) {
	p := PackBindingPath(2, 5, 7)
	if p != 0x0002_0005_0000_0007 {
		t.Fatalf("pack(2,5,7) = %#016x, want 0x0002000500000007", uint64(p))
	}
	set, binding, arrayIndex := p.Unpack()
	if set != 2 || binding != 5 || arrayIndex != 7 {
		t.Fatalf("unpack = (%d,%d,%d), want (2,5,7)", set, binding, arrayIndex)
	}
}

func TestBindingPathArgumentBufferSentinel(t *testing.T) {
	p := WithArgumentBuffer(3)
	if !p.IsArgumentBuffer() {
		t.Fatalf("WithArgumentBuffer(3).IsArgumentBuffer() = false, want true")
	}
	if p.Binding() != ArgumentBufferBinding {
		t.Fatalf("WithArgumentBuffer(3).Binding() = %#x, want 0xFFFF", p.Binding())
	}
	if p.Set() != 3 {
		t.Fatalf("WithArgumentBuffer(3).Set() = %d, want 3", p.Set())
	}
}

func TestBindingPathPushConstantSentinel(t *testing.T) {
	p := PackBindingPath(PushConstantSet, 0, 0)
	if !p.IsPushConstant() {
		t.Fatalf("path with set=PushConstantSet should report IsPushConstant() == true")
	}
}

func TestBindingPathSubstituteSet(t *testing.T) {
	orig := PackBindingPath(1, 9, 4)
	sub := orig.SubstituteSet(6)
	set, binding, arrayIndex := sub.Unpack()
	if set != 6 || binding != 9 || arrayIndex != 4 {
		t.Fatalf("SubstituteSet(6) = (%d,%d,%d), want (6,9,4)", set, binding, arrayIndex)
	}
}

func TestRenderTargetRequestCompatible(t *testing.T) {
	a := ResourceHandle(NewResourceHandle())
	r1 := RenderTargetRequest{
		ColorAttachments: []ColorAttachmentRequest{{Texture: a, Format: 37}},
		Extent:           Extent3D{Width: 800, Height: 600, Depth: 1},
		SampleCount:      1,
	}
	r2 := r1
	if !r1.Compatible(r2) {
		t.Fatalf("identical render target requests should be compatible")
	}
	r3 := r1
	r3.Extent.Width = 640
	if r1.Compatible(r3) {
		t.Fatalf("render target requests with differing extents should not be compatible")
	}
}
