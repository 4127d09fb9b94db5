package binding

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
)

func TestDynamicBufferDetectionSticky(t *testing.T) {
	m := New(nil)
	path := gfx.PackBindingPath(0, 3, 0)

	m.BeginPass()
	m.SetBuffer(path, vk.Buffer(nil), 0, 64, vk.DescriptorTypeUniformBuffer)
	if m.IsDynamic(path) {
		t.Fatalf("binding should not be classified dynamic after a single offset")
	}

	m.SetBuffer(path, vk.Buffer(nil), 256, 64, vk.DescriptorTypeUniformBuffer)
	if !m.IsDynamic(path) {
		t.Fatalf("binding should become dynamic once a second distinct offset is observed in the same pass")
	}

	mask := m.DynamicMask(0)
	if mask&(1<<3) == 0 {
		t.Fatalf("dynamic mask for set 0 missing bit for binding 3: %#x", mask)
	}

	// Sticky across passes: a fresh pass with a single offset must not
	// clear the classification (§4.10: sticky once observed).
	m.BeginPass()
	m.SetBuffer(path, vk.Buffer(nil), 0, 64, vk.DescriptorTypeUniformBuffer)
	if !m.IsDynamic(path) {
		t.Fatalf("dynamic classification must persist across passes")
	}
}

func TestDynamicMaskIgnoresOtherSets(t *testing.T) {
	m := New(nil)
	m.BeginPass()
	p0 := gfx.PackBindingPath(0, 1, 0)
	p1 := gfx.PackBindingPath(1, 1, 0)

	m.SetBuffer(p0, vk.Buffer(nil), 0, 4, vk.DescriptorTypeUniformBuffer)
	m.SetBuffer(p0, vk.Buffer(nil), 16, 4, vk.DescriptorTypeUniformBuffer)
	m.SetBuffer(p1, vk.Buffer(nil), 0, 4, vk.DescriptorTypeUniformBuffer)

	if m.DynamicMask(1) != 0 {
		t.Fatalf("set 1 binding should not be classified dynamic from set 0 activity")
	}
	if m.DynamicMask(0)&(1<<1) == 0 {
		t.Fatalf("set 0 binding 1 should be classified dynamic")
	}
}

func TestSetBufferOffsetRebindsWithoutNewWrite(t *testing.T) {
	m := New(nil)
	m.BeginPass()
	path := gfx.PackBindingPath(0, 0, 0)
	buf := vk.Buffer(nil)

	m.SetBuffer(path, buf, 0, 32, vk.DescriptorTypeUniformBuffer)
	m.SetBufferOffset(path, 128)

	ss := m.sets[0]
	key := bindingKey(path.Binding(), path.ArrayIndex())
	w := ss.buffers[key]
	if w == nil || w.offset != 128 {
		t.Fatalf("expected rebind to update pending offset to 128, got %+v", w)
	}
}

func TestPushConstantStagingWritesAndResets(t *testing.T) {
	var p pushConstantStaging
	p.write(0, []byte{1, 2, 3, 4}, vk.ShaderStageVertexBit)
	if !p.dirty {
		t.Fatalf("expected staging to be dirty after a write")
	}
	if p.bytes[0] != 1 || p.bytes[3] != 4 {
		t.Fatalf("unexpected staged bytes: %v", p.bytes[:4])
	}
	p.reset()
	if p.dirty {
		t.Fatalf("expected reset to clear dirty flag")
	}
	// reset must not clear the underlying bytes, only the dirty flag —
	// a later write at a disjoint offset should not need to re-supply
	// earlier bytes that are still valid in the slab.
	if p.bytes[0] != 1 {
		t.Fatalf("reset must not zero the staged byte slab")
	}
}

func TestBindingKeyDistinguishesArrayIndices(t *testing.T) {
	a := bindingKey(2, 0)
	b := bindingKey(2, 1)
	if a == b {
		t.Fatalf("expected distinct binding keys for distinct array indices")
	}
}
