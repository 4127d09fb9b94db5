package spirv

import "testing"

// encodeString packs s (plus a NUL terminator) into little-endian SPIR-V
// literal words, padding the final word with zero bytes.
func encodeString(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return words
}

func inst(opcode int, operands ...uint32) []uint32 {
	wordCount := 1 + len(operands)
	out := make([]uint32, 0, wordCount)
	out = append(out, uint32(wordCount<<16)|uint32(opcode))
	out = append(out, operands...)
	return out
}

func header(bound uint32) []uint32 {
	return []uint32{magicNumber, 0x00010300, 0, bound, 0}
}

// buildModule assembles a minimal SPIR-V module reflecting one fragment
// shader with:
//   id 1: void type
//   id 2: function type ()->void
//   id 10: float type
//   id 11: struct { float } decorated Block, used as a uniform buffer
//   id 12: pointer(Uniform, 11)
//   id 13: variable %12, decorated DescriptorSet=0 Binding=0, named "ubo"
//   id 20: image type (2D sampled)
//   id 21: sampled-image(20)
//   id 22: pointer(UniformConstant, 21)
//   id 23: variable %22, decorated DescriptorSet=0 Binding=1, named "tex"
//   entry point: Fragment "main" interface {13, 23}
func buildModule() []uint32 {
	words := header(24)

	words = append(words, inst(opTypeVoid, 1)...)
	words = append(words, inst(opTypeFloat, 10, 32)...)
	words = append(words, inst(opTypeStruct, 11, 10)...)
	words = append(words, inst(opDecorate, 11, decorationBlock)...)
	words = append(words, inst(opMemberDecorate, 11, 0, decorationOffset, 0)...)
	words = append(words, inst(opTypePointer, 12, uint32(StorageUniform), 11)...)
	words = append(words, inst(opVariable, 12, 13, uint32(StorageUniform))...)
	words = append(words, inst(opDecorate, 13, decorationDescSet, 0)...)
	words = append(words, inst(opDecorate, 13, decorationBinding, 0)...)

	nameWords := encodeString("ubo")
	words = append(words, inst(opName, append([]uint32{13}, nameWords...)...)...)

	words = append(words, inst(opTypeImage, 20, 1, 1, 0, 0, 0, 1, 0)...)
	words = append(words, inst(opTypeSampledImage, 21, 20)...)
	words = append(words, inst(opTypePointer, 22, uint32(StorageUniformConstant), 21)...)
	words = append(words, inst(opVariable, 22, 23, uint32(StorageUniformConstant))...)
	words = append(words, inst(opDecorate, 23, decorationDescSet, 0)...)
	words = append(words, inst(opDecorate, 23, decorationBinding, 1)...)

	texName := encodeString("tex")
	words = append(words, inst(opName, append([]uint32{23}, texName...)...)...)

	epName := encodeString("main")
	epOps := append([]uint32{uint32(ExecutionFragment), 2}, epName...)
	epOps = append(epOps, 13, 23)
	words = append(words, inst(opEntryPoint, epOps...)...)

	return words
}

func TestParse_RejectsBadMagic(t *testing.T) {
	_, err := Parse([]uint32{0, 0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for bad magic number")
	}
}

func TestParse_RejectsShortInput(t *testing.T) {
	_, err := Parse([]uint32{magicNumber})
	if err == nil {
		t.Fatal("expected error for too-short input")
	}
}

func TestModule_EntryPoints(t *testing.T) {
	m, err := Parse(buildModule())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	eps := m.EntryPoints()
	if len(eps) != 1 {
		t.Fatalf("EntryPoints() len = %d, want 1", len(eps))
	}
	if eps[0].Name != "main" {
		t.Errorf("entry point name = %q, want %q", eps[0].Name, "main")
	}
	if eps[0].Model != ExecutionFragment {
		t.Errorf("entry point model = %v, want Fragment", eps[0].Model)
	}
	if len(eps[0].Interface) != 2 {
		t.Errorf("entry point interface len = %d, want 2", len(eps[0].Interface))
	}
}

func TestModule_RenameEntryPoint(t *testing.T) {
	m, err := Parse(buildModule())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := m.RenameMainTo("fs_main"); err != nil {
		t.Fatalf("RenameMainTo() error = %v", err)
	}
	eps := m.EntryPoints()
	if eps[0].Name != "fs_main" {
		t.Errorf("entry point name = %q, want %q", eps[0].Name, "fs_main")
	}
	if err := m.RenameEntryPoint("does-not-exist", "x"); err == nil {
		t.Error("RenameEntryPoint() on unknown name: expected error, got nil")
	}
}

func TestModule_Resources(t *testing.T) {
	m, err := Parse(buildModule())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := m.SetActiveEntryPoint("main"); err != nil {
		t.Fatalf("SetActiveEntryPoint() error = %v", err)
	}

	var got []Resource
	if err := m.Resources(func(r Resource) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Resources() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Resources() yielded %d resources, want 2", len(got))
	}

	byBinding := make(map[uint32]Resource)
	for _, r := range got {
		byBinding[r.Binding] = r
	}

	ubo, ok := byBinding[0]
	if !ok {
		t.Fatal("missing resource at binding 0")
	}
	if ubo.Type != ResourceUniformBuffer {
		t.Errorf("binding 0 type = %v, want uniform-buffer", ubo.Type)
	}
	if ubo.Name != "ubo" {
		t.Errorf("binding 0 name = %q, want %q", ubo.Name, "ubo")
	}
	if ubo.Set != 0 {
		t.Errorf("binding 0 set = %d, want 0", ubo.Set)
	}

	tex, ok := byBinding[1]
	if !ok {
		t.Fatal("missing resource at binding 1")
	}
	if tex.Type != ResourceSampledImage {
		t.Errorf("binding 1 type = %v, want sampled-image", tex.Type)
	}
	if tex.Name != "tex" {
		t.Errorf("binding 1 name = %q, want %q", tex.Name, "tex")
	}
}

// buildStorageBufferModule reflects a compute shader with one read-write
// SSBO declared via Block (SPIR-V 1.3+ style) at set 1, binding 2.
func buildStorageBufferModule() []uint32 {
	words := header(14)
	words = append(words, inst(opTypeFloat, 10, 32)...)
	words = append(words, inst(opTypeStruct, 11, 10)...)
	words = append(words, inst(opDecorate, 11, decorationBlock)...)
	words = append(words, inst(opTypePointer, 12, uint32(StorageStorageBuffer), 11)...)
	words = append(words, inst(opVariable, 12, 13, uint32(StorageStorageBuffer))...)
	words = append(words, inst(opDecorate, 13, decorationDescSet, 1)...)
	words = append(words, inst(opDecorate, 13, decorationBinding, 2)...)

	epName := encodeString("main")
	epOps := append([]uint32{uint32(ExecutionGLCompute), 2}, epName...)
	epOps = append(epOps, 13)
	words = append(words, inst(opEntryPoint, epOps...)...)
	return words
}

func TestModule_StorageBufferViaBlock(t *testing.T) {
	m, err := Parse(buildStorageBufferModule())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var got []Resource
	if err := m.Resources(func(r Resource) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Resources() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Resources() yielded %d resources, want 1", len(got))
	}
	if got[0].Type != ResourceStorageBuffer {
		t.Errorf("type = %v, want storage-buffer", got[0].Type)
	}
	if got[0].Set != 1 || got[0].Binding != 2 {
		t.Errorf("set/binding = %d/%d, want 1/2", got[0].Set, got[0].Binding)
	}
	if got[0].Access != AccessReadWrite {
		t.Errorf("access = %v, want read-write", got[0].Access)
	}
}

func TestModule_PushConstant(t *testing.T) {
	words := header(14)
	words = append(words, inst(opTypeFloat, 10, 32)...)
	words = append(words, inst(opTypeStruct, 11, 10, 10)...)
	words = append(words, inst(opMemberDecorate, 11, 0, decorationOffset, 0)...)
	words = append(words, inst(opMemberDecorate, 11, 1, decorationOffset, 4)...)
	words = append(words, inst(opTypePointer, 12, uint32(StoragePushConstant), 11)...)
	words = append(words, inst(opVariable, 12, 13, uint32(StoragePushConstant))...)

	epName := encodeString("main")
	epOps := append([]uint32{uint32(ExecutionVertex), 2}, epName...)
	epOps = append(epOps, 13)
	words = append(words, inst(opEntryPoint, epOps...)...)

	m, err := Parse(words)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	var got []Resource
	if err := m.Resources(func(r Resource) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Resources() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Resources() yielded %d resources, want 1", len(got))
	}
	if got[0].Type != ResourcePushConstantBuffer {
		t.Errorf("type = %v, want push-constant-buffer", got[0].Type)
	}
	if got[0].Set != PushConstantSet {
		t.Errorf("set = %d, want %d", got[0].Set, PushConstantSet)
	}
	if got[0].Range.Span != 4 {
		t.Errorf("range span = %d, want 4", got[0].Range.Span)
	}
}

func TestModule_SpecializationConstants(t *testing.T) {
	words := header(14)
	words = append(words, inst(opTypeInt, 10, 32, 1)...)
	words = append(words, inst(opSpecConstant, 10, 11, 8)...)
	words = append(words, inst(opDecorate, 11, decorationSpecID, 0)...)

	nameWords := encodeString("workgroup_size")
	words = append(words, inst(opName, append([]uint32{11}, nameWords...)...)...)

	m, err := Parse(words)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var names []string
	var ids []uint32
	if err := m.SpecializationConstants(func(ordinal int, constantID uint32, name string) error {
		names = append(names, name)
		ids = append(ids, constantID)
		return nil
	}); err != nil {
		t.Fatalf("SpecializationConstants() error = %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("SpecializationConstants() yielded %d entries, want 1", len(names))
	}
	if names[0] != "workgroup_size" {
		t.Errorf("name = %q, want %q", names[0], "workgroup_size")
	}
	if ids[0] != 0 {
		t.Errorf("constant id = %d, want 0", ids[0])
	}
}

func TestModule_SetActiveEntryPoint_Unknown(t *testing.T) {
	m, err := Parse(buildModule())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := m.SetActiveEntryPoint("does-not-exist"); err == nil {
		t.Error("SetActiveEntryPoint() on unknown name: expected error, got nil")
	}
}
