// Package pipeline implements the Pipeline Reflection component (C3): it
// merges per-stage SPIR-V reflections into a per-pipeline view, derives
// descriptor-set layouts and pipeline layouts, and builds the sorted
// binding-path lookup table encoders and the binding manager query by name.
//
// Grounded on wgpu_renderer_backend.go's mergeBindGroupLayouts (fold by
// binding, OR the visibility/stage flags) and annotations.go's name-based
// binding resolution, retargeted at vk.DescriptorSetLayout/vk.PipelineLayout
// construction (SPEC_FULL.md §4.3).
package pipeline

import (
	"math"
	"sort"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/spirv"
)

// ResourceCategory classifies an argument reflection's underlying Vulkan
// object kind (§4.3 "resource category (buffer/texture/sampler)").
type ResourceCategory int

const (
	CategoryBuffer ResourceCategory = iota
	CategoryTexture
	CategorySampler
)

// ArgUsage classifies how a shader consumes a bound resource (§4.3
// "usage type (constant-buffer, read, read-write, write, sampler,
// input-attachment)").
type ArgUsage int

const (
	UsageConstantBuffer ArgUsage = iota
	UsageRead
	UsageReadWrite
	UsageWrite
	UsageSampler
	UsageInputAttachment
)

// ArgumentReflection is the per-binding view an encoder or binding manager
// queries: category, usage, its binding path, and the shader stages that
// reach it (§4.3).
type ArgumentReflection struct {
	Category ResourceCategory
	Usage    ArgUsage
	Path     gfx.BindingPath
	Stages   vk.ShaderStageFlags
	DescType spirv.ResourceType
	Range    spirv.ByteRange
	Name     string
}

type mergedResource struct {
	res    spirv.Resource
	stages vk.ShaderStageFlags
}

func setBindingKey(set, binding uint32) uint64 {
	return uint64(set)<<32 | uint64(binding)
}

// sentinelKey is the branch-free-linear-search terminator (§4.3): a key
// larger than any real packed (set, binding, array_index) triple.
const sentinelKey = gfx.BindingPath(math.MaxUint64)

// PipelineReflection is the merged per-pipeline reflection view (§4.3).
type PipelineReflection struct {
	// keys and args are parallel, sorted ascending by packed binding path,
	// with a sentinel max key appended to keys (one more entry than args).
	keys []gfx.BindingPath
	args []ArgumentReflection

	pushConstantRanges []vk.PushConstantRange

	// setBindings lists, per set id, the bindings declared in that set —
	// consumed by DescriptorSetLayoutCache to build vk.DescriptorSetLayout.
	setBindings map[uint16][]ArgumentReflection
}

// StageModule pairs a parsed SPIR-V module (already scoped to its active
// entry point) with the Vulkan shader-stage bit it will be bound at.
type StageModule struct {
	Stage  vk.ShaderStageFlagBits
	Module *spirv.Module
}

// Build merges the resources of every stage module into one
// PipelineReflection (§4.3 "Merging").
func Build(stages []StageModule) (*PipelineReflection, error) {
	merged := make(map[uint64]*mergedResource)
	order := make([]uint64, 0, 16)

	for _, sm := range stages {
		err := sm.Module.Resources(func(r spirv.Resource) error {
			key := setBindingKey(r.Set, r.Binding)
			if r.Type == spirv.ResourcePushConstantBuffer {
				// Push constants aren't set/binding addressed; key on name so
				// the same block declared in two stages unions stage flags
				// instead of duplicating a range.
				key = setBindingKey(uint32(gfx.PushConstantSet), hashName(r.Name))
			}
			if existing, ok := merged[key]; ok {
				existing.stages |= vk.ShaderStageFlags(sm.Stage)
				return nil
			}
			merged[key] = &mergedResource{res: r, stages: vk.ShaderStageFlags(sm.Stage)}
			order = append(order, key)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	pr := &PipelineReflection{setBindings: make(map[uint16][]ArgumentReflection)}
	for _, key := range order {
		mr := merged[key]
		if mr.res.Type == spirv.ResourcePushConstantBuffer {
			pr.pushConstantRanges = append(pr.pushConstantRanges, vk.PushConstantRange{
				StageFlags: mr.stages,
				Offset:     mr.res.Range.Offset,
				Size:       mr.res.Range.Span,
			})
			continue
		}
		ar := argumentReflectionOf(mr)
		pr.keys = append(pr.keys, ar.Path)
		pr.args = append(pr.args, ar)
		set := uint16(mr.res.Set)
		pr.setBindings[set] = append(pr.setBindings[set], ar)
	}

	sort.Sort(byPath{pr.keys, pr.args})
	pr.keys = append(pr.keys, sentinelKey)

	return pr, nil
}

// hashName folds a resource name into a uint32 for use as a synthetic
// push-constant merge key; collisions only coalesce two identically-named
// blocks, which is exactly the union behavior wanted.
func hashName(name string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return h
}

func argumentReflectionOf(mr *mergedResource) ArgumentReflection {
	category, usage := classify(mr.res)
	return ArgumentReflection{
		Category: category,
		Usage:    usage,
		Path:     gfx.PackBindingPath(uint16(mr.res.Set), uint16(mr.res.Binding), 0),
		Stages:   mr.stages,
		DescType: mr.res.Type,
		Range:    mr.res.Range,
		Name:     mr.res.Name,
	}
}

func classify(r spirv.Resource) (ResourceCategory, ArgUsage) {
	switch r.Type {
	case spirv.ResourceUniformBuffer:
		return CategoryBuffer, UsageConstantBuffer
	case spirv.ResourceUniformTexelBuffer:
		return CategoryBuffer, UsageRead
	case spirv.ResourceStorageBuffer, spirv.ResourceStorageTexelBuffer:
		return CategoryBuffer, usageFromAccess(r.Access)
	case spirv.ResourceSubpassInput:
		return CategoryTexture, UsageInputAttachment
	case spirv.ResourceStorageImage:
		return CategoryTexture, usageFromAccess(r.Access)
	case spirv.ResourceSampledImage:
		return CategoryTexture, UsageRead
	case spirv.ResourceSampler:
		return CategorySampler, UsageSampler
	default:
		return CategoryBuffer, UsageRead
	}
}

func usageFromAccess(a spirv.Access) ArgUsage {
	switch a {
	case spirv.AccessRead:
		return UsageRead
	case spirv.AccessWrite:
		return UsageWrite
	default:
		return UsageReadWrite
	}
}

type byPath struct {
	keys []gfx.BindingPath
	args []ArgumentReflection
}

func (b byPath) Len() int           { return len(b.keys) }
func (b byPath) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byPath) Swap(i, j int) {
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
	b.args[i], b.args[j] = b.args[j], b.args[i]
}

// BindingPath resolves a shader resource by name to its packed binding
// path (§4.3 "Binding-path resolution"). arrayIndex and argumentBufferPath
// are accepted per the §6.2 surface but this reflection carries no array
// sizing beyond 1 (§4.3 "array sizing is a known limitation"), so arrayIndex
// only participates in the returned path, not the lookup key.
func (pr *PipelineReflection) BindingPath(argumentName string, arrayIndex int, argumentBufferPath *gfx.BindingPath) (gfx.BindingPath, bool) {
	for _, a := range pr.args {
		if a.Name != argumentName {
			continue
		}
		set, binding, _ := a.Path.Unpack()
		if argumentBufferPath != nil {
			set = argumentBufferPath.Set()
		}
		return gfx.PackBindingPath(set, binding, uint32(arrayIndex)), true
	}
	return gfx.BindingPath(0), false
}

// ArgumentReflectionAt looks up the argument reflection at an exact binding
// path via the sorted lookup table (§4.3: "sorted ascending ... with a
// sentinel max key ... for branch-free linear search. Binary search is also
// permitted"). This implementation uses sort.Search, matching the teacher's
// own use of the standard library for sorted lookups.
func (pr *PipelineReflection) ArgumentReflectionAt(path gfx.BindingPath) (ArgumentReflection, bool) {
	// array index is not part of the stored key (layout §4.3 binds array
	// index 0 for the lone supported array size), so normalize the query.
	set, binding, _ := path.Unpack()
	want := gfx.PackBindingPath(set, binding, 0)
	n := len(pr.keys) - 1 // exclude sentinel
	i := sort.Search(n, func(i int) bool { return pr.keys[i] >= want })
	if i < n && pr.keys[i] == want {
		return pr.args[i], true
	}
	return ArgumentReflection{}, false
}

// BindingIsActive reports whether path names a binding present in this
// pipeline's reflection (§6.2 BindingIsActive).
func (pr *PipelineReflection) BindingIsActive(path gfx.BindingPath) bool {
	_, ok := pr.ArgumentReflectionAt(path)
	return ok
}

// PushConstantRanges returns the merged push-constant ranges (§4.3).
func (pr *PipelineReflection) PushConstantRanges() []vk.PushConstantRange {
	return pr.pushConstantRanges
}

// SetBindings returns the bindings declared at the given set id, in the
// order first observed, for descriptor-set-layout construction (§4.3).
func (pr *PipelineReflection) SetBindings(set uint16) []ArgumentReflection {
	return pr.setBindings[set]
}

// Sets returns every set id this pipeline declares bindings in.
func (pr *PipelineReflection) Sets() []uint16 {
	out := make([]uint16, 0, len(pr.setBindings))
	for s := range pr.setBindings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
