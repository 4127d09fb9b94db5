package pipeline

import (
	"fmt"
	"sort"
	"sync"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/spirv"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// DescriptorType resolves the resource-type-to-descriptor-type table in
// SPEC_FULL.md §4.3. dynamic selects the *_DYNAMIC variant for uniform and
// storage buffers, used when the binding manager has observed more than one
// distinct offset bound to this (set, binding) within one pass; that
// classification then holds for later passes and frames (§9 Open Question 2).
func DescriptorType(rt spirv.ResourceType, dynamic bool) vk.DescriptorType {
	switch rt {
	case spirv.ResourceUniformBuffer:
		if dynamic {
			return vk.DescriptorTypeUniformBufferDynamic
		}
		return vk.DescriptorTypeUniformBuffer
	case spirv.ResourceStorageBuffer:
		if dynamic {
			return vk.DescriptorTypeStorageBufferDynamic
		}
		return vk.DescriptorTypeStorageBuffer
	case spirv.ResourceUniformTexelBuffer:
		return vk.DescriptorTypeUniformTexelBuffer
	case spirv.ResourceStorageTexelBuffer:
		return vk.DescriptorTypeStorageTexelBuffer
	case spirv.ResourceSubpassInput:
		return vk.DescriptorTypeInputAttachment
	case spirv.ResourceStorageImage:
		return vk.DescriptorTypeStorageImage
	case spirv.ResourceSampledImage:
		return vk.DescriptorTypeSampledImage
	case spirv.ResourceSampler:
		return vk.DescriptorTypeSampler
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

// PipelineKey identifies a distinct graphics or compute pipeline by the
// shader entry points it combines (§4.3 pipeline-layout cache key).
type PipelineKey struct {
	VertexFunction   string
	FragmentFunction string
	ComputeFunction  string
}

func (k PipelineKey) String() string {
	if k.ComputeFunction != "" {
		return "compute:" + k.ComputeFunction
	}
	return "graphics:" + k.VertexFunction + "+" + k.FragmentFunction
}

// setLayoutKey is the structural cache key for a descriptor-set layout:
// a set is cacheable across pipelines whenever its binding signature
// (binding index, descriptor type, stage mask) and its dynamic-buffer
// bitmask match exactly (§4.3 "one layout per distinct (set, dynamic
// bitset) pair").
type setLayoutKey string

func bindingSignature(set uint16, bindings []ArgumentReflection, dynamicMask uint32) setLayoutKey {
	sorted := make([]ArgumentReflection, len(bindings))
	copy(sorted, bindings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path.Binding() < sorted[j].Path.Binding() })

	key := fmt.Sprintf("set=%d|dyn=%#x", set, dynamicMask)
	for _, b := range sorted {
		dynamic := dynamicMask&(1<<b.Path.Binding()) != 0
		key += fmt.Sprintf("|%d:%d:%d", b.Path.Binding(), DescriptorType(b.DescType, dynamic), b.Stages)
	}
	return setLayoutKey(key)
}

// DescriptorSetLayoutCache caches vk.DescriptorSetLayout handles by binding
// signature so two pipelines that declare structurally identical sets share
// one layout, as §4.3 requires.
type DescriptorSetLayoutCache struct {
	device vk.Device

	mu    sync.Mutex
	cache map[setLayoutKey]vk.DescriptorSetLayout
}

// NewDescriptorSetLayoutCache constructs an empty cache bound to device.
func NewDescriptorSetLayoutCache(device vk.Device) *DescriptorSetLayoutCache {
	return &DescriptorSetLayoutCache{device: device, cache: make(map[setLayoutKey]vk.DescriptorSetLayout)}
}

// LayoutFor returns the vk.DescriptorSetLayout for the given set's binding
// list and dynamic-buffer bitmask, building and caching it on first use.
func (c *DescriptorSetLayoutCache) LayoutFor(set uint16, bindings []ArgumentReflection, dynamicMask uint32) (vk.DescriptorSetLayout, error) {
	key := bindingSignature(set, bindings, dynamicMask)

	c.mu.Lock()
	defer c.mu.Unlock()
	if layout, ok := c.cache[key]; ok {
		return layout, nil
	}

	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		binding := b.Path.Binding()
		dynamic := dynamicMask&(1<<binding) != 0
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(binding),
			DescriptorType:  DescriptorType(b.DescType, dynamic),
			DescriptorCount: 1,
			StageFlags:      b.Stages,
		}
	}

	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
	}
	if len(vkBindings) > 0 {
		info.PBindings = vkBindings
	}

	var layout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(c.device, &info, nil, &layout)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create descriptor set layout", vkutil.NewError(ret))
	}

	c.cache[key] = layout
	return layout, nil
}

// pipelineLayoutKey caches a vk.PipelineLayout by pipeline key plus the
// per-set dynamic-buffer bitmask observed for it (§4.3).
type pipelineLayoutKey struct {
	fn       string
	dynamics string
}

// PipelineLayoutCache builds and caches vk.PipelineLayout handles, deriving
// descriptor-set layouts from DescriptorSetLayoutCache and push-constant
// ranges from the merged PipelineReflection (§4.3).
type PipelineLayoutCache struct {
	device      vk.Device
	setLayouts  *DescriptorSetLayoutCache

	mu    sync.Mutex
	cache map[pipelineLayoutKey]vk.PipelineLayout
}

// NewPipelineLayoutCache constructs an empty cache.
func NewPipelineLayoutCache(device vk.Device, setLayouts *DescriptorSetLayoutCache) *PipelineLayoutCache {
	return &PipelineLayoutCache{device: device, setLayouts: setLayouts, cache: make(map[pipelineLayoutKey]vk.PipelineLayout)}
}

// LayoutFor builds (or returns the cached) vk.PipelineLayout for key's
// reflection, with dynamicMasks giving the observed dynamic-buffer bitmask
// per set id (missing entries default to 0, no dynamic buffers in that set).
func (c *PipelineLayoutCache) LayoutFor(key PipelineKey, refl *PipelineReflection, dynamicMasks map[uint16]uint32) (vk.PipelineLayout, error) {
	sets := refl.Sets()
	dkey := pipelineLayoutKey{fn: key.String(), dynamics: dynamicMaskSignature(sets, dynamicMasks)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if layout, ok := c.cache[dkey]; ok {
		return layout, nil
	}

	setLayouts := make([]vk.DescriptorSetLayout, 0, len(sets))
	for _, set := range sets {
		mask := dynamicMasks[set]
		layout, err := c.setLayouts.LayoutFor(set, refl.SetBindings(set), mask)
		if err != nil {
			return nil, err
		}
		setLayouts = append(setLayouts, layout)
	}

	pushRanges := refl.PushConstantRanges()

	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
	}
	if len(setLayouts) > 0 {
		info.PSetLayouts = setLayouts
	}
	info.PushConstantRangeCount = uint32(len(pushRanges))
	if len(pushRanges) > 0 {
		info.PPushConstantRanges = pushRanges
	}

	var layout vk.PipelineLayout
	ret := vk.CreatePipelineLayout(c.device, &info, nil, &layout)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create pipeline layout", vkutil.NewError(ret))
	}

	c.cache[dkey] = layout
	return layout, nil
}

func dynamicMaskSignature(sets []uint16, masks map[uint16]uint32) string {
	s := ""
	for _, set := range sets {
		s += fmt.Sprintf("%d:%#x;", set, masks[set])
	}
	return s
}
