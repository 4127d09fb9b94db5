package binding

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// setsPerPool is the fixed capacity of one transient descriptor pool
// (§4.10: "descriptor pool size is fixed, e.g. 64 sets per pool").
const setsPerPool = 64

// descriptorBudget is how many descriptors of each vk.DescriptorType one
// transient pool reserves. Generous relative to setsPerPool since a set may
// declare more than one binding of a given type.
const descriptorBudget = setsPerPool * 4

// transientPoolSet is the growable list of vk.DescriptorPool instances
// serving one descriptor-set-layout signature. §9 Open Questions leaves the
// exhaustion policy unspecified; the policy implemented here is the
// "safe" one it names: allocate another pool of the configured size on
// demand, and reset every pool wholesale at frame cycle.
type transientPoolSet struct {
	layout vk.DescriptorSetLayout
	types  []vk.DescriptorType
	pools  []vk.DescriptorPool
}

// transientPools owns one growable pool list per distinct descriptor-set
// layout a pass binds against this frame (§4.10 "per-set pools for
// transient descriptor sets").
type transientPools struct {
	device vk.Device
	bySet  map[vk.DescriptorSetLayout]*transientPoolSet
}

func newTransientPools(device vk.Device) *transientPools {
	return &transientPools{device: device, bySet: make(map[vk.DescriptorSetLayout]*transientPoolSet)}
}

// Allocate returns a fresh transient vk.DescriptorSet built against layout,
// declaring bindingTypes as the descriptor types the caller will write into
// it. A new backing vk.DescriptorPool is created on demand whenever every
// existing pool for this layout is exhausted.
func (p *transientPools) Allocate(layout vk.DescriptorSetLayout, bindingTypes []vk.DescriptorType) (vk.DescriptorSet, error) {
	ps, ok := p.bySet[layout]
	if !ok {
		ps = &transientPoolSet{layout: layout, types: dedupeTypes(bindingTypes)}
		p.bySet[layout] = ps
	}

	if len(ps.pools) == 0 {
		pool, err := p.createPool(ps.types)
		if err != nil {
			return nil, err
		}
		ps.pools = append(ps.pools, pool)
	}

	layouts := []vk.DescriptorSetLayout{layout}
	var set vk.DescriptorSet
	pool := ps.pools[len(ps.pools)-1]
	ret := vk.AllocateDescriptorSets(p.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        layouts,
	}, &set)
	if ret == vk.ErrorOutOfPoolMemory || ret == vk.ErrorFragmentedPool {
		newPool, err := p.createPool(ps.types)
		if err != nil {
			return nil, err
		}
		ps.pools = append(ps.pools, newPool)
		ret = vk.AllocateDescriptorSets(p.device, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     newPool,
			DescriptorSetCount: 1,
			PSetLayouts:        layouts,
		}, &set)
	}
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("allocate transient descriptor set", vkutil.NewError(ret))
	}
	return set, nil
}

func (p *transientPools) createPool(types []vk.DescriptorType) (vk.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, len(types))
	for i, t := range types {
		sizes[i] = vk.DescriptorPoolSize{Type: t, DescriptorCount: descriptorBudget}
	}
	info := &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       setsPerPool,
		PoolSizeCount: uint32(len(sizes)),
	}
	if len(sizes) > 0 {
		info.PPoolSizes = sizes
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(p.device, info, nil, &pool)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create transient descriptor pool", vkutil.NewError(ret))
	}
	return pool, nil
}

// Reset resets every pool this frame touched back to empty, ready for reuse
// next frame (§9: "reset all pools at frame cycle").
func (p *transientPools) Reset() {
	for _, ps := range p.bySet {
		for _, pool := range ps.pools {
			vk.ResetDescriptorPool(p.device, pool, 0)
		}
	}
}

// Close destroys every pool ever created.
func (p *transientPools) Close() {
	for _, ps := range p.bySet {
		for _, pool := range ps.pools {
			vk.DestroyDescriptorPool(p.device, pool, nil)
		}
	}
	p.bySet = make(map[vk.DescriptorSetLayout]*transientPoolSet)
}

func dedupeTypes(types []vk.DescriptorType) []vk.DescriptorType {
	seen := make(map[vk.DescriptorType]bool, len(types))
	out := make([]vk.DescriptorType, 0, len(types))
	for _, t := range types {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// samplerCache builds and caches vk.Sampler handles by gfx.SamplerDescriptor
// value, the way pipeline layouts are cached by structural key elsewhere in
// this module.
type samplerCache struct {
	device vk.Device
	byDesc map[samplerKey]vk.Sampler
}

type samplerKey struct {
	minFilter, magFilter   vk.Filter
	mipFilter              vk.SamplerMipmapMode
	addressU, addressV, addressW vk.SamplerAddressMode
	compareOp              vk.CompareOp
	compareEnable          bool
	maxAnisotropy          float32
	anisotropyEnable       bool
}
