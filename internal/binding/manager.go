// Package binding implements the Descriptor & Binding Manager (C10): it
// accumulates pending descriptor writes and push-constant bytes per set,
// and flushes them into a freshly allocated transient descriptor set (or a
// vk.CmdPushConstants call) immediately before each draw or dispatch
// (SPEC_FULL.md §4.10).
//
// Grounded structurally on bind_group_provider_builder.go and
// buffer_write.go's staged-write-then-flush pattern (BufferWrite structs
// accumulated across a frame, then written to the GPU queue in one
// WriteBuffers call), retargeted here onto descriptor-set population rather
// than buffer content writes.
package binding

import (
	"sort"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

func bindingKey(binding uint16, arrayIndex uint32) uint32 {
	return uint32(binding)<<16 | (arrayIndex & 0xFFFF)
}

func setBindingKey(set, binding uint16) uint64 {
	return uint64(set)<<16 | uint64(binding)
}

type pendingBufferWrite struct {
	binding  uint16
	buffer   vk.Buffer
	offset   uint64
	length   uint64
	descType vk.DescriptorType
}

type pendingImageWrite struct {
	binding  uint16
	view     vk.ImageView
	sampler  vk.Sampler
	layout   vk.ImageLayout
	descType vk.DescriptorType
}

type setState struct {
	buffers map[uint32]*pendingBufferWrite
	images  map[uint32]*pendingImageWrite
	dirty   bool
}

func newSetState() *setState {
	return &setState{buffers: make(map[uint32]*pendingBufferWrite), images: make(map[uint32]*pendingImageWrite)}
}

// Manager is the implementation of the Descriptor & Binding Manager (C10).
type Manager struct {
	device   vk.Device
	pools    *transientPools
	samplers *samplerCache
	push     pushConstantStaging

	sets map[uint16]*setState

	// offsetsThisPass/dynamicBindings implement §4.10's dynamic-buffer
	// detection: offsets are recorded per (set, binding) within a pass, and
	// the pair is classified dynamic once two distinct offsets are seen.
	// Which buffer is bound is not compared, so two different buffers bound
	// at the same set/binding at different offsets also make it dynamic.
	// Sticky once observed (§9 Open Question 2: this is a property of the
	// binding pattern, not a static shader annotation, so a set/binding that
	// is ever seen bound at two offsets within one pass stays classified
	// dynamic for every later pipeline-layout build).
	offsetsThisPass map[uint64]map[uint64]bool
	dynamicBindings map[uint64]bool
}

// New constructs a Manager bound to device.
func New(device vk.Device) *Manager {
	return &Manager{
		device:          device,
		pools:           newTransientPools(device),
		samplers:        NewSamplerCache(device),
		sets:            make(map[uint16]*setState),
		offsetsThisPass: make(map[uint64]map[uint64]bool),
		dynamicBindings: make(map[uint64]bool),
	}
}

// BeginPass clears pending bindings and push-constant bytes for the new
// pass. The sticky dynamic-binding classification survives across passes
// and frames, per §4.10.
func (m *Manager) BeginPass() {
	m.sets = make(map[uint16]*setState)
	m.offsetsThisPass = make(map[uint64]map[uint64]bool)
	m.push.reset()
}

func (m *Manager) setFor(set uint16) *setState {
	ss, ok := m.sets[set]
	if !ok {
		ss = newSetState()
		m.sets[set] = ss
	}
	return ss
}

// observeOffset records offset against (set,binding) for this pass and
// marks the pair dynamic the moment a second distinct offset is seen.
func (m *Manager) observeOffset(set, binding uint16, offset uint64) {
	key := setBindingKey(set, binding)
	seen, ok := m.offsetsThisPass[key]
	if !ok {
		seen = map[uint64]bool{offset: true}
		m.offsetsThisPass[key] = seen
		return
	}
	if seen[offset] {
		return
	}
	seen[offset] = true
	if len(seen) > 1 {
		m.dynamicBindings[key] = true
	}
}

// IsDynamic reports whether path's (set, binding) pair has ever been
// observed bound at more than one distinct offset within a single pass.
func (m *Manager) IsDynamic(path gfx.BindingPath) bool {
	return m.dynamicBindings[setBindingKey(path.Set(), path.Binding())]
}

// DynamicMask returns the bit-per-binding mask of every binding in set
// currently classified dynamic, the shape PipelineLayoutCache.LayoutFor
// consumes (§4.3).
func (m *Manager) DynamicMask(set uint16) uint32 {
	var mask uint32
	for key, dynamic := range m.dynamicBindings {
		if !dynamic || uint16(key>>16) != set {
			continue
		}
		binding := uint16(key)
		if binding < 32 {
			mask |= 1 << binding
		}
	}
	return mask
}

// SetBuffer records a pending buffer descriptor write at path (§4.10 "set
// buffer"). descType must already reflect whether this binding is
// classified dynamic (callers resolve that via IsDynamic before picking
// between the plain and *_DYNAMIC descriptor type).
func (m *Manager) SetBuffer(path gfx.BindingPath, buffer vk.Buffer, offset, length uint64, descType vk.DescriptorType) {
	m.observeOffset(path.Set(), path.Binding(), offset)
	ss := m.setFor(path.Set())
	key := bindingKey(path.Binding(), path.ArrayIndex())
	ss.buffers[key] = &pendingBufferWrite{binding: path.Binding(), buffer: buffer, offset: offset, length: length, descType: descType}
	ss.dirty = true
}

// SetBufferOffset rebinds an already-pending buffer write's offset without
// touching its buffer handle or length (§6.1 "set buffer offset").
func (m *Manager) SetBufferOffset(path gfx.BindingPath, offset uint64) {
	m.observeOffset(path.Set(), path.Binding(), offset)
	ss := m.setFor(path.Set())
	key := bindingKey(path.Binding(), path.ArrayIndex())
	if w, ok := ss.buffers[key]; ok {
		w.offset = offset
		ss.dirty = true
	}
}

// SetTexture records a pending image descriptor write at path (§4.10 "set
// texture").
func (m *Manager) SetTexture(path gfx.BindingPath, view vk.ImageView, layout vk.ImageLayout, descType vk.DescriptorType) {
	ss := m.setFor(path.Set())
	key := bindingKey(path.Binding(), path.ArrayIndex())
	existing := ss.images[key]
	sampler := vk.Sampler(nil)
	if existing != nil {
		sampler = existing.sampler
	}
	ss.images[key] = &pendingImageWrite{binding: path.Binding(), view: view, layout: layout, descType: descType, sampler: sampler}
	ss.dirty = true
}

// SetSamplerState records a pending sampler write at path (§4.10 "set
// sampler state"), building or reusing the vk.Sampler for desc from the
// manager's own sampler cache.
func (m *Manager) SetSamplerState(path gfx.BindingPath, desc gfx.SamplerDescriptor) error {
	sampler, err := m.samplers.get(desc)
	if err != nil {
		return err
	}
	ss := m.setFor(path.Set())
	key := bindingKey(path.Binding(), path.ArrayIndex())
	existing := ss.images[key]
	if existing == nil {
		existing = &pendingImageWrite{binding: path.Binding(), descType: vk.DescriptorTypeSampler}
		ss.images[key] = existing
	}
	existing.sampler = sampler
	ss.dirty = true
	return nil
}

// SetBytes appends bytes at offset to the push-constant staging slab
// (§4.10 "push constants ... issue push constants with the accumulated
// byte slab and the resource's stage mask"). stages is not recorded:
// FlushPushConstants pushes each declared range with that range's own
// stage flags from the pipeline reflection.
func (m *Manager) SetBytes(offset uint32, data []byte, stages vk.ShaderStageFlags) {
	m.push.write(offset, data, stages)
}

// Flush populates and binds a transient descriptor set for set, if it has
// pending writes, at bindPoint against pipelineLayout (§4.10 "On flush").
// layout is the vk.DescriptorSetLayout the pipeline built this set against,
// from DescriptorSetLayoutCache. Returns without binding anything if set
// has no pending writes this call (the encoder only calls Flush for sets it
// tracks as changed).
func (m *Manager) Flush(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, pipelineLayout vk.PipelineLayout, set uint16, layout vk.DescriptorSetLayout) error {
	ss, ok := m.sets[set]
	if !ok || !ss.dirty {
		return nil
	}

	types := make([]vk.DescriptorType, 0, len(ss.buffers)+len(ss.images))
	for _, w := range ss.buffers {
		types = append(types, w.descType)
	}
	for _, w := range ss.images {
		types = append(types, w.descType)
	}

	descSet, err := m.pools.Allocate(layout, types)
	if err != nil {
		return err
	}

	var writes []vk.WriteDescriptorSet
	var bufferInfos []vk.DescriptorBufferInfo
	var imageInfos []vk.DescriptorImageInfo

	var dynamicBindings []uint16
	for _, w := range sortedBufferWrites(ss.buffers) {
		// A dynamic binding's offset travels in the per-draw dynamic-offset
		// array below; the descriptor itself is written at offset 0 so the
		// range stays valid across every offset the binding is later bound
		// at. A non-dynamic binding has no such array, so its one-shot
		// offset must be baked into the descriptor here (§4.10 "set buffer
		// offset").
		descOffset := w.offset
		if isDynamicType(w.descType) {
			descOffset = 0
		}
		bufferInfos = append(bufferInfos, vk.DescriptorBufferInfo{Buffer: w.buffer, Offset: vk.DeviceSize(descOffset), Range: vk.DeviceSize(w.length)})
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          descSet,
			DstBinding:      uint32(w.binding),
			DescriptorCount: 1,
			DescriptorType:  w.descType,
			PBufferInfo:     bufferInfos[len(bufferInfos)-1:],
		})
		if isDynamicType(w.descType) {
			dynamicBindings = append(dynamicBindings, w.binding)
		}
	}
	for _, w := range sortedImageWrites(ss.images) {
		imageInfos = append(imageInfos, vk.DescriptorImageInfo{ImageView: w.view, Sampler: w.sampler, ImageLayout: w.layout})
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          descSet,
			DstBinding:      uint32(w.binding),
			DescriptorCount: 1,
			DescriptorType:  w.descType,
			PImageInfo:      imageInfos[len(imageInfos)-1:],
		})
	}

	if len(writes) > 0 {
		vk.UpdateDescriptorSets(m.device, uint32(len(writes)), writes, 0, nil)
	}

	offsets := make([]uint32, 0, len(dynamicBindings))
	sort.Slice(dynamicBindings, func(i, j int) bool { return dynamicBindings[i] < dynamicBindings[j] })
	for _, b := range dynamicBindings {
		for _, w := range ss.buffers {
			if w.binding == b {
				offsets = append(offsets, uint32(w.offset))
				break
			}
		}
	}

	sets := []vk.DescriptorSet{descSet}
	vk.CmdBindDescriptorSets(cb, bindPoint, pipelineLayout, uint32(set), 1, sets, uint32(len(offsets)), offsets)

	ss.dirty = false
	return nil
}

// FlushPushConstants issues vk.CmdPushConstants with the accumulated slab if
// any bytes are pending, one call per push-constant range declared by the
// pipeline's reflection (§4.3 "Push-constant ranges are emitted ... one
// range per resource").
func (m *Manager) FlushPushConstants(cb vk.CommandBuffer, pipelineLayout vk.PipelineLayout, ranges []vk.PushConstantRange) {
	if !m.push.dirty || len(ranges) == 0 {
		return
	}
	for _, r := range ranges {
		end := r.Offset + r.Size
		if end > uint32(len(m.push.bytes)) {
			end = uint32(len(m.push.bytes))
		}
		if r.Offset >= end {
			continue
		}
		vk.CmdPushConstants(cb, pipelineLayout, r.StageFlags, r.Offset, end-r.Offset, unsafePointer(m.push.bytes[r.Offset:end]))
	}
	m.push.dirty = false
}

// CycleFrame resets the transient descriptor pools for reuse next frame
// (§9: "reset all pools at frame cycle").
func (m *Manager) CycleFrame() {
	m.pools.Reset()
}

// Close destroys every Vulkan object the manager owns.
func (m *Manager) Close() {
	m.pools.Close()
	m.samplers.Close()
}

func sortedBufferWrites(m map[uint32]*pendingBufferWrite) []*pendingBufferWrite {
	out := make([]*pendingBufferWrite, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].binding < out[j].binding })
	return out
}

func sortedImageWrites(m map[uint32]*pendingImageWrite) []*pendingImageWrite {
	out := make([]*pendingImageWrite, 0, len(m))
	for _, w := range m {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].binding < out[j].binding })
	return out
}

func isDynamicType(t vk.DescriptorType) bool {
	return t == vk.DescriptorTypeUniformBufferDynamic || t == vk.DescriptorTypeStorageBufferDynamic
}

// NewSamplerCache constructs an empty sampler cache bound to device.
func NewSamplerCache(device vk.Device) *samplerCache {
	return &samplerCache{device: device, byDesc: make(map[samplerKey]vk.Sampler)}
}

func (c *samplerCache) get(desc gfx.SamplerDescriptor) (vk.Sampler, error) {
	key := samplerKey{
		minFilter: desc.MinFilter, magFilter: desc.MagFilter, mipFilter: desc.MipFilter,
		addressU: desc.AddressModeU, addressV: desc.AddressModeV, addressW: desc.AddressModeW,
		compareOp: desc.CompareOp, compareEnable: desc.CompareEnable,
		maxAnisotropy: desc.MaxAnisotropy, anisotropyEnable: desc.AnisotropyEnable,
	}
	if s, ok := c.byDesc[key]; ok {
		return s, nil
	}

	var sampler vk.Sampler
	ret := vk.CreateSampler(c.device, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               desc.MagFilter,
		MinFilter:               desc.MinFilter,
		MipmapMode:              desc.MipFilter,
		AddressModeU:            desc.AddressModeU,
		AddressModeV:            desc.AddressModeV,
		AddressModeW:            desc.AddressModeW,
		AnisotropyEnable:        vk.Bool32(boolToUint32(desc.AnisotropyEnable)),
		MaxAnisotropy:           desc.MaxAnisotropy,
		CompareEnable:           vk.Bool32(boolToUint32(desc.CompareEnable)),
		CompareOp:               desc.CompareOp,
		BorderColor:             vk.BorderColorFloatTransparentBlack,
		UnnormalizedCoordinates: vk.False,
	}, nil, &sampler)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create sampler", vkutil.NewError(ret))
	}
	c.byDesc[key] = sampler
	return sampler, nil
}

func (c *samplerCache) Close() {
	for _, s := range c.byDesc {
		vk.DestroySampler(c.device, s, nil)
	}
	c.byDesc = make(map[samplerKey]vk.Sampler)
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
