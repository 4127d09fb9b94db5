package registry

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// MaterializeArgumentBuffer allocates a descriptor set for handle if it has
// none yet, binds each declared resource into the set, and, if desc is not
// persistent, registers it for disposal at the next frame cycle (§4.4
// "Argument buffer materialization"), grounded on bind_group_provider.go's
// lazily-populated-then-written binding pattern.
func (r *Registry) MaterializeArgumentBuffer(handle gfx.ArgumentBufferHandle, desc gfx.ArgumentBufferDescriptor) error {
	r.mu.Lock()
	_, exists := r.argBuffers[handle]
	r.mu.Unlock()
	if exists {
		return r.writeArgumentBuffer(handle, desc)
	}

	layout, err := r.buildArgumentBufferLayout(desc)
	if err != nil {
		return err
	}

	var set vk.DescriptorSet
	layouts := []vk.DescriptorSetLayout{layout}
	ret := vk.AllocateDescriptorSets(r.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     r.descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        layouts,
	}, &set)
	if vkutil.IsError(ret) {
		return vkerr.NewResourceError("allocate argument buffer descriptor set", vkutil.NewError(ret))
	}

	r.mu.Lock()
	r.argBuffers[handle] = &argBufferEntry{desc: desc, set: set, layout: layout, persistent: desc.Persistent}
	if !desc.Persistent {
		r.perFrameArgBuffers = append(r.perFrameArgBuffers, handle)
	}
	r.mu.Unlock()

	return r.writeArgumentBuffer(handle, desc)
}

func (r *Registry) buildArgumentBufferLayout(desc gfx.ArgumentBufferDescriptor) (vk.DescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(desc.Entries))
	for i, e := range desc.Entries {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(e.Binding),
			DescriptorType:  e.DescType,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAllBit),
		}
	}

	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
	}
	if len(bindings) > 0 {
		info.PBindings = bindings
	}

	var layout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(r.device, &info, nil, &layout)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create argument buffer layout", vkutil.NewError(ret))
	}
	return layout, nil
}

func (r *Registry) writeArgumentBuffer(handle gfx.ArgumentBufferHandle, desc gfx.ArgumentBufferDescriptor) error {
	r.mu.Lock()
	entry, ok := r.argBuffers[handle]
	r.mu.Unlock()
	if !ok {
		return vkerr.NewResourceError("write argument buffer", errUnknownHandle)
	}

	writes := make([]vk.WriteDescriptorSet, 0, len(desc.Entries))
	bufferInfos := make([]vk.DescriptorBufferInfo, 0, len(desc.Entries))
	imageInfos := make([]vk.DescriptorImageInfo, 0, len(desc.Entries))

	for _, e := range desc.Entries {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          entry.set,
			DstBinding:      uint32(e.Binding),
			DescriptorCount: 1,
			DescriptorType:  e.DescType,
		}

		switch {
		case e.Buffer != nil:
			buf, ok := r.BackingResource(*e.Buffer)
			if !ok {
				return vkerr.NewResourceError("write argument buffer", errUnknownHandle)
			}
			bufferInfos = append(bufferInfos, vk.DescriptorBufferInfo{
				Buffer: buf.(vk.Buffer),
				Offset: vk.DeviceSize(e.Offset),
				Range:  vk.DeviceSize(e.Range),
			})
			write.PBufferInfo = bufferInfos[len(bufferInfos)-1:]
		case e.Texture != nil:
			r.mu.Lock()
			t, ok := r.textures[*e.Texture]
			r.mu.Unlock()
			if !ok {
				return vkerr.NewResourceError("write argument buffer", errUnknownHandle)
			}
			imageInfos = append(imageInfos, vk.DescriptorImageInfo{
				ImageView:   firstView(t),
				ImageLayout: t.currentLayout,
			})
			write.PImageInfo = imageInfos[len(imageInfos)-1:]
		case e.Sampler != nil:
			// Sampler-only bindings carry no resource handle; the caller is
			// expected to have created the vk.Sampler and bound it via a
			// combined-image-sampler texture entry instead. Plain sampler
			// descriptors are recorded for completeness but not realized
			// here, since Vulkan samplers are owned by the binding manager's
			// sampler cache (§4.10), not the registry.
			continue
		}

		writes = append(writes, write)
	}

	if len(writes) > 0 {
		vk.UpdateDescriptorSets(r.device, uint32(len(writes)), writes, 0, nil)
	}
	return nil
}

func firstView(t *textureEntry) vk.ImageView {
	for _, v := range t.views {
		return v
	}
	return nil
}

// ArgumentBufferSet returns the realized vk.DescriptorSet for handle.
func (r *Registry) ArgumentBufferSet(handle gfx.ArgumentBufferHandle) (vk.DescriptorSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.argBuffers[handle]
	if !ok {
		return nil, false
	}
	return e.set, true
}

// ArgumentBufferDescriptor returns the gfx.ArgumentBufferDescriptor handle
// was materialized from, so a caller can resolve a binding path inside the
// argument buffer's own declared entries (§6.2 "binding path(argument
// buffer, argument name)") rather than the shader pipeline's reflection.
func (r *Registry) ArgumentBufferDescriptor(handle gfx.ArgumentBufferHandle) (gfx.ArgumentBufferDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.argBuffers[handle]
	if !ok {
		return gfx.ArgumentBufferDescriptor{}, false
	}
	return e.desc, true
}
