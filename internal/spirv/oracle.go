package spirv

import "fmt"

// EntryPoints returns every entry point the module declares, in declaration
// order.
func (m *Module) EntryPoints() []EntryPoint {
	out := make([]EntryPoint, len(m.entryPoints))
	copy(out, m.entryPoints)
	return out
}

// SetActiveEntryPoint scopes Resources and SpecializationConstants to the
// named entry point. It is an error to call this with a name the module
// doesn't declare.
func (m *Module) SetActiveEntryPoint(name string) error {
	for i, ep := range m.entryPoints {
		if ep.Name == name {
			m.activeEntry = i
			return nil
		}
	}
	return fmt.Errorf("spirv: no entry point named %q", name)
}

// RenameEntryPoint rewrites the reflected name of an entry point (shader
// libraries key modules by the names they were authored with; the pipeline
// layer may need to rename an entry point to disambiguate two stages sharing
// a module, per SPEC_FULL.md §4.1).
func (m *Module) RenameEntryPoint(from, to string) error {
	for i, ep := range m.entryPoints {
		if ep.Name == from {
			m.entryPoints[i].Name = to
			return nil
		}
	}
	return fmt.Errorf("spirv: no entry point named %q", from)
}

// RenameMainTo renames the sole entry point named "main", the conventional
// default a shader compiler emits when no explicit name was given.
func (m *Module) RenameMainTo(name string) error {
	return m.RenameEntryPoint("main", name)
}

// Resources walks the variables reachable from the active entry point (or
// every variable in the module, if none was set) and invokes visit once per
// resolved interface resource. Iteration stops and the error propagates if
// visit returns a non-nil error.
func (m *Module) Resources(visit func(Resource) error) error {
	ids := m.resourceCandidates()
	for _, id := range ids {
		res, ok := m.resolveResource(id)
		if !ok {
			continue
		}
		if err := visit(res); err != nil {
			return err
		}
	}
	return nil
}

// resourceCandidates returns the set of variable ids in scope: the active
// entry point's interface list if one is set, else every declared variable.
func (m *Module) resourceCandidates() []uint32 {
	if m.activeEntry >= 0 && m.activeEntry < len(m.entryPoints) {
		return m.entryPoints[m.activeEntry].Interface
	}
	ids := make([]uint32, 0, len(m.vars))
	for id := range m.vars {
		ids = append(ids, id)
	}
	return ids
}

func (m *Module) resolveResource(varID uint32) (Resource, bool) {
	ptrTypeID, ok := m.vars[varID]
	if !ok {
		return Resource{}, false
	}
	ptr, ok := m.types[ptrTypeID]
	if !ok || ptr.kind != opTypePointer {
		return Resource{}, false
	}

	switch ptr.storageClass {
	case StoragePushConstant:
		return Resource{
			Type:   ResourcePushConstantBuffer,
			Set:    PushConstantSet,
			Range:  m.structRange(ptr.pointeeID),
			Name:   m.names[varID],
			Access: AccessReadWrite,
		}, true
	case StorageUniform, StorageStorageBuffer:
		return m.resolveBufferResource(varID, ptr)
	case StorageUniformConstant:
		return m.resolveOpaqueResource(varID, ptr)
	default:
		// StorageInput/Output/Workgroup/Private/Function are not descriptor
		// resources; nothing for the binding manager to bind.
		return Resource{}, false
	}
}

func (m *Module) resolveBufferResource(varID uint32, ptr typeInfo) (Resource, bool) {
	set, bind := m.decSet[varID], m.decBind[varID]
	if !m.hasSet[varID] || !m.hasBind[varID] {
		return Resource{}, false
	}

	rtype := ResourceUniformBuffer
	switch {
	case m.bufferBlock[ptr.pointeeID]:
		rtype = ResourceStorageBuffer
	case ptr.storageClass == StorageStorageBuffer && m.block[ptr.pointeeID]:
		rtype = ResourceStorageBuffer
	case m.block[ptr.pointeeID]:
		rtype = ResourceUniformBuffer
	}

	allNonWritable, allNonReadable := false, false
	if t, ok := m.types[ptr.pointeeID]; ok && len(t.members) > 0 {
		allNonWritable, allNonReadable = true, true
		for i := range t.members {
			md := m.memberDec[ptr.pointeeID][uint32(i)]
			allNonWritable = allNonWritable && md != nil && md.nonWritable
			allNonReadable = allNonReadable && md != nil && md.nonReadable
		}
	}

	access := AccessReadWrite
	if rtype == ResourceUniformBuffer {
		access = AccessRead
	} else if m.nonWritable[varID] || allNonWritable {
		access = AccessRead
	} else if m.nonReadable[varID] || allNonReadable {
		access = AccessWrite
	}

	return Resource{
		Type:    rtype,
		Set:     set,
		Binding: bind,
		Range:   m.structRange(ptr.pointeeID),
		Name:    m.names[varID],
		Access:  access,
	}, true
}

func (m *Module) resolveOpaqueResource(varID uint32, ptr typeInfo) (Resource, bool) {
	set, bind := m.decSet[varID], m.decBind[varID]
	if !m.hasSet[varID] || !m.hasBind[varID] {
		return Resource{}, false
	}

	pointee, ok := m.types[ptr.pointeeID]
	if !ok {
		return Resource{}, false
	}

	access := AccessReadWrite
	if m.nonWritable[varID] {
		access = AccessRead
	} else if m.nonReadable[varID] {
		access = AccessWrite
	}

	var rtype ResourceType
	switch pointee.kind {
	case opTypeSampler:
		rtype = ResourceSampler
		access = AccessNone
	case opTypeSampledImage:
		rtype = ResourceSampledImage
		access = AccessRead
	case opTypeImage:
		switch {
		case pointee.dim == dimSubpassData:
			rtype = ResourceSubpassInput
			access = AccessRead
		case pointee.dim == dimBuffer && pointee.sampled == 1:
			rtype = ResourceUniformTexelBuffer
			access = AccessRead
		case pointee.dim == dimBuffer && pointee.sampled == 2:
			rtype = ResourceStorageTexelBuffer
		case pointee.sampled == 2:
			rtype = ResourceStorageImage
		default:
			rtype = ResourceSampledImage
			access = AccessRead
		}
	default:
		return Resource{}, false
	}

	return Resource{
		Type:    rtype,
		Set:     set,
		Binding: bind,
		Name:    m.names[varID],
		Access:  access,
	}, true
}

// structRange sums member offsets and a conservative trailing span for a
// struct type id, producing the byte range a uniform/storage/push-constant
// block occupies. Used by the descriptor/binding manager to size host
// staging buffers without re-parsing the module.
func (m *Module) structRange(structID uint32) ByteRange {
	t, ok := m.types[structID]
	if !ok || t.kind != opTypeStruct {
		return ByteRange{}
	}
	var maxOffset uint32
	byMember := m.memberDec[structID]
	for i := range t.members {
		md, ok := byMember[uint32(i)]
		if ok && md.hasOffset && md.offset > maxOffset {
			maxOffset = md.offset
		}
	}
	// Span is reported as the highest known member offset; the caller
	// (pipeline layer) pads to the declared struct size via std140/std430
	// rules it already derives from the member type chain.
	return ByteRange{Offset: 0, Span: maxOffset}
}

// SpecializationConstants invokes visit once per specialization constant
// declared in the module, in declaration order.
func (m *Module) SpecializationConstants(visit func(ordinal int, constantID uint32, name string) error) error {
	for _, sc := range m.specConsts {
		name := sc.Name
		if name == "" {
			name = m.names[sc.ConstantID]
		}
		if err := visit(sc.Ordinal, sc.ConstantID, name); err != nil {
			return err
		}
	}
	return nil
}
