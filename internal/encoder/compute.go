package encoder

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/binding"
	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/pipeline"
	"github.com/oxygraph/vkframegraph/internal/registry"
	"github.com/oxygraph/vkframegraph/internal/rescmd"
	"github.com/oxygraph/vkframegraph/internal/shaderlib"
	"github.com/oxygraph/vkframegraph/internal/spirv"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// ComputeEncoder is the Command Encoders component's (C8) compute-pass
// implementation: descriptor state plus the threadsPerThreadgroup a
// DispatchThreads call derives its threadgroup count from, pipeline-keyed
// by "(descriptor, pipeline-layout, threadsPerThreadgroup)" (§4.8 compute
// encoder).
//
// Grounded the same way RenderEncoder is, narrowed to
// wgpu_renderer_backend.go's BeginComputeFrame/DispatchCompute/
// EndComputeFrame triad.
type ComputeEncoder struct {
	shared

	registry  *registry.Registry
	pipelines *pipelineCache

	descriptor            *gfx.ComputePipelineDescriptor
	threadsPerThreadgroup [3]uint32
	dirty                 bool

	curKey      pipeline.PipelineKey
	curRefl     *pipeline.PipelineReflection
	curLayout   vk.PipelineLayout
	curPipeline vk.Pipeline

	// argBufferBinds holds the descriptor set materialized for each
	// argument buffer bound this pass, keyed by its set index, bound
	// directly on every pipeline flush (§4.10, mirrors RenderEncoder).
	argBufferBinds map[uint16]vk.DescriptorSet
}

// NewComputeEncoder builds a ComputeEncoder sharing the frame's shader
// library, binding manager, and command-buffer resources.
func NewComputeEncoder(device vk.Device, library shaderlib.Library, reg *registry.Registry, bindingMgr *binding.Manager, res *CommandBufferResources) (*ComputeEncoder, error) {
	pipelines, err := newPipelineCache(device)
	if err != nil {
		return nil, err
	}
	return &ComputeEncoder{
		shared:    shared{device: device, library: library, binding: bindingMgr, res: res},
		registry:  reg,
		pipelines: pipelines,
	}, nil
}

var _ Encoder = (*ComputeEncoder)(nil)

func (e *ComputeEncoder) BeginPass(pass *gfx.Pass) error {
	e.binding.BeginPass()
	e.argBufferBinds = make(map[uint16]vk.DescriptorSet)
	e.descriptor = nil
	e.threadsPerThreadgroup = [3]uint32{}
	e.dirty = true
	return nil
}

func (e *ComputeEncoder) ExecuteCommands(pass *gfx.Pass, commands []gfx.Command, before, after map[int][]rescmd.Command, emitter *rescmd.Emitter) error {
	cb := e.res.CommandBuffer
	for i := pass.First; i < pass.Last; i++ {
		if err := runResourceCommandsAt(emitter, cb, before, i, &e.res.Submit); err != nil {
			return err
		}
		if err := e.translate(commands[i]); err != nil {
			return fmt.Errorf("encoder: command %d: %w", i, err)
		}
		if err := runResourceCommandsAt(emitter, cb, after, i, &e.res.Submit); err != nil {
			return err
		}
	}
	return nil
}

func (e *ComputeEncoder) translate(c gfx.Command) error {
	switch c.Kind {
	case gfx.CmdPushDebugGroup, gfx.CmdPopDebugGroup, gfx.CmdInsertDebugSignpost, gfx.CmdSetLabel:
		return nil
	case gfx.CmdSetBytes:
		e.binding.SetBytes(uint32(c.Offset), c.Bytes, 0)
		return nil
	case gfx.CmdSetBufferOffset:
		e.binding.SetBufferOffset(c.BindingPath, c.Offset)
		return nil
	case gfx.CmdSetBuffer:
		return e.setBuffer(c)
	case gfx.CmdSetTexture:
		return e.setTexture(c)
	case gfx.CmdSetSamplerState:
		return e.binding.SetSamplerState(c.BindingPath, *c.Sampler)
	case gfx.CmdSetArgumentBuffer:
		return e.setArgumentBuffer(c)
	case gfx.CmdSetComputePipelineDescriptor:
		e.descriptor = c.ComputePipeline
		e.curRefl = nil
		e.dirty = true
		return nil
	case gfx.CmdDispatchThreads:
		if e.threadsPerThreadgroup != c.ThreadsPerThreadgroup {
			e.threadsPerThreadgroup = c.ThreadsPerThreadgroup
			e.dirty = true
		}
		groups := [3]uint32{
			ceilDiv(c.Threads[0], c.ThreadsPerThreadgroup[0]),
			ceilDiv(c.Threads[1], c.ThreadsPerThreadgroup[1]),
			ceilDiv(c.Threads[2], c.ThreadsPerThreadgroup[2]),
		}
		return e.dispatch(groups)
	case gfx.CmdDispatchThreadgroups:
		if e.threadsPerThreadgroup != c.ThreadsPerThreadgroup {
			e.threadsPerThreadgroup = c.ThreadsPerThreadgroup
			e.dirty = true
		}
		return e.dispatch(c.ThreadgroupCount)
	case gfx.CmdDispatchThreadgroupsIndirect:
		if e.threadsPerThreadgroup != c.ThreadsPerThreadgroup {
			e.threadsPerThreadgroup = c.ThreadsPerThreadgroup
			e.dirty = true
		}
		return e.dispatchIndirect(c)
	default:
		return errUnknownCommandKind
	}
}

// ceilDiv computes the number of full groups of size covering total threads,
// per §4.8 "threadgroup count = ceil(threads / threadsPerThreadgroup)". A
// zero divisor (an unset axis) yields one group along that axis.
func ceilDiv(total, size uint32) uint32 {
	if size == 0 {
		return 1
	}
	return (total + size - 1) / size
}

func (e *ComputeEncoder) resolveBuffer(h *gfx.ResourceHandle) (vk.Buffer, error) {
	if h == nil {
		return nil, errUnresolvedBuffer
	}
	backing, ok := e.registry.BackingResource(*h)
	if !ok {
		return nil, errUnresolvedBuffer
	}
	buf, ok := backing.(vk.Buffer)
	if !ok {
		return nil, errUnresolvedBuffer
	}
	return buf, nil
}

func (e *ComputeEncoder) resolveReflection() error {
	if e.curRefl != nil {
		return nil
	}
	if e.descriptor == nil {
		return errNoActivePipeline
	}
	e.curKey = pipeline.PipelineKey{ComputeFunction: e.descriptor.Function}
	refl, err := e.library.ReflectionFor(e.curKey)
	if err != nil {
		return err
	}
	e.curRefl = refl
	return nil
}

func (e *ComputeEncoder) setBuffer(c gfx.Command) error {
	if err := e.resolveReflection(); err != nil {
		return err
	}
	buf, err := e.resolveBuffer(c.Buffer)
	if err != nil {
		return err
	}
	ar, ok := e.curRefl.ArgumentReflectionAt(c.BindingPath)
	if !ok {
		return fmt.Errorf("encoder: binding path %d not declared by active compute pipeline", c.BindingPath)
	}
	dynamic := e.binding.IsDynamic(c.BindingPath)
	e.binding.SetBuffer(c.BindingPath, buf, c.Offset, c.Range, pipeline.DescriptorType(ar.DescType, dynamic))
	return nil
}

// setArgumentBuffer resolves an argument buffer's already-materialized
// descriptor set and records it to be bound directly at its set index on
// the next pipeline flush, bypassing the binding manager entirely (§4.10,
// mirrors RenderEncoder.setArgumentBuffer).
func (e *ComputeEncoder) setArgumentBuffer(c gfx.Command) error {
	if c.ArgBuffer == nil {
		return errUnresolvedBuffer
	}
	set, ok := e.registry.ArgumentBufferSet(*c.ArgBuffer)
	if !ok {
		return fmt.Errorf("encoder: argument buffer %v has no materialized descriptor set", *c.ArgBuffer)
	}
	e.argBufferBinds[c.BindingPath.Set()] = set
	return nil
}

func (e *ComputeEncoder) setTexture(c gfx.Command) error {
	if err := e.resolveReflection(); err != nil {
		return err
	}
	ar, ok := e.curRefl.ArgumentReflectionAt(c.BindingPath)
	if !ok {
		return fmt.Errorf("encoder: binding path %d not declared by active compute pipeline", c.BindingPath)
	}

	layout := vk.ImageLayoutShaderReadOnlyOptimal
	if ar.DescType == spirv.ResourceStorageImage {
		layout = vk.ImageLayoutGeneral
	}
	if cur, ok := e.registry.CurrentLayout(*c.Texture); ok {
		layout = cur
	}
	format, _ := e.registry.TextureFormat(*c.Texture)

	view, err := e.registry.ImageView(*c.Texture, vk.ImageAspectFlags(vk.ImageAspectColorBit), 0, 1, 0, 1, format)
	if err != nil {
		return err
	}
	e.binding.SetTexture(c.BindingPath, view, layout, pipeline.DescriptorType(ar.DescType, false))
	return nil
}

// flushPipelineAndBindings rebuilds the compute pipeline if dirty, then
// flushes every descriptor set and push-constant range (§4.8/§4.10).
func (e *ComputeEncoder) flushPipelineAndBindings() error {
	if err := e.resolveReflection(); err != nil {
		return err
	}

	dynamicMasks := make(map[uint16]uint32)
	for _, set := range e.curRefl.Sets() {
		dynamicMasks[set] = e.binding.DynamicMask(set)
	}

	layout, err := e.library.PipelineLayoutFor(e.curKey, dynamicMasks)
	if err != nil {
		return err
	}
	e.curLayout = layout

	if e.dirty {
		key := computeKeyOf(e.descriptor, layout, e.threadsPerThreadgroup)
		p, err := e.pipelines.computePipeline(key, func() (vk.Pipeline, error) {
			return e.buildComputePipeline(layout)
		})
		if err != nil {
			return err
		}
		e.curPipeline = p
		vk.CmdBindPipeline(e.res.CommandBuffer, vk.PipelineBindPointCompute, p)
		e.dirty = false
	}

	for _, set := range e.curRefl.Sets() {
		setLayout, err := e.library.SetLayoutFor(e.curKey, set, dynamicMasks[set])
		if err != nil {
			return err
		}
		if err := e.binding.Flush(e.res.CommandBuffer, vk.PipelineBindPointCompute, layout, set, setLayout); err != nil {
			return err
		}
	}
	for set, descSet := range e.argBufferBinds {
		vk.CmdBindDescriptorSets(e.res.CommandBuffer, vk.PipelineBindPointCompute, layout, uint32(set), 1, []vk.DescriptorSet{descSet}, 0, nil)
	}
	e.binding.FlushPushConstants(e.res.CommandBuffer, layout, e.curRefl.PushConstantRanges())
	return nil
}

func (e *ComputeEncoder) buildComputePipeline(layout vk.PipelineLayout) (vk.Pipeline, error) {
	mod, ok := e.library.VkModule(e.descriptor.Function)
	if !ok {
		return nil, fmt.Errorf("encoder: compute function %q not found", e.descriptor.Function)
	}
	_, entry, _ := e.library.ModuleFor(e.descriptor.Function)

	createInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: mod,
			PName:  safeCString(entry),
		},
		Layout: layout,
	}

	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateComputePipelines(e.device, e.pipelines.vkPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create compute pipeline", vkutil.NewError(ret))
	}
	return pipelines[0], nil
}

func (e *ComputeEncoder) dispatch(groups [3]uint32) error {
	if err := e.flushPipelineAndBindings(); err != nil {
		return err
	}
	vk.CmdDispatch(e.res.CommandBuffer, groups[0], groups[1], groups[2])
	return nil
}

func (e *ComputeEncoder) dispatchIndirect(c gfx.Command) error {
	buf, err := e.resolveBuffer(c.IndirectBuffer)
	if err != nil {
		return err
	}
	if err := e.flushPipelineAndBindings(); err != nil {
		return err
	}
	vk.CmdDispatchIndirect(e.res.CommandBuffer, buf, vk.DeviceSize(c.IndirectOffset))
	return nil
}

func (e *ComputeEncoder) EndPass(pass *gfx.Pass, nextPass *gfx.Pass) (bool, error) {
	return false, nil
}

func (e *ComputeEncoder) EndEncoding() error {
	return nil
}

// Close releases the pipeline cache this encoder built.
func (e *ComputeEncoder) Close() {
	e.pipelines.Close()
}
