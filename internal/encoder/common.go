// Package encoder implements the Command Encoders component (C8): the
// render, compute, and blit pipeline-state machines that translate the
// planner's flat command stream into Vulkan command-buffer calls, each
// sharing a Descriptor & Binding Manager (§4.10) and a bag of
// per-command-buffer Vulkan objects kept alive until GPU completion.
//
// Grounded on engine/renderer/wgpu_renderer_backend.go's
// BeginFrame/DrawCall/EndFrame and BeginComputeFrame/DispatchCompute/
// EndComputeFrame triads, and engine/renderer/pipeline/pipeline.go's
// struct/interface pairing for pipeline-state fields, retargeted from
// wgpu.RenderPassEncoder/wgpu.ComputePassEncoder onto vk.CommandBuffer.
package encoder

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/binding"
	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/rescmd"
	"github.com/oxygraph/vkframegraph/internal/shaderlib"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// Encoder is the common contract every pass-kind encoder implements (§4.8).
type Encoder interface {
	// BeginPass prepares the encoder to record commands for pass.
	BeginPass(pass *gfx.Pass) error

	// ExecuteCommands translates commands[pass.First:pass.Last] into Vulkan
	// calls, interleaving the resource-command emitter's before/after
	// passes at each command's global index (§4.9 ordering).
	ExecuteCommands(pass *gfx.Pass, commands []gfx.Command, before, after map[int][]rescmd.Command, emitter *rescmd.Emitter) error

	// EndPass closes out pass. stillValid reports whether this same
	// encoder instance may keep recording the next pass (true between
	// subpasses of the same render-target group, false otherwise), per
	// §4.8 "Return whether encoder remains valid".
	EndPass(pass *gfx.Pass, nextPass *gfx.Pass) (stillValid bool, err error)

	// EndEncoding releases any Vulkan objects the encoder built that do not
	// outlive it (pipelines and layouts are cache-owned and survive).
	EndEncoding() error
}

// CommandBufferResources is the bag of Vulkan objects one command buffer's
// recording owns: the buffer itself, the fence its submission will signal,
// and the accumulated wait/signal semaphore lists (§4.8 "a command-buffer
// resources bag"). Grounded on renderer.renderer's per-frame bookkeeping,
// generalized here to own the Vulkan-specific submission state the teacher's
// WebGPU backend never needed.
type CommandBufferResources struct {
	Device        vk.Device
	Pool          vk.CommandPool
	CommandBuffer vk.CommandBuffer
	Fence         vk.Fence
	QueueFamily   uint32
	Submit        rescmd.SubmitState
}

// NewCommandBufferResources allocates a primary command buffer from pool and
// a fence to track its completion.
func NewCommandBufferResources(device vk.Device, pool vk.CommandPool, queueFamily uint32) (*CommandBufferResources, error) {
	var buffers [1]vk.CommandBuffer
	ret := vk.AllocateCommandBuffers(device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers[:])
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("allocate command buffer", vkutil.NewError(ret))
	}

	var fence vk.Fence
	ret = vk.CreateFence(device, &vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo, Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit)}, nil, &fence)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create fence", vkutil.NewError(ret))
	}

	return &CommandBufferResources{Device: device, Pool: pool, CommandBuffer: buffers[0], Fence: fence, QueueFamily: queueFamily}, nil
}

// Reset waits on the fence (if it was ever submitted), resets the command
// buffer, and clears the accumulated submit state so the record can be
// reused for a new frame (§4.11 "release command-buffer-resources records
// back to the pool").
func (r *CommandBufferResources) Reset() error {
	ret := vk.WaitForFences(r.Device, 1, []vk.Fence{r.Fence}, vk.True, vk.MaxUint64)
	if vkutil.IsError(ret) {
		return vkerr.NewResourceError("wait command buffer fence", vkutil.NewError(ret))
	}
	if ret := vk.ResetFences(r.Device, 1, []vk.Fence{r.Fence}); vkutil.IsError(ret) {
		return vkerr.NewResourceError("reset command buffer fence", vkutil.NewError(ret))
	}
	if ret := vk.ResetCommandBuffer(r.CommandBuffer, vk.CommandBufferResetFlags(0)); vkutil.IsError(ret) {
		return vkerr.NewResourceError("reset command buffer", vkutil.NewError(ret))
	}
	r.Submit = rescmd.SubmitState{}
	return nil
}

// Begin opens recording on the command buffer.
func (r *CommandBufferResources) Begin() error {
	ret := vk.BeginCommandBuffer(r.CommandBuffer, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if vkutil.IsError(ret) {
		return vkerr.NewResourceError("begin command buffer", vkutil.NewError(ret))
	}
	return nil
}

// End closes recording on the command buffer.
func (r *CommandBufferResources) End() error {
	if ret := vk.EndCommandBuffer(r.CommandBuffer); vkutil.IsError(ret) {
		return vkerr.NewResourceError("end command buffer", vkutil.NewError(ret))
	}
	return nil
}

// Destroy frees the fence and command buffer. The pool itself is owned by
// the caller.
func (r *CommandBufferResources) Destroy() {
	vk.FreeCommandBuffers(r.Device, r.Pool, 1, []vk.CommandBuffer{r.CommandBuffer})
	vk.DestroyFence(r.Device, r.Fence, nil)
}

// shared bundles the dependencies every concrete encoder needs: the shader
// library (for modules/reflection/pipeline layouts), a binding manager, and
// the command-buffer resources it records into.
type shared struct {
	device  vk.Device
	library shaderlib.Library
	binding *binding.Manager
	res     *CommandBufferResources
}

// Rebind retargets the encoder at a new command-buffer-resources record
// without disturbing its pipeline/render-pass caches, so the Encoder
// Manager (§4.11) can keep one long-lived encoder per pass kind while the
// record it writes into cycles through the per-queue pool every frame.
func (s *shared) Rebind(res *CommandBufferResources) {
	s.res = res
}

// runResourceCommandsAt runs the before- or after-command list registered
// for global command index idx, if any (§4.9).
func runResourceCommandsAt(emitter *rescmd.Emitter, cb vk.CommandBuffer, byIndex map[int][]rescmd.Command, idx int, submit *rescmd.SubmitState) error {
	cmds, ok := byIndex[idx]
	if !ok || len(cmds) == 0 {
		return nil
	}
	return emitter.Run(cb, cmds, submit)
}

// GroupResourceCommandsByIndex splits a resource-command stack into a
// lookup table keyed by CommandIndex so ExecuteCommands can run exactly the
// commands registered at each global command-stream index, preserving the
// stack's original relative order within a group for the emitter's
// reverse-per-index traversal (§4.9).
func GroupResourceCommandsByIndex(stack []rescmd.Command) map[int][]rescmd.Command {
	byIndex := make(map[int][]rescmd.Command)
	for _, c := range stack {
		byIndex[c.CommandIndex] = append(byIndex[c.CommandIndex], c)
	}
	return byIndex
}
