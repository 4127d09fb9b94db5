// Package encodermgr implements the Encoder Manager (C11): the component
// that receives one frame's passes, resource-usage table, and flat command
// stream from the planner and drives the Command Encoders (C8) that turn
// them into submitted Vulkan work.
//
// Grounded directly on engine/renderer/renderer.go's renderer struct: a
// facade driven from the single planner thread that owns a cache (there,
// pipelines; here, per-queue command-buffer-resources pools) and routes
// calls through to the right backend object. Only the per-role free list,
// which the background completion task also touches, is mutex-guarded. The per-queue fence-wait +
// completion-callback step is dispatched onto a
// github.com/Carmen-Shannon/automation/tools/worker.DynamicWorkerPool task
// rather than a bare goroutine, mirroring engine/scene/scene.go's use of the
// same pool for CPU-side fan-out work (§ AMBIENT STACK).
package encodermgr

import (
	"fmt"
	"sync"
	"time"

	vk "github.com/vulkan-go/vulkan"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/oxygraph/vkframegraph/internal/binding"
	"github.com/oxygraph/vkframegraph/internal/encoder"
	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/registry"
	"github.com/oxygraph/vkframegraph/internal/rescmd"
	"github.com/oxygraph/vkframegraph/internal/rtdescriptor"
	"github.com/oxygraph/vkframegraph/internal/shaderlib"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// QueueRole distinguishes which logical Vulkan queue a pass's commands are
// submitted to (§4.11 "one fence per non-empty queue").
type QueueRole int

const (
	RoleGraphics QueueRole = iota
	RoleCompute
)

// QueueConfig names the queue and queue family backing a QueueRole.
type QueueConfig struct {
	Queue  vk.Queue
	Family uint32
}

type roleState struct {
	cfg  QueueConfig
	pool vk.CommandPool
}

// Manager is the Encoder Manager (C11). It owns one long-lived encoder per
// pass kind (so their pipeline/render-pass caches survive across frames)
// and a pool of CommandBufferResources per queue role that those encoders
// are rebound onto every frame.
type Manager struct {
	device     vk.Device
	registry   *registry.Registry
	workers    worker.DynamicWorkerPool
	bindingMgr *binding.Manager
	emitter    *rescmd.Emitter

	roles map[QueueRole]*roleState

	renderEnc  *encoder.RenderEncoder
	computeEnc *encoder.ComputeEncoder
	blitEnc    *encoder.BlitEncoder

	freeMu sync.Mutex
	free   map[QueueRole][]*encoder.CommandBufferResources

	frame map[QueueRole]*encoder.CommandBufferResources

	cur struct {
		kind    gfx.PassKind
		role    QueueRole
		enc     encoder.Encoder
		render  *encoder.RenderEncoder
		groupID int
	}

	taskID int
}

// New constructs a Manager. graphics is required; compute is optional (nil
// routes compute passes onto the graphics queue, the common case for a
// single combined queue).
func New(device vk.Device, reg *registry.Registry, lib shaderlib.Library, events *rescmd.EventPool, semaphores *rescmd.SemaphorePool, graphics QueueConfig, compute *QueueConfig) (*Manager, error) {
	m := &Manager{
		device:   device,
		registry: reg,
		workers:  worker.NewDynamicWorkerPool(4, 64, 5*time.Second),
		roles:    make(map[QueueRole]*roleState),
		free:     make(map[QueueRole][]*encoder.CommandBufferResources),
		frame:    make(map[QueueRole]*encoder.CommandBufferResources),
	}

	gpool, err := newCommandPool(device, graphics.Family)
	if err != nil {
		return nil, err
	}
	m.roles[RoleGraphics] = &roleState{cfg: graphics, pool: gpool}

	if compute != nil && compute.Queue != graphics.Queue {
		cpool, err := newCommandPool(device, compute.Family)
		if err != nil {
			return nil, err
		}
		m.roles[RoleCompute] = &roleState{cfg: *compute, pool: cpool}
	}

	bindingMgr := binding.New(device)
	emitter := rescmd.New(reg, events, semaphores)

	renderEnc, err := encoder.NewRenderEncoder(device, lib, reg, bindingMgr, nil)
	if err != nil {
		return nil, err
	}
	computeEnc, err := encoder.NewComputeEncoder(device, lib, reg, bindingMgr, nil)
	if err != nil {
		return nil, err
	}

	m.renderEnc = renderEnc
	m.computeEnc = computeEnc
	m.blitEnc = encoder.NewBlitEncoder(device, reg, nil)
	m.bindingMgr = bindingMgr
	m.emitter = emitter

	return m, nil
}

func newCommandPool(device vk.Device, family uint32) (vk.CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: family,
	}, nil, &pool)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create command pool", vkutil.NewError(ret))
	}
	return pool, nil
}

// ExecuteFrameGraph is the Encoder Manager's entry point (§6.2
// "ExecuteFrameGraph(passes, resourceUsages, commands, completionCallback)"):
// it routes each pass to the right long-lived encoder, submits one fence
// per queue role touched this frame, and invokes completion once every
// fence signals.
func (m *Manager) ExecuteFrameGraph(passes []gfx.Pass, usage gfx.ResourceUsageTable, commands []gfx.Command, completion func()) error {
	groups := rtdescriptor.GroupDrawPasses(passes)
	groupDescs, groupOf := buildGroupIndex(groups, usage, m.registry)
	before := rescmd.Plan(usage, m.registry.IsTexture)

	m.cur.enc = nil
	m.cur.render = nil

	var prevPass *gfx.Pass
	for i := range passes {
		pass := &passes[i]
		role := m.roleFor(pass.Kind)

		sameEncoder := m.cur.enc != nil && m.cur.kind == pass.Kind && m.cur.role == role
		if !sameEncoder {
			if m.cur.enc != nil {
				if err := m.endCurrentEncoder(prevPass, pass); err != nil {
					return err
				}
			}
			if err := m.beginEncoder(pass.Kind, role); err != nil {
				return err
			}
		}

		if pass.Kind == gfx.PassDraw {
			groupID := groupOf[pass.PassIndex]
			first := !sameEncoder || groupID != m.cur.groupID
			if sameEncoder && first {
				if _, err := m.cur.render.EndRenderPass(encoder.EndInfo{NextInSameGroup: false}); err != nil {
					return err
				}
			}
			if !first {
				if _, err := m.cur.render.EndRenderPass(encoder.EndInfo{NextInSameGroup: true}); err != nil {
					return err
				}
			}
			if err := m.cur.render.BeginRenderPass(encoder.BeginInfo{Pass: pass, Group: groupDescs[groupID], FirstInGroup: first}); err != nil {
				return err
			}
			m.cur.groupID = groupID
		} else if sameEncoder {
			if _, err := m.cur.enc.EndPass(prevPass, pass); err != nil {
				return err
			}
			if err := m.cur.enc.BeginPass(pass); err != nil {
				return err
			}
		} else {
			if err := m.cur.enc.BeginPass(pass); err != nil {
				return err
			}
		}

		if err := m.cur.enc.ExecuteCommands(pass, commands, before, nil, m.emitter); err != nil {
			return fmt.Errorf("encodermgr: pass %d: %w", pass.PassIndex, err)
		}
		prevPass = pass
	}

	if m.cur.enc != nil {
		if err := m.endCurrentEncoder(prevPass, nil); err != nil {
			return err
		}
	}

	return m.submit(completion)
}

// roleFor picks the queue role a pass's commands submit to. Compute passes
// use the dedicated compute queue if one was configured; everything else
// (draw, blit, external-command) uses the graphics queue.
func (m *Manager) roleFor(kind gfx.PassKind) QueueRole {
	if kind == gfx.PassCompute {
		if _, ok := m.roles[RoleCompute]; ok {
			return RoleCompute
		}
	}
	return RoleGraphics
}

// buildGroupIndex runs Build once per render-target group and returns both
// the built descriptors and a PassIndex → group-slot lookup so
// ExecuteFrameGraph can answer "is this pass starting a new render-target
// group" in O(1) (§4.6/§4.11).
func buildGroupIndex(groups []rtdescriptor.PassGroup, usage gfx.ResourceUsageTable, src rtdescriptor.LayoutSource) ([]*rtdescriptor.Descriptor, map[int]int) {
	descs := make([]*rtdescriptor.Descriptor, len(groups))
	of := make(map[int]int, len(groups))
	for gi, g := range groups {
		descs[gi] = rtdescriptor.Build(g, usage, src)
		for _, pi := range g.PassIndices {
			of[pi] = gi
		}
	}
	return descs, of
}

// beginEncoder activates the long-lived encoder for kind, rebinding it onto
// this frame's command-buffer-resources record for role (acquiring one from
// the pool on first use this frame).
func (m *Manager) beginEncoder(kind gfx.PassKind, role QueueRole) error {
	res, err := m.frameResources(role)
	if err != nil {
		return err
	}

	switch kind {
	case gfx.PassDraw:
		m.renderEnc.Rebind(res)
		m.cur.enc = m.renderEnc
		m.cur.render = m.renderEnc
	case gfx.PassCompute:
		m.computeEnc.Rebind(res)
		m.cur.enc = m.computeEnc
		m.cur.render = nil
	default: // PassBlit, PassExternalCommand
		m.blitEnc.Rebind(res)
		m.cur.enc = m.blitEnc
		m.cur.render = nil
	}
	m.cur.kind = kind
	m.cur.role = role
	m.cur.groupID = -1
	return nil
}

// endCurrentEncoder closes out the active encoder's current pass (ending
// the render pass on a draw encoder, or calling the narrow EndPass
// otherwise) and releases whatever encoder-owned resources do not outlive
// the pass (§4.8 EndEncoding).
func (m *Manager) endCurrentEncoder(prevPass, nextPass *gfx.Pass) error {
	if m.cur.kind == gfx.PassDraw {
		if _, err := m.cur.render.EndRenderPass(encoder.EndInfo{NextInSameGroup: false}); err != nil {
			return err
		}
	} else if _, err := m.cur.enc.EndPass(prevPass, nextPass); err != nil {
		return err
	}
	if err := m.cur.enc.EndEncoding(); err != nil {
		return err
	}
	m.cur.enc = nil
	m.cur.render = nil
	return nil
}

// frameResources returns this frame's command-buffer-resources record for
// role, acquiring one from the free pool (or allocating a fresh one) on
// first use.
func (m *Manager) frameResources(role QueueRole) (*encoder.CommandBufferResources, error) {
	if res, ok := m.frame[role]; ok {
		return res, nil
	}
	res, err := m.acquire(role)
	if err != nil {
		return nil, err
	}
	m.frame[role] = res
	return res, nil
}

// acquire draws a reset, recording-ready CommandBufferResources from role's
// free list, allocating a new one if the pool is empty.
func (m *Manager) acquire(role QueueRole) (*encoder.CommandBufferResources, error) {
	m.freeMu.Lock()
	var res *encoder.CommandBufferResources
	if n := len(m.free[role]); n > 0 {
		res = m.free[role][n-1]
		m.free[role] = m.free[role][:n-1]
	}
	m.freeMu.Unlock()

	if res == nil {
		rs := m.roles[role]
		r, err := encoder.NewCommandBufferResources(m.device, rs.pool, rs.cfg.Family)
		if err != nil {
			return nil, err
		}
		res = r
	} else if err := res.Reset(); err != nil {
		return nil, err
	}
	if err := res.Begin(); err != nil {
		return nil, err
	}
	return res, nil
}

type pendingSubmission struct {
	role QueueRole
	res  *encoder.CommandBufferResources
}

// submit ends recording on every queue role touched this frame, submits
// each role's command buffer against its own fence, and hands the
// fence-wait-then-callback step to the worker pool so the planner thread
// does not block on GPU completion (§4.11 steps 2-3).
func (m *Manager) submit(completion func()) error {
	m.bindingMgr.CycleFrame()

	var pending []pendingSubmission
	for role, res := range m.frame {
		if err := res.End(); err != nil {
			return err
		}
		rs := m.roles[role]
		submitInfo := vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(res.Submit.WaitSemaphores)),
			PWaitSemaphores:      res.Submit.WaitSemaphores,
			PWaitDstStageMask:    res.Submit.WaitStageMasks,
			CommandBufferCount:   1,
			PCommandBuffers:      []vk.CommandBuffer{res.CommandBuffer},
			SignalSemaphoreCount: uint32(len(res.Submit.SignalSemaphores)),
			PSignalSemaphores:    res.Submit.SignalSemaphores,
		}
		if ret := vk.QueueSubmit(rs.cfg.Queue, 1, []vk.SubmitInfo{submitInfo}, res.Fence); vkutil.IsError(ret) {
			return vkerr.NewResourceError("queue submit", vkutil.NewError(ret))
		}
		pending = append(pending, pendingSubmission{role: role, res: res})
		delete(m.frame, role)
	}

	m.registry.Cycle()

	if len(pending) == 0 {
		if completion != nil {
			completion()
		}
		return nil
	}

	m.taskID++
	id := m.taskID
	m.workers.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			fences := make([]vk.Fence, len(pending))
			for i, p := range pending {
				fences[i] = p.res.Fence
			}
			vk.WaitForFences(m.device, uint32(len(fences)), fences, vk.True, vk.MaxUint64)

			if completion != nil {
				completion()
			}

			m.freeMu.Lock()
			for _, p := range pending {
				m.free[p.role] = append(m.free[p.role], p.res)
			}
			m.freeMu.Unlock()
			return nil, nil
		},
	})
	return nil
}

// Close destroys every Vulkan object the manager owns: the long-lived
// encoders' caches, every pooled command-buffer-resources record, the
// binding manager's transient descriptor pools, and the command pools
// themselves.
func (m *Manager) Close() {
	m.renderEnc.Close()
	m.computeEnc.Close()
	m.bindingMgr.Close()

	m.freeMu.Lock()
	for _, list := range m.free {
		for _, res := range list {
			res.Destroy()
		}
	}
	m.freeMu.Unlock()

	for _, rs := range m.roles {
		vk.DestroyCommandPool(m.device, rs.pool, nil)
	}
}
