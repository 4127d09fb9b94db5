package rescmd

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/gfx"
	"github.com/oxygraph/vkframegraph/internal/registry"
	"github.com/oxygraph/vkframegraph/internal/vkerr"
)

// Kind discriminates a resource command (§4.9).
type Kind int

const (
	KindMaterializeBuffer Kind = iota
	KindMaterializeTexture
	KindDisposeBuffer
	KindDisposeTexture
	KindSignalEvent
	KindWaitEvent
	KindSignalSemaphore
	KindWaitSemaphore
	KindPipelineBarrier
	KindStoreResource
)

// ImageBarrier is the abstract image memory barrier a resource command may
// carry (§4.9 "pipeline barrier(... image-or-buffer barrier)").
type ImageBarrier struct {
	Texture      gfx.ResourceHandle
	OldLayout    vk.ImageLayout
	NewLayout    vk.ImageLayout
	SrcAccess    vk.AccessFlagBits
	DstAccess    vk.AccessFlagBits
	AspectMask   vk.ImageAspectFlags
	BaseMip      uint32
	MipCount     uint32
	BaseLayer    uint32
	LayerCount   uint32
}

// BufferBarrier is the abstract buffer memory barrier a resource command may
// carry.
type BufferBarrier struct {
	Buffer    gfx.ResourceHandle
	SrcAccess vk.AccessFlagBits
	DstAccess vk.AccessFlagBits
	Offset    uint64
	Size      uint64
}

// Command is one entry on the resource-command stack (§4.9).
type Command struct {
	CommandIndex int
	Kind         Kind

	// materialize buffer / dispose buffer
	Buffer     gfx.ResourceHandle
	BufferDesc gfx.BufferDescriptor

	// materialize texture / dispose texture
	Texture        gfx.ResourceHandle
	TextureDesc    gfx.TextureDescriptor
	DestStageMask  vk.PipelineStageFlagBits
	InitialBarrier *ImageBarrier

	// signal/wait event, signal/wait semaphore
	ID         uint64
	StageMask  vk.PipelineStageFlagBits

	// pipeline barrier
	SrcStageMask vk.PipelineStageFlagBits
	DstStageMask vk.PipelineStageFlagBits
	Image        *ImageBarrier
	BufferBar    *BufferBarrier

	// store resource: Buffer or Texture (per IsBuffer) names the stored
	// resource; ID is the fresh semaphore id the caller minted for it.
	FinalLayout *vk.ImageLayout
	IsBuffer    bool
}

// SubmitState accumulates the semaphore wait/signal lists a command buffer
// will be submitted with (§4.9 "added to the command buffer's signal/wait
// lists").
type SubmitState struct {
	WaitSemaphores   []vk.Semaphore
	WaitStageMasks   []vk.PipelineStageFlags
	SignalSemaphores []vk.Semaphore
}

// Emitter runs the resource-command stream against the registry and a live
// command buffer (§4.9).
type Emitter struct {
	registry  *registry.Registry
	events    *EventPool
	semaphores *SemaphorePool
}

// New constructs an Emitter.
func New(reg *registry.Registry, events *EventPool, semaphores *SemaphorePool) *Emitter {
	return &Emitter{registry: reg, events: events, semaphores: semaphores}
}

// Run processes commands in reverse order within each contiguous run of
// equal CommandIndex, matching §4.9's ordering: "before-commands run in
// reverse of the stack for the index until a different index appears".
// cb is the command buffer barriers and event waits are recorded into.
func (e *Emitter) Run(cb vk.CommandBuffer, commands []Command, submit *SubmitState) error {
	i := len(commands) - 1
	for i >= 0 {
		idx := commands[i].CommandIndex
		j := i
		for j >= 0 && commands[j].CommandIndex == idx {
			j--
		}
		for k := i; k > j; k-- {
			if err := e.apply(cb, commands[k], submit); err != nil {
				return err
			}
		}
		i = j
	}
	return nil
}

func (e *Emitter) apply(cb vk.CommandBuffer, c Command, submit *SubmitState) error {
	switch c.Kind {
	case KindMaterializeBuffer:
		return e.materializeBuffer(cb, c, submit)
	case KindMaterializeTexture:
		return e.materializeTexture(cb, c, submit)
	case KindDisposeBuffer:
		return e.registry.DisposeBuffer(c.Buffer)
	case KindDisposeTexture:
		return e.registry.DisposeTexture(c.Texture)
	case KindSignalEvent:
		ev, err := e.events.Acquire(c.ID)
		if err != nil {
			return err
		}
		vk.CmdSetEvent(cb, ev, vk.PipelineStageFlags(c.StageMask))
		return nil
	case KindWaitEvent:
		ev, err := e.events.Acquire(c.ID)
		if err != nil {
			return err
		}
		vk.CmdWaitEvents(cb, 1, []vk.Event{ev}, vk.PipelineStageFlags(c.SrcStageMask), vk.PipelineStageFlags(c.DstStageMask), 0, nil, 0, nil, 0, nil)
		return nil
	case KindSignalSemaphore:
		s, err := e.semaphores.Acquire(c.ID)
		if err != nil {
			return err
		}
		submit.SignalSemaphores = append(submit.SignalSemaphores, s)
		return nil
	case KindWaitSemaphore:
		s, err := e.semaphores.Acquire(c.ID)
		if err != nil {
			return err
		}
		submit.WaitSemaphores = append(submit.WaitSemaphores, s)
		submit.WaitStageMasks = append(submit.WaitStageMasks, vk.PipelineStageFlags(c.StageMask))
		return nil
	case KindPipelineBarrier:
		return e.pipelineBarrier(cb, c)
	case KindStoreResource:
		return e.storeResource(c, submit)
	default:
		return vkerr.NewResourceError("resource command", errUnknownKind)
	}
}

func (e *Emitter) materializeBuffer(cb vk.CommandBuffer, c Command, submit *SubmitState) error {
	if err := e.registry.AllocateBufferIfNeeded(c.Buffer, c.BufferDesc); err != nil {
		return err
	}
	if sem, stage, ok := e.registry.TakeBufferWaitSemaphore(c.Buffer); ok {
		submit.WaitSemaphores = append(submit.WaitSemaphores, sem)
		submit.WaitStageMasks = append(submit.WaitStageMasks, vk.PipelineStageFlags(stage))
	}
	staged, ok := e.registry.PendingStagedCopy(c.Buffer, c.BufferDesc.Length)
	if !ok {
		return nil
	}
	dst, _ := e.registry.BackingResource(c.Buffer)
	dstBuf, ok := dst.(vk.Buffer)
	if !ok {
		return nil
	}
	vk.CmdCopyBuffer(cb, staged.SrcBuffer, dstBuf, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(staged.SrcOffset),
		DstOffset: vk.DeviceSize(staged.DstOffset),
		Size:      vk.DeviceSize(staged.Size),
	}})
	return nil
}

func (e *Emitter) materializeTexture(cb vk.CommandBuffer, c Command, submit *SubmitState) error {
	initialLayout := vk.ImageLayoutUndefined
	if c.InitialBarrier != nil {
		initialLayout = c.InitialBarrier.NewLayout
	}
	if err := e.registry.AllocateTextureIfNeeded(c.Texture, c.TextureDesc, initialLayout); err != nil {
		return err
	}
	if sem, stage, ok := e.registry.TakeTextureWaitSemaphore(c.Texture); ok {
		submit.WaitSemaphores = append(submit.WaitSemaphores, sem)
		submit.WaitStageMasks = append(submit.WaitStageMasks, vk.PipelineStageFlags(stage))
	}

	if c.InitialBarrier == nil {
		return nil
	}

	current, _ := e.registry.CurrentLayout(c.Texture)
	if current == c.InitialBarrier.NewLayout {
		return nil
	}

	oldLayout := c.InitialBarrier.OldLayout
	if oldLayout == vk.ImageLayoutPreinitialized {
		oldLayout = current
	}

	backing, ok := e.registry.BackingResource(c.Texture)
	if !ok {
		return vkerr.NewResourceError("materialize texture", errUnknownKind)
	}
	img, _ := backing.(vk.Image)

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(c.InitialBarrier.SrcAccess),
		DstAccessMask:       vk.AccessFlags(c.InitialBarrier.DstAccess),
		OldLayout:           oldLayout,
		NewLayout:           c.InitialBarrier.NewLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     c.InitialBarrier.AspectMask,
			BaseMipLevel:   c.InitialBarrier.BaseMip,
			LevelCount:     c.InitialBarrier.MipCount,
			BaseArrayLayer: c.InitialBarrier.BaseLayer,
			LayerCount:     c.InitialBarrier.LayerCount,
		},
	}
	vk.CmdPipelineBarrier(cb, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), vk.PipelineStageFlags(c.DestStageMask),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	e.registry.SetCurrentLayout(c.Texture, c.InitialBarrier.NewLayout)
	return nil
}

func (e *Emitter) pipelineBarrier(cb vk.CommandBuffer, c Command) error {
	var imageBarriers []vk.ImageMemoryBarrier
	var bufferBarriers []vk.BufferMemoryBarrier

	if c.Image != nil {
		backing, ok := e.registry.BackingResource(c.Image.Texture)
		if !ok {
			return vkerr.NewResourceError("pipeline barrier", errUnknownKind)
		}
		img, _ := backing.(vk.Image)
		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(c.Image.SrcAccess),
			DstAccessMask:       vk.AccessFlags(c.Image.DstAccess),
			OldLayout:           c.Image.OldLayout,
			NewLayout:           c.Image.NewLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     c.Image.AspectMask,
				BaseMipLevel:   c.Image.BaseMip,
				LevelCount:     c.Image.MipCount,
				BaseArrayLayer: c.Image.BaseLayer,
				LayerCount:     c.Image.LayerCount,
			},
		})
	}

	if c.BufferBar != nil {
		backing, ok := e.registry.BackingResource(c.BufferBar.Buffer)
		if !ok {
			return vkerr.NewResourceError("pipeline barrier", errUnknownKind)
		}
		buf, _ := backing.(vk.Buffer)
		bufferBarriers = append(bufferBarriers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(c.BufferBar.SrcAccess),
			DstAccessMask:       vk.AccessFlags(c.BufferBar.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              buf,
			Offset:              vk.DeviceSize(c.BufferBar.Offset),
			Size:                vk.DeviceSize(c.BufferBar.Size),
		})
	}

	vk.CmdPipelineBarrier(cb, vk.PipelineStageFlags(c.SrcStageMask), vk.PipelineStageFlags(c.DstStageMask),
		0, 0, nil, uint32(len(bufferBarriers)), bufferBarriers, uint32(len(imageBarriers)), imageBarriers)

	if c.Image != nil {
		e.registry.SetCurrentLayout(c.Image.Texture, c.Image.NewLayout)
	}
	return nil
}

// storeResource marks a resource as initialised: it allocates a fresh
// semaphore (keyed by c.ID, minted by the caller per-store so it is never
// confused with a planner-assigned cross-queue id), attaches it as the
// resource's at-most-one pending-wait token (§3 invariant 3), adds it to the
// command buffer's signal list, and commits the final layout if given (§4.9
// "Store resource").
func (e *Emitter) storeResource(c Command, submit *SubmitState) error {
	sem, err := e.semaphores.Acquire(c.ID)
	if err != nil {
		return err
	}
	if c.IsBuffer {
		e.registry.SetBufferWaitSemaphore(c.Buffer, sem, vk.PipelineStageFlagBits(c.StageMask))
	} else {
		if c.FinalLayout != nil {
			e.registry.SetCurrentLayout(c.Texture, *c.FinalLayout)
		}
		e.registry.SetTextureWaitSemaphore(c.Texture, sem, vk.PipelineStageFlagBits(c.StageMask))
	}
	submit.SignalSemaphores = append(submit.SignalSemaphores, sem)
	return nil
}
