// Package rescmd implements the Resource Command Emitter (C9): a stack of
// before/after resource commands processed in reverse order per command
// index, plus the event and semaphore pools that connect producers and
// consumers across encoders and queues.
//
// Grounded on SPEC_FULL.md §9's explicit instruction to keep the
// atomic-free unique-id pool pattern rather than reach for a concurrent map
// or the atomic package the corpus never uses; the teacher has no direct
// analog since WebGPU hides barriers and semaphores entirely.
package rescmd

import (
	"sync"

	vk "github.com/vulkan-go/vulkan"

	"github.com/oxygraph/vkframegraph/internal/vkerr"
	"github.com/oxygraph/vkframegraph/internal/vkutil"
)

// EventPool draws vk.Event objects from one device-wide pool keyed by a
// caller-assigned id, connecting a producer in one encoder with a consumer
// in another (§4.9). Events are not partitioned by queue family.
type EventPool struct {
	device vk.Device

	mu     sync.Mutex
	byID   map[uint64]vk.Event
	free   []vk.Event
}

// NewEventPool constructs an empty EventPool bound to device.
func NewEventPool(device vk.Device) *EventPool {
	return &EventPool{device: device, byID: make(map[uint64]vk.Event)}
}

// Acquire returns the vk.Event registered for id, creating (or recycling
// from the free list) one on first use.
func (p *EventPool) Acquire(id uint64) (vk.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byID[id]; ok {
		return e, nil
	}

	if n := len(p.free); n > 0 {
		e := p.free[n-1]
		p.free = p.free[:n-1]
		ret := vk.ResetEvent(p.device, e)
		if vkutil.IsError(ret) {
			return nil, vkerr.NewResourceError("reset event", vkutil.NewError(ret))
		}
		p.byID[id] = e
		return e, nil
	}

	var e vk.Event
	ret := vk.CreateEvent(p.device, &vk.EventCreateInfo{SType: vk.StructureTypeEventCreateInfo}, nil, &e)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create event", vkutil.NewError(ret))
	}
	p.byID[id] = e
	return e, nil
}

// Release returns id's event to the free list for reuse.
func (p *EventPool) Release(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byID[id]; ok {
		delete(p.byID, id)
		p.free = append(p.free, e)
	}
}

// Close destroys every event the pool has ever created.
func (p *EventPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.byID {
		vk.DestroyEvent(p.device, e, nil)
	}
	for _, e := range p.free {
		vk.DestroyEvent(p.device, e, nil)
	}
	p.byID = make(map[uint64]vk.Event)
	p.free = nil
}

// SemaphorePool draws vk.Semaphore objects from a global pool keyed by a
// caller-assigned id for cross-queue connectivity (§4.9).
type SemaphorePool struct {
	device vk.Device

	mu   sync.Mutex
	byID map[uint64]vk.Semaphore
	free []vk.Semaphore
}

// NewSemaphorePool constructs an empty SemaphorePool bound to device.
func NewSemaphorePool(device vk.Device) *SemaphorePool {
	return &SemaphorePool{device: device, byID: make(map[uint64]vk.Semaphore)}
}

// Acquire returns the vk.Semaphore registered for id, creating (or recycling
// from the free list) one on first use.
func (p *SemaphorePool) Acquire(id uint64) (vk.Semaphore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.byID[id]; ok {
		return s, nil
	}

	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free = p.free[:n-1]
		p.byID[id] = s
		return s, nil
	}

	var s vk.Semaphore
	ret := vk.CreateSemaphore(p.device, &vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}, nil, &s)
	if vkutil.IsError(ret) {
		return nil, vkerr.NewResourceError("create semaphore", vkutil.NewError(ret))
	}
	p.byID[id] = s
	return s, nil
}

// Release returns id's semaphore to the free list for reuse.
func (p *SemaphorePool) Release(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.byID[id]; ok {
		delete(p.byID, id)
		p.free = append(p.free, s)
	}
}

// Close destroys every semaphore the pool has ever created.
func (p *SemaphorePool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.byID {
		vk.DestroySemaphore(p.device, s, nil)
	}
	for _, s := range p.free {
		vk.DestroySemaphore(p.device, s, nil)
	}
	p.byID = make(map[uint64]vk.Semaphore)
	p.free = nil
}
