package binding

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// maxPushConstantSlab bounds the staging slab. Vulkan guarantees
// maxPushConstantsSize of at least 128 bytes; 256 covers every device this
// backend targets with headroom.
const maxPushConstantSlab = 256

// pushConstantStaging accumulates push-constant bytes across a pass the way
// §4.10 describes: writes land in a flat byte slab keyed by offset, and the
// whole dirty slab is pushed in one (or a few, per declared range) call at
// flush time.
type pushConstantStaging struct {
	bytes [maxPushConstantSlab]byte
	dirty bool
}

func (p *pushConstantStaging) reset() {
	p.dirty = false
}

func (p *pushConstantStaging) write(offset uint32, data []byte, _ vk.ShaderStageFlags) {
	end := int(offset) + len(data)
	if end > len(p.bytes) {
		end = len(p.bytes)
	}
	n := end - int(offset)
	if n <= 0 {
		return
	}
	copy(p.bytes[offset:end], data[:n])
	p.dirty = true
}

func unsafePointer(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}
