package raytracing

import (
	"encoding/binary"
	"fmt"

	"github.com/Carmen-Shannon/oxy-rt/engine/device"
)

// DefaultDescriptorHeapSize is the slot count of a context's heap unless configured.
const DefaultDescriptorHeapSize = 1024

// descriptorFlag bits of a serialized heap entry.
const (
	descriptorFlagRaw uint32 = 1 << iota
	descriptorFlagCube
)

// DescriptorHeap is a fixed-size, shader-visible array of resource views. Slots are handed
// out by a bump counter and may be rewritten in place; the heap never grows.
type DescriptorHeap struct {
	buf       device.Buffer
	slots     []device.Descriptor
	allocated int
}

var _ device.DescriptorHeapView = &DescriptorHeap{}

func newDescriptorHeap(dev device.Device, size int) (*DescriptorHeap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("descriptor heap size must be positive, got %d", size)
	}
	buf, err := dev.CreateBuffer(device.BufferDescriptor{
		Label: "Descriptor Heap",
		Size:  uint64(size) * device.DescriptorSize,
		Usage: device.BufferUsageStorage | device.BufferUsageUpload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor heap: %w", err)
	}
	return &DescriptorHeap{buf: buf, slots: make([]device.Descriptor, size)}, nil
}

func (h *DescriptorHeap) Descriptor(index int) (device.Descriptor, bool) {
	if index < 0 || index >= h.allocated {
		return device.Descriptor{}, false
	}
	return h.slots[index], true
}

func (h *DescriptorHeap) Len() int              { return h.allocated }
func (h *DescriptorHeap) Capacity() int         { return len(h.slots) }
func (h *DescriptorHeap) GPUHandleBase() uint64 { return h.buf.Address() }
func (h *DescriptorHeap) Buffer() device.Buffer { return h.buf }

// allocate returns reuseIndex when it names an allocated slot, otherwise the next free slot.
func (h *DescriptorHeap) allocate(reuseIndex int) (int, error) {
	if reuseIndex >= 0 && reuseIndex < h.allocated {
		return reuseIndex, nil
	}
	if h.allocated >= len(h.slots) {
		return 0, fmt.Errorf("%w: all %d slots in use", ErrDescriptorHeapExhausted, len(h.slots))
	}
	h.allocated++
	return h.allocated - 1, nil
}

func (h *DescriptorHeap) set(index int, desc device.Descriptor) {
	h.slots[index] = desc
}

func (h *DescriptorHeap) handle(index int) DescriptorHandle {
	return DescriptorHandle(h.buf.Address() + uint64(index)*device.DescriptorSize)
}

// serialize writes the allocated slots into the heap buffer. Each entry is kind, flags,
// resource address, first element, element count, stride and texture id.
func (h *DescriptorHeap) serialize() error {
	mem, err := h.buf.Map()
	if err != nil {
		return fmt.Errorf("failed to map descriptor heap: %w", err)
	}
	for i := 0; i < h.allocated; i++ {
		d := h.slots[i]
		entry := mem[i*device.DescriptorSize : (i+1)*device.DescriptorSize]
		var flags uint32
		if d.Raw {
			flags |= descriptorFlagRaw
		}
		if d.Cube {
			flags |= descriptorFlagCube
		}
		var addr uint64
		if d.Buffer != nil {
			addr = d.Buffer.Address()
		}
		var tex uint32
		if d.Texture != nil {
			tex = d.Texture.ID()
		}
		binary.LittleEndian.PutUint32(entry[0:], uint32(d.Kind))
		binary.LittleEndian.PutUint32(entry[4:], flags)
		binary.LittleEndian.PutUint64(entry[8:], addr)
		binary.LittleEndian.PutUint32(entry[16:], d.FirstElement)
		binary.LittleEndian.PutUint32(entry[20:], d.NumElements)
		binary.LittleEndian.PutUint32(entry[24:], d.Stride)
		binary.LittleEndian.PutUint32(entry[28:], tex)
	}
	return h.buf.Unmap()
}

func (h *DescriptorHeap) release() {
	h.buf.Release()
	h.slots = nil
	h.allocated = 0
}
