package raytracing

import "fmt"

// WrappedPointer is an opaque resource address usable as a root argument or as an
// acceleration structure reference. On native devices it is a GPU virtual address. On the
// emulated path the low 32 bits are a descriptor heap slot and the high 32 bits a byte
// offset into the viewed buffer.
type WrappedPointer uint64

// EmulatedPointer builds the wrapped pointer for a heap slot and byte offset.
func EmulatedPointer(slot, offset uint32) WrappedPointer {
	return WrappedPointer(uint64(offset)<<32 | uint64(slot))
}

// Slot returns the heap slot of an emulated pointer.
func (p WrappedPointer) Slot() uint32 { return uint32(p) }

// Offset returns the byte offset of an emulated pointer.
func (p WrappedPointer) Offset() uint32 { return uint32(p >> 32) }

func (p WrappedPointer) String() string {
	return fmt.Sprintf("%#016x", uint64(p))
}

// DescriptorHandle is the GPU handle of a descriptor heap slot, used for heap ranges.
type DescriptorHandle uint64
