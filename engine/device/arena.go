package device

import (
	"fmt"
	"sort"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

const (
	// ArenaBaseAddress is the first GPU virtual address handed out. Zero stays invalid so a
	// null address is never a live buffer.
	ArenaBaseAddress uint64 = 0x10000

	// ArenaAlignment is the alignment of every allocation. It satisfies the 256 byte
	// acceleration structure and constant buffer placement rules.
	ArenaAlignment uint64 = 256

	// DefaultArenaSize is the address space reserved when no size is configured (64 MiB).
	DefaultArenaSize uint64 = 64 << 20
)

// ArenaStats reports address space usage.
type ArenaStats struct {
	TotalBytes  uint64
	UsedBytes   uint64
	Allocations int
	FreeRanges  int
}

func (s ArenaStats) String() string {
	return fmt.Sprintf("Arena[%d/%d KiB, %d allocations, %d free ranges]",
		s.UsedBytes/1024, s.TotalBytes/1024, s.Allocations, s.FreeRanges)
}

type span struct {
	start uint64
	size  uint64
}

// arena hands out aligned ranges of a flat GPU address space with a first-fit free list.
// Freed ranges are coalesced with their neighbours. The caller serializes access.
type arena struct {
	base uint64
	size uint64
	used uint64
	free []span // sorted by start
	live map[uint64]uint64
}

func newArena(size uint64) *arena {
	size = common.AlignUp(size, ArenaAlignment)
	return &arena{
		base: ArenaBaseAddress,
		size: size,
		free: []span{{start: ArenaBaseAddress, size: size}},
		live: make(map[uint64]uint64),
	}
}

// alloc reserves size bytes and returns the start address.
func (a *arena) alloc(size uint64) (uint64, error) {
	if size == 0 {
		size = 1
	}
	size = common.AlignUp(size, ArenaAlignment)
	for i, s := range a.free {
		if s.size < size {
			continue
		}
		addr := s.start
		if s.size == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = span{start: s.start + size, size: s.size - size}
		}
		a.live[addr] = size
		a.used += size
		return addr, nil
	}
	return 0, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrOutOfArenaMemory, size, a.used, a.size)
}

// release returns the range starting at addr to the free list. Unknown addresses are ignored.
func (a *arena) release(addr uint64) {
	size, ok := a.live[addr]
	if !ok {
		return
	}
	delete(a.live, addr)
	a.used -= size

	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].start > addr })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = span{start: addr, size: size}

	// merge with the following range, then the preceding one
	if i+1 < len(a.free) && a.free[i].start+a.free[i].size == a.free[i+1].start {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].start+a.free[i-1].size == a.free[i].start {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// offset converts an address into a byte offset from the arena base.
func (a *arena) offset(addr uint64) uint64 {
	return addr - a.base
}

func (a *arena) stats() ArenaStats {
	return ArenaStats{
		TotalBytes:  a.size,
		UsedBytes:   a.used,
		Allocations: len(a.live),
		FreeRanges:  len(a.free),
	}
}
