package device

import (
	"errors"
	"testing"
)

func TestArenaAllocAlignsAndAvoidsNull(t *testing.T) {
	a := newArena(4096)
	first, err := a.alloc(10)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if first == 0 || first != ArenaBaseAddress {
		t.Fatalf("expected the first allocation at %#x; got %#x", ArenaBaseAddress, first)
	}
	second, err := a.alloc(300)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if second != first+ArenaAlignment {
		t.Fatalf("expected the second allocation at %#x; got %#x", first+ArenaAlignment, second)
	}
	if second%ArenaAlignment != 0 {
		t.Fatalf("expected %d byte alignment; got %#x", ArenaAlignment, second)
	}
	if got := a.stats().UsedBytes; got != 3*ArenaAlignment {
		t.Errorf("UsedBytes = %d, want %d", got, 3*ArenaAlignment)
	}
}

func TestArenaExhaustion(t *testing.T) {
	a := newArena(1024)
	if _, err := a.alloc(1024); err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if _, err := a.alloc(1); !errors.Is(err, ErrOutOfArenaMemory) {
		t.Fatalf("expected ErrOutOfArenaMemory; got %v", err)
	}
}

func TestArenaReleaseCoalesces(t *testing.T) {
	a := newArena(1024)
	var addrs []uint64
	for i := 0; i < 4; i++ {
		addr, err := a.alloc(256)
		if err != nil {
			t.Fatalf("expected no error; got %v", err)
		}
		addrs = append(addrs, addr)
	}
	a.release(addrs[1])
	a.release(addrs[3])
	a.release(addrs[2])
	if got := a.stats().FreeRanges; got != 1 {
		t.Fatalf("expected one coalesced free range; got %d", got)
	}

	// the freed tail must now satisfy a 768 byte request
	addr, err := a.alloc(768)
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if addr != addrs[1] {
		t.Fatalf("expected the allocation at %#x; got %#x", addrs[1], addr)
	}
	a.release(0xdead)
	if got := a.stats().Allocations; got != 2 {
		t.Errorf("Allocations = %d, want 2", got)
	}
}
