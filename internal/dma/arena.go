// Package dma provides the memory the host controller reads and writes
// behind the driver's back: rings, device contexts, the DCBAA, transfer
// buffers. Allocations come out of a single fixed arena, are zero-filled
// and alignment-guaranteed, and are never moved or freed while the
// controller may still reference them.
//
// Buffers are addressed by their arena offset. Offset 0 is reserved as the
// null address so a zero TRB pointer never aliases a live buffer.
package dma

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNoMemory is returned when the arena cannot satisfy an allocation.
var ErrNoMemory = errors.New("dma: out of arena memory")

const (
	// PageSize is the allocation granularity the controller expects for
	// page-aligned structures (DCBAA, rings).
	PageSize = 4096

	// base keeps offset 0 unused so it can serve as a null address.
	base = PageSize
)

// Arena is a fixed block of DMA-visible memory carved into buffers.
type Arena struct {
	mem  []byte
	next uint64
}

// NewArena allocates an arena of the given size. On Linux the backing
// memory is an anonymous page-aligned mapping; elsewhere it is an ordinary
// slice, which is good enough for the emulated controller.
func NewArena(size int) (*Arena, error) {
	if size < 2*PageSize {
		return nil, fmt.Errorf("dma: arena size %d too small", size)
	}
	mem, err := alloc(size)
	if err != nil {
		return nil, err
	}
	return &Arena{mem: mem, next: base}, nil
}

// Size returns the total arena size in bytes.
func (a *Arena) Size() int { return len(a.mem) }

// Alloc carves a zeroed buffer of the given size and alignment out of the
// arena. Alignment must be a power of two.
func (a *Arena) Alloc(size int, align uint64) (Buffer, error) {
	if size <= 0 {
		return Buffer{}, fmt.Errorf("dma: invalid allocation size %d", size)
	}
	if align == 0 || align&(align-1) != 0 {
		return Buffer{}, fmt.Errorf("dma: alignment %d is not a power of two", align)
	}
	addr := (a.next + align - 1) &^ (align - 1)
	if addr+uint64(size) > uint64(len(a.mem)) {
		return Buffer{}, ErrNoMemory
	}
	a.next = addr + uint64(size)
	return Buffer{arena: a, addr: addr, size: size}, nil
}

// At returns a view of arena memory at an absolute address. It is how the
// driver (and the emulated controller) dereference addresses recovered from
// event TRBs and hardware registers.
func (a *Arena) At(addr uint64, size int) ([]byte, error) {
	if addr == 0 || addr+uint64(size) > uint64(len(a.mem)) {
		return nil, fmt.Errorf("dma: address %#x+%d outside arena", addr, size)
	}
	return a.mem[addr : addr+uint64(size)], nil
}

// Buffer is one allocation inside an Arena. The zero Buffer is the null
// buffer (Addr() == 0).
type Buffer struct {
	arena *Arena
	addr  uint64
	size  int
}

// Addr returns the buffer's DMA address (arena offset).
func (b Buffer) Addr() uint64 { return b.addr }

// Size returns the buffer length in bytes.
func (b Buffer) Size() int { return b.size }

// IsNull reports whether the buffer is the null buffer.
func (b Buffer) IsNull() bool { return b.addr == 0 }

// Bytes returns the buffer's backing memory.
func (b Buffer) Bytes() []byte {
	return b.arena.mem[b.addr : b.addr+uint64(b.size)]
}

// Zero clears the buffer.
func (b Buffer) Zero() {
	clear(b.Bytes())
}

// Read32 reads a little-endian 32-bit word at the given byte offset.
func (b Buffer) Read32(off int) uint32 {
	return binary.LittleEndian.Uint32(b.Bytes()[off:])
}

// Write32 writes a little-endian 32-bit word at the given byte offset.
func (b Buffer) Write32(off int, v uint32) {
	binary.LittleEndian.PutUint32(b.Bytes()[off:], v)
}

// Read64 reads a little-endian 64-bit word at the given byte offset.
func (b Buffer) Read64(off int) uint64 {
	return binary.LittleEndian.Uint64(b.Bytes()[off:])
}

// Write64 writes a little-endian 64-bit word at the given byte offset.
func (b Buffer) Write64(off int, v uint64) {
	binary.LittleEndian.PutUint64(b.Bytes()[off:], v)
}
