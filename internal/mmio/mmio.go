// Package mmio abstracts width-correct access to a memory-mapped register
// space. Every register in the xHCI spec mandates an access width; reading
// or writing at the wrong width on real hardware is undefined behavior, so
// all register views in this module go through a Space and never touch raw
// memory directly.
package mmio

import "encoding/binary"

// Space is a little-endian register address space. Offsets are byte offsets
// from the start of the space. Implementations may attach side effects to
// individual offsets (the emulated controller does).
type Space interface {
	Read8(off uint64) uint8
	Read16(off uint64) uint16
	Read32(off uint64) uint32
	Read64(off uint64) uint64

	Write8(off uint64, v uint8)
	Write16(off uint64, v uint16)
	Write32(off uint64, v uint32)
	Write64(off uint64, v uint64)
}

// ByteSpace is a Space backed by a plain byte slice. It carries no side
// effects and is the building block for register files and tests.
type ByteSpace struct {
	b []byte
}

// NewByteSpace returns a zeroed ByteSpace of the given size.
func NewByteSpace(size int) *ByteSpace {
	return &ByteSpace{b: make([]byte, size)}
}

// Bytes exposes the backing storage.
func (s *ByteSpace) Bytes() []byte { return s.b }

func (s *ByteSpace) Read8(off uint64) uint8   { return s.b[off] }
func (s *ByteSpace) Read16(off uint64) uint16 { return binary.LittleEndian.Uint16(s.b[off:]) }
func (s *ByteSpace) Read32(off uint64) uint32 { return binary.LittleEndian.Uint32(s.b[off:]) }
func (s *ByteSpace) Read64(off uint64) uint64 { return binary.LittleEndian.Uint64(s.b[off:]) }

func (s *ByteSpace) Write8(off uint64, v uint8)   { s.b[off] = v }
func (s *ByteSpace) Write16(off uint64, v uint16) { binary.LittleEndian.PutUint16(s.b[off:], v) }
func (s *ByteSpace) Write32(off uint64, v uint32) { binary.LittleEndian.PutUint32(s.b[off:], v) }
func (s *ByteSpace) Write64(off uint64, v uint64) { binary.LittleEndian.PutUint64(s.b[off:], v) }

// SetBits32 read-modify-writes a 32-bit register, setting the given bits.
func SetBits32(s Space, off uint64, bits uint32) {
	s.Write32(off, s.Read32(off)|bits)
}

// ClearBits32 read-modify-writes a 32-bit register, clearing the given bits.
func ClearBits32(s Space, off uint64, bits uint32) {
	s.Write32(off, s.Read32(off)&^bits)
}
