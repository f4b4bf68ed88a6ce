package mmio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/halfdome/xhci/internal/mmio"
)

func TestByteSpaceLittleEndian(t *testing.T) {
	s := mmio.NewByteSpace(64)

	s.Write32(0, 0x11223344)
	assert.EqualValues(t, 0x44, s.Read8(0))
	assert.EqualValues(t, 0x3344, s.Read16(0))
	assert.EqualValues(t, 0x1122, s.Read16(2))

	s.Write64(8, 0x0102030405060708)
	assert.EqualValues(t, 0x05060708, s.Read32(8))
	assert.EqualValues(t, 0x01020304, s.Read32(12))
	assert.EqualValues(t, 0x0102030405060708, s.Read64(8))
}

func TestBitHelpers(t *testing.T) {
	s := mmio.NewByteSpace(16)
	s.Write32(0, 0b1010)

	mmio.SetBits32(s, 0, 0b0101)
	assert.EqualValues(t, 0b1111, s.Read32(0))

	mmio.ClearBits32(s, 0, 0b0110)
	assert.EqualValues(t, 0b1001, s.Read32(0))
}
