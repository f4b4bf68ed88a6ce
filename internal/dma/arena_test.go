package dma_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfdome/xhci/internal/dma"
)

func TestAllocAlignment(t *testing.T) {
	arena, err := dma.NewArena(1 << 20)
	require.NoError(t, err)

	a, err := arena.Alloc(10, 1)
	require.NoError(t, err)
	assert.NotZero(t, a.Addr(), "offset 0 is the null address")

	b, err := arena.Alloc(16, 64)
	require.NoError(t, err)
	assert.Zero(t, b.Addr()%64)
	assert.Greater(t, b.Addr(), a.Addr())

	c, err := arena.Alloc(4096, 4096)
	require.NoError(t, err)
	assert.Zero(t, c.Addr()%4096)
}

func TestAllocErrors(t *testing.T) {
	arena, err := dma.NewArena(2 * dma.PageSize)
	require.NoError(t, err)

	_, err = arena.Alloc(0, 64)
	assert.Error(t, err)
	_, err = arena.Alloc(16, 3)
	assert.Error(t, err, "alignment must be a power of two")

	_, err = arena.Alloc(2*dma.PageSize, 1)
	assert.ErrorIs(t, err, dma.ErrNoMemory, "first page is reserved")
}

func TestAt(t *testing.T) {
	arena, err := dma.NewArena(1 << 20)
	require.NoError(t, err)

	buf, err := arena.Alloc(64, 64)
	require.NoError(t, err)
	buf.Write64(0, 0x1122334455667788)

	view, err := arena.At(buf.Addr(), 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, view)

	_, err = arena.At(0, 8)
	assert.Error(t, err, "null address never dereferences")
	_, err = arena.At(uint64(arena.Size())-4, 8)
	assert.Error(t, err)
}

func TestBufferAccessors(t *testing.T) {
	arena, err := dma.NewArena(1 << 20)
	require.NoError(t, err)

	var null dma.Buffer
	assert.True(t, null.IsNull())

	buf, err := arena.Alloc(16, 16)
	require.NoError(t, err)
	assert.False(t, buf.IsNull())
	assert.Equal(t, 16, buf.Size())

	buf.Write32(4, 0xdeadbeef)
	assert.EqualValues(t, 0xdeadbeef, buf.Read32(4))
	buf.Zero()
	assert.Zero(t, buf.Read32(4))
}
