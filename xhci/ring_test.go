package xhci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfdome/xhci/internal/dma"
	"github.com/halfdome/xhci/internal/mmio"
)

func testArena(t *testing.T) *dma.Arena {
	t.Helper()
	arena, err := dma.NewArena(1 << 20)
	require.NoError(t, err)
	return arena
}

func TestRingPushBeforeWrap(t *testing.T) {
	r, err := NewRing(testArena(t), 4)
	require.NoError(t, err)

	// size-1 usable slots: three pushes must not touch the link slot.
	var addrs []uint64
	for i := 0; i < 3; i++ {
		addrs = append(addrs, r.Push(EnableSlotTRB()))
	}
	assert.Equal(t, []uint64{r.Base(), r.Base() + TRBSize, r.Base() + 2*TRBSize}, addrs)
	assert.EqualValues(t, 0, r.TRBAt(3).Type(), "link slot still empty")
	for i := 0; i < 3; i++ {
		assert.True(t, r.TRBAt(i).Cycle())
	}
}

func TestRingWrapWritesLinkAndTogglesCycle(t *testing.T) {
	r, err := NewRing(testArena(t), 4)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		r.Push(EnableSlotTRB())
	}
	// Fourth push lands back at slot 0 behind a freshly written Link TRB.
	addr := r.Push(EnableSlotTRB())
	assert.Equal(t, r.Base(), addr)

	link := r.TRBAt(3)
	assert.Equal(t, TRBLink, link.Type())
	assert.Equal(t, r.Base(), link.Parameter())
	assert.True(t, link.Cycle(), "link carries the pre-flip cycle so hardware follows it")
	assert.NotZero(t, link[3]&trbTC)

	assert.False(t, r.Cycle())
	assert.False(t, r.TRBAt(0).Cycle(), "second-lap TRBs carry the flipped cycle")

	// Second lap: wrap again flips back to the initial cycle state.
	for i := 0; i < 3; i++ {
		r.Push(EnableSlotTRB())
	}
	assert.True(t, r.Cycle())
	assert.False(t, r.TRBAt(3).Cycle(), "second link carries cycle 0")
}

func TestRingSizeTooSmall(t *testing.T) {
	_, err := NewRing(testArena(t), 1)
	assert.Error(t, err)
}

func testInterrupter(t *testing.T) InterrupterRegs {
	t.Helper()
	return NewRegisters(mmio.NewByteSpace(0x1000)).Interrupter(0)
}

func TestEventRingConsume(t *testing.T) {
	arena := testArena(t)
	ir := testInterrupter(t)
	er, err := NewEventRing(arena, 4, ir)
	require.NoError(t, err)

	assert.False(t, er.HasEvent(), "zeroed ring holds no valid events")
	assert.Equal(t, er.seg.Addr(), ir.ERDP()&^erdpFlagMask)

	// Hardware produces one event with the producer cycle state.
	MakePortStatusChangeEvent(2).WithCycle(true).Encode(er.seg.Bytes())
	require.True(t, er.HasEvent())
	assert.EqualValues(t, 2, er.Front().AsPortStatusChange().PortID)

	er.Pop()
	assert.False(t, er.HasEvent())
	assert.Equal(t, er.seg.Addr()+TRBSize, ir.ERDP()&^erdpFlagMask)
}

func TestEventRingWrapFlipsConsumerCycle(t *testing.T) {
	arena := testArena(t)
	ir := testInterrupter(t)
	er, err := NewEventRing(arena, 4, ir)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		MakePortStatusChangeEvent(uint8(i+1)).WithCycle(true).Encode(er.seg.Bytes()[i*TRBSize:])
	}
	for i := 0; i < 4; i++ {
		require.True(t, er.HasEvent(), "event %d", i)
		er.Pop()
	}

	// Back at slot 0; the stale cycle-1 event there must now read invalid.
	assert.False(t, er.HasEvent())
	assert.Equal(t, er.seg.Addr(), ir.ERDP()&^erdpFlagMask)

	// Second-lap events carry cycle 0.
	MakePortStatusChangeEvent(9).WithCycle(false).Encode(er.seg.Bytes())
	assert.True(t, er.HasEvent())
}

func TestEventRingPopPreservesERDPFlags(t *testing.T) {
	arena := testArena(t)
	ir := testInterrupter(t)
	er, err := NewEventRing(arena, 4, ir)
	require.NoError(t, err)

	// Event handler busy flag lives in the low bits of ERDP.
	ir.SetERDP(ir.ERDP() | 0x8)
	MakePortStatusChangeEvent(1).WithCycle(true).Encode(er.seg.Bytes())
	er.Pop()
	assert.EqualValues(t, 0x8, ir.ERDP()&erdpFlagMask)
}
