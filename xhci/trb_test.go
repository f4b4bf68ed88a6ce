package xhci_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/halfdome/xhci/xhci"
)

func TestSetupStageTRB(t *testing.T) {
	trb := xhci.SetupStageTRB(0x80, 0x06, 0x0100, 0, 18, xhci.SetupInDataStage)

	assert.Equal(t, xhci.TRBSetupStage, trb.Type())
	assert.EqualValues(t, 8, trb.Status(), "setup data is always 8 bytes")

	rt, rq, val, idx, length := trb.SetupStageData()
	assert.EqualValues(t, 0x80, rt)
	assert.EqualValues(t, 0x06, rq)
	assert.EqualValues(t, 0x0100, val)
	assert.EqualValues(t, 0, idx)
	assert.EqualValues(t, 18, length)
}

func TestNormalTRBAlwaysInterrupts(t *testing.T) {
	trb := xhci.NormalTRB(0x2000, 8)

	assert.Equal(t, xhci.TRBNormal, trb.Type())
	assert.EqualValues(t, 0x2000, trb.Parameter())
	assert.EqualValues(t, 8, trb.TransferLength())
	// IOC and ISP: completions and short packets both raise events.
	assert.NotZero(t, trb[3]&(1<<5))
	assert.NotZero(t, trb[3]&(1<<2))
}

func TestLinkTRBMasksTarget(t *testing.T) {
	trb := xhci.LinkTRB(0x1234, true)

	assert.Equal(t, xhci.TRBLink, trb.Type())
	assert.EqualValues(t, 0x1230, trb.Parameter(), "low four address bits are reserved")
	assert.NotZero(t, trb[3]&(1<<1), "toggle cycle")
}

func TestWithCycle(t *testing.T) {
	trb := xhci.EnableSlotTRB()
	assert.False(t, trb.Cycle())
	assert.True(t, trb.WithCycle(true).Cycle())
	assert.False(t, trb.WithCycle(true).WithCycle(false).Cycle())
}

func TestEventDecoding(t *testing.T) {
	cc := xhci.CommandCompletionEvent{
		CommandTRB:     0x4000,
		CompletionCode: xhci.CompletionSuccess,
		SlotID:         3,
	}
	got := xhci.MakeCommandCompletionEvent(cc)
	assert.Equal(t, xhci.TRBCommandCompletion, got.Type())
	assert.Equal(t, cc, got.AsCommandCompletion())

	te := xhci.TransferEvent{
		TransferTRB:    0x5010,
		Residual:       5,
		CompletionCode: xhci.CompletionShortPacket,
		EndpointDCI:    3,
		SlotID:         1,
	}
	gotTE := xhci.MakeTransferEvent(te)
	assert.Equal(t, xhci.TRBTransferEvent, gotTE.Type())
	assert.Equal(t, te, gotTE.AsTransferEvent())

	psc := xhci.MakePortStatusChangeEvent(2)
	assert.Equal(t, xhci.TRBPortStatusChange, psc.Type())
	assert.EqualValues(t, 2, psc.AsPortStatusChange().PortID)
}
