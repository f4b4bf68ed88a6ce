package xhci

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfdome/xhci/internal/dma"
	"github.com/halfdome/xhci/internal/mmio"
	"github.com/halfdome/xhci/usb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDevice(t *testing.T) (*Device, *dma.Arena, *[]TRB) {
	t.Helper()
	arena := testArena(t)
	regs := NewRegisters(mmio.NewByteSpace(0x1000))
	cmds := &[]TRB{}
	d, err := newDevice(discardLogger(), arena, 1, 1, SpeedFull,
		regs.Doorbell(1), func(trb TRB) { *cmds = append(*cmds, trb) })
	require.NoError(t, err)
	return d, arena, cmds
}

func TestStartInitIssuesDeviceDescriptorRead(t *testing.T) {
	d, arena, _ := newTestDevice(t)

	require.NoError(t, d.StartInit())
	assert.Equal(t, Phase1, d.Phase())

	require.Len(t, d.pendingSetups, 1)
	for issuer, setup := range d.pendingSetups {
		assert.Equal(t, usb.GetDescriptorSetup(usb.DeviceDescType, 0, usb.DeviceDescLen), setup)

		// The correlation key names the data stage TRB on the ring.
		raw, err := arena.At(issuer, TRBSize)
		require.NoError(t, err)
		assert.Equal(t, TRBDataStage, DecodeTRB(raw).Type())
	}

	// Enumeration must not restart.
	assert.ErrorIs(t, d.StartInit(), ErrInvalidPhase)
}

func TestTransferEventFailedCompletion(t *testing.T) {
	d, _, _ := newTestDevice(t)

	err := d.onTransferEvent(TransferEvent{CompletionCode: 6, SlotID: 1})
	assert.ErrorIs(t, err, ErrTransferFailed)
}

func TestTransferEventWithoutPendingSetup(t *testing.T) {
	d, arena, _ := newTestDevice(t)

	buf, err := arena.Alloc(TRBSize, 16)
	require.NoError(t, err)
	StatusStageTRB(true, true).Encode(buf.Bytes())

	err = d.onTransferEvent(TransferEvent{
		TransferTRB:    buf.Addr(),
		CompletionCode: CompletionSuccess,
		EndpointDCI:    1,
		SlotID:         1,
	})
	assert.ErrorIs(t, err, ErrNoCorrespondingSetup)
}

func TestControlCompleteWrongRequestForPhase(t *testing.T) {
	d, _, _ := newTestDevice(t)
	require.NoError(t, d.StartInit())

	err := d.onControlComplete(usb.SetConfigurationSetup(1), nil)
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.Equal(t, Phase1, d.Phase(), "a mismatched completion must not advance the phase")
}

func TestControlCompleteBeforeAddressing(t *testing.T) {
	d, _, _ := newTestDevice(t)

	err := d.onControlComplete(usb.SetConfigurationSetup(1), nil)
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestMalformedDescriptors(t *testing.T) {
	type testCase struct {
		name  string
		phase InitPhase
		setup usb.SetupData
		data  []byte
	}

	cases := []testCase{
		{
			name:  "device descriptor too short",
			phase: Phase1,
			setup: usb.GetDescriptorSetup(usb.DeviceDescType, 0, usb.DeviceDescLen),
			data:  []byte{18, usb.DeviceDescType, 0x00},
		},
		{
			name:  "config blob with wrong leading descriptor",
			phase: Phase2,
			setup: usb.GetDescriptorSetup(usb.ConfigDescType, 0, descBufSize),
			data:  []byte{9, usb.InterfaceDescType, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name:  "config blob truncated mid-descriptor",
			phase: Phase2,
			setup: usb.GetDescriptorSetup(usb.ConfigDescType, 0, descBufSize),
			// header claims 12 total bytes; the trailing descriptor claims 9
			// but only 3 remain.
			data: []byte{9, usb.ConfigDescType, 12, 0, 1, 1, 0, 0xA0, 50,
				9, usb.InterfaceDescType, 0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, _, _ := newTestDevice(t)
			d.phase = tc.phase

			err := d.onControlComplete(tc.setup, tc.data)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestSetConfigurationWithoutDriverCompletes(t *testing.T) {
	d, _, cmds := newTestDevice(t)
	d.phase = Phase3

	require.NoError(t, d.onControlComplete(usb.SetConfigurationSetup(1), nil))
	assert.Equal(t, PhaseComplete, d.Phase())
	assert.Empty(t, *cmds, "no Configure Endpoint without a driver")
}
