package xhci

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfdome/xhci/usb"
)

func TestSlotContextFields(t *testing.T) {
	ic, err := NewInputContext(testArena(t))
	require.NoError(t, err)

	s := ic.Slot()
	s.SetRouteString(0)
	s.SetSpeed(SpeedHigh)
	s.SetContextEntries(3)
	s.SetRootHubPort(2)

	assert.Equal(t, SpeedHigh, s.Speed())
	assert.EqualValues(t, 3, s.ContextEntries())
	assert.EqualValues(t, 2, s.RootHubPort())

	// Fields must not clobber each other.
	s.SetSpeed(SpeedFull)
	assert.EqualValues(t, 3, s.ContextEntries())
	assert.EqualValues(t, 2, s.RootHubPort())
}

func TestEndpointContextFields(t *testing.T) {
	ic, err := NewInputContext(testArena(t))
	require.NoError(t, err)

	ep := ic.Endpoint(3)
	ep.SetType(epTypeIntIn)
	ep.SetMaxPacketSize(8)
	ep.SetErrorCount(3)
	ep.SetInterval(10)
	ep.SetDequeuePointer(0x12345678, true)

	assert.Equal(t, epTypeIntIn, ep.Type())
	assert.EqualValues(t, 8, ep.MaxPacketSize())
	deq, dcs := ep.DequeuePointer()
	assert.EqualValues(t, 0x12345670, deq, "low four bits carry the cycle state")
	assert.True(t, dcs)
}

func TestInputContextAddFlags(t *testing.T) {
	ic, err := NewInputContext(testArena(t))
	require.NoError(t, err)

	ic.AddContext(0)
	ic.AddContext(1)
	ic.AddContext(3)
	assert.EqualValues(t, 0b1011, ic.AddFlags())

	ic.Clear()
	assert.Zero(t, ic.AddFlags())
}

func TestEndpointTypeMapping(t *testing.T) {
	type testCase struct {
		name string
		t    usb.TransferType
		in   bool
		want uint32
	}

	cases := []testCase{
		{name: "control", t: usb.TransferControl, in: true, want: epTypeControl},
		{name: "interrupt in", t: usb.TransferInterrupt, in: true, want: epTypeIntIn},
		{name: "interrupt out", t: usb.TransferInterrupt, in: false, want: epTypeIntOut},
		{name: "bulk in", t: usb.TransferBulk, in: true, want: epTypeBulkIn},
		{name: "bulk out", t: usb.TransferBulk, in: false, want: epTypeBulkOut},
		{name: "isoch in", t: usb.TransferIsochronous, in: true, want: epTypeIsochIn},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, endpointType(tc.t, tc.in))
		})
	}
}
