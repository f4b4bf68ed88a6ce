package usb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/halfdome/xhci/usb"
)

func TestEndpointDCI(t *testing.T) {
	type testCase struct {
		name string
		ep   usb.EndpointID
		dci  uint8
	}

	cases := []testCase{
		{name: "default control pipe", ep: usb.DefaultControlEP, dci: 1},
		{name: "ep1 out", ep: usb.EndpointID{Number: 1}, dci: 2},
		{name: "ep1 in", ep: usb.EndpointID{Number: 1, In: true}, dci: 3},
		{name: "ep2 in", ep: usb.EndpointID{Number: 2, In: true}, dci: 5},
		{name: "ep15 in", ep: usb.EndpointID{Number: 15, In: true}, dci: 31},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.dci, tc.ep.DCI())
		})
	}
}

func TestEndpointAddress(t *testing.T) {
	ep := usb.ParseEndpointAddress(0x81)
	assert.Equal(t, usb.EndpointID{Number: 1, In: true}, ep)
	assert.EqualValues(t, 0x81, ep.Address())
	assert.Equal(t, "ep1in", ep.String())

	out := usb.ParseEndpointAddress(0x02)
	assert.Equal(t, usb.EndpointID{Number: 2}, out)
	assert.EqualValues(t, 0x02, out.Address())
}
