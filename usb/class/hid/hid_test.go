package hid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfdome/xhci/usb"
	"github.com/halfdome/xhci/usb/class"
	"github.com/halfdome/xhci/usb/class/hid"
)

// fakeConn records the transfers a driver issues.
type fakeConn struct {
	controls   []usb.SetupData
	interrupts []int // requested lengths
}

func (c *fakeConn) ControlOut(ep usb.EndpointID, setup usb.SetupData, data []byte, from class.Driver) error {
	c.controls = append(c.controls, setup)
	return nil
}

func (c *fakeConn) InterruptIn(ep usb.EndpointID, length int) error {
	c.interrupts = append(c.interrupts, length)
	return nil
}

var intInEP = usb.EndpointInfo{
	ID:            usb.EndpointID{Number: 1, In: true},
	Type:          usb.TransferInterrupt,
	MaxPacketSize: 8,
	Interval:      10,
}

func TestBootHandshake(t *testing.T) {
	conn := &fakeConn{}
	var reports [][]byte
	d := hid.NewBootDriver(conn, usb.InterfaceDescriptor{BInterfaceNumber: 2}, 3, func(data []byte) error {
		reports = append(reports, append([]byte(nil), data...))
		return nil
	})

	d.SetEndpoint(intInEP)
	require.NoError(t, d.OnEndpointConfigured())

	require.Len(t, conn.controls, 1)
	assert.Equal(t, usb.SetProtocolSetup(2, usb.HIDProtocolBoot), conn.controls[0])
	assert.Empty(t, conn.interrupts, "polling starts only after SET_PROTOCOL completes")

	require.NoError(t, d.OnControlComplete())
	assert.Equal(t, []int{3}, conn.interrupts)

	require.NoError(t, d.OnInterruptComplete(intInEP.ID, []byte{1, 2, 3}))
	require.Len(t, reports, 1)
	assert.Equal(t, []byte{1, 2, 3}, reports[0])
	assert.Equal(t, []int{3, 3}, conn.interrupts, "one transfer kept in flight")
}

func TestNoInterruptEndpoint(t *testing.T) {
	d := hid.NewBootDriver(&fakeConn{}, usb.InterfaceDescriptor{}, 3, func([]byte) error { return nil })

	// A bulk endpoint must not satisfy the polling requirement.
	d.SetEndpoint(usb.EndpointInfo{
		ID:   usb.EndpointID{Number: 1, In: true},
		Type: usb.TransferBulk,
	})
	assert.ErrorIs(t, d.OnEndpointConfigured(), hid.ErrNoInterruptEndpoint)
}

func TestUnexpectedCompletions(t *testing.T) {
	conn := &fakeConn{}
	d := hid.NewBootDriver(conn, usb.InterfaceDescriptor{}, 3, func([]byte) error { return nil })
	d.SetEndpoint(intInEP)

	assert.Error(t, d.OnControlComplete(), "control completion before the handshake started")

	require.NoError(t, d.OnEndpointConfigured())
	require.NoError(t, d.OnControlComplete())
	assert.Error(t, d.OnInterruptComplete(usb.EndpointID{Number: 2, In: true}, []byte{0}),
		"completion on an endpoint the driver does not own")
}
