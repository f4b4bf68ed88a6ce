// Package hid implements the boot-protocol plumbing shared by the HID
// class drivers: the SET_PROTOCOL handshake and the interrupt-IN polling
// loop that keeps one report transfer in flight.
package hid

import (
	"errors"
	"fmt"

	"github.com/halfdome/xhci/usb"
	"github.com/halfdome/xhci/usb/class"
)

// ErrNoInterruptEndpoint is returned when the bound interface exposes no
// interrupt-IN endpoint to poll.
var ErrNoInterruptEndpoint = errors.New("hid: interface has no interrupt-in endpoint")

// Driver phases of the boot-protocol handshake.
type phase uint8

const (
	phaseNotInitialized phase = iota
	phaseSetProtocol          // SET_PROTOCOL(boot) in flight
	phasePolling              // interrupt-IN armed
)

// BootDriver drives a HID boot-protocol interface. Concrete drivers embed
// it and receive parsed reports through the report callback.
type BootDriver struct {
	conn  class.Conn
	iface usb.InterfaceDescriptor

	intIn     usb.EndpointInfo
	haveIntIn bool

	phase     phase
	reportLen int
	onReport  func(data []byte) error
}

// NewBootDriver wires a boot driver for the interface. reportLen is the
// boot report size the concrete driver expects; onReport receives each
// completed report.
func NewBootDriver(conn class.Conn, iface usb.InterfaceDescriptor, reportLen int, onReport func([]byte) error) *BootDriver {
	return &BootDriver{conn: conn, iface: iface, reportLen: reportLen, onReport: onReport}
}

func (d *BootDriver) SetEndpoint(ep usb.EndpointInfo) {
	if ep.Type == usb.TransferInterrupt && ep.ID.In && !d.haveIntIn {
		d.intIn = ep
		d.haveIntIn = true
	}
}

func (d *BootDriver) OnEndpointConfigured() error {
	if !d.haveIntIn {
		return ErrNoInterruptEndpoint
	}
	d.phase = phaseSetProtocol
	setup := usb.SetProtocolSetup(d.iface.BInterfaceNumber, usb.HIDProtocolBoot)
	return d.conn.ControlOut(usb.DefaultControlEP, setup, nil, d)
}

func (d *BootDriver) OnControlComplete() error {
	if d.phase != phaseSetProtocol {
		return fmt.Errorf("hid: unexpected control completion in phase %d", d.phase)
	}
	d.phase = phasePolling
	return d.conn.InterruptIn(d.intIn.ID, d.reportLen)
}

func (d *BootDriver) OnInterruptComplete(ep usb.EndpointID, data []byte) error {
	if ep != d.intIn.ID {
		return fmt.Errorf("hid: interrupt completion on unexpected endpoint %s", ep)
	}
	if err := d.onReport(data); err != nil {
		return err
	}
	// Keep one transfer in flight.
	return d.conn.InterruptIn(d.intIn.ID, d.reportLen)
}
