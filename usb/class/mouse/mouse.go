// Package mouse is the HID boot-protocol mouse class driver.
package mouse

import (
	"io"

	"github.com/halfdome/xhci/usb"
	"github.com/halfdome/xhci/usb/class"
	"github.com/halfdome/xhci/usb/class/hid"
)

// Button bits of the boot report's first byte.
const (
	Btn_Left   uint8 = 1 << 0
	Btn_Right  uint8 = 1 << 1
	Btn_Middle uint8 = 1 << 2
)

// reportLen is the boot mouse report size: buttons, dx, dy.
const reportLen = 3

// Handler receives decoded mouse reports.
type Handler func(buttons uint8, dx, dy int8)

var handler Handler

// SetHandler installs the callback invoked for every mouse report. It must
// be set before the device is enumerated.
func SetHandler(h Handler) { handler = h }

// Driver decodes boot mouse reports on top of the shared HID plumbing.
type Driver struct {
	*hid.BootDriver
}

// New constructs the driver for a recognized boot mouse interface.
func New(conn class.Conn, iface usb.InterfaceDescriptor) class.Driver {
	d := &Driver{}
	d.BootDriver = hid.NewBootDriver(conn, iface, reportLen, d.onReport)
	return d
}

func (d *Driver) onReport(data []byte) error {
	if len(data) < reportLen {
		return io.ErrUnexpectedEOF
	}
	if handler != nil {
		handler(data[0], int8(data[1]), int8(data[2]))
	}
	return nil
}

func init() {
	class.Register(class.Match{
		Class:    usb.ClassHID,
		SubClass: usb.SubClassHIDBoot,
		Protocol: usb.ProtocolMouse,
	}, New)
}
