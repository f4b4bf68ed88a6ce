// Package keyboard is the HID boot-protocol keyboard class driver.
package keyboard

import (
	"io"

	"github.com/halfdome/xhci/usb"
	"github.com/halfdome/xhci/usb/class"
	"github.com/halfdome/xhci/usb/class/hid"
)

// Modifier bits of the boot report's first byte.
const (
	Mod_LeftCtrl   uint8 = 1 << 0
	Mod_LeftShift  uint8 = 1 << 1
	Mod_LeftAlt    uint8 = 1 << 2
	Mod_LeftGUI    uint8 = 1 << 3
	Mod_RightCtrl  uint8 = 1 << 4
	Mod_RightShift uint8 = 1 << 5
	Mod_RightAlt   uint8 = 1 << 6
	Mod_RightGUI   uint8 = 1 << 7
)

// reportLen is the boot keyboard report size: modifiers, reserved, 6 keys.
const reportLen = 8

// Handler receives key-down events: the modifier byte and the usage ID of
// a key newly pressed since the previous report.
type Handler func(modifiers uint8, keycode uint8)

var handler Handler

// SetHandler installs the callback invoked for every newly pressed key. It
// must be set before the device is enumerated.
func SetHandler(h Handler) { handler = h }

// Driver decodes boot keyboard reports on top of the shared HID plumbing.
type Driver struct {
	*hid.BootDriver
	prev [reportLen]byte
}

// New constructs the driver for a recognized boot keyboard interface.
func New(conn class.Conn, iface usb.InterfaceDescriptor) class.Driver {
	d := &Driver{}
	d.BootDriver = hid.NewBootDriver(conn, iface, reportLen, d.onReport)
	return d
}

func (d *Driver) onReport(data []byte) error {
	if len(data) < reportLen {
		return io.ErrUnexpectedEOF
	}
	for _, key := range data[2:reportLen] {
		if key == 0 || d.pressed(key) {
			continue
		}
		if handler != nil {
			handler(data[0], key)
		}
	}
	copy(d.prev[:], data[:reportLen])
	return nil
}

// pressed reports whether the key was already down in the previous report.
func (d *Driver) pressed(key uint8) bool {
	for _, k := range d.prev[2:] {
		if k == key {
			return true
		}
	}
	return false
}

func init() {
	class.Register(class.Match{
		Class:    usb.ClassHID,
		SubClass: usb.SubClassHIDBoot,
		Protocol: usb.ProtocolKeyboard,
	}, New)
}
