package xhci

import "fmt"

// PortState is the bring-up state of one root hub port. The state itself
// lives in the controller's port table; Port is only an accessor over the
// hardware register.
type PortState uint8

const (
	// PortDisconnected is the rest state: nothing attached, or attached
	// but not yet serviced.
	PortDisconnected PortState = iota

	// PortWaitingAddressed queues a port behind another port that holds
	// the single in-flight reset/address sequence.
	PortWaitingAddressed

	// PortResetting means a port reset has been asserted and the reset
	// change event is awaited.
	PortResetting

	// PortEnablingSlot means an Enable Slot command is in flight for the
	// port.
	PortEnablingSlot

	// PortAddressing means an Address Device command is in flight.
	PortAddressing

	// PortInitializingDevice means the slot is addressed and the device
	// state machine owns further progress.
	PortInitializingDevice
)

func (s PortState) String() string {
	switch s {
	case PortDisconnected:
		return "Disconnected"
	case PortWaitingAddressed:
		return "WaitingAddressed"
	case PortResetting:
		return "Resetting"
	case PortEnablingSlot:
		return "EnablingSlot"
	case PortAddressing:
		return "Addressing"
	case PortInitializingDevice:
		return "InitializingDevice"
	default:
		return fmt.Sprintf("PortState(%d)", uint8(s))
	}
}

// Port is a thin accessor over one Port Status/Control register set. The
// number is 1-origin, as in the xHCI spec.
type Port struct {
	num  uint8
	regs PortRegs
}

// Number returns the 1-origin port number.
func (p Port) Number() uint8 { return p.num }

// Connected reports whether a device is attached.
func (p Port) Connected() bool { return p.regs.PortSC()&portscConnected != 0 }

// Enabled reports whether the port is enabled.
func (p Port) Enabled() bool { return p.regs.PortSC()&portscEnabled != 0 }

// ResetChanged reports whether a port reset has completed since the flag
// was last cleared.
func (p Port) ResetChanged() bool { return p.regs.PortSC()&portscResetChange != 0 }

// Speed returns the negotiated port speed ID.
func (p Port) Speed() uint8 {
	return uint8(p.regs.PortSC() & portscSpeedMask >> portscSpeedShift)
}

// Reset asserts the port reset and clears the connect status change flag
// that announced the attach.
func (p Port) Reset() {
	p.regs.writePreserving(portscReset | portscConnectChange)
}

// ClearResetChange acknowledges the port reset change flag.
func (p Port) ClearResetChange() {
	p.regs.writePreserving(portscResetChange)
}

// maxPacketSize0 derives the default control endpoint's max packet size
// from the negotiated speed.
func maxPacketSize0(speed uint8) uint16 {
	switch speed {
	case SpeedSuper:
		return 512
	case SpeedHigh:
		return 64
	case SpeedFull:
		return 64
	default:
		return 8
	}
}
