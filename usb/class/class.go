// Package class defines the contract between the per-slot device state
// machine and USB class drivers, and the registry that matches interface
// descriptors to driver constructors.
package class

import (
	"sync"

	"github.com/halfdome/xhci/usb"
)

// Conn is the slice of the device a driver is allowed to talk through.
// It is implemented by the xhci per-slot device.
type Conn interface {
	// ControlOut submits a control request with an optional OUT data stage.
	// The completion is routed back to the issuing driver's
	// OnControlComplete.
	ControlOut(ep usb.EndpointID, setup usb.SetupData, data []byte, from Driver) error

	// InterruptIn arms one interrupt-IN transfer of up to length bytes on
	// the endpoint. The completion arrives via OnInterruptComplete.
	InterruptIn(ep usb.EndpointID, length int) error
}

// Driver is a USB class driver bound to one interface of a device.
type Driver interface {
	// SetEndpoint hands the driver one of its interface's endpoints,
	// called once per endpoint before OnEndpointConfigured.
	SetEndpoint(ep usb.EndpointInfo)

	// OnEndpointConfigured is called once after the device reaches the
	// configured state. Drivers typically start their class handshake here.
	OnEndpointConfigured() error

	// OnControlComplete is called when a control request issued by this
	// driver completes.
	OnControlComplete() error

	// OnInterruptComplete is called with the data of a completed
	// interrupt-IN transfer.
	OnInterruptComplete(ep usb.EndpointID, data []byte) error
}

// Factory constructs a driver for a recognized interface.
type Factory func(conn Conn, iface usb.InterfaceDescriptor) Driver

// Match identifies the interfaces a factory recognizes.
type Match struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

var (
	mu        sync.RWMutex
	factories = map[Match]Factory{}
)

// Register installs a factory for an interface class triple. Drivers call
// it from init; later registrations for the same triple win.
func Register(m Match, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[m] = f
}

// Lookup returns the factory registered for the interface, or nil if the
// interface is not recognized.
func Lookup(iface usb.InterfaceDescriptor) Factory {
	mu.RLock()
	defer mu.RUnlock()
	return factories[Match{
		Class:    iface.BInterfaceClass,
		SubClass: iface.BInterfaceSubClass,
		Protocol: iface.BInterfaceProtocol,
	}]
}
