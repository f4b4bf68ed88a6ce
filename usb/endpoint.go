package usb

import "fmt"

// TransferType classifies an endpoint.
type TransferType uint8

const (
	TransferControl     TransferType = 0
	TransferIsochronous TransferType = 1
	TransferBulk        TransferType = 2
	TransferInterrupt   TransferType = 3
)

func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("transfer(%d)", uint8(t))
	}
}

// EndpointID identifies one endpoint by number and direction.
type EndpointID struct {
	Number uint8
	In     bool
}

// DefaultControlEP is endpoint 0, the bidirectional default control pipe.
var DefaultControlEP = EndpointID{Number: 0, In: true}

// ParseEndpointAddress converts a descriptor bEndpointAddress field.
func ParseEndpointAddress(addr uint8) EndpointID {
	return EndpointID{Number: addr & 0x0F, In: addr&0x80 != 0}
}

// Address returns the bEndpointAddress encoding.
func (e EndpointID) Address() uint8 {
	a := e.Number
	if e.In {
		a |= 0x80
	}
	return a
}

// DCI returns the xHCI device context index for the endpoint. Endpoint 0
// is DCI 1; endpoint n OUT is 2n, endpoint n IN is 2n+1.
func (e EndpointID) DCI() uint8 {
	if e.Number == 0 {
		return 1
	}
	dci := e.Number * 2
	if e.In {
		dci++
	}
	return dci
}

func (e EndpointID) String() string {
	dir := "out"
	if e.In {
		dir = "in"
	}
	return fmt.Sprintf("ep%d%s", e.Number, dir)
}

// EndpointInfo is what a class driver learns about one of its endpoints
// from the configuration descriptor.
type EndpointInfo struct {
	ID            EndpointID
	Type          TransferType
	MaxPacketSize uint16
	Interval      uint8
}
