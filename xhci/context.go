package xhci

import (
	"encoding/binary"
	"fmt"

	"github.com/halfdome/xhci/internal/dma"
	"github.com/halfdome/xhci/usb"
)

// Context geometry for 32-byte contexts (HCCPARAMS1.CSZ = 0, the only
// size this driver supports).
const (
	contextSize       = 32
	maxDCI            = 31
	deviceContextSize = contextSize * (maxDCI + 1)
	inputContextSize  = contextSize * (maxDCI + 2)
)

// Endpoint Context type field values.
const (
	epTypeIsochOut uint32 = 1
	epTypeBulkOut  uint32 = 2
	epTypeIntOut   uint32 = 3
	epTypeControl  uint32 = 4
	epTypeIsochIn  uint32 = 5
	epTypeBulkIn   uint32 = 6
	epTypeIntIn    uint32 = 7
)

// endpointType maps a USB transfer type and direction onto the Endpoint
// Context type field.
func endpointType(t usb.TransferType, in bool) uint32 {
	switch t {
	case usb.TransferControl:
		return epTypeControl
	case usb.TransferIsochronous:
		if in {
			return epTypeIsochIn
		}
		return epTypeIsochOut
	case usb.TransferBulk:
		if in {
			return epTypeBulkIn
		}
		return epTypeBulkOut
	default:
		if in {
			return epTypeIntIn
		}
		return epTypeIntOut
	}
}

// SlotContext is a view over one 32-byte Slot Context in DMA memory.
type SlotContext struct{ b []byte }

func (s SlotContext) dword(i int) uint32       { return binary.LittleEndian.Uint32(s.b[i*4:]) }
func (s SlotContext) setDword(i int, v uint32) { binary.LittleEndian.PutUint32(s.b[i*4:], v) }

// SetRouteString sets the 20-bit route string (always 0 on a flat port
// array).
func (s SlotContext) SetRouteString(route uint32) {
	s.setDword(0, s.dword(0)&^0xFFFFF|route&0xFFFFF)
}

// SetSpeed sets the port speed ID the slot operates at.
func (s SlotContext) SetSpeed(speed uint8) {
	s.setDword(0, s.dword(0)&^(0xF<<20)|uint32(speed)<<20)
}

// SetContextEntries sets the index of the last valid Endpoint Context.
func (s SlotContext) SetContextEntries(n uint8) {
	s.setDword(0, s.dword(0)&^(0x1F<<27)|uint32(n)<<27)
}

// SetRootHubPort sets the root hub port number the device hangs off.
func (s SlotContext) SetRootHubPort(port uint8) {
	s.setDword(1, s.dword(1)&^(0xFF<<16)|uint32(port)<<16)
}

func (s SlotContext) Speed() uint8          { return uint8(s.dword(0) >> 20 & 0xF) }
func (s SlotContext) ContextEntries() uint8 { return uint8(s.dword(0) >> 27 & 0x1F) }
func (s SlotContext) RootHubPort() uint8    { return uint8(s.dword(1) >> 16 & 0xFF) }

// EndpointContext is a view over one 32-byte Endpoint Context.
type EndpointContext struct{ b []byte }

func (e EndpointContext) dword(i int) uint32       { return binary.LittleEndian.Uint32(e.b[i*4:]) }
func (e EndpointContext) setDword(i int, v uint32) { binary.LittleEndian.PutUint32(e.b[i*4:], v) }

// SetInterval sets the endpoint service interval exponent.
func (e EndpointContext) SetInterval(v uint8) {
	e.setDword(0, e.dword(0)&^(0xFF<<16)|uint32(v)<<16)
}

// SetType sets the Endpoint Context type field.
func (e EndpointContext) SetType(t uint32) {
	e.setDword(1, e.dword(1)&^(0x7<<3)|t<<3)
}

// SetErrorCount sets the bus error retry count.
func (e EndpointContext) SetErrorCount(n uint8) {
	e.setDword(1, e.dword(1)&^(0x3<<1)|uint32(n&0x3)<<1)
}

// SetMaxBurstSize sets the per-interval burst size.
func (e EndpointContext) SetMaxBurstSize(n uint8) {
	e.setDword(1, e.dword(1)&^(0xFF<<8)|uint32(n)<<8)
}

// SetMaxPacketSize sets the endpoint's max packet size.
func (e EndpointContext) SetMaxPacketSize(n uint16) {
	e.setDword(1, e.dword(1)&^(0xFFFF<<16)|uint32(n)<<16)
}

// SetDequeuePointer sets the TR dequeue pointer and dequeue cycle state.
func (e EndpointContext) SetDequeuePointer(addr uint64, dcs bool) {
	v := addr &^ 0xF
	if dcs {
		v |= 1
	}
	e.setDword(2, uint32(v))
	e.setDword(3, uint32(v>>32))
}

// SetAverageTRBLength sets the scheduling hint field.
func (e EndpointContext) SetAverageTRBLength(n uint16) {
	e.setDword(4, e.dword(4)&^0xFFFF|uint32(n))
}

func (e EndpointContext) Type() uint32          { return e.dword(1) >> 3 & 0x7 }
func (e EndpointContext) MaxPacketSize() uint16 { return uint16(e.dword(1) >> 16) }

// DequeuePointer returns the TR dequeue pointer and dequeue cycle state.
func (e EndpointContext) DequeuePointer() (uint64, bool) {
	v := uint64(e.dword(2)) | uint64(e.dword(3))<<32
	return v &^ 0xF, v&1 != 0
}

// DeviceContext is the hardware-owned per-slot context array: one Slot
// Context plus up to 31 Endpoint Contexts. Software allocates it and
// records it in the DCBAA; only the controller writes it after that.
type DeviceContext struct{ buf dma.Buffer }

// NewDeviceContext allocates a zeroed device context.
func NewDeviceContext(arena *dma.Arena) (DeviceContext, error) {
	buf, err := arena.Alloc(deviceContextSize, 64)
	if err != nil {
		return DeviceContext{}, fmt.Errorf("xhci: allocating device context: %w", err)
	}
	return DeviceContext{buf: buf}, nil
}

// Addr returns the context's DMA address for the DCBAA entry.
func (c DeviceContext) Addr() uint64 { return c.buf.Addr() }

// Slot returns the Slot Context view.
func (c DeviceContext) Slot() SlotContext {
	return SlotContext{b: c.buf.Bytes()[:contextSize]}
}

// Endpoint returns the Endpoint Context view for a DCI in 1..31.
func (c DeviceContext) Endpoint(dci uint8) EndpointContext {
	off := int(dci) * contextSize
	return EndpointContext{b: c.buf.Bytes()[off : off+contextSize]}
}

// InputContext is the software-built command payload for Address Device
// and Configure Endpoint: an Input Control Context with add/drop bitmaps
// followed by the contexts being handed to the hardware.
type InputContext struct{ buf dma.Buffer }

// NewInputContext allocates a zeroed input context.
func NewInputContext(arena *dma.Arena) (InputContext, error) {
	buf, err := arena.Alloc(inputContextSize, 64)
	if err != nil {
		return InputContext{}, fmt.Errorf("xhci: allocating input context: %w", err)
	}
	return InputContext{buf: buf}, nil
}

// Addr returns the context's DMA address for the command TRB.
func (c InputContext) Addr() uint64 { return c.buf.Addr() }

// Clear zeroes the whole input context, including the add/drop bitmaps.
func (c InputContext) Clear() { c.buf.Zero() }

// AddContext marks context dci (0 = slot context) in the add bitmap.
func (c InputContext) AddContext(dci uint8) {
	c.buf.Write32(4, c.buf.Read32(4)|1<<dci)
}

// AddFlags returns the add-context bitmap.
func (c InputContext) AddFlags() uint32 { return c.buf.Read32(4) }

// Slot returns the input copy of the Slot Context.
func (c InputContext) Slot() SlotContext {
	return SlotContext{b: c.buf.Bytes()[contextSize : 2*contextSize]}
}

// Endpoint returns the input copy of the Endpoint Context for a DCI.
func (c InputContext) Endpoint(dci uint8) EndpointContext {
	off := int(dci+1) * contextSize
	return EndpointContext{b: c.buf.Bytes()[off : off+contextSize]}
}
