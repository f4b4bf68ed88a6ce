// Package xhci implements a host-side driver for an xHCI USB host
// controller: command/transfer/event rings, register views, device and
// input contexts, the per-port bring-up state machine and the per-slot
// device state machine that runs standard USB enumeration.
package xhci

import (
	"encoding/binary"
	"fmt"
)

// TRBType is the 6-bit type field of a Transfer Request Block.
type TRBType uint8

// TRB types used by this driver (xHCI spec table 6-91).
const (
	TRBNormal            TRBType = 1
	TRBSetupStage        TRBType = 2
	TRBDataStage         TRBType = 3
	TRBStatusStage       TRBType = 4
	TRBLink              TRBType = 6
	TRBEnableSlotCmd     TRBType = 9
	TRBAddressDeviceCmd  TRBType = 11
	TRBConfigEndpointCmd TRBType = 12
	TRBTransferEvent     TRBType = 32
	TRBCommandCompletion TRBType = 33
	TRBPortStatusChange  TRBType = 34
)

func (t TRBType) String() string {
	switch t {
	case TRBNormal:
		return "Normal"
	case TRBSetupStage:
		return "SetupStage"
	case TRBDataStage:
		return "DataStage"
	case TRBStatusStage:
		return "StatusStage"
	case TRBLink:
		return "Link"
	case TRBEnableSlotCmd:
		return "EnableSlotCommand"
	case TRBAddressDeviceCmd:
		return "AddressDeviceCommand"
	case TRBConfigEndpointCmd:
		return "ConfigureEndpointCommand"
	case TRBTransferEvent:
		return "TransferEvent"
	case TRBCommandCompletion:
		return "CommandCompletionEvent"
	case TRBPortStatusChange:
		return "PortStatusChangeEvent"
	default:
		return fmt.Sprintf("TRBType(%d)", uint8(t))
	}
}

// Completion codes reported in event TRBs.
const (
	CompletionInvalid     uint8 = 0
	CompletionSuccess     uint8 = 1
	CompletionShortPacket uint8 = 13
)

// TRB is the raw 16-byte hardware descriptor, kept as four little-endian
// 32-bit words. All typed variants are views over this layout.
type TRB [4]uint32

// TRBSize is the wire size of one TRB.
const TRBSize = 16

// DecodeTRB reads a TRB from DMA memory.
func DecodeTRB(b []byte) TRB {
	var t TRB
	for i := range t {
		t[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return t
}

// Encode writes the TRB into DMA memory.
func (t TRB) Encode(b []byte) {
	for i, w := range t {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
}

// Parameter is the 64-bit parameter field (words 0-1).
func (t TRB) Parameter() uint64 { return uint64(t[0]) | uint64(t[1])<<32 }

// Status is the 32-bit status field (word 2).
func (t TRB) Status() uint32 { return t[2] }

// Cycle is the cycle bit.
func (t TRB) Cycle() bool { return t[3]&1 != 0 }

// Type is the TRB type field.
func (t TRB) Type() TRBType { return TRBType(t[3] >> 10 & 0x3F) }

func (t *TRB) setParameter(p uint64) {
	t[0] = uint32(p)
	t[1] = uint32(p >> 32)
}

// WithCycle returns a copy of the TRB with the cycle bit forced. Rings use
// it so every written TRB carries the producer cycle state.
func (t TRB) WithCycle(pcs bool) TRB {
	t[3] &^= 1
	if pcs {
		t[3] |= 1
	}
	return t
}

func trbControl(typ TRBType, bits uint32) uint32 {
	return bits | uint32(typ)<<10
}

// Control word bits shared by transfer TRBs.
const (
	trbENT   = 1 << 1 // evaluate next TRB
	trbISP   = 1 << 2 // interrupt on short packet
	trbChain = 1 << 4
	trbIOC   = 1 << 5 // interrupt on completion
	trbIDT   = 1 << 6 // immediate data
	trbTC    = 1 << 1 // toggle cycle (Link TRB)
)

// TransferType values for the setup stage TRB.
const (
	SetupNoDataStage  uint32 = 0
	SetupOutDataStage uint32 = 2
	SetupInDataStage  uint32 = 3
)

// NormalTRB builds a Normal TRB for bulk/interrupt transfers. IOC and ISP
// are always set: every completed or short transfer raises an event.
func NormalTRB(buf uint64, length uint32) TRB {
	var t TRB
	t.setParameter(buf)
	t[2] = length & 0x1FFFF
	t[3] = trbControl(TRBNormal, trbIOC|trbISP)
	return t
}

// SetupStageTRB builds the setup stage of a control transfer. The 8 setup
// bytes ride in the parameter field as immediate data.
func SetupStageTRB(requestType, request uint8, value, index, length uint16, transferType uint32) TRB {
	var t TRB
	t[0] = uint32(requestType) | uint32(request)<<8 | uint32(value)<<16
	t[1] = uint32(index) | uint32(length)<<16
	t[2] = 8 // setup data is always 8 bytes
	t[3] = trbControl(TRBSetupStage, trbIDT|transferType<<16)
	return t
}

// SetupStageData recovers the setup bytes from a setup stage TRB.
func (t TRB) SetupStageData() (requestType, request uint8, value, index, length uint16) {
	return uint8(t[0]), uint8(t[0] >> 8), uint16(t[0] >> 16), uint16(t[1]), uint16(t[1] >> 16)
}

// DataStageTRB builds the data stage of a control transfer.
func DataStageTRB(buf uint64, length uint32, in, ioc bool) TRB {
	var t TRB
	t.setParameter(buf)
	t[2] = length & 0x1FFFF
	bits := uint32(0)
	if in {
		bits |= 1 << 16
	}
	if ioc {
		bits |= trbIOC
	}
	t[3] = trbControl(TRBDataStage, bits)
	return t
}

// StatusStageTRB builds the status stage of a control transfer.
func StatusStageTRB(in, ioc bool) TRB {
	var t TRB
	bits := uint32(0)
	if in {
		bits |= 1 << 16
	}
	if ioc {
		bits |= trbIOC
	}
	t[3] = trbControl(TRBStatusStage, bits)
	return t
}

// TransferLength is the length field of a Normal or Data Stage TRB.
func (t TRB) TransferLength() uint32 { return t[2] & 0x1FFFF }

// LinkTRB builds the Link TRB closing a ring segment back to its base.
func LinkTRB(target uint64, toggleCycle bool) TRB {
	var t TRB
	t.setParameter(target &^ 0xF)
	bits := uint32(0)
	if toggleCycle {
		bits |= trbTC
	}
	t[3] = trbControl(TRBLink, bits)
	return t
}

// EnableSlotTRB builds an Enable Slot command.
func EnableSlotTRB() TRB {
	var t TRB
	t[3] = trbControl(TRBEnableSlotCmd, 0)
	return t
}

// AddressDeviceTRB builds an Address Device command for a slot.
func AddressDeviceTRB(inputContext uint64, slotID uint8) TRB {
	var t TRB
	t.setParameter(inputContext &^ 0xF)
	t[3] = trbControl(TRBAddressDeviceCmd, uint32(slotID)<<24)
	return t
}

// ConfigureEndpointTRB builds a Configure Endpoint command for a slot.
func ConfigureEndpointTRB(inputContext uint64, slotID uint8) TRB {
	var t TRB
	t.setParameter(inputContext &^ 0xF)
	t[3] = trbControl(TRBConfigEndpointCmd, uint32(slotID)<<24)
	return t
}

// CommandCompletionEvent is the decoded view of a Command Completion TRB.
type CommandCompletionEvent struct {
	CommandTRB     uint64
	CompletionCode uint8
	SlotID         uint8
}

// AsCommandCompletion decodes the TRB; valid only when Type() says so.
func (t TRB) AsCommandCompletion() CommandCompletionEvent {
	return CommandCompletionEvent{
		CommandTRB:     t.Parameter(),
		CompletionCode: uint8(t[2] >> 24),
		SlotID:         uint8(t[3] >> 24),
	}
}

// MakeCommandCompletionEvent encodes the event (produced by the emulated
// controller).
func MakeCommandCompletionEvent(e CommandCompletionEvent) TRB {
	var t TRB
	t.setParameter(e.CommandTRB)
	t[2] = uint32(e.CompletionCode) << 24
	t[3] = trbControl(TRBCommandCompletion, uint32(e.SlotID)<<24)
	return t
}

// TransferEvent is the decoded view of a Transfer Event TRB. TransferTRB
// points at the issuer TRB on the transfer ring; Residual is the number of
// bytes the controller did not transfer.
type TransferEvent struct {
	TransferTRB    uint64
	Residual       uint32
	CompletionCode uint8
	EndpointDCI    uint8
	SlotID         uint8
}

// AsTransferEvent decodes the TRB; valid only when Type() says so.
func (t TRB) AsTransferEvent() TransferEvent {
	return TransferEvent{
		TransferTRB:    t.Parameter(),
		Residual:       t[2] & 0xFFFFFF,
		CompletionCode: uint8(t[2] >> 24),
		EndpointDCI:    uint8(t[3] >> 16 & 0x1F),
		SlotID:         uint8(t[3] >> 24),
	}
}

// MakeTransferEvent encodes the event.
func MakeTransferEvent(e TransferEvent) TRB {
	var t TRB
	t.setParameter(e.TransferTRB)
	t[2] = e.Residual&0xFFFFFF | uint32(e.CompletionCode)<<24
	t[3] = trbControl(TRBTransferEvent, uint32(e.EndpointDCI)<<16|uint32(e.SlotID)<<24)
	return t
}

// PortStatusChangeEvent is the decoded view of a Port Status Change TRB.
type PortStatusChangeEvent struct {
	PortID uint8
}

// AsPortStatusChange decodes the TRB; valid only when Type() says so.
func (t TRB) AsPortStatusChange() PortStatusChangeEvent {
	return PortStatusChangeEvent{PortID: uint8(t[0] >> 24)}
}

// MakePortStatusChangeEvent encodes the event.
func MakePortStatusChangeEvent(portID uint8) TRB {
	var t TRB
	t[0] = uint32(portID) << 24
	t[3] = trbControl(TRBPortStatusChange, 0)
	return t
}
