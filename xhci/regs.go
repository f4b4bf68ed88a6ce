package xhci

import "github.com/halfdome/xhci/internal/mmio"

// Register bit definitions. Names follow the xHCI specification.
const (
	// USBCMD
	cmdRunStop          uint32 = 1 << 0
	cmdHCReset          uint32 = 1 << 1
	cmdIntEnable        uint32 = 1 << 2
	cmdHostSysErrEnable uint32 = 1 << 3
	cmdEnableWrapEvent  uint32 = 1 << 10

	// USBSTS
	stsHCHalted uint32 = 1 << 0
	stsNotReady uint32 = 1 << 11

	// CRCR
	crcrRingCycleState uint64 = 1 << 0

	// IMAN
	imanIntPending uint32 = 1 << 0
	imanIntEnable  uint32 = 1 << 1

	// ERDP keeps the dequeue ERST segment index and the event handler
	// busy flag in its low four bits.
	erdpFlagMask uint64 = 0xF
)

// PORTSC bits.
const (
	portscConnected      uint32 = 1 << 0
	portscEnabled        uint32 = 1 << 1
	portscReset          uint32 = 1 << 4
	portscPower          uint32 = 1 << 9
	portscConnectChange  uint32 = 1 << 17
	portscEnabledChange  uint32 = 1 << 18
	portscResetChange    uint32 = 1 << 21
	portscSpeedShift            = 10
	portscSpeedMask      uint32 = 0xF << portscSpeedShift

	// portscPreserveMask selects the read-write bits that must survive a
	// read-modify-write. Everything else is RW1C or reserved and must be
	// written back as zero so an unrelated change flag is not cleared.
	portscPreserveMask uint32 = 0x0E00C3E0
)

// Port speed IDs from PORTSC.
const (
	SpeedFull  uint8 = 1
	SpeedLow   uint8 = 2
	SpeedHigh  uint8 = 3
	SpeedSuper uint8 = 4
)

// Registers is the typed view over the controller's MMIO space. All field
// access happens at the hardware-mandated width through mmio.Space.
type Registers struct {
	s      mmio.Space
	opBase uint64
	rtBase uint64
	dbBase uint64
}

// NewRegisters locates the operational, runtime and doorbell blocks from
// the capability registers at the start of the space.
func NewRegisters(s mmio.Space) Registers {
	return Registers{
		s:      s,
		opBase: uint64(s.Read8(0x00)),
		rtBase: uint64(s.Read32(0x18) &^ 0x1F),
		dbBase: uint64(s.Read32(0x14) &^ 0x3),
	}
}

// Capability registers.

func (r Registers) CapLength() uint8   { return r.s.Read8(0x00) }
func (r Registers) HCIVersion() uint16 { return r.s.Read16(0x02) }
func (r Registers) HCSParams1() uint32 { return r.s.Read32(0x04) }
func (r Registers) HCSParams2() uint32 { return r.s.Read32(0x08) }
func (r Registers) HCSParams3() uint32 { return r.s.Read32(0x0C) }
func (r Registers) HCCParams1() uint32 { return r.s.Read32(0x10) }
func (r Registers) HCCParams2() uint32 { return r.s.Read32(0x1C) }

// MaxSlots is the number of device slots the hardware supports.
func (r Registers) MaxSlots() uint8 { return uint8(r.HCSParams1()) }

// MaxPorts is the number of root hub ports.
func (r Registers) MaxPorts() uint8 { return uint8(r.HCSParams1() >> 24) }

// Operational registers.

func (r Registers) USBCmd() uint32            { return r.s.Read32(r.opBase + 0x00) }
func (r Registers) SetUSBCmd(v uint32)        { r.s.Write32(r.opBase+0x00, v) }
func (r Registers) USBSts() uint32            { return r.s.Read32(r.opBase + 0x04) }
func (r Registers) PageSize() uint32          { return r.s.Read32(r.opBase + 0x08) }
func (r Registers) SetDNCtrl(v uint32)        { r.s.Write32(r.opBase+0x14, v) }
func (r Registers) SetCRCR(v uint64)          { r.s.Write64(r.opBase+0x18, v) }
func (r Registers) DCBAAP() uint64            { return r.s.Read64(r.opBase + 0x30) }
func (r Registers) SetDCBAAP(v uint64)        { r.s.Write64(r.opBase+0x30, v) }
func (r Registers) Config() uint32            { return r.s.Read32(r.opBase + 0x38) }
func (r Registers) SetMaxSlotsEnabled(n uint8) {
	r.s.Write32(r.opBase+0x38, r.Config()&^0xFF|uint32(n))
}

// Runtime registers.

func (r Registers) MFIndex() uint32 { return r.s.Read32(r.rtBase + 0x00) }

// Interrupter returns the register view for interrupter set i.
func (r Registers) Interrupter(i int) InterrupterRegs {
	return InterrupterRegs{s: r.s, base: r.rtBase + 0x20 + uint64(i)*0x20}
}

// Doorbell returns the doorbell register for a slot (0 is the command
// doorbell).
func (r Registers) Doorbell(slot uint8) DoorbellReg {
	return DoorbellReg{s: r.s, off: r.dbBase + uint64(slot)*4}
}

// PortRegs returns the register view for a 1-origin port number.
func (r Registers) PortRegs(port uint8) PortRegs {
	return PortRegs{s: r.s, base: r.opBase + 0x400 + uint64(port-1)*0x10}
}

// InterrupterRegs is one entry of the runtime interrupter array.
type InterrupterRegs struct {
	s    mmio.Space
	base uint64
}

func (ir InterrupterRegs) IMan() uint32       { return ir.s.Read32(ir.base + 0x00) }
func (ir InterrupterRegs) SetIMan(v uint32)   { ir.s.Write32(ir.base+0x00, v) }
func (ir InterrupterRegs) SetIMod(v uint32)   { ir.s.Write32(ir.base+0x04, v) }
func (ir InterrupterRegs) SetERSTSz(v uint32) { ir.s.Write32(ir.base+0x08, v) }
func (ir InterrupterRegs) SetERSTBA(v uint64) { ir.s.Write64(ir.base+0x10, v) }
func (ir InterrupterRegs) ERDP() uint64       { return ir.s.Read64(ir.base + 0x18) }
func (ir InterrupterRegs) SetERDP(v uint64)   { ir.s.Write64(ir.base+0x18, v) }

// Enable sets the interrupter's interrupt enable bit and acknowledges any
// pending interrupt.
func (ir InterrupterRegs) Enable() {
	ir.SetIMan(imanIntPending | imanIntEnable)
}

// DoorbellReg is one doorbell register.
type DoorbellReg struct {
	s   mmio.Space
	off uint64
}

// Ring writes the doorbell with the given target (DCI for device
// doorbells, 0 for the command ring) and stream ID.
func (d DoorbellReg) Ring(target uint8, stream uint16) {
	d.s.Write32(d.off, uint32(target)|uint32(stream)<<16)
}

// PortRegs is one Port Status/Control register set.
type PortRegs struct {
	s    mmio.Space
	base uint64
}

// PortSC reads the raw PORTSC value.
func (p PortRegs) PortSC() uint32 { return p.s.Read32(p.base) }

// writePreserving writes PORTSC keeping the RW bits intact and asserting
// only the given bits, so RW1C change flags are untouched unless named.
func (p PortRegs) writePreserving(bits uint32) {
	p.s.Write32(p.base, p.PortSC()&portscPreserveMask|bits)
}
