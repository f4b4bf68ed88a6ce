// Package hcsim emulates an xHCI host controller behind the mmio.Space
// interface: it consumes the command and transfer rings the driver
// produces (honoring the cycle-bit protocol), serves standard USB
// requests from profile-built descriptor blobs, and produces Port Status
// Change, Command Completion and Transfer events into the driver's event
// ring. It backs the driver's tests and the CLI demo.
package hcsim

import (
	"fmt"
	"log/slog"

	"github.com/halfdome/xhci/internal/dma"
	"github.com/halfdome/xhci/internal/mmio"
	"github.com/halfdome/xhci/xhci"
)

// Register file geometry. The capability block sits at 0; the operational
// block, doorbell array and runtime block are at fixed offsets announced
// through CAPLENGTH, DBOFF and RTSOFF.
const (
	capLength = 0x40
	dbOff     = 0x1000
	rtsOff    = 0x2000
	regSize   = 0x3000

	opUSBCmd = capLength + 0x00
	opUSBSts = capLength + 0x04
	opCRCR   = capLength + 0x18
	opDCBAAP = capLength + 0x30
	opConfig = capLength + 0x38
	opPorts  = capLength + 0x400

	ir0IMan   = rtsOff + 0x20 + 0x00
	ir0ERSTSz = rtsOff + 0x20 + 0x08
	ir0ERSTBA = rtsOff + 0x20 + 0x10
	ir0ERDP   = rtsOff + 0x20 + 0x18
)

// USBCMD / USBSTS / PORTSC bits the emulation reacts to.
const (
	cmdRunStop uint32 = 1 << 0
	cmdHCReset uint32 = 1 << 1

	stsHCHalted uint32 = 1 << 0

	pscConnected     uint32 = 1 << 0
	pscEnabled       uint32 = 1 << 1
	pscReset         uint32 = 1 << 4
	pscSpeedShift           = 10
	pscConnectChange uint32 = 1 << 17
	pscEnableChange  uint32 = 1 << 18
	pscResetChange   uint32 = 1 << 21
	pscRW1C          uint32 = pscConnectChange | pscEnableChange | pscResetChange
)

// Config sizes the emulated controller.
type Config struct {
	Ports uint8
	Slots uint8
}

// HC is the emulated controller. It implements mmio.Space; writes to
// doorbells and a handful of registers trigger ring consumption and
// event production synchronously, which keeps tests deterministic.
type HC struct {
	logger *slog.Logger
	arena  *dma.Arena
	regs   *mmio.ByteSpace
	cfg    Config

	ports []*portSim // by port number, entry 0 unused
	slots []*slotSim // by slot ID, entry 0 unused

	// command ring consumer state
	cmdDeq   uint64
	cmdCycle bool

	// event ring producer state
	evBase  uint64
	evSize  int
	evIndex int
	evCycle bool
	evReady bool
}

type portSim struct {
	dev *Device
}

type slotSim struct {
	dev  *Device
	port uint8
	eps  map[uint8]*epSim // by DCI
}

type epSim struct {
	deq   uint64
	cycle bool

	// armed holds Normal TRBs consumed from the ring but waiting for
	// device data (interrupt-IN polling with nothing to report yet).
	armed []armedTRB
}

type armedTRB struct {
	addr   uint64
	buf    uint64
	length uint32
}

// New builds an emulated controller whose DMA structures live in the
// given arena, shared with the driver under test.
func New(arena *dma.Arena, cfg Config, logger *slog.Logger) *HC {
	if cfg.Ports == 0 {
		cfg.Ports = 4
	}
	if cfg.Slots == 0 {
		cfg.Slots = 8
	}
	hc := &HC{
		logger: logger,
		arena:  arena,
		regs:   mmio.NewByteSpace(regSize),
		cfg:    cfg,
		ports:  make([]*portSim, cfg.Ports+1),
		slots:  make([]*slotSim, cfg.Slots+1),
	}
	for i := range hc.ports {
		hc.ports[i] = &portSim{}
	}
	hc.initCaps()
	return hc
}

func (hc *HC) initCaps() {
	r := hc.regs
	r.Write8(0x00, capLength)
	r.Write16(0x02, 0x0110) // HCIVERSION 1.1.0
	r.Write32(0x04, uint32(hc.cfg.Slots)|uint32(hc.cfg.Ports)<<24) // HCSPARAMS1
	r.Write32(0x08, 0)      // HCSPARAMS2
	r.Write32(0x0C, 0)      // HCSPARAMS3
	r.Write32(0x10, 0)      // HCCPARAMS1: CSZ=0, 32-byte contexts
	r.Write32(0x14, dbOff)
	r.Write32(0x18, rtsOff)
	r.Write32(opUSBSts, stsHCHalted)
	r.Write32(capLength+0x08, 1) // PAGESIZE: 4 KiB
}

// Attach plugs an emulated device into a port: connected goes high, the
// connect change flag is raised and a Port Status Change event fires.
func (hc *HC) Attach(port uint8, dev *Device) error {
	if port == 0 || port > hc.cfg.Ports {
		return fmt.Errorf("hcsim: no port %d", port)
	}
	if hc.ports[port].dev != nil {
		return fmt.Errorf("hcsim: port %d already occupied", port)
	}
	hc.ports[port].dev = dev
	off := portSCOff(port)
	v := hc.regs.Read32(off)
	v |= pscConnected | pscConnectChange
	v = v&^(0xF<<pscSpeedShift) | uint32(dev.speed)<<pscSpeedShift
	hc.regs.Write32(off, v)
	hc.pushEvent(xhci.MakePortStatusChangeEvent(port))
	return nil
}

// QueueReport hands the device on a port an interrupt-IN report for the
// endpoint. If the driver already armed a transfer it completes
// immediately, otherwise the report waits for the next doorbell.
func (hc *HC) QueueReport(port uint8, epAddr uint8, data []byte) error {
	s := hc.slotForPort(port)
	if s == nil {
		return fmt.Errorf("hcsim: port %d has no addressed device", port)
	}
	dci := dciFor(epAddr)
	s.dev.queueReport(dci, data)
	if ep := s.eps[dci]; ep != nil {
		hc.serviceArmed(s, dci, ep)
	}
	return nil
}

func (hc *HC) slotForPort(port uint8) *slotSim {
	for _, s := range hc.slots {
		if s != nil && s.port == port {
			return s
		}
	}
	return nil
}

func dciFor(epAddr uint8) uint8 {
	dci := (epAddr & 0x0F) * 2
	if epAddr&0x80 != 0 {
		dci++
	}
	return dci
}

func portSCOff(port uint8) uint64 {
	return opPorts + uint64(port-1)*0x10
}

// mmio.Space: reads pass straight through to the register file.

func (hc *HC) Read8(off uint64) uint8   { return hc.regs.Read8(off) }
func (hc *HC) Read16(off uint64) uint16 { return hc.regs.Read16(off) }
func (hc *HC) Read32(off uint64) uint32 { return hc.regs.Read32(off) }
func (hc *HC) Read64(off uint64) uint64 { return hc.regs.Read64(off) }

func (hc *HC) Write8(off uint64, v uint8)   { hc.regs.Write8(off, v) }
func (hc *HC) Write16(off uint64, v uint16) { hc.regs.Write16(off, v) }

func (hc *HC) Write32(off uint64, v uint32) {
	switch {
	case off == opUSBCmd:
		hc.writeUSBCmd(v)
	case off >= opPorts && off < opPorts+uint64(hc.cfg.Ports)*0x10 && (off-opPorts)%0x10 == 0:
		hc.writePortSC(uint8((off-opPorts)/0x10)+1, v)
	case off >= dbOff && off < dbOff+uint64(hc.cfg.Slots+1)*4:
		hc.regs.Write32(off, v)
		hc.ringDoorbell(uint8((off-dbOff)/4), uint8(v))
	default:
		hc.regs.Write32(off, v)
	}
}

func (hc *HC) Write64(off uint64, v uint64) {
	hc.regs.Write64(off, v)
	switch off {
	case opCRCR:
		hc.cmdDeq = v &^ 0x3F
		hc.cmdCycle = v&1 != 0
	case ir0ERSTBA:
		hc.loadERST(v)
	}
}

func (hc *HC) writeUSBCmd(v uint32) {
	if v&cmdHCReset != 0 {
		hc.doReset()
		return
	}
	hc.regs.Write32(opUSBCmd, v)
	sts := hc.regs.Read32(opUSBSts)
	if v&cmdRunStop != 0 {
		sts &^= stsHCHalted
	} else {
		sts |= stsHCHalted
	}
	hc.regs.Write32(opUSBSts, sts)
}

// doReset clears the operational state but keeps port attachment: a real
// reset leaves connected devices connected with their change flags set.
func (hc *HC) doReset() {
	hc.regs.Write32(opUSBCmd, 0)
	hc.regs.Write32(opUSBSts, stsHCHalted)
	hc.regs.Write64(opCRCR, 0)
	hc.regs.Write64(opDCBAAP, 0)
	hc.regs.Write32(opConfig, 0)
	hc.evReady = false
	hc.slots = make([]*slotSim, hc.cfg.Slots+1)
	for n := uint8(1); n <= hc.cfg.Ports; n++ {
		if hc.ports[n].dev != nil {
			dev := hc.ports[n].dev
			hc.regs.Write32(portSCOff(n),
				pscConnected|pscConnectChange|uint32(dev.speed)<<pscSpeedShift)
			dev.reset()
		} else {
			hc.regs.Write32(portSCOff(n), 0)
		}
	}
}

func (hc *HC) writePortSC(port uint8, v uint32) {
	off := portSCOff(port)
	cur := hc.regs.Read32(off)
	cur &^= v & pscRW1C // RW1C: writing 1 clears
	hc.regs.Write32(off, cur)

	if v&pscReset != 0 && hc.ports[port].dev != nil {
		// Port reset completes immediately: enabled, reset change raised.
		cur = hc.regs.Read32(off)
		cur |= pscEnabled | pscResetChange
		cur &^= pscReset
		hc.regs.Write32(off, cur)
		hc.pushEvent(xhci.MakePortStatusChangeEvent(port))
	}
}

// loadERST reads the one-entry segment table the driver built and resets
// the producer to the segment base.
func (hc *HC) loadERST(base uint64) {
	b, err := hc.arena.At(base, 16)
	if err != nil {
		hc.logger.Error("ERSTBA outside arena", "addr", base)
		return
	}
	hc.evBase = leUint64(b)
	hc.evSize = int(leUint32(b[8:]))
	hc.evIndex = 0
	hc.evCycle = true
	hc.evReady = hc.evBase != 0 && hc.evSize >= 2
}

// pushEvent writes one TRB into the event ring with the producer cycle
// state, wrapping and toggling at the end of the segment. Events raised
// before the ring is armed are dropped, as on real hardware.
func (hc *HC) pushEvent(t xhci.TRB) {
	if !hc.evReady {
		return
	}
	b, err := hc.arena.At(hc.evBase+uint64(hc.evIndex)*xhci.TRBSize, xhci.TRBSize)
	if err != nil {
		hc.logger.Error("event ring outside arena", "addr", hc.evBase)
		return
	}
	t.WithCycle(hc.evCycle).Encode(b)
	hc.evIndex++
	if hc.evIndex == hc.evSize {
		hc.evIndex = 0
		hc.evCycle = !hc.evCycle
	}
}

func (hc *HC) ringDoorbell(slot uint8, target uint8) {
	if slot == 0 {
		hc.runCommandRing()
		return
	}
	hc.runTransferRing(slot, target)
}

// runCommandRing consumes command TRBs until it hits one whose cycle bit
// does not match the consumer cycle state.
func (hc *HC) runCommandRing() {
	for {
		b, err := hc.arena.At(hc.cmdDeq, xhci.TRBSize)
		if err != nil {
			hc.logger.Error("command ring outside arena", "addr", hc.cmdDeq)
			return
		}
		t := xhci.DecodeTRB(b)
		if t.Cycle() != hc.cmdCycle {
			return
		}
		if t.Type() == xhci.TRBLink {
			hc.cmdDeq = t.Parameter()
			if t[3]&(1<<1) != 0 { // toggle cycle
				hc.cmdCycle = !hc.cmdCycle
			}
			continue
		}
		hc.execCommand(hc.cmdDeq, t)
		hc.cmdDeq += xhci.TRBSize
	}
}

func (hc *HC) execCommand(addr uint64, t xhci.TRB) {
	switch t.Type() {
	case xhci.TRBEnableSlotCmd:
		slot := hc.allocSlot()
		code := xhci.CompletionSuccess
		if slot == 0 {
			code = xhci.CompletionInvalid
		}
		hc.pushEvent(xhci.MakeCommandCompletionEvent(xhci.CommandCompletionEvent{
			CommandTRB: addr, CompletionCode: code, SlotID: slot,
		}))

	case xhci.TRBAddressDeviceCmd:
		hc.execAddressDevice(addr, t)

	case xhci.TRBConfigEndpointCmd:
		hc.execConfigureEndpoint(addr, t)

	default:
		hc.logger.Warn("unsupported command", "type", t.Type().String())
		hc.pushEvent(xhci.MakeCommandCompletionEvent(xhci.CommandCompletionEvent{
			CommandTRB: addr, CompletionCode: xhci.CompletionInvalid,
		}))
	}
}

func (hc *HC) allocSlot() uint8 {
	for i := 1; i < len(hc.slots); i++ {
		if hc.slots[i] == nil {
			hc.slots[i] = &slotSim{eps: map[uint8]*epSim{}}
			return uint8(i)
		}
	}
	return 0
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b)) | uint64(leUint32(b[4:]))<<32
}
