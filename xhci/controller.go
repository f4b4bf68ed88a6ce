package xhci

import (
	"fmt"
	"log/slog"

	"github.com/halfdome/xhci/internal/dma"
	"github.com/halfdome/xhci/internal/mmio"
)

// Config sizes the controller's software structures.
type Config struct {
	// Slots is the number of device slots to enable. Must not exceed the
	// hardware's MaxSlots.
	Slots uint8

	// CommandRingSize and EventRingSize are TRB slot counts.
	CommandRingSize int
	EventRingSize   int
}

// DefaultConfig matches a small flat-port-array controller.
var DefaultConfig = Config{
	Slots:           8,
	CommandRingSize: 32,
	EventRingSize:   32,
}

// waitIterations bounds the register polling loops. On conforming
// hardware the bits settle within microseconds; running out means the
// controller broke its contract.
const waitIterations = 1_000_000

// Controller drives one xHC: it owns the register views, the command and
// event rings, the DCBAA, the device slot table, and the port bring-up
// state machine. All mutation happens from Init/Run and from ProcessEvent,
// which must be called from exactly one goroutine (interrupt handler or
// polling loop); the hardware side of the synchronization is the cycle-bit
// protocol and doorbell writes.
type Controller struct {
	logger *slog.Logger
	regs   Registers
	arena  *dma.Arena
	cfg    Config

	maxPorts uint8
	dcbaa    dma.Buffer

	cmdRing   *Ring
	eventRing *EventRing

	devices    []*Device   // by slot ID, entry 0 unused
	portStates []PortState // by port number, entry 0 unused

	// portUnderReset is the single port allowed in the
	// Resetting/EnablingSlot/Addressing states, 0 when none.
	portUnderReset uint8
}

// New constructs a controller over an MMIO space. Call Init before Run.
func New(space mmio.Space, arena *dma.Arena, cfg Config, logger *slog.Logger) *Controller {
	regs := NewRegisters(space)
	return &Controller{
		logger:   logger,
		regs:     regs,
		arena:    arena,
		cfg:      cfg,
		maxPorts: regs.MaxPorts(),
	}
}

// MaxPorts returns the root hub port count.
func (c *Controller) MaxPorts() uint8 { return c.maxPorts }

// PortAt returns the accessor for a 1-origin port number.
func (c *Controller) PortAt(n uint8) Port {
	return Port{num: n, regs: c.regs.PortRegs(n)}
}

// PortStateOf returns the bring-up state of a port.
func (c *Controller) PortStateOf(n uint8) PortState { return c.portStates[n] }

// DeviceAt returns the device occupying a slot, nil if none.
func (c *Controller) DeviceAt(slot uint8) *Device {
	if int(slot) >= len(c.devices) {
		return nil
	}
	return c.devices[slot]
}

func (c *Controller) waitClear(read func() uint32, bits uint32, what string) error {
	for i := 0; i < waitIterations; i++ {
		if read()&bits == 0 {
			return nil
		}
	}
	return Fatalf("timed out waiting for %s to clear", what)
}

func (c *Controller) waitSet(read func() uint32, bits uint32, what string) error {
	for i := 0; i < waitIterations; i++ {
		if read()&bits != 0 {
			return nil
		}
	}
	return Fatalf("timed out waiting for %s to set", what)
}

// Reset halts and resets the controller: interrupts off, Run/Stop clear,
// Host Controller Reset asserted, then wait for the reset and
// Controller Not Ready bits to clear.
func (c *Controller) Reset() error {
	cmd := c.regs.USBCmd()
	cmd &^= cmdIntEnable | cmdHostSysErrEnable | cmdEnableWrapEvent
	if c.regs.USBSts()&stsHCHalted == 0 {
		cmd &^= cmdRunStop
	}
	c.regs.SetUSBCmd(cmd)
	if err := c.waitSet(c.regs.USBSts, stsHCHalted, "HCHalted"); err != nil {
		return err
	}

	c.regs.SetUSBCmd(c.regs.USBCmd() | cmdHCReset)
	if err := c.waitClear(c.regs.USBCmd, cmdHCReset, "HCRST"); err != nil {
		return err
	}
	return c.waitClear(c.regs.USBSts, stsNotReady, "CNR")
}

// Init resets the hardware and programs slots, DCBAA, command ring and
// the primary interrupter's event ring.
func (c *Controller) Init() error {
	if err := c.Reset(); err != nil {
		return err
	}

	maxSlots := c.regs.MaxSlots()
	if c.cfg.Slots > maxSlots {
		return Fatalf("requested %d slots, hardware supports %d", c.cfg.Slots, maxSlots)
	}
	c.regs.SetMaxSlotsEnabled(c.cfg.Slots)
	c.devices = make([]*Device, c.cfg.Slots+1)
	c.portStates = make([]PortState, c.maxPorts+1)

	dcbaa, err := c.arena.Alloc(8*(int(c.cfg.Slots)+1), 64)
	if err != nil {
		return fmt.Errorf("%w: DCBAA: %w", ErrNoMemory, err)
	}
	c.dcbaa = dcbaa
	c.regs.SetDCBAAP(dcbaa.Addr())

	if c.cmdRing, err = NewRing(c.arena, c.cfg.CommandRingSize); err != nil {
		return err
	}
	crcr := c.cmdRing.Base()
	if c.cmdRing.Cycle() {
		crcr |= crcrRingCycleState
	}
	c.regs.SetCRCR(crcr)

	ir := c.regs.Interrupter(0)
	if c.eventRing, err = NewEventRing(c.arena, c.cfg.EventRingSize, ir); err != nil {
		return err
	}
	ir.SetIMod(4000)
	ir.Enable()
	c.regs.SetUSBCmd(c.regs.USBCmd() | cmdIntEnable)

	c.logger.Info("controller initialized",
		"version", fmt.Sprintf("%x", c.regs.HCIVersion()),
		"slots", c.cfg.Slots, "ports", c.maxPorts)
	return nil
}

// Run sets Run/Stop and waits for the controller to leave the halted
// state.
func (c *Controller) Run() error {
	c.regs.SetUSBCmd(c.regs.USBCmd() | cmdRunStop)
	if err := c.waitClear(c.regs.USBSts, stsHCHalted, "HCHalted"); err != nil {
		return err
	}
	c.logger.Info("controller running")
	return nil
}

// ConfigurePorts requests a reset for every port that already has a
// device attached. Ports attached later announce themselves with Port
// Status Change events.
func (c *Controller) ConfigurePorts() {
	for n := uint8(1); n <= c.maxPorts; n++ {
		if c.PortAt(n).Connected() {
			c.ResetPort(c.PortAt(n))
		}
	}
}

// ResetPort starts the bring-up sequence for a port, or queues the port
// behind the one currently being serviced. Slot enabling and addressing
// are a single in-flight command sequence, so only one port may hold it.
func (c *Controller) ResetPort(p Port) {
	if !p.Connected() {
		return
	}
	if c.portUnderReset != 0 && c.portUnderReset != p.Number() {
		c.portStates[p.Number()] = PortWaitingAddressed
		c.logger.Debug("port queued behind in-flight reset",
			"port", p.Number(), "busy", c.portUnderReset)
		return
	}
	c.portUnderReset = p.Number()
	c.portStates[p.Number()] = PortResetting
	c.logger.Debug("resetting port", "port", p.Number())
	p.Reset()
}

// schedulePort promotes the first queued port once no reset is in flight.
func (c *Controller) schedulePort() {
	if c.portUnderReset != 0 {
		return
	}
	for n := uint8(1); n <= c.maxPorts; n++ {
		if c.portStates[n] == PortWaitingAddressed {
			c.ResetPort(c.PortAt(n))
			return
		}
	}
}

// Pending reports whether the event ring holds an unconsumed event.
func (c *Controller) Pending() bool { return c.eventRing.HasEvent() }

// ProcessEvent drains at most one event from the event ring and
// dispatches it. It returns nil when the ring is empty. It must never be
// re-entered: there is exactly one logical consumer.
func (c *Controller) ProcessEvent() error {
	if !c.eventRing.HasEvent() {
		return nil
	}
	trb := c.eventRing.Front()
	err := c.dispatchEvent(trb)
	c.eventRing.Pop()
	if err != nil {
		c.logger.Error("event handling failed", "type", trb.Type().String(), "error", err)
	}
	return err
}

func (c *Controller) dispatchEvent(trb TRB) error {
	switch trb.Type() {
	case TRBPortStatusChange:
		return c.onPortStatusChange(trb.AsPortStatusChange())
	case TRBCommandCompletion:
		return c.onCommandCompletion(trb.AsCommandCompletion())
	case TRBTransferEvent:
		ev := trb.AsTransferEvent()
		dev := c.DeviceAt(ev.SlotID)
		if dev == nil {
			return fmt.Errorf("%w: transfer event for slot %d", ErrInvalidSlot, ev.SlotID)
		}
		return dev.onTransferEvent(ev)
	default:
		c.logger.Warn("ignoring unhandled event", "type", trb.Type().String())
		return nil
	}
}

func (c *Controller) onPortStatusChange(ev PortStatusChangeEvent) error {
	if ev.PortID == 0 || ev.PortID > c.maxPorts {
		return fmt.Errorf("%w: port status change for port %d", ErrInvalidState, ev.PortID)
	}
	p := c.PortAt(ev.PortID)
	switch c.portStates[ev.PortID] {
	case PortDisconnected:
		c.ResetPort(p)
		return nil
	case PortResetting:
		if !p.Enabled() || !p.ResetChanged() {
			return fmt.Errorf("%w: port %d reset incomplete", ErrInvalidState, ev.PortID)
		}
		return c.enableSlot(p)
	default:
		return fmt.Errorf("%w: port status change while port %d is %s",
			ErrInvalidState, ev.PortID, c.portStates[ev.PortID])
	}
}

// enableSlot acknowledges the completed reset and asks the hardware for a
// device slot.
func (c *Controller) enableSlot(p Port) error {
	p.ClearResetChange()
	c.portStates[p.Number()] = PortEnablingSlot
	c.pushCommand(EnableSlotTRB())
	c.logger.Debug("enable slot issued", "port", p.Number())
	return nil
}

func (c *Controller) onCommandCompletion(ev CommandCompletionEvent) error {
	if ev.CompletionCode != CompletionSuccess {
		return fmt.Errorf("%w: command completion code %d", ErrTransferFailed, ev.CompletionCode)
	}
	raw, err := c.arena.At(ev.CommandTRB, TRBSize)
	if err != nil {
		return Fatalf("command completion points outside the command ring: %#x", ev.CommandTRB)
	}
	issued := DecodeTRB(raw)

	switch issued.Type() {
	case TRBEnableSlotCmd:
		port := c.portUnderReset
		if port == 0 || c.portStates[port] != PortEnablingSlot {
			return fmt.Errorf("%w: enable slot completion with no port in EnablingSlot", ErrInvalidState)
		}
		return c.addressDevice(port, ev.SlotID)

	case TRBAddressDeviceCmd:
		dev := c.DeviceAt(ev.SlotID)
		if dev == nil {
			return fmt.Errorf("%w: address device completion for slot %d", ErrInvalidSlot, ev.SlotID)
		}
		c.portStates[dev.port] = PortInitializingDevice
		c.portUnderReset = 0
		c.schedulePort()
		c.logger.Debug("slot addressed", "slot", ev.SlotID, "port", dev.port)
		return dev.StartInit()

	case TRBConfigEndpointCmd:
		dev := c.DeviceAt(ev.SlotID)
		if dev == nil {
			return fmt.Errorf("%w: configure endpoint completion for slot %d", ErrInvalidSlot, ev.SlotID)
		}
		return dev.onEndpointsConfigured()

	default:
		return Fatalf("completion for unrecognized command type %s", issued.Type())
	}
}

// addressDevice allocates the slot bookkeeping and issues the Address
// Device command. The DCBAA entry is written once here and never mutated
// again by software.
func (c *Controller) addressDevice(port, slotID uint8) error {
	if slotID == 0 || int(slotID) >= len(c.devices) {
		return fmt.Errorf("%w: enable slot returned slot %d", ErrInvalidSlot, slotID)
	}
	p := c.PortAt(port)
	dev, err := newDevice(c.logger, c.arena, slotID, port, p.Speed(),
		c.regs.Doorbell(slotID), c.pushCommand)
	if err != nil {
		return err
	}
	c.devices[slotID] = dev
	c.dcbaa.Write64(8*int(slotID), dev.DeviceContextAddr())
	c.portStates[port] = PortAddressing
	c.pushCommand(dev.addressDeviceTRB())
	c.logger.Debug("address device issued", "port", port, "slot", slotID)
	return nil
}

// pushCommand enqueues a command TRB and rings the command doorbell.
func (c *Controller) pushCommand(t TRB) {
	c.cmdRing.Push(t)
	c.regs.Doorbell(0).Ring(0, 0)
}
