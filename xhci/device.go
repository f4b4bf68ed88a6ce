package xhci

import (
	"fmt"
	"log/slog"

	"github.com/halfdome/xhci/internal/dma"
	"github.com/halfdome/xhci/usb"
	"github.com/halfdome/xhci/usb/class"
)

// InitPhase tracks the enumeration state machine of one slot. Phases only
// ever advance; an out-of-order completion is an error, never a regression.
type InitPhase uint8

const (
	PhaseNotAddressed InitPhase = iota
	Phase1                      // GET_DESCRIPTOR(Device) in flight
	Phase2                      // GET_DESCRIPTOR(Configuration) in flight
	Phase3                      // SET_CONFIGURATION / Configure Endpoint in flight
	PhaseComplete
)

func (p InitPhase) String() string {
	switch p {
	case PhaseNotAddressed:
		return "NotAddressed"
	case Phase1:
		return "Phase1"
	case Phase2:
		return "Phase2"
	case Phase3:
		return "Phase3"
	case PhaseComplete:
		return "Complete"
	default:
		return fmt.Sprintf("InitPhase(%d)", uint8(p))
	}
}

// transferRingSize is the slot count of per-endpoint transfer rings.
const transferRingSize = 32

// descBufSize is the scratch buffer size for descriptor reads.
const descBufSize = 256

// Device is the software state machine for one device slot: it owns the
// slot's contexts and transfer rings, drives standard enumeration over the
// default control pipe, and routes completed transfers to its class driver.
type Device struct {
	logger *slog.Logger
	arena  *dma.Arena

	slotID   uint8
	port     uint8
	speed    uint8
	doorbell DoorbellReg
	command  func(TRB) // enqueue on the command ring and ring doorbell 0

	inputCtx InputContext
	devCtx   DeviceContext
	rings    map[uint8]*Ring // by DCI

	phase      InitPhase
	descriptor usb.DeviceDescriptor
	descBuf    dma.Buffer

	// pendingSetups correlates the issuer (data or status stage) TRB of an
	// in-flight control transfer back to its setup data. Entries are
	// removed on lookup: at-most-once delivery.
	pendingSetups map[uint64]usb.SetupData

	// waiters routes post-enumeration control completions back to the
	// class driver that issued them, keyed by exact setup data.
	waiters map[usb.SetupData]class.Driver

	driver    class.Driver
	driverEPs []usb.EndpointInfo
	epDrivers map[uint8]class.Driver // by DCI
	epBuffers map[uint8]dma.Buffer   // by DCI, re-armed interrupt buffers
}

// newDevice allocates the slot's contexts, the endpoint-0 transfer ring,
// and fills the input context for the Address Device command.
func newDevice(logger *slog.Logger, arena *dma.Arena, slotID, port, speed uint8, doorbell DoorbellReg, command func(TRB)) (*Device, error) {
	d := &Device{
		logger:        logger.With("slot", slotID, "port", port),
		arena:         arena,
		slotID:        slotID,
		port:          port,
		speed:         speed,
		doorbell:      doorbell,
		command:       command,
		rings:         map[uint8]*Ring{},
		pendingSetups: map[uint64]usb.SetupData{},
		waiters:       map[usb.SetupData]class.Driver{},
		epDrivers:     map[uint8]class.Driver{},
		epBuffers:     map[uint8]dma.Buffer{},
	}
	var err error
	if d.inputCtx, err = NewInputContext(arena); err != nil {
		return nil, err
	}
	if d.devCtx, err = NewDeviceContext(arena); err != nil {
		return nil, err
	}
	if d.descBuf, err = arena.Alloc(descBufSize, 64); err != nil {
		return nil, fmt.Errorf("xhci: allocating descriptor buffer: %w", err)
	}

	ep0, err := NewRing(arena, transferRingSize)
	if err != nil {
		return nil, err
	}
	ep0DCI := usb.DefaultControlEP.DCI()
	d.rings[ep0DCI] = ep0

	ic := d.inputCtx
	ic.Clear()
	ic.AddContext(0)
	ic.AddContext(ep0DCI)
	slot := ic.Slot()
	slot.SetRouteString(0)
	slot.SetRootHubPort(port)
	slot.SetSpeed(speed)
	slot.SetContextEntries(1)
	ep := ic.Endpoint(ep0DCI)
	ep.SetType(epTypeControl)
	ep.SetMaxPacketSize(maxPacketSize0(speed))
	ep.SetMaxBurstSize(0)
	ep.SetErrorCount(3)
	ep.SetDequeuePointer(ep0.Base(), true)
	return d, nil
}

// SlotID returns the hardware slot the device occupies.
func (d *Device) SlotID() uint8 { return d.slotID }

// Phase returns the current enumeration phase.
func (d *Device) Phase() InitPhase { return d.phase }

// Descriptor returns the device descriptor once Phase1 has completed.
func (d *Device) Descriptor() usb.DeviceDescriptor { return d.descriptor }

// Driver returns the bound class driver, nil before binding.
func (d *Device) Driver() class.Driver { return d.driver }

// DeviceContextAddr is what the controller records in the DCBAA.
func (d *Device) DeviceContextAddr() uint64 { return d.devCtx.Addr() }

// addressDeviceTRB builds the Address Device command for this slot.
func (d *Device) addressDeviceTRB() TRB {
	return AddressDeviceTRB(d.inputCtx.Addr(), d.slotID)
}

// StartInit kicks off enumeration after the slot has been addressed.
func (d *Device) StartInit() error {
	if d.phase != PhaseNotAddressed {
		return fmt.Errorf("%w: StartInit in phase %s", ErrInvalidPhase, d.phase)
	}
	d.phase = Phase1
	d.logger.Debug("requesting device descriptor")
	return d.controlIn(usb.DefaultControlEP,
		usb.GetDescriptorSetup(usb.DeviceDescType, 0, usb.DeviceDescLen), d.descBuf, usb.DeviceDescLen)
}

// controlIn submits Setup+Data(IOC)+Status on the endpoint's transfer
// ring and records the data stage as the pending issuer for the setup.
func (d *Device) controlIn(ep usb.EndpointID, setup usb.SetupData, buf dma.Buffer, length int) error {
	ring, ok := d.rings[ep.DCI()]
	if !ok {
		return fmt.Errorf("%w: no transfer ring for %s", ErrInvalidState, ep)
	}
	ring.Push(SetupStageTRB(setup.RequestType, setup.Request, setup.Value, setup.Index, setup.Length, SetupInDataStage))
	issuer := ring.Push(DataStageTRB(buf.Addr(), uint32(length), true, true))
	ring.Push(StatusStageTRB(false, false))
	d.pendingSetups[issuer] = setup
	d.doorbell.Ring(ep.DCI(), 0)
	return nil
}

// controlOut submits a control request with an optional OUT data stage.
// With no data the TD is Setup+Status(IOC); the status stage is then the
// pending issuer.
func (d *Device) controlOut(ep usb.EndpointID, setup usb.SetupData, buf dma.Buffer, length int) error {
	ring, ok := d.rings[ep.DCI()]
	if !ok {
		return fmt.Errorf("%w: no transfer ring for %s", ErrInvalidState, ep)
	}
	var issuer uint64
	if buf.IsNull() {
		ring.Push(SetupStageTRB(setup.RequestType, setup.Request, setup.Value, setup.Index, setup.Length, SetupNoDataStage))
		issuer = ring.Push(StatusStageTRB(true, true))
	} else {
		ring.Push(SetupStageTRB(setup.RequestType, setup.Request, setup.Value, setup.Index, setup.Length, SetupOutDataStage))
		issuer = ring.Push(DataStageTRB(buf.Addr(), uint32(length), false, true))
		ring.Push(StatusStageTRB(true, false))
	}
	d.pendingSetups[issuer] = setup
	d.doorbell.Ring(ep.DCI(), 0)
	return nil
}

// ControlOut implements class.Conn: a driver-issued control request whose
// completion is routed back to the driver.
func (d *Device) ControlOut(ep usb.EndpointID, setup usb.SetupData, data []byte, from class.Driver) error {
	buf := dma.Buffer{}
	if len(data) > 0 {
		b, err := d.arena.Alloc(len(data), 64)
		if err != nil {
			return fmt.Errorf("%w: control data buffer: %w", ErrNoMemory, err)
		}
		copy(b.Bytes(), data)
		buf = b
	}
	if from != nil {
		d.waiters[setup] = from
	}
	return d.controlOut(ep, setup, buf, len(data))
}

// InterruptIn implements class.Conn: arm one interrupt-IN transfer. The
// per-endpoint buffer is allocated once and re-armed on every call.
func (d *Device) InterruptIn(ep usb.EndpointID, length int) error {
	dci := ep.DCI()
	ring, ok := d.rings[dci]
	if !ok {
		return fmt.Errorf("%w: no transfer ring for %s", ErrInvalidState, ep)
	}
	buf, ok := d.epBuffers[dci]
	if !ok || buf.Size() < length {
		b, err := d.arena.Alloc(max(length, 64), 64)
		if err != nil {
			return fmt.Errorf("%w: interrupt buffer: %w", ErrNoMemory, err)
		}
		d.epBuffers[dci] = b
		buf = b
	}
	ring.Push(NormalTRB(buf.Addr(), uint32(length)))
	d.doorbell.Ring(dci, 0)
	return nil
}

// onTransferEvent routes one Transfer Event for this slot. The event's
// TRB pointer names the issuer TRB; a Normal issuer is a periodic
// transfer handed to the class driver, anything else resolves through the
// pending-setup map into a control completion.
func (d *Device) onTransferEvent(ev TransferEvent) error {
	if ev.CompletionCode != CompletionSuccess && ev.CompletionCode != CompletionShortPacket {
		return fmt.Errorf("%w: completion code %d on slot %d", ErrTransferFailed, ev.CompletionCode, d.slotID)
	}
	raw, err := d.arena.At(ev.TransferTRB, TRBSize)
	if err != nil {
		return fmt.Errorf("%w: issuer TRB pointer %#x", ErrNoCorrespondingSetup, ev.TransferTRB)
	}
	issuer := DecodeTRB(raw)

	switch issuer.Type() {
	case TRBNormal:
		length := int(issuer.TransferLength() - ev.Residual)
		drv, ok := d.epDrivers[ev.EndpointDCI]
		if !ok {
			return fmt.Errorf("%w: interrupt completion on DCI %d", ErrNoWaiter, ev.EndpointDCI)
		}
		buf := d.epBuffers[ev.EndpointDCI]
		epID := usb.EndpointID{Number: ev.EndpointDCI / 2, In: ev.EndpointDCI&1 != 0}
		return drv.OnInterruptComplete(epID, buf.Bytes()[:length])

	case TRBDataStage, TRBStatusStage:
		setup, ok := d.pendingSetups[ev.TransferTRB]
		if !ok {
			return fmt.Errorf("%w: issuer TRB %#x", ErrNoCorrespondingSetup, ev.TransferTRB)
		}
		delete(d.pendingSetups, ev.TransferTRB)
		var data []byte
		if issuer.Type() == TRBDataStage {
			length := int(issuer.TransferLength() - ev.Residual)
			b, err := d.arena.At(issuer.Parameter(), length)
			if err != nil {
				return fmt.Errorf("%w: data stage buffer %#x", ErrInvalidState, issuer.Parameter())
			}
			data = b
		}
		return d.onControlComplete(setup, data)

	default:
		return Fatalf("transfer event for unexpected issuer TRB type %s", issuer.Type())
	}
}

// onControlComplete advances the enumeration state machine, or, once
// enumeration is complete, routes the completion to the waiting driver.
func (d *Device) onControlComplete(setup usb.SetupData, data []byte) error {
	switch d.phase {
	case Phase1:
		if setup.Request != usb.RequestGetDescriptor || setup.Value>>8 != usb.DeviceDescType {
			return fmt.Errorf("%w: %s in %s", ErrInvalidPhase, setup, d.phase)
		}
		return d.onDeviceDescriptor(data)
	case Phase2:
		if setup.Request != usb.RequestGetDescriptor || setup.Value>>8 != usb.ConfigDescType {
			return fmt.Errorf("%w: %s in %s", ErrInvalidPhase, setup, d.phase)
		}
		return d.onConfigDescriptor(data)
	case Phase3:
		if setup.Request != usb.RequestSetConfiguration {
			return fmt.Errorf("%w: %s in %s", ErrInvalidPhase, setup, d.phase)
		}
		return d.onSetConfiguration()
	case PhaseComplete:
		drv, ok := d.waiters[setup]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoWaiter, setup)
		}
		delete(d.waiters, setup)
		return drv.OnControlComplete()
	default:
		return fmt.Errorf("%w: control completion in %s", ErrInvalidPhase, d.phase)
	}
}

func (d *Device) onDeviceDescriptor(data []byte) error {
	desc, err := usb.ParseDeviceDescriptor(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	d.descriptor = desc
	d.logger.Info("device identified",
		"vendor", fmt.Sprintf("%04x", desc.IDVendor),
		"product", fmt.Sprintf("%04x", desc.IDProduct),
		"configurations", desc.BNumConfigurations)

	d.phase = Phase2
	return d.controlIn(usb.DefaultControlEP,
		usb.GetDescriptorSetup(usb.ConfigDescType, 0, descBufSize), d.descBuf, descBufSize)
}

func (d *Device) onConfigDescriptor(data []byte) error {
	if len(data) < 2 || data[1] != usb.ConfigDescType {
		return fmt.Errorf("%w: expected configuration descriptor", ErrInvalidDescriptor)
	}
	cfg, err := usb.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	// Bind only the first interface a registered class driver recognizes;
	// one functional interface per device is assumed.
	for _, ic := range cfg.Interfaces {
		factory := class.Lookup(ic.Descriptor)
		if factory == nil {
			continue
		}
		d.driver = factory(d, ic.Descriptor)
		for _, ep := range ic.Endpoints {
			info := ep.Info()
			d.driver.SetEndpoint(info)
			d.driverEPs = append(d.driverEPs, info)
		}
		d.logger.Info("class driver bound",
			"interface", ic.Descriptor.BInterfaceNumber,
			"class", ic.Descriptor.BInterfaceClass,
			"endpoints", len(ic.Endpoints))
		break
	}
	if d.driver == nil {
		d.logger.Warn("no class driver for device")
	}

	d.phase = Phase3
	return d.controlOut(usb.DefaultControlEP,
		usb.SetConfigurationSetup(cfg.Header.BConfigurationValue), dma.Buffer{}, 0)
}

// onSetConfiguration runs when SET_CONFIGURATION completes: allocate
// transfer rings for the driver's endpoints and hand them to the hardware
// with a Configure Endpoint command. With no driver there is nothing to
// configure and enumeration finishes here.
func (d *Device) onSetConfiguration() error {
	if d.driver == nil || len(d.driverEPs) == 0 {
		d.phase = PhaseComplete
		return nil
	}

	ic := d.inputCtx
	ic.Clear()
	ic.AddContext(0)
	slot := ic.Slot()
	slot.SetRouteString(0)
	slot.SetRootHubPort(d.port)
	slot.SetSpeed(d.speed)

	maxDCIUsed := uint8(1)
	for _, info := range d.driverEPs {
		dci := info.ID.DCI()
		ring, err := NewRing(d.arena, transferRingSize)
		if err != nil {
			return err
		}
		d.rings[dci] = ring
		ic.AddContext(dci)
		ep := ic.Endpoint(dci)
		ep.SetType(endpointType(info.Type, info.ID.In))
		ep.SetMaxPacketSize(info.MaxPacketSize)
		ep.SetMaxBurstSize(0)
		ep.SetErrorCount(3)
		ep.SetInterval(info.Interval)
		ep.SetAverageTRBLength(info.MaxPacketSize)
		ep.SetDequeuePointer(ring.Base(), true)
		if dci > maxDCIUsed {
			maxDCIUsed = dci
		}
	}
	slot.SetContextEntries(maxDCIUsed)

	d.command(ConfigureEndpointTRB(ic.Addr(), d.slotID))
	return nil
}

// onEndpointsConfigured runs when the Configure Endpoint command
// completes: enumeration is done, endpoints are bound to the driver and
// the driver starts its own handshake.
func (d *Device) onEndpointsConfigured() error {
	if d.phase != Phase3 {
		return fmt.Errorf("%w: configure endpoint completion in %s", ErrInvalidPhase, d.phase)
	}
	d.phase = PhaseComplete
	for _, info := range d.driverEPs {
		d.epDrivers[info.ID.DCI()] = d.driver
	}
	d.logger.Info("device configured", "endpoints", len(d.driverEPs))
	if d.driver != nil {
		return d.driver.OnEndpointConfigured()
	}
	return nil
}
