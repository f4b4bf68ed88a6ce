package hcsim

import (
	"github.com/halfdome/xhci/usb"
	"github.com/halfdome/xhci/xhci"
)

// Input context geometry (32-byte contexts). The emulation parses the
// driver-built input context straight from arena bytes.
const (
	ctxSize     = 32
	icAddFlags  = 4
	icSlotOff   = ctxSize
	maxInputCtx = ctxSize * 33
)

func (hc *HC) execAddressDevice(addr uint64, t xhci.TRB) {
	slotID := uint8(t[3] >> 24)
	fail := func() {
		hc.pushEvent(xhci.MakeCommandCompletionEvent(xhci.CommandCompletionEvent{
			CommandTRB: addr, CompletionCode: xhci.CompletionInvalid, SlotID: slotID,
		}))
	}
	s := hc.slotAt(slotID)
	if s == nil {
		fail()
		return
	}
	ic, err := hc.arena.At(t.Parameter(), maxInputCtx)
	if err != nil {
		fail()
		return
	}
	port := uint8(leUint32(ic[icSlotOff+4:]) >> 16)
	if port == 0 || port > hc.cfg.Ports || hc.ports[port].dev == nil {
		fail()
		return
	}
	s.dev = hc.ports[port].dev
	s.port = port
	hc.adoptEndpoints(s, ic)
	hc.pushEvent(xhci.MakeCommandCompletionEvent(xhci.CommandCompletionEvent{
		CommandTRB: addr, CompletionCode: xhci.CompletionSuccess, SlotID: slotID,
	}))
}

func (hc *HC) execConfigureEndpoint(addr uint64, t xhci.TRB) {
	slotID := uint8(t[3] >> 24)
	code := xhci.CompletionSuccess
	s := hc.slotAt(slotID)
	if s == nil || s.dev == nil {
		code = xhci.CompletionInvalid
	} else if ic, err := hc.arena.At(t.Parameter(), maxInputCtx); err != nil {
		code = xhci.CompletionInvalid
	} else {
		hc.adoptEndpoints(s, ic)
	}
	hc.pushEvent(xhci.MakeCommandCompletionEvent(xhci.CommandCompletionEvent{
		CommandTRB: addr, CompletionCode: code, SlotID: slotID,
	}))
}

// adoptEndpoints reads the add-context bitmap and records each added
// endpoint's transfer ring dequeue pointer and cycle state.
func (hc *HC) adoptEndpoints(s *slotSim, ic []byte) {
	add := leUint32(ic[icAddFlags:])
	for dci := uint8(1); dci <= 31; dci++ {
		if add&(1<<dci) == 0 {
			continue
		}
		off := int(dci+1) * ctxSize
		lo := leUint32(ic[off+8:])
		hi := leUint32(ic[off+12:])
		deq := uint64(lo) | uint64(hi)<<32
		s.eps[dci] = &epSim{deq: deq &^ 0xF, cycle: deq&1 != 0}
	}
}

func (hc *HC) slotAt(id uint8) *slotSim {
	if id == 0 || int(id) >= len(hc.slots) {
		return nil
	}
	return hc.slots[id]
}

// runTransferRing consumes the transfer ring for one endpoint until the
// cycle bit stops matching, completing control TDs against the emulated
// device and arming (or completing) interrupt-IN transfers.
func (hc *HC) runTransferRing(slotID, dci uint8) {
	s := hc.slotAt(slotID)
	if s == nil || s.dev == nil {
		return
	}
	ep := s.eps[dci]
	if ep == nil {
		return
	}

	var setup usb.SetupData
	haveSetup := false

	for {
		b, err := hc.arena.At(ep.deq, xhci.TRBSize)
		if err != nil {
			hc.logger.Error("transfer ring outside arena", "addr", ep.deq)
			return
		}
		t := xhci.DecodeTRB(b)
		if t.Cycle() != ep.cycle {
			break
		}
		addr := ep.deq
		if t.Type() == xhci.TRBLink {
			ep.deq = t.Parameter()
			if t[3]&(1<<1) != 0 {
				ep.cycle = !ep.cycle
			}
			continue
		}
		ep.deq += xhci.TRBSize

		switch t.Type() {
		case xhci.TRBSetupStage:
			rt, rq, val, idx, length := t.SetupStageData()
			setup = usb.SetupData{RequestType: rt, Request: rq, Value: val, Index: idx, Length: length}
			haveSetup = true

		case xhci.TRBDataStage:
			if !haveSetup {
				continue
			}
			hc.completeDataStage(s, dci, addr, t, setup)

		case xhci.TRBStatusStage:
			// For no-data requests the side effect happens here; for data
			// requests it already happened at the data stage.
			if haveSetup && setup.Length == 0 {
				s.dev.control(setup, nil)
			}
			haveSetup = false
			if t[3]&(1<<5) != 0 { // IOC
				hc.pushEvent(xhci.MakeTransferEvent(xhci.TransferEvent{
					TransferTRB: addr, CompletionCode: xhci.CompletionSuccess,
					EndpointDCI: dci, SlotID: slotID,
				}))
			}

		case xhci.TRBNormal:
			ep.armed = append(ep.armed, armedTRB{
				addr: addr, buf: t.Parameter(), length: t.TransferLength(),
			})
			hc.serviceArmed(s, dci, ep)

		default:
			hc.logger.Warn("unsupported transfer TRB", "type", t.Type().String())
		}
	}
}

// completeDataStage serves a control request's data stage and raises its
// transfer event.
func (hc *HC) completeDataStage(s *slotSim, dci uint8, addr uint64, t xhci.TRB, setup usb.SetupData) {
	slotID := hc.slotIDOf(s)
	length := int(t.TransferLength())
	buf, err := hc.arena.At(t.Parameter(), length)
	if err != nil {
		hc.logger.Error("data stage buffer outside arena", "addr", t.Parameter())
		return
	}

	code := xhci.CompletionSuccess
	residual := uint32(0)
	if setup.In() {
		resp, ok := s.dev.control(setup, nil)
		if !ok {
			code = completionStall
		} else {
			n := copy(buf, resp)
			residual = uint32(length - n)
			if n < length {
				code = xhci.CompletionShortPacket
			}
		}
	} else {
		if _, ok := s.dev.control(setup, buf); !ok {
			code = completionStall
		}
	}
	if t[3]&(1<<5) != 0 { // IOC
		hc.pushEvent(xhci.MakeTransferEvent(xhci.TransferEvent{
			TransferTRB: addr, Residual: residual, CompletionCode: code,
			EndpointDCI: dci, SlotID: slotID,
		}))
	}
}

// completionStall is the Stall Error completion code.
const completionStall uint8 = 6

// serviceArmed pairs queued device reports with armed interrupt-IN TRBs.
func (hc *HC) serviceArmed(s *slotSim, dci uint8, ep *epSim) {
	slotID := hc.slotIDOf(s)
	for len(ep.armed) > 0 {
		report, ok := s.dev.popReport(dci)
		if !ok {
			return
		}
		a := ep.armed[0]
		ep.armed = ep.armed[1:]
		buf, err := hc.arena.At(a.buf, int(a.length))
		if err != nil {
			hc.logger.Error("interrupt buffer outside arena", "addr", a.buf)
			return
		}
		n := copy(buf, report)
		code := xhci.CompletionSuccess
		if uint32(n) < a.length {
			code = xhci.CompletionShortPacket
		}
		hc.pushEvent(xhci.MakeTransferEvent(xhci.TransferEvent{
			TransferTRB: a.addr, Residual: a.length - uint32(n), CompletionCode: code,
			EndpointDCI: dci, SlotID: slotID,
		}))
	}
}

func (hc *HC) slotIDOf(s *slotSim) uint8 {
	for i, c := range hc.slots {
		if c == s {
			return uint8(i)
		}
	}
	return 0
}
