package xhci

import (
	"fmt"

	"github.com/halfdome/xhci/internal/dma"
)

// Ring is a producer ring of TRBs: software enqueues, hardware consumes.
// It backs both the command ring and the per-endpoint transfer rings.
//
// The last slot of the backing array is reserved for the Link TRB. When
// the write index reaches it, the Link TRB (target = ring base, toggle
// cycle set) is written carrying the current producer cycle state so the
// hardware follows it, the cycle state flips, and the index wraps to 0.
type Ring struct {
	buf   dma.Buffer
	size  int
	cycle bool
	index int
}

// NewRing allocates a ring with the given number of TRB slots from the
// arena. Producer cycle state starts at 1, matching a zeroed ring where
// every stale TRB reads cycle 0.
func NewRing(arena *dma.Arena, size int) (*Ring, error) {
	if size < 2 {
		return nil, fmt.Errorf("xhci: ring size %d too small", size)
	}
	buf, err := arena.Alloc(size*TRBSize, 64)
	if err != nil {
		return nil, fmt.Errorf("xhci: allocating ring: %w", err)
	}
	return &Ring{buf: buf, size: size, cycle: true}, nil
}

// Base returns the DMA address of the first TRB slot.
func (r *Ring) Base() uint64 { return r.buf.Addr() }

// Cycle returns the current producer cycle state.
func (r *Ring) Cycle() bool { return r.cycle }

func (r *Ring) slot(i int) []byte {
	return r.buf.Bytes()[i*TRBSize : (i+1)*TRBSize]
}

// TRBAt reads back the TRB at slot i. Used by tests and the wraparound
// path; hardware is the only regular consumer.
func (r *Ring) TRBAt(i int) TRB { return DecodeTRB(r.slot(i)) }

// Push copies the TRB into the current write slot with the cycle bit
// forced to the producer cycle state and returns the slot's DMA address,
// which callers keep as the correlation key for the matching event.
func (r *Ring) Push(t TRB) uint64 {
	if r.index == r.size-1 {
		link := LinkTRB(r.buf.Addr(), true).WithCycle(r.cycle)
		link.Encode(r.slot(r.index))
		r.cycle = !r.cycle
		r.index = 0
	}
	t.WithCycle(r.cycle).Encode(r.slot(r.index))
	addr := r.buf.Addr() + uint64(r.index*TRBSize)
	r.index++
	return addr
}

// EventRing is the consumer side: hardware produces completion and
// notification TRBs, software dequeues them. One segment only.
type EventRing struct {
	seg   dma.Buffer
	erst  dma.Buffer
	size  int
	cycle bool
	deq   int
	ir    InterrupterRegs
}

// erstEntrySize is the size of one Event Ring Segment Table entry.
const erstEntrySize = 16

// NewEventRing allocates the event ring segment and its one-entry segment
// table and programs them into the interrupter. ERSTBA is written last;
// that write arms the interrupter.
func NewEventRing(arena *dma.Arena, size int, ir InterrupterRegs) (*EventRing, error) {
	if size < 2 {
		return nil, fmt.Errorf("xhci: event ring size %d too small", size)
	}
	seg, err := arena.Alloc(size*TRBSize, 64)
	if err != nil {
		return nil, fmt.Errorf("xhci: allocating event ring segment: %w", err)
	}
	erst, err := arena.Alloc(erstEntrySize, 64)
	if err != nil {
		return nil, fmt.Errorf("xhci: allocating event ring segment table: %w", err)
	}
	erst.Write64(0, seg.Addr())
	erst.Write32(8, uint32(size))

	er := &EventRing{seg: seg, erst: erst, size: size, cycle: true, ir: ir}
	ir.SetERSTSz(1)
	ir.SetERDP(seg.Addr())
	ir.SetERSTBA(erst.Addr())
	return er, nil
}

func (e *EventRing) front() TRB {
	return DecodeTRB(e.seg.Bytes()[e.deq*TRBSize:])
}

// HasEvent reports whether the TRB at the dequeue pointer is valid, i.e.
// its cycle bit matches the consumer cycle state.
func (e *EventRing) HasEvent() bool { return e.front().Cycle() == e.cycle }

// Front returns the TRB at the dequeue pointer. Only meaningful while
// HasEvent is true.
func (e *EventRing) Front() TRB { return e.front() }

// Pop advances the dequeue pointer, wrapping to the segment base (and
// flipping the consumer cycle state) past the last entry, then writes the
// new pointer to ERDP preserving the low event-handler-busy bits.
func (e *EventRing) Pop() {
	e.deq++
	if e.deq == e.size {
		e.deq = 0
		e.cycle = !e.cycle
	}
	ptr := e.seg.Addr() + uint64(e.deq*TRBSize)
	e.ir.SetERDP(ptr | e.ir.ERDP()&erdpFlagMask)
}
