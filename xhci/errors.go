package xhci

import (
	"errors"
	"fmt"
)

// Recoverable protocol errors. These indicate a hardware hiccup or a stale
// request and are surfaced to the caller of ProcessEvent, which may log
// and continue.
var (
	// ErrNoMemory reports DMA arena exhaustion.
	ErrNoMemory = errors.New("xhci: out of DMA memory")

	// ErrInvalidState reports an event that is not legal in the current
	// port or device state.
	ErrInvalidState = errors.New("xhci: invalid state for event")

	// ErrInvalidSlot reports an event naming a slot with no device.
	ErrInvalidSlot = errors.New("xhci: no device for slot")

	// ErrInvalidPhase reports a control completion outside the phase that
	// expects it.
	ErrInvalidPhase = errors.New("xhci: control completion out of phase")

	// ErrInvalidDescriptor reports a malformed descriptor from the device.
	ErrInvalidDescriptor = errors.New("xhci: invalid descriptor")

	// ErrNoCorrespondingSetup reports a transfer event whose issuer TRB
	// has no pending setup stage recorded.
	ErrNoCorrespondingSetup = errors.New("xhci: no corresponding setup stage for transfer event")

	// ErrNoWaiter reports a control completion with no class driver
	// waiting on its setup data.
	ErrNoWaiter = errors.New("xhci: no waiter for control completion")

	// ErrTransferFailed reports a completion code other than Success or
	// Short Packet.
	ErrTransferFailed = errors.New("xhci: transfer failed")
)

// FatalError marks conditions that mean the hardware broke its contract
// (or the driver's own assumptions are violated): a slot count below the
// requested minimum, an unrecognized command completion, a register wait
// that never resolves. It is a distinct channel from the recoverable
// sentinels above so callers and tests can tell "bad request, handled"
// apart from "controller is off the rails".
type FatalError struct {
	msg string
}

// Fatalf builds a FatalError.
func Fatalf(format string, args ...any) error {
	return &FatalError{msg: fmt.Sprintf(format, args...)}
}

func (e *FatalError) Error() string { return "xhci: fatal: " + e.msg }

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
