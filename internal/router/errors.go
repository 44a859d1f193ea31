package router

import (
	"errors"
	"fmt"
)

// Routing sentinels, matched with errors.Is against a RoutingError.
var (
	ErrUnhandled       = errors.New("unhandled media type")
	ErrAlreadyBound    = errors.New("slot already bound")
	ErrSlotNotReserved = errors.New("slot not reserved")
)

// Outcome is the result of routing one discovered stream.
type Outcome int

// Routing outcomes.
const (
	OutcomeBound Outcome = iota
	OutcomeUnhandled
	OutcomeAlreadyBound
	OutcomeLinkFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBound:
		return "bound"
	case OutcomeUnhandled:
		return "unhandled"
	case OutcomeAlreadyBound:
		return "already-bound"
	case OutcomeLinkFailed:
		return "link-failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RoutingError describes a stream that was not bound.
type RoutingError struct {
	Outcome Outcome
	Slot    Slot
	Tag     string
	Cause   error
}

func (e *RoutingError) Error() string {
	if e.Slot == "" {
		return fmt.Sprintf("route %q: %s: %v", e.Tag, e.Outcome, e.Cause)
	}
	return fmt.Sprintf("route %q to %s: %s: %v", e.Tag, e.Slot, e.Outcome, e.Cause)
}

func (e *RoutingError) Unwrap() error {
	return e.Cause
}
