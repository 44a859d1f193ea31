package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/srtrelay/internal/graph"
)

// Slot identifies one pre-reserved destination input.
type Slot string

// Destination slots.
const (
	SlotVideo Slot = "video"
	SlotAudio Slot = "audio"
)

// Route maps a media type prefix to a slot.
type Route struct {
	Prefix string
	Slot   Slot
}

// DefaultRoutes returns the recognized media types in priority order.
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "video/x-h264", Slot: SlotVideo},
		{Prefix: "audio/mpeg", Slot: SlotAudio},
	}
}

// SlotStatus describes one slot for telemetry.
type SlotStatus struct {
	Slot    Slot      `json:"slot" example:"video" doc:"Slot name"`
	Prefix  string    `json:"prefix" example:"video/x-h264" doc:"Media type prefix routed to this slot"`
	Input   string    `json:"input" example:"multiqueue:sink_0" doc:"Reserved destination input"`
	Bound   bool      `json:"bound" doc:"Whether a stream is bound"`
	Tag     string    `json:"tag,omitempty" example:"video/x-h264" doc:"Media type of the bound stream"`
	Pad     string    `json:"pad,omitempty" example:"tsdemux:video_0100" doc:"Bound demuxer pad"`
	BoundAt time.Time `json:"bound_at,omitzero" doc:"Bind time"`
}

type slotEntry struct {
	input   graph.Pad
	bound   bool
	tag     string
	pad     string
	boundAt time.Time
}

// Table holds the slot bindings. Every check-and-bind happens under mu, so
// at most one stream is ever linked to a slot.
type Table struct {
	mu     sync.Mutex
	routes []Route
	slots  map[Slot]*slotEntry
}

// NewTable creates a table for the given routes. Slots must be reserved
// before streams can bind to them.
func NewTable(routes []Route) *Table {
	return &Table{
		routes: append([]Route(nil), routes...),
		slots:  make(map[Slot]*slotEntry, len(routes)),
	}
}

// Reserve registers the destination input of a slot. A slot can be reserved
// once.
func (t *Table) Reserve(slot Slot, input graph.Pad) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.slots[slot]; exists {
		return fmt.Errorf("slot %s already reserved", slot)
	}
	t.slots[slot] = &slotEntry{input: input}
	return nil
}

// Classify returns the slot for a media type tag. The first matching prefix
// wins.
func (t *Table) Classify(tag string) (Slot, bool) {
	if tag == "" {
		return "", false
	}
	for _, r := range t.routes {
		if strings.HasPrefix(tag, r.Prefix) {
			return r.Slot, true
		}
	}
	return "", false
}

// bind links pad to the input of slot unless the slot is already bound.
// A failed link leaves the slot unbound.
func (t *Table) bind(slot Slot, tag string, pad graph.Pad) (Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.slots[slot]
	if !ok {
		return OutcomeLinkFailed, fmt.Errorf("%w: %s", ErrSlotNotReserved, slot)
	}
	if entry.bound {
		return OutcomeAlreadyBound, fmt.Errorf("%w: held by %s", ErrAlreadyBound, entry.pad)
	}
	if err := pad.Link(entry.input); err != nil {
		return OutcomeLinkFailed, err
	}

	entry.bound = true
	entry.tag = tag
	entry.pad = graph.PadPath(pad)
	entry.boundAt = time.Now()
	return OutcomeBound, nil
}

// IsBound reports whether slot holds a binding.
func (t *Table) IsBound(slot Slot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.slots[slot]
	return ok && entry.bound
}

// Snapshot returns the state of every routed slot in route order.
func (t *Table) Snapshot() []SlotStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SlotStatus, 0, len(t.routes))
	for _, r := range t.routes {
		status := SlotStatus{Slot: r.Slot, Prefix: r.Prefix}
		if entry, ok := t.slots[r.Slot]; ok {
			if entry.input != nil {
				status.Input = graph.PadPath(entry.input)
			}
			status.Bound = entry.bound
			status.Tag = entry.tag
			status.Pad = entry.pad
			status.BoundAt = entry.boundAt
		}
		out = append(out, status)
	}
	return out
}
