// Package router binds elementary streams discovered by the demuxer to their
// pre-reserved processing branch.
//
// Each discovered stream is classified by its media type tag against the
// route table in priority order, then linked to the slot input at most once.
// Streams that cannot be bound never stop the relay: unhandled media types
// are logged, while double binds and link failures are pushed to the control
// loop as degraded-path results.
package router

import (
	"errors"
	"time"

	"github.com/smazurov/srtrelay/internal/events"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/logging"
)

const defaultDegradedBuffer = 16

// DiscoveredStream is one elementary stream exposed by the demuxer.
type DiscoveredStream struct {
	Pad graph.Pad
	Tag string
}

// RoutingResult reports the routing decision for one stream. Err is a
// *RoutingError for every outcome other than OutcomeBound.
type RoutingResult struct {
	Outcome Outcome
	Slot    Slot
	Tag     string
	Pad     string
	Err     error
}

// Router routes discovered streams through a Table.
type Router struct {
	table    *Table
	logger   logging.Logger
	events   events.Publisher
	degraded chan RoutingResult
}

// Option configures a Router.
type Option func(*Router)

// WithLogger replaces the module logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithEvents publishes routing events on p.
func WithEvents(p events.Publisher) Option {
	return func(r *Router) { r.events = p }
}

// WithDegradedBuffer sets the capacity of the degraded channel.
func WithDegradedBuffer(n int) Option {
	return func(r *Router) { r.degraded = make(chan RoutingResult, n) }
}

// New creates a router over table.
func New(table *Table, opts ...Option) *Router {
	r := &Router{
		table:    table,
		logger:   logging.GetLogger("router"),
		events:   events.Discard,
		degraded: make(chan RoutingResult, defaultDegradedBuffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the underlying slot table.
func (r *Router) Table() *Table {
	return r.table
}

// Degraded delivers AlreadyBound and LinkFailed results. It has a single
// consumer, the control loop, and is never closed.
func (r *Router) Degraded() <-chan RoutingResult {
	return r.degraded
}

// Subscribe registers the router for pad-added notifications of el.
func (r *Router) Subscribe(el graph.DynamicElement) {
	el.OnPadAdded(r.HandlePadAdded)
}

// HandlePadAdded is a graph.PadAddedFunc. Pads without negotiated caps are
// treated as unhandled.
func (r *Router) HandlePadAdded(_ graph.Element, pad graph.Pad) {
	stream := DiscoveredStream{Pad: pad}
	if caps, ok := pad.Caps(); ok {
		stream.Tag = caps.MediaType()
	}
	r.OnStreamDiscovered(stream)
}

// OnStreamDiscovered classifies stream and binds it to its slot. It is safe
// to call concurrently; a slot is linked at most once.
func (r *Router) OnStreamDiscovered(stream DiscoveredStream) RoutingResult {
	result := RoutingResult{Tag: stream.Tag}
	if stream.Pad != nil {
		result.Pad = graph.PadPath(stream.Pad)
	}

	slot, ok := r.table.Classify(stream.Tag)
	if !ok || stream.Pad == nil {
		result.Outcome = OutcomeUnhandled
		result.Err = &RoutingError{Outcome: OutcomeUnhandled, Tag: stream.Tag, Cause: ErrUnhandled}
		r.logger.Info("Ignoring unhandled stream", "tag", stream.Tag, "pad", result.Pad)
		r.publishDegraded(result)
		return result
	}

	result.Slot = slot
	outcome, err := r.table.bind(slot, stream.Tag, stream.Pad)
	result.Outcome = outcome

	if outcome == OutcomeBound {
		r.logger.Info("Stream bound", "slot", slot, "tag", stream.Tag, "pad", result.Pad)
		r.events.Publish(events.RouteBoundEvent{
			Slot:      string(slot),
			Tag:       stream.Tag,
			Pad:       result.Pad,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return result
	}

	result.Err = &RoutingError{Outcome: outcome, Slot: slot, Tag: stream.Tag, Cause: err}
	if outcome == OutcomeAlreadyBound {
		r.logger.Warn("Slot already bound, dropping stream", "slot", slot, "tag", stream.Tag, "pad", result.Pad, "error", err)
	} else {
		r.logger.Error("Failed to link stream", "slot", slot, "tag", stream.Tag, "pad", result.Pad, "error", err)
	}
	r.publishDegraded(result)

	select {
	case r.degraded <- result:
	default:
		r.logger.Warn("Degraded channel full, result dropped", "slot", slot, "outcome", outcome)
	}
	return result
}

func (r *Router) publishDegraded(result RoutingResult) {
	ev := events.RouteDegradedEvent{
		Outcome:   result.Outcome.String(),
		Slot:      string(result.Slot),
		Tag:       result.Tag,
		Pad:       result.Pad,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	var rerr *RoutingError
	if errors.As(result.Err, &rerr) && rerr.Cause != nil {
		ev.Error = rerr.Cause.Error()
	}
	r.events.Publish(ev)
}
