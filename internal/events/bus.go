// Package events is the in-process publish/subscribe bus connecting the
// relay core to telemetry.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to the subscribers of its concrete type.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case StatsSampledEvent:
		event.Publish(b.dispatcher, e)
	case StatsDecodeFailedEvent:
		event.Publish(b.dispatcher, e)
	case RouteBoundEvent:
		event.Publish(b.dispatcher, e)
	case RouteDegradedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineStateEvent:
		event.Publish(b.dispatcher, e)
	case CallerConnectedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a typed handler such as func(RouteBoundEvent) and
// returns its unsubscribe function. Unknown handler types are ignored.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(StatsSampledEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StatsDecodeFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RouteBoundEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RouteDegradedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CallerConnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Publisher is the publishing side of Bus, accepted by components that only
// emit events.
type Publisher interface {
	Publish(ev Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
