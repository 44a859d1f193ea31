// Package media is the native media backend of the relay. It implements the
// graph interfaces with an SRT listener (datarhei/gosrt), a transport stream
// demuxer, bounded queue slots, codec parsers and an FLV muxer feeding an
// RTMP publisher (AlexxIT/go2rtc).
//
// Elements exchange go2rtc tracks through pads. A sink pad checks the caps
// it is offered, so an incompatible stream fails the link that carries it.
package media

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/logging"
)

// Pipeline implements graph.Pipeline over native elements.
type Pipeline struct {
	name   string
	bus    *graph.Bus
	logger logging.Logger

	mu       sync.Mutex
	elements map[string]graph.Element
	order    []graph.Element
	state    graph.State
}

// NewPipeline creates an empty pipeline.
func NewPipeline(name string, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.GetLogger("media")
	}
	return &Pipeline{
		name:     name,
		bus:      graph.NewBus(),
		logger:   logger,
		elements: make(map[string]graph.Element),
	}
}

// Name implements graph.Pipeline.
func (p *Pipeline) Name() string { return p.name }

// Bus implements graph.Pipeline.
func (p *Pipeline) Bus() *graph.Bus { return p.bus }

// Add implements graph.Pipeline. Element names are unique.
func (p *Pipeline) Add(elements ...graph.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range elements {
		if _, exists := p.elements[e.Name()]; exists {
			return fmt.Errorf("%w: %s", graph.ErrDuplicateElement, e.Name())
		}
		p.elements[e.Name()] = e
		p.order = append(p.order, e)
		if a, ok := e.(busAttacher); ok {
			a.attach(p.bus)
		}
	}
	return nil
}

// Element implements graph.Pipeline.
func (p *Pipeline) Element(name string) (graph.Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.elements[name]
	return e, ok
}

// Elements returns the elements in insertion order.
func (p *Pipeline) Elements() []graph.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.order)
}

// CurrentState implements graph.Pipeline.
func (p *Pipeline) CurrentState() graph.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState implements graph.Pipeline. Going up, elements change state from
// the sinks towards the source so consumers are ready before data flows; a
// failure stops the transition. Going down to Null every element is
// released from the source onward and all failures are reported.
func (p *Pipeline) SetState(ctx context.Context, state graph.State) error {
	p.mu.Lock()
	old := p.state
	order := slices.Clone(p.order)
	p.mu.Unlock()

	var err error
	if state == graph.StateNull {
		var errs []error
		for _, e := range order {
			if serr := e.SetState(ctx, state); serr != nil {
				errs = append(errs, fmt.Errorf("%s: %w", e.Name(), serr))
			}
		}
		err = errors.Join(errs...)
	} else {
		for _, e := range slices.Backward(order) {
			if serr := e.SetState(ctx, state); serr != nil {
				err = fmt.Errorf("%s: %w", e.Name(), serr)
				break
			}
		}
	}

	if err != nil && state != graph.StateNull {
		return err
	}

	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	if old != state {
		p.logger.Debug("Pipeline state changed", "pipeline", p.name, "from", old, "to", state)
		p.bus.Post(graph.StateChangedMessage(p.name, old, state))
	}
	return err
}
