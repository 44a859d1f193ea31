package media

import (
	"fmt"
	"sort"
	"sync"

	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/logging"
)

// Option configures an element.
type Option func(*element)

// WithLogger replaces the "media" module logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *element) {
		e.logger = logger
	}
}

// element holds what every native element shares: identity, pads, state and
// the bus it posts to once added to a pipeline.
type element struct {
	name    string
	factory string
	logger  logging.Logger

	mu    sync.Mutex
	pads  map[string]*Pad
	state graph.State
	bus   *graph.Bus
}

func newElement(factory, name string, opts []Option) *element {
	e := &element{
		name:    name,
		factory: factory,
		pads:    make(map[string]*Pad),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.GetLogger("media")
	}
	return e
}

// Name implements graph.Element.
func (e *element) Name() string { return e.name }

// Factory implements graph.Element.
func (e *element) Factory() string { return e.factory }

// StaticPad implements graph.Element.
func (e *element) StaticPad(name string) (graph.Pad, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pads[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", e.name, graph.ErrNoSuchPad, name)
	}
	return p, nil
}

// PadNames lists the pads of the element in name order.
func (e *element) PadNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.pads))
	for name := range e.pads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *element) addPad(p *Pad) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pads[p.name] = p
}

func (e *element) pad(name string) *Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pads[name]
}

func (e *element) attach(bus *graph.Bus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bus = bus
}

// post sends a message on the pipeline bus. Elements outside a pipeline
// only log.
func (e *element) post(msg graph.Message) {
	e.mu.Lock()
	bus := e.bus
	e.mu.Unlock()
	if bus != nil {
		bus.Post(msg)
	}
}

func (e *element) postError(err error) {
	e.logger.Error("Element error", "element", e.name, "error", err)
	e.post(graph.ErrorMessage(e.name, err))
}

func (e *element) postWarning(err error) {
	e.logger.Warn("Element warning", "element", e.name, "error", err)
	e.post(graph.WarningMessage(e.name, err))
}

// transition records a new state and returns the previous one.
func (e *element) transition(state graph.State) graph.State {
	e.mu.Lock()
	old := e.state
	e.state = state
	e.mu.Unlock()
	if old != state {
		e.post(graph.StateChangedMessage(e.name, old, state))
	}
	return old
}

// State returns the current element state.
func (e *element) State() graph.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// busAttacher is implemented by elements that post to the pipeline bus.
type busAttacher interface {
	attach(bus *graph.Bus)
}
