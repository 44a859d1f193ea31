// Package graphtest provides in-memory graph elements for tests.
package graphtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/props"
)

// Pad is a test pad. Source pads record the sink they were linked to.
type Pad struct {
	name      string
	parent    string
	direction graph.Direction
	caps      *graph.Caps

	mu      sync.Mutex
	peer    graph.Pad
	linkErr error
	links   int
}

// NewSrcPad creates a source pad with negotiated caps.
func NewSrcPad(parent, name, mediaType string) *Pad {
	caps := graph.NewCaps(mediaType)
	return &Pad{name: name, parent: parent, direction: graph.DirectionSrc, caps: &caps}
}

// NewSinkPad creates an unlinked sink pad.
func NewSinkPad(parent, name string) *Pad {
	return &Pad{name: name, parent: parent, direction: graph.DirectionSink}
}

// FailLinks makes every subsequent Link involving this pad return err.
func (p *Pad) FailLinks(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.linkErr = err
}

// Name implements graph.Pad.
func (p *Pad) Name() string { return p.name }

// Parent implements graph.Pad.
func (p *Pad) Parent() string { return p.parent }

// Direction implements graph.Pad.
func (p *Pad) Direction() graph.Direction { return p.direction }

// Caps implements graph.Pad.
func (p *Pad) Caps() (graph.Caps, bool) {
	if p.caps == nil {
		return graph.Caps{}, false
	}
	return *p.caps, true
}

// IsLinked implements graph.Pad.
func (p *Pad) IsLinked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer != nil
}

// Peer returns the linked pad, if any.
func (p *Pad) Peer() graph.Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

// LinkCount returns how many successful links this pad took part in.
func (p *Pad) LinkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.links
}

func (p *Pad) linkError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkErr
}

// Link implements graph.Pad.
func (p *Pad) Link(sink graph.Pad) error {
	other, ok := sink.(*Pad)
	if !ok {
		return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(sink), Cause: fmt.Errorf("foreign pad %T", sink)}
	}
	if p.direction != graph.DirectionSrc || other.direction != graph.DirectionSink {
		return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(sink), Cause: graph.ErrWrongDirection}
	}
	if err := p.linkError(); err != nil {
		return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(sink), Cause: err}
	}
	if err := other.linkError(); err != nil {
		return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(sink), Cause: err}
	}

	// Lock order: source then sink.
	p.mu.Lock()
	defer p.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if p.peer != nil || other.peer != nil {
		return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(sink), Cause: graph.ErrAlreadyLinked}
	}
	p.peer = other
	other.peer = p
	p.links++
	other.links++
	if other.caps == nil {
		other.caps = p.caps
	}
	return nil
}

// Element is a test element with static pads, request pads and properties.
type Element struct {
	name    string
	factory string

	mu          sync.Mutex
	pads        map[string]*Pad
	requestSeq  int
	properties  map[string]props.Structure
	propertyErr error
	state       graph.State
	stateErr    error
	padAdded    []graph.PadAddedFunc
	stateCalls  []graph.State
}

// NewElement creates an element with "sink" and "src" static pads.
func NewElement(factory, name string) *Element {
	e := &Element{
		name:       name,
		factory:    factory,
		pads:       make(map[string]*Pad),
		properties: make(map[string]props.Structure),
	}
	e.pads["sink"] = NewSinkPad(name, "sink")
	e.pads["src"] = &Pad{name: "src", parent: name, direction: graph.DirectionSrc}
	return e
}

// Name implements graph.Element.
func (e *Element) Name() string { return e.name }

// Factory implements graph.Element.
func (e *Element) Factory() string { return e.factory }

// StaticPad implements graph.Element.
func (e *Element) StaticPad(name string) (graph.Pad, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pads[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", e.name, graph.ErrNoSuchPad, name)
	}
	return p, nil
}

// Pad returns a static pad as the concrete type.
func (e *Element) Pad(name string) *Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pads[name]
}

// RequestPad implements graph.RequestPadder.
func (e *Element) RequestPad(template string) (graph.Pad, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := fmt.Sprintf("sink_%d", e.requestSeq)
	e.requestSeq++
	p := NewSinkPad(e.name, name)
	e.pads[name] = p
	return p, nil
}

// SetState implements graph.Element.
func (e *Element) SetState(_ context.Context, state graph.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateCalls = append(e.stateCalls, state)
	if e.stateErr != nil && state != graph.StateNull {
		return e.stateErr
	}
	e.state = state
	return nil
}

// FailStateChange makes transitions other than to Null fail.
func (e *Element) FailStateChange(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateErr = err
}

// State returns the current state.
func (e *Element) State() graph.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetProperty stores a structure property.
func (e *Element) SetProperty(name string, value props.Structure) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.properties[name] = value
	e.propertyErr = nil
}

// FailProperty makes property reads return err.
func (e *Element) FailProperty(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.propertyErr = err
}

// StructureProperty implements graph.PropertyReader.
func (e *Element) StructureProperty(name string) (props.Structure, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.propertyErr != nil {
		return props.Structure{}, e.propertyErr
	}
	v, ok := e.properties[name]
	if !ok {
		return props.Structure{}, graph.ErrNoSuchProperty
	}
	return v, nil
}

// OnPadAdded implements graph.DynamicElement.
func (e *Element) OnPadAdded(fn graph.PadAddedFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.padAdded = append(e.padAdded, fn)
}

// AddPad exposes a new source pad and runs pad-added handlers synchronously.
func (e *Element) AddPad(name, mediaType string) *Pad {
	p := NewSrcPad(e.name, name, mediaType)
	e.mu.Lock()
	e.pads[name] = p
	handlers := append([]graph.PadAddedFunc(nil), e.padAdded...)
	e.mu.Unlock()

	for _, h := range handlers {
		h(e, p)
	}
	return p
}

// Pipeline is a test pipeline.
type Pipeline struct {
	name string
	bus  *graph.Bus

	mu         sync.Mutex
	elements   map[string]graph.Element
	order      []graph.Element
	state      graph.State
	playErr    error
	stateCalls []graph.State
}

// NewPipeline creates an empty test pipeline.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{
		name:     name,
		bus:      graph.NewBus(),
		elements: make(map[string]graph.Element),
	}
}

// Name implements graph.Pipeline.
func (p *Pipeline) Name() string { return p.name }

// Bus implements graph.Pipeline.
func (p *Pipeline) Bus() *graph.Bus { return p.bus }

// Add implements graph.Pipeline.
func (p *Pipeline) Add(elements ...graph.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range elements {
		if _, exists := p.elements[e.Name()]; exists {
			return fmt.Errorf("%w: %s", graph.ErrDuplicateElement, e.Name())
		}
		p.elements[e.Name()] = e
		p.order = append(p.order, e)
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

// FailPlaying makes the transition to Playing fail with err.
func (p *Pipeline) FailPlaying(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playErr = err
}

// SetState implements graph.Pipeline.
func (p *Pipeline) SetState(_ context.Context, state graph.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateCalls = append(p.stateCalls, state)
	if state == graph.StatePlaying && p.playErr != nil {
		return p.playErr
	}
	p.state = state
	return nil
}

// CurrentState implements graph.Pipeline.
func (p *Pipeline) CurrentState() graph.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StateCalls returns every requested state in order.
func (p *Pipeline) StateCalls() []graph.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]graph.State(nil), p.stateCalls...)
}
