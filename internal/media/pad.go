package media

import (
	"fmt"
	"io"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/flv"
	"github.com/smazurov/srtrelay/internal/graph"
)

// Flow is what a linked pad pair carries. Elementary streams travel as a
// go2rtc track, the ingest as a transport stream byte reader and the muxer
// output as an FLV consumer.
type Flow struct {
	Caps   graph.Caps
	Track  *core.Receiver
	Stream io.Reader
	FLV    *flv.Consumer
}

// chainFunc accepts a flow on a sink pad. Returning an error refuses the link.
type chainFunc func(Flow) error

// Pad implements graph.Pad for the native elements.
type Pad struct {
	name      string
	parent    string
	direction graph.Direction
	chain     chainFunc

	mu   sync.Mutex
	peer *Pad
	flow *Flow
}

func newSrcPad(parent, name string) *Pad {
	return &Pad{name: name, parent: parent, direction: graph.DirectionSrc}
}

func newSinkPad(parent, name string, chain chainFunc) *Pad {
	return &Pad{name: name, parent: parent, direction: graph.DirectionSink, chain: chain}
}

// Name implements graph.Pad.
func (p *Pad) Name() string { return p.name }

// Parent implements graph.Pad.
func (p *Pad) Parent() string { return p.parent }

// Direction implements graph.Pad.
func (p *Pad) Direction() graph.Direction { return p.direction }

// Caps implements graph.Pad.
func (p *Pad) Caps() (graph.Caps, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flow == nil {
		return graph.Caps{}, false
	}
	return p.flow.Caps, true
}

// IsLinked implements graph.Pad.
func (p *Pad) IsLinked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer != nil
}

// Link implements graph.Pad. When the source already carries a flow the sink
// must accept it before the link is made; otherwise the flow is offered when
// it becomes available.
func (p *Pad) Link(sink graph.Pad) error {
	other, ok := sink.(*Pad)
	if !ok {
		return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(sink), Cause: fmt.Errorf("foreign pad %T", sink)}
	}
	if p.direction != graph.DirectionSrc || other.direction != graph.DirectionSink {
		return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(other), Cause: graph.ErrWrongDirection}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if p.peer != nil || other.peer != nil {
		return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(other), Cause: graph.ErrAlreadyLinked}
	}
	if p.flow != nil {
		if err := other.acceptLocked(*p.flow); err != nil {
			return &graph.LinkError{Src: graph.PadPath(p), Sink: graph.PadPath(other), Cause: err}
		}
	}
	p.peer = other
	other.peer = p
	return nil
}

// push publishes the flow of a source pad and offers it to the linked sink.
// A pad carries one flow for its lifetime.
func (p *Pad) push(flow Flow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.flow != nil {
		return fmt.Errorf("%s: %w", graph.PadPath(p), graph.ErrAlreadyLinked)
	}
	if p.peer != nil {
		p.peer.mu.Lock()
		err := p.peer.acceptLocked(flow)
		p.peer.mu.Unlock()
		if err != nil {
			return err
		}
	}
	p.flow = &flow
	return nil
}

func (p *Pad) acceptLocked(flow Flow) error {
	if p.chain != nil {
		if err := p.chain(flow); err != nil {
			return err
		}
	}
	p.flow = &flow
	return nil
}

// current returns the flow accepted or published on the pad.
func (p *Pad) current() (Flow, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flow == nil {
		return Flow{}, false
	}
	return *p.flow, true
}
