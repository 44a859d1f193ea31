// Package graph defines the media processing graph the relay orchestrates.
//
// A graph is a set of named elements connected through pads. Source pads
// link to sink pads; some elements expose pads only at runtime (pad-added)
// or on request (request pads). Elements report errors and end-of-stream
// asynchronously on the pipeline Bus. The relay core is written against
// these interfaces only; package media provides the native implementation.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/smazurov/srtrelay/internal/props"
)

// Common graph errors.
var (
	ErrAlreadyLinked    = errors.New("pad already linked")
	ErrIncompatibleCaps = errors.New("incompatible caps")
	ErrWrongDirection   = errors.New("wrong pad direction")
	ErrNoSuchPad        = errors.New("no such pad")
	ErrNoSuchProperty   = errors.New("no such property")
	ErrDuplicateElement = errors.New("element name already in use")
	ErrNotNegotiated    = errors.New("caps not negotiated")
	ErrNotLinked        = errors.New("pad not linked")
)

// State is the lifecycle state of an element or pipeline.
type State int

// Element states.
const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Direction of a pad.
type Direction int

// Pad directions.
const (
	DirectionSrc Direction = iota
	DirectionSink
)

// Caps describes the media type negotiated on a pad, e.g. "video/x-h264".
type Caps struct {
	props.Structure
}

// NewCaps builds caps for a media type.
func NewCaps(mediaType string, fields ...props.Field) Caps {
	return Caps{Structure: props.NewStructure(mediaType, fields...)}
}

// MediaType returns the caps name.
func (c Caps) MediaType() string {
	return c.Name()
}

// Pad is a connection point of an element.
type Pad interface {
	Name() string
	// Parent returns the name of the owning element.
	Parent() string
	Direction() Direction
	// Caps returns the currently negotiated caps.
	Caps() (Caps, bool)
	IsLinked() bool
	// Link connects this source pad to sink. It is a single irreversible action.
	Link(sink Pad) error
}

// Element is a named processing node.
type Element interface {
	Name() string
	Factory() string
	StaticPad(name string) (Pad, error)
	SetState(ctx context.Context, state State) error
}

// RequestPadder is implemented by elements with request pads (e.g. "sink_%u").
type RequestPadder interface {
	RequestPad(template string) (Pad, error)
}

// PadAddedFunc is invoked when an element exposes a new source pad. It runs on
// the element's own goroutine and must complete before the pad carries data.
type PadAddedFunc func(element Element, pad Pad)

// DynamicElement is implemented by elements that create pads at runtime.
type DynamicElement interface {
	OnPadAdded(fn PadAddedFunc)
}

// PropertyReader is implemented by elements exposing structured properties.
// Reads return a point-in-time snapshot and never block on I/O.
type PropertyReader interface {
	StructureProperty(name string) (props.Structure, error)
}

// Pipeline is the top-level container of elements.
type Pipeline interface {
	Name() string
	Add(elements ...Element) error
	Element(name string) (Element, bool)
	SetState(ctx context.Context, state State) error
	CurrentState() State
	Bus() *Bus
}

// LinkError reports a failed pad link.
type LinkError struct {
	Src   string
	Sink  string
	Cause error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s -> %s: %v", e.Src, e.Sink, e.Cause)
}

func (e *LinkError) Unwrap() error {
	return e.Cause
}

// PadPath formats a pad as "element:pad".
func PadPath(p Pad) string {
	return p.Parent() + ":" + p.Name()
}

// Link connects the "src" pad of src to the "sink" pad of sink.
func Link(src, sink Element) error {
	srcPad, err := src.StaticPad("src")
	if err != nil {
		return &LinkError{Src: src.Name() + ":src", Sink: sink.Name() + ":sink", Cause: err}
	}
	sinkPad, err := sink.StaticPad("sink")
	if err != nil {
		return &LinkError{Src: src.Name() + ":src", Sink: sink.Name() + ":sink", Cause: err}
	}
	return srcPad.Link(sinkPad)
}
