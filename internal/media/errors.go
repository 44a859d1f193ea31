package media

import "errors"

// Element errors.
var (
	// ErrNoPublisher is returned while no SRT caller feeds the graph.
	ErrNoPublisher = errors.New("no publisher connected")
	// ErrNotPlaying is returned by operations that need a running element.
	ErrNotPlaying = errors.New("element not playing")
	// ErrLateInput reports a muxer input negotiated after the header was written.
	ErrLateInput = errors.New("input negotiated after muxing started")
)
