package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/flv"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/props"
)

// DefaultMuxWait bounds how long the muxer waits for all inputs.
const DefaultMuxWait = 2 * time.Second

// FLVMux muxes parsed H.264 and AAC tracks into a streamable FLV stream.
// Muxing starts once every requested input is negotiated, or when the mux
// wait elapses with at least one input negotiated. Inputs negotiated later
// are refused.
type FLVMux struct {
	*element
	wait time.Duration

	src *Pad

	inputsMu  sync.Mutex
	requested int
	tracks    []*core.Receiver
	started   bool
	changed   chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
	cons   *flv.Consumer
}

// NewFLVMux creates the "flvmux" element.
func NewFLVMux(name string, wait time.Duration, opts ...Option) *FLVMux {
	if wait <= 0 {
		wait = DefaultMuxWait
	}
	m := &FLVMux{
		element: newElement("flvmux", name, opts),
		wait:    wait,
		changed: make(chan struct{}, 1),
	}
	m.src = newSrcPad(name, "src")
	m.addPad(m.src)
	return m
}

// RequestPad implements graph.RequestPadder for the "sink_%u" template.
func (m *FLVMux) RequestPad(template string) (graph.Pad, error) {
	if template != "sink_%u" {
		return nil, fmt.Errorf("%s: %w: %s", m.name, graph.ErrNoSuchPad, template)
	}
	m.inputsMu.Lock()
	index := m.requested
	m.requested++
	m.inputsMu.Unlock()

	sink := newSinkPad(m.name, fmt.Sprintf("sink_%d", index), m.chain)
	m.addPad(sink)
	return sink, nil
}

func (m *FLVMux) chain(flow Flow) error {
	switch flow.Caps.MediaType() {
	case CapsH264, CapsAAC:
	default:
		return fmt.Errorf("%s accepts %s or %s, got %s: %w", m.name, CapsH264, CapsAAC, flow.Caps.MediaType(), graph.ErrIncompatibleCaps)
	}
	if flow.Track == nil {
		return fmt.Errorf("%s: %w", m.name, graph.ErrNotNegotiated)
	}

	m.inputsMu.Lock()
	defer m.inputsMu.Unlock()
	if m.started {
		return fmt.Errorf("%s: %w", m.name, ErrLateInput)
	}
	m.tracks = append(m.tracks, flow.Track)
	select {
	case m.changed <- struct{}{}:
	default:
	}
	return nil
}

// ready reports whether muxing can start.
func (m *FLVMux) ready(waited bool) bool {
	m.inputsMu.Lock()
	defer m.inputsMu.Unlock()
	if len(m.tracks) == 0 {
		return false
	}
	return waited || len(m.tracks) >= m.requested
}

// SetState implements graph.Element.
func (m *FLVMux) SetState(ctx context.Context, state graph.State) error {
	switch state {
	case graph.StatePlaying:
		if m.State() == graph.StatePlaying {
			return nil
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		m.mu.Lock()
		m.cancel, m.done = cancel, done
		m.mu.Unlock()
		go m.run(runCtx, done)

	case graph.StateNull:
		m.mu.Lock()
		cancel, done, cons := m.cancel, m.done, m.cons
		m.cancel, m.done = nil, nil
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		if cons != nil {
			_ = cons.Stop()
		}
	}
	m.transition(state)
	return nil
}

func (m *FLVMux) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(m.wait)
	defer timer.Stop()
	waited := false
	for !m.ready(waited) {
		select {
		case <-ctx.Done():
			return
		case <-m.changed:
		case <-timer.C:
			waited = true
			m.logger.Debug("Mux wait elapsed", "element", m.name, "wait", m.wait)
		}
	}

	m.inputsMu.Lock()
	m.started = true
	tracks := append([]*core.Receiver(nil), m.tracks...)
	requested := m.requested
	m.inputsMu.Unlock()

	if len(tracks) < requested {
		m.postWarning(fmt.Errorf("muxing %d of %d inputs", len(tracks), requested))
	}

	cons := flv.NewConsumer()
	for _, track := range tracks {
		media := matchMedia(cons.GetMedias(), track.Codec)
		if media == nil {
			m.postError(fmt.Errorf("codec %s: %w", track.Codec.Name, graph.ErrIncompatibleCaps))
			return
		}
		if err := cons.AddTrack(media, track.Codec, track); err != nil {
			m.postError(fmt.Errorf("add %s track: %w", track.Codec.Name, err))
			return
		}
	}
	m.mu.Lock()
	m.cons = cons
	m.mu.Unlock()

	caps := graph.NewCaps(CapsFLV, props.F("streamable", props.Int(1)))
	if err := m.src.push(Flow{Caps: caps, FLV: cons}); err != nil {
		m.postError(err)
		return
	}
	m.logger.Info("Muxing started", "element", m.name, "inputs", len(tracks))
}

// matchMedia finds the consumer media that takes codec, as in the sendonly
// medias advertised by go2rtc consumers.
func matchMedia(medias []*core.Media, codec *core.Codec) *core.Media {
	kind := core.GetKind(codec.Name)
	for _, media := range medias {
		if media.Kind != kind {
			continue
		}
		for _, c := range media.Codecs {
			if c.Name == codec.Name {
				return media
			}
		}
	}
	return nil
}
