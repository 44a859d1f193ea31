package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/mpegts"
	"github.com/smazurov/srtrelay/internal/graph"
)

// producer is the demuxing side of a go2rtc transport stream reader.
type producer interface {
	GetMedias() []*core.Media
	GetTrack(media *core.Media, codec *core.Codec) (*core.Receiver, error)
	Start() error
	Stop() error
}

// OpenFunc inspects a transport stream and returns its producer.
type OpenFunc func(r io.Reader) (producer, error)

func openMPEGTS(r io.Reader) (producer, error) {
	prod, err := mpegts.Open(r)
	if err != nil {
		return nil, err
	}
	return prod, nil
}

// TSDemux splits the ingest transport stream into elementary streams. Once
// the program tables are read it adds one src pad per stream, named after
// the media kind and index ("video_0", "audio_1"), and runs the pad-added
// handlers before any packet is read.
type TSDemux struct {
	*element
	open OpenFunc

	sink *Pad

	handlersMu sync.Mutex
	handlers   []graph.PadAddedFunc

	input  io.Reader
	prod   producer
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTSDemux creates the "tsdemux" element.
func NewTSDemux(name string, opts ...Option) *TSDemux {
	d := &TSDemux{
		element: newElement("tsdemux", name, opts),
		open:    openMPEGTS,
	}
	d.sink = newSinkPad(name, "sink", d.chain)
	d.addPad(d.sink)
	return d
}

func (d *TSDemux) chain(flow Flow) error {
	if flow.Stream == nil || flow.Caps.MediaType() != CapsMPEGTS {
		return fmt.Errorf("%s accepts %s, got %s: %w", d.name, CapsMPEGTS, flow.Caps.MediaType(), graph.ErrIncompatibleCaps)
	}
	d.mu.Lock()
	d.input = flow.Stream
	d.mu.Unlock()
	return nil
}

// OnPadAdded implements graph.DynamicElement.
func (d *TSDemux) OnPadAdded(fn graph.PadAddedFunc) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.handlers = append(d.handlers, fn)
}

// SetState implements graph.Element.
func (d *TSDemux) SetState(ctx context.Context, state graph.State) error {
	switch state {
	case graph.StatePlaying:
		if d.State() == graph.StatePlaying {
			return nil
		}
		d.mu.Lock()
		input := d.input
		d.mu.Unlock()
		if input == nil {
			return fmt.Errorf("%s sink: %w", d.name, graph.ErrNotLinked)
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		d.mu.Lock()
		d.cancel, d.done = cancel, done
		d.mu.Unlock()
		go d.run(runCtx, input, done)

	case graph.StateNull:
		d.mu.Lock()
		cancel, done, prod := d.cancel, d.done, d.prod
		d.cancel, d.done = nil, nil
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if prod != nil {
			_ = prod.Stop()
		}
		if done != nil {
			<-done
		}
	}
	d.transition(state)
	return nil
}

func (d *TSDemux) run(ctx context.Context, input io.Reader, done chan struct{}) {
	defer close(done)

	prod, err := d.open(input)
	if err != nil {
		if ctx.Err() == nil {
			d.postError(fmt.Errorf("open transport stream: %w", err))
		}
		return
	}
	d.mu.Lock()
	d.prod = prod
	d.mu.Unlock()
	if ctx.Err() != nil {
		_ = prod.Stop()
		return
	}

	counts := map[string]int{}
	for _, media := range prod.GetMedias() {
		if len(media.Codecs) == 0 {
			continue
		}
		codec := media.Codecs[0]
		track, err := prod.GetTrack(media, codec)
		if err != nil {
			d.postWarning(fmt.Errorf("track %s: %w", codec.Name, err))
			continue
		}

		kind := media.Kind
		if kind == "" {
			kind = "private"
		}
		pad := newSrcPad(d.name, fmt.Sprintf("%s_%d", kind, counts[kind]))
		counts[kind]++
		_ = pad.push(Flow{Caps: CapsForCodec(codec), Track: track})
		d.addPad(pad)
		d.logger.Debug("Stream discovered", "element", d.name, "pad", pad.name, "codec", codec.Name)
		d.padAdded(pad)
	}

	err = prod.Start()
	if ctx.Err() != nil {
		return
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		d.logger.Info("Transport stream ended", "element", d.name)
		d.post(graph.EOSMessage(d.name))
		return
	}
	d.postError(fmt.Errorf("demux: %w", err))
}

func (d *TSDemux) padAdded(pad *Pad) {
	d.handlersMu.Lock()
	handlers := append([]graph.PadAddedFunc(nil), d.handlers...)
	d.handlersMu.Unlock()
	for _, h := range handlers {
		h(d, pad)
	}
}
