package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/flv"
	"github.com/AlexxIT/go2rtc/pkg/rtmp"
	"github.com/smazurov/srtrelay/internal/graph"
)

// PublishFunc opens an RTMP publish session for the FLV consumer and
// returns the writer the FLV stream is written to.
type PublishFunc func(rawURL string, cons *flv.Consumer) (io.Writer, error)

// RTMPSink publishes the muxed FLV stream. There is no reconnection: a
// failed dial or a broken session is an element error.
type RTMPSink struct {
	*element
	url     string
	publish PublishFunc

	sink *Pad

	runMu   sync.Mutex
	playing bool
	cons    *flv.Consumer
	writer  io.Writer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRTMPSink creates the "rtmpsink" element.
func NewRTMPSink(name, rawURL string, opts ...Option) *RTMPSink {
	s := &RTMPSink{
		element: newElement("rtmpsink", name, opts),
		url:     rawURL,
		publish: rtmp.DialPublish,
	}
	s.sink = newSinkPad(name, "sink", s.chain)
	s.addPad(s.sink)
	return s
}

func (s *RTMPSink) chain(flow Flow) error {
	if flow.Caps.MediaType() != CapsFLV || flow.FLV == nil {
		return fmt.Errorf("%s accepts %s, got %s: %w", s.name, CapsFLV, flow.Caps.MediaType(), graph.ErrIncompatibleCaps)
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.cons = flow.FLV
	if s.playing {
		s.startLocked()
	}
	return nil
}

// SetState implements graph.Element. The session starts once playing and the
// muxer output is available, whichever comes last.
func (s *RTMPSink) SetState(ctx context.Context, state graph.State) error {
	switch state {
	case graph.StatePlaying:
		s.runMu.Lock()
		if !s.playing {
			s.playing = true
			s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
			if s.cons != nil {
				s.startLocked()
			}
		}
		s.runMu.Unlock()

	case graph.StateNull:
		s.runMu.Lock()
		s.playing = false
		cancel, cons, writer := s.cancel, s.cons, s.writer
		s.cancel = nil
		s.runMu.Unlock()
		if cancel != nil {
			cancel()
		}
		if cons != nil {
			_ = cons.Stop()
		}
		if c, ok := writer.(io.Closer); ok {
			_ = c.Close()
		}
		s.wg.Wait()
	}
	s.transition(state)
	return nil
}

func (s *RTMPSink) startLocked() {
	ctx, cons := s.ctx, s.cons
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, cons)
	}()
}

func (s *RTMPSink) run(ctx context.Context, cons *flv.Consumer) {
	target := redactURL(s.url)
	s.logger.Info("Publishing", "element", s.name, "url", target)

	wr, err := s.publish(s.url, cons)
	if err != nil {
		if ctx.Err() == nil {
			s.postError(fmt.Errorf("publish %s: %w", target, err))
		}
		return
	}
	s.runMu.Lock()
	s.writer = wr
	stopped := ctx.Err() != nil
	s.runMu.Unlock()
	if stopped {
		if c, ok := wr.(io.Closer); ok {
			_ = c.Close()
		}
		return
	}

	n, err := cons.WriteTo(wr)
	if ctx.Err() != nil {
		s.logger.Info("Publishing stopped", "element", s.name, "bytes", n)
		return
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("session closed by server: %w", err)
	}
	s.postError(fmt.Errorf("publish %s: %w", target, err))
}

// redactURL masks the stream key and drops user info and query.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	redacted := u.Scheme + "://" + u.Host
	if u.Path != "" {
		dir, _ := path.Split(u.Path)
		redacted += dir + "***"
	}
	return redacted
}
