package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/pion/rtp"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/props"
)

// handlerFactory builds the per-track packet handler of a parser.
type handlerFactory func(codec *core.Codec, out func(*rtp.Packet), frames *atomic.Uint64) func(*rtp.Packet)

// Parser accepts one codec on its sink pad and republishes the parsed track
// on its src pad. Streams with other caps are refused at link time.
type Parser struct {
	*element
	accepts    string
	parsed     []props.Field
	newHandler handlerFactory

	src  *Pad
	sink *Pad

	trackMu sync.Mutex
	sender  *core.Sender
	out     *core.Receiver
	frames  atomic.Uint64
}

func newParser(factory, name, accepts string, parsed []props.Field, h handlerFactory, opts []Option) *Parser {
	p := &Parser{
		element:    newElement(factory, name, opts),
		accepts:    accepts,
		parsed:     parsed,
		newHandler: h,
	}
	p.src = newSrcPad(name, "src")
	p.sink = newSinkPad(name, "sink", p.chain)
	p.addPad(p.src)
	p.addPad(p.sink)
	return p
}

// NewH264Parse creates the "h264parse" element. It keeps the last SPS and
// PPS and repeats them in front of IDR frames that arrive without them.
func NewH264Parse(name string, opts ...Option) *Parser {
	return newParser("h264parse", name, CapsH264, []props.Field{
		props.F("alignment", props.String("au")),
		props.F("parsed", props.Int(1)),
	}, newH264Handler, opts)
}

// NewAACParse creates the "aacparse" element.
func NewAACParse(name string, opts ...Option) *Parser {
	return newParser("aacparse", name, CapsAAC, []props.Field{
		props.F("framed", props.Int(1)),
	}, newAACHandler, opts)
}

func (p *Parser) chain(flow Flow) error {
	if flow.Caps.MediaType() != p.accepts || flow.Track == nil {
		return fmt.Errorf("%s accepts %s, got %s: %w", p.name, p.accepts, flow.Caps.MediaType(), graph.ErrIncompatibleCaps)
	}

	codec := flow.Track.Codec
	out := core.NewReceiver(recvMedia(codec), codec)
	sender := core.NewSender(recvMedia(codec), codec)
	sender.Handler = p.newHandler(codec, out.WriteRTP, &p.frames)

	caps := flow.Caps
	for _, f := range p.parsed {
		caps.Structure = caps.With(f.Key, f.Value)
	}
	if err := p.src.push(Flow{Caps: caps, Track: out}); err != nil {
		out.Close()
		return err
	}
	sender.HandleRTP(flow.Track)

	p.trackMu.Lock()
	p.sender, p.out = sender, out
	p.trackMu.Unlock()
	return nil
}

// Track returns the parsed track once the parser is negotiated.
func (p *Parser) Track() (*core.Receiver, bool) {
	p.trackMu.Lock()
	defer p.trackMu.Unlock()
	return p.out, p.out != nil
}

// Frames returns the number of frames parsed.
func (p *Parser) Frames() uint64 {
	return p.frames.Load()
}

// SetState implements graph.Element.
func (p *Parser) SetState(_ context.Context, state graph.State) error {
	if state == graph.StateNull {
		p.trackMu.Lock()
		sender, out := p.sender, p.out
		p.trackMu.Unlock()
		if sender != nil {
			sender.Close()
		}
		if out != nil {
			out.Close()
		}
	}
	p.transition(state)
	return nil
}

func newAACHandler(_ *core.Codec, out func(*rtp.Packet), frames *atomic.Uint64) func(*rtp.Packet) {
	return func(pkt *rtp.Packet) {
		if len(pkt.Payload) == 0 {
			return
		}
		frames.Add(1)
		out(pkt)
	}
}

// Tracks collects the negotiated tracks of the given parsers. It returns
// ErrNoPublisher while none is negotiated.
func Tracks(parsers ...*Parser) ([]*core.Receiver, error) {
	var tracks []*core.Receiver
	for _, p := range parsers {
		if t, ok := p.Track(); ok {
			tracks = append(tracks, t)
		}
	}
	if len(tracks) == 0 {
		return nil, ErrNoPublisher
	}
	return tracks, nil
}
