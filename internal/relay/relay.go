// Package relay assembles the SRT to RTMP graph and wires the router and the
// control loop around it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"

	"github.com/smazurov/srtrelay/internal/config"
	"github.com/smazurov/srtrelay/internal/events"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/logging"
	"github.com/smazurov/srtrelay/internal/media"
	"github.com/smazurov/srtrelay/internal/router"
	"github.com/smazurov/srtrelay/internal/srtstats"
	"github.com/smazurov/srtrelay/internal/supervisor"
)

// Element names of the relay graph.
const (
	PipelineName  = "srtrelay"
	SourceName    = "srtsrc"
	DemuxName     = "tsdemux"
	QueueName     = "multiqueue"
	H264ParseName = "h264parse"
	AACParseName  = "aacparse"
	MuxName       = "flvmux"
	SinkName      = "rtmpsink"
)

// GraphAssemblyError reports the element that could not be created, added
// or linked while building the graph.
type GraphAssemblyError struct {
	Element string
	Cause   error
}

func (e *GraphAssemblyError) Error() string {
	return fmt.Sprintf("assemble graph at %s: %v", e.Element, e.Cause)
}

func (e *GraphAssemblyError) Unwrap() error {
	return e.Cause
}

// Deps are the collaborators shared with the rest of the process.
type Deps struct {
	Events   events.Publisher
	Notifier supervisor.Notifier
}

// Relay is one assembled graph with its router and control loop.
type Relay struct {
	Pipeline   *media.Pipeline
	Source     *media.SRTSource
	Demux      *media.TSDemux
	Queue      *media.MultiQueue
	H264       *media.Parser
	AAC        *media.Parser
	Mux        *media.FLVMux
	Sink       *media.RTMPSink
	Router     *router.Router
	Supervisor *supervisor.Supervisor

	logger logging.Logger
}

// Build creates every element, links the static part of the graph, reserves
// the router slots and subscribes the router to the demuxer. Nothing is
// started; the listener binds when Run sets the pipeline to playing.
func Build(s *config.Settings, deps Deps) (*Relay, error) {
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	mediaLog := media.WithLogger(logging.GetLogger("media"))

	r := &Relay{
		Pipeline: media.NewPipeline(PipelineName, logging.GetLogger("media")),
		Source: media.NewSRTSource(SourceName, media.SRTSourceConfig{
			Address:    s.SRTAddress(),
			Passphrase: s.Passphrase,
			Latency:    s.SRT.Latency,
			PBKeyLen:   s.SRT.PBKeyLen,
		}, deps.Events, mediaLog),
		Demux:  media.NewTSDemux(DemuxName, mediaLog),
		Queue:  media.NewMultiQueue(QueueName, s.Pipeline.QueueCapacity, mediaLog),
		H264:   media.NewH264Parse(H264ParseName, mediaLog),
		AAC:    media.NewAACParse(AACParseName, mediaLog),
		Mux:    media.NewFLVMux(MuxName, s.Pipeline.MuxWait, mediaLog),
		Sink:   media.NewRTMPSink(SinkName, s.RTMPURL(), mediaLog),
		logger: logging.GetLogger("relay"),
	}

	if err := r.Pipeline.Add(r.Source, r.Demux, r.Queue, r.H264, r.AAC, r.Mux, r.Sink); err != nil {
		return nil, &GraphAssemblyError{Element: PipelineName, Cause: err}
	}
	if err := link(r.Source, r.Demux); err != nil {
		return nil, err
	}

	table := router.NewTable(router.DefaultRoutes())
	branches := []struct {
		slot   router.Slot
		parser *media.Parser
	}{
		{router.SlotVideo, r.H264},
		{router.SlotAudio, r.AAC},
	}
	for _, b := range branches {
		input, err := r.branch(b.parser)
		if err != nil {
			return nil, err
		}
		if err := table.Reserve(b.slot, input); err != nil {
			return nil, &GraphAssemblyError{Element: QueueName, Cause: err}
		}
	}
	if err := link(r.Mux, r.Sink); err != nil {
		return nil, err
	}

	r.Router = router.New(table,
		router.WithLogger(logging.GetLogger("router")),
		router.WithEvents(deps.Events),
	)
	r.Router.Subscribe(r.Demux)

	r.Supervisor = supervisor.New(supervisor.Config{
		Pipeline:      r.Pipeline,
		Stats:         r.Source,
		Degraded:      r.Router.Degraded(),
		StatsInterval: s.Pipeline.StatsInterval,
		Events:        deps.Events,
		Logger:        logging.GetLogger("supervisor"),
		Notifier:      deps.Notifier,
	})

	r.logger.Info("Graph assembled",
		"listen", s.SRTAddress(),
		"queue_capacity", s.Pipeline.QueueCapacity,
		"mux_wait", s.Pipeline.MuxWait,
		"stats_interval", s.Pipeline.StatsInterval)
	return r, nil
}

// branch requests a queue slot, links it to parser and the parser to a new
// muxer input. It returns the queue sink the router binds to.
func (r *Relay) branch(parser *media.Parser) (graph.Pad, error) {
	input, err := r.Queue.RequestPad("sink_%u")
	if err != nil {
		return nil, &GraphAssemblyError{Element: QueueName, Cause: err}
	}
	output, err := r.Queue.SrcFor(input)
	if err != nil {
		return nil, &GraphAssemblyError{Element: QueueName, Cause: err}
	}
	parserSink, err := parser.StaticPad("sink")
	if err != nil {
		return nil, &GraphAssemblyError{Element: parser.Name(), Cause: err}
	}
	if err := output.Link(parserSink); err != nil {
		return nil, &GraphAssemblyError{Element: parser.Name(), Cause: err}
	}

	muxSink, err := r.Mux.RequestPad("sink_%u")
	if err != nil {
		return nil, &GraphAssemblyError{Element: MuxName, Cause: err}
	}
	parserSrc, err := parser.StaticPad("src")
	if err != nil {
		return nil, &GraphAssemblyError{Element: parser.Name(), Cause: err}
	}
	if err := parserSrc.Link(muxSink); err != nil {
		return nil, &GraphAssemblyError{Element: MuxName, Cause: err}
	}
	return input, nil
}

// link statically links src to sink, attributing a failure to sink.
func link(src, sink graph.Element) error {
	if err := graph.Link(src, sink); err != nil {
		return &GraphAssemblyError{Element: sink.Name(), Cause: err}
	}
	return nil
}

// Run plays the graph until it fails, ends or ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	return r.Supervisor.Run(ctx)
}

// Routes returns the slot bindings.
func (r *Relay) Routes() []router.SlotStatus {
	return r.Router.Table().Snapshot()
}

// Status is a point-in-time view of the relay for telemetry.
type Status struct {
	State       supervisor.State    `json:"state" example:"playing" doc:"Control loop state"`
	Element     string              `json:"element,omitempty" doc:"Element that ended the run"`
	Error       string              `json:"error,omitempty" doc:"Error that ended the run"`
	Callers     int                 `json:"callers" doc:"Connected SRT callers"`
	Queues      []media.QueueStats  `json:"queues" doc:"Queue slot counters"`
	H264Frames  uint64              `json:"h264_frames" doc:"Parsed H.264 access units"`
	AACFrames   uint64              `json:"aac_frames" doc:"Parsed AAC frames"`
	DecodeFails uint64              `json:"decode_failures" doc:"Statistics records that failed to decode"`
	Degraded    uint64              `json:"degraded" doc:"Streams that could not be bound"`
	Routes      []router.SlotStatus `json:"routes" doc:"Slot bindings"`
}

// Status collects the current relay status.
func (r *Relay) Status() Status {
	decodeFails, degraded := r.Supervisor.Counters()
	st := Status{
		State:       r.Supervisor.State(),
		Callers:     r.Source.Callers(),
		Queues:      r.Queue.Stats(),
		H264Frames:  r.H264.Frames(),
		AACFrames:   r.AAC.Frames(),
		DecodeFails: decodeFails,
		Degraded:    degraded,
		Routes:      r.Routes(),
	}
	if err := r.Supervisor.LastError(); err != nil {
		st.Error = err.Error()
		var perr *supervisor.PipelineError
		if errors.As(err, &perr) {
			st.Element = perr.Element
		}
	}
	return st
}

// LastReport returns the most recent decoded statistics and when they were
// sampled.
func (r *Relay) LastReport() (*srtstats.Report, time.Time, bool) {
	return r.Supervisor.LastReport()
}

// Tracks returns the parsed tracks for preview. It fails with
// media.ErrNoPublisher until a stream has been negotiated.
func (r *Relay) Tracks() ([]*core.Receiver, error) {
	return media.Tracks(r.H264, r.AAC)
}
