package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/smazurov/srtrelay/internal/config"
	"github.com/smazurov/srtrelay/internal/graph"
	"github.com/smazurov/srtrelay/internal/graph/graphtest"
	"github.com/smazurov/srtrelay/internal/media"
	"github.com/smazurov/srtrelay/internal/router"
	"github.com/smazurov/srtrelay/internal/supervisor"
)

func testSettings() *config.Settings {
	return &config.Settings{
		InputPort:  9000,
		OutputPort: 1935,
		WebPort:    8080,
		Passphrase: "0123456789abcdef",
		Output:     config.OutputSettings{Host: "127.0.0.1", App: "live", Stream: "stream"},
		SRT:        config.SRTSettings{Latency: 120 * time.Millisecond, PBKeyLen: 32},
		Pipeline: config.PipelineSettings{
			QueueCapacity: 64,
			StatsInterval: time.Second,
			MuxWait:       time.Second,
		},
	}
}

func build(t *testing.T) *Relay {
	t.Helper()
	r, err := Build(testSettings(), Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return r
}

func TestBuildAddsNamedElements(t *testing.T) {
	r := build(t)
	for _, name := range []string{SourceName, DemuxName, QueueName, H264ParseName, AACParseName, MuxName, SinkName} {
		if _, ok := r.Pipeline.Element(name); !ok {
			t.Errorf("element %s missing", name)
		}
	}
	if r.Supervisor.State() != supervisor.StateAssembling {
		t.Errorf("state = %s", r.Supervisor.State())
	}
}

func TestBuildLinksStaticGraph(t *testing.T) {
	r := build(t)

	linked := []struct {
		element graph.Element
		pad     string
	}{
		{r.Source, "src"},
		{r.Demux, "sink"},
		{r.Queue, "src_0"},
		{r.Queue, "src_1"},
		{r.H264, "sink"},
		{r.H264, "src"},
		{r.AAC, "sink"},
		{r.AAC, "src"},
		{r.Mux, "sink_0"},
		{r.Mux, "sink_1"},
		{r.Mux, "src"},
		{r.Sink, "sink"},
	}
	for _, l := range linked {
		pad, err := l.element.StaticPad(l.pad)
		if err != nil {
			t.Errorf("%s:%s: %v", l.element.Name(), l.pad, err)
			continue
		}
		if !pad.IsLinked() {
			t.Errorf("%s should be linked", graph.PadPath(pad))
		}
	}

	// The queue inputs are left for the router.
	for _, name := range []string{"sink_0", "sink_1"} {
		pad, err := r.Queue.StaticPad(name)
		if err != nil {
			t.Fatal(err)
		}
		if pad.IsLinked() {
			t.Errorf("%s must stay unlinked until a stream is discovered", graph.PadPath(pad))
		}
	}
}

func TestBuildReservesSlots(t *testing.T) {
	r := build(t)
	routes := r.Routes()
	want := map[router.Slot]string{
		router.SlotVideo: "multiqueue:sink_0",
		router.SlotAudio: "multiqueue:sink_1",
	}
	if len(routes) != len(want) {
		t.Fatalf("routes = %+v", routes)
	}
	for _, route := range routes {
		if route.Input != want[route.Slot] {
			t.Errorf("slot %s input = %q, want %q", route.Slot, route.Input, want[route.Slot])
		}
		if route.Bound {
			t.Errorf("slot %s bound before any discovery", route.Slot)
		}
	}
}

func TestUnhandledStreamLeavesSlotsUnbound(t *testing.T) {
	r := build(t)
	pad := graphtest.NewSrcPad(DemuxName, "private_0", "text/x-subtitle")

	res := r.Router.OnStreamDiscovered(router.DiscoveredStream{Pad: pad, Tag: "text/x-subtitle"})
	if res.Outcome != router.OutcomeUnhandled {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if pad.IsLinked() {
		t.Error("no link should be made")
	}
	for _, route := range r.Routes() {
		if route.Bound {
			t.Errorf("slot %s bound", route.Slot)
		}
	}
}

func TestForeignPadFailsLinkAndDegrades(t *testing.T) {
	r := build(t)
	pad := graphtest.NewSrcPad(DemuxName, "video_0", "video/x-h264")

	res := r.Router.OnStreamDiscovered(router.DiscoveredStream{Pad: pad, Tag: "video/x-h264"})
	if res.Outcome != router.OutcomeLinkFailed {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if r.Router.Table().IsBound(router.SlotVideo) {
		t.Error("a failed link leaves the slot unbound")
	}
	select {
	case got := <-r.Router.Degraded():
		if got.Slot != router.SlotVideo {
			t.Errorf("degraded slot = %s", got.Slot)
		}
	default:
		t.Error("link failure should reach the degraded channel")
	}
}

func TestLinkFailureIsAssemblyError(t *testing.T) {
	src := graphtest.NewElement("fakesrc", "upstream")
	sink := graphtest.NewElement("fakesink", "downstream")
	sink.Pad("sink").FailLinks(graph.ErrIncompatibleCaps)

	err := link(src, sink)
	var gerr *GraphAssemblyError
	if !errors.As(err, &gerr) {
		t.Fatalf("err = %v, want *GraphAssemblyError", err)
	}
	if gerr.Element != "downstream" || !errors.Is(err, graph.ErrIncompatibleCaps) {
		t.Errorf("err = %v", err)
	}
}

func TestStatusBeforeRun(t *testing.T) {
	r := build(t)
	st := r.Status()
	if st.State != supervisor.StateAssembling || st.Callers != 0 || st.Error != "" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Routes) != 2 || len(st.Queues) != 0 {
		t.Errorf("routes = %d, queues = %d", len(st.Routes), len(st.Queues))
	}
	if _, _, ok := r.LastReport(); ok {
		t.Error("no report before sampling")
	}
}

func TestTracksBeforeNegotiation(t *testing.T) {
	r := build(t)
	if _, err := r.Tracks(); !errors.Is(err, media.ErrNoPublisher) {
		t.Errorf("err = %v, want %v", err, media.ErrNoPublisher)
	}
}
