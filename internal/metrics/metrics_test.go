package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smazurov/srtrelay/internal/events"
	"github.com/smazurov/srtrelay/internal/srtstats"
)

func caller(addr string, received int64, rttMs float64) srtstats.ConnectionStats {
	return srtstats.ConnectionStats{
		PacketsReceived:     received,
		PacketsReceivedLost: 3,
		RTTMs:               rttMs,
		NegotiatedLatencyMs: 120,
		CallerAddress:       &addr,
	}
}

func TestSetSRTReport(t *testing.T) {
	SetSRTReport(&srtstats.Report{
		Callers:            []srtstats.ConnectionStats{caller("10.0.0.1:4000", 100, 20), caller("10.0.0.2:4000", 50, 5)},
		BytesReceivedTotal: 4096,
	})

	if got := testutil.ToFloat64(srtCallers); got != 2 {
		t.Errorf("callers = %v", got)
	}
	if got := testutil.ToFloat64(srtBytesReceivedTotal); got != 4096 {
		t.Errorf("bytes received total = %v", got)
	}
	if got := testutil.ToFloat64(srtPacketsReceived.WithLabelValues("10.0.0.1:4000")); got != 100 {
		t.Errorf("packets received = %v", got)
	}
	if got := testutil.ToFloat64(srtRTT.WithLabelValues("10.0.0.1:4000")); got != 0.02 {
		t.Errorf("rtt = %v", got)
	}
	if got := testutil.ToFloat64(srtLatency.WithLabelValues("10.0.0.2:4000")); got != (120 * time.Millisecond).Seconds() {
		t.Errorf("latency = %v", got)
	}

	// The second caller leaves.
	SetSRTReport(&srtstats.Report{
		Callers:            []srtstats.ConnectionStats{caller("10.0.0.1:4000", 120, 20)},
		BytesReceivedTotal: 8192,
	})
	if n := testutil.CollectAndCount(srtPacketsReceived); n != 1 {
		t.Errorf("series after disconnect = %d, want 1", n)
	}
	if got := testutil.ToFloat64(srtBytesReceivedTotal); got != 8192 {
		t.Errorf("bytes received total = %v", got)
	}

	SetSRTReport(&srtstats.Report{})
	if n := testutil.CollectAndCount(srtPacketsReceived); n != 0 {
		t.Errorf("series without callers = %d", n)
	}
}

func TestSetPipelineState(t *testing.T) {
	SetPipelineState("error")
	for _, s := range PipelineStates {
		want := 0.0
		if s == "error" {
			want = 1
		}
		if got := testutil.ToFloat64(pipelineState.WithLabelValues(s)); got != want {
			t.Errorf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestSubscribeFeedsMetrics(t *testing.T) {
	bus := events.New()
	unsubscribe := Subscribe(bus)

	degraded := testutil.ToFloat64(routesDegraded.WithLabelValues("already-bound"))
	failures := testutil.ToFloat64(statsDecodeFailures)
	accepted := testutil.ToFloat64(srtCallerAttempts.WithLabelValues("accepted"))

	bus.Publish(events.RouteBoundEvent{Slot: "video", Tag: "video/x-h264"})
	bus.Publish(events.RouteDegradedEvent{Outcome: "already-bound", Slot: "video"})
	bus.Publish(events.StatsDecodeFailedEvent{Key: "rtt-ms"})
	bus.Publish(events.PipelineStateEvent{From: "assembling", To: "playing"})
	bus.Publish(events.CallerConnectedEvent{CallerAddress: "10.0.0.1:4000", Accepted: true})

	// kelindar/event delivers asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(srtCallerAttempts.WithLabelValues("accepted")) == accepted+1 &&
			testutil.ToFloat64(pipelineState.WithLabelValues("playing")) == 1 &&
			testutil.ToFloat64(routesBound.WithLabelValues("video")) == 1 &&
			testutil.ToFloat64(routesDegraded.WithLabelValues("already-bound")) == degraded+1 &&
			testutil.ToFloat64(statsDecodeFailures) == failures+1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := testutil.ToFloat64(routesBound.WithLabelValues("video")); got != 1 {
		t.Errorf("slot bound = %v", got)
	}
	if got := testutil.ToFloat64(routesDegraded.WithLabelValues("already-bound")); got != degraded+1 {
		t.Errorf("degraded = %v", got)
	}
	if got := testutil.ToFloat64(statsDecodeFailures); got != failures+1 {
		t.Errorf("decode failures = %v", got)
	}
	if got := testutil.ToFloat64(pipelineState.WithLabelValues("playing")); got != 1 {
		t.Errorf("playing = %v", got)
	}
	if got := testutil.ToFloat64(srtCallerAttempts.WithLabelValues("accepted")); got != accepted+1 {
		t.Errorf("accepted attempts = %v", got)
	}

	unsubscribe()
}
