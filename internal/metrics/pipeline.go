package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/srtrelay/internal/events"
)

// PipelineStates lists the control loop states exported as a state set.
var PipelineStates = []string{"assembling", "playing", "error", "eos", "stopped"}

var (
	mu sync.Mutex

	pipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "state",
		Help:      "1 for the current control loop state",
	}, []string{"state"})

	statsDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stats_decode_failures_total",
		Help:      "Statistics samples that could not be decoded",
	})

	routesBound = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "slot_bound",
		Help:      "1 when a stream is bound to the slot",
	}, []string{"slot"})

	routesDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "degraded_total",
		Help:      "Discovered streams that were not bound, by outcome",
	}, []string{"outcome"})
)

// SetPipelineState marks state as the current control loop state.
func SetPipelineState(state string) {
	for _, s := range PipelineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		pipelineState.WithLabelValues(s).Set(v)
	}
}

// IncStatsDecodeFailure counts a failed statistics sample.
func IncStatsDecodeFailure() {
	statsDecodeFailures.Inc()
}

// SetSlotBound marks a router slot as bound.
func SetSlotBound(slot string) {
	routesBound.WithLabelValues(slot).Set(1)
}

// IncRouteDegraded counts a stream that was not bound.
func IncRouteDegraded(outcome string) {
	routesDegraded.WithLabelValues(outcome).Inc()
}

// Subscribe feeds the metrics from bus events and returns a function that
// removes every subscription.
func Subscribe(bus *events.Bus) func() {
	unsubscribers := []func(){
		bus.Subscribe(func(e events.StatsSampledEvent) { SetSRTReport(&e.Report) }),
		bus.Subscribe(func(events.StatsDecodeFailedEvent) { IncStatsDecodeFailure() }),
		bus.Subscribe(func(e events.RouteBoundEvent) { SetSlotBound(e.Slot) }),
		bus.Subscribe(func(e events.RouteDegradedEvent) { IncRouteDegraded(e.Outcome) }),
		bus.Subscribe(func(e events.PipelineStateEvent) { SetPipelineState(e.To) }),
		bus.Subscribe(func(e events.CallerConnectedEvent) { IncCallerAttempt(e.Accepted) }),
	}
	return func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}
}
