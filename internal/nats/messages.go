package nats

import (
	"fmt"

	"github.com/smazurov/srtrelay/internal/events"
)

// SubjectPrefix is the root of every subject published by the relay.
const SubjectPrefix = "srtrelay"

// Subject kinds below srtrelay.{relay}.
const (
	KindStats   = "stats"
	KindState   = "state"
	KindRoutes  = "routes"
	KindCallers = "callers"
)

// Subject returns the subject for kind under relay.
func Subject(relay, kind string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, relay, kind)
}

// kindOf maps an event to its subject kind.
func kindOf(ev events.Event) (string, bool) {
	switch ev.(type) {
	case events.StatsSampledEvent, events.StatsDecodeFailedEvent:
		return KindStats, true
	case events.PipelineStateEvent:
		return KindState, true
	case events.RouteBoundEvent, events.RouteDegradedEvent:
		return KindRoutes, true
	case events.CallerConnectedEvent:
		return KindCallers, true
	default:
		return "", false
	}
}
