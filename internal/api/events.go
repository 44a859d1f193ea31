package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/srtrelay/internal/events"
)

// registerSSERoutes registers the relay event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of statistics samples, routing outcomes, control loop transitions and SRT callers",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"stats-sampled":       events.StatsSampledEvent{},
		"stats-decode-failed": events.StatsDecodeFailedEvent{},
		"route-bound":         events.RouteBoundEvent{},
		"route-degraded":      events.RouteDegradedEvent{},
		"pipeline-state":      events.PipelineStateEvent{},
		"caller-connected":    events.CallerConnectedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.StatsSampledEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.StatsDecodeFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RouteBoundEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RouteDegradedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PipelineStateEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CallerConnectedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Late subscribers start from the current state.
		st := s.options.Relay.Status()
		if err := send.Data(events.PipelineStateEvent{
			From:      string(st.State),
			To:        string(st.State),
			Element:   st.Element,
			Error:     st.Error,
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}
		forward(ctx, eventCh, send)
	})
}
