package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/srtrelay/internal/events"
)

// registerStatsStreamRoutes registers the statistics-only SSE endpoint used
// by dashboards that poll nothing else.
func (s *Server) registerStatsStreamRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "stats-stream",
		Method:      http.MethodGet,
		Path:        "/api/stats/stream",
		Summary:     "Statistics Stream",
		Description: "Every decoded SRT statistics sample as a Server-Sent Event",
		Tags:        []string{"relay"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"stats-sampled": events.StatsSampledEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)
		unsubscribe := events.SubscribeToChannel[events.StatsSampledEvent](s.eventBus, eventCh)
		defer unsubscribe()
		forward(ctx, eventCh, send)
	})
}
