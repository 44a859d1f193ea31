package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/srtrelay/internal/api/models"
)

func (s *Server) registerRelayRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/api/stats",
		Summary:     "SRT Statistics",
		Description: "Last decoded SRT statistics report: per-caller counters and the listener byte total",
		Tags:        []string{"relay"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.StatsResponse, error) {
		report, sampledAt, ok := s.options.Relay.LastReport()
		if !ok {
			return &models.StatsResponse{Body: models.StatsData{Available: false}}, nil
		}
		return &models.StatsResponse{
			Body: models.StatsData{
				Available: true,
				SampledAt: sampledAt,
				Report:    report,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-routes",
		Method:      http.MethodGet,
		Path:        "/api/routes",
		Summary:     "Stream Routes",
		Description: "Slot bindings of discovered elementary streams",
		Tags:        []string{"relay"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.RoutesResponse, error) {
		return &models.RoutesResponse{
			Body: models.RoutesData{Routes: s.options.Relay.Status().Routes},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/api/pipeline",
		Summary:     "Pipeline Status",
		Description: "Control loop state, the error that ended the run and element counters",
		Tags:        []string{"relay"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.PipelineResponse, error) {
		return &models.PipelineResponse{Body: s.options.Relay.Status()}, nil
	})
}
