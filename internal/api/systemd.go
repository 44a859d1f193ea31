package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/srtrelay/internal/api/models"
)

func (s *Server) registerSystemdRoutes() {
	if s.options.Service == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-service-status",
		Method:      http.MethodGet,
		Path:        "/api/service",
		Summary:     "Service Status",
		Description: "systemd state of the relay unit",
		Tags:        []string{"systemd"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.ServiceStatusResponse, error) {
		active, sub, err := s.options.Service.ServiceStatus(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get service status", err)
		}
		return &models.ServiceStatusResponse{
			Body: models.ServiceStatus{
				Unit:        s.options.Service.Unit(),
				ActiveState: active,
				SubState:    sub,
			},
		}, nil
	})
}
