package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/srtrelay/internal/api/models"
	"github.com/smazurov/srtrelay/internal/media"
	"github.com/smazurov/srtrelay/internal/preview"
)

func (s *Server) registerPreviewRoutes() {
	if s.options.Preview == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "preview-offer",
		Method:      http.MethodPost,
		Path:        "/api/preview",
		Summary:     "WebRTC Preview",
		Description: "Exchange an SDP offer for an answer that plays the relayed stream",
		Tags:        []string{"preview"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404},
	}, func(_ context.Context, input *models.PreviewOfferInput) (*models.PreviewAnswerOutput, error) {
		answer, err := s.options.Preview.CreateConsumer(string(input.RawBody))
		switch {
		case errors.Is(err, media.ErrNoPublisher):
			return nil, huma.Error404NotFound("nothing is being relayed", err)
		case errors.Is(err, preview.ErrNoTracks):
			return nil, huma.Error400BadRequest("offer shares no codec with the relay", err)
		case err != nil:
			return nil, huma.Error400BadRequest("preview connection failed", err)
		}
		return &models.PreviewAnswerOutput{
			ContentType: "application/sdp",
			Body:        []byte(answer),
		}, nil
	})
}
