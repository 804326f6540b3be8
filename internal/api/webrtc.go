package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camrelay/internal/api/models"
	"github.com/smazurov/camrelay/internal/streaming"
)

func (s *Server) registerWebRTCRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "webrtc-offer",
		Method:      http.MethodPost,
		Path:        "/api/webrtc",
		Summary:     "WebRTC Offer",
		Description: "Exchange an SDP offer for an answer playing the stream. Starts the stream's encoder if it is idle.",
		Tags:        []string{"streams"},
		Errors:      []int{400, 401, 404, 503, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.WebRTCRequest) (*models.WebRTCResponse, error) {
		if s.opts.WebRTC == nil {
			return nil, huma.Error503ServiceUnavailable("WebRTC is disabled")
		}
		if input.Body.Type != "offer" {
			return nil, huma.Error400BadRequest("expected an SDP offer")
		}

		answer, err := s.opts.WebRTC.CreateConsumer(ctx, input.Stream, input.Body.SDP)
		switch {
		case err == nil:
			return &models.WebRTCResponse{Body: models.SessionDescription{Type: "answer", SDP: answer}}, nil
		case errors.Is(err, streaming.ErrStreamNotFound):
			return nil, huma.Error404NotFound("stream not found: " + input.Stream)
		case errors.Is(err, streaming.ErrProducerTimeout):
			return nil, huma.NewError(http.StatusGatewayTimeout, "stream did not start in time", err)
		default:
			s.logger.Warn("WebRTC negotiation failed", "stream", input.Stream, "error", err)
			return nil, huma.Error400BadRequest("WebRTC negotiation failed", err)
		}
	})
}
