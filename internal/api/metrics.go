package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/metrics"
)

// metricsInterval paces the metrics SSE stream.
var metricsInterval = time.Second

// StreamMetrics is one sample of the pipeline counters.
type StreamMetrics struct {
	Timestamp   string                          `json:"timestamp" doc:"Sample time"`
	Acquisition *capture.Stats                  `json:"acquisition,omitempty" doc:"Acquisition loop counters"`
	Encoders    map[string]metrics.EncoderStats `json:"encoders" doc:"Last encoder progress per running session"`
}

// registerMetricsRoutes samples counters for dashboards that cannot scrape
// Prometheus.
func (s *Server) registerMetricsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Stream",
		Description: "Acquisition and encoder counters sampled every second",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"metrics": StreamMetrics{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		ticker := time.NewTicker(metricsInterval)
		defer ticker.Stop()

		for {
			if err := send.Data(s.sampleMetrics()); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

func (s *Server) sampleMetrics() StreamMetrics {
	sample := StreamMetrics{
		Timestamp: nowRFC3339(),
		Encoders:  make(map[string]metrics.EncoderStats),
	}
	if s.opts.Acquisition != nil {
		stats := s.opts.Acquisition.Stats()
		sample.Acquisition = &stats
	}
	if s.opts.Media != nil {
		for _, m := range s.opts.Media.Mounts() {
			if st, ok := metrics.GetEncoderStats(m.Name); ok {
				sample.Encoders[m.Name] = st
			}
		}
	}
	return sample
}
