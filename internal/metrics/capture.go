// Package metrics exposes Prometheus metrics for the capture loop, the
// stream endpoints and the encoder sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "camrelay"

// Acquisition states exported on the state gauge.
var captureStates = []string{"closed", "opening", "reading", "stopped", "failed"}

var (
	framesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames_published_total",
		Help:      "Frames published into the shared frame slot",
	})

	sourceReopens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "source_reopens_total",
		Help:      "Times the frame source was closed and opened again",
	})

	sourceReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "source_read_failures_total",
		Help:      "Source reads that ended the current open, by reason",
	}, []string{"reason"})

	captureState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "state",
		Help:      "Current acquisition loop state (1 for the active state)",
	}, []string{"state"})

	lastFrameTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "last_frame_timestamp_seconds",
		Help:      "Unix time of the most recently published frame",
	})
)

// IncFramesPublished counts one published frame captured at unixSeconds.
func IncFramesPublished(unixSeconds float64) {
	framesPublished.Inc()
	lastFrameTime.Set(unixSeconds)
}

// IncSourceReopens counts one reopen of the frame source.
func IncSourceReopens() {
	sourceReopens.Inc()
}

// IncSourceReadFailure counts a read that ended the source ("eof" or "error").
func IncSourceReadFailure(reason string) {
	sourceReadErrors.WithLabelValues(reason).Inc()
}

// SetCaptureState marks state as the active acquisition state.
func SetCaptureState(state string) {
	for _, s := range captureStates {
		v := 0.0
		if s == state {
			v = 1
		}
		captureState.WithLabelValues(s).Set(v)
	}
}
