package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pull results.
const (
	PullDelivered = "delivered"
	PullNoFrame   = "no_frame"
)

var (
	endpointPulls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "endpoint",
		Name:      "pulls_total",
		Help:      "Endpoint pulls by result",
	}, []string{"stream", "result"})

	deliveryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "endpoint",
		Name:      "delivery_errors_total",
		Help:      "Buffers the encoder did not accept",
	}, []string{"stream", "reason"})

	sessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "Whether an encoder session is running for the stream",
	}, []string{"stream"})

	sessionConsumers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "consumers",
		Help:      "Clients attached to the stream",
	}, []string{"stream"})

	encoderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Encoding rate reported by ffmpeg",
	}, []string{"stream"})

	encoderDropped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "dropped_frames",
		Help:      "Frames dropped by the encoder in the current session",
	}, []string{"stream"})

	encoderDuplicated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "duplicate_frames",
		Help:      "Frames duplicated by the encoder in the current session",
	}, []string{"stream"})

	encoderSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "speed",
		Help:      "Encoder speed relative to real time",
	}, []string{"stream"})

	encoderCache   = make(map[string]EncoderStats)
	encoderCacheMu sync.RWMutex
)

// EncoderStats is the last progress report of a stream's encoder.
type EncoderStats struct {
	Frames     int64   `json:"frames"`
	FPS        float64 `json:"fps"`
	Dropped    int64   `json:"dropped"`
	Duplicated int64   `json:"duplicated"`
	Speed      float64 `json:"speed"`
}

// IncPull counts one endpoint pull with the given result.
func IncPull(stream, result string) {
	endpointPulls.WithLabelValues(stream, result).Inc()
}

// IncDeliveryError counts a buffer rejected by the encoder.
func IncDeliveryError(stream, reason string) {
	deliveryErrors.WithLabelValues(stream, reason).Inc()
}

// SetSessionActive flags whether stream has a running encoder session.
func SetSessionActive(stream string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	sessionsActive.WithLabelValues(stream).Set(v)
}

// SetSessionConsumers records the number of attached clients.
func SetSessionConsumers(stream string, n int) {
	sessionConsumers.WithLabelValues(stream).Set(float64(n))
}

// SetEncoderStats publishes an encoder progress report.
func SetEncoderStats(stream string, s EncoderStats) {
	encoderFPS.WithLabelValues(stream).Set(s.FPS)
	encoderDropped.WithLabelValues(stream).Set(float64(s.Dropped))
	encoderDuplicated.WithLabelValues(stream).Set(float64(s.Duplicated))
	encoderSpeed.WithLabelValues(stream).Set(s.Speed)

	encoderCacheMu.Lock()
	encoderCache[stream] = s
	encoderCacheMu.Unlock()
}

// DeleteEncoderStats removes the encoder series of a stream whose session ended.
func DeleteEncoderStats(stream string) {
	encoderFPS.DeleteLabelValues(stream)
	encoderDropped.DeleteLabelValues(stream)
	encoderDuplicated.DeleteLabelValues(stream)
	encoderSpeed.DeleteLabelValues(stream)

	encoderCacheMu.Lock()
	delete(encoderCache, stream)
	encoderCacheMu.Unlock()
}

// GetEncoderStats returns the last report for stream.
func GetEncoderStats(stream string) (EncoderStats, bool) {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	s, ok := encoderCache[stream]
	return s, ok
}
