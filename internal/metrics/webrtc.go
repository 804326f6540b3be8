package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webrtcPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webrtc",
		Name:      "packets_sent_total",
		Help:      "RTP packets sent to WebRTC peers",
	}, []string{"stream"})

	webrtcBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webrtc",
		Name:      "bytes_sent_total",
		Help:      "RTP bytes sent to WebRTC peers",
	}, []string{"stream"})

	webrtcFeedback = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webrtc",
		Name:      "rtcp_feedback_total",
		Help:      "RTCP packets received from WebRTC peers, by kind (nack counts lost packets)",
	}, []string{"stream", "kind"})

	webrtcPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "webrtc",
		Name:      "active_peers",
		Help:      "Connected WebRTC peers",
	})
)

// RTCP feedback kinds.
const (
	FeedbackRTCP = "rtcp"
	FeedbackNACK = "nack"
	FeedbackPLI  = "pli"
	FeedbackFIR  = "fir"
)

// AddWebRTCSent counts one RTP packet of size bytes sent on stream.
func AddWebRTCSent(stream string, size int) {
	webrtcPackets.WithLabelValues(stream).Inc()
	webrtcBytes.WithLabelValues(stream).Add(float64(size))
}

// AddWebRTCFeedback counts n feedback items of kind received on stream.
func AddWebRTCFeedback(stream, kind string, n int) {
	webrtcFeedback.WithLabelValues(stream, kind).Add(float64(n))
}

// SetWebRTCPeers records the number of connected peers.
func SetWebRTCPeers(n int) {
	webrtcPeers.Set(float64(n))
}
