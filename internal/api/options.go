package api

import (
	"context"
	"net/http"

	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/source"
	"github.com/smazurov/camrelay/internal/streaming"
	"github.com/smazurov/camrelay/internal/streams"
	"github.com/smazurov/camrelay/pkg/linuxav/v4l2"
)

// Acquisition is the view of the capture loop the API reports on.
type Acquisition interface {
	Stats() capture.Stats
	Source() source.Identifier
}

// Media lists the mounts of the RTSP server.
type Media interface {
	Mounts() []streaming.MountInfo
}

// WebRTC answers browser offers.
type WebRTC interface {
	CreateConsumer(ctx context.Context, stream, offer string) (string, error)
}

// Options wires the API to the running pipeline. Nil collaborators disable
// the routes that need them.
type Options struct {
	AuthUsername string
	AuthPassword string

	Acquisition Acquisition
	Registry    *streams.Registry
	Media       Media
	WebRTC      WebRTC
	EventBus    *events.Bus

	// RTSPHost and RTSPPort build the advertised stream URLs.
	RTSPHost string
	RTSPPort int

	// Devices lists capture devices, v4l2.FindDevices when nil.
	Devices func() ([]v4l2.DeviceInfo, error)

	// MetricsHandler serves /metrics, promhttp.Handler() when nil.
	MetricsHandler http.Handler
	// Frontend serves everything outside /api.
	Frontend http.Handler
}
