// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/streaming"
	"github.com/smazurov/camrelay/internal/streams"
)

// Health models
type HealthData struct {
	Status      string        `json:"status" example:"ok" enum:"ok,degraded,failed" doc:"ok while frames are being read"`
	Source      string        `json:"source" example:"/dev/video0" doc:"Frame source"`
	Acquisition capture.Stats `json:"acquisition" doc:"Acquisition loop counters"`
}

type HealthResponse struct {
	Status int
	Body   HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-27T10:30:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.1" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Stream models
type StreamData struct {
	streaming.MountInfo
	URL   string            `json:"url" example:"rtsp://192.168.1.10:8554/video_stream1" doc:"RTSP URL"`
	Pulls streams.PullStats `json:"pulls" doc:"Endpoint pull counters"`
}

type StreamListData struct {
	Streams []StreamData `json:"streams" doc:"Mounted streams"`
	Count   int          `json:"count" example:"2" doc:"Number of mounts"`
}

type StreamListResponse struct {
	Body StreamListData
}

type StreamResponse struct {
	Body StreamData
}

// Device models
type DeviceData struct {
	Index      int    `json:"index" example:"0" doc:"N in /dev/videoN"`
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Device node"`
	DeviceName string `json:"device_name" example:"USB Camera" doc:"Card name reported by the driver"`
	Driver     string `json:"driver" example:"uvcvideo" doc:"Kernel driver"`
	DeviceID   string `json:"device_id" example:"usb-046d_0825-video-index0" doc:"Stable device identifier"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Video capture devices"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

// WebRTC models
type SessionDescription struct {
	Type string `json:"type" example:"offer" enum:"offer,answer" doc:"SDP type"`
	SDP  string `json:"sdp" doc:"Session description"`
}

type WebRTCRequest struct {
	Stream string `query:"stream" required:"true" example:"video_stream1" doc:"Stream name"`
	Body   SessionDescription
}

type WebRTCResponse struct {
	Body SessionDescription
}
