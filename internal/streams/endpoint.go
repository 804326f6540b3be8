// Package streams turns the shared frame slot into per-mount endpoints that
// the media server pulls encoder-ready buffers from.
package streams

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/metrics"
)

// EndpointConfig is the output geometry and rate of one stream.
type EndpointConfig struct {
	Width  int     `json:"width" example:"1280" doc:"Output width in pixels"`
	Height int     `json:"height" example:"720" doc:"Output height in pixels"`
	FPS    float64 `json:"fps" example:"30" doc:"Nominal frame rate"`
}

// Validate checks that the geometry can be encoded as 4:2:0.
func (c EndpointConfig) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: size %dx%d must be positive", ErrInvalidConfig, c.Width, c.Height)
	case c.Width%2 != 0 || c.Height%2 != 0:
		return fmt.Errorf("%w: size %dx%d must be even", ErrInvalidConfig, c.Width, c.Height)
	case c.FPS <= 0:
		return fmt.Errorf("%w: fps %v must be positive", ErrInvalidConfig, c.FPS)
	}
	return nil
}

// FrameDuration is 1/FPS.
func (c EndpointConfig) FrameDuration() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS)
}

// Endpoint serves one mount path. Every Pull converts the latest published
// frame; the frame counter gives each session its own zero-based timeline.
type Endpoint struct {
	path string
	name string
	cfg  EndpointConfig
	slot *frame.Slot

	mu      sync.Mutex
	counter uint64

	delivered atomic.Uint64
	noFrame   atomic.Uint64
}

// NewEndpoint binds path to slot. path must start with a slash.
func NewEndpoint(path string, cfg EndpointConfig, slot *frame.Slot) (*Endpoint, error) {
	if !strings.HasPrefix(path, "/") || len(path) < 2 {
		return nil, fmt.Errorf("%w: mount path %q", ErrInvalidConfig, path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, fmt.Errorf("%w: nil frame slot", ErrInvalidConfig)
	}
	return &Endpoint{path: path, name: path[1:], cfg: cfg, slot: slot}, nil
}

// Path returns the mount path, e.g. "/video_stream1".
func (e *Endpoint) Path() string { return e.path }

// Name returns the mount path without the leading slash.
func (e *Endpoint) Name() string { return e.name }

// Config returns the output geometry.
func (e *Endpoint) Config() EndpointConfig { return e.cfg }

// Geometry returns width, height and rate.
func (e *Endpoint) Geometry() (w, h int, fps float64) {
	return e.cfg.Width, e.cfg.Height, e.cfg.FPS
}

// Pull returns the latest frame scaled and converted to I420, stamped with
// the current counter. It returns frame.ErrNoFrame without advancing the
// counter while nothing has been published. Safe for concurrent use.
func (e *Endpoint) Pull() (*frame.Buffer, error) {
	f := e.slot.Load()
	if f == nil {
		e.noFrame.Add(1)
		metrics.IncPull(e.name, metrics.PullNoFrame)
		return nil, frame.ErrNoFrame
	}

	data := frame.ToI420(frame.Scale(f, e.cfg.Width, e.cfg.Height))

	e.mu.Lock()
	idx := e.counter
	e.counter++
	e.mu.Unlock()

	e.delivered.Add(1)
	metrics.IncPull(e.name, metrics.PullDelivered)
	return &frame.Buffer{
		Data:     data,
		Width:    e.cfg.Width,
		Height:   e.cfg.Height,
		Format:   frame.PixelI420,
		Index:    idx,
		PTS:      time.Duration(float64(idx) * float64(time.Second) / e.cfg.FPS),
		Duration: e.cfg.FrameDuration(),
	}, nil
}

// Configure resets the frame counter. The media server calls it when a
// session starts on this endpoint.
func (e *Endpoint) Configure() {
	e.mu.Lock()
	e.counter = 0
	e.mu.Unlock()
}

// Counter returns the index the next delivered buffer will carry.
func (e *Endpoint) Counter() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

// PullStats counts pulls since start.
type PullStats struct {
	Delivered uint64 `json:"delivered" doc:"Buffers handed to the encoder"`
	NoFrame   uint64 `json:"no_frame" doc:"Pulls that found the slot empty"`
	Counter   uint64 `json:"counter" doc:"Position on the current session timeline"`
}

// Stats returns the pull counters.
func (e *Endpoint) Stats() PullStats {
	return PullStats{
		Delivered: e.delivered.Load(),
		NoFrame:   e.noFrame.Load(),
		Counter:   e.Counter(),
	}
}
