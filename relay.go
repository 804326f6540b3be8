package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/camrelay/internal/api"
	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/config"
	"github.com/smazurov/camrelay/internal/encoder"
	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/hostaddr"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/source"
	"github.com/smazurov/camrelay/internal/streaming"
	"github.com/smazurov/camrelay/internal/streams"
	"github.com/smazurov/camrelay/ui"
)

// relay owns the running pipeline: one acquisition loop filling the slot,
// the endpoints reading it and the servers publishing them.
type relay struct {
	opts   *Options
	bus    *events.Bus
	logger *slog.Logger

	source source.Identifier
	slot   *frame.Slot

	loop     *capture.Loop
	registry *streams.Registry
	media    *streaming.Server
	webrtc   *streaming.WebRTCManager
	api      *api.Server

	stopOnce sync.Once
}

// newRelay validates opts and builds every component without starting
// anything.
func newRelay(opts *Options, bus *events.Bus) (*relay, error) {
	id, err := source.ParseIdentifier(opts.Video)
	if err != nil {
		return nil, fmt.Errorf("video: %w", err)
	}
	pacing, err := capture.ParsePacing(opts.Pacing)
	if err != nil {
		return nil, err
	}
	producerTimeout, err := positiveDuration("producer-timeout", opts.ProducerTimeout)
	if err != nil {
		return nil, err
	}
	idleTimeout, err := positiveDuration("idle-timeout", opts.IdleTimeout)
	if err != nil {
		return nil, err
	}
	if err := checkPort("port", opts.Port, false); err != nil {
		return nil, err
	}
	if err := checkPort("http-port", opts.HTTPPort, true); err != nil {
		return nil, err
	}
	if opts.QueueDepth < 0 || opts.GOP < 0 {
		return nil, errors.New("encoder queue-depth and gop must not be negative")
	}

	endpoint := streams.EndpointConfig{
		Width:  opts.ImageWidth,
		Height: opts.ImageHeight,
		FPS:    float64(opts.FPS),
	}
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}

	r := &relay{
		opts:   opts,
		bus:    bus,
		logger: logging.GetLogger("main"),
		source: id,
		slot:   &frame.Slot{},
	}

	opener := &source.FFmpegOpener{
		Width:  opts.ImageWidth,
		Height: opts.ImageHeight,
		FPS:    endpoint.FPS,
	}
	r.loop = capture.New(capture.Config{
		Source:  id,
		FPS:     endpoint.FPS,
		Pacing:  pacing,
		Backoff: capture.DefaultBackoff(),
	}, opener, r.slot,
		capture.WithStateObserver(r.onStateChange),
		capture.WithReopenObserver(r.onReopen),
	)

	r.registry, err = streams.NewRegistry(opts.StreamCount, endpoint, r.slot)
	if err != nil {
		return nil, err
	}

	enc := &encoder.FFmpeg{
		Preset:     opts.Preset,
		Tune:       opts.Tune,
		GOP:        opts.GOP,
		QueueDepth: opts.QueueDepth,
	}
	r.media = streaming.NewServer(streaming.Config{
		ListenAddr:      ":" + strconv.Itoa(opts.Port),
		ProducerTimeout: producerTimeout,
		IdleTimeout:     idleTimeout,
	}, enc, streaming.WithEvents(bus))
	if err := r.registry.Register(r.media); err != nil {
		return nil, err
	}

	r.webrtc = streaming.NewWebRTCManager(r.media, streaming.WebRTCConfig{}, logging.GetLogger("webrtc"))

	if opts.HTTPPort > 0 {
		r.api = api.NewServer(&api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Acquisition:  r.loop,
			Registry:     r.registry,
			Media:        r.media,
			WebRTC:       r.webrtc,
			EventBus:     bus,
			RTSPHost:     r.advertisedHost(),
			RTSPPort:     opts.Port,
			Frontend:     ui.Handler(),
		})
	}
	return r, nil
}

// start binds the RTSP listener, opens the source and brings up the HTTP
// API. Any error is fatal to the process.
func (r *relay) start(ctx context.Context) error {
	if err := r.media.Start(); err != nil {
		return fmt.Errorf("start rtsp server: %w", err)
	}

	switch err := r.loop.Start(ctx); {
	case errors.Is(err, capture.ErrStopped):
		r.logger.Info("Stopped while opening source", "source", r.source.String())
		return nil
	case err != nil:
		return fmt.Errorf("open %s: %w", r.source, err)
	}

	for _, u := range r.registry.URLs(r.advertisedHost(), r.opts.Port) {
		fmt.Println(u)
	}
	r.logger.Info("Relay running", "source", r.source.String(), "streams", r.opts.StreamCount,
		"size", fmt.Sprintf("%dx%d", r.opts.ImageWidth, r.opts.ImageHeight), "fps", r.opts.FPS)

	if r.api != nil {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(r.opts.HTTPPort))
		if err != nil {
			return fmt.Errorf("listen http: %w", err)
		}
		go func() {
			if err := r.api.Serve(ln); err != nil {
				r.logger.Error("HTTP server failed", "error", err)
			}
		}()
	}

	r.watchHotplug(ctx)
	return nil
}

// stop tears down in reverse order: no new HTTP requests, no new peers,
// no sessions, then the source.
func (r *relay) stop() {
	r.stopOnce.Do(func() {
		if r.api != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.api.Stop(ctx); err != nil {
				r.logger.Error("Error stopping HTTP server", "error", err)
			}
			cancel()
		}
		r.webrtc.Stop()
		if err := r.media.Stop(); err != nil {
			r.logger.Error("Error stopping RTSP server", "error", err)
		}
		r.loop.Stop()
	})
}

// watchConfig hot-reloads the [logging] table of path.
func (r *relay) watchConfig(ctx context.Context, path string) {
	w := config.NewWatcher(path, config.LoadLogging, logging.GetLogger("config"))
	w.OnReload(func(cfg logging.Config) {
		logging.Apply(cfg)
		r.logger.Info("Logging levels reloaded", "level", cfg.Level)
	})
	if err := w.Start(ctx); err != nil {
		r.logger.Warn("Config file will not be watched", "path", path, "error", err)
	}
}

func (r *relay) advertisedHost() string {
	return hostaddr.Resolve(r.opts.Host)
}

func (r *relay) onStateChange(old, next capture.State, err error) {
	ev := events.AcquisitionStateChangedEvent{
		Source:    r.source.String(),
		OldState:  string(old),
		NewState:  string(next),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.bus.Publish(ev)
}

func (r *relay) onReopen(reopens uint64, reason string) {
	r.bus.Publish(events.SourceReopenedEvent{
		Source:    r.source.String(),
		Reopens:   reopens,
		Reason:    reason,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: %s must be positive", name, value)
	}
	return d, nil
}

func checkPort(name string, port int, zeroOK bool) error {
	if port == 0 && zeroOK {
		return nil
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: %d out of range", name, port)
	}
	return nil
}
