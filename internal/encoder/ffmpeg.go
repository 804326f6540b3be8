// Package encoder runs the per-session ffmpeg H.264 encoders that publish
// raw frames back into the RTSP server.
package encoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/camrelay/internal/ffmpeg"
	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/metrics"
	"github.com/smazurov/camrelay/internal/process"
	"github.com/smazurov/camrelay/internal/streaming"
)

// FFmpeg starts one libx264 process per session, fed with I420 frames on
// stdin.
type FFmpeg struct {
	Preset     string // default "ultrafast"
	Tune       string // default "zerolatency"
	GOP        int    // 0 = two seconds of frames
	Bitrate    string
	QueueDepth int // buffers waiting for stdin, default 2
	LogLevel   string

	StopTimeout time.Duration
}

// Start launches an encoder publishing to target.
func (e *FFmpeg) Start(ctx context.Context, target string, width, height int, fps float64) (streaming.Sink, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return nil, fmt.Errorf("invalid encoder geometry %dx%d@%g", width, height, fps)
	}
	name := streamName(target)
	logger := logging.GetLogger("encoder").With("stream", name)

	preset := e.Preset
	if preset == "" {
		preset = "ultrafast"
	}
	tune := e.Tune
	if tune == "" {
		tune = "zerolatency"
	}
	depth := e.QueueDepth
	if depth <= 0 {
		depth = 2
	}

	args := ffmpeg.BuildEncodeCommand(&ffmpeg.EncodeParams{
		Width:     width,
		Height:    height,
		FPS:       fps,
		Preset:    preset,
		Tune:      tune,
		GOP:       e.GOP,
		Bitrate:   e.Bitrate,
		OutputURL: target,
		Progress:  true,
		LogLevel:  e.LogLevel,
	})

	progress := &ffmpeg.ProgressParser{OnUpdate: func(p ffmpeg.Progress) {
		metrics.SetEncoderStats(name, metrics.EncoderStats{
			Frames:     p.Frame,
			FPS:        p.FPS,
			Dropped:    p.Dropped,
			Duplicated: p.Dups,
			Speed:      p.Speed,
		})
	}}

	proc := process.New(process.Options{
		ID:              "encode-" + name,
		Args:            args,
		Logger:          logging.GetLogger("encoder"),
		OutputLogger:    logging.GetLogger("ffmpeg"),
		LogParser:       ffmpeg.ParseLogLevel,
		OutputHandler:   progress,
		Stdin:           true,
		GracefulTimeout: e.StopTimeout,
	})
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start encoder for %s: %w", name, err)
	}
	logger.Info("Encoder started", "width", width, "height", height, "fps", fps, "preset", preset, "pid", proc.Info().PID)
	logger.Debug("Encoder command", "command", ffmpeg.CommandString(args))

	s := &sink{
		name:      name,
		proc:      proc,
		stdin:     proc.Stdin(),
		frameSize: frame.I420Size(width, height),
		queue:     make(chan *frame.Buffer, depth),
		closing:   make(chan struct{}),
		logger:    logger,
	}
	go s.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-proc.Done():
			if !s.isClosed() {
				logger.Warn("Encoder exited", "exit_code", proc.Wait())
			}
		}
	}()
	return s, nil
}

// streamName returns the mount name of an rtsp://host:port/name target.
func streamName(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Path == "" {
		return target
	}
	return strings.Trim(u.Path, "/")
}

type sink struct {
	name      string
	proc      *process.Process
	stdin     io.WriteCloser
	frameSize int
	queue     chan *frame.Buffer
	logger    *slog.Logger

	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

// Push queues buf for the encoder without blocking.
func (s *sink) Push(buf *frame.Buffer) error {
	if buf == nil || len(buf.Data) != s.frameSize {
		return fmt.Errorf("buffer does not match encoder geometry (%d bytes expected)", s.frameSize)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return streaming.ErrSinkClosed
	}
	select {
	case <-s.proc.Done():
		return streaming.ErrSinkClosed
	default:
	}

	select {
	case s.queue <- buf:
		return nil
	default:
		return streaming.ErrBackpressure
	}
}

func (s *sink) writeLoop() {
	for {
		select {
		case <-s.closing:
			return
		case <-s.proc.Done():
			return
		case buf := <-s.queue:
			if _, err := s.stdin.Write(buf.Data); err != nil {
				if !s.isClosed() {
					s.logger.Warn("Failed to write frame to encoder", "index", buf.Index, "error", err)
				}
				return
			}
		}
	}
}

func (s *sink) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Done is closed when the encoder process has exited.
func (s *sink) Done() <-chan struct{} {
	return s.proc.Done()
}

// Close stops the encoder and waits for it to exit.
func (s *sink) Close() error {
	var code int
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.closing)
		s.mu.Unlock()

		code = s.proc.Stop()
		s.logger.Info("Encoder stopped", "exit_code", code)
	})
	// SIGINT makes ffmpeg exit with 255.
	if code > 0 && code != 255 && code != process.ExitKilled {
		return fmt.Errorf("encoder for %s exited with code %d", s.name, code)
	}
	return nil
}
