package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/smazurov/camrelay/internal/ffmpeg"
	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/process"
	"github.com/smazurov/camrelay/pkg/linuxav/v4l2"
)

var networkSchemes = []string{"rtsp://", "rtsps://", "rtmp://", "http://", "https://", "udp://", "srt://"}

// FFmpegOpener decodes sources with an ffmpeg subprocess emitting raw RGBA
// frames on stdout.
type FFmpegOpener struct {
	// Width, Height and FPS size the test pattern. FPS also requests a
	// device frame rate.
	Width  int
	Height int
	FPS    float64

	LogLevel     string
	StopTimeout  time.Duration
	ProbeTimeout time.Duration
}

type target struct {
	kind  ffmpeg.InputKind
	input string
	w, h  int
}

// Open probes the source geometry and starts the decoder.
func (o *FFmpegOpener) Open(ctx context.Context, id Identifier) (Reader, error) {
	t, err := o.resolve(id)
	if err != nil {
		return nil, &OpenError{Identifier: id, Err: err}
	}

	if t.kind != ffmpeg.InputTestPattern {
		info, err := o.probe(ctx, t)
		if err != nil {
			return nil, &OpenError{Identifier: id, Err: err}
		}
		t.w, t.h = info.Width, info.Height
	}

	params := &ffmpeg.DecodeParams{
		Kind:     t.kind,
		Input:    t.input,
		Width:    t.w,
		Height:   t.h,
		LogLevel: o.LogLevel,
		Realtime: t.kind == ffmpeg.InputFile,
	}
	if t.kind == ffmpeg.InputDevice || t.kind == ffmpeg.InputTestPattern {
		params.FPS = o.FPS
	}
	if t.kind == ffmpeg.InputDevice {
		// Keep the probed mode.
		params.Width, params.Height = 0, 0
	}

	proc := process.New(process.Options{
		ID:              "decode-" + id.String(),
		Args:            ffmpeg.BuildDecodeCommand(params),
		Logger:          logging.GetLogger("source"),
		OutputLogger:    logging.GetLogger("ffmpeg"),
		LogParser:       ffmpeg.ParseLogLevel,
		RawStdout:       true,
		GracefulTimeout: o.StopTimeout,
	})
	if err := proc.Start(); err != nil {
		return nil, &OpenError{Identifier: id, Err: err}
	}

	logging.GetLogger("source").Info("Decoder started",
		"source", id.String(), "width", t.w, "height", t.h, "pid", proc.Info().PID)

	return &ffmpegReader{proc: proc, stdout: proc.Stdout(), width: t.w, height: t.h}, nil
}

// Probe reports the geometry and rate of a source without decoding it.
func (o *FFmpegOpener) Probe(ctx context.Context, id Identifier) (ffmpeg.StreamInfo, error) {
	t, err := o.resolve(id)
	if err != nil {
		return ffmpeg.StreamInfo{}, &OpenError{Identifier: id, Err: err}
	}
	if t.kind == ffmpeg.InputTestPattern {
		fps := o.FPS
		if fps <= 0 {
			fps = 30
		}
		return ffmpeg.StreamInfo{Codec: "rawvideo", Width: t.w, Height: t.h, FPS: fps}, nil
	}
	info, err := o.probe(ctx, t)
	if err != nil {
		return ffmpeg.StreamInfo{}, &OpenError{Identifier: id, Err: err}
	}
	return info, nil
}

func (o *FFmpegOpener) probe(ctx context.Context, t target) (ffmpeg.StreamInfo, error) {
	timeout := o.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := process.Output(ctx, ffmpeg.BuildProbeCommand(&ffmpeg.ProbeParams{Kind: t.kind, Input: t.input}))
	if err != nil {
		return ffmpeg.StreamInfo{}, fmt.Errorf("probe: %w", err)
	}
	return ffmpeg.ParseProbe(out)
}

func (o *FFmpegOpener) resolve(id Identifier) (target, error) {
	if id.IsDevice() {
		return resolveDevice(v4l2.DevicePath(id.Device))
	}

	w, h, isPattern, err := id.TestPatternSize()
	if err != nil {
		return target{}, err
	}
	if isPattern {
		if w == 0 {
			w, h = o.Width, o.Height
		}
		if w <= 0 || h <= 0 {
			w, h = 1280, 720
		}
		return target{kind: ffmpeg.InputTestPattern, w: w, h: h}, nil
	}

	loc := id.Location
	for _, scheme := range networkSchemes {
		if strings.HasPrefix(loc, scheme) {
			return target{kind: ffmpeg.InputNetwork, input: loc}, nil
		}
	}
	if strings.HasPrefix(loc, "/dev/video") {
		return resolveDevice(loc)
	}
	if _, err := os.Stat(loc); err != nil {
		return target{}, err
	}
	return target{kind: ffmpeg.InputFile, input: loc}, nil
}

func resolveDevice(path string) (target, error) {
	if _, err := os.Stat(path); err != nil {
		return target{}, err
	}
	ok, err := v4l2.IsCaptureDevice(path)
	if err != nil {
		return target{}, err
	}
	if !ok {
		return target{}, fmt.Errorf("%s is not a video capture device", path)
	}
	return target{kind: ffmpeg.InputDevice, input: path}, nil
}

type ffmpegReader struct {
	proc   *process.Process
	stdout io.Reader
	width  int
	height int
	seq    uint64
}

func (r *ffmpegReader) ReadFrame() (*frame.Frame, error) {
	buf := make([]byte, r.width*r.height*frame.PixelRGBA.BytesPerPixel())
	if _, err := io.ReadFull(r.stdout, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}

	f, err := frame.New(buf, r.width, r.height, frame.PixelRGBA)
	if err != nil {
		return nil, err
	}
	r.seq++
	f.Seq = r.seq
	return f, nil
}

func (r *ffmpegReader) Close() error {
	if code := r.proc.Stop(); code > 0 && code != process.ExitKilled && code != 255 {
		return fmt.Errorf("decoder exited with code %d", code)
	}
	return nil
}
