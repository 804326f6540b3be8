package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Binaries used to build commands. Overridable from configuration.
var (
	Binary      = "ffmpeg"
	ProbeBinary = "ffprobe"
)

// RawPixelFormat is the layout the decoder emits on stdout.
const RawPixelFormat = "rgba"

func base(loglevel string) []string {
	if loglevel == "" {
		loglevel = "warning"
	}
	return []string{Binary, "-hide_banner", "-nostdin", "-loglevel", "level+" + loglevel}
}

// BuildDecodeCommand returns argv for decoding p.Input into raw RGBA frames
// written to stdout.
func BuildDecodeCommand(p *DecodeParams) []string {
	args := base(p.LogLevel)

	switch p.Kind {
	case InputTestPattern:
		w, h := p.Width, p.Height
		if w <= 0 || h <= 0 {
			w, h = 1280, 720
		}
		fps := p.FPS
		if fps <= 0 {
			fps = 30
		}
		args = append(args, "-re", "-f", "lavfi",
			"-i", fmt.Sprintf("testsrc2=size=%dx%d:rate=%s", w, h, formatRate(fps)))
	case InputDevice:
		args = append(args, "-f", "v4l2")
		if p.Width > 0 && p.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height))
		}
		if p.FPS > 0 {
			args = append(args, "-framerate", formatRate(p.FPS))
		}
		args = append(args, "-i", p.Input)
	case InputNetwork:
		if strings.HasPrefix(p.Input, "rtsp://") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		args = append(args, "-i", p.Input)
	default:
		if p.Realtime {
			args = append(args, "-re")
		}
		args = append(args, "-i", p.Input)
	}

	return append(args,
		"-map", "0:v:0", "-an", "-sn", "-dn",
		"-f", "rawvideo", "-pix_fmt", RawPixelFormat,
		"pipe:1")
}

// BuildEncodeCommand returns argv for encoding yuv420p frames read from
// stdin and publishing them over RTSP.
func BuildEncodeCommand(p *EncodeParams) []string {
	encoder := p.Encoder
	if encoder == "" {
		encoder = "libx264"
	}
	gop := p.GOP
	if gop <= 0 {
		gop = max(int(p.FPS*2), 1)
	}

	args := base(p.LogLevel)
	if p.Progress {
		args = append(args, "-progress", "pipe:1", "-stats_period", "1")
	}
	args = append(args,
		"-f", "rawvideo", "-pix_fmt", "yuv420p",
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", formatRate(p.FPS),
		"-i", "pipe:0",
		"-an",
		"-c:v", encoder,
		"-pix_fmt", "yuv420p",
	)

	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.Tune != "" {
		args = append(args, "-tune", p.Tune)
	}
	if p.Bitrate != "" {
		args = append(args, "-b:v", p.Bitrate)
	}
	args = append(args,
		"-g", strconv.Itoa(gop),
		"-bf", "0",
		"-sc_threshold", "0",
	)

	return append(args, "-rtsp_transport", "tcp", "-f", "rtsp", p.OutputURL)
}

// BuildProbeCommand returns argv for ffprobe reporting the geometry and rate
// of the first video stream as JSON.
func BuildProbeCommand(p *ProbeParams) []string {
	args := []string{ProbeBinary, "-hide_banner", "-v", "error"}
	switch p.Kind {
	case InputDevice:
		args = append(args, "-f", "v4l2")
	case InputNetwork:
		if strings.HasPrefix(p.Input, "rtsp://") {
			args = append(args, "-rtsp_transport", "tcp")
		}
	}
	return append(args,
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,codec_name",
		"-of", "json",
		p.Input)
}

// CommandString renders argv for logs, quoting arguments with spaces.
func CommandString(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			quoted[i] = strconv.Quote(a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}

func formatRate(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}
