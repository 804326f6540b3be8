package ffmpeg

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StreamInfo is the probed geometry and rate of a video stream.
type StreamInfo struct {
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

type probeOutput struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ErrNoVideoStream is returned when the probed input has no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// ParseProbe decodes ffprobe JSON output.
func ParseProbe(data []byte) (StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return StreamInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return StreamInfo{}, ErrNoVideoStream
	}

	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return StreamInfo{}, fmt.Errorf("invalid video geometry %dx%d", s.Width, s.Height)
	}

	fps := ParseRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = ParseRate(s.RFrameRate)
	}
	return StreamInfo{Codec: s.CodecName, Width: s.Width, Height: s.Height, FPS: fps}, nil
}

// ParseRate parses "30000/1001" or "25" style rates. Invalid input yields 0.
func ParseRate(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
