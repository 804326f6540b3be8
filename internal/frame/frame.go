// Package frame holds decoded video frames and the latest-frame slot shared
// between the acquisition loop and the stream endpoints.
package frame

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoFrame is returned by pullers when nothing has been published yet.
// It is an expected condition, not a failure.
var ErrNoFrame = errors.New("no frame available")

// PixelFormat tags the memory layout of a pixel buffer.
type PixelFormat string

// Supported layouts.
const (
	PixelRGBA  PixelFormat = "rgba"
	PixelBGR24 PixelFormat = "bgr24"
	PixelI420  PixelFormat = "i420"
)

// BytesPerPixel returns the packed pixel size, or 0 for planar layouts.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelRGBA:
		return 4
	case PixelBGR24:
		return 3
	default:
		return 0
	}
}

// Frame is one decoded raster image. A frame must not be modified once it
// has been published; readers share the same Data slice.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Stride     int
	Format     PixelFormat
	Seq        uint64
	CapturedAt time.Time
}

// New wraps a packed pixel buffer. Stride is derived from the format.
func New(data []byte, width, height int, format PixelFormat) (*Frame, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported source pixel format %q", format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d", width, height)
	}
	if len(data) < width*height*bpp {
		return nil, fmt.Errorf("frame buffer too short: %d bytes for %dx%d %s", len(data), width, height, format)
	}
	return &Frame{
		Data:       data,
		Width:      width,
		Height:     height,
		Stride:     width * bpp,
		Format:     format,
		CapturedAt: time.Now(),
	}, nil
}

// Buffer is a frame prepared for the encoder: scaled, converted and stamped
// with its position on the session timeline.
type Buffer struct {
	Data     []byte
	Width    int
	Height   int
	Format   PixelFormat
	Index    uint64
	PTS      time.Duration
	Duration time.Duration
}
