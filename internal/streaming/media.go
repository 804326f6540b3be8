// Package streaming is the in-process media server: an RTSP listener built
// on go2rtc that starts one encoder session per watched mount, plus WebRTC
// egress for the same streams.
package streaming

import (
	"context"
	"errors"
	"fmt"

	"github.com/smazurov/camrelay/internal/frame"
)

var (
	// ErrStreamNotFound is returned for paths that are not mounted.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrProducerTimeout is returned when a session's encoder did not
	// publish in time.
	ErrProducerTimeout = errors.New("timed out waiting for stream producer")
	// ErrBackpressure is returned by Sink.Push when the encoder queue is full.
	ErrBackpressure = errors.New("encoder backpressure")
	// ErrSinkClosed is returned by Sink.Push after the encoder has stopped.
	ErrSinkClosed = errors.New("encoder closed")
)

// Source supplies raw frames for one mount on demand.
type Source interface {
	// Pull returns the next buffer or frame.ErrNoFrame.
	Pull() (*frame.Buffer, error)
	// Configure is called once when a session starts on the mount.
	Configure()
	Geometry() (w, h int, fps float64)
}

// Encoder starts an encoding pipeline publishing to target. The pipeline
// is closed when ctx ends.
type Encoder interface {
	Start(ctx context.Context, target string, w, h int, fps float64) (Sink, error)
}

// Sink accepts buffers for one session. Push must not block.
type Sink interface {
	Push(buf *frame.Buffer) error
	// Done is closed when the pipeline has exited.
	Done() <-chan struct{}
	Close() error
}

// DeliveryError reports a buffer the encoder did not accept. It never ends
// the session.
type DeliveryError struct {
	Mount string
	Index uint64
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s frame %d: %v", e.Mount, e.Index, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
