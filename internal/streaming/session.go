package streaming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/rtsp"
	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/metrics"
)

// Session end reasons.
const (
	ReasonIdle          = "idle"
	ReasonEncoderExited = "encoder_exited"
	ReasonShutdown      = "shutdown"
)

// deliveryReportInterval bounds how often delivery errors are logged and
// published.
const deliveryReportInterval = time.Second

// Session is one encoder pipeline shared by every client of a mount.
type Session struct {
	id        string
	stream    string
	startedAt time.Time
	sink      Sink
	cancel    context.CancelFunc
	ready     chan struct{} // closed once sink or startErr is set
	startErr  error
	done      chan struct{}

	// guarded by Server.mu
	producer *rtsp.Conn

	delivered      atomic.Uint64
	deliveryErrors atomic.Uint64

	reasonOnce sync.Once
	reason     string
}

// SessionInfo describes a running session.
type SessionInfo struct {
	ID             string    `json:"id" doc:"Session id"`
	Stream         string    `json:"stream" example:"video_stream1" doc:"Stream name"`
	StartedAt      time.Time `json:"started_at" doc:"Session start time"`
	ProducerReady  bool      `json:"producer_ready" doc:"Encoder is publishing"`
	Consumers      int       `json:"consumers" doc:"Attached clients"`
	Delivered      uint64    `json:"delivered" doc:"Buffers accepted by the encoder"`
	DeliveryErrors uint64    `json:"delivery_errors" doc:"Buffers the encoder rejected"`
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Done is closed after the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// stop ends the session with reason. The first reason wins.
func (s *Session) stop(reason string) {
	s.reasonOnce.Do(func() { s.reason = reason })
	s.cancel()
}

func (s *Session) endReason() string {
	s.reasonOnce.Do(func() { s.reason = ReasonShutdown })
	return s.reason
}

// pump pulls from src at its nominal rate and pushes into the sink until
// ctx ends or the encoder exits. Pull and Push failures never stop it.
func (s *Session) pump(ctx context.Context, src Source, report func(count uint64, err error)) {
	_, _, fps := src.Geometry()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	var (
		pending    uint64
		lastErr    error
		lastReport = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.sink.Done():
			s.reasonOnce.Do(func() { s.reason = ReasonEncoderExited })
			return
		case <-ticker.C:
		}

		buf, err := src.Pull()
		if err != nil {
			if !errors.Is(err, frame.ErrNoFrame) {
				lastErr = err
				pending++
			}
		} else if err := s.sink.Push(buf); err != nil {
			s.deliveryErrors.Add(1)
			metrics.IncDeliveryError(s.stream, deliveryReason(err))
			lastErr = &DeliveryError{Mount: s.stream, Index: buf.Index, Err: err}
			pending++
		} else {
			s.delivered.Add(1)
		}

		if pending > 0 && time.Since(lastReport) >= deliveryReportInterval {
			report(pending, lastErr)
			pending, lastErr = 0, nil
			lastReport = time.Now()
		}
	}
}

func deliveryReason(err error) string {
	switch {
	case errors.Is(err, ErrBackpressure):
		return "backpressure"
	case errors.Is(err, ErrSinkClosed):
		return "closed"
	default:
		return "error"
	}
}
