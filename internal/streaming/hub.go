package streaming

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/h264"
	"github.com/AlexxIT/go2rtc/pkg/rtsp"
	"github.com/AlexxIT/go2rtc/pkg/webrtc"
	"github.com/pion/rtp"
	"github.com/smazurov/camrelay/internal/metrics"
)

// Hub tracks the RTSP producers (encoders publishing via ANNOUNCE) by
// stream name and wires consumers to their tracks.
type Hub struct {
	mu        sync.RWMutex
	producers map[string]*rtsp.Conn
	waiters   map[string]chan struct{}
	closed    bool
	logger    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		producers: make(map[string]*rtsp.Conn),
		waiters:   make(map[string]chan struct{}),
		logger:    logger,
	}
}

// AddProducer registers conn as the producer of name, replacing and
// stopping any previous one, and wakes WaitProducer callers.
func (h *Hub) AddProducer(name string, conn *rtsp.Conn) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Stop()
		return
	}
	if existing, ok := h.producers[name]; ok && existing != conn {
		h.logger.Info("Replacing existing producer", "stream", name)
		_ = existing.Stop()
	}
	h.producers[name] = conn
	if ch, ok := h.waiters[name]; ok {
		close(ch)
		delete(h.waiters, name)
	}
	h.mu.Unlock()

	h.logger.Info("Producer added", "stream", name)
}

// RemoveProducer removes the producer of name. With a non-nil conn only
// that connection is removed, so a late disconnect cannot drop its
// replacement.
func (h *Hub) RemoveProducer(name string, conn *rtsp.Conn) {
	h.mu.Lock()
	prod, ok := h.producers[name]
	if !ok || (conn != nil && prod != conn) {
		h.mu.Unlock()
		return
	}
	delete(h.producers, name)
	h.mu.Unlock()

	_ = prod.Stop()
	h.logger.Info("Producer removed", "stream", name)
}

// GetProducer returns the producer of name, or nil.
func (h *Hub) GetProducer(name string) *rtsp.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.producers[name]
}

// HasProducer reports whether name has a producer.
func (h *Hub) HasProducer(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.producers[name]
	return ok
}

// WaitProducer blocks until name has a producer, ctx ends or the hub stops.
func (h *Hub) WaitProducer(ctx context.Context, name string) (*rtsp.Conn, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, net.ErrClosed
		}
		if prod, ok := h.producers[name]; ok {
			h.mu.Unlock()
			return prod, nil
		}
		ch, ok := h.waiters[name]
		if !ok {
			ch = make(chan struct{})
			h.waiters[name] = ch
		}
		h.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WireConsumer connects cons to the tracks of name's producer.
func (h *Hub) WireConsumer(name string, cons core.Consumer) error {
	prod := h.GetProducer(name)
	if prod == nil {
		return ErrStreamNotFound
	}

	consumerMedias := cons.GetMedias()

	// RTSP playback: the consumer takes every producer track as is.
	if len(consumerMedias) == 0 {
		for _, receiver := range prod.Receivers {
			media := &core.Media{
				Kind:      core.GetKind(receiver.Codec.Name),
				Direction: core.DirectionRecvonly,
				Codecs:    []*core.Codec{receiver.Codec},
			}
			if err := cons.AddTrack(media, receiver.Codec, receiver); err != nil {
				h.logger.Warn("Failed to add track", "stream", name, "error", err)
			}
		}
		return nil
	}

	webrtcConn, isWebRTC := cons.(*webrtc.Conn)

	for _, receiver := range prod.Receivers {
		media, codec := matchMedia(consumerMedias, receiver.Codec)
		if codec == nil {
			h.logger.Warn("No matching codec", "stream", name, "codec", receiver.Codec.Name)
			continue
		}

		var sendersBefore int
		if isWebRTC {
			sendersBefore = len(webrtcConn.Senders)
		}
		if err := cons.AddTrack(media, codec, receiver); err != nil {
			h.logger.Warn("Failed to add track", "stream", name, "error", err)
			continue
		}

		// Forward H.264 RTP without repacketizing; parameter sets are
		// re-sent before keyframes for late joiners.
		if isWebRTC && receiver.Codec.IsRTP() && receiver.Codec.Name == core.CodecH264 &&
			len(webrtcConn.Senders) > sendersBefore {
			sender := webrtcConn.Senders[len(webrtcConn.Senders)-1]
			track := webrtcConn.GetSenderTrack(media.ID)
			if track == nil {
				continue
			}
			pt := codec.PayloadType
			sps, pps := h264.GetParameterSet(receiver.Codec.FmtpLine)
			inj := newParameterSetInjector(sps, pps, pt, func(pkt *rtp.Packet) {
				size := pkt.MarshalSize()
				webrtcConn.Send += size
				metrics.AddWebRTCSent(name, size)
				_ = track.WriteRTP(pt, pkt)
			})
			sender.Handler = inj.handle
		}
	}

	return nil
}

func matchMedia(medias []*core.Media, codec *core.Codec) (*core.Media, *core.Codec) {
	kind := core.GetKind(codec.Name)
	for _, m := range medias {
		if m.Kind != kind || m.Direction != core.DirectionSendonly {
			continue
		}
		for _, c := range m.Codecs {
			if c.Name == codec.Name {
				return m, c
			}
		}
		return m, nil
	}
	return nil, nil
}

// ListStreams returns the names that currently have a producer.
func (h *Hub) ListStreams() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.producers))
	for name := range h.producers {
		names = append(names, name)
	}
	return names
}

// Stop closes every producer and releases waiters.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for name, conn := range h.producers {
		_ = conn.Stop()
		delete(h.producers, name)
	}
	for name, ch := range h.waiters {
		close(ch)
		delete(h.waiters, name)
	}
	h.logger.Info("Hub stopped")
}
