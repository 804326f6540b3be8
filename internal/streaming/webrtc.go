package streaming

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/webrtc"
	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/camrelay/internal/metrics"
)

// Attacher wires a consumer to a mount's session. *Server implements it.
type Attacher interface {
	Attach(ctx context.Context, name string, cons core.Consumer, transport, remote string, stop func()) (func(), error)
}

// WebRTCConfig holds configuration for WebRTC connections.
type WebRTCConfig struct {
	// ICEServers for STUN/TURN (empty for LAN-only)
	ICEServers []pion.ICEServer
}

type peer struct {
	stream  string
	conn    *webrtc.Conn
	release func()
}

// WebRTCManager serves mounts to browsers over WebRTC.
type WebRTCManager struct {
	server Attacher
	config WebRTCConfig
	logger *slog.Logger

	mu    sync.RWMutex
	peers map[string]*peer
}

// NewWebRTCManager creates a manager attaching peers through server.
func NewWebRTCManager(server Attacher, config WebRTCConfig, logger *slog.Logger) *WebRTCManager {
	return &WebRTCManager{
		server: server,
		config: config,
		logger: logger,
		peers:  make(map[string]*peer),
	}
}

// CreateConsumer answers a browser's SDP offer for stream. It starts the
// stream's session if no one is watching yet.
func (m *WebRTCManager) CreateConsumer(ctx context.Context, stream, offer string) (string, error) {
	api, err := NewWebRTCAPI(stream)
	if err != nil {
		return "", err
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers: m.config.ICEServers,
	})
	if err != nil {
		return "", err
	}

	conn := webrtc.NewConn(pc)
	conn.Mode = core.ModePassiveConsumer

	if err := conn.SetOffer(offer); err != nil {
		_ = pc.Close()
		return "", err
	}

	release, err := m.server.Attach(ctx, stream, conn, "webrtc", "", func() { _ = conn.Stop() })
	if err != nil {
		_ = pc.Close()
		return "", err
	}

	answer, err := conn.GetCompleteAnswer(nil, nil)
	if err != nil {
		_ = conn.Stop()
		release()
		return "", err
	}

	peerID := core.RandString(8, 10)
	m.mu.Lock()
	m.peers[peerID] = &peer{stream: stream, conn: conn, release: release}
	peerCount := len(m.peers)
	m.mu.Unlock()

	metrics.SetWebRTCPeers(peerCount)
	m.logger.Debug("WebRTC consumer created", "stream", stream, "peer_id", peerID, "total_peers", peerCount)

	conn.Listen(func(msg any) {
		state, ok := msg.(pion.PeerConnectionState)
		if !ok {
			return
		}
		switch state {
		case pion.PeerConnectionStateConnected:
			// RTCP must be read for the NACK and report interceptors to see
			// browser feedback.
			for _, sender := range pc.GetSenders() {
				go func(s *pion.RTPSender) {
					for {
						if _, _, err := s.ReadRTCP(); err != nil {
							return
						}
					}
				}(sender)
			}
		case pion.PeerConnectionStateDisconnected,
			pion.PeerConnectionStateFailed,
			pion.PeerConnectionStateClosed:
			m.remove(peerID, state.String())
		}
	})

	return answer, nil
}

func (m *WebRTCManager) remove(peerID, reason string) {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	delete(m.peers, peerID)
	remaining := len(m.peers)
	m.mu.Unlock()
	if !ok {
		return
	}

	_ = p.conn.Stop()
	p.release()
	metrics.SetWebRTCPeers(remaining)
	m.logger.Debug("WebRTC consumer disconnected", "peer_id", peerID, "stream", p.stream, "state", reason, "remaining_peers", remaining)
}

// Stop closes all peer connections.
func (m *WebRTCManager) Stop() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.remove(id, "shutdown")
	}
}

// PeerCount returns the number of active WebRTC peers.
func (m *WebRTCManager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
