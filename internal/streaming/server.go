package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/rtsp"
	"github.com/google/uuid"
	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/metrics"
)

// Config configures the media server.
type Config struct {
	ListenAddr      string        // e.g. ":8554"
	ProducerTimeout time.Duration // wait for a new session's encoder to publish
	IdleTimeout     time.Duration // keep a session this long without clients
}

// Option configures a Server.
type Option func(*Server)

// WithEvents publishes session and consumer events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithLogger replaces the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

type mount struct {
	path string
	name string
	src  Source

	session   *Session
	consumers map[uint64]func()
	idle      *time.Timer
}

// MountInfo describes a mount and its current session.
type MountInfo struct {
	Path      string       `json:"path" example:"/video_stream1" doc:"Mount path"`
	Name      string       `json:"name" example:"video_stream1" doc:"Stream name"`
	Width     int          `json:"width" example:"1280" doc:"Output width"`
	Height    int          `json:"height" example:"720" doc:"Output height"`
	FPS       float64      `json:"fps" example:"30" doc:"Output rate"`
	Consumers int          `json:"consumers" doc:"Attached clients"`
	Session   *SessionInfo `json:"session,omitempty" doc:"Running session, if any"`
}

// Server accepts RTSP clients and the encoders publishing to them. Clients
// use DESCRIBE; encoders ANNOUNCE from loopback.
type Server struct {
	cfg     Config
	hub     *Hub
	encoder Encoder
	logger  *slog.Logger
	bus     *events.Bus

	mu           sync.Mutex
	mounts       map[string]*mount
	sessions     map[*Session]struct{} // every session not yet torn down
	conns        map[*rtsp.Conn]struct{}
	listener     net.Listener
	port         int
	closed       bool
	nextConsumer uint64

	wg sync.WaitGroup
}

// NewServer creates a server. Mount streams, then Start.
func NewServer(cfg Config, encoder Encoder, opts ...Option) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8554"
	}
	if cfg.ProducerTimeout <= 0 {
		cfg.ProducerTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		encoder:  encoder,
		logger:   logging.GetLogger("streaming"),
		mounts:   make(map[string]*mount),
		sessions: make(map[*Session]struct{}),
		conns:    make(map[*rtsp.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)
	return s
}

// Mount adds src at path.
func (s *Server) Mount(path string, src Source) error {
	if !strings.HasPrefix(path, "/") || len(path) < 2 {
		return fmt.Errorf("invalid mount path %q", path)
	}
	if src == nil {
		return errors.New("nil source")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	name := path[1:]
	if _, ok := s.mounts[name]; ok {
		return fmt.Errorf("path %s already mounted", path)
	}
	s.mounts[name] = &mount{path: path, name: name, src: src, consumers: make(map[uint64]func())}
	metrics.SetSessionActive(name, false)
	metrics.SetSessionConsumers(name, 0)
	s.logger.Debug("Mounted stream", "path", path)
	return nil
}

// Start listens on the configured address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.closed = false
	s.mu.Unlock()

	s.logger.Info("RTSP server started", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Hub returns the producer hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	rc := rtsp.NewServer(conn)
	if !s.track(rc) {
		_ = conn.Close()
		return
	}
	defer s.untrack(rc)

	var (
		producer string
		release  func()
	)
	defer func() {
		if release != nil {
			release()
		}
	}()

	rc.Listen(func(msg any) {
		switch msg {
		case rtsp.MethodAnnounce:
			name := streamName(rc)
			if !isLoopback(conn.RemoteAddr()) || !s.pendingSession(name) {
				s.logger.Warn("Rejected RTSP publisher", "stream", name, "remote", conn.RemoteAddr())
				_ = conn.Close()
				return
			}
			producer = name

		case rtsp.MethodDescribe:
			name := streamName(rc)
			r, err := s.Attach(context.Background(), name, rc, "rtsp", conn.RemoteAddr().String(), func() { _ = rc.Stop() })
			if err != nil {
				if errors.Is(err, ErrStreamNotFound) {
					s.logger.Info("RTSP client requested unknown stream", "path", "/"+name, "remote", conn.RemoteAddr())
				} else {
					s.logger.Warn("Failed to attach RTSP client", "stream", name, "error", err)
				}
				return
			}
			release = r
			s.logger.Info("RTSP consumer connected", "stream", name, "remote", conn.RemoteAddr())
		}
	})

	// OPTIONS, ANNOUNCE/DESCRIBE, SETUP, then RECORD/PLAY.
	if err := rc.Accept(); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("RTSP accept error", "error", err)
		}
		return
	}

	if producer != "" {
		if !s.producerReady(producer, rc) {
			_ = rc.Stop()
			return
		}
		defer s.hub.RemoveProducer(producer, rc)
	}

	if err := rc.Handle(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("RTSP handle error", "error", err)
	}

	if producer != "" {
		s.logger.Info("RTSP producer disconnected", "stream", producer)
	}
}

func (s *Server) track(rc *rtsp.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[rc] = struct{}{}
	return true
}

func (s *Server) untrack(rc *rtsp.Conn) {
	s.mu.Lock()
	delete(s.conns, rc)
	s.mu.Unlock()
}

func streamName(rc *rtsp.Conn) string {
	if rc.URL == nil || len(rc.URL.Path) < 2 {
		return ""
	}
	return strings.TrimSuffix(rc.URL.Path[1:], "/")
}

func isLoopback(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.IsLoopback()
	case nil:
		return false
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return false
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
}

// pendingSession reports whether name has a session that may publish.
func (s *Server) pendingSession(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mounts[name]
	return ok && m.session != nil
}

func (s *Server) producerReady(name string, rc *rtsp.Conn) bool {
	s.mu.Lock()
	m, ok := s.mounts[name]
	if !ok || m.session == nil {
		s.mu.Unlock()
		return false
	}
	m.session.producer = rc
	id := m.session.id
	s.mu.Unlock()

	s.hub.AddProducer(name, rc)
	s.logger.Info("RTSP producer connected", "stream", name, "session_id", id)
	return true
}

// Attach starts the mount's session if needed, waits for its encoder to
// publish and wires cons to it. stop must disconnect the consumer; it is
// called when the session ends under it. The returned release must be
// called once the consumer is gone.
func (s *Server) Attach(ctx context.Context, name string, cons core.Consumer, transport, remote string, stop func()) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, net.ErrClosed
	}
	m, ok := s.mounts[name]
	if !ok {
		s.mu.Unlock()
		return nil, ErrStreamNotFound
	}
	sess, sessCtx, starting := s.reserveSession(m)
	s.nextConsumer++
	id := s.nextConsumer
	m.consumers[id] = stop
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	s.mu.Unlock()

	if starting {
		s.startSession(sessCtx, m, sess)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProducerTimeout)
	defer cancel()
	select {
	case <-sess.ready:
	case <-ctx.Done():
		s.detach(m, id, transport, remote, false)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrProducerTimeout, name)
		}
		return nil, ctx.Err()
	}
	if sess.startErr != nil {
		s.detach(m, id, transport, remote, false)
		return nil, fmt.Errorf("start session for %s: %w", name, sess.startErr)
	}
	if _, err := s.hub.WaitProducer(ctx, name); err != nil {
		s.detach(m, id, transport, remote, false)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrProducerTimeout, name)
		}
		return nil, err
	}
	if err := s.hub.WireConsumer(name, cons); err != nil {
		s.detach(m, id, transport, remote, false)
		return nil, err
	}

	s.mu.Lock()
	count := len(m.consumers)
	s.mu.Unlock()
	metrics.SetSessionConsumers(name, count)
	s.publish(events.ConsumerAttachedEvent{
		Stream:    name,
		Transport: transport,
		Remote:    remote,
		Consumers: count,
		Timestamp: time.Now().Format(time.RFC3339),
	})

	var once sync.Once
	return func() {
		once.Do(func() { s.detach(m, id, transport, remote, true) })
	}, nil
}

func (s *Server) detach(m *mount, id uint64, transport, remote string, attached bool) {
	s.mu.Lock()
	delete(m.consumers, id)
	count := len(m.consumers)
	if count == 0 && m.session != nil && m.idle == nil {
		m.idle = time.AfterFunc(s.cfg.IdleTimeout, func() { s.idleExpired(m) })
	}
	s.mu.Unlock()

	metrics.SetSessionConsumers(m.name, count)
	if attached {
		s.logger.Info("Consumer detached", "stream", m.name, "transport", transport, "remaining", count)
		s.publish(events.ConsumerDetachedEvent{
			Stream:    m.name,
			Transport: transport,
			Remote:    remote,
			Consumers: count,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (s *Server) idleExpired(m *mount) {
	s.mu.Lock()
	m.idle = nil
	sess := m.session
	if sess == nil || len(m.consumers) > 0 {
		s.mu.Unlock()
		return
	}
	// Retire the session before unlocking so a concurrent Attach starts a
	// new one instead of joining a session about to stop.
	s.retire(m, sess)
	s.mu.Unlock()

	s.logger.Info("Stopping idle session", "stream", m.name, "session_id", sess.id)
	sess.stop(ReasonIdle)
}

// retire detaches sess from m and drops its producer from the hub. It must
// be called with s.mu held and m.session == sess.
func (s *Server) retire(m *mount, sess *Session) {
	m.session = nil
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	if sess.producer != nil {
		s.hub.RemoveProducer(m.name, sess.producer)
	}
	metrics.SetSessionActive(m.name, false)
}

// reserveSession returns the mount's session, creating an unstarted one
// if there is none. starting is true for the caller that must run
// startSession. It must be called with s.mu held.
func (s *Server) reserveSession(m *mount) (sess *Session, ctx context.Context, starting bool) {
	if m.session != nil {
		return m.session, nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess = &Session{
		id:        uuid.NewString(),
		stream:    m.name,
		startedAt: time.Now(),
		cancel:    cancel,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.session = sess
	s.sessions[sess] = struct{}{}
	return sess, ctx, true
}

// startSession resets the mount's timeline and spawns the encoder without
// holding s.mu. Waiters on sess.ready see either a sink or startErr.
func (s *Server) startSession(ctx context.Context, m *mount, sess *Session) {
	m.src.Configure()
	w, h, fps := m.src.Geometry()
	target := fmt.Sprintf("rtsp://127.0.0.1:%d/%s", s.port, m.name)

	sink, err := s.encoder.Start(ctx, target, w, h, fps)
	if err != nil {
		sess.startErr = err
		sess.cancel()
		s.mu.Lock()
		if m.session == sess {
			m.session = nil
		}
		delete(s.sessions, sess)
		s.mu.Unlock()
		close(sess.ready)
		close(sess.done)
		return
	}
	sess.sink = sink
	close(sess.ready)

	metrics.SetSessionActive(m.name, true)
	s.logger.Info("Session started", "stream", m.name, "session_id", sess.id, "width", w, "height", h, "fps", fps)
	s.publish(events.SessionStartedEvent{
		Stream:    m.name,
		SessionID: sess.id,
		Timestamp: sess.startedAt.Format(time.RFC3339),
	})

	go s.runSession(ctx, m, sess)
}

func (s *Server) runSession(ctx context.Context, m *mount, sess *Session) {
	defer close(sess.done)

	sess.pump(ctx, m.src, func(count uint64, err error) {
		s.logger.Warn("Frames not delivered", "stream", m.name, "count", count, "error", err)
		s.publish(events.DeliveryErrorEvent{
			Stream:    m.name,
			SessionID: sess.id,
			Count:     count,
			Error:     err.Error(),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	})
	reason := sess.endReason()

	// A retired session has no consumers left; those in m.consumers belong
	// to its successor.
	s.mu.Lock()
	var stops []func()
	if m.session == sess {
		s.retire(m, sess)
		for _, stop := range m.consumers {
			stops = append(stops, stop)
		}
	}
	s.mu.Unlock()

	if err := sess.sink.Close(); err != nil {
		s.logger.Debug("Encoder close reported an error", "stream", m.name, "error", err)
	}
	for _, stop := range stops {
		if stop != nil {
			stop()
		}
	}

	s.mu.Lock()
	delete(s.sessions, sess)
	if m.session == nil {
		metrics.DeleteEncoderStats(m.name)
	}
	s.mu.Unlock()

	delivered := sess.delivered.Load()
	s.logger.Info("Session stopped", "stream", m.name, "session_id", sess.id, "reason", reason, "frames", delivered)
	s.publish(events.SessionStoppedEvent{
		Stream:    m.name,
		SessionID: sess.id,
		Reason:    reason,
		Frames:    delivered,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Sessions returns the running sessions ordered by stream.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SessionInfo, 0, len(s.mounts))
	for _, m := range s.mounts {
		if m.session != nil {
			out = append(out, sessionInfo(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// Mounts returns every mount ordered by path.
func (s *Server) Mounts() []MountInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MountInfo, 0, len(s.mounts))
	for _, m := range s.mounts {
		w, h, fps := m.src.Geometry()
		info := MountInfo{
			Path:      m.path,
			Name:      m.name,
			Width:     w,
			Height:    h,
			FPS:       fps,
			Consumers: len(m.consumers),
		}
		if m.session != nil {
			si := sessionInfo(m)
			info.Session = &si
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// sessionInfo must be called with s.mu held and m.session set.
func sessionInfo(m *mount) SessionInfo {
	sess := m.session
	return SessionInfo{
		ID:             sess.id,
		Stream:         m.name,
		StartedAt:      sess.startedAt,
		ProducerReady:  sess.producer != nil,
		Consumers:      len(m.consumers),
		Delivered:      sess.delivered.Load(),
		DeliveryErrors: sess.deliveryErrors.Load(),
	}
}

func (s *Server) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// Stop ends every session, closes all connections and waits for them.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	conns := make([]*rtsp.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, sess := range sessions {
		sess.stop(ReasonShutdown)
	}
	for _, sess := range sessions {
		<-sess.done
	}
	s.hub.Stop()
	for _, c := range conns {
		_ = c.Stop()
	}
	s.wg.Wait()

	s.logger.Info("RTSP server stopped")
	return err
}
