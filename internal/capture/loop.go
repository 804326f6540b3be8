// Package capture runs the acquisition loop that keeps the shared frame
// slot filled from a frame source.
package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/metrics"
	"github.com/smazurov/camrelay/internal/source"
)

// ErrStopped is returned by Start when Stop or ctx ended the initial open.
var ErrStopped = errors.New("acquisition loop stopped")

// State is the acquisition loop state.
type State string

// Loop states.
const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateReading State = "reading"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// StateObserver is called synchronously on every state transition.
type StateObserver func(old, new State, err error)

// ReopenObserver is called after the source was opened again. reason is
// "eof" or "error".
type ReopenObserver func(reopens uint64, reason string)

// Stats is a snapshot of the loop counters.
type Stats struct {
	Published  uint64 `json:"published"`
	Reopens    uint64 `json:"reopens"`
	ReadErrors uint64 `json:"read_errors"`
	LastError  string `json:"last_error,omitempty"`
	State      State  `json:"state"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithStateObserver registers fn for state transitions.
func WithStateObserver(fn StateObserver) Option {
	return func(l *Loop) { l.onState = fn }
}

// WithReopenObserver registers fn for successful reopens.
func WithReopenObserver(fn ReopenObserver) Option {
	return func(l *Loop) { l.onReopen = fn }
}

// WithLogger replaces the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// Loop reads frames from a source and publishes them into a slot until
// stopped. Reads, pacing and reopens happen on one goroutine; Stats, State
// and Wake may be called from anywhere.
type Loop struct {
	cfg    Config
	opener source.Opener
	slot   *frame.Slot
	logger *slog.Logger

	onState  StateObserver
	onReopen ReopenObserver

	mu      sync.Mutex
	state   State
	lastErr error
	err     error
	reader  source.Reader

	started    atomic.Bool
	published  atomic.Uint64
	reopens    atomic.Uint64
	readErrors atomic.Uint64

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a loop. Nothing runs until Start.
func New(cfg Config, opener source.Opener, slot *frame.Slot, opts ...Option) *Loop {
	if cfg.Pacing == "" {
		cfg.Pacing = PacingFixed
	}
	l := &Loop{
		cfg:    cfg,
		opener: opener,
		slot:   slot,
		logger: logging.GetLogger("capture"),
		state:  StateClosed,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start opens the source and, on success, starts reading in the
// background. A failure to open is returned as is and ends the loop in
// StateFailed without publishing anything. If the loop is stopped while
// opening, Start returns ErrStopped and the loop ends in StateStopped.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("acquisition loop already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-l.stop:
		case <-ctx.Done():
		}
		cancel()
	}()

	l.setState(StateOpening, nil)
	r, err := l.opener.Open(ctx, l.cfg.Source)
	if err != nil {
		if l.stopping(ctx) {
			cancel()
			l.setState(StateStopped, nil)
			close(l.done)
			return ErrStopped
		}
		cancel()
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		l.setState(StateFailed, err)
		close(l.done)
		return err
	}

	if !l.attach(ctx, r) {
		cancel()
		l.setState(StateStopped, nil)
		close(l.done)
		return nil
	}
	l.setState(StateReading, nil)
	l.logger.Info("Acquisition started", "source", l.cfg.Source.String(), "fps", l.cfg.FPS, "pacing", l.cfg.Pacing)

	go func() {
		defer cancel()
		l.run(ctx, r)
	}()
	return nil
}

// Stop raises the stop signal, closes the source and waits for the loop
// to exit. It is safe to call more than once and before Start.
func (l *Loop) Stop() {
	if l.started.CompareAndSwap(false, true) {
		l.setState(StateStopped, nil)
		close(l.done)
		return
	}

	l.stopOnce.Do(func() { close(l.stop) })
	// Unblocks a read in progress.
	l.detach()
	<-l.done
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that ended the loop: the initial open failure, or
// nil after a normal stop.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	s := Stats{State: l.state}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	l.mu.Unlock()

	s.Published = l.published.Load()
	s.Reopens = l.reopens.Load()
	s.ReadErrors = l.readErrors.Load()
	return s
}

// Source returns the identifier the loop reads from.
func (l *Loop) Source() source.Identifier {
	return l.cfg.Source
}

// Wake cuts a pending reopen backoff short.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context, r source.Reader) {
	defer close(l.done)
	defer l.detach()

	pace := newPacer(l.cfg.Pacing, l.cfg.FPS)
	pace.reset(time.Now())

	var (
		attempt int
		frames  int // published since the last open
		reason  string
	)
	for {
		if r == nil {
			l.setState(StateOpening, nil)
			next, err := l.opener.Open(ctx, l.cfg.Source)
			if err != nil {
				if l.stopping(ctx) {
					l.setState(StateStopped, nil)
					return
				}
				attempt++
				delay := l.cfg.Backoff.Delay(attempt)
				l.recordError(err)
				l.logger.Warn("Reopen failed, backing off", "source", l.cfg.Source.String(), "attempt", attempt, "delay", delay, "error", err)
				l.setState(StateClosed, err)
				if !l.sleep(ctx, delay, true) {
					l.setState(StateStopped, nil)
					return
				}
				continue
			}
			if !l.attach(ctx, next) {
				l.setState(StateStopped, nil)
				return
			}
			r = next
			frames = 0

			n := l.reopens.Add(1)
			metrics.IncSourceReopens()
			l.logger.Info("Source reopened", "source", l.cfg.Source.String(), "reopens", n, "reason", reason)
			if l.onReopen != nil {
				l.onReopen(n, reason)
			}
			l.setState(StateReading, nil)
			pace.reset(time.Now())
		}

		f, err := r.ReadFrame()
		if err != nil {
			l.detach()
			r = nil
			if l.stopping(ctx) {
				l.setState(StateStopped, nil)
				return
			}

			if errors.Is(err, io.EOF) {
				reason = "eof"
				l.logger.Info("Source reached end of stream", "source", l.cfg.Source.String())
				err = nil
			} else {
				reason = "error"
				l.readErrors.Add(1)
				l.recordError(err)
				l.logger.Warn("Source read failed", "source", l.cfg.Source.String(), "error", err)
			}
			metrics.IncSourceReadFailure(reason)
			l.setState(StateClosed, err)

			// A source that ends before producing anything is retried
			// like a failed open.
			if frames == 0 {
				attempt++
				delay := l.cfg.Backoff.Delay(attempt)
				l.logger.Warn("Source ended without frames, backing off", "source", l.cfg.Source.String(), "attempt", attempt, "delay", delay)
				if !l.sleep(ctx, delay, true) {
					l.setState(StateStopped, nil)
					return
				}
			}
			continue
		}

		attempt = 0
		frames++
		l.slot.Publish(f)
		l.published.Add(1)
		metrics.IncFramesPublished(float64(f.CapturedAt.UnixNano()) / 1e9)

		if !l.sleep(ctx, pace.next(time.Now()), false) {
			l.setState(StateStopped, nil)
			return
		}
	}
}

// attach records r as the open reader. It closes r and returns false if
// the loop is already stopping.
func (l *Loop) attach(ctx context.Context, r source.Reader) bool {
	l.mu.Lock()
	if l.stopping(ctx) {
		l.mu.Unlock()
		_ = r.Close()
		return false
	}
	l.reader = r
	l.mu.Unlock()
	return true
}

func (l *Loop) stopping(ctx context.Context) bool {
	select {
	case <-l.stop:
		return true
	default:
		return ctx.Err() != nil
	}
}

// detach closes the open reader, if any. Whoever detaches first closes.
func (l *Loop) detach() {
	l.mu.Lock()
	r := l.reader
	l.reader = nil
	l.mu.Unlock()

	if r == nil {
		return
	}
	if err := r.Close(); err != nil {
		l.logger.Debug("Source close reported an error", "error", err)
	}
}

// sleep waits for d. It returns false when the loop is stopping.
func (l *Loop) sleep(ctx context.Context, d time.Duration, wakeable bool) bool {
	if d <= 0 {
		return !l.stopping(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	var wake <-chan struct{}
	if wakeable {
		wake = l.wake
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	case <-timer.C:
		return true
	case <-wake:
		l.logger.Debug("Backoff interrupted by wake")
		return true
	}
}

func (l *Loop) recordError(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

func (l *Loop) setState(next State, err error) {
	l.mu.Lock()
	old := l.state
	if old == next && err == nil {
		l.mu.Unlock()
		return
	}
	l.state = next
	if err != nil {
		l.lastErr = err
	}
	l.mu.Unlock()

	metrics.SetCaptureState(string(next))
	l.logger.Debug("Acquisition state changed", "from", old, "to", next)
	if l.onState != nil {
		l.onState(old, next, err)
	}
}
