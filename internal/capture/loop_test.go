package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/source"
)

// fakeOpener hands out readers yielding perOpen frames followed by io.EOF.
// Opens after the first one fail while failReopen is set.
type fakeOpener struct {
	perOpen    int
	block      bool // readers block after their frames until closed
	openErr    error
	failReopen atomic.Bool

	opens  atomic.Int32
	mu     sync.Mutex
	closed int
}

func (o *fakeOpener) Open(_ context.Context, id source.Identifier) (source.Reader, error) {
	n := o.opens.Add(1)
	if o.openErr != nil {
		return nil, &source.OpenError{Identifier: id, Err: o.openErr}
	}
	if n > 1 && o.failReopen.Load() {
		return nil, &source.OpenError{Identifier: id, Err: errors.New("unplugged")}
	}
	return &fakeReader{opener: o, left: o.perOpen, closed: make(chan struct{})}, nil
}

func (o *fakeOpener) closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type fakeReader struct {
	opener *fakeOpener
	left   int
	seq    uint64
	once   sync.Once
	closed chan struct{}
}

func (r *fakeReader) ReadFrame() (*frame.Frame, error) {
	select {
	case <-r.closed:
		return nil, errors.New("read on closed source")
	default:
	}
	if r.left == 0 {
		if r.opener.block {
			<-r.closed
			return nil, errors.New("read on closed source")
		}
		return nil, io.EOF
	}
	r.left--
	r.seq++
	f, err := frame.New(make([]byte, 2*2*4), 2, 2, frame.PixelRGBA)
	if err != nil {
		return nil, err
	}
	f.Seq = r.seq
	return f, nil
}

func (r *fakeReader) Close() error {
	r.once.Do(func() {
		close(r.closed)
		r.opener.mu.Lock()
		r.opener.closed++
		r.opener.mu.Unlock()
	})
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func testConfig(fps float64) Config {
	return Config{
		Source:  source.Identifier{Device: -1, Location: "fake"},
		FPS:     fps,
		Backoff: BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2},
	}
}

func TestLoopInitialOpenFailure(t *testing.T) {
	slot := &frame.Slot{}
	opener := &fakeOpener{perOpen: 5, openErr: errors.New("no such device")}
	l := New(testConfig(100), opener, slot)

	err := l.Start(context.Background())
	if !errors.Is(err, source.ErrSourceOpen) {
		t.Fatalf("Start = %v, want ErrSourceOpen", err)
	}
	if l.State() != StateFailed {
		t.Errorf("state = %s, want failed", l.State())
	}
	if !errors.Is(l.Err(), source.ErrSourceOpen) {
		t.Errorf("Err = %v", l.Err())
	}
	select {
	case <-l.Done():
	default:
		t.Error("Done not closed after failed start")
	}
	if slot.Load() != nil || slot.Published() != 0 {
		t.Error("frame published after failed open")
	}
	l.Stop()
}

func TestLoopNeverReadsAfterFailedOpen(t *testing.T) {
	var states []State
	opener := &fakeOpener{openErr: errors.New("bad")}
	l := New(testConfig(100), opener, &frame.Slot{}, WithStateObserver(func(_, next State, _ error) {
		states = append(states, next)
	}))
	_ = l.Start(context.Background())

	for _, s := range states {
		if s == StateReading {
			t.Fatal("loop entered reading")
		}
	}
	if len(states) == 0 || states[len(states)-1] != StateFailed {
		t.Errorf("states = %v", states)
	}
}

func TestLoopReopensAfterEOF(t *testing.T) {
	const k = 3
	slot := &frame.Slot{}
	opener := &fakeOpener{perOpen: k}
	var reopened atomic.Uint64
	l := New(testConfig(1000), opener, slot, WithReopenObserver(func(n uint64, reason string) {
		if reason != "eof" {
			t.Errorf("reason = %q", reason)
		}
		reopened.Store(n)
	}))

	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	waitFor(t, 2*time.Second, func() bool { return slot.Published() > 2*k })

	st := l.Stats()
	if st.Reopens < 2 {
		t.Errorf("reopens = %d, want >= 2", st.Reopens)
	}
	if st.ReadErrors != 0 {
		t.Errorf("EOF counted as read error: %d", st.ReadErrors)
	}
	if reopened.Load() == 0 {
		t.Error("reopen observer not called")
	}
	if st.Published != slot.Published() {
		t.Errorf("stats published %d, slot %d", st.Published, slot.Published())
	}
}

func TestLoopStopDuringPacingSleep(t *testing.T) {
	slot := &frame.Slot{}
	opener := &fakeOpener{perOpen: 100}
	// 0.5 fps: two seconds between frames.
	l := New(testConfig(0.5), opener, slot)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return slot.Published() == 1 })

	start := time.Now()
	l.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if l.State() != StateStopped {
		t.Errorf("state = %s", l.State())
	}
	if opener.closes() != 1 {
		t.Errorf("reader closed %d times, want 1", opener.closes())
	}
	if l.Err() != nil {
		t.Errorf("Err after stop = %v", l.Err())
	}
}

func TestLoopStopUnblocksRead(t *testing.T) {
	opener := &fakeOpener{perOpen: 1, block: true}
	slot := &frame.Slot{}
	l := New(testConfig(0), opener, slot)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return slot.Published() == 1 })

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending read")
	}
	if l.State() != StateStopped {
		t.Errorf("state = %s", l.State())
	}
}

func TestLoopContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(testConfig(200), &fakeOpener{perOpen: 1000}, &frame.Slot{})
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after cancel")
	}
}

func TestLoopRetriesFailedReopen(t *testing.T) {
	slot := &frame.Slot{}
	opener := &fakeOpener{perOpen: 1}
	opener.failReopen.Store(true)
	l := New(testConfig(1000), opener, slot)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	waitFor(t, 2*time.Second, func() bool { return opener.opens.Load() >= 5 })
	if l.Stats().LastError == "" {
		t.Error("reopen failure not recorded")
	}
	if slot.Published() != 1 {
		t.Errorf("published = %d, want 1", slot.Published())
	}

	opener.failReopen.Store(false)
	waitFor(t, 2*time.Second, func() bool { return slot.Published() > 1 })
	if l.State() == StateFailed {
		t.Error("reopen failures must not fail the loop")
	}
}

func TestLoopWakeCutsBackoff(t *testing.T) {
	slot := &frame.Slot{}
	opener := &fakeOpener{perOpen: 1}
	opener.failReopen.Store(true)
	cfg := testConfig(1000)
	cfg.Backoff = BackoffConfig{Initial: time.Hour, Max: time.Hour, Multiplier: 2}

	l := New(cfg, opener, slot)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	waitFor(t, time.Second, func() bool { return opener.opens.Load() == 2 })
	opener.failReopen.Store(false)
	l.Wake()
	waitFor(t, time.Second, func() bool { return slot.Published() == 2 })
}

func TestLoopStopBeforeStart(t *testing.T) {
	l := New(testConfig(30), &fakeOpener{}, &frame.Slot{})
	l.Stop()
	if l.State() != StateStopped {
		t.Errorf("state = %s", l.State())
	}
	if err := l.Start(context.Background()); err == nil {
		t.Error("Start after Stop should fail")
	}
}

func TestLoopStateSequence(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	slot := &frame.Slot{}
	l := New(testConfig(1000), &fakeOpener{perOpen: 2}, slot, WithStateObserver(func(_, next State, _ error) {
		mu.Lock()
		states = append(states, next)
		mu.Unlock()
	}))
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return l.Stats().Reopens >= 1 })
	l.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateOpening, StateReading, StateClosed, StateOpening, StateReading}
	if len(states) < len(want) {
		t.Fatalf("states = %v", states)
	}
	for i, s := range want {
		if states[i] != s {
			t.Fatalf("states = %v, want prefix %v", states, want)
		}
	}
	if states[len(states)-1] != StateStopped {
		t.Errorf("last state = %s", states[len(states)-1])
	}
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{6, 3200 * time.Millisecond},
		{7, 5 * time.Second},
		{50, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := (BackoffConfig{}).Delay(1); got != 100*time.Millisecond {
		t.Errorf("zero config Delay(1) = %v", got)
	}
}

func TestParsePacing(t *testing.T) {
	for in, want := range map[string]PacingMode{"": PacingFixed, "fixed": PacingFixed, "DRIFT": PacingDrift} {
		got, err := ParsePacing(in)
		if err != nil || got != want {
			t.Errorf("ParsePacing(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePacing("adaptive"); err == nil {
		t.Error("expected error")
	}
}

func TestPacer(t *testing.T) {
	start := time.Unix(1000, 0)

	fixed := newPacer(PacingFixed, 10)
	fixed.reset(start)
	if d := fixed.next(start.Add(50 * time.Millisecond)); d != 100*time.Millisecond {
		t.Errorf("fixed next = %v", d)
	}

	drift := newPacer(PacingDrift, 10)
	drift.reset(start)
	if d := drift.next(start.Add(30 * time.Millisecond)); d != 70*time.Millisecond {
		t.Errorf("drift first = %v", d)
	}
	if d := drift.next(start.Add(250 * time.Millisecond)); d != 0 {
		t.Errorf("drift behind = %v", d)
	}
	// More than an interval behind: timeline restarts.
	if d := drift.next(start.Add(time.Second)); d != 0 || drift.n != 0 {
		t.Errorf("drift resync = %v n=%d", d, drift.n)
	}

	if d := newPacer(PacingFixed, 0).next(start); d != 0 {
		t.Errorf("unpaced = %v", d)
	}
}

func TestLoopBacksOffOnEmptySource(t *testing.T) {
	slot := &frame.Slot{}
	opener := &fakeOpener{perOpen: 0}
	cfg := testConfig(1000)
	cfg.Backoff = BackoffConfig{Initial: 20 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2}

	l := New(cfg, opener, slot)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(110 * time.Millisecond)
	l.Stop()

	// One open up front plus at most one per backoff interval.
	opens := opener.opens.Load()
	if opens < 2 || opens > 8 {
		t.Errorf("opens in 110ms = %d, want 2..8", opens)
	}
	if slot.Published() != 0 {
		t.Errorf("published = %d", slot.Published())
	}
	if l.State() != StateStopped {
		t.Errorf("state = %s", l.State())
	}
}

func TestLoopEmptySourceBackoffCutByWake(t *testing.T) {
	opener := &fakeOpener{perOpen: 0}
	cfg := testConfig(1000)
	cfg.Backoff = BackoffConfig{Initial: time.Hour, Max: time.Hour, Multiplier: 2}

	l := New(cfg, opener, &frame.Slot{})
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop()

	time.Sleep(20 * time.Millisecond)
	if n := opener.opens.Load(); n != 1 {
		t.Fatalf("opens before wake = %d, want 1", n)
	}
	l.Wake()
	waitFor(t, time.Second, func() bool { return opener.opens.Load() == 2 })
}

// blockingOpener holds Open until ctx ends.
type blockingOpener struct {
	entered chan struct{}
}

func (o *blockingOpener) Open(ctx context.Context, id source.Identifier) (source.Reader, error) {
	close(o.entered)
	<-ctx.Done()
	return nil, &source.OpenError{Identifier: id, Err: ctx.Err()}
}

func TestLoopStopDuringInitialOpen(t *testing.T) {
	opener := &blockingOpener{entered: make(chan struct{})}
	l := New(testConfig(30), opener, &frame.Slot{})

	errc := make(chan error, 1)
	go func() { errc <- l.Start(context.Background()) }()
	<-opener.entered
	l.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrStopped) {
			t.Fatalf("Start = %v, want ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
	if l.State() != StateStopped {
		t.Errorf("state = %s, want stopped", l.State())
	}
	if l.Err() != nil {
		t.Errorf("Err = %v, want nil", l.Err())
	}
}

func TestLoopContextCanceledDuringInitialOpen(t *testing.T) {
	opener := &blockingOpener{entered: make(chan struct{})}
	l := New(testConfig(30), opener, &frame.Slot{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-opener.entered
		cancel()
	}()
	if err := l.Start(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start = %v, want ErrStopped", err)
	}
	if l.State() != StateStopped {
		t.Errorf("state = %s", l.State())
	}
}
