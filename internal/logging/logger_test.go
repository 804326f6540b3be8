package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func resetState() {
	mu.Lock()
	loggers = make(map[string]*slog.Logger)
	levels = make(map[string]*slog.LevelVar)
	current = Config{}
	initialized = false
	history = nil
	onEntry = nil
	mu.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"capture": "debug", "http": "warn"},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"capture", true, true, true},
		{"http", false, false, true},
		{"streaming", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			ctx := context.Background()
			if got := h.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := h.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestLoggerCachedAcrossInitialize(t *testing.T) {
	resetState()

	before := GetLogger("webrtc")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"webrtc": "debug"}})

	after := GetLogger("webrtc")
	if before != after {
		t.Error("expected the same logger before and after Initialize")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("cached logger should accept debug after Initialize")
	}
}

func TestApplyChangesLevelsInPlace(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info"})

	logger := GetLogger("capture")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be off at info level")
	}

	Apply(Config{Level: "info", Modules: map[string]string{"capture": "debug"}})
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be on after Apply")
	}

	Apply(Config{Level: "error"})
	if logger.Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be off after Apply with level=error")
	}
}

func TestHistoryRecordsEntries(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug"})

	var got []Entry
	SetEntryCallback(func(e Entry) { got = append(got, e) })

	GetLogger("capture").Warn("source reopened", "attempt", 3, "error", errors.New("eof"))

	entries := History().Snapshot()
	if len(entries) == 0 {
		t.Fatal("expected at least one history entry")
	}
	last := entries[len(entries)-1]
	if last.Module != "capture" {
		t.Errorf("module = %q, want capture", last.Module)
	}
	if last.Level != "warn" {
		t.Errorf("level = %q, want warn", last.Level)
	}
	if last.Attrs["error"] != "eof" {
		t.Errorf("error attr = %v, want eof", last.Attrs["error"])
	}
	if len(got) == 0 || got[len(got)-1].Message != "source reopened" {
		t.Errorf("callback did not receive the entry: %+v", got)
	}
}

func TestMultiHandlerWritesOncePerAcceptingHandler(t *testing.T) {
	var buf bytes.Buffer
	debug := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	info := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debug, info)).With("module", "test")
	logger.Debug("debug only")
	logger.Info("both")

	out := buf.String()
	if n := strings.Count(out, "debug only"); n != 1 {
		t.Errorf("debug message written %d times, want 1", n)
	}
	if n := strings.Count(out, "both"); n != 2 {
		t.Errorf("info message written %d times, want 2", n)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		want  slog.Level
		valid bool
	}{
		{"debug", slog.LevelDebug, true},
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{" warn ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"fatal", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.valid {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.valid)
		}
	}
}

func TestRingBufferWrapsOldestFirst(t *testing.T) {
	rb := NewRingBuffer(3)
	base := time.Unix(0, 0)
	for i := range 5 {
		rb.Write(Entry{Time: base.Add(time.Duration(i) * time.Second), Message: string(rune('a' + i))})
	}

	if rb.Len() != 3 {
		t.Fatalf("Len = %d, want 3", rb.Len())
	}
	got := rb.Snapshot()
	want := []string{"c", "d", "e"}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestBufferHandlerGroupsFlatten(t *testing.T) {
	resetState()
	Initialize(Config{Level: "debug"})

	logger := slog.New(NewBufferHandler(slog.LevelDebug)).WithGroup("session").With("id", "abc")
	logger.Info("started", slog.Group("geometry", "width", 640, "height", 480))

	entries := History().Snapshot()
	last := entries[len(entries)-1]
	if last.Attrs["session.id"] != "abc" {
		t.Errorf("session.id = %v, want abc", last.Attrs["session.id"])
	}
	if last.Attrs["session.geometry.width"] != int64(640) {
		t.Errorf("session.geometry.width = %v (%T), want 640", last.Attrs["session.geometry.width"], last.Attrs["session.geometry.width"])
	}
}
