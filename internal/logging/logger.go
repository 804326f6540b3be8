package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const historySize = 1000

// Logger is satisfied by *slog.Logger. Packages that only emit logs accept
// this instead of the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config selects the output format and the per-module levels.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mu          sync.RWMutex
	current     Config
	initialized bool
	loggers     = make(map[string]*slog.Logger)
	levels      = make(map[string]*slog.LevelVar)
	rootLevel   = &slog.LevelVar{}
	history     *RingBuffer
	onEntry     EntryCallback
)

// Initialize installs the handler chain and applies cfg. Loggers handed out
// earlier keep their identity; their handlers are rebuilt so they pick up the
// journal and history outputs.
func Initialize(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	initialized = true
	if history == nil {
		history = NewRingBuffer(historySize)
	}

	rootLevel.Set(levelFor(cfg, ""))
	for module, lv := range levels {
		lv.Set(levelFor(cfg, module))
		*loggers[module] = *slog.New(newHandler(cfg.Format, lv)).With("module", module)
	}

	slog.SetDefault(slog.New(newHandler(cfg.Format, rootLevel)))
}

// Apply updates levels in place without touching handlers. Used when the
// configuration file changes while the process is running.
func Apply(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current.Level = cfg.Level
	current.Modules = cfg.Modules
	rootLevel.Set(levelFor(current, ""))
	for module, lv := range levels {
		lv.Set(levelFor(current, module))
	}
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	logger, ok := loggers[module]
	mu.RUnlock()
	if ok {
		return logger
	}

	mu.Lock()
	defer mu.Unlock()
	if logger, ok := loggers[module]; ok {
		return logger
	}

	lv := &slog.LevelVar{}
	format := "text"
	if initialized {
		lv.Set(levelFor(current, module))
		format = current.Format
	}

	logger = slog.New(newHandler(format, lv)).With("module", module)
	loggers[module] = logger
	levels[module] = lv
	return logger
}

// History returns the ring buffer holding recent entries, or nil before Initialize.
func History() *RingBuffer {
	mu.RLock()
	defer mu.RUnlock()
	return history
}

// SetEntryCallback registers fn to receive every entry written to history.
func SetEntryCallback(fn EntryCallback) {
	mu.Lock()
	defer mu.Unlock()
	onEntry = fn
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "fatal":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func levelFor(cfg Config, module string) slog.Level {
	level, _ := ParseLevel(cfg.Level)
	if module == "" {
		return level
	}
	if name, ok := cfg.Modules[module]; ok {
		if override, valid := ParseLevel(name); valid {
			return override
		}
	}
	return level
}

func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	if format == "json" {
		console = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		console = slog.NewTextHandler(os.Stdout, opts)
	}

	var outputs []slog.Handler
	if stdoutAttached() {
		outputs = append(outputs, console)
	}
	if JournalAvailable() {
		outputs = append(outputs, NewJournalHandler(level))
	}
	outputs = append(outputs, NewBufferHandler(level))

	if len(outputs) == 1 {
		return outputs[0]
	}
	return NewMultiHandler(outputs...)
}

// stdoutAttached is false when stdout points at /dev/null or is closed.
func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}
