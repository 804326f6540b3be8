package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// EntryCallback receives each entry after it has been stored in history.
type EntryCallback func(Entry)

// BufferHandler records into the package history buffer. The buffer and the
// callback are looked up on every record, so handlers built before Initialize
// start recording once it runs.
type BufferHandler struct {
	level  slog.Leveler
	attrs  []scopedAttr
	groups []string
}

// scopedAttr remembers the groups that were open when the attr was added.
type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

// NewBufferHandler returns a handler gated by level.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	mu.RLock()
	buf, cb := history, onEntry
	mu.RUnlock()
	if buf == nil {
		return nil
	}

	e := Entry{
		Time:    r.Time,
		Level:   levelName(r.Level),
		Module:  "app",
		Message: r.Message,
		Attrs:   make(map[string]any),
	}
	collect := func(groups []string, a slog.Attr) {
		if a.Key == "module" && len(groups) == 0 {
			e.Module = a.Value.String()
			return
		}
		flatten(e.Attrs, groups, a)
	}
	for _, sa := range h.attrs {
		collect(sa.groups, sa.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(h.groups, a)
		return true
	})

	buf.Write(e)
	if cb != nil {
		cb(e)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]scopedAttr(nil), h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, scopedAttr{groups: h.groups, attr: a})
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func flatten(dst map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		nested := append(append([]string(nil), groups...), a.Key)
		for _, ga := range a.Value.Group() {
			flatten(dst, nested, ga)
		}
	case slog.KindTime:
		dst[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		dst[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			dst[key] = err.Error()
			return
		}
		dst[key] = a.Value.Any()
	default:
		dst[key] = a.Value.Any()
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
