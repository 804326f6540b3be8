package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camrelay/internal/logging"
)

// HTTPLoggingMiddleware logs each request at a level chosen from its
// outcome. Health probes and preflights only log at debug.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	status := ctx.Status()
	if status == 0 {
		status = http.StatusOK
	}
	path := ctx.URL().Path
	attrs := []slog.Attr{
		slog.String("method", ctx.Method()),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if ua := ctx.Header("User-Agent"); ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}

	level := slog.LevelInfo
	switch {
	case ctx.Method() == http.MethodOptions, path == "/api/health", strings.HasPrefix(path, "/docs"):
		level = slog.LevelDebug
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}
	logging.GetLogger("http").LogAttrs(ctx.Context(), level, "HTTP request", attrs...)
}
