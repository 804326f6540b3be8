// Package api is the HTTP control surface: health, stream listing, SSE
// event and log streams, WebRTC signalling and Prometheus metrics.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/camrelay/internal/api/models"
	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/version"
	"github.com/smazurov/camrelay/pkg/linuxav/v4l2"
)

const authRealm = `Basic realm="camrelay"`

// Server is the huma API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	opts       *Options
	logger     *slog.Logger
}

// NewServer registers every route on a fresh mux.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()
	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camrelay API", version.String())
	config.Info.Description = "Live camera relay: stream status, events and WebRTC playback"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {Type: "http", Scheme: "basic"},
	}

	s := &Server{
		api:    humago.New(mux, config),
		mux:    mux,
		opts:   opts,
		logger: logging.GetLogger("api"),
	}
	if s.opts.Devices == nil {
		s.opts.Devices = v4l2.FindDevices
	}

	s.api.UseMiddleware(NewCORSMiddleware(corsConfig))
	s.api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		s.api.UseMiddleware(s.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metricsHandler)

	s.registerRoutes()

	if opts.Frontend != nil {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				http.NotFound(w, r)
				return
			}
			opts.Frontend.ServeHTTP(w, r)
		})
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// API returns the huma API.
func (s *Server) API() huma.API {
	return s.api
}

// Serve handles requests on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP API listening", "addr", ln.Addr().String(), "docs", "/docs")
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down, dropping connections still open when ctx ends.
// SSE streams never finish on their own, so callers should bound ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Acquisition state. Responds 503 once the source has failed or stopped.",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		resp := &models.HealthResponse{Status: http.StatusOK}
		resp.Body.Status = "ok"
		if s.opts.Acquisition == nil {
			return resp, nil
		}

		stats := s.opts.Acquisition.Stats()
		resp.Body.Source = s.opts.Acquisition.Source().String()
		resp.Body.Acquisition = stats
		switch stats.State {
		case capture.StateReading:
		case capture.StateFailed, capture.StateStopped:
			resp.Body.Status = "failed"
			resp.Status = http.StatusServiceUnavailable
		default:
			resp.Body.Status = "degraded"
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Build information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{Body: models.VersionData{
			Version:   info.Version,
			GitCommit: info.GitCommit,
			BuildDate: info.BuildDate,
			GoVersion: info.GoVersion,
			Platform:  info.Platform,
		}}, nil
	})

	s.registerStreamRoutes()
	s.registerDeviceRoutes()
	s.registerWebRTCRoutes()
	s.registerMetricsRoutes()
	if s.opts.EventBus != nil {
		s.registerSSERoutes()
		s.registerLogRoutes()
	}
}

// basicAuthMiddleware checks credentials on operations that declare
// security. EventSource cannot set headers, so ?auth=<base64 user:pass>
// is accepted as well.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	reject := func(ctx huma.Context, msg string, errs ...error) {
		ctx.SetHeader("WWW-Authenticate", authRealm)
		_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		var encoded string
		if header := ctx.Header("Authorization"); header != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(header, prefix) {
				reject(ctx, "Invalid authentication type")
				return
			}
			encoded = header[len(prefix):]
		} else {
			encoded = ctx.Query("auth")
		}
		if encoded == "" {
			reject(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			reject(ctx, "Invalid credentials format", err)
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			reject(ctx, "Invalid credentials format")
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userOK || !passOK {
			reject(ctx, "Invalid credentials")
			return
		}
		next(ctx)
	}
}

func withAuth() []map[string][]string {
	return []map[string][]string{{"basicAuth": {}}}
}
