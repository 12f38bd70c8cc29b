// Package api implements the HTTP/JSON dashboard API and SSE streams from
// spec.md §6: create/cancel/remove/retry translation requests, paginated
// listing, active-count, per-request logs, reenqueue/dedupe maintenance
// triggers, media exclusion/priority/threshold toggles, an integrity
// check trigger, a provider usage snapshot, and the test-translation/
// logs SSE streams. Routed with github.com/go-chi/chi/v5 the way the
// teacher's internal/api/server.go wires its own server: RequestID/
// RealIP/Recoverer plus a zerolog request logger and CORS, on a listener
// bound ahead of Start so the port is known before serving begins.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediastate"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/requests"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/signalbus"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

// RequestsService is the subset of *requests.Service the dashboard routes
// need, narrowed so tests substitute an in-memory fake instead of a live
// Translation Request Service wired to Postgres.
type RequestsService interface {
	CreateRequest(ctx context.Context, req domain.TranslationRequest, forcePriority bool) (domain.TranslationRequest, error)
	Cancel(ctx context.Context, id int64) (domain.TranslationRequest, error)
	Remove(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64) (domain.TranslationRequest, error)
	ReenqueueQueued(ctx context.Context, includeInProgress bool) (requests.ReenqueueResult, error)
	DedupeQueuedRequests(ctx context.Context) (int, error)
	GetLogs(ctx context.Context, requestID int64) ([]domain.TranslationRequestLog, error)
	GetActiveCount(ctx context.Context) (int, error)
	List(ctx context.Context, filter store.ListFilter) ([]domain.TranslationRequest, error)
}

// Config holds server configuration.
type Config struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	DashboardUser     string
	DashboardPassword string
}

// DefaultConfig returns default server configuration. WriteTimeout is
// left at zero: the SSE endpoints hold the connection open far longer
// than any ordinary JSON response should ever take.
func DefaultConfig() *Config {
	return &Config{
		Host:        "0.0.0.0",
		Port:        8080,
		ReadTimeout: 15 * time.Second,
	}
}

// MediaStore is the media-facing slice of *store.Store the dashboard
// needs, narrowed for testability.
type MediaStore interface {
	ListMedia(ctx context.Context, limit, offset int) ([]domain.Media, error)
	GetMedia(ctx context.Context, id int64) (domain.Media, error)
	SetExcludeFromTranslation(ctx context.Context, id int64, exclude bool) error
	SetPriority(ctx context.Context, id int64, priority bool) error
	SetAgeThreshold(ctx context.Context, id int64, threshold time.Duration) error
}

// IntegrityScanner triggers an on-demand integrity re-check, backed by
// internal/maintenance.IntegritySweeper.
type IntegrityScanner interface {
	ScanCompleted(ctx context.Context) error
}

// ProviderUsage reports the cost-metered provider's current counters for
// the dashboard's usage snapshot endpoint, backed by
// internal/providers/usagegate.Gate.
type ProviderUsage interface {
	Snapshot(ctx context.Context, modelID string) (used, allowed int, paused bool, err error)
}

// Deps bundles every collaborator the API routes need.
type Deps struct {
	Requests  RequestsService
	Media     MediaStore
	State     *mediastate.Engine
	Integrity IntegrityScanner
	Usage     ProviderUsage
	Bus       *signalbus.Bus
}

// Server is the dashboard HTTP server.
type Server struct {
	router   chi.Router
	server   *http.Server
	listener net.Listener
	port     int
	logger   zerolog.Logger

	deps Deps
}

// New creates the dashboard server: binds a listener and wires the full
// route table, mirroring the teacher's NewServer/Start split so the
// bound port is known to the caller before Start is called.
func New(config *Config, deps Deps, logger zerolog.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	s := &Server{
		listener: listener,
		port:     port,
		logger:   logger.With().Str("component", "api").Logger(),
		deps:     deps,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggerMiddleware())
	r.Use(corsMiddleware())

	r.Get("/health", healthHandler)

	r.Route("/api/requests", func(r chi.Router) {
		r.Get("/", s.listRequests)
		r.Post("/", s.createRequest)
		r.Get("/active-count", s.activeCount)
		r.Post("/reenqueue", s.reenqueueQueued)
		r.Post("/dedupe", s.dedupeQueued)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/cancel", s.cancelRequest)
			r.Delete("/", s.removeRequest)
			r.Post("/retry", s.retryRequest)
			r.Get("/logs", s.requestLogs)
		})
	})

	r.Route("/api/media", func(r chi.Router) {
		r.Get("/", s.listMedia)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/exclude", s.setExclude)
			r.Post("/priority", s.setPriority)
			r.Post("/age-threshold", s.setAgeThreshold)
		})
	})

	r.Post("/api/integrity/check", s.triggerIntegrityCheck)
	r.Get("/api/provider-usage", s.providerUsage)
	r.Get("/logs/stream", s.logsStream)
	r.Get("/test-translation/start", s.testTranslationStream)

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(basicAuth(config.DashboardUser, config.DashboardPassword))
		r.Get("/*", dashboardPlaceholder)
	})

	s.router = r
	s.server = &http.Server{
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s, nil
}

// GetPort returns the port the server is listening on.
func (s *Server) GetPort() int { return s.port }

// Start begins serving requests.
func (s *Server) Start() error {
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("api server error")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.logger.Debug().Msg("shutting down api server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

var logBlacklist = []string{"/logs/stream", "/test-translation/start"}

func (s *Server) loggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			for _, suffix := range logBlacklist {
				if strings.HasSuffix(r.URL.Path, suffix) {
					return
				}
			}
			s.logger.Trace().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("http request")
		})
	}
}

func corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// basicAuth protects the dashboard route group per spec.md §6's
// Hangfire-like protected dashboard.
func basicAuth(user, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user || p != password {
				w.Header().Set("WWW-Authenticate", `Basic realm="dashboard"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "time": time.Now().Format(time.RFC3339)})
}

func dashboardPlaceholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("dashboard UI is served by an external front-end; this API only exposes its data endpoints"))
}
