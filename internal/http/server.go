// Package http serves the gasto JSON API.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gasto/internal/cache"
	"gasto/internal/core"
	applog "gasto/internal/log"
	"gasto/internal/middleware/ratelimit"
	"gasto/internal/middleware/security"
	"gasto/internal/middleware/trace"
	"gasto/internal/services"
)

const (
	summaryCacheSize = 24
	summaryCacheTTL  = 5 * time.Minute
	maxBodyBytes     = 64 << 10
)

// SyncService is the part of the sync coordinator the API exposes
type SyncService interface {
	Sync(ctx context.Context) (services.SyncReport, error)
	Status(ctx context.Context) (services.SyncStatus, error)
}

// Deps are the services behind the API. Ready may be nil.
type Deps struct {
	Categories *services.CategoryRepository
	Expenses   *services.EntryRepository
	Incomes    *services.EntryRepository
	Summary    *services.SummaryService
	Sync       SyncService
	Ready      func(ctx context.Context) error
	Logger     *applog.Logger
	// Now defaults to time.Now; it picks the default summary month
	Now func() time.Time
}

type Server struct {
	http.Server
	deps Deps

	limiter   *ratelimit.Limiter
	tracer    *trace.Middleware
	ips       *security.ClientIPResolver
	summaries *cache.LRUCache[core.MonthSummary]
	janitor   *cache.Janitor

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{
		deps:      deps,
		limiter:   ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		tracer:    trace.NewMiddleware(),
		ips:       security.NewClientIPResolver(),
		summaries: cache.NewLRUCache[core.MonthSummary](summaryCacheSize, summaryCacheTTL),
	}
	s.janitor = cache.NewJanitor(s.summaries)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.Handle("POST /api/categories", s.limited(s.handleCreateCategory))
	mux.Handle("PATCH /api/categories/{id}", s.limited(s.handleUpdateCategory))
	mux.Handle("DELETE /api/categories/{id}", s.limited(s.handleDeleteCategory))

	s.entryRoutes(mux, "/api/expenses", deps.Expenses)
	s.entryRoutes(mux, "/api/incomes", deps.Incomes)

	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)
	mux.Handle("POST /api/sync", s.limited(s.handleSync))

	var handler http.Handler = mux
	handler = applog.AccessLog(s.ips.ClientIP)(handler)
	handler = s.tracer.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = applog.Middleware(deps.Logger.WithComponent(applog.ComponentHTTP))(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) entryRoutes(mux *http.ServeMux, base string, repo *services.EntryRepository) {
	h := &entryHandlers{server: s, repo: repo}
	mux.HandleFunc("GET "+base, h.list)
	mux.Handle("POST "+base, s.limited(h.create))
	mux.HandleFunc("GET "+base+"/{id}", h.get)
	mux.Handle("PATCH "+base+"/{id}", s.limited(h.update))
	mux.Handle("DELETE "+base+"/{id}", s.limited(h.delete))
}

// limited applies the per-client rate limit to a mutating handler.
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	return s.limiter.Middleware(s.ips.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, s.ips.ClientIP(r),
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)
		writeError(w, http.StatusTooManyRequests, msgRateLimited)
	})(h)
}

// RunJanitor sweeps expired summaries until ctx ends.
func (s *Server) RunJanitor(ctx context.Context) error {
	return s.janitor.Run(ctx, summaryCacheTTL)
}

// Shutdown stops background helpers and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// invalidate drops cached summaries after any write.
func (s *Server) invalidate(ctx context.Context) {
	if s.summaries.Size() > 0 {
		s.summaries.Clear()
		slog.DebugContext(ctx, "Summary cache cleared")
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			applog.FromContext(ctx).ErrorContext(ctx, "Readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
