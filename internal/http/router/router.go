package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/streaming-identity-core/internal/health"
	"github.com/sandeepkv93/streaming-identity-core/internal/http/middleware"
	"github.com/sandeepkv93/streaming-identity-core/internal/http/response"
)

// SessionSweeper runs one expiry sweep.
type SessionSweeper interface {
	Sweep(ctx context.Context) (bool, error)
}

// PermissionCacheFlusher drops every cached permission set.
type PermissionCacheFlusher interface {
	InvalidateAll(ctx context.Context) error
}

type Dependencies struct {
	Logger          *slog.Logger
	Readiness       *health.ProbeRunner
	Sweeper         SessionSweeper
	PermissionCache PermissionCacheFlusher
	OpsRateLimitRPM int
	EnableOTelHTTP  bool
}

// NewRouter builds the ops surface: liveness, readiness and maintenance
// triggers.
func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger(dep.Logger))
	r.Use(middleware.NewRateLimiter(dep.OpsRateLimitRPM, time.Minute, "ops").Middleware())

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/ops", func(r chi.Router) {
		if dep.Sweeper != nil {
			r.Post("/sessions/sweep", func(w http.ResponseWriter, r *http.Request) {
				changed, err := dep.Sweeper.Sweep(r.Context())
				if err != nil {
					response.Fail(w, r, err)
					return
				}
				response.JSON(w, r, http.StatusOK, map[string]bool{"changed": changed})
			})
		}
		if dep.PermissionCache != nil {
			r.Post("/cache/permissions/flush", func(w http.ResponseWriter, r *http.Request) {
				if err := dep.PermissionCache.InvalidateAll(r.Context()); err != nil {
					response.Fail(w, r, err)
					return
				}
				response.JSON(w, r, http.StatusOK, map[string]string{"status": "flushed"})
			})
		}
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
