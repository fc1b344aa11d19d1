package router

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/streaming-identity-core/internal/health"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
)

type unhealthyChecker struct{}

func (unhealthyChecker) Check(ctx context.Context) health.CheckResult {
	return health.CheckResult{Name: "db", Healthy: false, Error: "db down"}
}

type stubSweeper struct {
	changed bool
	err     error
}

func (s stubSweeper) Sweep(context.Context) (bool, error) { return s.changed, s.err }

type stubFlusher struct{ calls int }

func (s *stubFlusher) InvalidateAll(context.Context) error {
	s.calls++
	return nil
}

func newRouterTestDeps() Dependencies {
	return Dependencies{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		OpsRateLimitRPM: 1000,
	}
}

func perform(r http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.10.10.10:1234"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		r := NewRouter(newRouterTestDeps())
		rr := perform(r, http.MethodGet, "/health/ready")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready status payload, got %s", rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = health.NewProbeRunner(time.Second, 0, unhealthyChecker{})
		rr := perform(NewRouter(dep), http.MethodGet, "/health/ready")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
			t.Fatalf("expected DEPENDENCY_UNREADY error envelope, got %s", rr.Body.String())
		}
	})
}

func TestRouterHealthLive(t *testing.T) {
	rr := perform(NewRouter(newRouterTestDeps()), http.MethodGet, "/health/live")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("expected health live payload, got %s", rr.Body.String())
	}
	if rr.Header().Get("X-RateLimit-Limit") != "1000" {
		t.Fatalf("expected rate limit headers, got %v", rr.Header())
	}
}

func TestRouterRateLimitsOpsTraffic(t *testing.T) {
	dep := newRouterTestDeps()
	dep.OpsRateLimitRPM = 1
	r := NewRouter(dep)

	if first := perform(r, http.MethodGet, "/health/live"); first.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", first.Code)
	}
	second := perform(r, http.MethodGet, "/health/live")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), `"code":"RATE_LIMITED"`) {
		t.Fatalf("expected RATE_LIMITED envelope, got %s", second.Body.String())
	}
}

func TestRouterSweepEndpoint(t *testing.T) {
	dep := newRouterTestDeps()
	dep.Sweeper = stubSweeper{changed: true}
	rr := perform(NewRouter(dep), http.MethodPost, "/ops/sessions/sweep")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"changed":true`) {
		t.Fatalf("sweep: %d %s", rr.Code, rr.Body.String())
	}

	dep.Sweeper = stubSweeper{err: fmt.Errorf("sweep: %w", repository.ErrConnection)}
	rr = perform(NewRouter(dep), http.MethodPost, "/ops/sessions/sweep")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"code":"UNAVAILABLE"`) {
		t.Fatalf("failed sweep: %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterPermissionFlushEndpoint(t *testing.T) {
	dep := newRouterTestDeps()
	flusher := &stubFlusher{}
	dep.PermissionCache = flusher
	rr := perform(NewRouter(dep), http.MethodPost, "/ops/cache/permissions/flush")
	if rr.Code != http.StatusOK || flusher.calls != 1 {
		t.Fatalf("flush: %d calls=%d", rr.Code, flusher.calls)
	}
	if rr := perform(NewRouter(newRouterTestDeps()), http.MethodPost, "/ops/cache/permissions/flush"); rr.Code != http.StatusNotFound {
		t.Fatalf("flush without cache must not be routed, got %d", rr.Code)
	}
}
