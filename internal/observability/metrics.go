package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/streaming-identity-core/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "streaming-identity-core"

type AppMetrics struct {
	repositoryOps     metric.Int64Counter
	authzDecisions    metric.Int64Counter
	authLogins        metric.Int64Counter
	authRefreshes     metric.Int64Counter
	authLogouts       metric.Int64Counter
	adminRoleMutation metric.Int64Counter
	sessionSweeps     metric.Int64Counter
	cacheEvents       metric.Int64Counter
	healthProbes      metric.Int64Counter
	rateLimits        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := NewAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	setAppMetrics(m)

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

// NewAppMetrics creates every instrument on meter.
func NewAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.repositoryOps, "repository.operations"},
		{&m.authzDecisions, "authz.decisions"},
		{&m.authLogins, "auth.login.attempts"},
		{&m.authRefreshes, "auth.refresh.attempts"},
		{&m.authLogouts, "auth.logout.attempts"},
		{&m.adminRoleMutation, "admin.role.mutations"},
		{&m.sessionSweeps, "session.sweep.runs"},
		{&m.cacheEvents, "cache.events"},
		{&m.healthProbes, "health.probe.results"},
		{&m.rateLimits, "http.rate_limit.decisions"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}
	return &m, nil
}

func setAppMetrics(m *AppMetrics) {
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordRepositoryOperation(ctx context.Context, entity, op, status string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", op),
		attribute.String("status", status),
	))
}

func RecordAuthorizationDecision(ctx context.Context, allowed, scoped, cached bool) {
	m := current()
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.authzDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("scoped", scoped),
		attribute.Bool("cached", cached),
	))
}

func RecordAuthLogin(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLogins.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRefresh(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLogout(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLogouts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAdminRoleMutation(ctx context.Context, action, status string) {
	if m := current(); m != nil {
		m.adminRoleMutation.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		))
	}
}

func RecordSessionSweep(ctx context.Context, changed bool, status string) {
	if m := current(); m != nil {
		m.sessionSweeps.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("changed", changed),
			attribute.String("status", status),
		))
	}
}

// RecordCacheEvent counts cache outcomes: hit, miss, skip, error, breaker_open.
func RecordCacheEvent(ctx context.Context, cache, event string) {
	if m := current(); m != nil {
		m.cacheEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("event", event),
		))
	}
}

func RecordHealthProbe(ctx context.Context, check string, healthy bool) {
	if m := current(); m != nil {
		m.healthProbes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("check", check),
			attribute.Bool("healthy", healthy),
		))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	if m := current(); m != nil {
		m.rateLimits.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("decision", decision),
		))
	}
}
