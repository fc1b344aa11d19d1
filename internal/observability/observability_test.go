package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/streaming-identity-core/internal/config"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordRepositoryOperationCountsByStatus(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewAppMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	setAppMetrics(m)
	t.Cleanup(func() { setAppMetrics(nil) })

	ctx := context.Background()
	RecordRepositoryOperation(ctx, "session", "create", "success")
	RecordRepositoryOperation(ctx, "session", "create", "success")
	RecordRepositoryOperation(ctx, "session", "create", "error")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "repository.operations" {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", metric.Data)
			}
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				counts[status.AsString()] += dp.Value
			}
		}
	}
	if counts["success"] != 2 || counts["error"] != 1 {
		t.Fatalf("unexpected counts: %#v", counts)
	}
}

func TestRecordersAreNoopWithoutMetrics(t *testing.T) {
	setAppMetrics(nil)
	ctx := context.Background()
	RecordRepositoryOperation(ctx, "role", "create", "success")
	RecordAuthorizationDecision(ctx, true, false, true)
	RecordSessionSweep(ctx, true, "success")
	RecordCacheEvent(ctx, "user", "hit")
}

func TestInitLoggingWithoutExport(t *testing.T) {
	var buf bytes.Buffer
	logger, lp, err := InitLogging(context.Background(), &config.Config{LogLevel: "warn"}, &buf)
	if err != nil {
		t.Fatalf("init logging: %v", err)
	}
	if lp != nil {
		t.Fatal("expected no logger provider when export is disabled")
	}
	logger.Info("dropped")
	logger.Warn("kept", "k", "v")
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected a single json record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "kept" || rec["k"] != "v" {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestFanoutHandlerWritesToAll(t *testing.T) {
	var a, b bytes.Buffer
	h := fanoutHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	}}
	slog.New(h).With("component", "test").Info("hello")
	if a.Len() == 0 || b.Len() == 0 {
		t.Fatal("expected both handlers to receive the record")
	}
}

func TestRuntimeShutdownNil(t *testing.T) {
	var r *Runtime
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil runtime shutdown: %v", err)
	}
}

func TestAuditCarriesEventAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")

	Audit(ctx, logger, "role.created", "role", "VIEWER")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "audit" || rec["event"] != "role.created" || rec["request_id"] != "req-42" || rec["role"] != "VIEWER" {
		t.Fatalf("unexpected audit record %v", rec)
	}

	buf.Reset()
	Audit(context.Background(), logger, "user.unbanned")
	if bytes.Contains(buf.Bytes(), []byte("request_id")) {
		t.Fatalf("request id must be omitted outside the router: %s", buf.String())
	}
}
