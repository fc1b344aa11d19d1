package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Load failure stages.
const (
	StageEnvFile    = "env_file"
	StageParse      = "parse"
	StageValidation = "validation"
)

// LoadError reports which stage of Load failed and, for parse failures,
// which variable was malformed.
type LoadError struct {
	Stage string
	Key   string
	Err   error
}

func (e *LoadError) Error() string {
	switch e.Stage {
	case StageEnvFile:
		return "load env file: " + e.Err.Error()
	case StageParse:
		return "parse " + e.Key + ": " + e.Err.Error()
	case StageValidation:
		return "validate config: " + e.Err.Error()
	}
	return "load config: " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

var (
	loadMetricsOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordLoad uses the global meter provider. Load runs before telemetry is
// wired, so in practice only reloads inside a running process are exported.
func recordLoad(ctx context.Context, profile string, err error) {
	loadMetricsOnce.Do(func() {
		counter, cerr := otel.Meter("streaming-identity-core/config").Int64Counter("config.load.events")
		if cerr == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	stage, key := loadStage(err)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("profile", canonicalProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
		attribute.String("key", key),
	))
}

// loadStage maps a Load error to its failing stage and offending key.
// Errors that are not a *LoadError report stage "load".
func loadStage(err error) (stage, key string) {
	if err == nil {
		return "none", ""
	}
	var le *LoadError
	if errors.As(err, &le) {
		return le.Stage, le.Key
	}
	return "load", ""
}

// canonicalProfile folds profile aliases so prod checks and metric labels
// agree on a single spelling.
func canonicalProfile(profile string) string {
	switch v := strings.ToLower(strings.TrimSpace(profile)); v {
	case "":
		return "unknown"
	case "production":
		return "prod"
	case "development", "dev":
		return "local"
	default:
		return v
	}
}
