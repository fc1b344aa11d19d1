//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/streaming-identity-core/internal/app"
	"github.com/sandeepkv93/streaming-identity-core/internal/config"
)

// InitializeApp builds the identity core. The cleanup closes redis and the
// database and flushes telemetry.
func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	panic(wire.Build(TelemetrySet, StoreSet, ServiceSet, ServerSet))
}
