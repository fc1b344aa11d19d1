package di

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/streaming-identity-core/internal/app"
	"github.com/sandeepkv93/streaming-identity-core/internal/config"
	"github.com/sandeepkv93/streaming-identity-core/internal/database"
	"github.com/sandeepkv93/streaming-identity-core/internal/health"
	"github.com/sandeepkv93/streaming-identity-core/internal/http/router"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
	"github.com/sandeepkv93/streaming-identity-core/internal/security"
	"github.com/sandeepkv93/streaming-identity-core/internal/service"
)

// Telemetry bundles the logger with the providers that must be flushed on exit.
type Telemetry struct {
	Logger  *slog.Logger
	Runtime *observability.Runtime
}

var TelemetrySet = wire.NewSet(provideTelemetry, provideLogger, provideRuntime)

var StoreSet = wire.NewSet(
	provideDB,
	provideRedis,
	repository.NewUserRepository,
	repository.NewRoleRepository,
	repository.NewPermissionRepository,
	repository.NewUserRoleRepository,
	repository.NewSessionRepository,
	provideRefreshTokenRepository,
)

var ServiceSet = wire.NewSet(
	provideUserCacheStore,
	provideNegativeLookupCache,
	providePermissionCache,
	provideUserService,
	provideAuthorizationService,
	wire.Bind(new(service.PermissionCacheInvalidator), new(*service.AuthorizationService)),
	service.NewRegistryService,
	service.NewSessionService,
	provideTokenService,
	provideJWTManager,
	provideAuthService,
	wire.Struct(new(app.Services), "*"),
)

var ServerSet = wire.NewSet(provideReadiness, provideServer, app.New)

func provideTelemetry(ctx context.Context, cfg *config.Config) (*Telemetry, func(), error) {
	logger, lp, err := observability.InitLogging(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, nil, err
	}
	rt, err := observability.InitRuntime(ctx, cfg, logger, lp)
	if err != nil {
		if lp != nil {
			_ = lp.Shutdown(ctx)
		}
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}
	return &Telemetry{Logger: logger, Runtime: rt}, cleanup, nil
}

func provideLogger(t *Telemetry) *slog.Logger { return t.Logger }

func provideRuntime(t *Telemetry) *observability.Runtime { return t.Runtime }

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

func provideRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, func(), error) {
	client, err := database.OpenRedis(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if client != nil {
			_ = client.Close()
		}
	}
	return client, cleanup, nil
}

func provideRefreshTokenRepository(db *gorm.DB, cfg *config.Config) repository.RefreshTokenRepository {
	return repository.NewRefreshTokenRepository(db, cfg.RefreshTokenPepper)
}

func provideUserCacheStore(client redis.UniversalClient, cfg *config.Config, logger *slog.Logger) service.UserCacheStore {
	if client == nil {
		return service.NewNoopUserCacheStore()
	}
	return service.NewRedisUserCacheStore(client, cfg.UserCachePrefix, service.BreakerSettings{
		Failures: cfg.CacheBreakerFailures,
		OpenFor:  cfg.CacheBreakerOpenFor,
	}, logger)
}

func provideNegativeLookupCache(client redis.UniversalClient, cfg *config.Config) service.NegativeLookupCacheStore {
	if client == nil {
		return service.NewInMemoryNegativeLookupCacheStore()
	}
	return service.NewRedisNegativeLookupCacheStore(client, cachePrefix(cfg, "negative"))
}

func providePermissionCache(client redis.UniversalClient, cfg *config.Config) service.RBACPermissionCacheStore {
	if client == nil {
		return service.NewInMemoryRBACPermissionCacheStore()
	}
	return service.NewRedisRBACPermissionCacheStore(client, cachePrefix(cfg, "rbac"))
}

func cachePrefix(cfg *config.Config, name string) string {
	if cfg.UserCachePrefix == "" {
		return name
	}
	return cfg.UserCachePrefix + ":" + name
}

func provideUserService(store repository.UserRepository, cache service.UserCacheStore, negative service.NegativeLookupCacheStore, cfg *config.Config, logger *slog.Logger) *service.UserService {
	return service.NewUserService(store, cache, negative, service.UserServiceOptions{
		TTL:         cfg.UserCacheTTL,
		NegativeTTL: cfg.NegativeLookupTTL,
	}, logger)
}

func provideAuthorizationService(userRoles repository.UserRoleRepository, cache service.RBACPermissionCacheStore, cfg *config.Config, logger *slog.Logger) *service.AuthorizationService {
	return service.NewAuthorizationService(userRoles, cache, cfg.RBACPermissionTTL, logger)
}

func provideTokenService(tokens repository.RefreshTokenRepository, cfg *config.Config, logger *slog.Logger) *service.TokenService {
	return service.NewTokenService(tokens, cfg.RefreshTokenPepper, cfg.RefreshTokenTTL, logger)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func provideAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *service.TokenService,
	authz *service.AuthorizationService,
	jwt *security.JWTManager,
	cfg *config.Config,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(users, sessions, tokens, authz, jwt, service.AuthServiceConfig{
		AccessTTL:  cfg.AccessTokenTTL,
		SessionTTL: cfg.RefreshTokenTTL,
	}, logger)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checks := []health.Checker{health.DBChecker(db)}
	if client != nil {
		checks = append(checks, health.RedisChecker(client))
	}
	return health.NewProbeRunner(2*time.Second, time.Second, checks...)
}

func provideServer(cfg *config.Config, logger *slog.Logger, readiness *health.ProbeRunner, sessions *service.SessionService, authz *service.AuthorizationService) *http.Server {
	handler := router.NewRouter(router.Dependencies{
		Logger:          logger,
		Readiness:       readiness,
		Sweeper:         sessions,
		PermissionCache: authz,
		OpsRateLimitRPM: cfg.OpsRateLimitRPM,
		EnableOTelHTTP:  cfg.OTELTracingEnabled,
	})
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
