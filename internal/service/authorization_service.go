package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
)

// AuthorizationService evaluates role memberships and keeps the permission
// cache coherent with membership changes.
type AuthorizationService struct {
	userRoles repository.UserRoleRepository
	cache     RBACPermissionCacheStore
	ttl       time.Duration
	logger    *slog.Logger
}

func NewAuthorizationService(userRoles repository.UserRoleRepository, cache RBACPermissionCacheStore, ttl time.Duration, logger *slog.Logger) *AuthorizationService {
	if cache == nil {
		cache = NewNoopRBACPermissionCacheStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationService{userRoles: userRoles, cache: cache, ttl: ttl, logger: logger}
}

func (s *AuthorizationService) AssignRole(ctx context.Context, userID uint, role domain.RoleRef, scope domain.Scope) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "authz.assign_role", userScopeAttrs(userID, scope)...)
	ok, err := s.userRoles.AssignRole(ctx, userID, role, scope)
	if err == nil && ok {
		observability.Audit(ctx, s.logger, "role.assigned", "user_id", userID, "role", role.String(), "scope", scope.String())
		s.InvalidateUser(ctx, userID)
	}
	observability.EndSpan(span, err)
	return ok, err
}

func (s *AuthorizationService) RevokeRole(ctx context.Context, userID uint, role domain.RoleRef, scope domain.Scope) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "authz.revoke_role", userScopeAttrs(userID, scope)...)
	ok, err := s.userRoles.RevokeRole(ctx, userID, role, scope)
	if err == nil && ok {
		observability.Audit(ctx, s.logger, "role.unassigned", "user_id", userID, "role", role.String(), "scope", scope.String())
		s.InvalidateUser(ctx, userID)
	}
	observability.EndSpan(span, err)
	return ok, err
}

func (s *AuthorizationService) ListRoles(ctx context.Context, userID uint, scope domain.Scope) ([]domain.Role, error) {
	ctx, span := observability.StartSpan(ctx, "authz.list_roles", userScopeAttrs(userID, scope)...)
	roles, err := s.userRoles.ListRoles(ctx, userID, scope)
	observability.EndSpan(span, err)
	return roles, err
}

func (s *AuthorizationService) ListPermissions(ctx context.Context, userID uint, scope domain.Scope) ([]PermissionGrant, error) {
	ctx, span := observability.StartSpan(ctx, "authz.list_permissions", userScopeAttrs(userID, scope)...)
	grants, _, err := s.permissionSet(ctx, userID, scope)
	observability.EndSpan(span, err)
	return grants, err
}

// HasPermission answers from the cached permission set when caching is
// enabled and falls back to a direct store check otherwise.
func (s *AuthorizationService) HasPermission(ctx context.Context, userID uint, perm domain.PermissionRef, scope domain.Scope) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "authz.has_permission", userScopeAttrs(userID, scope)...)
	allowed, cached, err := s.hasPermission(ctx, userID, perm, scope)
	if err == nil {
		observability.RecordAuthorizationDecision(ctx, allowed, !scope.IsGlobal(), cached)
		span.SetAttributes(attribute.Bool("authz.allowed", allowed), attribute.Bool("authz.cached", cached))
	}
	observability.EndSpan(span, err)
	return allowed, err
}

func (s *AuthorizationService) hasPermission(ctx context.Context, userID uint, perm domain.PermissionRef, scope domain.Scope) (bool, bool, error) {
	if err := perm.Validate(); err != nil {
		return false, false, err
	}
	if s.ttl <= 0 {
		ok, err := s.userRoles.HasPermission(ctx, userID, perm, scope)
		return ok, false, err
	}
	grants, cached, err := s.permissionSet(ctx, userID, scope)
	if err != nil {
		return false, false, err
	}
	id, byID := perm.ID()
	name, _ := perm.Name()
	for _, g := range grants {
		if (byID && g.ID == id) || (!byID && g.Name == name) {
			return true, cached, nil
		}
	}
	return false, cached, nil
}

// permissionSet reads through the cache. Cache failures are logged and
// treated as misses. The cache version is taken before the store read, so a
// set loaded across an assign or revoke is never cached under the newer epoch.
func (s *AuthorizationService) permissionSet(ctx context.Context, userID uint, scope domain.Scope) ([]PermissionGrant, bool, error) {
	cacheable := s.ttl > 0
	var version CacheVersion
	if cacheable {
		v, err := s.cache.Version(ctx, userID)
		if err != nil {
			cacheable = false
			observability.RecordCacheEvent(ctx, "rbac_permissions", "error")
			s.logger.WarnContext(ctx, "permission cache version read failed", "user_id", userID, "error", err)
		}
		version = v
	}
	if cacheable {
		grants, ok, err := s.cache.Get(ctx, userID, scope)
		switch {
		case err != nil:
			observability.RecordCacheEvent(ctx, "rbac_permissions", "error")
			s.logger.WarnContext(ctx, "permission cache read failed", "user_id", userID, "scope", scope.String(), "error", err)
		case ok:
			observability.RecordCacheEvent(ctx, "rbac_permissions", "hit")
			return grants, true, nil
		default:
			observability.RecordCacheEvent(ctx, "rbac_permissions", "miss")
		}
	}
	perms, err := s.userRoles.ListPermissions(ctx, userID, scope)
	if err != nil {
		return nil, false, err
	}
	grants := make([]PermissionGrant, 0, len(perms))
	for _, p := range perms {
		grants = append(grants, PermissionGrant{ID: p.ID, Name: p.Name})
	}
	if cacheable {
		if err := s.cache.Set(ctx, userID, scope, version, grants, s.ttl); err != nil {
			observability.RecordCacheEvent(ctx, "rbac_permissions", "error")
			s.logger.WarnContext(ctx, "permission cache write failed", "user_id", userID, "scope", scope.String(), "error", err)
		}
	}
	return grants, false, nil
}

func (s *AuthorizationService) InvalidateUser(ctx context.Context, userID uint) {
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "permission cache user invalidation failed", "user_id", userID, "error", err)
	}
}

// InvalidateAll drops every cached permission set. The registry calls it after
// any change to role grants.
func (s *AuthorizationService) InvalidateAll(ctx context.Context) error {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.WarnContext(ctx, "permission cache invalidation failed", "error", err)
		return err
	}
	return nil
}

func userScopeAttrs(userID uint, scope domain.Scope) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("user.id", int64(userID)),
		attribute.String("authz.scope", scope.String()),
	}
}
