package service

import (
	"context"
	"log/slog"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
)

// PermissionCacheInvalidator is notified when role grants change.
type PermissionCacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

type RegistryService struct {
	roles  repository.RoleRepository
	perms  repository.PermissionRepository
	cache  PermissionCacheInvalidator
	logger *slog.Logger
}

func NewRegistryService(roles repository.RoleRepository, perms repository.PermissionRepository, cache PermissionCacheInvalidator, logger *slog.Logger) *RegistryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistryService{roles: roles, perms: perms, cache: cache, logger: logger}
}

func (s *RegistryService) CreateRole(ctx context.Context, name string) (*domain.Role, error) {
	rn, err := domain.NewRoleName(name)
	if err != nil {
		observability.RecordAdminRoleMutation(ctx, "create_role", "invalid")
		return nil, err
	}
	role, err := s.roles.CreateRole(ctx, rn.String())
	observability.RecordAdminRoleMutation(ctx, "create_role", mutationStatus(true, err))
	if err != nil {
		return nil, err
	}
	observability.Audit(ctx, s.logger, "role.created", "role_id", role.ID, "role", role.Name)
	return role, nil
}

func (s *RegistryService) CreatePermission(ctx context.Context, name string) (*domain.Permission, error) {
	pn, err := domain.NewPermissionName(name)
	if err != nil {
		observability.RecordAdminRoleMutation(ctx, "create_permission", "invalid")
		return nil, err
	}
	perm, err := s.perms.CreatePermission(ctx, pn.String())
	observability.RecordAdminRoleMutation(ctx, "create_permission", mutationStatus(true, err))
	if err != nil {
		return nil, err
	}
	observability.Audit(ctx, s.logger, "permission.created", "permission_id", perm.ID, "permission", perm.Name)
	return perm, nil
}

// GetRole returns nil when the role does not exist.
func (s *RegistryService) GetRole(ctx context.Context, ref domain.RoleRef) (*domain.Role, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if id, ok := ref.ID(); ok {
		return s.roles.GetRoleByID(ctx, id)
	}
	name, _ := ref.Name()
	return s.roles.GetRoleByName(ctx, name)
}

func (s *RegistryService) GetPermission(ctx context.Context, ref domain.PermissionRef) (*domain.Permission, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if id, ok := ref.ID(); ok {
		return s.perms.GetPermissionByID(ctx, id)
	}
	name, _ := ref.Name()
	return s.perms.GetPermissionByName(ctx, name)
}

func (s *RegistryService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return s.roles.GetAllRoles(ctx)
}

func (s *RegistryService) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	return s.perms.GetAllPermissions(ctx)
}

func (s *RegistryService) PermissionsOfRole(ctx context.Context, role domain.RoleRef) ([]domain.Permission, error) {
	return s.roles.GetPermissionsByRole(ctx, role)
}

// DeleteRole is refused, returning false, while the role still grants permissions.
func (s *RegistryService) DeleteRole(ctx context.Context, role domain.RoleRef) (bool, error) {
	deleted, err := s.roles.DeleteRole(ctx, role)
	observability.RecordAdminRoleMutation(ctx, "delete_role", mutationStatus(deleted, err))
	if err != nil || !deleted {
		return deleted, err
	}
	observability.Audit(ctx, s.logger, "role.deleted", "role", role.String())
	s.invalidate(ctx, "delete_role")
	return true, nil
}

func (s *RegistryService) DeletePermission(ctx context.Context, perm domain.PermissionRef) (bool, error) {
	deleted, err := s.perms.DeletePermission(ctx, perm)
	observability.RecordAdminRoleMutation(ctx, "delete_permission", mutationStatus(deleted, err))
	if err != nil || !deleted {
		return deleted, err
	}
	observability.Audit(ctx, s.logger, "permission.deleted", "permission", perm.String())
	s.invalidate(ctx, "delete_permission")
	return true, nil
}

func (s *RegistryService) GrantPermission(ctx context.Context, role domain.RoleRef, perm domain.PermissionRef) (bool, error) {
	ok, err := s.roles.AssignPermissionToRole(ctx, role, perm)
	observability.RecordAdminRoleMutation(ctx, "grant_permission", mutationStatus(ok, err))
	if err != nil || !ok {
		return ok, err
	}
	observability.Audit(ctx, s.logger, "permission.granted", "role", role.String(), "permission", perm.String())
	s.invalidate(ctx, "grant_permission")
	return true, nil
}

func (s *RegistryService) RevokePermission(ctx context.Context, role domain.RoleRef, perm domain.PermissionRef) (bool, error) {
	ok, err := s.roles.RevokePermissionFromRole(ctx, role, perm)
	observability.RecordAdminRoleMutation(ctx, "revoke_permission", mutationStatus(ok, err))
	if err != nil || !ok {
		return ok, err
	}
	observability.Audit(ctx, s.logger, "permission.revoked", "role", role.String(), "permission", perm.String())
	s.invalidate(ctx, "revoke_permission")
	return true, nil
}

func (s *RegistryService) invalidate(ctx context.Context, action string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.WarnContext(ctx, "permission cache not invalidated", "action", action, "error", err)
	}
}

func mutationStatus(changed bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case !changed:
		return "noop"
	default:
		return "success"
	}
}
