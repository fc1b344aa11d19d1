package repository

import (
	"context"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRoleRepository evaluates role memberships. Global memberships and
// memberships scoped to a streamer are disjoint sets: a scoped query never
// sees global roles and the reverse.
type UserRoleRepository interface {
	AssignRole(ctx context.Context, userID uint, role domain.RoleRef, scope domain.Scope) (bool, error)
	RevokeRole(ctx context.Context, userID uint, role domain.RoleRef, scope domain.Scope) (bool, error)
	ListRoles(ctx context.Context, userID uint, scope domain.Scope) ([]domain.Role, error)
	ListPermissions(ctx context.Context, userID uint, scope domain.Scope) ([]domain.Permission, error)
	HasPermission(ctx context.Context, userID uint, perm domain.PermissionRef, scope domain.Scope) (bool, error)
}

type GormUserRoleRepository struct{ db *gorm.DB }

func NewUserRoleRepository(db *gorm.DB) UserRoleRepository { return &GormUserRoleRepository{db: db} }

// AssignRole returns false when the role does not resolve and
// ErrConstraintViolation when the user does not exist. Re-assigning an
// existing membership succeeds without inserting a second row.
func (r *GormUserRoleRepository) AssignRole(ctx context.Context, userID uint, role domain.RoleRef, scope domain.Scope) (bool, error) {
	var assigned bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roleID, ok, err := resolveRoleID(tx, role)
		if err != nil || !ok {
			return err
		}
		known, err := exists(tx.Model(&domain.User{}).Where("id = ?", userID))
		if err != nil {
			return err
		}
		if !known {
			return constraintViolation("role member %d does not exist", userID)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.UserRole{
			UserID:    userID,
			RoleID:    roleID,
			ContextID: scope.ContextID(),
		}).Error; err != nil {
			return err
		}
		assigned = true
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_role", "assign", "error")
		return false, classify("assign role", err)
	}
	observability.RecordRepositoryOperation(ctx, "user_role", "assign", foundStatus(assigned))
	return assigned, nil
}

func (r *GormUserRoleRepository) RevokeRole(ctx context.Context, userID uint, role domain.RoleRef, scope domain.Scope) (bool, error) {
	var revoked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roleID, ok, err := resolveRoleID(tx, role)
		if err != nil || !ok {
			return err
		}
		res := tx.Where("user_id = ? AND role_id = ? AND context_id = ?", userID, roleID, scope.ContextID()).
			Delete(&domain.UserRole{})
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_role", "revoke", "error")
		return false, classify("revoke role", err)
	}
	observability.RecordRepositoryOperation(ctx, "user_role", "revoke", foundStatus(revoked))
	return revoked, nil
}

func (r *GormUserRoleRepository) ListRoles(ctx context.Context, userID uint, scope domain.Scope) ([]domain.Role, error) {
	var roles []domain.Role
	err := r.db.WithContext(ctx).Model(&domain.Role{}).
		Joins("JOIN user_roles ur ON ur.role_id = roles.id").
		Where("ur.user_id = ? AND ur.context_id = ?", userID, scope.ContextID()).
		Order("roles.id").
		Find(&roles).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_role", "list_roles", "error")
		return nil, classify("list roles", err)
	}
	observability.RecordRepositoryOperation(ctx, "user_role", "list_roles", "success")
	return roles, nil
}

func (r *GormUserRoleRepository) ListPermissions(ctx context.Context, userID uint, scope domain.Scope) ([]domain.Permission, error) {
	var perms []domain.Permission
	err := r.permissionsOf(r.db.WithContext(ctx), userID, scope).
		Distinct("permissions.id", "permissions.name", "permissions.created_at").
		Order("permissions.id").
		Find(&perms).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_role", "list_permissions", "error")
		return nil, classify("list permissions", err)
	}
	observability.RecordRepositoryOperation(ctx, "user_role", "list_permissions", "success")
	return perms, nil
}

// HasPermission is false, not an error, for unknown users and permissions.
func (r *GormUserRoleRepository) HasPermission(ctx context.Context, userID uint, perm domain.PermissionRef, scope domain.Scope) (bool, error) {
	if err := perm.Validate(); err != nil {
		observability.RecordRepositoryOperation(ctx, "user_role", "has_permission", "error")
		return false, classify("has permission", err)
	}
	q := r.permissionsOf(r.db.WithContext(ctx), userID, scope)
	if id, ok := perm.ID(); ok {
		q = q.Where("permissions.id = ?", id)
	} else {
		name, _ := perm.Name()
		q = q.Where("permissions.name = ?", name)
	}
	var n int64
	if err := q.Limit(1).Count(&n).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "user_role", "has_permission", "error")
		return false, classify("has permission", err)
	}
	observability.RecordRepositoryOperation(ctx, "user_role", "has_permission", "success")
	return n > 0, nil
}

// permissionsOf joins user -> roles in scope -> granted permissions.
func (r *GormUserRoleRepository) permissionsOf(db *gorm.DB, userID uint, scope domain.Scope) *gorm.DB {
	return db.Model(&domain.Permission{}).
		Joins("JOIN role_permissions rp ON rp.permission_id = permissions.id").
		Joins("JOIN user_roles ur ON ur.role_id = rp.role_id").
		Where("ur.user_id = ? AND ur.context_id = ?", userID, scope.ContextID())
}
