package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoleRepository interface {
	CreateRole(ctx context.Context, name string) (*domain.Role, error)
	GetRoleByID(ctx context.Context, id uint) (*domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (*domain.Role, error)
	GetAllRoles(ctx context.Context) ([]domain.Role, error)
	DeleteRole(ctx context.Context, role domain.RoleRef) (bool, error)
	AssignPermissionToRole(ctx context.Context, role domain.RoleRef, perm domain.PermissionRef) (bool, error)
	RevokePermissionFromRole(ctx context.Context, role domain.RoleRef, perm domain.PermissionRef) (bool, error)
	GetPermissionsByRole(ctx context.Context, role domain.RoleRef) ([]domain.Permission, error)
}

type GormRoleRepository struct{ db *gorm.DB }

func NewRoleRepository(db *gorm.DB) RoleRepository { return &GormRoleRepository{db: db} }

func (r *GormRoleRepository) CreateRole(ctx context.Context, name string) (*domain.Role, error) {
	role := &domain.Role{Name: domain.NormalizeName(name)}
	if role.Name == "" {
		observability.RecordRepositoryOperation(ctx, "role", "create", "error")
		return nil, classify("create role", invalidArgument("role name must not be empty"))
	}
	if err := r.db.WithContext(ctx).Create(role).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "create", "error")
		return nil, classify("create role", err)
	}
	observability.RecordRepositoryOperation(ctx, "role", "create", "success")
	return role, nil
}

func (r *GormRoleRepository) GetRoleByID(ctx context.Context, id uint) (*domain.Role, error) {
	return r.findOne(ctx, "get_by_id", r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GormRoleRepository) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	return r.findOne(ctx, "get_by_name", r.db.WithContext(ctx).Where("name = ?", domain.NormalizeName(name)))
}

func (r *GormRoleRepository) findOne(ctx context.Context, op string, q *gorm.DB) (*domain.Role, error) {
	var role domain.Role
	err := q.Preload("Permissions").First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "role", op, "not_found")
			return nil, nil
		}
		observability.RecordRepositoryOperation(ctx, "role", op, "error")
		return nil, classify("get role", err)
	}
	observability.RecordRepositoryOperation(ctx, "role", op, "success")
	return &role, nil
}

// GetAllRoles returns nil when no role exists.
func (r *GormRoleRepository) GetAllRoles(ctx context.Context) ([]domain.Role, error) {
	var roles []domain.Role
	err := r.db.WithContext(ctx).Preload("Permissions").Order("id").Find(&roles).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "get_all", "error")
		return nil, classify("get all roles", err)
	}
	observability.RecordRepositoryOperation(ctx, "role", "get_all", "success")
	if len(roles) == 0 {
		return nil, nil
	}
	return roles, nil
}

// DeleteRole refuses to remove a role that still grants permissions. A
// removable role takes its user memberships with it.
func (r *GormRoleRepository) DeleteRole(ctx context.Context, ref domain.RoleRef) (bool, error) {
	status := "success"
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, ok, err := resolveRoleID(tx.Clauses(clause.Locking{Strength: "UPDATE"}), ref)
		if err != nil {
			return err
		}
		if !ok {
			status = "not_found"
			return nil
		}
		var granted int64
		if err := tx.Model(&domain.RolePermission{}).Where("role_id = ?", id).Count(&granted).Error; err != nil {
			return err
		}
		if granted > 0 {
			status = "guarded"
			return nil
		}
		if err := tx.Where("role_id = ?", id).Delete(&domain.UserRole{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Role{}, id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "delete", "error")
		return false, classify("delete role", err)
	}
	observability.RecordRepositoryOperation(ctx, "role", "delete", status)
	return deleted, nil
}

func (r *GormRoleRepository) AssignPermissionToRole(ctx context.Context, role domain.RoleRef, perm domain.PermissionRef) (bool, error) {
	var assigned bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roleID, permID, ok, err := resolvePair(tx, role, perm)
		if err != nil || !ok {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.RolePermission{RoleID: roleID, PermissionID: permID}).Error; err != nil {
			return err
		}
		assigned = true
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "assign_permission", "error")
		return false, classify("assign permission to role", err)
	}
	observability.RecordRepositoryOperation(ctx, "role", "assign_permission", foundStatus(assigned))
	return assigned, nil
}

func (r *GormRoleRepository) RevokePermissionFromRole(ctx context.Context, role domain.RoleRef, perm domain.PermissionRef) (bool, error) {
	var revoked bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roleID, permID, ok, err := resolvePair(tx, role, perm)
		if err != nil || !ok {
			return err
		}
		res := tx.Where("role_id = ? AND permission_id = ?", roleID, permID).Delete(&domain.RolePermission{})
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "revoke_permission", "error")
		return false, classify("revoke permission from role", err)
	}
	observability.RecordRepositoryOperation(ctx, "role", "revoke_permission", foundStatus(revoked))
	return revoked, nil
}

// GetPermissionsByRole returns nil for an unknown role.
func (r *GormRoleRepository) GetPermissionsByRole(ctx context.Context, ref domain.RoleRef) ([]domain.Permission, error) {
	var perms []domain.Permission
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, ok, err := resolveRoleID(tx, ref)
		if err != nil || !ok {
			return err
		}
		found = true
		return tx.Model(&domain.Permission{}).
			Joins("JOIN role_permissions rp ON rp.permission_id = permissions.id").
			Where("rp.role_id = ?", id).
			Order("permissions.id").
			Find(&perms).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "role", "get_permissions", "error")
		return nil, classify("get permissions by role", err)
	}
	observability.RecordRepositoryOperation(ctx, "role", "get_permissions", foundStatus(found))
	return perms, nil
}

func resolvePair(tx *gorm.DB, role domain.RoleRef, perm domain.PermissionRef) (uint, uint, bool, error) {
	roleID, ok, err := resolveRoleID(tx, role)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	permID, ok, err := resolvePermissionID(tx, perm)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	return roleID, permID, true, nil
}

func foundStatus(found bool) string {
	if found {
		return "success"
	}
	return "not_found"
}
