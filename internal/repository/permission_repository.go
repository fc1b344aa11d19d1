package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"gorm.io/gorm"
)

type PermissionRepository interface {
	CreatePermission(ctx context.Context, name string) (*domain.Permission, error)
	GetPermissionByID(ctx context.Context, id uint) (*domain.Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*domain.Permission, error)
	GetAllPermissions(ctx context.Context) ([]domain.Permission, error)
	DeletePermission(ctx context.Context, perm domain.PermissionRef) (bool, error)
}

type GormPermissionRepository struct{ db *gorm.DB }

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &GormPermissionRepository{db: db}
}

func (r *GormPermissionRepository) CreatePermission(ctx context.Context, name string) (*domain.Permission, error) {
	p := &domain.Permission{Name: domain.NormalizeName(name)}
	if p.Name == "" {
		observability.RecordRepositoryOperation(ctx, "permission", "create", "error")
		return nil, classify("create permission", invalidArgument("permission name must not be empty"))
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "permission", "create", "error")
		return nil, classify("create permission", err)
	}
	observability.RecordRepositoryOperation(ctx, "permission", "create", "success")
	return p, nil
}

func (r *GormPermissionRepository) GetPermissionByID(ctx context.Context, id uint) (*domain.Permission, error) {
	return r.findOne(ctx, "get_by_id", r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GormPermissionRepository) GetPermissionByName(ctx context.Context, name string) (*domain.Permission, error) {
	return r.findOne(ctx, "get_by_name", r.db.WithContext(ctx).Where("name = ?", domain.NormalizeName(name)))
}

func (r *GormPermissionRepository) findOne(ctx context.Context, op string, q *gorm.DB) (*domain.Permission, error) {
	var p domain.Permission
	if err := q.First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "permission", op, "not_found")
			return nil, nil
		}
		observability.RecordRepositoryOperation(ctx, "permission", op, "error")
		return nil, classify("get permission", err)
	}
	observability.RecordRepositoryOperation(ctx, "permission", op, "success")
	return &p, nil
}

// GetAllPermissions returns nil when no permission exists.
func (r *GormPermissionRepository) GetAllPermissions(ctx context.Context) ([]domain.Permission, error) {
	var perms []domain.Permission
	if err := r.db.WithContext(ctx).Order("id").Find(&perms).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "permission", "get_all", "error")
		return nil, classify("get all permissions", err)
	}
	observability.RecordRepositoryOperation(ctx, "permission", "get_all", "success")
	if len(perms) == 0 {
		return nil, nil
	}
	return perms, nil
}

// DeletePermission also drops the permission from every role that grants it.
func (r *GormPermissionRepository) DeletePermission(ctx context.Context, ref domain.PermissionRef) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, ok, err := resolvePermissionID(tx, ref)
		if err != nil || !ok {
			return err
		}
		if err := tx.Where("permission_id = ?", id).Delete(&domain.RolePermission{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Permission{}, id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "permission", "delete", "error")
		return false, classify("delete permission", err)
	}
	observability.RecordRepositoryOperation(ctx, "permission", "delete", foundStatus(deleted))
	return deleted, nil
}
