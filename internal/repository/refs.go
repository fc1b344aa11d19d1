package repository

import (
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"gorm.io/gorm"
)

// resolveRoleID returns the id addressed by ref and whether it exists.
func resolveRoleID(tx *gorm.DB, ref domain.RoleRef) (uint, bool, error) {
	if err := ref.Validate(); err != nil {
		return 0, false, err
	}
	q := tx.Model(&domain.Role{})
	if id, ok := ref.ID(); ok {
		q = q.Where("id = ?", id)
	} else {
		name, _ := ref.Name()
		q = q.Where("name = ?", name)
	}
	return pluckID(q)
}

func resolvePermissionID(tx *gorm.DB, ref domain.PermissionRef) (uint, bool, error) {
	if err := ref.Validate(); err != nil {
		return 0, false, err
	}
	q := tx.Model(&domain.Permission{})
	if id, ok := ref.ID(); ok {
		q = q.Where("id = ?", id)
	} else {
		name, _ := ref.Name()
		q = q.Where("name = ?", name)
	}
	return pluckID(q)
}

func pluckID(q *gorm.DB) (uint, bool, error) {
	var ids []uint
	if err := q.Limit(1).Pluck("id", &ids).Error; err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

func exists(q *gorm.DB) (bool, error) {
	var n int64
	if err := q.Limit(1).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
