package domain

import "time"

type Role struct {
	ID          uint         `gorm:"primaryKey" json:"role_id"`
	Name        string       `gorm:"size:25;uniqueIndex;not null" json:"name"`
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Permission struct {
	ID        uint      `gorm:"primaryKey" json:"permission_id"`
	Name      string    `gorm:"size:25;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type RolePermission struct {
	RoleID       uint `gorm:"primaryKey"`
	PermissionID uint `gorm:"primaryKey"`
}

// UserRole is a role membership. ContextID 0 is a global assignment, any other
// value scopes the role to that streamer's channel.
type UserRole struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_role_context" json:"user_id"`
	RoleID    uint      `gorm:"not null;index;uniqueIndex:idx_user_role_context" json:"role_id"`
	ContextID uint      `gorm:"not null;default:0;index;uniqueIndex:idx_user_role_context" json:"context_id"`
	CreatedAt time.Time `json:"created_at"`
}
