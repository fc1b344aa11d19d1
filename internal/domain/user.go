package domain

import "time"

type User struct {
	ID            uint       `gorm:"primaryKey" json:"user_id"`
	Email         string     `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Username      string     `gorm:"size:25;not null" json:"username"`
	PasswordHash  string     `gorm:"size:255;not null" json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	Avatar        string     `gorm:"size:1024" json:"avatar"`
	ProfileBanner string     `gorm:"size:1024" json:"profile_banner"`
	Description   string     `gorm:"size:160" json:"description"`
	IsBanned      bool       `gorm:"not null;default:false" json:"is_banned"`
	BanReason     *string    `gorm:"size:255" json:"ban_reason,omitempty"`
	BanExpiresAt  *time.Time `json:"ban_expires_at,omitempty"`
	StreamToken   *string    `gorm:"size:64;uniqueIndex" json:"stream_token,omitempty"`
}

// BannedAt reports whether the ban is still in force at now. A ban without an
// expiry is permanent.
func (u *User) BannedAt(now time.Time) bool {
	if u == nil || !u.IsBanned {
		return false
	}
	if u.BanExpiresAt == nil {
		return true
	}
	return u.BanExpiresAt.After(now)
}
