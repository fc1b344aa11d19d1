package domain

import "time"

type SessionState string

const (
	SessionActive  SessionState = "ACTIVE"
	SessionExpired SessionState = "EXPIRED"
	SessionRevoked SessionState = "REVOKED"
)

type Session struct {
	ID         string     `gorm:"primaryKey;size:36" json:"session_id"`
	UserID     uint       `gorm:"index;not null" json:"user_id"`
	IPAddress  *string    `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent  *string    `gorm:"size:512" json:"user_agent,omitempty"`
	DeviceInfo *string    `gorm:"size:512" json:"device_info,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	ExpiresAt  time.Time  `gorm:"index;not null" json:"expires_at"`
	IsActive   bool       `gorm:"index;not null" json:"is_active"`
}

// State derives the lifecycle state. Revocation wins over expiry so audit
// trails keep the explicit action.
func (s *Session) State(now time.Time) SessionState {
	switch {
	case s.RevokedAt != nil:
		return SessionRevoked
	case !s.IsActive || !s.ExpiresAt.After(now):
		return SessionExpired
	default:
		return SessionActive
	}
}

// NewSession carries the inputs of a login.
type NewSession struct {
	UserID     uint
	ExpiresAt  time.Time
	IPAddress  *string
	UserAgent  *string
	DeviceInfo *string
}
