package domain

import "time"

type TokenState string

const (
	TokenIssued  TokenState = "ISSUED"
	TokenUsed    TokenState = "USED"
	TokenRevoked TokenState = "REVOKED"
	TokenExpired TokenState = "EXPIRED"
)

type RefreshToken struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	TokenHash    string     `gorm:"size:128;uniqueIndex;not null" json:"token_hash"`
	UserID       uint       `gorm:"index;not null" json:"user_id"`
	SessionID    string     `gorm:"size:36;index;not null" json:"session_id"`
	IssuedAt     time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	ReplacedByID *string    `gorm:"size:36" json:"replaced_by_id,omitempty"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
}

func (t *RefreshToken) IsValid(now time.Time) bool {
	return t.RevokedAt == nil && t.UsedAt == nil && t.ExpiresAt.After(now)
}

func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.RevokedAt != nil:
		return TokenRevoked
	case t.UsedAt != nil:
		return TokenUsed
	case !t.ExpiresAt.After(now):
		return TokenExpired
	default:
		return TokenIssued
	}
}

type SessionWithLastToken struct {
	SessionID         string     `json:"session_id"`
	LastTokenIssuedAt *time.Time `json:"last_token_issued_at"`
}
