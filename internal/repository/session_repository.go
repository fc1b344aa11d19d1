package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"

	"gorm.io/gorm"
)

// DefaultSessionExtension applies when ExtendSession gets a zero expiry.
const DefaultSessionExtension = 30 * 24 * time.Hour

type SessionRepository interface {
	CreateSession(ctx context.Context, in domain.NewSession) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ExtendSession(ctx context.Context, sessionID string, newExpiresAt time.Time) (*domain.Session, error)
	TouchSessionLastUsed(ctx context.Context, sessionID string) (*domain.Session, error)
	RevokeSession(ctx context.Context, sessionID string) (bool, error)
	RevokeAllUserSessions(ctx context.Context, userID uint) (bool, error)
	GetActiveSessions(ctx context.Context, userID uint) ([]domain.Session, error)
	CleanupExpiredSessionsAndTokens(ctx context.Context) (bool, error)
}

type GormSessionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &GormSessionRepository{db: db, now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

// CreateSession fails with ErrConstraintViolation when the user does not exist.
func (r *GormSessionRepository) CreateSession(ctx context.Context, in domain.NewSession) (*domain.Session, error) {
	if in.ExpiresAt.IsZero() {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return nil, classify("create session", invalidArgument("expires_at is required"))
	}
	now := r.now()
	s := &domain.Session{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		DeviceInfo: in.DeviceInfo,
		CreatedAt:  now,
		ExpiresAt:  in.ExpiresAt.UTC(),
		IsActive:   true,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx.Model(&domain.User{}).Where("id = ?", in.UserID))
		if err != nil {
			return err
		}
		if !ok {
			return constraintViolation("session user %d does not exist", in.UserID)
		}
		return tx.Create(s).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return nil, classify("create session", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return s, nil
}

func (r *GormSessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := findSession(r.db.WithContext(ctx), sessionID)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "get", "error")
		return nil, classify("get session", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "get", foundStatus(s != nil))
	return s, nil
}

// ExtendSession moves the expiry of a live session. Revoked, swept or
// time-expired sessions are terminal and yield nil.
func (r *GormSessionRepository) ExtendSession(ctx context.Context, sessionID string, newExpiresAt time.Time) (*domain.Session, error) {
	now := r.now()
	if newExpiresAt.IsZero() {
		newExpiresAt = now.Add(DefaultSessionExtension)
	}
	s, err := r.updateLive(ctx, sessionID, now, map[string]any{"expires_at": newExpiresAt.UTC()})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "extend", "error")
		return nil, classify("extend session", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "extend", foundStatus(s != nil))
	return s, nil
}

func (r *GormSessionRepository) TouchSessionLastUsed(ctx context.Context, sessionID string) (*domain.Session, error) {
	now := r.now()
	s, err := r.updateLive(ctx, sessionID, now, map[string]any{"last_used_at": now})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "touch", "error")
		return nil, classify("touch session", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "touch", foundStatus(s != nil))
	return s, nil
}

func (r *GormSessionRepository) updateLive(ctx context.Context, sessionID string, now time.Time, updates map[string]any) (*domain.Session, error) {
	var out *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := liveSessions(tx.Model(&domain.Session{}), now).
			Where("id = ?", sessionID).
			Updates(updates)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		s, err := findSession(tx, sessionID)
		out = s
		return err
	})
	return out, err
}

func (r *GormSessionRepository) RevokeSession(ctx context.Context, sessionID string) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := revokeSessions(tx, r.now(), []string{sessionID})
		changed = n > 0
		return err
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke", "error")
		return false, classify("revoke session", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke", foundStatus(changed))
	return changed, nil
}

// RevokeAllUserSessions returns false when the user had no active session.
func (r *GormSessionRepository) RevokeAllUserSessions(ctx context.Context, userID uint) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&domain.Session{}).
			Where("user_id = ? AND is_active = ? AND revoked_at IS NULL", userID, true).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		n, err := revokeSessions(tx, r.now(), ids)
		changed = n > 0
		return err
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_user", "error")
		return false, classify("revoke all user sessions", err)
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_user", foundStatus(changed))
	return changed, nil
}

func (r *GormSessionRepository) GetActiveSessions(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND revoked_at IS NULL", userID, true).
		Order("created_at DESC").
		Find(&sessions).Error
	observability.RecordRepositoryOperation(ctx, "session", "list_active", statusOf(err))
	if err != nil {
		return nil, classify("get active sessions", err)
	}
	return sessions, nil
}

func (r *GormSessionRepository) CleanupExpiredSessionsAndTokens(ctx context.Context) (bool, error) {
	changed, err := sweepExpired(ctx, r.db, r.now())
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", statusOf(err))
	if err != nil {
		return false, classify("cleanup expired sessions", err)
	}
	return changed, nil
}

func findSession(db *gorm.DB, sessionID string) (*domain.Session, error) {
	var s domain.Session
	if err := db.Where("id = ?", sessionID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func liveSessions(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Where("sessions.is_active = ? AND sessions.revoked_at IS NULL AND sessions.expires_at > ?", true, now)
}

// revokeSessions marks unrevoked sessions revoked and revokes their still
// valid refresh tokens. It returns the number of sessions that changed.
func revokeSessions(tx *gorm.DB, now time.Time, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Model(&domain.Session{}).
		Where("id IN ? AND revoked_at IS NULL", ids).
		Updates(map[string]any{"revoked_at": now, "is_active": false})
	if res.Error != nil {
		return 0, res.Error
	}
	if err := tx.Model(&domain.RefreshToken{}).
		Where("session_id IN ? AND revoked_at IS NULL AND used_at IS NULL", ids).
		Update("revoked_at", now).Error; err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// sweepExpired deactivates sessions past expiry and revokes refresh tokens
// that belong to them or are expired themselves. It reports whether any row
// changed state.
func sweepExpired(ctx context.Context, db *gorm.DB, now time.Time) (bool, error) {
	var changed int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []string
		if err := tx.Model(&domain.Session{}).
			Where("is_active = ? AND expires_at <= ?", true, now).
			Pluck("id", &expired).Error; err != nil {
			return err
		}
		if len(expired) > 0 {
			res := tx.Model(&domain.Session{}).
				Where("id IN ?", expired).
				Update("is_active", false)
			if res.Error != nil {
				return res.Error
			}
			changed += res.RowsAffected
		}

		tokens := tx.Model(&domain.RefreshToken{}).Where("revoked_at IS NULL AND used_at IS NULL")
		if len(expired) > 0 {
			tokens = tokens.Where("(expires_at <= ? OR session_id IN ?)", now, expired)
		} else {
			tokens = tokens.Where("expires_at <= ?", now)
		}
		res := tokens.Update("revoked_at", now)
		if res.Error != nil {
			return res.Error
		}
		changed += res.RowsAffected
		return nil
	})
	return changed > 0, err
}
