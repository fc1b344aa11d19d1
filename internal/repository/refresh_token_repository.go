package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"github.com/sandeepkv93/streaming-identity-core/internal/security"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultTokenHistoryLimit = 1000

// RefreshTokenRepository stores only hashes of refresh secrets. Callers look
// tokens up with security.HashRefreshToken and the same pepper.
type RefreshTokenRepository interface {
	IssueRefreshToken(ctx context.Context, sessionID string, userID uint, expiresAt time.Time, rawToken string) (*domain.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldTokenHash string, newExpiresAt time.Time, newRawToken string) (*domain.RefreshToken, error)
	RotateAndReturnRawToken(ctx context.Context, oldTokenHash string, newExpiresAt time.Time) (string, error)
	IsRefreshTokenValid(ctx context.Context, tokenHash string) (bool, error)
	GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string, revokeSession bool) (bool, error)
	MarkRefreshTokenUsed(ctx context.Context, tokenHash string) (bool, error)
	ReplaceRefreshToken(ctx context.Context, oldTokenHash, newTokenID string) ([]domain.RefreshToken, error)
	GetRefreshTokensBySession(ctx context.Context, sessionID string) ([]domain.RefreshToken, error)
	GetUserTokenHistory(ctx context.Context, userID uint, limit int) ([]domain.RefreshToken, error)
	GetSessionsWithRefreshTokens(ctx context.Context, userID uint) ([]domain.SessionWithLastToken, error)
	RevokeTokensBySession(ctx context.Context, sessionID string) (bool, error)
	CleanupExpiredSessionsTokens(ctx context.Context) (bool, error)
}

type GormRefreshTokenRepository struct {
	db        *gorm.DB
	pepper    string
	now       func() time.Time
	newSecret func() (string, error)
}

func NewRefreshTokenRepository(db *gorm.DB, pepper string) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db, pepper: pepper, now: utcNow, newSecret: security.NewRefreshTokenSecret}
}

// IssueRefreshToken binds a new token to a live session owned by userID.
func (r *GormRefreshTokenRepository) IssueRefreshToken(ctx context.Context, sessionID string, userID uint, expiresAt time.Time, rawToken string) (*domain.RefreshToken, error) {
	if rawToken == "" {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "issue", "error")
		return nil, classify("issue refresh token", invalidArgument("raw token must not be empty"))
	}
	if expiresAt.IsZero() {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "issue", "error")
		return nil, classify("issue refresh token", invalidArgument("expires_at is required"))
	}
	now := r.now()
	tok := &domain.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: security.HashRefreshToken(rawToken, r.pepper),
		UserID:    userID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: expiresAt.UTC(),
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(liveSessions(tx.Model(&domain.Session{}), now).
			Where("id = ? AND user_id = ?", sessionID, userID))
		if err != nil {
			return err
		}
		if !ok {
			return constraintViolation("session %s is not a live session of user %d", sessionID, userID)
		}
		return tx.Create(tok).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "issue", "error")
		return nil, classify("issue refresh token", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "issue", "success")
	return tok, nil
}

// RotateRefreshToken consumes a valid token and issues its successor in the
// same session. Presenting a consumed token returns ErrRefreshTokenReuse; any
// other invalid token returns ErrInvalidRefreshToken.
func (r *GormRefreshTokenRepository) RotateRefreshToken(ctx context.Context, oldTokenHash string, newExpiresAt time.Time, newRawToken string) (*domain.RefreshToken, error) {
	if newRawToken == "" || newExpiresAt.IsZero() {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		return nil, classify("rotate refresh token", invalidArgument("new raw token and expiry are required"))
	}
	now := r.now()
	var next *domain.RefreshToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old domain.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", oldTokenHash).
			First(&old).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidRefreshToken
			}
			return err
		}
		if old.UsedAt != nil {
			return ErrRefreshTokenReuse
		}
		if !old.IsValid(now) {
			return ErrInvalidRefreshToken
		}
		live, err := exists(liveSessions(tx.Model(&domain.Session{}), now).Where("id = ?", old.SessionID))
		if err != nil {
			return err
		}
		if !live {
			return ErrInvalidRefreshToken
		}

		candidate := &domain.RefreshToken{
			ID:        uuid.NewString(),
			TokenHash: security.HashRefreshToken(newRawToken, r.pepper),
			UserID:    old.UserID,
			SessionID: old.SessionID,
			IssuedAt:  now,
			ExpiresAt: newExpiresAt.UTC(),
		}
		res := tx.Model(&domain.RefreshToken{}).
			Where("id = ? AND used_at IS NULL AND revoked_at IS NULL", old.ID).
			Updates(map[string]any{"used_at": now, "replaced_by_id": candidate.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrRefreshTokenReuse
		}
		if err := tx.Create(candidate).Error; err != nil {
			return err
		}
		next = candidate
		return nil
	})
	if err != nil {
		status := "error"
		if errors.Is(err, ErrInvalidRefreshToken) {
			status = "rejected"
		}
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", status)
		return nil, classify("rotate refresh token", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "success")
	return next, nil
}

// RotateAndReturnRawToken rotates with a freshly generated secret and returns it.
func (r *GormRefreshTokenRepository) RotateAndReturnRawToken(ctx context.Context, oldTokenHash string, newExpiresAt time.Time) (string, error) {
	raw, err := r.newSecret()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "rotate", "error")
		return "", classify("generate refresh token secret", err)
	}
	if _, err := r.RotateRefreshToken(ctx, oldTokenHash, newExpiresAt, raw); err != nil {
		return "", err
	}
	return raw, nil
}

func (r *GormRefreshTokenRepository) IsRefreshTokenValid(ctx context.Context, tokenHash string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL AND used_at IS NULL AND expires_at > ?", tokenHash, r.now()).
		Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "is_valid", "error")
		return false, classify("is refresh token valid", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "is_valid", "success")
	return n > 0, nil
}

func (r *GormRefreshTokenRepository) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	tok, err := findToken(r.db.WithContext(ctx), tokenHash)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "get", "error")
		return nil, classify("get refresh token", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "get", foundStatus(tok != nil))
	return tok, nil
}

// RevokeRefreshToken reports whether the token or, with revokeSession, its
// session changed state.
func (r *GormRefreshTokenRepository) RevokeRefreshToken(ctx context.Context, tokenHash string, revokeSession bool) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tok, err := findToken(tx, tokenHash)
		if err != nil || tok == nil {
			return err
		}
		now := r.now()
		res := tx.Model(&domain.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", tok.ID).
			Update("revoked_at", now)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		if !revokeSession {
			return nil
		}
		n, err := revokeSessions(tx, now, []string{tok.SessionID})
		if n > 0 {
			changed = true
		}
		return err
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", "error")
		return false, classify("revoke refresh token", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke", foundStatus(changed))
	return changed, nil
}

func (r *GormRefreshTokenRepository) MarkRefreshTokenUsed(ctx context.Context, tokenHash string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("token_hash = ? AND used_at IS NULL", tokenHash).
		Update("used_at", r.now())
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "mark_used", "error")
		return false, classify("mark refresh token used", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "mark_used", foundStatus(res.RowsAffected > 0))
	return res.RowsAffected > 0, nil
}

// ReplaceRefreshToken links the old token to an already issued successor and
// returns the linked rows. The successor must belong to the same session and
// user as the old token.
func (r *GormRefreshTokenRepository) ReplaceRefreshToken(ctx context.Context, oldTokenHash, newTokenID string) ([]domain.RefreshToken, error) {
	var linked []domain.RefreshToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next domain.RefreshToken
		if err := tx.Where("id = ?", newTokenID).Take(&next).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return constraintViolation("replacement token %s does not exist", newTokenID)
			}
			return err
		}
		old, err := findToken(tx, oldTokenHash)
		if err != nil || old == nil || old.ID == next.ID {
			return err
		}
		if old.SessionID != next.SessionID || old.UserID != next.UserID {
			return constraintViolation("replacement token %s belongs to another session", newTokenID)
		}
		if err := tx.Model(&domain.RefreshToken{}).Where("id = ?", old.ID).Update("replaced_by_id", next.ID).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND replaced_by_id = ?", old.ID, next.ID).Find(&linked).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "replace", "error")
		return nil, classify("replace refresh token", err)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "replace", foundStatus(len(linked) > 0))
	return linked, nil
}

func (r *GormRefreshTokenRepository) GetRefreshTokensBySession(ctx context.Context, sessionID string) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("issued_at ASC").Find(&tokens).Error
	observability.RecordRepositoryOperation(ctx, "refresh_token", "list_by_session", statusOf(err))
	if err != nil {
		return nil, classify("get refresh tokens by session", err)
	}
	return tokens, nil
}

// GetUserTokenHistory returns the newest tokens first; limit <= 0 means
// DefaultTokenHistoryLimit.
func (r *GormRefreshTokenRepository) GetUserTokenHistory(ctx context.Context, userID uint, limit int) ([]domain.RefreshToken, error) {
	if limit <= 0 {
		limit = DefaultTokenHistoryLimit
	}
	var tokens []domain.RefreshToken
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("issued_at DESC").Limit(limit).Find(&tokens).Error
	observability.RecordRepositoryOperation(ctx, "refresh_token", "user_history", statusOf(err))
	if err != nil {
		return nil, classify("get user token history", err)
	}
	return tokens, nil
}

// GetSessionsWithRefreshTokens lists the user's sessions that hold at least one
// token, most recently issued first.
func (r *GormRefreshTokenRepository) GetSessionsWithRefreshTokens(ctx context.Context, userID uint) ([]domain.SessionWithLastToken, error) {
	var rows []struct {
		SessionID string
		IssuedAt  time.Time
	}
	err := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Select("refresh_tokens.session_id, refresh_tokens.issued_at").
		Joins("JOIN sessions ON sessions.id = refresh_tokens.session_id").
		Where("sessions.user_id = ?", userID).
		Scan(&rows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "sessions_with_tokens", "error")
		return nil, classify("get sessions with refresh tokens", err)
	}
	latest := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		if cur, ok := latest[row.SessionID]; !ok || row.IssuedAt.After(cur) {
			latest[row.SessionID] = row.IssuedAt
		}
	}
	out := make([]domain.SessionWithLastToken, 0, len(latest))
	for id, at := range latest {
		at := at
		out = append(out, domain.SessionWithLastToken{SessionID: id, LastTokenIssuedAt: &at})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTokenIssuedAt.After(*out[j].LastTokenIssuedAt)
	})
	observability.RecordRepositoryOperation(ctx, "refresh_token", "sessions_with_tokens", "success")
	return out, nil
}

func (r *GormRefreshTokenRepository) RevokeTokensBySession(ctx context.Context, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("session_id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", r.now())
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_session", "error")
		return false, classify("revoke tokens by session", res.Error)
	}
	observability.RecordRepositoryOperation(ctx, "refresh_token", "revoke_by_session", foundStatus(res.RowsAffected > 0))
	return res.RowsAffected > 0, nil
}

// CleanupExpiredSessionsTokens runs the same sweep as the session repository.
func (r *GormRefreshTokenRepository) CleanupExpiredSessionsTokens(ctx context.Context) (bool, error) {
	changed, err := sweepExpired(ctx, r.db, r.now())
	observability.RecordRepositoryOperation(ctx, "refresh_token", "cleanup_expired", statusOf(err))
	if err != nil {
		return false, classify("cleanup expired tokens", err)
	}
	return changed, nil
}

func findToken(db *gorm.DB, tokenHash string) (*domain.RefreshToken, error) {
	var tok domain.RefreshToken
	if err := db.Where("token_hash = ?", tokenHash).First(&tok).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tok, nil
}
