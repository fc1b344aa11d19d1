package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
)

type SessionView struct {
	ID         string              `json:"session_id"`
	CreatedAt  time.Time           `json:"created_at"`
	ExpiresAt  time.Time           `json:"expires_at"`
	LastUsedAt *time.Time          `json:"last_used_at,omitempty"`
	UserAgent  string              `json:"user_agent"`
	IP         string              `json:"ip"`
	Device     string              `json:"device"`
	State      domain.SessionState `json:"state"`
	IsCurrent  bool                `json:"is_current"`
}

type SessionService struct {
	sessions repository.SessionRepository
	logger   *slog.Logger
}

func NewSessionService(sessions repository.SessionRepository, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{sessions: sessions, logger: logger}
}

func (s *SessionService) ListActiveSessions(ctx context.Context, userID uint, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessions.GetActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		session := &sessions[i]
		views = append(views, SessionView{
			ID:         session.ID,
			CreatedAt:  session.CreatedAt,
			ExpiresAt:  session.ExpiresAt,
			LastUsedAt: session.LastUsedAt,
			UserAgent:  deref(session.UserAgent),
			IP:         deref(session.IPAddress),
			Device:     deref(session.DeviceInfo),
			State:      session.State(now),
			IsCurrent:  session.ID == currentSessionID,
		})
	}
	return views, nil
}

// RevokeSession revokes one of the user's sessions. A session owned by someone
// else is reported as not found.
func (s *SessionService) RevokeSession(ctx context.Context, userID uint, sessionID string) (string, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session == nil || session.UserID != userID {
		return "", ErrNotFound
	}
	changed, err := s.sessions.RevokeSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !changed {
		return "already_revoked", nil
	}
	observability.Audit(ctx, s.logger, "session.revoked", "user_id", userID, "session_id", sessionID)
	return "revoked", nil
}

func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uint) (bool, error) {
	changed, err := s.sessions.RevokeAllUserSessions(ctx, userID)
	if err != nil {
		return false, err
	}
	if changed {
		observability.Audit(ctx, s.logger, "session.revoked_all", "user_id", userID)
	}
	return changed, nil
}

// Sweep deactivates expired sessions and revokes their refresh tokens.
func (s *SessionService) Sweep(ctx context.Context) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "session.sweep")
	started := time.Now()
	changed, err := s.sessions.CleanupExpiredSessionsAndTokens(ctx)
	observability.EndSpan(span, err)
	if err != nil {
		observability.RecordSessionSweep(ctx, false, "error")
		s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
		return false, err
	}
	observability.RecordSessionSweep(ctx, changed, "success")
	s.logger.InfoContext(ctx, "session sweep finished", "changed", changed, "duration", time.Since(started))
	return changed, nil
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func ptr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
