package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
	"github.com/sandeepkv93/streaming-identity-core/internal/security"
)

type DeviceMeta struct {
	IP        string
	UserAgent string
	Device    string
}

type LoginResult struct {
	UserID          uint      `json:"user_id"`
	SessionID       string    `json:"session_id"`
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

type AuthServiceConfig struct {
	AccessTTL  time.Duration
	SessionTTL time.Duration
}

// AuthService ties credentials, sessions, refresh tokens and access tokens
// into the login, refresh and logout flows.
type AuthService struct {
	credentials repository.UserRepository
	sessions    repository.SessionRepository
	tokens      *TokenService
	authz       *AuthorizationService
	jwt         *security.JWTManager
	cfg         AuthServiceConfig
	logger      *slog.Logger
}

func NewAuthService(
	credentials repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *TokenService,
	authz *AuthorizationService,
	jwt *security.JWTManager,
	cfg AuthServiceConfig,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		credentials: credentials,
		sessions:    sessions,
		tokens:      tokens,
		authz:       authz,
		jwt:         jwt,
		cfg:         cfg,
		logger:      logger,
	}
}

// Login checks credentials against the store, never the cache, since cached
// users carry no password hash.
func (s *AuthService) Login(ctx context.Context, email, password string, meta DeviceMeta) (res *LoginResult, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.login")
	defer func() {
		observability.RecordAuthLogin(ctx, authStatus(err))
		observability.EndSpan(span, err)
	}()

	em, err := domain.NewEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.credentials.GetUserByEmail(ctx, em.String())
	if err != nil {
		return nil, err
	}
	if user == nil || !domain.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if user.BannedAt(time.Now()) {
		return nil, ErrUserBanned
	}
	span.SetAttributes(attribute.Int64("user.id", int64(user.ID)))

	session, err := s.sessions.CreateSession(ctx, domain.NewSession{
		UserID:     user.ID,
		ExpiresAt:  time.Now().Add(s.cfg.SessionTTL),
		IPAddress:  ptr(meta.IP),
		UserAgent:  ptr(meta.UserAgent),
		DeviceInfo: ptr(meta.Device),
	})
	if err != nil {
		return nil, err
	}
	raw, _, err := s.tokens.Issue(ctx, session.ID, user.ID)
	if err != nil {
		return nil, err
	}
	res, err = s.result(ctx, user.ID, session.ID, raw)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID, "session_id", session.ID)
	return res, nil
}

// Refresh rotates the refresh token and mints a new access token for the
// same session.
func (s *AuthService) Refresh(ctx context.Context, raw string) (res *LoginResult, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.refresh")
	defer func() {
		observability.RecordAuthRefresh(ctx, authStatus(err))
		observability.EndSpan(span, err)
	}()

	next, tok, err := s.tokens.Rotate(ctx, raw)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.TouchSessionLastUsed(ctx, tok.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotLive
	}
	user, err := s.credentials.GetUserByID(ctx, tok.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if user.BannedAt(time.Now()) {
		if _, rerr := s.sessions.RevokeSession(ctx, session.ID); rerr != nil {
			s.logger.WarnContext(ctx, "revoke session of banned user failed", "user_id", user.ID, "error", rerr)
		}
		return nil, ErrUserBanned
	}
	return s.result(ctx, user.ID, session.ID, next)
}

// Authenticate verifies an access token and that its session is still live.
func (s *AuthService) Authenticate(ctx context.Context, access string) (*security.Claims, error) {
	claims, err := s.jwt.ParseAccessToken(access)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	session, err := s.sessions.TouchSessionLastUsed(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		return nil, ErrSessionNotLive
	}
	return claims, nil
}

// Logout revokes the refresh token together with its session. It reports
// whether anything changed.
func (s *AuthService) Logout(ctx context.Context, raw string) (changed bool, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.logout")
	defer func() {
		observability.RecordAuthLogout(ctx, authStatus(err))
		observability.EndSpan(span, err)
	}()
	return s.tokens.Revoke(ctx, raw, true)
}

func (s *AuthService) result(ctx context.Context, userID uint, sessionID, refresh string) (*LoginResult, error) {
	roles, err := s.authz.ListRoles(ctx, userID, domain.GlobalScope())
	if err != nil {
		return nil, err
	}
	grants, err := s.authz.ListPermissions(ctx, userID, domain.GlobalScope())
	if err != nil {
		return nil, err
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}
	permNames := make([]string, 0, len(grants))
	for _, g := range grants {
		permNames = append(permNames, g.Name)
	}
	access, err := s.jwt.SignAccessToken(userID, sessionID, roleNames, permNames, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		UserID:          userID,
		SessionID:       sessionID,
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: time.Now().Add(s.cfg.AccessTTL).UTC(),
	}, nil
}

func authStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, repository.ErrRefreshTokenReuse):
		return "reuse"
	case errors.Is(err, repository.ErrInvalidRefreshToken), errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrSessionNotLive):
		return "rejected"
	case errors.Is(err, ErrUserBanned):
		return "banned"
	default:
		return "error"
	}
}
