package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
	"github.com/sandeepkv93/streaming-identity-core/internal/security"
)

// TokenService hands raw refresh secrets to callers and keeps only their
// hashes in the store.
type TokenService struct {
	tokens     repository.RefreshTokenRepository
	pepper     string
	refreshTTL time.Duration
	logger     *slog.Logger
}

func NewTokenService(tokens repository.RefreshTokenRepository, pepper string, refreshTTL time.Duration, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{tokens: tokens, pepper: pepper, refreshTTL: refreshTTL, logger: logger}
}

func (s *TokenService) Issue(ctx context.Context, sessionID string, userID uint) (string, *domain.RefreshToken, error) {
	raw, err := security.NewRefreshTokenSecret()
	if err != nil {
		return "", nil, err
	}
	tok, err := s.tokens.IssueRefreshToken(ctx, sessionID, userID, time.Now().Add(s.refreshTTL), raw)
	if err != nil {
		return "", nil, err
	}
	return raw, tok, nil
}

// Rotate consumes raw and returns its successor. Replaying a consumed secret
// fails with repository.ErrRefreshTokenReuse.
func (s *TokenService) Rotate(ctx context.Context, raw string) (string, *domain.RefreshToken, error) {
	next, err := security.NewRefreshTokenSecret()
	if err != nil {
		return "", nil, err
	}
	hash := s.hash(raw)
	tok, err := s.tokens.RotateRefreshToken(ctx, hash, time.Now().Add(s.refreshTTL), next)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenReuse) {
			s.logger.WarnContext(ctx, "refresh token reuse detected", "token_hash_prefix", hash[:12])
		}
		return "", nil, err
	}
	return next, tok, nil
}

// Revoke revokes the token and, with cascade, its session.
func (s *TokenService) Revoke(ctx context.Context, raw string, cascade bool) (bool, error) {
	return s.tokens.RevokeRefreshToken(ctx, s.hash(raw), cascade)
}

func (s *TokenService) IsValid(ctx context.Context, raw string) (bool, error) {
	return s.tokens.IsRefreshTokenValid(ctx, s.hash(raw))
}

// Lookup returns the stored token for raw or nil.
func (s *TokenService) Lookup(ctx context.Context, raw string) (*domain.RefreshToken, error) {
	return s.tokens.GetRefreshToken(ctx, s.hash(raw))
}

func (s *TokenService) History(ctx context.Context, userID uint, limit int) ([]domain.RefreshToken, error) {
	return s.tokens.GetUserTokenHistory(ctx, userID, limit)
}

func (s *TokenService) SessionsWithTokens(ctx context.Context, userID uint) ([]domain.SessionWithLastToken, error) {
	return s.tokens.GetSessionsWithRefreshTokens(ctx, userID)
}

func (s *TokenService) hash(raw string) string {
	return security.HashRefreshToken(raw, s.pepper)
}
