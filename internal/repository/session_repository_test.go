package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
)

func TestCreateSessionRequiresExistingUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	_, err := repo.CreateSession(ctx, domain.NewSession{UserID: 999, ExpiresAt: time.Now().Add(time.Hour)})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	_, err = repo.CreateSession(ctx, domain.NewSession{UserID: 1})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing expiry, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "life@example.com")

	s := seedSession(t, db, u.ID, time.Hour)
	if s.ID == "" || !s.IsActive || s.RevokedAt != nil {
		t.Fatalf("unexpected new session %+v", s)
	}
	if got := s.State(time.Now().UTC()); got != domain.SessionActive {
		t.Fatalf("state = %s, want ACTIVE", got)
	}

	touched, err := repo.TouchSessionLastUsed(ctx, s.ID)
	if err != nil || touched == nil || touched.LastUsedAt == nil {
		t.Fatalf("touch: %+v err=%v", touched, err)
	}
	extended, err := repo.ExtendSession(ctx, s.ID, time.Time{})
	if err != nil || extended == nil {
		t.Fatalf("extend: %+v err=%v", extended, err)
	}
	if extended.ExpiresAt.Before(time.Now().Add(DefaultSessionExtension - time.Minute)) {
		t.Fatalf("expected default extension, got expiry %s", extended.ExpiresAt)
	}

	revoked, err := repo.RevokeSession(ctx, s.ID)
	if err != nil || !revoked {
		t.Fatalf("revoke: ok=%v err=%v", revoked, err)
	}
	again, err := repo.RevokeSession(ctx, s.ID)
	if err != nil || again {
		t.Fatalf("second revoke: ok=%v err=%v", again, err)
	}
	got, err := repo.GetSession(ctx, s.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %+v err=%v", got, err)
	}
	if got.IsActive || got.RevokedAt == nil || got.State(time.Now().UTC()) != domain.SessionRevoked {
		t.Fatalf("expected revoked session, got %+v", got)
	}
	if ext, err := repo.ExtendSession(ctx, s.ID, time.Now().Add(time.Hour)); err != nil || ext != nil {
		t.Fatalf("revoked session must not extend: %+v err=%v", ext, err)
	}
	if tch, err := repo.TouchSessionLastUsed(ctx, s.ID); err != nil || tch != nil {
		t.Fatalf("revoked session must not touch: %+v err=%v", tch, err)
	}
}

func TestUnknownSessionOperations(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	if s, err := repo.GetSession(ctx, "missing"); err != nil || s != nil {
		t.Fatalf("get: %+v err=%v", s, err)
	}
	if ok, err := repo.RevokeSession(ctx, "missing"); err != nil || ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	if s, err := repo.ExtendSession(ctx, "missing", time.Now().Add(time.Hour)); err != nil || s != nil {
		t.Fatalf("extend: %+v err=%v", s, err)
	}
	if ok, err := repo.RevokeAllUserSessions(ctx, 404); err != nil || ok {
		t.Fatalf("revoke all: ok=%v err=%v", ok, err)
	}
}

func TestActiveSessionsAreIsolatedPerUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice@example.com")
	bob := seedUser(t, db, "bob@example.com")

	a1 := seedSession(t, db, alice.ID, time.Hour)
	a2 := seedSession(t, db, alice.ID, time.Hour)
	b1 := seedSession(t, db, bob.ID, time.Hour)

	if ok, err := repo.RevokeSession(ctx, a1.ID); err != nil || !ok {
		t.Fatalf("revoke a1: ok=%v err=%v", ok, err)
	}
	active, err := repo.GetActiveSessions(ctx, alice.ID)
	if err != nil {
		t.Fatalf("active sessions: %v", err)
	}
	if len(active) != 1 || active[0].ID != a2.ID {
		t.Fatalf("expected only a2, got %+v", active)
	}

	if ok, err := repo.RevokeAllUserSessions(ctx, alice.ID); err != nil || !ok {
		t.Fatalf("revoke all: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.RevokeAllUserSessions(ctx, alice.ID); err != nil || ok {
		t.Fatalf("second revoke all: ok=%v err=%v", ok, err)
	}
	bobs, err := repo.GetActiveSessions(ctx, bob.ID)
	if err != nil || len(bobs) != 1 || bobs[0].ID != b1.ID {
		t.Fatalf("bob's session must survive, got %+v err=%v", bobs, err)
	}
}

func TestRevokeSessionRevokesItsTokens(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepository(db)
	tokens := NewRefreshTokenRepository(db, testPepper)
	ctx := context.Background()
	u := seedUser(t, db, "tokens@example.com")
	s := seedSession(t, db, u.ID, time.Hour)

	if _, err := tokens.IssueRefreshToken(ctx, s.ID, u.ID, time.Now().Add(time.Hour), "raw-1"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if ok, err := sessions.RevokeSession(ctx, s.ID); err != nil || !ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	valid, err := tokens.IsRefreshTokenValid(ctx, hashOf("raw-1"))
	if err != nil || valid {
		t.Fatalf("token must be invalid after session revoke, got %v err=%v", valid, err)
	}
}

func TestCleanupExpiredSessionsAndTokens(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepository(db)
	tokens := NewRefreshTokenRepository(db, testPepper)
	ctx := context.Background()
	u := seedUser(t, db, "sweep@example.com")

	live := seedSession(t, db, u.ID, time.Hour)
	stale := seedSession(t, db, u.ID, time.Hour)
	if _, err := tokens.IssueRefreshToken(ctx, stale.ID, u.ID, time.Now().Add(time.Hour), "stale-raw"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tokens.IssueRefreshToken(ctx, live.ID, u.ID, time.Now().Add(time.Hour), "live-raw"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	expireSession(t, db, stale.ID)

	changed, err := sessions.CleanupExpiredSessionsAndTokens(ctx)
	if err != nil || !changed {
		t.Fatalf("first sweep: changed=%v err=%v", changed, err)
	}
	changed, err = sessions.CleanupExpiredSessionsAndTokens(ctx)
	if err != nil || changed {
		t.Fatalf("second sweep must be a no-op: changed=%v err=%v", changed, err)
	}

	got, err := sessions.GetSession(ctx, stale.ID)
	if err != nil || got == nil || got.IsActive {
		t.Fatalf("stale session must be inactive: %+v err=%v", got, err)
	}
	if got.State(time.Now().UTC()) != domain.SessionExpired {
		t.Fatalf("state = %s, want EXPIRED", got.State(time.Now().UTC()))
	}
	if valid, _ := tokens.IsRefreshTokenValid(ctx, hashOf("stale-raw")); valid {
		t.Fatal("token of swept session must be invalid")
	}
	if valid, _ := tokens.IsRefreshTokenValid(ctx, hashOf("live-raw")); !valid {
		t.Fatal("token of live session must survive the sweep")
	}
	active, err := sessions.GetActiveSessions(ctx, u.ID)
	if err != nil || len(active) != 1 || active[0].ID != live.ID {
		t.Fatalf("expected only the live session, got %+v err=%v", active, err)
	}
}

func TestCleanupRevokesExpiredTokenOfLiveSession(t *testing.T) {
	db := newTestDB(t)
	tokens := NewRefreshTokenRepository(db, testPepper)
	ctx := context.Background()
	u := seedUser(t, db, "expired-token@example.com")
	s := seedSession(t, db, u.ID, time.Hour)

	tok, err := tokens.IssueRefreshToken(ctx, s.ID, u.ID, time.Now().Add(time.Hour), "short-raw")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := db.Model(&domain.RefreshToken{}).Where("id = ?", tok.ID).
		Update("expires_at", time.Now().UTC().Add(-time.Second)).Error; err != nil {
		t.Fatalf("expire token: %v", err)
	}

	changed, err := tokens.CleanupExpiredSessionsTokens(ctx)
	if err != nil || !changed {
		t.Fatalf("sweep: changed=%v err=%v", changed, err)
	}
	got, err := tokens.GetRefreshToken(ctx, tok.TokenHash)
	if err != nil || got == nil || got.RevokedAt == nil {
		t.Fatalf("expired token must be revoked: %+v err=%v", got, err)
	}
	if changed, _ := tokens.CleanupExpiredSessionsTokens(ctx); changed {
		t.Fatal("second sweep must be a no-op")
	}
}
