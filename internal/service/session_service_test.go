package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
)

func seedLiveSession(t *testing.T, sessions repository.SessionRepository, userID uint, agent string) *domain.Session {
	t.Helper()
	s, err := sessions.CreateSession(context.Background(), domain.NewSession{
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		UserAgent: ptr(agent),
		IPAddress: ptr("10.0.0.1"),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func seedServiceUser(t *testing.T, db *gorm.DB, email string) *domain.User {
	t.Helper()
	u, err := repository.NewUserRepository(db).CreateUser(context.Background(), repository.NewUser{Email: email, Username: "sess_user", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestListActiveSessionsMarksCurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sessions := repository.NewSessionRepository(db)
	svc := NewSessionService(sessions, discardLogger())
	u := seedServiceUser(t, db, "sessions@example.com")

	phone := seedLiveSession(t, sessions, u.ID, "phone")
	desk := seedLiveSession(t, sessions, u.ID, "desktop")

	views, err := svc.ListActiveSessions(ctx, u.ID, desk.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(views))
	}
	for _, v := range views {
		if v.State != domain.SessionActive {
			t.Fatalf("session %s state = %s", v.ID, v.State)
		}
		if v.IsCurrent != (v.ID == desk.ID) {
			t.Fatalf("session %s current=%v", v.ID, v.IsCurrent)
		}
		if v.ID == phone.ID && (v.UserAgent != "phone" || v.IP != "10.0.0.1" || v.Device != "") {
			t.Fatalf("unexpected view %+v", v)
		}
	}
}

func TestRevokeSessionEnforcesOwnership(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sessions := repository.NewSessionRepository(db)
	svc := NewSessionService(sessions, discardLogger())
	owner := seedServiceUser(t, db, "owner@example.com")
	other := seedServiceUser(t, db, "other@example.com")
	s := seedLiveSession(t, sessions, owner.ID, "tv")

	if _, err := svc.RevokeSession(ctx, other.ID, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign revoke: expected not found, got %v", err)
	}
	if _, err := svc.RevokeSession(ctx, owner.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session: expected not found, got %v", err)
	}
	status, err := svc.RevokeSession(ctx, owner.ID, s.ID)
	if err != nil || status != "revoked" {
		t.Fatalf("revoke: status=%q err=%v", status, err)
	}
	status, err = svc.RevokeSession(ctx, owner.ID, s.ID)
	if err != nil || status != "already_revoked" {
		t.Fatalf("second revoke: status=%q err=%v", status, err)
	}
	views, err := svc.ListActiveSessions(ctx, owner.ID, "")
	if err != nil || len(views) != 0 {
		t.Fatalf("revoked session still listed: %+v err=%v", views, err)
	}
}

func TestRevokeAllAndSweep(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sessions := repository.NewSessionRepository(db)
	svc := NewSessionService(sessions, discardLogger())
	u := seedServiceUser(t, db, "sweep@example.com")
	seedLiveSession(t, sessions, u.ID, "a")
	stale := seedLiveSession(t, sessions, u.ID, "b")

	if err := db.Model(&domain.Session{}).Where("id = ?", stale.ID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("expire: %v", err)
	}
	changed, err := svc.Sweep(ctx)
	if err != nil || !changed {
		t.Fatalf("sweep: changed=%v err=%v", changed, err)
	}
	changed, err = svc.Sweep(ctx)
	if err != nil || changed {
		t.Fatalf("second sweep must be a no-op: changed=%v err=%v", changed, err)
	}

	changed, err = svc.RevokeAllSessions(ctx, u.ID)
	if err != nil || !changed {
		t.Fatalf("revoke all: changed=%v err=%v", changed, err)
	}
	changed, err = svc.RevokeAllSessions(ctx, u.ID)
	if err != nil || changed {
		t.Fatalf("revoke all twice: changed=%v err=%v", changed, err)
	}
}
