package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/streaming-identity-core/internal/database"
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email string) *domain.User {
	t.Helper()
	u, err := NewUserRepository(db).CreateUser(context.Background(), NewUser{
		Email:        email,
		Username:     strings.Split(email, "@")[0],
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return u
}

func seedSession(t *testing.T, db *gorm.DB, userID uint, ttl time.Duration) *domain.Session {
	t.Helper()
	s, err := NewSessionRepository(db).CreateSession(context.Background(), domain.NewSession{
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl),
		IPAddress: strPtr("127.0.0.1"),
		UserAgent: strPtr("test-agent"),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func expireSession(t *testing.T, db *gorm.DB, sessionID string) {
	t.Helper()
	err := db.Model(&domain.Session{}).Where("id = ?", sessionID).
		Update("expires_at", time.Now().UTC().Add(-time.Minute)).Error
	if err != nil {
		t.Fatalf("expire session: %v", err)
	}
}

func strPtr(v string) *string { return &v }
