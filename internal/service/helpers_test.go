package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/streaming-identity-core/internal/database"
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
)

const testPepper = "service-test-pepper"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", "#", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{
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

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingUserRoles struct {
	repository.UserRoleRepository
	listPermissions atomic.Int32
	hasPermission   atomic.Int32
	// afterList runs once between the store read and the return, so tests
	// can interleave a membership change with an in-flight read.
	afterList func()
}

func (c *countingUserRoles) ListPermissions(ctx context.Context, userID uint, scope domain.Scope) ([]domain.Permission, error) {
	c.listPermissions.Add(1)
	perms, err := c.UserRoleRepository.ListPermissions(ctx, userID, scope)
	if hook := c.afterList; hook != nil {
		c.afterList = nil
		hook()
	}
	return perms, err
}

func (c *countingUserRoles) HasPermission(ctx context.Context, userID uint, perm domain.PermissionRef, scope domain.Scope) (bool, error) {
	c.hasPermission.Add(1)
	return c.UserRoleRepository.HasPermission(ctx, userID, perm, scope)
}

type countingUsers struct {
	repository.UserRepository
	byID    atomic.Int32
	byEmail atomic.Int32
}

func (c *countingUsers) GetUserByID(ctx context.Context, id uint) (*domain.User, error) {
	c.byID.Add(1)
	return c.UserRepository.GetUserByID(ctx, id)
}

func (c *countingUsers) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	c.byEmail.Add(1)
	return c.UserRepository.GetUserByEmail(ctx, email)
}

type countingInvalidator struct{ calls atomic.Int32 }

func (c *countingInvalidator) InvalidateAll(context.Context) error {
	c.calls.Add(1)
	return nil
}
