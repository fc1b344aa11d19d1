package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"gorm.io/gorm"
)

type NewUser struct {
	Email        string
	Username     string
	PasswordHash string
}

// UserRepository is the store side of user lookups. Update methods return nil
// when the user does not exist.
type UserRepository interface {
	GetUserByID(ctx context.Context, id uint) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, in NewUser) (*domain.User, error)
	BanUser(ctx context.Context, id uint, reason string, expiresAt *time.Time) (*domain.User, error)
	UnbanUser(ctx context.Context, id uint) (*domain.User, error)
	UpdateProfilePicture(ctx context.Context, id uint, avatar string) (*domain.User, error)
	UpdateProfileBanner(ctx context.Context, id uint, banner string) (*domain.User, error)
	UpdateBio(ctx context.Context, id uint, description string) (*domain.User, error)
	UpdateUsername(ctx context.Context, id uint, username string) (*domain.User, error)
	UpdateEmail(ctx context.Context, id uint, email string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id uint, passwordHash string) (*domain.User, error)
	UpdateStreamToken(ctx context.Context, id uint) (*domain.User, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) GetUserByID(ctx context.Context, id uint) (*domain.User, error) {
	u, err := findUser(r.db.WithContext(ctx).Where("id = ?", id))
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "get_by_id", "error")
		return nil, classify("get user by id", err)
	}
	observability.RecordRepositoryOperation(ctx, "user", "get_by_id", foundStatus(u != nil))
	return u, nil
}

func (r *GormUserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := findUser(r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)))
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "get_by_email", "error")
		return nil, classify("get user by email", err)
	}
	observability.RecordRepositoryOperation(ctx, "user", "get_by_email", foundStatus(u != nil))
	return u, nil
}

// CreateUser returns the existing user when the email is already registered.
func (r *GormUserRepository) CreateUser(ctx context.Context, in NewUser) (*domain.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.PasswordHash == "" {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return nil, classify("create user", invalidArgument("email and password hash are required"))
	}
	var out *domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findUser(tx.Where("email = ?", email))
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}
		u := &domain.User{
			Email:        email,
			Username:     strings.TrimSpace(in.Username),
			PasswordHash: in.PasswordHash,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.Create(u).Error; err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil && errors.Is(classify("create user", err), ErrUniqueViolation) {
		// Lost a race with a concurrent create of the same email.
		if existing, ferr := r.GetUserByEmail(ctx, email); ferr == nil && existing != nil {
			observability.RecordRepositoryOperation(ctx, "user", "create", "success")
			return existing, nil
		}
	}
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return nil, classify("create user", err)
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return out, nil
}

func (r *GormUserRepository) BanUser(ctx context.Context, id uint, reason string, expiresAt *time.Time) (*domain.User, error) {
	var until any
	if expiresAt != nil {
		until = expiresAt.UTC()
	}
	return r.update(ctx, "ban", id, map[string]any{
		"is_banned":      true,
		"ban_reason":     reason,
		"ban_expires_at": until,
	})
}

func (r *GormUserRepository) UnbanUser(ctx context.Context, id uint) (*domain.User, error) {
	return r.update(ctx, "unban", id, map[string]any{
		"is_banned":      false,
		"ban_reason":     nil,
		"ban_expires_at": nil,
	})
}

func (r *GormUserRepository) UpdateProfilePicture(ctx context.Context, id uint, avatar string) (*domain.User, error) {
	return r.update(ctx, "update_avatar", id, map[string]any{"avatar": avatar})
}

func (r *GormUserRepository) UpdateProfileBanner(ctx context.Context, id uint, banner string) (*domain.User, error) {
	return r.update(ctx, "update_banner", id, map[string]any{"profile_banner": banner})
}

func (r *GormUserRepository) UpdateBio(ctx context.Context, id uint, description string) (*domain.User, error) {
	return r.update(ctx, "update_bio", id, map[string]any{"description": description})
}

func (r *GormUserRepository) UpdateUsername(ctx context.Context, id uint, username string) (*domain.User, error) {
	return r.update(ctx, "update_username", id, map[string]any{"username": strings.TrimSpace(username)})
}

func (r *GormUserRepository) UpdateEmail(ctx context.Context, id uint, email string) (*domain.User, error) {
	return r.update(ctx, "update_email", id, map[string]any{"email": normalizeEmail(email)})
}

func (r *GormUserRepository) UpdatePassword(ctx context.Context, id uint, passwordHash string) (*domain.User, error) {
	if passwordHash == "" {
		observability.RecordRepositoryOperation(ctx, "user", "update_password", "error")
		return nil, classify("update password", invalidArgument("password hash is required"))
	}
	return r.update(ctx, "update_password", id, map[string]any{"password_hash": passwordHash})
}

// UpdateStreamToken assigns a fresh random stream key.
func (r *GormUserRepository) UpdateStreamToken(ctx context.Context, id uint) (*domain.User, error) {
	return r.update(ctx, "update_stream_token", id, map[string]any{"stream_token": uuid.NewString()})
}

func (r *GormUserRepository) update(ctx context.Context, op string, id uint, updates map[string]any) (*domain.User, error) {
	var out *domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		u, err := findUser(tx.Where("id = ?", id))
		out = u
		return err
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return nil, classify("user "+op, err)
	}
	observability.RecordRepositoryOperation(ctx, "user", op, foundStatus(out != nil))
	return out, nil
}

func findUser(q *gorm.DB) (*domain.User, error) {
	var u domain.User
	if err := q.First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
