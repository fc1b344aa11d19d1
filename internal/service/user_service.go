package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
)

// DefaultUserCacheTTL is the lifetime of both user cache keys.
const DefaultUserCacheTTL = time.Hour

// UserService is a read-through cache over the user store. The store is the
// source of truth: cache failures degrade to store reads and never surface.
type UserService struct {
	store       repository.UserRepository
	cache       UserCacheStore
	negative    NegativeLookupCacheStore
	ttl         time.Duration
	negativeTTL time.Duration
	group       singleflight.Group
	logger      *slog.Logger
}

type UserServiceOptions struct {
	TTL         time.Duration
	NegativeTTL time.Duration
}

func NewUserService(store repository.UserRepository, cache UserCacheStore, negative NegativeLookupCacheStore, opts UserServiceOptions, logger *slog.Logger) *UserService {
	if cache == nil {
		cache = NewNoopUserCacheStore()
	}
	if negative == nil {
		negative = NewNoopNegativeLookupCacheStore()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultUserCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		store:       store,
		cache:       cache,
		negative:    negative,
		ttl:         opts.TTL,
		negativeTTL: opts.NegativeTTL,
		logger:      logger,
	}
}

// GetUserByID returns nil when the user does not exist.
func (s *UserService) GetUserByID(ctx context.Context, id uint) (*domain.User, error) {
	u, ok, err := s.cache.GetUser(ctx, id)
	if err != nil {
		s.cacheFailure(ctx, "get_user", err)
	} else if ok {
		observability.RecordCacheEvent(ctx, "user", "hit")
		return u, nil
	}
	observability.RecordCacheEvent(ctx, "user", "miss")
	key := strconv.FormatUint(uint64(id), 10)
	if s.knownMissing(ctx, negativeUserByID, key) {
		return nil, nil
	}
	return s.sharedLoad(ctx, "id:"+key, func(ctx context.Context) (*domain.User, error) {
		u, err := s.store.GetUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			s.rememberMissing(ctx, negativeUserByID, key)
			return nil, nil
		}
		s.upsert(ctx, u)
		return u, nil
	})
}

// sharedLoad collapses concurrent loads of one key. The load runs detached
// from any single caller's cancellation; each caller still stops waiting when
// its own ctx is done.
func (s *UserService) sharedLoad(ctx context.Context, key string, load func(context.Context) (*domain.User, error)) (*domain.User, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		u, err := load(detached)
		if u == nil {
			return nil, err
		}
		return u, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil || res.Val == nil {
			return nil, res.Err
		}
		return res.Val.(*domain.User), nil
	}
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = normalizeEmail(email)
	if id, ok, err := s.cache.GetUserID(ctx, email); err != nil {
		s.cacheFailure(ctx, "get_user_id", err)
	} else if ok {
		u, hit, err := s.cache.GetUser(ctx, id)
		if err != nil {
			s.cacheFailure(ctx, "get_user", err)
		} else if hit && u.Email == email {
			observability.RecordCacheEvent(ctx, "user", "hit")
			return u, nil
		}
	}
	observability.RecordCacheEvent(ctx, "user", "miss")
	if s.knownMissing(ctx, negativeUserByEmail, email) {
		return nil, nil
	}
	return s.sharedLoad(ctx, "email:"+email, func(ctx context.Context) (*domain.User, error) {
		u, err := s.store.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if u == nil {
			s.rememberMissing(ctx, negativeUserByEmail, email)
			return nil, nil
		}
		s.upsert(ctx, u)
		return u, nil
	})
}

// CreateUser validates and hashes the credentials. Registering a known email
// returns the existing user.
func (s *UserService) CreateUser(ctx context.Context, email, username, password string) (*domain.User, error) {
	em, err := domain.NewEmail(email)
	if err != nil {
		return nil, err
	}
	un, err := domain.NewUsername(username)
	if err != nil {
		return nil, err
	}
	pw, err := domain.NewPassword(password)
	if err != nil {
		return nil, err
	}
	hash, err := pw.Hash()
	if err != nil {
		return nil, err
	}
	u, err := s.store.CreateUser(ctx, repository.NewUser{Email: em.String(), Username: un.String(), PasswordHash: hash})
	if err != nil {
		return nil, err
	}
	s.forgetMissing(ctx, negativeUserByEmail, u.Email)
	s.forgetMissing(ctx, negativeUserByID, strconv.FormatUint(uint64(u.ID), 10))
	s.upsert(ctx, u)
	return u, nil
}

func (s *UserService) BanUser(ctx context.Context, id uint, reason string, expiresAt *time.Time) (*domain.User, error) {
	u, err := s.write(ctx, "ban", func() (*domain.User, error) {
		return s.store.BanUser(ctx, id, strings.TrimSpace(reason), expiresAt)
	})
	if err == nil {
		observability.Audit(ctx, s.logger, "user.banned", "user_id", id, "expires_at", expiresAt)
	}
	return u, err
}

func (s *UserService) UnbanUser(ctx context.Context, id uint) (*domain.User, error) {
	u, err := s.write(ctx, "unban", func() (*domain.User, error) { return s.store.UnbanUser(ctx, id) })
	if err == nil {
		observability.Audit(ctx, s.logger, "user.unbanned", "user_id", id)
	}
	return u, err
}

func (s *UserService) UpdateProfilePicture(ctx context.Context, id uint, avatar string) (*domain.User, error) {
	return s.write(ctx, "update_avatar", func() (*domain.User, error) {
		return s.store.UpdateProfilePicture(ctx, id, strings.TrimSpace(avatar))
	})
}

func (s *UserService) UpdateProfileBanner(ctx context.Context, id uint, banner string) (*domain.User, error) {
	return s.write(ctx, "update_banner", func() (*domain.User, error) {
		return s.store.UpdateProfileBanner(ctx, id, strings.TrimSpace(banner))
	})
}

func (s *UserService) UpdateBio(ctx context.Context, id uint, description string) (*domain.User, error) {
	d, err := domain.NewDescription(description)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "update_bio", func() (*domain.User, error) { return s.store.UpdateBio(ctx, id, d.String()) })
}

func (s *UserService) UpdateUsername(ctx context.Context, id uint, username string) (*domain.User, error) {
	un, err := domain.NewUsername(username)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "update_username", func() (*domain.User, error) {
		return s.store.UpdateUsername(ctx, id, un.String())
	})
}

// UpdateEmail re-keys the email index; the old address stops resolving.
func (s *UserService) UpdateEmail(ctx context.Context, id uint, email string) (*domain.User, error) {
	em, err := domain.NewEmail(email)
	if err != nil {
		return nil, err
	}
	prev, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, ErrNotFound
	}
	u, err := s.write(ctx, "update_email", func() (*domain.User, error) { return s.store.UpdateEmail(ctx, id, em.String()) })
	if err != nil {
		return nil, err
	}
	if prev.Email != u.Email {
		if err := s.cache.DeleteEmail(ctx, prev.Email); err != nil {
			s.cacheFailure(ctx, "delete_email", err)
		}
		s.forgetMissing(ctx, negativeUserByEmail, u.Email)
	}
	return u, nil
}

func (s *UserService) UpdatePassword(ctx context.Context, id uint, password string) (*domain.User, error) {
	pw, err := domain.NewPassword(password)
	if err != nil {
		return nil, err
	}
	hash, err := pw.Hash()
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "update_password", func() (*domain.User, error) { return s.store.UpdatePassword(ctx, id, hash) })
}

func (s *UserService) UpdateStreamToken(ctx context.Context, id uint) (*domain.User, error) {
	return s.write(ctx, "update_stream_token", func() (*domain.User, error) { return s.store.UpdateStreamToken(ctx, id) })
}

// InvalidateUser drops both cache keys of the user.
func (s *UserService) InvalidateUser(ctx context.Context, id uint) error {
	var email string
	if u, ok, err := s.cache.GetUser(ctx, id); err == nil && ok {
		email = u.Email
	} else if u, err := s.store.GetUserByID(ctx, id); err == nil && u != nil {
		email = u.Email
	}
	if err := s.cache.InvalidateUser(ctx, id, email); err != nil {
		s.cacheFailure(ctx, "invalidate", err)
		return err
	}
	return nil
}

// write runs a store mutation and then refreshes the cache. An unknown user
// yields ErrNotFound.
func (s *UserService) write(ctx context.Context, op string, fn func() (*domain.User, error)) (*domain.User, error) {
	u, err := fn()
	if err != nil {
		s.logger.WarnContext(ctx, "user update failed", "op", op, "error", err)
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	s.upsert(ctx, u)
	return u, nil
}

func (s *UserService) upsert(ctx context.Context, u *domain.User) {
	written, err := s.cache.UpsertUser(ctx, u, s.ttl)
	if err != nil {
		s.cacheFailure(ctx, "upsert", err)
		return
	}
	if written {
		observability.RecordCacheEvent(ctx, "user", "write")
	} else {
		observability.RecordCacheEvent(ctx, "user", "unchanged")
	}
}

func (s *UserService) knownMissing(ctx context.Context, namespace, key string) bool {
	if s.negativeTTL <= 0 {
		return false
	}
	hit, err := s.negative.Get(ctx, namespace, key)
	if err != nil {
		s.cacheFailure(ctx, "negative_get", err)
		return false
	}
	if hit {
		observability.RecordCacheEvent(ctx, "user_negative", "hit")
	}
	return hit
}

func (s *UserService) rememberMissing(ctx context.Context, namespace, key string) {
	if s.negativeTTL <= 0 {
		return
	}
	if err := s.negative.Set(ctx, namespace, key, s.negativeTTL); err != nil {
		s.cacheFailure(ctx, "negative_set", err)
	}
}

func (s *UserService) forgetMissing(ctx context.Context, namespace, key string) {
	if err := s.negative.Delete(ctx, namespace, key); err != nil {
		s.cacheFailure(ctx, "negative_delete", err)
	}
}

func (s *UserService) cacheFailure(ctx context.Context, op string, err error) {
	event := "error"
	if errors.Is(err, ErrCacheUnavailable) {
		event = "unavailable"
	}
	observability.RecordCacheEvent(ctx, "user", event)
	s.logger.WarnContext(ctx, "user cache failure", "op", op, "error", err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
