package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/observability"
)

// UserCacheStore holds serialized users under user:{id} and an email index
// under user:email:{email}.
type UserCacheStore interface {
	GetUser(ctx context.Context, id uint) (*domain.User, bool, error)
	GetUserID(ctx context.Context, email string) (uint, bool, error)
	// UpsertUser reports whether it wrote. An unchanged entry is left alone.
	UpsertUser(ctx context.Context, u *domain.User, ttl time.Duration) (bool, error)
	DeleteEmail(ctx context.Context, email string) error
	InvalidateUser(ctx context.Context, id uint, email string) error
}

type NoopUserCacheStore struct{}

func NewNoopUserCacheStore() *NoopUserCacheStore { return &NoopUserCacheStore{} }

func (NoopUserCacheStore) GetUser(context.Context, uint) (*domain.User, bool, error) {
	return nil, false, nil
}

func (NoopUserCacheStore) GetUserID(context.Context, string) (uint, bool, error) {
	return 0, false, nil
}

func (NoopUserCacheStore) UpsertUser(context.Context, *domain.User, time.Duration) (bool, error) {
	return false, nil
}

func (NoopUserCacheStore) DeleteEmail(context.Context, string) error { return nil }

func (NoopUserCacheStore) InvalidateUser(context.Context, uint, string) error { return nil }

type BreakerSettings struct {
	Failures uint32
	OpenFor  time.Duration
}

// RedisUserCacheStore guards every round trip with a circuit breaker. While
// the breaker is open calls fail fast with ErrCacheUnavailable.
type RedisUserCacheStore struct {
	client  redis.UniversalClient
	prefix  string
	breaker *gobreaker.CircuitBreaker
}

func NewRedisUserCacheStore(client redis.UniversalClient, prefix string, settings BreakerSettings, logger *slog.Logger) *RedisUserCacheStore {
	if logger == nil {
		logger = slog.Default()
	}
	failures := settings.Failures
	if failures == 0 {
		failures = 5
	}
	openFor := settings.OpenFor
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "user_cache",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCacheEvent(context.Background(), "user", "breaker_"+to.String())
			logger.Warn("cache breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &RedisUserCacheStore{client: client, prefix: prefix, breaker: breaker}
}

func (s *RedisUserCacheStore) GetUser(ctx context.Context, id uint) (*domain.User, bool, error) {
	var raw []byte
	err := s.do(func() error {
		v, err := s.client.Get(ctx, s.userKey(id)).Bytes()
		if err == redis.Nil {
			return nil
		}
		raw = v
		return err
	})
	if err != nil {
		return nil, false, cacheError("user cache get", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	var u domain.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, false, fmt.Errorf("decode cached user %d: %w", id, err)
	}
	return &u, true, nil
}

func (s *RedisUserCacheStore) GetUserID(ctx context.Context, email string) (uint, bool, error) {
	var raw string
	err := s.do(func() error {
		v, err := s.client.Get(ctx, s.emailKey(email)).Result()
		if err == redis.Nil {
			return nil
		}
		raw = v
		return err
	})
	if err != nil {
		return 0, false, cacheError("user cache get email", err)
	}
	if raw == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode cached user id %q: %w", raw, err)
	}
	return uint(id), true, nil
}

func (s *RedisUserCacheStore) UpsertUser(ctx context.Context, u *domain.User, ttl time.Duration) (bool, error) {
	if u == nil || ttl <= 0 {
		return false, nil
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return false, fmt.Errorf("encode user %d: %w", u.ID, err)
	}
	userKey := s.userKey(u.ID)
	emailKey := s.emailKey(u.Email)
	idValue := strconv.FormatUint(uint64(u.ID), 10)
	var written bool
	err = s.do(func() error {
		pipe := s.client.Pipeline()
		curUser := pipe.Get(ctx, userKey)
		curID := pipe.Get(ctx, emailKey)
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return err
		}
		if b, err := curUser.Bytes(); err == nil && bytes.Equal(b, payload) && curID.Val() == idValue {
			return nil
		}
		tx := s.client.TxPipeline()
		tx.Del(ctx, userKey, emailKey)
		tx.Set(ctx, userKey, payload, ttl)
		tx.Set(ctx, emailKey, idValue, ttl)
		if _, err := tx.Exec(ctx); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, cacheError("user cache upsert", err)
	}
	return written, nil
}

func (s *RedisUserCacheStore) DeleteEmail(ctx context.Context, email string) error {
	err := s.do(func() error { return s.client.Del(ctx, s.emailKey(email)).Err() })
	return cacheError("user cache delete email", err)
}

func (s *RedisUserCacheStore) InvalidateUser(ctx context.Context, id uint, email string) error {
	keys := []string{s.userKey(id)}
	if email != "" {
		keys = append(keys, s.emailKey(email))
	}
	err := s.do(func() error { return s.client.Del(ctx, keys...).Err() })
	return cacheError("user cache invalidate", err)
}

func (s *RedisUserCacheStore) do(fn func() error) error {
	if s.client == nil {
		return nil
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (s *RedisUserCacheStore) userKey(id uint) string {
	return s.key(fmt.Sprintf("user:%d", id))
}

func (s *RedisUserCacheStore) emailKey(email string) string {
	return s.key("user:email:" + normalizeEmail(email))
}

func (s *RedisUserCacheStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}
