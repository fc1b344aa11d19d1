package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
)

// RedisRBACPermissionCacheStore shares permission sets across processes. Epoch
// counters live next to the data so every process sees an invalidation.
type RedisRBACPermissionCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRBACPermissionCacheStore(client redis.UniversalClient, prefix string) *RedisRBACPermissionCacheStore {
	if prefix == "" {
		prefix = "rbac_perm"
	}
	return &RedisRBACPermissionCacheStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisRBACPermissionCacheStore) Get(ctx context.Context, userID uint, scope domain.Scope) ([]PermissionGrant, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	key, err := s.dataKey(ctx, userID, scope)
	if err != nil {
		return nil, false, cacheError("rbac cache epoch", err)
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cacheError("rbac cache get", err)
	}
	var grants []PermissionGrant
	if err := json.Unmarshal(raw, &grants); err != nil {
		return nil, false, fmt.Errorf("decode cached permissions: %w", err)
	}
	return grants, true, nil
}

func (s *RedisRBACPermissionCacheStore) Version(ctx context.Context, userID uint) (CacheVersion, error) {
	if s.client == nil {
		return CacheVersion{}, nil
	}
	v, err := s.readVersion(ctx, s.client, userID)
	if err != nil {
		return CacheVersion{}, cacheError("rbac cache epoch", err)
	}
	return v, nil
}

// Set writes under version only while both epochs still match it. The epoch
// keys are watched so an invalidation racing the write aborts it.
func (s *RedisRBACPermissionCacheStore) Set(ctx context.Context, userID uint, scope domain.Scope, version CacheVersion, grants []PermissionGrant, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	if grants == nil {
		grants = []PermissionGrant{}
	}
	payload, err := json.Marshal(grants)
	if err != nil {
		return err
	}
	key := s.versionedKey(version, userID, scope)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.readVersion(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != version {
			return errStaleCacheVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, s.globalEpochKey(), s.userEpochKey(userID))
	if errors.Is(err, errStaleCacheVersion) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return cacheError("rbac cache set", err)
}

func (s *RedisRBACPermissionCacheStore) InvalidateUser(ctx context.Context, userID uint) error {
	if s.client == nil {
		return nil
	}
	return cacheError("rbac cache invalidate user", s.client.Incr(ctx, s.userEpochKey(userID)).Err())
}

func (s *RedisRBACPermissionCacheStore) InvalidateAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return cacheError("rbac cache invalidate all", s.client.Incr(ctx, s.globalEpochKey()).Err())
}

var errStaleCacheVersion = errors.New("permission cache version moved")

type pipeliner interface {
	Pipeline() redis.Pipeliner
}

func (s *RedisRBACPermissionCacheStore) dataKey(ctx context.Context, userID uint, scope domain.Scope) (string, error) {
	version, err := s.readVersion(ctx, s.client, userID)
	if err != nil {
		return "", err
	}
	return s.versionedKey(version, userID, scope), nil
}

func (s *RedisRBACPermissionCacheStore) readVersion(ctx context.Context, c pipeliner, userID uint) (CacheVersion, error) {
	pipe := c.Pipeline()
	globalEpochCmd := pipe.Get(ctx, s.globalEpochKey())
	userEpochCmd := pipe.Get(ctx, s.userEpochKey(userID))
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return CacheVersion{}, err
	}
	globalEpoch, err := parseEpoch(globalEpochCmd)
	if err != nil {
		return CacheVersion{}, err
	}
	userEpoch, err := parseEpoch(userEpochCmd)
	if err != nil {
		return CacheVersion{}, err
	}
	return CacheVersion{Global: globalEpoch, User: userEpoch}, nil
}

func (s *RedisRBACPermissionCacheStore) versionedKey(version CacheVersion, userID uint, scope domain.Scope) string {
	return s.prefix + ":" + buildRBACPermissionCacheKey(version.Global, version.User, userID, scope)
}

func parseEpoch(cmd *redis.StringCmd) (uint64, error) {
	v, err := cmd.Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cache epoch %q: %w", v, err)
	}
	return n, nil
}

func (s *RedisRBACPermissionCacheStore) globalEpochKey() string {
	return s.prefix + ":epoch:global"
}

func (s *RedisRBACPermissionCacheStore) userEpochKey(userID uint) string {
	return fmt.Sprintf("%s:epoch:user:%d", s.prefix, userID)
}
