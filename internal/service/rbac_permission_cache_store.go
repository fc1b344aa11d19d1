package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
)

// PermissionGrant is the cached form of a permission a user holds in a scope.
type PermissionGrant struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// CacheVersion names the invalidation epochs a permission set was read under.
type CacheVersion struct {
	Global uint64
	User   uint64
}

// RBACPermissionCacheStore caches effective permission sets per (user, scope).
// Invalidation bumps an epoch instead of deleting keys, so stale entries
// become unreachable and age out on their TTL.
//
// Readers take Version before loading from the store and pass it to Set. Set
// drops the write when an invalidation happened in between.
type RBACPermissionCacheStore interface {
	Version(ctx context.Context, userID uint) (CacheVersion, error)
	Get(ctx context.Context, userID uint, scope domain.Scope) ([]PermissionGrant, bool, error)
	Set(ctx context.Context, userID uint, scope domain.Scope, version CacheVersion, grants []PermissionGrant, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID uint) error
	InvalidateAll(ctx context.Context) error
}

type NoopRBACPermissionCacheStore struct{}

func NewNoopRBACPermissionCacheStore() *NoopRBACPermissionCacheStore {
	return &NoopRBACPermissionCacheStore{}
}

func (s *NoopRBACPermissionCacheStore) Get(context.Context, uint, domain.Scope) ([]PermissionGrant, bool, error) {
	return nil, false, nil
}

func (s *NoopRBACPermissionCacheStore) Version(context.Context, uint) (CacheVersion, error) {
	return CacheVersion{}, nil
}

func (s *NoopRBACPermissionCacheStore) Set(context.Context, uint, domain.Scope, CacheVersion, []PermissionGrant, time.Duration) error {
	return nil
}

func (s *NoopRBACPermissionCacheStore) InvalidateUser(context.Context, uint) error { return nil }

func (s *NoopRBACPermissionCacheStore) InvalidateAll(context.Context) error { return nil }

type rbacCacheEntry struct {
	grants    []PermissionGrant
	userID    uint
	expiresAt time.Time
}

type InMemoryRBACPermissionCacheStore struct {
	mu          sync.RWMutex
	data        map[string]rbacCacheEntry
	globalEpoch uint64
	userEpoch   map[uint]uint64
}

func NewInMemoryRBACPermissionCacheStore() *InMemoryRBACPermissionCacheStore {
	return &InMemoryRBACPermissionCacheStore{
		data:      make(map[string]rbacCacheEntry),
		userEpoch: make(map[uint]uint64),
	}
}

func (s *InMemoryRBACPermissionCacheStore) Get(_ context.Context, userID uint, scope domain.Scope) ([]PermissionGrant, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	key := s.cacheKeyLocked(userID, scope)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return append([]PermissionGrant(nil), entry.grants...), true, nil
}

func (s *InMemoryRBACPermissionCacheStore) Version(_ context.Context, userID uint) (CacheVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked(userID), nil
}

func (s *InMemoryRBACPermissionCacheStore) Set(_ context.Context, userID uint, scope domain.Scope, version CacheVersion, grants []PermissionGrant, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.versionLocked(userID) != version {
		return nil
	}
	s.data[s.cacheKeyLocked(userID, scope)] = rbacCacheEntry{
		grants:    append([]PermissionGrant(nil), grants...),
		userID:    userID,
		expiresAt: time.Now().UTC().Add(ttl),
	}
	return nil
}

// InvalidateUser also drops the user's entries since nothing can reach them.
func (s *InMemoryRBACPermissionCacheStore) InvalidateUser(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userEpoch[userID]++
	for k, e := range s.data {
		if e.userID == userID {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *InMemoryRBACPermissionCacheStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	s.data = make(map[string]rbacCacheEntry)
	return nil
}

func (s *InMemoryRBACPermissionCacheStore) versionLocked(userID uint) CacheVersion {
	return CacheVersion{Global: s.globalEpoch, User: s.userEpoch[userID]}
}

func (s *InMemoryRBACPermissionCacheStore) cacheKeyLocked(userID uint, scope domain.Scope) string {
	return buildRBACPermissionCacheKey(s.globalEpoch, s.userEpoch[userID], userID, scope)
}

func buildRBACPermissionCacheKey(globalEpoch, userEpoch uint64, userID uint, scope domain.Scope) string {
	return fmt.Sprintf("rbacperm:g%d:u%d:user:%d:%s", globalEpoch, userEpoch, userID, scope.String())
}
