// --- File: internal/storage/cache/tokenstore.go ---
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
type CachedTokenStore struct {
	realStore bridge.TokenStore
	cache     CacheClient
	ttl       time.Duration
	namespace string
	group     singleflight.Group
	logger    *slog.Logger
}

var _ bridge.AtomicTokenStore = (*CachedTokenStore)(nil)

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore bridge.TokenStore, cache CacheClient, namespace string, ttl time.Duration, logger *slog.Logger) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		namespace: namespace,
		logger:    logger.With("component", "CachedTokenStore"),
	}
}

// --- READ PATH (Read-Aside) ---

type fetchResult struct {
	record bridge.TokenRecord
	found  bool
}

func (s *CachedTokenStore) Get(ctx context.Context) (bridge.TokenRecord, bool, error) {
	key := s.cacheKey()

	// 1. Try Cache
	var cached bridge.TokenRecord
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, true, nil
	}

	// 2. Fallback to the durable store; concurrent misses share one read.
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		rec, found, err := s.realStore.Get(ctx)
		if err != nil {
			return nil, err
		}
		// 3. Populate Cache (Fire and Forget). Absence is never cached so the
		// first refresh is visible immediately.
		if found {
			_ = s.cache.Set(ctx, key, rec, s.ttl)
		}
		return fetchResult{record: rec, found: found}, nil
	})
	if err != nil {
		return bridge.TokenRecord{}, false, err
	}
	res := v.(fetchResult)
	return res.record, res.found, nil
}

// --- WRITE PATH (Write-Through) ---

// Put writes the durable store first. Once that succeeded the new record is
// authoritative, so cache failures are logged, never returned.
func (s *CachedTokenStore) Put(ctx context.Context, record bridge.TokenRecord) error {
	// 1. Write to Source of Truth
	if err := s.realStore.Put(ctx, record); err != nil {
		return err
	}
	// 2. Replace the cached copy
	s.refresh(ctx, record)
	return nil
}

// Update delegates the cycle to the durable store when it can run it
// atomically, then caches the written record.
func (s *CachedTokenStore) Update(ctx context.Context, fn bridge.UpdateFunc) error {
	var (
		written bridge.TokenRecord
		wrote   bool
	)
	track := func(cur bridge.TokenRecord, found bool) (bridge.TokenRecord, bool, error) {
		next, write, err := fn(cur, found)
		written, wrote = next, write && err == nil
		return next, write, err
	}

	if atomic, ok := s.realStore.(bridge.AtomicTokenStore); ok {
		if err := atomic.Update(ctx, track); err != nil {
			return err
		}
	} else {
		cur, found, err := s.realStore.Get(ctx)
		if err != nil {
			return err
		}
		next, write, err := track(cur, found)
		if err != nil || !write {
			return err
		}
		if err := s.realStore.Put(ctx, next); err != nil {
			return err
		}
	}

	if wrote {
		s.refresh(ctx, written)
	}
	return nil
}

// refresh overwrites the cache entry, falling back to deleting it. If both
// fail the entry may be stale until its TTL expires.
func (s *CachedTokenStore) refresh(ctx context.Context, record bridge.TokenRecord) {
	key := s.cacheKey()
	setErr := s.cache.Set(ctx, key, record, s.ttl)
	if setErr == nil {
		return
	}
	if delErr := s.cache.Del(ctx, key); delErr != nil {
		s.logger.Error("Cache entry could not be replaced or dropped; serving stale until TTL",
			"key", key, "ttl", s.ttl, "set_err", setErr, "del_err", delErr)
		return
	}
	s.logger.Warn("Cache write failed; entry dropped", "key", key, "err", setErr)
}

func (s *CachedTokenStore) cacheKey() string {
	return fmt.Sprintf("pushbridge:token:%s", s.namespace)
}
