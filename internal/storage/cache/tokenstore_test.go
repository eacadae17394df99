// --- File: internal/storage/cache/tokenstore_test.go ---
package cache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/cache"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/filestore"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	if fill, ok := args.Get(1).(bridge.TokenRecord); ok {
		*(dest.(*bridge.TokenRecord)) = fill
	}
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Put(ctx context.Context, record bridge.TokenRecord) error {
	return m.Called(ctx, record).Error(0)
}
func (m *MockRealStore) Get(ctx context.Context) (bridge.TokenRecord, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(bridge.TokenRecord), args.Bool(1), args.Error(2)
}

const cacheKey = "pushbridge:token:device"

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memCache is a map-backed CacheClient whose writes can be made to fail.
type memCache struct {
	mu      sync.Mutex
	entries map[string]bridge.TokenRecord
	failSet bool
	failDel bool
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]bridge.TokenRecord)}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.entries[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	*(dest.(*bridge.TokenRecord)) = rec
	return nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return errors.New("redis down")
	}
	c.entries[key] = value.(bridge.TokenRecord)
	return nil
}

func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failDel {
		return errors.New("redis down")
	}
	delete(c.entries, key)
	return nil
}

func newFileBacked(t *testing.T) *filestore.FileStore {
	t.Helper()
	fs, err := filestore.NewFileStore(t.TempDir(), "device")
	require.NoError(t, err)
	return fs
}

func TestCachedStore_WriteThrough(t *testing.T) {
	ctx := context.Background()

	t.Run("Put writes durable store then replaces cache entry", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, "device", time.Hour, discardLogger)

		rec := bridge.TokenRecord{Token: "t2", NeedsSync: true}
		mockDB.On("Put", ctx, rec).Return(nil).Once()
		mockCache.On("Set", ctx, cacheKey, rec, time.Hour).Return(nil).Once()

		require.NoError(t, store.Put(ctx, rec))
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
		mockCache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})

	t.Run("Failed durable write leaves cache untouched", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, "device", time.Hour, discardLogger)

		rec := bridge.TokenRecord{Token: "t3", NeedsSync: true}
		mockDB.On("Put", ctx, rec).Return(errors.New("disk full")).Once()

		err := store.Put(ctx, rec)
		require.Error(t, err)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		mockCache.AssertNotCalled(t, "Del", ctx, cacheKey)
	})

	t.Run("Cache failures after a durable write are not storage failures", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, "device", time.Hour, discardLogger)

		rec := bridge.TokenRecord{Token: "t4", NeedsSync: true}
		mockDB.On("Put", ctx, rec).Return(nil).Once()
		mockCache.On("Set", ctx, cacheKey, rec, time.Hour).Return(errors.New("redis down")).Once()
		mockCache.On("Del", ctx, cacheKey).Return(errors.New("redis down")).Once()

		assert.NoError(t, store.Put(ctx, rec))
		mockCache.AssertExpectations(t)
	})
}

func TestCachedStore_RefreshVisibleWhenDeleteFails(t *testing.T) {
	ctx := context.Background()
	durable := newFileBacked(t)
	mem := newMemCache()
	store := cache.NewCachedTokenStore(durable, mem, "device", 24*time.Hour, discardLogger)

	require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "t1", NeedsSync: true}))
	rec, _, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "t1", rec.Token)

	mem.failDel = true
	require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "t2", NeedsSync: true}))

	rec, found, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, bridge.TokenRecord{Token: "t2", NeedsSync: true}, rec)

	t.Run("Set failure falls back to dropping the entry", func(t *testing.T) {
		mem.failDel = false
		mem.failSet = true
		require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "t3", NeedsSync: true}))

		var cached bridge.TokenRecord
		assert.ErrorIs(t, mem.Get(ctx, cacheKey, &cached), cache.ErrCacheMiss)
		rec, _, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "t3", rec.Token)
	})
}

func TestCachedStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("Delegates to atomic backend and caches the result", func(t *testing.T) {
		durable := newFileBacked(t)
		mem := newMemCache()
		store := cache.NewCachedTokenStore(durable, mem, "device", time.Hour, discardLogger)
		require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "t1", NeedsSync: true}))

		err := store.Update(ctx, func(cur bridge.TokenRecord, found bool) (bridge.TokenRecord, bool, error) {
			require.True(t, found)
			return bridge.TokenRecord{Token: cur.Token, NeedsSync: false}, true, nil
		})
		require.NoError(t, err)

		want := bridge.TokenRecord{Token: "t1", NeedsSync: false}
		onDisk, _, err := durable.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, onDisk)
		var cached bridge.TokenRecord
		require.NoError(t, mem.Get(ctx, cacheKey, &cached))
		assert.Equal(t, want, cached)
	})

	t.Run("Declined update leaves cache alone", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, "device", time.Hour, discardLogger)

		mockDB.On("Get", ctx).Return(bridge.TokenRecord{Token: "t1"}, true, nil)
		errDeclined := errors.New("declined")
		err := store.Update(ctx, func(bridge.TokenRecord, bool) (bridge.TokenRecord, bool, error) {
			return bridge.TokenRecord{}, false, errDeclined
		})
		assert.ErrorIs(t, err, errDeclined)
		mockDB.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCachedStore_ReadAside(t *testing.T) {
	ctx := context.Background()

	t.Run("Cache hit skips durable store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, "device", time.Hour, discardLogger)

		hit := bridge.TokenRecord{Token: "cached", NeedsSync: true}
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(nil, hit)

		rec, found, err := store.Get(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, hit, rec)
		mockDB.AssertNotCalled(t, "Get", mock.Anything)
	})

	t.Run("Cache miss reads durable store and refills", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, "device", time.Hour, discardLogger)

		fresh := bridge.TokenRecord{Token: "fresh", NeedsSync: false}
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(cache.ErrCacheMiss, nil)
		mockDB.On("Get", ctx).Return(fresh, true, nil)
		mockCache.On("Set", ctx, cacheKey, fresh, time.Hour).Return(nil)

		rec, found, err := store.Get(ctx)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, fresh, rec)
		mockCache.AssertExpectations(t)
	})

	t.Run("Absent record is not cached", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockDB, mockCache, "device", time.Hour, discardLogger)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(cache.ErrCacheMiss, nil)
		mockDB.On("Get", ctx).Return(bridge.TokenRecord{}, false, nil)

		_, found, err := store.Get(ctx)
		require.NoError(t, err)
		assert.False(t, found)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
