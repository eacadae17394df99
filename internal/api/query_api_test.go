package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-bridge/internal/api"
	"github.com/tinywideclouds/go-push-bridge/internal/query"
	"github.com/tinywideclouds/go-push-bridge/internal/storage"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/filestore"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupQueryAPI(t *testing.T) (*api.QueryAPI, *storage.SerializedStore) {
	t.Helper()
	fs, err := filestore.NewFileStore(t.TempDir(), "device")
	require.NoError(t, err)
	store := storage.NewSerializedStore(fs)
	return api.NewQueryAPI(query.NewService(store, newTestLogger()), newTestLogger()), store
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestGetToken(t *testing.T) {
	ctx := context.Background()

	t.Run("No token yet", func(t *testing.T) {
		a, _ := setupQueryAPI(t)
		w := httptest.NewRecorder()
		a.GetToken(w, httptest.NewRequest(http.MethodGet, "/api/v1/token", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, query.TokenResult{Success: false, Error: "No token found"}, decode[query.TokenResult](t, w))
	})

	t.Run("Stored token", func(t *testing.T) {
		a, store := setupQueryAPI(t)
		require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "abc", NeedsSync: true}))

		w := httptest.NewRecorder()
		a.GetToken(w, httptest.NewRequest(http.MethodGet, "/api/v1/token", nil))

		assert.Equal(t, query.TokenResult{Success: true, Token: "abc"}, decode[query.TokenResult](t, w))
	})
}

func TestSyncFlow(t *testing.T) {
	ctx := context.Background()
	a, store := setupQueryAPI(t)
	require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "abc", NeedsSync: true}))

	w := httptest.NewRecorder()
	a.GetSyncState(w, httptest.NewRequest(http.MethodGet, "/api/v1/token/sync", nil))
	state := decode[query.SyncStateResult](t, w)
	assert.True(t, state.NeedsSync)

	t.Run("Stale ack refused", func(t *testing.T) {
		w := httptest.NewRecorder()
		a.AckSync(w, httptest.NewRequest(http.MethodPost, "/api/v1/token/sync/ack", strings.NewReader(`{"token":"old"}`)))
		res := decode[query.SyncStateResult](t, w)
		assert.False(t, res.Success)
		assert.Equal(t, "Token changed since sync", res.Error)
	})

	t.Run("Empty body acks current token", func(t *testing.T) {
		w := httptest.NewRecorder()
		a.AckSync(w, httptest.NewRequest(http.MethodPost, "/api/v1/token/sync/ack", http.NoBody))
		res := decode[query.SyncStateResult](t, w)
		assert.True(t, res.Success)
		assert.False(t, res.NeedsSync)
	})

	t.Run("Bad json", func(t *testing.T) {
		w := httptest.NewRecorder()
		a.AckSync(w, httptest.NewRequest(http.MethodPost, "/api/v1/token/sync/ack", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
