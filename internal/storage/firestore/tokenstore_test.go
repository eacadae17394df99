// --- File: internal/storage/firestore/tokenstore_test.go ---
//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

func setupSuite(t *testing.T) (context.Context, *firestore.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-token-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, client
}

func TestTokenStore_Integration(t *testing.T) {
	ctx, client := setupSuite(t)
	store := fs.NewFirestoreStore(client, "", "device-a")

	t.Run("Absent before first refresh", func(t *testing.T) {
		_, found, err := store.Get(ctx)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Full replace lifecycle", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "t1", NeedsSync: true}))
		require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "t2", NeedsSync: false}))

		rec, found, err := store.Get(ctx)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, bridge.TokenRecord{Token: "t2", NeedsSync: false}, rec)
	})

	t.Run("Update clears the flag in a transaction", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "t3", NeedsSync: true}))
		err := store.Update(ctx, func(cur bridge.TokenRecord, found bool) (bridge.TokenRecord, bool, error) {
			require.True(t, found)
			return bridge.TokenRecord{Token: cur.Token, NeedsSync: false}, true, nil
		})
		require.NoError(t, err)

		rec, _, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, bridge.TokenRecord{Token: "t3", NeedsSync: false}, rec)
	})

	t.Run("Update aborts on fn error", func(t *testing.T) {
		errDeclined := errors.New("declined")
		err := store.Update(ctx, func(bridge.TokenRecord, bool) (bridge.TokenRecord, bool, error) {
			return bridge.TokenRecord{Token: "ignored"}, true, errDeclined
		})
		assert.ErrorIs(t, err, errDeclined)

		rec, _, err := store.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "t3", rec.Token)
	})

	t.Run("Namespaces are isolated", func(t *testing.T) {
		other := fs.NewFirestoreStore(client, "", "device-b")
		_, found, err := other.Get(ctx)
		require.NoError(t, err)
		assert.False(t, found)
	})
}
