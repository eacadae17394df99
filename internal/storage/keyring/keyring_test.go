package keyring_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/keyring"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

func TestKeyringStore(t *testing.T) {
	gokeyring.MockInit()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	ctx := context.Background()

	store, err := keyring.NewKeyringStore("push-bridge-test", "device")
	require.NoError(t, err)

	_, found, err := store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	rec := bridge.TokenRecord{Token: "apns-token", NeedsSync: true}
	require.NoError(t, store.Put(ctx, rec))

	got, found, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)

	// A second store on the same service/namespace sees the same secret.
	again, err := keyring.NewKeyringStore("push-bridge-test", "device")
	require.NoError(t, err)
	got, found, err = again.Get(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)
}

func TestKeyringStore_BackendFailure(t *testing.T) {
	gokeyring.MockInitWithError(errors.New("secret service unavailable"))
	t.Cleanup(gokeyring.MockInit)
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	store, err := keyring.NewKeyringStore("push-bridge-test", "device")
	require.NoError(t, err)

	err = store.Put(context.Background(), bridge.TokenRecord{Token: "t"})
	assert.Error(t, err)
}

func TestKeyringStore_Update(t *testing.T) {
	gokeyring.MockInit()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	ctx := context.Background()

	store, err := keyring.NewKeyringStore("push-bridge-update", "device")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, bridge.TokenRecord{Token: "t1", NeedsSync: true}))

	err = store.Update(ctx, func(cur bridge.TokenRecord, found bool) (bridge.TokenRecord, bool, error) {
		require.True(t, found)
		return bridge.TokenRecord{Token: cur.Token, NeedsSync: false}, true, nil
	})
	require.NoError(t, err)

	got, _, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, bridge.TokenRecord{Token: "t1", NeedsSync: false}, got)

	errDeclined := errors.New("declined")
	err = store.Update(ctx, func(bridge.TokenRecord, bool) (bridge.TokenRecord, bool, error) {
		return bridge.TokenRecord{Token: "ignored"}, true, errDeclined
	})
	assert.ErrorIs(t, err, errDeclined)
	got, _, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Token)
}

func TestNewKeyringStore_Validation(t *testing.T) {
	_, err := keyring.NewKeyringStore("", "device")
	assert.Error(t, err)
	_, err = keyring.NewKeyringStore("svc", "")
	assert.Error(t, err)
}
