// Package keyring stores the token record in the OS-native credential store
// (macOS Keychain, Windows Credential Manager, Linux Secret Service).
// The host application shell uses it when it has no writable data directory.
package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/filelock"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// KeyringStore keeps the whole record as one JSON secret, so a Set replaces
// both fields together.
type KeyringStore struct {
	service  string
	user     string
	lockPath string
}

var _ bridge.AtomicTokenStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the given service, using the
// namespace as the keyring user.
func NewKeyringStore(service, namespace string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	lockDir, err := os.UserCacheDir()
	if err != nil {
		lockDir = os.TempDir()
	}

	return &KeyringStore{
		service:  service,
		user:     namespace,
		lockPath: filepath.Join(lockDir, "go-push-bridge", service+"-"+namespace+".lock"),
	}, nil
}

// Get returns the record. keyring.ErrNotFound is the "no token" state.
func (k *KeyringStore) Get(ctx context.Context) (bridge.TokenRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return bridge.TokenRecord{}, false, err
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return bridge.TokenRecord{}, false, nil
	}
	if err != nil {
		return bridge.TokenRecord{}, false, err
	}

	var rec bridge.TokenRecord
	if err := json.Unmarshal([]byte(secret), &rec); err != nil {
		return bridge.TokenRecord{}, false, fmt.Errorf("corrupt token record in keyring for service %s, user %s: %w", k.service, k.user, err)
	}
	return rec, true, nil
}

// Put overwrites the stored secret with the full record.
func (k *KeyringStore) Put(ctx context.Context, record bridge.TokenRecord) (err error) {
	release, err := filelock.Lock(ctx, k.lockPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, release()) }()

	return k.set(record)
}

// Update holds the lock file across the read and the write. The keychain
// has no compare-and-set, so every writer of this entry goes through it.
func (k *KeyringStore) Update(ctx context.Context, fn bridge.UpdateFunc) (err error) {
	release, err := filelock.Lock(ctx, k.lockPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, release()) }()

	current, found, err := k.Get(ctx)
	if err != nil {
		return err
	}
	next, write, err := fn(current, found)
	if err != nil || !write {
		return err
	}
	return k.set(next)
}

func (k *KeyringStore) set(record bridge.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return keyring.Set(k.service, k.user, string(data))
}
