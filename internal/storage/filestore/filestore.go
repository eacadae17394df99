// Package filestore keeps the token record in a JSON file on local disk.
// Writes go to a temp file in the same directory which is synced and then
// renamed over the target, so a crash leaves either the old or the new file.
// Writers in every process take an exclusive lock on <file>.lock first.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/filelock"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// FileStore implements bridge.TokenStore on a single file.
type FileStore struct {
	filePath string
}

var _ bridge.AtomicTokenStore = (*FileStore)(nil)

// NewFileStore creates the store for <dir>/<namespace>.json, creating the
// directory with 0700 permissions when missing.
func NewFileStore(dir, namespace string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{filePath: filepath.Join(dir, namespace+".json")}, nil
}

// Path returns the file backing the record.
func (f *FileStore) Path() string {
	return f.filePath
}

// Get reads the record. A missing file is the "no token" state, not an error.
func (f *FileStore) Get(ctx context.Context) (bridge.TokenRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return bridge.TokenRecord{}, false, err
	}

	data, err := os.ReadFile(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return bridge.TokenRecord{}, false, nil
	}
	if err != nil {
		return bridge.TokenRecord{}, false, err
	}

	var rec bridge.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return bridge.TokenRecord{}, false, fmt.Errorf("corrupt token record %s: %w", f.filePath, err)
	}
	return rec, true, nil
}

// Put replaces the record using temp file + fsync + rename.
func (f *FileStore) Put(ctx context.Context, record bridge.TokenRecord) (err error) {
	release, err := filelock.Lock(ctx, f.lockPath())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, release()) }()

	return f.write(record)
}

// Update runs the whole read-modify-write cycle under the file lock, so a
// Put from another process waits until the cycle has been written.
func (f *FileStore) Update(ctx context.Context, fn bridge.UpdateFunc) (err error) {
	release, err := filelock.Lock(ctx, f.lockPath())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, release()) }()

	current, found, err := f.Get(ctx)
	if err != nil {
		return err
	}
	next, write, err := fn(current, found)
	if err != nil || !write {
		return err
	}
	return f.write(next)
}

func (f *FileStore) lockPath() string {
	return f.filePath + ".lock"
}

func (f *FileStore) write(record bridge.TokenRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// No-op once the rename succeeded.
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}
	return syncDir(dir)
}

// syncDir flushes the directory entry so the rename itself survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return err
	}
	return nil
}
