// Package filelock provides an exclusive advisory lock on a sidecar file.
// It serialises read-modify-write cycles across processes that share one
// token record, such as the bridge service and tokenctl.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const retryInterval = 10 * time.Millisecond

// Lock blocks until it holds an exclusive lock on path or ctx is done.
// The file is created with 0600 permissions when missing. The returned
// function releases the lock.
func Lock(ctx context.Context, path string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	for {
		ok, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	return func() error {
		uerr := unlock(f)
		cerr := f.Close()
		if uerr != nil {
			return uerr
		}
		return cerr
	}, nil
}
