// Package storage holds the token store backends and the decorators shared by
// all of them.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// SerializedStore is a single-writer decorator around a backend. Every Put
// and Update holds the write lock, so a reader never sees a record while a
// replace is in flight and Update cycles cannot interleave with Put.
type SerializedStore struct {
	inner bridge.TokenStore
	mu    sync.RWMutex
}

var _ bridge.AtomicTokenStore = (*SerializedStore)(nil)

func NewSerializedStore(inner bridge.TokenStore) *SerializedStore {
	return &SerializedStore{inner: inner}
}

func (s *SerializedStore) Put(ctx context.Context, record bridge.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inner.Put(ctx, record); err != nil {
		return wrap("put", err)
	}
	return nil
}

func (s *SerializedStore) Get(ctx context.Context) (bridge.TokenRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, found, err := s.inner.Get(ctx)
	if err != nil {
		return bridge.TokenRecord{}, false, wrap("get", err)
	}
	return rec, found, nil
}

// Update runs fn against the current record and writes its result while
// holding the write lock for the whole cycle. When the backend is itself an
// AtomicTokenStore the cycle is delegated to it, which also excludes writers
// in other processes.
func (s *SerializedStore) Update(ctx context.Context, fn bridge.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if atomic, ok := s.inner.(bridge.AtomicTokenStore); ok {
		if err := atomic.Update(ctx, markFuncErrors(fn)); err != nil {
			return wrapUpdate(err)
		}
		return nil
	}

	current, found, err := s.inner.Get(ctx)
	if err != nil {
		return wrap("get", err)
	}
	next, write, err := fn(current, found)
	if err != nil || !write {
		return err
	}
	if err := s.inner.Put(ctx, next); err != nil {
		return wrap("put", err)
	}
	return nil
}

type updateFuncError struct{ err error }

func (e *updateFuncError) Error() string { return e.err.Error() }
func (e *updateFuncError) Unwrap() error { return e.err }

func markFuncErrors(fn bridge.UpdateFunc) bridge.UpdateFunc {
	return func(cur bridge.TokenRecord, found bool) (bridge.TokenRecord, bool, error) {
		next, write, err := fn(cur, found)
		if err != nil {
			return next, write, &updateFuncError{err: err}
		}
		return next, write, nil
	}
}

// wrapUpdate leaves errors raised by the UpdateFunc untouched; only backend
// failures become StorageErrors.
func wrapUpdate(err error) error {
	var fnErr *updateFuncError
	if errors.As(err, &fnErr) {
		return fnErr.err
	}
	return wrap("update", err)
}

func wrap(op string, err error) error {
	var se *bridge.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &bridge.StorageError{Op: op, Err: err}
}
