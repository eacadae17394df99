package bridge

import (
	"errors"
	"fmt"
)

// NoTokenMessage is the consumer-facing error text when no token exists yet.
const NoTokenMessage = "No token found"

var (
	// ErrNoToken is returned when an operation needs a record and none exists.
	ErrNoToken = errors.New(NoTokenMessage)
	// ErrMalformedMessage marks a message without any usable body.
	ErrMalformedMessage = errors.New("message has no usable body")
	// ErrEmptyToken marks a refresh event that carried no token.
	ErrEmptyToken = errors.New("refresh event carried an empty token")
)

// StorageError wraps a failure of the durable store backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("token store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err was raised by the store backend.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
