// --- File: pkg/bridge/interfaces.go ---
package bridge

import (
	"context"
)

// TokenStore defines the contract for the durable token record.
// Implementations hold exactly one record under a fixed namespace and must
// replace it as a whole: there is no API for updating a single field.
type TokenStore interface {
	// Put durably replaces the full record. On error the previous record
	// remains authoritative.
	Put(ctx context.Context, record TokenRecord) error

	// Get returns the current record. found is false (and err nil) when no
	// record has ever been written.
	Get(ctx context.Context) (record TokenRecord, found bool, err error)
}

// UpdateFunc receives the current record and returns the replacement.
// Returning write=false leaves the store untouched.
type UpdateFunc func(current TokenRecord, found bool) (next TokenRecord, write bool, err error)

// AtomicTokenStore is a TokenStore that can run a read-modify-write cycle
// without a concurrent Put landing in between.
type AtomicTokenStore interface {
	TokenStore
	Update(ctx context.Context, fn UpdateFunc) error
}

// Renderer hands a display request to a user-visible notification surface.
type Renderer interface {
	Render(ctx context.Context, req NotificationRequest) error
}
