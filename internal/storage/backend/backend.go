// Package backend selects and opens the durable token store.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/filestore"
	fsstore "github.com/tinywideclouds/go-push-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/keyring"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/sqlstore"
	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

type Kind string

const (
	KindFile      Kind = "file"
	KindKeyring   Kind = "keyring"
	KindPostgres  Kind = "postgres"
	KindFirestore Kind = "firestore"
)

// Config selects one backend; only the fields for that backend are read.
type Config struct {
	Kind      Kind   `validate:"required,oneof=file keyring postgres firestore"`
	Namespace string `validate:"required,max=128"`

	FileDir             string `validate:"required_if=Kind file"`
	KeyringService      string `validate:"required_if=Kind keyring"`
	PostgresDSN         string `validate:"required_if=Kind postgres"`
	ProjectID           string `validate:"required_if=Kind firestore"`
	FirestoreCollection string
}

// Open builds the configured store. Every backend runs Update atomically
// against writers in other processes. The returned close func is never nil.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (bridge.AtomicTokenStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case KindFile:
		s, err := filestore.NewFileStore(cfg.FileDir, cfg.Namespace)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("TokenStore initialized", "type", "file", "path", s.Path())
		return s, noop, nil

	case KindKeyring:
		s, err := keyring.NewKeyringStore(cfg.KeyringService, cfg.Namespace)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("TokenStore initialized", "type", "keyring", "service", cfg.KeyringService)
		return s, noop, nil

	case KindPostgres:
		s, err := sqlstore.Open(cfg.PostgresDSN, cfg.Namespace)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("TokenStore initialized", "type", "postgres")
		return s, s.Close, nil

	case KindFirestore:
		client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("firestore client failed: %w", err)
		}
		collection := cfg.FirestoreCollection
		if collection == "" {
			collection = fsstore.DefaultCollection
		}
		logger.Info("TokenStore initialized", "type", "firestore", "collection", collection)
		return fsstore.NewFirestoreStore(client, collection, cfg.Namespace), client.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Kind)
	}
}
