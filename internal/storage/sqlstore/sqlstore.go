// Package sqlstore keeps the token record in a Postgres table through gorm.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// tokenRow is the table representation. One row per namespace.
type tokenRow struct {
	Namespace string `gorm:"primaryKey;size:128"`
	Token     string `gorm:"not null"`
	NeedsSync bool   `gorm:"not null;default:false"`
	UpdatedAt time.Time
}

func (tokenRow) TableName() string {
	return "push_bridge_tokens"
}

// SQLStore implements bridge.TokenStore on a gorm database.
type SQLStore struct {
	db        *gorm.DB
	namespace string
}

var _ bridge.AtomicTokenStore = (*SQLStore)(nil)

// ErrConcurrentInsert is returned by Update when another writer created the
// first record while the cycle ran against an empty table.
var ErrConcurrentInsert = errors.New("token record created concurrently")

// Open connects to Postgres and migrates the table.
func Open(dsn, namespace string) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return New(db, namespace)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, namespace string) (*SQLStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if err := db.AutoMigrate(&tokenRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate token table: %w", err)
	}
	return &SQLStore{db: db, namespace: namespace}, nil
}

// Put is a single INSERT ... ON CONFLICT (namespace) DO UPDATE statement,
// so both columns change in one transaction.
func (s *SQLStore) Put(ctx context.Context, record bridge.TokenRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "needs_sync", "updated_at"}),
	}).Create(s.row(record)).Error
}

// Update runs the cycle in one transaction holding the row lock
// (SELECT ... FOR UPDATE), so a Put from another process or replica waits
// for the commit instead of being overwritten by it.
func (s *SQLStore) Update(ctx context.Context, fn bridge.UpdateFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row tokenRow
		found := true
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("namespace = ?", s.namespace).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			return err
		}

		current := bridge.TokenRecord{Token: row.Token, NeedsSync: row.NeedsSync}
		next, write, err := fn(current, found)
		if err != nil || !write {
			return err
		}

		if !found {
			// Nothing to lock yet: insert only if no one else did meanwhile.
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(s.row(next))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConcurrentInsert
			}
			return nil
		}
		return tx.Model(&tokenRow{}).Where("namespace = ?", s.namespace).Updates(map[string]any{
			"token":      next.Token,
			"needs_sync": next.NeedsSync,
			"updated_at": time.Now(),
		}).Error
	})
}

func (s *SQLStore) row(record bridge.TokenRecord) *tokenRow {
	return &tokenRow{
		Namespace: s.namespace,
		Token:     record.Token,
		NeedsSync: record.NeedsSync,
		UpdatedAt: time.Now(),
	}
}

func (s *SQLStore) Get(ctx context.Context) (bridge.TokenRecord, bool, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).Where("namespace = ?", s.namespace).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return bridge.TokenRecord{}, false, nil
	}
	if err != nil {
		return bridge.TokenRecord{}, false, err
	}
	return bridge.TokenRecord{Token: row.Token, NeedsSync: row.NeedsSync}, true, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
