// Package store persists source catalog snapshots in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/RobinCoderZhao/aistats/internal/aistats/registry"
	"github.com/RobinCoderZhao/aistats/pkg/storage"
)

// Schema is the catalog snapshot schema. Only the newest row is read; older
// rows are kept as history up to keepSnapshots.
const Schema = `
CREATE TABLE IF NOT EXISTS catalog_snapshots (
    id           INTEGER PRIMARY KEY,
    version      TEXT NOT NULL,
    catalog      TEXT NOT NULL,
    source_count INTEGER NOT NULL DEFAULT 0,
    saved_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_catalog_snapshots_saved ON catalog_snapshots(saved_at);
`

const keepSnapshots = 20

// ErrSnapshotNotFound is returned for an unknown or pruned snapshot id.
var ErrSnapshotNotFound = errors.New("catalog snapshot not found")

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	ID          int64     `db:"id" json:"id"`
	Version     string    `db:"version" json:"version"`
	SourceCount int       `db:"source_count" json:"source_count"`
	SavedAt     time.Time `db:"saved_at" json:"saved_at"`
}

// Store implements registry.Persister on a storage.DB.
type Store struct {
	db  *storage.DB
	now func() time.Time
}

var _ registry.Persister = (*Store)(nil)

// New creates a Store and initializes the schema.
func New(ctx context.Context, db *storage.DB) (*Store, error) {
	if err := db.Migrate(ctx, Schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// LoadCatalog returns the newest snapshot, or nil when none was saved.
func (s *Store) LoadCatalog(ctx context.Context) (*registry.Catalog, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT catalog FROM catalog_snapshots ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	return decodeCatalog(raw)
}

// Snapshot returns the catalog stored under id.
func (s *Store) Snapshot(ctx context.Context, id int64) (*registry.Catalog, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`SELECT catalog FROM catalog_snapshots WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot %d: %w", id, err)
	}
	return decodeCatalog(raw)
}

func decodeCatalog(raw string) (*registry.Catalog, error) {
	var c registry.Catalog
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}

// SaveCatalog appends a snapshot and prunes old history.
func (s *Store) SaveCatalog(ctx context.Context, c *registry.Catalog) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	count := 0
	for _, m := range c.Modes {
		count += len(m.Sources)
	}

	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		var next int64
		if err := tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(id), 0) + 1 FROM catalog_snapshots`); err != nil {
			return fmt.Errorf("next snapshot id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO catalog_snapshots (id, version, catalog, source_count, saved_at)
			VALUES (?, ?, ?, ?, ?)`),
			next, c.Version, string(data), count, s.now().UTC(),
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM catalog_snapshots WHERE id <= ?`), next-keepSnapshots); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		return nil
	})
}

// History lists stored snapshots, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = keepSnapshots
	}
	var out []SnapshotInfo
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT id, version, source_count, saved_at
		FROM catalog_snapshots ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return out, nil
}
