// Package store persists the code graph in an embedded SQLite database.
//
// The store owns all persisted state. It exposes whole-file mutators only:
// callers replace a file's symbols, edges, or external deps atomically, and
// never mutate individual rows. This keeps re-indexing idempotent and
// concurrent-safe. Writer serialization is SQLite's own (WAL, single
// writer); readers are non-blocking.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dshills/bombe/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = types.ErrNotFound
	// ErrOpenStore is returned when restore would overwrite an open store.
	ErrOpenStore = errors.New("store is open; close it before restore")
)

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the store at dbPath, verifies the schema
// version is not from the future, and runs pending migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL gives non-blocking readers against the single writer.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: dbPath}

	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the on-disk location of the store.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	// Refuse to operate on a store from the future before touching it.
	version, err := s.storedSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("%w: store version %d, supported %d",
			types.ErrSchemaIncompatible, version, SchemaVersion)
	}

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	for _, stmt := range ftsStatements {
		// Best-effort: some builds lack FTS5.
		_, _ = s.db.ExecContext(ctx, stmt)
	}
	return s.migrate(ctx)
}

// storedSchemaVersion reads repo_meta.schema_version, defaulting to 0 when
// the table or key is absent.
func (s *Store) storedSchemaVersion(ctx context.Context) (int, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='repo_meta'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx,
		"SELECT value FROM repo_meta WHERE key='schema_version'").Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	version, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return 0, nil
	}
	return version, nil
}

// GetMeta reads a repo_meta value; ErrNotFound when absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM repo_meta WHERE key=?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetMeta upserts a repo_meta value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_meta(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// CacheEpoch returns the current cache epoch (0 when never bumped).
func (s *Store) CacheEpoch(ctx context.Context) (int64, error) {
	raw, err := s.GetMeta(ctx, "cache_epoch")
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	epoch, convErr := strconv.ParseInt(raw, 10, 64)
	if convErr != nil {
		return 0, nil
	}
	return epoch, nil
}

// BumpCacheEpoch increments the epoch and returns the new value. Every
// mutation path calls this so the query-layer response cache invalidates.
func (s *Store) BumpCacheEpoch(ctx context.Context) (int64, error) {
	epoch, err := s.CacheEpoch(ctx)
	if err != nil {
		return 0, err
	}
	epoch++
	if err := s.SetMeta(ctx, "cache_epoch", strconv.FormatInt(epoch, 10)); err != nil {
		return 0, err
	}
	return epoch, nil
}

// wrapStore tags database failures with the stable STORE_ERROR code.
func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return types.WithCode(types.CodeStoreError, err)
}
