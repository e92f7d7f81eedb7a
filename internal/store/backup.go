package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BackupTo writes an online backup of the store to destination using
// SQLite's VACUUM INTO. The source store stays open and serviceable.
func (s *Store) BackupTo(ctx context.Context, destination string) (string, error) {
	abs, err := filepath.Abs(destination)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	if _, statErr := os.Stat(abs); statErr == nil {
		// VACUUM INTO refuses to overwrite; replace explicitly.
		if err := os.Remove(abs); err != nil {
			return "", err
		}
	}
	escaped := strings.ReplaceAll(abs, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return "", wrapStore(err)
	}
	return abs, nil
}

// Restore replaces the store file at dbPath with the backup at source.
// It refuses to overwrite an open store: callers must Close() first and
// pass the closed store's path.
func Restore(source, dbPath string) error {
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("backup source: %w", err)
	}
	// A live WAL file means the store is (or was) open mid-write.
	if _, err := os.Stat(dbPath + "-wal"); err == nil {
		return ErrOpenStore
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dbPath, data, 0o644)
}
