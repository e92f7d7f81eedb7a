package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// migrationStep upgrades the schema from version-1 to version. Steps are
// forward-only; each runs inside a savepoint so a failure rolls back that
// single step and leaves the store at the prior version.
type migrationStep struct {
	version int
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrationSteps = []migrationStep{
	{version: 1, apply: migrateToV1},
	{version: 2, apply: migrateToV2},
	{version: 3, apply: migrateToV3},
	{version: 4, apply: migrateToV4},
}

func (s *Store) migrate(ctx context.Context) error {
	current, err := s.storedSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, step := range migrationSteps {
		if step.version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", step.version, err)
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT bombe_migrate_step"); err != nil {
			_ = tx.Rollback()
			return err
		}

		stepErr := func() error {
			if err := step.apply(ctx, tx); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO repo_meta(key, value) VALUES('schema_version', ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				strconv.Itoa(step.version)); err != nil {
				return err
			}
			return nil
		}()

		if stepErr != nil {
			_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT bombe_migrate_step")
			_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT bombe_migrate_step")
			_ = tx.Commit()
			_, _ = s.db.ExecContext(ctx, `
				INSERT INTO migration_history(from_version, to_version, status, error_message)
				VALUES (?, ?, 'failed', ?)`, current, step.version, stepErr.Error())
			return fmt.Errorf("migration to v%d failed: %w", step.version, stepErr)
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT bombe_migrate_step"); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO migration_history(from_version, to_version, status)
			VALUES (?, ?, 'success')`, current, step.version); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", step.version, err)
		}
		current = step.version
	}
	return nil
}

// v0 -> v1: baseline. The schema statements already created everything.
func migrateToV1(_ context.Context, _ *sql.Tx) error {
	return nil
}

// v1 -> v2: rebuild the FTS index from the symbols table.
func migrateToV2(ctx context.Context, tx *sql.Tx) error {
	var name string
	err := tx.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='symbol_fts'").Scan(&name)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM symbol_fts"); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO symbol_fts(symbol_id, name, qualified_name, docstring, signature)
		SELECT id, name, qualified_name, COALESCE(docstring, ''), COALESCE(signature, '')
		FROM symbols`)
	return err
}

// v2 -> v3: add the edge (file_path, line_number) index.
func migrateToV3(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_edges_file_line ON edges(file_path, line_number)")
	return err
}

// v3 -> v4: add external_deps module-name indexes.
func migrateToV4(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_external_deps_module ON external_deps(module_name)",
		"CREATE INDEX IF NOT EXISTS idx_external_deps_file_module ON external_deps(file_path, module_name)",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// MigrationEntry is one row of migration_history.
type MigrationEntry struct {
	FromVersion int
	ToVersion   int
	Status      string
	Error       string
	CreatedAt   string
}

// MigrationHistory lists applied and failed migration steps, oldest first.
func (s *Store) MigrationHistory(ctx context.Context) ([]MigrationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_version, to_version, status, COALESCE(error_message, ''), created_at
		FROM migration_history ORDER BY id`)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []MigrationEntry
	for rows.Next() {
		var e MigrationEntry
		if err := rows.Scan(&e.FromVersion, &e.ToVersion, &e.Status, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
