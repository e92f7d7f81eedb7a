package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/bombe/pkg/types"
)

// The store exposes whole-file mutators only. Each runs in one transaction
// per file and bumps the cache epoch on success.

// UpsertFiles inserts or updates file rows. Rows whose hash is unchanged
// are left untouched (and do not refresh last_indexed_at).
func (s *Store) UpsertFiles(ctx context.Context, records []types.FileRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStore(err)
	}
	defer func() { _ = tx.Rollback() }()

	changed := 0
	for _, record := range records {
		var existing string
		err := tx.QueryRowContext(ctx,
			"SELECT content_hash FROM files WHERE path=?", record.Path).Scan(&existing)
		if err == nil && existing == record.ContentHash {
			continue
		}
		if err != nil && err != sql.ErrNoRows {
			return 0, wrapStore(err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO files (path, language, content_hash, size_bytes, last_indexed_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(path) DO UPDATE SET
				language = excluded.language,
				content_hash = excluded.content_hash,
				size_bytes = excluded.size_bytes,
				last_indexed_at = excluded.last_indexed_at`,
			record.Path, record.Language, record.ContentHash, record.SizeBytes); err != nil {
			return 0, wrapStore(err)
		}
		changed++
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapStore(err)
	}
	if changed > 0 {
		if _, err := s.BumpCacheEpoch(ctx); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// ReplaceFileSymbols atomically replaces every symbol (and its parameters)
// belonging to path. Reverse edges pointing into the old symbol set are
// cleaned in the same transaction. Returns qualified_name -> assigned id.
func (s *Store) ReplaceFileSymbols(ctx context.Context, path string, symbols []types.SymbolRecord) (map[string]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = tx.Rollback() }()

	oldIDs, err := symbolIDsForFile(ctx, tx, path)
	if err != nil {
		return nil, wrapStore(err)
	}
	if err := deleteFileSymbolRows(ctx, tx, path, oldIDs); err != nil {
		return nil, wrapStore(err)
	}

	// Deterministic intra-file order: (start_line, qualified_name).
	ordered := make([]types.SymbolRecord, len(symbols))
	copy(ordered, symbols)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StartLine != ordered[j].StartLine {
			return ordered[i].StartLine < ordered[j].StartLine
		}
		return ordered[i].QualifiedName < ordered[j].QualifiedName
	})

	ids := make(map[string]int64, len(ordered))
	seen := make(map[string]struct{}, len(ordered))
	for _, sym := range ordered {
		key := sym.QualifiedName + "\x00" + itoa(sym.StartLine)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO symbols (
				name, qualified_name, kind, file_path, start_line, end_line,
				signature, return_type, visibility, is_async, is_static,
				parent_symbol_id, docstring, pagerank_score
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
			sym.Name, sym.QualifiedName, sym.Kind, path, sym.StartLine, sym.EndLine,
			sym.Signature, sym.ReturnType, sym.Visibility, sym.IsAsync, sym.IsStatic,
			sym.Docstring, sym.PageRank)
		if err != nil {
			return nil, wrapStore(fmt.Errorf("insert symbol %s: %w", sym.QualifiedName, err))
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, wrapStore(err)
		}
		if _, exists := ids[sym.QualifiedName]; !exists {
			ids[sym.QualifiedName] = id
		}

		for _, param := range sym.Parameters {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO parameters (symbol_id, name, type, position, default_value)
				VALUES (?, ?, ?, ?, ?)`,
				id, param.Name, nullable(param.Type), param.Position, nullable(param.DefaultValue)); err != nil {
				return nil, wrapStore(err)
			}
		}

		// FTS is best-effort: absent on builds without FTS5.
		_, _ = tx.ExecContext(ctx, `
			INSERT INTO symbol_fts(symbol_id, name, qualified_name, docstring, signature)
			VALUES (?, ?, ?, ?, ?)`,
			id, sym.Name, sym.QualifiedName, sym.Docstring, sym.Signature)
	}

	// Second pass: resolve parent links now that every id is known.
	for _, sym := range ordered {
		if sym.ParentQualifiedName == "" {
			continue
		}
		childID, ok := ids[sym.QualifiedName]
		if !ok {
			continue
		}
		parentID, ok := ids[sym.ParentQualifiedName]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE symbols SET parent_symbol_id=? WHERE id=?", parentID, childID); err != nil {
			return nil, wrapStore(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapStore(err)
	}
	if _, err := s.BumpCacheEpoch(ctx); err != nil {
		return ids, err
	}
	return ids, nil
}

// ReplaceFileEdges atomically replaces every edge recorded against path.
func (s *Store) ReplaceFileEdges(ctx context.Context, path string, edges []types.EdgeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStore(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE file_path=?", path); err != nil {
		return wrapStore(err)
	}
	for _, edge := range edges {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO edges (
				source_id, target_id, source_type, target_type, relationship,
				file_path, line_number, confidence
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			edge.SourceID, edge.TargetID, edge.SourceType, edge.TargetType,
			edge.Relationship, path, edge.LineNumber, edge.Confidence); err != nil {
			return wrapStore(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapStore(err)
	}
	_, err = s.BumpCacheEpoch(ctx)
	return err
}

// ReplaceExternalDeps atomically replaces path's unresolved imports.
func (s *Store) ReplaceExternalDeps(ctx context.Context, path string, deps []types.ExternalDepRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStore(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM external_deps WHERE file_path=?", path); err != nil {
		return wrapStore(err)
	}
	for _, dep := range deps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO external_deps (file_path, import_statement, module_name, line_number)
			VALUES (?, ?, ?, ?)`,
			path, dep.ImportStatement, dep.ModuleName, dep.LineNumber); err != nil {
			return wrapStore(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapStore(err)
	}
	_, err = s.BumpCacheEpoch(ctx)
	return err
}

// DeleteFileGraph removes the file row and everything hanging off it:
// symbols, parameters, edges, external deps, FTS rows.
func (s *Store) DeleteFileGraph(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStore(err)
	}
	defer func() { _ = tx.Rollback() }()

	oldIDs, err := symbolIDsForFile(ctx, tx, path)
	if err != nil {
		return wrapStore(err)
	}
	if err := deleteFileSymbolRows(ctx, tx, path, oldIDs); err != nil {
		return wrapStore(err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE file_path=?", path); err != nil {
		return wrapStore(err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM external_deps WHERE file_path=?", path); err != nil {
		return wrapStore(err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path=?", path); err != nil {
		return wrapStore(err)
	}
	if err := tx.Commit(); err != nil {
		return wrapStore(err)
	}
	_, err = s.BumpCacheEpoch(ctx)
	return err
}

// RenameFile migrates a file row and its graph to a new path. Qualified
// names encode the path, so they are rewritten from the old module prefix
// to the new one.
func (s *Store) RenameFile(ctx context.Context, oldPath, newPath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStore(err)
	}
	defer func() { _ = tx.Rollback() }()

	var language, contentHash string
	var sizeBytes sql.NullInt64
	var lastIndexed sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT language, content_hash, size_bytes, last_indexed_at
		FROM files WHERE path=?`, oldPath).Scan(&language, &contentHash, &sizeBytes, &lastIndexed)
	if err == sql.ErrNoRows {
		return tx.Commit()
	}
	if err != nil {
		return wrapStore(err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (path, language, content_hash, size_bytes, last_indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			content_hash = excluded.content_hash,
			size_bytes = excluded.size_bytes,
			last_indexed_at = excluded.last_indexed_at`,
		newPath, language, contentHash, sizeBytes, lastIndexed); err != nil {
		return wrapStore(err)
	}

	oldModule := modulePrefix(oldPath)
	newModule := modulePrefix(newPath)

	rows, err := tx.QueryContext(ctx,
		"SELECT id, qualified_name FROM symbols WHERE file_path=?", oldPath)
	if err != nil {
		return wrapStore(err)
	}
	type renamed struct {
		id        int64
		qualified string
	}
	var updates []renamed
	for rows.Next() {
		var r renamed
		if err := rows.Scan(&r.id, &r.qualified); err != nil {
			_ = rows.Close()
			return wrapStore(err)
		}
		if oldModule != "" && strings.HasPrefix(r.qualified, oldModule) {
			r.qualified = newModule + strings.TrimPrefix(r.qualified, oldModule)
		}
		updates = append(updates, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return wrapStore(err)
	}
	_ = rows.Close()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			"UPDATE symbols SET file_path=?, qualified_name=? WHERE id=?",
			newPath, u.qualified, u.id); err != nil {
			return wrapStore(err)
		}
		_, _ = tx.ExecContext(ctx,
			"UPDATE symbol_fts SET qualified_name=? WHERE symbol_id=?", u.qualified, u.id)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE edges SET file_path=? WHERE file_path=?", newPath, oldPath); err != nil {
		return wrapStore(err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE external_deps SET file_path=? WHERE file_path=?", newPath, oldPath); err != nil {
		return wrapStore(err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path=?", oldPath); err != nil {
		return wrapStore(err)
	}
	if err := tx.Commit(); err != nil {
		return wrapStore(err)
	}
	_, err = s.BumpCacheEpoch(ctx)
	return err
}

// symbolIDsForFile collects the ids of every symbol in path.
func symbolIDsForFile(ctx context.Context, tx *sql.Tx, path string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM symbols WHERE file_path=?", path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteFileSymbolRows removes symbols, their parameters, FTS rows, and any
// edge touching the old symbol ids (reverse edges included).
func deleteFileSymbolRows(ctx context.Context, tx *sql.Tx, path string, oldIDs []int64) error {
	for _, id := range oldIDs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM symbol_fts WHERE symbol_id=?", id); err != nil {
			break // FTS table may not exist
		}
	}
	if len(oldIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(oldIDs)), ",")
		args := make([]any, 0, 2*len(oldIDs))
		for _, id := range oldIDs {
			args = append(args, id)
		}
		both := append(append([]any{}, args...), args...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM edges WHERE
				(source_type='symbol' AND source_id IN (%s)) OR
				(target_type='symbol' AND target_id IN (%s))`,
			placeholders, placeholders), both...); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM parameters WHERE symbol_id IN
		(SELECT id FROM symbols WHERE file_path=?)`, path); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM symbols WHERE file_path=?", path)
	return err
}

// modulePrefix mirrors the extractor's path-to-module mapping.
func modulePrefix(path string) string {
	p := path
	if idx := strings.LastIndex(p, "."); idx > strings.LastIndex(p, "/") {
		p = p[:idx]
	}
	return strings.ReplaceAll(strings.Trim(p, "/"), "/", ".")
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func itoa(v int) string {
	return fmt.Sprintf("%d", v)
}
