package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dshills/bombe/pkg/types"
)

// ListFiles returns every file row ordered by path.
func (s *Store) ListFiles(ctx context.Context) ([]types.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, language, content_hash, COALESCE(size_bytes, 0)
		FROM files ORDER BY path`)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.FileRecord
	for rows.Next() {
		var r types.FileRecord
		if err := rows.Scan(&r.Path, &r.Language, &r.ContentHash, &r.SizeBytes); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// FileHash returns the stored content hash; ErrNotFound for unknown paths.
func (s *Store) FileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT content_hash FROM files WHERE path=?", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return hash, wrapStore(err)
}

const symbolColumns = `id, name, qualified_name, kind, file_path, start_line, end_line,
	COALESCE(signature, ''), COALESCE(return_type, ''), COALESCE(visibility, ''),
	is_async, is_static, COALESCE(parent_symbol_id, 0), COALESCE(docstring, ''),
	COALESCE(pagerank_score, 0)`

func scanSymbol(scanner interface{ Scan(...any) error }) (types.SymbolRecord, error) {
	var sym types.SymbolRecord
	err := scanner.Scan(&sym.ID, &sym.Name, &sym.QualifiedName, &sym.Kind, &sym.FilePath,
		&sym.StartLine, &sym.EndLine, &sym.Signature, &sym.ReturnType, &sym.Visibility,
		&sym.IsAsync, &sym.IsStatic, &sym.ParentID, &sym.Docstring, &sym.PageRank)
	return sym, err
}

func (s *Store) querySymbols(ctx context.Context, query string, args ...any) ([]types.SymbolRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = rows.Close() }()

	var symbols []types.SymbolRecord
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// AllSymbols returns every symbol row ordered by id.
func (s *Store) AllSymbols(ctx context.Context) ([]types.SymbolRecord, error) {
	return s.querySymbols(ctx, "SELECT "+symbolColumns+" FROM symbols ORDER BY id")
}

// SymbolCount returns the total number of symbols.
func (s *Store) SymbolCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbols").Scan(&count)
	return count, wrapStore(err)
}

// ResolveSymbolID maps a name to a symbol id: exact qualified match wins;
// otherwise the highest-PageRank symbol with that short name (ascending id
// breaks ties). ErrNotFound when nothing matches.
func (s *Store) ResolveSymbolID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM symbols WHERE qualified_name = ?
		ORDER BY pagerank_score DESC, id ASC LIMIT 1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, wrapStore(err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM symbols WHERE name = ?
		ORDER BY pagerank_score DESC, id ASC LIMIT 1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, wrapStore(err)
}

// GetSymbolByID loads one symbol row.
func (s *Store) GetSymbolByID(ctx context.Context, id int64) (types.SymbolRecord, error) {
	sym, err := scanSymbol(s.db.QueryRowContext(ctx,
		"SELECT "+symbolColumns+" FROM symbols WHERE id=?", id))
	if err == sql.ErrNoRows {
		return types.SymbolRecord{}, ErrNotFound
	}
	return sym, wrapStore(err)
}

// SymbolsByIDs loads symbol rows for the given ids (missing ids skipped).
func (s *Store) SymbolsByIDs(ctx context.Context, ids []int64) ([]types.SymbolRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.querySymbols(ctx, fmt.Sprintf(
		"SELECT %s FROM symbols WHERE id IN (%s)", symbolColumns, placeholders), args...)
}

// SearchSymbolsFTS runs an FTS5 match ordered by bm25 rank. Returns an
// empty slice (no error) when the FTS table is unavailable.
func (s *Store) SearchSymbolsFTS(ctx context.Context, query, kind, filePattern string, limit int) ([]types.SymbolRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	sqlQuery := `
		SELECT s.id, s.name, s.qualified_name, s.kind, s.file_path, s.start_line, s.end_line,
		       COALESCE(s.signature, ''), COALESCE(s.return_type, ''), COALESCE(s.visibility, ''),
		       s.is_async, s.is_static, COALESCE(s.parent_symbol_id, 0), COALESCE(s.docstring, ''),
		       COALESCE(s.pagerank_score, 0)
		FROM symbol_fts f JOIN symbols s ON s.id = f.symbol_id
		WHERE symbol_fts MATCH ?`
	args := []any{query}
	if kind != "" && kind != "any" {
		sqlQuery += " AND s.kind = ?"
		args = append(args, kind)
	}
	if filePattern != "" {
		sqlQuery += " AND s.file_path LIKE ?"
		args = append(args, strings.ReplaceAll(filePattern, "*", "%"))
	}
	sqlQuery += " ORDER BY rank ASC, s.pagerank_score DESC LIMIT ?"
	args = append(args, limit)

	symbols, err := s.querySymbols(ctx, sqlQuery, args...)
	if err != nil {
		// FTS5 may be missing or the query malformed for MATCH; the
		// caller falls back to LIKE.
		return nil, nil
	}
	return symbols, nil
}

// SearchSymbolsLike matches name and qualified_name case-insensitively.
func (s *Store) SearchSymbolsLike(ctx context.Context, query, kind, filePattern string, limit int) ([]types.SymbolRecord, error) {
	like := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	sqlQuery := `
		SELECT ` + symbolColumns + ` FROM symbols
		WHERE (LOWER(name) LIKE ? OR LOWER(qualified_name) LIKE ?)`
	args := []any{like, like}
	if kind != "" && kind != "any" {
		sqlQuery += " AND kind = ?"
		args = append(args, kind)
	}
	if filePattern != "" {
		sqlQuery += " AND file_path LIKE ?"
		args = append(args, strings.ReplaceAll(filePattern, "*", "%"))
	}
	sqlQuery += " ORDER BY pagerank_score DESC, name ASC LIMIT ?"
	args = append(args, limit)
	return s.querySymbols(ctx, sqlQuery, args...)
}

// CountRefs returns the CALLS in/out degree of a symbol.
func (s *Store) CountRefs(ctx context.Context, symbolID int64) (callers, callees int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges
		WHERE relationship='CALLS' AND target_type='symbol' AND target_id=?`, symbolID).Scan(&callers)
	if err != nil {
		return 0, 0, wrapStore(err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edges
		WHERE relationship='CALLS' AND source_type='symbol' AND source_id=?`, symbolID).Scan(&callees)
	return callers, callees, wrapStore(err)
}

// SymbolEdges returns every symbol-to-symbol edge whose relationship is in
// rels. Used by PageRank, PPR, and adjacency construction.
func (s *Store) SymbolEdges(ctx context.Context, rels []string) ([]types.EdgeRecord, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rels)), ",")
	args := make([]any, len(rels))
	for i, rel := range rels {
		args[i] = rel
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT source_id, target_id, relationship, COALESCE(line_number, 0), COALESCE(confidence, 1.0)
		FROM edges
		WHERE source_type='symbol' AND target_type='symbol' AND relationship IN (%s)`,
		placeholders), args...)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = rows.Close() }()

	var edges []types.EdgeRecord
	for rows.Next() {
		edge := types.EdgeRecord{SourceType: types.EndpointSymbol, TargetType: types.EndpointSymbol}
		if err := rows.Scan(&edge.SourceID, &edge.TargetID, &edge.Relationship,
			&edge.LineNumber, &edge.Confidence); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// Neighbor is one joined edge endpoint used by traversal engines.
type Neighbor struct {
	ID            int64
	Name          string
	QualifiedName string
	FilePath      string
	Signature     string
	StartLine     int
	EndLine       int
	Line          int
	Relationship  string
}

func (s *Store) queryNeighbors(ctx context.Context, query string, args ...any) ([]Neighbor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = rows.Close() }()

	var neighbors []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ID, &n.Name, &n.QualifiedName, &n.FilePath,
			&n.Signature, &n.StartLine, &n.EndLine, &n.Line, &n.Relationship); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

const neighborSelect = `SELECT s.id, s.name, s.qualified_name, s.file_path,
	COALESCE(s.signature, ''), s.start_line, s.end_line,
	COALESCE(e.line_number, 0), e.relationship `

// Callers returns symbols with a CALLS edge into symbolID.
func (s *Store) Callers(ctx context.Context, symbolID int64) ([]Neighbor, error) {
	return s.queryNeighbors(ctx, neighborSelect+`
		FROM edges e JOIN symbols s ON s.id = e.source_id
		WHERE e.relationship='CALLS' AND e.target_type='symbol' AND e.target_id=?
		ORDER BY s.id`, symbolID)
}

// Callees returns symbols symbolID has a CALLS edge into.
func (s *Store) Callees(ctx context.Context, symbolID int64) ([]Neighbor, error) {
	return s.queryNeighbors(ctx, neighborSelect+`
		FROM edges e JOIN symbols s ON s.id = e.target_id
		WHERE e.relationship='CALLS' AND e.source_type='symbol' AND e.source_id=?
		ORDER BY s.id`, symbolID)
}

// Implementors returns symbols with IMPLEMENTS edges into symbolID.
func (s *Store) Implementors(ctx context.Context, symbolID int64) ([]Neighbor, error) {
	return s.queryNeighbors(ctx, neighborSelect+`
		FROM edges e JOIN symbols s ON s.id = e.source_id
		WHERE e.relationship='IMPLEMENTS' AND e.target_type='symbol' AND e.target_id=?
		ORDER BY s.id`, symbolID)
}

// Supers returns symbols symbolID EXTENDS or IMPLEMENTS.
func (s *Store) Supers(ctx context.Context, symbolID int64) ([]Neighbor, error) {
	return s.queryNeighbors(ctx, neighborSelect+`
		FROM edges e JOIN symbols s ON s.id = e.target_id
		WHERE e.relationship IN ('EXTENDS', 'IMPLEMENTS')
		AND e.source_type='symbol' AND e.source_id=?
		ORDER BY s.id`, symbolID)
}

// TypeDependents returns symbols that EXTEND or IMPLEMENT symbolID, with
// the relationship preserved.
func (s *Store) TypeDependents(ctx context.Context, symbolID int64) ([]Neighbor, error) {
	return s.queryNeighbors(ctx, neighborSelect+`
		FROM edges e JOIN symbols s ON s.id = e.source_id
		WHERE e.relationship IN ('EXTENDS', 'IMPLEMENTS')
		AND e.target_type='symbol' AND e.target_id=?
		ORDER BY s.id`, symbolID)
}

// ReverseDependents returns callers plus EXTENDS/IMPLEMENTS dependents of
// symbolID (the blast-radius edge set).
func (s *Store) ReverseDependents(ctx context.Context, symbolID int64) ([]Neighbor, error) {
	return s.queryNeighbors(ctx, neighborSelect+`
		FROM edges e JOIN symbols s ON s.id = e.source_id
		WHERE e.relationship IN ('CALLS', 'EXTENDS', 'IMPLEMENTS')
		AND e.target_type='symbol' AND e.target_id=?
		ORDER BY s.id`, symbolID)
}

// SymbolsUnderPath returns symbols whose file_path falls under pathPrefix,
// ordered by PageRank descending (for the structure renderer).
func (s *Store) SymbolsUnderPath(ctx context.Context, pathPrefix string) ([]types.SymbolRecord, error) {
	like := "%"
	if pathPrefix != "" && pathPrefix != "." {
		like = strings.TrimSuffix(pathPrefix, "/") + "/%"
	}
	return s.querySymbols(ctx, `
		SELECT `+symbolColumns+` FROM symbols
		WHERE file_path LIKE ? OR file_path = ?
		ORDER BY pagerank_score DESC, file_path ASC, start_line ASC`,
		like, strings.TrimSuffix(pathPrefix, "/"))
}

// FilesWithEdgesTouching returns the distinct file paths recording edges
// whose endpoints include any of the given symbol ids. Used to find
// dependent files whose edges must be re-resolved after a change.
func (s *Store) FilesWithEdgesTouching(ctx context.Context, symbolIDs []int64) ([]string, error) {
	if len(symbolIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbolIDs)), ",")
	args := make([]any, 0, 2*len(symbolIDs))
	for _, id := range symbolIDs {
		args = append(args, id)
	}
	args = append(args, args[:len(symbolIDs)]...)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT file_path FROM edges
		WHERE file_path IS NOT NULL AND (
			(source_type='symbol' AND source_id IN (%s)) OR
			(target_type='symbol' AND target_id IN (%s)))
		ORDER BY file_path`, placeholders, placeholders), args...)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// UpdatePageRanks writes scores back in one transaction.
func (s *Store) UpdatePageRanks(ctx context.Context, scores map[int64]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStore(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "UPDATE symbols SET pagerank_score=? WHERE id=?")
	if err != nil {
		return wrapStore(err)
	}
	defer func() { _ = stmt.Close() }()

	for id, score := range scores {
		if _, err := stmt.ExecContext(ctx, score, id); err != nil {
			return wrapStore(err)
		}
	}
	return wrapStore(tx.Commit())
}

// Stats summarizes store contents for the status surface.
type Stats struct {
	Files        int64
	Symbols      int64
	Edges        int64
	ExternalDeps int64
	CacheEpoch   int64
	IndexSizeMB  float64
}

// GetStats counts rows across the core tables.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, q := range []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM files", &stats.Files},
		{"SELECT COUNT(*) FROM symbols", &stats.Symbols},
		{"SELECT COUNT(*) FROM edges", &stats.Edges},
		{"SELECT COUNT(*) FROM external_deps", &stats.ExternalDeps},
	} {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return stats, wrapStore(err)
		}
	}
	epoch, err := s.CacheEpoch(ctx)
	if err != nil {
		return stats, err
	}
	stats.CacheEpoch = epoch

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}
	return stats, nil
}
