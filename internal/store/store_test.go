package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bombe/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bombe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedFile(t *testing.T, s *Store, path, lang, hash string) {
	t.Helper()
	_, err := s.UpsertFiles(context.Background(), []types.FileRecord{
		{Path: path, Language: lang, ContentHash: hash, SizeBytes: 10},
	})
	require.NoError(t, err)
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	version, err := s.GetMeta(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "4", version)

	history, err := s.MigrationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, SchemaVersion)
	for _, entry := range history {
		assert.Equal(t, "success", entry.Status)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bombe.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	history, err := s.MigrationHistory(context.Background())
	require.NoError(t, err)
	// Reopening must not replay migrations.
	assert.Len(t, history, SchemaVersion)
}

func TestSchemaIncompatibleRefusesToOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bombe.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetMeta(context.Background(), "schema_version", "99"))
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.ErrorIs(t, err, types.ErrSchemaIncompatible)
}

func TestCacheEpochBumps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	epoch, err := s.CacheEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), epoch)

	next, err := s.BumpCacheEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	// Mutators bump it too.
	seedFile(t, s, "a.py", "python", "h1")
	epoch, err = s.CacheEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), epoch)
}

func TestUpsertFilesSkipsUnchanged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	changed, err := s.UpsertFiles(ctx, []types.FileRecord{{Path: "a.py", Language: "python", ContentHash: "h1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	before, err := s.CacheEpoch(ctx)
	require.NoError(t, err)

	changed, err = s.UpsertFiles(ctx, []types.FileRecord{{Path: "a.py", Language: "python", ContentHash: "h1"}})
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	after, err := s.CacheEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "no-op upsert must not bump the epoch")
}

func TestReplaceFileSymbols(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "a.py", "python", "h1")

	ids, err := s.ReplaceFileSymbols(ctx, "a.py", []types.SymbolRecord{
		{
			Name: "Session", QualifiedName: "a.Session", Kind: types.KindClass,
			FilePath: "a.py", StartLine: 1, EndLine: 20,
		},
		{
			Name: "refresh", QualifiedName: "a.Session.refresh", Kind: types.KindMethod,
			FilePath: "a.py", StartLine: 5, EndLine: 10,
			ParentQualifiedName: "a.Session",
			Parameters:          []types.ParameterRecord{{Name: "token", Position: 0}},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	symbols, err := s.AllSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	// Sorted by (start_line, qualified_name): class first.
	assert.Equal(t, "a.Session", symbols[0].QualifiedName)

	// Replacement swaps the whole set.
	_, err = s.ReplaceFileSymbols(ctx, "a.py", []types.SymbolRecord{
		{Name: "login", QualifiedName: "a.login", Kind: types.KindFunction,
			FilePath: "a.py", StartLine: 1, EndLine: 3},
	})
	require.NoError(t, err)
	symbols, err = s.AllSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "a.login", symbols[0].QualifiedName)
}

func TestReplaceFileSymbolsCleansReverseEdges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "a.py", "python", "h1")
	seedFile(t, s, "b.py", "python", "h2")

	aIDs, err := s.ReplaceFileSymbols(ctx, "a.py", []types.SymbolRecord{
		{Name: "f", QualifiedName: "a.f", Kind: types.KindFunction, FilePath: "a.py", StartLine: 1, EndLine: 3},
	})
	require.NoError(t, err)
	bIDs, err := s.ReplaceFileSymbols(ctx, "b.py", []types.SymbolRecord{
		{Name: "g", QualifiedName: "b.g", Kind: types.KindFunction, FilePath: "b.py", StartLine: 1, EndLine: 3},
	})
	require.NoError(t, err)

	// a.f CALLS b.g, recorded against a.py.
	require.NoError(t, s.ReplaceFileEdges(ctx, "a.py", []types.EdgeRecord{{
		SourceID: aIDs["a.f"], TargetID: bIDs["b.g"],
		SourceType: types.EndpointSymbol, TargetType: types.EndpointSymbol,
		Relationship: types.RelCalls, LineNumber: 2, Confidence: 1.0,
	}}))

	// Replacing b.py removes the reverse edge into its old symbols.
	_, err = s.ReplaceFileSymbols(ctx, "b.py", []types.SymbolRecord{
		{Name: "g", QualifiedName: "b.g", Kind: types.KindFunction, FilePath: "b.py", StartLine: 2, EndLine: 4},
	})
	require.NoError(t, err)

	callers, err := s.Callers(ctx, bIDs["b.g"])
	require.NoError(t, err)
	assert.Empty(t, callers)

	edges, err := s.SymbolEdges(ctx, []string{types.RelCalls})
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestDeleteFileGraph(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "a.py", "python", "h1")

	_, err := s.ReplaceFileSymbols(ctx, "a.py", []types.SymbolRecord{
		{Name: "f", QualifiedName: "a.f", Kind: types.KindFunction, FilePath: "a.py", StartLine: 1, EndLine: 2},
	})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceExternalDeps(ctx, "a.py", []types.ExternalDepRecord{
		{FilePath: "a.py", ImportStatement: "import os", ModuleName: "os", LineNumber: 1},
	}))

	require.NoError(t, s.DeleteFileGraph(ctx, "a.py"))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Files)
	assert.Equal(t, int64(0), stats.Symbols)
	assert.Equal(t, int64(0), stats.Edges)
	assert.Equal(t, int64(0), stats.ExternalDeps)
}

func TestRenameFileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "old.py", "python", "h1")

	_, err := s.ReplaceFileSymbols(ctx, "old.py", []types.SymbolRecord{
		{Name: "f", QualifiedName: "old.f", Kind: types.KindFunction, FilePath: "old.py", StartLine: 1, EndLine: 2},
	})
	require.NoError(t, err)

	require.NoError(t, s.RenameFile(ctx, "old.py", "new.py"))
	symbols, err := s.AllSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "new.py", symbols[0].FilePath)
	assert.Equal(t, "new.f", symbols[0].QualifiedName)

	require.NoError(t, s.RenameFile(ctx, "new.py", "old.py"))
	symbols, err = s.AllSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "old.py", symbols[0].FilePath)
	assert.Equal(t, "old.f", symbols[0].QualifiedName)

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "old.py", files[0].Path)
	assert.Equal(t, "h1", files[0].ContentHash)
}

func TestResolveSymbolIDPrefersQualified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "a.py", "python", "h1")
	seedFile(t, s, "b.py", "python", "h2")

	aIDs, err := s.ReplaceFileSymbols(ctx, "a.py", []types.SymbolRecord{
		{Name: "run", QualifiedName: "a.run", Kind: types.KindFunction, FilePath: "a.py", StartLine: 1, EndLine: 2},
	})
	require.NoError(t, err)
	bIDs, err := s.ReplaceFileSymbols(ctx, "b.py", []types.SymbolRecord{
		{Name: "run", QualifiedName: "b.run", Kind: types.KindFunction, FilePath: "b.py", StartLine: 1, EndLine: 2,
			PageRank: 0.9},
	})
	require.NoError(t, err)

	id, err := s.ResolveSymbolID(ctx, "a.run")
	require.NoError(t, err)
	assert.Equal(t, aIDs["a.run"], id)

	// Short name resolves to the highest-PageRank candidate.
	id, err = s.ResolveSymbolID(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, bIDs["b.run"], id)

	_, err = s.ResolveSymbolID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchSymbolsLike(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedFile(t, s, "a.py", "python", "h1")

	_, err := s.ReplaceFileSymbols(ctx, "a.py", []types.SymbolRecord{
		{Name: "authenticate", QualifiedName: "a.authenticate", Kind: types.KindFunction,
			FilePath: "a.py", StartLine: 1, EndLine: 2},
		{Name: "render", QualifiedName: "a.render", Kind: types.KindFunction,
			FilePath: "a.py", StartLine: 4, EndLine: 5},
	})
	require.NoError(t, err)

	rows, err := s.SearchSymbolsLike(ctx, "auth", "any", "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "authenticate", rows[0].Name)

	rows, err = s.SearchSymbolsLike(ctx, "auth", types.KindClass, "", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "bombe.db")
	backupPath := filepath.Join(dir, "backup.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	seedFile(t, s, "a.py", "python", "h1")

	ctx := context.Background()
	written, err := s.BackupTo(ctx, backupPath)
	require.NoError(t, err)
	assert.Equal(t, backupPath, written)

	// Restore refuses while the store is open (live WAL).
	_, err = s.UpsertFiles(ctx, []types.FileRecord{{Path: "b.py", Language: "python", ContentHash: "h2"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, Restore(backupPath, dbPath))
	restored, err := Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = restored.Close() }()

	files, err := restored.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.py", files[0].Path)
}

func TestOperationalTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Sync queue lifecycle.
	id, err := s.EnqueueSyncDelta(ctx, "repo1", "snap1", `{"x":1}`)
	require.NoError(t, err)
	pending, err := s.PendingSyncDeltas(ctx, "repo1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, s.MarkSyncDelta(ctx, id, SyncStatusSent, ""))
	pending, err = s.PendingSyncDeltas(ctx, "repo1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Quarantine is sticky until released.
	require.NoError(t, s.QuarantineArtifact(ctx, "art1", "checksum mismatch"))
	quarantined, err := s.IsArtifactQuarantined(ctx, "art1")
	require.NoError(t, err)
	assert.True(t, quarantined)
	require.NoError(t, s.ReleaseArtifact(ctx, "art1"))
	quarantined, err = s.IsArtifactQuarantined(ctx, "art1")
	require.NoError(t, err)
	assert.False(t, quarantined)

	// Pins upsert per (repo, snapshot).
	require.NoError(t, s.PinArtifact(ctx, "repo1", "snap1", "art1"))
	require.NoError(t, s.PinArtifact(ctx, "repo1", "snap1", "art2"))
	pinned, err := s.PinnedArtifact(ctx, "repo1", "snap1")
	require.NoError(t, err)
	assert.Equal(t, "art2", pinned)

	// Breaker defaults closed.
	state, err := s.GetBreakerState(ctx, "repo1")
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, state.State)
	state.State = BreakerOpen
	state.FailureCount = 3
	require.NoError(t, s.SetBreakerState(ctx, state))
	state, err = s.GetBreakerState(ctx, "repo1")
	require.NoError(t, err)
	assert.Equal(t, BreakerOpen, state.State)

	// Diagnostics summarize per stage/category.
	require.NoError(t, s.RecordDiagnostic(ctx, "run1", "parse", "syntax_error", "error", "a.py", "python", "bad", "fix it"))
	require.NoError(t, s.RecordDiagnostic(ctx, "run1", "parse", "syntax_error", "error", "b.py", "python", "bad", "fix it"))
	summary, err := s.SummarizeDiagnostics(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary["parse/syntax_error"])

	// Trusted keys.
	require.NoError(t, s.SetTrustedKey(ctx, TrustedKey{
		RepoID: "repo1", KeyID: "k1", Algorithm: "hmac-sha256", PublicKey: "abcd", Active: true,
	}))
	key, err := s.GetTrustedKey(ctx, "repo1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "abcd", key.PublicKey)

	require.NoError(t, s.RecordToolMetric(ctx, "search_symbols", 1.5, true, "local", 128, ""))
	require.NoError(t, s.RecordSyncEvent(ctx, "repo1", "info", "artifact_pushed", `{"artifact_id":"a"}`))
}
