// Package pipeline orchestrates full and incremental indexing passes:
// scan, parallel extraction, deterministic merge, edge resolution, rank
// refresh, and the final cache-epoch bump.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/bombe/internal/config"
	"github.com/dshills/bombe/internal/extract"
	"github.com/dshills/bombe/internal/scanner"
	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// DefaultMaxFileBytes skips pathological single files.
const DefaultMaxFileBytes = 2 * 1024 * 1024

// Pipeline owns the transient extraction state of one or more runs.
type Pipeline struct {
	store     *store.Store
	extractor *extract.Extractor
	settings  *config.Settings

	// ProgressFn, when set, receives monotonic progress snapshots.
	ProgressFn func(types.ProgressSnapshot)
}

// New creates a Pipeline over an open store.
func New(s *store.Store, settings *config.Settings) (*Pipeline, error) {
	extractor := extract.New()
	if settings.RuntimeProfile == config.ProfileStrict {
		for _, lang := range []string{types.LangPython, types.LangTypeScript, types.LangJava, types.LangGo} {
			if !extractor.Supported(lang) {
				return nil, fmt.Errorf("strict profile: required parser grammar unavailable: %s", lang)
			}
		}
	}
	return &Pipeline{store: s, extractor: extractor, settings: settings}, nil
}

// FullIndex processes every enumerated file under the repo root. Unchanged
// files (same content hash) skip parse; their symbol ids are preserved.
func (p *Pipeline) FullIndex(ctx context.Context) (*types.IndexStats, error) {
	started := time.Now()
	stats := &types.IndexStats{RunID: uuid.NewString(), Mode: "full"}

	sc := scanner.New(p.settings.RepoRoot, scanner.Options{
		Include:                   p.settings.Include,
		Exclude:                   p.settings.Exclude,
		DisableSensitiveExclusion: !p.settings.SensitiveExclusionEnabled,
		MaxFileBytes:              DefaultMaxFileBytes,
	})
	entries, err := sc.Enumerate()
	if err != nil {
		return nil, err
	}
	stats.FilesSeen = len(entries)
	p.progress(stats, "scan", len(entries), len(entries), 20)

	for _, skipped := range sc.Skipped {
		p.diag(ctx, stats.RunID, types.Diagnostic{
			Stage:    "scan",
			Category: "file_too_large",
			Severity: "warning",
			FilePath: skipped.RelPath,
			Language: skipped.Language,
			Message:  fmt.Sprintf("file exceeds %d bytes and was skipped", DefaultMaxFileBytes),
			Hint:     "Raise the size limit or exclude the file explicitly.",
		})
	}

	// Hash every candidate; IO errors skip the file for this run.
	records := make([]types.FileRecord, 0, len(entries))
	for _, entry := range entries {
		hash, hashErr := scanner.ContentHash(entry.AbsPath)
		if hashErr != nil {
			p.diag(ctx, stats.RunID, types.Diagnostic{
				Stage:    "scan",
				Category: "io_error",
				Severity: "error",
				FilePath: entry.RelPath,
				Language: entry.Language,
				Message:  hashErr.Error(),
				Hint:     "Check filesystem health and path accessibility.",
			})
			continue
		}
		records = append(records, types.FileRecord{
			Path:        entry.RelPath,
			Language:    entry.Language,
			ContentHash: hash,
			SizeBytes:   entry.SizeBytes,
		})
	}

	// Deleted files: stored but no longer on disk.
	stored, err := p.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]struct{}, len(records))
	for _, r := range records {
		onDisk[r.Path] = struct{}{}
	}
	var deleted []string
	for _, r := range stored {
		if _, ok := onDisk[r.Path]; !ok {
			deleted = append(deleted, r.Path)
		}
	}

	// Changed files: new or differing hash.
	storedHash := make(map[string]string, len(stored))
	for _, r := range stored {
		storedHash[r.Path] = r.ContentHash
	}
	var changed []types.FileRecord
	for _, r := range records {
		if storedHash[r.Path] != r.ContentHash {
			changed = append(changed, r)
		}
	}
	stats.FilesSkipped = len(records) - len(changed)

	if err := p.rebuild(ctx, stats, records, changed, deleted); err != nil {
		return nil, err
	}

	stats.ElapsedMS = time.Since(started).Milliseconds()
	stats.FilesIndexed = len(changed)
	stats.FilesDeleted = len(deleted)
	summary, _ := p.store.SummarizeDiagnostics(ctx, stats.RunID)
	stats.Diagnostics = summary
	p.progress(stats, "complete", len(changed), len(changed), 100)
	return stats, nil
}

// IncrementalIndex processes a supplied changeset.
func (p *Pipeline) IncrementalIndex(ctx context.Context, changes []types.FileChange) (*types.IndexStats, error) {
	started := time.Now()
	stats := &types.IndexStats{RunID: uuid.NewString(), Mode: "incremental"}
	stats.FilesSeen = len(changes)

	var deleted []string
	var changed []types.FileRecord

	for _, change := range changes {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		switch strings.ToUpper(change.Status) {
		case "D":
			deleted = append(deleted, change.Path)
		case "R":
			if change.OldPath == "" {
				continue
			}
			if err := p.store.RenameFile(ctx, change.OldPath, change.Path); err != nil {
				return nil, err
			}
			// The new path is re-extracted so path-encoded qualified
			// names and edges line up again.
			if record, ok := p.statRecord(change.Path); ok {
				changed = append(changed, record)
			}
		case "A", "M":
			if record, ok := p.statRecord(change.Path); ok {
				changed = append(changed, record)
			}
		}
	}

	records, err := p.knownRecords(ctx, changed)
	if err != nil {
		return nil, err
	}
	if err := p.rebuild(ctx, stats, records, changed, deleted); err != nil {
		return nil, err
	}

	stats.ElapsedMS = time.Since(started).Milliseconds()
	stats.FilesIndexed = len(changed)
	stats.FilesDeleted = len(deleted)
	summary, _ := p.store.SummarizeDiagnostics(ctx, stats.RunID)
	stats.Diagnostics = summary
	p.progress(stats, "complete", len(changed), len(changed), 100)
	return stats, nil
}

// statRecord builds a FileRecord for an on-disk path, or false when the
// file is gone or outside the closed language set.
func (p *Pipeline) statRecord(relPath string) (types.FileRecord, bool) {
	abs := filepath.Join(p.settings.RepoRoot, filepath.FromSlash(relPath))
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return types.FileRecord{}, false
	}
	lang := scanner.DetectLanguage(relPath)
	if lang == "" {
		return types.FileRecord{}, false
	}
	hash, err := scanner.ContentHash(abs)
	if err != nil {
		return types.FileRecord{}, false
	}
	return types.FileRecord{
		Path:        relPath,
		Language:    lang,
		ContentHash: hash,
		SizeBytes:   info.Size(),
	}, true
}

// knownRecords merges the stored file table with fresh records so the
// import resolvers see the complete repo during incremental runs.
func (p *Pipeline) knownRecords(ctx context.Context, fresh []types.FileRecord) ([]types.FileRecord, error) {
	stored, err := p.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]types.FileRecord, len(stored)+len(fresh))
	for _, r := range stored {
		byPath[r.Path] = r
	}
	for _, r := range fresh {
		byPath[r.Path] = r
	}
	records := make([]types.FileRecord, 0, len(byPath))
	for _, r := range byPath {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

// rebuild is the shared merge + resolution + rank core of both run modes.
// records is the complete post-run file set; changed the files whose
// symbols must be replaced; deleted the paths to drop entirely.
func (p *Pipeline) rebuild(ctx context.Context, stats *types.IndexStats,
	records, changed []types.FileRecord, deleted []string) error {

	mutated := len(changed) > 0 || len(deleted) > 0

	// Dependent files re-resolve their edges when symbols they point into
	// are replaced or removed. Collect them before anything is deleted.
	dependentPaths, err := p.dependentFiles(ctx, changed, deleted)
	if err != nil {
		return err
	}

	for _, path := range deleted {
		if err := p.store.DeleteFileGraph(ctx, path); err != nil {
			return err
		}
	}

	if _, err := p.store.UpsertFiles(ctx, changed); err != nil {
		return err
	}

	// Drop deleted paths from the record set the resolvers see.
	deletedSet := make(map[string]struct{}, len(deleted))
	for _, d := range deleted {
		deletedSet[d] = struct{}{}
	}
	filesByPath := make(map[string]types.FileRecord, len(records))
	var orderedPaths []string
	for _, r := range records {
		if _, gone := deletedSet[r.Path]; gone {
			continue
		}
		filesByPath[r.Path] = r
		orderedPaths = append(orderedPaths, r.Path)
	}
	sort.Strings(orderedPaths)

	// Stable file ids: ascending path order, 1-based.
	fileIDs := make(map[string]int64, len(orderedPaths))
	for i, path := range orderedPaths {
		fileIDs[path] = int64(i + 1)
	}

	// Extraction set: changed files plus dependents still present.
	extractSet := make(map[string]types.FileRecord, len(changed)+len(dependentPaths))
	changedSet := make(map[string]struct{}, len(changed))
	for _, r := range changed {
		extractSet[r.Path] = r
		changedSet[r.Path] = struct{}{}
	}
	for _, path := range dependentPaths {
		if record, ok := filesByPath[path]; ok {
			extractSet[path] = record
		}
	}

	extractions, err := p.parallelExtract(ctx, stats.RunID, extractSet)
	if err != nil {
		return err
	}
	p.progress(stats, "extract_symbols", len(extractions), len(extractions), 55)

	// Deterministic merge: ascending path order, one transaction per file.
	// Only changed files get their symbols replaced; dependents keep ids.
	for _, ext := range extractions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, isChanged := changedSet[ext.FilePath]; !isChanged {
			continue
		}
		if _, err := p.store.ReplaceFileSymbols(ctx, ext.FilePath, ext.Symbols); err != nil {
			p.diag(ctx, stats.RunID, types.Diagnostic{
				Stage: "store_symbols", Category: "database_write_failure", Severity: "error",
				FilePath: ext.FilePath, Language: ext.Language,
				Message: err.Error(),
				Hint:    "Check SQLite schema compatibility and writable storage.",
			})
			if p.settings.RuntimeProfile == config.ProfileStrict {
				return err
			}
			continue
		}
		stats.SymbolsIndexed += len(ext.Symbols)
	}

	// Edge resolution: all symbols for the run exist now.
	allSymbols, err := p.store.AllSymbols(ctx)
	if err != nil {
		return err
	}
	state := newResolveState(allSymbols)
	symbolsByFile := make(map[string][]types.SymbolRecord)
	for _, sym := range allSymbols {
		symbolsByFile[sym.FilePath] = append(symbolsByFile[sym.FilePath], sym)
	}

	for _, ext := range extractions {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		record, ok := filesByPath[ext.FilePath]
		if !ok {
			continue
		}
		importEdges, external, resolvedImports := resolveImports(
			p.settings.RepoRoot, record, ext.Imports, filesByPath, fileIDs)

		hints := loadSemanticHints(p.semanticHintsPath(), ext.FilePath)
		resolved := resolveFileEdges(ext, symbolsByFile[ext.FilePath], state,
			fileIDs, symbolsByFile, resolvedImports, hints)
		stats.AmbiguousSites += resolved.ambiguous
		stats.DroppedSites += resolved.dropped

		edges := append(importEdges, resolved.edges...)
		if err := p.store.ReplaceFileEdges(ctx, ext.FilePath, edges); err != nil {
			p.diag(ctx, stats.RunID, types.Diagnostic{
				Stage: "store_edges", Category: "database_write_failure", Severity: "error",
				FilePath: ext.FilePath, Language: ext.Language,
				Message: err.Error(),
				Hint:    "Check SQLite schema compatibility and writable storage.",
			})
			if p.settings.RuntimeProfile == config.ProfileStrict {
				return err
			}
			continue
		}
		if err := p.store.ReplaceExternalDeps(ctx, ext.FilePath, external); err != nil {
			return err
		}
		stats.EdgesIndexed += len(edges)
	}
	p.progress(stats, "build_edges", stats.EdgesIndexed, stats.EdgesIndexed, 85)

	// Rank refresh is unconditional; the scores it writes are a pure
	// function of the graph, so an unchanged graph rewrites identical
	// values without bumping the epoch.
	if err := recomputePageRank(ctx, p.store); err != nil {
		p.diag(ctx, stats.RunID, types.Diagnostic{
			Stage: "pagerank", Category: "pagerank_failure", Severity: "error",
			Message: err.Error(),
			Hint:    "Inspect graph integrity before recomputing PageRank.",
		})
		if p.settings.RuntimeProfile == config.ProfileStrict {
			return err
		}
	}

	if mutated {
		if _, err := p.store.BumpCacheEpoch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// dependentFiles returns the paths recording edges into symbols of files
// about to change or disappear.
func (p *Pipeline) dependentFiles(ctx context.Context, changed []types.FileRecord, deleted []string) ([]string, error) {
	touched := make(map[string]struct{}, len(changed)+len(deleted))
	for _, r := range changed {
		touched[r.Path] = struct{}{}
	}
	for _, path := range deleted {
		touched[path] = struct{}{}
	}
	if len(touched) == 0 {
		return nil, nil
	}

	allSymbols, err := p.store.AllSymbols(ctx)
	if err != nil {
		return nil, err
	}
	var oldIDs []int64
	for _, sym := range allSymbols {
		if _, ok := touched[sym.FilePath]; ok {
			oldIDs = append(oldIDs, sym.ID)
		}
	}
	paths, err := p.store.FilesWithEdgesTouching(ctx, oldIDs)
	if err != nil {
		return nil, err
	}
	var dependents []string
	for _, path := range paths {
		if _, isTouched := touched[path]; !isTouched {
			dependents = append(dependents, path)
		}
	}
	return dependents, nil
}

// parallelExtract runs extraction across a bounded worker pool and returns
// results sorted by file path, which restores determinism at the merge
// boundary regardless of worker count and timing.
func (p *Pipeline) parallelExtract(ctx context.Context, runID string, files map[string]types.FileRecord) ([]*types.Extraction, error) {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	workers := p.settings.Workers
	if workers < 1 {
		workers = 1
	}
	semaphore := make(chan struct{}, workers)
	results := make([]*types.Extraction, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		record := files[path]
		g.Go(func() error {
			select {
			case semaphore <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-semaphore }()

			abs := filepath.Join(p.settings.RepoRoot, filepath.FromSlash(record.Path))
			source, readErr := os.ReadFile(abs)
			if readErr != nil {
				results[i] = &types.Extraction{
					FilePath: record.Path,
					Language: record.Language,
					Diagnostics: []types.Diagnostic{{
						Stage: "scan", Category: "io_error", Severity: "error",
						FilePath: record.Path, Language: record.Language,
						Message: readErr.Error(),
						Hint:    "Ensure the file exists and rerun indexing.",
					}},
				}
				return nil
			}
			ext := p.extractor.Extract(source, record.Language, record.Path)
			results[i] = &ext
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Persist per-file diagnostics.
	for _, ext := range results {
		if ext == nil {
			continue
		}
		for _, d := range ext.Diagnostics {
			p.diag(ctx, runID, d)
		}
	}

	out := make([]*types.Extraction, 0, len(results))
	for _, ext := range results {
		if ext != nil {
			out = append(out, ext)
		}
	}
	return out, nil
}

func (p *Pipeline) semanticHintsPath() string {
	return p.settings.SemanticHintsPath
}

func (p *Pipeline) diag(ctx context.Context, runID string, d types.Diagnostic) {
	_ = p.store.RecordDiagnostic(ctx, runID, d.Stage, d.Category, d.Severity,
		d.FilePath, d.Language, d.Message, d.Hint)
}

func (p *Pipeline) progress(stats *types.IndexStats, step string, completed, total, pct int) {
	snapshot := types.ProgressSnapshot{
		Step: step, Completed: completed, Total: total, ProgressPct: pct,
	}
	if step == "complete" {
		snapshot.ElapsedMS = stats.ElapsedMS
	}
	stats.Progress = append(stats.Progress, snapshot)
	if p.ProgressFn != nil {
		p.ProgressFn(snapshot)
	}
}
