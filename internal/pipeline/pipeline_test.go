package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bombe/internal/config"
	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

type fixture struct {
	root  string
	store *store.Store
	pipe  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	settings, err := config.Build(root, filepath.Join(root, ".bombe", "bombe.db"),
		config.ProfileDefault, nil, nil, 2, 0)
	require.NoError(t, err)

	st, err := store.Open(settings.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pipe, err := New(st, settings)
	require.NoError(t, err)
	return &fixture{root: root, store: st, pipe: pipe}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) symbolID(t *testing.T, qualified string) int64 {
	t.Helper()
	id, err := f.store.ResolveSymbolID(context.Background(), qualified)
	require.NoError(t, err)
	return id
}

func TestFullIndexCrossFileCall(t *testing.T) {
	f := newFixture(t)
	f.write(t, "b.py", "def g():\n    return 1\n")
	f.write(t, "a.py", "from b import g\n\ndef f():\n    return g()\n")

	stats, err := f.pipe.FullIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.GreaterOrEqual(t, stats.SymbolsIndexed, 2)

	ctx := context.Background()
	gID := f.symbolID(t, "b.g")
	callers, err := f.store.Callers(ctx, gID)
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "a.f", callers[0].QualifiedName)
	assert.Equal(t, 4, callers[0].Line)

	// PageRank landed on every symbol.
	symbols, err := f.store.AllSymbols(ctx)
	require.NoError(t, err)
	for _, sym := range symbols {
		assert.Greater(t, sym.PageRank, 0.0, sym.QualifiedName)
	}
}

func TestFullIndexIdempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def f():\n    return 1\n")

	ctx := context.Background()
	_, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)

	epochBefore, err := f.store.CacheEpoch(ctx)
	require.NoError(t, err)
	symbolsBefore, err := f.store.AllSymbols(ctx)
	require.NoError(t, err)

	stats, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)

	epochAfter, err := f.store.CacheEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, epochBefore, epochAfter, "no-change run must leave the epoch alone")

	symbolsAfter, err := f.store.AllSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, symbolsBefore, symbolsAfter)
}

func TestDeleteThenReindexLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def f():\n    return 1\n")
	f.write(t, "b.py", "def g():\n    return 2\n")

	ctx := context.Background()
	_, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.root, "b.py")))
	stats, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDeleted)

	files, err := f.store.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.py", files[0].Path)

	symbols, err := f.store.AllSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "a.f", symbols[0].QualifiedName)
}

func TestIncrementalPreservesUntouchedSymbolIDs(t *testing.T) {
	f := newFixture(t)
	f.write(t, "b.py", "def g():\n    return 1\n")
	f.write(t, "a.py", "from b import g\n\ndef f():\n    return g()\n")

	ctx := context.Background()
	_, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)
	fIDBefore := f.symbolID(t, "a.f")

	// Touch b.py only.
	f.write(t, "b.py", "def g():\n    return 42\n")
	stats, err := f.pipe.IncrementalIndex(ctx, []types.FileChange{{Status: "M", Path: "b.py"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)

	// a.py symbol ids are unchanged.
	assert.Equal(t, fIDBefore, f.symbolID(t, "a.f"))

	// The CALLS edge into the new b.g was re-resolved.
	gID := f.symbolID(t, "b.g")
	callers, err := f.store.Callers(ctx, gID)
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, fIDBefore, callers[0].ID)
}

func TestIncrementalDelete(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "def f():\n    return 1\n")

	ctx := context.Background()
	_, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.root, "a.py")))
	_, err = f.pipe.IncrementalIndex(ctx, []types.FileChange{{Status: "D", Path: "a.py"}})
	require.NoError(t, err)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Files)
	assert.Equal(t, int64(0), stats.Symbols)
}

func TestIncrementalRename(t *testing.T) {
	f := newFixture(t)
	f.write(t, "old.py", "def f():\n    return 1\n")

	ctx := context.Background()
	_, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Rename(
		filepath.Join(f.root, "old.py"), filepath.Join(f.root, "new.py")))
	_, err = f.pipe.IncrementalIndex(ctx, []types.FileChange{
		{Status: "R", Path: "new.py", OldPath: "old.py"},
	})
	require.NoError(t, err)

	symbols, err := f.store.AllSymbols(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "new.py", symbols[0].FilePath)
	assert.Equal(t, "new.f", symbols[0].QualifiedName)
}

func TestClassHierarchyEdges(t *testing.T) {
	f := newFixture(t)
	f.write(t, "zoo.py", `class Animal:
    def speak(self):
        pass

class Dog(Animal):
    pass

class Cat(Animal):
    pass
`)
	ctx := context.Background()
	_, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)

	animalID := f.symbolID(t, "zoo.Animal")
	dependents, err := f.store.TypeDependents(ctx, animalID)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, dep := range dependents {
		names[dep.Name] = true
	}
	assert.True(t, names["Dog"])
	assert.True(t, names["Cat"])

	// HAS_METHOD edge links Animal to speak.
	edges, err := f.store.SymbolEdges(ctx, []string{types.RelHasMethod})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, animalID, edges[0].SourceID)
}

func TestParseFailureIsFileLocal(t *testing.T) {
	f := newFixture(t)
	f.write(t, "ok.py", "def f():\n    return 1\n")
	f.write(t, "broken.py", "def broken(:\n    pass\n")

	ctx := context.Background()
	stats, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.NotEmpty(t, stats.Diagnostics)

	// The healthy file still indexed.
	_, err = f.store.ResolveSymbolID(ctx, "ok.f")
	assert.NoError(t, err)
}

func TestExternalDepsRecorded(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.py", "import requests\n\ndef f():\n    return requests.get('x')\n")

	ctx := context.Background()
	_, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)

	stats, err := f.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ExternalDeps)
}

func TestResolveImportsPython(t *testing.T) {
	files := map[string]types.FileRecord{
		"pkg/util.py":     {Path: "pkg/util.py", Language: types.LangPython},
		"pkg/__init__.py": {Path: "pkg/__init__.py", Language: types.LangPython},
		"app.py":          {Path: "app.py", Language: types.LangPython},
	}
	fileIDs := map[string]int64{"pkg/util.py": 1, "pkg/__init__.py": 2, "app.py": 3}

	edges, external, resolved := resolveImports("/repo",
		types.FileRecord{Path: "app.py", Language: types.LangPython},
		[]types.ImportRecord{
			{FilePath: "app.py", ImportStatement: "from pkg.util import x", ModuleName: "pkg.util", LineNumber: 1},
			{FilePath: "app.py", ImportStatement: "import requests", ModuleName: "requests", LineNumber: 2},
		}, files, fileIDs)

	require.Len(t, edges, 1)
	assert.Equal(t, int64(3), edges[0].SourceID)
	assert.Equal(t, int64(1), edges[0].TargetID)
	assert.Equal(t, types.RelImports, edges[0].Relationship)
	require.Len(t, external, 1)
	assert.Equal(t, "requests", external[0].ModuleName)
	assert.Equal(t, "pkg/util.py", resolved["pkg.util"])
}

func TestResolveImportsTypeScriptRelative(t *testing.T) {
	files := map[string]types.FileRecord{
		"src/logger.ts":     {Path: "src/logger.ts", Language: types.LangTypeScript},
		"src/store/index.ts": {Path: "src/store/index.ts", Language: types.LangTypeScript},
	}
	fileIDs := map[string]int64{"src/logger.ts": 1, "src/store/index.ts": 2}

	edges, external, _ := resolveImports("/repo",
		types.FileRecord{Path: "src/app.ts", Language: types.LangTypeScript},
		[]types.ImportRecord{
			{ModuleName: "./logger", LineNumber: 1},
			{ModuleName: "./store", LineNumber: 2},
			{ModuleName: "react", LineNumber: 3},
		}, files, fileIDs)

	require.Len(t, edges, 2)
	require.Len(t, external, 1)
	assert.Equal(t, "react", external[0].ModuleName)
}

func TestCallerForLinePicksSmallest(t *testing.T) {
	symbols := []types.SymbolRecord{
		{ID: 1, Name: "outer", QualifiedName: "m.outer", StartLine: 1, EndLine: 20},
		{ID: 2, Name: "inner", QualifiedName: "m.inner", StartLine: 5, EndLine: 10},
	}
	caller := callerForLine(7, symbols)
	require.NotNil(t, caller)
	assert.Equal(t, "m.inner", caller.QualifiedName)
	assert.Nil(t, callerForLine(25, symbols))
}

func TestPickBestTieBreak(t *testing.T) {
	a := &types.SymbolRecord{ID: 2, PageRank: 0.5}
	b := &types.SymbolRecord{ID: 1, PageRank: 0.5}
	c := &types.SymbolRecord{ID: 3, PageRank: 0.9}

	best, ambiguous := pickBest([]*types.SymbolRecord{a, b, c})
	assert.True(t, ambiguous)
	assert.Equal(t, int64(3), best.ID, "highest PageRank wins")

	best, _ = pickBest([]*types.SymbolRecord{a, b})
	assert.Equal(t, int64(1), best.ID, "equal PageRank falls back to lowest id")
}

func TestLexicalReceiverHints(t *testing.T) {
	lines := []string{"x = MyClass()", "x.do_thing()"}
	hints := lexicalReceiverHints(lines, "x", 2, 60)
	assert.Contains(t, hints, "MyClass")

	lines = []string{"c := &Server{}", "c.Start()"}
	hints = lexicalReceiverHints(lines, "c", 2, 60)
	assert.Contains(t, hints, "Server")
}

func TestCallChainBlastFixture(t *testing.T) {
	// f0 -> f1 -> ... -> f9, each calling the next.
	f := newFixture(t)
	src := ""
	for i := 0; i < 10; i++ {
		if i < 9 {
			src += "def f" + string(rune('0'+i)) + "():\n    return f" + string(rune('0'+i+1)) + "()\n\n"
		} else {
			src += "def f9():\n    return 1\n"
		}
	}
	f.write(t, "chain.py", src)

	ctx := context.Background()
	_, err := f.pipe.FullIndex(ctx)
	require.NoError(t, err)

	f5 := f.symbolID(t, "chain.f5")
	// Walk reverse edges manually to depth 3: expect f4, f3, f2.
	expected := map[string]bool{"f4": false, "f3": false, "f2": false}
	frontier := []int64{f5}
	for depth := 0; depth < 3; depth++ {
		var next []int64
		for _, id := range frontier {
			callers, err := f.store.Callers(ctx, id)
			require.NoError(t, err)
			for _, caller := range callers {
				if _, ok := expected[caller.Name]; ok {
					expected[caller.Name] = true
				}
				next = append(next, caller.ID)
			}
		}
		frontier = next
	}
	for name, seen := range expected {
		assert.True(t, seen, name)
	}
}
