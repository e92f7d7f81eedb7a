package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bombe/internal/config"
	"github.com/dshills/bombe/internal/pipeline"
	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

type fixture struct {
	root    string
	store   *store.Store
	engines *Engines
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	settings, err := config.Build(root, filepath.Join(root, ".bombe", "bombe.db"),
		config.ProfileDefault, nil, nil, 2, 0)
	require.NoError(t, err)

	st, err := store.Open(settings.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pipe, err := pipeline.New(st, settings)
	require.NoError(t, err)
	_, err = pipe.FullIndex(context.Background())
	require.NoError(t, err)

	return &fixture{root: root, store: st, engines: New(st, root, nil)}
}

func authFixture(t *testing.T) *fixture {
	return newFixture(t, map[string]string{
		"auth.py": `def verify_password(password):
    return password == "ok"

def authenticate(username, password):
    return verify_password(password)

def login(username, password):
    return authenticate(username, password)
`,
	})
}

func TestSearchSymbols(t *testing.T) {
	f := authFixture(t)
	resp, err := f.engines.SearchSymbols(context.Background(), types.SearchRequest{
		Query: "authenticate", Limit: 10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Symbols)
	assert.Equal(t, "authenticate", resp.Symbols[0].Name)
	assert.Equal(t, "auth.authenticate", resp.Symbols[0].QualifiedName)
	assert.Equal(t, 1, resp.Symbols[0].CallersCount)
	assert.Equal(t, 1, resp.Symbols[0].CalleesCount)
}

func TestSearchSymbolsLimitZero(t *testing.T) {
	f := authFixture(t)
	resp, err := f.engines.SearchSymbols(context.Background(), types.SearchRequest{
		Query: "authenticate", Limit: 0,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Symbols)
	assert.Equal(t, 0, resp.TotalMatches)
}

func TestSearchSymbolsLimitClamped(t *testing.T) {
	f := authFixture(t)
	resp, err := f.engines.SearchSymbols(context.Background(), types.SearchRequest{
		Query: "auth", Limit: 5000, Trace: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.PlannerTrace)
	assert.Equal(t, MaxSearchLimit, resp.PlannerTrace.ClampedFields["limit"])
}

func TestGetReferencesCallees(t *testing.T) {
	f := newFixture(t, map[string]string{
		"b.py": "def g():\n    return 1\n",
		"a.py": "from b import g\n\ndef f():\n    return g()\n",
	})
	resp, err := f.engines.GetReferences(context.Background(), types.ReferencesRequest{
		Symbol: "f", Direction: "callees",
	})
	require.NoError(t, err)
	assert.True(t, resp.Found)
	require.Len(t, resp.Callees, 1)
	assert.Equal(t, "g", resp.Callees[0].Name)
	assert.Equal(t, "b.py", resp.Callees[0].FilePath)
	assert.Equal(t, 4, resp.Callees[0].LineNumber)
	assert.Empty(t, resp.Callers)
}

func TestGetReferencesUnknownSymbol(t *testing.T) {
	f := authFixture(t)
	resp, err := f.engines.GetReferences(context.Background(), types.ReferencesRequest{
		Symbol: "does_not_exist",
	})
	require.NoError(t, err)
	assert.False(t, resp.Found)
	assert.Empty(t, resp.Callers)
	assert.Empty(t, resp.Callees)
}

func TestGetReferencesDepthClampMatchesCap(t *testing.T) {
	f := authFixture(t)
	ctx := context.Background()

	capped, err := f.engines.GetReferences(ctx, types.ReferencesRequest{
		Symbol: "verify_password", Direction: "callers", Depth: MaxReferenceDepth,
	})
	require.NoError(t, err)
	over, err := f.engines.GetReferences(ctx, types.ReferencesRequest{
		Symbol: "verify_password", Direction: "callers", Depth: 99,
	})
	require.NoError(t, err)
	assert.Equal(t, capped.Callers, over.Callers)
}

func TestGetContextBudgetRespected(t *testing.T) {
	f := authFixture(t)
	resp, err := f.engines.GetContext(context.Background(), types.ContextRequest{
		Query: "authenticate flow", TokenBudget: 300, ExpansionDepth: 2,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, resp.Bundle.TokensUsed, resp.Bundle.TokenBudget)
	assert.NotEmpty(t, resp.Bundle.Files)
}

func TestGetContextRelationshipSummary(t *testing.T) {
	f := authFixture(t)
	resp, err := f.engines.GetContext(context.Background(), types.ContextRequest{
		Query:       "authenticate flow",
		EntryPoints: []string{"login", "authenticate", "verify_password"},
		TokenBudget: 8000,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, resp.Bundle.TokensUsed, resp.Bundle.TokenBudget)

	pairs := map[string]bool{}
	for _, edge := range resp.Bundle.RelationshipMap {
		pairs[edge.FromName+"->"+edge.ToName] = true
	}
	assert.True(t, pairs["login->authenticate"])
	assert.True(t, pairs["authenticate->verify_password"])
	assert.GreaterOrEqual(t, resp.Bundle.QualityMetrics.SeedHitRate, 0.99)
}

func TestGetContextRedactsSecrets(t *testing.T) {
	f := newFixture(t, map[string]string{
		"creds.py": `def fetch():
    """Uses AKIA0000000000000000 for access."""
    api_key = "sk-AAAAAAAAAAAAAAAAAAAAAAAA"
    return api_key
`,
	})
	resp, err := f.engines.GetContext(context.Background(), types.ContextRequest{
		Query: "fetch", EntryPoints: []string{"fetch"}, TokenBudget: 8000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Bundle.Files)

	for _, file := range resp.Bundle.Files {
		for _, sym := range file.Symbols {
			assert.NotContains(t, sym.Source, "AKIA0000000000000000")
			assert.NotContains(t, sym.Source, "sk-AAAAAAAAAAAAAAAAAAAAAAAA")
		}
	}
	assert.Greater(t, resp.Bundle.QualityMetrics.RedactionHits, 0)
}

func TestGetContextUnknownQuery(t *testing.T) {
	f := authFixture(t)
	resp, err := f.engines.GetContext(context.Background(), types.ContextRequest{
		Query: "zzzzqqqq_nothing_matches",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Bundle.SymbolsIncluded)
	assert.Equal(t, 0, resp.Bundle.TokensUsed)
}

func chainFixture(t *testing.T, n int) *fixture {
	src := ""
	for i := 0; i < n; i++ {
		if i < n-1 {
			src += fmt.Sprintf("def f%d():\n    return f%d()\n\n", i, i+1)
		} else {
			src += fmt.Sprintf("def f%d():\n    return 1\n", i)
		}
	}
	return newFixture(t, map[string]string{"chain.py": src})
}

func TestGetBlastRadiusChain(t *testing.T) {
	f := chainFixture(t, 100)
	resp, err := f.engines.GetBlastRadius(context.Background(), types.BlastRequest{
		Symbol: "f50", ChangeType: "behavior", MaxDepth: 3,
	})
	require.NoError(t, err)
	assert.True(t, resp.Found)

	var names []string
	for _, caller := range resp.DirectCallers {
		names = append(names, caller.Name)
	}
	for _, caller := range resp.TransitiveCallers {
		names = append(names, caller.Name)
	}
	assert.ElementsMatch(t, []string{"f49", "f48", "f47"}, names)
}

func TestGetBlastRadiusTestDependentsRaiseRisk(t *testing.T) {
	f := newFixture(t, map[string]string{
		"core.py":       "def compute():\n    return 1\n",
		"tests/test_core.py": "from core import compute\n\ndef test_compute():\n    assert compute() == 1\n",
	})
	resp, err := f.engines.GetBlastRadius(context.Background(), types.BlastRequest{
		Symbol: "compute", MaxDepth: 2,
	})
	require.NoError(t, err)
	assert.True(t, resp.HasTestDependents)
	assert.NotEqual(t, "low", resp.RiskLevel)
}

func TestChangeImpactHierarchy(t *testing.T) {
	f := newFixture(t, map[string]string{
		"zoo.py": `class Animal:
    pass

class Dog(Animal):
    pass

class Cat(Animal):
    pass
`,
	})
	resp, err := f.engines.ChangeImpact(context.Background(), types.ImpactRequest{
		Symbol: "Animal", ChangeType: "signature",
	})
	require.NoError(t, err)
	assert.True(t, resp.Found)

	names := map[string]int{}
	for _, dep := range resp.TypeDependents {
		names[dep.Name] = dep.Depth
	}
	assert.Equal(t, 1, names["Dog"])
	assert.Equal(t, 1, names["Cat"])
}

func TestTraceDataFlow(t *testing.T) {
	f := chainFixture(t, 5)
	resp, err := f.engines.TraceDataFlow(context.Background(), types.FlowRequest{
		Symbol: "f2", Direction: "both", MaxDepth: 1,
	})
	require.NoError(t, err)
	assert.True(t, resp.Found)
	require.Len(t, resp.Paths, 2)

	roles := map[string]string{}
	for _, node := range resp.Nodes {
		roles[node.Name] = node.Role
	}
	assert.Equal(t, "target", roles["f2"])
	assert.Equal(t, "upstream", roles["f1"])
	assert.Equal(t, "downstream", roles["f3"])
}

func TestGetStructureBudget(t *testing.T) {
	f := authFixture(t)
	resp, err := f.engines.GetStructure(context.Background(), types.StructureRequest{
		Path: ".", TokenBudget: 8000, IncludeSignatures: true,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, resp.TokensUsed, resp.TokenBudget)
	assert.Contains(t, resp.Rendered, "auth.py")
	assert.Contains(t, resp.Rendered, "authenticate")

	tiny, err := f.engines.GetStructure(context.Background(), types.StructureRequest{
		Path: ".", TokenBudget: 5,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, tiny.TokensUsed, 5)
	assert.True(t, tiny.Truncated)
}

func TestPlannerCacheHitAndInvalidation(t *testing.T) {
	f := authFixture(t)
	ctx := context.Background()
	req := types.SearchRequest{Query: "authenticate", Limit: 10, Trace: true}

	first, err := f.engines.SearchSymbols(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.PlannerTrace)
	assert.Equal(t, "cache_miss", first.PlannerTrace.CacheMode)

	second, err := f.engines.SearchSymbols(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, second.PlannerTrace)
	assert.Equal(t, "cache_hit", second.PlannerTrace.CacheMode)

	// An epoch bump changes every cache key.
	_, err = f.store.BumpCacheEpoch(ctx)
	require.NoError(t, err)
	third, err := f.engines.SearchSymbols(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "cache_miss", third.PlannerTrace.CacheMode)
}
