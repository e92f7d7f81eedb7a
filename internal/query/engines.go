package query

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// Engines bundles the seven query engines over one store snapshot view.
type Engines struct {
	store    *store.Store
	repoRoot string
	planner  *Planner
	tok      Tokenizer
}

// New creates the engine set. tok may be nil; the chars/3.5 estimator is
// used then.
func New(s *store.Store, repoRoot string, tok Tokenizer) *Engines {
	if tok == nil {
		tok = EstimateTokenizer{}
	}
	return &Engines{store: s, repoRoot: repoRoot, planner: NewPlanner(), tok: tok}
}

// Planner exposes the shared response cache (for invalidation and stats).
func (e *Engines) Planner() *Planner { return e.planner }

// cached wraps an engine computation with the planner cache. The compute
// callback runs on a miss; its result is cached under the current epoch.
func cached[Req any, Resp any](ctx context.Context, e *Engines, tool string, req Req,
	wantTrace bool, clamped map[string]int, compute func() (Resp, error)) (Resp, error) {

	var zero Resp
	epoch, err := e.store.CacheEpoch(ctx)
	if err != nil {
		return zero, err
	}

	lookupStart := time.Now()
	if value, ok := e.planner.lookup(tool, req, epoch); ok {
		if resp, ok := value.(Resp); ok {
			if wantTrace {
				resp = withTrace(resp, &types.PlannerTrace{
					CacheMode:     "cache_hit",
					CacheEpoch:    epoch,
					LookupMS:      time.Since(lookupStart).Milliseconds(),
					ClampedFields: clamped,
				})
			}
			return resp, nil
		}
	}
	lookupMS := time.Since(lookupStart).Milliseconds()

	computeStart := time.Now()
	resp, err := compute()
	if err != nil {
		return zero, err
	}
	e.planner.save(tool, req, epoch, resp)
	if wantTrace {
		resp = withTrace(resp, &types.PlannerTrace{
			CacheMode:     "cache_miss",
			CacheEpoch:    epoch,
			LookupMS:      lookupMS,
			ComputeMS:     time.Since(computeStart).Milliseconds(),
			ClampedFields: clamped,
		})
	}
	return resp, nil
}

// withTrace attaches a planner trace to any response type carrying the
// standard PlannerTrace field. The response is shallow-copied so cached
// instances stay trace-free and race-free.
func withTrace[Resp any](resp Resp, trace *types.PlannerTrace) Resp {
	switch v := any(&resp).(type) {
	case **types.SearchResponse:
		c := **v
		c.PlannerTrace = trace
		*v = &c
	case **types.ReferencesResponse:
		c := **v
		c.PlannerTrace = trace
		*v = &c
	case **types.ContextResponse:
		c := **v
		c.PlannerTrace = trace
		*v = &c
	case **types.BlastResponse:
		c := **v
		c.PlannerTrace = trace
		*v = &c
	case **types.FlowResponse:
		c := **v
		c.PlannerTrace = trace
		*v = &c
	case **types.ImpactResponse:
		c := **v
		c.PlannerTrace = trace
		*v = &c
	case **types.StructureResponse:
		c := **v
		c.PlannerTrace = trace
		*v = &c
	}
	return resp
}

// clampRecord notes a clamped field for the planner trace.
func clampRecord(clamped map[string]int, field string, before, after int) map[string]int {
	if before == after {
		return clamped
	}
	if clamped == nil {
		clamped = make(map[string]int)
	}
	clamped[field] = after
	return clamped
}

// sourceFragment reads lines [startLine, endLine] (1-based, inclusive)
// from a repo-relative path. IO failures yield an empty string: engines
// degrade, they do not fail, on missing source.
func (e *Engines) sourceFragment(relPath string, startLine, endLine int) string {
	abs := filepath.Join(e.repoRoot, filepath.FromSlash(relPath))
	content, err := os.ReadFile(abs)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(content), "\n")
	start := startLine - 1
	if start < 0 {
		start = 0
	}
	end := endLine
	if end > len(lines) {
		end = len(lines)
	}
	if start >= len(lines) || start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}

// deadlineExpired reports whether the request's wall-clock budget is gone.
// BFS loops call this between hops and return best-effort partials.
func deadlineExpired(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// isTestPath detects test files by path heuristic.
func isTestPath(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, "_test.") ||
		strings.HasPrefix(base, "test_") ||
		strings.Contains(path, "/tests/") ||
		strings.Contains(path, "/test/")
}
