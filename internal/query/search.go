package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/bombe/pkg/types"
)

// SearchSymbols runs FTS with a LIKE fallback, scores candidates with the
// hybrid ranker, and returns the top-N by descending score.
func (e *Engines) SearchSymbols(ctx context.Context, req types.SearchRequest) (*types.SearchResponse, error) {
	// limit=0 legitimately asks for an empty list; the tool schema supplies
	// the default for absent limits.
	var clamped map[string]int
	originalLimit := req.Limit
	req.Limit = clampLimit(req.Limit, MaxSearchLimit)
	clamped = clampRecord(clamped, "limit", originalLimit, req.Limit)
	req.Query = truncateQuery(req.Query)
	if req.Kind == "" {
		req.Kind = "any"
	}

	return cached(ctx, e, "search_symbols", req, req.Trace, clamped, func() (*types.SearchResponse, error) {
		if req.Limit == 0 || req.Query == "" {
			return &types.SearchResponse{Symbols: []types.SearchHit{}}, nil
		}

		// Over-fetch so the hybrid ranker has room to reorder.
		fetchLimit := clampLimit(req.Limit*3, MaxSearchLimit)

		ftsRows, err := e.store.SearchSymbolsFTS(ctx, req.Query, req.Kind, req.FilePattern, fetchLimit)
		if err != nil {
			return nil, err
		}
		likeRows, err := e.store.SearchSymbolsLike(ctx, req.Query, req.Kind, req.FilePattern, fetchLimit)
		if err != nil {
			return nil, err
		}

		// FTS hits win on overlap.
		type candidate struct {
			sym      types.SymbolRecord
			strategy string
		}
		combined := make(map[int64]candidate, len(ftsRows)+len(likeRows))
		order := make([]int64, 0, len(ftsRows)+len(likeRows))
		for _, sym := range likeRows {
			if _, ok := combined[sym.ID]; !ok {
				order = append(order, sym.ID)
			}
			combined[sym.ID] = candidate{sym: sym, strategy: "like"}
		}
		for _, sym := range ftsRows {
			if _, ok := combined[sym.ID]; !ok {
				order = append(order, sym.ID)
			}
			combined[sym.ID] = candidate{sym: sym, strategy: "fts"}
		}

		type scored struct {
			score float64
			hit   types.SearchHit
		}
		results := make([]scored, 0, len(order))
		for _, id := range order {
			c := combined[id]
			callers, callees, err := e.store.CountRefs(ctx, id)
			if err != nil {
				return nil, err
			}
			score := rankSymbol(req.Query, c.sym.Name, c.sym.QualifiedName,
				c.sym.Signature, c.sym.Docstring, c.sym.PageRank, callers, callees)
			hit := types.SearchHit{
				Name:            c.sym.Name,
				QualifiedName:   c.sym.QualifiedName,
				Kind:            c.sym.Kind,
				FilePath:        c.sym.FilePath,
				StartLine:       c.sym.StartLine,
				EndLine:         c.sym.EndLine,
				Signature:       c.sym.Signature,
				Visibility:      c.sym.Visibility,
				ImportanceScore: c.sym.PageRank,
				CallersCount:    callers,
				CalleesCount:    callees,
				MatchStrategy:   c.strategy,
			}
			if req.Explain {
				hit.MatchReason = fmt.Sprintf("%s:query=%q,kind=%q", c.strategy, req.Query, req.Kind)
			}
			results = append(results, scored{score: score, hit: hit})
		}

		sort.SliceStable(results, func(i, j int) bool {
			if results[i].score != results[j].score {
				return results[i].score > results[j].score
			}
			if results[i].hit.QualifiedName != results[j].hit.QualifiedName {
				return results[i].hit.QualifiedName < results[j].hit.QualifiedName
			}
			return results[i].hit.FilePath < results[j].hit.FilePath
		})

		hits := make([]types.SearchHit, 0, req.Limit)
		for _, r := range results {
			if len(hits) >= req.Limit {
				break
			}
			hits = append(hits, r.hit)
		}
		return &types.SearchResponse{Symbols: hits, TotalMatches: len(hits)}, nil
	})
}
