package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// GetBlastRadius walks reverse edges (CALLS, EXTENDS, IMPLEMENTS) from the
// target and buckets the damage. Test-file dependents raise the risk one
// level.
func (e *Engines) GetBlastRadius(ctx context.Context, req types.BlastRequest) (*types.BlastResponse, error) {
	var clamped map[string]int
	originalDepth := req.MaxDepth
	if req.MaxDepth == 0 {
		req.MaxDepth = 3
	}
	req.MaxDepth = clampDepth(req.MaxDepth, MaxBlastDepth)
	clamped = clampRecord(clamped, "max_depth", originalDepth, req.MaxDepth)
	req.Symbol = truncateQuery(req.Symbol)
	if req.ChangeType == "" {
		req.ChangeType = "behavior"
	}

	return cached(ctx, e, "get_blast_radius", req, req.Trace, clamped, func() (*types.BlastResponse, error) {
		resp := &types.BlastResponse{
			ChangeType:        req.ChangeType,
			DirectCallers:     []types.ImpactedSymbol{},
			TransitiveCallers: []types.ImpactedSymbol{},
			AffectedFiles:     []string{},
		}

		targetID, err := e.store.ResolveSymbolID(ctx, req.Symbol)
		if err == store.ErrNotFound {
			resp.RiskLevel = "low"
			resp.RiskAssessment = "symbol not found"
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		target, err := e.store.GetSymbolByID(ctx, targetID)
		if err != nil {
			return nil, err
		}
		resp.Found = true
		resp.Target = &types.ImpactedSymbol{
			ID:            target.ID,
			Name:          target.Name,
			QualifiedName: target.QualifiedName,
			FilePath:      target.FilePath,
			Line:          target.StartLine,
		}

		visited := map[int64]struct{}{targetID: {}}
		type queueItem struct {
			id    int64
			depth int
		}
		queue := []queueItem{{id: targetID, depth: 0}}
		affectedFiles := map[string]struct{}{target.FilePath: {}}

		for len(queue) > 0 {
			if deadlineExpired(ctx) {
				break
			}
			item := queue[0]
			queue = queue[1:]
			if item.depth >= req.MaxDepth {
				continue
			}
			dependents, err := e.store.ReverseDependents(ctx, item.id)
			if err != nil {
				return nil, err
			}
			for _, dep := range dependents {
				if _, seen := visited[dep.ID]; seen {
					continue
				}
				visited[dep.ID] = struct{}{}
				depth := item.depth + 1
				impacted := types.ImpactedSymbol{
					ID:            dep.ID,
					Name:          dep.Name,
					QualifiedName: dep.QualifiedName,
					FilePath:      dep.FilePath,
					Line:          dep.Line,
					Depth:         depth,
				}
				if depth == 1 {
					resp.DirectCallers = append(resp.DirectCallers, impacted)
				} else {
					resp.TransitiveCallers = append(resp.TransitiveCallers, impacted)
				}
				affectedFiles[dep.FilePath] = struct{}{}
				if isTestPath(dep.FilePath) {
					resp.HasTestDependents = true
				}
				queue = append(queue, queueItem{id: dep.ID, depth: depth})
			}
		}

		for path := range affectedFiles {
			resp.AffectedFiles = append(resp.AffectedFiles, path)
		}
		sort.Strings(resp.AffectedFiles)

		resp.TotalAffected = len(resp.DirectCallers) + len(resp.TransitiveCallers)
		resp.RiskLevel = blastRisk(resp.TotalAffected, resp.HasTestDependents)
		resp.RiskAssessment = fmt.Sprintf("%s - %d direct callers, %d transitive dependents",
			resp.RiskLevel, len(resp.DirectCallers), len(resp.TransitiveCallers))
		return resp, nil
	})
}

// blastRisk buckets by total dependents, bumped one level when test files
// depend on the target.
func blastRisk(total int, hasTests bool) string {
	level := 0
	switch {
	case total >= 10:
		level = 2
	case total >= 3:
		level = 1
	}
	if hasTests && level < 2 {
		level++
	}
	return [...]string{"low", "medium", "high"}[level]
}
