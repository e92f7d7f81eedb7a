package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// ChangeImpact walks reverse CALLS edges as blast radius does, then
// explicitly includes EXTENDS/IMPLEMENTS dependents of every affected
// class.
func (e *Engines) ChangeImpact(ctx context.Context, req types.ImpactRequest) (*types.ImpactResponse, error) {
	var clamped map[string]int
	originalDepth := req.MaxDepth
	if req.MaxDepth == 0 {
		req.MaxDepth = 3
	}
	req.MaxDepth = clampDepth(req.MaxDepth, MaxImpactDepth)
	clamped = clampRecord(clamped, "max_depth", originalDepth, req.MaxDepth)
	req.Symbol = truncateQuery(req.Symbol)
	if req.ChangeType == "" {
		req.ChangeType = "behavior"
	}

	return cached(ctx, e, "change_impact", req, req.Trace, clamped, func() (*types.ImpactResponse, error) {
		resp := &types.ImpactResponse{
			ChangeType:        req.ChangeType,
			MaxDepth:          req.MaxDepth,
			DirectCallers:     []types.ImpactedSymbol{},
			TransitiveCallers: []types.ImpactedSymbol{},
			TypeDependents:    []types.ImpactedSymbol{},
			AffectedFiles:     []string{},
		}

		targetID, err := e.store.ResolveSymbolID(ctx, req.Symbol)
		if err == store.ErrNotFound {
			resp.RiskLevel = "low"
			resp.Summary = "symbol not found"
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

		totalSymbols, err := e.store.SymbolCount(ctx)
		if err != nil {
			return nil, err
		}
		visitedCap := adaptiveGraphCap(totalSymbols, MaxGraphVisited, 128)
		edgeCap := visitedCap * 2
		if edgeCap < 256 {
			edgeCap = 256
		}
		if edgeCap > MaxGraphEdges {
			edgeCap = MaxGraphEdges
		}

		visited := map[int64]struct{}{targetID: {}}
		affectedClasses := []int64{targetID}
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
			total := len(resp.DirectCallers) + len(resp.TransitiveCallers)
			if total >= edgeCap || len(visited) >= visitedCap {
				break
			}
			if item.depth >= req.MaxDepth {
				continue
			}
			callers, err := e.store.Callers(ctx, item.id)
			if err != nil {
				return nil, err
			}
			for _, n := range callers {
				if _, seen := visited[n.ID]; seen {
					continue
				}
				if len(visited) >= visitedCap {
					break
				}
				visited[n.ID] = struct{}{}
				depth := item.depth + 1
				impacted := types.ImpactedSymbol{
					ID:            n.ID,
					Name:          n.Name,
					QualifiedName: n.QualifiedName,
					FilePath:      n.FilePath,
					Line:          n.Line,
					Depth:         depth,
					ImpactReason:  fmt.Sprintf("call_dependency:depth=%d", depth),
				}
				if depth == 1 {
					resp.DirectCallers = append(resp.DirectCallers, impacted)
				} else {
					resp.TransitiveCallers = append(resp.TransitiveCallers, impacted)
				}
				affectedFiles[n.FilePath] = struct{}{}
				affectedClasses = append(affectedClasses, n.ID)
				queue = append(queue, queueItem{id: n.ID, depth: depth})
			}
		}

		// Type dependents of every affected symbol, the target included.
		seenTypeDeps := make(map[int64]struct{})
		for _, classID := range affectedClasses {
			deps, err := e.store.TypeDependents(ctx, classID)
			if err != nil {
				return nil, err
			}
			for _, dep := range deps {
				if _, dup := seenTypeDeps[dep.ID]; dup {
					continue
				}
				seenTypeDeps[dep.ID] = struct{}{}
				resp.TypeDependents = append(resp.TypeDependents, types.ImpactedSymbol{
					ID:            dep.ID,
					Name:          dep.Name,
					QualifiedName: dep.QualifiedName,
					FilePath:      dep.FilePath,
					Line:          dep.Line,
					Depth:         1,
					ImpactReason:  "type_dependency:" + dep.Relationship,
				})
				affectedFiles[dep.FilePath] = struct{}{}
			}
		}
		sort.SliceStable(resp.TypeDependents, func(i, j int) bool {
			return resp.TypeDependents[i].ID < resp.TypeDependents[j].ID
		})

		for path := range affectedFiles {
			resp.AffectedFiles = append(resp.AffectedFiles, path)
		}
		sort.Strings(resp.AffectedFiles)

		resp.TotalAffected = len(resp.DirectCallers) + len(resp.TransitiveCallers) + len(resp.TypeDependents)
		resp.RiskLevel = impactRisk(resp.TotalAffected)
		resp.Summary = fmt.Sprintf(
			"Impact=%s; direct=%d, transitive=%d, type_dependents=%d, files=%d",
			resp.RiskLevel, len(resp.DirectCallers), len(resp.TransitiveCallers),
			len(resp.TypeDependents), len(resp.AffectedFiles))
		return resp, nil
	})
}

func impactRisk(total int) string {
	switch {
	case total >= 12:
		return "high"
	case total >= 4:
		return "medium"
	default:
		return "low"
	}
}
