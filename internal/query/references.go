package query

import (
	"context"

	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// GetReferences resolves a symbol and BFS-walks the requested relationship
// set to the clamped depth. A missing target returns an empty, well-formed
// response.
func (e *Engines) GetReferences(ctx context.Context, req types.ReferencesRequest) (*types.ReferencesResponse, error) {
	var clamped map[string]int
	originalDepth := req.Depth
	if req.Depth == 0 {
		req.Depth = 1
	}
	req.Depth = clampDepth(req.Depth, MaxReferenceDepth)
	clamped = clampRecord(clamped, "depth", originalDepth, req.Depth)
	req.Symbol = truncateQuery(req.Symbol)
	if req.Direction == "" {
		req.Direction = "both"
	}

	return cached(ctx, e, "get_references", req, req.Trace, clamped, func() (*types.ReferencesResponse, error) {
		resp := &types.ReferencesResponse{
			Callers:      []types.ReferenceEntry{},
			Callees:      []types.ReferenceEntry{},
			Implementors: []types.ReferenceEntry{},
			Supers:       []types.ReferenceEntry{},
		}

		symbolID, err := e.store.ResolveSymbolID(ctx, req.Symbol)
		if err == store.ErrNotFound {
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		target, err := e.store.GetSymbolByID(ctx, symbolID)
		if err != nil {
			return nil, err
		}
		resp.Found = true
		resp.TargetSymbol = e.referenceEntry(target, 0, 0, "")
		if req.IncludeSource {
			resp.TargetSymbol.Source = e.sourceFragment(target.FilePath, target.StartLine, target.EndLine)
		}

		totalSymbols, err := e.store.SymbolCount(ctx)
		if err != nil {
			return nil, err
		}
		visitedCap := adaptiveGraphCap(totalSymbols, MaxGraphVisited, 200)
		edgeCap := visitedCap * 2
		if edgeCap < 256 {
			edgeCap = 256
		}
		if edgeCap > MaxGraphEdges {
			edgeCap = MaxGraphEdges
		}

		var directions []string
		switch req.Direction {
		case "callers":
			directions = []string{"callers"}
		case "callees":
			directions = []string{"callees"}
		case "implementors":
			directions = []string{"implementors"}
		case "supers":
			directions = []string{"supers"}
		default:
			directions = []string{"callers", "callees"}
		}

		for _, direction := range directions {
			entries, truncated, err := e.walkReferences(ctx, symbolID, direction, req.Depth, visitedCap, edgeCap, req.IncludeSource)
			if err != nil {
				return nil, err
			}
			resp.Truncated = resp.Truncated || truncated
			switch direction {
			case "callers":
				resp.Callers = entries
			case "callees":
				resp.Callees = entries
			case "implementors":
				resp.Implementors = entries
			case "supers":
				resp.Supers = entries
			}
		}
		return resp, nil
	})
}

func (e *Engines) walkReferences(ctx context.Context, startID int64, direction string,
	maxDepth, visitedCap, edgeCap int, includeSource bool) ([]types.ReferenceEntry, bool, error) {

	entries := []types.ReferenceEntry{}
	visited := map[int64]struct{}{startID: {}}
	type queueItem struct {
		id    int64
		depth int
	}
	queue := []queueItem{{id: startID, depth: 0}}
	truncated := false

	for len(queue) > 0 {
		if deadlineExpired(ctx) {
			return entries, true, nil
		}
		item := queue[0]
		queue = queue[1:]
		if len(entries) >= edgeCap || len(visited) >= visitedCap {
			truncated = true
			break
		}
		if item.depth >= maxDepth {
			continue
		}

		var neighbors []store.Neighbor
		var err error
		switch direction {
		case "callers":
			neighbors, err = e.store.Callers(ctx, item.id)
		case "callees":
			neighbors, err = e.store.Callees(ctx, item.id)
		case "implementors":
			neighbors, err = e.store.Implementors(ctx, item.id)
		case "supers":
			neighbors, err = e.store.Supers(ctx, item.id)
		}
		if err != nil {
			return nil, false, err
		}

		for _, n := range neighbors {
			if len(entries) >= edgeCap || len(visited) >= visitedCap {
				truncated = true
				break
			}
			if _, seen := visited[n.ID]; seen {
				continue
			}
			visited[n.ID] = struct{}{}
			depth := item.depth + 1

			entry := types.ReferenceEntry{
				ID:            n.ID,
				Name:          n.Name,
				QualifiedName: n.QualifiedName,
				FilePath:      n.FilePath,
				Signature:     n.Signature,
				StartLine:     n.StartLine,
				EndLine:       n.EndLine,
				LineNumber:    n.Line,
				Depth:         depth,
				Relationship:  n.Relationship,
			}
			if includeSource {
				entry.Source = e.sourceFragment(n.FilePath, n.StartLine, n.EndLine)
			}
			entries = append(entries, entry)
			queue = append(queue, queueItem{id: n.ID, depth: depth})
		}
	}
	return entries, truncated, nil
}

func (e *Engines) referenceEntry(sym types.SymbolRecord, line, depth int, relationship string) *types.ReferenceEntry {
	return &types.ReferenceEntry{
		ID:            sym.ID,
		Name:          sym.Name,
		QualifiedName: sym.QualifiedName,
		FilePath:      sym.FilePath,
		Signature:     sym.Signature,
		StartLine:     sym.StartLine,
		EndLine:       sym.EndLine,
		LineNumber:    line,
		Depth:         depth,
		Relationship:  relationship,
	}
}
