package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// TraceDataFlow runs a bidirectional BFS over CALLS edges only, returning
// the node set and the simple paths within depth, tagged with direction.
func (e *Engines) TraceDataFlow(ctx context.Context, req types.FlowRequest) (*types.FlowResponse, error) {
	var clamped map[string]int
	originalDepth := req.MaxDepth
	if req.MaxDepth == 0 {
		req.MaxDepth = 3
	}
	req.MaxDepth = clampDepth(req.MaxDepth, MaxFlowDepth)
	clamped = clampRecord(clamped, "max_depth", originalDepth, req.MaxDepth)
	req.Symbol = truncateQuery(req.Symbol)
	if req.Direction == "" {
		req.Direction = "both"
	}

	return cached(ctx, e, "trace_data_flow", req, req.Trace, clamped, func() (*types.FlowResponse, error) {
		resp := &types.FlowResponse{
			Direction: req.Direction,
			MaxDepth:  req.MaxDepth,
			Nodes:     []types.FlowNode{},
			Paths:     []types.FlowPath{},
		}

		targetID, err := e.store.ResolveSymbolID(ctx, req.Symbol)
		if err == store.ErrNotFound {
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
		resp.Target = &types.FlowNode{
			ID:            target.ID,
			Name:          target.Name,
			QualifiedName: target.QualifiedName,
			FilePath:      target.FilePath,
			Role:          "target",
		}

		totalSymbols, err := e.store.SymbolCount(ctx)
		if err != nil {
			return nil, err
		}
		nodeCap := adaptiveGraphCap(totalSymbols, MaxGraphVisited, 128)
		edgeCap := nodeCap * 2
		if edgeCap < 256 {
			edgeCap = 256
		}
		if edgeCap > MaxGraphEdges {
			edgeCap = MaxGraphEdges
		}

		nodes := map[int64]types.FlowNode{targetID: *resp.Target}
		type seenKey struct {
			id   int64
			role string
		}
		seen := map[seenKey]struct{}{{id: targetID, role: "target"}: {}}
		type queueItem struct {
			id    int64
			depth int
		}
		queue := []queueItem{{id: targetID, depth: 0}}

		for len(queue) > 0 {
			if deadlineExpired(ctx) {
				break
			}
			item := queue[0]
			queue = queue[1:]
			if len(resp.Paths) >= edgeCap || len(nodes) >= nodeCap {
				break
			}
			if item.depth >= req.MaxDepth {
				continue
			}
			currentName := nodes[item.id].Name

			if req.Direction == "upstream" || req.Direction == "both" {
				callers, err := e.store.Callers(ctx, item.id)
				if err != nil {
					return nil, err
				}
				for _, n := range callers {
					if len(resp.Paths) >= edgeCap || len(nodes) >= nodeCap {
						break
					}
					if _, present := nodes[n.ID]; !present {
						nodes[n.ID] = types.FlowNode{
							ID: n.ID, Name: n.Name, QualifiedName: n.QualifiedName,
							FilePath: n.FilePath, Role: "upstream",
						}
					}
					resp.Paths = append(resp.Paths, types.FlowPath{
						FromID: n.ID, FromName: n.Name,
						ToID: item.id, ToName: currentName,
						Line: n.Line, Depth: item.depth + 1,
					})
					key := seenKey{id: n.ID, role: "upstream"}
					if _, dup := seen[key]; !dup {
						seen[key] = struct{}{}
						queue = append(queue, queueItem{id: n.ID, depth: item.depth + 1})
					}
				}
			}

			if req.Direction == "downstream" || req.Direction == "both" {
				callees, err := e.store.Callees(ctx, item.id)
				if err != nil {
					return nil, err
				}
				for _, n := range callees {
					if len(resp.Paths) >= edgeCap || len(nodes) >= nodeCap {
						break
					}
					if _, present := nodes[n.ID]; !present {
						nodes[n.ID] = types.FlowNode{
							ID: n.ID, Name: n.Name, QualifiedName: n.QualifiedName,
							FilePath: n.FilePath, Role: "downstream",
						}
					}
					resp.Paths = append(resp.Paths, types.FlowPath{
						FromID: item.id, FromName: currentName,
						ToID: n.ID, ToName: n.Name,
						Line: n.Line, Depth: item.depth + 1,
					})
					key := seenKey{id: n.ID, role: "downstream"}
					if _, dup := seen[key]; !dup {
						seen[key] = struct{}{}
						queue = append(queue, queueItem{id: n.ID, depth: item.depth + 1})
					}
				}
			}
		}

		for _, node := range nodes {
			resp.Nodes = append(resp.Nodes, node)
		}
		sort.SliceStable(resp.Nodes, func(i, j int) bool {
			if resp.Nodes[i].FilePath != resp.Nodes[j].FilePath {
				return resp.Nodes[i].FilePath < resp.Nodes[j].FilePath
			}
			return resp.Nodes[i].Name < resp.Nodes[j].Name
		})
		sort.SliceStable(resp.Paths, func(i, j int) bool {
			if resp.Paths[i].Depth != resp.Paths[j].Depth {
				return resp.Paths[i].Depth < resp.Paths[j].Depth
			}
			return resp.Paths[i].Line < resp.Paths[j].Line
		})

		resp.Summary = fmt.Sprintf(
			"Traced %d call edges across %d symbols (direction=%s, depth<=%d).",
			len(resp.Paths), len(resp.Nodes), req.Direction, req.MaxDepth)
		return resp, nil
	})
}
