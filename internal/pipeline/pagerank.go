package pipeline

import (
	"context"
	"math"

	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// pagerankRelationships are the edge kinds that carry importance.
var pagerankRelationships = []string{
	types.RelCalls, types.RelImportsSymbol, types.RelExtends, types.RelImplements,
}

const (
	pagerankDamping    = 0.85
	pagerankEpsilon    = 1e-6
	pagerankIterations = 50
)

// recomputePageRank runs PageRank over the full symbol edge graph and
// writes scores back in one transaction. Dangling mass is redistributed
// uniformly each iteration; convergence is L1 delta < epsilon with a hard
// iteration cap.
func recomputePageRank(ctx context.Context, s *store.Store) error {
	symbols, err := s.AllSymbols(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return nil
	}

	ids := make([]int64, len(symbols))
	index := make(map[int64]int, len(symbols))
	for i, sym := range symbols {
		ids[i] = sym.ID
		index[sym.ID] = i
	}

	edges, err := s.SymbolEdges(ctx, pagerankRelationships)
	if err != nil {
		return err
	}

	adjacency := make([][]int, len(ids))
	for _, edge := range edges {
		src, okSrc := index[edge.SourceID]
		dst, okDst := index[edge.TargetID]
		if okSrc && okDst {
			adjacency[src] = append(adjacency[src], dst)
		}
	}

	n := float64(len(ids))
	scores := make([]float64, len(ids))
	next := make([]float64, len(ids))
	for i := range scores {
		scores[i] = 1.0 / n
	}

	for iter := 0; iter < pagerankIterations; iter++ {
		base := (1.0 - pagerankDamping) / n
		danglingMass := 0.0
		for i, targets := range adjacency {
			if len(targets) == 0 {
				danglingMass += scores[i]
			}
		}
		danglingContrib := pagerankDamping * danglingMass / n

		for i := range next {
			next[i] = base + danglingContrib
		}
		for i, targets := range adjacency {
			if len(targets) == 0 {
				continue
			}
			share := pagerankDamping * scores[i] / float64(len(targets))
			for _, t := range targets {
				next[t] += share
			}
		}

		delta := 0.0
		for i := range scores {
			delta += math.Abs(next[i] - scores[i])
		}
		scores, next = next, scores
		if delta < pagerankEpsilon {
			break
		}
	}

	updates := make(map[int64]float64, len(ids))
	for i, id := range ids {
		updates[id] = scores[i]
	}
	return s.UpdatePageRanks(ctx, updates)
}
