package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// contextRelationships is the expansion edge set for context assembly.
var contextRelationships = []string{
	types.RelCalls, types.RelImportsSymbol, types.RelExtends,
	types.RelImplements, types.RelHasMethod,
}

// GetContext assembles a token-budgeted context bundle: seed selection,
// BFS expansion, personalized PageRank, composite scoring, greedy packing,
// redaction, and per-file assembly.
func (e *Engines) GetContext(ctx context.Context, req types.ContextRequest) (*types.ContextResponse, error) {
	var clamped map[string]int
	originalBudget := req.TokenBudget
	if req.TokenBudget == 0 {
		req.TokenBudget = 8000
	}
	req.TokenBudget = clampBudget(req.TokenBudget, MinContextTokenBudget, MaxContextTokenBudget)
	clamped = clampRecord(clamped, "token_budget", originalBudget, req.TokenBudget)

	originalDepth := req.ExpansionDepth
	if req.ExpansionDepth == 0 {
		req.ExpansionDepth = 2
	}
	req.ExpansionDepth = clampDepth(req.ExpansionDepth, MaxContextExpansionDepth)
	clamped = clampRecord(clamped, "expansion_depth", originalDepth, req.ExpansionDepth)

	if len(req.EntryPoints) > MaxEntryPoints {
		req.EntryPoints = req.EntryPoints[:MaxEntryPoints]
		clamped = clampRecord(clamped, "entry_points", len(req.EntryPoints)+1, MaxEntryPoints)
	}
	req.Query = truncateQuery(req.Query)

	return cached(ctx, e, "get_context", req, req.Trace, clamped, func() (*types.ContextResponse, error) {
		return e.computeContext(ctx, req)
	})
}

func (e *Engines) computeContext(ctx context.Context, req types.ContextRequest) (*types.ContextResponse, error) {
	empty := &types.ContextResponse{
		Query: req.Query,
		Bundle: types.ContextBundle{
			Summary:         "No relevant symbols found.",
			RelationshipMap: []types.ContextEdge{},
			Files:           []types.ContextFile{},
			TokenBudget:     req.TokenBudget,
		},
	}

	totalSymbols, err := e.store.SymbolCount(ctx)
	if err != nil {
		return nil, err
	}
	nodeCap := adaptiveGraphCap(totalSymbols, MaxGraphVisited, 128)

	// 1. Seed selection: entry points resolved to ids, unioned with FTS
	// hits on the query.
	seedSet := make(map[int64]struct{})
	var seeds []int64
	addSeed := func(id int64) {
		if _, dup := seedSet[id]; dup || len(seeds) >= MaxContextSeeds {
			return
		}
		seedSet[id] = struct{}{}
		seeds = append(seeds, id)
	}
	for _, entry := range req.EntryPoints {
		id, err := e.store.ResolveSymbolID(ctx, entry)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		addSeed(id)
	}
	if req.Query != "" {
		hits, err := e.store.SearchSymbolsFTS(ctx, req.Query, "any", "", 8)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			// LIKE fallback, one word at a time, so multi-word task
			// descriptions still seed on partial matches.
			for _, word := range strings.Fields(req.Query) {
				wordHits, err := e.store.SearchSymbolsLike(ctx, word, "any", "", 8)
				if err != nil {
					return nil, err
				}
				hits = append(hits, wordHits...)
			}
		}
		for _, hit := range hits {
			addSeed(hit.ID)
		}
	}
	if len(seeds) == 0 {
		return empty, nil
	}

	// 2. Graph expansion: BFS from the seeds over the context edge set.
	edges, err := e.store.SymbolEdges(ctx, contextRelationships)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[int64][]int64)
	for _, edge := range edges {
		adjacency[edge.SourceID] = append(adjacency[edge.SourceID], edge.TargetID)
		adjacency[edge.TargetID] = append(adjacency[edge.TargetID], edge.SourceID)
	}

	depthOf := make(map[int64]int)
	queue := make([]int64, 0, len(seeds))
	for _, seed := range seeds {
		depthOf[seed] = 0
		queue = append(queue, seed)
	}
	for len(queue) > 0 {
		if deadlineExpired(ctx) {
			break
		}
		current := queue[0]
		queue = queue[1:]
		if len(depthOf) >= nodeCap {
			break
		}
		currentDepth := depthOf[current]
		if currentDepth >= req.ExpansionDepth {
			continue
		}
		for _, neighbor := range adjacency[current] {
			if _, seen := depthOf[neighbor]; seen {
				continue
			}
			if len(depthOf) >= nodeCap {
				break
			}
			depthOf[neighbor] = currentDepth + 1
			queue = append(queue, neighbor)
		}
	}

	nodeIDs := make([]int64, 0, len(depthOf))
	for id := range depthOf {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })

	// 3. Personalized PageRank biased to the seed set.
	ppr := personalizedPageRank(nodeIDs, seeds, adjacency, 0.85, 20)

	symbols, err := e.store.SymbolsByIDs(ctx, nodeIDs)
	if err != nil {
		return nil, err
	}

	// 4. Composite score: ppr * global pagerank * proximity, with a small
	// lexical boost for query-term overlap.
	terms := tokenSet(req.Query)
	type rankedSymbol struct {
		score float64
		sym   types.SymbolRecord
		depth int
	}
	ranked := make([]rankedSymbol, 0, len(symbols))
	for _, sym := range symbols {
		depth := depthOf[sym.ID]
		proximity := proximityBonus(depth)
		globalRank := sym.PageRank
		if globalRank < 1e-9 {
			globalRank = 1e-9
		}
		base := ppr[sym.ID] * globalRank * proximity
		overlap := 0
		for term := range terms {
			if strings.Contains(strings.ToLower(sym.Name), term) ||
				strings.Contains(strings.ToLower(sym.QualifiedName), term) ||
				strings.Contains(strings.ToLower(sym.Signature), term) {
				overlap++
			}
		}
		boost := 1.0 + math.Min(0.08*float64(overlap), 0.25)
		ranked = append(ranked, rankedSymbol{score: base * boost, sym: sym, depth: depth})
	}

	// Seeds first (by score), then the rest by score; ids break ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		_, seedI := seedSet[ranked[i].sym.ID]
		_, seedJ := seedSet[ranked[j].sym.ID]
		if seedI != seedJ {
			return seedI
		}
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].sym.ID < ranked[j].sym.ID
	})

	// 5. Token-budget packing with 6. redaction on every fragment.
	tokensUsed := 0
	redactionHits := 0
	duplicateSkips := 0
	seenFragments := make(map[string]struct{})
	var included []types.ContextSymbol
	includedIDs := make(map[int64]struct{})

	for _, r := range ranked {
		_, isSeed := seedSet[r.sym.ID]
		source := ""
		mode := "signature_only"
		if isSeed && !req.IncludeSignaturesOnly {
			source = e.sourceFragment(r.sym.FilePath, r.sym.StartLine, r.sym.EndLine)
			mode = "full_source"
		}
		if source == "" {
			source = r.sym.Signature
			if r.sym.Docstring != "" {
				source += "\n" + r.sym.Docstring
			}
			mode = "signature_only"
		}
		if !isSeed && !req.IncludeSignaturesOnly && mode == "signature_only" {
			// Non-seeds get full source only when it fits.
			full := e.sourceFragment(r.sym.FilePath, r.sym.StartLine, r.sym.EndLine)
			if full != "" && tokensUsed+e.tok.Count(full) <= req.TokenBudget {
				source = full
				mode = "full_source"
			}
		}

		redacted, hits := redactSensitive(source)
		redactionHits += hits

		fragmentKey := r.sym.QualifiedName + "\x00" + r.sym.FilePath + "\x00" + redacted
		if _, dup := seenFragments[fragmentKey]; dup {
			duplicateSkips++
			continue
		}

		cost := e.tok.Count(redacted)
		if tokensUsed+cost > req.TokenBudget {
			if mode == "full_source" {
				// Retry as signature-only before giving up.
				fallback := r.sym.Signature
				if r.sym.Docstring != "" {
					fallback += "\n" + r.sym.Docstring
				}
				redacted, hits = redactSensitive(fallback)
				redactionHits += hits
				cost = e.tok.Count(redacted)
				mode = "signature_only"
				if tokensUsed+cost > req.TokenBudget {
					break
				}
			} else {
				break
			}
		}
		seenFragments[fragmentKey] = struct{}{}
		tokensUsed += cost

		reason := fmt.Sprintf("depth=%d,mode=%s", r.depth, mode)
		if isSeed {
			reason += ",seed_match"
		}
		included = append(included, types.ContextSymbol{
			ID:              r.sym.ID,
			Name:            r.sym.Name,
			Kind:            r.sym.Kind,
			QualifiedName:   r.sym.QualifiedName,
			FilePath:        r.sym.FilePath,
			Lines:           fmt.Sprintf("%d-%d", r.sym.StartLine, r.sym.EndLine),
			Depth:           r.depth,
			IncludedAs:      mode,
			Source:          redacted,
			SelectionReason: reason,
		})
		includedIDs[r.sym.ID] = struct{}{}
	}

	// 7. Assembly: group by file in ascending line order; precede with the
	// relationship summary and quality metrics.
	byFile := make(map[string][]types.ContextSymbol)
	for _, sym := range included {
		byFile[sym.FilePath] = append(byFile[sym.FilePath], sym)
	}
	filePaths := make([]string, 0, len(byFile))
	for path := range byFile {
		filePaths = append(filePaths, path)
	}
	sort.Strings(filePaths)
	files := make([]types.ContextFile, 0, len(filePaths))
	for _, path := range filePaths {
		syms := byFile[path]
		sort.SliceStable(syms, func(i, j int) bool {
			return parseStartLine(syms[i].Lines) < parseStartLine(syms[j].Lines)
		})
		files = append(files, types.ContextFile{Path: path, Symbols: syms})
	}

	nameByID := make(map[int64]string, len(symbols))
	for _, sym := range symbols {
		nameByID[sym.ID] = sym.Name
	}
	relationshipMap := []types.ContextEdge{}
	for _, edge := range edges {
		_, srcIn := includedIDs[edge.SourceID]
		_, dstIn := includedIDs[edge.TargetID]
		if srcIn && dstIn {
			relationshipMap = append(relationshipMap, types.ContextEdge{
				FromName:     nameByID[edge.SourceID],
				ToName:       nameByID[edge.TargetID],
				Relationship: edge.Relationship,
				Line:         edge.LineNumber,
			})
		}
	}
	sort.SliceStable(relationshipMap, func(i, j int) bool {
		if relationshipMap[i].FromName != relationshipMap[j].FromName {
			return relationshipMap[i].FromName < relationshipMap[j].FromName
		}
		return relationshipMap[i].ToName < relationshipMap[j].ToName
	})

	quality := contextQuality(included, seeds, includedIDs, adjacency, req.TokenBudget,
		tokensUsed, duplicateSkips, redactionHits)

	return &types.ContextResponse{
		Query: req.Query,
		Bundle: types.ContextBundle{
			Summary: fmt.Sprintf("Selected %d symbols from %d files.",
				len(included), len(files)),
			RelationshipMap:  relationshipMap,
			QualityMetrics:   quality,
			Files:            files,
			TokensUsed:       tokensUsed,
			TokenBudget:      req.TokenBudget,
			SymbolsIncluded:  len(included),
			SymbolsAvailable: len(ranked),
		},
	}, nil
}

// proximityBonus is 1.0 at depth 0, 0.7 at 1, 0.4 at 2, halving beyond.
func proximityBonus(depth int) float64 {
	switch depth {
	case 0:
		return 1.0
	case 1:
		return 0.7
	case 2:
		return 0.4
	}
	bonus := 0.4
	for d := 2; d < depth; d++ {
		bonus /= 2
	}
	return bonus
}

// personalizedPageRank runs the seed-biased variant: restart probability
// 1-damping concentrated on the seed set, fixed iteration count.
func personalizedPageRank(nodes, seeds []int64, adjacency map[int64][]int64,
	damping float64, iterations int) map[int64]float64 {

	if len(nodes) == 0 {
		return map[int64]float64{}
	}
	nodeSet := make(map[int64]struct{}, len(nodes))
	for _, n := range nodes {
		nodeSet[n] = struct{}{}
	}
	local := make(map[int64][]int64, len(nodes))
	for _, n := range nodes {
		for _, neighbor := range adjacency[n] {
			if _, ok := nodeSet[neighbor]; ok {
				local[n] = append(local[n], neighbor)
			}
		}
	}

	restart := make(map[int64]float64, len(nodes))
	seedCount := 0
	for _, seed := range seeds {
		if _, ok := nodeSet[seed]; ok {
			seedCount++
		}
	}
	for _, n := range nodes {
		restart[n] = 0
	}
	if seedCount > 0 {
		share := 1.0 / float64(seedCount)
		for _, seed := range seeds {
			if _, ok := nodeSet[seed]; ok {
				restart[seed] = share
			}
		}
	}

	scores := make(map[int64]float64, len(nodes))
	for n, v := range restart {
		scores[n] = v
	}

	for i := 0; i < iterations; i++ {
		next := make(map[int64]float64, len(nodes))
		for _, n := range nodes {
			next[n] = (1.0 - damping) * restart[n]
		}
		for source, targets := range local {
			if len(targets) == 0 {
				continue
			}
			share := damping * scores[source] / float64(len(targets))
			for _, target := range targets {
				next[target] += share
			}
		}
		scores = next
	}
	return scores
}

func contextQuality(included []types.ContextSymbol, seeds []int64,
	includedIDs map[int64]struct{}, adjacency map[int64][]int64,
	tokenBudget, tokensUsed, duplicateSkips, redactionHits int) types.ContextQuality {

	if len(included) == 0 {
		return types.ContextQuality{DedupeRatio: 1.0, RedactionHits: redactionHits}
	}

	seedSet := make(map[int64]struct{}, len(seeds))
	for _, seed := range seeds {
		seedSet[seed] = struct{}{}
	}
	var includedSeeds []int64
	for id := range includedIDs {
		if _, ok := seedSet[id]; ok {
			includedSeeds = append(includedSeeds, id)
		}
	}
	seedDenom := len(seedSet)
	if seedDenom == 0 {
		seedDenom = 1
	}
	seedHitRate := float64(len(includedSeeds)) / float64(seedDenom)

	// Connectedness: BFS from included seeds within the included set.
	connected := make(map[int64]struct{})
	queue := append([]int64{}, includedSeeds...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := connected[current]; seen {
			continue
		}
		connected[current] = struct{}{}
		for _, neighbor := range adjacency[current] {
			_, isIncluded := includedIDs[neighbor]
			_, isConnected := connected[neighbor]
			if isIncluded && !isConnected {
				queue = append(queue, neighbor)
			}
		}
	}
	connectedness := float64(len(connected)) / float64(len(includedIDs))

	depthSum := 0
	for _, sym := range included {
		depthSum += sym.Depth
	}
	avgDepth := float64(depthSum) / float64(len(included))

	budget := tokenBudget
	if budget < 1 {
		budget = 1
	}
	dedupeDenom := len(included) + duplicateSkips
	if dedupeDenom < 1 {
		dedupeDenom = 1
	}

	return types.ContextQuality{
		SeedHitRate:     round4(seedHitRate),
		Connectedness:   round4(connectedness),
		AvgDepth:        round4(avgDepth),
		TokenEfficiency: round4(float64(tokensUsed) / float64(budget)),
		IncludedCount:   len(included),
		DedupeRatio:     round4(float64(len(included)) / float64(dedupeDenom)),
		RedactionHits:   redactionHits,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func parseStartLine(lines string) int {
	start := 0
	for i := 0; i < len(lines) && lines[i] >= '0' && lines[i] <= '9'; i++ {
		start = start*10 + int(lines[i]-'0')
	}
	return start
}
