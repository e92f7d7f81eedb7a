package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/bombe/pkg/types"
)

// GetStructure renders a hierarchical view of files under a sub-path,
// listing top symbols by PageRank per file, stopping when the token budget
// would be exceeded.
func (e *Engines) GetStructure(ctx context.Context, req types.StructureRequest) (*types.StructureResponse, error) {
	var clamped map[string]int
	originalBudget := req.TokenBudget
	if req.TokenBudget == 0 {
		req.TokenBudget = 4000
	}
	req.TokenBudget = clampBudget(req.TokenBudget, MinStructureTokenBudget, MaxStructureTokenBudget)
	clamped = clampRecord(clamped, "token_budget", originalBudget, req.TokenBudget)
	if req.Path == "" {
		req.Path = "."
	}

	return cached(ctx, e, "get_structure", req, req.Trace, clamped, func() (*types.StructureResponse, error) {
		symbols, err := e.store.SymbolsUnderPath(ctx, req.Path)
		if err != nil {
			return nil, err
		}

		// Global rank positions come from the PageRank ordering the store
		// returned; rendering then groups by file.
		rankOf := make(map[int64]int, len(symbols))
		for i, sym := range symbols {
			rankOf[sym.ID] = i + 1
		}

		byFile := make(map[string][]types.SymbolRecord)
		for _, sym := range symbols {
			byFile[sym.FilePath] = append(byFile[sym.FilePath], sym)
		}
		paths := make([]string, 0, len(byFile))
		for path := range byFile {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		var lines []string
		for _, path := range paths {
			lines = append(lines, path)
			fileSymbols := byFile[path]
			sort.SliceStable(fileSymbols, func(i, j int) bool {
				return fileSymbols[i].StartLine < fileSymbols[j].StartLine
			})
			for _, sym := range fileSymbols {
				rank := rankOf[sym.ID]
				marker := ""
				if rank <= 10 {
					marker = "[TOP] "
				}
				detail := fmt.Sprintf("%s %s", sym.Kind, sym.Name)
				if req.IncludeSignatures && sym.Signature != "" {
					detail = sym.Signature
				}
				lines = append(lines, fmt.Sprintf("  %s%s  [rank:%d]", marker, detail, rank))
			}
		}

		var rendered []string
		tokensUsed := 0
		truncated := false
		for _, line := range lines {
			cost := e.tok.Count(line)
			if tokensUsed+cost > req.TokenBudget {
				truncated = true
				break
			}
			rendered = append(rendered, line)
			tokensUsed += cost
		}

		return &types.StructureResponse{
			Path:        req.Path,
			Rendered:    strings.Join(rendered, "\n"),
			TokensUsed:  tokensUsed,
			TokenBudget: req.TokenBudget,
			Truncated:   truncated,
		}, nil
	})
}
