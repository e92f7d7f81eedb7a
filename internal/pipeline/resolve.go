package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dshills/bombe/pkg/types"
)

// Call-site resolution is a cascade. The first tier yielding candidates
// wins; ties break by descending PageRank then ascending symbol id, so
// every resolvable call-site produces exactly one edge. Unresolvable sites
// are dropped but counted.
//
// Tiers and confidences:
//
//	same_file        1.0 unique / 0.90 tie-broken
//	class_scoped     1.0 / 0.85
//	import_scoped    0.90 / 0.80
//	qualified_suffix 0.75
//	global           0.60 / 0.50
const (
	confSameFile       = 0.90
	confClassScoped    = 0.85
	confImportScoped   = 0.80
	confImportUnique   = 0.90
	confSuffix         = 0.75
	confGlobalUnique   = 0.60
	confGlobalAmbig    = 0.50
)

var assignTypePatterns = []*regexp.Regexp{
	// python: receiver = TypeName(...)
	regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	// java: Type receiver = new Ctor(...)
	regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_<>,\s]*)\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*new\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	// typescript: const receiver (: Type)? = new Ctor(...)
	regexp.MustCompile(`^\s*(?:const|let|var)\s+([A-Za-z_][A-Za-z0-9_]*)\s*(?::\s*([A-Za-z_][A-Za-z0-9_<>]*))?\s*=\s*new\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	// go: receiver := &TypeName{...}
	regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*:=\s*&?([A-Za-z_][A-Za-z0-9_]*)\s*\{`),
}

// resolveState carries the per-run lookup structures shared across files.
type resolveState struct {
	byName     map[string][]*types.SymbolRecord // short name -> symbols (all files)
	allSymbols []types.SymbolRecord
}

func newResolveState(allSymbols []types.SymbolRecord) *resolveState {
	state := &resolveState{
		byName:     make(map[string][]*types.SymbolRecord),
		allSymbols: allSymbols,
	}
	for i := range allSymbols {
		sym := &allSymbols[i]
		state.byName[sym.Name] = append(state.byName[sym.Name], sym)
	}
	return state
}

// fileEdgeSet is the resolved edge output for one file.
type fileEdgeSet struct {
	edges     []types.EdgeRecord
	ambiguous int
	dropped   int
}

// resolveFileEdges builds every edge recorded against one file: CALLS from
// call sites, EXTENDS/IMPLEMENTS from type refs, HAS_METHOD from parent
// links, DEFINES from file to symbol, and IMPORTS_SYMBOL from named
// imports into resolved target files.
func resolveFileEdges(
	ext *types.Extraction,
	fileSymbols []types.SymbolRecord,
	state *resolveState,
	fileIDs map[string]int64,
	symbolsByFile map[string][]types.SymbolRecord,
	resolvedImports map[string]string,
	semanticHints map[hintKey][]string,
) fileEdgeSet {
	var out fileEdgeSet
	fileID := fileIDs[ext.FilePath]
	seen := make(map[[3]int64]struct{})

	// DEFINES: file -> every symbol it defines.
	for _, sym := range fileSymbols {
		out.edges = append(out.edges, types.EdgeRecord{
			SourceID:     fileID,
			TargetID:     sym.ID,
			SourceType:   types.EndpointFile,
			TargetType:   types.EndpointSymbol,
			Relationship: types.RelDefines,
			FilePath:     ext.FilePath,
			LineNumber:   sym.StartLine,
			Confidence:   1.0,
		})
	}

	// HAS_METHOD: owning class -> method, both in this file. The parent
	// link comes from parent_symbol_id assigned at merge time.
	idByQualified := make(map[string]int64, len(fileSymbols))
	for _, sym := range fileSymbols {
		idByQualified[sym.QualifiedName] = sym.ID
	}
	for _, sym := range fileSymbols {
		if sym.ParentID == 0 {
			continue
		}
		out.edges = append(out.edges, types.EdgeRecord{
			SourceID:     sym.ParentID,
			TargetID:     sym.ID,
			SourceType:   types.EndpointSymbol,
			TargetType:   types.EndpointSymbol,
			Relationship: types.RelHasMethod,
			FilePath:     ext.FilePath,
			LineNumber:   sym.StartLine,
			Confidence:   1.0,
		})
	}

	// EXTENDS / IMPLEMENTS from inheritance clauses.
	for _, ref := range ext.TypeRefs {
		subID, ok := idByQualified[ref.SubtypeQualifiedName]
		if !ok {
			continue
		}
		superName := ref.SupertypeName
		if idx := strings.LastIndexAny(superName, "./"); idx >= 0 {
			superName = superName[idx+1:]
		}
		candidates := filterSymbols(state.byName[superName], func(s *types.SymbolRecord) bool {
			return s.Kind == types.KindClass || s.Kind == types.KindInterface
		})
		target, ambiguous := pickBest(candidates)
		if target == nil {
			out.dropped++
			continue
		}
		confidence := 1.0
		if ambiguous {
			confidence = 0.8
			out.ambiguous++
		}
		out.edges = append(out.edges, types.EdgeRecord{
			SourceID:     subID,
			TargetID:     target.ID,
			SourceType:   types.EndpointSymbol,
			TargetType:   types.EndpointSymbol,
			Relationship: ref.Relationship,
			FilePath:     ext.FilePath,
			LineNumber:   ref.LineNumber,
			Confidence:   confidence,
		})
	}

	// IMPORTS_SYMBOL: named imports that resolve to symbols in the target.
	importedNameSet := make(map[string]struct{})
	for _, imp := range ext.Imports {
		for _, name := range imp.ImportedNames {
			importedNameSet[name] = struct{}{}
		}
		targetPath, ok := resolvedImports[imp.ModuleName]
		if !ok {
			continue
		}
		for _, name := range imp.ImportedNames {
			for _, sym := range symbolsByFile[targetPath] {
				if sym.Name != name || sym.ParentQualifiedName != "" {
					continue
				}
				out.edges = append(out.edges, types.EdgeRecord{
					SourceID:     fileID,
					TargetID:     sym.ID,
					SourceType:   types.EndpointFile,
					TargetType:   types.EndpointSymbol,
					Relationship: types.RelImportsSymbol,
					FilePath:     ext.FilePath,
					LineNumber:   imp.LineNumber,
					Confidence:   0.9,
				})
				break
			}
		}
	}

	// Module hints: last path/dot components of every imported module.
	importHints := make(map[string]struct{})
	for _, imp := range ext.Imports {
		importHints[imp.ModuleName] = struct{}{}
		if idx := strings.LastIndexAny(imp.ModuleName, "./"); idx >= 0 {
			importHints[imp.ModuleName[idx+1:]] = struct{}{}
		}
	}

	// CALLS from call sites.
	lines := strings.Split(ext.Source, "\n")
	for _, site := range ext.CallSites {
		caller := callerForLine(site.LineNumber, fileSymbols)
		if caller == nil {
			out.dropped++
			continue
		}
		candidates := state.byName[site.CalleeName]
		if len(candidates) == 0 {
			out.dropped++
			continue
		}

		target, confidence, ambiguous := resolveCallSite(
			site, caller, candidates, ext, lines, importHints, importedNameSet, semanticHints)
		if target == nil {
			out.dropped++
			continue
		}
		if ambiguous {
			out.ambiguous++
		}

		key := [3]int64{caller.ID, target.ID, int64(site.LineNumber)}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		out.edges = append(out.edges, types.EdgeRecord{
			SourceID:     caller.ID,
			TargetID:     target.ID,
			SourceType:   types.EndpointSymbol,
			TargetType:   types.EndpointSymbol,
			Relationship: types.RelCalls,
			FilePath:     ext.FilePath,
			LineNumber:   site.LineNumber,
			Confidence:   confidence,
		})
	}

	sort.SliceStable(out.edges, func(i, j int) bool {
		if out.edges[i].LineNumber != out.edges[j].LineNumber {
			return out.edges[i].LineNumber < out.edges[j].LineNumber
		}
		if out.edges[i].SourceID != out.edges[j].SourceID {
			return out.edges[i].SourceID < out.edges[j].SourceID
		}
		return out.edges[i].TargetID < out.edges[j].TargetID
	})
	return out
}

// resolveCallSite applies the cascade for one call site.
func resolveCallSite(
	site types.CallSite,
	caller *types.SymbolRecord,
	candidates []*types.SymbolRecord,
	ext *types.Extraction,
	sourceLines []string,
	importHints map[string]struct{},
	importedNames map[string]struct{},
	semanticHints map[hintKey][]string,
) (*types.SymbolRecord, float64, bool) {
	receiver := strings.ToLower(strings.TrimSpace(site.ReceiverName))

	// (a) same-file symbols.
	sameFile := filterSymbols(candidates, func(s *types.SymbolRecord) bool {
		return s.FilePath == ext.FilePath
	})
	if len(sameFile) > 0 {
		target, ambiguous := pickBest(sameFile)
		if !ambiguous {
			return target, 1.0, false
		}
		return target, confSameFile, true
	}

	// (b) class-scoped candidates when a receiver-type hint is known.
	typeTokens := make(map[string]struct{})
	if receiver == "self" || receiver == "cls" || receiver == "this" {
		if owner := ownerName(caller.QualifiedName); owner != "" {
			typeTokens[strings.ToLower(owner)] = struct{}{}
		}
	}
	for _, hint := range lexicalReceiverHints(sourceLines, site.ReceiverName, site.LineNumber, 60) {
		typeTokens[strings.ToLower(hint)] = struct{}{}
	}
	for _, hint := range semanticHints[hintKey{Line: site.LineNumber, Receiver: site.ReceiverName}] {
		typeTokens[strings.ToLower(hint)] = struct{}{}
	}
	if len(typeTokens) > 0 {
		classScoped := filterSymbols(candidates, func(s *types.SymbolRecord) bool {
			if s.Kind != types.KindMethod {
				return false
			}
			_, ok := typeTokens[strings.ToLower(ownerName(s.QualifiedName))]
			return ok
		})
		if len(classScoped) > 0 {
			target, ambiguous := pickBest(classScoped)
			if !ambiguous {
				return target, 1.0, false
			}
			return target, confClassScoped, true
		}
	}

	// (c) alias/import-scoped candidates.
	importScoped := filterSymbols(candidates, func(s *types.SymbolRecord) bool {
		if _, ok := importedNames[s.Name]; ok {
			return true
		}
		for hint := range importHints {
			if hint == "" {
				continue
			}
			if strings.Contains(s.QualifiedName, hint) ||
				strings.HasPrefix(s.FilePath, hint+"/") ||
				strings.Contains(s.FilePath, "/"+hint+".") ||
				strings.HasPrefix(s.FilePath, hint+".") {
				return true
			}
		}
		return false
	})
	if len(importScoped) > 0 {
		target, ambiguous := pickBest(importScoped)
		if !ambiguous {
			return target, confImportUnique, false
		}
		return target, confImportScoped, true
	}

	// (d) qualified-name suffix match against the receiver.
	if receiver != "" && receiver != "self" && receiver != "cls" && receiver != "this" {
		needle := "." + receiver + "."
		suffixScoped := filterSymbols(candidates, func(s *types.SymbolRecord) bool {
			lower := strings.ToLower(s.QualifiedName)
			return strings.Contains(lower, needle) ||
				strings.HasSuffix(lower, "."+receiver)
		})
		if len(suffixScoped) > 0 {
			target, _ := pickBest(suffixScoped)
			return target, confSuffix, len(suffixScoped) > 1
		}
	}

	// (e) global name match, always confidence < 1.
	target, ambiguous := pickBest(candidates)
	if !ambiguous {
		return target, confGlobalUnique, false
	}
	return target, confGlobalAmbig, true
}

// callerForLine finds the smallest enclosing symbol for a line.
func callerForLine(line int, fileSymbols []types.SymbolRecord) *types.SymbolRecord {
	var best *types.SymbolRecord
	for i := range fileSymbols {
		sym := &fileSymbols[i]
		if sym.StartLine <= line && line <= sym.EndLine {
			if best == nil || sym.EndLine-sym.StartLine < best.EndLine-best.StartLine {
				best = sym
			}
		}
	}
	return best
}

// pickBest breaks ties by descending PageRank then ascending symbol id.
// ambiguous is true when more than one candidate competed.
func pickBest(candidates []*types.SymbolRecord) (*types.SymbolRecord, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.PageRank > best.PageRank ||
			(c.PageRank == best.PageRank && c.ID < best.ID) {
			best = c
		}
	}
	return best, len(candidates) > 1
}

func filterSymbols(symbols []*types.SymbolRecord, keep func(*types.SymbolRecord) bool) []*types.SymbolRecord {
	var filtered []*types.SymbolRecord
	for _, s := range symbols {
		if keep(s) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// ownerName extracts the owning class from a method's qualified name:
// "pkg.MyClass.do_thing" yields "MyClass".
func ownerName(qualified string) string {
	parts := strings.Split(qualified, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// lexicalReceiverHints scans backwards up to window lines for assignments
// that reveal the receiver's type.
func lexicalReceiverHints(lines []string, receiver string, lineNumber, window int) []string {
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return nil
	}
	end := lineNumber - 1
	if end > len(lines) {
		end = len(lines)
	}
	begin := end - window
	if begin < 0 {
		begin = 0
	}

	var hints []string
	for i := end - 1; i >= begin; i-- {
		line := lines[i]
		for patternIdx, pattern := range assignTypePatterns {
			m := pattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			switch patternIdx {
			case 0, 3: // python / go: (receiver, type)
				if m[1] == receiver {
					hints = append(hints, m[2])
				}
			case 1: // java: (declaredType, receiver, ctor)
				if m[2] == receiver {
					declared := strings.TrimSpace(strings.SplitN(m[1], "<", 2)[0])
					if declared != "" {
						hints = append(hints, declared)
					}
					hints = append(hints, m[3])
				}
			case 2: // typescript: (receiver, declaredType?, ctor)
				if m[1] == receiver {
					if m[2] != "" {
						hints = append(hints, strings.SplitN(m[2], "<", 2)[0])
					}
					hints = append(hints, m[3])
				}
			}
		}
	}
	return hints
}
