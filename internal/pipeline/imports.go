package pipeline

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/bombe/pkg/types"
)

// resolveImports maps a file's import records to IMPORTS edges against the
// file table; imports that resolve to nothing in-repo become external deps.
// File ids are the stable enumeration indexes supplied in fileIDs.
func resolveImports(repoRoot string, file types.FileRecord, imports []types.ImportRecord,
	allFiles map[string]types.FileRecord, fileIDs map[string]int64) ([]types.EdgeRecord, []types.ExternalDepRecord, map[string]string) {

	var edges []types.EdgeRecord
	var external []types.ExternalDepRecord
	resolvedTargets := make(map[string]string) // module name -> resolved path

	sourceID := fileIDs[file.Path]
	for _, imp := range imports {
		var resolved string
		switch file.Language {
		case types.LangPython:
			resolved = resolvePython(file.Path, imp.ModuleName, allFiles)
		case types.LangJava:
			resolved = resolveJava(imp.ModuleName, allFiles)
		case types.LangTypeScript:
			resolved = resolveTypeScript(file.Path, imp.ModuleName, allFiles)
		case types.LangGo:
			resolved = resolveGo(repoRoot, imp.ModuleName, allFiles)
		}

		if resolved == "" {
			external = append(external, types.ExternalDepRecord{
				FilePath:        file.Path,
				ImportStatement: imp.ImportStatement,
				ModuleName:      imp.ModuleName,
				LineNumber:      imp.LineNumber,
			})
			continue
		}
		resolvedTargets[imp.ModuleName] = resolved
		edges = append(edges, types.EdgeRecord{
			SourceID:     sourceID,
			TargetID:     fileIDs[resolved],
			SourceType:   types.EndpointFile,
			TargetType:   types.EndpointFile,
			Relationship: types.RelImports,
			FilePath:     file.Path,
			LineNumber:   imp.LineNumber,
			Confidence:   1.0,
		})
	}
	return edges, external, resolvedTargets
}

// resolvePython handles dotted and relative module names.
func resolvePython(sourcePath, moduleName string, allFiles map[string]types.FileRecord) string {
	if moduleName == "" {
		return ""
	}
	var base string
	if strings.HasPrefix(moduleName, ".") {
		levels := 0
		for levels < len(moduleName) && moduleName[levels] == '.' {
			levels++
		}
		suffix := moduleName[levels:]
		dir := path.Dir(sourcePath)
		for i := 0; i < levels-1; i++ {
			dir = path.Dir(dir)
		}
		if dir == "." {
			dir = ""
		}
		if suffix != "" {
			base = path.Join(dir, strings.ReplaceAll(suffix, ".", "/"))
		} else {
			base = dir
		}
	} else {
		base = strings.ReplaceAll(moduleName, ".", "/")
	}
	for _, candidate := range []string{base + ".py", base + "/__init__.py"} {
		if _, ok := allFiles[candidate]; ok {
			return candidate
		}
	}
	return ""
}

// resolveJava maps package imports (including wildcards) to source files
// laid out by package directory.
func resolveJava(moduleName string, allFiles map[string]types.FileRecord) string {
	if stripped, ok := strings.CutSuffix(moduleName, ".*"); ok {
		prefix := strings.ReplaceAll(stripped, ".", "/") + "/"
		var candidates []string
		for p := range allFiles {
			if strings.HasPrefix(p, prefix) && strings.HasSuffix(p, ".java") {
				candidates = append(candidates, p)
			}
		}
		sort.Strings(candidates)
		if len(candidates) > 0 {
			return candidates[0]
		}
		return ""
	}
	candidate := strings.ReplaceAll(moduleName, ".", "/") + ".java"
	if _, ok := allFiles[candidate]; ok {
		return candidate
	}
	// Fall back to a path-suffix match for repos whose source root is not
	// the package root.
	suffix := "/" + candidate
	var matches []string
	for p := range allFiles {
		if strings.HasSuffix(p, suffix) {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// resolveTypeScript handles relative specifiers only; bare specifiers stay
// external. tsconfig "paths" aliases are intentionally not resolved.
func resolveTypeScript(sourcePath, moduleName string, allFiles map[string]types.FileRecord) string {
	if !strings.HasPrefix(moduleName, ".") {
		return ""
	}
	base := path.Clean(path.Join(path.Dir(sourcePath), moduleName))
	candidates := []string{
		base,
		base + ".ts",
		base + ".tsx",
		base + "/index.ts",
		base + "/index.tsx",
	}
	for _, candidate := range candidates {
		if _, ok := allFiles[candidate]; ok {
			return candidate
		}
	}
	return ""
}

// resolveGo resolves module-path imports against the repo's go.mod module
// line; the first file of the package (sorted) is the edge target.
func resolveGo(repoRoot, moduleName string, allFiles map[string]types.FileRecord) string {
	rootModule := readGoModule(repoRoot)
	if rootModule == "" || !strings.HasPrefix(moduleName, rootModule) {
		return ""
	}
	relPkg := strings.TrimPrefix(strings.TrimPrefix(moduleName, rootModule), "/")
	prefix := ""
	if relPkg != "" {
		prefix = relPkg + "/"
	}
	var candidates []string
	for p := range allFiles {
		if strings.HasPrefix(p, prefix) && strings.HasSuffix(p, ".go") &&
			!strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			candidates = append(candidates, p)
		}
	}
	sort.Strings(candidates)
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func readGoModule(repoRoot string) string {
	content, err := os.ReadFile(filepath.Join(repoRoot, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(content), "\n") {
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "module "); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}
