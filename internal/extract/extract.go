// Package extract turns source bytes into symbol, import, call-site, and
// type-relation records using tree-sitter grammars.
//
// Extraction is pure: (source bytes, language) in, records out. No IO, no
// store access. Per-language quirks live in the language-specific
// extractors; the record shape is uniform.
package extract

import (
	"fmt"
	"strings"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/dshills/bombe/pkg/types"
)

// extractor walks a parsed tree and appends records to out.
type extractor interface {
	Extract(root *tree_sitter.Node, source []byte, filePath string, out *types.Extraction)
}

// Extractor parses and extracts per file. A new tree-sitter parser is
// created per Extract call, so concurrent calls are safe.
type Extractor struct {
	languages  map[string]*tree_sitter.Language
	extractors map[string]extractor
}

// New creates an Extractor with the four supported grammars registered.
func New() *Extractor {
	return &Extractor{
		languages: map[string]*tree_sitter.Language{
			types.LangGo:         tree_sitter.NewLanguage(tree_sitter_go.Language()),
			types.LangPython:     tree_sitter.NewLanguage(tree_sitter_python.Language()),
			types.LangTypeScript: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
			types.LangJava:       tree_sitter.NewLanguage(tree_sitter_java.Language()),
		},
		extractors: map[string]extractor{
			types.LangGo:         &goExtractor{},
			types.LangPython:     &pyExtractor{},
			types.LangTypeScript: &tsExtractor{},
			types.LangJava:       &javaExtractor{},
		},
	}
}

// Supported reports whether a grammar is registered for lang. The strict
// runtime profile refuses to start when a required grammar is missing.
func (e *Extractor) Supported(lang string) bool {
	_, ok := e.languages[lang]
	return ok
}

// Extract parses source and emits the uniform record set. Parse failures
// are file-local: the result carries an empty symbol set plus a diagnostic.
func (e *Extractor) Extract(source []byte, lang, filePath string) types.Extraction {
	started := time.Now()
	out := types.Extraction{
		FilePath:    filePath,
		Language:    lang,
		Source:      string(source),
		SourceBytes: int64(len(source)),
	}

	tsLang, ok := e.languages[lang]
	if !ok {
		out.Diagnostics = append(out.Diagnostics, parseDiagnostic(filePath, lang,
			fmt.Sprintf("no grammar registered for language %q", lang),
			"Install compatible tree-sitter grammars for the required language backends."))
		return out
	}
	ext := e.extractors[lang]

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(tsLang); err != nil {
		out.Diagnostics = append(out.Diagnostics, parseDiagnostic(filePath, lang,
			fmt.Sprintf("set language %s: %v", lang, err),
			"Install compatible tree-sitter grammars for the required language backends."))
		return out
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		out.Diagnostics = append(out.Diagnostics, parseDiagnostic(filePath, lang,
			"tree-sitter returned no tree", "Fix source syntax errors and rerun indexing."))
		return out
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		out.Diagnostics = append(out.Diagnostics, types.Diagnostic{
			Stage:    "parse",
			Category: "syntax_error",
			Severity: "warning",
			FilePath: filePath,
			Language: lang,
			Message:  "source contains syntax errors; extraction is partial",
			Hint:     "Fix source syntax errors and rerun indexing.",
		})
	}

	out.NodeCount = int(root.DescendantCount())
	ext.Extract(root, source, filePath, &out)
	out.ElapsedMS = time.Since(started).Milliseconds()
	return out
}

func parseDiagnostic(filePath, lang, message, hint string) types.Diagnostic {
	return types.Diagnostic{
		Stage:    "parse",
		Category: "parser_unavailable",
		Severity: "error",
		FilePath: filePath,
		Language: lang,
		Message:  message,
		Hint:     hint,
	}
}

// moduleName converts a repo-relative path to a dotted module name:
// "pkg/auth/service.py" becomes "pkg.auth.service".
func moduleName(path string) string {
	p := path
	if idx := strings.LastIndex(p, "."); idx > strings.LastIndex(p, "/") {
		p = p[:idx]
	}
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." {
			continue
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ".")
}

// declarationLine returns the first line of a node's text, used as the
// stored signature.
func declarationLine(node *tree_sitter.Node, source []byte) string {
	text := node.Utf8Text(source)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimRight(strings.TrimSpace(text), "{:")
}

func lineOf(node *tree_sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}

func endLineOf(node *tree_sitter.Node) int {
	return int(node.EndPosition().Row) + 1
}

func fieldText(node *tree_sitter.Node, field string, source []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return child.Utf8Text(source)
}

// walkTree visits every node depth-first, invoking visit on each.
func walkTree(root *tree_sitter.Node, visit func(node *tree_sitter.Node)) {
	cursor := root.Walk()
	defer cursor.Close()
	var walk func()
	walk = func() {
		visit(cursor.Node())
		if cursor.GotoFirstChild() {
			walk()
			for cursor.GotoNextSibling() {
				walk()
			}
			cursor.GotoParent()
		}
	}
	walk()
}

// splitParameters parses a raw comma-separated parameter list. The language
// controls name/type splitting: TypeScript uses a colon, Go puts the name
// first, Java puts the name last, Python uses colon annotations and "="
// defaults.
func splitParameters(raw, lang string) []types.ParameterRecord {
	raw = strings.TrimSpace(strings.Trim(raw, "()"))
	if raw == "" {
		return nil
	}
	var params []types.ParameterRecord
	depth := 0
	start := 0
	var chunks []string
	for i, r := range raw {
		switch r {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			depth--
		case ',':
			if depth == 0 {
				chunks = append(chunks, raw[start:i])
				start = i + 1
			}
		}
	}
	chunks = append(chunks, raw[start:])

	for i, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		var name, typ, def string
		if eq := strings.Index(chunk, "="); eq >= 0 {
			def = strings.TrimSpace(chunk[eq+1:])
			chunk = strings.TrimSpace(chunk[:eq])
		}
		switch lang {
		case types.LangTypeScript, types.LangPython:
			if colon := strings.Index(chunk, ":"); colon >= 0 {
				name = strings.TrimSpace(chunk[:colon])
				typ = strings.TrimSpace(chunk[colon+1:])
			} else {
				name = chunk
			}
		case types.LangGo:
			fields := strings.Fields(chunk)
			if len(fields) > 0 {
				name = strings.TrimPrefix(fields[0], "...")
				if len(fields) > 1 {
					typ = strings.Join(fields[1:], " ")
				}
			}
		default: // java: last token is the name
			fields := strings.Fields(chunk)
			if len(fields) > 0 {
				name = strings.TrimPrefix(fields[len(fields)-1], "...")
				if len(fields) > 1 {
					typ = strings.Join(fields[:len(fields)-1], " ")
				}
			}
		}
		if name == "" {
			continue
		}
		params = append(params, types.ParameterRecord{
			Name:         name,
			Type:         typ,
			Position:     i,
			DefaultValue: def,
		})
	}
	return params
}
