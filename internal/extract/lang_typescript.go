package extract

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/bombe/pkg/types"
)

// tsExtractor extracts records from TypeScript source.
type tsExtractor struct{}

func (e *tsExtractor) Extract(root *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	module := moduleName(filePath)

	walkTree(root, func(node *tree_sitter.Node) {
		switch node.Kind() {
		case "function_declaration":
			e.function(node, source, filePath, module, out)
		case "class_declaration":
			e.class(node, source, filePath, module, out)
		case "interface_declaration":
			e.iface(node, source, filePath, module, out)
		case "method_definition":
			e.method(node, source, filePath, module, out)
		case "lexical_declaration":
			e.constant(node, source, filePath, module, out)
		case "import_statement":
			e.importStatement(node, source, filePath, out)
		case "call_expression":
			e.call(node, source, out)
		}
	})
}

func (e *tsExtractor) function(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	name := fieldText(node, "name", source)
	if name == "" {
		return
	}
	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:          name,
		QualifiedName: module + "." + name,
		Kind:          types.KindFunction,
		FilePath:      filePath,
		StartLine:     lineOf(node),
		EndLine:       endLineOf(node),
		Signature:     declarationLine(node, source),
		ReturnType:    strings.TrimPrefix(strings.TrimSpace(fieldText(node, "return_type", source)), ": "),
		Visibility:    "public",
		IsAsync:       hasKeywordChild(node, "async"),
		Parameters:    splitParameters(fieldText(node, "parameters", source), types.LangTypeScript),
	})
}

func (e *tsExtractor) class(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	name := fieldText(node, "name", source)
	if name == "" {
		return
	}
	qualified := module + "." + name
	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:          name,
		QualifiedName: qualified,
		Kind:          types.KindClass,
		FilePath:      filePath,
		StartLine:     lineOf(node),
		EndLine:       endLineOf(node),
		Signature:     declarationLine(node, source),
		Visibility:    "public",
	})

	// class_heritage wraps extends_clause and implements_clause.
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil || child.Kind() != "class_heritage" {
			continue
		}
		for j := uint(0); j < child.NamedChildCount(); j++ {
			clause := child.NamedChild(j)
			if clause == nil {
				continue
			}
			rel := ""
			switch clause.Kind() {
			case "extends_clause":
				rel = types.RelExtends
			case "implements_clause":
				rel = types.RelImplements
			default:
				continue
			}
			for k := uint(0); k < clause.NamedChildCount(); k++ {
				super := clause.NamedChild(k)
				if super == nil {
					continue
				}
				switch super.Kind() {
				case "identifier", "member_expression", "type_identifier", "generic_type":
					superName := super.Utf8Text(source)
					if idx := strings.Index(superName, "<"); idx > 0 {
						superName = superName[:idx]
					}
					out.TypeRefs = append(out.TypeRefs, types.TypeRef{
						SubtypeQualifiedName: qualified,
						SupertypeName:        superName,
						Relationship:         rel,
						LineNumber:           lineOf(node),
					})
				}
			}
		}
	}
}

func (e *tsExtractor) iface(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	name := fieldText(node, "name", source)
	if name == "" {
		return
	}
	qualified := module + "." + name
	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:          name,
		QualifiedName: qualified,
		Kind:          types.KindInterface,
		FilePath:      filePath,
		StartLine:     lineOf(node),
		EndLine:       endLineOf(node),
		Signature:     declarationLine(node, source),
		Visibility:    "public",
	})
	// interface Foo extends Bar
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil || child.Kind() != "extends_type_clause" {
			continue
		}
		for j := uint(0); j < child.NamedChildCount(); j++ {
			super := child.NamedChild(j)
			if super == nil {
				continue
			}
			out.TypeRefs = append(out.TypeRefs, types.TypeRef{
				SubtypeQualifiedName: qualified,
				SupertypeName:        super.Utf8Text(source),
				Relationship:         types.RelExtends,
				LineNumber:           lineOf(node),
			})
		}
	}
}

func (e *tsExtractor) method(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	name := fieldText(node, "name", source)
	if name == "" || name == "constructor" {
		return
	}
	owner := enclosingTsClass(node, source)
	if owner == "" {
		return
	}
	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:                name,
		QualifiedName:       module + "." + owner + "." + name,
		Kind:                types.KindMethod,
		FilePath:            filePath,
		StartLine:           lineOf(node),
		EndLine:             endLineOf(node),
		Signature:           declarationLine(node, source),
		ReturnType:          strings.TrimPrefix(strings.TrimSpace(fieldText(node, "return_type", source)), ": "),
		Visibility:          tsVisibility(node, source, name),
		IsAsync:             hasKeywordChild(node, "async"),
		IsStatic:            hasKeywordChild(node, "static"),
		ParentQualifiedName: module + "." + owner,
		Parameters:          splitParameters(fieldText(node, "parameters", source), types.LangTypeScript),
	})
}

// constant records top-level `const NAME = ...` declarations.
func (e *tsExtractor) constant(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	parent := node.Parent()
	if parent == nil || (parent.Kind() != "program" && parent.Kind() != "export_statement") {
		return
	}
	text := node.Utf8Text(source)
	if !strings.HasPrefix(strings.TrimSpace(text), "const ") {
		return
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		decl := node.NamedChild(i)
		if decl == nil || decl.Kind() != "variable_declarator" {
			continue
		}
		name := fieldText(decl, "name", source)
		if name == "" || name != strings.ToUpper(name) || !strings.ContainsAny(name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			continue
		}
		out.Symbols = append(out.Symbols, types.SymbolRecord{
			Name:          name,
			QualifiedName: module + "." + name,
			Kind:          types.KindConstant,
			FilePath:      filePath,
			StartLine:     lineOf(node),
			EndLine:       endLineOf(node),
			Signature:     declarationLine(node, source),
			Visibility:    "public",
		})
	}
}

func (e *tsExtractor) importStatement(node *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	srcNode := node.ChildByFieldName("source")
	if srcNode == nil {
		return
	}
	moduleText := strings.Trim(srcNode.Utf8Text(source), "'\"")
	if moduleText == "" {
		return
	}
	var names []string
	walkTree(node, func(n *tree_sitter.Node) {
		if n.Kind() == "import_specifier" {
			if imported := fieldText(n, "name", source); imported != "" {
				names = append(names, imported)
			}
		}
	})
	out.Imports = append(out.Imports, types.ImportRecord{
		FilePath:        filePath,
		ImportStatement: strings.TrimSpace(node.Utf8Text(source)),
		ModuleName:      moduleText,
		ImportedNames:   names,
		LineNumber:      lineOf(node),
	})
}

func (e *tsExtractor) call(node *tree_sitter.Node, source []byte, out *types.Extraction) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	switch fn.Kind() {
	case "identifier":
		out.CallSites = append(out.CallSites, types.CallSite{
			CalleeName: fn.Utf8Text(source),
			LineNumber: lineOf(node),
		})
	case "member_expression":
		callee := fieldText(fn, "property", source)
		if callee == "" {
			return
		}
		receiver := ""
		if obj := fn.ChildByFieldName("object"); obj != nil {
			switch obj.Kind() {
			case "identifier", "this":
				receiver = obj.Utf8Text(source)
			}
		}
		out.CallSites = append(out.CallSites, types.CallSite{
			CalleeName:   callee,
			LineNumber:   lineOf(node),
			ReceiverName: receiver,
		})
	}
}

func enclosingTsClass(node *tree_sitter.Node, source []byte) string {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "class_declaration" || p.Kind() == "class" {
			return fieldText(p, "name", source)
		}
	}
	return ""
}

func tsVisibility(node *tree_sitter.Node, source []byte, name string) string {
	text := node.Utf8Text(source)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if strings.Contains(text, "private ") || strings.HasPrefix(name, "#") {
		return "private"
	}
	if strings.Contains(text, "protected ") {
		return "protected"
	}
	return "public"
}

func hasKeywordChild(node *tree_sitter.Node, keyword string) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		if child := node.Child(i); child != nil && child.Kind() == keyword {
			return true
		}
	}
	return false
}
