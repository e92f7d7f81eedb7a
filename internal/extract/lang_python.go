package extract

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/bombe/pkg/types"
)

// pyExtractor extracts records from Python source.
type pyExtractor struct{}

func (e *pyExtractor) Extract(root *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	module := moduleName(filePath)

	walkTree(root, func(node *tree_sitter.Node) {
		switch node.Kind() {
		case "function_definition":
			e.function(node, source, filePath, module, out)
		case "class_definition":
			e.class(node, source, filePath, module, out)
		case "import_statement":
			e.importPlain(node, source, filePath, out)
		case "import_from_statement":
			e.importFrom(node, source, filePath, out)
		case "call":
			e.call(node, source, out)
		case "expression_statement":
			e.constant(node, source, filePath, module, out)
		}
	})
}

func (e *pyExtractor) function(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	name := fieldText(node, "name", source)
	if name == "" {
		return
	}
	owner := enclosingPyClass(node, source)
	if enclosingPyFunction(node) != nil {
		return // nested closures are not symbols
	}

	kind := types.KindFunction
	qualified := module + "." + name
	parent := ""
	if owner != "" {
		kind = types.KindMethod
		qualified = module + "." + owner + "." + name
		parent = module + "." + owner
	}

	isAsync := false
	for i := uint(0); i < node.ChildCount(); i++ {
		if child := node.Child(i); child != nil && child.Kind() == "async" {
			isAsync = true
		}
	}
	isStatic := hasPyDecorator(node, source, "staticmethod") || hasPyDecorator(node, source, "classmethod")

	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:                name,
		QualifiedName:       qualified,
		Kind:                kind,
		FilePath:            filePath,
		StartLine:           lineOf(node),
		EndLine:             endLineOf(node),
		Signature:           declarationLine(node, source),
		ReturnType:          strings.TrimSpace(fieldText(node, "return_type", source)),
		Visibility:          pyVisibility(name),
		IsAsync:             isAsync,
		IsStatic:            isStatic,
		ParentQualifiedName: parent,
		Docstring:           pyDocstring(node, source),
		Parameters:          splitPyParameters(fieldText(node, "parameters", source)),
	})
}

func (e *pyExtractor) class(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
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
		Visibility:    pyVisibility(name),
		Docstring:     pyDocstring(node, source),
	})

	// Base classes become EXTENDS relations.
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for i := uint(0); i < supers.NamedChildCount(); i++ {
			base := supers.NamedChild(i)
			if base == nil {
				continue
			}
			switch base.Kind() {
			case "identifier", "attribute":
				out.TypeRefs = append(out.TypeRefs, types.TypeRef{
					SubtypeQualifiedName: qualified,
					SupertypeName:        base.Utf8Text(source),
					Relationship:         types.RelExtends,
					LineNumber:           lineOf(node),
				})
			}
		}
	}
}

func (e *pyExtractor) importPlain(node *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		var moduleText string
		switch child.Kind() {
		case "dotted_name":
			moduleText = child.Utf8Text(source)
		case "aliased_import":
			moduleText = fieldText(child, "name", source)
		default:
			continue
		}
		if moduleText == "" {
			continue
		}
		out.Imports = append(out.Imports, types.ImportRecord{
			FilePath:        filePath,
			ImportStatement: strings.TrimSpace(node.Utf8Text(source)),
			ModuleName:      moduleText,
			LineNumber:      lineOf(node),
		})
	}
}

func (e *pyExtractor) importFrom(node *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	moduleText := fieldText(node, "module_name", source)
	if moduleText == "" {
		return
	}
	var names []string
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			if child.Utf8Text(source) != moduleText {
				names = append(names, child.Utf8Text(source))
			}
		case "aliased_import":
			if imported := fieldText(child, "name", source); imported != "" {
				names = append(names, imported)
			}
		case "wildcard_import":
			// "from x import *" contributes no named symbols
		}
	}
	out.Imports = append(out.Imports, types.ImportRecord{
		FilePath:        filePath,
		ImportStatement: strings.TrimSpace(node.Utf8Text(source)),
		ModuleName:      moduleText,
		ImportedNames:   names,
		LineNumber:      lineOf(node),
	})
}

func (e *pyExtractor) call(node *tree_sitter.Node, source []byte, out *types.Extraction) {
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
	case "attribute":
		callee := fieldText(fn, "attribute", source)
		if callee == "" {
			return
		}
		receiver := ""
		if obj := fn.ChildByFieldName("object"); obj != nil && obj.Kind() == "identifier" {
			receiver = obj.Utf8Text(source)
		}
		out.CallSites = append(out.CallSites, types.CallSite{
			CalleeName:   callee,
			LineNumber:   lineOf(node),
			ReceiverName: receiver,
		})
	}
}

// constant records module-level ALL_CAPS assignments as constant symbols.
func (e *pyExtractor) constant(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	parent := node.Parent()
	if parent == nil || parent.Kind() != "module" {
		return
	}
	if node.NamedChildCount() == 0 {
		return
	}
	assign := node.NamedChild(0)
	if assign == nil || assign.Kind() != "assignment" {
		return
	}
	left := assign.ChildByFieldName("left")
	if left == nil || left.Kind() != "identifier" {
		return
	}
	name := left.Utf8Text(source)
	if name == "" || name != strings.ToUpper(name) || !strings.ContainsAny(name, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return
	}
	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:          name,
		QualifiedName: module + "." + name,
		Kind:          types.KindConstant,
		FilePath:      filePath,
		StartLine:     lineOf(node),
		EndLine:       endLineOf(node),
		Signature:     declarationLine(node, source),
		Visibility:    pyVisibility(name),
	})
}

func enclosingPyClass(node *tree_sitter.Node, source []byte) string {
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "class_definition":
			return fieldText(p, "name", source)
		case "function_definition":
			return ""
		}
	}
	return ""
}

func enclosingPyFunction(node *tree_sitter.Node) *tree_sitter.Node {
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "function_definition":
			return p
		case "class_definition":
			return nil
		}
	}
	return nil
}

func hasPyDecorator(node *tree_sitter.Node, source []byte, name string) bool {
	parent := node.Parent()
	if parent == nil || parent.Kind() != "decorated_definition" {
		return false
	}
	for i := uint(0); i < parent.NamedChildCount(); i++ {
		child := parent.NamedChild(i)
		if child != nil && child.Kind() == "decorator" &&
			strings.Contains(child.Utf8Text(source), name) {
			return true
		}
	}
	return false
}

func pyVisibility(name string) string {
	if strings.HasPrefix(name, "_") {
		return "private"
	}
	return "public"
}

// pyDocstring returns the leading string literal of a definition body.
func pyDocstring(node *tree_sitter.Node, source []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first == nil || first.Kind() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str == nil || str.Kind() != "string" {
		return ""
	}
	text := str.Utf8Text(source)
	text = strings.Trim(text, "\"'")
	return strings.TrimSpace(text)
}

// splitPyParameters drops self/cls before delegating to the shared splitter.
func splitPyParameters(raw string) []types.ParameterRecord {
	params := splitParameters(raw, types.LangPython)
	filtered := params[:0]
	for _, p := range params {
		if p.Name == "self" || p.Name == "cls" {
			continue
		}
		filtered = append(filtered, p)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}
