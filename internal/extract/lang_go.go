package extract

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/bombe/pkg/types"
)

// goExtractor extracts records from Go source. Struct types map to the
// class kind; interface satisfaction is not computed (it needs full type
// checking), so Go contributes EXTENDS edges only through embedding.
type goExtractor struct{}

func (e *goExtractor) Extract(root *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	module := moduleName(filePath)

	walkTree(root, func(node *tree_sitter.Node) {
		switch node.Kind() {
		case "function_declaration":
			e.function(node, source, filePath, module, out)
		case "method_declaration":
			e.method(node, source, filePath, module, out)
		case "type_declaration":
			e.typeDecl(node, source, filePath, module, out)
		case "const_declaration":
			e.constDecl(node, source, filePath, module, out)
		case "import_declaration":
			e.importDecl(node, source, filePath, out)
		case "call_expression":
			e.call(node, source, out)
		}
	})
}

func (e *goExtractor) function(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
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
		ReturnType:    strings.TrimSpace(fieldText(node, "result", source)),
		Visibility:    goVisibility(name),
		Parameters:    splitParameters(fieldText(node, "parameters", source), types.LangGo),
	})
}

func (e *goExtractor) method(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	name := fieldText(node, "name", source)
	if name == "" {
		return
	}
	receiver := goReceiverType(node, source)
	qualified := module + "." + name
	parent := ""
	if receiver != "" {
		qualified = module + "." + receiver + "." + name
		parent = module + "." + receiver
	}
	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:                name,
		QualifiedName:       qualified,
		Kind:                types.KindMethod,
		FilePath:            filePath,
		StartLine:           lineOf(node),
		EndLine:             endLineOf(node),
		Signature:           declarationLine(node, source),
		ReturnType:          strings.TrimSpace(fieldText(node, "result", source)),
		Visibility:          goVisibility(name),
		ParentQualifiedName: parent,
		Parameters:          splitParameters(fieldText(node, "parameters", source), types.LangGo),
	})
}

func (e *goExtractor) typeDecl(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		spec := node.NamedChild(i)
		if spec == nil || spec.Kind() != "type_spec" {
			continue
		}
		name := fieldText(spec, "name", source)
		if name == "" {
			continue
		}
		typeNode := spec.ChildByFieldName("type")
		kind := types.KindClass
		if typeNode != nil && typeNode.Kind() == "interface_type" {
			kind = types.KindInterface
		}
		qualified := module + "." + name
		out.Symbols = append(out.Symbols, types.SymbolRecord{
			Name:          name,
			QualifiedName: qualified,
			Kind:          kind,
			FilePath:      filePath,
			StartLine:     lineOf(spec),
			EndLine:       endLineOf(spec),
			Signature:     declarationLine(spec, source),
			Visibility:    goVisibility(name),
		})

		// Embedded struct fields and interface embeddings become EXTENDS.
		if typeNode != nil && typeNode.Kind() == "struct_type" {
			walkTree(typeNode, func(n *tree_sitter.Node) {
				if n.Kind() != "field_declaration" {
					return
				}
				if n.ChildByFieldName("name") != nil {
					return // named field, not an embedding
				}
				if t := n.ChildByFieldName("type"); t != nil {
					superName := strings.TrimPrefix(t.Utf8Text(source), "*")
					out.TypeRefs = append(out.TypeRefs, types.TypeRef{
						SubtypeQualifiedName: qualified,
						SupertypeName:        superName,
						Relationship:         types.RelExtends,
						LineNumber:           lineOf(n),
					})
				}
			})
		}
	}
}

func (e *goExtractor) constDecl(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		spec := node.NamedChild(i)
		if spec == nil || spec.Kind() != "const_spec" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := nameNode.Utf8Text(source)
		if name == "" || name == "_" {
			continue
		}
		out.Symbols = append(out.Symbols, types.SymbolRecord{
			Name:          name,
			QualifiedName: module + "." + name,
			Kind:          types.KindConstant,
			FilePath:      filePath,
			StartLine:     lineOf(spec),
			EndLine:       endLineOf(spec),
			Signature:     declarationLine(spec, source),
			Visibility:    goVisibility(name),
		})
	}
}

func (e *goExtractor) importDecl(node *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	walkTree(node, func(n *tree_sitter.Node) {
		if n.Kind() != "import_spec" {
			return
		}
		pathNode := n.ChildByFieldName("path")
		if pathNode == nil {
			return
		}
		moduleText := strings.Trim(pathNode.Utf8Text(source), `"`)
		if moduleText == "" {
			return
		}
		out.Imports = append(out.Imports, types.ImportRecord{
			FilePath:        filePath,
			ImportStatement: strings.TrimSpace(n.Utf8Text(source)),
			ModuleName:      moduleText,
			LineNumber:      lineOf(n),
		})
	})
}

func (e *goExtractor) call(node *tree_sitter.Node, source []byte, out *types.Extraction) {
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
	case "selector_expression":
		callee := fieldText(fn, "field", source)
		if callee == "" {
			return
		}
		receiver := ""
		if operand := fn.ChildByFieldName("operand"); operand != nil && operand.Kind() == "identifier" {
			receiver = operand.Utf8Text(source)
		}
		out.CallSites = append(out.CallSites, types.CallSite{
			CalleeName:   callee,
			LineNumber:   lineOf(node),
			ReceiverName: receiver,
		})
	}
}

// goReceiverType returns the bare receiver type name of a method.
func goReceiverType(node *tree_sitter.Node, source []byte) string {
	receiver := node.ChildByFieldName("receiver")
	if receiver == nil {
		return ""
	}
	text := strings.Trim(receiver.Utf8Text(source), "()")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	typeName := fields[len(fields)-1]
	typeName = strings.TrimPrefix(typeName, "*")
	if idx := strings.Index(typeName, "["); idx > 0 {
		typeName = typeName[:idx]
	}
	return typeName
}

func goVisibility(name string) string {
	if name == "" {
		return "private"
	}
	first := name[0]
	if first >= 'A' && first <= 'Z' {
		return "public"
	}
	return "private"
}
