package extract

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/bombe/pkg/types"
)

// javaExtractor extracts records from Java source. Qualified names use the
// declared package when present, otherwise the path-derived module name.
type javaExtractor struct{}

func (e *javaExtractor) Extract(root *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	module := e.packageName(root, source)
	if module == "" {
		module = moduleName(filePath)
	}

	walkTree(root, func(node *tree_sitter.Node) {
		switch node.Kind() {
		case "class_declaration":
			e.class(node, source, filePath, module, out)
		case "interface_declaration":
			e.iface(node, source, filePath, module, out)
		case "method_declaration":
			e.method(node, source, filePath, module, out)
		case "field_declaration":
			e.constantField(node, source, filePath, module, out)
		case "import_declaration":
			e.importDecl(node, source, filePath, out)
		case "method_invocation":
			e.call(node, source, out)
		}
	})
}

func (e *javaExtractor) packageName(root *tree_sitter.Node, source []byte) string {
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child != nil && child.Kind() == "package_declaration" {
			text := strings.TrimSpace(child.Utf8Text(source))
			text = strings.TrimPrefix(text, "package")
			return strings.TrimSpace(strings.TrimSuffix(text, ";"))
		}
	}
	return ""
}

func (e *javaExtractor) class(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
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
		Visibility:    javaVisibility(node, source),
		IsStatic:      javaHasModifier(node, source, "static"),
	})

	if superclass := node.ChildByFieldName("superclass"); superclass != nil {
		superName := strings.TrimSpace(strings.TrimPrefix(superclass.Utf8Text(source), "extends"))
		if idx := strings.Index(superName, "<"); idx > 0 {
			superName = superName[:idx]
		}
		if superName != "" {
			out.TypeRefs = append(out.TypeRefs, types.TypeRef{
				SubtypeQualifiedName: qualified,
				SupertypeName:        superName,
				Relationship:         types.RelExtends,
				LineNumber:           lineOf(node),
			})
		}
	}
	if interfaces := node.ChildByFieldName("interfaces"); interfaces != nil {
		walkTree(interfaces, func(n *tree_sitter.Node) {
			if n.Kind() == "type_identifier" {
				out.TypeRefs = append(out.TypeRefs, types.TypeRef{
					SubtypeQualifiedName: qualified,
					SupertypeName:        n.Utf8Text(source),
					Relationship:         types.RelImplements,
					LineNumber:           lineOf(node),
				})
			}
		})
	}
}

func (e *javaExtractor) iface(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
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
		Visibility:    javaVisibility(node, source),
	})
}

func (e *javaExtractor) method(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	name := fieldText(node, "name", source)
	if name == "" {
		return
	}
	owner := enclosingJavaType(node, source)
	qualified := module + "." + name
	parent := ""
	kind := types.KindFunction
	if owner != "" {
		qualified = module + "." + owner + "." + name
		parent = module + "." + owner
		kind = types.KindMethod
	}
	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:                name,
		QualifiedName:       qualified,
		Kind:                kind,
		FilePath:            filePath,
		StartLine:           lineOf(node),
		EndLine:             endLineOf(node),
		Signature:           declarationLine(node, source),
		ReturnType:          strings.TrimSpace(fieldText(node, "type", source)),
		Visibility:          javaVisibility(node, source),
		IsStatic:            javaHasModifier(node, source, "static"),
		ParentQualifiedName: parent,
		Parameters:          splitParameters(fieldText(node, "parameters", source), types.LangJava),
	})
}

// constantField records static final fields as constants.
func (e *javaExtractor) constantField(node *tree_sitter.Node, source []byte, filePath, module string, out *types.Extraction) {
	if !javaHasModifier(node, source, "static") || !javaHasModifier(node, source, "final") {
		return
	}
	owner := enclosingJavaType(node, source)
	declarator := node.ChildByFieldName("declarator")
	if declarator == nil {
		return
	}
	name := fieldText(declarator, "name", source)
	if name == "" {
		return
	}
	qualified := module + "." + name
	if owner != "" {
		qualified = module + "." + owner + "." + name
	}
	out.Symbols = append(out.Symbols, types.SymbolRecord{
		Name:          name,
		QualifiedName: qualified,
		Kind:          types.KindConstant,
		FilePath:      filePath,
		StartLine:     lineOf(node),
		EndLine:       endLineOf(node),
		Signature:     declarationLine(node, source),
		Visibility:    javaVisibility(node, source),
		IsStatic:      true,
	})
}

func (e *javaExtractor) importDecl(node *tree_sitter.Node, source []byte, filePath string, out *types.Extraction) {
	text := strings.TrimSpace(node.Utf8Text(source))
	moduleText := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(text, "import"), ";"))
	moduleText = strings.TrimSpace(strings.TrimPrefix(moduleText, "static"))
	if moduleText == "" {
		return
	}
	var names []string
	if !strings.HasSuffix(moduleText, ".*") {
		if idx := strings.LastIndex(moduleText, "."); idx >= 0 {
			names = append(names, moduleText[idx+1:])
		}
	}
	out.Imports = append(out.Imports, types.ImportRecord{
		FilePath:        filePath,
		ImportStatement: text,
		ModuleName:      moduleText,
		ImportedNames:   names,
		LineNumber:      lineOf(node),
	})
}

func (e *javaExtractor) call(node *tree_sitter.Node, source []byte, out *types.Extraction) {
	name := fieldText(node, "name", source)
	if name == "" {
		return
	}
	receiver := ""
	if obj := node.ChildByFieldName("object"); obj != nil {
		switch obj.Kind() {
		case "identifier", "this":
			receiver = obj.Utf8Text(source)
		}
	}
	out.CallSites = append(out.CallSites, types.CallSite{
		CalleeName:   name,
		LineNumber:   lineOf(node),
		ReceiverName: receiver,
	})
}

func enclosingJavaType(node *tree_sitter.Node, source []byte) string {
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "class_declaration", "interface_declaration", "enum_declaration":
			return fieldText(p, "name", source)
		}
	}
	return ""
}

func javaVisibility(node *tree_sitter.Node, source []byte) string {
	if javaHasModifier(node, source, "private") {
		return "private"
	}
	if javaHasModifier(node, source, "protected") {
		return "protected"
	}
	if javaHasModifier(node, source, "public") {
		return "public"
	}
	return "package"
}

func javaHasModifier(node *tree_sitter.Node, source []byte, modifier string) bool {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil || child.Kind() != "modifiers" {
			continue
		}
		for _, field := range strings.Fields(child.Utf8Text(source)) {
			if field == modifier {
				return true
			}
		}
	}
	return false
}
