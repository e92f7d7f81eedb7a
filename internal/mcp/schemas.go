package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func objectSchema(properties map[string]interface{}, required ...string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func intProp(description string, def int) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": description, "default": def}
}

func boolProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description, "default": false}
}

func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Run a full or incremental index pass over the configured repository",
		InputSchema: objectSchema(map[string]interface{}{
			"incremental": boolProp("Derive a changeset from git status instead of a full pass"),
		}),
	}
}

func searchSymbolsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_symbols",
		Description: "Search indexed symbols by free text with hybrid ranking",
		InputSchema: objectSchema(map[string]interface{}{
			"query":         stringProp("Free-text query"),
			"kind":          stringProp("Optional kind filter: function, class, method, interface, constant"),
			"file_pattern":  stringProp("Optional file glob, e.g. src/*.py"),
			"limit":         intProp("Maximum results (clamped to 100)", 20),
			"planner_trace": boolProp("Include planner trace in the response"),
			"explanations":  boolProp("Include per-result match reasoning"),
		}, "query"),
	}
}

func getReferencesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_references",
		Description: "Traverse callers/callees/implementors/supers of a symbol",
		InputSchema: objectSchema(map[string]interface{}{
			"symbol":         stringProp("Symbol name or qualified name"),
			"direction":      stringProp("callers | callees | both | implementors | supers"),
			"depth":          intProp("Traversal depth (clamped to 6)", 1),
			"include_source": boolProp("Include source fragments"),
			"planner_trace":  boolProp("Include planner trace in the response"),
		}, "symbol"),
	}
}

func getContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_context",
		Description: "Assemble a token-budgeted context bundle for a task",
		InputSchema: objectSchema(map[string]interface{}{
			"query": stringProp("Natural-language task description"),
			"entry_points": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional entry-point symbol names (up to 32)",
			},
			"token_budget":            intProp("Token budget (clamped to [256, 32000])", 8000),
			"include_signatures_only": boolProp("Never include full source"),
			"expansion_depth":         intProp("Graph expansion depth (clamped to 4)", 2),
			"planner_trace":           boolProp("Include planner trace in the response"),
		}, "query"),
	}
}

func getBlastRadiusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_blast_radius",
		Description: "Estimate the dependents affected by changing a symbol",
		InputSchema: objectSchema(map[string]interface{}{
			"symbol":        stringProp("Symbol name or qualified name"),
			"change_type":   stringProp("signature | behavior | delete"),
			"max_depth":     intProp("Reverse traversal depth (clamped to 6)", 3),
			"planner_trace": boolProp("Include planner trace in the response"),
		}, "symbol"),
	}
}

func traceDataFlowTool() mcp.Tool {
	return mcp.Tool{
		Name:        "trace_data_flow",
		Description: "Trace call-graph flow upstream and downstream of a symbol",
		InputSchema: objectSchema(map[string]interface{}{
			"symbol":        stringProp("Symbol name or qualified name"),
			"direction":     stringProp("upstream | downstream | both"),
			"max_depth":     intProp("Traversal depth (clamped to 6)", 3),
			"planner_trace": boolProp("Include planner trace in the response"),
		}, "symbol"),
	}
}

func changeImpactTool() mcp.Tool {
	return mcp.Tool{
		Name:        "change_impact",
		Description: "Analyze change impact including type-hierarchy dependents",
		InputSchema: objectSchema(map[string]interface{}{
			"symbol":        stringProp("Symbol name or qualified name"),
			"change_type":   stringProp("signature | behavior | delete"),
			"max_depth":     intProp("Traversal depth (clamped to 6)", 3),
			"planner_trace": boolProp("Include planner trace in the response"),
		}, "symbol"),
	}
}

func getStructureTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_structure",
		Description: "Render a hierarchical file/symbol view under a sub-path",
		InputSchema: objectSchema(map[string]interface{}{
			"path":               stringProp("Repo-relative sub-path (default: whole repo)"),
			"token_budget":       intProp("Token budget for the rendering", 4000),
			"include_signatures": boolProp("Show full signatures instead of kind + name"),
			"planner_trace":      boolProp("Include planner trace in the response"),
		}),
	}
}

func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and store health",
		InputSchema: objectSchema(map[string]interface{}{}),
	}
}
