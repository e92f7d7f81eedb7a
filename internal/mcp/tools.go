package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/bombe/internal/watcher"
	"github.com/dshills/bombe/pkg/types"
)

// decodeArgs re-marshals the raw argument map into a typed request.
func decodeArgs(request mcp.CallToolRequest, out any) error {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// respond serializes a response value, recording the tool metric.
func (s *Server) respond(ctx context.Context, tool string, started time.Time, value any, err error) (*mcp.CallToolResult, error) {
	latency := float64(time.Since(started).Microseconds()) / 1000.0
	if err != nil {
		_ = s.store.RecordToolMetric(ctx, tool, latency, false, "local", 0, err.Error())
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, marshalErr := json.MarshalIndent(value, "", "  ")
	if marshalErr != nil {
		return nil, marshalErr
	}
	_ = s.store.RecordToolMetric(ctx, tool, latency, true, "local", len(data), "")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	var req struct {
		Incremental bool `json:"incremental"`
	}
	if err := decodeArgs(request, &req); err != nil {
		return nil, err
	}

	var stats *types.IndexStats
	var err error
	if req.Incremental {
		var changes []types.FileChange
		changes, err = watcher.GitChanges(s.settings.RepoRoot)
		if err == nil {
			stats, err = s.pipeline.IncrementalIndex(ctx, changes)
		}
	} else {
		stats, err = s.pipeline.FullIndex(ctx)
	}
	if err == nil {
		s.engines.Planner().Purge()
	}
	return s.respond(ctx, "index_repository", started, stats, err)
}

func (s *Server) handleSearchSymbols(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	var req types.SearchRequest
	if err := decodeArgs(request, &req); err != nil {
		return nil, err
	}
	// Absent limit gets the schema default; explicit 0 stays an empty ask.
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		if _, present := args["limit"]; !present {
			req.Limit = 20
		}
	}
	resp, err := s.engines.SearchSymbols(ctx, req)
	return s.respond(ctx, "search_symbols", started, resp, err)
}

func (s *Server) handleGetReferences(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	var req types.ReferencesRequest
	if err := decodeArgs(request, &req); err != nil {
		return nil, err
	}
	resp, err := s.engines.GetReferences(ctx, req)
	return s.respond(ctx, "get_references", started, resp, err)
}

func (s *Server) handleGetContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	var req types.ContextRequest
	if err := decodeArgs(request, &req); err != nil {
		return nil, err
	}
	resp, err := s.engines.GetContext(ctx, req)
	return s.respond(ctx, "get_context", started, resp, err)
}

func (s *Server) handleGetBlastRadius(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	var req types.BlastRequest
	if err := decodeArgs(request, &req); err != nil {
		return nil, err
	}
	resp, err := s.engines.GetBlastRadius(ctx, req)
	return s.respond(ctx, "get_blast_radius", started, resp, err)
}

func (s *Server) handleTraceDataFlow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	var req types.FlowRequest
	if err := decodeArgs(request, &req); err != nil {
		return nil, err
	}
	resp, err := s.engines.TraceDataFlow(ctx, req)
	return s.respond(ctx, "trace_data_flow", started, resp, err)
}

func (s *Server) handleChangeImpact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	var req types.ImpactRequest
	if err := decodeArgs(request, &req); err != nil {
		return nil, err
	}
	resp, err := s.engines.ChangeImpact(ctx, req)
	return s.respond(ctx, "change_impact", started, resp, err)
}

func (s *Server) handleGetStructure(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	var req types.StructureRequest
	if err := decodeArgs(request, &req); err != nil {
		return nil, err
	}
	resp, err := s.engines.GetStructure(ctx, req)
	return s.respond(ctx, "get_structure", started, resp, err)
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	started := time.Now()
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return s.respond(ctx, "get_status", started, nil, err)
	}
	status := map[string]interface{}{
		"repo_root":     s.settings.RepoRoot,
		"db_path":       s.settings.DBPath,
		"files":         stats.Files,
		"symbols":       stats.Symbols,
		"edges":         stats.Edges,
		"external_deps": stats.ExternalDeps,
		"cache_epoch":   stats.CacheEpoch,
		"index_size_mb": fmt.Sprintf("%.2f", stats.IndexSizeMB),
		"hybrid":        s.syncer != nil,
	}
	return s.respond(ctx, "get_status", started, status, nil)
}
