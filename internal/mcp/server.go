// Package mcp is the thin MCP tool facade over the query engines and the
// indexing pipeline: schema registration and request routing only.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/bombe/internal/config"
	"github.com/dshills/bombe/internal/pipeline"
	"github.com/dshills/bombe/internal/query"
	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/internal/syncer"
)

const (
	// ServerName is the MCP server name.
	ServerName = "bombe"
	// ServerVersion is the current server version.
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies.
type Server struct {
	mcp      *server.MCPServer
	store    *store.Store
	pipeline *pipeline.Pipeline
	engines  *query.Engines
	syncer   *syncer.Syncer
	settings *config.Settings
}

// NewServer wires a store, pipeline, engine set, and optional syncer into
// an MCP server instance.
func NewServer(settings *config.Settings) (*Server, error) {
	st, err := store.Open(settings.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pipe, err := pipeline.New(st, settings)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	engines := query.New(st, settings.RepoRoot, nil)

	var sy *syncer.Syncer
	if settings.SyncDir != "" {
		transport, err := syncer.NewDirTransport(settings.SyncDir)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		signer, err := syncer.NewSigner(settings.Signing)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		sy = syncer.New(st, transport, signer, settings.RepoRoot, settings.SyncTimeout)
		if err := sy.RegisterSigningKey(context.Background(), settings.Signing); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		store:    st,
		pipeline: pipe,
		engines:  engines,
		syncer:   sy,
		settings: settings,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the server on stdio and blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.store.Close() }()
	_ = ctx
	return server.ServeStdio(s.mcp)
}

// Close releases the store.
func (s *Server) Close() error {
	return s.store.Close()
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(searchSymbolsTool(), s.handleSearchSymbols)
	s.mcp.AddTool(getReferencesTool(), s.handleGetReferences)
	s.mcp.AddTool(getContextTool(), s.handleGetContext)
	s.mcp.AddTool(getBlastRadiusTool(), s.handleGetBlastRadius)
	s.mcp.AddTool(traceDataFlowTool(), s.handleTraceDataFlow)
	s.mcp.AddTool(changeImpactTool(), s.handleChangeImpact)
	s.mcp.AddTool(getStructureTool(), s.handleGetStructure)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
