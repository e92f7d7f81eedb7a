// Command bombe indexes a source tree into a code graph and serves
// graph-shaped queries over MCP stdio.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/dshills/bombe/internal/config"
	"github.com/dshills/bombe/internal/mcp"
	"github.com/dshills/bombe/internal/pipeline"
	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/internal/syncer"
	"github.com/dshills/bombe/internal/watcher"
	"github.com/dshills/bombe/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type globals struct {
	Repo           string   `short:"r" default:"." help:"Repository root to operate on."`
	DB             string   `help:"Store location (defaults under <repo>/.bombe/)."`
	Profile        string   `default:"default" enum:"default,strict" help:"Runtime profile."`
	Include        []string `help:"Include globs applied after the ignore policy."`
	Exclude        []string `help:"Exclude globs applied after the ignore policy."`
	Workers        int      `help:"Extractor pool size (default: cores-1)."`
	SyncTimeoutMS  int64    `name:"sync-timeout-ms" help:"Per-call budget for push/pull."`
	SyncDir        string   `help:"Hybrid artifact directory (enables sync commands)."`
	AllowSensitive bool     `help:"Disable default sensitive-path exclusion."`
}

func (g *globals) settings() (*config.Settings, error) {
	settings, err := config.Build(g.Repo, g.DB, g.Profile, g.Include, g.Exclude, g.Workers, g.SyncTimeoutMS)
	if err != nil {
		return nil, err
	}
	settings.SensitiveExclusionEnabled = !g.AllowSensitive
	settings.SyncDir = g.SyncDir
	if hints := os.Getenv("BOMBE_SEMANTIC_HINTS"); hints != "" {
		settings.SemanticHintsPath = hints
	}
	return settings, nil
}

// IndexCmd runs a full or incremental index pass.
type IndexCmd struct {
	Incremental bool `help:"Derive a changeset from git status instead of a full pass."`
}

func (c *IndexCmd) Run(g *globals) error {
	settings, err := g.settings()
	if err != nil {
		return err
	}
	st, err := store.Open(settings.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	pipe, err := pipeline.New(st, settings)
	if err != nil {
		return err
	}
	pipe.ProgressFn = func(snapshot types.ProgressSnapshot) {
		fmt.Printf("\r\033[K%s (%d%%)", snapshot.Step, snapshot.ProgressPct)
	}

	ctx := signalContext()
	var stats *types.IndexStats
	if c.Incremental {
		changes, err := watcher.GitChanges(settings.RepoRoot)
		if err != nil {
			return fmt.Errorf("derive changeset: %w", err)
		}
		stats, err = pipe.IncrementalIndex(ctx, changes)
		if err != nil {
			return err
		}
	} else {
		stats, err = pipe.FullIndex(ctx)
		if err != nil {
			return err
		}
	}
	fmt.Println()
	color.Green("Indexed %d files (%d skipped, %d deleted): %d symbols, %d edges in %dms",
		stats.FilesIndexed, stats.FilesSkipped, stats.FilesDeleted,
		stats.SymbolsIndexed, stats.EdgesIndexed, stats.ElapsedMS)
	if len(stats.Diagnostics) > 0 {
		color.Yellow("Diagnostics: %v", stats.Diagnostics)
	}
	return nil
}

// ServeCmd runs the MCP stdio server.
type ServeCmd struct{}

func (c *ServeCmd) Run(g *globals) error {
	settings, err := g.settings()
	if err != nil {
		return err
	}
	// stdout is reserved for the MCP protocol.
	log.SetOutput(os.Stderr)
	log.Printf("Bombe v%s starting (build %s, store driver %s/%s)",
		version, buildTime, store.DriverName, store.BuildMode)

	srv, err := mcp.NewServer(settings)
	if err != nil {
		return err
	}
	log.Println("MCP server ready, listening on stdio...")
	return srv.Serve(signalContext())
}

// StatusCmd prints store statistics.
type StatusCmd struct{}

func (c *StatusCmd) Run(g *globals) error {
	settings, err := g.settings()
	if err != nil {
		return err
	}
	st, err := store.Open(settings.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	stats, err := st.GetStats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("store:         %s\n", settings.DBPath)
	fmt.Printf("files:         %d\n", stats.Files)
	fmt.Printf("symbols:       %d\n", stats.Symbols)
	fmt.Printf("edges:         %d\n", stats.Edges)
	fmt.Printf("external deps: %d\n", stats.ExternalDeps)
	fmt.Printf("cache epoch:   %d\n", stats.CacheEpoch)
	fmt.Printf("size:          %.2f MB\n", stats.IndexSizeMB)
	return nil
}

// SyncCmd pushes queued deltas and pulls artifacts.
type SyncCmd struct {
	Push bool `help:"Push queued deltas to the artifact directory."`
	Pull bool `help:"Pull and verify artifacts from the directory."`
}

func (c *SyncCmd) Run(g *globals) error {
	settings, err := g.settings()
	if err != nil {
		return err
	}
	if settings.SyncDir == "" {
		return fmt.Errorf("--sync-dir is required for sync")
	}
	st, err := store.Open(settings.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	transport, err := syncer.NewDirTransport(settings.SyncDir)
	if err != nil {
		return err
	}
	signer, err := syncer.NewSigner(settings.Signing)
	if err != nil {
		return err
	}
	sy := syncer.New(st, transport, signer, settings.RepoRoot, settings.SyncTimeout)
	ctx := signalContext()
	if err := sy.RegisterSigningKey(ctx, settings.Signing); err != nil {
		return err
	}

	if c.Push || !c.Pull {
		result, err := sy.Push(ctx)
		if err != nil {
			return err
		}
		color.Green("push: mode=%s pushed=%d", result.Mode, result.Pushed)
	}
	if c.Pull || !c.Push {
		result, err := sy.Pull(ctx)
		if err != nil {
			return err
		}
		color.Green("pull: mode=%s applied=%d skipped=%d quarantined=%d",
			result.Mode, result.Applied, result.Skipped, len(result.Quarantined))
	}
	return nil
}

// BackupCmd writes an online backup of the store.
type BackupCmd struct {
	Dest string `arg:"" help:"Backup destination path."`
}

func (c *BackupCmd) Run(g *globals) error {
	settings, err := g.settings()
	if err != nil {
		return err
	}
	st, err := store.Open(settings.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	path, err := st.BackupTo(context.Background(), c.Dest)
	if err != nil {
		return err
	}
	color.Green("backup written to %s", path)
	return nil
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run(_ *globals) error {
	fmt.Printf("Bombe\nVersion: %s\nBuild Time: %s\nBuild Mode: %s\nSQLite Driver: %s\n",
		version, buildTime, store.BuildMode, store.DriverName)
	return nil
}

var cli struct {
	globals

	Index   IndexCmd   `cmd:"" help:"Index the repository into the code graph."`
	Serve   ServeCmd   `cmd:"" help:"Serve MCP tools on stdio."`
	Status  StatusCmd  `cmd:"" help:"Show index statistics."`
	Sync    SyncCmd    `cmd:"" help:"Push/pull hybrid artifacts."`
	Backup  BackupCmd  `cmd:"" help:"Write an online backup of the store."`
	Version VersionCmd `cmd:"" help:"Print version information."`
}

func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("bombe"),
		kong.Description("Structure-aware code retrieval for AI coding agents."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(&cli.globals); err != nil {
		log.Fatalf("bombe: %v", err)
	}
}
