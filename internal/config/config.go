// Package config resolves Bombe server settings and workspace layout.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Runtime profiles.
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
)

// Signing algorithms.
const (
	SigningHMACSHA256 = "hmac-sha256"
	SigningEd25519    = "ed25519"
)

// Signing holds artifact signing configuration.
type Signing struct {
	Algorithm   string `json:"algorithm,omitempty"`
	KeyID       string `json:"key_id,omitempty"`
	KeyMaterial string `json:"key_material,omitempty"`
}

// Settings is the resolved server configuration.
type Settings struct {
	RepoRoot                  string        `json:"repo_root"`
	DBPath                    string        `json:"db_path"`
	RuntimeProfile            string        `json:"runtime_profile"`
	Include                   []string      `json:"include,omitempty"`
	Exclude                   []string      `json:"exclude,omitempty"`
	Workers                   int           `json:"workers"`
	SyncTimeout               time.Duration `json:"-"`
	SyncTimeoutMS             int64         `json:"sync_timeout_ms"`
	SensitiveExclusionEnabled bool          `json:"sensitive_exclusion_enabled"`
	Signing                   Signing       `json:"signing,omitempty"`
	SemanticHintsPath         string        `json:"semantic_hints_path,omitempty"`
	SyncDir                   string        `json:"sync_dir,omitempty"`
}

// DefaultWorkers is max(1, NumCPU-1); heterogeneous-core hosts get a
// conservative default rather than oversubscription.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// ResolveRepoRoot validates and absolutizes the repository path.
func ResolveRepoRoot(repo string) (string, error) {
	abs, err := filepath.Abs(repo)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("repository path does not exist: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("repository path is not a directory: %s", abs)
	}
	return abs, nil
}

// ResolveDBPath defaults the store location under <repo>/.bombe/.
func ResolveDBPath(repoRoot, dbPath string) string {
	if dbPath == "" {
		return filepath.Join(repoRoot, ".bombe", "bombe.db")
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}

// Build assembles Settings from raw options, applying defaults.
func Build(repo, dbPath, profile string, include, exclude []string, workers int, syncTimeoutMS int64) (*Settings, error) {
	repoRoot, err := ResolveRepoRoot(repo)
	if err != nil {
		return nil, err
	}
	if profile == "" {
		profile = ProfileDefault
	}
	if profile != ProfileDefault && profile != ProfileStrict {
		return nil, fmt.Errorf("unknown runtime_profile: %s", profile)
	}
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if syncTimeoutMS <= 0 {
		syncTimeoutMS = 5000
	}
	return &Settings{
		RepoRoot:                  repoRoot,
		DBPath:                    ResolveDBPath(repoRoot, dbPath),
		RuntimeProfile:            profile,
		Include:                   include,
		Exclude:                   exclude,
		Workers:                   workers,
		SyncTimeout:               time.Duration(syncTimeoutMS) * time.Millisecond,
		SyncTimeoutMS:             syncTimeoutMS,
		SensitiveExclusionEnabled: true,
	}, nil
}

// IgnoreFileName is the project-local ignore file.
const IgnoreFileName = ".bombeignore"

// WorkspaceFileName is the multi-root workspace config under .bombe/.
const WorkspaceFileName = "workspace.json"

// WorkspaceRoot is one root of a multi-root workspace.
type WorkspaceRoot struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Workspace is the multi-root workspace configuration.
type Workspace struct {
	SchemaVersion int             `json:"schema_version"`
	Roots         []WorkspaceRoot `json:"roots"`
}

// LoadWorkspace reads <repo>/.bombe/workspace.json. A missing file yields a
// single-root workspace covering repoRoot.
func LoadWorkspace(repoRoot string) (*Workspace, error) {
	path := filepath.Join(repoRoot, ".bombe", WorkspaceFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Workspace{
			SchemaVersion: 1,
			Roots:         []WorkspaceRoot{{Name: filepath.Base(repoRoot), Path: repoRoot}},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("invalid workspace.json: %w", err)
	}
	return &ws, nil
}

// SaveWorkspace writes the workspace config, creating .bombe/ if needed.
func SaveWorkspace(repoRoot string, ws *Workspace) error {
	dir := filepath.Join(repoRoot, ".bombe")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, WorkspaceFileName), data, 0o644)
}
