package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	root := t.TempDir()
	settings, err := Build(root, "", "", nil, nil, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, root, settings.RepoRoot)
	assert.Equal(t, filepath.Join(root, ".bombe", "bombe.db"), settings.DBPath)
	assert.Equal(t, ProfileDefault, settings.RuntimeProfile)
	assert.GreaterOrEqual(t, settings.Workers, 1)
	assert.Equal(t, 5*time.Second, settings.SyncTimeout)
	assert.True(t, settings.SensitiveExclusionEnabled)
}

func TestBuildRejectsMissingRepo(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "missing"), "", "", nil, nil, 0, 0)
	assert.Error(t, err)
}

func TestBuildRejectsUnknownProfile(t *testing.T) {
	_, err := Build(t.TempDir(), "", "paranoid", nil, nil, 0, 0)
	assert.Error(t, err)
}

func TestWorkspaceRoundTrip(t *testing.T) {
	root := t.TempDir()

	// Missing file yields a single-root workspace.
	ws, err := LoadWorkspace(root)
	require.NoError(t, err)
	require.Len(t, ws.Roots, 1)
	assert.Equal(t, root, ws.Roots[0].Path)

	ws.Roots = append(ws.Roots, WorkspaceRoot{Name: "lib", Path: "/elsewhere/lib"})
	require.NoError(t, SaveWorkspace(root, ws))

	loaded, err := LoadWorkspace(root)
	require.NoError(t, err)
	require.Len(t, loaded.Roots, 2)
	assert.Equal(t, "lib", loaded.Roots[1].Name)
}
