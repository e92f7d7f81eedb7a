package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.py", "python"},
		{"src/app.ts", "typescript"},
		{"src/App.tsx", "typescript"},
		{"Main.java", "java"},
		{"main.go", "go"},
		{"README.md", ""},
		{"script.sh", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.path), tt.path)
	}
}

func TestEnumerateStableOrdering(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.py", "x = 1\n")
	writeFile(t, root, "a.py", "y = 2\n")
	writeFile(t, root, "sub/c.go", "package sub\n")

	s := New(root, Options{})
	first, err := s.Enumerate()
	require.NoError(t, err)
	second, err := s.Enumerate()
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	paths := []string{first[0].RelPath, first[1].RelPath, first[2].RelPath}
	assert.True(t, sort.StringsAreSorted(paths))
	assert.Equal(t, "a.py", first[0].RelPath)
}

func TestEnumerateSkipsBuiltinDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.py", "x = 1\n")
	writeFile(t, root, "node_modules/dep.ts", "export const x = 1\n")
	writeFile(t, root, "vendor/lib.go", "package lib\n")
	writeFile(t, root, ".git/hook.py", "x = 1\n")

	s := New(root, Options{})
	entries, err := s.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.py", entries[0].RelPath)
}

func TestEnumerateSensitiveExclusion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.py", "x = 1\n")
	writeFile(t, root, "secrets/keys.py", "KEY = 'x'\n")
	writeFile(t, root, "credentials.py", "x = 1\n")

	s := New(root, Options{})
	entries, err := s.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "app.py", entries[0].RelPath)

	// Explicit opt-out restores them.
	s = New(root, Options{DisableSensitiveExclusion: true})
	entries, err = s.Enumerate()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestEnumerateGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "generated/\n*.tmp.py\n")
	writeFile(t, root, "app.py", "x = 1\n")
	writeFile(t, root, "generated/out.py", "x = 1\n")
	writeFile(t, root, "scratch.tmp.py", "x = 1\n")

	s := New(root, Options{})
	entries, err := s.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "app.py", entries[0].RelPath)
}

func TestEnumerateIncludeExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.py", "x = 1\n")
	writeFile(t, root, "src/b.go", "package b\n")
	writeFile(t, root, "docs/c.py", "x = 1\n")

	s := New(root, Options{Include: []string{"src/**/*.py", "src/*.py"}})
	entries, err := s.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "src/a.py", entries[0].RelPath)

	s = New(root, Options{Exclude: []string{"docs/"}})
	entries, err = s.Enumerate()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEnumerateMaxFileBytes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.py", "x = 1\n")
	writeFile(t, root, "big.py", string(make([]byte, 4096)))

	s := New(root, Options{MaxFileBytes: 1024})
	entries, err := s.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "small.py", entries[0].RelPath)
	require.Len(t, s.Skipped, 1)
	assert.Equal(t, "big.py", s.Skipped[0].RelPath)
}

func TestContentHash(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "hello\n")

	hash, err := ContentHash(filepath.Join(root, "a.py"))
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	again, err := ContentHash(filepath.Join(root, "a.py"))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	_, err = ContentHash(filepath.Join(root, "missing.py"))
	assert.Error(t, err)
}
