package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/bombe/pkg/types"
)

// DirTransport writes one file per artifact, <artifact_id>.json, into an
// operator-specified directory tree.
type DirTransport struct {
	dir string
}

// NewDirTransport creates the directory if needed.
func NewDirTransport(dir string) (*DirTransport, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirTransport{dir: dir}, nil
}

// Dir returns the transport root.
func (t *DirTransport) Dir() string { return t.dir }

// WriteArtifact persists one artifact. The write goes through a temp file
// and rename so readers never observe a partial artifact.
func (t *DirTransport) WriteArtifact(artifact Artifact) (string, error) {
	if artifact.ArtifactID == "" {
		return "", fmt.Errorf("artifact id is empty")
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", err
	}
	final := filepath.Join(t.dir, artifact.ArtifactID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", types.WithCode(types.CodeRemoteError, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", types.WithCode(types.CodeRemoteError, err)
	}
	return final, nil
}

// ReadArtifact loads one artifact by id. Undecodable content maps to
// ARTIFACT_CORRUPT.
func (t *DirTransport) ReadArtifact(artifactID string) (Artifact, error) {
	var artifact Artifact
	data, err := os.ReadFile(filepath.Join(t.dir, artifactID+".json"))
	if err != nil {
		return artifact, types.WithCode(types.CodeRemoteError, err)
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		return artifact, types.WithCode(types.CodeArtifactCorrupt, err)
	}
	return artifact, nil
}

// ListArtifactIDs enumerates available artifact ids, sorted.
func (t *DirTransport) ListArtifactIDs() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, types.WithCode(types.CodeRemoteError, err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
