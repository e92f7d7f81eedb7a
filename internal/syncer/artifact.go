// Package syncer implements the hybrid artifact plane: signed, checksummed
// JSON bundles exchanged through a file-backed transport directory. The
// local graph is always authoritative; every remote failure degrades to
// local_fallback rather than failing the caller.
package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/bombe/pkg/types"
)

// Wire schema versions. Artifacts from a newer major version are skipped
// as incompatible.
const (
	ArtifactSchemaVersion = "1.0.0"
	DeltaSchemaVersion    = "1.0.0"
)

// Artifact is a promoted, versioned bundle of symbols/edges/priors.
type Artifact struct {
	SchemaVersion string               `json:"schema_version"`
	ArtifactID    string               `json:"artifact_id"`
	RepoID        string               `json:"repo_id"`
	SnapshotID    string               `json:"snapshot_id"`
	CreatedAt     string               `json:"created_at"`
	Symbols       []types.SymbolRecord `json:"symbols,omitempty"`
	Edges         []types.EdgeRecord   `json:"edges,omitempty"`
	RankPriors    map[string]float64   `json:"rank_priors,omitempty"`

	Checksum  string `json:"checksum"`
	Signature string `json:"signature,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

// Delta is the incremental payload describing a change between snapshots.
type Delta struct {
	SchemaVersion string             `json:"schema_version"`
	DeltaID       string             `json:"delta_id"`
	RepoID        string             `json:"repo_id"`
	FromSnapshot  string             `json:"from_snapshot,omitempty"`
	ToSnapshot    string             `json:"to_snapshot"`
	Changes       []types.FileChange `json:"changes"`
	CreatedAt     string             `json:"created_at"`
}

// canonicalBytes serializes the artifact with checksum and signature
// cleared, giving a stable byte form for hashing and signing.
func (a Artifact) canonicalBytes() ([]byte, error) {
	a.Checksum = ""
	a.Signature = ""
	return json.Marshal(a)
}

// ComputeChecksum returns the SHA-256 hex of the canonical serialization.
func (a Artifact) ComputeChecksum() (string, error) {
	data, err := a.canonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal stamps the checksum in place.
func (a *Artifact) Seal() error {
	checksum, err := a.ComputeChecksum()
	if err != nil {
		return err
	}
	a.Checksum = checksum
	return nil
}

// VerifyChecksum reports whether the stored checksum matches the content.
func (a Artifact) VerifyChecksum() error {
	expected, err := a.ComputeChecksum()
	if err != nil {
		return types.WithCode(types.CodeArtifactCorrupt, err)
	}
	if a.Checksum != expected {
		return types.WithCode(types.CodeArtifactCorrupt,
			fmt.Errorf("checksum mismatch for artifact %s", a.ArtifactID))
	}
	return nil
}

// CheckCompatible rejects artifacts from a newer schema major version.
func (a Artifact) CheckCompatible() error {
	theirs, err := semver.NewVersion(a.SchemaVersion)
	if err != nil {
		return types.WithCode(types.CodeArtifactIncompat,
			fmt.Errorf("unparseable schema_version %q", a.SchemaVersion))
	}
	ours := semver.MustParse(ArtifactSchemaVersion)
	if theirs.Major() > ours.Major() {
		return types.WithCode(types.CodeArtifactIncompat,
			fmt.Errorf("artifact schema %s is newer than supported %s",
				a.SchemaVersion, ArtifactSchemaVersion))
	}
	return nil
}
