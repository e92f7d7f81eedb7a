package syncer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bombe/internal/config"
	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "bombe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hmacSigning() config.Signing {
	return config.Signing{
		Algorithm:   config.SigningHMACSHA256,
		KeyID:       "k1",
		KeyMaterial: hex.EncodeToString([]byte("super-secret-key")),
	}
}

func TestArtifactChecksumRoundTrip(t *testing.T) {
	artifact := Artifact{
		SchemaVersion: ArtifactSchemaVersion,
		ArtifactID:    "a1",
		RepoID:        "repo1",
		SnapshotID:    "snap1",
		CreatedAt:     "2026-01-01T00:00:00Z",
	}
	require.NoError(t, artifact.Seal())
	require.NoError(t, artifact.VerifyChecksum())

	artifact.SnapshotID = "tampered"
	err := artifact.VerifyChecksum()
	require.Error(t, err)
	var coded *types.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, types.CodeArtifactCorrupt, coded.Code)
}

func TestArtifactCompatibility(t *testing.T) {
	artifact := Artifact{SchemaVersion: "1.2.0"}
	assert.NoError(t, artifact.CheckCompatible())

	artifact.SchemaVersion = "2.0.0"
	assert.Error(t, artifact.CheckCompatible())

	artifact.SchemaVersion = "garbage"
	assert.Error(t, artifact.CheckCompatible())
}

func TestHMACSignAndVerify(t *testing.T) {
	signer, err := NewSigner(hmacSigning())
	require.NoError(t, err)
	require.NotNil(t, signer)

	artifact := Artifact{SchemaVersion: ArtifactSchemaVersion, ArtifactID: "a1"}
	require.NoError(t, signer.Sign(&artifact))
	assert.Equal(t, "k1", artifact.KeyID)
	assert.NotEmpty(t, artifact.Signature)

	require.NoError(t, VerifySignature(artifact, signer.Algorithm(), signer.PublicKey()))

	tampered := artifact
	tampered.Signature = "00" + tampered.Signature[2:]
	assert.Error(t, VerifySignature(tampered, signer.Algorithm(), signer.PublicKey()))
}

func TestEd25519SignAndVerify(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	signer, err := NewSigner(config.Signing{
		Algorithm:   config.SigningEd25519,
		KeyID:       "k2",
		KeyMaterial: hex.EncodeToString(seed),
	})
	require.NoError(t, err)

	artifact := Artifact{SchemaVersion: ArtifactSchemaVersion, ArtifactID: "a2"}
	require.NoError(t, signer.Sign(&artifact))
	require.NoError(t, VerifySignature(artifact, signer.Algorithm(), signer.PublicKey()))
}

func TestTransportRoundTrip(t *testing.T) {
	transport, err := NewDirTransport(t.TempDir())
	require.NoError(t, err)

	artifact := Artifact{SchemaVersion: ArtifactSchemaVersion, ArtifactID: "a1", RepoID: "r"}
	require.NoError(t, artifact.Seal())
	_, err = transport.WriteArtifact(artifact)
	require.NoError(t, err)

	ids, err := transport.ListArtifactIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)

	loaded, err := transport.ReadArtifact("a1")
	require.NoError(t, err)
	assert.Equal(t, artifact.Checksum, loaded.Checksum)
	require.NoError(t, loaded.VerifyChecksum())
}

func TestPushThenPull(t *testing.T) {
	st := openTestStore(t)
	transport, err := NewDirTransport(t.TempDir())
	require.NoError(t, err)
	signer, err := NewSigner(hmacSigning())
	require.NoError(t, err)

	sy := New(st, transport, signer, "repo1", 5*time.Second)
	ctx := context.Background()
	require.NoError(t, sy.RegisterSigningKey(ctx, hmacSigning()))

	require.NoError(t, sy.EnqueueDelta(ctx, "snap1", []types.FileChange{{Status: "M", Path: "a.py"}}))

	pushResult, err := sy.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, pushResult.Mode)
	assert.Equal(t, 1, pushResult.Pushed)

	pullResult, err := sy.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, pullResult.Mode)
	assert.Equal(t, 1, pullResult.Applied)
	assert.Empty(t, pullResult.Quarantined)
}

func TestPullQuarantinesCorruptArtifact(t *testing.T) {
	st := openTestStore(t)
	dir := t.TempDir()
	transport, err := NewDirTransport(dir)
	require.NoError(t, err)

	// A tampered artifact: valid JSON, wrong checksum.
	artifact := Artifact{SchemaVersion: ArtifactSchemaVersion, ArtifactID: "bad", RepoID: "repo1"}
	require.NoError(t, artifact.Seal())
	artifact.SnapshotID = "tampered-after-seal"
	_, err = transport.WriteArtifact(artifact)
	require.NoError(t, err)

	sy := New(st, transport, nil, "repo1", 5*time.Second)
	ctx := context.Background()

	result, err := sy.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, result.Quarantined)

	quarantined, err := st.IsArtifactQuarantined(ctx, "bad")
	require.NoError(t, err)
	assert.True(t, quarantined)

	// A quarantined artifact is never applied again.
	again, err := sy.Pull(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Quarantined)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, 0, again.Applied)
}

func TestPullQuarantinesUnknownKey(t *testing.T) {
	st := openTestStore(t)
	transport, err := NewDirTransport(t.TempDir())
	require.NoError(t, err)
	signer, err := NewSigner(hmacSigning())
	require.NoError(t, err)

	artifact := Artifact{SchemaVersion: ArtifactSchemaVersion, ArtifactID: "a1", RepoID: "repo1"}
	require.NoError(t, signer.Sign(&artifact))
	_, err = transport.WriteArtifact(artifact)
	require.NoError(t, err)

	// No trusted key registered: signature cannot verify.
	sy := New(st, transport, nil, "repo1", 5*time.Second)
	result, err := sy.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, result.Quarantined)
}

func TestPullSkipsIncompatibleSchema(t *testing.T) {
	st := openTestStore(t)
	transport, err := NewDirTransport(t.TempDir())
	require.NoError(t, err)

	artifact := Artifact{SchemaVersion: "9.0.0", ArtifactID: "future", RepoID: "repo1"}
	require.NoError(t, artifact.Seal())
	_, err = transport.WriteArtifact(artifact)
	require.NoError(t, err)

	sy := New(st, transport, nil, "repo1", 5*time.Second)
	result, err := sy.Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Quarantined)

	// Incompatible is skipped, not quarantined.
	quarantined, err := st.IsArtifactQuarantined(context.Background(), "future")
	require.NoError(t, err)
	assert.False(t, quarantined)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	st := openTestStore(t)
	transport, err := NewDirTransport(t.TempDir())
	require.NoError(t, err)

	sy := New(st, transport, nil, "repo1", 5*time.Second)
	ctx := context.Background()
	for i := 0; i < breakerThreshold; i++ {
		require.NoError(t, sy.recordFailure(ctx, "push_write_failed"))
	}

	state, err := st.GetBreakerState(ctx, "repo1")
	require.NoError(t, err)
	assert.Equal(t, store.BreakerOpen, state.State)

	// Push short-circuits to local fallback while open.
	result, err := sy.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeLocalFallback, result.Mode)

	// Success after cooldown closes it again.
	state.OpenedAtUTC = time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	require.NoError(t, st.SetBreakerState(ctx, state))
	open, err := sy.breakerOpen(ctx)
	require.NoError(t, err)
	assert.False(t, open, "cooldown moves open to half_open")
	require.NoError(t, sy.recordSuccess(ctx))
	state, err = st.GetBreakerState(ctx, "repo1")
	require.NoError(t, err)
	assert.Equal(t, store.BreakerClosed, state.State)
}
