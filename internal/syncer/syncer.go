package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/bombe/internal/config"
	"github.com/dshills/bombe/internal/store"
	"github.com/dshills/bombe/pkg/types"
)

// Response modes for sync operations.
const (
	ModeHybrid        = "hybrid"
	ModeLocalFallback = "local_fallback"
)

const (
	breakerThreshold = 3
	breakerCooldown  = 30 * time.Second
)

// Syncer drives push/pull over the artifact plane. The local path always
// succeeds; remote trouble marks the result mode=local_fallback and trips
// the per-remote circuit breaker.
type Syncer struct {
	store     *store.Store
	transport *DirTransport
	signer    *Signer
	repoID    string
	timeout   time.Duration
}

// New assembles a Syncer. signer may be nil (unsigned artifacts).
func New(s *store.Store, transport *DirTransport, signer *Signer, repoID string, timeout time.Duration) *Syncer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Syncer{store: s, transport: transport, signer: signer, repoID: repoID, timeout: timeout}
}

// Result summarizes one push or pull.
type Result struct {
	Mode        string   `json:"mode"`
	Pushed      int      `json:"pushed,omitempty"`
	Applied     int      `json:"applied,omitempty"`
	Skipped     int      `json:"skipped,omitempty"`
	Quarantined []string `json:"quarantined,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// EnqueueDelta queues a changeset for the next push.
func (sy *Syncer) EnqueueDelta(ctx context.Context, snapshot string, changes []types.FileChange) error {
	delta := Delta{
		SchemaVersion: DeltaSchemaVersion,
		DeltaID:       uuid.NewString(),
		RepoID:        sy.repoID,
		ToSnapshot:    snapshot,
		Changes:       changes,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	_, err = sy.store.EnqueueSyncDelta(ctx, sy.repoID, snapshot, string(payload))
	return err
}

// Push drains the outbound queue into the transport directory as signed
// artifacts. Per-delta failures mark that row failed and keep going.
func (sy *Syncer) Push(ctx context.Context) (*Result, error) {
	result := &Result{Mode: ModeHybrid}

	if open, err := sy.breakerOpen(ctx); err != nil {
		return nil, err
	} else if open {
		result.Mode = ModeLocalFallback
		result.Error = "circuit breaker open"
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, sy.timeout)
	defer cancel()

	deltas, err := sy.store.PendingSyncDeltas(ctx, sy.repoID, 100)
	if err != nil {
		return nil, err
	}
	for _, delta := range deltas {
		select {
		case <-ctx.Done():
			result.Mode = ModeLocalFallback
			result.Error = types.CodeRemoteTimeout
			_ = sy.recordFailure(context.WithoutCancel(ctx), "push_timeout")
			return result, nil
		default:
		}

		artifact := Artifact{
			SchemaVersion: ArtifactSchemaVersion,
			ArtifactID:    uuid.NewString(),
			RepoID:        delta.RepoID,
			SnapshotID:    delta.LocalSnapshot,
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		if sy.signer != nil {
			err = sy.signer.Sign(&artifact)
		} else {
			err = artifact.Seal()
		}
		if err == nil {
			_, err = sy.transport.WriteArtifact(artifact)
		}

		if err != nil {
			_ = sy.store.MarkSyncDelta(ctx, delta.ID, store.SyncStatusFailed, err.Error())
			_ = sy.recordFailure(ctx, "push_write_failed")
			result.Mode = ModeLocalFallback
			result.Error = err.Error()
			continue
		}
		if err := sy.store.MarkSyncDelta(ctx, delta.ID, store.SyncStatusSent, ""); err != nil {
			return nil, err
		}
		_ = sy.store.PinArtifact(ctx, delta.RepoID, delta.LocalSnapshot, artifact.ArtifactID)
		_ = sy.store.RecordSyncEvent(ctx, sy.repoID, "info", "artifact_pushed",
			fmt.Sprintf(`{"artifact_id":%q}`, artifact.ArtifactID))
		result.Pushed++
	}

	if result.Pushed > 0 {
		_ = sy.recordSuccess(ctx)
	}
	return result, nil
}

// Pull verifies every artifact in the transport directory. Verification
// failures quarantine the artifact id permanently; incompatible schema
// versions skip it; valid artifacts are pinned.
func (sy *Syncer) Pull(ctx context.Context) (*Result, error) {
	result := &Result{Mode: ModeHybrid}

	ctx, cancel := context.WithTimeout(ctx, sy.timeout)
	defer cancel()

	ids, err := sy.transport.ListArtifactIDs()
	if err != nil {
		result.Mode = ModeLocalFallback
		result.Error = err.Error()
		_ = sy.recordFailure(context.WithoutCancel(ctx), "pull_list_failed")
		return result, nil
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			result.Mode = ModeLocalFallback
			result.Error = types.CodeRemoteTimeout
			return result, nil
		default:
		}

		quarantined, err := sy.store.IsArtifactQuarantined(ctx, id)
		if err != nil {
			return nil, err
		}
		if quarantined {
			result.Skipped++
			continue
		}

		artifact, err := sy.transport.ReadArtifact(id)
		if err != nil {
			var coded *types.CodedError
			if errors.As(err, &coded) && coded.Code == types.CodeArtifactCorrupt {
				sy.quarantine(ctx, id, result, "corrupt artifact payload")
				continue
			}
			result.Mode = ModeLocalFallback
			result.Error = err.Error()
			continue
		}

		if err := artifact.CheckCompatible(); err != nil {
			result.Skipped++
			_ = sy.store.RecordSyncEvent(ctx, sy.repoID, "warn", "artifact_incompatible",
				fmt.Sprintf(`{"artifact_id":%q,"schema_version":%q}`, id, artifact.SchemaVersion))
			continue
		}
		if err := artifact.VerifyChecksum(); err != nil {
			sy.quarantine(ctx, id, result, "checksum mismatch")
			continue
		}
		if artifact.Signature != "" {
			key, err := sy.store.GetTrustedKey(ctx, artifact.RepoID, artifact.KeyID)
			if err == store.ErrNotFound {
				sy.quarantine(ctx, id, result, "no trusted key for "+artifact.KeyID)
				continue
			}
			if err != nil {
				return nil, err
			}
			if err := VerifySignature(artifact, key.Algorithm, key.PublicKey); err != nil {
				sy.quarantine(ctx, id, result, "signature mismatch")
				continue
			}
		}

		_ = sy.store.PinArtifact(ctx, artifact.RepoID, artifact.SnapshotID, artifact.ArtifactID)
		_ = sy.store.RecordSyncEvent(ctx, sy.repoID, "info", "artifact_applied",
			fmt.Sprintf(`{"artifact_id":%q}`, id))
		result.Applied++
	}

	_ = sy.recordSuccess(ctx)
	return result, nil
}

func (sy *Syncer) quarantine(ctx context.Context, id string, result *Result, reason string) {
	_ = sy.store.QuarantineArtifact(ctx, id, reason)
	_ = sy.store.RecordSyncEvent(ctx, sy.repoID, "error", "artifact_quarantined",
		fmt.Sprintf(`{"artifact_id":%q,"reason":%q}`, id, reason))
	result.Quarantined = append(result.Quarantined, id)
}

// breakerOpen reports whether the breaker blocks remote calls, moving
// open -> half_open after the cooldown.
func (sy *Syncer) breakerOpen(ctx context.Context) (bool, error) {
	state, err := sy.store.GetBreakerState(ctx, sy.repoID)
	if err != nil {
		return false, err
	}
	if state.State != store.BreakerOpen {
		return false, nil
	}
	openedAt, parseErr := time.Parse(time.RFC3339, state.OpenedAtUTC)
	if parseErr == nil && time.Since(openedAt) >= breakerCooldown {
		state.State = store.BreakerHalfOpen
		if err := sy.store.SetBreakerState(ctx, state); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (sy *Syncer) recordFailure(ctx context.Context, event string) error {
	state, err := sy.store.GetBreakerState(ctx, sy.repoID)
	if err != nil {
		return err
	}
	state.FailureCount++
	if state.FailureCount >= breakerThreshold || state.State == store.BreakerHalfOpen {
		state.State = store.BreakerOpen
		state.OpenedAtUTC = time.Now().UTC().Format(time.RFC3339)
	}
	_ = sy.store.RecordSyncEvent(ctx, sy.repoID, "warn", event, "")
	return sy.store.SetBreakerState(ctx, state)
}

func (sy *Syncer) recordSuccess(ctx context.Context) error {
	state, err := sy.store.GetBreakerState(ctx, sy.repoID)
	if err != nil {
		return err
	}
	if state.State == store.BreakerClosed && state.FailureCount == 0 {
		return nil
	}
	state.State = store.BreakerClosed
	state.FailureCount = 0
	state.OpenedAtUTC = ""
	return sy.store.SetBreakerState(ctx, state)
}

// RegisterSigningKey publishes the local signer's verification key into
// the trusted set so locally produced artifacts verify on pull.
func (sy *Syncer) RegisterSigningKey(ctx context.Context, cfg config.Signing) error {
	if sy.signer == nil {
		return nil
	}
	return sy.store.SetTrustedKey(ctx, store.TrustedKey{
		RepoID:    sy.repoID,
		KeyID:     cfg.KeyID,
		Algorithm: cfg.Algorithm,
		PublicKey: sy.signer.PublicKey(),
		Active:    true,
	})
}
