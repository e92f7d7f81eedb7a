package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Operational-table accessors. All append-or-upsert; bounded retention is
// the operator's concern.

// Sync queue statuses.
const (
	SyncStatusQueued = "queued"
	SyncStatusSent   = "sent"
	SyncStatusAcked  = "acked"
	SyncStatusFailed = "failed"
)

// SyncDelta is one outbound queue row.
type SyncDelta struct {
	ID            int64
	RepoID        string
	LocalSnapshot string
	PayloadJSON   string
	Status        string
	AttemptCount  int
	LastError     string
}

// EnqueueSyncDelta appends an outbound delta in queued state.
func (s *Store) EnqueueSyncDelta(ctx context.Context, repoID, snapshot, payloadJSON string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (repo_id, local_snapshot, payload_json)
		VALUES (?, ?, ?)`, repoID, snapshot, payloadJSON)
	if err != nil {
		return 0, wrapStore(err)
	}
	id, err := result.LastInsertId()
	return id, wrapStore(err)
}

// PendingSyncDeltas lists queued deltas for a repo, oldest first.
func (s *Store) PendingSyncDeltas(ctx context.Context, repoID string, limit int) ([]SyncDelta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, local_snapshot, payload_json, status, attempt_count, COALESCE(last_error, '')
		FROM sync_queue WHERE repo_id=? AND status=?
		ORDER BY created_at, id LIMIT ?`, repoID, SyncStatusQueued, limit)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = rows.Close() }()

	var deltas []SyncDelta
	for rows.Next() {
		var d SyncDelta
		if err := rows.Scan(&d.ID, &d.RepoID, &d.LocalSnapshot, &d.PayloadJSON,
			&d.Status, &d.AttemptCount, &d.LastError); err != nil {
			return nil, err
		}
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}

// MarkSyncDelta updates a queue row's status, bumping the attempt count.
func (s *Store) MarkSyncDelta(ctx context.Context, id int64, status, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET status=?, last_error=?,
			attempt_count = attempt_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id=?`, status, nullable(lastError), id)
	return wrapStore(err)
}

// QuarantineArtifact adds an artifact to the quarantine set; a quarantined
// artifact is never applied until removed.
func (s *Store) QuarantineArtifact(ctx context.Context, artifactID, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifact_quarantine (artifact_id, reason) VALUES (?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET reason = excluded.reason`, artifactID, reason)
	return wrapStore(err)
}

// IsArtifactQuarantined reports quarantine membership.
func (s *Store) IsArtifactQuarantined(ctx context.Context, artifactID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM artifact_quarantine WHERE artifact_id=?", artifactID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, wrapStore(err)
}

// ReleaseArtifact removes an artifact from quarantine.
func (s *Store) ReleaseArtifact(ctx context.Context, artifactID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM artifact_quarantine WHERE artifact_id=?", artifactID)
	return wrapStore(err)
}

// PinArtifact records the chosen artifact for a (repo, snapshot) pair.
func (s *Store) PinArtifact(ctx context.Context, repoID, snapshotID, artifactID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifact_pins (repo_id, snapshot_id, artifact_id) VALUES (?, ?, ?)
		ON CONFLICT(repo_id, snapshot_id) DO UPDATE SET
			artifact_id = excluded.artifact_id, pinned_at = CURRENT_TIMESTAMP`,
		repoID, snapshotID, artifactID)
	return wrapStore(err)
}

// PinnedArtifact returns the pinned artifact id; ErrNotFound when unpinned.
func (s *Store) PinnedArtifact(ctx context.Context, repoID, snapshotID string) (string, error) {
	var artifactID string
	err := s.db.QueryRowContext(ctx, `
		SELECT artifact_id FROM artifact_pins WHERE repo_id=? AND snapshot_id=?`,
		repoID, snapshotID).Scan(&artifactID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return artifactID, wrapStore(err)
}

// Circuit breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// BreakerState is one circuit-breaker row.
type BreakerState struct {
	RepoID       string
	State        string
	FailureCount int
	OpenedAtUTC  string
}

// SetBreakerState upserts a remote's breaker state.
func (s *Store) SetBreakerState(ctx context.Context, state BreakerState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circuit_breakers (repo_id, state, failure_count, opened_at_utc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			state = excluded.state,
			failure_count = excluded.failure_count,
			opened_at_utc = excluded.opened_at_utc`,
		state.RepoID, state.State, state.FailureCount, nullable(state.OpenedAtUTC))
	return wrapStore(err)
}

// GetBreakerState reads a remote's breaker state, defaulting to closed.
func (s *Store) GetBreakerState(ctx context.Context, repoID string) (BreakerState, error) {
	state := BreakerState{RepoID: repoID, State: BreakerClosed}
	var openedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT state, failure_count, opened_at_utc FROM circuit_breakers WHERE repo_id=?`,
		repoID).Scan(&state.State, &state.FailureCount, &openedAt)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if openedAt.Valid {
		state.OpenedAtUTC = openedAt.String
	}
	return state, wrapStore(err)
}

// RecordSyncEvent appends to the sync event log.
func (s *Store) RecordSyncEvent(ctx context.Context, repoID, level, eventType, detailJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_events (repo_id, level, event_type, detail_json)
		VALUES (?, ?, ?, ?)`, repoID, level, eventType, nullable(detailJSON))
	return wrapStore(err)
}

// RecordToolMetric appends one tool invocation sample.
func (s *Store) RecordToolMetric(ctx context.Context, tool string, latencyMS float64, success bool, mode string, resultSize int, errMsg string) error {
	successInt := 0
	if success {
		successInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_metrics (tool_name, latency_ms, success, mode, result_size, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tool, latencyMS, successInt, mode, resultSize, nullable(errMsg))
	return wrapStore(err)
}

// RecordDiagnostic persists one non-fatal indexing failure.
func (s *Store) RecordDiagnostic(ctx context.Context, runID, stage, category, severity, filePath, language, message, hint string) error {
	if severity == "" {
		severity = "error"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexing_diagnostics (run_id, stage, category, severity, file_path, language, message, hint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, stage, category, severity, nullable(filePath), nullable(language), message, nullable(hint))
	return wrapStore(err)
}

// SummarizeDiagnostics aggregates a run's diagnostics by "stage/category".
func (s *Store) SummarizeDiagnostics(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, category, COUNT(*) FROM indexing_diagnostics
		WHERE run_id=? GROUP BY stage, category`, runID)
	if err != nil {
		return nil, wrapStore(err)
	}
	defer func() { _ = rows.Close() }()

	summary := make(map[string]int)
	for rows.Next() {
		var stage, category string
		var count int
		if err := rows.Scan(&stage, &category, &count); err != nil {
			return nil, err
		}
		summary[fmt.Sprintf("%s/%s", stage, category)] = count
	}
	return summary, rows.Err()
}

// TrustedKey is one trusted-signing-key row.
type TrustedKey struct {
	RepoID    string
	KeyID     string
	Algorithm string
	PublicKey string
	Purpose   string
	Active    bool
}

// SetTrustedKey upserts a signing key.
func (s *Store) SetTrustedKey(ctx context.Context, key TrustedKey) error {
	if key.Purpose == "" {
		key.Purpose = "default"
	}
	active := 0
	if key.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trusted_signing_keys (repo_id, key_id, algorithm, public_key, purpose, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, key_id) DO UPDATE SET
			algorithm = excluded.algorithm,
			public_key = excluded.public_key,
			purpose = excluded.purpose,
			active = excluded.active,
			updated_at = CURRENT_TIMESTAMP`,
		key.RepoID, key.KeyID, key.Algorithm, key.PublicKey, key.Purpose, active)
	return wrapStore(err)
}

// GetTrustedKey loads an active signing key; ErrNotFound otherwise.
func (s *Store) GetTrustedKey(ctx context.Context, repoID, keyID string) (TrustedKey, error) {
	key := TrustedKey{RepoID: repoID, KeyID: keyID}
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT algorithm, public_key, purpose, active FROM trusted_signing_keys
		WHERE repo_id=? AND key_id=? AND active=1`, repoID, keyID).Scan(
		&key.Algorithm, &key.PublicKey, &key.Purpose, &active)
	if err == sql.ErrNoRows {
		return key, ErrNotFound
	}
	key.Active = active == 1
	return key, wrapStore(err)
}
