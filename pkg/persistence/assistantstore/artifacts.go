package assistantstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/datamartlabs/source-assistant/pkg/assistant"
)

// ArtifactStore is the SQL-artifact view of a Store.
type ArtifactStore struct {
	store *Store
}

var _ assistant.ArtifactStore = &ArtifactStore{}

// Artifacts returns the artifact store backed by this database.
func (s *Store) Artifacts() *ArtifactStore { return &ArtifactStore{store: s} }

func (a *ArtifactStore) Get(ctx context.Context, artifactID string, scope assistant.Scope) (assistant.Artifact, error) {
	row := a.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, data_mart_id, title, sql_text, validation_status, validation_error, created_by_id, modified_at_ms
		FROM artifacts
		WHERE id = ? AND data_mart_id = ?
	`, artifactID, scope.DataMartID)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.Artifact{}, assistant.NewNotFoundError("artifact %s is not found", artifactID)
	}
	if err != nil {
		return assistant.Artifact{}, err
	}
	return artifact, nil
}

// ListByIDs returns the artifacts among artifactIDs that exist in the scope,
// in the order given. Missing ids are skipped.
func (a *ArtifactStore) ListByIDs(ctx context.Context, artifactIDs []string, scope assistant.Scope) ([]assistant.Artifact, error) {
	if len(artifactIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(artifactIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(artifactIDs)+1)
	for _, id := range artifactIDs {
		args = append(args, id)
	}
	args = append(args, scope.DataMartID)

	rows, err := a.store.conn(ctx).QueryContext(ctx, `
		SELECT id, data_mart_id, title, sql_text, validation_status, validation_error, created_by_id, modified_at_ms
		FROM artifacts
		WHERE id IN (`+placeholders+`) AND data_mart_id = ?
	`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "assistant store: query artifacts")
	}
	defer func() { _ = rows.Close() }()

	byID := map[string]assistant.Artifact{}
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		byID[artifact.ID] = artifact
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]assistant.Artifact, 0, len(byID))
	for _, id := range artifactIDs {
		if artifact, ok := byID[id]; ok {
			out = append(out, artifact)
		}
	}
	return out, nil
}

func (a *ArtifactStore) Save(ctx context.Context, artifact assistant.Artifact) (assistant.Artifact, error) {
	if strings.TrimSpace(artifact.ID) == "" {
		return assistant.Artifact{}, errors.New("assistant store: artifact id is empty")
	}
	if artifact.ModifiedAt.IsZero() {
		artifact.ModifiedAt = time.Now()
	}
	_, err := a.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO artifacts(id, data_mart_id, title, sql_text, validation_status, validation_error, created_by_id, modified_at_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			sql_text = excluded.sql_text,
			validation_status = excluded.validation_status,
			validation_error = excluded.validation_error,
			modified_at_ms = excluded.modified_at_ms
	`, artifact.ID, artifact.DataMartID, artifact.Title, artifact.SQL, string(artifact.ValidationStatus), artifact.ValidationError, artifact.CreatedByID, artifact.ModifiedAt.UnixMilli())
	if err != nil {
		return assistant.Artifact{}, errors.Wrap(err, "assistant store: upsert artifact")
	}
	return artifact, nil
}

func scanArtifact(row rowScanner) (assistant.Artifact, error) {
	var (
		artifact     assistant.Artifact
		status       string
		modifiedAtMs int64
	)
	if err := row.Scan(&artifact.ID, &artifact.DataMartID, &artifact.Title, &artifact.SQL, &status, &artifact.ValidationError, &artifact.CreatedByID, &modifiedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assistant.Artifact{}, err
		}
		return assistant.Artifact{}, errors.Wrap(err, "assistant store: scan artifact")
	}
	artifact.ValidationStatus = assistant.ValidationStatus(status)
	artifact.ModifiedAt = time.UnixMilli(modifiedAtMs)
	return artifact, nil
}
