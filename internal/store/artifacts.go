package store

import (
	"context"
	"time"

	"github.com/repomesh/repomesh/internal/models"
)

const artifactColumns = `id, task_id, kind, uri, metadata, created_at`

type artifactRow struct {
	ID        string    `db:"id"`
	TaskID    string    `db:"task_id"`
	Kind      string    `db:"kind"`
	URI       string    `db:"uri"`
	Metadata  string    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

func (r artifactRow) toModel() *models.Artifact {
	return &models.Artifact{
		ID:        r.ID,
		TaskID:    r.TaskID,
		Kind:      r.Kind,
		URI:       r.URI,
		Metadata:  unmarshalMap(r.Metadata),
		CreatedAt: r.CreatedAt,
	}
}

// InsertArtifact persists a new artifact. Artifacts are never updated.
func (s *Store) InsertArtifact(ctx context.Context, artifact *models.Artifact) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`), artifact.ID, artifact.TaskID, artifact.Kind, artifact.URI,
		marshalMap(artifact.Metadata), artifact.CreatedAt)
	return err
}

// ListArtifactsForTask returns the task's artifacts, newest first.
func (s *Store) ListArtifactsForTask(ctx context.Context, taskID string) ([]*models.Artifact, error) {
	var rows []artifactRow
	err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(`
		SELECT `+artifactColumns+` FROM artifacts WHERE task_id = ?
		ORDER BY created_at DESC
	`), taskID)
	if err != nil {
		return nil, err
	}
	artifacts := make([]*models.Artifact, 0, len(rows))
	for _, row := range rows {
		artifacts = append(artifacts, row.toModel())
	}
	return artifacts, nil
}
