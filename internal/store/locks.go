package store

import (
	"context"

	"github.com/repomesh/repomesh/internal/models"
)

const lockColumns = `id, resource_key, owner_agent_id, state, created_at, expires_at, released_at`

// InsertLock persists a new resource lock.
func (s *Store) InsertLock(ctx context.Context, lock *models.ResourceLock) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO resource_locks (`+lockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), lock.ID, lock.ResourceKey, lock.OwnerAgentID, lock.State,
		lock.CreatedAt, lock.ExpiresAt, lock.ReleasedAt)
	return err
}

// UpdateLock persists lock fields mutated by services.
func (s *Store) UpdateLock(ctx context.Context, lock *models.ResourceLock) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE resource_locks SET state = ?, expires_at = ?, released_at = ? WHERE id = ?
	`), lock.State, lock.ExpiresAt, lock.ReleasedAt, lock.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNoRows
	}
	return nil
}

// GetLock retrieves a lock by id.
func (s *Store) GetLock(ctx context.Context, id string) (*models.ResourceLock, error) {
	var lock models.ResourceLock
	err := s.ro.GetContext(ctx, &lock, s.ro.Rebind(`
		SELECT `+lockColumns+` FROM resource_locks WHERE id = ?
	`), id)
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// ListActiveLocks returns locks with state=active ordered by created_at
// desc, optionally filtered by owner and/or resource key. Lease expiry is
// judged by callers against the loaded rows.
func (s *Store) ListActiveLocks(ctx context.Context, ownerAgentID, resourceKey string) ([]*models.ResourceLock, error) {
	query := `SELECT ` + lockColumns + ` FROM resource_locks WHERE state = ?`
	args := []any{models.LeaseStateActive}
	if ownerAgentID != "" {
		query += ` AND owner_agent_id = ?`
		args = append(args, ownerAgentID)
	}
	if resourceKey != "" {
		query += ` AND resource_key = ?`
		args = append(args, resourceKey)
	}
	query += ` ORDER BY created_at DESC`

	var locks []*models.ResourceLock
	err := s.ro.SelectContext(ctx, &locks, s.ro.Rebind(query), args...)
	return locks, err
}
