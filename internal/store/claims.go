package store

import (
	"context"

	"github.com/repomesh/repomesh/internal/models"
)

const claimColumns = `id, task_id, agent_id, resource_key, lease_ttl_seconds, state, claimed_at, expires_at, released_at`

// InsertClaim persists a new task claim.
func (s *Store) InsertClaim(ctx context.Context, claim *models.TaskClaim) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO task_claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), claim.ID, claim.TaskID, claim.AgentID, claim.ResourceKey, claim.LeaseTTLSeconds,
		claim.State, claim.ClaimedAt, claim.ExpiresAt, claim.ReleasedAt)
	return err
}

// UpdateClaim persists claim fields mutated by services.
func (s *Store) UpdateClaim(ctx context.Context, claim *models.TaskClaim) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE task_claims SET state = ?, expires_at = ?, released_at = ? WHERE id = ?
	`), claim.State, claim.ExpiresAt, claim.ReleasedAt, claim.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNoRows
	}
	return nil
}

// ListActiveClaims returns claims with state=active, optionally filtered by
// task and/or agent. Lease expiry is judged by callers.
func (s *Store) ListActiveClaims(ctx context.Context, taskID, agentID string) ([]*models.TaskClaim, error) {
	query := `SELECT ` + claimColumns + ` FROM task_claims WHERE state = ?`
	args := []any{models.LeaseStateActive}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY claimed_at DESC`

	var claims []*models.TaskClaim
	err := s.ro.SelectContext(ctx, &claims, s.ro.Rebind(query), args...)
	return claims, err
}
