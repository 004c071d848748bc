package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/repomesh/repomesh/internal/models"
)

const sessionColumns = `id, agent_id, status, current_task_id, last_heartbeat_at, expires_at`

// InsertSession persists a new agent session.
func (s *Store) InsertSession(ctx context.Context, session *models.AgentSession) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agent_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`), session.ID, session.AgentID, session.Status, session.CurrentTaskID,
		session.LastHeartbeatAt, session.ExpiresAt)
	return err
}

// UpdateSession persists session fields mutated by services.
func (s *Store) UpdateSession(ctx context.Context, session *models.AgentSession) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agent_sessions SET status = ?, current_task_id = ?, last_heartbeat_at = ?, expires_at = ?
		WHERE id = ?
	`), session.Status, session.CurrentTaskID, session.LastHeartbeatAt, session.ExpiresAt, session.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNoRows
	}
	return nil
}

// LatestSessionForAgent returns the agent's most recently heartbeaten
// session, or nil when the agent has none.
func (s *Store) LatestSessionForAgent(ctx context.Context, agentID string) (*models.AgentSession, error) {
	var session models.AgentSession
	err := s.ro.GetContext(ctx, &session, s.ro.Rebind(`
		SELECT `+sessionColumns+` FROM agent_sessions
		WHERE agent_id = ?
		ORDER BY last_heartbeat_at DESC LIMIT 1
	`), agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListActiveSessionsForAgent returns the agent's sessions with
// status=active, most recent heartbeat first. Expiry is judged by callers.
func (s *Store) ListActiveSessionsForAgent(ctx context.Context, agentID string) ([]*models.AgentSession, error) {
	var sessions []*models.AgentSession
	err := s.ro.SelectContext(ctx, &sessions, s.ro.Rebind(`
		SELECT `+sessionColumns+` FROM agent_sessions
		WHERE agent_id = ? AND status = ?
		ORDER BY last_heartbeat_at DESC
	`), agentID, models.SessionStatusActive)
	return sessions, err
}

// ListActiveSessions returns every session with status=active.
func (s *Store) ListActiveSessions(ctx context.Context) ([]*models.AgentSession, error) {
	var sessions []*models.AgentSession
	err := s.ro.SelectContext(ctx, &sessions, s.ro.Rebind(`
		SELECT `+sessionColumns+` FROM agent_sessions WHERE status = ?
	`), models.SessionStatusActive)
	return sessions, err
}

// SetAgentStatus updates only the agent's status and updated_at.
func (s *Store) SetAgentStatus(ctx context.Context, agentID, status string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agents SET status = ?, updated_at = ? WHERE id = ?
	`), status, now, agentID)
	return err
}
