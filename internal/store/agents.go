package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/repomesh/repomesh/internal/models"
)

// ErrNoRows is returned by Get* methods when the entity does not exist.
var ErrNoRows = sql.ErrNoRows

const agentColumns = `id, repo_id, name, type, status, capabilities, last_heartbeat_at, created_at, updated_at`

type agentRow struct {
	ID              string     `db:"id"`
	RepoID          *string    `db:"repo_id"`
	Name            string     `db:"name"`
	Type            string     `db:"type"`
	Status          string     `db:"status"`
	Capabilities    string     `db:"capabilities"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r agentRow) toModel() *models.Agent {
	return &models.Agent{
		ID:              r.ID,
		RepoID:          r.RepoID,
		Name:            r.Name,
		Type:            r.Type,
		Status:          r.Status,
		Capabilities:    unmarshalMap(r.Capabilities),
		LastHeartbeatAt: r.LastHeartbeatAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// InsertAgent persists a new agent.
func (s *Store) InsertAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), agent.ID, agent.RepoID, agent.Name, agent.Type, agent.Status,
		marshalMap(agent.Capabilities), agent.LastHeartbeatAt, agent.CreatedAt, agent.UpdatedAt)
	return err
}

// UpdateAgent persists agent fields mutated by services.
func (s *Store) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agents SET repo_id = ?, name = ?, type = ?, status = ?, capabilities = ?,
			last_heartbeat_at = ?, updated_at = ?
		WHERE id = ?
	`), agent.RepoID, agent.Name, agent.Type, agent.Status, marshalMap(agent.Capabilities),
		agent.LastHeartbeatAt, agent.UpdatedAt, agent.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNoRows
	}
	return nil
}

// GetAgent retrieves an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var row agentRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(`
		SELECT `+agentColumns+` FROM agents WHERE id = ?
	`), id)
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// FindAgentByName returns the most recently created agent with the given
// (name, repo_id) identity slot, or nil when none exists.
func (s *Store) FindAgentByName(ctx context.Context, name string, repoID *string) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE name = ?`
	args := []any{name}
	if repoID == nil {
		query += ` AND repo_id IS NULL`
	} else {
		query += ` AND repo_id = ?`
		args = append(args, *repoID)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var row agentRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// FindAgentByNameAnyRepo returns the most recently created agent with the
// given name regardless of repo scoping.
func (s *Store) FindAgentByNameAnyRepo(ctx context.Context, name string) (*models.Agent, error) {
	var row agentRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(`
		SELECT `+agentColumns+` FROM agents WHERE name = ? ORDER BY created_at DESC LIMIT 1
	`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// ListAgents returns agents ordered by created_at desc, optionally scoped
// to a repo.
func (s *Store) ListAgents(ctx context.Context, repoID *string) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	args := []any{}
	if repoID != nil {
		query += ` WHERE repo_id = ?`
		args = append(args, *repoID)
	}
	query += ` ORDER BY created_at DESC`

	var rows []agentRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, err
	}
	agents := make([]*models.Agent, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, row.toModel())
	}
	return agents, nil
}

// ListActiveAgents returns agents with status=active, optionally excluding
// a type (the orchestrator filters itself out of worker pools).
func (s *Store) ListActiveAgents(ctx context.Context, excludeType string) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE status = ?`
	args := []any{"active"}
	if excludeType != "" {
		query += ` AND type != ?`
		args = append(args, excludeType)
	}
	query += ` ORDER BY last_heartbeat_at DESC`

	var rows []agentRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, err
	}
	agents := make([]*models.Agent, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, row.toModel())
	}
	return agents, nil
}
