// Package store provides the SQL-backed repository for the RepoMesh entity
// model. All entity mutation goes through services that call into this
// package; each service method is its own transactional unit.
package store

import (
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/repomesh/repomesh/internal/db"
)

// Store provides relational storage operations over a writer/reader pool.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// New creates a Store over the given pool and initializes the schema.
func New(pool *db.Pool) (*Store, error) {
	s := &Store{db: pool.Writer(), ro: pool.Reader()}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS repos (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			root_path TEXT NOT NULL DEFAULT '',
			default_branch TEXT NOT NULL DEFAULT 'main',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			repo_id TEXT,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '{}',
			last_heartbeat_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_task_id TEXT,
			last_heartbeat_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			repo_id TEXT,
			goal TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT '{}',
			priority INTEGER NOT NULL DEFAULT 3,
			status TEXT NOT NULL,
			acceptance_criteria TEXT,
			assignee_agent_id TEXT,
			blocked_reason TEXT,
			progress INTEGER NOT NULL DEFAULT 0,
			summary TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_claims (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			resource_key TEXT NOT NULL,
			lease_ttl_seconds INTEGER NOT NULL,
			state TEXT NOT NULL,
			claimed_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			released_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS resource_locks (
			id TEXT PRIMARY KEY,
			resource_key TEXT NOT NULL,
			owner_agent_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			released_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			repo_id TEXT,
			agent_id TEXT,
			task_id TEXT,
			recipient_id TEXT,
			parent_message_id TEXT,
			channel TEXT NOT NULL DEFAULT 'default',
			type TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'info',
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			uri TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_name_repo ON agents(name, repo_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent_id ON agent_sessions(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_claims_task_id ON task_claims(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_resource_locks_resource_key ON resource_locks(resource_key)`,
		`CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_recipient_id ON events(recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_channel ON events(channel)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent_message_id ON events(parent_message_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// DriverName returns the underlying driver ("sqlite3" or "pgx").
func (s *Store) DriverName() string {
	return s.db.DriverName()
}

// buildInQuery expands an IN (?) clause for a slice of values.
func buildInQuery(query string, values []string) (string, []any, error) {
	return sqlx.In(query, values)
}

func marshalMap(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func unmarshalMap(raw string) map[string]any {
	m := map[string]any{}
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}
