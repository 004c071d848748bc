package store

import (
	"context"
	"time"

	"github.com/repomesh/repomesh/internal/common/tracing"
	"github.com/repomesh/repomesh/internal/models"
)

const taskColumns = `id, repo_id, goal, description, scope, priority, status, acceptance_criteria,
	assignee_agent_id, blocked_reason, progress, summary, created_at, updated_at`

type taskRow struct {
	ID                 string    `db:"id"`
	RepoID             *string   `db:"repo_id"`
	Goal               string    `db:"goal"`
	Description        string    `db:"description"`
	Scope              string    `db:"scope"`
	Priority           int       `db:"priority"`
	Status             string    `db:"status"`
	AcceptanceCriteria *string   `db:"acceptance_criteria"`
	AssigneeAgentID    *string   `db:"assignee_agent_id"`
	BlockedReason      *string   `db:"blocked_reason"`
	Progress           int       `db:"progress"`
	Summary            *string   `db:"summary"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r taskRow) toModel() *models.Task {
	return &models.Task{
		ID:                 r.ID,
		RepoID:             r.RepoID,
		Goal:               r.Goal,
		Description:        r.Description,
		Scope:              unmarshalMap(r.Scope),
		Priority:           r.Priority,
		Status:             r.Status,
		AcceptanceCriteria: r.AcceptanceCriteria,
		AssigneeAgentID:    r.AssigneeAgentID,
		BlockedReason:      r.BlockedReason,
		Progress:           r.Progress,
		Summary:            r.Summary,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// InsertTask persists a new task.
func (s *Store) InsertTask(ctx context.Context, task *models.Task) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.RepoID, task.Goal, task.Description, marshalMap(task.Scope),
		task.Priority, task.Status, task.AcceptanceCriteria, task.AssigneeAgentID,
		task.BlockedReason, task.Progress, task.Summary, task.CreatedAt, task.UpdatedAt)
	return err
}

// UpdateTask persists task fields mutated by services.
func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE tasks SET repo_id = ?, goal = ?, description = ?, scope = ?, priority = ?,
			status = ?, acceptance_criteria = ?, assignee_agent_id = ?, blocked_reason = ?,
			progress = ?, summary = ?, updated_at = ?
		WHERE id = ?
	`), task.RepoID, task.Goal, task.Description, marshalMap(task.Scope), task.Priority,
		task.Status, task.AcceptanceCriteria, task.AssigneeAgentID, task.BlockedReason,
		task.Progress, task.Summary, task.UpdatedAt, task.ID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNoRows
	}
	return nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var row taskRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ?
	`), id)
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// TaskListFilter narrows ListTasks results.
type TaskListFilter struct {
	Status   string
	Assignee string
}

// ListTasks returns tasks ordered by created_at desc. Scope-component
// filtering happens in the service, against the decoded scope map.
func (s *Store) ListTasks(ctx context.Context, filter TaskListFilter) ([]*models.Task, error) {
	ctx, span := tracing.Tracer("repomesh-db").Start(ctx, "db.ListTasks")
	defer span.End()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Assignee != "" {
		query += ` AND assignee_agent_id = ?`
		args = append(args, filter.Assignee)
	}
	query += ` ORDER BY created_at DESC`

	var rows []taskRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, err
	}
	return taskRowsToModels(rows), nil
}

// ListTasksByStatuses returns tasks in any of the given statuses ordered by
// (priority desc, created_at asc), limited.
func (s *Store) ListTasksByStatuses(ctx context.Context, statuses []string, limit int) ([]*models.Task, error) {
	query, args, err := buildInQuery(`SELECT `+taskColumns+` FROM tasks WHERE status IN (?)`, statuses)
	if err != nil {
		return nil, err
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT ?`
	args = append(args, limit)

	var rows []taskRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, err
	}
	return taskRowsToModels(rows), nil
}

// ListAssignedTasks returns an agent's claimed/in-progress tasks ordered by
// (priority desc, created_at asc), optionally narrowed to one task id.
func (s *Store) ListAssignedTasks(ctx context.Context, agentID string, statuses []string, taskID string, limit int) ([]*models.Task, error) {
	query, args, err := buildInQuery(`SELECT `+taskColumns+` FROM tasks WHERE status IN (?)`, statuses)
	if err != nil {
		return nil, err
	}
	query += ` AND assignee_agent_id = ?`
	args = append(args, agentID)
	if taskID != "" {
		query += ` AND id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT ?`
	args = append(args, limit)

	var rows []taskRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, err
	}
	return taskRowsToModels(rows), nil
}

// ListCompletedTasks returns completed tasks ordered by updated_at desc.
func (s *Store) ListCompletedTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	var rows []taskRow
	err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE status = ?
		ORDER BY updated_at DESC LIMIT ?
	`), models.TaskStatusCompleted, limit)
	if err != nil {
		return nil, err
	}
	return taskRowsToModels(rows), nil
}

func taskRowsToModels(rows []taskRow) []*models.Task {
	tasks := make([]*models.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.toModel())
	}
	return tasks
}
