package store

import (
	"context"
	"time"

	"github.com/repomesh/repomesh/internal/db/dialect"
	"github.com/repomesh/repomesh/internal/models"
)

const eventColumns = `id, repo_id, agent_id, task_id, recipient_id, parent_message_id,
	channel, type, severity, payload, created_at`

type eventRow struct {
	ID              string     `db:"id"`
	RepoID          *string    `db:"repo_id"`
	AgentID         *string    `db:"agent_id"`
	TaskID          *string    `db:"task_id"`
	RecipientID     *string    `db:"recipient_id"`
	ParentMessageID *string    `db:"parent_message_id"`
	Channel         string     `db:"channel"`
	Type            string     `db:"type"`
	Severity        string     `db:"severity"`
	Payload         string     `db:"payload"`
	CreatedAt       time.Time  `db:"created_at"`
}

func (r eventRow) toModel() *models.Event {
	return &models.Event{
		ID:              r.ID,
		RepoID:          r.RepoID,
		AgentID:         r.AgentID,
		TaskID:          r.TaskID,
		RecipientID:     r.RecipientID,
		ParentMessageID: r.ParentMessageID,
		Channel:         r.Channel,
		Type:            r.Type,
		Severity:        r.Severity,
		Payload:         unmarshalMap(r.Payload),
		CreatedAt:       r.CreatedAt,
	}
}

// InsertEvent appends an event to the log. Events are never updated.
func (s *Store) InsertEvent(ctx context.Context, event *models.Event) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), event.ID, event.RepoID, event.AgentID, event.TaskID, event.RecipientID,
		event.ParentMessageID, event.Channel, event.Type, event.Severity,
		marshalMap(event.Payload), event.CreatedAt)
	return err
}

// GetEvent retrieves an event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var row eventRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(`
		SELECT `+eventColumns+` FROM events WHERE id = ?
	`), id)
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// EventFilter narrows ListEvents results. Recipient addressing matches the
// recipient exactly, widened to broadcasts (recipient IS NULL) when
// IncludeBroadcast is set. Since/Before are strict bounds.
type EventFilter struct {
	RepoID           string
	TaskID           string
	AgentID          string
	Type             string
	Channel          string
	RecipientID      string
	IncludeBroadcast bool
	ParentMessageID  string
	PayloadContains  string
	Since            *time.Time
	Before           *time.Time
	Descending       bool
	Limit            int
}

// ListEvents returns events matching the filter, ordered by created_at.
func (s *Store) ListEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	args := []any{}
	if filter.RepoID != "" {
		query += ` AND repo_id = ?`
		args = append(args, filter.RepoID)
	}
	if filter.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.Channel != "" {
		query += ` AND channel = ?`
		args = append(args, filter.Channel)
	}
	if filter.RecipientID != "" {
		if filter.IncludeBroadcast {
			query += ` AND (recipient_id = ? OR recipient_id IS NULL)`
		} else {
			query += ` AND recipient_id = ?`
		}
		args = append(args, filter.RecipientID)
	}
	if filter.ParentMessageID != "" {
		query += ` AND parent_message_id = ?`
		args = append(args, filter.ParentMessageID)
	}
	if filter.PayloadContains != "" {
		query += ` AND ` + dialect.TextLike(s.ro.DriverName(), "payload")
		args = append(args, "%"+filter.PayloadContains+"%")
	}
	if filter.Since != nil {
		query += ` AND created_at > ?`
		args = append(args, *filter.Since)
	}
	if filter.Before != nil {
		query += ` AND created_at < ?`
		args = append(args, *filter.Before)
	}
	if filter.Descending {
		query += ` ORDER BY created_at DESC`
	} else {
		query += ` ORDER BY created_at ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []eventRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, err
	}
	return eventRowsToModels(rows), nil
}

// ListEventsByParents returns the direct children of the given events,
// oldest first. Used to walk a thread level by level.
func (s *Store) ListEventsByParents(ctx context.Context, parentIDs []string) ([]*models.Event, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	query, args, err := buildInQuery(`SELECT `+eventColumns+` FROM events WHERE parent_message_id IN (?)`, parentIDs)
	if err != nil {
		return nil, err
	}
	query += ` ORDER BY created_at ASC`

	var rows []eventRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), args...); err != nil {
		return nil, err
	}
	return eventRowsToModels(rows), nil
}

// HasEventOfType reports whether any event of the given type exists for the
// task.
func (s *Store) HasEventOfType(ctx context.Context, taskID, eventType string) (bool, error) {
	var count int
	err := s.ro.GetContext(ctx, &count, s.ro.Rebind(`
		SELECT COUNT(1) FROM events WHERE task_id = ? AND type = ?
	`), taskID, eventType)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountEventsForTask returns per-type and per-severity counts for the task.
func (s *Store) CountEventsForTask(ctx context.Context, taskID string) (total int, byType, bySeverity map[string]int, err error) {
	byType = map[string]int{}
	bySeverity = map[string]int{}

	rows, err := s.ro.QueryxContext(ctx, s.ro.Rebind(`
		SELECT type, severity FROM events WHERE task_id = ?
	`), taskID)
	if err != nil {
		return 0, nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var eventType, severity string
		if err := rows.Scan(&eventType, &severity); err != nil {
			return 0, nil, nil, err
		}
		total++
		byType[eventType]++
		bySeverity[severity]++
	}
	return total, byType, bySeverity, rows.Err()
}

func eventRowsToModels(rows []eventRow) []*models.Event {
	events := make([]*models.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events
}
