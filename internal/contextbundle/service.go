// Package contextbundle assembles the working context handed to an agent
// for one task: the task itself, its scoped files, recent events, and the
// assignee's lock holdings.
package contextbundle

import (
	"context"
	"sort"
	"time"

	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/task"
)

// DefaultMode is the bundle shape when the caller names none.
const DefaultMode = "compact"

type Service struct {
	tasks  *task.Service
	events *event.Service
	locks  *lock.Service
}

func NewService(tasks *task.Service, events *event.Service, locks *lock.Service) *Service {
	return &Service{tasks: tasks, events: events, locks: locks}
}

// Bundle builds the context bundle for the task. includeRecent controls the
// recent-events section; mode is echoed through for the consumer.
func (s *Service) Bundle(ctx context.Context, taskID, mode string, includeRecent bool) (map[string]any, error) {
	if mode == "" {
		mode = DefaultMode
	}
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	scopeFiles := []string{}
	if files, ok := t.Scope["files"].([]any); ok {
		for _, item := range files {
			if file, ok := item.(string); ok {
				scopeFiles = append(scopeFiles, file)
			}
		}
	}
	sort.Strings(scopeFiles)

	recentEvents := []map[string]any{}
	if includeRecent {
		events, err := s.events.List(ctx, store.EventFilter{
			TaskID:     taskID,
			Descending: true,
			Limit:      20,
		})
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			recentEvents = append(recentEvents, map[string]any{
				"id":         e.ID,
				"type":       e.Type,
				"severity":   e.Severity,
				"payload":    e.Payload,
				"created_at": e.CreatedAt.Format(time.RFC3339Nano),
			})
		}
	}

	lockStatus := []map[string]any{}
	if t.AssigneeAgentID != nil {
		locks, err := s.locks.ActiveFor(ctx, *t.AssigneeAgentID, "")
		if err != nil {
			return nil, err
		}
		for _, l := range locks {
			lockStatus = append(lockStatus, map[string]any{
				"id":             l.ID,
				"resource_key":   l.ResourceKey,
				"owner_agent_id": l.OwnerAgentID,
				"state":          l.State,
				"expires_at":     l.ExpiresAt.Format(time.RFC3339Nano),
			})
		}
		sort.Slice(lockStatus, func(i, j int) bool {
			return lockStatus[i]["resource_key"].(string) < lockStatus[j]["resource_key"].(string)
		})
	}

	return map[string]any{
		"task": map[string]any{
			"id":                  t.ID,
			"goal":                t.Goal,
			"description":         t.Description,
			"status":              t.Status,
			"priority":            t.Priority,
			"acceptance_criteria": t.AcceptanceCriteria,
			"assignee_agent_id":   t.AssigneeAgentID,
			"progress":            t.Progress,
		},
		"scope_files":   scopeFiles,
		"recent_events": recentEvents,
		"lock_status":   lockStatus,
		"placeholders": map[string]any{
			"errors": map[string]any{"latest": []any{}, "note": "Error pipeline placeholder for MVP"},
			"tests":  map[string]any{"latest_runs": []any{}, "note": "Test pipeline placeholder for MVP"},
			"mode":   mode,
		},
	}, nil
}
