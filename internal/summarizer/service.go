// Package summarizer compresses completed tasks into a single summary.task
// event aggregating their event history. The pass is idempotent: a task that
// already carries a summary event is skipped.
package summarizer

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
)

// SummaryEventType marks the compression output event.
const SummaryEventType = "summary.task"

// SummaryChannel carries summary events.
const SummaryChannel = "summary"

// DefaultMaxEventsPerTask bounds how much history one summary aggregates.
const DefaultMaxEventsPerTask = 200

type Service struct {
	store  *store.Store
	events *event.Service
	log    *logger.Logger
}

func NewService(st *store.Store, events *event.Service, log *logger.Logger) *Service {
	return &Service{store: st, events: events, log: log}
}

// Compressed records one task folded into a summary event.
type Compressed struct {
	TaskID         string `json:"task_id"`
	SummaryEventID string `json:"summary_event_id"`
	EventCount     int    `json:"event_count"`
}

// Result summarizes one pass.
type Result struct {
	Compressed []Compressed `json:"compressed"`
	Count      int          `json:"count"`
}

// RunOnce summarizes up to maxTasks recently completed tasks that have
// event history but no summary yet.
func (s *Service) RunOnce(ctx context.Context, maxTasks int) (*Result, error) {
	if maxTasks <= 0 {
		maxTasks = 10
	}
	tasks, err := s.store.ListCompletedTasks(ctx, maxTasks)
	if err != nil {
		return nil, apperrors.Internal("failed to list completed tasks", err)
	}

	result := &Result{Compressed: []Compressed{}}
	for _, t := range tasks {
		done, err := s.store.HasEventOfType(ctx, t.ID, SummaryEventType)
		if err != nil {
			return nil, apperrors.Internal("failed to check summary state", err)
		}
		if done {
			continue
		}
		taskEvents, err := s.store.ListEvents(ctx, store.EventFilter{
			TaskID: t.ID,
			Limit:  DefaultMaxEventsPerTask,
		})
		if err != nil {
			return nil, apperrors.Internal("failed to load task events", err)
		}
		if len(taskEvents) == 0 {
			continue
		}

		summaryEvent, err := s.events.Log(ctx, event.LogInput{
			Type:     SummaryEventType,
			Payload:  summarizeTask(t, taskEvents),
			Severity: models.SeverityInfo,
			TaskID:   &t.ID,
			RepoID:   t.RepoID,
			Channel:  SummaryChannel,
		})
		if err != nil {
			return nil, err
		}
		s.log.Debug("task history compressed",
			zap.String("task_id", t.ID),
			zap.Int("event_count", len(taskEvents)))
		result.Compressed = append(result.Compressed, Compressed{
			TaskID:         t.ID,
			SummaryEventID: summaryEvent.ID,
			EventCount:     len(taskEvents),
		})
	}
	result.Count = len(result.Compressed)
	return result, nil
}

func summarizeTask(t *models.Task, taskEvents []*models.Event) map[string]any {
	typeCounts := map[string]int{}
	severityCounts := map[string]int{}
	for _, e := range taskEvents {
		typeCounts[e.Type]++
		severityCounts[e.Severity]++
	}

	tail := taskEvents
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	lastEvents := make([]map[string]any, 0, len(tail))
	for _, e := range tail {
		lastEvents = append(lastEvents, map[string]any{
			"id":         e.ID,
			"type":       e.Type,
			"severity":   e.Severity,
			"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	return map[string]any{
		"task": map[string]any{
			"id":       t.ID,
			"goal":     t.Goal,
			"priority": t.Priority,
		},
		"aggregate": map[string]any{
			"event_count":     len(taskEvents),
			"type_counts":     typeCounts,
			"severity_counts": severityCounts,
		},
		"last_events": lastEvents,
		"summary_text": "Task completed with " + strconv.Itoa(len(taskEvents)) +
			" events and " + strconv.Itoa(len(typeCounts)) + " unique event types.",
	}
}
