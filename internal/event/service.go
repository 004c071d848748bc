// Package event implements the append-only, addressable event log. Every
// logged event is also pushed to the live stream broker.
package event

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/stream"
)

// DefaultListLimit caps list queries when the caller gives no limit.
const DefaultListLimit = 100

// DefaultThreadLimit caps thread traversal.
const DefaultThreadLimit = 200

type Service struct {
	store  *store.Store
	broker *stream.Broker
	now    func() time.Time
}

func NewService(st *store.Store, broker *stream.Broker) *Service {
	return &Service{store: st, broker: broker, now: func() time.Time { return time.Now().UTC() }}
}

// SetNow overrides the clock. Used by tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// LogInput carries the addressing and payload of a new event. Channel
// defaults to "default" and Severity to "info" when empty.
type LogInput struct {
	Type            string
	Payload         map[string]any
	Severity        string
	TaskID          *string
	AgentID         *string
	RepoID          *string
	RecipientID     *string
	ParentMessageID *string
	Channel         string
}

// Log appends an event and publishes it to live subscribers.
func (s *Service) Log(ctx context.Context, in LogInput) (*models.Event, error) {
	if in.Type == "" {
		return nil, apperrors.Validation("event type is required")
	}
	severity := in.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}
	channel := in.Channel
	if channel == "" {
		channel = models.DefaultChannel
	}
	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	event := &models.Event{
		ID:              uuid.NewString(),
		RepoID:          in.RepoID,
		AgentID:         in.AgentID,
		TaskID:          in.TaskID,
		RecipientID:     in.RecipientID,
		ParentMessageID: in.ParentMessageID,
		Channel:         channel,
		Type:            in.Type,
		Severity:        severity,
		Payload:         payload,
		CreatedAt:       s.now(),
	}
	if err := s.store.InsertEvent(ctx, event); err != nil {
		return nil, apperrors.Internal("failed to log event", err)
	}
	s.broker.Publish(event)
	return event, nil
}

// Get retrieves a single event by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.store.GetEvent(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("event not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load event", err)
	}
	return event, nil
}

// List returns events matching the filter. Limit defaults to
// DefaultListLimit when unset.
func (s *Service) List(ctx context.Context, filter store.EventFilter) ([]*models.Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list events", err)
	}
	return events, nil
}

// Thread returns the root event plus every transitive reply, breadth-first
// and deduplicated, sorted chronologically. Unknown roots return an empty
// slice.
func (s *Service) Thread(ctx context.Context, messageID string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = DefaultThreadLimit
	}
	root, err := s.store.GetEvent(ctx, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return []*models.Event{}, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load event", err)
	}

	results := []*models.Event{root}
	seen := map[string]bool{root.ID: true}
	frontier := []string{root.ID}

	for len(frontier) > 0 && len(results) < limit {
		replies, err := s.store.ListEventsByParents(ctx, frontier)
		if err != nil {
			return nil, apperrors.Internal("failed to walk thread", err)
		}
		frontier = frontier[:0]
		for _, reply := range replies {
			if seen[reply.ID] {
				continue
			}
			seen[reply.ID] = true
			results = append(results, reply)
			frontier = append(frontier, reply.ID)
			if len(results) >= limit {
				break
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}
