// Package agent manages agent identities and their liveness sessions. The
// pair (name, repo_id) is a reusable identity slot: re-registration either
// refreshes the live session or takes the slot over once the previous
// session lapses.
package agent

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
)

type Service struct {
	store      *store.Store
	log        *logger.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

func NewService(st *store.Store, log *logger.Logger, sessionTTL time.Duration) *Service {
	return &Service{
		store:      st,
		log:        log,
		sessionTTL: sessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Used by tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// SessionTTL returns the configured session lease duration.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// RegisterInput describes a registration request.
type RegisterInput struct {
	Name            string
	Type            string
	Capabilities    map[string]any
	RepoID          *string
	ReuseExisting   bool
	TakeoverIfStale bool
}

// Register creates or reuses an agent identity and opens (or refreshes) its
// session. A live session on the identity is refreshed; a lapsed one lets
// the caller take the slot over when TakeoverIfStale is set.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Agent, error) {
	if in.Name == "" {
		return nil, apperrors.Validation("agent name is required")
	}
	if in.Type == "" {
		return nil, apperrors.Validation("agent type is required")
	}
	if _, err := s.MarkStaleSessions(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	caps := in.Capabilities
	if caps == nil {
		caps = map[string]any{}
	}

	existing, err := s.store.FindAgentByName(ctx, in.Name, in.RepoID)
	if err != nil {
		return nil, apperrors.Internal("failed to look up agent", err)
	}

	if existing != nil && in.ReuseExisting {
		active, err := s.liveSession(ctx, existing.ID, now)
		if err != nil {
			return nil, err
		}

		if active != nil {
			existing.Type = in.Type
			existing.Capabilities = caps
			existing.Status = models.AgentStatusActive
			existing.LastHeartbeatAt = &now
			existing.UpdatedAt = now
			if err := s.store.UpdateAgent(ctx, existing); err != nil {
				return nil, apperrors.Internal("failed to update agent", err)
			}
			active.LastHeartbeatAt = now
			active.ExpiresAt = now.Add(s.sessionTTL)
			if err := s.store.UpdateSession(ctx, active); err != nil {
				return nil, apperrors.Internal("failed to refresh session", err)
			}
			return existing, nil
		}

		if in.TakeoverIfStale {
			existing.Type = in.Type
			existing.Capabilities = caps
			existing.Status = models.AgentStatusActive
			existing.LastHeartbeatAt = &now
			existing.UpdatedAt = now
			if err := s.store.UpdateAgent(ctx, existing); err != nil {
				return nil, apperrors.Internal("failed to update agent", err)
			}
			if err := s.openSession(ctx, existing.ID, models.SessionStatusActive, nil, now); err != nil {
				return nil, err
			}
			s.log.Info("agent slot taken over",
				zap.String("agent_id", existing.ID),
				zap.String("name", existing.Name))
			return existing, nil
		}
	}

	agent := &models.Agent{
		ID:              uuid.NewString(),
		RepoID:          in.RepoID,
		Name:            in.Name,
		Type:            in.Type,
		Status:          models.AgentStatusActive,
		Capabilities:    caps,
		LastHeartbeatAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.InsertAgent(ctx, agent); err != nil {
		return nil, apperrors.Internal("failed to create agent", err)
	}
	if err := s.openSession(ctx, agent.ID, models.SessionStatusActive, nil, now); err != nil {
		return nil, err
	}
	return agent, nil
}

// Heartbeat refreshes the agent's liveness and its latest session, creating
// a session when none exists.
func (s *Service) Heartbeat(ctx context.Context, agentID, status string, currentTaskID *string) (*models.Agent, error) {
	agent, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	agent.Status = status
	agent.LastHeartbeatAt = &now
	agent.UpdatedAt = now
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, apperrors.Internal("failed to update agent", err)
	}

	session, err := s.store.LatestSessionForAgent(ctx, agentID)
	if err != nil {
		return nil, apperrors.Internal("failed to load session", err)
	}
	if session == nil {
		if err := s.openSession(ctx, agentID, status, currentTaskID, now); err != nil {
			return nil, err
		}
		return agent, nil
	}
	session.Status = status
	session.CurrentTaskID = currentTaskID
	session.LastHeartbeatAt = now
	session.ExpiresAt = now.Add(s.sessionTTL)
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, apperrors.Internal("failed to refresh session", err)
	}
	return agent, nil
}

// Get retrieves an agent by id.
func (s *Service) Get(ctx context.Context, agentID string) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Agent not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load agent", err)
	}
	return agent, nil
}

// List sweeps stale sessions then returns agents, optionally filtered by
// repo, newest first.
func (s *Service) List(ctx context.Context, repoID string) ([]*models.Agent, error) {
	if _, err := s.MarkStaleSessions(ctx); err != nil {
		return nil, err
	}
	var repoFilter *string
	if repoID != "" {
		repoFilter = &repoID
	}
	agents, err := s.store.ListAgents(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.Internal("failed to list agents", err)
	}
	return agents, nil
}

// MarkStaleSessions expires lapsed sessions and downgrades agents that no
// longer hold any live session to inactive. Returns the number of sessions
// expired.
func (s *Service) MarkStaleSessions(ctx context.Context) (int, error) {
	now := s.now()
	sessions, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, apperrors.Internal("failed to list sessions", err)
	}

	count := 0
	touched := map[string]bool{}
	for _, session := range sessions {
		if !session.ExpiresAt.Before(now) {
			continue
		}
		session.Status = models.SessionStatusStale
		if err := s.store.UpdateSession(ctx, session); err != nil {
			return count, apperrors.Internal("failed to expire session", err)
		}
		touched[session.AgentID] = true
		count++
	}

	for agentID := range touched {
		live, err := s.liveSession(ctx, agentID, now)
		if err != nil {
			return count, err
		}
		if live == nil {
			if err := s.store.SetAgentStatus(ctx, agentID, models.AgentStatusInactive, now); err != nil {
				return count, apperrors.Internal("failed to downgrade agent", err)
			}
		}
	}

	if count > 0 {
		s.log.Debug("expired stale sessions", zap.Int("count", count))
	}
	return count, nil
}

// liveSession returns the agent's freshest unexpired active session, nil
// when it has none.
func (s *Service) liveSession(ctx context.Context, agentID string, now time.Time) (*models.AgentSession, error) {
	sessions, err := s.store.ListActiveSessionsForAgent(ctx, agentID)
	if err != nil {
		return nil, apperrors.Internal("failed to load sessions", err)
	}
	for _, session := range sessions {
		if !session.ExpiresAt.Before(now) {
			return session, nil
		}
	}
	return nil, nil
}

func (s *Service) openSession(ctx context.Context, agentID, status string, currentTaskID *string, now time.Time) error {
	session := &models.AgentSession{
		ID:              uuid.NewString(),
		AgentID:         agentID,
		Status:          status,
		CurrentTaskID:   currentTaskID,
		LastHeartbeatAt: now,
		ExpiresAt:       now.Add(s.sessionTTL),
	}
	if err := s.store.InsertSession(ctx, session); err != nil {
		return apperrors.Internal("failed to create session", err)
	}
	return nil
}
