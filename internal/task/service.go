// Package task implements task lifecycle: creation, claiming under a
// resource lease, status updates, and lazy expiry of stale claims.
package task

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
)

type Service struct {
	store *store.Store
	locks *lock.Service
	log   *logger.Logger
	now   func() time.Time
}

func NewService(st *store.Store, locks *lock.Service, log *logger.Logger) *Service {
	return &Service{store: st, locks: locks, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// SetNow overrides the clock. Used by tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// CreateInput describes a new task.
type CreateInput struct {
	Goal               string
	Description        string
	Scope              map[string]any
	Priority           int
	AcceptanceCriteria *string
	RepoID             *string
}

// Create persists a new pending task.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Task, error) {
	if in.Goal == "" {
		return nil, apperrors.Validation("task goal is required")
	}
	scope := in.Scope
	if scope == nil {
		scope = map[string]any{}
	}
	now := s.now()
	task := &models.Task{
		ID:                 uuid.NewString(),
		RepoID:             in.RepoID,
		Goal:               in.Goal,
		Description:        in.Description,
		Scope:              scope,
		Priority:           in.Priority,
		Status:             models.TaskStatusPending,
		AcceptanceCriteria: in.AcceptanceCriteria,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, apperrors.Internal("failed to create task", err)
	}
	return task, nil
}

// List sweeps stale claims then returns tasks, newest first. scopeComponent
// matches scope.component; it is applied against the decoded scope map.
func (s *Service) List(ctx context.Context, status, scopeComponent, assignee string) ([]*models.Task, error) {
	if _, err := s.ExpireStaleClaims(ctx, ""); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, store.TaskListFilter{Status: status, Assignee: assignee})
	if err != nil {
		return nil, apperrors.Internal("failed to list tasks", err)
	}
	if scopeComponent == "" {
		return tasks, nil
	}
	filtered := tasks[:0]
	for _, task := range tasks {
		if component, _ := task.Scope["component"].(string); component == scopeComponent {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

// Get sweeps the task's stale claims then retrieves it.
func (s *Service) Get(ctx context.Context, taskID string) (*models.Task, error) {
	if _, err := s.ExpireStaleClaims(ctx, taskID); err != nil {
		return nil, err
	}
	return s.getTask(ctx, taskID)
}

// Claim leases the task to the agent. The agent must hold a live lock on
// resourceKey; one is auto-acquired when missing. A live claim held by
// another agent fails with CONFLICT; re-claiming by the same agent stacks a
// fresh lease.
func (s *Service) Claim(ctx context.Context, taskID, agentID, resourceKey string, leaseTTL time.Duration) (*models.TaskClaim, error) {
	now := s.now()
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusCompleted {
		return nil, apperrors.Conflict("Task already completed")
	}

	owned, err := s.store.ListActiveLocks(ctx, agentID, resourceKey)
	if err != nil {
		return nil, apperrors.Internal("failed to load locks", err)
	}
	haveLock := false
	for _, l := range owned {
		if !l.ExpiresAt.Before(now) {
			haveLock = true
			break
		}
	}
	if !haveLock {
		// Auto-acquire the requested resource lock for this claim to reduce
		// claim friction while preserving single-owner lock semantics.
		if _, err := s.locks.Acquire(ctx, resourceKey, agentID, leaseTTL); err != nil {
			return nil, err
		}
	}

	if _, err := s.ExpireStaleClaims(ctx, taskID); err != nil {
		return nil, err
	}
	active, err := s.store.ListActiveClaims(ctx, taskID, "")
	if err != nil {
		return nil, apperrors.Internal("failed to load claims", err)
	}
	for _, existing := range active {
		if existing.ExpiresAt.Before(now) {
			continue
		}
		if existing.AgentID != agentID {
			return nil, apperrors.Conflict("Task already claimed by another agent")
		}
	}

	claim := &models.TaskClaim{
		ID:              uuid.NewString(),
		TaskID:          taskID,
		AgentID:         agentID,
		ResourceKey:     resourceKey,
		LeaseTTLSeconds: int(leaseTTL / time.Second),
		State:           models.LeaseStateActive,
		ClaimedAt:       now,
		ExpiresAt:       now.Add(leaseTTL),
	}
	if err := s.store.InsertClaim(ctx, claim); err != nil {
		return nil, apperrors.Internal("failed to create claim", err)
	}

	task.Status = models.TaskStatusClaimed
	task.AssigneeAgentID = &agentID
	task.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, apperrors.Internal("failed to update task", err)
	}
	return claim, nil
}

// UpdateInput carries optional task mutations; nil fields are untouched.
type UpdateInput struct {
	Status        *string
	Progress      *int
	Summary       *string
	BlockedReason *string
}

// Update applies the given mutations to the task.
func (s *Service) Update(ctx context.Context, taskID string, in UpdateInput) (*models.Task, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if in.Status != nil {
		if !models.AllowedTaskStatuses[*in.Status] {
			return nil, apperrors.Validation("Invalid task status")
		}
		task.Status = *in.Status
	}
	if in.Progress != nil {
		if *in.Progress < 0 || *in.Progress > 100 {
			return nil, apperrors.Validation("Progress must be between 0 and 100")
		}
		task.Progress = *in.Progress
	}
	if in.Summary != nil {
		task.Summary = in.Summary
	}
	if in.BlockedReason != nil {
		task.BlockedReason = in.BlockedReason
	}
	task.UpdatedAt = s.now()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, apperrors.Internal("failed to update task", err)
	}
	return task, nil
}

// ExpireStaleClaims marks lapsed active claims as expired and moves their
// claimed/in_progress tasks to stalled. taskID narrows the sweep when
// non-empty. Returns the number of claims expired.
func (s *Service) ExpireStaleClaims(ctx context.Context, taskID string) (int, error) {
	now := s.now()
	claims, err := s.store.ListActiveClaims(ctx, taskID, "")
	if err != nil {
		return 0, apperrors.Internal("failed to load claims", err)
	}
	count := 0
	for _, claim := range claims {
		if !claim.ExpiresAt.Before(now) {
			continue
		}
		claim.State = models.LeaseStateExpired
		released := now
		claim.ReleasedAt = &released
		if err := s.store.UpdateClaim(ctx, claim); err != nil {
			return count, apperrors.Internal("failed to expire claim", err)
		}
		count++

		task, err := s.store.GetTask(ctx, claim.TaskID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return count, apperrors.Internal("failed to load task", err)
		}
		if task.Status == models.TaskStatusClaimed || task.Status == models.TaskStatusInProgress {
			task.Status = models.TaskStatusStalled
			task.UpdatedAt = now
			if err := s.store.UpdateTask(ctx, task); err != nil {
				return count, apperrors.Internal("failed to stall task", err)
			}
		}
	}
	if count > 0 {
		s.log.Debug("expired stale claims", zap.Int("count", count))
	}
	return count, nil
}

// ReleaseClaims releases the agent's active claims on the task. Used by the
// execution adapter after a successful run.
func (s *Service) ReleaseClaims(ctx context.Context, taskID, agentID string) error {
	claims, err := s.store.ListActiveClaims(ctx, taskID, agentID)
	if err != nil {
		return apperrors.Internal("failed to load claims", err)
	}
	now := s.now()
	for _, claim := range claims {
		claim.State = models.LeaseStateReleased
		released := now
		claim.ReleasedAt = &released
		if err := s.store.UpdateClaim(ctx, claim); err != nil {
			return apperrors.Internal("failed to release claim", err)
		}
	}
	return nil
}

func (s *Service) getTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Task not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load task", err)
	}
	return task, nil
}
