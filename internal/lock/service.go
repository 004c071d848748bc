// Package lock implements leased exclusive resource locks. A resource key
// is an opaque string namespace; at most one lock per key is active at any
// instant, and expired leases are swept lazily on every operation.
package lock

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
	store *store.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewService(st *store.Store, log *logger.Logger) *Service {
	return &Service{store: st, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// SetNow overrides the clock. Used by tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// expireStale marks active locks whose lease has lapsed as expired.
// resourceKey narrows the sweep when non-empty.
func (s *Service) expireStale(ctx context.Context, resourceKey string) error {
	now := s.now()
	locks, err := s.store.ListActiveLocks(ctx, "", resourceKey)
	if err != nil {
		return err
	}
	for _, lock := range locks {
		if lock.ExpiresAt.Before(now) {
			lock.State = models.LeaseStateExpired
			if err := s.store.UpdateLock(ctx, lock); err != nil {
				return err
			}
			s.log.Debug("expired stale lock",
				zap.String("lock_id", lock.ID),
				zap.String("resource_key", lock.ResourceKey))
		}
	}
	return nil
}

// Acquire takes or extends the lock on resourceKey for agentID. If another
// agent holds a live lease the call fails with CONFLICT. Re-acquiring an
// owned lock extends its lease in place.
func (s *Service) Acquire(ctx context.Context, resourceKey, agentID string, ttl time.Duration) (*models.ResourceLock, error) {
	if resourceKey == "" {
		return nil, apperrors.Validation("resource_key is required")
	}
	if agentID == "" {
		return nil, apperrors.Validation("agent_id is required")
	}
	if err := s.expireStale(ctx, resourceKey); err != nil {
		return nil, apperrors.Internal("failed to sweep stale locks", err)
	}

	now := s.now()
	active, err := s.store.ListActiveLocks(ctx, "", resourceKey)
	if err != nil {
		return nil, apperrors.Internal("failed to load locks", err)
	}
	live := active[:0]
	for _, lock := range active {
		if !lock.ExpiresAt.Before(now) {
			live = append(live, lock)
		}
	}

	for _, lock := range live {
		if lock.OwnerAgentID != agentID {
			return nil, apperrors.Conflict("Resource already locked")
		}
	}

	if len(live) > 0 {
		lock := live[0]
		lock.ExpiresAt = now.Add(ttl)
		if err := s.store.UpdateLock(ctx, lock); err != nil {
			return nil, apperrors.Internal("failed to extend lock", err)
		}
		return lock, nil
	}

	lock := &models.ResourceLock{
		ID:           uuid.NewString(),
		ResourceKey:  resourceKey,
		OwnerAgentID: agentID,
		State:        models.LeaseStateActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := s.store.InsertLock(ctx, lock); err != nil {
		return nil, apperrors.Internal("failed to create lock", err)
	}
	return lock, nil
}

// Renew extends the lease of an active lock the agent owns.
func (s *Service) Renew(ctx context.Context, lockID, agentID string, ttl time.Duration) (*models.ResourceLock, error) {
	lock, err := s.getLock(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if lock.OwnerAgentID != agentID {
		return nil, apperrors.Conflict("Lock owner mismatch")
	}
	if lock.State != models.LeaseStateActive {
		return nil, apperrors.Conflict("Lock is not active")
	}
	lock.ExpiresAt = s.now().Add(ttl)
	if err := s.store.UpdateLock(ctx, lock); err != nil {
		return nil, apperrors.Internal("failed to renew lock", err)
	}
	return lock, nil
}

// Release releases a lock the agent owns. Releasing an expired lock is
// allowed; the terminal state records the explicit release.
func (s *Service) Release(ctx context.Context, lockID, agentID string) (*models.ResourceLock, error) {
	lock, err := s.getLock(ctx, lockID)
	if err != nil {
		return nil, err
	}
	if lock.OwnerAgentID != agentID {
		return nil, apperrors.Conflict("Lock owner mismatch")
	}
	now := s.now()
	lock.State = models.LeaseStateReleased
	lock.ReleasedAt = &now
	if err := s.store.UpdateLock(ctx, lock); err != nil {
		return nil, apperrors.Internal("failed to release lock", err)
	}
	return lock, nil
}

// ActiveFor sweeps stale leases then returns active locks, optionally
// filtered by owner and/or resource key, newest first.
func (s *Service) ActiveFor(ctx context.Context, agentID, resourceKey string) ([]*models.ResourceLock, error) {
	if err := s.expireStale(ctx, resourceKey); err != nil {
		return nil, apperrors.Internal("failed to sweep stale locks", err)
	}
	locks, err := s.store.ListActiveLocks(ctx, agentID, resourceKey)
	if err != nil {
		return nil, apperrors.Internal("failed to list locks", err)
	}
	return locks, nil
}

func (s *Service) getLock(ctx context.Context, lockID string) (*models.ResourceLock, error) {
	lock, err := s.store.GetLock(ctx, lockID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Lock not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load lock", err)
	}
	return lock, nil
}
