package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/db"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	pool, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	st, err := store.New(pool)
	require.NoError(t, err)
	return NewService(st, logger.Default())
}

func TestAcquireAndConflict(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	lock, err := svc.Acquire(ctx, "file:main.go", "agent-1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStateActive, lock.State)
	assert.Equal(t, "agent-1", lock.OwnerAgentID)

	_, err = svc.Acquire(ctx, "file:main.go", "agent-2", 30*time.Minute)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	// A different resource key is free.
	_, err = svc.Acquire(ctx, "file:other.go", "agent-2", 30*time.Minute)
	require.NoError(t, err)
}

func TestReacquireExtendsOwnLease(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetNow(func() time.Time { return base })

	first, err := svc.Acquire(ctx, "component:api", "agent-1", 10*time.Minute)
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return base.Add(5 * time.Minute) })
	second, err := svc.Acquire(ctx, "component:api", "agent-1", 10*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.ExpiresAt.After(first.CreatedAt.Add(10*time.Minute)))
}

func TestExpiredLockCanBeTaken(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetNow(func() time.Time { return base })

	stale, err := svc.Acquire(ctx, "file:main.go", "agent-1", time.Minute)
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return base.Add(2 * time.Minute) })
	fresh, err := svc.Acquire(ctx, "file:main.go", "agent-2", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, fresh.ID)
	assert.Equal(t, "agent-2", fresh.OwnerAgentID)

	// The lapsed lock was swept to expired.
	active, err := svc.ActiveFor(ctx, "agent-1", "file:main.go")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRenew(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	lock, err := svc.Acquire(ctx, "file:main.go", "agent-1", time.Minute)
	require.NoError(t, err)

	renewed, err := svc.Renew(ctx, lock.ID, "agent-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(lock.ExpiresAt))

	_, err = svc.Renew(ctx, lock.ID, "agent-2", time.Hour)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	_, err = svc.Renew(ctx, "missing", "agent-1", time.Hour)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestRenewReleasedLockConflicts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	lock, err := svc.Acquire(ctx, "file:main.go", "agent-1", time.Minute)
	require.NoError(t, err)
	_, err = svc.Release(ctx, lock.ID, "agent-1")
	require.NoError(t, err)

	_, err = svc.Renew(ctx, lock.ID, "agent-1", time.Hour)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	lock, err := svc.Acquire(ctx, "file:main.go", "agent-1", time.Minute)
	require.NoError(t, err)

	_, err = svc.Release(ctx, lock.ID, "agent-2")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	released, err := svc.Release(ctx, lock.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStateReleased, released.State)
	require.NotNil(t, released.ReleasedAt)

	active, err := svc.ActiveFor(ctx, "agent-1", "")
	require.NoError(t, err)
	assert.Empty(t, active)
}
