package task

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
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
)

type fixture struct {
	store *store.Store
	locks *lock.Service
	tasks *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	st, err := store.New(pool)
	require.NoError(t, err)

	log := logger.Default()
	locks := lock.NewService(st, log)
	return &fixture{store: st, locks: locks, tasks: NewService(st, locks, log)}
}

func (f *fixture) setNow(now func() time.Time) {
	f.locks.SetNow(now)
	f.tasks.SetNow(now)
}

func TestCreateDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.tasks.Create(ctx, CreateInput{Goal: "run the tests", Priority: 3})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.NotNil(t, task.Scope)

	_, err = f.tasks.Create(ctx, CreateInput{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))
}

func TestClaimAutoAcquiresLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.tasks.Create(ctx, CreateInput{Goal: "fix parser", Priority: 3})
	require.NoError(t, err)

	claim, err := f.tasks.Claim(ctx, task.ID, "agent-1", "file:parser.go", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStateActive, claim.State)
	assert.Equal(t, 1800, claim.LeaseTTLSeconds)

	locks, err := f.locks.ActiveFor(ctx, "agent-1", "file:parser.go")
	require.NoError(t, err)
	require.Len(t, locks, 1)

	updated, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusClaimed, updated.Status)
	require.NotNil(t, updated.AssigneeAgentID)
	assert.Equal(t, "agent-1", *updated.AssigneeAgentID)
}

func TestClaimConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.tasks.Create(ctx, CreateInput{Goal: "fix parser", Priority: 3})
	require.NoError(t, err)

	_, err = f.tasks.Claim(ctx, task.ID, "agent-1", "file:parser.go", 30*time.Minute)
	require.NoError(t, err)

	// The live claim blocks other agents even on a free resource key.
	_, err = f.tasks.Claim(ctx, task.ID, "agent-2", "file:other.go", 30*time.Minute)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	// Re-claiming by the holder stacks a fresh lease.
	_, err = f.tasks.Claim(ctx, task.ID, "agent-1", "file:parser.go", 30*time.Minute)
	require.NoError(t, err)
}

func TestClaimCompletedTaskConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.tasks.Create(ctx, CreateInput{Goal: "done already", Priority: 3})
	require.NoError(t, err)
	completed := models.TaskStatusCompleted
	_, err = f.tasks.Update(ctx, task.ID, UpdateInput{Status: &completed})
	require.NoError(t, err)

	_, err = f.tasks.Claim(ctx, task.ID, "agent-1", "file:x.go", time.Minute)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))
}

func TestStaleClaimExpiryStallsTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.setNow(func() time.Time { return base })

	task, err := f.tasks.Create(ctx, CreateInput{Goal: "slow work", Priority: 3})
	require.NoError(t, err)
	_, err = f.tasks.Claim(ctx, task.ID, "agent-1", "file:slow.go", time.Minute)
	require.NoError(t, err)

	f.setNow(func() time.Time { return base.Add(2 * time.Minute) })

	expired, err := f.tasks.ExpireStaleClaims(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stalled, err := f.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusStalled, stalled.Status)

	// A stalled task is claimable again.
	_, err = f.tasks.Claim(ctx, task.ID, "agent-2", "file:slow.go", time.Minute)
	require.NoError(t, err)
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.tasks.Create(ctx, CreateInput{Goal: "validate me", Priority: 3})
	require.NoError(t, err)

	bogus := "sleeping"
	_, err = f.tasks.Update(ctx, task.ID, UpdateInput{Status: &bogus})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))

	tooMuch := 150
	_, err = f.tasks.Update(ctx, task.ID, UpdateInput{Progress: &tooMuch})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))

	status := models.TaskStatusInProgress
	progress := 40
	summary := "halfway there"
	updated, err := f.tasks.Update(ctx, task.ID, UpdateInput{Status: &status, Progress: &progress, Summary: &summary})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, updated.Status)
	assert.Equal(t, 40, updated.Progress)
	require.NotNil(t, updated.Summary)
	assert.Equal(t, "halfway there", *updated.Summary)

	_, err = f.tasks.Update(ctx, "missing", UpdateInput{Status: &status})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestListFiltersByScopeComponent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tasks.Create(ctx, CreateInput{
		Goal:     "api work",
		Priority: 3,
		Scope:    map[string]any{"component": "api"},
	})
	require.NoError(t, err)
	_, err = f.tasks.Create(ctx, CreateInput{
		Goal:     "ui work",
		Priority: 3,
		Scope:    map[string]any{"component": "ui"},
	})
	require.NoError(t, err)

	all, err := f.tasks.List(ctx, "", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	apiOnly, err := f.tasks.List(ctx, "", "api", "")
	require.NoError(t, err)
	require.Len(t, apiOnly, 1)
	assert.Equal(t, "api work", apiOnly[0].Goal)

	pending, err := f.tasks.List(ctx, models.TaskStatusPending, "", "")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestReleaseClaims(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.tasks.Create(ctx, CreateInput{Goal: "short job", Priority: 3})
	require.NoError(t, err)
	_, err = f.tasks.Claim(ctx, task.ID, "agent-1", "file:short.go", time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.tasks.ReleaseClaims(ctx, task.ID, "agent-1"))

	claims, err := f.store.ListActiveClaims(ctx, task.ID, "")
	require.NoError(t, err)
	assert.Empty(t, claims)
}
