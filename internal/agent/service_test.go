package agent

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

const testSessionTTL = 2 * time.Minute

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	pool, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	st, err := store.New(pool)
	require.NoError(t, err)
	return NewService(st, logger.Default(), testSessionTTL), st
}

func TestRegisterOpensSession(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	a, err := svc.Register(ctx, RegisterInput{
		Name:         "worker-1",
		Type:         "codegen",
		Capabilities: map[string]any{"model_tiers": []any{"small"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, a.Status)
	require.NotNil(t, a.LastHeartbeatAt)

	sessions, err := st.ListActiveSessionsForAgent(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.SessionStatusActive, sessions[0].Status)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, RegisterInput{Type: "codegen"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))
	_, err = svc.Register(ctx, RegisterInput{Name: "worker-1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))
}

func TestRegisterReusesLiveIdentity(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	first, err := svc.Register(ctx, RegisterInput{Name: "worker-1", Type: "codegen", ReuseExisting: true})
	require.NoError(t, err)

	second, err := svc.Register(ctx, RegisterInput{
		Name:          "worker-1",
		Type:          "review",
		Capabilities:  map[string]any{"model_tiers": []any{"frontier"}},
		ReuseExisting: true,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "review", second.Type)

	// The live session was refreshed, not duplicated.
	sessions, err := st.ListActiveSessionsForAgent(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestRegisterTakesOverStaleSlot(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetNow(func() time.Time { return base })

	first, err := svc.Register(ctx, RegisterInput{Name: "worker-1", Type: "codegen", ReuseExisting: true})
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return base.Add(testSessionTTL + time.Minute) })

	second, err := svc.Register(ctx, RegisterInput{
		Name:            "worker-1",
		Type:            "codegen",
		ReuseExisting:   true,
		TakeoverIfStale: true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.AgentStatusActive, second.Status)

	sessions, err := st.ListActiveSessionsForAgent(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].ExpiresAt.After(base.Add(testSessionTTL)))
}

func TestRegisterWithoutTakeoverCreatesNewIdentity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetNow(func() time.Time { return base })

	first, err := svc.Register(ctx, RegisterInput{Name: "worker-1", Type: "codegen", ReuseExisting: true})
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return base.Add(testSessionTTL + time.Minute) })

	second, err := svc.Register(ctx, RegisterInput{Name: "worker-1", Type: "codegen", ReuseExisting: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestHeartbeatRefreshesSession(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetNow(func() time.Time { return base })

	a, err := svc.Register(ctx, RegisterInput{Name: "worker-1", Type: "codegen"})
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return base.Add(time.Minute) })
	taskID := "task-1"
	updated, err := svc.Heartbeat(ctx, a.ID, "busy", &taskID)
	require.NoError(t, err)
	assert.Equal(t, "busy", updated.Status)

	session, err := st.LatestSessionForAgent(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "busy", session.Status)
	require.NotNil(t, session.CurrentTaskID)
	assert.Equal(t, "task-1", *session.CurrentTaskID)
	assert.Equal(t, base.Add(time.Minute).Add(testSessionTTL), session.ExpiresAt.UTC())

	_, err = svc.Heartbeat(ctx, "missing", "active", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestMarkStaleSessionsDowngradesAgents(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetNow(func() time.Time { return base })

	a, err := svc.Register(ctx, RegisterInput{Name: "worker-1", Type: "codegen"})
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return base.Add(testSessionTTL + time.Second) })
	count, err := svc.MarkStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	downgraded, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusInactive, downgraded.Status)

	// Sweep is idempotent.
	count, err = svc.MarkStaleSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
