package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repomesh/repomesh/internal/agent"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/db"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/stream"
	"github.com/repomesh/repomesh/internal/task"
)

type fixture struct {
	store  *store.Store
	agents *agent.Service
	tasks  *task.Service
	locks  *lock.Service
	events *event.Service
	engine *Engine
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
	tasks := task.NewService(st, locks, log)
	agents := agent.NewService(st, log, 2*time.Minute)
	events := event.NewService(st, stream.NewBroker())
	return &fixture{
		store:  st,
		agents: agents,
		tasks:  tasks,
		locks:  locks,
		events: events,
		engine: NewEngine(st, agents, tasks, events, log),
	}
}

func (f *fixture) registerWorker(t *testing.T, name string, caps map[string]any) *models.Agent {
	t.Helper()
	worker, err := f.agents.Register(context.Background(), agent.RegisterInput{
		Name:            name,
		Type:            "codegen",
		Capabilities:    caps,
		ReuseExisting:   true,
		TakeoverIfStale: true,
	})
	require.NoError(t, err)
	return worker
}

func TestRunOnceWithoutWorkers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tasks.Create(ctx, task.CreateInput{Goal: "waiting work", Priority: 3})
	require.NoError(t, err)

	result, err := f.engine.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Assignments)
	assert.NotEmpty(t, result.OrchestratorAgentID)

	orch, err := f.agents.Get(ctx, result.OrchestratorAgentID)
	require.NoError(t, err)
	assert.Equal(t, AgentName, orch.Name)
	assert.Equal(t, AgentType, orch.Type)

	// The task stays pending until a worker shows up.
	pending, err := f.tasks.Get(ctx, pendingTaskID(t, f))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, pending.Status)
}

func pendingTaskID(t *testing.T, f *fixture) string {
	t.Helper()
	tasks, err := f.tasks.List(context.Background(), "", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	return tasks[0].ID
}

func TestRunOnceAssignsTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	worker := f.registerWorker(t, "worker-1", nil)
	created, err := f.tasks.Create(ctx, task.CreateInput{
		Goal:     "edit the parser",
		Priority: 3,
		Scope:    map[string]any{"files": []any{"parser.go", "lexer.go"}},
	})
	require.NoError(t, err)

	result, err := f.engine.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)

	assignment := result.Assignments[0]
	assert.Equal(t, created.ID, assignment.TaskID)
	assert.Equal(t, worker.ID, assignment.AgentID)
	assert.Equal(t, "file:parser.go", assignment.ResourceKey)
	assert.Equal(t, "small", assignment.Route.Tier)

	assigned, err := f.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, assigned.Status)
	require.NotNil(t, assigned.AssigneeAgentID)
	assert.Equal(t, worker.ID, *assigned.AssigneeAgentID)

	// Assignment event addressed to the worker on the orchestration channel.
	inbox, err := f.events.List(ctx, store.EventFilter{
		RecipientID: worker.ID,
		Channel:     AssignmentChannel,
	})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "orchestrator.assignment", inbox[0].Type)
	assert.Equal(t, worker.ID, inbox[0].Payload["assigned_to"])
	assert.Equal(t, "file:parser.go", inbox[0].Payload["resource_key"])
}

func TestRunOnceRoundRobin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.registerWorker(t, "worker-1", nil)
	f.registerWorker(t, "worker-2", nil)
	_, err := f.tasks.Create(ctx, task.CreateInput{Goal: "first", Priority: 3})
	require.NoError(t, err)
	_, err = f.tasks.Create(ctx, task.CreateInput{Goal: "second", Priority: 3})
	require.NoError(t, err)

	result, err := f.engine.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Len(t, result.Assignments, 2)
	assert.NotEqual(t, result.Assignments[0].AgentID, result.Assignments[1].AgentID)
}

func TestRunOnceSkipsLockedResource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.registerWorker(t, "worker-1", nil)
	_, err := f.locks.Acquire(ctx, "file:shared.go", "outsider", time.Hour)
	require.NoError(t, err)

	created, err := f.tasks.Create(ctx, task.CreateInput{
		Goal:     "contended work",
		Priority: 3,
		Scope:    map[string]any{"resource_key": "file:shared.go"},
	})
	require.NoError(t, err)

	result, err := f.engine.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Assignments)

	still, err := f.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, still.Status)
}

func TestRunOnceIgnoresStaleWorkers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.agents.SetNow(func() time.Time { return base })
	f.registerWorker(t, "worker-1", nil)

	// Past twice the session TTL the worker no longer counts as fresh.
	later := base.Add(5 * time.Minute)
	f.agents.SetNow(func() time.Time { return later })
	f.engine.SetNow(func() time.Time { return later })

	_, err := f.tasks.Create(ctx, task.CreateInput{Goal: "orphaned work", Priority: 3})
	require.NoError(t, err)

	result, err := f.engine.RunOnce(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Assignments)
}

func TestDeriveResourceKey(t *testing.T) {
	tests := []struct {
		name     string
		task     *models.Task
		expected string
	}{
		{
			"explicit resource key",
			&models.Task{ID: "t1", Scope: map[string]any{"resource_key": "component:db", "files": []any{"a.go"}}},
			"component:db",
		},
		{
			"first scoped file",
			&models.Task{ID: "t1", Scope: map[string]any{"files": []any{"a.go", "b.go"}}},
			"file:a.go",
		},
		{
			"component fallback",
			&models.Task{ID: "t1", Scope: map[string]any{"component": "api"}},
			"component:api",
		},
		{
			"task id fallback",
			&models.Task{ID: "t1"},
			"task:t1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, deriveResourceKey(tt.task))
		})
	}
}
