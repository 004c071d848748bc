package adapter

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
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/stream"
	"github.com/repomesh/repomesh/internal/task"
)

type fixture struct {
	store   *store.Store
	tasks   *task.Service
	locks   *lock.Service
	events  *event.Service
	service *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	pool, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	st, err := store.New(pool)
	require.NoError(t, err)

	log := logger.Default()
	locks := lock.NewService(st, log)
	tasks := task.NewService(st, locks, log)
	events := event.NewService(st, stream.NewBroker())

	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = t.TempDir()
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = time.Minute
	}
	return &fixture{
		store:   st,
		tasks:   tasks,
		locks:   locks,
		events:  events,
		service: NewService(st, tasks, events, cfg, log),
	}
}

func (f *fixture) claimedTask(t *testing.T, agentID string, scope map[string]any) *models.Task {
	t.Helper()
	ctx := context.Background()
	created, err := f.tasks.Create(ctx, task.CreateInput{Goal: "run something", Priority: 3, Scope: scope})
	require.NoError(t, err)
	_, err = f.tasks.Claim(ctx, created.ID, agentID, "task:"+created.ID, time.Hour)
	require.NoError(t, err)
	return created
}

func (f *fixture) eventTypes(t *testing.T, taskID string) []string {
	t.Helper()
	events, err := f.events.List(context.Background(), store.EventFilter{TaskID: taskID})
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestExecuteDryRunPlans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	created := f.claimedTask(t, "agent-1", map[string]any{"command": "echo hello"})

	report, err := f.service.Execute(ctx, ExecuteInput{AgentID: "agent-1", DryRun: true})
	require.NoError(t, err)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, "planned", report.Executed[0].Status)
	assert.Equal(t, "echo hello", report.Executed[0].Command)

	assert.Contains(t, f.eventTypes(t, created.ID), "adapter.execution.planned")

	// A dry run leaves the task untouched.
	unchanged, err := f.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusClaimed, unchanged.Status)
}

func TestExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	created := f.claimedTask(t, "agent-1", map[string]any{"command": "make build"})

	f.service.SetRunner(func(ctx context.Context, command, cwd string, timeout time.Duration) *commandResult {
		return &commandResult{ExitCode: 0, Stdout: "line one\nline two", DurationMS: 42}
	})

	report, err := f.service.Execute(ctx, ExecuteInput{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, "completed", report.Executed[0].Status)

	done, err := f.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Summary)
	assert.Equal(t, "line one\nline two", *done.Summary)

	// Claim and lock were released on success.
	claims, err := f.store.ListActiveClaims(ctx, created.ID, "")
	require.NoError(t, err)
	assert.Empty(t, claims)
	locks, err := f.store.ListActiveLocks(ctx, "agent-1", "")
	require.NoError(t, err)
	assert.Empty(t, locks)

	artifacts, err := f.store.ListArtifactsForTask(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "execution_output", artifacts[0].Kind)
	assert.Equal(t, "task://"+created.ID+"/execution", artifacts[0].URI)

	types := f.eventTypes(t, created.ID)
	assert.Contains(t, types, "adapter.execution.started")
	assert.Contains(t, types, "adapter.hook.pre_execute")
	assert.Contains(t, types, "adapter.execution.completed")
}

func TestExecutePrepassRetrySuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	created := f.claimedTask(t, "agent-1", map[string]any{
		"command":          "go test ./...",
		"prepass_commands": []any{"gofmt -w ."},
	})

	mainRuns := 0
	f.service.SetRunner(func(ctx context.Context, command, cwd string, timeout time.Duration) *commandResult {
		if command == "go test ./..." {
			mainRuns++
			if mainRuns == 1 {
				return &commandResult{ExitCode: 1, Stderr: "syntax error"}
			}
			return &commandResult{ExitCode: 0, Stdout: "ok"}
		}
		return &commandResult{ExitCode: 0}
	})

	report, err := f.service.Execute(ctx, ExecuteInput{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, "completed", report.Executed[0].Status)
	assert.Equal(t, 2, mainRuns)
	require.NotNil(t, report.Executed[0].Prepass)
	assert.Equal(t, true, report.Executed[0].Prepass["ok"])

	types := f.eventTypes(t, created.ID)
	assert.Contains(t, types, "adapter.prepass.started")
	assert.Contains(t, types, "adapter.prepass.completed")
	assert.Contains(t, types, "adapter.execution.retried_success")
	assert.NotContains(t, types, "adapter.execution.failed")
}

func TestExecuteFailureBlocksTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	created := f.claimedTask(t, "agent-1", map[string]any{"command": "make build"})

	f.service.SetRunner(func(ctx context.Context, command, cwd string, timeout time.Duration) *commandResult {
		return &commandResult{ExitCode: 2, Stderr: "compile error"}
	})

	report, err := f.service.Execute(ctx, ExecuteInput{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, "failed", report.Executed[0].Status)
	require.NotNil(t, report.Executed[0].ExitCode)
	assert.Equal(t, 2, *report.Executed[0].ExitCode)

	blocked, err := f.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, blocked.Status)
	require.NotNil(t, blocked.BlockedReason)
	assert.Equal(t, "Execution failed (exit 2)", *blocked.BlockedReason)

	types := f.eventTypes(t, created.ID)
	assert.Contains(t, types, "adapter.execution.failed")
	assert.Contains(t, types, "adapter.hook.on_failure")
}

func TestExecuteTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	created := f.claimedTask(t, "agent-1", map[string]any{"command": "sleep 999", "timeout_seconds": 5})

	f.service.SetRunner(func(ctx context.Context, command, cwd string, timeout time.Duration) *commandResult {
		return &commandResult{ExitCode: -1, TimedOut: true}
	})

	report, err := f.service.Execute(ctx, ExecuteInput{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, "timeout", report.Executed[0].Status)
	assert.Equal(t, 5, report.Executed[0].TimeoutSeconds)

	blocked, err := f.tasks.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, blocked.Status)
	require.NotNil(t, blocked.BlockedReason)
	assert.Equal(t, "Execution timeout after 5s", *blocked.BlockedReason)
	assert.Contains(t, f.eventTypes(t, created.ID), "adapter.execution.timeout")
}

func TestExecuteSkipsTasksWithoutCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	created := f.claimedTask(t, "agent-1", nil)

	report, err := f.service.Execute(ctx, ExecuteInput{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Empty(t, report.Executed)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, created.ID, report.Skipped[0].TaskID)
	assert.Equal(t, "no command configured", report.Skipped[0].Reason)
}

func TestExecuteRejectsEscapedCwd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.claimedTask(t, "agent-1", map[string]any{"command": "ls", "cwd": "../.."})

	_, err := f.service.Execute(ctx, ExecuteInput{AgentID: "agent-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))
}

func TestExecuteEnforcesAllowlist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{AllowedCommands: []string{"go ", "make"}})
	f.claimedTask(t, "agent-1", map[string]any{"command": "curl http://example.com"})

	_, err := f.service.Execute(ctx, ExecuteInput{AgentID: "agent-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))

	allowed := newFixture(t, Config{AllowedCommands: []string{"go ", "make"}})
	allowed.claimedTask(t, "agent-1", map[string]any{"command": "make build"})
	allowed.service.SetRunner(func(ctx context.Context, command, cwd string, timeout time.Duration) *commandResult {
		return &commandResult{ExitCode: 0}
	})
	report, err := allowed.service.Execute(ctx, ExecuteInput{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Len(t, report.Executed, 1)
}

func TestExecuteRequiresAgent(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.service.Execute(context.Background(), ExecuteInput{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidationError))
}
