// Package adapter executes claimed tasks as confined shell commands. A
// failing command triggers a configured pre-pass (formatters, codegen) and
// one retry before the task is blocked for escalation.
package adapter

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/task"
)

// ExecutionChannel carries adapter lifecycle events.
const ExecutionChannel = "execution"

// Config confines what the adapter may run and where.
type Config struct {
	WorkspaceRoot   string
	AllowedCommands []string // command prefix allowlist; empty allows everything
	PrepassCommands []string // default pre-pass when the task scope has none
	DefaultTimeout  time.Duration
}

type Service struct {
	store  *store.Store
	tasks  *task.Service
	events *event.Service
	log    *logger.Logger
	cfg    Config
	now    func() time.Time

	// runCommand is swapped out by tests to avoid spawning real processes.
	runCommand func(ctx context.Context, command, cwd string, timeout time.Duration) *commandResult
}

func NewService(st *store.Store, tasks *task.Service, events *event.Service, cfg Config, log *logger.Logger) *Service {
	s := &Service{
		store:  st,
		tasks:  tasks,
		events: events,
		log:    log,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.runCommand = s.runShell
	return s
}

// SetNow overrides the clock. Used by tests.
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// SetRunner overrides command execution. Used by tests.
func (s *Service) SetRunner(run func(ctx context.Context, command, cwd string, timeout time.Duration) *commandResult) {
	s.runCommand = run
}

type commandResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMS int64
	TimedOut   bool
}

// TaskResult records the outcome of one task's execution attempt.
type TaskResult struct {
	TaskID         string         `json:"task_id"`
	Status         string         `json:"status"` // planned, completed, failed, timeout
	Command        string         `json:"command,omitempty"`
	Cwd            string         `json:"cwd,omitempty"`
	ExitCode       *int           `json:"exit_code,omitempty"`
	DurationMS     int64          `json:"duration_ms,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Prepass        map[string]any `json:"prepass,omitempty"`
}

// SkippedTask records a task the adapter could not plan.
type SkippedTask struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Report summarizes one Execute call.
type Report struct {
	AgentID         string        `json:"agent_id"`
	RequestedTaskID *string       `json:"requested_task_id"`
	DryRun          bool          `json:"dry_run"`
	Executed        []TaskResult  `json:"executed"`
	Skipped         []SkippedTask `json:"skipped"`
}

// ExecuteInput selects which of the agent's tasks to run.
type ExecuteInput struct {
	AgentID  string
	TaskID   string // optional: narrow to one task
	DryRun   bool
	MaxTasks int
}

// Execute runs the agent's claimed and in-progress tasks that carry a shell
// plan in their scope. DryRun only records the plan.
func (s *Service) Execute(ctx context.Context, in ExecuteInput) (*Report, error) {
	if in.AgentID == "" {
		return nil, apperrors.Validation("agent_id is required")
	}
	maxTasks := in.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 5
	}

	tasks, err := s.store.ListAssignedTasks(ctx, in.AgentID,
		[]string{models.TaskStatusClaimed, models.TaskStatusInProgress}, in.TaskID, maxTasks)
	if err != nil {
		return nil, apperrors.Internal("failed to list assigned tasks", err)
	}

	report := &Report{
		AgentID:  in.AgentID,
		DryRun:   in.DryRun,
		Executed: []TaskResult{},
		Skipped:  []SkippedTask{},
	}
	if in.TaskID != "" {
		report.RequestedTaskID = &in.TaskID
	}

	for _, t := range tasks {
		plan, err := s.extractExecPlan(t.Scope)
		if err != nil {
			return nil, err
		}
		if plan.Command == "" {
			report.Skipped = append(report.Skipped, SkippedTask{TaskID: t.ID, Reason: "no command configured"})
			continue
		}

		if in.DryRun {
			s.logEvent(ctx, t, in.AgentID, "adapter.execution.planned", models.SeverityInfo, map[string]any{
				"task_id":         t.ID,
				"command":         plan.Command,
				"cwd":             plan.Cwd,
				"timeout_seconds": int(plan.Timeout / time.Second),
			})
			report.Executed = append(report.Executed, TaskResult{
				TaskID: t.ID, Status: "planned", Command: plan.Command, Cwd: plan.Cwd,
			})
			continue
		}

		report.Executed = append(report.Executed, s.executeTask(ctx, t, in.AgentID, plan))
	}
	return report, nil
}

type execPlan struct {
	Command string
	Cwd     string
	Timeout time.Duration
}

func (s *Service) executeTask(ctx context.Context, t *models.Task, agentID string, plan execPlan) TaskResult {
	route := resolveRoute(t.Scope)
	started := s.now()
	timeoutSeconds := int(plan.Timeout / time.Second)

	s.logEvent(ctx, t, agentID, "adapter.execution.started", models.SeverityInfo, map[string]any{
		"task_id":         t.ID,
		"command":         plan.Command,
		"cwd":             plan.Cwd,
		"timeout_seconds": timeoutSeconds,
		"route":           route,
	})
	s.logEvent(ctx, t, agentID, "adapter.hook.pre_execute", models.SeverityInfo, map[string]any{
		"task_id": t.ID,
		"route":   route,
	})

	s.updateTask(ctx, t.ID, models.TaskStatusInProgress, 10, nil, nil)

	initial := s.runCommand(ctx, plan.Command, plan.Cwd, plan.Timeout)
	if initial.TimedOut {
		return s.markTimeout(ctx, t, agentID, timeoutSeconds)
	}
	if initial.ExitCode == 0 {
		return s.markSuccess(ctx, t, agentID, started, initial, "adapter.execution.completed", nil)
	}

	prepass := s.runPrepass(ctx, t, agentID, plan.Cwd)
	if applied, _ := prepass["applied"].(bool); applied {
		retry := s.runCommand(ctx, plan.Command, plan.Cwd, plan.Timeout)
		if retry.TimedOut {
			return s.markTimeout(ctx, t, agentID, timeoutSeconds)
		}
		if retry.ExitCode == 0 {
			return s.markSuccess(ctx, t, agentID, started, retry, "adapter.execution.retried_success", prepass)
		}
		initial = retry
	}

	blockedReason := "Execution failed (exit " + strconv.Itoa(initial.ExitCode) + ")"
	s.updateTask(ctx, t.ID, models.TaskStatusBlocked, 10, nil, &blockedReason)
	s.logEvent(ctx, t, agentID, "adapter.execution.failed", models.SeverityWarning, map[string]any{
		"task_id":        t.ID,
		"exit_code":      initial.ExitCode,
		"duration_ms":    initial.DurationMS,
		"stdout_preview": truncate(initial.Stdout, 1000),
		"stderr_preview": truncate(initial.Stderr, 2000),
		"prepass":        prepass,
	})
	s.logEvent(ctx, t, agentID, "adapter.hook.on_failure", models.SeverityWarning, map[string]any{
		"task_id":   t.ID,
		"next_step": "escalate_to_llm",
		"route":     route,
	})
	exitCode := initial.ExitCode
	return TaskResult{TaskID: t.ID, Status: "failed", ExitCode: &exitCode, DurationMS: initial.DurationMS}
}

func (s *Service) markTimeout(ctx context.Context, t *models.Task, agentID string, timeoutSeconds int) TaskResult {
	blockedReason := "Execution timeout after " + strconv.Itoa(timeoutSeconds) + "s"
	s.updateTask(ctx, t.ID, models.TaskStatusBlocked, 10, nil, &blockedReason)
	s.logEvent(ctx, t, agentID, "adapter.execution.timeout", models.SeverityWarning, map[string]any{
		"task_id":         t.ID,
		"timeout_seconds": timeoutSeconds,
	})
	return TaskResult{TaskID: t.ID, Status: "timeout", TimeoutSeconds: timeoutSeconds}
}

func (s *Service) markSuccess(ctx context.Context, t *models.Task, agentID string, started time.Time, result *commandResult, eventType string, prepass map[string]any) TaskResult {
	summary := summarizeOutput(result.Stdout)
	s.updateTask(ctx, t.ID, models.TaskStatusCompleted, 100, &summary, nil)
	s.releaseClaimsAndLocks(ctx, t.ID, agentID)
	s.writeArtifact(ctx, t.ID, result)

	finished := s.now()
	s.logEvent(ctx, t, agentID, eventType, models.SeverityInfo, map[string]any{
		"task_id":        t.ID,
		"exit_code":      result.ExitCode,
		"duration_ms":    result.DurationMS,
		"stdout_preview": truncate(result.Stdout, 2000),
		"stderr_preview": truncate(result.Stderr, 500),
		"started_at":     started.Format(time.RFC3339Nano),
		"finished_at":    finished.Format(time.RFC3339Nano),
	})
	exitCode := result.ExitCode
	return TaskResult{
		TaskID:     t.ID,
		Status:     "completed",
		ExitCode:   &exitCode,
		DurationMS: result.DurationMS,
		Prepass:    prepass,
	}
}

// runPrepass runs the task's (or the configured default) pre-pass commands,
// each with the default timeout, and reports whether all of them succeeded.
func (s *Service) runPrepass(ctx context.Context, t *models.Task, agentID, cwd string) map[string]any {
	commands := s.prepassCommands(t.Scope)
	if len(commands) == 0 {
		return map[string]any{"applied": false, "commands": []string{}}
	}

	s.logEvent(ctx, t, agentID, "adapter.prepass.started", models.SeverityInfo, map[string]any{
		"task_id":  t.ID,
		"commands": commands,
	})

	results := make([]map[string]any, 0, len(commands))
	allOK := true
	for _, command := range commands {
		result := s.runCommand(ctx, command, cwd, s.cfg.DefaultTimeout)
		entry := map[string]any{
			"command":     command,
			"exit_code":   result.ExitCode,
			"stdout":      result.Stdout,
			"stderr":      result.Stderr,
			"duration_ms": result.DurationMS,
		}
		if result.TimedOut {
			entry["exit_code"] = -1
			entry["stderr"] = "prepass timeout"
		}
		if entry["exit_code"] != 0 {
			allOK = false
		}
		results = append(results, entry)
	}

	eventType := "adapter.prepass.completed"
	severity := models.SeverityInfo
	if !allOK {
		eventType = "adapter.prepass.failed"
		severity = models.SeverityWarning
	}
	s.logEvent(ctx, t, agentID, eventType, severity, map[string]any{
		"task_id": t.ID,
		"results": results,
	})
	return map[string]any{"applied": true, "ok": allOK, "results": results, "commands": commands}
}

func (s *Service) extractExecPlan(scope map[string]any) (execPlan, error) {
	if scope == nil {
		scope = map[string]any{}
	}
	adapterCfg, _ := scope["adapter"].(map[string]any)

	command := stringField(adapterCfg, "command")
	if command == "" {
		command = stringField(scope, "command")
	}
	cwd := stringField(adapterCfg, "cwd")
	if cwd == "" {
		cwd = stringField(scope, "cwd")
	}
	if cwd == "" {
		cwd = "."
	}
	timeout := numberField(adapterCfg, "timeout_seconds")
	if timeout == 0 {
		timeout = numberField(scope, "timeout_seconds")
	}
	timeoutDur := s.cfg.DefaultTimeout
	if timeout > 0 {
		timeoutDur = time.Duration(timeout) * time.Second
	}

	resolvedCwd, err := s.resolveCwd(cwd)
	if err != nil {
		return execPlan{}, err
	}
	if command != "" {
		if err := s.validateCommand(command); err != nil {
			return execPlan{}, err
		}
	}
	return execPlan{Command: command, Cwd: resolvedCwd, Timeout: timeoutDur}, nil
}

// resolveCwd confines the working directory to the workspace root.
func (s *Service) resolveCwd(cwd string) (string, error) {
	root, err := filepath.Abs(s.cfg.WorkspaceRoot)
	if err != nil {
		return "", apperrors.Internal("failed to resolve workspace root", err)
	}
	target := cwd
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", apperrors.Validation("Adapter cwd must stay inside workspace root")
	}
	return target, nil
}

func (s *Service) validateCommand(command string) error {
	if len(s.cfg.AllowedCommands) == 0 {
		return nil
	}
	for _, prefix := range s.cfg.AllowedCommands {
		if strings.HasPrefix(command, prefix) {
			return nil
		}
	}
	return apperrors.Validation("Command not allowed by adapter allowlist")
}

func (s *Service) prepassCommands(scope map[string]any) []string {
	if scope == nil {
		scope = map[string]any{}
	}
	adapterCfg, _ := scope["adapter"].(map[string]any)

	explicit, ok := adapterCfg["prepass_commands"].([]any)
	if !ok {
		explicit, ok = scope["prepass_commands"].([]any)
	}
	if ok {
		commands := make([]string, 0, len(explicit))
		for _, item := range explicit {
			if command, ok := item.(string); ok && strings.TrimSpace(command) != "" {
				commands = append(commands, command)
			}
		}
		return commands
	}
	return s.cfg.PrepassCommands
}

func (s *Service) runShell(ctx context.Context, command, cwd string, timeout time.Duration) *commandResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	durationMS := time.Since(start).Milliseconds()

	result := &commandResult{
		Stdout:     strings.TrimSpace(stdout.String()),
		Stderr:     strings.TrimSpace(stderr.String()),
		DurationMS: durationMS,
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Stderr = err.Error()
		}
	}
	return result
}

// releaseClaimsAndLocks drops the agent's active claims on the task and the
// matching resource locks after a successful run.
func (s *Service) releaseClaimsAndLocks(ctx context.Context, taskID, agentID string) {
	claims, err := s.store.ListActiveClaims(ctx, taskID, agentID)
	if err != nil {
		s.log.Warn("failed to load claims for release", zap.Error(err))
		return
	}
	now := s.now()
	for _, claim := range claims {
		claim.State = models.LeaseStateReleased
		released := now
		claim.ReleasedAt = &released
		if err := s.store.UpdateClaim(ctx, claim); err != nil {
			s.log.Warn("failed to release claim", zap.String("claim_id", claim.ID), zap.Error(err))
			continue
		}
		locks, err := s.store.ListActiveLocks(ctx, agentID, claim.ResourceKey)
		if err != nil {
			s.log.Warn("failed to load locks for release", zap.Error(err))
			continue
		}
		for _, lock := range locks {
			lock.State = models.LeaseStateReleased
			lockReleased := now
			lock.ReleasedAt = &lockReleased
			if err := s.store.UpdateLock(ctx, lock); err != nil {
				s.log.Warn("failed to release lock", zap.String("lock_id", lock.ID), zap.Error(err))
			}
		}
	}
}

// writeArtifact records the execution output as a task artifact.
func (s *Service) writeArtifact(ctx context.Context, taskID string, result *commandResult) {
	artifact := &models.Artifact{
		ID:     uuid.NewString(),
		TaskID: taskID,
		Kind:   "execution_output",
		URI:    "task://" + taskID + "/execution",
		Metadata: map[string]any{
			"exit_code":      result.ExitCode,
			"duration_ms":    result.DurationMS,
			"stdout_preview": truncate(result.Stdout, 2000),
		},
		CreatedAt: s.now(),
	}
	if err := s.store.InsertArtifact(ctx, artifact); err != nil {
		s.log.Warn("failed to write artifact", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (s *Service) updateTask(ctx context.Context, taskID, status string, progress int, summary, blockedReason *string) {
	if _, err := s.tasks.Update(ctx, taskID, task.UpdateInput{
		Status:        &status,
		Progress:      &progress,
		Summary:       summary,
		BlockedReason: blockedReason,
	}); err != nil {
		s.log.Warn("failed to update task", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (s *Service) logEvent(ctx context.Context, t *models.Task, agentID, eventType, severity string, payload map[string]any) {
	if _, err := s.events.Log(ctx, event.LogInput{
		Type:     eventType,
		Payload:  payload,
		Severity: severity,
		TaskID:   &t.ID,
		AgentID:  &agentID,
		RepoID:   t.RepoID,
		Channel:  ExecutionChannel,
	}); err != nil {
		s.log.Warn("failed to log adapter event", zap.String("type", eventType), zap.Error(err))
	}
}

func resolveRoute(scope map[string]any) map[string]any {
	if scope == nil {
		scope = map[string]any{}
	}
	adapterCfg, _ := scope["adapter"].(map[string]any)
	tier := stringField(adapterCfg, "tier")
	if tier == "" {
		tier = stringField(scope, "tier")
	}
	if tier == "" {
		tier = "small"
	}
	profile := stringField(adapterCfg, "profile")
	if profile == "" {
		profile = stringField(scope, "adapter_profile")
	}
	if profile == "" {
		profile = "generic-shell"
	}
	return map[string]any{"tier": tier, "profile": profile}
}

// summarizeOutput compresses stdout to its first five lines, capped at 500
// characters.
func summarizeOutput(stdout string) string {
	if stdout == "" {
		return "Execution completed successfully"
	}
	lines := strings.Split(stdout, "\n")
	if len(lines) > 5 {
		lines = lines[:5]
	}
	summary := strings.TrimSpace(strings.Join(lines, "\n"))
	return truncate(summary, 500)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

