// Package orchestrator implements the routing loop: it sweeps stale
// sessions and claims, then assigns pending and stalled tasks to fresh
// workers under a singleton orchestrator agent identity.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/repomesh/repomesh/internal/agent"
	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/routing"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/task"
)

// AgentName is the singleton identity the engine registers under.
const AgentName = "repomesh-orchestrator"

// AgentType marks orchestrator identities; workers of this type are never
// assignment targets.
const AgentType = "orchestrator"

// DefaultLeaseTTL is the claim lease the engine takes on behalf of workers.
const DefaultLeaseTTL = 600 * time.Second

// AssignmentChannel carries assignment events.
const AssignmentChannel = "orchestration"

// Assignment records one task handed to a worker during a cycle.
type Assignment struct {
	TaskID      string           `json:"task_id"`
	ClaimID     string           `json:"claim_id"`
	AgentID     string           `json:"agent_id"`
	AgentName   string           `json:"agent_name"`
	ResourceKey string           `json:"resource_key"`
	Route       routing.Decision `json:"route"`
}

// CycleResult summarizes one engine cycle.
type CycleResult struct {
	OrchestratorAgentID string       `json:"orchestrator_agent_id"`
	StaleSessions       int          `json:"stale_sessions"`
	StaleClaims         int          `json:"stale_claims"`
	Assignments         []Assignment `json:"assignments"`
}

type Engine struct {
	store    *store.Store
	agents   *agent.Service
	tasks    *task.Service
	events   *event.Service
	routing  *routing.Policy
	log      *logger.Logger
	leaseTTL time.Duration
	now      func() time.Time
}

func NewEngine(st *store.Store, agents *agent.Service, tasks *task.Service, events *event.Service, log *logger.Logger) *Engine {
	return &Engine{
		store:    st,
		agents:   agents,
		tasks:    tasks,
		events:   events,
		routing:  routing.NewPolicy(),
		log:      log,
		leaseTTL: DefaultLeaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock. Used by tests.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// EnsureAgent registers (or takes over) the singleton orchestrator identity.
func (e *Engine) EnsureAgent(ctx context.Context) (*models.Agent, error) {
	return e.agents.Register(ctx, agent.RegisterInput{
		Name: AgentName,
		Type: AgentType,
		Capabilities: map[string]any{
			"auto_claim":   true,
			"event_driven": true,
			"role":         "supervisor",
		},
		ReuseExisting:   true,
		TakeoverIfStale: true,
	})
}

// RunOnce performs one full cycle: heartbeat, sweeps, then assignment of up
// to maxAssignments pending/stalled tasks.
func (e *Engine) RunOnce(ctx context.Context, maxAssignments int) (*CycleResult, error) {
	orch, err := e.EnsureAgent(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := e.agents.Heartbeat(ctx, orch.ID, models.AgentStatusActive, nil); err != nil {
		return nil, err
	}
	staleSessions, err := e.agents.MarkStaleSessions(ctx)
	if err != nil {
		return nil, err
	}
	staleClaims, err := e.tasks.ExpireStaleClaims(ctx, "")
	if err != nil {
		return nil, err
	}
	assignments, err := e.assignPendingTasks(ctx, orch.ID, maxAssignments)
	if err != nil {
		return nil, err
	}
	return &CycleResult{
		OrchestratorAgentID: orch.ID,
		StaleSessions:       staleSessions,
		StaleClaims:         staleClaims,
		Assignments:         assignments,
	}, nil
}

func (e *Engine) assignPendingTasks(ctx context.Context, orchestratorID string, maxAssignments int) ([]Assignment, error) {
	workers, err := e.activeWorkers(ctx, orchestratorID)
	if err != nil {
		return nil, err
	}
	assignments := []Assignment{}
	if len(workers) == 0 {
		return assignments, nil
	}

	tasks, err := e.store.ListTasksByStatuses(ctx,
		[]string{models.TaskStatusPending, models.TaskStatusStalled}, maxAssignments)
	if err != nil {
		return nil, apperrors.Internal("failed to list assignable tasks", err)
	}

	workerIdx := 0
	for _, t := range tasks {
		decision := e.routing.Decide(t)
		matching := make([]*models.Agent, 0, len(workers))
		for _, candidate := range workers {
			if e.routing.Supports(candidate, decision) {
				matching = append(matching, candidate)
			}
		}
		var worker *models.Agent
		if len(matching) > 0 {
			worker = matching[workerIdx%len(matching)]
		} else {
			worker = workers[workerIdx%len(workers)]
		}
		workerIdx++

		resourceKey := deriveResourceKey(t)
		claim, err := e.tasks.Claim(ctx, t.ID, worker.ID, resourceKey, e.leaseTTL)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeConflict) {
				continue
			}
			return nil, err
		}

		status := models.TaskStatusInProgress
		progress := 0
		if _, err := e.tasks.Update(ctx, t.ID, task.UpdateInput{Status: &status, Progress: &progress}); err != nil {
			return nil, err
		}

		if _, err := e.events.Log(ctx, event.LogInput{
			Type: "orchestrator.assignment",
			Payload: map[string]any{
				"task_id":          t.ID,
				"assigned_to":      worker.ID,
				"assigned_to_name": worker.Name,
				"resource_key":     resourceKey,
				"assigned_at":      e.now().Format(time.RFC3339Nano),
				"route": map[string]any{
					"tier":            decision.Tier,
					"adapter_profile": decision.AdapterProfile,
					"reason":          decision.Reason,
				},
			},
			Severity:    models.SeverityInfo,
			TaskID:      &t.ID,
			AgentID:     &orchestratorID,
			RepoID:      t.RepoID,
			RecipientID: &worker.ID,
			Channel:     AssignmentChannel,
		}); err != nil {
			return nil, err
		}

		e.log.Info("task assigned",
			zap.String("task_id", t.ID),
			zap.String("agent_id", worker.ID),
			zap.String("resource_key", resourceKey),
			zap.String("tier", decision.Tier))

		assignments = append(assignments, Assignment{
			TaskID:      t.ID,
			ClaimID:     claim.ID,
			AgentID:     worker.ID,
			AgentName:   worker.Name,
			ResourceKey: resourceKey,
			Route:       decision,
		})
	}
	return assignments, nil
}

// activeWorkers returns non-orchestrator agents with a heartbeat fresh
// within twice the session TTL, freshest first.
func (e *Engine) activeWorkers(ctx context.Context, excludeAgentID string) ([]*models.Agent, error) {
	agents, err := e.store.ListActiveAgents(ctx, AgentType)
	if err != nil {
		return nil, apperrors.Internal("failed to list workers", err)
	}
	cutoff := e.now().Add(-2 * e.agents.SessionTTL())
	workers := make([]*models.Agent, 0, len(agents))
	for _, candidate := range agents {
		if candidate.ID == excludeAgentID {
			continue
		}
		if candidate.LastHeartbeatAt == nil || candidate.LastHeartbeatAt.Before(cutoff) {
			continue
		}
		workers = append(workers, candidate)
	}
	return workers, nil
}

// deriveResourceKey picks the lock namespace for a task: an explicit
// scope.resource_key wins, then the first scoped file, then the component,
// then the task itself.
func deriveResourceKey(t *models.Task) string {
	scope := t.Scope
	if scope == nil {
		scope = map[string]any{}
	}
	if explicit, ok := scope["resource_key"].(string); ok && explicit != "" {
		return explicit
	}
	if files, ok := scope["files"].([]any); ok && len(files) > 0 {
		if first, ok := files[0].(string); ok && first != "" {
			return "file:" + first
		}
	}
	if component, ok := scope["component"].(string); ok && component != "" {
		return "component:" + component
	}
	return "task:" + t.ID
}
