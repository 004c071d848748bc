// Package mcp exposes the RepoMesh operations as MCP tools over a JSON-RPC
// envelope, served on HTTP and stdio.
package mcp

import (
	"context"
	"time"

	"github.com/repomesh/repomesh/internal/adapter"
	"github.com/repomesh/repomesh/internal/agent"
	"github.com/repomesh/repomesh/internal/codetools"
	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/contextbundle"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/orchestrator"
	"github.com/repomesh/repomesh/internal/runtime"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/summarizer"
	"github.com/repomesh/repomesh/internal/task"
)

// Runtimes bundles the background supervisors for the status tools.
type Runtimes struct {
	Orchestrator *runtime.Supervisor
	Adapter      *runtime.Supervisor
	Summarizer   *runtime.Supervisor
}

// Service dispatches MCP tool calls to the underlying services.
type Service struct {
	store       *store.Store
	agents      *agent.Service
	tasks       *task.Service
	locks       *lock.Service
	events      *event.Service
	bundle      *contextbundle.Service
	engine      *orchestrator.Engine
	adapters    *adapter.Service
	summarizers *summarizer.Service
	codeTools   *codetools.Service
	runtimes    Runtimes

	adapterMaxTasksPerAgent int
}

type ServiceDeps struct {
	Store                   *store.Store
	Agents                  *agent.Service
	Tasks                   *task.Service
	Locks                   *lock.Service
	Events                  *event.Service
	Bundle                  *contextbundle.Service
	Engine                  *orchestrator.Engine
	Adapters                *adapter.Service
	Summarizers             *summarizer.Service
	CodeTools               *codetools.Service
	Runtimes                Runtimes
	AdapterMaxTasksPerAgent int
}

func NewService(deps ServiceDeps) *Service {
	maxPerAgent := deps.AdapterMaxTasksPerAgent
	if maxPerAgent <= 0 {
		maxPerAgent = 2
	}
	return &Service{
		store:                   deps.Store,
		agents:                  deps.Agents,
		tasks:                   deps.Tasks,
		locks:                   deps.Locks,
		events:                  deps.Events,
		bundle:                  deps.Bundle,
		engine:                  deps.Engine,
		adapters:                deps.Adapters,
		summarizers:             deps.Summarizers,
		codeTools:               deps.CodeTools,
		runtimes:                deps.Runtimes,
		adapterMaxTasksPerAgent: maxPerAgent,
	}
}

// Definitions returns the tool catalog.
func (s *Service) Definitions() []ToolDefinition {
	return ToolDefinitions
}

// Call dispatches one tool invocation by name.
func (s *Service) Call(ctx context.Context, toolName string, arguments map[string]any) (any, error) {
	args := Args(arguments)
	switch toolName {
	case "agent.register":
		a, err := s.agents.Register(ctx, agent.RegisterInput{
			Name:            args.Str("name"),
			Type:            args.Str("type"),
			Capabilities:    args.Map("capabilities"),
			RepoID:          args.OptStr("repo_id"),
			ReuseExisting:   args.Bool("reuse_existing", true),
			TakeoverIfStale: args.Bool("takeover_if_stale", true),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": a.ID, "name": a.Name, "type": a.Type, "status": a.Status}, nil

	case "agent.heartbeat":
		a, err := s.agents.Heartbeat(ctx, args.Str("agent_id"), args.Str("status"), args.OptStr("current_task"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": a.ID, "status": a.Status, "last_heartbeat_at": a.LastHeartbeatAt}, nil

	case "agent.list":
		agents, err := s.agents.List(ctx, args.Str("repo_id"))
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(agents))
		for _, a := range agents {
			items = append(items, map[string]any{"id": a.ID, "name": a.Name, "type": a.Type, "status": a.Status})
		}
		return map[string]any{"items": items}, nil

	case "task.create":
		t, err := s.tasks.Create(ctx, task.CreateInput{
			Goal:               args.Str("goal"),
			Description:        args.Str("description"),
			Scope:              args.Map("scope"),
			Priority:           args.Int("priority", 3),
			AcceptanceCriteria: args.OptStr("acceptance_criteria"),
			RepoID:             args.OptStr("repo_id"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": t.ID, "status": t.Status}, nil

	case "task.list":
		tasks, err := s.tasks.List(ctx, args.Str("status"), args.Str("scope"), args.Str("assignee"))
		if err != nil {
			return nil, err
		}
		items := make([]map[string]any, 0, len(tasks))
		for _, t := range tasks {
			items = append(items, map[string]any{
				"id": t.ID, "goal": t.Goal, "status": t.Status, "assignee_agent_id": t.AssigneeAgentID,
			})
		}
		return map[string]any{"items": items}, nil

	case "task.claim":
		leaseTTL := time.Duration(args.Int("lease_ttl", 1800)) * time.Second
		claim, err := s.tasks.Claim(ctx, args.Str("task_id"), args.Str("agent_id"), args.Str("resource_key"), leaseTTL)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"id": claim.ID, "task_id": claim.TaskID, "agent_id": claim.AgentID, "state": claim.State,
		}, nil

	case "task.update":
		t, err := s.tasks.Update(ctx, args.Str("task_id"), task.UpdateInput{
			Status:        args.OptStr("status"),
			Progress:      args.OptInt("progress"),
			Summary:       args.OptStr("summary"),
			BlockedReason: args.OptStr("blocked_reason"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": t.ID, "status": t.Status, "progress": t.Progress}, nil

	case "lock.acquire":
		ttl := time.Duration(args.Int("ttl", 1800)) * time.Second
		l, err := s.locks.Acquire(ctx, args.Str("resource_key"), args.Str("agent_id"), ttl)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"id": l.ID, "resource_key": l.ResourceKey, "state": l.State, "expires_at": l.ExpiresAt,
		}, nil

	case "lock.renew":
		ttl := time.Duration(args.Int("ttl", 1800)) * time.Second
		l, err := s.locks.Renew(ctx, args.Str("lock_id"), args.Str("agent_id"), ttl)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": l.ID, "state": l.State, "expires_at": l.ExpiresAt}, nil

	case "lock.release":
		l, err := s.locks.Release(ctx, args.Str("lock_id"), args.Str("agent_id"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": l.ID, "state": l.State, "released_at": l.ReleasedAt}, nil

	case "event.log":
		in, err := s.normalizeEventLogArgs(ctx, args)
		if err != nil {
			return nil, err
		}
		e, err := s.events.Log(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": e.ID, "type": e.Type, "severity": e.Severity}, nil

	case "event.list":
		return s.listEvents(ctx, args, "")

	case "event.inbox":
		recipient := args.Str("recipient_id")
		if recipient == "" {
			return nil, apperrors.Validation("recipient_id is required")
		}
		return s.listEvents(ctx, args, recipient)

	case "event.thread":
		events, err := s.events.Thread(ctx, args.Str("message_id"), args.Int("limit", 200))
		if err != nil {
			return nil, err
		}
		includePayload := args.Bool("include_payload", false)
		items := make([]map[string]any, 0, len(events))
		for _, e := range events {
			items = append(items, formatEvent(e, includePayload))
		}
		return map[string]any{"items": items, "count": len(events)}, nil

	case "context.bundle":
		return s.bundle.Bundle(ctx, args.Str("task_id"), args.Str("mode"), args.Bool("include_recent", true))

	case "orchestrator.tick":
		return s.engine.RunOnce(ctx, args.Int("max_assignments", 10))

	case "orchestrator.status":
		return s.runtimes.Orchestrator.Status(), nil

	case "adapter.execute":
		return s.adapters.Execute(ctx, adapter.ExecuteInput{
			AgentID:  args.Str("agent_id"),
			TaskID:   args.Str("task_id"),
			DryRun:   args.Bool("dry_run", false),
			MaxTasks: args.Int("max_tasks", 5),
		})

	case "adapter.tick":
		return s.adapterTick(ctx, args.Int("max_tasks_per_agent", s.adapterMaxTasksPerAgent))

	case "adapter.status":
		return s.runtimes.Adapter.Status(), nil

	case "file.skeleton":
		return s.codeTools.FileSkeleton(args.Str("file_path"))

	case "file.symbol_logic":
		return s.codeTools.SymbolLogic(args.Str("file_path"), args.Str("symbol_name"))

	case "file.search_replace":
		return s.codeTools.SearchReplace(args.Str("file_path"), args.Str("search"), args.Str("replace"), args.Int("expected_count", 1))

	case "summarizer.tick":
		return s.summarizers.RunOnce(ctx, args.Int("max_tasks", 10))

	case "summarizer.status":
		return s.runtimes.Summarizer.Status(), nil
	}

	return nil, apperrors.Validation("Unknown tool").WithDetails(map[string]any{"tool": toolName})
}

// adapterTick sweeps every active worker's claimed tasks once, the same
// cycle the adapter runtime runs on its poll interval.
func (s *Service) adapterTick(ctx context.Context, maxTasksPerAgent int) (any, error) {
	agents, err := s.store.ListActiveAgents(ctx, orchestrator.AgentType)
	if err != nil {
		return nil, apperrors.Internal("failed to list agents", err)
	}
	runs := []*adapter.Report{}
	for _, a := range agents {
		report, err := s.adapters.Execute(ctx, adapter.ExecuteInput{
			AgentID:  a.ID,
			MaxTasks: maxTasksPerAgent,
		})
		if err != nil {
			return nil, err
		}
		if len(report.Executed) > 0 {
			runs = append(runs, report)
		}
	}
	return map[string]any{"runs": runs}, nil
}

func (s *Service) listEvents(ctx context.Context, args Args, forceRecipient string) (any, error) {
	includePayload := args.Bool("include_payload", false)
	direction := args.Str("direction")
	if direction != "asc" && direction != "desc" {
		direction = "desc"
	}

	recipient := forceRecipient
	if recipient == "" {
		recipient = args.Str("recipient_id")
	}
	includeBroadcast := args.Bool("include_broadcast", forceRecipient != "")

	since, err := parseTime(args.Str("since"))
	if err != nil {
		return nil, err
	}
	before, err := parseTime(args.Str("before"))
	if err != nil {
		return nil, err
	}

	events, err := s.events.List(ctx, store.EventFilter{
		TaskID:           args.Str("task_id"),
		AgentID:          args.Str("agent_id"),
		Type:             args.Str("type"),
		RecipientID:      recipient,
		IncludeBroadcast: includeBroadcast,
		ParentMessageID:  args.Str("parent_message_id"),
		Channel:          args.Str("channel"),
		PayloadContains:  args.Str("payload_contains"),
		Since:            since,
		Before:           before,
		Descending:       direction == "desc",
		Limit:            args.Int("limit", 100),
	})
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(events))
	var latest *time.Time
	for _, e := range events {
		items = append(items, formatEvent(e, includePayload))
		if latest == nil || e.CreatedAt.After(*latest) {
			created := e.CreatedAt
			latest = &created
		}
	}
	var latestSeen any
	if latest != nil {
		latestSeen = latest.Format(time.RFC3339Nano)
	} else if since := args.Str("since"); since != "" {
		latestSeen = since
	}
	return map[string]any{"items": items, "count": len(events), "latest_seen_at": latestSeen}, nil
}

// normalizeEventLogArgs folds addressing fields that agents commonly place
// in the payload (to, reply_to) into the event columns, and resolves the
// recipient by agent id or name.
func (s *Service) normalizeEventLogArgs(ctx context.Context, args Args) (event.LogInput, error) {
	payload := args.Map("payload")

	recipientRef := args.Str("recipient_id")
	if recipientRef == "" {
		if ref, ok := payload["recipient_id"].(string); ok {
			recipientRef = ref
		}
	}
	if recipientRef == "" {
		if ref, ok := payload["to"].(string); ok {
			recipientRef = ref
		}
	}

	parent := args.OptStr("parent_message_id")
	if parent == nil {
		if ref, ok := payload["parent_message_id"].(string); ok && ref != "" {
			parent = &ref
		}
	}
	if parent == nil {
		if ref, ok := payload["reply_to"].(string); ok && ref != "" {
			parent = &ref
		}
	}

	channel := args.Str("channel")
	if channel == "" {
		if ref, ok := payload["channel"].(string); ok {
			channel = ref
		}
	}

	in := event.LogInput{
		Type:            args.Str("type"),
		Payload:         payload,
		Severity:        args.StrDefault("severity", models.SeverityInfo),
		TaskID:          args.OptStr("task_id"),
		AgentID:         args.OptStr("agent_id"),
		RepoID:          args.OptStr("repo_id"),
		ParentMessageID: parent,
		Channel:         channel,
	}
	if recipientRef != "" {
		resolved, err := s.resolveAgentRef(ctx, recipientRef, args.OptStr("repo_id"))
		if err != nil {
			return event.LogInput{}, err
		}
		in.RecipientID = &resolved
	}
	return in, nil
}

// resolveAgentRef accepts an agent id or name and returns the agent id.
func (s *Service) resolveAgentRef(ctx context.Context, reference string, repoID *string) (string, error) {
	if byID, err := s.store.GetAgent(ctx, reference); err == nil {
		return byID.ID, nil
	}

	var (
		byName *models.Agent
		err    error
	)
	if repoID != nil {
		byName, err = s.store.FindAgentByName(ctx, reference, repoID)
	} else {
		byName, err = s.store.FindAgentByNameAnyRepo(ctx, reference)
	}
	if err != nil {
		return "", apperrors.Internal("failed to resolve recipient", err)
	}
	if byName != nil {
		return byName.ID, nil
	}
	return "", apperrors.Validation("Unknown recipient reference").WithDetails(map[string]any{"reference": reference})
}

func formatEvent(e *models.Event, includePayload bool) map[string]any {
	item := map[string]any{
		"id":                e.ID,
		"type":              e.Type,
		"severity":          e.Severity,
		"task_id":           e.TaskID,
		"agent_id":          e.AgentID,
		"recipient_id":      e.RecipientID,
		"parent_message_id": e.ParentMessageID,
		"channel":           e.Channel,
		"created_at":        e.CreatedAt.Format(time.RFC3339Nano),
	}
	if includePayload {
		item["payload"] = e.Payload
	}
	return item
}

// parseTime accepts RFC 3339 timestamps, with a naive fallback treated as
// UTC.
func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		utc := t.UTC()
		return &utc, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", value); err == nil {
		utc := t.UTC()
		return &utc, nil
	}
	return nil, apperrors.Validation("Invalid datetime format. Use ISO-8601, for example 2026-02-23T00:00:00Z").
		WithDetails(map[string]any{"value": value})
}

// Args wraps loosely-typed tool arguments with accessor helpers.
type Args map[string]any

func (a Args) Str(key string) string {
	s, _ := a[key].(string)
	return s
}

func (a Args) StrDefault(key, fallback string) string {
	if s, ok := a[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func (a Args) OptStr(key string) *string {
	if s, ok := a[key].(string); ok {
		return &s
	}
	return nil
}

func (a Args) Int(key string, fallback int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func (a Args) OptInt(key string) *int {
	switch v := a[key].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		n := v
		return &n
	}
	return nil
}

func (a Args) Bool(key string, fallback bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return fallback
}

func (a Args) Map(key string) map[string]any {
	if m, ok := a[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
