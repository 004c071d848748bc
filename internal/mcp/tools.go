package mcp

// ToolDefinition describes one tool exposed over the MCP surface.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp() map[string]any         { return map[string]any{"type": "string"} }
func nullableStringProp() map[string]any { return map[string]any{"type": []string{"string", "null"}} }
func intProp() map[string]any            { return map[string]any{"type": "integer"} }
func boolProp() map[string]any           { return map[string]any{"type": "boolean"} }
func objectProp() map[string]any         { return map[string]any{"type": "object"} }

// ToolDefinitions is the full tool catalog served by tools/list and the
// /mcp/tools endpoint.
var ToolDefinitions = []ToolDefinition{
	{
		Name:        "agent.register",
		Description: "Register an agent instance in RepoMesh.",
		InputSchema: objectSchema([]string{"name", "type"}, map[string]any{
			"name":              stringProp(),
			"type":              stringProp(),
			"capabilities":      objectProp(),
			"repo_id":           nullableStringProp(),
			"reuse_existing":    boolProp(),
			"takeover_if_stale": boolProp(),
		}),
	},
	{
		Name:        "agent.heartbeat",
		Description: "Update agent heartbeat and status.",
		InputSchema: objectSchema([]string{"agent_id", "status"}, map[string]any{
			"agent_id":     stringProp(),
			"status":       stringProp(),
			"current_task": nullableStringProp(),
		}),
	},
	{
		Name:        "agent.list",
		Description: "List agents.",
		InputSchema: objectSchema(nil, map[string]any{"repo_id": nullableStringProp()}),
	},
	{
		Name:        "task.create",
		Description: "Create a task.",
		InputSchema: objectSchema([]string{"goal"}, map[string]any{
			"goal":                stringProp(),
			"description":         stringProp(),
			"scope":               objectProp(),
			"priority":            intProp(),
			"acceptance_criteria": nullableStringProp(),
			"repo_id":             nullableStringProp(),
		}),
	},
	{
		Name:        "task.list",
		Description: "List tasks.",
		InputSchema: objectSchema(nil, map[string]any{
			"status":   stringProp(),
			"scope":    stringProp(),
			"assignee": stringProp(),
		}),
	},
	{
		Name:        "task.claim",
		Description: "Claim a task with lease.",
		InputSchema: objectSchema([]string{"task_id", "agent_id", "resource_key"}, map[string]any{
			"task_id":      stringProp(),
			"agent_id":     stringProp(),
			"resource_key": stringProp(),
			"lease_ttl":    intProp(),
		}),
	},
	{
		Name:        "task.update",
		Description: "Update task fields.",
		InputSchema: objectSchema([]string{"task_id"}, map[string]any{
			"task_id":        stringProp(),
			"status":         stringProp(),
			"progress":       intProp(),
			"summary":        stringProp(),
			"blocked_reason": stringProp(),
		}),
	},
	{
		Name:        "lock.acquire",
		Description: "Acquire a resource lock.",
		InputSchema: objectSchema([]string{"resource_key", "agent_id"}, map[string]any{
			"resource_key": stringProp(),
			"agent_id":     stringProp(),
			"ttl":          intProp(),
		}),
	},
	{
		Name:        "lock.renew",
		Description: "Renew a lock.",
		InputSchema: objectSchema([]string{"lock_id", "agent_id"}, map[string]any{
			"lock_id":  stringProp(),
			"agent_id": stringProp(),
			"ttl":      intProp(),
		}),
	},
	{
		Name:        "lock.release",
		Description: "Release a lock.",
		InputSchema: objectSchema([]string{"lock_id", "agent_id"}, map[string]any{
			"lock_id":  stringProp(),
			"agent_id": stringProp(),
		}),
	},
	{
		Name:        "event.log",
		Description: "Log an event.",
		InputSchema: objectSchema([]string{"type"}, map[string]any{
			"type":              stringProp(),
			"payload":           objectProp(),
			"severity":          stringProp(),
			"task_id":           nullableStringProp(),
			"agent_id":          nullableStringProp(),
			"repo_id":           nullableStringProp(),
			"recipient_id":      nullableStringProp(),
			"parent_message_id": nullableStringProp(),
			"channel":           nullableStringProp(),
		}),
	},
	{
		Name:        "event.list",
		Description: "List events with optional inbox/polling filters.",
		InputSchema: objectSchema(nil, map[string]any{
			"task_id":           nullableStringProp(),
			"agent_id":          nullableStringProp(),
			"recipient_id":      nullableStringProp(),
			"parent_message_id": nullableStringProp(),
			"channel":           nullableStringProp(),
			"payload_contains":  nullableStringProp(),
			"type":              nullableStringProp(),
			"since": map[string]any{
				"type":        []string{"string", "null"},
				"description": "ISO timestamp; return events strictly after this value",
			},
			"before": map[string]any{
				"type":        []string{"string", "null"},
				"description": "ISO timestamp; return events strictly before this value",
			},
			"direction":         map[string]any{"type": "string", "enum": []string{"asc", "desc"}},
			"include_broadcast": boolProp(),
			"include_payload":   boolProp(),
			"limit":             intProp(),
		}),
	},
	{
		Name:        "event.inbox",
		Description: "List events addressed to a recipient (and optionally broadcast).",
		InputSchema: objectSchema([]string{"recipient_id"}, map[string]any{
			"recipient_id":     stringProp(),
			"channel":          nullableStringProp(),
			"payload_contains": nullableStringProp(),
			"type":             nullableStringProp(),
			"since": map[string]any{
				"type":        []string{"string", "null"},
				"description": "ISO timestamp; return events strictly after this value",
			},
			"before":            nullableStringProp(),
			"direction":         map[string]any{"type": "string", "enum": []string{"asc", "desc"}},
			"include_broadcast": boolProp(),
			"include_payload":   boolProp(),
			"limit":             intProp(),
		}),
	},
	{
		Name:        "event.thread",
		Description: "Get a full message thread (root + replies).",
		InputSchema: objectSchema([]string{"message_id"}, map[string]any{
			"message_id":      stringProp(),
			"limit":           intProp(),
			"include_payload": boolProp(),
		}),
	},
	{
		Name:        "context.bundle",
		Description: "Build a compact context bundle for a task.",
		InputSchema: objectSchema([]string{"task_id"}, map[string]any{
			"task_id":        stringProp(),
			"mode":           stringProp(),
			"include_recent": boolProp(),
		}),
	},
	{
		Name:        "orchestrator.tick",
		Description: "Run one orchestration cycle (claim + assign pending work).",
		InputSchema: objectSchema(nil, map[string]any{"max_assignments": intProp()}),
	},
	{
		Name:        "orchestrator.status",
		Description: "Get orchestrator runtime status.",
		InputSchema: objectSchema(nil, map[string]any{}),
	},
	{
		Name:        "adapter.execute",
		Description: "Execute claimed/in-progress tasks for an agent via generic shell adapter.",
		InputSchema: objectSchema([]string{"agent_id"}, map[string]any{
			"agent_id":  stringProp(),
			"task_id":   nullableStringProp(),
			"dry_run":   boolProp(),
			"max_tasks": intProp(),
		}),
	},
	{
		Name:        "adapter.tick",
		Description: "Run one adapter runtime cycle across active agents.",
		InputSchema: objectSchema(nil, map[string]any{"max_tasks_per_agent": intProp()}),
	},
	{
		Name:        "adapter.status",
		Description: "Get adapter runtime status.",
		InputSchema: objectSchema(nil, map[string]any{}),
	},
	{
		Name:        "file.skeleton",
		Description: "Return compact AST skeleton (types/functions/docs) for a file.",
		InputSchema: objectSchema([]string{"file_path"}, map[string]any{"file_path": stringProp()}),
	},
	{
		Name:        "file.symbol_logic",
		Description: "Return exact source snippet for a named symbol.",
		InputSchema: objectSchema([]string{"file_path", "symbol_name"}, map[string]any{
			"file_path":   stringProp(),
			"symbol_name": stringProp(),
		}),
	},
	{
		Name:        "file.search_replace",
		Description: "Apply strict search/replace edit with expected-count guard.",
		InputSchema: objectSchema([]string{"file_path", "search", "replace"}, map[string]any{
			"file_path":      stringProp(),
			"search":         stringProp(),
			"replace":        stringProp(),
			"expected_count": intProp(),
		}),
	},
	{
		Name:        "summarizer.tick",
		Description: "Run one background compression cycle for completed tasks.",
		InputSchema: objectSchema(nil, map[string]any{"max_tasks": intProp()}),
	},
	{
		Name:        "summarizer.status",
		Description: "Get summarizer runtime status.",
		InputSchema: objectSchema(nil, map[string]any{}),
	},
}
