// Package models defines the RepoMesh entity model. All entities are
// identified by UUID strings; timestamps are UTC.
package models

import "time"

// Agent statuses.
const (
	AgentStatusActive   = "active"
	AgentStatusInactive = "inactive"
	AgentStatusStale    = "stale"
)

// Session statuses.
const (
	SessionStatusActive = "active"
	SessionStatusStale  = "stale"
)

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusClaimed    = "claimed"
	TaskStatusInProgress = "in_progress"
	TaskStatusBlocked    = "blocked"
	TaskStatusCompleted  = "completed"
	TaskStatusStalled    = "stalled"
)

// AllowedTaskStatuses is the validation set for task status updates.
var AllowedTaskStatuses = map[string]bool{
	TaskStatusPending:    true,
	TaskStatusClaimed:    true,
	TaskStatusInProgress: true,
	TaskStatusBlocked:    true,
	TaskStatusCompleted:  true,
	TaskStatusStalled:    true,
}

// Lease states shared by claims and locks.
const (
	LeaseStateActive   = "active"
	LeaseStateReleased = "released"
	LeaseStateExpired  = "expired"
)

// Event severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeverityDebug   = "debug"
)

// DefaultChannel is the event channel used when none is given.
const DefaultChannel = "default"

// Repo is a logical group for agents, tasks, and events.
type Repo struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	RootPath      string    `json:"root_path" db:"root_path"`
	DefaultBranch string    `json:"default_branch" db:"default_branch"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Agent is a coordinator-registered worker process with a capability map.
// The pair (name, repo_id) is treated as a reusable identity slot.
type Agent struct {
	ID              string         `json:"id" db:"id"`
	RepoID          *string        `json:"repo_id" db:"repo_id"`
	Name            string         `json:"name" db:"name"`
	Type            string         `json:"type" db:"type"`
	Status          string         `json:"status" db:"status"`
	Capabilities    map[string]any `json:"capabilities" db:"-"`
	LastHeartbeatAt *time.Time     `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// AgentSession is a time-bounded liveness token for an agent. At most one
// session is active per agent.
type AgentSession struct {
	ID              string    `json:"id" db:"id"`
	AgentID         string    `json:"agent_id" db:"agent_id"`
	Status          string    `json:"status" db:"status"`
	CurrentTaskID   *string   `json:"current_task_id" db:"current_task_id"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	ExpiresAt       time.Time `json:"expires_at" db:"expires_at"`
}

// Task is a unit of work routed to an agent. Scope optionally carries
// files, component, resource_key, and an adapter sub-map.
type Task struct {
	ID                 string         `json:"id" db:"id"`
	RepoID             *string        `json:"repo_id" db:"repo_id"`
	Goal               string         `json:"goal" db:"goal"`
	Description        string         `json:"description" db:"description"`
	Scope              map[string]any `json:"scope" db:"-"`
	Priority           int            `json:"priority" db:"priority"`
	Status             string         `json:"status" db:"status"`
	AcceptanceCriteria *string        `json:"acceptance_criteria" db:"acceptance_criteria"`
	AssigneeAgentID    *string        `json:"assignee_agent_id" db:"assignee_agent_id"`
	BlockedReason      *string        `json:"blocked_reason" db:"blocked_reason"`
	Progress           int            `json:"progress" db:"progress"`
	Summary            *string        `json:"summary" db:"summary"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// TaskClaim is a lease binding a task to an agent, coupled with a lock on
// the same resource_key. At most one claim per task is active at any instant.
type TaskClaim struct {
	ID              string     `json:"id" db:"id"`
	TaskID          string     `json:"task_id" db:"task_id"`
	AgentID         string     `json:"agent_id" db:"agent_id"`
	ResourceKey     string     `json:"resource_key" db:"resource_key"`
	LeaseTTLSeconds int        `json:"lease_ttl_seconds" db:"lease_ttl_seconds"`
	State           string     `json:"state" db:"state"`
	ClaimedAt       time.Time  `json:"claimed_at" db:"claimed_at"`
	ExpiresAt       time.Time  `json:"expires_at" db:"expires_at"`
	ReleasedAt      *time.Time `json:"released_at" db:"released_at"`
}

// ResourceLock is a leased exclusive hold over an opaque string namespace.
// At most one lock per resource_key is active at any instant.
type ResourceLock struct {
	ID           string     `json:"id" db:"id"`
	ResourceKey  string     `json:"resource_key" db:"resource_key"`
	OwnerAgentID string     `json:"owner_agent_id" db:"owner_agent_id"`
	State        string     `json:"state" db:"state"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at" db:"expires_at"`
	ReleasedAt   *time.Time `json:"released_at" db:"released_at"`
}

// Event is an addressable, channelized, threaded message on the append-only
// log. An event with no recipient is a broadcast; threads form a forest via
// ParentMessageID.
type Event struct {
	ID              string         `json:"id" db:"id"`
	RepoID          *string        `json:"repo_id" db:"repo_id"`
	AgentID         *string        `json:"agent_id" db:"agent_id"`
	TaskID          *string        `json:"task_id" db:"task_id"`
	RecipientID     *string        `json:"recipient_id" db:"recipient_id"`
	ParentMessageID *string        `json:"parent_message_id" db:"parent_message_id"`
	Channel         string         `json:"channel" db:"channel"`
	Type            string         `json:"type" db:"type"`
	Severity        string         `json:"severity" db:"severity"`
	Payload         map[string]any `json:"payload" db:"-"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// Artifact is produced by task execution; it is referenced but never
// mutated after creation.
type Artifact struct {
	ID        string         `json:"id" db:"id"`
	TaskID    string         `json:"task_id" db:"task_id"`
	Kind      string         `json:"kind" db:"kind"`
	URI       string         `json:"uri" db:"uri"`
	Metadata  map[string]any `json:"metadata" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
