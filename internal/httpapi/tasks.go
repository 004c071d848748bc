package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repomesh/repomesh/internal/task"
)

type createTaskRequest struct {
	Goal               string         `json:"goal" binding:"required"`
	Description        string         `json:"description"`
	Scope              map[string]any `json:"scope"`
	Priority           *int           `json:"priority"`
	AcceptanceCriteria *string        `json:"acceptance_criteria"`
	RepoID             *string        `json:"repo_id"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	priority := 3
	if req.Priority != nil {
		priority = *req.Priority
	}
	t, err := s.deps.Tasks.Create(c.Request.Context(), task.CreateInput{
		Goal:               req.Goal,
		Description:        req.Description,
		Scope:              req.Scope,
		Priority:           priority,
		AcceptanceCriteria: req.AcceptanceCriteria,
		RepoID:             req.RepoID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.deps.Tasks.List(c.Request.Context(), c.Query("status"), c.Query("scope"), c.Query("assignee"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	t, err := s.deps.Tasks.Get(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) listTaskArtifacts(c *gin.Context) {
	artifacts, err := s.deps.Store.ListArtifactsForTask(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": artifacts, "count": len(artifacts)})
}

type claimTaskRequest struct {
	AgentID     string `json:"agent_id" binding:"required"`
	ResourceKey string `json:"resource_key" binding:"required"`
	LeaseTTL    int    `json:"lease_ttl"`
}

func (s *Server) claimTask(c *gin.Context) {
	var req claimTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	leaseTTL := req.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 1800
	}
	claim, err := s.deps.Tasks.Claim(c.Request.Context(), c.Param("task_id"), req.AgentID, req.ResourceKey,
		time.Duration(leaseTTL)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           claim.ID,
		"task_id":      claim.TaskID,
		"agent_id":     claim.AgentID,
		"resource_key": claim.ResourceKey,
		"state":        claim.State,
		"expires_at":   claim.ExpiresAt,
	})
}

type updateTaskRequest struct {
	Status        *string `json:"status"`
	Progress      *int    `json:"progress"`
	Summary       *string `json:"summary"`
	BlockedReason *string `json:"blocked_reason"`
}

func (s *Server) updateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	t, err := s.deps.Tasks.Update(c.Request.Context(), c.Param("task_id"), task.UpdateInput{
		Status:        req.Status,
		Progress:      req.Progress,
		Summary:       req.Summary,
		BlockedReason: req.BlockedReason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
