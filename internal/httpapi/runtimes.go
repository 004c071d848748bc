package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/repomesh/repomesh/internal/adapter"
	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/orchestrator"
	"github.com/repomesh/repomesh/internal/runtime"
)

func (s *Server) runtimeStatus(sup *runtime.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, sup.Status())
	}
}

func (s *Server) runtimeStart(sup *runtime.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, sup.Start())
	}
}

func (s *Server) runtimeStop(sup *runtime.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, sup.Stop())
	}
}

func (s *Server) orchestratorTick(c *gin.Context) {
	maxAssignments := intQuery(c, "max_assignments", 10)
	if maxAssignments < 1 || maxAssignments > 100 {
		writeError(c, apperrors.Validation("max_assignments must be between 1 and 100"))
		return
	}
	result, err := s.deps.Engine.RunOnce(c.Request.Context(), maxAssignments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) adapterExecute(c *gin.Context) {
	agentID := c.Query("agent_id")
	if agentID == "" {
		writeError(c, apperrors.Validation("agent_id is required"))
		return
	}
	maxTasks := intQuery(c, "max_tasks", 5)
	if maxTasks < 1 || maxTasks > 50 {
		writeError(c, apperrors.Validation("max_tasks must be between 1 and 50"))
		return
	}
	input := adapter.ExecuteInput{
		AgentID:  agentID,
		DryRun:   c.Query("dry_run") == "true",
		MaxTasks: maxTasks,
	}
	if taskID := c.Query("task_id"); taskID != "" {
		input.TaskID = taskID
	}
	report, err := s.deps.Adapters.Execute(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// adapterTick runs one execution pass for every live worker agent.
func (s *Server) adapterTick(c *gin.Context) {
	maxPerAgent := intQuery(c, "max_tasks_per_agent", 2)
	if maxPerAgent < 1 || maxPerAgent > 10 {
		writeError(c, apperrors.Validation("max_tasks_per_agent must be between 1 and 10"))
		return
	}
	ctx := c.Request.Context()
	agents, err := s.deps.Store.ListActiveAgents(ctx, orchestrator.AgentType)
	if err != nil {
		writeError(c, err)
		return
	}
	runs := make([]*adapter.Report, 0)
	for _, a := range agents {
		report, err := s.deps.Adapters.Execute(ctx, adapter.ExecuteInput{
			AgentID:  a.ID,
			MaxTasks: maxPerAgent,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		if len(report.Executed) > 0 {
			runs = append(runs, report)
		}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) summarizerTick(c *gin.Context) {
	maxTasks := intQuery(c, "max_tasks", 10)
	if maxTasks < 1 || maxTasks > 200 {
		writeError(c, apperrors.Validation("max_tasks must be between 1 and 200"))
		return
	}
	result, err := s.deps.Summarizers.RunOnce(c.Request.Context(), maxTasks)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
