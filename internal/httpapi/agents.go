package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/repomesh/repomesh/internal/agent"
)

type registerAgentRequest struct {
	Name         string         `json:"name" binding:"required"`
	Type         string         `json:"type" binding:"required"`
	Capabilities map[string]any `json:"capabilities"`
	RepoID       *string        `json:"repo_id"`
}

func (s *Server) registerAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	a, err := s.deps.Agents.Register(c.Request.Context(), agent.RegisterInput{
		Name:            req.Name,
		Type:            req.Type,
		Capabilities:    req.Capabilities,
		RepoID:          req.RepoID,
		ReuseExisting:   true,
		TakeoverIfStale: true,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type heartbeatRequest struct {
	Status      string  `json:"status" binding:"required"`
	CurrentTask *string `json:"current_task"`
}

func (s *Server) heartbeatAgent(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	a, err := s.deps.Agents.Heartbeat(c.Request.Context(), c.Param("agent_id"), req.Status, req.CurrentTask)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.deps.Agents.List(c.Request.Context(), c.Query("repo_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}
