package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getBundle(c *gin.Context) {
	mode := c.DefaultQuery("mode", "compact")
	includeRecent := c.DefaultQuery("include_recent", "true") == "true"
	bundle, err := s.deps.Bundle.Bundle(c.Request.Context(), c.Param("task_id"), mode, includeRecent)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

// reconcile sweeps stale sessions and lapsed claims in one pass. Useful
// after a crash or operator intervention.
func (s *Server) reconcile(c *gin.Context) {
	ctx := c.Request.Context()
	staleSessions, err := s.deps.Agents.MarkStaleSessions(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	staleClaims, err := s.deps.Tasks.ExpireStaleClaims(ctx, "")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stale_sessions": staleSessions,
		"stale_claims":   staleClaims,
	})
}
