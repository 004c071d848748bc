package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type acquireLockRequest struct {
	ResourceKey string `json:"resource_key" binding:"required"`
	AgentID     string `json:"agent_id" binding:"required"`
	TTL         int    `json:"ttl"`
}

func (s *Server) acquireLock(c *gin.Context) {
	var req acquireLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = 1800
	}
	lock, err := s.deps.Locks.Acquire(c.Request.Context(), req.ResourceKey, req.AgentID, time.Duration(ttl)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}

type renewLockRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	TTL     int    `json:"ttl"`
}

func (s *Server) renewLock(c *gin.Context) {
	var req renewLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = 1800
	}
	lock, err := s.deps.Locks.Renew(c.Request.Context(), c.Param("lock_id"), req.AgentID, time.Duration(ttl)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}

type releaseLockRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

func (s *Server) releaseLock(c *gin.Context) {
	var req releaseLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	lock, err := s.deps.Locks.Release(c.Request.Context(), c.Param("lock_id"), req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}
