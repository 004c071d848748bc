package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/store"
)

type logEventRequest struct {
	Type            string         `json:"type" binding:"required"`
	Payload         map[string]any `json:"payload"`
	Severity        string         `json:"severity"`
	TaskID          *string        `json:"task_id"`
	AgentID         *string        `json:"agent_id"`
	RepoID          *string        `json:"repo_id"`
	RecipientID     *string        `json:"recipient_id"`
	ParentMessageID *string        `json:"parent_message_id"`
	Channel         string         `json:"channel"`
}

func (s *Server) logEvent(c *gin.Context) {
	var req logEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c)
		return
	}
	e, err := s.deps.Events.Log(c.Request.Context(), event.LogInput{
		Type:            req.Type,
		Payload:         req.Payload,
		Severity:        req.Severity,
		TaskID:          req.TaskID,
		AgentID:         req.AgentID,
		RepoID:          req.RepoID,
		RecipientID:     req.RecipientID,
		ParentMessageID: req.ParentMessageID,
		Channel:         req.Channel,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) listEvents(c *gin.Context) {
	since, err := parseTimeQuery(c.Query("since"))
	if err != nil {
		writeError(c, err)
		return
	}
	before, err := parseTimeQuery(c.Query("before"))
	if err != nil {
		writeError(c, err)
		return
	}
	direction := c.DefaultQuery("direction", "desc")
	if direction != "asc" && direction != "desc" {
		writeError(c, apperrors.Validation("direction must be asc or desc"))
		return
	}
	limit := intQuery(c, "limit", 100)
	if limit < 1 || limit > 500 {
		writeError(c, apperrors.Validation("limit must be between 1 and 500"))
		return
	}

	events, err := s.deps.Events.List(c.Request.Context(), store.EventFilter{
		TaskID:           c.Query("task_id"),
		AgentID:          c.Query("agent_id"),
		Type:             c.Query("type"),
		RecipientID:      c.Query("recipient_id"),
		IncludeBroadcast: c.Query("include_broadcast") == "true",
		ParentMessageID:  c.Query("parent_message_id"),
		Channel:          c.Query("channel"),
		PayloadContains:  c.Query("payload_contains"),
		Since:            since,
		Before:           before,
		Descending:       direction == "desc",
		Limit:            limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) getThread(c *gin.Context) {
	limit := intQuery(c, "limit", 200)
	if limit < 1 || limit > 1000 {
		writeError(c, apperrors.Validation("limit must be between 1 and 1000"))
		return
	}
	events, err := s.deps.Events.Thread(c.Request.Context(), c.Param("message_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func parseTimeQuery(value string) (*time.Time, error) {
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

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
