// Package httpapi serves the REST, WebSocket/SSE streaming, and MCP
// surfaces over gin.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/repomesh/repomesh/internal/adapter"
	"github.com/repomesh/repomesh/internal/agent"
	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/internal/common/httpmw"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/contextbundle"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/mcp"
	"github.com/repomesh/repomesh/internal/orchestrator"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/stream"
	"github.com/repomesh/repomesh/internal/summarizer"
	"github.com/repomesh/repomesh/internal/task"
)

// Deps carries everything the HTTP surface serves.
type Deps struct {
	Store       *store.Store
	Agents      *agent.Service
	Tasks       *task.Service
	Locks       *lock.Service
	Events      *event.Service
	Bundle      *contextbundle.Service
	Adapters    *adapter.Service
	Summarizers *summarizer.Service
	Engine      *orchestrator.Engine
	Runtimes    mcp.Runtimes
	Broker      *stream.Broker
	Dispatcher  *mcp.Dispatcher
	AuthToken   string
	Logger      *logger.Logger
}

type Server struct {
	deps Deps
	log  *logger.Logger
}

// NewRouter builds the gin engine with all routes registered. Everything
// except /health requires the local token.
func NewRouter(deps Deps) *gin.Engine {
	s := &Server{deps: deps, log: deps.Logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(deps.Logger))

	router.GET("/health", s.health)

	authed := router.Group("/", httpmw.RequireToken(deps.AuthToken))

	agents := authed.Group("/v1/agents")
	agents.POST("/register", s.registerAgent)
	agents.POST("/:agent_id/heartbeat", s.heartbeatAgent)
	agents.GET("", s.listAgents)

	tasks := authed.Group("/v1/tasks")
	tasks.POST("", s.createTask)
	tasks.GET("", s.listTasks)
	tasks.GET("/:task_id", s.getTask)
	tasks.GET("/:task_id/artifacts", s.listTaskArtifacts)
	tasks.POST("/:task_id/claim", s.claimTask)
	tasks.PATCH("/:task_id", s.updateTask)

	locks := authed.Group("/v1/locks")
	locks.POST("/acquire", s.acquireLock)
	locks.POST("/:lock_id/renew", s.renewLock)
	locks.POST("/:lock_id/release", s.releaseLock)

	events := authed.Group("/v1/events")
	events.POST("", s.logEvent)
	events.GET("", s.listEvents)
	events.GET("/thread/:message_id", s.getThread)
	events.GET("/ws", s.streamWebSocket)
	events.GET("/sse", s.streamSSE)

	authed.GET("/v1/context/bundle/:task_id", s.getBundle)
	authed.POST("/v1/recovery/reconcile", s.reconcile)

	orchestratorGroup := authed.Group("/v1/orchestrator")
	orchestratorGroup.GET("/status", s.runtimeStatus(deps.Runtimes.Orchestrator))
	orchestratorGroup.POST("/start", s.runtimeStart(deps.Runtimes.Orchestrator))
	orchestratorGroup.POST("/stop", s.runtimeStop(deps.Runtimes.Orchestrator))
	orchestratorGroup.POST("/tick", s.orchestratorTick)

	adapters := authed.Group("/v1/adapters")
	adapters.GET("/status", s.runtimeStatus(deps.Runtimes.Adapter))
	adapters.POST("/start", s.runtimeStart(deps.Runtimes.Adapter))
	adapters.POST("/stop", s.runtimeStop(deps.Runtimes.Adapter))
	adapters.POST("/execute", s.adapterExecute)
	adapters.POST("/tick", s.adapterTick)

	summarizerGroup := authed.Group("/v1/summarizer")
	summarizerGroup.GET("/status", s.runtimeStatus(deps.Runtimes.Summarizer))
	summarizerGroup.POST("/start", s.runtimeStart(deps.Runtimes.Summarizer))
	summarizerGroup.POST("/stop", s.runtimeStop(deps.Runtimes.Summarizer))
	summarizerGroup.POST("/tick", s.summarizerTick)

	mcpGroup := authed.Group("/mcp")
	mcpGroup.GET("/tools", s.listMCPTools)
	mcpGroup.POST("/http", s.mcpHTTPCall)

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// writeBindError reports a malformed request body.
func writeBindError(c *gin.Context) {
	c.JSON(400, gin.H{
		"error": gin.H{
			"code":    apperrors.CodeValidationError,
			"message": "invalid payload",
			"details": gin.H{},
		},
	})
}

// writeError maps service errors to the shared error envelope.
func writeError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	details := appErr.Details
	if details == nil {
		details = map[string]any{}
	}
	c.JSON(appErr.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
			"details": details,
		},
	})
}
