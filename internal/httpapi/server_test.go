package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repomesh/repomesh/internal/adapter"
	"github.com/repomesh/repomesh/internal/agent"
	"github.com/repomesh/repomesh/internal/codetools"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/contextbundle"
	"github.com/repomesh/repomesh/internal/db"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/mcp"
	"github.com/repomesh/repomesh/internal/orchestrator"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/stream"
	"github.com/repomesh/repomesh/internal/summarizer"
	"github.com/repomesh/repomesh/internal/task"
)

const testToken = "test-token"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	pool, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	st, err := store.New(pool)
	require.NoError(t, err)

	log := logger.Default()
	broker := stream.NewBroker()
	events := event.NewService(st, broker)
	locks := lock.NewService(st, log)
	agents := agent.NewService(st, log, 2*time.Minute)
	tasks := task.NewService(st, locks, log)
	adapters := adapter.NewService(st, tasks, events, adapter.Config{
		WorkspaceRoot:  t.TempDir(),
		DefaultTimeout: time.Minute,
	}, log)
	summarizers := summarizer.NewService(st, events, log)
	bundle := contextbundle.NewService(tasks, events, locks)
	engine := orchestrator.NewEngine(st, agents, tasks, events, log)

	runtimes := mcp.Runtimes{
		Orchestrator: orchestrator.NewRuntime(engine, broker, time.Minute, 10, log),
		Adapter:      adapter.NewRuntime(adapters, st, time.Minute, 2, log),
		Summarizer:   summarizer.NewRuntime(summarizers, time.Minute, 10, log),
	}
	dispatcher := mcp.NewDispatcher(mcp.NewService(mcp.ServiceDeps{
		Store:       st,
		Agents:      agents,
		Tasks:       tasks,
		Locks:       locks,
		Events:      events,
		Bundle:      bundle,
		Engine:      engine,
		Adapters:    adapters,
		Summarizers: summarizers,
		CodeTools:   codetools.NewService(t.TempDir()),
		Runtimes:    runtimes,
	}))

	return NewRouter(Deps{
		Store:       st,
		Agents:      agents,
		Tasks:       tasks,
		Locks:       locks,
		Events:      events,
		Bundle:      bundle,
		Adapters:    adapters,
		Summarizers: summarizers,
		Engine:      engine,
		Runtimes:    runtimes,
		Broker:      broker,
		Dispatcher:  dispatcher,
		AuthToken:   testToken,
		Logger:      log,
	})
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-repomesh-token", testToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthIsOpen(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Bearer and query tokens are also accepted.
	req = httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/tasks?token="+testToken, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTaskClaimFlow(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/agents/register", map[string]any{
		"name": "worker-1", "type": "codegen",
	})
	require.Equal(t, http.StatusOK, w.Code)
	agentID, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, agentID)

	w = doJSON(t, router, http.MethodPost, "/v1/tasks", map[string]any{
		"goal": "build the thing", "priority": 4,
	})
	require.Equal(t, http.StatusOK, w.Code)
	taskID, _ := decode(t, w)["id"].(string)

	w = doJSON(t, router, http.MethodPost, "/v1/tasks/"+taskID+"/claim", map[string]any{
		"agent_id": agentID, "resource_key": "task:" + taskID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	claim := decode(t, w)
	assert.Equal(t, "active", claim["state"])
	assert.Equal(t, taskID, claim["task_id"])

	// A second agent hits the claim conflict.
	w = doJSON(t, router, http.MethodPost, "/v1/tasks/"+taskID+"/claim", map[string]any{
		"agent_id": "someone-else", "resource_key": "file:other.go",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	errBody := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "CONFLICT", errBody["code"])

	w = doJSON(t, router, http.MethodPatch, "/v1/tasks/"+taskID, map[string]any{
		"status": "in_progress", "progress": 25,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(25), decode(t, w)["progress"])
}

func TestEventValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/events?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/events?limit=9999", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/events", map[string]any{"severity": "info"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/events", map[string]any{"type": "smoke.test"})
	require.Equal(t, http.StatusOK, w.Code)
	logged := decode(t, w)
	assert.Equal(t, "info", logged["severity"])
	assert.Equal(t, "default", logged["channel"])
}

func TestReconcile(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/recovery/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "stale_sessions")
	assert.Contains(t, body, "stale_claims")
}

func TestRuntimeEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/orchestrator/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, false, status["running"])

	w = doJSON(t, router, http.MethodPost, "/v1/orchestrator/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)
	assert.NotEmpty(t, result["orchestrator_agent_id"])

	w = doJSON(t, router, http.MethodPost, "/v1/summarizer/tick", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])

	w = doJSON(t, router, http.MethodPost, "/v1/adapters/execute?agent_id=agent-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/adapters/execute", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMCPOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/mcp/tools", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	tools, _ := body["tools"].([]any)
	assert.Len(t, tools, len(mcp.ToolDefinitions))

	w = doJSON(t, router, http.MethodPost, "/mcp/http", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/list",
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.NotNil(t, resp["result"])

	// Notifications get no body.
	w = doJSON(t, router, http.MethodPost, "/mcp/http", map[string]any{
		"jsonrpc": "2.0", "method": "notifications/initialized",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
}
