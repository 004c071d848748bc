package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/repomesh/repomesh/internal/mcp"
	"github.com/repomesh/repomesh/pkg/jsonrpc"
)

func (s *Server) listMCPTools(c *gin.Context) {
	names := make([]string, 0, len(mcp.ToolDefinitions))
	for _, def := range mcp.ToolDefinitions {
		names = append(names, def.Name)
	}
	c.JSON(http.StatusOK, gin.H{"tools": names, "count": len(names)})
}

// mcpHTTPCall exposes the JSON-RPC dispatcher over plain HTTP for clients
// that cannot speak stdio.
func (s *Server) mcpHTTPCall(c *gin.Context) {
	var req jsonrpc.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, jsonrpc.NewError(nil, jsonrpc.ParseError, "invalid JSON-RPC payload", nil))
		return
	}
	resp := s.deps.Dispatcher.Dispatch(c.Request.Context(), &req)
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, resp)
}
