package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	apperrors "github.com/repomesh/repomesh/internal/common/errors"
	"github.com/repomesh/repomesh/pkg/jsonrpc"
)

// ProtocolVersion is the MCP protocol revision advertised by initialize.
const ProtocolVersion = "2024-11-05"

// ServerName identifies this server in the initialize handshake.
const ServerName = "repomesh"

// ServerVersion is reported alongside ServerName.
const ServerVersion = "0.1.0"

// Dispatcher routes JSON-RPC requests to the tool service. It accepts both
// the standard MCP envelope (initialize, tools/list, tools/call) and the
// raw tool.call method used by lightweight clients.
type Dispatcher struct {
	service *Service
}

func NewDispatcher(service *Service) *Dispatcher {
	return &Dispatcher{service: service}
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Dispatch handles one request. A nil response means the request was a
// notification and expects no reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case "initialize":
		return jsonrpc.NewResult(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": ServerVersion,
			},
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
		})

	case "notifications/initialized":
		return nil

	case "tools/list":
		return jsonrpc.NewResult(req.ID, map[string]any{"tools": d.service.Definitions()})

	case "tool.call":
		params, resp := d.parseCallParams(req)
		if resp != nil {
			return resp
		}
		result, err := d.service.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return jsonrpc.NewResult(req.ID, result)

	case "tools/call":
		params, resp := d.parseCallParams(req)
		if resp != nil {
			return resp
		}
		result, err := d.service.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		text, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return errorResponse(req.ID, apperrors.Internal("failed to encode tool result", marshalErr))
		}
		return jsonrpc.NewResult(req.ID, map[string]any{
			"content":           []map[string]any{{"type": "text", "text": string(text)}},
			"structuredContent": result,
			"isError":           false,
		})
	}

	if req.IsNotification() {
		return nil
	}
	return jsonrpc.NewError(req.ID, jsonrpc.MethodNotFound, "Method not found", map[string]any{"method": req.Method})
}

func (d *Dispatcher) parseCallParams(req *jsonrpc.Request) (callParams, *jsonrpc.Response) {
	var params callParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return params, jsonrpc.NewError(req.ID, jsonrpc.InvalidParams, "malformed params", nil)
		}
	}
	if params.Name == "" {
		return params, jsonrpc.NewError(req.ID, jsonrpc.InvalidParams, "params.name is required", nil)
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}
	return params, nil
}

// errorResponse maps service errors onto JSON-RPC errors, carrying the
// application code and HTTP-equivalent status in the error data.
func errorResponse(id interface{}, err error) *jsonrpc.Response {
	appErr := apperrors.AsAppError(err)
	code := jsonrpc.InternalError
	switch appErr.HTTPStatus {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		code = jsonrpc.InvalidParams
	}
	return jsonrpc.NewError(id, code, appErr.Message, map[string]any{
		"code":    appErr.Code,
		"status":  appErr.HTTPStatus,
		"details": appErr.Details,
	})
}
