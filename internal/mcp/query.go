package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/rustytools/internal/toolchain"
)

type historyParams struct {
	ErrorCode string `json:"error_code,omitempty" jsonschema:"Only errors with this code, e.g. E0308."`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum number of errors (1-1000). Default: 10."`
}

func (h *handler) historyHandler(ctx context.Context, req *mcp.CallToolRequest, params historyParams) (*mcp.CallToolResult, any, error) {
	errs, err := h.engine().History(ctx, toolchain.HistoryQuery{ErrorCode: params.ErrorCode, Limit: params.Limit})
	if err != nil {
		return failure(err)
	}
	return queryResult(map[string]any{"count": len(errs), "errors": errs})
}

type todosParams struct {
	ShowCompleted bool `json:"show_completed,omitempty" jsonschema:"Include completed todos. Default: false."`
}

func (h *handler) todosHandler(ctx context.Context, req *mcp.CallToolRequest, params todosParams) (*mcp.CallToolResult, any, error) {
	todos, err := h.engine().Todos(ctx, params.ShowCompleted)
	if err != nil {
		return failure(err)
	}
	return queryResult(map[string]any{"count": len(todos), "todos": todos})
}

type completeTodoParams struct {
	ID int64 `json:"id" jsonschema:"id of the todo, from cargo_todos"`
}

func (h *handler) completeTodoHandler(ctx context.Context, req *mcp.CallToolRequest, params completeTodoParams) (*mcp.CallToolResult, any, error) {
	if err := h.engine().CompleteTodo(ctx, params.ID); err != nil {
		return failure(err)
	}
	return queryResult(map[string]any{"id": params.ID, "completed": true})
}

type statsParams struct{}

func (h *handler) statsHandler(ctx context.Context, req *mcp.CallToolRequest, _ statsParams) (*mcp.CallToolResult, any, error) {
	stats, err := h.engine().Stats(ctx)
	if err != nil {
		return failure(err)
	}
	return queryResult(stats)
}

type outputParams struct {
	RunID string `json:"run_id" jsonschema:"run_id from an earlier tool result"`
}

func (h *handler) outputHandler(ctx context.Context, req *mcp.CallToolRequest, params outputParams) (*mcp.CallToolResult, any, error) {
	env, err := h.engine().Output(ctx, params.RunID)
	if err != nil {
		return failure(err)
	}
	return jsonResult(env)
}
