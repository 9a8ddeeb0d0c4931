package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/rustytools/internal/toolchain"
)

const projectUsage = `

Pass code to run against a throwaway project (src/main.rs, optional cargo_toml), or omit it to run in the workspace.
Set persist=true to record errors and todos for cargo_history and cargo_todos.
A failing tool is not an error: read success, status, stdout and stderr.`

type runParams struct {
	Code        string `json:"code,omitempty" jsonschema:"Rust source for src/main.rs of a throwaway cargo project. Omit to run in the workspace."`
	CargoToml   string `json:"cargo_toml,omitempty" jsonschema:"Cargo.toml for the throwaway project. Requires code."`
	Persist     bool   `json:"persist,omitempty" jsonschema:"Record the run and its diagnostics. Default: false."`
	TimeoutSecs int    `json:"timeout_secs,omitempty" jsonschema:"Override the tool timeout in seconds. Capped by the configured maximum."`
}

type fixParams struct {
	Code        string `json:"code,omitempty" jsonschema:"Rust source for src/main.rs of a throwaway cargo project. Omit to fix the workspace."`
	CargoToml   string `json:"cargo_toml,omitempty" jsonschema:"Cargo.toml for the throwaway project. Requires code."`
	Persist     bool   `json:"persist,omitempty" jsonschema:"Record the run, its diagnostics and the applied fix. Default: false."`
	TimeoutSecs int    `json:"timeout_secs,omitempty" jsonschema:"Override the tool timeout in seconds. Capped by the configured maximum."`
	TodoID      *int64 `json:"todo_id,omitempty" jsonschema:"Todo the fix addresses. The todo stays open until cargo_complete_todo."`
}

type explainParams struct {
	ErrorCode string `json:"error_code" jsonschema:"rustc error code, e.g. E0308"`
}

type searchParams struct {
	Query string `json:"query" jsonschema:"crates.io search terms"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of crates (1-100). Default: 10."`
}

// registerToolchainTools registers one tool per catalogue entry.
func registerToolchainTools(s *mcp.Server, h *handler) {
	for _, t := range toolchain.Catalogue() {
		switch {
		case t.Name == "cargo_fix":
			mcp.AddTool(s, &mcp.Tool{Name: t.Name, Description: t.Description + "." + projectUsage}, h.fixHandler)
		case t.Name == "rustc_explain":
			mcp.AddTool(s, &mcp.Tool{Name: t.Name, Description: t.Description + "."}, h.explainHandler)
		case t.Name == "cargo_search":
			mcp.AddTool(s, &mcp.Tool{Name: t.Name, Description: t.Description + "."}, h.searchHandler)
		case t.Project:
			mcp.AddTool(s, &mcp.Tool{Name: t.Name, Description: t.Description + "." + projectUsage}, h.runHandler(t.Name))
		}
	}
}

func (h *handler) runHandler(tool string) func(context.Context, *mcp.CallToolRequest, runParams) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
		return h.run(ctx, toolchain.Request{
			Tool:      tool,
			Code:      params.Code,
			CargoToml: params.CargoToml,
			Persist:   params.Persist,
		}, params.TimeoutSecs)
	}
}

func (h *handler) fixHandler(ctx context.Context, req *mcp.CallToolRequest, params fixParams) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, toolchain.Request{
		Tool:      "cargo_fix",
		Code:      params.Code,
		CargoToml: params.CargoToml,
		Persist:   params.Persist,
		TodoID:    params.TodoID,
	}, params.TimeoutSecs)
}

func (h *handler) explainHandler(ctx context.Context, req *mcp.CallToolRequest, params explainParams) (*mcp.CallToolResult, any, error) {
	res, err := h.engine().Explain(ctx, params.ErrorCode)
	if err != nil {
		return failure(err)
	}
	return jsonResult(res)
}

func (h *handler) searchHandler(ctx context.Context, req *mcp.CallToolRequest, params searchParams) (*mcp.CallToolResult, any, error) {
	res, err := h.engine().Search(ctx, params.Query, params.Limit)
	if err != nil {
		return failure(err)
	}
	return jsonResult(res)
}

func (h *handler) run(ctx context.Context, r toolchain.Request, timeoutSecs int) (*mcp.CallToolResult, any, error) {
	if timeoutSecs < 0 {
		return failure(&toolchain.ValidationError{Field: "timeout_secs", Reason: "must not be negative"})
	}
	r.Timeout = time.Duration(timeoutSecs) * time.Second

	res, err := h.engine().RunTool(ctx, r)
	if err != nil {
		return failure(err)
	}
	return jsonResult(res)
}
