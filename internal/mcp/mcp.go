// Package mcp provides the rustytools MCP server, registering the toolchain
// tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/rustytools"
	"github.com/deixis/rustytools/internal/config"
	"github.com/deixis/rustytools/internal/toolchain"
)

//go:embed instructions.md
var Instructions string

// RunnerFactory builds the command runner for a workspace.
type RunnerFactory func(workspace string, cfg *config.Config) toolchain.CommandRunner

// handler holds shared dependencies for all tool handlers.
type handler struct {
	eng       atomic.Pointer[toolchain.Engine] // swapped when the client reports roots
	newRunner RunnerFactory
	logger    *slog.Logger
}

func (h *handler) engine() *toolchain.Engine { return h.eng.Load() }

// NewServer creates an MCP server with every rustytools tool registered.
func NewServer(eng *toolchain.Engine, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}
	h := &handler{newRunner: so.newRunner, logger: so.logger}
	if h.newRunner == nil {
		h.newRunner = func(workspace string, cfg *config.Config) toolchain.CommandRunner {
			return toolchain.NewRunner(workspace, eng.ScratchDir, cfg)
		}
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	h.eng.Store(eng)

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "rustytools", Version: rustytools.Version}, mcpOpts)

	registerToolchainTools(s, h)

	mcp.AddTool(s, &mcp.Tool{
		Name: "cargo_check_all",
		Description: `Run the check pipeline (cargo_fmt, cargo_check, cargo_clippy, cargo_test by default) and stop on first failure.

Use this after changing code. Pass code to check a snippet, or omit it to check the workspace.
Each step's run_id can be passed to cargo_output for the full output.`,
	}, h.checkAllHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cargo_history",
		Description: "List recorded errors, most recent first. Only runs made with persist=true are recorded.",
	}, h.historyHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cargo_todos",
		Description: "List recorded warnings and suggestions (todos), most recent first.",
	}, h.todosHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cargo_complete_todo",
		Description: "Mark a todo as completed by id. Completed todos are hidden from cargo_todos unless show_completed is set.",
	}, h.completeTodoHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "db_stats",
		Description: "Summarise the analysis database: analyses, errors, active and completed todos, fixes.",
	}, h.statsHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cargo_output",
		Description: "Return the full output of an earlier run by run_id.",
	}, h.outputHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cargo_workspace",
		Description: "Summarise the cargo workspace: root, target directory and member packages.",
	}, h.workspaceHandler)

	return s
}

// ServerOption configures the rustytools MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	newRunner RunnerFactory
	logger    *slog.Logger
}

// WithRunnerFactory overrides how runners are built when the workspace
// changes.
func WithRunnerFactory(f RunnerFactory) ServerOption {
	return func(o *serverOptions) {
		o.newRunner = f
	}
}

// WithLogger sets the logger used for session events.
func WithLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = l
	}
}

// updateWorkspaceFromRoots queries the client for MCP roots and switches
// to the first file root.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}
	if err := h.useWorkspace(u.Path); err != nil {
		h.logger.Warn("ignoring client root", "root", u.Path, "error", err)
	}
}

// useWorkspace loads the configuration of workspace and swaps in an engine
// for it. The store and recent runs are kept.
func (h *handler) useWorkspace(workspace string) error {
	loaded, err := config.Load(workspace)
	if err != nil {
		return err
	}
	cur := h.engine()
	next := cur.WithWorkspace(loaded.RepoRoot, loaded.Config, h.newRunner(loaded.RepoRoot, loaded.Config))
	h.eng.Store(next)
	h.logger.Info("workspace changed", "workspace", loaded.RepoRoot)
	return nil
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encoding result: " + err.Error())
	}
	return textResult(string(data))
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// failure reports an infrastructure error as {"error": {kind, message}}.
func failure(err error) (*mcp.CallToolResult, any, error) {
	data, merr := json.MarshalIndent(map[string]errorBody{
		"error": {Kind: toolchain.Kind(err), Message: err.Error()},
	}, "", "  ")
	if merr != nil {
		return errorResult(err.Error())
	}
	return errorResult(string(data))
}

// queryResult wraps a read-only payload as {"result": v}.
func queryResult(v any) (*mcp.CallToolResult, any, error) {
	return jsonResult(map[string]any{"result": v})
}
