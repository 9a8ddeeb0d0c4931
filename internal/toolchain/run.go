package toolchain

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/deixis/rustytools/internal/diag"
	"github.com/deixis/rustytools/internal/metrics"
	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/runner"
)

// snippetBytes bounds the snippet kept with an analysis.
const snippetBytes = 2048

// Search result limits.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

var errorCodeRe = regexp.MustCompile(`^E\d{4}$`)

// Request is one tool invocation.
type Request struct {
	Tool      string
	Code      string   // snippet for src/main.rs; empty runs in the workspace
	CargoToml string   // manifest for the snippet scaffold
	Args      []string // positional arguments of rustc_explain and cargo_search
	Timeout   time.Duration
	Persist   bool
	TodoID    *int64 // links a cargo_fix fix to the todo it addresses
}

// ToolResult is the outcome of a tool that ran to completion, whatever its
// exit status.
type ToolResult struct {
	RunID          string `json:"run_id"`
	Tool           string `json:"tool"`
	Status         int    `json:"status"`
	Success        bool   `json:"success"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	DurationMS     int64  `json:"duration_ms"`
	Truncated      bool   `json:"truncated"`
	AnalysisID     *int64 `json:"analysis_id,omitempty"`
	ErrorsRecorded *int   `json:"errors_recorded,omitempty"`
	TodosRecorded  *int   `json:"todos_recorded,omitempty"`
	FixID          *int64 `json:"fix_id,omitempty"`
	PersistError   string `json:"persistence_warning,omitempty"`
	FixedCode      string `json:"fixed_code,omitempty"`
}

// Explain runs rustc --explain for an error code such as E0308.
func (e *Engine) Explain(ctx context.Context, code string) (*ToolResult, error) {
	return e.RunTool(ctx, Request{Tool: "rustc_explain", Args: []string{code}})
}

// Search queries crates.io. limit is clamped to [1, MaxSearchLimit] with
// DefaultSearchLimit for non-positive values.
func (e *Engine) Search(ctx context.Context, query string, limit int) (*ToolResult, error) {
	switch {
	case limit <= 0:
		limit = DefaultSearchLimit
	case limit > MaxSearchLimit:
		limit = MaxSearchLimit
	}
	return e.RunTool(ctx, Request{Tool: "cargo_search", Args: searchArgs(query, limit)})
}

// RunTool runs one catalogue tool.
//
// A tool that exits non-zero is not an error: the result has Success false
// and the output preserved. Errors are reserved for failures of the engine
// itself (*ValidationError, ErrToolUnavailable and the runner errors).
// Persistence failures never fail the call; they are reported in
// ToolResult.PersistError.
func (e *Engine) RunTool(ctx context.Context, req Request) (*ToolResult, error) {
	e.setup()

	tool, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	timeout := e.timeoutFor(tool, req.Timeout)

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	defer e.Metrics.Started()()

	ctx, span := e.tracer.Start(ctx, "toolchain."+tool.Name, trace.WithAttributes(
		attribute.String("tool", tool.Name),
		attribute.Bool("snippet", req.Code != ""),
		attribute.Bool("persist", req.Persist),
	))
	defer span.End()

	var (
		sc  *scaffold
		cwd string
	)
	if tool.Project && req.Code != "" {
		sc, err = newScaffold(e.ScratchDir, req.Code, req.CargoToml)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		defer sc.Remove()
		cwd = sc.Dir
	}

	argv := append(tool.Argv(req.Args), e.Config.ToolArgs(tool.Name)...)
	start := time.Now()
	res, err := e.Runner.RunWithTimeout(ctx, argv, cwd, timeout)
	if err != nil {
		err = unavailable(argv[0], err)
		e.Metrics.Observe(tool.Name, metrics.OutcomeError, time.Since(start))
		e.Logger.Error("tool failed to run", "tool", tool.Name, "kind", Kind(err), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("run_id", res.RunID),
		attribute.Int("exit_code", res.ExitCode),
	)
	outcome := metrics.OutcomeSuccess
	if !res.Success {
		outcome = metrics.OutcomeFailure
	}
	e.Metrics.Observe(tool.Name, outcome, res.Duration)
	e.Logger.Info("tool finished",
		"tool", tool.Name,
		"run_id", res.RunID,
		"exit_code", res.ExitCode,
		"duration_ms", res.DurationMS(),
	)

	tr := &ToolResult{
		RunID:      res.RunID,
		Tool:       tool.Name,
		Status:     res.ExitCode,
		Success:    res.Success,
		Stdout:     string(res.Stdout),
		Stderr:     string(res.Stderr),
		DurationMS: res.DurationMS(),
		Truncated:  res.Truncated,
	}
	if tool.Name == "cargo_fix" && sc != nil {
		if fixed, err := sc.Main(); err == nil {
			tr.FixedCode = fixed
		}
	}

	env := envelope(tr)
	e.Recent.Add(env)

	if req.Persist {
		if err := e.persist(ctx, tool, req, res, tr, env, sc); err != nil {
			tr.PersistError = err.Error()
			e.Metrics.PersistFailed(tool.Name)
			e.Logger.Warn("persisting tool result failed", "tool", tool.Name, "run_id", res.RunID, "error", err)
			span.AddEvent("persist failed", trace.WithAttributes(attribute.String("error", err.Error())))
		}
	}
	return tr, nil
}

func (e *Engine) validate(req Request) (Tool, error) {
	tool, ok := Lookup(req.Tool)
	if !ok {
		return Tool{}, invalid("tool", "unknown tool %q", req.Tool)
	}

	switch tool.Name {
	case "rustc_explain":
		if len(req.Args) == 0 || !errorCodeRe.MatchString(req.Args[0]) {
			return Tool{}, invalid("error_code", "must look like E0308")
		}
	case "cargo_search":
		if len(req.Args) == 0 || strings.TrimSpace(req.Args[0]) == "" {
			return Tool{}, invalid("query", "must not be empty")
		}
	}

	if !tool.Project {
		return tool, nil
	}
	if req.Code != "" {
		if strings.TrimSpace(req.Code) == "" {
			return Tool{}, invalid("code", "must not be empty")
		}
		if limit := e.Config.CodeLimit(); len(req.Code) > limit {
			return Tool{}, invalid("code", "%d bytes exceeds the limit of %d", len(req.Code), limit)
		}
		return tool, nil
	}
	if req.CargoToml != "" {
		return Tool{}, invalid("code", "required when cargo_toml is given")
	}
	if e.Workspace == "" {
		return Tool{}, invalid("code", "required when no workspace is configured")
	}
	if _, err := os.Stat(filepath.Join(e.Workspace, "Cargo.toml")); err != nil {
		return Tool{}, invalid("code", "required: %s has no Cargo.toml", e.Workspace)
	}
	return tool, nil
}

// timeoutFor picks the request timeout (capped), then the configured tool
// timeout, then the catalogue timeout, then the configured default.
func (e *Engine) timeoutFor(tool Tool, requested time.Duration) time.Duration {
	if requested > 0 {
		return min(requested, e.Config.MaxTimeout())
	}
	if d, ok := e.Config.ToolTimeout(tool.Name); ok {
		return d
	}
	if tool.Timeout > 0 {
		return tool.Timeout
	}
	return e.Config.Timeout()
}

// unavailable turns a missing-binary spawn failure into ErrToolUnavailable.
func unavailable(name string, err error) error {
	var se *runner.SpawnError
	if errors.As(err, &se) && errors.Is(err, exec.ErrNotFound) {
		return ErrToolUnavailable{Name: name, Err: err}
	}
	return err
}

func envelope(tr *ToolResult) *report.Envelope {
	return &report.Envelope{
		RunID:      tr.RunID,
		Tool:       tr.Tool,
		Status:     tr.Status,
		Success:    tr.Success,
		Stdout:     tr.Stdout,
		Stderr:     tr.Stderr,
		DurationMS: tr.DurationMS,
		Truncated:  tr.Truncated,
		CreatedAt:  time.Now().UTC(),
	}
}

// persist records the run, its diagnostics and, for cargo_fix, the fix.
func (e *Engine) persist(ctx context.Context, tool Tool, req Request, res *runner.Result, tr *ToolResult, env *report.Envelope, sc *scaffold) error {
	if e.Store == nil {
		return ErrNoStore
	}
	st, err := e.Store.Store(ctx)
	if err != nil {
		return err
	}

	parser, err := diag.New(tool.Parser)
	if err != nil {
		return err
	}
	ext := parser.Parse(tool.Name, res)
	if ext.Empty() && !res.Success {
		e.Logger.Debug("no diagnostics recognised in failed run", "tool", tool.Name, "run_id", res.RunID)
	}

	full, err := json.Marshal(env)
	if err != nil {
		return err
	}
	a := report.Analysis{
		RunID:      res.RunID,
		Tool:       tool.Name,
		Success:    res.Success,
		DurationMS: res.DurationMS(),
		FullOutput: string(full),
	}
	if req.Code != "" {
		a.Snippet = snippet(req.Code)
	} else {
		a.Snippet = snippet(tr.Stderr + tr.Stdout)
		if tool.Project {
			a.FilePath = e.Workspace
		}
	}

	id, err := st.Record(ctx, a, ext.Errors, ext.Todos)
	if err != nil {
		return err
	}
	nErrs, nTodos := len(ext.Errors), len(ext.Todos)
	tr.AnalysisID = &id
	tr.ErrorsRecorded = &nErrs
	tr.TodosRecorded = &nTodos
	e.Metrics.Recorded("error", nErrs)
	e.Metrics.Recorded("todo", nTodos)

	if tool.Name == "cargo_fix" && sc != nil && tr.FixedCode != "" && tr.FixedCode != req.Code {
		fixID, err := e.recordFix(ctx, st, sc, id, req, res.Success)
		if err != nil {
			return err
		}
		tr.FixID = &fixID
		e.Metrics.Recorded("fix", 1)
	}
	return nil
}

// snippet returns the first snippetBytes of s without splitting a rune.
func snippet(s string) string {
	if len(s) <= snippetBytes {
		return s
	}
	// Back up over a rune split at the cut; invalid bytes before it stay.
	cut := snippetBytes
	for i := 0; i < utf8.UTFMax-1 && cut > 0 && !utf8.RuneStart(s[cut]); i++ {
		cut--
	}
	return s[:cut]
}
