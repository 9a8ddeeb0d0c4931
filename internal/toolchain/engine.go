// Package toolchain is the orchestration layer between the front ends and
// the core: it validates requests against the tool catalogue, runs tools
// through a CommandRunner, extracts diagnostics and persists them. It is
// consumed by both the MCP server and the CLI commands.
package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/deixis/rustytools/internal/config"
	"github.com/deixis/rustytools/internal/metrics"
	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/runner"
	"github.com/deixis/rustytools/internal/store"
)

// CommandRunner executes commands within a workspace.
// Implemented by runner.Runner.
type CommandRunner interface {
	RunWithTimeout(ctx context.Context, argv []string, cwd string, timeout time.Duration) (*runner.Result, error)
}

// recentRuns is the number of envelopes kept for cargo_output.
const recentRuns = 64

const tracerName = "github.com/deixis/rustytools/internal/toolchain"

// Engine holds shared dependencies for all tool operations.
type Engine struct {
	Config     *config.Config
	Runner     CommandRunner
	Store      *store.Handle // nil disables persistence
	Recent     *report.LRU
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Workspace  string // project tools without a snippet run here
	ScratchDir string // snippet scaffolds are created here

	// TracerProvider receives one span per tool invocation; nil uses the
	// global provider.
	TracerProvider trace.TracerProvider

	once   sync.Once
	slots  *semaphore.Weighted
	tracer trace.Tracer
}

// setup fills unset optional dependencies. It runs once per Engine.
func (e *Engine) setup() {
	e.once.Do(func() {
		if e.Config == nil {
			e.Config = &config.Config{}
		}
		if e.Logger == nil {
			e.Logger = slog.New(slog.DiscardHandler)
		}
		if e.Recent == nil {
			var back report.Loader
			if e.Store != nil {
				back = e.Store
			}
			e.Recent = report.NewLRU(recentRuns, back)
		}
		if e.TracerProvider == nil {
			e.TracerProvider = otel.GetTracerProvider()
		}
		e.tracer = e.TracerProvider.Tracer(tracerName)
		e.slots = semaphore.NewWeighted(int64(e.Config.Concurrency()))
	})
}

// acquire waits for an invocation slot.
func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a free slot: %w: %w", runner.ErrCanceled, err)
	}
	return func() { e.slots.Release(1) }, nil
}

// WithWorkspace returns an engine for another workspace that shares the
// store, recent runs, metrics and logger of e.
func (e *Engine) WithWorkspace(workspace string, cfg *config.Config, r CommandRunner) *Engine {
	e.setup()
	return &Engine{
		Config:         cfg,
		Runner:         r,
		Store:          e.Store,
		Recent:         e.Recent,
		Metrics:        e.Metrics,
		Logger:         e.Logger,
		Workspace:      workspace,
		ScratchDir:     e.ScratchDir,
		TracerProvider: e.TracerProvider,
	}
}

// NewRunner returns the runner used for workspace in production: scaffolds
// under scratch are allowed as working directories and cargo output is kept
// free of colour codes.
func NewRunner(workspace, scratch string, cfg *config.Config) *runner.Runner {
	return &runner.Runner{
		Workspace:  workspace,
		ScratchDir: scratch,
		Timeout:    cfg.Timeout(),
		MaxOutput:  cfg.MaxOutputBytes(),
		Env:        []string{"CARGO_TERM_COLOR=never"},
	}
}
