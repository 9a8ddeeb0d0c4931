// Command rustytools runs the Rust toolchain for MCP clients and operators
// and keeps a history of what it found.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/deixis/rustytools"
	"github.com/deixis/rustytools/internal/config"
	"github.com/deixis/rustytools/internal/metrics"
	"github.com/deixis/rustytools/internal/store"
	"github.com/deixis/rustytools/internal/telemetry"
	"github.com/deixis/rustytools/internal/toolchain"
)

// errFailed makes the process exit 1 without printing anything more; the
// command already reported the failure.
var errFailed = errors.New("failed")

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "rustytools",
	Short: "Structured Rust toolchain runs for agents and operators",
	Long: `rustytools runs cargo, rustc, clippy and rustfmt with timeouts and output caps,
serves them over MCP, and records errors and todos in a local SQLite file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), rustytools.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (default from config, else info)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "rustytools: %v\n", err)
		}
		os.Exit(1)
	}
}

// app is what every command needs: the loaded configuration and an engine
// for the current workspace.
type app struct {
	loaded *config.LoadResult
	logger *slog.Logger
	engine *toolchain.Engine
	store  *store.Handle
	tracer *sdktrace.TracerProvider
}

func newApp(reg prometheus.Registerer) (*app, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	level := cfg.Level()
	if logLevel != "" {
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, fmt.Errorf("invalid --log-level %q", logLevel)
		}
	}
	logger := newLogger(level)

	scratch := filepath.Join(os.TempDir(), "rustytools")
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	tcfg := telemetry.ConfigFromEnv(rustytools.Version)
	tp, err := telemetry.Init(context.Background(), tcfg)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	handle := store.NewHandle(cfg.DBPath)
	logger.Debug("configuration loaded",
		"root", loaded.RepoRoot,
		"config", loaded.Path,
		"db", handle.Path(),
		"trace_exporter", tcfg.Exporter,
	)

	return &app{
		loaded: loaded,
		logger: logger,
		store:  handle,
		tracer: tp,
		engine: &toolchain.Engine{
			Config:         cfg,
			Runner:         toolchain.NewRunner(loaded.RepoRoot, scratch, cfg),
			Store:          handle,
			Metrics:        metrics.New(reg),
			Logger:         logger,
			Workspace:      loaded.RepoRoot,
			ScratchDir:     scratch,
			TracerProvider: tp,
		},
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("flushing traces", "error", err)
	}
}

// newLogger logs to stderr since stdout belongs to the stdio MCP transport:
// text for a terminal, JSON when stderr is captured by a client.
func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
