// Package runner provides bounded command execution: workspace-confined
// working directories, concurrent output draining with size caps, a
// wall-clock deadline that kills the whole process group, and reaping.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Default values used when the Runner fields are left zero.
const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxOutput = 1 << 20 // 1 MB per stream
	DefaultKillGrace = 2 * time.Second
)

// Runner executes commands safely within a workspace boundary.
type Runner struct {
	Workspace  string
	ScratchDir string // absolute cwds under this directory are also allowed
	Timeout    time.Duration
	MaxOutput  int // bytes, per stream
	KillGrace  time.Duration
	Env        []string // appended to the inherited environment
}

// Run executes argv with the runner's default timeout.
// The first element is the binary name (resolved via PATH), and the rest are
// arguments. cwd is resolved relative to the workspace root.
func (r *Runner) Run(ctx context.Context, argv []string, cwd string) (*Result, error) {
	return r.RunWithTimeout(ctx, argv, cwd, 0)
}

// RunWithTimeout executes argv with an explicit deadline. A zero timeout
// falls back to r.Timeout.
//
// A process that exits non-zero is not an error: the returned Result has
// Success set to false and the exit code preserved. Errors are reserved for
// failures of the runner itself: *SpawnError, *TimeoutError, ErrCanceled
// and *ReapError.
func (r *Runner) RunWithTimeout(ctx context.Context, argv []string, cwd string, timeout time.Duration) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	dir, err := r.resolveDir(cwd)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = r.timeout()
	}
	maxOutput := r.maxOutput()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runID := uuid.New().String()

	var stdout, stderr limitWriter
	stdout.limit = maxOutput
	stderr.limit = maxOutput

	// Non-file writers make exec drain both streams concurrently, so a
	// child blocked on a full stderr pipe cannot stall stdout and vice versa.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	setProcessGroup(cmd)

	var stopped atomic.Bool
	cmd.Cancel = func() error {
		stopped.Store(true)
		return killProcessGroup(cmd)
	}
	// Descendants that left the group can keep the pipes open after the
	// child exits or is killed; exec closes them after the grace period.
	cmd.WaitDelay = r.killGrace()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("running %s: %w: %w", argv[0], ErrCanceled, context.Cause(ctx))
	}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Name: argv[0], Err: err}
	}
	waitErr := cmd.Wait()
	duration := time.Since(start)

	state := cmd.ProcessState
	if stopped.Load() && (state == nil || !state.Success()) {
		stopErr := r.stop(ctx, cmd, argv, timeout)
		var te *TimeoutError
		if errors.As(stopErr, &te) {
			te.Elapsed = duration
			te.Stdout = stdout.Bytes()
			te.Stderr = stderr.Bytes()
		}
		return nil, stopErr
	}
	if state == nil {
		return nil, &ReapError{Name: argv[0], Err: waitErr}
	}

	// A child that exited on its own keeps its status even when the
	// deadline passed while its descendants held the pipes.
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil,
		errors.As(waitErr, &exitErr),
		errors.Is(waitErr, exec.ErrWaitDelay),
		stopped.Load():
	default:
		return nil, &ReapError{Name: argv[0], Err: fmt.Errorf("reading output: %w", waitErr)}
	}
	exitCode := exitStatus(state)

	return &Result{
		RunID:     runID,
		Argv:      argv,
		Dir:       dir,
		ExitCode:  exitCode,
		Success:   exitCode == 0,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  duration,
	}, nil
}

// stop builds the error reported for a run that did not finish on its own.
func (r *Runner) stop(ctx context.Context, cmd *exec.Cmd, argv []string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Argv: argv, Timeout: timeout, Pid: cmd.Process.Pid}
	}
	return fmt.Errorf("running %s: %w: %w", argv[0], ErrCanceled, context.Cause(ctx))
}

// resolveDir resolves cwd relative to the workspace and validates it is
// within the workspace boundary or the scratch directory.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if cwd == "" {
		return r.Workspace, nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	if within(r.Workspace, dir) {
		return dir, nil
	}
	if r.ScratchDir != "" && within(r.ScratchDir, dir) {
		return dir, nil
	}
	return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
}

func within(root, dir string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r *Runner) maxOutput() int {
	if r.MaxOutput > 0 {
		return r.MaxOutput
	}
	return DefaultMaxOutput
}

func (r *Runner) killGrace() time.Duration {
	if r.KillGrace > 0 {
		return r.KillGrace
	}
	return DefaultKillGrace
}

// limitWriter writes up to limit bytes to buf, then silently discards the
// rest while still consuming it, so the child never blocks on the pipe.
// Each stream has its own writer; exec writes to it from one goroutine.
type limitWriter struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *limitWriter) Bytes() []byte { return w.buf.Bytes() }
