package toolchain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/runner"
	"github.com/deixis/rustytools/internal/store"
)

// ErrNoStore is returned when persistence is requested but the engine has
// no store configured.
var ErrNoStore = errors.New("persistence is not configured")

// ValidationError rejects a request before anything runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StoreError wraps a failure of the persistence store on a read path.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// CommandError reports a helper command that the engine itself depends on
// (not a user-facing tool) exiting non-zero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", strings.Join(e.Argv, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + firstLine(s)
	}
	return msg
}

// install hints for binaries the catalogue depends on.
var installHints = map[string]string{
	"cargo": "install Rust with rustup: https://rustup.rs",
	"rustc": "install Rust with rustup: https://rustup.rs",
	"diff":  "install GNU diffutils",
}

// ErrToolUnavailable is returned when a required binary is not installed.
// It wraps the underlying spawn failure.
type ErrToolUnavailable struct {
	Name string
	Err  error
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if hint, ok := installHints[e.Name]; ok {
		fmt.Fprintf(&b, "\nInstall: %s", hint)
	}
	return b.String()
}

func (e ErrToolUnavailable) Unwrap() error { return e.Err }

// Error kinds reported to clients.
const (
	KindSpawn      = "spawn"
	KindTimeout    = "timeout"
	KindCanceled   = "canceled"
	KindReap       = "reap"
	KindValidation = "validation"
	KindStore      = "store"
	KindNotFound   = "not_found"
	KindToolchain  = "toolchain"
	KindInternal   = "internal"
)

// Kind classifies err for clients. Toolchain failures of user-facing tools
// are not errors and never reach here.
func Kind(err error) string {
	var (
		ve *ValidationError
		te *runner.TimeoutError
		se *runner.SpawnError
		re *runner.ReapError
		st *StoreError
		ce *CommandError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, store.ErrNotFound), errors.Is(err, report.ErrRunNotFound):
		return KindNotFound
	case errors.As(err, &te):
		return KindTimeout
	case errors.Is(err, runner.ErrCanceled):
		return KindCanceled
	case errors.As(err, &se):
		return KindSpawn
	case errors.As(err, &re):
		return KindReap
	case errors.As(err, &st), errors.Is(err, ErrNoStore):
		return KindStore
	case errors.As(err, &ce):
		return KindToolchain
	default:
		return KindInternal
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
