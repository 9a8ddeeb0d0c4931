package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("timed out")
	// ErrCanceled is returned when the caller's context is canceled before
	// the command finishes.
	ErrCanceled = errors.New("canceled")
)

// SpawnError reports that the command could not be started at all, for
// example because the executable is missing from PATH.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("executing %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// TimeoutError reports that the command was killed after its deadline.
// The output captured before the kill is kept for diagnostics.
type TimeoutError struct {
	Argv    []string
	Timeout time.Duration
	Elapsed time.Duration
	Pid     int
	Stdout  []byte
	Stderr  []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", strings.Join(e.Argv, " "), e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ReapError reports a failure while waiting for the process or reading its
// output, other than a non-zero exit status.
type ReapError struct {
	Name string
	Err  error
}

func (e *ReapError) Error() string {
	return fmt.Sprintf("waiting for %s: %v", e.Name, e.Err)
}

func (e *ReapError) Unwrap() error { return e.Err }
