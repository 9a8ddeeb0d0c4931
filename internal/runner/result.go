package runner

import "time"

// Result holds the output of a command execution.
type Result struct {
	RunID     string        // unique identifier for this run
	Argv      []string      // command that was executed
	Dir       string        // resolved working directory
	ExitCode  int           // process exit code; 128+signal when killed by a signal
	Success   bool          // ExitCode == 0, never derived from output
	Stdout    []byte        // captured stdout (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	Truncated bool          // true if either stream exceeded the size cap
	Duration  time.Duration // spawn to reap
}

// DurationMS returns the elapsed time in whole milliseconds.
func (r *Result) DurationMS() int64 {
	return r.Duration.Milliseconds()
}
