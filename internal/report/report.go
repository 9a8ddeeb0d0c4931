// Package report defines the records extracted from toolchain output
// (errors, todos, fixes) and the analyses that own them. The same shapes
// flow from the diagnostic parsers into the store and out to clients.
package report

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when no envelope exists for a run id.
var ErrRunNotFound = errors.New("run not found")

// Todo categories.
const (
	CategoryWarning       = "warning"       // compiler warning
	CategoryLint          = "lint"          // clippy lint
	CategoryVulnerability = "vulnerability" // cargo audit warning
)

// Analysis is one persisted tool invocation.
type Analysis struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Tool       string    `json:"tool"`
	Success    bool      `json:"success"`
	DurationMS int64     `json:"duration_ms"`
	Snippet    string    `json:"snippet,omitempty"`
	FilePath   string    `json:"file_path,omitempty"`
	FullOutput string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Error is a hard diagnostic, usually carrying a rustc error code.
type Error struct {
	ID         int64     `json:"id,omitempty"`
	AnalysisID int64     `json:"analysis_id,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	Code       string    `json:"error_code,omitempty"`
	Message    string    `json:"message"`
	File       string    `json:"file,omitempty"`
	Line       *int      `json:"line,omitempty"`
	Column     *int      `json:"column,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// Todo is a warning or suggestion worth coming back to. Only an explicit
// completion marks it done.
type Todo struct {
	ID          int64      `json:"id,omitempty"`
	AnalysisID  int64      `json:"analysis_id,omitempty"`
	Source      string     `json:"source"`
	Category    string     `json:"category,omitempty"`
	Description string     `json:"description"`
	File        string     `json:"file,omitempty"`
	Line        *int       `json:"line,omitempty"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at,omitzero"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Fix is a remediation applied by a fixing tool, optionally linked to the
// todo it addressed.
type Fix struct {
	ID           int64     `json:"id,omitempty"`
	AnalysisID   int64     `json:"analysis_id"`
	TodoID       *int64    `json:"todo_id,omitempty"`
	ErrorID      *int64    `json:"error_id,omitempty"`
	Diff         string    `json:"diff"`
	LinesAdded   int       `json:"lines_added"`
	LinesDeleted int       `json:"lines_deleted"`
	Worked       bool      `json:"worked"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
}

// Stats summarises the store.
type Stats struct {
	TotalAnalyses  int64      `json:"total_analyses"`
	TotalErrors    int64      `json:"total_errors"`
	ActiveTodos    int64      `json:"active_todos"`
	CompletedTodos int64      `json:"completed_todos"`
	TotalFixes     int64      `json:"total_fixes"`
	FirstAnalysis  *time.Time `json:"first_analysis,omitempty"`
	LastAnalysis   *time.Time `json:"last_analysis,omitempty"`
}

// Envelope is the serialisable form of one execution result.
type Envelope struct {
	RunID      string    `json:"run_id"`
	Tool       string    `json:"tool"`
	Status     int       `json:"status"`
	Success    bool      `json:"success"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	DurationMS int64     `json:"duration_ms"`
	Truncated  bool      `json:"truncated,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Int returns a pointer to n, for optional line and column fields.
func Int(n int) *int { return &n }
