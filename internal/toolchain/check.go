package toolchain

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// Step statuses.
const (
	StepPass        = "pass"
	StepFail        = "fail"
	StepSkipped     = "skipped"
	StepUnavailable = "unavailable"
	StepError       = "error"
)

// checkSteps are the tools allowed in a check pipeline.
var checkSteps = []string{"cargo_fmt", "cargo_check", "cargo_clippy", "cargo_build", "cargo_test", "cargo_doc", "cargo_audit"}

// CheckRequest describes a check pipeline run.
type CheckRequest struct {
	Code    string   // snippet; empty checks the workspace
	Steps   []string // empty uses the configured steps
	Persist bool
}

// CheckResult holds the full outcome of a check run.
type CheckResult struct {
	Success   bool         `json:"success"`
	Steps     []StepResult `json:"steps"`
	FailedIdx int          `json:"failed_step"` // -1 if all passed
}

// StepResult holds the outcome of a single check step.
type StepResult struct {
	Name         string `json:"name"`
	Status       string `json:"status"` // pass, fail, skipped, unavailable, error
	RunID        string `json:"run_id,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	Detail       string `json:"detail,omitempty"` // extra info (e.g. "cargo-audit not installed")
	Output       string `json:"output,omitempty"` // tail of the tool output (only on failure)
	AnalysisID   *int64 `json:"analysis_id,omitempty"`
	PersistError string `json:"persistence_warning,omitempty"`
}

// outputTail bounds StepResult.Output.
const outputTail = 4096

// Check runs the configured steps on the same code in sequence, stopping
// on the first failure. A step fails when its tool exits non-zero; the
// cargo_fmt step also fails when the snippet is not formatted.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	e.setup()

	steps := req.Steps
	if len(steps) == 0 {
		steps = e.Config.CheckSteps()
	}
	for _, s := range steps {
		if !slices.Contains(checkSteps, s) {
			return nil, invalid("steps", "unknown step %q", s)
		}
	}

	results := make([]StepResult, len(steps))
	for i, step := range steps {
		results[i] = StepResult{Name: step, Status: StepSkipped}
	}

	failedIdx := -1
	for i, step := range steps {
		tr := Request{Tool: step, Code: req.Code, Persist: req.Persist}
		if step == "cargo_fmt" && req.Code == "" {
			tr.Args = []string{"--check"}
		}

		res, err := e.RunTool(ctx, tr)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, err
			}
			var unavail ErrToolUnavailable
			if errors.As(err, &unavail) {
				results[i] = StepResult{Name: step, Status: StepUnavailable, Detail: err.Error()}
			} else {
				results[i] = StepResult{Name: step, Status: StepError, Detail: err.Error()}
			}
			failedIdx = i
			break
		}

		sr := StepResult{
			Name:         step,
			Status:       StepPass,
			RunID:        res.RunID,
			DurationMS:   res.DurationMS,
			AnalysisID:   res.AnalysisID,
			PersistError: res.PersistError,
		}
		switch {
		case !res.Success:
			sr.Status = StepFail
			sr.Output = tail(res.Stderr+res.Stdout, outputTail)
		case step == "cargo_fmt" && req.Code != "" && formatted(res.Stdout) != strings.TrimSpace(req.Code):
			sr.Status = StepFail
			sr.Detail = "code is not formatted"
			sr.Output = tail(res.Stdout, outputTail)
		}
		results[i] = sr

		if sr.Status != StepPass {
			failedIdx = i
			break
		}
	}

	return &CheckResult{
		Success:   failedIdx < 0,
		Steps:     results,
		FailedIdx: failedIdx,
	}, nil
}

// tail returns the last n bytes of s, starting at a line boundary when one
// is available.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}

// formatted strips the file header rustfmt prints before emitted source.
func formatted(stdout string) string {
	s := strings.TrimLeft(stdout, "\n")
	if first, rest, ok := strings.Cut(s, "\n"); ok && strings.HasSuffix(first, ".rs:") {
		s = rest
	}
	return strings.TrimSpace(s)
}
