package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/rustytools/internal/toolchain"
)

type checkAllParams struct {
	Code    string   `json:"code,omitempty" jsonschema:"Rust source for src/main.rs of a throwaway cargo project. Omit to check the workspace."`
	Steps   []string `json:"steps,omitempty" jsonschema:"Tools to run in order (cargo_fmt, cargo_check, cargo_clippy, cargo_build, cargo_test, cargo_doc, cargo_audit). Defaults to the configured steps."`
	Persist bool     `json:"persist,omitempty" jsonschema:"Record every step's run and diagnostics. Default: false."`
}

func (h *handler) checkAllHandler(ctx context.Context, req *mcp.CallToolRequest, params checkAllParams) (*mcp.CallToolResult, any, error) {
	result, err := h.engine().Check(ctx, toolchain.CheckRequest{
		Code:    params.Code,
		Steps:   params.Steps,
		Persist: params.Persist,
	})
	if err != nil {
		return failure(err)
	}
	return textResult(formatCheck(result))
}

func formatCheck(result *toolchain.CheckResult) string {
	var b strings.Builder

	if result.Success {
		fmt.Fprintln(&b, "Status: PASS")
	} else {
		fmt.Fprintln(&b, "Status: FAIL")
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "Steps:")
	for _, r := range result.Steps {
		switch r.Status {
		case toolchain.StepUnavailable, toolchain.StepError:
			fmt.Fprintf(&b, "  %s: %s (%s)\n", r.Name, r.Status, r.Detail)
		case toolchain.StepSkipped:
			fmt.Fprintf(&b, "  %s: %s\n", r.Name, r.Status)
		default:
			fmt.Fprintf(&b, "  %s: %s (run %s, %dms)\n", r.Name, r.Status, r.RunID, r.DurationMS)
		}
		if r.PersistError != "" {
			fmt.Fprintf(&b, "    persistence warning: %s\n", r.PersistError)
		}
	}
	fmt.Fprintln(&b)

	if result.Success {
		fmt.Fprintln(&b, "All check steps passed.")
		return b.String()
	}

	failed := result.Steps[result.FailedIdx]
	fmt.Fprintf(&b, "Failed step: %s\n", failed.Name)
	if failed.Detail != "" && failed.Status == toolchain.StepFail {
		fmt.Fprintln(&b, failed.Detail)
	}
	if failed.Output != "" {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, failed.Output)
		fmt.Fprintln(&b)
	}

	switch failed.Status {
	case toolchain.StepUnavailable:
		fmt.Fprintf(&b, "Action: install the tool behind %s and re-run cargo_check_all.\n", failed.Name)
	case toolchain.StepError:
		fmt.Fprintln(&b, "Action: the step could not run; fix the cause above and re-run cargo_check_all.")
	default:
		fmt.Fprintf(&b, "Full output with cargo_output(run_id=%q).\n", failed.RunID)
	}
	return b.String()
}
