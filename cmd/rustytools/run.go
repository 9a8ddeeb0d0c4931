package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/deixis/rustytools/internal/toolchain"
)

var runFlags struct {
	persist   bool
	timeout   time.Duration
	json      bool
	cargoToml string
	limit     int
}

var runCmd = &cobra.Command{
	Use:   "run TOOL [FILE]",
	Short: "Run one tool on a file or on the workspace",
	Long: `Run one tool from the catalogue.

FILE is used as src/main.rs of a throwaway project ("-" reads stdin); without it
the tool runs in the workspace. rustc_explain takes an error code and
cargo_search a query instead of FILE.

Tools: ` + strings.Join(toolNames(), ", "),
	Args: cobra.RangeArgs(1, 2),
	RunE: runTool,
}

var checkFlags struct {
	persist bool
	json    bool
	steps   []string
	verbose bool
}

var checkCmd = &cobra.Command{
	Use:   "check [FILE]",
	Short: "Run the check pipeline and stop on first failure",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.persist, "persist", false, "record the run and its diagnostics")
	runCmd.Flags().DurationVar(&runFlags.timeout, "timeout", 0, "override the tool timeout (e.g. 2m)")
	runCmd.Flags().BoolVar(&runFlags.json, "json", false, "print the result as JSON")
	runCmd.Flags().StringVar(&runFlags.cargoToml, "cargo-toml", "", "Cargo.toml for the throwaway project")
	runCmd.Flags().IntVar(&runFlags.limit, "limit", toolchain.DefaultSearchLimit, "number of crates for cargo_search")

	checkCmd.Flags().BoolVar(&checkFlags.persist, "persist", false, "record every step")
	checkCmd.Flags().BoolVar(&checkFlags.json, "json", false, "print the result as JSON")
	checkCmd.Flags().StringSliceVar(&checkFlags.steps, "steps", nil, "steps to run (default from config)")
	checkCmd.Flags().BoolVarP(&checkFlags.verbose, "verbose", "v", false, "print the output of the failed step")

	rootCmd.AddCommand(runCmd, checkCmd)
}

func toolNames() []string {
	var names []string
	for _, t := range toolchain.Catalogue() {
		names = append(names, t.Name)
	}
	return names
}

func runTool(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	var res *toolchain.ToolResult
	switch tool := args[0]; tool {
	case "rustc_explain", "cargo_search":
		if len(args) < 2 {
			return fmt.Errorf("%s needs an argument", tool)
		}
		if tool == "rustc_explain" {
			res, err = a.engine.Explain(ctx, args[1])
		} else {
			res, err = a.engine.Search(ctx, args[1], runFlags.limit)
		}
	default:
		req := toolchain.Request{Tool: tool, Persist: runFlags.persist, Timeout: runFlags.timeout}
		if len(args) == 2 {
			if req.Code, err = readSource(cmd.InOrStdin(), args[1]); err != nil {
				return err
			}
		}
		if runFlags.cargoToml != "" {
			if req.CargoToml, err = readSource(cmd.InOrStdin(), runFlags.cargoToml); err != nil {
				return err
			}
		}
		res, err = a.engine.RunTool(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("%s [%s]", err, toolchain.Kind(err))
	}

	out := cmd.OutOrStdout()
	if runFlags.json {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, formatRunCLI(res))
	}
	if !res.Success {
		return errFailed
	}
	return nil
}

func formatRunCLI(res *toolchain.ToolResult) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	if res.FixedCode != "" {
		w("%s", res.FixedCode)
	} else if res.Stdout != "" {
		w("%s", res.Stdout)
	}
	if res.Stderr != "" {
		w("%s", res.Stderr)
	}
	if len(b) > 0 && b[len(b)-1] != '\n' {
		w("\n")
	}

	if res.Success {
		w("\nok  %s  %dms  run %s\n", res.Tool, res.DurationMS, res.RunID)
	} else {
		w("\nFAIL  %s  exit %d  %dms  run %s\n", res.Tool, res.Status, res.DurationMS, res.RunID)
	}
	if res.Truncated {
		w("output was truncated\n")
	}
	if res.AnalysisID != nil {
		w("recorded analysis %d: %d errors, %d todos\n", *res.AnalysisID, deref(res.ErrorsRecorded), deref(res.TodosRecorded))
	}
	if res.FixID != nil {
		w("recorded fix %d\n", *res.FixID)
	}
	if res.PersistError != "" {
		w("persistence warning: %s\n", res.PersistError)
	}
	return string(b)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer a.Close()

	req := toolchain.CheckRequest{Steps: checkFlags.steps, Persist: checkFlags.persist}
	if len(args) == 1 {
		if req.Code, err = readSource(cmd.InOrStdin(), args[0]); err != nil {
			return err
		}
	}

	result, err := a.engine.Check(ctx, req)
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}

	out := cmd.OutOrStdout()
	if checkFlags.json {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, formatCheckCLI(result, checkFlags.verbose))
	}
	if !result.Success {
		return errFailed
	}
	return nil
}

func formatCheckCLI(result *toolchain.CheckResult, verbose bool) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	if result.Success {
		w("ok\n")
	} else {
		w("FAIL\n")
	}
	w("\n")

	for _, s := range result.Steps {
		switch s.Status {
		case toolchain.StepPass:
			w("  %-15s ok\n", s.Name)
		case toolchain.StepFail:
			w("  %-15s FAIL\n", s.Name)
		case toolchain.StepUnavailable:
			w("  %-15s unavailable\n", s.Name)
		case toolchain.StepError:
			w("  %-15s error\n", s.Name)
		case toolchain.StepSkipped:
			w("  %-15s -\n", s.Name)
		}
	}
	w("\n")

	if !result.Success {
		failed := result.Steps[result.FailedIdx]
		if failed.Detail != "" {
			w("%s: %s\n", failed.Name, failed.Detail)
		}
		if verbose && failed.Output != "" {
			w("%s\n", failed.Output)
		}
	}
	return string(b)
}

// readSource reads path, or stdin for "-".
func readSource(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
