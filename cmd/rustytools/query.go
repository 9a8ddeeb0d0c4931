package main

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/toolchain"
)

var historyFlags struct {
	code  string
	limit int
	json  bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded errors, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.Close()

		errs, err := a.engine.History(cmd.Context(), toolchain.HistoryQuery{ErrorCode: historyFlags.code, Limit: historyFlags.limit})
		if err != nil {
			return err
		}
		if historyFlags.json {
			return writeJSON(cmd.OutOrStdout(), errs)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatHistory(errs))
		return nil
	},
}

var todosFlags struct {
	all  bool
	json bool
}

var todosCmd = &cobra.Command{
	Use:   "todos",
	Short: "List recorded todos, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.Close()

		todos, err := a.engine.Todos(cmd.Context(), todosFlags.all)
		if err != nil {
			return err
		}
		if todosFlags.json {
			return writeJSON(cmd.OutOrStdout(), todos)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatTodos(todos))
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete ID",
	Short: "Mark a todo as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid todo id %q", args[0])
		}

		a, err := newApp(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.engine.CompleteTodo(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "todo %d completed\n", id)
		return nil
	},
}

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the analysis database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.engine.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if statsJSON {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		fmt.Fprint(cmd.OutOrStdout(), formatStats(a.store.Path(), stats))
		return nil
	},
}

var pruneKeep int

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest analyses and their records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("keep") {
			return fmt.Errorf("--keep is required")
		}
		a, err := newApp(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.engine.Prune(cmd.Context(), pruneKeep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d analyses\n", n)
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyFlags.code, "code", "", "only errors with this code (e.g. E0308)")
	historyCmd.Flags().IntVar(&historyFlags.limit, "limit", toolchain.DefaultHistoryLimit, "maximum number of errors")
	historyCmd.Flags().BoolVar(&historyFlags.json, "json", false, "print as JSON")

	todosCmd.Flags().BoolVar(&todosFlags.all, "all", false, "include completed todos")
	todosCmd.Flags().BoolVar(&todosFlags.json, "json", false, "print as JSON")

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print as JSON")

	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 0, "number of most recent analyses to keep")

	rootCmd.AddCommand(historyCmd, todosCmd, completeCmd, statsCmd, pruneCmd)
}

func formatHistory(errs []report.Error) string {
	if len(errs) == 0 {
		return "no recorded errors\n"
	}
	var b []byte
	for _, e := range errs {
		code := e.Code
		if code == "" {
			code = "-"
		}
		b = fmt.Appendf(b, "%-6s %-13s %s  %s\n", code, e.Tool, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Message)
		if loc := location(e.File, e.Line); loc != "" {
			b = fmt.Appendf(b, "       at %s\n", loc)
		}
		if e.Suggestion != "" {
			b = fmt.Appendf(b, "       help: %s\n", e.Suggestion)
		}
	}
	return string(b)
}

func formatTodos(todos []report.Todo) string {
	if len(todos) == 0 {
		return "no todos\n"
	}
	var b []byte
	for _, t := range todos {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		b = fmt.Appendf(b, "[%s] %4d  %-13s %s\n", mark, t.ID, t.Source, t.Description)
		if loc := location(t.File, t.Line); loc != "" {
			b = fmt.Appendf(b, "            at %s\n", loc)
		}
	}
	return string(b)
}

func formatStats(path string, s *report.Stats) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}
	w("Database: %s\n\n", path)
	w("  analyses         %d\n", s.TotalAnalyses)
	w("  errors           %d\n", s.TotalErrors)
	w("  active todos     %d\n", s.ActiveTodos)
	w("  completed todos  %d\n", s.CompletedTodos)
	w("  fixes            %d\n", s.TotalFixes)
	if s.FirstAnalysis != nil && s.LastAnalysis != nil {
		w("\n  first %s, last %s\n",
			s.FirstAnalysis.Local().Format("2006-01-02 15:04"),
			s.LastAnalysis.Local().Format("2006-01-02 15:04"))
	}
	return string(b)
}

func location(file string, line *int) string {
	switch {
	case file == "":
		return ""
	case line == nil:
		return file
	default:
		return file + ":" + strconv.Itoa(*line)
	}
}
