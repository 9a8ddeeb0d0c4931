package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/store"
)

const diffTimeout = 10 * time.Second

// recordFix diffs the snippet against what cargo fix left in the scaffold
// and stores the diff as a fix of analysisID.
func (e *Engine) recordFix(ctx context.Context, st *store.Store, sc *scaffold, analysisID int64, req Request, worked bool) (int64, error) {
	text, err := e.unifiedDiff(ctx, sc, req.Code)
	if err != nil {
		return 0, err
	}
	added, deleted, err := diffStats(text)
	if err != nil {
		return 0, fmt.Errorf("parse fix diff: %w", err)
	}
	return st.RecordFix(ctx, report.Fix{
		AnalysisID:   analysisID,
		TodoID:       req.TodoID,
		Diff:         text,
		LinesAdded:   added,
		LinesDeleted: deleted,
		Worked:       worked,
	})
}

// unifiedDiff runs diff -u between original and the scaffold's main.rs.
func (e *Engine) unifiedDiff(ctx context.Context, sc *scaffold, original string) (string, error) {
	const orig = "main.rs.orig"
	if err := os.WriteFile(filepath.Join(sc.Dir, orig), []byte(original), 0o644); err != nil {
		return "", fmt.Errorf("write original for diff: %w", err)
	}

	argv := []string{"diff", "-u", "--label", "a/src/main.rs", "--label", "b/src/main.rs", orig, filepath.Join("src", "main.rs")}
	res, err := e.Runner.RunWithTimeout(ctx, argv, sc.Dir, diffTimeout)
	if err != nil {
		return "", unavailable("diff", err)
	}
	// diff exits 1 when the files differ and 2 on trouble.
	if res.ExitCode > 1 {
		return "", &CommandError{Argv: argv, ExitCode: res.ExitCode, Stderr: string(res.Stderr)}
	}
	return string(res.Stdout), nil
}

// diffStats counts added and deleted lines of a unified diff.
func diffStats(text string) (added, deleted int, err error) {
	if strings.TrimSpace(text) == "" {
		return 0, 0, nil
	}
	files, err := diff.NewMultiFileDiffReader(strings.NewReader(text)).ReadAllFiles()
	if err != nil {
		return 0, 0, err
	}
	for _, fd := range files {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					added++
				case strings.HasPrefix(line, "-"):
					deleted++
				}
			}
		}
	}
	return added, deleted, nil
}
