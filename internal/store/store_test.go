package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/rustytools/internal/report"
)

// stepClock returns a clock that advances one second per call so ordering
// by creation time is deterministic.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rusty-tools.db")
	s, err := Open(context.Background(), path, WithClock(stepClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func recordRun(t *testing.T, s *Store, tool string, errs []report.Error, todos []report.Todo) int64 {
	t.Helper()
	id, err := s.Record(context.Background(), report.Analysis{
		RunID:      fmt.Sprintf("run-%s-%d", tool, time.Now().UnixNano()),
		Tool:       tool,
		Success:    len(errs) == 0,
		DurationMS: 42,
	}, errs, todos)
	require.NoError(t, err)
	return id
}

func tableNames(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestOpen_CreatesTables(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, []string{"analyses", "errors", "fixes", "meta", "todos"}, tableNames(t, s.db))

	var version string
	require.NoError(t, s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version))
	assert.Equal(t, "2", version)
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "rusty-tools.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, path, s.Path())
}

func TestOpen_UsesWAL(t *testing.T) {
	s := openTestStore(t)
	var mode string
	require.NoError(t, s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rusty-tools.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	recordRun(t, s, "cargo_check", []report.Error{{Code: "E0308", Message: "mismatched types", Line: report.Int(3)}}, nil)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"analyses", "errors", "fixes", "meta", "todos"}, tableNames(t, s.db))
	errs, err := s.QueryErrors(ctx, ErrorFilter{})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "E0308", errs[0].Code)

	var metaRows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM meta`).Scan(&metaRows))
	assert.Equal(t, 1, metaRows)
}

func TestOpen_FailsWhenDirectoryIsAFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))

	_, err := Open(context.Background(), filepath.Join(parent, "rusty-tools.db"))
	assert.Error(t, err)
}

// legacySchema is the layout written by the first release.
const legacySchema = `
CREATE TABLE analyses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	file_path TEXT,
	tool TEXT NOT NULL,
	full_output TEXT NOT NULL,
	success BOOLEAN NOT NULL
);
CREATE TABLE errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL,
	error_code TEXT,
	message TEXT NOT NULL,
	file TEXT,
	line INTEGER,
	suggestion TEXT,
	FOREIGN KEY (analysis_id) REFERENCES analyses (id)
);
CREATE TABLE todos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	source TEXT NOT NULL,
	description TEXT NOT NULL,
	file_path TEXT,
	line_number INTEGER,
	completed BOOLEAN DEFAULT 0
);
CREATE TABLE fixes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	error_id INTEGER,
	fix_applied TEXT NOT NULL,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	worked BOOLEAN,
	FOREIGN KEY (error_id) REFERENCES errors (id)
);
INSERT INTO analyses (tool, full_output, success) VALUES ('cargo_check', '{}', 0);
INSERT INTO errors (analysis_id, error_code, message, file, line) VALUES (1, 'E0382', 'use of moved value', 'src/main.rs', 'n/a');
INSERT INTO todos (source, description, line_number) VALUES ('cargo_clippy', 'unused variable: x', 4);
`

func writeLegacyFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(legacySchema)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func TestOpen_EvolvesLegacySchema(t *testing.T) {
	ctx := context.Background()
	path := writeLegacyFile(t)

	s, err := Open(ctx, path, WithClock(stepClock()))
	require.NoError(t, err)
	defer s.Close()

	for _, b := range backfills {
		tx, err := s.db.Begin()
		require.NoError(t, err)
		ok, err := hasColumn(ctx, tx, b.table, b.column)
		require.NoError(t, tx.Rollback())
		require.NoError(t, err)
		assert.True(t, ok, "%s.%s missing", b.table, b.column)
	}

	errs, err := s.QueryErrors(ctx, ErrorFilter{Code: "E0382"})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "use of moved value", errs[0].Message)
	assert.Equal(t, "cargo_check", errs[0].Tool)
	assert.Nil(t, errs[0].Line, "text in a numeric column reads as absent")
	assert.False(t, errs[0].CreatedAt.IsZero(), "falls back to the analysis timestamp")

	todos, err := s.QueryTodos(ctx, TodoFilter{})
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Zero(t, todos[0].AnalysisID)
	require.NotNil(t, todos[0].Line)
	assert.Equal(t, 4, *todos[0].Line)

	// New writes work against the evolved file.
	id := recordRun(t, s, "cargo_check", []report.Error{{Code: "E0308", Message: "mismatched types", Line: report.Int(7), Column: report.Int(9)}}, nil)
	require.NoError(t, s.DeleteAnalysis(ctx, id))
}

func TestRecord_LineIsStoredAsInteger(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	recordRun(t, s, "cargo_check", []report.Error{{
		Code: "E0308", Message: "mismatched types", File: "src/main.rs",
		Line: report.Int(12), Column: report.Int(18),
	}}, nil)

	var lineType, colType string
	require.NoError(t, s.db.QueryRow(`SELECT typeof(line), typeof(column_number) FROM errors`).Scan(&lineType, &colType))
	assert.Equal(t, "integer", lineType)
	assert.Equal(t, "integer", colType)

	errs, err := s.QueryErrors(ctx, ErrorFilter{Code: "E0308", Limit: 3})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.NotNil(t, errs[0].Line)
	require.NotNil(t, errs[0].Column)
	assert.Equal(t, 12, *errs[0].Line)
	assert.Equal(t, 18, *errs[0].Column)
}

func TestRecord_AbsentLineIsNull(t *testing.T) {
	s := openTestStore(t)
	recordRun(t, s, "cargo_check", []report.Error{{Message: "linking failed"}}, nil)

	var lineType string
	require.NoError(t, s.db.QueryRow(`SELECT typeof(line) FROM errors`).Scan(&lineType))
	assert.Equal(t, "null", lineType)
}

func TestSchema_RejectsTextLine(t *testing.T) {
	s := openTestStore(t)
	id := recordRun(t, s, "cargo_check", nil, nil)

	_, err := s.db.Exec(`INSERT INTO errors (analysis_id, message, line) VALUES (?, 'm', 'twelve')`, id)
	assert.Error(t, err)
	_, err = s.db.Exec(`INSERT INTO todos (analysis_id, source, description, line_number) VALUES (?, 's', 'd', 'x')`, id)
	assert.Error(t, err)
}

func TestRecordAnalysis_Separately(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.RecordAnalysis(ctx, report.Analysis{RunID: "r1", Tool: "cargo_clippy", Success: true, Snippet: "fn main() {}"})
	require.NoError(t, err)
	require.NoError(t, s.RecordErrors(ctx, id, []report.Error{{Code: "E0599", Message: "no method"}}))
	require.NoError(t, s.RecordTodos(ctx, id, []report.Todo{{Source: "cargo_clippy", Description: "needless return"}}))
	require.NoError(t, s.RecordErrors(ctx, id, nil))
	require.NoError(t, s.RecordTodos(ctx, id, nil))

	a, err := s.AnalysisByRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, "cargo_clippy", a.Tool)
	assert.Equal(t, "fn main() {}", a.Snippet)
	assert.Equal(t, "{}", a.FullOutput)
	assert.True(t, a.CreatedAt.Equal(time.Date(2025, 3, 1, 12, 0, 1, 0, time.UTC)), "created at %v", a.CreatedAt)

	_, err = s.Analysis(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AnalysisByRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordErrors_UnknownAnalysis(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordErrors(context.Background(), 404, []report.Error{{Message: "m"}})
	assert.Error(t, err)
}

func TestQueryErrors_OrderingAndFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	recordRun(t, s, "cargo_check", []report.Error{{Code: "E0308", Message: "first"}}, nil)
	recordRun(t, s, "cargo_check", []report.Error{{Code: "E0425", Message: "second"}}, nil)
	recordRun(t, s, "cargo_build", []report.Error{{Code: "E0308", Message: "third"}}, nil)

	all, err := s.QueryErrors(ctx, ErrorFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{all[0].Message, all[1].Message, all[2].Message})
	assert.Equal(t, "cargo_build", all[0].Tool)

	filtered, err := s.QueryErrors(ctx, ErrorFilter{Code: "E0308"})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "third", filtered[0].Message)
	assert.Equal(t, "first", filtered[1].Message)

	limited, err := s.QueryErrors(ctx, ErrorFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "third", limited[0].Message)

	none, err := s.QueryErrors(ctx, ErrorFilter{Code: "E9999"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryErrors_DefaultLimit(t *testing.T) {
	s := openTestStore(t)
	var errs []report.Error
	for i := range 15 {
		errs = append(errs, report.Error{Message: fmt.Sprintf("e%d", i)})
	}
	recordRun(t, s, "cargo_check", errs, nil)

	got, err := s.QueryErrors(context.Background(), ErrorFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, "e14", got[0].Message)
}

func TestTodos_CompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id := recordRun(t, s, "cargo_clippy", nil, []report.Todo{
		{Source: "cargo_clippy", Category: report.CategoryWarning, Description: "unused variable: `x`", File: "src/main.rs", Line: report.Int(2)},
		{Source: "cargo_clippy", Category: report.CategoryLint, Description: "needless return"},
	})

	active, err := s.QueryTodos(ctx, TodoFilter{})
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, td := range active {
		assert.False(t, td.Completed)
		assert.Nil(t, td.CompletedAt)
		assert.Equal(t, id, td.AnalysisID)
	}

	target := active[0].ID
	require.NoError(t, s.CompleteTodo(ctx, target))

	active, err = s.QueryTodos(ctx, TodoFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotEqual(t, target, active[0].ID)

	all, err := s.QueryTodos(ctx, TodoFilter{ShowCompleted: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	var done report.Todo
	for _, td := range all {
		if td.ID == target {
			done = td
		}
	}
	assert.True(t, done.Completed)
	require.NotNil(t, done.CompletedAt)
	first := *done.CompletedAt

	// Completing again is a no-op that keeps the first completion time.
	require.NoError(t, s.CompleteTodo(ctx, target))
	all, err = s.QueryTodos(ctx, TodoFilter{ShowCompleted: true})
	require.NoError(t, err)
	for _, td := range all {
		if td.ID == target {
			require.NotNil(t, td.CompletedAt)
			assert.Equal(t, first, *td.CompletedAt)
		}
	}
}

func TestCompleteTodo_Unknown(t *testing.T) {
	s := openTestStore(t)
	err := s.CompleteTodo(context.Background(), 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalAnalyses)
	assert.Nil(t, empty.FirstAnalysis)

	recordRun(t, s, "cargo_check", []report.Error{{Message: "a"}, {Message: "b"}}, nil)
	id := recordRun(t, s, "cargo_clippy", nil, []report.Todo{{Source: "cargo_clippy", Description: "x"}, {Source: "cargo_clippy", Description: "y"}})
	_, err = s.RecordFix(ctx, report.Fix{AnalysisID: id, Diff: "--- a\n+++ b\n", LinesAdded: 1, Worked: true})
	require.NoError(t, err)

	todos, err := s.QueryTodos(ctx, TodoFilter{})
	require.NoError(t, err)
	require.NoError(t, s.CompleteTodo(ctx, todos[0].ID))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.TotalAnalyses)
	assert.EqualValues(t, 2, st.TotalErrors)
	assert.EqualValues(t, 1, st.ActiveTodos)
	assert.EqualValues(t, 1, st.CompletedTodos)
	assert.EqualValues(t, 1, st.TotalFixes)
	require.NotNil(t, st.FirstAnalysis)
	require.NotNil(t, st.LastAnalysis)
	assert.True(t, st.FirstAnalysis.Before(*st.LastAnalysis))
}

func TestDeleteAnalysis_Cascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doomed := recordRun(t, s, "cargo_clippy",
		[]report.Error{{Code: "E0308", Message: "m"}},
		[]report.Todo{{Source: "cargo_clippy", Description: "unused"}})
	kept := recordRun(t, s, "cargo_fix", nil, nil)

	todos, err := s.QueryTodos(ctx, TodoFilter{})
	require.NoError(t, err)
	require.Len(t, todos, 1)
	todoID := todos[0].ID

	_, err = s.RecordFix(ctx, report.Fix{AnalysisID: doomed, Diff: "d1"})
	require.NoError(t, err)
	keptFix, err := s.RecordFix(ctx, report.Fix{AnalysisID: kept, TodoID: &todoID, Diff: "d2"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteAnalysis(ctx, doomed))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM errors WHERE analysis_id = ?`, doomed).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM todos WHERE analysis_id = ?`, doomed).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM fixes`).Scan(&n))
	assert.Equal(t, 1, n)

	var todoRef sql.NullInt64
	require.NoError(t, s.db.QueryRow(`SELECT todo_id FROM fixes WHERE id = ?`, keptFix).Scan(&todoRef))
	assert.False(t, todoRef.Valid)

	assert.ErrorIs(t, s.DeleteAnalysis(ctx, doomed), ErrNotFound)
}

func TestDeleteAnalysis_LegacyFile(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, writeLegacyFile(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.Exec(`INSERT INTO fixes (error_id, fix_applied) VALUES (1, 'diff')`)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAnalysis(ctx, 1))
	errs, err := s.QueryErrors(ctx, ErrorFilter{})
	require.NoError(t, err)
	assert.Empty(t, errs)

	var ref sql.NullInt64
	require.NoError(t, s.db.QueryRow(`SELECT error_id FROM fixes`).Scan(&ref))
	assert.False(t, ref.Valid)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := range 5 {
		recordRun(t, s, "cargo_check", []report.Error{{Message: fmt.Sprintf("e%d", i)}}, nil)
	}

	deleted, err := s.Prune(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	errs, err := s.QueryErrors(ctx, ErrorFilter{})
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "e4", errs[0].Message)
	assert.Equal(t, "e3", errs[1].Message)

	deleted, err = s.Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = s.Prune(ctx, -1)
	assert.Error(t, err)
}

func TestConcurrentRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Record(ctx, report.Analysis{Tool: "cargo_check", RunID: fmt.Sprintf("r%d", i)},
				[]report.Error{{Message: "m", Line: report.Int(i + 1)}},
				[]report.Todo{{Source: "cargo_check", Description: "w"}})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, workers, st.TotalAnalyses)
	assert.EqualValues(t, workers, st.TotalErrors)
	assert.EqualValues(t, workers, st.ActiveTodos)
}

func TestHandle_ExistingDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "rusty-tools.db")
	h := NewHandle(path)
	defer h.Close()

	_, err := h.Existing(ctx)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err), "directory must not be created by a read")

	_, err = h.LoadEnvelope(ctx, "nope")
	assert.ErrorIs(t, err, report.ErrRunNotFound)

	st, err := h.Store(ctx)
	require.NoError(t, err)
	again, err := h.Existing(ctx)
	require.NoError(t, err)
	assert.Same(t, st, again)
	assert.Equal(t, path, h.Path())
}

func TestHandle_ExistingOpensFileFromEarlierProcess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rusty-tools.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	h := NewHandle(path)
	defer h.Close()
	st, err := h.Existing(ctx)
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestHandle_LoadEnvelope(t *testing.T) {
	ctx := context.Background()
	h := NewHandle(filepath.Join(t.TempDir(), "rusty-tools.db"))
	defer h.Close()

	st, err := h.Store(ctx)
	require.NoError(t, err)

	env := report.Envelope{RunID: "run-1", Tool: "cargo_check", Status: 101, Stdout: "out", Stderr: "error[E0308]"}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = st.RecordAnalysis(ctx, report.Analysis{RunID: "run-1", Tool: "cargo_check", FullOutput: string(raw)})
	require.NoError(t, err)

	got, err := h.LoadEnvelope(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 101, got.Status)
	assert.Equal(t, "error[E0308]", got.Stderr)

	_, err = h.LoadEnvelope(ctx, "run-2")
	assert.ErrorIs(t, err, report.ErrRunNotFound)

	var _ report.Loader = h
}
