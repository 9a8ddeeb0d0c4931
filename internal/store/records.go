package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deixis/rustytools/internal/report"
)

// ErrorFilter selects errors for QueryErrors.
type ErrorFilter struct {
	Code  string // exact error code; empty matches all
	Limit int
}

// TodoFilter selects todos for QueryTodos.
type TodoFilter struct {
	ShowCompleted bool
}

// RecordAnalysis inserts an analysis and returns its id.
func (s *Store) RecordAnalysis(ctx context.Context, a report.Analysis) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertAnalysis(ctx, tx, a)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("record analysis: %w", err)
	}
	return id, nil
}

// RecordErrors inserts errs under analysisID.
func (s *Store) RecordErrors(ctx context.Context, analysisID int64, errs []report.Error) error {
	if len(errs) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertErrors(ctx, tx, analysisID, errs)
	})
	if err != nil {
		return fmt.Errorf("record errors: %w", err)
	}
	return nil
}

// RecordTodos inserts todos under analysisID. Todos are always stored as
// not completed.
func (s *Store) RecordTodos(ctx context.Context, analysisID int64, todos []report.Todo) error {
	if len(todos) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertTodos(ctx, tx, analysisID, todos)
	})
	if err != nil {
		return fmt.Errorf("record todos: %w", err)
	}
	return nil
}

// Record inserts an analysis together with its errors and todos in one
// transaction and returns the analysis id.
func (s *Store) Record(ctx context.Context, a report.Analysis, errs []report.Error, todos []report.Todo) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if id, err = s.insertAnalysis(ctx, tx, a); err != nil {
			return err
		}
		if err := s.insertErrors(ctx, tx, id, errs); err != nil {
			return err
		}
		return s.insertTodos(ctx, tx, id, todos)
	})
	if err != nil {
		return 0, fmt.Errorf("record %s run: %w", a.Tool, err)
	}
	return id, nil
}

// RecordFix inserts a fix and returns its id.
func (s *Store) RecordFix(ctx context.Context, f report.Fix) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO fixes (analysis_id, todo_id, error_id, fix_applied, lines_added, lines_deleted, worked, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.AnalysisID, nullID(f.TodoID), nullID(f.ErrorID), f.Diff,
			int64(f.LinesAdded), int64(f.LinesDeleted), f.Worked, s.timestamp(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("record fix: %w", err)
	}
	return id, nil
}

func (s *Store) insertAnalysis(ctx context.Context, tx *sql.Tx, a report.Analysis) (int64, error) {
	fullOutput := a.FullOutput
	if fullOutput == "" {
		fullOutput = "{}"
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO analyses (run_id, tool, success, duration_ms, snippet, file_path, full_output, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullString(a.RunID), a.Tool, a.Success, a.DurationMS,
		nullString(a.Snippet), nullString(a.FilePath), fullOutput, s.timestamp(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) insertErrors(ctx context.Context, tx *sql.Tx, analysisID int64, errs []report.Error) error {
	if len(errs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO errors (analysis_id, error_code, message, file, line, column_number, suggestion, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.timestamp()
	for _, e := range errs {
		if _, err := stmt.ExecContext(ctx,
			analysisID, nullString(e.Code), e.Message, nullString(e.File),
			nullInt(e.Line), nullInt(e.Column), nullString(e.Suggestion), now,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertTodos(ctx context.Context, tx *sql.Tx, analysisID int64, todos []report.Todo) error {
	if len(todos) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO todos (analysis_id, source, category, description, file_path, line_number, completed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.timestamp()
	for _, t := range todos {
		if _, err := stmt.ExecContext(ctx,
			analysisID, t.Source, nullString(t.Category), t.Description,
			nullString(t.File), nullInt(t.Line), now,
		); err != nil {
			return err
		}
	}
	return nil
}

// Numeric columns are read through typeof() so a legacy row holding text
// reads as absent instead of failing the whole query.
const errorColumns = `
	e.id, e.analysis_id, a.tool, e.error_code, e.message, e.file,
	CASE WHEN typeof(e.line) = 'integer' THEN e.line END,
	CASE WHEN typeof(e.column_number) = 'integer' THEN e.column_number END,
	e.suggestion, COALESCE(e.created_at, a.timestamp)`

// QueryErrors returns errors most recent first.
func (s *Store) QueryErrors(ctx context.Context, f ErrorFilter) ([]report.Error, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + errorColumns + `
		FROM errors e JOIN analyses a ON a.id = e.analysis_id`
	args := []any{}
	if f.Code != "" {
		query += ` WHERE e.error_code = ?`
		args = append(args, f.Code)
	}
	query += ` ORDER BY COALESCE(e.created_at, a.timestamp) DESC, e.id DESC LIMIT ?`
	args = append(args, limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	var out []report.Error
	for rows.Next() {
		var (
			e                      report.Error
			code, file, suggestion sql.NullString
			line, col              sql.NullInt64
			createdAt              sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AnalysisID, &e.Tool, &code, &e.Message, &file,
			&line, &col, &suggestion, &createdAt); err != nil {
			return nil, fmt.Errorf("scan error row: %w", err)
		}
		e.Code = code.String
		e.File = file.String
		e.Suggestion = suggestion.String
		e.Line = intPtr(line)
		e.Column = intPtr(col)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	return out, nil
}

// QueryTodos returns todos most recent first. Completed todos are only
// included when f.ShowCompleted is set.
func (s *Store) QueryTodos(ctx context.Context, f TodoFilter) ([]report.Todo, error) {
	query := `SELECT id, analysis_id, source, category, description, file_path,
			CASE WHEN typeof(line_number) = 'integer' THEN line_number END,
			COALESCE(completed, 0), created_at, completed_at
		FROM todos`
	if !f.ShowCompleted {
		query += ` WHERE COALESCE(completed, 0) = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var out []report.Todo
	for rows.Next() {
		var (
			t                      report.Todo
			analysisID, line       sql.NullInt64
			category, file         sql.NullString
			createdAt, completedAt sql.NullString
		)
		if err := rows.Scan(&t.ID, &analysisID, &t.Source, &category, &t.Description, &file,
			&line, &t.Completed, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan todo row: %w", err)
		}
		t.AnalysisID = analysisID.Int64
		t.Category = category.String
		t.File = file.String
		t.Line = intPtr(line)
		t.CreatedAt = parseTime(createdAt)
		if completedAt.Valid {
			ts := parseTime(completedAt)
			t.CompletedAt = &ts
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	return out, nil
}

// CompleteTodo marks a todo as completed. Completing an already completed
// todo keeps its original completion time.
func (s *Store) CompleteTodo(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE todos SET completed = 1, completed_at = ? WHERE id = ? AND COALESCE(completed, 0) = 0`,
			s.timestamp(), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			return err
		}
		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM todos WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("todo %d: %w", id, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("complete todo: %w", err)
	}
	return nil
}

// Stats returns store-wide counters.
func (s *Store) Stats(ctx context.Context) (*report.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		st          report.Stats
		first, last sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM analyses),
		(SELECT COUNT(*) FROM errors),
		(SELECT COUNT(*) FROM todos WHERE COALESCE(completed, 0) = 0),
		(SELECT COUNT(*) FROM todos WHERE completed = 1),
		(SELECT COUNT(*) FROM fixes),
		(SELECT MIN(timestamp) FROM analyses),
		(SELECT MAX(timestamp) FROM analyses)`,
	).Scan(&st.TotalAnalyses, &st.TotalErrors, &st.ActiveTodos, &st.CompletedTodos,
		&st.TotalFixes, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if first.Valid {
		t := parseTime(first)
		st.FirstAnalysis = &t
	}
	if last.Valid {
		t := parseTime(last)
		st.LastAnalysis = &t
	}
	return &st, nil
}

const analysisColumns = `id, COALESCE(run_id, ''), tool, success, COALESCE(duration_ms, 0),
	COALESCE(snippet, ''), COALESCE(file_path, ''), full_output, timestamp`

// Analysis returns the analysis with the given id.
func (s *Store) Analysis(ctx context.Context, id int64) (*report.Analysis, error) {
	return s.analysis(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
}

// AnalysisByRun returns the analysis recorded for a run id.
func (s *Store) AnalysisByRun(ctx context.Context, runID string) (*report.Analysis, error) {
	return s.analysis(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID)
}

func (s *Store) analysis(ctx context.Context, query string, arg any) (*report.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		a         report.Analysis
		createdAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.RunID, &a.Tool, &a.Success,
		&a.DurationMS, &a.Snippet, &a.FilePath, &a.FullOutput, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load analysis: %w", err)
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// DeleteAnalysis deletes an analysis together with its errors, todos and
// fixes. Fixes of other analyses that pointed at the deleted rows keep
// their row with the reference cleared.
func (s *Store) DeleteAnalysis(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := deleteAnalysisTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("analysis %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	return nil
}

// Prune keeps the newest keep analyses and deletes the rest, returning how
// many were deleted. It only runs when an operator asks for it.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("prune: keep must not be negative, got %d", keep)
	}
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM analyses ORDER BY timestamp DESC, id DESC LIMIT -1 OFFSET ?`, keep)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			n, err := deleteAnalysisTx(ctx, tx, id)
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return deleted, nil
}

// deleteAnalysisTx removes children explicitly: tables created by older
// releases declare their foreign keys without ON DELETE actions.
func deleteAnalysisTx(ctx context.Context, tx *sql.Tx, id int64) (int64, error) {
	stmts := []string{
		`DELETE FROM fixes WHERE analysis_id = ?`,
		`UPDATE fixes SET todo_id = NULL WHERE todo_id IN (SELECT id FROM todos WHERE analysis_id = ?)`,
		`UPDATE fixes SET error_id = NULL WHERE error_id IN (SELECT id FROM errors WHERE analysis_id = ?)`,
		`DELETE FROM todos WHERE analysis_id = ?`,
		`DELETE FROM errors WHERE analysis_id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
