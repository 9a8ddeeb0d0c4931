package toolchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/store"
)

// History limits.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 1000
)

// HistoryQuery selects recorded errors.
type HistoryQuery struct {
	ErrorCode string
	Limit     int // <= 0 selects DefaultHistoryLimit; capped at MaxHistoryLimit
}

// History returns recorded errors, most recent first.
func (e *Engine) History(ctx context.Context, q HistoryQuery) ([]report.Error, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	st, err := e.existing(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return []report.Error{}, nil
	}
	errs, err := st.QueryErrors(ctx, store.ErrorFilter{Code: q.ErrorCode, Limit: limit})
	if err != nil {
		return nil, &StoreError{Op: "query history", Err: err}
	}
	if errs == nil {
		errs = []report.Error{}
	}
	return errs, nil
}

// Todos returns recorded todos, most recent first. Completed todos are
// included only when showCompleted is set.
func (e *Engine) Todos(ctx context.Context, showCompleted bool) ([]report.Todo, error) {
	st, err := e.existing(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return []report.Todo{}, nil
	}
	todos, err := st.QueryTodos(ctx, store.TodoFilter{ShowCompleted: showCompleted})
	if err != nil {
		return nil, &StoreError{Op: "query todos", Err: err}
	}
	if todos == nil {
		todos = []report.Todo{}
	}
	return todos, nil
}

// CompleteTodo marks a todo as done. Unknown ids match store.ErrNotFound.
func (e *Engine) CompleteTodo(ctx context.Context, id int64) error {
	if id <= 0 {
		return invalid("id", "must be positive")
	}
	st, err := e.existing(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("todo %d: %w", id, store.ErrNotFound)
	}
	if err := st.CompleteTodo(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return &StoreError{Op: "complete todo", Err: err}
	}
	e.Logger.Info("todo completed", "id", id)
	return nil
}

// Stats returns store-wide counters; all zero before anything was
// persisted.
func (e *Engine) Stats(ctx context.Context) (*report.Stats, error) {
	st, err := e.existing(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &report.Stats{}, nil
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return nil, &StoreError{Op: "stats", Err: err}
	}
	return stats, nil
}

// Output returns the full envelope of a run, from memory or from the
// store. Unknown runs match report.ErrRunNotFound.
func (e *Engine) Output(ctx context.Context, runID string) (*report.Envelope, error) {
	e.setup()
	if runID == "" {
		return nil, invalid("run_id", "must not be empty")
	}
	env, err := e.Recent.Get(ctx, runID)
	if err != nil && !errors.Is(err, report.ErrRunNotFound) {
		return nil, &StoreError{Op: "load output", Err: err}
	}
	return env, err
}

// Prune deletes all but the newest keep analyses.
func (e *Engine) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, invalid("keep", "must not be negative")
	}
	st, err := e.existing(ctx)
	if err != nil || st == nil {
		return 0, err
	}
	n, err := st.Prune(ctx, keep)
	if err != nil {
		return 0, &StoreError{Op: "prune", Err: err}
	}
	e.Logger.Info("pruned analyses", "deleted", n, "kept", keep)
	return n, nil
}

// existing returns the store if its file exists. A nil store with a nil
// error means nothing was persisted yet.
func (e *Engine) existing(ctx context.Context) (*store.Store, error) {
	e.setup()
	if e.Store == nil {
		return nil, ErrNoStore
	}
	st, err := e.Store.Existing(ctx)
	if errors.Is(err, store.ErrNotInitialized) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "open store", Err: err}
	}
	return st, nil
}
