package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/deixis/rustytools/internal/report"
)

// Handle is the process-wide reference to the store. The file is opened on
// first use and created only by Store, so a process that never persists
// never touches the disk.
type Handle struct {
	path string
	opts []Option

	mu sync.Mutex
	st *Store
}

// NewHandle returns a handle for the store at path. An empty path selects
// DefaultPath.
func NewHandle(path string, opts ...Option) *Handle {
	if path == "" {
		path = DefaultPath()
	}
	return &Handle{path: path, opts: opts}
}

// Path returns the file the handle points at.
func (h *Handle) Path() string { return h.path }

// Store opens the store, creating the file and its directory if needed. A
// failed open is not cached so a later call can succeed once the cause is
// fixed.
func (h *Handle) Store(ctx context.Context) (*Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.st != nil {
		return h.st, nil
	}
	st, err := Open(ctx, h.path, h.opts...)
	if err != nil {
		return nil, err
	}
	h.st = st
	return st, nil
}

// Existing opens the store only if its file already exists. It returns
// ErrNotInitialized otherwise.
func (h *Handle) Existing(ctx context.Context) (*Store, error) {
	h.mu.Lock()
	if h.st != nil {
		st := h.st
		h.mu.Unlock()
		return st, nil
	}
	h.mu.Unlock()

	if _, err := os.Stat(h.path); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotInitialized
	}
	return h.Store(ctx)
}

// Close closes the store if it was opened.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.st == nil {
		return nil
	}
	err := h.st.Close()
	h.st = nil
	return err
}

// LoadEnvelope returns the envelope persisted for runID. It implements
// report.Loader.
func (h *Handle) LoadEnvelope(ctx context.Context, runID string) (*report.Envelope, error) {
	st, err := h.Existing(ctx)
	if errors.Is(err, ErrNotInitialized) {
		return nil, fmt.Errorf("run %s: %w", runID, report.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	a, err := st.AnalysisByRun(ctx, runID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, report.ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	var env report.Envelope
	if err := json.Unmarshal([]byte(a.FullOutput), &env); err != nil {
		return nil, fmt.Errorf("decode output of run %s: %w", runID, err)
	}
	if env.RunID == "" {
		env.RunID = a.RunID
		env.Tool = a.Tool
		env.Success = a.Success
		env.DurationMS = a.DurationMS
		env.CreatedAt = a.CreatedAt
	}
	return &env, nil
}
