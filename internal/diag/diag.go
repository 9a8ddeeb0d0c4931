// Package diag extracts structured errors and todos from the output of a
// toolchain invocation.
//
// Parsers are strategies behind one interface: a heuristic over human
// readable rustc output, the cargo JSON message stream, and the cargo-audit
// report. All of them are pure and degrade to an empty Extraction on output
// they do not recognise; diagnostic formats drift between toolchain releases
// and must never block persisting the run itself.
package diag

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/runner"
)

// Parser turns an execution result into records.
type Parser interface {
	Parse(tool string, res *runner.Result) Extraction
}

// Extraction holds the records found in one run, in output order.
type Extraction struct {
	Errors []report.Error
	Todos  []report.Todo
}

// Empty reports whether nothing was extracted.
func (x Extraction) Empty() bool {
	return len(x.Errors) == 0 && len(x.Todos) == 0
}

// Kind names a parsing strategy.
type Kind string

const (
	KindNone  Kind = "none"
	KindText  Kind = "text"
	KindJSON  Kind = "json"
	KindAudit Kind = "audit"
)

// New returns the parser for kind.
func New(kind Kind) (Parser, error) {
	switch kind {
	case KindNone, "":
		return None{}, nil
	case KindText:
		return Text{}, nil
	case KindJSON:
		return JSON{}, nil
	case KindAudit:
		return Audit{}, nil
	default:
		return nil, fmt.Errorf("unknown parser kind %q", kind)
	}
}

// None extracts nothing. Used for tools whose output is not diagnostic,
// such as cargo tree or rustc --explain.
type None struct{}

func (None) Parse(string, *runner.Result) Extraction { return Extraction{} }

// atoi parses a positive line or column number. Anything else is absent.
func atoi(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}
