package diag

import (
	"strings"
	"testing"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/runner"
)

const auditJSON = `{
  "database": {"advisory-count": 600},
  "lockfile": {"dependency-count": 12},
  "vulnerabilities": {
    "found": true,
    "count": 1,
    "list": [{
      "advisory": {"id": "RUSTSEC-2020-0071", "package": "time", "title": "Potential segfault in the time crate"},
      "versions": {"patched": [">=0.2.23"], "unaffected": ["=0.2.0"]},
      "package": {"name": "time", "version": "0.1.45"}
    }]
  },
  "warnings": {
    "yanked": [{"kind": "yanked", "package": {"name": "foo", "version": "1.0.1"}, "advisory": null}],
    "unmaintained": [{"kind": "unmaintained", "package": {"name": "ansi_term", "version": "0.12.1"}, "advisory": {"id": "RUSTSEC-2021-0139", "title": "ansi_term is Unmaintained"}}]
  }
}`

func TestAudit_Report(t *testing.T) {
	x := Audit{}.Parse("cargo_audit", &runner.Result{ExitCode: 1, Stdout: []byte(auditJSON)})

	if len(x.Errors) != 1 {
		t.Fatalf("Errors = %d, want 1", len(x.Errors))
	}
	e := x.Errors[0]
	if e.Code != "RUSTSEC-2020-0071" {
		t.Errorf("Code = %q", e.Code)
	}
	if e.Message != "time 0.1.45: Potential segfault in the time crate" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Suggestion != "upgrade to >=0.2.23" {
		t.Errorf("Suggestion = %q", e.Suggestion)
	}

	if len(x.Todos) != 2 {
		t.Fatalf("Todos = %d, want 2", len(x.Todos))
	}
	// Kinds are sorted: unmaintained before yanked.
	if !strings.HasPrefix(x.Todos[0].Description, "unmaintained: ansi_term 0.12.1 (RUSTSEC-2021-0139") {
		t.Errorf("Todos[0].Description = %q", x.Todos[0].Description)
	}
	if x.Todos[1].Description != "yanked: foo 1.0.1" {
		t.Errorf("Todos[1].Description = %q", x.Todos[1].Description)
	}
	for _, td := range x.Todos {
		if td.Category != report.CategoryVulnerability {
			t.Errorf("Category = %q, want vulnerability", td.Category)
		}
	}
}

func TestAudit_NotJSON(t *testing.T) {
	x := Audit{}.Parse("cargo_audit", &runner.Result{ExitCode: 1, Stdout: []byte("error: couldn't open Cargo.lock")})
	if !x.Empty() {
		t.Errorf("Extraction = %+v, want empty", x)
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []Kind{KindNone, KindText, KindJSON, KindAudit} {
		if _, err := New(kind); err != nil {
			t.Errorf("New(%q): %v", kind, err)
		}
	}
	if _, err := New("xml"); err == nil {
		t.Error("New(xml) succeeded, want error")
	}
}
