package toolchain

import (
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/deixis/rustytools/internal/diag"
)

// Tool is one entry of the catalogue.
type Tool struct {
	Name        string
	Description string
	Timeout     time.Duration // zero uses the configured default
	Parser      diag.Kind
	Project     bool // runs inside a cargo project (snippet scaffold or workspace)

	argv func(args []string) []string
}

// Argv returns the command line for args.
func (t Tool) Argv(args []string) []string {
	return t.argv(args)
}

func fixed(argv ...string) func([]string) []string {
	return func([]string) []string { return slices.Clone(argv) }
}

var catalogue = map[string]Tool{
	"cargo_fmt": {
		Description: "Format Rust code with rustfmt and return the formatted source",
		Parser:      diag.KindNone,
		Project:     true,
		argv: func(args []string) []string {
			if slices.Contains(args, "--check") {
				return []string{"cargo", "fmt", "--", "--check"}
			}
			return []string{"cargo", "fmt", "--", "--emit=stdout"}
		},
	},
	"cargo_clippy": {
		Description: "Lint Rust code with clippy",
		Timeout:     30 * time.Second,
		Parser:      diag.KindText,
		Project:     true,
		argv:        fixed("cargo", "clippy"),
	},
	"cargo_check": {
		Description: "Type-check Rust code without producing binaries",
		Timeout:     30 * time.Second,
		Parser:      diag.KindText,
		Project:     true,
		argv:        fixed("cargo", "check"),
	},
	"cargo_build": {
		Description: "Build Rust code",
		Timeout:     60 * time.Second,
		Parser:      diag.KindText,
		Project:     true,
		argv:        fixed("cargo", "build"),
	},
	"cargo_test": {
		Description: "Run the tests of Rust code",
		Timeout:     60 * time.Second,
		Parser:      diag.KindText,
		Project:     true,
		argv:        fixed("cargo", "test"),
	},
	"cargo_fix": {
		Description: "Apply compiler-suggested fixes and return the fixed source",
		Timeout:     60 * time.Second,
		Parser:      diag.KindText,
		Project:     true,
		argv:        fixed("cargo", "fix", "--allow-dirty", "--allow-no-vcs"),
	},
	"cargo_audit": {
		Description: "Audit dependencies for security advisories (needs cargo-audit)",
		Timeout:     60 * time.Second,
		Parser:      diag.KindAudit,
		Project:     true,
		argv:        fixed("cargo", "audit", "--json"),
	},
	"cargo_tree": {
		Description: "Show the dependency tree",
		Timeout:     30 * time.Second,
		Parser:      diag.KindNone,
		Project:     true,
		argv:        fixed("cargo", "tree"),
	},
	"cargo_doc": {
		Description: "Build documentation without dependencies",
		Timeout:     60 * time.Second,
		Parser:      diag.KindText,
		Project:     true,
		argv:        fixed("cargo", "doc", "--no-deps"),
	},
	"rust_analyzer": {
		Description: "Type-check with structured JSON diagnostics",
		Timeout:     30 * time.Second,
		Parser:      diag.KindJSON,
		Project:     true,
		argv:        fixed("cargo", "check", "--message-format=json"),
	},
	"rustc_explain": {
		Description: "Explain a rustc error code",
		Timeout:     30 * time.Second,
		Parser:      diag.KindNone,
		argv: func(args []string) []string {
			return append([]string{"rustc", "--explain"}, args...)
		},
	},
	"cargo_search": {
		Description: "Search crates.io",
		Timeout:     30 * time.Second,
		Parser:      diag.KindNone,
		argv: func(args []string) []string {
			argv := []string{"cargo", "search"}
			if len(args) > 0 {
				argv = append(argv, args[0])
			}
			if len(args) > 1 {
				argv = append(argv, "--limit", args[1])
			}
			return argv
		},
	},
}

func init() {
	for name, t := range catalogue {
		t.Name = name
		catalogue[name] = t
	}
}

// Lookup returns the catalogue entry for name.
func Lookup(name string) (Tool, bool) {
	t, ok := catalogue[name]
	return t, ok
}

// Catalogue returns every tool sorted by name.
func Catalogue() []Tool {
	out := make([]Tool, 0, len(catalogue))
	for _, t := range catalogue {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProjectTools returns the names of the tools that run in a cargo project.
func ProjectTools() []string {
	var names []string
	for _, t := range Catalogue() {
		if t.Project {
			names = append(names, t.Name)
		}
	}
	return names
}

func searchArgs(query string, limit int) []string {
	return []string{query, strconv.Itoa(limit)}
}
