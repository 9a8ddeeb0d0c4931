package diag

import (
	"regexp"
	"strings"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/runner"
)

var (
	// error[E0308]: mismatched types
	// warning: unused variable: `x`
	headerRe = regexp.MustCompile(`^(error|warning)(?:\[([A-Za-z0-9_:]+)\])?: (.+)$`)
	//  --> src/main.rs:2:18
	locationRe = regexp.MustCompile(`^\s*-->\s+(.+):([^:\s]*):([^:\s]*)\s*$`)
	//   = help: consider ...
	//   |     ^^^^^^ help: a macro with a similar name exists
	// help: remove `return`
	helpRe = regexp.MustCompile(`^\s*(?:= |\|\s*[\^\-~]+\s+)?help: (.+)$`)
	// thread 'tests::it_fails' panicked at src/main.rs:10:9:
	panicRe = regexp.MustCompile(`^thread '([^']+)' panicked at (.+):([^:\s]*):([^:\s]*):$`)
	// thread 'tests::it_fails' panicked at 'boom', src/main.rs:10:9
	panicLegacyRe = regexp.MustCompile(`^thread '([^']+)' panicked at '(.*)', (.+):([^:\s]*):([^:\s]*)$`)
	// Lines that close a build rather than describe a diagnostic.
	summaryRe = regexp.MustCompile(`^(aborting due to|could not compile|build failed|test failed, to rerun|\d+ warnings? emitted)|generated \d+ warnings?`)
)

// Text parses the human readable diagnostics printed by rustc, cargo and
// clippy, plus test panics printed by the libtest harness. stderr is read
// before stdout, matching the order cargo emits them in.
type Text struct{}

func (Text) Parse(tool string, res *runner.Result) Extraction {
	var x Extraction
	if res == nil {
		return x
	}
	parseText(tool, string(res.Stderr), &x)
	parseText(tool, string(res.Stdout), &x)
	return x
}

// block accumulates one diagnostic from its header to the next header.
type block struct {
	level     string
	code      string
	message   string
	file      string
	line, col *int
	located   bool
	help      string
	lint      bool
}

func parseText(tool, text string, x *Extraction) {
	var cur *block
	flush := func() {
		if cur != nil {
			cur.emit(tool, x)
			cur = nil
		}
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")

		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush()
			if summaryRe.MatchString(m[3]) {
				continue
			}
			cur = &block{level: m[1], code: m[2], message: strings.TrimSpace(m[3])}
			continue
		}

		if m := panicRe.FindStringSubmatch(line); m != nil {
			flush()
			msg := nextNonEmpty(lines, i+1)
			x.Errors = append(x.Errors, panicError(tool, m[1], msg, m[2], m[3], m[4]))
			continue
		}
		if m := panicLegacyRe.FindStringSubmatch(line); m != nil {
			flush()
			x.Errors = append(x.Errors, panicError(tool, m[1], m[2], m[3], m[4], m[5]))
			continue
		}

		if cur == nil {
			continue
		}
		if m := locationRe.FindStringSubmatch(line); m != nil {
			if !cur.located {
				cur.file, cur.line, cur.col = m[1], atoi(m[2]), atoi(m[3])
				cur.located = true
			}
		} else if m := helpRe.FindStringSubmatch(line); m != nil {
			if cur.help == "" && !strings.HasPrefix(m[1], "for further information") {
				cur.help = strings.TrimSpace(m[1])
			}
		}
		if strings.Contains(line, "clippy::") || strings.Contains(line, "rust-clippy") {
			cur.lint = true
		}
	}
	flush()
}

func (b *block) emit(tool string, x *Extraction) {
	switch b.level {
	case "error":
		x.Errors = append(x.Errors, report.Error{
			Tool:       tool,
			Code:       b.code,
			Message:    b.message,
			File:       b.file,
			Line:       b.line,
			Column:     b.col,
			Suggestion: b.help,
		})
	case "warning":
		category := report.CategoryWarning
		if b.lint {
			category = report.CategoryLint
		}
		desc := b.message
		if b.help != "" {
			desc += " (help: " + b.help + ")"
		}
		x.Todos = append(x.Todos, report.Todo{
			Source:      tool,
			Category:    category,
			Description: desc,
			File:        b.file,
			Line:        b.line,
		})
	}
}

func panicError(tool, test, msg, file, line, col string) report.Error {
	message := "test " + test + " panicked"
	if msg != "" {
		message += ": " + msg
	}
	return report.Error{
		Tool:    tool,
		Message: message,
		File:    file,
		Line:    atoi(line),
		Column:  atoi(col),
	}
}

func nextNonEmpty(lines []string, from int) string {
	for _, l := range lines[from:] {
		if s := strings.TrimSpace(l); s != "" {
			return s
		}
	}
	return ""
}
