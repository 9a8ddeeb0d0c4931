package diag

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/runner"
)

// JSON parses the line-delimited stream printed by
// cargo --message-format=json. Only compiler-message records contribute;
// artifacts, build-script output and non-JSON lines are skipped.
type JSON struct{}

type cargoMessage struct {
	Reason  string           `json:"reason"`
	Message *rustcDiagnostic `json:"message"`
}

type rustcDiagnostic struct {
	Message  string            `json:"message"`
	Code     *rustcCode        `json:"code"`
	Level    string            `json:"level"`
	Spans    []rustcSpan       `json:"spans"`
	Children []rustcDiagnostic `json:"children"`
}

type rustcCode struct {
	Code string `json:"code"`
}

// Line and column numbers are kept raw so a malformed value drops the
// field instead of the whole message.
type rustcSpan struct {
	FileName    string          `json:"file_name"`
	LineStart   json.RawMessage `json:"line_start"`
	ColumnStart json.RawMessage `json:"column_start"`
	IsPrimary   bool            `json:"is_primary"`
}

func (JSON) Parse(tool string, res *runner.Result) Extraction {
	var x Extraction
	if res == nil {
		return x
	}

	sc := bufio.NewScanner(bytes.NewReader(res.Stdout))
	sc.Buffer(make([]byte, 0, 64*1024), len(res.Stdout)+1)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg cargoMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Reason != "compiler-message" || msg.Message == nil {
			continue
		}
		msg.Message.extract(tool, &x)
	}
	return x
}

func (d *rustcDiagnostic) extract(tool string, x *Extraction) {
	if summaryRe.MatchString(d.Message) {
		return
	}

	var code string
	if d.Code != nil {
		code = d.Code.Code
	}
	var file string
	var line, col *int
	if sp := d.primarySpan(); sp != nil {
		file = sp.FileName
		line = rawInt(sp.LineStart)
		col = rawInt(sp.ColumnStart)
	}
	help := d.help()

	switch {
	case strings.HasPrefix(d.Level, "error"):
		x.Errors = append(x.Errors, report.Error{
			Tool:       tool,
			Code:       code,
			Message:    d.Message,
			File:       file,
			Line:       line,
			Column:     col,
			Suggestion: help,
		})
	case d.Level == "warning":
		category := report.CategoryWarning
		if strings.HasPrefix(code, "clippy::") {
			category = report.CategoryLint
		}
		desc := d.Message
		if help != "" {
			desc += " (help: " + help + ")"
		}
		x.Todos = append(x.Todos, report.Todo{
			Source:      tool,
			Category:    category,
			Description: desc,
			File:        file,
			Line:        line,
		})
	}
}

func (d *rustcDiagnostic) primarySpan() *rustcSpan {
	for i := range d.Spans {
		if d.Spans[i].IsPrimary {
			return &d.Spans[i]
		}
	}
	if len(d.Spans) > 0 {
		return &d.Spans[0]
	}
	return nil
}

func (d *rustcDiagnostic) help() string {
	for _, c := range d.Children {
		if c.Level == "help" && !strings.HasPrefix(c.Message, "for further information") {
			return c.Message
		}
	}
	return ""
}

func rawInt(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	return atoi(strings.Trim(string(raw), `"`))
}
