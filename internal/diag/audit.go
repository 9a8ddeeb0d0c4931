package diag

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/deixis/rustytools/internal/report"
	"github.com/deixis/rustytools/internal/runner"
)

// Audit parses the report printed by cargo audit --json. Vulnerabilities
// become errors keyed by advisory id; informational warnings (unmaintained,
// yanked, unsound crates) become todos.
type Audit struct{}

type auditReport struct {
	Vulnerabilities struct {
		List []auditEntry `json:"list"`
	} `json:"vulnerabilities"`
	Warnings map[string][]auditEntry `json:"warnings"`
}

type auditEntry struct {
	Kind     string         `json:"kind"`
	Advisory *auditAdvisory `json:"advisory"`
	Package  auditPackage   `json:"package"`
	Versions struct {
		Patched []string `json:"patched"`
	} `json:"versions"`
}

type auditAdvisory struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type auditPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (Audit) Parse(tool string, res *runner.Result) Extraction {
	var x Extraction
	if res == nil {
		return x
	}
	var rep auditReport
	if err := json.Unmarshal(res.Stdout, &rep); err != nil {
		return x
	}

	for _, v := range rep.Vulnerabilities.List {
		if v.Advisory == nil {
			continue
		}
		e := report.Error{
			Tool:    tool,
			Code:    v.Advisory.ID,
			Message: fmt.Sprintf("%s %s: %s", v.Package.Name, v.Package.Version, v.Advisory.Title),
			File:    "Cargo.lock",
		}
		if len(v.Versions.Patched) > 0 {
			e.Suggestion = "upgrade to " + strings.Join(v.Versions.Patched, " or ")
		}
		x.Errors = append(x.Errors, e)
	}

	// Map order is random; sort kinds so the output is stable.
	kinds := make([]string, 0, len(rep.Warnings))
	for k := range rep.Warnings {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		for _, w := range rep.Warnings[kind] {
			desc := fmt.Sprintf("%s: %s %s", kind, w.Package.Name, w.Package.Version)
			if w.Advisory != nil {
				desc += fmt.Sprintf(" (%s: %s)", w.Advisory.ID, w.Advisory.Title)
			}
			x.Todos = append(x.Todos, report.Todo{
				Source:      tool,
				Category:    report.CategoryVulnerability,
				Description: desc,
				File:        "Cargo.lock",
			})
		}
	}
	return x
}
