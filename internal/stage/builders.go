package stage

import (
	"fmt"
	"sort"
	"strings"

	"codescribe/internal/facts"
	"codescribe/internal/format"
)

// The report builders are pure functions over the aggregate. They never
// call the model: tabular content is formatted deterministically from
// already-extracted facts, so inference budget is never spent on it.

// BuildFactsReference renders the endpoint reference section.
func BuildFactsReference(agg *facts.Aggregate) string {
	var b strings.Builder
	b.WriteString("# API Reference\n\n")
	if len(agg.Endpoints) == 0 {
		b.WriteString("No endpoints extracted.\n")
		return b.String()
	}

	eps := append([]facts.Endpoint{}, agg.Endpoints...)
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Path != eps[j].Path {
			return eps[i].Path < eps[j].Path
		}
		return eps[i].Method < eps[j].Method
	})

	tbl := format.NewTable(format.Markdown)
	tbl.Header("Method", "Path", "Handler", "Auth", "Source")
	for _, e := range eps {
		auth := ""
		if e.Auth {
			auth = "yes"
		}
		tbl.Row(strings.ToUpper(e.Method), e.Path, e.Handler, auth, e.File)
	}
	b.WriteString(tbl.String())
	b.WriteString("\n")
	return b.String()
}

// BuildSchemaDoc renders the data-model section: one block per model plus
// a relationship table.
func BuildSchemaDoc(agg *facts.Aggregate) string {
	var b strings.Builder
	b.WriteString("# Data Model\n\n")
	if len(agg.Models) == 0 {
		b.WriteString("No models extracted.\n")
		return b.String()
	}

	models := append([]facts.Model{}, agg.Models...)
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	for _, m := range models {
		fmt.Fprintf(&b, "## %s\n\nDefined in `%s`.\n\n", m.Name, m.File)
		if len(m.Fields) > 0 {
			tbl := format.NewTable(format.Markdown)
			tbl.Header("Field", "Type")
			for _, f := range m.Fields {
				tbl.Row(f.Name, f.Type)
			}
			b.WriteString(tbl.String())
			b.WriteString("\n\n")
		}
	}

	if len(agg.Relationships) > 0 {
		b.WriteString("## Relationships\n\n")
		rels := append([]facts.Relationship{}, agg.Relationships...)
		sort.Slice(rels, func(i, j int) bool {
			if rels[i].From != rels[j].From {
				return rels[i].From < rels[j].From
			}
			return rels[i].To < rels[j].To
		})
		tbl := format.NewTable(format.Markdown)
		tbl.Header("From", "Kind", "To")
		for _, r := range rels {
			tbl.Row(r.From, r.Kind, r.To)
		}
		b.WriteString(tbl.String())
		b.WriteString("\n")
	}
	return b.String()
}

// severityOrder ranks severities for report sorting.
var severityOrder = map[facts.Severity]int{
	facts.SeverityCritical: 0,
	facts.SeverityHigh:     1,
	facts.SeverityMedium:   2,
	facts.SeverityLow:      3,
}

// BuildReport renders the security report with the aggregate risk score.
func BuildReport(agg *facts.Aggregate) string {
	var b strings.Builder
	b.WriteString("# Security Report\n\n")
	fmt.Fprintf(&b, "Risk score: **%.1f** across %d findings.\n\n", agg.RiskScore, len(agg.Findings))
	if len(agg.Findings) == 0 {
		b.WriteString("No findings.\n")
		return b.String()
	}

	fs := append([]facts.Finding{}, agg.Findings...)
	sort.Slice(fs, func(i, j int) bool {
		if severityOrder[fs[i].Severity] != severityOrder[fs[j].Severity] {
			return severityOrder[fs[i].Severity] < severityOrder[fs[j].Severity]
		}
		if fs[i].File != fs[j].File {
			return fs[i].File < fs[j].File
		}
		return fs[i].Line < fs[j].Line
	})

	tbl := format.NewTable(format.Markdown)
	tbl.Header("Severity", "Rule", "Location", "Description")
	for _, f := range fs {
		loc := f.File
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		tbl.Row(string(f.Severity), f.Rule, loc, f.Description)
	}
	b.WriteString(tbl.String())
	b.WriteString("\n")
	return b.String()
}
