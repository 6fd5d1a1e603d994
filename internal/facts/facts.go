// Package facts defines the typed units of extracted information and the
// merged aggregate the writers and report builders consume.
package facts

// Severity grades a security finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Endpoint is one HTTP route extracted from a source file.
type Endpoint struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler,omitempty"`
	Auth    bool   `json:"auth,omitempty"`
	File    string `json:"file"`
}

// Field is one attribute of a data model.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Model is one data model or schema declaration.
type Model struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields,omitempty"`
	File   string  `json:"file"`
}

// Relationship links two models. It spans files, so it carries no owning
// file and is merged all-or-nothing when the schema stage reruns.
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"` // e.g. "hasMany", "belongsTo", "references"
}

// Component is one architectural building block (service, queue, cache...).
type Component struct {
	Name        string `json:"name"`
	Kind        string `json:"kind,omitempty"`
	Description string `json:"description,omitempty"`
	File        string `json:"file"`
}

// Finding is one security observation.
type Finding struct {
	Rule        string   `json:"rule"`
	Description string   `json:"description,omitempty"`
	Severity    Severity `json:"severity"`
	File        string   `json:"file"`
	Line        int      `json:"line,omitempty"`
}

// Aggregate is the materialized index: all facts across all processed
// files. The merge engine is its only writer. A file's facts are either
// fully present or fully absent, never half-merged.
type Aggregate struct {
	Endpoints     []Endpoint     `json:"endpoints,omitempty"`
	Models        []Model        `json:"models,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Components    []Component    `json:"components,omitempty"`
	Findings      []Finding      `json:"findings,omitempty"`
	RiskScore     float64        `json:"risk_score"`
}

// PurgeFiles removes every file-owned fact whose path is in paths.
// Relationships are untouched: they have no owning file.
func (a *Aggregate) PurgeFiles(paths map[string]bool) {
	if len(paths) == 0 {
		return
	}
	a.Endpoints = filterSlice(a.Endpoints, func(e Endpoint) bool { return !paths[e.File] })
	a.Models = filterSlice(a.Models, func(m Model) bool { return !paths[m.File] })
	a.Components = filterSlice(a.Components, func(c Component) bool { return !paths[c.File] })
	a.Findings = filterSlice(a.Findings, func(f Finding) bool { return !paths[f.File] })
}

func filterSlice[T any](in []T, keep func(T) bool) []T {
	out := in[:0:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// CountByKind returns fact counts for status displays.
func (a *Aggregate) CountByKind() map[string]int {
	return map[string]int{
		"endpoints":     len(a.Endpoints),
		"models":        len(a.Models),
		"relationships": len(a.Relationships),
		"components":    len(a.Components),
		"findings":      len(a.Findings),
	}
}
