package facts

import "strings"

// Each extractor de-duplicates its own output by a stage-specific natural
// key before returning, keeping the first occurrence.

// DedupeEndpoints keys on method+path.
func DedupeEndpoints(in []Endpoint) []Endpoint {
	seen := make(map[string]bool, len(in))
	out := make([]Endpoint, 0, len(in))
	for _, e := range in {
		key := strings.ToUpper(e.Method) + " " + e.Path
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// DedupeModels keys on model name.
func DedupeModels(in []Model) []Model {
	seen := make(map[string]bool, len(in))
	out := make([]Model, 0, len(in))
	for _, m := range in {
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		out = append(out, m)
	}
	return out
}

// DedupeComponents keys on component name.
func DedupeComponents(in []Component) []Component {
	seen := make(map[string]bool, len(in))
	out := make([]Component, 0, len(in))
	for _, c := range in {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out
}

// DedupeFindings keys on file+rule+line.
func DedupeFindings(in []Finding) []Finding {
	type key struct {
		file, rule string
		line       int
	}
	seen := make(map[key]bool, len(in))
	out := make([]Finding, 0, len(in))
	for _, f := range in {
		k := key{f.File, f.Rule, f.Line}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

// DedupeRelationships keys on from+to+kind.
func DedupeRelationships(in []Relationship) []Relationship {
	seen := make(map[Relationship]bool, len(in))
	out := make([]Relationship, 0, len(in))
	for _, r := range in {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
