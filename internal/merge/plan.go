// Package merge implements the incremental sync cycle: diff the tree,
// re-run only the stages the changed files feed, splice fresh facts into
// the stored aggregate, and regenerate only the sections whose inputs
// moved. A failed cycle leaves stored state untouched.
package merge

import (
	"codescribe/internal/pipeline"
	"codescribe/internal/source"
	"codescribe/internal/stage"
)

// Plan is the per-stage candidate file set for one sync cycle. A stage
// with no candidates does not run. The writer runs iff any extractor does.
type Plan struct {
	Endpoints  []source.FileRecord
	Schema     []source.FileRecord
	Components []source.FileRecord
	Security   []source.FileRecord
}

// BuildPlan selects candidates among the changed files using the same
// role and content heuristics the stages apply. Roles come from the fresh
// classification; resolveRoles fills gaps from the stored manifest.
func BuildPlan(changed []source.FileRecord, roles map[string]stage.Role) *Plan {
	p := &Plan{}
	for _, f := range changed {
		role := roles[f.Path]
		if stage.EndpointCandidate(f, role) {
			p.Endpoints = append(p.Endpoints, f)
		}
		if stage.SchemaCandidate(f, role) {
			p.Schema = append(p.Schema, f)
		}
		if stage.ComponentCandidate(f, role) {
			p.Components = append(p.Components, f)
		}
		if stage.SecurityCandidate(f, role) {
			p.Security = append(p.Security, f)
		}
	}
	return p
}

// Stages lists the extractor stages this plan will run.
func (p *Plan) Stages() []pipeline.StageID {
	var out []pipeline.StageID
	if len(p.Endpoints) > 0 {
		out = append(out, pipeline.StageEndpoints)
	}
	if len(p.Schema) > 0 {
		out = append(out, pipeline.StageSchema)
	}
	if len(p.Components) > 0 {
		out = append(out, pipeline.StageComponents)
	}
	if len(p.Security) > 0 {
		out = append(out, pipeline.StageSecurity)
	}
	return out
}

// Any reports whether at least one extractor will run.
func (p *Plan) Any() bool {
	return len(p.Endpoints)+len(p.Schema)+len(p.Components)+len(p.Security) > 0
}

// resolveRoles merges fresh classification results over stored manifest
// roles, falling back to the path heuristic for files neither knows. The
// classifier can drop a batch, so every changed file still gets a role.
func resolveRoles(changed []source.FileRecord, classified []stage.ClassifiedFile, stored map[string]stage.Role) map[string]stage.Role {
	roles := make(map[string]stage.Role, len(changed))
	for _, c := range classified {
		roles[c.Path] = c.Role
	}
	for _, f := range changed {
		if _, ok := roles[f.Path]; ok {
			continue
		}
		if role, ok := stored[f.Path]; ok && role != "" {
			roles[f.Path] = role
		} else {
			roles[f.Path] = stage.GuessRole(f.Path)
		}
	}
	return roles
}
