package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codescribe/internal/facts"
	"codescribe/internal/inference"
	"codescribe/internal/source"
)

const schemaSystem = `You extract data models and their relationships from source files.
Answer with a JSON object {"models":[{"name","fields":[{"name","type"}],"file"}],
"relationships":[{"from","to","kind"}]} where kind is hasMany, belongsTo, hasOne or
references. file is the source path the model was found in. No prose outside the JSON.`

var schemaHints = []string{
	"create table", "mongoose.schema", "sequelize.define", "class meta",
	"models.model", "db.model", "@entity", "gorm:", "prisma", "schema.define",
	"ActiveRecord::", "has_many", "belongs_to",
}

// SchemaCandidate reports whether a file likely declares data models.
func SchemaCandidate(f source.FileRecord, role Role) bool {
	if role == RoleModel {
		return true
	}
	if !IsCodeFile(f.Path) {
		return false
	}
	lower := strings.ToLower(f.Content)
	for _, h := range schemaHints {
		if strings.Contains(lower, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

type schemaResult struct {
	Models        []facts.Model        `json:"models"`
	Relationships []facts.Relationship `json:"relationships"`
}

// ExtractSchema runs the model/relationship extractor. Models are
// deduplicated by name; relationships by their full tuple. Relationships
// carry no owning file: the merge layer replaces them all-or-nothing.
func ExtractSchema(ctx context.Context, d Deps, files []source.FileRecord, roles map[string]Role, opts ExtractOptions) ([]facts.Model, []facts.Relationship, error) {
	opts.defaults()
	candidates := filterFiles(files, func(f source.FileRecord) bool {
		return SchemaCandidate(f, roles[f.Path])
	})

	var models []facts.Model
	var rels []facts.Relationship
	all := batches(candidates, opts.BatchSize)
	for i, batch := range all {
		if err := ctx.Err(); err != nil {
			return facts.DedupeModels(models), facts.DedupeRelationships(rels), err
		}
		d.progress("schema", fmt.Sprintf("extracting batch %d/%d", i+1, len(all)), i+1, len(all))

		text, err := d.callModel(ctx, schemaSystem, extractPayload(batch, opts.MaxFileBytes), inference.Options{MaxTokens: 2000})
		if err != nil {
			d.Log.Warn("schema batch failed, skipping", "batch", i+1, "error", err)
			continue
		}
		var parsed schemaResult
		if err := json.Unmarshal(cleanJSON([]byte(text)), &parsed); err != nil {
			d.Log.Warn("schema batch unparsable, dropping", "batch", i+1, "error", err)
			continue
		}
		models = append(models, ownedBy(parsed.Models, batch, func(m facts.Model) string { return m.File })...)
		rels = append(rels, parsed.Relationships...)
	}
	return facts.DedupeModels(models), facts.DedupeRelationships(rels), nil
}
