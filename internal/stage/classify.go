package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codescribe/internal/inference"
	"codescribe/internal/source"
)

// ClassifiedFile is the classifier output for one file: a role from the
// closed vocabulary plus a one-line semantic summary.
type ClassifiedFile struct {
	Path    string `json:"path"`
	Role    Role   `json:"role"`
	Summary string `json:"summary,omitempty"`
}

const classifySystem = `You classify source files. For each file you are given a path and a
content snippet. Answer with a JSON array of {"path","role","summary"} objects, one per
file, where role is exactly one of: api, model, service, config, docs, test, build, other.
Summary is one short sentence. No prose outside the JSON.`

// ClassifyOptions tunes the classifier stage.
type ClassifyOptions struct {
	BatchSize    int // files per inference call
	MaxFileBytes int // content prefix per file
}

// Classify assigns every file a role by batching many files per call to
// amortize cost. An unparsable batch is dropped, not retried: the stage
// completes with partial coverage rather than failing. A failed call is a
// soft failure for only that batch.
func Classify(ctx context.Context, d Deps, files []source.FileRecord, opts ClassifyOptions) ([]ClassifiedFile, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 12
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 2048
	}

	var out []ClassifiedFile
	all := batches(files, opts.BatchSize)
	for i, batch := range all {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d.progress("classify", fmt.Sprintf("classifying batch %d/%d", i+1, len(all)), i+1, len(all))

		text, err := d.callModel(ctx, classifySystem, classifyPayload(batch, opts.MaxFileBytes), inference.Options{MaxTokens: 1500})
		if err != nil {
			d.Log.Warn("classify batch failed, skipping", "batch", i+1, "files", len(batch), "error", err)
			continue
		}

		var parsed []ClassifiedFile
		if err := json.Unmarshal(cleanJSON([]byte(text)), &parsed); err != nil {
			d.Log.Warn("classify batch unparsable, dropping", "batch", i+1, "error", err)
			continue
		}

		// Only accept answers for files we actually sent, and pin roles to
		// the closed vocabulary.
		sent := make(map[string]bool, len(batch))
		for _, f := range batch {
			sent[f.Path] = true
		}
		for _, c := range parsed {
			if !sent[c.Path] {
				continue
			}
			c.Role = ParseRole(string(c.Role))
			out = append(out, c)
		}
	}
	return out, nil
}

func classifyPayload(batch []source.FileRecord, maxBytes int) string {
	var b strings.Builder
	for _, f := range batch {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", f.Path, truncate(f.Content, maxBytes))
	}
	return b.String()
}

// RoleMap indexes classifications by path.
func RoleMap(classified []ClassifiedFile) map[string]Role {
	m := make(map[string]Role, len(classified))
	for _, c := range classified {
		m[c.Path] = c.Role
	}
	return m
}
