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

const endpointSystem = `You extract HTTP endpoints from source files. Answer with a JSON array
of {"method","path","handler","auth","file"} objects. method is the uppercase HTTP verb,
file is the source path the endpoint was found in. No prose outside the JSON.`

// endpointHints are cheap local signals that a file declares routes. They
// cost nothing; inference budget is only spent on files that pass.
var endpointHints = []string{
	"app.get(", "app.post(", "app.put(", "app.delete(", "app.patch(",
	"router.", "@getmapping", "@postmapping", "@requestmapping",
	"@app.route", "@get(", "@post(", "http.handle", "mux.handle",
	"r.get(", "r.post(", "e.get(", "e.post(",
}

// EndpointCandidate reports whether a file is worth sending to the
// endpoint extractor, based on role and content heuristics only.
func EndpointCandidate(f source.FileRecord, role Role) bool {
	if role == RoleAPI {
		return true
	}
	if !IsCodeFile(f.Path) {
		return false
	}
	lower := strings.ToLower(f.Content)
	for _, h := range endpointHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// ExtractOptions tunes the fact extractors.
type ExtractOptions struct {
	BatchSize    int
	MaxFileBytes int
}

func (o *ExtractOptions) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 8
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = 4096
	}
}

// ExtractEndpoints runs the endpoint extractor over pre-filtered candidate
// files. Output is deduplicated by method+path, first-seen kept. Batch
// failures are soft: coverage shrinks, the stage never aborts.
func ExtractEndpoints(ctx context.Context, d Deps, files []source.FileRecord, roles map[string]Role, opts ExtractOptions) ([]facts.Endpoint, error) {
	opts.defaults()
	candidates := filterFiles(files, func(f source.FileRecord) bool {
		return EndpointCandidate(f, roles[f.Path])
	})

	var out []facts.Endpoint
	all := batches(candidates, opts.BatchSize)
	for i, batch := range all {
		if err := ctx.Err(); err != nil {
			return facts.DedupeEndpoints(out), err
		}
		d.progress("endpoints", fmt.Sprintf("extracting batch %d/%d", i+1, len(all)), i+1, len(all))

		text, err := d.callModel(ctx, endpointSystem, extractPayload(batch, opts.MaxFileBytes), inference.Options{MaxTokens: 2000})
		if err != nil {
			d.Log.Warn("endpoint batch failed, skipping", "batch", i+1, "error", err)
			continue
		}
		var parsed []facts.Endpoint
		if err := json.Unmarshal(cleanJSON([]byte(text)), &parsed); err != nil {
			d.Log.Warn("endpoint batch unparsable, dropping", "batch", i+1, "error", err)
			continue
		}
		out = append(out, ownedBy(parsed, batch, func(e facts.Endpoint) string { return e.File })...)
	}
	return facts.DedupeEndpoints(out), nil
}

func filterFiles(files []source.FileRecord, keep func(source.FileRecord) bool) []source.FileRecord {
	var out []source.FileRecord
	for _, f := range files {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

func extractPayload(batch []source.FileRecord, maxBytes int) string {
	var b strings.Builder
	for _, f := range batch {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", f.Path, truncate(f.Content, maxBytes))
	}
	return b.String()
}

// ownedBy keeps only facts whose owning file was actually in the batch,
// discarding hallucinated paths.
func ownedBy[T any](parsed []T, batch []source.FileRecord, file func(T) string) []T {
	sent := make(map[string]bool, len(batch))
	for _, f := range batch {
		sent[f.Path] = true
	}
	var out []T
	for _, p := range parsed {
		if sent[file(p)] {
			out = append(out, p)
		}
	}
	return out
}
