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

const componentSystem = `You identify architectural components (services, queues, caches,
databases, external integrations) declared or configured in source files. Answer with a
JSON array of {"name","kind","description","file"} objects. file is the source path.
No prose outside the JSON.`

var componentHints = []string{
	"redis", "kafka", "rabbitmq", "amqp", "sqs", "pubsub", "grpc",
	"postgres", "mysql", "mongodb", "elasticsearch", "s3", "docker",
	"cron", "worker", "queue", "websocket", "stripe", "twilio", "smtp",
}

// ComponentCandidate reports whether a file likely declares components.
func ComponentCandidate(f source.FileRecord, role Role) bool {
	if role == RoleService || role == RoleConfig {
		return true
	}
	if !IsCodeFile(f.Path) && role != RoleConfig {
		return false
	}
	lower := strings.ToLower(f.Content)
	for _, h := range componentHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// ExtractComponents runs the component extractor over candidate files.
// Output is deduplicated by component name, first-seen kept.
func ExtractComponents(ctx context.Context, d Deps, files []source.FileRecord, roles map[string]Role, opts ExtractOptions) ([]facts.Component, error) {
	opts.defaults()
	candidates := filterFiles(files, func(f source.FileRecord) bool {
		return ComponentCandidate(f, roles[f.Path])
	})

	var out []facts.Component
	all := batches(candidates, opts.BatchSize)
	for i, batch := range all {
		if err := ctx.Err(); err != nil {
			return facts.DedupeComponents(out), err
		}
		d.progress("components", fmt.Sprintf("extracting batch %d/%d", i+1, len(all)), i+1, len(all))

		text, err := d.callModel(ctx, componentSystem, extractPayload(batch, opts.MaxFileBytes), inference.Options{MaxTokens: 1500})
		if err != nil {
			d.Log.Warn("component batch failed, skipping", "batch", i+1, "error", err)
			continue
		}
		var parsed []facts.Component
		if err := json.Unmarshal(cleanJSON([]byte(text)), &parsed); err != nil {
			d.Log.Warn("component batch unparsable, dropping", "batch", i+1, "error", err)
			continue
		}
		out = append(out, ownedBy(parsed, batch, func(c facts.Component) string { return c.File })...)
	}
	return facts.DedupeComponents(out), nil
}
