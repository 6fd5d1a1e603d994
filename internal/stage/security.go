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

const securitySystem = `You review source files for security issues: injection, hardcoded
credentials, unsafe deserialization, missing auth checks, weak crypto. Answer with a JSON
array of {"rule","description","severity","file","line"} objects where severity is one of
critical, high, medium, low and file is the source path. Report only concrete issues.
No prose outside the JSON.`

// riskHints are cheap local signals of risky code. They are one input
// signal; the model call decides what is actually a finding.
var riskHints = []string{
	"password", "secret", "api_key", "apikey", "token", "exec(",
	"eval(", "pickle.loads", "yaml.load(", "md5", "sha1", "http://",
	"select * from", "insert into", "query(", "innerhtml", "dangerouslysetinnerhtml",
	"os.system", "subprocess", "child_process",
}

// SecurityCandidate reports whether a file should feed the security scan.
// A file with no matching role still qualifies if it looks like code.
func SecurityCandidate(f source.FileRecord, role Role) bool {
	if role == RoleDocs {
		return false
	}
	lower := strings.ToLower(f.Content)
	for _, h := range riskHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return role == "" && IsCodeFile(f.Path)
}

// ScanSecurity runs the security scan over candidate files and returns
// deduplicated findings. Like every extractor, batch failures are soft.
func ScanSecurity(ctx context.Context, d Deps, files []source.FileRecord, roles map[string]Role, opts ExtractOptions) ([]facts.Finding, error) {
	opts.defaults()
	candidates := filterFiles(files, func(f source.FileRecord) bool {
		return SecurityCandidate(f, roles[f.Path])
	})

	var out []facts.Finding
	all := batches(candidates, opts.BatchSize)
	for i, batch := range all {
		if err := ctx.Err(); err != nil {
			return facts.DedupeFindings(out), err
		}
		d.progress("security", fmt.Sprintf("scanning batch %d/%d", i+1, len(all)), i+1, len(all))

		text, err := d.callModel(ctx, securitySystem, extractPayload(batch, opts.MaxFileBytes), inference.Options{MaxTokens: 2000})
		if err != nil {
			d.Log.Warn("security batch failed, skipping", "batch", i+1, "error", err)
			continue
		}
		var parsed []facts.Finding
		if err := json.Unmarshal(cleanJSON([]byte(text)), &parsed); err != nil {
			d.Log.Warn("security batch unparsable, dropping", "batch", i+1, "error", err)
			continue
		}
		for j := range parsed {
			parsed[j].Severity = normalizeSeverity(parsed[j].Severity)
		}
		out = append(out, ownedBy(parsed, batch, func(f facts.Finding) string { return f.File })...)
	}
	return facts.DedupeFindings(out), nil
}

func normalizeSeverity(s facts.Severity) facts.Severity {
	switch facts.Severity(strings.ToLower(string(s))) {
	case facts.SeverityCritical:
		return facts.SeverityCritical
	case facts.SeverityHigh:
		return facts.SeverityHigh
	case facts.SeverityMedium:
		return facts.SeverityMedium
	default:
		return facts.SeverityLow
	}
}
