package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codescribe/internal/facts"
	"codescribe/internal/inference"
)

const writerSystem = `You write concise technical documentation from a structured fact
digest of a codebase. Answer with a JSON object {"overview": "...", "architecture": "..."}
where each value is a markdown document body. Overview describes what the system does;
architecture describes how it is put together. No prose outside the JSON.`

// writerDigestCap bounds how many facts of each kind enter the prompt.
// The digest keeps each writer call far below the arbiter's per-call
// ceiling regardless of aggregate size.
const writerDigestCap = 25

type writerDigest struct {
	Endpoints     []string `json:"endpoints,omitempty"`
	Models        []string `json:"models,omitempty"`
	Relationships []string `json:"relationships,omitempty"`
	Components    []string `json:"components,omitempty"`
	FindingCount  int      `json:"finding_count"`
	RiskScore     float64  `json:"risk_score"`
}

type writerResult struct {
	Overview     string `json:"overview"`
	Architecture string `json:"architecture"`
}

// WriteProse is the only stage that turns structured aggregates into
// free-form text. One call produces both prose sections from a compressed
// digest, never from a verbose serialization of the aggregate.
func WriteProse(ctx context.Context, d Deps, agg *facts.Aggregate) (overview, architecture string, err error) {
	digest := buildDigest(agg)
	payload, err := json.Marshal(digest)
	if err != nil {
		return "", "", fmt.Errorf("marshal digest: %w", err)
	}

	d.progress("write", "writing prose sections", 1, 1)
	text, err := d.callModel(ctx, writerSystem, string(payload), inference.Options{MaxTokens: 3000})
	if err != nil {
		return "", "", fmt.Errorf("writer call: %w", err)
	}

	var parsed writerResult
	if err := json.Unmarshal(cleanJSON([]byte(text)), &parsed); err != nil {
		return "", "", fmt.Errorf("parse writer response: %w", err)
	}
	if parsed.Overview == "" && parsed.Architecture == "" {
		return "", "", fmt.Errorf("writer response empty")
	}
	return parsed.Overview, parsed.Architecture, nil
}

func buildDigest(agg *facts.Aggregate) writerDigest {
	d := writerDigest{
		FindingCount: len(agg.Findings),
		RiskScore:    agg.RiskScore,
	}
	for _, e := range capSlice(agg.Endpoints) {
		d.Endpoints = append(d.Endpoints, strings.ToUpper(e.Method)+" "+e.Path)
	}
	for _, m := range capSlice(agg.Models) {
		d.Models = append(d.Models, fmt.Sprintf("%s (%d fields)", m.Name, len(m.Fields)))
	}
	for _, r := range capSlice(agg.Relationships) {
		d.Relationships = append(d.Relationships, fmt.Sprintf("%s %s %s", r.From, r.Kind, r.To))
	}
	for _, c := range capSlice(agg.Components) {
		d.Components = append(d.Components, c.Name+": "+c.Kind)
	}
	return d
}

func capSlice[T any](in []T) []T {
	if len(in) > writerDigestCap {
		return in[:writerDigestCap]
	}
	return in
}
