package stage

import (
	"context"
	"strings"
	"testing"

	"codescribe/internal/facts"
	"codescribe/internal/inference"
)

func sampleAggregate() *facts.Aggregate {
	return &facts.Aggregate{
		Endpoints: []facts.Endpoint{
			{Method: "POST", Path: "/orders", Handler: "createOrder", File: "routes/orders.js"},
			{Method: "GET", Path: "/users", Handler: "listUsers", Auth: true, File: "routes/users.js"},
		},
		Models: []facts.Model{
			{Name: "User", Fields: []facts.Field{{Name: "id", Type: "int"}, {Name: "email", Type: "string"}}, File: "models/user.js"},
		},
		Relationships: []facts.Relationship{{From: "Order", To: "User", Kind: "belongsTo"}},
		Findings: []facts.Finding{
			{Rule: "weak-hash", Severity: facts.SeverityMedium, File: "auth.js", Line: 12},
			{Rule: "hardcoded-secret", Severity: facts.SeverityCritical, File: "cfg.js", Line: 3, Description: "API key in source"},
		},
		RiskScore: 12,
	}
}

func TestBuildFactsReferenceDeterministic(t *testing.T) {
	agg := sampleAggregate()
	a := BuildFactsReference(agg)
	b := BuildFactsReference(agg)
	if a != b {
		t.Error("builder output not byte-identical across runs")
	}
	if !strings.Contains(a, "GET") || !strings.Contains(a, "/orders") {
		t.Errorf("missing endpoint rows:\n%s", a)
	}
	// Sorted by path: /orders before /users.
	if strings.Index(a, "/orders") > strings.Index(a, "/users") {
		t.Error("endpoints not sorted by path")
	}
}

func TestBuildSchemaDoc(t *testing.T) {
	out := BuildSchemaDoc(sampleAggregate())
	for _, want := range []string{"## User", "models/user.js", "email", "## Relationships", "belongsTo"} {
		if !strings.Contains(out, want) {
			t.Errorf("schema doc missing %q:\n%s", want, out)
		}
	}
}

func TestBuildReportSortsBySeverity(t *testing.T) {
	out := BuildReport(sampleAggregate())
	if !strings.Contains(out, "Risk score: **12.0** across 2 findings") {
		t.Errorf("missing risk score line:\n%s", out)
	}
	if strings.Index(out, "critical") > strings.Index(out, "medium") {
		t.Error("findings not sorted critical-first")
	}
	if !strings.Contains(out, "cfg.js:3") {
		t.Errorf("missing file:line location:\n%s", out)
	}
}

func TestBuildersEmptyAggregate(t *testing.T) {
	empty := &facts.Aggregate{}
	if !strings.Contains(BuildFactsReference(empty), "No endpoints") {
		t.Error("empty facts reference")
	}
	if !strings.Contains(BuildSchemaDoc(empty), "No models") {
		t.Error("empty schema doc")
	}
	if !strings.Contains(BuildReport(empty), "No findings") {
		t.Error("empty report")
	}
}

func TestWriteProseUsesCompressedDigest(t *testing.T) {
	mock := inference.NewMock(inference.MockReply{
		Text: `{"overview":"A payments API.","architecture":"Express + Postgres."}`,
	})
	agg := sampleAggregate()
	// Inflate the aggregate well past the digest cap.
	for i := 0; i < 200; i++ {
		agg.Endpoints = append(agg.Endpoints, facts.Endpoint{Method: "GET", Path: "/x", File: "f.js"})
	}

	overview, architecture, err := WriteProse(context.Background(), testDeps(mock), agg)
	if err != nil {
		t.Fatalf("WriteProse: %v", err)
	}
	if overview != "A payments API." || architecture != "Express + Postgres." {
		t.Errorf("sections = %q, %q", overview, architecture)
	}
	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("writer made %d calls, want 1", len(calls))
	}
	if n := strings.Count(calls[0].User, "GET /x"); n > writerDigestCap {
		t.Errorf("digest not bounded: %d endpoint entries in payload", n)
	}
}

func TestWriteProseErrorOnEmptyAnswer(t *testing.T) {
	mock := inference.NewMock(inference.MockReply{Text: `{}`})
	if _, _, err := WriteProse(context.Background(), testDeps(mock), sampleAggregate()); err == nil {
		t.Fatal("expected error for empty writer response")
	}
}
