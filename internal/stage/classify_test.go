package stage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"codescribe/internal/arbiter"
	"codescribe/internal/inference"
	"codescribe/internal/source"
)

func testDeps(m *inference.Mock) Deps {
	return Deps{
		Arbiter: arbiter.New(1_000_000, time.Minute, nil),
		Client:  m,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClassifyParsesBatch(t *testing.T) {
	mock := inference.NewMock(inference.MockReply{
		Text: `[{"path":"routes/users.js","role":"api","summary":"user routes"},
		        {"path":"models/user.js","role":"model","summary":"user model"}]`,
		Cost: 30,
	})
	files := []source.FileRecord{
		{Path: "routes/users.js", Content: "app.get('/users')"},
		{Path: "models/user.js", Content: "const User = db.model('User')"},
	}

	got, err := Classify(context.Background(), testDeps(mock), files, ClassifyOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("classified %d files, want 2", len(got))
	}
	if got[0].Role != RoleAPI || got[1].Role != RoleModel {
		t.Errorf("roles = %s, %s", got[0].Role, got[1].Role)
	}
}

func TestClassifyDropsUnparsableBatch(t *testing.T) {
	mock := inference.NewMock(
		inference.MockReply{Text: "I think these files are interesting!"},
		inference.MockReply{Text: `[{"path":"b.js","role":"service"}]`},
	)
	files := []source.FileRecord{
		{Path: "a.js", Content: "x"},
		{Path: "b.js", Content: "y"},
	}

	// Batch size 1: first batch unparsable and dropped, second succeeds.
	got, err := Classify(context.Background(), testDeps(mock), files, ClassifyOptions{BatchSize: 1})
	if err != nil {
		t.Fatalf("Classify must not fail on unparsable batches: %v", err)
	}
	if len(got) != 1 || got[0].Path != "b.js" {
		t.Errorf("got %+v, want only b.js (partial coverage accepted)", got)
	}
}

func TestClassifyFiltersHallucinatedPaths(t *testing.T) {
	mock := inference.NewMock(inference.MockReply{
		Text: `[{"path":"a.js","role":"api"},{"path":"made-up.js","role":"api"}]`,
	})
	files := []source.FileRecord{{Path: "a.js", Content: "x"}}

	got, err := Classify(context.Background(), testDeps(mock), files, ClassifyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != "a.js" {
		t.Errorf("hallucinated path survived: %+v", got)
	}
}

func TestClassifyUnknownRoleDegradesToOther(t *testing.T) {
	mock := inference.NewMock(inference.MockReply{
		Text: `[{"path":"a.js","role":"frontend-widget"}]`,
	})
	got, err := Classify(context.Background(), testDeps(mock),
		[]source.FileRecord{{Path: "a.js", Content: "x"}}, ClassifyOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Role != RoleOther {
		t.Errorf("role = %s, want other", got[0].Role)
	}
}

func TestClassifyEmitsBatchProgress(t *testing.T) {
	mock := inference.NewMock(inference.MockReply{Text: "[]"})
	d := testDeps(mock)
	var events []int
	d.Progress = func(stage, msg string, batch, total int) {
		if stage == "classify" {
			events = append(events, batch)
		}
	}
	files := make([]source.FileRecord, 5)
	for i := range files {
		files[i] = source.FileRecord{Path: string(rune('a'+i)) + ".js", Content: "x"}
	}

	if _, err := Classify(context.Background(), d, files, ClassifyOptions{BatchSize: 2}); err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Errorf("progress events = %v, want 3 batches", events)
	}
}
