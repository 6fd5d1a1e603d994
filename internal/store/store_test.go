package store

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"codescribe/internal/facts"
)

// both runs a test against SQLite and the in-memory store.
func both(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
	t.Run("mem", func(t *testing.T) {
		fn(t, NewMemStore())
	})
}

func mustCreateProject(t *testing.T, s Store) *Project {
	t.Helper()
	p := &Project{ID: "p1", Name: "demo", Root: "/src/demo", Ref: "main"}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestProjectRoundTrip(t *testing.T) {
	both(t, func(t *testing.T, s Store) {
		p := mustCreateProject(t, s)

		got, err := s.GetProject(p.ID)
		if err != nil {
			t.Fatalf("get project: %v", err)
		}
		if got == nil || got.Name != "demo" {
			t.Fatalf("got %+v", got)
		}
		byName, err := s.GetProjectByName("demo")
		if err != nil || byName == nil || byName.ID != "p1" {
			t.Fatalf("by name: %+v, %v", byName, err)
		}
		missing, err := s.GetProject("nope")
		if err != nil || missing != nil {
			t.Fatalf("missing project should be nil,nil: %+v, %v", missing, err)
		}
	})
}

func TestCommitCycleReplacesState(t *testing.T) {
	both(t, func(t *testing.T, s Store) {
		p := mustCreateProject(t, s)

		first := &Cycle{
			Manifest: []ManifestEntry{
				{Path: "a.js", ContentHash: "h1", Role: "api"},
				{Path: "b.js", ContentHash: "h2", Role: "model"},
			},
			Aggregate: &facts.Aggregate{
				Endpoints: []facts.Endpoint{{Method: "GET", Path: "/a", File: "a.js"}},
				RiskScore: 5,
			},
			Sections:     []DerivedSection{{Key: SectionOverview, Content: "v1"}},
			CommitMarker: "run-1",
		}
		if err := s.CommitCycle(p.ID, first); err != nil {
			t.Fatalf("commit 1: %v", err)
		}

		second := &Cycle{
			Manifest:     []ManifestEntry{{Path: "a.js", ContentHash: "h9", Role: "api"}},
			Aggregate:    &facts.Aggregate{RiskScore: 0},
			Sections:     []DerivedSection{{Key: SectionOverview, Content: "v2"}},
			CommitMarker: "run-2",
		}
		if err := s.CommitCycle(p.ID, second); err != nil {
			t.Fatalf("commit 2: %v", err)
		}

		manifest, err := s.GetManifest(p.ID)
		if err != nil {
			t.Fatal(err)
		}
		want := []ManifestEntry{{Path: "a.js", ContentHash: "h9", Role: "api"}}
		if diff := cmp.Diff(want, manifest); diff != "" {
			t.Errorf("manifest not replaced wholesale (-want +got):\n%s", diff)
		}

		agg, err := s.GetAggregate(p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if agg == nil || len(agg.Endpoints) != 0 {
			t.Errorf("aggregate not replaced: %+v", agg)
		}

		sec, err := s.GetSection(p.ID, SectionOverview)
		if err != nil {
			t.Fatal(err)
		}
		if sec == nil || sec.Content != "v2" || sec.CommitMarker != "run-2" {
			t.Errorf("section = %+v", sec)
		}
	})
}

func TestCommitCycleLeavesOtherSectionsAlone(t *testing.T) {
	both(t, func(t *testing.T, s Store) {
		p := mustCreateProject(t, s)
		if err := s.CommitCycle(p.ID, &Cycle{
			Aggregate: &facts.Aggregate{},
			Sections: []DerivedSection{
				{Key: SectionOverview, Content: "o1"},
				{Key: SectionReport, Content: "r1"},
			},
			CommitMarker: "run-1",
		}); err != nil {
			t.Fatal(err)
		}
		// Second cycle only regenerates the report.
		if err := s.CommitCycle(p.ID, &Cycle{
			Aggregate:    &facts.Aggregate{},
			Sections:     []DerivedSection{{Key: SectionReport, Content: "r2"}},
			CommitMarker: "run-2",
		}); err != nil {
			t.Fatal(err)
		}

		overview, _ := s.GetSection(p.ID, SectionOverview)
		if overview == nil || overview.Content != "o1" || overview.CommitMarker != "run-1" {
			t.Errorf("untouched section changed: %+v", overview)
		}
		report, _ := s.GetSection(p.ID, SectionReport)
		if report == nil || report.Content != "r2" {
			t.Errorf("report = %+v", report)
		}
	})
}

func TestOverrideStaleFlagOnCommit(t *testing.T) {
	both(t, func(t *testing.T, s Store) {
		p := mustCreateProject(t, s)
		if err := s.PutOverride(p.ID, &UserOverride{Key: SectionOverview, Content: "my words"}); err != nil {
			t.Fatal(err)
		}

		if err := s.CommitCycle(p.ID, &Cycle{
			Aggregate:      &facts.Aggregate{},
			Sections:       []DerivedSection{{Key: SectionOverview, Content: "ai words"}},
			StaleOverrides: []SectionKey{SectionOverview},
			CommitMarker:   "run-1",
		}); err != nil {
			t.Fatal(err)
		}

		overrides, err := s.GetOverrides(p.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(overrides) != 1 {
			t.Fatalf("overrides = %+v", overrides)
		}
		o := overrides[0]
		if !o.Stale {
			t.Error("override not flagged stale")
		}
		if o.Content != "my words" {
			t.Errorf("override content overwritten: %q", o.Content)
		}
		// The fresh AI content stays available alongside.
		sec, _ := s.GetSection(p.ID, SectionOverview)
		if sec == nil || sec.Content != "ai words" {
			t.Errorf("fresh section = %+v", sec)
		}
	})
}

func TestEventLogBoundedAndReplayable(t *testing.T) {
	both(t, func(t *testing.T, s Store) {
		p := mustCreateProject(t, s)
		for i := 0; i < maxEventsPerProject+10; i++ {
			if err := s.AppendEvent(p.ID, Event{Stage: "classify", Status: "running", Message: "m"}); err != nil {
				t.Fatal(err)
			}
		}
		all, err := s.ListEvents(p.ID, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != maxEventsPerProject {
			t.Errorf("event log holds %d rows, want cap %d", len(all), maxEventsPerProject)
		}

		// Replay from a midpoint: strictly-after semantics.
		mid := all[len(all)/2].Seq
		tail, err := s.ListEvents(p.ID, mid, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(tail) == 0 || tail[0].Seq != mid+1 {
			t.Errorf("replay from %d starts at %d", mid, tail[0].Seq)
		}

		limited, err := s.ListEvents(p.ID, 0, 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(limited) != 5 {
			t.Errorf("limit ignored: %d", len(limited))
		}
	})
}
