package diffengine

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"codescribe/internal/source"
	"codescribe/internal/store"
)

func manifest(entries ...store.ManifestEntry) []store.ManifestEntry { return entries }

func tree(entries ...source.TreeEntry) []source.TreeEntry { return entries }

func TestDiffPartitions(t *testing.T) {
	stored := manifest(
		store.ManifestEntry{Path: "a.js", ContentHash: "h1"},
		store.ManifestEntry{Path: "b.js", ContentHash: "h2"},
	)
	fresh := tree(
		source.TreeEntry{Path: "a.js", ContentHash: "h1"},
		source.TreeEntry{Path: "b.js", ContentHash: "h3"},
		source.TreeEntry{Path: "c.js", ContentHash: "h4"},
	)

	got := Diff(stored, fresh)
	want := &Result{
		Added:     []string{"c.js"},
		Modified:  []string{"b.js"},
		Unchanged: []string{"a.js"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff (-want +got):\n%s", diff)
	}
	if gotChanged := got.Changed(); len(gotChanged) != 2 || gotChanged[0] != "b.js" || gotChanged[1] != "c.js" {
		t.Errorf("Changed = %v", gotChanged)
	}
}

func TestDiffRemoved(t *testing.T) {
	stored := manifest(
		store.ManifestEntry{Path: "a.js", ContentHash: "h1"},
		store.ManifestEntry{Path: "gone.js", ContentHash: "h2"},
	)
	fresh := tree(source.TreeEntry{Path: "a.js", ContentHash: "h1"})

	got := Diff(stored, fresh)
	if len(got.Removed) != 1 || got.Removed[0] != "gone.js" {
		t.Errorf("Removed = %v", got.Removed)
	}
	if got.NeedsFullRun {
		t.Error("removal alone should not force a full run")
	}
}

func TestDiffEmpty(t *testing.T) {
	stored := manifest(store.ManifestEntry{Path: "a.js", ContentHash: "h1"})
	fresh := tree(source.TreeEntry{Path: "a.js", ContentHash: "h1"})

	got := Diff(stored, fresh)
	if !got.Empty() {
		t.Errorf("expected empty diff, got %+v", got)
	}
}

func TestDiffStructuralFileForcesFullRun(t *testing.T) {
	stored := manifest(store.ManifestEntry{Path: "package.json", ContentHash: "h1"})
	fresh := tree(
		source.TreeEntry{Path: "package.json", ContentHash: "h2"},
		source.TreeEntry{Path: "a.js", ContentHash: "h3"},
	)

	got := Diff(stored, fresh)
	if !got.NeedsFullRun {
		t.Fatal("modified package.json should force a full run")
	}
	if got.Reason == "" {
		t.Error("reason missing")
	}

	// Nested structural files count too.
	got = Diff(nil, tree(source.TreeEntry{Path: "backend/go.mod", ContentHash: "h1"}))
	if !got.NeedsFullRun {
		t.Error("added go.mod should force a full run")
	}
}
