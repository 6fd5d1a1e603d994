// Package diffengine computes what changed between the stored manifest and
// a fresh tree snapshot. The content hash is the only change signal.
package diffengine

import (
	"fmt"
	"sort"

	"codescribe/internal/source"
	"codescribe/internal/stage"
	"codescribe/internal/store"
)

// Result partitions the fresh tree against the stored manifest. When a
// structural file (package.json, go.mod, ...) was added or modified, the
// dependency picture may have shifted under every extractor and the caller
// should run the full pipeline instead of an incremental sync.
type Result struct {
	Added        []string
	Modified     []string
	Removed      []string
	Unchanged    []string
	NeedsFullRun bool
	Reason       string
}

// Empty reports whether nothing changed.
func (r *Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Modified) == 0 && len(r.Removed) == 0
}

// Changed returns added plus modified paths, sorted.
func (r *Result) Changed() []string {
	out := make([]string, 0, len(r.Added)+len(r.Modified))
	out = append(out, r.Added...)
	out = append(out, r.Modified...)
	sort.Strings(out)
	return out
}

// Diff compares the stored manifest with a fresh snapshot.
func Diff(stored []store.ManifestEntry, fresh []source.TreeEntry) *Result {
	storedByPath := make(map[string]string, len(stored))
	for _, e := range stored {
		storedByPath[e.Path] = e.ContentHash
	}
	freshPaths := make(map[string]bool, len(fresh))

	res := &Result{}
	for _, f := range fresh {
		freshPaths[f.Path] = true
		prev, ok := storedByPath[f.Path]
		switch {
		case !ok:
			res.Added = append(res.Added, f.Path)
		case prev != f.ContentHash:
			res.Modified = append(res.Modified, f.Path)
		default:
			res.Unchanged = append(res.Unchanged, f.Path)
		}
	}
	for _, e := range stored {
		if !freshPaths[e.Path] {
			res.Removed = append(res.Removed, e.Path)
		}
	}
	sort.Strings(res.Added)
	sort.Strings(res.Modified)
	sort.Strings(res.Removed)
	sort.Strings(res.Unchanged)

	for _, p := range res.Changed() {
		if stage.IsStructuralFile(p) {
			res.NeedsFullRun = true
			res.Reason = fmt.Sprintf("structural file changed: %s", p)
			break
		}
	}
	return res
}
