package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"codescribe/internal/diffengine"
	"codescribe/internal/facts"
	"codescribe/internal/pipeline"
	"codescribe/internal/source"
	"codescribe/internal/stage"
	"codescribe/internal/store"
)

// NeedsFullRunError signals that the diff invalidated too much for an
// incremental cycle. The caller should run the full pipeline instead.
type NeedsFullRunError struct {
	Reason string
}

func (e *NeedsFullRunError) Error() string {
	return fmt.Sprintf("full run required: %s", e.Reason)
}

// Result is the immutable outcome of one sync cycle.
type Result struct {
	RunID     string
	NoChanges bool
	Added     int
	Modified  int
	Removed   int
	StagesRun []pipeline.StageID
	Facts     map[string]int
	RiskScore float64
	Duration  time.Duration
}

// Engine runs incremental sync cycles against one project.
type Engine struct {
	Source source.Source
	Store  store.Store
	Deps   stage.Deps
	Ring   *pipeline.Ring
	Log    *slog.Logger
	Opts   pipeline.Options
}

// Sync performs one incremental cycle. An empty diff is a no-op: no
// inference calls, no writes, stored state byte-identical. Any failure
// before the final commit leaves stored state untouched.
func (e *Engine) Sync(ctx context.Context, projectID, runID string) (*Result, error) {
	started := time.Now()
	deps := e.Deps
	deps.Progress = e.stageProgress(projectID)

	e.emit(projectID, pipeline.Event{Stage: pipeline.StageFetch, Status: pipeline.StatusRunning, Message: "walking source tree"})
	fresh, err := e.Source.FetchTree(ctx, "")
	if err != nil {
		return nil, e.fail(projectID, pipeline.StageFetch, fmt.Errorf("fetch tree: %w", err))
	}
	stored, err := e.Store.GetManifest(projectID)
	if err != nil {
		return nil, e.fail(projectID, pipeline.StageFetch, fmt.Errorf("load manifest: %w", err))
	}

	d := diffengine.Diff(stored, fresh)
	if d.Empty() {
		e.emit(projectID, pipeline.Event{Stage: pipeline.StageFinalize, Status: pipeline.StatusDone, Message: "no changes"})
		return &Result{RunID: runID, NoChanges: true, Duration: time.Since(started)}, nil
	}
	if d.NeedsFullRun {
		e.emit(projectID, pipeline.Event{Stage: pipeline.StageFetch, Status: pipeline.StatusDone, Message: d.Reason})
		return nil, &NeedsFullRunError{Reason: d.Reason}
	}
	e.emit(projectID, pipeline.Event{Stage: pipeline.StageFetch, Status: pipeline.StatusDone,
		Message: fmt.Sprintf("%d added, %d modified, %d removed", len(d.Added), len(d.Modified), len(d.Removed))})

	changed, err := e.fetchChanged(ctx, d.Changed())
	if err != nil {
		return nil, e.fail(projectID, pipeline.StageFetch, err)
	}

	// The classifier always reruns on changed files; roles for anything it
	// drops fall back to the stored manifest, then the path heuristic.
	storedRoles := make(map[string]stage.Role, len(stored))
	for _, m := range stored {
		storedRoles[m.Path] = stage.Role(m.Role)
	}
	var classified []stage.ClassifiedFile
	if len(changed) > 0 {
		e.emit(projectID, pipeline.Event{Stage: pipeline.StageClassify, Status: pipeline.StatusRunning,
			Message: fmt.Sprintf("classifying %d changed files", len(changed))})
		classified, err = stage.Classify(ctx, deps, changed, stage.ClassifyOptions{
			BatchSize:    e.Opts.BatchSize,
			MaxFileBytes: e.Opts.MaxFileBytes,
		})
		if err != nil {
			return nil, e.fail(projectID, pipeline.StageClassify, err)
		}
		e.emit(projectID, pipeline.Event{Stage: pipeline.StageClassify, Status: pipeline.StatusDone,
			Message: fmt.Sprintf("%d of %d files classified", len(classified), len(changed))})
	}
	roles := resolveRoles(changed, classified, storedRoles)

	plan := BuildPlan(changed, roles)
	freshFacts, err := e.runPlan(ctx, deps, plan, roles, projectID)
	if err != nil {
		return nil, err
	}

	prev, err := e.Store.GetAggregate(projectID)
	if err != nil {
		return nil, e.fail(projectID, pipeline.StageFinalize, fmt.Errorf("load aggregate: %w", err))
	}
	if prev == nil {
		prev = &facts.Aggregate{}
	}
	purge := make(map[string]bool, len(d.Removed)+len(changed))
	for _, p := range d.Removed {
		purge[p] = true
	}
	for _, f := range changed {
		purge[f.Path] = true
	}
	merged := mergeAggregate(prev, freshFacts, purge, len(plan.Schema) > 0)

	sections, err := e.regenerate(ctx, deps, merged, prev, plan, projectID)
	if err != nil {
		return nil, err
	}

	e.emit(projectID, pipeline.Event{Stage: pipeline.StageFinalize, Status: pipeline.StatusRunning, Message: "committing cycle"})
	manifest := nextManifest(stored, fresh, d, roles)
	stale, err := e.staleOverrides(projectID, sections)
	if err != nil {
		return nil, e.fail(projectID, pipeline.StageFinalize, err)
	}
	cycle := &store.Cycle{
		Manifest:       manifest,
		Aggregate:      merged,
		Sections:       sections,
		StaleOverrides: stale,
		CommitMarker:   runID,
	}
	if err := e.Store.CommitCycle(projectID, cycle); err != nil {
		return nil, e.fail(projectID, pipeline.StageFinalize, fmt.Errorf("commit cycle: %w", err))
	}

	res := &Result{
		RunID:     runID,
		Added:     len(d.Added),
		Modified:  len(d.Modified),
		Removed:   len(d.Removed),
		StagesRun: plan.Stages(),
		Facts:     merged.CountByKind(),
		RiskScore: merged.RiskScore,
		Duration:  time.Since(started),
	}
	e.emit(projectID, pipeline.Event{Stage: pipeline.StageFinalize, Status: pipeline.StatusDone,
		Message: "sync complete",
		Detail: fmt.Sprintf("%d added, %d modified, %d removed, %d sections regenerated",
			res.Added, res.Modified, res.Removed, len(sections))})
	return res, nil
}

func (e *Engine) fetchChanged(ctx context.Context, paths []string) ([]source.FileRecord, error) {
	out := make([]source.FileRecord, 0, len(paths))
	for _, p := range paths {
		content, err := e.Source.FetchContent(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", p, err)
		}
		out = append(out, source.FileRecord{Path: p, Content: content})
	}
	return out, nil
}

// runPlan fans the planned extractors out, same barrier discipline as the
// full pipeline: soft failures stay inside the stages, a returned error is
// unrecoverable.
func (e *Engine) runPlan(ctx context.Context, deps stage.Deps, plan *Plan, roles map[string]stage.Role, projectID string) (*facts.Aggregate, error) {
	opts := stage.ExtractOptions{BatchSize: e.Opts.BatchSize, MaxFileBytes: e.Opts.MaxFileBytes}
	agg := &facts.Aggregate{}
	if !plan.Any() {
		return agg, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	run := func(id pipeline.StageID, files []source.FileRecord, fn func(context.Context, []source.FileRecord) (int, error)) {
		if len(files) == 0 {
			return
		}
		e.emit(projectID, pipeline.Event{Stage: id, Status: pipeline.StatusRunning,
			Message: fmt.Sprintf("%d candidate files", len(files))})
		g.Go(func() error {
			n, err := fn(gctx, files)
			if err != nil {
				e.emit(projectID, pipeline.Event{Stage: id, Status: pipeline.StatusError, Message: err.Error()})
				return fmt.Errorf("%s: %w", id, err)
			}
			e.emit(projectID, pipeline.Event{Stage: id, Status: pipeline.StatusDone,
				Message: fmt.Sprintf("%d facts", n)})
			return nil
		})
	}
	run(pipeline.StageEndpoints, plan.Endpoints, func(ctx context.Context, files []source.FileRecord) (int, error) {
		eps, err := stage.ExtractEndpoints(ctx, deps, files, roles, opts)
		agg.Endpoints = eps
		return len(eps), err
	})
	run(pipeline.StageSchema, plan.Schema, func(ctx context.Context, files []source.FileRecord) (int, error) {
		models, rels, err := stage.ExtractSchema(ctx, deps, files, roles, opts)
		agg.Models, agg.Relationships = models, rels
		return len(models) + len(rels), err
	})
	run(pipeline.StageComponents, plan.Components, func(ctx context.Context, files []source.FileRecord) (int, error) {
		comps, err := stage.ExtractComponents(ctx, deps, files, roles, opts)
		agg.Components = comps
		return len(comps), err
	})
	run(pipeline.StageSecurity, plan.Security, func(ctx context.Context, files []source.FileRecord) (int, error) {
		findings, err := stage.ScanSecurity(ctx, deps, files, roles, opts)
		agg.Findings = findings
		return len(findings), err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agg, nil
}

// mergeAggregate splices fresh facts into the stored set: purge every
// stored fact owned by a changed or removed file, append the fresh facts,
// dedupe first-seen. Relationships have no owning file, so they are
// all-or-nothing: replaced wholesale iff the schema stage ran, untouched
// otherwise. The risk score always comes from the full merged finding set.
func mergeAggregate(stored, fresh *facts.Aggregate, purge map[string]bool, schemaRan bool) *facts.Aggregate {
	merged := &facts.Aggregate{
		Endpoints:     append([]facts.Endpoint(nil), stored.Endpoints...),
		Models:        append([]facts.Model(nil), stored.Models...),
		Relationships: append([]facts.Relationship(nil), stored.Relationships...),
		Components:    append([]facts.Component(nil), stored.Components...),
		Findings:      append([]facts.Finding(nil), stored.Findings...),
	}
	merged.PurgeFiles(purge)

	merged.Endpoints = facts.DedupeEndpoints(append(merged.Endpoints, fresh.Endpoints...))
	merged.Models = facts.DedupeModels(append(merged.Models, fresh.Models...))
	merged.Components = facts.DedupeComponents(append(merged.Components, fresh.Components...))
	merged.Findings = facts.DedupeFindings(append(merged.Findings, fresh.Findings...))
	if schemaRan {
		merged.Relationships = facts.DedupeRelationships(fresh.Relationships)
	}
	merged.RiskScore = facts.ComputeRiskScore(merged.Findings)
	return merged
}

// sectionStages maps each derived section to the stage whose output feeds
// it. Prose sections are handled separately: the writer runs iff any
// extractor did.
var sectionStages = map[store.SectionKey]pipeline.StageID{
	store.SectionFactsReference: pipeline.StageEndpoints,
	store.SectionSchemaDoc:      pipeline.StageSchema,
	store.SectionReport:         pipeline.StageSecurity,
}

// regenerate rebuilds only the sections whose inputs moved this cycle.
// The pure builders also rerun when a purge changed their fact set, since
// that costs no inference. Everything else stays byte-identical in the
// store.
func (e *Engine) regenerate(ctx context.Context, deps stage.Deps, merged, prev *facts.Aggregate, plan *Plan, projectID string) ([]store.DerivedSection, error) {
	ran := make(map[pipeline.StageID]bool)
	for _, s := range plan.Stages() {
		ran[s] = true
	}

	var sections []store.DerivedSection
	if ran[sectionStages[store.SectionFactsReference]] || len(merged.Endpoints) != len(prev.Endpoints) {
		sections = append(sections, store.DerivedSection{Key: store.SectionFactsReference, Content: stage.BuildFactsReference(merged)})
	}
	if ran[sectionStages[store.SectionSchemaDoc]] ||
		len(merged.Models) != len(prev.Models) || len(merged.Relationships) != len(prev.Relationships) {
		sections = append(sections, store.DerivedSection{Key: store.SectionSchemaDoc, Content: stage.BuildSchemaDoc(merged)})
	}
	if ran[sectionStages[store.SectionReport]] || len(merged.Findings) != len(prev.Findings) {
		sections = append(sections, store.DerivedSection{Key: store.SectionReport, Content: stage.BuildReport(merged)})
	}

	if plan.Any() {
		e.emit(projectID, pipeline.Event{Stage: pipeline.StageWrite, Status: pipeline.StatusRunning})
		overview, architecture, err := stage.WriteProse(ctx, deps, merged)
		if err != nil {
			return nil, e.fail(projectID, pipeline.StageWrite, err)
		}
		e.emit(projectID, pipeline.Event{Stage: pipeline.StageWrite, Status: pipeline.StatusDone})
		sections = append(sections,
			store.DerivedSection{Key: store.SectionOverview, Content: overview},
			store.DerivedSection{Key: store.SectionArchitecture, Content: architecture},
		)
	}
	return sections, nil
}

// nextManifest applies the diff to the stored manifest: removed paths
// drop out, changed paths get fresh hashes and roles, unchanged rows stay.
func nextManifest(stored []store.ManifestEntry, fresh []source.TreeEntry, d *diffengine.Result, roles map[string]stage.Role) []store.ManifestEntry {
	changed := make(map[string]bool, len(d.Added)+len(d.Modified))
	for _, p := range d.Changed() {
		changed[p] = true
	}
	storedRoles := make(map[string]string, len(stored))
	for _, m := range stored {
		storedRoles[m.Path] = m.Role
	}

	out := make([]store.ManifestEntry, 0, len(fresh))
	for _, f := range fresh {
		entry := store.ManifestEntry{Path: f.Path, ContentHash: f.ContentHash}
		if changed[f.Path] {
			entry.Role = string(roles[f.Path])
		} else {
			entry.Role = storedRoles[f.Path]
		}
		out = append(out, entry)
	}
	return out
}

func (e *Engine) staleOverrides(projectID string, sections []store.DerivedSection) ([]store.SectionKey, error) {
	overrides, err := e.Store.GetOverrides(projectID)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	regenerated := make(map[store.SectionKey]bool, len(sections))
	for _, s := range sections {
		regenerated[s.Key] = true
	}
	var stale []store.SectionKey
	for _, o := range overrides {
		if regenerated[o.Key] {
			stale = append(stale, o.Key)
		}
	}
	return stale, nil
}

func (e *Engine) stageProgress(projectID string) stage.Progress {
	return func(stageName, message string, batch, total int) {
		e.emit(projectID, pipeline.Event{
			Stage:   pipeline.StageID(stageName),
			Status:  pipeline.StatusRunning,
			Message: message,
			Detail:  fmt.Sprintf("batch %d/%d", batch, total),
		})
	}
}

func (e *Engine) fail(projectID string, id pipeline.StageID, err error) error {
	e.emit(projectID, pipeline.Event{Stage: id, Status: pipeline.StatusError, Message: err.Error()})
	return fmt.Errorf("%s: %w", id, err)
}

func (e *Engine) emit(projectID string, ev pipeline.Event) {
	ev = e.Ring.Append(ev)
	if e.Store == nil {
		return
	}
	err := e.Store.AppendEvent(projectID, store.Event{
		Stage:   string(ev.Stage),
		Status:  ev.Status,
		Message: ev.Message,
		Detail:  ev.Detail,
		At:      ev.At.UTC().Format(time.RFC3339),
	})
	if err != nil && e.Log != nil {
		e.Log.Warn("persist event", "stage", ev.Stage, "error", err)
	}
}
