// Package pipeline runs the full analysis cycle: fetch the tree, classify
// every file, fan the extractors out, write prose, and commit one atomic
// cycle to the store. Every transition is visible as an Event.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"codescribe/internal/facts"
	"codescribe/internal/source"
	"codescribe/internal/stage"
	"codescribe/internal/store"
)

// Options tunes batching for one run. Zero values fall back to the stage
// defaults.
type Options struct {
	BatchSize    int
	MaxFileBytes int
}

// Result is the immutable outcome of a full run.
type Result struct {
	RunID      string
	Files      int
	Classified int
	Facts      map[string]int
	RiskScore  float64
	Duration   time.Duration
}

// Runner orchestrates one project's full analysis runs. The same Runner is
// reused across runs; per-run state lives on the stack of RunFull.
type Runner struct {
	Source source.Source
	Store  store.Store
	Deps   stage.Deps
	Ring   *Ring
	Log    *slog.Logger
	Opts   Options
}

// RunFull executes the whole pipeline for one project. Classification is a
// hard barrier; the four extractors run concurrently and a soft failure in
// one does not cancel the others. Nothing is persisted unless the cycle
// completes.
func (r *Runner) RunFull(ctx context.Context, projectID, runID string) (*Result, error) {
	started := time.Now()
	deps := r.Deps
	deps.Progress = r.stageProgress(projectID)

	files, manifest, err := r.fetch(ctx, projectID)
	if err != nil {
		return nil, r.fail(projectID, StageFetch, err)
	}

	r.emit(projectID, Event{Stage: StageClassify, Status: StatusRunning,
		Message: fmt.Sprintf("classifying %d files", len(files))})
	classified, err := stage.Classify(ctx, deps, files, stage.ClassifyOptions{
		BatchSize:    r.Opts.BatchSize,
		MaxFileBytes: r.Opts.MaxFileBytes,
	})
	if err != nil {
		return nil, r.fail(projectID, StageClassify, err)
	}
	roles := stage.RoleMap(classified)
	for i := range manifest {
		if role, ok := roles[manifest[i].Path]; ok {
			manifest[i].Role = string(role)
		}
	}
	r.emit(projectID, Event{Stage: StageClassify, Status: StatusDone,
		Message: fmt.Sprintf("%d of %d files classified", len(classified), len(files))})

	agg, err := r.extract(ctx, deps, files, roles, projectID)
	if err != nil {
		return nil, err
	}
	agg.RiskScore = facts.ComputeRiskScore(agg.Findings)

	sections, err := r.write(ctx, deps, agg, projectID)
	if err != nil {
		return nil, err
	}

	r.emit(projectID, Event{Stage: StageFinalize, Status: StatusRunning, Message: "committing cycle"})
	stale, err := r.staleOverrides(projectID, sections)
	if err != nil {
		return nil, r.fail(projectID, StageFinalize, err)
	}
	cycle := &store.Cycle{
		Manifest:       manifest,
		Aggregate:      agg,
		Sections:       sections,
		StaleOverrides: stale,
		CommitMarker:   runID,
	}
	if err := r.Store.CommitCycle(projectID, cycle); err != nil {
		return nil, r.fail(projectID, StageFinalize, fmt.Errorf("commit cycle: %w", err))
	}

	res := &Result{
		RunID:      runID,
		Files:      len(files),
		Classified: len(classified),
		Facts:      agg.CountByKind(),
		RiskScore:  agg.RiskScore,
		Duration:   time.Since(started),
	}
	r.emit(projectID, Event{Stage: StageFinalize, Status: StatusDone,
		Message: "analysis complete",
		Detail: fmt.Sprintf("%d files, %d endpoints, %d models, %d findings, risk %.1f",
			res.Files, len(agg.Endpoints), len(agg.Models), len(agg.Findings), agg.RiskScore)})
	return res, nil
}

// fetch walks the source tree and loads every tracked file, building the
// manifest rows (roles are filled in after classification).
func (r *Runner) fetch(ctx context.Context, projectID string) ([]source.FileRecord, []store.ManifestEntry, error) {
	r.emit(projectID, Event{Stage: StageFetch, Status: StatusRunning, Message: "walking source tree"})
	tree, err := r.Source.FetchTree(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("fetch tree: %w", err)
	}
	files := make([]source.FileRecord, 0, len(tree))
	manifest := make([]store.ManifestEntry, 0, len(tree))
	for _, e := range tree {
		content, err := r.Source.FetchContent(ctx, e.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch %s: %w", e.Path, err)
		}
		files = append(files, source.FileRecord{Path: e.Path, Content: content})
		manifest = append(manifest, store.ManifestEntry{Path: e.Path, ContentHash: e.ContentHash})
	}
	r.emit(projectID, Event{Stage: StageFetch, Status: StatusDone,
		Message: fmt.Sprintf("%d files", len(files))})
	return files, manifest, nil
}

// extract runs the four fact extractors concurrently. Each stage treats
// its own batch failures as soft, so an error here is unrecoverable
// (cancellation or budget exhaustion) and aborts the run.
func (r *Runner) extract(ctx context.Context, deps stage.Deps, files []source.FileRecord, roles map[string]stage.Role, projectID string) (*facts.Aggregate, error) {
	opts := stage.ExtractOptions{BatchSize: r.Opts.BatchSize, MaxFileBytes: r.Opts.MaxFileBytes}
	agg := &facts.Aggregate{}

	g, gctx := errgroup.WithContext(ctx)
	run := func(id StageID, fn func(context.Context) (int, error)) {
		r.emit(projectID, Event{Stage: id, Status: StatusRunning})
		g.Go(func() error {
			n, err := fn(gctx)
			if err != nil {
				r.emit(projectID, Event{Stage: id, Status: StatusError, Message: err.Error()})
				return fmt.Errorf("%s: %w", id, err)
			}
			r.emit(projectID, Event{Stage: id, Status: StatusDone,
				Message: fmt.Sprintf("%d facts", n)})
			return nil
		})
	}
	run(StageEndpoints, func(ctx context.Context) (int, error) {
		eps, err := stage.ExtractEndpoints(ctx, deps, files, roles, opts)
		agg.Endpoints = eps
		return len(eps), err
	})
	run(StageSchema, func(ctx context.Context) (int, error) {
		models, rels, err := stage.ExtractSchema(ctx, deps, files, roles, opts)
		agg.Models, agg.Relationships = models, rels
		return len(models) + len(rels), err
	})
	run(StageComponents, func(ctx context.Context) (int, error) {
		comps, err := stage.ExtractComponents(ctx, deps, files, roles, opts)
		agg.Components = comps
		return len(comps), err
	})
	run(StageSecurity, func(ctx context.Context) (int, error) {
		findings, err := stage.ScanSecurity(ctx, deps, files, roles, opts)
		agg.Findings = findings
		return len(findings), err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agg, nil
}

// write produces every derived section: the three pure builders plus the
// single prose call.
func (r *Runner) write(ctx context.Context, deps stage.Deps, agg *facts.Aggregate, projectID string) ([]store.DerivedSection, error) {
	r.emit(projectID, Event{Stage: StageWrite, Status: StatusRunning})
	overview, architecture, err := stage.WriteProse(ctx, deps, agg)
	if err != nil {
		return nil, r.fail(projectID, StageWrite, err)
	}
	r.emit(projectID, Event{Stage: StageWrite, Status: StatusDone})
	return []store.DerivedSection{
		{Key: store.SectionOverview, Content: overview},
		{Key: store.SectionArchitecture, Content: architecture},
		{Key: store.SectionFactsReference, Content: stage.BuildFactsReference(agg)},
		{Key: store.SectionSchemaDoc, Content: stage.BuildSchemaDoc(agg)},
		{Key: store.SectionReport, Content: stage.BuildReport(agg)},
	}, nil
}

// staleOverrides lists the overrides shadowing sections regenerated this
// cycle. A full run regenerates everything, so any override qualifies.
func (r *Runner) staleOverrides(projectID string, sections []store.DerivedSection) ([]store.SectionKey, error) {
	overrides, err := r.Store.GetOverrides(projectID)
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

// stageProgress adapts the stage sub-progress callback onto the event
// stream.
func (r *Runner) stageProgress(projectID string) stage.Progress {
	return func(stageName, message string, batch, total int) {
		r.emit(projectID, Event{
			Stage:   StageID(stageName),
			Status:  StatusRunning,
			Message: message,
			Detail:  fmt.Sprintf("batch %d/%d", batch, total),
		})
	}
}

// fail emits the single terminal error event and wraps the error.
func (r *Runner) fail(projectID string, id StageID, err error) error {
	r.emit(projectID, Event{Stage: id, Status: StatusError, Message: err.Error()})
	return fmt.Errorf("%s: %w", id, err)
}

// emit appends to the ring and persists to the store's bounded event log.
// Persistence failures are logged, never fatal: the run matters more than
// its audit trail.
func (r *Runner) emit(projectID string, e Event) {
	e = r.Ring.Append(e)
	if r.Store == nil {
		return
	}
	err := r.Store.AppendEvent(projectID, store.Event{
		Stage:   string(e.Stage),
		Status:  e.Status,
		Message: e.Message,
		Detail:  e.Detail,
		At:      e.At.UTC().Format(time.RFC3339),
	})
	if err != nil && r.Log != nil {
		r.Log.Warn("persist event", "stage", e.Stage, "error", err)
	}
}
