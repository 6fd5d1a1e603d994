package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"codescribe/internal/arbiter"
	"codescribe/internal/config"
	"codescribe/internal/inference"
	"codescribe/internal/logging"
	"codescribe/internal/merge"
	"codescribe/internal/pipeline"
	"codescribe/internal/source"
	"codescribe/internal/stage"
	"codescribe/internal/store"
)

// app bundles everything a command needs: parsed config, open store, and
// the resolved project row.
type app struct {
	cfg     *config.Config
	store   *store.SqlStore
	project *store.Project
}

// openApp loads the config, initializes logging, opens the store, and
// finds or creates the configured project.
func openApp(configPath string) (*app, error) {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	p, err := st.GetProjectByName(cfg.Project)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	if p == nil {
		p = &store.Project{
			ID:   uuid.NewString(),
			Name: cfg.Project,
			Root: cfg.Source.Root,
			Ref:  cfg.Source.Ref,
		}
		if err := st.CreateProject(p); err != nil {
			st.Close()
			return nil, fmt.Errorf("create project: %w", err)
		}
	}
	return &app{cfg: cfg, store: st, project: p}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) source() source.Source {
	return source.NewFS(a.cfg.Source.Root, a.cfg.Source.Exclude)
}

// deps builds the shared stage dependencies: one arbiter and one retrying
// client per run.
func (a *app) deps() (stage.Deps, error) {
	inf := a.cfg.Inference
	key, err := a.cfg.ResolveAPIKey()
	if err != nil {
		return stage.Deps{}, err
	}
	log := logging.New("inference")
	client := inference.WithRetry(inference.NewHTTPClient(inference.Config{
		BaseURL: inf.BaseURL,
		APIKey:  key,
		Model:   inf.Model,
	}), inf.MaxRetries, log)
	arb := arbiter.New(inf.CostLimit, time.Duration(inf.WindowSeconds)*time.Second, nil)
	return stage.Deps{
		Arbiter: arb,
		Client:  client,
		Log:     logging.New("stage"),
	}, nil
}

func (a *app) pipelineOpts() pipeline.Options {
	return pipeline.Options{
		BatchSize:    a.cfg.Inference.BatchSize,
		MaxFileBytes: a.cfg.Inference.MaxFileBytes,
	}
}

func (a *app) newRunner(ring *pipeline.Ring) (*pipeline.Runner, error) {
	deps, err := a.deps()
	if err != nil {
		return nil, err
	}
	return &pipeline.Runner{
		Source: a.source(),
		Store:  a.store,
		Deps:   deps,
		Ring:   ring,
		Log:    logging.New("pipeline"),
		Opts:   a.pipelineOpts(),
	}, nil
}

func (a *app) newEngine(ring *pipeline.Ring) (*merge.Engine, error) {
	deps, err := a.deps()
	if err != nil {
		return nil, err
	}
	return &merge.Engine{
		Source: a.source(),
		Store:  a.store,
		Deps:   deps,
		Ring:   ring,
		Log:    logging.New("sync"),
		Opts:   a.pipelineOpts(),
	}, nil
}

// progressRing returns a ring whose sink logs every pipeline event, so
// long runs show live progress on stderr.
func progressRing() *pipeline.Ring {
	log := logging.New("progress")
	return pipeline.NewRing(0, func(e pipeline.Event) {
		attrs := []any{"stage", string(e.Stage), "status", e.Status}
		if e.Message != "" {
			attrs = append(attrs, "message", e.Message)
		}
		if e.Detail != "" {
			attrs = append(attrs, "detail", e.Detail)
		}
		if e.Status == pipeline.StatusError {
			log.Error("pipeline event", attrs...)
		} else {
			log.Info("pipeline event", attrs...)
		}
	})
}
