// Package mcp exposes the analysis pipeline over the Model Context
// Protocol: start runs, poll progress by event index, and read derived
// sections, all over stdio.
package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"codescribe/internal/logging"
	"codescribe/internal/merge"
	"codescribe/internal/pipeline"
	"codescribe/internal/store"
)

// Backends builds the per-run machinery. The factories receive the run's
// event ring so progress flows to MCP clients without the runner knowing
// about the transport.
type Backends struct {
	Store     store.Store
	NewRunner func(ring *pipeline.Ring) *pipeline.Runner
	NewEngine func(ring *pipeline.Ring) *merge.Engine
}

// Server wraps the MCP SDK server and tracks one active run per project.
type Server struct {
	MCPServer *sdkmcp.Server

	backends Backends

	mu     sync.Mutex
	runs   map[string]*Run // by run ID
	active map[string]*Run // by project ID, running only
}

func NewServer(b Backends) *Server {
	s := &Server{
		backends: b,
		runs:     make(map[string]*Run),
		active:   make(map[string]*Run),
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "codescribe", Version: "dev"},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_analysis",
		Description: "Start a full analysis run on a project. Returns a run ID to poll with get_progress.",
	}, s.handleStartAnalysis)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_sync",
		Description: "Start an incremental sync run: re-analyzes only the files that changed since the last committed cycle.",
	}, s.handleStartSync)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_progress",
		Description: "Get pipeline events for a run, starting after a sequence number. Safe to call repeatedly; missed events are replayed.",
	}, s.handleGetProgress)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_status",
		Description: "Get a project's stored analysis state: fact counts, risk score, and stale override flags.",
	}, s.handleGetStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_section",
		Description: "Read one derived documentation section, with the user override alongside when one exists.",
	}, s.handleGetSection)
}

// Shutdown cancels every running run.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.active {
		r.Cancel()
	}
}

// --- Tool input/output types ---

type startInput struct {
	Project string `json:"project" jsonschema:"project name or ID"`
}

type startOutput struct {
	RunID   string `json:"run_id"`
	Project string `json:"project_id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
}

type getProgressInput struct {
	RunID string `json:"run_id" jsonschema:"run ID from start_analysis or start_sync"`
	Since int64  `json:"since,omitempty" jsonschema:"return events with sequence number greater than this"`
}

type progressEvent struct {
	Seq     int64  `json:"seq"`
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
	At      string `json:"at"`
}

type getProgressOutput struct {
	Status  string          `json:"status"`
	Events  []progressEvent `json:"events"`
	Summary string          `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type getStatusInput struct {
	Project string `json:"project" jsonschema:"project name or ID"`
}

type getStatusOutput struct {
	ProjectID      string         `json:"project_id"`
	Name           string         `json:"name"`
	Files          int            `json:"files"`
	Facts          map[string]int `json:"facts"`
	RiskScore      float64        `json:"risk_score"`
	StaleOverrides []string       `json:"stale_overrides,omitempty"`
	ActiveRun      string         `json:"active_run,omitempty"`
}

type getSectionInput struct {
	Project string `json:"project" jsonschema:"project name or ID"`
	Key     string `json:"key" jsonschema:"section key (overview, architecture, factsReference, schemaDoc, report)"`
}

type getSectionOutput struct {
	Key           string `json:"key"`
	Content       string `json:"content"`
	CommitMarker  string `json:"commit_marker,omitempty"`
	Override      string `json:"override,omitempty"`
	OverrideStale bool   `json:"override_stale,omitempty"`
}

// --- Tool handlers ---

func (s *Server) handleStartAnalysis(ctx context.Context, _ *sdkmcp.CallToolRequest, input startInput) (*sdkmcp.CallToolResult, startOutput, error) {
	out, err := s.start(input.Project, "analyze", func(ctx context.Context, run *Run) (string, error) {
		res, err := s.backends.NewRunner(run.Ring).RunFull(ctx, run.ProjectID, run.ID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d files analyzed, risk %.1f", res.Files, res.RiskScore), nil
	})
	return nil, out, err
}

func (s *Server) handleStartSync(ctx context.Context, _ *sdkmcp.CallToolRequest, input startInput) (*sdkmcp.CallToolResult, startOutput, error) {
	out, err := s.start(input.Project, "sync", func(ctx context.Context, run *Run) (string, error) {
		res, err := s.backends.NewEngine(run.Ring).Sync(ctx, run.ProjectID, run.ID)
		if err != nil {
			return "", err
		}
		if res.NoChanges {
			return "no changes", nil
		}
		return fmt.Sprintf("%d added, %d modified, %d removed", res.Added, res.Modified, res.Removed), nil
	})
	return nil, out, err
}

// start resolves the project, enforces the one-active-run-per-project
// rule, and spawns the run goroutine.
func (s *Server) start(project, kind string, exec func(context.Context, *Run) (string, error)) (startOutput, error) {
	p, err := s.resolveProject(project)
	if err != nil {
		return startOutput{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := newRun(uuid.NewString(), p.ID, kind, cancel)

	s.mu.Lock()
	if prev, ok := s.active[p.ID]; ok {
		s.mu.Unlock()
		cancel()
		return startOutput{}, fmt.Errorf("a run is already active for project %s (id=%s)", p.Name, prev.ID)
	}
	s.runs[run.ID] = run
	s.active[p.ID] = run
	s.mu.Unlock()

	log := logging.New("mcp-run")
	go func() {
		defer cancel()
		summary, err := exec(runCtx, run)
		run.finish(summary, err)
		s.mu.Lock()
		delete(s.active, p.ID)
		s.mu.Unlock()
		if err != nil {
			log.Error("run failed", "run", run.ID, "kind", kind, "error", err)
		} else {
			log.Info("run finished", "run", run.ID, "kind", kind, "summary", summary)
		}
	}()

	return startOutput{RunID: run.ID, Project: p.ID, Kind: kind, Status: string(StateRunning)}, nil
}

func (s *Server) handleGetProgress(ctx context.Context, _ *sdkmcp.CallToolRequest, input getProgressInput) (*sdkmcp.CallToolResult, getProgressOutput, error) {
	s.mu.Lock()
	run, ok := s.runs[input.RunID]
	s.mu.Unlock()
	if !ok {
		return nil, getProgressOutput{}, fmt.Errorf("unknown run %s", input.RunID)
	}

	out := getProgressOutput{Status: string(run.State())}
	for _, e := range run.Ring.Since(input.Since) {
		out.Events = append(out.Events, progressEvent{
			Seq:     e.Seq,
			Stage:   string(e.Stage),
			Status:  e.Status,
			Message: e.Message,
			Detail:  e.Detail,
			At:      e.At.UTC().Format(time.RFC3339),
		})
	}
	if run.State() != StateRunning {
		out.Summary = run.Summary()
		if err := run.Err(); err != nil {
			out.Error = err.Error()
		}
	}
	return nil, out, nil
}

func (s *Server) handleGetStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, input getStatusInput) (*sdkmcp.CallToolResult, getStatusOutput, error) {
	p, err := s.resolveProject(input.Project)
	if err != nil {
		return nil, getStatusOutput{}, err
	}

	manifest, err := s.backends.Store.GetManifest(p.ID)
	if err != nil {
		return nil, getStatusOutput{}, fmt.Errorf("load manifest: %w", err)
	}
	agg, err := s.backends.Store.GetAggregate(p.ID)
	if err != nil {
		return nil, getStatusOutput{}, fmt.Errorf("load aggregate: %w", err)
	}
	overrides, err := s.backends.Store.GetOverrides(p.ID)
	if err != nil {
		return nil, getStatusOutput{}, fmt.Errorf("load overrides: %w", err)
	}

	out := getStatusOutput{ProjectID: p.ID, Name: p.Name, Files: len(manifest)}
	if agg != nil {
		out.Facts = agg.CountByKind()
		out.RiskScore = agg.RiskScore
	}
	for _, o := range overrides {
		if o.Stale {
			out.StaleOverrides = append(out.StaleOverrides, string(o.Key))
		}
	}
	s.mu.Lock()
	if run, ok := s.active[p.ID]; ok {
		out.ActiveRun = run.ID
	}
	s.mu.Unlock()
	return nil, out, nil
}

func (s *Server) handleGetSection(ctx context.Context, _ *sdkmcp.CallToolRequest, input getSectionInput) (*sdkmcp.CallToolResult, getSectionOutput, error) {
	p, err := s.resolveProject(input.Project)
	if err != nil {
		return nil, getSectionOutput{}, err
	}
	key := store.SectionKey(input.Key)
	sec, err := s.backends.Store.GetSection(p.ID, key)
	if err != nil {
		return nil, getSectionOutput{}, fmt.Errorf("load section: %w", err)
	}
	if sec == nil {
		return nil, getSectionOutput{}, fmt.Errorf("no section %q for project %s", input.Key, p.Name)
	}
	out := getSectionOutput{Key: string(sec.Key), Content: sec.Content, CommitMarker: sec.CommitMarker}

	overrides, err := s.backends.Store.GetOverrides(p.ID)
	if err != nil {
		return nil, getSectionOutput{}, fmt.Errorf("load overrides: %w", err)
	}
	for _, o := range overrides {
		if o.Key == key {
			out.Override = o.Content
			out.OverrideStale = o.Stale
		}
	}
	return nil, out, nil
}

// resolveProject accepts either a project name or ID.
func (s *Server) resolveProject(ref string) (*store.Project, error) {
	if ref == "" {
		return nil, fmt.Errorf("project is required")
	}
	p, err := s.backends.Store.GetProjectByName(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	if p == nil {
		if p, err = s.backends.Store.GetProject(ref); err != nil {
			return nil, fmt.Errorf("resolve project: %w", err)
		}
	}
	if p == nil {
		return nil, fmt.Errorf("unknown project %q", ref)
	}
	return p, nil
}
