package mcp

import (
	"context"
	"sync"
	"time"

	"codescribe/internal/pipeline"
)

// RunState tracks the lifecycle of one analysis or sync run.
type RunState string

const (
	StateRunning RunState = "running"
	StateDone    RunState = "done"
	StateError   RunState = "error"
)

// Run is one in-flight or finished pipeline run owned by the MCP server.
// Progress is replayed from its event ring by sequence number, so a client
// that disconnects picks up exactly where it left off.
type Run struct {
	ID        string
	ProjectID string
	Kind      string // "analyze" or "sync"
	Ring      *pipeline.Ring
	Started   time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	summary string
}

func newRun(id, projectID, kind string, cancel context.CancelFunc) *Run {
	return &Run{
		ID:        id,
		ProjectID: projectID,
		Kind:      kind,
		Ring:      pipeline.NewRing(0, nil),
		Started:   time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// finish records the outcome and unblocks waiters. Idempotent is not
// needed: the run goroutine calls it exactly once.
func (r *Run) finish(summary string, err error) {
	r.mu.Lock()
	r.summary = summary
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

// Done is closed when the run has finished, successfully or not.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel aborts the run's context.
func (r *Run) Cancel() { r.cancel() }

// State reports the current lifecycle state.
func (r *Run) State() RunState {
	select {
	case <-r.done:
	default:
		return StateRunning
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return StateError
	}
	return StateDone
}

// Err returns the terminal error, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Summary returns the one-line result summary once the run finished.
func (r *Run) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}
