package inference

import (
	"context"
	"fmt"
	"time"
)

// Options tunes a single completion call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Response is one completion result. CostUsed is the cost reported by the
// service (tokens); 0 means the service did not report usage and callers
// fall back to their estimate.
type Response struct {
	Text     string
	CostUsed int
}

// Client is the inference-service collaborator. Complete may fail with
// *ThrottleError carrying an optional server retry hint.
type Client interface {
	Complete(ctx context.Context, system, user string, opts Options) (*Response, error)
}

// ThrottleError signals the service rejected the call for quota reasons.
// RetryAfter is the server-provided wait hint; 0 means no hint.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("inference throttled, retry after %s", e.RetryAfter)
	}
	return "inference throttled"
}

// EstimateCost approximates the cost of a call from its prompt sizes plus
// the expected output budget. Roughly 4 bytes per token.
func EstimateCost(system, user string, opts Options) int {
	est := (len(system)+len(user))/4 + opts.MaxTokens
	if est < 1 {
		est = 1
	}
	return est
}
