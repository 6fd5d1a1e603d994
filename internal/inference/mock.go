package inference

import (
	"context"
	"sync"
)

// MockCall records one Complete invocation for assertions.
type MockCall struct {
	System string
	User   string
	Opts   Options
}

// MockReply scripts one response (or error) for the mock client.
type MockReply struct {
	Text string
	Cost int
	Err  error
}

// Mock is a scripted Client for tests. Replies are consumed in FIFO order;
// when the script runs out, the last reply repeats.
type Mock struct {
	mu      sync.Mutex
	replies []MockReply
	calls   []MockCall
}

// NewMock returns a mock client with the given scripted replies.
func NewMock(replies ...MockReply) *Mock {
	return &Mock{replies: replies}
}

func (m *Mock) Complete(ctx context.Context, system, user string, opts Options) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{System: system, User: user, Opts: opts})
	var reply MockReply
	switch {
	case len(m.replies) == 0:
		reply = MockReply{Text: "{}"}
	case len(m.replies) == 1:
		reply = m.replies[0]
	default:
		reply = m.replies[0]
		m.replies = m.replies[1:]
	}
	m.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Response{Text: reply.Text, CostUsed: reply.Cost}, nil
}

// Calls returns a copy of all recorded invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

var _ Client = (*Mock)(nil)
