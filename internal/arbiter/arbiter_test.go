package arbiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the arbiter deterministically: sleeps advance the clock
// instead of blocking.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func okWork(cost int) Work {
	return func(ctx context.Context) (string, int, error) { return "ok", cost, nil }
}

func TestSubmitWithinBudgetNoWait(t *testing.T) {
	clk := newFakeClock()
	a := New(100, time.Minute, clk.Now)
	a.sleep = func(ctx context.Context, d time.Duration) error {
		t.Fatalf("unexpected wait of %s", d)
		return nil
	}

	text, err := a.Submit(context.Background(), 40, okWork(0))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
	if got := a.Consumed(); got != 40 {
		t.Errorf("consumed = %d, want 40", got)
	}
}

func TestSubmitWaitsForLedgerToAge(t *testing.T) {
	clk := newFakeClock()
	a := New(100, time.Minute, clk.Now)
	var waits []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		clk.Advance(d)
		return nil
	}

	if _, err := a.Submit(context.Background(), 80, okWork(0)); err != nil {
		t.Fatal(err)
	}
	clk.Advance(10 * time.Second)

	// 80 consumed, asking for 30: must wait until the first entry leaves
	// the window (50s remaining), not a fixed poll interval.
	if _, err := a.Submit(context.Background(), 30, okWork(0)); err != nil {
		t.Fatal(err)
	}
	if len(waits) != 1 {
		t.Fatalf("waits = %v, want exactly one", waits)
	}
	if waits[0] < 50*time.Second || waits[0] > 50*time.Second+10*time.Millisecond {
		t.Errorf("wait = %s, want ~50s derived from ledger timestamps", waits[0])
	}
	if got := a.Consumed(); got > a.Limit() {
		t.Errorf("consumed %d exceeds limit %d", got, a.Limit())
	}
}

func TestActualCostReplacesEstimate(t *testing.T) {
	clk := newFakeClock()
	a := New(100, time.Minute, clk.Now)

	if _, err := a.Submit(context.Background(), 50, okWork(12)); err != nil {
		t.Fatal(err)
	}
	if got := a.Consumed(); got != 12 {
		t.Errorf("consumed = %d, want actual cost 12", got)
	}
}

func TestEstimateOverLimitRejected(t *testing.T) {
	a := New(10, time.Minute, nil)
	if _, err := a.Submit(context.Background(), 11, okWork(0)); err == nil {
		t.Fatal("expected error for estimate above window limit")
	}
}

func TestWindowInvariantUnderLoad(t *testing.T) {
	clk := newFakeClock()
	a := New(100, time.Minute, clk.Now)
	a.sleep = func(ctx context.Context, d time.Duration) error {
		clk.Advance(d)
		return nil
	}

	for i := 0; i < 20; i++ {
		if _, err := a.Submit(context.Background(), 25, okWork(0)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if got := a.Consumed(); got > a.Limit() {
			t.Fatalf("after submit %d: consumed %d exceeds limit %d", i, got, a.Limit())
		}
	}
}

func TestCancelDuringWait(t *testing.T) {
	clk := newFakeClock()
	a := New(10, time.Minute, clk.Now)
	ctx, cancel := context.WithCancel(context.Background())
	a.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if _, err := a.Submit(context.Background(), 10, okWork(0)); err != nil {
		t.Fatal(err)
	}
	_, err := a.Submit(ctx, 5, okWork(0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	// The admission slot must be free again for later callers.
	clk.Advance(2 * time.Minute)
	if _, err := a.Submit(context.Background(), 5, okWork(0)); err != nil {
		t.Fatalf("arbiter wedged after cancelled wait: %v", err)
	}
}

func TestWorkErrorSurfaced(t *testing.T) {
	a := New(100, time.Minute, nil)
	sentinel := errors.New("model unreachable")
	_, err := a.Submit(context.Background(), 5, func(ctx context.Context) (string, int, error) {
		return "", 0, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("want work error surfaced, got %v", err)
	}
	// Failed calls still consumed admission budget (the request went out).
	if got := a.Consumed(); got != 5 {
		t.Errorf("consumed = %d, want 5", got)
	}
}

func TestConcurrentSubmitsSerialized(t *testing.T) {
	a := New(10, 50*time.Millisecond, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Submit(context.Background(), 4, func(ctx context.Context) (string, int, error) {
				if got := a.Consumed(); got > a.Limit() {
					return "", 0, errors.New("budget exceeded in flight")
				}
				return "ok", 0, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent submit: %v", err)
		}
	}
}
