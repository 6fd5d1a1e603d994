// Package arbiter serializes and throttles all calls to the inference
// service. Every stage in a pipeline shares exactly one Arbiter; its sliding
// cost ledger is the only budget accounting in the system.
package arbiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Work is the actual network call to make once admitted. It returns the
// response text and the cost the service reported (0 = not reported, the
// admission estimate stands).
type Work func(ctx context.Context) (text string, actualCost int, err error)

// Arbiter is a process-wide admission queue enforcing a cost-per-window
// budget. Admission is strictly sequential: a capacity-one slot orders
// waiting callers, and a caller holds the slot until its cost reservation
// is booked, so two in-flight calls can never jointly exceed the budget.
type Arbiter struct {
	limit  int
	window time.Duration
	clk    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	admit chan struct{}

	mu     sync.Mutex
	ledger []*entry
}

type entry struct {
	at   time.Time
	cost int
}

// New returns an Arbiter with the given budget per sliding window.
// clk may be nil to use time.Now.
func New(limit int, window time.Duration, clk func() time.Time) *Arbiter {
	if clk == nil {
		clk = time.Now
	}
	return &Arbiter{
		limit:  limit,
		window: window,
		clk:    clk,
		sleep:  sleepCtx,
		admit:  make(chan struct{}, 1),
	}
}

// Submit blocks until the trailing window has room for estimate, executes
// work, books its actual cost (preferring the cost reported by the call
// over the estimate), and returns the result. The wait time is computed
// from ledger timestamps, not a fixed poll interval. Cancelling ctx
// abandons the wait.
func (a *Arbiter) Submit(ctx context.Context, estimate int, work Work) (string, error) {
	if estimate <= 0 {
		estimate = 1
	}
	if estimate > a.limit {
		return "", fmt.Errorf("arbiter: estimated cost %d exceeds window limit %d", estimate, a.limit)
	}

	select {
	case a.admit <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	held := true
	release := func() {
		if held {
			<-a.admit
			held = false
		}
	}
	defer release()

	var booked *entry
	for {
		now := a.clk()
		a.mu.Lock()
		a.pruneLocked(now)
		if a.consumedLocked()+estimate <= a.limit {
			booked = &entry{at: now, cost: estimate}
			a.ledger = append(a.ledger, booked)
			a.mu.Unlock()
			break
		}
		wait := a.waitForLocked(estimate, now)
		a.mu.Unlock()
		if err := a.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	// Reservation booked; let the next caller start its own wait while this
	// call is on the network.
	release()

	text, actual, err := work(ctx)
	if actual > 0 {
		a.mu.Lock()
		booked.cost = actual
		a.mu.Unlock()
	}
	return text, err
}

// Consumed returns the cost currently booked inside the trailing window.
func (a *Arbiter) Consumed() int {
	now := a.clk()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(now)
	return a.consumedLocked()
}

// Limit returns the configured window budget.
func (a *Arbiter) Limit() int { return a.limit }

func (a *Arbiter) consumedLocked() int {
	total := 0
	for _, e := range a.ledger {
		total += e.cost
	}
	return total
}

// pruneLocked drops ledger entries older than the window.
func (a *Arbiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-a.window)
	i := 0
	for i < len(a.ledger) && !a.ledger[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		a.ledger = a.ledger[i:]
	}
}

// waitForLocked returns how long until enough ledger entries age out to
// admit need more cost units. Entries are in insertion order, so walking
// from the oldest finds the earliest admission instant.
func (a *Arbiter) waitForLocked(need int, now time.Time) time.Duration {
	deficit := a.consumedLocked() + need - a.limit
	freed := 0
	for _, e := range a.ledger {
		freed += e.cost
		if freed >= deficit {
			d := e.at.Add(a.window).Sub(now)
			if d < 0 {
				d = 0
			}
			// Nudge past the boundary so the prune after waking frees the entry.
			return d + time.Millisecond
		}
	}
	return a.window
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
