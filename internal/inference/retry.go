package inference

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryClient wraps a Client with bounded retries on throttle errors.
// Waits use the server hint when present, exponential backoff otherwise.
// Any other error passes through untouched.
type retryClient struct {
	inner      Client
	maxRetries int
	baseDelay  time.Duration
	log        *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps c so throttled calls are retried up to maxRetries times
// before the throttle error is surfaced to the caller.
func WithRetry(c Client, maxRetries int, log *slog.Logger) Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &retryClient{
		inner:      c,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
		log:        log,
		sleep:      sleepCtx,
	}
}

func (r *retryClient) Complete(ctx context.Context, system, user string, opts Options) (*Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := r.inner.Complete(ctx, system, user, opts)
		if err == nil {
			return resp, nil
		}
		var te *ThrottleError
		if !errors.As(err, &te) || attempt >= r.maxRetries {
			return nil, err
		}

		delay := te.RetryAfter
		if delay <= 0 {
			delay = r.baseDelay << attempt
		}
		if r.log != nil {
			r.log.Warn("inference throttled, backing off",
				"attempt", attempt+1, "max", r.maxRetries, "delay", delay.String())
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
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
