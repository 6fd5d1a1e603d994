package inference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing auth header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "scribe"})
	resp, err := c.Complete(context.Background(), "sys", "user", Options{MaxTokens: 100})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hello" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.CostUsed != 42 {
		t.Errorf("cost = %d, want 42", resp.CostUsed)
	}
}

func TestHTTPClientThrottleWithHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "s", "u", Options{})
	var te *ThrottleError
	if !errors.As(err, &te) {
		t.Fatalf("want ThrottleError, got %v", err)
	}
	if te.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %s, want 7s", te.RetryAfter)
	}
}

func TestHTTPClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "s", "u", Options{})
	if err == nil {
		t.Fatal("expected error for 500")
	}
	var te *ThrottleError
	if errors.As(err, &te) {
		t.Fatal("500 must not map to ThrottleError")
	}
}

func TestRetryUsesServerHint(t *testing.T) {
	mock := NewMock(
		MockReply{Err: &ThrottleError{RetryAfter: 3 * time.Second}},
		MockReply{Text: "ok", Cost: 5},
	)
	var slept []time.Duration
	rc := WithRetry(mock, 3, nil).(*retryClient)
	rc.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	resp, err := rc.Complete(context.Background(), "s", "u", Options{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("text = %q", resp.Text)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Errorf("slept = %v, want [3s]", slept)
	}
}

func TestRetryExponentialBackoffThenSurface(t *testing.T) {
	mock := NewMock(MockReply{Err: &ThrottleError{}})
	var slept []time.Duration
	rc := WithRetry(mock, 2, nil).(*retryClient)
	rc.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := rc.Complete(context.Background(), "s", "u", Options{})
	var te *ThrottleError
	if !errors.As(err, &te) {
		t.Fatalf("want ThrottleError after retries exhausted, got %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("backoff[%d] = %s, want %s", i, slept[i], want[i])
		}
	}
}

func TestRetryPassesThroughOtherErrors(t *testing.T) {
	sentinel := errors.New("connection refused")
	mock := NewMock(MockReply{Err: sentinel})
	rc := WithRetry(mock, 3, nil)

	_, err := rc.Complete(context.Background(), "s", "u", Options{})
	if !errors.Is(err, sentinel) {
		t.Fatalf("want passthrough error, got %v", err)
	}
	if n := len(mock.Calls()); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry on non-throttle errors)", n)
	}
}

func TestEstimateCost(t *testing.T) {
	if got := EstimateCost("", "", Options{}); got != 1 {
		t.Errorf("empty estimate = %d, want 1", got)
	}
	got := EstimateCost("abcd", "efghijkl", Options{MaxTokens: 10})
	if got != 13 { // 12 bytes / 4 + 10
		t.Errorf("estimate = %d, want 13", got)
	}
}
