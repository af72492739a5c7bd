package qustodio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRetrier replaces the real sleep with a recorder and pins jitter to
// zero unless a test overrides it.
func newTestRetrier(policy RetryPolicy) (*retrier, *[]time.Duration) {
	r := newRetrier(policy, testLogger())
	delays := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	r.jitter = func() float64 { return 0 }
	return r, delays
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{})
	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("do() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Fatalf("op calls = %d, want 1", calls)
	}
	if len(*delays) != 0 {
		t.Fatalf("recorded delays = %v, want none", *delays)
	}
}

func TestRetryBacksOffExponentially(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 3})
	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return &ConnectionError{Message: "reset"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("op calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestRetryCapsDelayAtMax(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{BaseDelay: 10 * time.Second, MaxDelay: 15 * time.Second, MaxAttempts: 3})
	err := r.do(context.Background(), "op", func(context.Context) error {
		return &ConnectionError{Message: "reset"}
	})
	if err == nil {
		t.Fatalf("do() error = nil, want connection error")
	}
	want := []time.Duration{10 * time.Second, 15 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestRetryStopsOnFatalError(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{})
	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return &AuthError{Message: "bad credentials"}
	})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("do() error = %v, want AuthError", err)
	}
	if calls != 1 {
		t.Fatalf("op calls = %d, want 1", calls)
	}
	if len(*delays) != 0 {
		t.Fatalf("recorded delays = %v, want none", *delays)
	}
}

func TestRetryExhaustionKeepsOriginalCategory(t *testing.T) {
	r, _ := newTestRetrier(RetryPolicy{MaxAttempts: 3})
	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return &ConnectionError{Message: "i/o timeout"}
	})
	if calls != 3 {
		t.Fatalf("op calls = %d, want 3", calls)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("do() error = %v, want ConnectionError after exhaustion", err)
	}
}

func TestRetryHonorsRetryAfterHint(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{BaseDelay: time.Second})
	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitError{Message: "429", RetryAfter: 7 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do() error = %v, want nil", err)
	}
	if len(*delays) != 1 || (*delays)[0] != 7*time.Second {
		t.Fatalf("delays = %v, want [7s]", *delays)
	}
}

func TestRetryRateLimitWithoutHintDoublesBase(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{BaseDelay: time.Second})
	calls := 0
	_ = r.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitError{Message: "429"}
		}
		return nil
	})
	if len(*delays) != 1 || (*delays)[0] != 2*time.Second {
		t.Fatalf("delays = %v, want [2s]", *delays)
	}
}

func TestRetryJitterStaysWithinFraction(t *testing.T) {
	r, delays := newTestRetrier(RetryPolicy{BaseDelay: 4 * time.Second, JitterFraction: 0.25})
	r.jitter = func() float64 { return 1 }
	calls := 0
	_ = r.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return &ConnectionError{Message: "reset"}
		}
		return nil
	})
	want := 5 * time.Second
	if len(*delays) != 1 || (*delays)[0] != want {
		t.Fatalf("delays = %v, want [%v]", *delays, want)
	}
}

func TestRetryStopsWhenContextCanceled(t *testing.T) {
	r, _ := newTestRetrier(RetryPolicy{MaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.do(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return &ConnectionError{Message: "reset"}
	})
	if calls != 1 {
		t.Fatalf("op calls = %d, want 1 after cancellation", calls)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("do() error = %v, want the attempt error", err)
	}
}
