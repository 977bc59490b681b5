package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

// classifiedErr mimics an API error that knows its own transience.
type classifiedErr struct {
	retryable bool
}

func (e *classifiedErr) Error() string   { return "classified" }
func (e *classifiedErr) Retryable() bool { return e.retryable }

// TestBackoffBounds verifies the doubling schedule with ±25% jitter.
func TestBackoffBounds(t *testing.T) {
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 75 * time.Millisecond, 125 * time.Millisecond},
		{2, 150 * time.Millisecond, 250 * time.Millisecond},
		{3, 300 * time.Millisecond, 500 * time.Millisecond},
		{4, 600 * time.Millisecond, 1000 * time.Millisecond},
		{0, 75 * time.Millisecond, 125 * time.Millisecond}, // clamped to 1
	}
	for _, tc := range cases {
		// Jitter is random; sample repeatedly to exercise the range.
		for i := 0; i < 50; i++ {
			d := Backoff(tc.attempt)
			if d < tc.min || d > tc.max {
				t.Fatalf("Backoff(%d) = %v, want within [%v, %v]", tc.attempt, d, tc.min, tc.max)
			}
		}
	}
}

// TestBackoffCap verifies large attempts stay at the 10s cap (plus jitter).
func TestBackoffCap(t *testing.T) {
	for _, attempt := range []int{8, 20, 1000} {
		for i := 0; i < 20; i++ {
			d := Backoff(attempt)
			if d < 7500*time.Millisecond || d > 12500*time.Millisecond {
				t.Fatalf("Backoff(%d) = %v, want within [7.5s, 12.5s]", attempt, d)
			}
		}
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"self-classified transient", &classifiedErr{retryable: true}, true},
		{"self-classified fatal", &classifiedErr{retryable: false}, false},
		{"wrapped classified", fmt.Errorf("posting comment: %w", &classifiedErr{retryable: true}), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"plain error", errors.New("validation failed"), false},
		{"context canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func zeroBackoff(int) time.Duration { return 0 }

// TestDoFatalFailsImmediately verifies a non-retryable error consumes exactly
// one attempt.
func TestDoFatalFailsImmediately(t *testing.T) {
	e := Executor{Backoff: zeroBackoff}

	calls := 0
	fatal := errors.New("invalid credentials")
	err := e.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Errorf("Do = %v, want %v", err, fatal)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestDoTransientEventuallySucceeds verifies transient failures are retried
// until success.
func TestDoTransientEventuallySucceeds(t *testing.T) {
	e := Executor{Backoff: zeroBackoff}

	calls := 0
	err := e.Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 4 {
			return &classifiedErr{retryable: true}
		}
		return nil
	})

	if err != nil {
		t.Errorf("Do = %v, want nil", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

// TestDoExhaustsAttempts verifies the attempt ceiling and that the last error
// is returned.
func TestDoExhaustsAttempts(t *testing.T) {
	e := Executor{Backoff: zeroBackoff}

	calls := 0
	transient := &classifiedErr{retryable: true}
	err := e.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return transient
	})

	if !errors.Is(err, transient) {
		t.Errorf("Do = %v, want last transient error", err)
	}
	if calls != DefaultMaxAttempts {
		t.Errorf("calls = %d, want %d", calls, DefaultMaxAttempts)
	}
}

func TestDoRespectsMaxAttempts(t *testing.T) {
	e := Executor{MaxAttempts: 2, Backoff: zeroBackoff}

	calls := 0
	err := e.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return &classifiedErr{retryable: true}
	})

	if err == nil {
		t.Error("Do = nil, want error")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

// TestDoCancelDuringBackoff verifies cancellation interrupts the sleep.
func TestDoCancelDuringBackoff(t *testing.T) {
	e := Executor{Backoff: func(int) time.Duration { return time.Hour }}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// Let the first attempt fail and enter the backoff sleep.
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := e.Do(ctx, "test", func(context.Context) error {
		calls++
		return &classifiedErr{retryable: true}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoSuccessFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("Do = %v after %d calls, want nil after 1", err, calls)
	}
}
