// Package retry provides bounded retries with exponential backoff for calls
// to external services. Classification is capability-based: errors that know
// whether they are transient expose Retryable(); transport-level timeouts and
// connection failures are recognized directly. Everything else is treated as
// fatal, so deterministic failures (bad credentials, bad input, missing
// resources) surface immediately instead of burning retry attempts.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"syscall"
	"time"
)

const (
	// DefaultMaxAttempts bounds the total number of tries, including the first.
	DefaultMaxAttempts = 4

	baseDelay = 100 * time.Millisecond
	maxDelay  = 10 * time.Second
)

// Backoff returns the delay to sleep after a failed attempt. attempt is
// 1-based: Backoff(1) is the delay before the second try. The delay doubles
// each attempt from a 100ms base, is capped at 10s, and carries symmetric
// jitter of up to ±25% of the capped value. Never negative.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := maxDelay
	// 100ms << 7 already exceeds the 10s cap; avoid shifting into overflow.
	if attempt <= 7 {
		d = baseDelay << (attempt - 1)
	}
	if d > maxDelay {
		d = maxDelay
	}

	jitterRange := d / 4
	if jitterRange > 0 {
		d += time.Duration(rand.Int64N(int64(jitterRange))) - jitterRange/2
	}
	if d < 0 {
		d = 0
	}
	return d
}

// retryableErr is implemented by errors that carry their own transient/fatal
// classification, e.g. ticketing.APIError.
type retryableErr interface {
	Retryable() bool
}

// Retryable reports whether err is plausibly transient. Errors implementing
// Retryable() classify themselves; transport timeouts and refused/reset
// connections are transient; everything else is fatal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var r retryableErr
	if errors.As(err, &r) {
		return r.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	return false
}

// Executor runs operations with bounded retries. The zero value uses the
// default attempt limit and backoff; tests inject a zero backoff.
type Executor struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Logger      *slog.Logger
}

// Do runs fn up to MaxAttempts times. It returns nil on the first success,
// the error immediately when it is fatal, and the last error once attempts
// are exhausted. The backoff sleep honors ctx cancellation.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	max := e.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	backoff := e.Backoff
	if backoff == nil {
		backoff = Backoff
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= max {
			logger.Error("operation failed after max attempts",
				"op", op, "attempts", max, "error", err)
			return err
		}
		if !Retryable(err) {
			logger.Warn("non-retryable error, failing immediately",
				"op", op, "attempt", attempt, "error", err)
			return err
		}

		delay := backoff(attempt)
		logger.Warn("attempt failed, retrying",
			"op", op, "attempt", attempt, "max_attempts", max,
			"delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Do runs fn with the default executor.
func Do(ctx context.Context, op string, fn func(context.Context) error) error {
	var e Executor
	return e.Do(ctx, op, fn)
}
