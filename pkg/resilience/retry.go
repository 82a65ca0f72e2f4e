// Package resilience provides the retry and circuit-breaker policies that
// wrap every LLM call: exponential backoff with jitter around a
// per-endpoint breaker, so transient faults are retried while a dead
// endpoint fails fast.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration

	// Base is the backoff multiplier. Values <= 0 mean 2.
	Base float64

	// Jitter scales each delay by a uniform factor in [0.5, 1.5).
	Jitter bool

	// RetryIf decides whether an error is worth another attempt. Errors it
	// rejects propagate unchanged. Nil retries everything.
	RetryIf func(error) bool

	// sleep is swapped out by tests to observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig mirrors the built-in LLM call policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Base:         2,
		Jitter:       true,
	}
}

// ExhaustedError reports that every attempt failed. The last underlying
// error is reachable through errors.Unwrap.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retry runs op up to cfg.Attempts times, sleeping an exponentially growing,
// optionally jittered delay between attempts. Context cancellation aborts
// both in-flight sleeps and further attempts.
func Retry(ctx context.Context, cfg RetryConfig, op func(context.Context) error) error {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	sleep := cfg.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if attempt > 1 {
			delay := DelayForAttempt(cfg, attempt-1)
			slog.Debug("Backing off before retry",
				"attempt", attempt,
				"max_attempts", cfg.Attempts,
				"delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("Operation recovered after retry", "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}
		slog.Warn("Attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.Attempts,
			"error", err)
	}

	return &ExhaustedError{Attempts: cfg.Attempts, Err: lastErr}
}

// DelayForAttempt computes the backoff before retry number attempt (1-based):
// min(InitialDelay * Base^(attempt-1), MaxDelay), jittered when enabled.
func DelayForAttempt(cfg RetryConfig, attempt int) time.Duration {
	base := cfg.Base
	if base <= 0 {
		base = 2
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(cfg.InitialDelay) * math.Pow(base, float64(attempt-1))
	if maxDelay := float64(cfg.MaxDelay); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if cfg.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
