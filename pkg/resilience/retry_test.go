package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSleeper records requested delays instead of waiting.
type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	sleeper := &fakeSleeper{}
	cfg := DefaultRetryConfig()
	cfg.sleep = sleeper.sleep

	calls := 0
	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays, "no backoff when the first attempt succeeds")
}

func TestRetryBackoffProgression(t *testing.T) {
	// Without jitter the delays are exactly initial, initial*2, ... capped.
	sleeper := &fakeSleeper{}
	cfg := RetryConfig{
		Attempts:     3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Base:         2,
		Jitter:       false,
		sleep:        sleeper.sleep,
	}

	calls := 0
	boom := errors.New("connection refused")
	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeper.delays)

	var total time.Duration
	for _, d := range sleeper.delays {
		total += d
	}
	assert.Equal(t, 3*time.Second, total)
}

func TestRetryExhaustedWrapsLastError(t *testing.T) {
	sleeper := &fakeSleeper{}
	cfg := RetryConfig{Attempts: 2, InitialDelay: time.Millisecond, sleep: sleeper.sleep}

	boom := errors.New("upstream exploded")
	err := Retry(context.Background(), cfg, func(context.Context) error {
		return boom
	})

	require.Error(t, err)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, boom, "last cause must stay reachable through Unwrap")
}

func TestRetryNonRetriableReturnsImmediately(t *testing.T) {
	sleeper := &fakeSleeper{}
	fatal := errors.New("model not found")
	cfg := RetryConfig{
		Attempts:     5,
		InitialDelay: time.Millisecond,
		RetryIf:      func(err error) bool { return !errors.Is(err, fatal) },
		sleep:        sleeper.sleep,
	}

	calls := 0
	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "non-retriable errors are not wrapped")
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	sleeper := &fakeSleeper{}
	cfg := RetryConfig{Attempts: 3, InitialDelay: time.Millisecond, sleep: sleeper.sleep}

	calls := 0
	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeper.delays, 2)
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{Attempts: 5, InitialDelay: 10 * time.Millisecond}

	calls := 0
	err := Retry(ctx, cfg, func(context.Context) error {
		calls++
		cancel()
		return errors.New("failed just before cancellation")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "no further attempts after the context is cancelled")
}

func TestDelayForAttempt(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RetryConfig
		attempt int
		want    time.Duration
	}{
		{
			name:    "first retry uses the initial delay",
			cfg:     RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute, Base: 2},
			attempt: 1,
			want:    time.Second,
		},
		{
			name:    "delay doubles per attempt",
			cfg:     RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute, Base: 2},
			attempt: 3,
			want:    4 * time.Second,
		},
		{
			name:    "delay is capped at MaxDelay",
			cfg:     RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Base: 2},
			attempt: 10,
			want:    5 * time.Second,
		},
		{
			name:    "zero base falls back to 2",
			cfg:     RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute},
			attempt: 2,
			want:    2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DelayForAttempt(tt.cfg, tt.attempt))
		})
	}
}

func TestDelayForAttemptJitterBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute, Base: 2, Jitter: true}

	for i := 0; i < 200; i++ {
		d := DelayForAttempt(cfg, 1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}
