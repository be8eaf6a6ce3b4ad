package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-cli/internal/apperr"
)

// recordSleeps returns a Sleep func that records delays without waiting.
func recordSleeps(into *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*into = append(*into, d)
		return ctx.Err()
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	var sleeps []time.Duration
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		Multiplier:     2.0,
		Sleep:          recordSleeps(&sleeps),
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeps)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	var sleeps []time.Duration
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, Sleep: recordSleeps(&sleeps)}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeps, 2, "no sleep after the final attempt")
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func(_ context.Context) error {
		calls++
		return &apperr.ValidationError{Field: "business_id", Value: "x", Reason: "format"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("fail"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		ShouldRetry:    func(err error) bool { return err.Error() == "retry me" },
	}
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("retry me")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		OnRetry:        func(attempt int, _ error) { attempts = append(attempts, attempt) },
	}
	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 500)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), RetryConfig{InitialBackoff: time.Millisecond}, func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", &apperr.UpstreamTimeout{Source: "finder", Err: errors.New("i/o timeout")}
		}
		return "hello", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", val)
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}, func(_ context.Context) (int, error) {
		return 42, NewTransientError(errors.New("fail"), 500)
	})
	require.Error(t, err)
	assert.Zero(t, val)
}

func TestBackoff_ExponentialGrowthAndCap(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Multiplier:     2.0,
	}
	assert.Equal(t, 100*time.Millisecond, Backoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, Backoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, Backoff(2, cfg))
	assert.Equal(t, 500*time.Millisecond, Backoff(3, cfg))
}

func TestBackoff_WithJitter(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 30 * time.Second, Multiplier: 2.0, JitterFraction: 0.5}
	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := Backoff(0, cfg)
		seen[d] = true
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
	assert.Greater(t, len(seen), 1)
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}

func TestRetryLogger(t *testing.T) {
	RetryLogger("perplexity", "chat_completion")(1, errors.New("test error"))
}
