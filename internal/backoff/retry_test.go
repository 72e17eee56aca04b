package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffPolicy(t *testing.T) {
	t.Parallel()

	policy := &ExponentialBackoffPolicy{
		InitialInterval: time.Second,
		BackoffFactor:   2.0,
		MaxInterval:     4 * time.Second,
		MaxRetries:      3,
	}

	interval, err := policy.ComputeNextInterval(0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Second, interval)

	interval, err = policy.ComputeNextInterval(1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, interval)

	// Capped at MaxInterval.
	interval, err = policy.ComputeNextInterval(2, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, interval)

	_, err = policy.ComputeNextInterval(3, 0, nil)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestConstantBackoffPolicy(t *testing.T) {
	t.Parallel()

	policy := &ConstantBackoffPolicy{Interval: 50 * time.Millisecond, MaxRetries: 2}

	for i := 0; i < 2; i++ {
		interval, err := policy.ComputeNextInterval(i, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 50*time.Millisecond, interval)
	}

	_, err := policy.ComputeNextInterval(2, 0, nil)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestRetrier(t *testing.T) {
	t.Parallel()

	retrier := NewRetrier(&ConstantBackoffPolicy{Interval: time.Millisecond, MaxRetries: 1})

	_, err := retrier.Next(errors.New("boom"))
	require.NoError(t, err)
	_, err = retrier.Next(errors.New("boom"))
	require.ErrorIs(t, err, ErrRetriesExhausted)

	retrier.Reset()
	_, err = retrier.Next(errors.New("boom"))
	require.NoError(t, err)
}

func TestRetry(t *testing.T) {
	t.Parallel()

	policy := &ConstantBackoffPolicy{Interval: time.Millisecond, MaxRetries: 3}

	t.Run("SucceedsAfterFailures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), func(_ context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, policy, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("SurfacesOperationErrorWhenExhausted", func(t *testing.T) {
		t.Parallel()
		opErr := errors.New("still broken")
		calls := 0
		err := Retry(context.Background(), func(_ context.Context) error {
			calls++
			return opErr
		}, policy, nil)
		require.ErrorIs(t, err, opErr)
		assert.Equal(t, 4, calls) // initial try plus three retries
	})

	t.Run("StopsOnNonRetriableError", func(t *testing.T) {
		t.Parallel()
		permanent := errors.New("permanent")
		calls := 0
		err := Retry(context.Background(), func(_ context.Context) error {
			calls++
			return permanent
		}, policy, func(err error) bool { return !errors.Is(err, permanent) })
		require.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("HonorsContextCancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, func(_ context.Context) error {
			return errors.New("never reached")
		}, policy, nil)
		require.ErrorIs(t, err, context.Canceled)
	})
}
