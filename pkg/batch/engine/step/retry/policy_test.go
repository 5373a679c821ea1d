package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

func TestSimpleRetryPolicy_CanRetry(t *testing.T) {
	p := retry.NewSimpleRetryPolicy(3, exception.NewClassifier([]string{exception.OptimisticLockingFailureException}, nil, nil), nil)
	stale := exception.NewOptimisticLockingFailureException("repository", "stale version", nil)

	assert.True(t, p.CanRetry(stale, 1))
	assert.True(t, p.CanRetry(stale, 2))
	assert.False(t, p.CanRetry(stale, 3), "the third failed attempt exhausts the budget")
	assert.False(t, p.CanRetry(errors.New("boom"), 1))
	assert.Equal(t, 3, p.MaxAttempts())
}

func TestNeverRetryPolicy(t *testing.T) {
	p := retry.NeverRetryPolicy()
	assert.Equal(t, 1, p.MaxAttempts())
	assert.False(t, p.CanRetry(exception.NewBatchError("reader", "timeout", nil, false, true), 1))
	assert.True(t, p.IsRetryable(exception.NewBatchError("reader", "timeout", nil, false, true)))
}

func TestBackoff_Interval(t *testing.T) {
	b := retry.NewBackoff(100, 350, 2)
	assert.Equal(t, 100*time.Millisecond, b.Interval(1))
	assert.Equal(t, 200*time.Millisecond, b.Interval(2))
	assert.Equal(t, 350*time.Millisecond, b.Interval(3))
	assert.Equal(t, 100*time.Millisecond, b.Interval(0))

	flat := retry.NewBackoff(50, 0, 0.5)
	assert.Equal(t, 50*time.Millisecond, flat.Interval(4))
	assert.Zero(t, retry.NoBackoff().Interval(3))
}

func TestBackoff_WaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry.NewBackoff(int(time.Hour/time.Millisecond), 0, 1).Wait(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, retry.NoBackoff().Wait(context.Background(), 1))
}
