package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dangerprep/syncrt/core"
	"github.com/dangerprep/syncrt/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsAndAwaitsResult(t *testing.T) {
	e := New(Config{Concurrency: 2})
	defer e.Shutdown(context.Background())

	h, err := e.Submit(context.Background(), "op1", func(ctx context.Context) (interface{}, error) {
		return 7, nil
	}, SubmitOptions{})
	require.NoError(t, err)

	val, err := h.AwaitResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, val)
}

func TestSubmissionsPastCapacityQueueRatherThanReject(t *testing.T) {
	e := New(Config{Concurrency: 1})
	defer e.Shutdown(context.Background())

	release := make(chan struct{})
	h1, err := e.Submit(context.Background(), "op1", func(ctx context.Context) (interface{}, error) {
		<-release
		return 1, nil
	}, SubmitOptions{})
	require.NoError(t, err)

	h2, err := e.Submit(context.Background(), "op2", func(ctx context.Context) (interface{}, error) {
		return 2, nil
	}, SubmitOptions{})
	require.NoError(t, err)

	close(release)
	v1, err := h1.AwaitResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := h2.AwaitResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v2)
}

func TestCancelPropagatesToRunner(t *testing.T) {
	e := New(Config{Concurrency: 1})
	defer e.Shutdown(context.Background())

	started := make(chan struct{})
	h, err := e.Submit(context.Background(), "op1", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, core.ErrOperationCancelled
	}, SubmitOptions{RetryPolicy: &retry.Policy{MaxAttempts: 3, Strategy: retry.StrategyFixed, BaseDelay: time.Second}})
	require.NoError(t, err)

	<-started
	h.Cancel()

	_, err = h.AwaitResult(context.Background())
	assert.ErrorIs(t, err, core.ErrOperationCancelled)

	snap := h.CurrentProgress()
	assert.Equal(t, "cancelled", string(snap.Status))
}

func TestFailedOperationRecordsErrorStats(t *testing.T) {
	e := New(Config{Concurrency: 1})
	defer e.Shutdown(context.Background())

	h, err := e.Submit(context.Background(), "failing-op", func(ctx context.Context) (interface{}, error) {
		return nil, core.NewClassifiedError(core.ClassPrecondition, errors.New("nope"))
	}, SubmitOptions{})
	require.NoError(t, err)

	_, _ = h.AwaitResult(context.Background())

	stats := e.Stats("failing-op")
	assert.Equal(t, int64(1), stats.Count)
	assert.Equal(t, 1.0, stats.ErrorRate)
}

func TestStatsRollingWindow(t *testing.T) {
	e := New(Config{Concurrency: 4})
	defer e.Shutdown(context.Background())

	for i := 0; i < 10; i++ {
		h, err := e.Submit(context.Background(), "fast-op", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, SubmitOptions{})
		require.NoError(t, err)
		_, _ = h.AwaitResult(context.Background())
	}

	stats := e.Stats("fast-op")
	assert.Equal(t, int64(10), stats.Count)
	assert.Equal(t, 0.0, stats.ErrorRate)
	assert.GreaterOrEqual(t, stats.Max, stats.Min)
}

func TestExecuteBatchReturnsPerItemResultsInOrder(t *testing.T) {
	e := New(Config{Concurrency: 2})
	defer e.Shutdown(context.Background())

	items := []BatchItem{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	results := e.ExecuteBatch(context.Background(), items, func(ctx context.Context, item BatchItem) (interface{}, error) {
		if item.ID == "b" {
			return nil, errors.New("b fails")
		}
		return item.ID, nil
	}, BatchOptions{Concurrency: 2, OperationName: "batch-test"})

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ItemID)
	assert.True(t, results[0].Success)
	assert.Equal(t, "b", results[1].ItemID)
	assert.False(t, results[1].Success)
	assert.Equal(t, "c", results[2].ItemID)
	assert.True(t, results[2].Success)
}

func TestExecuteBatchOnProgressCallback(t *testing.T) {
	e := New(Config{Concurrency: 3})
	defer e.Shutdown(context.Background())

	items := make([]BatchItem, 5)
	for i := range items {
		items[i] = BatchItem{ID: string(rune('a' + i))}
	}

	var lastCompleted, lastTotal int
	e.ExecuteBatch(context.Background(), items, func(ctx context.Context, item BatchItem) (interface{}, error) {
		return nil, nil
	}, BatchOptions{OnProgress: func(completed, total int) {
		lastCompleted, lastTotal = completed, total
	}})

	assert.Equal(t, 5, lastCompleted)
	assert.Equal(t, 5, lastTotal)
}

func TestSubmitOperationTimeoutRecordsFailedNotCancelled(t *testing.T) {
	e := New(Config{Concurrency: 1})
	defer e.Shutdown(context.Background())

	h, err := e.Submit(context.Background(), "slow-op", func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, core.ErrOperationCancelled
	}, SubmitOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = h.AwaitResult(context.Background())
	assert.ErrorIs(t, err, core.ErrTimeout)

	snap := h.CurrentProgress()
	assert.Equal(t, "failed", string(snap.Status))
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	e := New(Config{Concurrency: 2, CircuitBreakers: true})
	defer e.Shutdown(context.Background())

	for i := 0; i < 20; i++ {
		h, err := e.Submit(context.Background(), "always-fails", func(ctx context.Context) (interface{}, error) {
			return nil, core.NewClassifiedError(core.ClassSystem, errors.New("boom"))
		}, SubmitOptions{})
		require.NoError(t, err)
		_, _ = h.AwaitResult(context.Background())
	}

	var ranAgain bool
	h, err := e.Submit(context.Background(), "always-fails", func(ctx context.Context) (interface{}, error) {
		ranAgain = true
		return nil, nil
	}, SubmitOptions{})
	require.NoError(t, err)

	_, resultErr := h.AwaitResult(context.Background())
	assert.ErrorIs(t, resultErr, core.ErrCircuitBreakerOpen)
	assert.False(t, ranAgain, "breaker should have short-circuited this call")
}

func TestShutdownRejectsFurtherSubmissions(t *testing.T) {
	e := New(Config{Concurrency: 1})
	require.NoError(t, e.Shutdown(context.Background()))

	_, err := e.Submit(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, SubmitOptions{})
	assert.Error(t, err)
}
